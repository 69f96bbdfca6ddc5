package models

import "time"

const (
	// UnusedAfter is how long a seat may go without activity before it counts as unused
	UnusedAfter = 30 * 24 * time.Hour
	// MinMonthlyActiveDays is the activity floor below which a seat counts as unused
	MinMonthlyActiveDays = 5
)

// LicenseStatus is the assignment state of a seat
type LicenseStatus string

const (
	LicenseStatusActive   LicenseStatus = "active"
	LicenseStatusInactive LicenseStatus = "inactive"
	LicenseStatusPending  LicenseStatus = "pending"
)

// License is one seat of an application assigned to one user. The user is
// kept by email and name so the seat survives the user row being deleted.
type License struct {
	ID                uint          `gorm:"primarykey" json:"id"`
	CreatedAt         time.Time     `json:"createdAt"`
	UpdatedAt         time.Time     `json:"updatedAt"`
	SaaSAppID         uint          `gorm:"column:saas_app_id;not null;index" json:"saasAppId"`
	UserID            *uint         `gorm:"index" json:"userId,omitempty"`
	UserEmail         string        `gorm:"not null" json:"userEmail"`
	UserName          string        `json:"userName"`
	AssignedDate      time.Time     `json:"assignedDate"`
	LastActiveDate    *time.Time    `json:"lastActiveDate"`
	MonthlyActiveDays int           `gorm:"not null;default:0" json:"monthlyActiveDays"`
	Status            LicenseStatus `gorm:"type:varchar(20);not null;default:'active'" json:"status"`

	// Relationships
	SaaSApp *SaaSApplication `gorm:"foreignKey:SaaSAppID" json:"saasApp,omitempty"`
}

// UnusedCutoff returns the last-activity instant before which a seat is stale.
func UnusedCutoff(now time.Time) time.Time {
	return now.Add(-UnusedAfter)
}

// IsUnused reports whether the seat has never been used, has gone stale, or
// sees too little monthly activity.
func (l License) IsUnused(now time.Time) bool {
	if l.LastActiveDate == nil {
		return true
	}
	if l.LastActiveDate.Before(UnusedCutoff(now)) {
		return true
	}
	return l.MonthlyActiveDays < MinMonthlyActiveDays
}
