package models

import "time"

// Role represents a user's role within their organization
type Role string

const (
	RoleAdmin    Role = "admin"
	RoleFinance  Role = "finance"
	RoleAppOwner Role = "app_owner"
)

// Valid reports whether r is one of the known roles
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleFinance, RoleAppOwner:
		return true
	}
	return false
}

// User belongs to exactly one organization. Deletion is hard; audit rows and
// approvals keep a copy of the user's name so history survives it.
type User struct {
	ID             uint      `gorm:"primarykey" json:"id"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
	OrganizationID uint      `gorm:"not null;index" json:"organizationId"`
	Email          string    `gorm:"uniqueIndex;not null" json:"email"`
	PasswordHash   string    `gorm:"not null" json:"-"`
	Name           string    `gorm:"not null" json:"name"`
	Role           Role      `gorm:"type:varchar(20);not null;default:'app_owner'" json:"role"`
	Avatar         string    `json:"avatar,omitempty"`

	// Relationships
	Organization *Organization `gorm:"foreignKey:OrganizationID" json:"organization,omitempty"`
}
