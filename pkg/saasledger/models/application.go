package models

import "time"

// BillingCycle is how often a subscription is invoiced
type BillingCycle string

const (
	BillingMonthly BillingCycle = "monthly"
	BillingAnnual  BillingCycle = "annual"
)

// AppStatus is the lifecycle state of a tracked application
type AppStatus string

const (
	AppStatusActive        AppStatus = "active"
	AppStatusInactive      AppStatus = "inactive"
	AppStatusPendingReview AppStatus = "pending_review"
)

// SaaSApplication is a purchased software subscription.
//
// LicensesUsed is a denormalized count of the application's License rows.
// It is only ever changed by a single-statement increment or decrement in
// the same transaction as the license insert/delete.
type SaaSApplication struct {
	ID                uint         `gorm:"primarykey" json:"id"`
	CreatedAt         time.Time    `json:"createdAt"`
	UpdatedAt         time.Time    `json:"updatedAt"`
	OrganizationID    uint         `gorm:"not null;index" json:"organizationId"`
	Name              string       `gorm:"not null" json:"name"`
	Logo              string       `json:"logo,omitempty"`
	Category          string       `gorm:"not null;index" json:"category"`
	Vendor            string       `json:"vendor"`
	LicensesPurchased int          `gorm:"not null;default:0" json:"licensesPurchased"`
	LicensesUsed      int          `gorm:"not null;default:0" json:"licensesUsed"`
	CostPerLicense    float64      `gorm:"not null;default:0" json:"costPerLicense"`
	BillingCycle      BillingCycle `gorm:"type:varchar(20);not null;default:'monthly'" json:"billingCycle"`
	RenewalDate       time.Time    `gorm:"index" json:"renewalDate"`
	OwnerDepartment   string       `json:"ownerDepartment,omitempty"`
	OwnerUserID       *uint        `gorm:"index" json:"ownerUserId,omitempty"`
	ContractStartDate time.Time    `json:"contractStartDate"`
	ContractEndDate   time.Time    `json:"contractEndDate"`
	Status            AppStatus    `gorm:"type:varchar(20);not null;default:'active'" json:"status"`

	// Relationships
	Owner           *User            `gorm:"foreignKey:OwnerUserID" json:"owner,omitempty"`
	Licenses        []License        `gorm:"foreignKey:SaaSAppID" json:"licenses,omitempty"`
	UsageMetrics    []UsageMetric    `gorm:"foreignKey:SaaSAppID" json:"usageMetrics,omitempty"`
	Recommendations []Recommendation `gorm:"foreignKey:SaaSAppID" json:"recommendations,omitempty"`
}

// TableName keeps the acronym out of gorm's snake-casing
func (SaaSApplication) TableName() string {
	return "saas_applications"
}

// MonthlySpend normalizes the application's cost to one month.
func (a SaaSApplication) MonthlySpend() float64 {
	spend := a.CostPerLicense * float64(a.LicensesPurchased)
	if a.BillingCycle == BillingAnnual {
		return spend / 12
	}
	return spend
}
