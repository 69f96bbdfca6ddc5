package models

import (
	"time"

	"gorm.io/datatypes"
)

// RecommendationType is the kind of cost-saving action proposed
type RecommendationType string

const (
	RecReclaimLicense        RecommendationType = "reclaim_license"
	RecDowngradePlan         RecommendationType = "downgrade_plan"
	RecConsolidateTools      RecommendationType = "consolidate_tools"
	RecRenegotiateContract   RecommendationType = "renegotiate_contract"
	RecTerminateSubscription RecommendationType = "terminate_subscription"
)

// RecommendationStatus is a state of the approval workflow
type RecommendationStatus string

const (
	StatusPending     RecommendationStatus = "pending"
	StatusApproved    RecommendationStatus = "approved"
	StatusRejected    RecommendationStatus = "rejected"
	StatusImplemented RecommendationStatus = "implemented"
)

// Level grades impact and confidence
type Level string

const (
	LevelLow    Level = "low"
	LevelMedium Level = "medium"
	LevelHigh   Level = "high"
)

// Recommendation is a proposed cost-saving action against one application.
// Its status changes only through the recommendation workflow.
type Recommendation struct {
	ID                      uint                        `gorm:"primarykey" json:"id"`
	CreatedAt               time.Time                   `json:"createdAt"`
	UpdatedAt               time.Time                   `json:"updatedAt"`
	SaaSAppID               uint                        `gorm:"column:saas_app_id;not null;index" json:"saasAppId"`
	Type                    RecommendationType          `gorm:"type:varchar(32);not null;index" json:"type"`
	Title                   string                      `gorm:"not null" json:"title"`
	Description             string                      `json:"description"`
	EstimatedMonthlySavings float64                     `gorm:"not null;default:0" json:"estimatedMonthlySavings"`
	EstimatedAnnualSavings  float64                     `gorm:"not null;default:0" json:"estimatedAnnualSavings"`
	AffectedUsers           int                         `gorm:"not null;default:0" json:"affectedUsers"`
	AffectedTeams           datatypes.JSONSlice[string] `json:"affectedTeams"`
	ImpactLevel             Level                       `gorm:"type:varchar(10);not null;default:'medium'" json:"impactLevel"`
	ConfidenceLevel         Level                       `gorm:"type:varchar(10);not null;default:'medium'" json:"confidenceLevel"`
	Status                  RecommendationStatus        `gorm:"type:varchar(20);not null;default:'pending';index" json:"status"`

	// Relationships
	SaaSApp   *SaaSApplication `gorm:"foreignKey:SaaSAppID" json:"saasApp,omitempty"`
	Approvals []Approval       `gorm:"foreignKey:RecommendationID" json:"approvals,omitempty"`
}
