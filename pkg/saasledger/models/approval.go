package models

import "time"

// ApprovalAction is the decision recorded by an Approval
type ApprovalAction string

const (
	ApprovalApproved ApprovalAction = "approved"
	ApprovalRejected ApprovalAction = "rejected"
)

// Approval is an append-only record of one approve/reject decision.
// Rows are never updated or deleted except together with their application.
type Approval struct {
	ID               uint           `gorm:"primarykey" json:"id"`
	CreatedAt        time.Time      `json:"createdAt"`
	RecommendationID uint           `gorm:"not null;index" json:"recommendationId"`
	ApprovedByUserID uint           `gorm:"not null" json:"approvedByUserId"`
	ApprovedByName   string         `gorm:"not null" json:"approvedByName"`
	Action           ApprovalAction `gorm:"type:varchar(20);not null" json:"action"`
	Reason           string         `json:"reason,omitempty"`
	Timestamp        time.Time      `gorm:"not null" json:"timestamp"`
}
