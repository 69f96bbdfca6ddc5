package models

import (
	"time"

	"gorm.io/datatypes"
)

// AuditLog is the append-only compliance ledger. The actor is stored by id
// and name, and the tenant by id, so rows stay meaningful after the user is
// deleted.
type AuditLog struct {
	ID             uint              `gorm:"primarykey" json:"id"`
	OrganizationID uint              `gorm:"not null;index" json:"organizationId"`
	UserID         uint              `gorm:"not null;index" json:"userId"`
	UserName       string            `gorm:"not null" json:"userName"`
	Action         string            `gorm:"type:varchar(64);not null;index" json:"action"`
	EntityType     string            `gorm:"type:varchar(32);not null;index:idx_audit_entity" json:"entityType"`
	EntityID       string            `gorm:"not null;index:idx_audit_entity" json:"entityId"`
	Details        datatypes.JSONMap `json:"details"`
	IPAddress      string            `json:"ipAddress,omitempty"`
	Timestamp      time.Time         `gorm:"not null;index" json:"timestamp"`
}
