package models

import "time"

// Organization is the tenant boundary. Every other row belongs to one,
// directly or through its parent application.
type Organization struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
	Name      string    `gorm:"not null" json:"name"`
	Domain    string    `gorm:"uniqueIndex;not null" json:"domain"` // e.g. "acme.com"
	Logo      string    `json:"logo,omitempty"`

	// Relationships
	Users        []User            `gorm:"foreignKey:OrganizationID" json:"-"`
	Applications []SaaSApplication `gorm:"foreignKey:OrganizationID" json:"-"`
}
