package models

import "time"

// UsageMetric is a read-only monthly snapshot of an application's usage.
type UsageMetric struct {
	ID                 uint      `gorm:"primarykey" json:"id"`
	CreatedAt          time.Time `json:"createdAt"`
	SaaSAppID          uint      `gorm:"column:saas_app_id;not null;uniqueIndex:idx_app_month" json:"saasAppId"`
	Month              string    `gorm:"type:varchar(7);not null;uniqueIndex:idx_app_month" json:"month"` // YYYY-MM
	ActiveUsers        int       `json:"activeUsers"`
	TotalLicenses      int       `json:"totalLicenses"`
	UtilizationRate    float64   `json:"utilizationRate"`
	TotalLogins        int       `json:"totalLogins"`
	AvgSessionDuration float64   `json:"avgSessionDuration"` // minutes
}

// MonthKey formats t the way UsageMetric.Month is stored
func MonthKey(t time.Time) string {
	return t.UTC().Format("2006-01")
}
