package models

import "gorm.io/gorm"

// OrganizationAppIDs is a subquery selecting the ids of every application
// owned by orgID. Tables that reach their tenant through saas_app_id filter
// with it: Where("saas_app_id IN (?)", OrganizationAppIDs(db, orgID)).
func OrganizationAppIDs(db *gorm.DB, orgID uint) *gorm.DB {
	return db.Model(&SaaSApplication{}).Select("id").Where("organization_id = ?", orgID)
}
