// Package testutil builds fixtures shared by the handler tests.
package testutil

import (
	"errors"
	"testing"
	"time"

	"github.com/mikepea/saasledger/pkg/saasledger/models"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Password is the plain-text password of every fixture user
const Password = "password123"

// ErrAuditStoreDown is returned by audit writes after FailAuditWrites
var ErrAuditStoreDown = errors.New("audit store unavailable")

// OpenDB returns a migrated in-memory database. The pool is pinned to one
// connection because every sqlite :memory: connection is its own database.
func OpenDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("Failed to connect to test database: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("Failed to get sql.DB: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	if err := models.AutoMigrate(db); err != nil {
		t.Fatalf("Failed to run migrations: %v", err)
	}
	return db
}

// CreateOrg inserts an organization
func CreateOrg(t *testing.T, db *gorm.DB, name, domain string) models.Organization {
	t.Helper()
	org := models.Organization{Name: name, Domain: domain}
	if err := db.Create(&org).Error; err != nil {
		t.Fatalf("Failed to create test organization: %v", err)
	}
	return org
}

// CreateUser inserts a user with Password as password
func CreateUser(t *testing.T, db *gorm.DB, orgID uint, email string, role models.Role) models.User {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(Password), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("Failed to hash password: %v", err)
	}
	user := models.User{
		OrganizationID: orgID,
		Email:          email,
		PasswordHash:   string(hash),
		Name:           "User " + email,
		Role:           role,
	}
	if err := db.Create(&user).Error; err != nil {
		t.Fatalf("Failed to create test user: %v", err)
	}
	return user
}

// CreateApp inserts a monthly-billed application
func CreateApp(t *testing.T, db *gorm.DB, orgID uint, name, category string) models.SaaSApplication {
	t.Helper()
	now := time.Now().UTC()
	app := models.SaaSApplication{
		OrganizationID:    orgID,
		Name:              name,
		Category:          category,
		Vendor:            name + " Inc",
		LicensesPurchased: 10,
		LicensesUsed:      0,
		CostPerLicense:    10,
		BillingCycle:      models.BillingMonthly,
		RenewalDate:       now.AddDate(0, 2, 0),
		ContractStartDate: now.AddDate(-1, 0, 0),
		ContractEndDate:   now.AddDate(0, 2, 0),
		Status:            models.AppStatusActive,
	}
	if err := db.Create(&app).Error; err != nil {
		t.Fatalf("Failed to create test app: %v", err)
	}
	return app
}

// CreateRecommendation inserts a recommendation in the given status
func CreateRecommendation(t *testing.T, db *gorm.DB, appID uint, status models.RecommendationStatus) models.Recommendation {
	t.Helper()
	rec := models.Recommendation{
		SaaSAppID:               appID,
		Type:                    models.RecReclaimLicense,
		Title:                   "Reclaim unused seats",
		Description:             "Several seats have been idle for over 30 days",
		EstimatedMonthlySavings: 962.5,
		EstimatedAnnualSavings:  11550,
		AffectedUsers:           7,
		AffectedTeams:           []string{"Sales", "Marketing"},
		ImpactLevel:             models.LevelMedium,
		ConfidenceLevel:         models.LevelHigh,
		Status:                  status,
	}
	if err := db.Create(&rec).Error; err != nil {
		t.Fatalf("Failed to create test recommendation: %v", err)
	}
	return rec
}

// CountAuditLogs returns the number of audit rows, optionally for one action
func CountAuditLogs(t *testing.T, db *gorm.DB, action string) int64 {
	t.Helper()
	var count int64
	query := db.Model(&models.AuditLog{})
	if action != "" {
		query = query.Where("action = ?", action)
	}
	if err := query.Count(&count).Error; err != nil {
		t.Fatalf("Failed to count audit logs: %v", err)
	}
	return count
}

// FailAuditWrites makes every insert into audit_logs fail on db
func FailAuditWrites(t *testing.T, db *gorm.DB) {
	t.Helper()
	err := db.Callback().Create().Before("gorm:create").Register("testutil:fail_audit", func(tx *gorm.DB) {
		if tx.Statement.Table == "audit_logs" {
			tx.AddError(ErrAuditStoreDown)
		}
	})
	if err != nil {
		t.Fatalf("Failed to register callback: %v", err)
	}
}
