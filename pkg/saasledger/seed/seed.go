// Package seed provisions the Acme Corporation demo tenant.
package seed

import (
	"fmt"
	"time"

	"github.com/mikepea/saasledger/pkg/saasledger/auth"
	"github.com/mikepea/saasledger/pkg/saasledger/logging"
	"github.com/mikepea/saasledger/pkg/saasledger/models"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const (
	// Domain identifies the demo tenant; seeding is skipped when it exists
	Domain = "acme.com"
	// Password is shared by every demo user
	Password = "password123"
)

// Account is a demo login
type Account struct {
	Email string
	Name  string
	Role  models.Role
}

// Accounts are the demo logins, one per role
var Accounts = []Account{
	{Email: "sarah.chen@acme.com", Name: "Sarah Chen", Role: models.RoleAdmin},
	{Email: "michael.ross@acme.com", Name: "Michael Ross", Role: models.RoleFinance},
	{Email: "emily.johnson@acme.com", Name: "Emily Johnson", Role: models.RoleAppOwner},
}

type appSeed struct {
	name       string
	category   string
	vendor     string
	purchased  int
	assigned   int
	cost       float64
	cycle      models.BillingCycle
	renewsIn   int // days from now
	department string
	ownedByApp bool
}

var appSeeds = []appSeed{
	{"Salesforce", "CRM", "Salesforce Inc.", 150, 142, 150, models.BillingAnnual, 75, "Sales", true},
	{"Slack", "Communication", "Slack Technologies", 500, 423, 12.5, models.BillingMonthly, 12, "IT", false},
	{"Jira", "Project Management", "Atlassian", 200, 156, 10, models.BillingMonthly, 95, "Engineering", false},
	{"HubSpot", "Marketing", "HubSpot Inc.", 50, 38, 45, models.BillingMonthly, 130, "Marketing", false},
	{"Zoom", "Communication", "Zoom Video Communications", 100, 89, 15, models.BillingMonthly, 28, "IT", false},
}

type recommendationSeed struct {
	app     string
	kind    models.RecommendationType
	title   string
	desc    string
	monthly float64
	users   int
	teams   []string
	impact  models.Level
	conf    models.Level
}

var recommendationSeeds = []recommendationSeed{
	{"Slack", models.RecReclaimLicense, "Reclaim 77 unused Slack licenses",
		"Analysis shows 77 Slack licenses have not been used in the past 30 days.",
		962.5, 77, []string{"Sales", "Marketing", "Operations"}, models.LevelLow, models.LevelHigh},
	{"Jira", models.RecConsolidateTools, "Consolidate Jira and Asana",
		"Both tools are used for project management. Consider consolidating to one platform.",
		2000, 156, []string{"Engineering", "Product"}, models.LevelMedium, models.LevelMedium},
	{"HubSpot", models.RecDowngradePlan, "Downgrade 12 HubSpot users to starter plan",
		"These users only use basic features and could use a lower-tier plan.",
		300, 12, []string{"Marketing"}, models.LevelLow, models.LevelHigh},
}

// Result summarizes what Run created
type Result struct {
	Organization    models.Organization
	Skipped         bool
	Users           int
	Apps            int
	Licenses        int
	UsageMetrics    int
	Recommendations int
}

// Run creates the demo tenant in one transaction. Renewal dates and usage
// months are relative to now. It does nothing if the tenant already exists.
func Run(db *gorm.DB, now time.Time) (*Result, error) {
	now = now.UTC()
	res := &Result{}

	var count int64
	if err := db.Model(&models.Organization{}).Where("domain = ?", Domain).Count(&count).Error; err != nil {
		return nil, err
	}
	if count > 0 {
		db.Where("domain = ?", Domain).First(&res.Organization)
		res.Skipped = true
		logging.Logger.WithField("domain", Domain).Info("Demo organization already exists, skipping seed")
		return res, nil
	}

	hash, err := auth.HashPassword(Password)
	if err != nil {
		return nil, err
	}

	err = db.Transaction(func(tx *gorm.DB) error {
		res.Organization = models.Organization{Name: "Acme Corporation", Domain: Domain}
		if err := tx.Create(&res.Organization).Error; err != nil {
			return fmt.Errorf("create organization: %w", err)
		}

		var owner models.User
		for _, a := range Accounts {
			user := models.User{
				OrganizationID: res.Organization.ID,
				Email:          a.Email,
				PasswordHash:   hash,
				Name:           a.Name,
				Role:           a.Role,
			}
			if err := tx.Create(&user).Error; err != nil {
				return fmt.Errorf("create user %s: %w", a.Email, err)
			}
			if a.Role == models.RoleAppOwner {
				owner = user
			}
			res.Users++
		}

		appIDs := map[string]uint{}
		for _, s := range appSeeds {
			renewal := now.AddDate(0, 0, s.renewsIn)
			app := models.SaaSApplication{
				OrganizationID:    res.Organization.ID,
				Name:              s.name,
				Category:          s.category,
				Vendor:            s.vendor,
				LicensesPurchased: s.purchased,
				CostPerLicense:    s.cost,
				BillingCycle:      s.cycle,
				RenewalDate:       renewal,
				OwnerDepartment:   s.department,
				ContractStartDate: renewal.AddDate(-1, 0, 0),
				ContractEndDate:   renewal,
				Status:            models.AppStatusActive,
			}
			if s.ownedByApp {
				app.OwnerUserID = &owner.ID
			}
			if err := tx.Create(&app).Error; err != nil {
				return fmt.Errorf("create app %s: %w", s.name, err)
			}
			appIDs[s.name] = app.ID
			res.Apps++

			n, err := seedLicenses(tx, app, s, owner, now)
			if err != nil {
				return err
			}
			res.Licenses += n

			n, err = seedUsage(tx, app, s, now)
			if err != nil {
				return err
			}
			res.UsageMetrics += n
		}

		for _, r := range recommendationSeeds {
			rec := models.Recommendation{
				SaaSAppID:               appIDs[r.app],
				Type:                    r.kind,
				Title:                   r.title,
				Description:             r.desc,
				EstimatedMonthlySavings: r.monthly,
				EstimatedAnnualSavings:  r.monthly * 12,
				AffectedUsers:           r.users,
				AffectedTeams:           r.teams,
				ImpactLevel:             r.impact,
				ConfidenceLevel:         r.conf,
				Status:                  models.StatusPending,
			}
			if err := tx.Create(&rec).Error; err != nil {
				return fmt.Errorf("create recommendation %q: %w", r.title, err)
			}
			res.Recommendations++
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	logging.Logger.WithFields(logrus.Fields{
		"organization_id": res.Organization.ID,
		"users":           res.Users,
		"apps":            res.Apps,
		"licenses":        res.Licenses,
		"recommendations": res.Recommendations,
	}).Info("Seeded demo organization")
	return res, nil
}

// seedLicenses assigns s.assigned seats and moves the app's counter by the
// same amount. Every seventh seat was never used and every fifth went stale,
// so the unused-license view has something to show.
func seedLicenses(tx *gorm.DB, app models.SaaSApplication, s appSeed, owner models.User, now time.Time) (int, error) {
	licenses := make([]models.License, 0, s.assigned)
	for i := 0; i < s.assigned; i++ {
		license := models.License{
			SaaSAppID:         app.ID,
			UserEmail:         fmt.Sprintf("employee%03d@%s", i+1, Domain),
			UserName:          fmt.Sprintf("Employee %03d", i+1),
			AssignedDate:      app.ContractStartDate,
			MonthlyActiveDays: 5 + i%18,
			Status:            models.LicenseStatusActive,
		}
		if i == 0 {
			license.UserID = &owner.ID
			license.UserEmail = owner.Email
			license.UserName = owner.Name
		}

		switch {
		case i%7 == 6:
			license.MonthlyActiveDays = 0
		case i%5 == 4:
			stale := now.AddDate(0, 0, -45)
			license.LastActiveDate = &stale
			license.MonthlyActiveDays = 0
		default:
			active := now.AddDate(0, 0, -(i % 10))
			license.LastActiveDate = &active
		}
		licenses = append(licenses, license)
	}

	if len(licenses) == 0 {
		return 0, nil
	}
	if err := tx.CreateInBatches(&licenses, 100).Error; err != nil {
		return 0, fmt.Errorf("create licenses for %s: %w", app.Name, err)
	}
	if err := tx.Model(&models.SaaSApplication{}).Where("id = ?", app.ID).
		UpdateColumn("licenses_used", gorm.Expr("licenses_used + ?", len(licenses))).Error; err != nil {
		return 0, fmt.Errorf("update seat count for %s: %w", app.Name, err)
	}
	return len(licenses), nil
}

// seedUsage writes six monthly snapshots ending last month. Seat counts
// grow towards the current purchase so the spend trend has a slope.
func seedUsage(tx *gorm.DB, app models.SaaSApplication, s appSeed, now time.Time) (int, error) {
	first := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	const months = 6

	metrics := make([]models.UsageMetric, 0, months)
	for i := months; i >= 1; i-- {
		seats := s.purchased - (i-1)*s.purchased/20
		active := min(s.assigned-(i-1)*s.assigned/25, seats)
		metrics = append(metrics, models.UsageMetric{
			SaaSAppID:          app.ID,
			Month:              models.MonthKey(first.AddDate(0, -i, 0)),
			ActiveUsers:        active,
			TotalLicenses:      seats,
			UtilizationRate:    float64(active) / float64(seats) * 100,
			TotalLogins:        active * (18 + i),
			AvgSessionDuration: 20 + float64(i),
		})
	}
	if err := tx.Create(&metrics).Error; err != nil {
		return 0, fmt.Errorf("create usage metrics for %s: %w", app.Name, err)
	}
	return len(metrics), nil
}
