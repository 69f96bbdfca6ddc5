package dashboard

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mikepea/saasledger/pkg/saasledger/apperr"
	"github.com/mikepea/saasledger/pkg/saasledger/auth"
	"github.com/mikepea/saasledger/pkg/saasledger/models"
	"gorm.io/gorm"
)

const (
	defaultRenewalDays = 90
	maxRenewalDays     = 365
	maxRenewals        = 10
)

// Handler serves the dashboard endpoints
type Handler struct {
	db  *gorm.DB
	now func() time.Time
}

// NewHandler creates a new dashboard handler
func NewHandler(db *gorm.DB) *Handler {
	return &Handler{db: db, now: time.Now}
}

// RenewalResponse is an application coming up for renewal
type RenewalResponse struct {
	ID           uint      `json:"id"`
	Name         string    `json:"name"`
	Logo         string    `json:"logo,omitempty"`
	Vendor       string    `json:"vendor"`
	Category     string    `json:"category"`
	BillingCycle string    `json:"billingCycle"`
	MonthlySpend float64   `json:"monthlySpend"`
	RenewalDate  time.Time `json:"renewalDate"`
	DaysUntil    int       `json:"daysUntil"`
}

func (h *Handler) loadApps(orgID uint) ([]models.SaaSApplication, error) {
	var apps []models.SaaSApplication
	err := h.db.Where("organization_id = ?", orgID).Find(&apps).Error
	return apps, err
}

// loadInput reads the rows the headline and trend are computed from
func (h *Handler) loadInput(orgID uint, since time.Time) (Input, error) {
	var in Input
	var err error
	if in.Apps, err = h.loadApps(orgID); err != nil {
		return in, err
	}
	appIDs := models.OrganizationAppIDs(h.db, orgID)
	if err = h.db.Where("saas_app_id IN (?)", appIDs).
		Where("status IN ?", []models.RecommendationStatus{models.StatusPending, models.StatusImplemented}).
		Find(&in.Recommendations).Error; err != nil {
		return in, err
	}
	err = h.db.Where("saas_app_id IN (?)", appIDs).
		Where("month >= ?", models.MonthKey(since)).
		Find(&in.UsageMetrics).Error
	return in, err
}

// trendStart is the first day of the oldest month in a months-long trend
func trendStart(now time.Time, months int) time.Time {
	now = now.UTC()
	return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, -(months - 1), 0)
}

// Metrics returns the dashboard headline
// @Summary Dashboard metrics
// @Tags dashboard
// @Produce json
// @Success 200 {object} Metrics
// @Security BearerAuth
// @Router /dashboard/metrics [get]
func (h *Handler) Metrics(c *gin.Context) {
	identity, ok := auth.MustIdentity(c)
	if !ok {
		return
	}

	now := h.now().UTC()
	in, err := h.loadInput(identity.OrganizationID, trendStart(now, 2))
	if err != nil {
		apperr.Respond(c, apperr.Internal("Failed to fetch dashboard metrics", err))
		return
	}

	c.JSON(http.StatusOK, Summarize(in, now))
}

// SpendByCategory returns monthly spend grouped by category
// @Summary Spend by category
// @Tags dashboard
// @Produce json
// @Success 200 {array} CategorySpend
// @Security BearerAuth
// @Router /dashboard/spend-by-category [get]
func (h *Handler) SpendByCategory(c *gin.Context) {
	identity, ok := auth.MustIdentity(c)
	if !ok {
		return
	}

	apps, err := h.loadApps(identity.OrganizationID)
	if err != nil {
		apperr.Respond(c, apperr.Internal("Failed to fetch spend by category", err))
		return
	}

	c.JSON(http.StatusOK, SpendByCategory(apps))
}

// SpendTrend returns the spend and realized savings of the last six months
// @Summary Spend trend
// @Tags dashboard
// @Produce json
// @Success 200 {array} TrendPoint
// @Security BearerAuth
// @Router /dashboard/spend-trend [get]
func (h *Handler) SpendTrend(c *gin.Context) {
	identity, ok := auth.MustIdentity(c)
	if !ok {
		return
	}

	now := h.now().UTC()
	in, err := h.loadInput(identity.OrganizationID, trendStart(now, TrendMonths))
	if err != nil {
		apperr.Respond(c, apperr.Internal("Failed to fetch spend trend", err))
		return
	}

	c.JSON(http.StatusOK, SpendTrend(in, now, TrendMonths))
}

// Renewals lists applications renewing soon, soonest first
// @Summary Upcoming renewals
// @Tags dashboard
// @Produce json
// @Param days query int false "Window in days (default 90)"
// @Success 200 {array} RenewalResponse
// @Failure 400 {object} map[string]string "Invalid days"
// @Security BearerAuth
// @Router /dashboard/renewals [get]
func (h *Handler) Renewals(c *gin.Context) {
	identity, ok := auth.MustIdentity(c)
	if !ok {
		return
	}

	days := defaultRenewalDays
	if raw := c.Query("days"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 || n > maxRenewalDays {
			apperr.Respond(c, apperr.Validation("Invalid days", "days must be between 0 and 365"))
			return
		}
		days = n
	}

	apps, err := h.loadApps(identity.OrganizationID)
	if err != nil {
		apperr.Respond(c, apperr.Internal("Failed to fetch renewals", err))
		return
	}

	now := h.now().UTC()
	due := UpcomingRenewals(apps, now, days)
	if len(due) > maxRenewals {
		due = due[:maxRenewals]
	}

	response := make([]RenewalResponse, len(due))
	for i, app := range due {
		response[i] = RenewalResponse{
			ID:           app.ID,
			Name:         app.Name,
			Logo:         app.Logo,
			Vendor:       app.Vendor,
			Category:     app.Category,
			BillingCycle: string(app.BillingCycle),
			MonthlySpend: app.MonthlySpend(),
			RenewalDate:  app.RenewalDate,
			DaysUntil:    int(app.RenewalDate.Sub(now).Hours() / 24),
		}
	}
	c.JSON(http.StatusOK, response)
}

// RegisterRoutes registers dashboard routes on a group already behind
// auth.Authenticate
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/metrics", h.Metrics)
	rg.GET("/spend-by-category", h.SpendByCategory)
	rg.GET("/spend-trend", h.SpendTrend)
	rg.GET("/renewals", h.Renewals)
}
