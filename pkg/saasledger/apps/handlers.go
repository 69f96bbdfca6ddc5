package apps

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mikepea/saasledger/pkg/saasledger/apperr"
	"github.com/mikepea/saasledger/pkg/saasledger/audit"
	"github.com/mikepea/saasledger/pkg/saasledger/auth"
	"github.com/mikepea/saasledger/pkg/saasledger/models"
	"gorm.io/gorm"
)

// usageHistoryMonths is how many usage snapshots the detail view carries
const usageHistoryMonths = 12

// Handler handles application-related requests
type Handler struct {
	db *gorm.DB
}

// NewHandler creates a new apps handler
func NewHandler(db *gorm.DB) *Handler {
	return &Handler{db: db}
}

// CreateAppRequest represents the request to create an application
type CreateAppRequest struct {
	Name              string  `json:"name" binding:"required,max=200"`
	Logo              string  `json:"logo"`
	Category          string  `json:"category" binding:"required,max=100"`
	Vendor            string  `json:"vendor" binding:"max=200"`
	LicensesPurchased int     `json:"licensesPurchased" binding:"gte=0"`
	CostPerLicense    float64 `json:"costPerLicense" binding:"gte=0"`
	BillingCycle      string  `json:"billingCycle" binding:"omitempty,oneof=monthly annual"`
	RenewalDate       string  `json:"renewalDate" binding:"required"`
	OwnerDepartment   string  `json:"ownerDepartment"`
	OwnerUserID       *uint   `json:"ownerUserId"`
	ContractStartDate string  `json:"contractStartDate" binding:"required"`
	ContractEndDate   string  `json:"contractEndDate" binding:"required"`
	Status            string  `json:"status" binding:"omitempty,oneof=active inactive pending_review"`
}

// UpdateAppRequest represents the request to update an application.
// Absent fields are left unchanged. licensesUsed is not writable; it
// follows license assignments.
type UpdateAppRequest struct {
	Name              *string  `json:"name" binding:"omitempty,min=1,max=200"`
	Logo              *string  `json:"logo"`
	Category          *string  `json:"category" binding:"omitempty,min=1,max=100"`
	Vendor            *string  `json:"vendor" binding:"omitempty,max=200"`
	LicensesPurchased *int     `json:"licensesPurchased" binding:"omitempty,gte=0"`
	CostPerLicense    *float64 `json:"costPerLicense" binding:"omitempty,gte=0"`
	BillingCycle      *string  `json:"billingCycle" binding:"omitempty,oneof=monthly annual"`
	RenewalDate       *string  `json:"renewalDate"`
	OwnerDepartment   *string  `json:"ownerDepartment"`
	OwnerUserID       *uint    `json:"ownerUserId"`
	ContractStartDate *string  `json:"contractStartDate"`
	ContractEndDate   *string  `json:"contractEndDate"`
	Status            *string  `json:"status" binding:"omitempty,oneof=active inactive pending_review"`
}

// OwnerResponse is the owning user's summary
type OwnerResponse struct {
	ID    uint   `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// CountResponse carries child-row counts for list views
type CountResponse struct {
	Licenses        int64 `json:"licenses"`
	Recommendations int64 `json:"recommendations"`
}

// AppResponse represents an application in API responses
type AppResponse struct {
	ID                uint           `json:"id"`
	OrganizationID    uint           `json:"organizationId"`
	Name              string         `json:"name"`
	Logo              string         `json:"logo,omitempty"`
	Category          string         `json:"category"`
	Vendor            string         `json:"vendor"`
	LicensesPurchased int            `json:"licensesPurchased"`
	LicensesUsed      int            `json:"licensesUsed"`
	CostPerLicense    float64        `json:"costPerLicense"`
	BillingCycle      string         `json:"billingCycle"`
	MonthlySpend      float64        `json:"monthlySpend"`
	RenewalDate       time.Time      `json:"renewalDate"`
	OwnerDepartment   string         `json:"ownerDepartment,omitempty"`
	OwnerUserID       *uint          `json:"ownerUserId,omitempty"`
	Owner             *OwnerResponse `json:"owner,omitempty"`
	ContractStartDate time.Time      `json:"contractStartDate"`
	ContractEndDate   time.Time      `json:"contractEndDate"`
	Status            string         `json:"status"`
	Count             *CountResponse `json:"_count,omitempty"`
	CreatedAt         time.Time      `json:"createdAt"`
	UpdatedAt         time.Time      `json:"updatedAt"`
}

// AppDetailResponse is an application with its seats, recent usage and
// pending recommendations
type AppDetailResponse struct {
	AppResponse
	Licenses        []models.License        `json:"licenses"`
	UsageMetrics    []models.UsageMetric    `json:"usageMetrics"`
	Recommendations []models.Recommendation `json:"recommendations"`
}

func appToResponse(app models.SaaSApplication) AppResponse {
	resp := AppResponse{
		ID:                app.ID,
		OrganizationID:    app.OrganizationID,
		Name:              app.Name,
		Logo:              app.Logo,
		Category:          app.Category,
		Vendor:            app.Vendor,
		LicensesPurchased: app.LicensesPurchased,
		LicensesUsed:      app.LicensesUsed,
		CostPerLicense:    app.CostPerLicense,
		BillingCycle:      string(app.BillingCycle),
		MonthlySpend:      app.MonthlySpend(),
		RenewalDate:       app.RenewalDate,
		OwnerDepartment:   app.OwnerDepartment,
		OwnerUserID:       app.OwnerUserID,
		ContractStartDate: app.ContractStartDate,
		ContractEndDate:   app.ContractEndDate,
		Status:            string(app.Status),
		CreatedAt:         app.CreatedAt,
		UpdatedAt:         app.UpdatedAt,
	}
	if app.Owner != nil {
		resp.Owner = &OwnerResponse{ID: app.Owner.ID, Name: app.Owner.Name, Email: app.Owner.Email}
	}
	return resp
}

// Find loads an application of orgID. An id owned by another organization
// is reported as not found.
func Find(db *gorm.DB, orgID, id uint) (*models.SaaSApplication, error) {
	var app models.SaaSApplication
	if err := db.Where("id = ? AND organization_id = ?", id, orgID).First(&app).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("App")
		}
		return nil, apperr.Internal("Failed to fetch app", err)
	}
	return &app, nil
}

// checkOwner verifies the proposed owner is a user of the same organization
func checkOwner(db *gorm.DB, orgID uint, ownerID *uint) error {
	if ownerID == nil {
		return nil
	}
	var count int64
	if err := db.Model(&models.User{}).
		Where("id = ? AND organization_id = ?", *ownerID, orgID).
		Count(&count).Error; err != nil {
		return apperr.Internal("Failed to verify owner", err)
	}
	if count == 0 {
		return apperr.Validation("Invalid owner", "ownerUserId must reference a user in this organization")
	}
	return nil
}

// childCounts returns per-application row counts of table for appIDs
func childCounts(db *gorm.DB, table string, appIDs []uint) (map[uint]int64, error) {
	var rows []struct {
		SaaSAppID uint
		Total     int64
	}
	err := db.Table(table).
		Select("saas_app_id, COUNT(*) AS total").
		Where("saas_app_id IN ?", appIDs).
		Group("saas_app_id").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	counts := make(map[uint]int64, len(rows))
	for _, r := range rows {
		counts[r.SaaSAppID] = r.Total
	}
	return counts, nil
}

// List returns the organization's applications
// @Summary List applications
// @Description Get all applications of the caller's organization, ordered by name
// @Tags apps
// @Produce json
// @Param category query string false "Filter by category ('all' disables the filter)"
// @Param status query string false "Filter by status ('all' disables the filter)"
// @Param search query string false "Case-insensitive match on name or vendor"
// @Success 200 {array} AppResponse
// @Security BearerAuth
// @Router /apps [get]
func (h *Handler) List(c *gin.Context) {
	identity, ok := auth.MustIdentity(c)
	if !ok {
		return
	}

	query := h.db.Preload("Owner").Where("organization_id = ?", identity.OrganizationID)
	if category := c.Query("category"); category != "" && category != "all" {
		query = query.Where("category = ?", category)
	}
	if status := c.Query("status"); status != "" && status != "all" {
		query = query.Where("status = ?", status)
	}
	if search := strings.TrimSpace(c.Query("search")); search != "" {
		pattern := "%" + strings.ToLower(search) + "%"
		query = query.Where("LOWER(name) LIKE ? OR LOWER(vendor) LIKE ?", pattern, pattern)
	}

	var apps []models.SaaSApplication
	if err := query.Order("name ASC").Find(&apps).Error; err != nil {
		apperr.Respond(c, apperr.Internal("Failed to fetch apps", err))
		return
	}

	ids := make([]uint, len(apps))
	for i, app := range apps {
		ids[i] = app.ID
	}

	response := make([]AppResponse, len(apps))
	if len(ids) > 0 {
		licenseCounts, err := childCounts(h.db, "licenses", ids)
		if err != nil {
			apperr.Respond(c, apperr.Internal("Failed to fetch apps", err))
			return
		}
		recCounts, err := childCounts(h.db, "recommendations", ids)
		if err != nil {
			apperr.Respond(c, apperr.Internal("Failed to fetch apps", err))
			return
		}
		for i, app := range apps {
			response[i] = appToResponse(app)
			response[i].Count = &CountResponse{
				Licenses:        licenseCounts[app.ID],
				Recommendations: recCounts[app.ID],
			}
		}
	}

	c.JSON(http.StatusOK, response)
}

// Get returns a single application with its licenses, usage and open recommendations
// @Summary Get application
// @Tags apps
// @Produce json
// @Param id path int true "App ID"
// @Success 200 {object} AppDetailResponse
// @Failure 404 {object} map[string]string "App not found"
// @Security BearerAuth
// @Router /apps/{id} [get]
func (h *Handler) Get(c *gin.Context) {
	identity, ok := auth.MustIdentity(c)
	if !ok {
		return
	}
	id, err := apperr.ParseID(c.Param("id"), "app")
	if err != nil {
		apperr.Respond(c, err)
		return
	}

	var app models.SaaSApplication
	err = h.db.
		Preload("Owner").
		Preload("Licenses", func(db *gorm.DB) *gorm.DB { return db.Order("user_name ASC") }).
		Preload("UsageMetrics", func(db *gorm.DB) *gorm.DB { return db.Order("month DESC").Limit(usageHistoryMonths) }).
		Preload("Recommendations", "status = ?", models.StatusPending).
		Where("id = ? AND organization_id = ?", id, identity.OrganizationID).
		First(&app).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			apperr.Respond(c, apperr.NotFound("App"))
			return
		}
		apperr.Respond(c, apperr.Internal("Failed to fetch app", err))
		return
	}

	resp := AppDetailResponse{
		AppResponse:     appToResponse(app),
		Licenses:        app.Licenses,
		UsageMetrics:    app.UsageMetrics,
		Recommendations: app.Recommendations,
	}
	if resp.Licenses == nil {
		resp.Licenses = []models.License{}
	}
	if resp.UsageMetrics == nil {
		resp.UsageMetrics = []models.UsageMetric{}
	}
	if resp.Recommendations == nil {
		resp.Recommendations = []models.Recommendation{}
	}

	c.JSON(http.StatusOK, resp)
}

// Create creates a new application
// @Summary Create application
// @Tags apps
// @Accept json
// @Produce json
// @Param request body CreateAppRequest true "Application details"
// @Success 201 {object} AppResponse
// @Failure 400 {object} map[string]string "Validation error"
// @Failure 403 {object} map[string]string "Insufficient permissions"
// @Security BearerAuth
// @Router /apps [post]
func (h *Handler) Create(c *gin.Context) {
	identity, ok := auth.MustIdentity(c)
	if !ok {
		return
	}

	var req CreateAppRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apperr.Respond(c, apperr.FromBinding(err))
		return
	}

	renewal, err := apperr.ParseDate("renewalDate", req.RenewalDate)
	if err != nil {
		apperr.Respond(c, err)
		return
	}
	start, err := apperr.ParseDate("contractStartDate", req.ContractStartDate)
	if err != nil {
		apperr.Respond(c, err)
		return
	}
	end, err := apperr.ParseDate("contractEndDate", req.ContractEndDate)
	if err != nil {
		apperr.Respond(c, err)
		return
	}
	if end.Before(start) {
		apperr.Respond(c, apperr.Validation("Invalid contract period", "contractEndDate must not be before contractStartDate"))
		return
	}

	app := models.SaaSApplication{
		OrganizationID:    identity.OrganizationID,
		Name:              req.Name,
		Logo:              req.Logo,
		Category:          req.Category,
		Vendor:            req.Vendor,
		LicensesPurchased: req.LicensesPurchased,
		CostPerLicense:    req.CostPerLicense,
		BillingCycle:      models.BillingMonthly,
		RenewalDate:       renewal,
		OwnerDepartment:   req.OwnerDepartment,
		OwnerUserID:       req.OwnerUserID,
		ContractStartDate: start,
		ContractEndDate:   end,
		Status:            models.AppStatusActive,
	}
	if req.BillingCycle != "" {
		app.BillingCycle = models.BillingCycle(req.BillingCycle)
	}
	if req.Status != "" {
		app.Status = models.AppStatus(req.Status)
	}

	err = audit.Within(c, h.db, auth.Actor(c, identity), func(tx *gorm.DB) (audit.Event, error) {
		if err := checkOwner(tx, identity.OrganizationID, app.OwnerUserID); err != nil {
			return audit.Event{}, err
		}
		if err := tx.Create(&app).Error; err != nil {
			return audit.Event{}, err
		}
		return audit.Event{
			Action:     audit.ActionCreateApp,
			EntityType: audit.EntitySaaSApp,
			EntityID:   app.ID,
			Details:    map[string]any{"name": app.Name, "category": app.Category},
		}, nil
	})
	if err != nil {
		apperr.Respond(c, apperr.Wrap(err, "Failed to create app"))
		return
	}

	c.JSON(http.StatusCreated, appToResponse(app))
}

// Update updates an application
// @Summary Update application
// @Tags apps
// @Accept json
// @Produce json
// @Param id path int true "App ID"
// @Param request body UpdateAppRequest true "Fields to change"
// @Success 200 {object} AppResponse
// @Failure 400 {object} map[string]string "Validation error"
// @Failure 403 {object} map[string]string "Insufficient permissions"
// @Failure 404 {object} map[string]string "App not found"
// @Security BearerAuth
// @Router /apps/{id} [patch]
func (h *Handler) Update(c *gin.Context) {
	identity, ok := auth.MustIdentity(c)
	if !ok {
		return
	}
	id, err := apperr.ParseID(c.Param("id"), "app")
	if err != nil {
		apperr.Respond(c, err)
		return
	}

	var req UpdateAppRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apperr.Respond(c, apperr.FromBinding(err))
		return
	}

	updates, err := req.changes()
	if err != nil {
		apperr.Respond(c, err)
		return
	}

	var app *models.SaaSApplication
	err = audit.Within(c, h.db, auth.Actor(c, identity), func(tx *gorm.DB) (audit.Event, error) {
		var err error
		app, err = Find(tx, identity.OrganizationID, id)
		if err != nil {
			return audit.Event{}, err
		}
		if err := checkOwner(tx, identity.OrganizationID, req.OwnerUserID); err != nil {
			return audit.Event{}, err
		}

		start, end := app.ContractStartDate, app.ContractEndDate
		if v, ok := updates["contract_start_date"]; ok {
			start = v.(time.Time)
		}
		if v, ok := updates["contract_end_date"]; ok {
			end = v.(time.Time)
		}
		if end.Before(start) {
			return audit.Event{}, apperr.Validation("Invalid contract period", "contractEndDate must not be before contractStartDate")
		}

		if len(updates) > 0 {
			if err := tx.Model(app).Updates(updates).Error; err != nil {
				return audit.Event{}, err
			}
		}
		if err := tx.Preload("Owner").First(app, app.ID).Error; err != nil {
			return audit.Event{}, err
		}
		return audit.Event{
			Action:     audit.ActionUpdateApp,
			EntityType: audit.EntitySaaSApp,
			EntityID:   app.ID,
			Details:    req.details(),
		}, nil
	})
	if err != nil {
		apperr.Respond(c, apperr.Wrap(err, "Failed to update app"))
		return
	}

	c.JSON(http.StatusOK, appToResponse(*app))
}

// changes converts the request into column updates, parsing dates
func (r UpdateAppRequest) changes() (map[string]any, error) {
	updates := map[string]any{}
	if r.Name != nil {
		updates["name"] = *r.Name
	}
	if r.Logo != nil {
		updates["logo"] = *r.Logo
	}
	if r.Category != nil {
		updates["category"] = *r.Category
	}
	if r.Vendor != nil {
		updates["vendor"] = *r.Vendor
	}
	if r.LicensesPurchased != nil {
		updates["licenses_purchased"] = *r.LicensesPurchased
	}
	if r.CostPerLicense != nil {
		updates["cost_per_license"] = *r.CostPerLicense
	}
	if r.BillingCycle != nil {
		updates["billing_cycle"] = *r.BillingCycle
	}
	if r.OwnerDepartment != nil {
		updates["owner_department"] = *r.OwnerDepartment
	}
	if r.OwnerUserID != nil {
		updates["owner_user_id"] = *r.OwnerUserID
	}
	if r.Status != nil {
		updates["status"] = *r.Status
	}

	dates := []struct {
		field, column string
		value         *string
	}{
		{"renewalDate", "renewal_date", r.RenewalDate},
		{"contractStartDate", "contract_start_date", r.ContractStartDate},
		{"contractEndDate", "contract_end_date", r.ContractEndDate},
	}
	for _, d := range dates {
		if d.value == nil {
			continue
		}
		t, err := apperr.ParseDate(d.field, *d.value)
		if err != nil {
			return nil, err
		}
		updates[d.column] = t
	}
	return updates, nil
}

// details lists the submitted fields for the audit trail
func (r UpdateAppRequest) details() map[string]any {
	details := map[string]any{}
	set := func(key string, present bool, v any) {
		if present {
			details[key] = v
		}
	}
	set("name", r.Name != nil, deref(r.Name))
	set("logo", r.Logo != nil, deref(r.Logo))
	set("category", r.Category != nil, deref(r.Category))
	set("vendor", r.Vendor != nil, deref(r.Vendor))
	set("billingCycle", r.BillingCycle != nil, deref(r.BillingCycle))
	set("renewalDate", r.RenewalDate != nil, deref(r.RenewalDate))
	set("ownerDepartment", r.OwnerDepartment != nil, deref(r.OwnerDepartment))
	set("contractStartDate", r.ContractStartDate != nil, deref(r.ContractStartDate))
	set("contractEndDate", r.ContractEndDate != nil, deref(r.ContractEndDate))
	set("status", r.Status != nil, deref(r.Status))
	if r.LicensesPurchased != nil {
		details["licensesPurchased"] = *r.LicensesPurchased
	}
	if r.CostPerLicense != nil {
		details["costPerLicense"] = *r.CostPerLicense
	}
	if r.OwnerUserID != nil {
		details["ownerUserId"] = *r.OwnerUserID
	}
	return details
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// Delete deletes an application together with its licenses, usage
// history, recommendations and their approvals
// @Summary Delete application
// @Tags apps
// @Produce json
// @Param id path int true "App ID"
// @Success 200 {object} map[string]string "App deleted"
// @Failure 403 {object} map[string]string "Insufficient permissions"
// @Failure 404 {object} map[string]string "App not found"
// @Security BearerAuth
// @Router /apps/{id} [delete]
func (h *Handler) Delete(c *gin.Context) {
	identity, ok := auth.MustIdentity(c)
	if !ok {
		return
	}
	id, err := apperr.ParseID(c.Param("id"), "app")
	if err != nil {
		apperr.Respond(c, err)
		return
	}

	err = audit.Within(c, h.db, auth.Actor(c, identity), func(tx *gorm.DB) (audit.Event, error) {
		app, err := Find(tx, identity.OrganizationID, id)
		if err != nil {
			return audit.Event{}, err
		}

		recIDs := tx.Model(&models.Recommendation{}).Select("id").Where("saas_app_id = ?", app.ID)
		if err := tx.Where("recommendation_id IN (?)", recIDs).Delete(&models.Approval{}).Error; err != nil {
			return audit.Event{}, err
		}
		if err := tx.Where("saas_app_id = ?", app.ID).Delete(&models.Recommendation{}).Error; err != nil {
			return audit.Event{}, err
		}
		if err := tx.Where("saas_app_id = ?", app.ID).Delete(&models.License{}).Error; err != nil {
			return audit.Event{}, err
		}
		if err := tx.Where("saas_app_id = ?", app.ID).Delete(&models.UsageMetric{}).Error; err != nil {
			return audit.Event{}, err
		}
		if err := tx.Delete(app).Error; err != nil {
			return audit.Event{}, err
		}

		return audit.Event{
			Action:     audit.ActionDeleteApp,
			EntityType: audit.EntitySaaSApp,
			EntityID:   app.ID,
			Details:    map[string]any{"name": app.Name},
		}, nil
	})
	if err != nil {
		apperr.Respond(c, apperr.Wrap(err, "Failed to delete app"))
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "App deleted"})
}

// RegisterRoutes registers application routes on a group already behind
// auth.Authenticate
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("", h.List)
	rg.GET("/:id", h.Get)
	rg.POST("", auth.Authorize(models.RoleAdmin), h.Create)
	rg.PATCH("/:id", auth.Authorize(models.RoleAdmin, models.RoleAppOwner), h.Update)
	rg.DELETE("/:id", auth.Authorize(models.RoleAdmin), h.Delete)
}
