package licenses

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mikepea/saasledger/pkg/saasledger/apperr"
	"github.com/mikepea/saasledger/pkg/saasledger/apps"
	"github.com/mikepea/saasledger/pkg/saasledger/audit"
	"github.com/mikepea/saasledger/pkg/saasledger/auth"
	"github.com/mikepea/saasledger/pkg/saasledger/logging"
	"github.com/mikepea/saasledger/pkg/saasledger/models"
	"gorm.io/gorm"
)

// Handler handles license-related requests
type Handler struct {
	db  *gorm.DB
	now func() time.Time
}

// NewHandler creates a new licenses handler
func NewHandler(db *gorm.DB) *Handler {
	return &Handler{db: db, now: time.Now}
}

// CreateLicenseRequest represents the request to assign a seat
type CreateLicenseRequest struct {
	SaaSAppID         uint   `json:"saasAppId" binding:"required"`
	UserID            *uint  `json:"userId"`
	UserEmail         string `json:"userEmail" binding:"omitempty,email"`
	UserName          string `json:"userName"`
	AssignedDate      string `json:"assignedDate"`
	LastActiveDate    string `json:"lastActiveDate"`
	MonthlyActiveDays int    `json:"monthlyActiveDays" binding:"gte=0,max=31"`
	Status            string `json:"status" binding:"omitempty,oneof=active inactive pending"`
}

// AppSummary is the owning application as shown next to a license
type AppSummary struct {
	ID             uint    `json:"id"`
	Name           string  `json:"name"`
	CostPerLicense float64 `json:"costPerLicense"`
}

// LicenseResponse represents a license in API responses
type LicenseResponse struct {
	ID                uint        `json:"id"`
	SaaSAppID         uint        `json:"saasAppId"`
	UserID            *uint       `json:"userId,omitempty"`
	UserEmail         string      `json:"userEmail"`
	UserName          string      `json:"userName"`
	AssignedDate      time.Time   `json:"assignedDate"`
	LastActiveDate    *time.Time  `json:"lastActiveDate"`
	MonthlyActiveDays int         `json:"monthlyActiveDays"`
	Status            string      `json:"status"`
	Unused            bool        `json:"unused"`
	SaaSApp           *AppSummary `json:"saasApp,omitempty"`
}

func licenseToResponse(l models.License, now time.Time) LicenseResponse {
	resp := LicenseResponse{
		ID:                l.ID,
		SaaSAppID:         l.SaaSAppID,
		UserID:            l.UserID,
		UserEmail:         l.UserEmail,
		UserName:          l.UserName,
		AssignedDate:      l.AssignedDate,
		LastActiveDate:    l.LastActiveDate,
		MonthlyActiveDays: l.MonthlyActiveDays,
		Status:            string(l.Status),
		Unused:            l.IsUnused(now),
	}
	if l.SaaSApp != nil {
		resp.SaaSApp = &AppSummary{ID: l.SaaSApp.ID, Name: l.SaaSApp.Name, CostPerLicense: l.SaaSApp.CostPerLicense}
	}
	return resp
}

func licensesToResponse(list []models.License, now time.Time) []LicenseResponse {
	response := make([]LicenseResponse, len(list))
	for i, l := range list {
		response[i] = licenseToResponse(l, now)
	}
	return response
}

// incrementUsed bumps the application's seat counter in one statement
func incrementUsed(tx *gorm.DB, appID uint) error {
	result := tx.Model(&models.SaaSApplication{}).
		Where("id = ?", appID).
		UpdateColumn("licenses_used", gorm.Expr("licenses_used + ?", 1))
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected != 1 {
		return apperr.NotFound("App")
	}
	return nil
}

// decrementUsed lowers the seat counter in one statement, never below zero.
// It reports whether the counter moved.
func decrementUsed(tx *gorm.DB, appID uint) (bool, error) {
	result := tx.Model(&models.SaaSApplication{}).
		Where("id = ? AND licenses_used > 0", appID).
		UpdateColumn("licenses_used", gorm.Expr("licenses_used - ?", 1))
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// ListByApp returns the licenses of one application
// @Summary List licenses of an application
// @Tags licenses
// @Produce json
// @Param appId path int true "App ID"
// @Success 200 {array} LicenseResponse
// @Failure 404 {object} map[string]string "App not found"
// @Security BearerAuth
// @Router /licenses/app/{appId} [get]
func (h *Handler) ListByApp(c *gin.Context) {
	identity, ok := auth.MustIdentity(c)
	if !ok {
		return
	}
	appID, err := apperr.ParseID(c.Param("appId"), "app")
	if err != nil {
		apperr.Respond(c, err)
		return
	}

	if _, err := apps.Find(h.db, identity.OrganizationID, appID); err != nil {
		apperr.Respond(c, err)
		return
	}

	var list []models.License
	if err := h.db.Where("saas_app_id = ?", appID).Order("user_name ASC").Find(&list).Error; err != nil {
		apperr.Respond(c, apperr.Internal("Failed to fetch licenses", err))
		return
	}

	c.JSON(http.StatusOK, licensesToResponse(list, h.now()))
}

// ListUnused returns every unused license of the organization
// @Summary List unused licenses
// @Description Seats never used, idle for 30 days, or active fewer than 5 days this month
// @Tags licenses
// @Produce json
// @Success 200 {array} LicenseResponse
// @Security BearerAuth
// @Router /licenses/unused [get]
func (h *Handler) ListUnused(c *gin.Context) {
	identity, ok := auth.MustIdentity(c)
	if !ok {
		return
	}

	now := h.now().UTC()
	var list []models.License
	err := h.db.Preload("SaaSApp").
		Where("saas_app_id IN (?)", models.OrganizationAppIDs(h.db, identity.OrganizationID)).
		Where("last_active_date IS NULL OR last_active_date < ? OR monthly_active_days < ?",
			models.UnusedCutoff(now), models.MinMonthlyActiveDays).
		Order("saas_app_id ASC, user_name ASC").
		Find(&list).Error
	if err != nil {
		apperr.Respond(c, apperr.Internal("Failed to fetch unused licenses", err))
		return
	}

	c.JSON(http.StatusOK, licensesToResponse(list, now))
}

// Create assigns a seat and increments the application's licensesUsed
// @Summary Assign license
// @Tags licenses
// @Accept json
// @Produce json
// @Param request body CreateLicenseRequest true "License details"
// @Success 201 {object} LicenseResponse
// @Failure 400 {object} map[string]string "Validation error"
// @Failure 404 {object} map[string]string "App not found"
// @Security BearerAuth
// @Router /licenses [post]
func (h *Handler) Create(c *gin.Context) {
	identity, ok := auth.MustIdentity(c)
	if !ok {
		return
	}

	var req CreateLicenseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apperr.Respond(c, apperr.FromBinding(err))
		return
	}
	if req.UserID == nil && req.UserEmail == "" {
		apperr.Respond(c, apperr.Validation("Invalid request body", "userEmail or userId is required"))
		return
	}

	license := models.License{
		SaaSAppID:         req.SaaSAppID,
		UserID:            req.UserID,
		UserEmail:         req.UserEmail,
		UserName:          req.UserName,
		AssignedDate:      h.now().UTC(),
		MonthlyActiveDays: req.MonthlyActiveDays,
		Status:            models.LicenseStatusActive,
	}
	if req.Status != "" {
		license.Status = models.LicenseStatus(req.Status)
	}
	if req.AssignedDate != "" {
		assigned, err := apperr.ParseDate("assignedDate", req.AssignedDate)
		if err != nil {
			apperr.Respond(c, err)
			return
		}
		license.AssignedDate = assigned
	}
	if req.LastActiveDate != "" {
		lastActive, err := apperr.ParseDate("lastActiveDate", req.LastActiveDate)
		if err != nil {
			apperr.Respond(c, err)
			return
		}
		license.LastActiveDate = &lastActive
	}

	err := audit.Within(c, h.db, auth.Actor(c, identity), func(tx *gorm.DB) (audit.Event, error) {
		if _, err := apps.Find(tx, identity.OrganizationID, req.SaaSAppID); err != nil {
			return audit.Event{}, err
		}
		if err := h.resolveUser(tx, identity.OrganizationID, &license); err != nil {
			return audit.Event{}, err
		}
		if err := tx.Create(&license).Error; err != nil {
			return audit.Event{}, err
		}
		if err := incrementUsed(tx, license.SaaSAppID); err != nil {
			return audit.Event{}, err
		}
		return audit.Event{
			Action:     audit.ActionAssignLicense,
			EntityType: audit.EntityLicense,
			EntityID:   license.ID,
			Details:    map[string]any{"appId": license.SaaSAppID, "userEmail": license.UserEmail},
		}, nil
	})
	if err != nil {
		apperr.Respond(c, apperr.Wrap(err, "Failed to create license"))
		return
	}

	c.JSON(http.StatusCreated, licenseToResponse(license, h.now()))
}

// resolveUser checks a referenced user belongs to the organization and
// fills in the denormalized email and name
func (h *Handler) resolveUser(tx *gorm.DB, orgID uint, license *models.License) error {
	if license.UserID == nil {
		return nil
	}
	var user models.User
	if err := tx.Where("id = ? AND organization_id = ?", *license.UserID, orgID).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperr.Validation("Invalid user", "userId must reference a user in this organization")
		}
		return err
	}
	if license.UserEmail == "" {
		license.UserEmail = user.Email
	}
	if license.UserName == "" {
		license.UserName = user.Name
	}
	return nil
}

// Delete revokes a seat and decrements the application's licensesUsed
// @Summary Revoke license
// @Tags licenses
// @Produce json
// @Param id path int true "License ID"
// @Success 200 {object} map[string]string "License revoked"
// @Failure 404 {object} map[string]string "License not found"
// @Security BearerAuth
// @Router /licenses/{id} [delete]
func (h *Handler) Delete(c *gin.Context) {
	identity, ok := auth.MustIdentity(c)
	if !ok {
		return
	}
	id, err := apperr.ParseID(c.Param("id"), "license")
	if err != nil {
		apperr.Respond(c, err)
		return
	}

	err = audit.Within(c, h.db, auth.Actor(c, identity), func(tx *gorm.DB) (audit.Event, error) {
		var license models.License
		if err := tx.Where("id = ? AND saas_app_id IN (?)", id, models.OrganizationAppIDs(tx, identity.OrganizationID)).
			First(&license).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return audit.Event{}, apperr.NotFound("License")
			}
			return audit.Event{}, err
		}

		result := tx.Delete(&license)
		if result.Error != nil {
			return audit.Event{}, result.Error
		}
		if result.RowsAffected == 0 {
			return audit.Event{}, apperr.NotFound("License")
		}

		moved, err := decrementUsed(tx, license.SaaSAppID)
		if err != nil {
			return audit.Event{}, err
		}
		if !moved {
			logging.FromContext(c).WithField("app_id", license.SaaSAppID).
				Warn("licensesUsed already zero while revoking a license")
		}

		return audit.Event{
			Action:     audit.ActionRevokeLicense,
			EntityType: audit.EntityLicense,
			EntityID:   license.ID,
			Details:    map[string]any{"appId": license.SaaSAppID, "userEmail": license.UserEmail},
		}, nil
	})
	if err != nil {
		apperr.Respond(c, apperr.Wrap(err, "Failed to revoke license"))
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "License revoked"})
}

// RegisterRoutes registers license routes on a group already behind
// auth.Authenticate
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/app/:appId", h.ListByApp)
	rg.GET("/unused", h.ListUnused)
	rg.POST("", auth.Authorize(models.RoleAdmin, models.RoleAppOwner), h.Create)
	rg.DELETE("/:id", auth.Authorize(models.RoleAdmin, models.RoleAppOwner), h.Delete)
}
