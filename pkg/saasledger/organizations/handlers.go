package organizations

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

// Handler handles requests about the caller's organization
type Handler struct {
	db *gorm.DB
}

// NewHandler creates a new organizations handler
func NewHandler(db *gorm.DB) *Handler {
	return &Handler{db: db}
}

// UpdateOrgRequest represents the request to update the organization
type UpdateOrgRequest struct {
	Name   *string `json:"name" binding:"omitempty,min=1,max=100"`
	Domain *string `json:"domain" binding:"omitempty,fqdn"`
	Logo   *string `json:"logo" binding:"omitempty,url"`
}

// StatsResponse summarizes what the organization holds
type StatsResponse struct {
	TotalUsers             int64            `json:"totalUsers"`
	UsersByRole            map[string]int64 `json:"usersByRole"`
	TotalApps              int64            `json:"totalApps"`
	TotalLicenses          int64            `json:"totalLicenses"`
	PendingRecommendations int64            `json:"pendingRecommendations"`
}

// OrgResponse represents the organization in API responses
type OrgResponse struct {
	ID        uint          `json:"id"`
	Name      string        `json:"name"`
	Domain    string        `json:"domain"`
	Logo      string        `json:"logo,omitempty"`
	CreatedAt time.Time     `json:"createdAt"`
	Stats     StatsResponse `json:"stats"`
}

func (h *Handler) stats(orgID uint) (StatsResponse, error) {
	stats := StatsResponse{UsersByRole: map[string]int64{}}
	appIDs := models.OrganizationAppIDs(h.db, orgID)

	var byRole []struct {
		Role  string
		Count int64
	}
	if err := h.db.Model(&models.User{}).Select("role, COUNT(*) AS count").
		Where("organization_id = ?", orgID).Group("role").Scan(&byRole).Error; err != nil {
		return stats, err
	}
	for _, r := range byRole {
		stats.UsersByRole[r.Role] = r.Count
		stats.TotalUsers += r.Count
	}

	if err := h.db.Model(&models.SaaSApplication{}).Where("organization_id = ?", orgID).
		Count(&stats.TotalApps).Error; err != nil {
		return stats, err
	}
	if err := h.db.Model(&models.License{}).Where("saas_app_id IN (?)", appIDs).
		Count(&stats.TotalLicenses).Error; err != nil {
		return stats, err
	}
	if err := h.db.Model(&models.Recommendation{}).
		Where("saas_app_id IN (?) AND status = ?", appIDs, models.StatusPending).
		Count(&stats.PendingRecommendations).Error; err != nil {
		return stats, err
	}
	return stats, nil
}

func (h *Handler) respond(c *gin.Context, org models.Organization) {
	stats, err := h.stats(org.ID)
	if err != nil {
		apperr.Respond(c, apperr.Internal("Failed to fetch organization", err))
		return
	}
	c.JSON(http.StatusOK, OrgResponse{
		ID:        org.ID,
		Name:      org.Name,
		Domain:    org.Domain,
		Logo:      org.Logo,
		CreatedAt: org.CreatedAt,
		Stats:     stats,
	})
}

func find(db *gorm.DB, id uint) (*models.Organization, error) {
	var org models.Organization
	if err := db.First(&org, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("Organization")
		}
		return nil, apperr.Internal("Failed to fetch organization", err)
	}
	return &org, nil
}

// Get returns the caller's organization
// @Summary Get organization
// @Tags organization
// @Produce json
// @Success 200 {object} OrgResponse
// @Security BearerAuth
// @Router /organization [get]
func (h *Handler) Get(c *gin.Context) {
	identity, ok := auth.MustIdentity(c)
	if !ok {
		return
	}

	org, err := find(h.db, identity.OrganizationID)
	if err != nil {
		apperr.Respond(c, err)
		return
	}

	h.respond(c, *org)
}

// Update changes the caller's organization (admin only)
// @Summary Update organization
// @Tags organization
// @Accept json
// @Produce json
// @Param request body UpdateOrgRequest true "Fields to change"
// @Success 200 {object} OrgResponse
// @Failure 400 {object} map[string]string "Validation error"
// @Failure 409 {object} map[string]string "Domain already registered"
// @Security BearerAuth
// @Router /organization [patch]
func (h *Handler) Update(c *gin.Context) {
	identity, ok := auth.MustIdentity(c)
	if !ok {
		return
	}

	var req UpdateOrgRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apperr.Respond(c, apperr.FromBinding(err))
		return
	}

	updates := make(map[string]interface{})
	if req.Name != nil {
		updates["name"] = strings.TrimSpace(*req.Name)
	}
	if req.Domain != nil {
		updates["domain"] = strings.ToLower(*req.Domain)
	}
	if req.Logo != nil {
		updates["logo"] = *req.Logo
	}

	var org *models.Organization
	err := audit.Within(c, h.db, auth.Actor(c, identity), func(tx *gorm.DB) (audit.Event, error) {
		var err error
		org, err = find(tx, identity.OrganizationID)
		if err != nil {
			return audit.Event{}, err
		}

		if domain, ok := updates["domain"]; ok && domain != org.Domain {
			var taken int64
			if err := tx.Model(&models.Organization{}).
				Where("domain = ? AND id <> ?", domain, org.ID).Count(&taken).Error; err != nil {
				return audit.Event{}, err
			}
			if taken > 0 {
				return audit.Event{}, apperr.New(apperr.ErrConflict, "Domain already registered")
			}
		}

		if len(updates) > 0 {
			if err := tx.Model(org).Updates(updates).Error; err != nil {
				return audit.Event{}, err
			}
		}

		details := make(map[string]any, len(updates))
		for k, v := range updates {
			details[k] = v
		}
		return audit.Event{
			Action:     audit.ActionUpdateOrganization,
			EntityType: audit.EntityOrganization,
			EntityID:   org.ID,
			Details:    details,
		}, nil
	})
	if err != nil {
		apperr.Respond(c, apperr.Wrap(err, "Failed to update organization"))
		return
	}

	h.respond(c, *org)
}

// RegisterRoutes registers organization routes on a group already behind
// auth.Authenticate
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("", h.Get)
	rg.PATCH("", auth.Authorize(models.RoleAdmin), h.Update)
}
