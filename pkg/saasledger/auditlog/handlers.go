// Package auditlog serves the organization's audit trail to admins.
package auditlog

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mikepea/saasledger/pkg/saasledger/apperr"
	"github.com/mikepea/saasledger/pkg/saasledger/auth"
	"github.com/mikepea/saasledger/pkg/saasledger/models"
	"gorm.io/gorm"
)

const (
	// DefaultLimit is the page size when none is given
	DefaultLimit = 100
	// MaxLimit caps the page size
	MaxLimit = 500
)

// Handler handles audit trail requests
type Handler struct {
	db *gorm.DB
}

// NewHandler creates a new audit trail handler
func NewHandler(db *gorm.DB) *Handler {
	return &Handler{db: db}
}

// UserSummary identifies the acting user while they still exist
type UserSummary struct {
	ID     uint   `json:"id"`
	Name   string `json:"name"`
	Email  string `json:"email"`
	Avatar string `json:"avatar,omitempty"`
}

// LogResponse is one audit row. User is nil once the actor is deleted;
// UserName still names them.
type LogResponse struct {
	ID         uint           `json:"id"`
	UserID     uint           `json:"userId"`
	UserName   string         `json:"userName"`
	Action     string         `json:"action"`
	EntityType string         `json:"entityType"`
	EntityID   string         `json:"entityId"`
	Details    map[string]any `json:"details"`
	IPAddress  string         `json:"ipAddress,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
	User       *UserSummary   `json:"user"`
}

// PageResponse is a page of the audit trail
type PageResponse struct {
	Logs   []LogResponse `json:"logs"`
	Total  int64         `json:"total"`
	Limit  int           `json:"limit"`
	Offset int           `json:"offset"`
}

// toResponses attaches the acting users, looked up within the organization
func (h *Handler) toResponses(orgID uint, entries []models.AuditLog) ([]LogResponse, error) {
	ids := make([]uint, 0, len(entries))
	for _, e := range entries {
		ids = append(ids, e.UserID)
	}

	users := map[uint]*UserSummary{}
	if len(ids) > 0 {
		var found []models.User
		if err := h.db.Where("organization_id = ? AND id IN ?", orgID, ids).Find(&found).Error; err != nil {
			return nil, err
		}
		for _, u := range found {
			users[u.ID] = &UserSummary{ID: u.ID, Name: u.Name, Email: u.Email, Avatar: u.Avatar}
		}
	}

	responses := make([]LogResponse, len(entries))
	for i, e := range entries {
		details := map[string]any(e.Details)
		if details == nil {
			details = map[string]any{}
		}
		responses[i] = LogResponse{
			ID:         e.ID,
			UserID:     e.UserID,
			UserName:   e.UserName,
			Action:     e.Action,
			EntityType: e.EntityType,
			EntityID:   e.EntityID,
			Details:    details,
			IPAddress:  e.IPAddress,
			Timestamp:  e.Timestamp,
			User:       users[e.UserID],
		}
	}
	return responses, nil
}

// List returns a page of the organization's audit trail, newest first
// @Summary List audit logs
// @Tags audit
// @Produce json
// @Param entityType query string false "Filter by entity type"
// @Param action query string false "Filter by action (case-insensitive substring)"
// @Param userId query int false "Filter by acting user"
// @Param limit query int false "Max results (default 100, max 500)"
// @Param offset query int false "Offset for pagination"
// @Success 200 {object} PageResponse
// @Security BearerAuth
// @Router /audit [get]
func (h *Handler) List(c *gin.Context) {
	identity, ok := auth.MustIdentity(c)
	if !ok {
		return
	}

	query := h.db.Model(&models.AuditLog{}).Where("organization_id = ?", identity.OrganizationID)

	if entityType := c.Query("entityType"); entityType != "" {
		query = query.Where("entity_type = ?", entityType)
	}
	if action := strings.TrimSpace(c.Query("action")); action != "" {
		query = query.Where("UPPER(action) LIKE ?", "%"+strings.ToUpper(action)+"%")
	}
	if userID := c.Query("userId"); userID != "" {
		id, err := apperr.ParseID(userID, "user")
		if err != nil {
			apperr.Respond(c, err)
			return
		}
		query = query.Where("user_id = ?", id)
	}

	// Pagination
	limit := DefaultLimit
	if l := c.Query("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			limit = min(parsed, MaxLimit)
		}
	}
	offset := 0
	if o := c.Query("offset"); o != "" {
		if parsed, err := strconv.Atoi(o); err == nil && parsed >= 0 {
			offset = parsed
		}
	}

	var total int64
	if err := query.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		apperr.Respond(c, apperr.Internal("Failed to fetch audit logs", err))
		return
	}

	var entries []models.AuditLog
	if err := query.Session(&gorm.Session{}).Order("timestamp DESC, id DESC").
		Limit(limit).Offset(offset).Find(&entries).Error; err != nil {
		apperr.Respond(c, apperr.Internal("Failed to fetch audit logs", err))
		return
	}

	logs, err := h.toResponses(identity.OrganizationID, entries)
	if err != nil {
		apperr.Respond(c, apperr.Internal("Failed to fetch audit logs", err))
		return
	}

	c.JSON(http.StatusOK, PageResponse{Logs: logs, Total: total, Limit: limit, Offset: offset})
}

// ListByEntity returns every audit row about one entity, newest first
// @Summary List audit logs for an entity
// @Tags audit
// @Produce json
// @Param type path string true "Entity type"
// @Param id path string true "Entity ID"
// @Success 200 {array} LogResponse
// @Security BearerAuth
// @Router /audit/entity/{type}/{id} [get]
func (h *Handler) ListByEntity(c *gin.Context) {
	identity, ok := auth.MustIdentity(c)
	if !ok {
		return
	}

	var entries []models.AuditLog
	if err := h.db.Where("organization_id = ? AND entity_type = ? AND entity_id = ?",
		identity.OrganizationID, c.Param("type"), c.Param("id")).
		Order("timestamp DESC, id DESC").Find(&entries).Error; err != nil {
		apperr.Respond(c, apperr.Internal("Failed to fetch audit logs", err))
		return
	}

	logs, err := h.toResponses(identity.OrganizationID, entries)
	if err != nil {
		apperr.Respond(c, apperr.Internal("Failed to fetch audit logs", err))
		return
	}

	c.JSON(http.StatusOK, logs)
}

// RegisterRoutes registers audit routes on a group already behind
// auth.Authenticate. The whole trail is admin only.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.Use(auth.Authorize(models.RoleAdmin))
	rg.GET("", h.List)
	rg.GET("/entity/:type/:id", h.ListByEntity)
}
