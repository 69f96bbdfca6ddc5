package recommendations

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mikepea/saasledger/pkg/saasledger/apperr"
	"github.com/mikepea/saasledger/pkg/saasledger/audit"
	"github.com/mikepea/saasledger/pkg/saasledger/auth"
	"github.com/mikepea/saasledger/pkg/saasledger/models"
	"gorm.io/gorm"
)

// Handler handles recommendation-related requests
type Handler struct {
	db     *gorm.DB
	engine *Engine
}

// NewHandler creates a new recommendations handler
func NewHandler(db *gorm.DB) *Handler {
	return &Handler{db: db, engine: NewEngine(db)}
}

// TransitionRequest is the optional body of approve and reject
type TransitionRequest struct {
	Reason string `json:"reason" binding:"max=1000"`
}

// AppSummary is the targeted application as shown next to a recommendation
type AppSummary struct {
	ID       uint   `json:"id"`
	Name     string `json:"name"`
	Logo     string `json:"logo,omitempty"`
	Category string `json:"category"`
}

// ApprovalResponse represents an approval decision in API responses
type ApprovalResponse struct {
	ID               uint      `json:"id"`
	ApprovedByUserID uint      `json:"approvedByUserId"`
	ApprovedByName   string    `json:"approvedByName"`
	Action           string    `json:"action"`
	Reason           string    `json:"reason,omitempty"`
	Timestamp        time.Time `json:"timestamp"`
}

// RecommendationResponse represents a recommendation in API responses
type RecommendationResponse struct {
	ID                      uint               `json:"id"`
	SaaSAppID               uint               `json:"saasAppId"`
	Type                    string             `json:"type"`
	Title                   string             `json:"title"`
	Description             string             `json:"description"`
	EstimatedMonthlySavings float64            `json:"estimatedMonthlySavings"`
	EstimatedAnnualSavings  float64            `json:"estimatedAnnualSavings"`
	AffectedUsers           int                `json:"affectedUsers"`
	AffectedTeams           []string           `json:"affectedTeams"`
	ImpactLevel             string             `json:"impactLevel"`
	ConfidenceLevel         string             `json:"confidenceLevel"`
	Status                  string             `json:"status"`
	SaaSApp                 *AppSummary        `json:"saasApp,omitempty"`
	Approvals               []ApprovalResponse `json:"approvals,omitempty"`
	CreatedAt               time.Time          `json:"createdAt"`
	UpdatedAt               time.Time          `json:"updatedAt"`
}

func recommendationToResponse(rec models.Recommendation) RecommendationResponse {
	teams := []string(rec.AffectedTeams)
	if teams == nil {
		teams = []string{}
	}
	resp := RecommendationResponse{
		ID:                      rec.ID,
		SaaSAppID:               rec.SaaSAppID,
		Type:                    string(rec.Type),
		Title:                   rec.Title,
		Description:             rec.Description,
		EstimatedMonthlySavings: rec.EstimatedMonthlySavings,
		EstimatedAnnualSavings:  rec.EstimatedAnnualSavings,
		AffectedUsers:           rec.AffectedUsers,
		AffectedTeams:           teams,
		ImpactLevel:             string(rec.ImpactLevel),
		ConfidenceLevel:         string(rec.ConfidenceLevel),
		Status:                  string(rec.Status),
		CreatedAt:               rec.CreatedAt,
		UpdatedAt:               rec.UpdatedAt,
	}
	if rec.SaaSApp != nil {
		resp.SaaSApp = &AppSummary{
			ID:       rec.SaaSApp.ID,
			Name:     rec.SaaSApp.Name,
			Logo:     rec.SaaSApp.Logo,
			Category: rec.SaaSApp.Category,
		}
	}
	for _, a := range rec.Approvals {
		resp.Approvals = append(resp.Approvals, ApprovalResponse{
			ID:               a.ID,
			ApprovedByUserID: a.ApprovedByUserID,
			ApprovedByName:   a.ApprovedByName,
			Action:           string(a.Action),
			Reason:           a.Reason,
			Timestamp:        a.Timestamp,
		})
	}
	return resp
}

// List returns the organization's recommendations, largest savings first
// @Summary List recommendations
// @Tags recommendations
// @Produce json
// @Param status query string false "Filter by status ('all' disables the filter)"
// @Param type query string false "Filter by type ('all' disables the filter)"
// @Success 200 {array} RecommendationResponse
// @Security BearerAuth
// @Router /recommendations [get]
func (h *Handler) List(c *gin.Context) {
	identity, ok := auth.MustIdentity(c)
	if !ok {
		return
	}

	query := h.db.Preload("SaaSApp").
		Where("saas_app_id IN (?)", models.OrganizationAppIDs(h.db, identity.OrganizationID))
	if status := c.Query("status"); status != "" && status != "all" {
		query = query.Where("status = ?", status)
	}
	if recType := c.Query("type"); recType != "" && recType != "all" {
		query = query.Where("type = ?", recType)
	}

	var recs []models.Recommendation
	if err := query.Order("estimated_annual_savings DESC, id ASC").Find(&recs).Error; err != nil {
		apperr.Respond(c, apperr.Internal("Failed to fetch recommendations", err))
		return
	}

	response := make([]RecommendationResponse, len(recs))
	for i, rec := range recs {
		response[i] = recommendationToResponse(rec)
	}
	c.JSON(http.StatusOK, response)
}

// Get returns one recommendation with its approval history
// @Summary Get recommendation
// @Tags recommendations
// @Produce json
// @Param id path int true "Recommendation ID"
// @Success 200 {object} RecommendationResponse
// @Failure 404 {object} map[string]string "Recommendation not found"
// @Security BearerAuth
// @Router /recommendations/{id} [get]
func (h *Handler) Get(c *gin.Context) {
	identity, ok := auth.MustIdentity(c)
	if !ok {
		return
	}
	id, err := apperr.ParseID(c.Param("id"), "recommendation")
	if err != nil {
		apperr.Respond(c, err)
		return
	}

	var rec models.Recommendation
	err = h.db.Preload("SaaSApp").
		Preload("Approvals", func(db *gorm.DB) *gorm.DB { return db.Order("timestamp ASC, id ASC") }).
		Where("id = ? AND saas_app_id IN (?)", id, models.OrganizationAppIDs(h.db, identity.OrganizationID)).
		First(&rec).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			apperr.Respond(c, apperr.NotFound("Recommendation"))
			return
		}
		apperr.Respond(c, apperr.Internal("Failed to fetch recommendation", err))
		return
	}

	c.JSON(http.StatusOK, recommendationToResponse(rec))
}

// Transition returns the handler performing op
// @Summary Approve, reject or implement a recommendation
// @Description approve/reject move a pending recommendation (admin, finance); implement moves an approved one (admin)
// @Tags recommendations
// @Accept json
// @Produce json
// @Param id path int true "Recommendation ID"
// @Param request body TransitionRequest false "Optional reason"
// @Success 200 {object} RecommendationResponse
// @Failure 404 {object} map[string]string "Recommendation not found"
// @Failure 409 {object} map[string]string "Invalid state transition"
// @Security BearerAuth
// @Router /recommendations/{id}/approve [post]
// @Router /recommendations/{id}/reject [post]
// @Router /recommendations/{id}/implement [post]
func (h *Handler) Transition(op Operation) gin.HandlerFunc {
	return func(c *gin.Context) {
		identity, ok := auth.MustIdentity(c)
		if !ok {
			return
		}
		id, err := apperr.ParseID(c.Param("id"), "recommendation")
		if err != nil {
			apperr.Respond(c, err)
			return
		}

		var req TransitionRequest
		if c.Request.Body != nil && c.Request.ContentLength != 0 {
			if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
				apperr.Respond(c, apperr.FromBinding(err))
				return
			}
		}

		res, err := h.engine.Apply(c.Request.Context(), Request{
			Actor:            auth.Actor(c, identity),
			Role:             identity.Role,
			RecommendationID: id,
			Operation:        op,
			Reason:           req.Reason,
		})
		if err != nil {
			apperr.Respond(c, apperr.Wrap(err, "Failed to update recommendation"))
			return
		}

		audit.Emit(res.Audit)
		audit.Announce(c, audit.Action(res.Audit.Action))
		c.JSON(http.StatusOK, recommendationToResponse(res.Recommendation))
	}
}

// RegisterRoutes registers recommendation routes on a group already behind
// auth.Authenticate. Workflow routes take their roles from Transitions.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("", h.List)
	rg.GET("/:id", h.Get)
	for op, t := range Transitions {
		rg.POST("/:id/"+string(op), auth.Authorize(t.Roles...), h.Transition(op))
	}
}
