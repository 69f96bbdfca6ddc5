package auth

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/mikepea/saasledger/pkg/saasledger/apperr"
	"github.com/mikepea/saasledger/pkg/saasledger/audit"
	"github.com/mikepea/saasledger/pkg/saasledger/models"
	"gorm.io/gorm"
)

// Handler handles authentication requests
type Handler struct {
	db      *gorm.DB
	tokens  *TokenManager
	limiter *LoginLimiter
}

// NewHandler creates a new auth handler. limiter may be nil to disable throttling.
func NewHandler(db *gorm.DB, tokens *TokenManager, limiter *LoginLimiter) *Handler {
	return &Handler{db: db, tokens: tokens, limiter: limiter}
}

// LoginRequest represents the login request body
type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

// AuthResponse represents the authentication response
type AuthResponse struct {
	Token string       `json:"token"`
	User  UserResponse `json:"user"`
}

// OrganizationResponse is the tenant summary embedded in user responses
type OrganizationResponse struct {
	ID     uint   `json:"id"`
	Name   string `json:"name"`
	Domain string `json:"domain"`
	Logo   string `json:"logo,omitempty"`
}

// UserResponse represents user data in responses
type UserResponse struct {
	ID             uint                  `json:"id"`
	Email          string                `json:"email"`
	Name           string                `json:"name"`
	Role           string                `json:"role"`
	Avatar         string                `json:"avatar,omitempty"`
	OrganizationID uint                  `json:"organizationId"`
	Organization   *OrganizationResponse `json:"organization,omitempty"`
}

func userToResponse(user models.User) UserResponse {
	resp := UserResponse{
		ID:             user.ID,
		Email:          user.Email,
		Name:           user.Name,
		Role:           string(user.Role),
		Avatar:         user.Avatar,
		OrganizationID: user.OrganizationID,
	}
	if user.Organization != nil {
		resp.Organization = &OrganizationResponse{
			ID:     user.Organization.ID,
			Name:   user.Organization.Name,
			Domain: user.Organization.Domain,
			Logo:   user.Organization.Logo,
		}
	}
	return resp
}

// Login handles user login
// @Summary Login
// @Description Authenticate with email and password to receive a JWT token
// @Tags auth
// @Accept json
// @Produce json
// @Param request body LoginRequest true "Login credentials"
// @Success 200 {object} AuthResponse
// @Failure 400 {object} map[string]string "Validation error"
// @Failure 401 {object} map[string]string "Invalid credentials"
// @Failure 429 {object} map[string]string "Too many attempts"
// @Router /auth/login [post]
func (h *Handler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apperr.Respond(c, apperr.FromBinding(err))
		return
	}

	var user models.User
	if err := h.db.Preload("Organization").Where("email = ?", strings.ToLower(req.Email)).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			apperr.Respond(c, apperr.New(apperr.ErrInvalidCredential, "Invalid credentials"))
			return
		}
		apperr.Respond(c, apperr.Internal("Login failed", err))
		return
	}

	if !CheckPassword(req.Password, user.PasswordHash) {
		apperr.Respond(c, apperr.New(apperr.ErrInvalidCredential, "Invalid credentials"))
		return
	}

	token, err := h.tokens.Generate(user)
	if err != nil {
		apperr.Respond(c, apperr.Internal("Failed to generate token", err))
		return
	}

	actor := audit.Actor{
		UserID:         user.ID,
		Name:           user.Name,
		OrganizationID: user.OrganizationID,
		IPAddress:      c.ClientIP(),
	}
	err = audit.Within(c, h.db, actor, func(tx *gorm.DB) (audit.Event, error) {
		return audit.Event{
			Action:     audit.ActionLogin,
			EntityType: audit.EntityUser,
			EntityID:   user.ID,
			Details:    map[string]any{"email": user.Email},
		}, nil
	})
	if err != nil {
		apperr.Respond(c, apperr.Wrap(err, "Login failed"))
		return
	}

	c.JSON(http.StatusOK, AuthResponse{
		Token: token,
		User:  userToResponse(user),
	})
}

// Me returns the current authenticated user
// @Summary Get current user
// @Description Get the authenticated user's profile
// @Tags auth
// @Produce json
// @Success 200 {object} UserResponse
// @Failure 401 {object} map[string]string "Authentication required"
// @Security BearerAuth
// @Router /auth/me [get]
func (h *Handler) Me(c *gin.Context) {
	identity, ok := MustIdentity(c)
	if !ok {
		return
	}

	var user models.User
	if err := h.db.Preload("Organization").
		Where("id = ? AND organization_id = ?", identity.ID, identity.OrganizationID).
		First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			apperr.Respond(c, apperr.NotFound("User"))
			return
		}
		apperr.Respond(c, apperr.Internal("Failed to get user", err))
		return
	}

	c.JSON(http.StatusOK, userToResponse(user))
}

// Logout records the logout; the token itself is discarded client-side
// @Summary Logout
// @Description Logout the current user (client-side token invalidation)
// @Tags auth
// @Produce json
// @Success 200 {object} map[string]string "Logged out successfully"
// @Security BearerAuth
// @Router /auth/logout [post]
func (h *Handler) Logout(c *gin.Context) {
	identity, ok := MustIdentity(c)
	if !ok {
		return
	}

	err := audit.Within(c, h.db, Actor(c, identity), func(tx *gorm.DB) (audit.Event, error) {
		return audit.Event{
			Action:     audit.ActionLogout,
			EntityType: audit.EntityUser,
			EntityID:   identity.ID,
		}, nil
	})
	if err != nil {
		apperr.Respond(c, apperr.Wrap(err, "Logout failed"))
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Logged out successfully"})
}

// RegisterRoutes registers auth routes on the given router group
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	login := []gin.HandlerFunc{}
	if h.limiter != nil {
		login = append(login, h.limiter.Middleware())
	}
	rg.POST("/login", append(login, h.Login)...)
	rg.POST("/logout", Authenticate(h.tokens), h.Logout)
	rg.GET("/me", Authenticate(h.tokens), h.Me)
}
