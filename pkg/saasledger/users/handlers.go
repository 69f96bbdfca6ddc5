package users

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

// Handler handles user management requests
type Handler struct {
	db *gorm.DB
}

// NewHandler creates a new users handler
func NewHandler(db *gorm.DB) *Handler {
	return &Handler{db: db}
}

// UserResponse represents user data in user management responses
type UserResponse struct {
	ID            uint      `json:"id"`
	Email         string    `json:"email"`
	Name          string    `json:"name"`
	Role          string    `json:"role"`
	Avatar        string    `json:"avatar,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
	LicenseCount  int64     `json:"licenseCount"`
	OwnedAppCount int64     `json:"ownedAppCount"`
}

// CreateUserRequest represents the request to create a user
type CreateUserRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=8"`
	Name     string `json:"name" binding:"required,max=200"`
	Role     string `json:"role" binding:"omitempty,oneof=admin finance app_owner"`
}

// UpdateUserRequest represents the request to update a user. Role is only
// ever changed here, by an admin.
type UpdateUserRequest struct {
	Name *string `json:"name" binding:"omitempty,min=1,max=200"`
	Role *string `json:"role" binding:"omitempty,oneof=admin finance app_owner"`
}

func (h *Handler) toResponse(db *gorm.DB, user models.User) UserResponse {
	var licenseCount, appCount int64
	db.Model(&models.License{}).Where("user_id = ?", user.ID).Count(&licenseCount)
	db.Model(&models.SaaSApplication{}).Where("owner_user_id = ?", user.ID).Count(&appCount)

	return UserResponse{
		ID:            user.ID,
		Email:         user.Email,
		Name:          user.Name,
		Role:          string(user.Role),
		Avatar:        user.Avatar,
		CreatedAt:     user.CreatedAt,
		LicenseCount:  licenseCount,
		OwnedAppCount: appCount,
	}
}

func findUser(db *gorm.DB, orgID, id uint) (*models.User, error) {
	var user models.User
	if err := db.Where("id = ? AND organization_id = ?", id, orgID).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("User")
		}
		return nil, apperr.Internal("Failed to fetch user", err)
	}
	return &user, nil
}

// List returns the users of the caller's organization
// @Summary List users
// @Tags users
// @Produce json
// @Param q query string false "Search by email or name"
// @Param role query string false "Filter by role"
// @Success 200 {array} UserResponse
// @Security BearerAuth
// @Router /users [get]
func (h *Handler) List(c *gin.Context) {
	identity, ok := auth.MustIdentity(c)
	if !ok {
		return
	}

	query := h.db.Where("organization_id = ?", identity.OrganizationID).Order("name ASC")

	// Optional search by email or name
	if search := strings.TrimSpace(c.Query("q")); search != "" {
		pattern := "%" + strings.ToLower(search) + "%"
		query = query.Where("LOWER(email) LIKE ? OR LOWER(name) LIKE ?", pattern, pattern)
	}

	// Optional filter by role
	if role := c.Query("role"); role != "" {
		query = query.Where("role = ?", role)
	}

	var users []models.User
	if err := query.Find(&users).Error; err != nil {
		apperr.Respond(c, apperr.Internal("Failed to fetch users", err))
		return
	}

	responses := make([]UserResponse, len(users))
	for i, user := range users {
		responses[i] = h.toResponse(h.db, user)
	}

	c.JSON(http.StatusOK, responses)
}

// Get returns a single user of the caller's organization
// @Summary Get user
// @Tags users
// @Produce json
// @Param id path int true "User ID"
// @Success 200 {object} UserResponse
// @Failure 404 {object} map[string]string "User not found"
// @Security BearerAuth
// @Router /users/{id} [get]
func (h *Handler) Get(c *gin.Context) {
	identity, ok := auth.MustIdentity(c)
	if !ok {
		return
	}
	id, err := apperr.ParseID(c.Param("id"), "user")
	if err != nil {
		apperr.Respond(c, err)
		return
	}

	user, err := findUser(h.db, identity.OrganizationID, id)
	if err != nil {
		apperr.Respond(c, err)
		return
	}

	c.JSON(http.StatusOK, h.toResponse(h.db, *user))
}

// Create adds a user to the caller's organization (admin only)
// @Summary Create user
// @Tags users
// @Accept json
// @Produce json
// @Param request body CreateUserRequest true "User details"
// @Success 201 {object} UserResponse
// @Failure 400 {object} map[string]string "Validation error"
// @Failure 409 {object} map[string]string "Email already registered"
// @Security BearerAuth
// @Router /users [post]
func (h *Handler) Create(c *gin.Context) {
	identity, ok := auth.MustIdentity(c)
	if !ok {
		return
	}

	var req CreateUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apperr.Respond(c, apperr.FromBinding(err))
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		apperr.Respond(c, apperr.Internal("Failed to create user", err))
		return
	}

	user := models.User{
		OrganizationID: identity.OrganizationID,
		Email:          strings.ToLower(req.Email),
		PasswordHash:   hash,
		Name:           req.Name,
		Role:           models.RoleAppOwner,
	}
	if req.Role != "" {
		user.Role = models.Role(req.Role)
	}

	err = audit.Within(c, h.db, auth.Actor(c, identity), func(tx *gorm.DB) (audit.Event, error) {
		var existing int64
		if err := tx.Model(&models.User{}).Where("email = ?", user.Email).Count(&existing).Error; err != nil {
			return audit.Event{}, err
		}
		if existing > 0 {
			return audit.Event{}, apperr.New(apperr.ErrConflict, "Email already registered")
		}
		if err := tx.Create(&user).Error; err != nil {
			return audit.Event{}, err
		}
		return audit.Event{
			Action:     audit.ActionCreateUser,
			EntityType: audit.EntityUser,
			EntityID:   user.ID,
			Details:    map[string]any{"email": user.Email, "name": user.Name, "role": string(user.Role)},
		}, nil
	})
	if err != nil {
		apperr.Respond(c, apperr.Wrap(err, "Failed to create user"))
		return
	}

	c.JSON(http.StatusCreated, h.toResponse(h.db, user))
}

// Update changes a user's name or role (admin only)
// @Summary Update user
// @Tags users
// @Accept json
// @Produce json
// @Param id path int true "User ID"
// @Param request body UpdateUserRequest true "Fields to change"
// @Success 200 {object} UserResponse
// @Failure 400 {object} map[string]string "Validation error"
// @Failure 404 {object} map[string]string "User not found"
// @Security BearerAuth
// @Router /users/{id} [patch]
func (h *Handler) Update(c *gin.Context) {
	identity, ok := auth.MustIdentity(c)
	if !ok {
		return
	}
	id, err := apperr.ParseID(c.Param("id"), "user")
	if err != nil {
		apperr.Respond(c, err)
		return
	}

	var req UpdateUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apperr.Respond(c, apperr.FromBinding(err))
		return
	}

	// Prevent admin from demoting themselves
	if id == identity.ID && req.Role != nil && models.Role(*req.Role) != models.RoleAdmin {
		apperr.Respond(c, apperr.Validation("Cannot demote yourself"))
		return
	}

	updates := make(map[string]interface{})
	details := map[string]any{}
	if req.Name != nil {
		updates["name"] = *req.Name
		details["name"] = *req.Name
	}
	if req.Role != nil {
		updates["role"] = *req.Role
		details["role"] = *req.Role
	}

	var user *models.User
	err = audit.Within(c, h.db, auth.Actor(c, identity), func(tx *gorm.DB) (audit.Event, error) {
		var err error
		user, err = findUser(tx, identity.OrganizationID, id)
		if err != nil {
			return audit.Event{}, err
		}
		if req.Role != nil && user.Role != models.Role(*req.Role) {
			details["previousRole"] = string(user.Role)
		}
		if len(updates) > 0 {
			if err := tx.Model(user).Updates(updates).Error; err != nil {
				return audit.Event{}, err
			}
		}
		return audit.Event{
			Action:     audit.ActionUpdateUser,
			EntityType: audit.EntityUser,
			EntityID:   user.ID,
			Details:    details,
		}, nil
	})
	if err != nil {
		apperr.Respond(c, apperr.Wrap(err, "Failed to update user"))
		return
	}

	c.JSON(http.StatusOK, h.toResponse(h.db, *user))
}

// Delete removes a user (admin only). Seats and app ownership pointing at
// the user are detached; licenses keep the denormalized email and name.
// @Summary Delete user
// @Tags users
// @Produce json
// @Param id path int true "User ID"
// @Success 200 {object} map[string]string "User deleted"
// @Failure 400 {object} map[string]string "Cannot delete yourself"
// @Failure 404 {object} map[string]string "User not found"
// @Security BearerAuth
// @Router /users/{id} [delete]
func (h *Handler) Delete(c *gin.Context) {
	identity, ok := auth.MustIdentity(c)
	if !ok {
		return
	}
	id, err := apperr.ParseID(c.Param("id"), "user")
	if err != nil {
		apperr.Respond(c, err)
		return
	}

	// Prevent admin from deleting themselves
	if id == identity.ID {
		apperr.Respond(c, apperr.Validation("Cannot delete yourself"))
		return
	}

	err = audit.Within(c, h.db, auth.Actor(c, identity), func(tx *gorm.DB) (audit.Event, error) {
		user, err := findUser(tx, identity.OrganizationID, id)
		if err != nil {
			return audit.Event{}, err
		}

		if err := tx.Model(&models.License{}).Where("user_id = ?", user.ID).
			Update("user_id", nil).Error; err != nil {
			return audit.Event{}, err
		}
		if err := tx.Model(&models.SaaSApplication{}).Where("owner_user_id = ?", user.ID).
			Update("owner_user_id", nil).Error; err != nil {
			return audit.Event{}, err
		}
		if err := tx.Delete(user).Error; err != nil {
			return audit.Event{}, err
		}

		return audit.Event{
			Action:     audit.ActionDeleteUser,
			EntityType: audit.EntityUser,
			EntityID:   user.ID,
			Details:    map[string]any{"email": user.Email, "name": user.Name},
		}, nil
	})
	if err != nil {
		apperr.Respond(c, apperr.Wrap(err, "Failed to delete user"))
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "User deleted"})
}

// RegisterRoutes registers user routes on a group already behind
// auth.Authenticate
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("", h.List)
	rg.GET("/:id", h.Get)
	rg.POST("", auth.Authorize(models.RoleAdmin), h.Create)
	rg.PATCH("/:id", auth.Authorize(models.RoleAdmin), h.Update)
	rg.DELETE("/:id", auth.Authorize(models.RoleAdmin), h.Delete)
}
