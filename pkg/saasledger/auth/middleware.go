package auth

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/mikepea/saasledger/pkg/saasledger/apperr"
	"github.com/mikepea/saasledger/pkg/saasledger/audit"
	"github.com/mikepea/saasledger/pkg/saasledger/models"
)

// ContextKeyIdentity is the key for the authenticated identity in gin context
const ContextKeyIdentity = "identity"

// Identity is the caller decoded from a valid bearer token
type Identity struct {
	ID             uint
	Email          string
	Name           string
	Role           models.Role
	OrganizationID uint
}

// HasRole reports whether the identity holds one of roles
func (i *Identity) HasRole(roles ...models.Role) bool {
	for _, r := range roles {
		if i.Role == r {
			return true
		}
	}
	return false
}

// Authenticate validates the bearer token and attaches the identity to the context
func Authenticate(tokens *TokenManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			apperr.Respond(c, apperr.New(apperr.ErrUnauthenticated, "Authorization header required"))
			return
		}

		// Expect "Bearer <token>"
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" || strings.TrimSpace(parts[1]) == "" {
			apperr.Respond(c, apperr.New(apperr.ErrUnauthenticated, "Invalid authorization header format"))
			return
		}

		claims, err := tokens.Validate(strings.TrimSpace(parts[1]))
		if err != nil {
			if err == ErrExpiredToken {
				apperr.Respond(c, apperr.New(apperr.ErrInvalidCredential, "Token has expired"))
			} else {
				apperr.Respond(c, apperr.New(apperr.ErrInvalidCredential, "Invalid token"))
			}
			return
		}

		c.Set(ContextKeyIdentity, &Identity{
			ID:             claims.UserID,
			Email:          claims.Email,
			Name:           claims.Name,
			Role:           models.Role(claims.Role),
			OrganizationID: claims.OrganizationID,
		})

		c.Next()
	}
}

// Authorize passes only identities holding one of the allowed roles.
// It must run after Authenticate.
func Authorize(allowed ...models.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		identity, ok := GetIdentity(c)
		if !ok {
			apperr.Respond(c, apperr.New(apperr.ErrUnauthenticated, "Authentication required"))
			return
		}

		if !identity.HasRole(allowed...) {
			apperr.Respond(c, apperr.New(apperr.ErrForbidden, "Insufficient permissions"))
			return
		}

		c.Next()
	}
}

// GetIdentity returns the authenticated identity from the gin context
func GetIdentity(c *gin.Context) (*Identity, bool) {
	v, exists := c.Get(ContextKeyIdentity)
	if !exists {
		return nil, false
	}
	identity, ok := v.(*Identity)
	return identity, ok
}

// MustIdentity returns the identity or responds 401. Handlers behind
// Authenticate use it to fail closed if the middleware was skipped.
func MustIdentity(c *gin.Context) (*Identity, bool) {
	identity, ok := GetIdentity(c)
	if !ok {
		apperr.Respond(c, apperr.New(apperr.ErrUnauthenticated, "Authentication required"))
		return nil, false
	}
	return identity, true
}

// Actor builds the audit actor for the identity making this request
func Actor(c *gin.Context, identity *Identity) audit.Actor {
	return audit.Actor{
		UserID:         identity.ID,
		Name:           identity.Name,
		OrganizationID: identity.OrganizationID,
		IPAddress:      c.ClientIP(),
	}
}
