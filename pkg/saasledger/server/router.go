// Package server assembles the HTTP router.
package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mikepea/saasledger/pkg/saasledger/apps"
	"github.com/mikepea/saasledger/pkg/saasledger/auditlog"
	"github.com/mikepea/saasledger/pkg/saasledger/auth"
	"github.com/mikepea/saasledger/pkg/saasledger/config"
	"github.com/mikepea/saasledger/pkg/saasledger/dashboard"
	"github.com/mikepea/saasledger/pkg/saasledger/licenses"
	"github.com/mikepea/saasledger/pkg/saasledger/logging"
	"github.com/mikepea/saasledger/pkg/saasledger/metrics"
	"github.com/mikepea/saasledger/pkg/saasledger/organizations"
	"github.com/mikepea/saasledger/pkg/saasledger/recommendations"
	"github.com/mikepea/saasledger/pkg/saasledger/users"
	"gorm.io/gorm"
)

// NewRouter wires every handler onto a gin engine
func NewRouter(db *gorm.DB, cfg *config.Config) *gin.Engine {
	if cfg.Server.Mode != "" {
		gin.SetMode(cfg.Server.Mode)
	}

	r := gin.New()
	r.Use(logging.RequestID(), logging.AccessLog(), metrics.Instrument(), gin.Recovery())

	// Health check endpoint
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	tokens := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL, cfg.Auth.Issuer)
	var limiter *auth.LoginLimiter
	if cfg.Auth.LoginRate > 0 {
		limiter = auth.NewLoginLimiter(cfg.Auth.LoginRate, cfg.Auth.LoginBurst)
	}
	authenticated := auth.Authenticate(tokens)

	api := r.Group("/api")
	{
		api.GET("/health", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{
				"status":  "ok",
				"service": "saasledger",
			})
		})

		// Auth routes (login is public)
		auth.NewHandler(db, tokens, limiter).RegisterRoutes(api.Group("/auth"))

		// Everything else requires a bearer token
		apps.NewHandler(db).RegisterRoutes(api.Group("/apps", authenticated))
		licenses.NewHandler(db).RegisterRoutes(api.Group("/licenses", authenticated))
		recommendations.NewHandler(db).RegisterRoutes(api.Group("/recommendations", authenticated))
		dashboard.NewHandler(db).RegisterRoutes(api.Group("/dashboard", authenticated))
		users.NewHandler(db).RegisterRoutes(api.Group("/users", authenticated))
		organizations.NewHandler(db).RegisterRoutes(api.Group("/organization", authenticated))
		auditlog.NewHandler(db).RegisterRoutes(api.Group("/audit", authenticated))
	}

	return r
}
