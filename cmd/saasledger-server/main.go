package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mikepea/saasledger/pkg/saasledger/config"
	"github.com/mikepea/saasledger/pkg/saasledger/database"
	"github.com/mikepea/saasledger/pkg/saasledger/logging"
	"github.com/mikepea/saasledger/pkg/saasledger/models"
	"github.com/mikepea/saasledger/pkg/saasledger/seed"
	"github.com/mikepea/saasledger/pkg/saasledger/server"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"gorm.io/gorm"
)

// @title SaaS Ledger API
// @version 1.0
// @description Multi-tenant SaaS spend tracking with license management and savings approvals.

// @BasePath /api

// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
// @description JWT token. Format: "Bearer {token}"

const shutdownTimeout = 30 * time.Second

var configFile string

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Path to a YAML, JSON or TOML config file")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(seedCmd)
}

var rootCmd = &cobra.Command{
	Use:          "saasledger-server",
	Short:        "SaaS Ledger tracks software spend, licenses and savings",
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve()
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API (default)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve()
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the database schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		_, db, err := bootstrap()
		if err != nil {
			return err
		}
		logging.Logger.Info("Database migrations completed")
		return closeDB(db)
	},
}

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Create the Acme Corporation demo organization",
	RunE: func(cmd *cobra.Command, args []string) error {
		_, db, err := bootstrap()
		if err != nil {
			return err
		}
		defer closeDB(db)

		res, err := seed.Run(db, time.Now())
		if err != nil {
			return err
		}
		if !res.Skipped {
			for _, a := range seed.Accounts {
				logging.Logger.WithFields(logrus.Fields{
					"email": a.Email,
					"role":  a.Role,
				}).Infof("Demo login (password: %s)", seed.Password)
			}
		}
		return nil
	},
}

// bootstrap loads config, configures logging, connects and migrates
func bootstrap() (*config.Config, *gorm.DB, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, nil, err
	}

	logging.Init(logging.Options{Level: cfg.Logging.Level, Format: cfg.Logging.Format})

	if err := database.Connect(cfg.Database.Driver, cfg.Database.DSN); err != nil {
		return nil, nil, err
	}
	db := database.GetDB()

	if err := models.AutoMigrate(db); err != nil {
		return nil, nil, err
	}
	return cfg, db, nil
}

func closeDB(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func serve() error {
	cfg, db, err := bootstrap()
	if err != nil {
		return err
	}
	defer closeDB(db)

	if cfg.UsesDevSecret() {
		logging.Logger.Warn("Using the built-in development JWT secret; set SAASLEDGER_AUTH_JWT_SECRET in production")
	}

	srv := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      server.NewRouter(db, cfg),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logging.Logger.WithField("addr", srv.Addr).Info("Starting SaaS Ledger server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// Wait for shutdown signal
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logging.Logger.Info("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		logging.Logger.WithError(err).Error("Command failed")
		os.Exit(1)
	}
}
