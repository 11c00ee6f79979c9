package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/venushealth/clinic/internal/config"
	"github.com/venushealth/clinic/internal/domain/appointment"
	"github.com/venushealth/clinic/internal/domain/billing"
	"github.com/venushealth/clinic/internal/domain/clinical"
	"github.com/venushealth/clinic/internal/domain/identity"
	"github.com/venushealth/clinic/internal/platform/audit"
	"github.com/venushealth/clinic/internal/platform/auth"
	"github.com/venushealth/clinic/internal/platform/blobstore"
	"github.com/venushealth/clinic/internal/platform/db"
	"github.com/venushealth/clinic/internal/platform/middleware"
	"github.com/venushealth/clinic/internal/platform/notification"
	"github.com/venushealth/clinic/internal/platform/otp"
	"github.com/venushealth/clinic/internal/platform/ws"
	"github.com/venushealth/clinic/pkg/pagination"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "clinic-server",
		Short: "Clinic management API server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(seedCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the clinic API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, int32(cfg.DBMaxConns))
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator := db.NewMigrator(pool, cfg.MigrationsDir)
			count, err := migrator.Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			fmt.Printf("Applied %d migration(s).\n", count)
			return nil
		},
	}
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, int32(cfg.DBMaxConns))
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator := db.NewMigrator(pool, cfg.MigrationsDir)
			statuses, err := migrator.Status(ctx)
			if err != nil {
				return fmt.Errorf("migration status: %w", err)
			}

			fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			for _, s := range statuses {
				status := "pending"
				appliedAt := ""
				if s.Applied {
					status = "applied"
					if s.AppliedAt != nil {
						appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
					}
				}
				fmt.Printf("%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
			}
			return nil
		},
	}
	cmd.AddCommand(statusCmd)

	return cmd
}

// seedCmd creates the superadmin account from configuration if it does not
// exist yet.
func seedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Create the superadmin account",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if cfg.SuperadminEmail == "" || cfg.SuperadminPassword == "" {
				return fmt.Errorf("CLINIC_SUPERADMIN_EMAIL and CLINIC_SUPERADMIN_PASSWORD must be set")
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, int32(cfg.DBMaxConns))
			if err != nil {
				return err
			}
			defer pool.Close()

			repo := identity.NewRepoPG(pool)
			if _, err := repo.GetByEmail(ctx, cfg.SuperadminEmail); err == nil {
				fmt.Println("Superadmin already exists.")
				return nil
			} else if !errors.Is(err, identity.ErrNotFound) {
				return err
			}

			user, err := identity.NewSuperadmin(cfg.SuperadminName, cfg.SuperadminEmail, cfg.SuperadminPassword)
			if err != nil {
				return err
			}
			if err := repo.Create(ctx, user); err != nil {
				return err
			}

			fmt.Printf("Superadmin %s created.\n", user.Email)
			return nil
		},
	}
}

func runServer() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if cfg.IsDev() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	if level, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		logger = logger.Level(level)
	}

	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, int32(cfg.DBMaxConns))
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	// Platform collaborators.
	trail := audit.NewTrail(audit.NewPGRecorder(pool), logger)
	txRunner := db.NewPoolTxRunner(pool)
	tokens := auth.NewTokenIssuer(cfg.JWTSecret, time.Duration(cfg.JWTExpiryHours)*time.Hour)

	var codes otp.Store
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("invalid redis url")
		}
		codes = otp.NewRedisStore(redis.NewClient(opts))
		logger.Info().Msg("one-time codes backed by redis")
	} else {
		codes = otp.NewMemoryStore()
		logger.Warn().Msg("no redis configured, one-time codes held in memory")
	}

	var sender notification.EmailSender
	if cfg.SMTPHost != "" {
		sender = notification.NewSMTPSender(notification.SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			From:     cfg.SMTPFrom,
		})
	} else {
		sender = &notification.MockEmailSender{}
		logger.Warn().Msg("no smtp configured, outgoing mail is discarded")
	}
	notifier := notification.NewNotifier(sender, notification.NewTemplateEngine())

	blobs, err := blobstore.NewFSStore(cfg.UploadDir)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open upload directory")
	}

	hub := ws.NewHub(logger)

	// Domain wiring.
	identityRepo := identity.NewRepoPG(pool)
	identitySvc := identity.NewService(identityRepo, codes, notifier, tokens, trail, logger)
	identityHandler := identity.NewHandler(identitySvc)

	billingRepo := billing.NewRepoPG(pool)
	billingSvc := billing.NewService(billingRepo, trail, logger)
	billingHandler := billing.NewHandler(billingSvc)

	appointmentRepo := appointment.NewRepoPG(pool)
	bridge := appointment.NewHistoryBridge(appointmentRepo)

	clinicalRepo := clinical.NewRepoPG(pool)
	clinicalSvc := clinical.NewService(clinicalRepo, blobs, bridge, bridge, billingSvc, trail, logger)
	clinicalHandler := clinical.NewHandler(clinicalSvc)

	appointmentSvc := appointment.NewService(appointmentRepo, billingSvc, clinicalSvc, txRunner, hub, trail, logger, cfg.DefaultConsultationFee)
	appointmentHandler := appointment.NewHandler(appointmentSvc)

	// HTTP server.
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOriginList(),
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
	}))
	e.Use(originMiddleware())

	e.GET("/health", db.HealthHandler(pool))

	public := e.Group("/api/v1")
	api := e.Group("/api/v1", auth.Middleware(tokens))

	identityHandler.RegisterRoutes(public, api)
	appointmentHandler.RegisterRoutes(api)
	billingHandler.RegisterRoutes(api)
	clinicalHandler.RegisterRoutes(api)
	ws.NewHandler(hub).RegisterRoutes(api)

	api.GET("/audit-log", auditLogHandler(audit.NewPGRecorder(pool)), auth.RequireRole(auth.RoleSuperadmin))

	// Serve with graceful shutdown.
	errCh := make(chan error, 1)
	go func() {
		addr := fmt.Sprintf(":%d", cfg.Port)
		logger.Info().Str("addr", addr).Msg("server listening")
		errCh <- e.Start(addr)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-quit:
		logger.Info().Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		if err := e.Shutdown(shutdownCtx); err != nil {
			return err
		}
	}
	return nil
}

// originMiddleware stores the caller's address in the request context for
// the audit trail.
func originMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := audit.WithOrigin(c.Request().Context(), c.RealIP())
			c.SetRequest(c.Request().WithContext(ctx))
			return next(c)
		}
	}
}

func auditLogHandler(rec audit.Recorder) echo.HandlerFunc {
	return func(c echo.Context) error {
		pg := pagination.FromContext(c)
		entries, total, err := rec.List(c.Request().Context(), pg.Limit, pg.Offset)
		if err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
		return c.JSON(http.StatusOK, pagination.NewResponse(entries, total, pg.Limit, pg.Offset))
	}
}
