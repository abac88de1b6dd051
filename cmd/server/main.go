package main

import (
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"olive-backend/internal/audit"
	"olive-backend/internal/auth"
	"olive-backend/internal/boxes"
	"olive-backend/internal/config"
	"olive-backend/internal/dashboard"
	"olive-backend/internal/database"
	"olive-backend/internal/farmers"
	"olive-backend/internal/jobs"
	"olive-backend/internal/ledger"
	"olive-backend/internal/logging"
	"olive-backend/internal/metrics"
	"olive-backend/internal/models"
	"olive-backend/internal/notify"
	"olive-backend/internal/safes"
	"olive-backend/internal/sessions"
	"olive-backend/internal/txn"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

func main() {
	cfg := config.Load()
	logging.Setup(cfg.LogLevel, cfg.IsProduction())
	database.Init(cfg)

	var (
		sink  notify.Sink = notify.Nop{}
		cache dashboard.Cache
	)
	if client := notify.ConnectRedis(cfg.RedisAddr, cfg.RedisPassword); client != nil {
		defer client.Close()
		sink = notify.Async(notify.NewRedisSink(client, cfg.DashboardCachePrefix), 5*time.Second)
		cache = dashboard.NewRedisCache(client)
	}

	run := txn.NewRunner(database.DB, sink)
	boxSvc := boxes.NewService(run, cfg.BoxPoolSize)
	sessionSvc := sessions.NewService(run)
	ledgerSvc := ledger.NewService(run)
	farmerSvc := farmers.NewService(run, boxSvc)
	safeSvc := safes.NewService(run)
	dashboardSvc := dashboard.NewService(run, cache, cfg.DashboardCachePrefix)

	app := fiber.New(fiber.Config{
		BodyLimit: 10 * 1024 * 1024, // xlsx intake sheets
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			if e, ok := err.(*fiber.Error); ok {
				return c.Status(e.Code).JSON(fiber.Map{
					"error": e.Message,
				})
			}
			logrus.WithError(err).Error("unexpected error")
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "internal server error",
			})
		},
	})

	app.Use(recover.New())
	app.Use(func(c *fiber.Ctx) error {
		id := c.Get(fiber.HeaderXRequestID)
		if id == "" {
			id = uuid.NewString()
		}
		c.Locals("request_id", id)
		c.Set(fiber.HeaderXRequestID, id)
		return c.Next()
	})
	app.Use(logging.RequestLogger())
	app.Use(metrics.Middleware())

	corsOrigins := strings.Split(cfg.CORSOrigins, ",")
	for i := range corsOrigins {
		corsOrigins[i] = strings.TrimSpace(corsOrigins[i])
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins: strings.Join(corsOrigins, ","),
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-Request-ID",
		AllowMethods: "GET,POST,PUT,DELETE,OPTIONS",
	}))

	app.Get("/health", func(c *fiber.Ctx) error {
		if err := database.Ping(c.UserContext(), database.DB); err != nil {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"status": "down", "error": err.Error()})
		}
		return c.JSON(fiber.Map{"status": "ok"})
	})
	app.Get("/metrics", metrics.Handler())

	api := app.Group("/api")

	// Public auth
	api.Post("/auth/register", auth.RegisterAdminHandler(database.DB))
	api.Post("/auth/login", auth.LoginHandler(database.DB, cfg.JWTSecret))

	// Protected
	protected := api.Group("")
	protected.Use(auth.JWTMiddleware(cfg.JWTSecret))

	protected.Get("/auth/me", auth.MeHandler(database.DB))

	boxes.Register(protected.Group("/boxes"), boxSvc)
	sessions.Register(protected.Group("/sessions"), sessionSvc)
	farmers.Register(protected.Group("/farmers"), farmerSvc)
	ledger.Register(protected, ledgerSvc)
	safes.Register(protected, safeSvc)
	dashboard.Register(protected.Group("/dashboard"), dashboardSvc)

	// Admin routes
	adminRoutes := protected.Group("/admin")
	adminRoutes.Use(auth.RequireRole(models.RoleAdmin))

	adminRoutes.Post("/users", auth.CreateUserHandler(database.DB))
	boxes.RegisterAdmin(adminRoutes, boxSvc)
	adminRoutes.Post("/sessions/:id/reset", sessions.ResetHandler(sessionSvc))
	adminRoutes.Post("/ledger/reconcile", ledger.ReconcileHandler(ledgerSvc))
	adminRoutes.Get("/audit-logs", audit.ListAuditLogsHandler(database.DB))
	protected.Delete("/transactions/:id", auth.RequireRole(models.RoleAdmin), ledger.DeleteEntryHandler(ledgerSvc))

	scheduler, err := jobs.StartLedgerReconciler(cfg.LedgerReconcileCron, ledgerSvc)
	if err != nil {
		logrus.Fatalf("invalid LEDGER_RECONCILE_CRON %q: %v", cfg.LedgerReconcileCron, err)
	}

	go func() {
		logrus.WithField("port", cfg.HTTPPort).Info("server listening")
		if err := app.Listen(":" + cfg.HTTPPort); err != nil {
			logrus.Fatal(err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	logrus.Info("shutting down")
	if scheduler != nil {
		ctx := scheduler.Stop()
		select {
		case <-ctx.Done():
		case <-time.After(30 * time.Second):
			logrus.Warn("ledger reconciliation still running at shutdown")
		}
	}
	if err := app.Shutdown(); err != nil {
		logrus.WithError(err).Error("server shutdown failed")
	}
	if sqlDB, err := database.DB.DB(); err == nil {
		_ = sqlDB.Close()
	}
}
