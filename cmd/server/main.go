package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"kasa-backend/internal/admin"
	"kasa-backend/internal/audit"
	"kasa-backend/internal/auth"
	"kasa-backend/internal/autoclose"
	"kasa-backend/internal/cashflow"
	"kasa-backend/internal/cashsession"
	"kasa-backend/internal/config"
	"kasa-backend/internal/database"
	"kasa-backend/internal/feed"
	"kasa-backend/internal/ledger"
	"kasa-backend/internal/logger"
	"kasa-backend/internal/models"
	"kasa-backend/internal/notify"
	"kasa-backend/internal/payments"
	"kasa-backend/internal/realtime"
	"kasa-backend/internal/sales"
	"kasa-backend/internal/settings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg := config.Load()
	log := logger.New(cfg.AppEnv)
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db := database.Init(cfg)

	loc, err := time.LoadLocation(cfg.TimeZone)
	if err != nil {
		log.Fatal("invalid TZ_NAME", zap.String("tz", cfg.TimeZone), zap.Error(err))
	}

	settingsStore := settings.NewStore(db, cfg.TimeZone)
	if cfg.SettingsFile != "" {
		st, err := settingsStore.Seed(ctx, cfg.SettingsFile)
		if err != nil {
			log.Fatal("settings seed failed", zap.String("file", cfg.SettingsFile), zap.Error(err))
		}
		log.Info("settings seeded",
			zap.String("start", st.BusinessHours.StartTime),
			zap.String("end", st.BusinessHours.EndTime),
			zap.Int("max_open_sessions", st.MaxConcurrentOpenSessions))
	}

	// Değişiklik akışı: process içi hub, REDIS_URL varsa diğer instance'lara da iletilir
	hub := feed.NewHub(cfg.InstanceID)
	defer hub.Close()

	var relay *feed.RedisRelay
	if cfg.RedisURL != "" {
		client, err := feed.NewRedisClient(cfg.RedisURL)
		if err != nil {
			log.Fatal("redis connection failed", zap.Error(err))
		}
		defer client.Close()
		relay = feed.NewRedisRelay(client, hub, cfg.RedisChannel, log)
	}

	notifier := notify.Multi{notify.NewLog(log), notify.NewFeed(hub)}

	paymentLedger := payments.NewLedger(db)
	movements := ledger.New(db, hub, log, ledger.WithEffects(ledger.DefaultEffects(paymentLedger)))
	salesStore := sales.NewStore(db, hub)
	coordinator := cashsession.NewCoordinator(db, settingsStore, hub, log, cashsession.WithNotifier(notifier))

	scheduler := autoclose.New(coordinator, models.SystemActor(cfg.InstanceID), log,
		autoclose.WithSource(coordinator),
		autoclose.WithInterval(cfg.AutoCloseInterval))
	engine := realtime.NewEngine(hub, coordinator, salesStore, log, realtime.WithNotifier(notifier))

	app := fiber.New(fiber.Config{ErrorHandler: cashflow.ErrorHandler(log)})

	// CORS origins virgülle ayrılmış gelir
	corsOrigins := strings.Split(cfg.CORSOrigins, ",")
	for i := range corsOrigins {
		corsOrigins[i] = strings.TrimSpace(corsOrigins[i])
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins: strings.Join(corsOrigins, ","),
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, " + auth.DeviceHeader,
		AllowMethods: "GET,POST,PUT,DELETE,OPTIONS",
	}))
	app.Use(logger.RequestLogger(log))

	api := app.Group("/api")

	// Public auth
	api.Post("/auth/register-super-admin", auth.RegisterSuperAdminHandler(db))
	api.Post("/auth/login", auth.LoginHandler(cfg, db))

	// Protected
	protected := api.Group("")
	protected.Use(auth.JWTMiddleware(cfg))

	protected.Get("/auth/me", auth.MeHandler(db))
	protected.Post("/users",
		auth.RequireRole(models.RoleSuperAdmin, models.RoleBranchAdmin),
		auth.CreateUserHandler(db))

	// Super admin: şubeler ve kasa ayarları
	adminRoutes := protected.Group("/admin", auth.RequireRole(models.RoleSuperAdmin))
	admin.NewHandlers(db, settingsStore, log).Register(adminRoutes)

	// Kasa oturumları, hareketler, satışlar, canlı akış
	cashflow.NewHandlers(cashflow.Deps{
		Sessions:  coordinator,
		Ledger:    movements,
		Sales:     salesStore,
		Scheduler: scheduler,
		Engine:    engine,
		Hub:       hub,
		Log:       log,
		Location:  loc,
	}).Register(protected)

	// Audit logs
	protected.Get("/audit-logs",
		auth.RequireRole(models.RoleSuperAdmin, models.RoleBranchAdmin),
		audit.ListAuditLogsHandler(db))

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("server listening", zap.String("port", cfg.HTTPPort), zap.String("instance", cfg.InstanceID))
		return app.Listen(":" + cfg.HTTPPort)
	})
	g.Go(func() error {
		scheduler.Run(gctx)
		return nil
	})
	if relay != nil {
		g.Go(func() error {
			if err := relay.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		scheduler.Stop()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return app.ShutdownWithContext(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error("server stopped", zap.Error(err))
		os.Exit(1)
	}
	log.Info("server stopped")
}
