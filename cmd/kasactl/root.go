package main

import (
	"fmt"
	"time"

	"kasa-backend/internal/cashsession"
	"kasa-backend/internal/config"
	"kasa-backend/internal/database"
	"kasa-backend/internal/feed"
	"kasa-backend/internal/logger"
	"kasa-backend/internal/settings"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// env is what every subcommand needs; it is built once per invocation.
type env struct {
	cfg      *config.Config
	log      *zap.Logger
	db       *gorm.DB
	loc      *time.Location
	hub      *feed.Hub
	redis    *redis.Client
	settings *settings.Store
	sessions *cashsession.Coordinator
}

func (r *env) close() {
	if r.hub != nil {
		r.hub.Close()
	}
	if r.redis != nil {
		r.redis.Close()
	}
	if r.db != nil {
		if sqlDB, err := r.db.DB(); err == nil {
			sqlDB.Close()
		}
	}
	if r.log != nil {
		_ = r.log.Sync()
	}
}

func newRootCommand() *cobra.Command {
	rt := &env{}

	cmd := &cobra.Command{
		Use:           "kasactl",
		Short:         "Kasa oturumları için bakım komutları",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return rt.init()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			rt.close()
		},
	}

	cmd.AddCommand(newSweepCommand(rt))
	cmd.AddCommand(newExportCommand(rt))
	cmd.AddCommand(newSeedSettingsCommand(rt))
	return cmd
}

func (r *env) init() error {
	r.cfg = config.LoadCLI()
	r.log = logger.New(r.cfg.AppEnv)

	loc, err := time.LoadLocation(r.cfg.TimeZone)
	if err != nil {
		return fmt.Errorf("invalid TZ_NAME %q: %w", r.cfg.TimeZone, err)
	}
	r.loc = loc

	db, err := database.Open(r.cfg.DatabaseDriver, r.cfg.DatabaseDSN)
	if err != nil {
		return err
	}
	if err := database.Migrate(db); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	r.db = db

	// Komuttan yapılan kapanışlar da açık ekranlara ulaşsın
	r.hub = feed.NewHub(r.cfg.InstanceID)
	if r.cfg.RedisURL != "" {
		client, err := feed.NewRedisClient(r.cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		r.redis = client
		feed.NewRedisRelay(client, r.hub, r.cfg.RedisChannel, r.log)
	}

	r.settings = settings.NewStore(db, r.cfg.TimeZone)
	r.sessions = cashsession.NewCoordinator(db, r.settings, r.hub, r.log)
	return nil
}
