package database

import (
	"fmt"
	"log"

	"kasa-backend/internal/config"
	"kasa-backend/internal/models"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Init opens the configured database and migrates it. Any failure is fatal.
func Init(cfg *config.Config) *gorm.DB {
	db, err := Open(cfg.DatabaseDriver, cfg.DatabaseDSN)
	if err != nil {
		log.Fatalf("Could not connect to database: %v", err)
	}
	if err := Migrate(db); err != nil {
		log.Fatalf("AutoMigrate failed: %v", err)
	}
	log.Println("Database connected, migrations complete.")
	return db
}

// Open connects to postgres or sqlite. SQLite is limited to a single
// connection so writers queue instead of failing with SQLITE_BUSY.
func Open(driver, dsn string) (*gorm.DB, error) {
	gcfg := &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormlogger.Warn),
		TranslateError: true,
	}

	switch driver {
	case "sqlite":
		db, err := gorm.Open(sqlite.Open(dsn), gcfg)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		sqlDB.SetMaxOpenConns(1)
		sqlDB.SetMaxIdleConns(1)

		pragmas := []string{
			"PRAGMA journal_mode = WAL",
			"PRAGMA synchronous = NORMAL",
			"PRAGMA busy_timeout = 5000",
			"PRAGMA foreign_keys = ON",
		}
		for _, p := range pragmas {
			if err := db.Exec(p).Error; err != nil {
				return nil, fmt.Errorf("apply %q: %w", p, err)
			}
		}
		return db, nil

	case "postgres":
		db, err := gorm.Open(postgres.Open(dsn), gcfg)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		return db, nil

	default:
		return nil, fmt.Errorf("unknown database driver %q", driver)
	}
}

func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.Branch{},
		&models.User{},
		&models.Settings{},
		&models.CashSession{},
		&models.SessionLock{},
		&models.Sale{},
		&models.Payment{},
		&models.AuditLog{},
	)
}
