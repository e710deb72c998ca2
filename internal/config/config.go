package config

import (
	"log"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
)

const defaultDSN = "host=localhost user=postgres password=postgres dbname=kasa port=5432 sslmode=disable"

type Config struct {
	HTTPPort       string
	AppEnv         string
	DatabaseDriver string // "postgres" | "sqlite"
	DatabaseDSN    string
	JWTSecret      string
	CORSOrigins    string

	// Boşsa değişiklik akışı sadece bu process içinde kalır
	RedisURL     string
	RedisChannel string

	TimeZone          string
	AutoCloseInterval time.Duration
	SettingsFile      string // business hours + capacity seed (YAML)
	InstanceID        string
}

// Load reads the server configuration. Missing or weak secrets are fatal.
func Load() *Config {
	cfg := load()

	if cfg.JWTSecret == "" {
		log.Fatal("[FATAL] JWT_SECRET is not set")
	}
	if len(cfg.JWTSecret) < 32 {
		log.Fatal("[FATAL] JWT_SECRET must be at least 32 characters")
	}
	if cfg.DatabaseDriver == "postgres" && cfg.DatabaseDSN == defaultDSN {
		log.Println("[WARN] DATABASE_DSN uses the default value, set your own Postgres connection for production.")
	}
	if cfg.CORSOrigins == "http://localhost:5173" {
		log.Println("[WARN] CORS_ALLOWED_ORIGINS uses the default value, set your own domain for production.")
	}

	return cfg
}

// LoadCLI reads the configuration for command line tools, which never issue tokens.
func LoadCLI() *Config {
	return load()
}

func load() *Config {
	// .env yoksa sorun değil
	_ = godotenv.Load()

	cfg := &Config{
		HTTPPort:          getEnv("HTTP_PORT", "8080"),
		AppEnv:            getEnv("APP_ENV", "development"),
		DatabaseDriver:    getEnv("DATABASE_DRIVER", "postgres"),
		DatabaseDSN:       getEnv("DATABASE_DSN", defaultDSN),
		JWTSecret:         getEnv("JWT_SECRET", ""),
		CORSOrigins:       getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:5173"),
		RedisURL:          getEnv("REDIS_URL", ""),
		RedisChannel:      getEnv("REDIS_CHANNEL", "kasa:changes"),
		TimeZone:          getEnv("TZ_NAME", "UTC"),
		AutoCloseInterval: getDuration("AUTOCLOSE_INTERVAL", time.Minute),
		SettingsFile:      getEnv("SETTINGS_FILE", ""),
		InstanceID:        getEnv("INSTANCE_ID", ""),
	}

	if cfg.InstanceID == "" {
		host, _ := os.Hostname()
		cfg.InstanceID = host + "-" + uuid.NewString()[:8]
	}
	if cfg.DatabaseDriver != "postgres" && cfg.DatabaseDriver != "sqlite" {
		log.Printf("[WARN] unknown DATABASE_DRIVER %q, falling back to postgres", cfg.DatabaseDriver)
		cfg.DatabaseDriver = "postgres"
	}

	return cfg
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		log.Printf("[WARN] %s=%q is not a valid duration, using %s", key, v, def)
		return def
	}
	return d
}
