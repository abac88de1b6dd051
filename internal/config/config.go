package config

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

type Config struct {
	HTTPPort    string
	DatabaseDSN string
	JWTSecret   string
	CORSOrigins string
	AppEnv      string // development / production
	LogLevel    string

	// Redis holds the dashboard cache; empty address disables invalidation.
	RedisAddr            string
	RedisPassword        string
	DashboardCachePrefix string

	LedgerReconcileCron string // empty disables the job
	BoxPoolSize         int    // factory pool ids are "1".."BoxPoolSize"
}

const defaultDSN = "host=localhost user=postgres password=postgres dbname=olive port=5432 sslmode=disable"

func Load() *Config {
	if err := godotenv.Load(); err != nil {
		logrus.Info(".env not found, using process environment")
	}

	cfg := &Config{
		HTTPPort:             getEnv("HTTP_PORT", "8080"),
		DatabaseDSN:          getEnv("DATABASE_DSN", defaultDSN),
		JWTSecret:            getEnv("JWT_SECRET", ""),
		CORSOrigins:          getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:5173"),
		AppEnv:               getEnv("APP_ENV", "development"),
		LogLevel:             getEnv("LOG_LEVEL", "info"),
		RedisAddr:            getEnv("REDIS_ADDR", ""),
		RedisPassword:        getEnv("REDIS_PASSWORD", ""),
		DashboardCachePrefix: getEnv("DASHBOARD_CACHE_PREFIX", "dashboard:"),
		LedgerReconcileCron:  getEnv("LEDGER_RECONCILE_CRON", "0 3 * * *"),
		BoxPoolSize:          getEnvInt("BOX_POOL_SIZE", 600),
	}

	// Production safety checks
	if cfg.JWTSecret == "" {
		logrus.Fatal("JWT_SECRET is not set")
	}
	if len(cfg.JWTSecret) < 32 {
		logrus.Fatal("JWT_SECRET must be at least 32 characters")
	}
	if cfg.DatabaseDSN == defaultDSN {
		logrus.Warn("DATABASE_DSN uses the default value, set your own Postgres connection for production")
	}
	if cfg.CORSOrigins == "http://localhost:5173" {
		logrus.Warn("CORS_ALLOWED_ORIGINS uses the default value, set your own domain for production")
	}
	if cfg.BoxPoolSize <= 0 {
		logrus.Fatalf("BOX_POOL_SIZE must be positive, got %d", cfg.BoxPoolSize)
	}

	return cfg
}

func (c *Config) IsProduction() bool {
	return c.AppEnv == "production"
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		logrus.Warnf("%s=%q is not an integer, using %d", key, v, def)
		return def
	}
	return n
}
