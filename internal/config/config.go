package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"
)

type Config struct {
	Port         string   `mapstructure:"PORT"`
	Env          string   `mapstructure:"ENV"`
	DatabaseURL  string   `mapstructure:"DATABASE_URL"`
	DBMaxConns   int32    `mapstructure:"DB_MAX_CONNS"`
	DBMinConns   int32    `mapstructure:"DB_MIN_CONNS"`
	AuthIssuer   string   `mapstructure:"AUTH_ISSUER"`
	AuthJWKSURL  string   `mapstructure:"AUTH_JWKS_URL"`
	AuthAudience string   `mapstructure:"AUTH_AUDIENCE"`
	CORSOrigins  []string `mapstructure:"CORS_ORIGINS"`

	MigrationsDir string `mapstructure:"MIGRATIONS_DIR"`
	CatalogFile   string `mapstructure:"CATALOG_FILE"`

	// Background reconciliation.
	ReconcileWorkers       int           `mapstructure:"RECONCILE_WORKERS"`
	ReconcileQueueSize     int           `mapstructure:"RECONCILE_QUEUE_SIZE"`
	ReconcileTimeout       time.Duration `mapstructure:"RECONCILE_TIMEOUT"`
	ReconcileSweepSchedule string        `mapstructure:"RECONCILE_SWEEP_SCHEDULE"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("MIGRATIONS_DIR", "./migrations")
	v.SetDefault("RECONCILE_WORKERS", 4)
	v.SetDefault("RECONCILE_QUEUE_SIZE", 256)
	v.SetDefault("RECONCILE_TIMEOUT", "30s")
	v.SetDefault("RECONCILE_SWEEP_SCHEDULE", "@every 6h")

	// Bind env vars explicitly so Unmarshal picks them up
	for _, key := range []string{
		"PORT", "ENV", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS",
		"AUTH_ISSUER", "AUTH_JWKS_URL", "AUTH_AUDIENCE", "CORS_ORIGINS",
		"MIGRATIONS_DIR", "CATALOG_FILE",
		"RECONCILE_WORKERS", "RECONCILE_QUEUE_SIZE", "RECONCILE_TIMEOUT", "RECONCILE_SWEEP_SCHEDULE",
	} {
		v.BindEnv(key)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.CORSOrigins == nil {
		origins := v.GetString("CORS_ORIGINS")
		if origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.IsDev() {
		log.Println("WARNING: running in DEVELOPMENT mode; requests are authenticated from the X-Doctor-ID header")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// Validate checks that the configuration is safe to run. Outside development
// a token issuer and key source must be configured.
func (c *Config) Validate() error {
	if !c.IsDev() {
		if c.AuthIssuer == "" {
			return fmt.Errorf("AUTH_ISSUER is required when ENV=%q", c.Env)
		}
		if c.AuthJWKSURL == "" {
			return fmt.Errorf("AUTH_JWKS_URL is required when ENV=%q", c.Env)
		}
	}
	if c.ReconcileWorkers <= 0 {
		return fmt.Errorf("RECONCILE_WORKERS must be positive, got %d", c.ReconcileWorkers)
	}
	if c.ReconcileQueueSize <= 0 {
		return fmt.Errorf("RECONCILE_QUEUE_SIZE must be positive, got %d", c.ReconcileQueueSize)
	}
	if c.ReconcileTimeout <= 0 {
		return fmt.Errorf("RECONCILE_TIMEOUT must be positive, got %s", c.ReconcileTimeout)
	}
	if c.ReconcileSweepSchedule != "" {
		if _, err := cron.ParseStandard(c.ReconcileSweepSchedule); err != nil {
			return fmt.Errorf("RECONCILE_SWEEP_SCHEDULE: %w", err)
		}
	}
	return nil
}
