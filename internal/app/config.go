package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
)

// Store drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Config holds the complete application configuration, loadable from
// environment variables (COUPON_ prefix), flags, or YAML config files.
type Config struct {
	Addr         string `default:"0.0.0.0:8080" usage:"API server listen address"`
	APIKeyPepper string `usage:"HMAC pepper for API key hashing (COUPON_API_KEY_PEPPER)" flag:"api-key-pepper"`
	Database     DatabaseConfig
	Issuance     IssuanceConfig
	Lifecycle    LifecycleConfig
	Kafka        KafkaConfig
	RateLimit    RateLimitConfig
	Graceful     GracefulConfig
}

// DatabaseConfig selects and locates the coupon store.
type DatabaseConfig struct {
	Driver string `default:"postgres" usage:"Store driver: postgres or sqlite"`
	URL    string `usage:"PostgreSQL connection URL (COUPON_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	Path   string `default:"coupons.db" usage:"SQLite database file" flag:"sqlite-path"`
}

// IssuanceConfig tunes coupon issuance.
type IssuanceConfig struct {
	Window        time.Duration `default:"168h" usage:"Minimum time between two coupons of one owner"`
	MaxAttempts   int           `default:"5" usage:"Code generation attempts before giving up" flag:"max-attempts"`
	BloomCapacity uint          `default:"1000000" usage:"Expected number of issued codes" flag:"bloom-capacity"`
	BloomFPR      float64       `default:"0.001" usage:"Code index false positive rate" flag:"bloom-fpr"`
}

// LifecycleConfig controls status transition rules.
type LifecycleConfig struct {
	Legacy bool `default:"false" usage:"Allow re-reviewing coupons and report used coupons as not active" flag:"legacy-transitions"`
}

// KafkaConfig enables lifecycle event publishing when Brokers is set.
type KafkaConfig struct {
	Brokers []string `usage:"Kafka bootstrap brokers"`
	Topic   string   `default:"coupon.events" usage:"Lifecycle event topic"`
}

// RateLimitConfig controls the per-client sliding window rate limiter.
type RateLimitConfig struct {
	Max    int           `default:"100" usage:"Max requests per window"`
	Window time.Duration `default:"1m"  usage:"Rate limit window duration"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// LoadConfig loads configuration from environment variables, YAML config files,
// and applies platform-specific defaults.
func LoadConfig() (*Config, error) {
	return loadConfig(aconfig.Config{
		EnvPrefix: "COUPON",
		Files:     []string{"config.yaml", "/etc/coupon/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
}

func loadConfig(ac aconfig.Config) (*Config, error) {
	var cfg Config
	loader := aconfig.LoaderFor(&cfg, ac)
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports configuration that cannot be served.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case DriverPostgres:
		if c.Database.URL == "" {
			return errors.New("database URL is required: set COUPON_DATABASE_URL or DATABASE_URL")
		}
	case DriverSQLite:
		if c.Database.Path == "" {
			return errors.New("sqlite path is required")
		}
	default:
		return errors.Errorf("unknown database driver %q", c.Database.Driver)
	}
	if c.Issuance.Window <= 0 {
		return errors.Errorf("issuance window must be positive, got %s", c.Issuance.Window)
	}
	if c.Issuance.BloomFPR <= 0 || c.Issuance.BloomFPR >= 1 {
		return errors.Errorf("bloom false positive rate %v out of (0, 1)", c.Issuance.BloomFPR)
	}
	if c.Issuance.BloomCapacity == 0 {
		return errors.New("bloom capacity must be positive")
	}
	if c.RateLimit.Max <= 0 {
		return errors.Errorf("rate limit max must be positive, got %d", c.RateLimit.Max)
	}
	if c.RateLimit.Window <= 0 {
		return errors.Errorf("rate limit window must be positive, got %s", c.RateLimit.Window)
	}
	return nil
}

// applyPlatformDefaults maps platform-provided environment variables (Railway,
// Render, etc.) that use standard names like DATABASE_URL and PORT to the
// application's COUPON_-prefixed configuration.
func (c *Config) applyPlatformDefaults() {
	if c.Database.URL == "" {
		if v := os.Getenv("DATABASE_URL"); v != "" {
			c.Database.URL = v
		}
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == "0.0.0.0:8080" {
		c.Addr = "0.0.0.0:" + port
	}
}
