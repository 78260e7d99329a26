package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
)

// Config holds the complete application configuration, loadable from
// environment variables (ORDERFLOW_ prefix), flags, or YAML config files.
type Config struct {
	Addr         string `default:"0.0.0.0:8080" usage:"API server listen address"`
	DatabaseURL  string `usage:"PostgreSQL connection URL (ORDERFLOW_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	ImageBaseURL string `default:"" usage:"Base URL for product images" flag:"image-base-url"`
	MediaBaseURL string `default:"" usage:"Base URL for invoice PDF/PNG artifacts" flag:"media-base-url"`
	VerifyURL    string `default:"" usage:"Base URL invoice QR codes point at" flag:"verify-url"`
	APIKeyPepper string `usage:"HMAC pepper for API key hashing (ORDERFLOW_API_KEY_PEPPER)" flag:"api-key-pepper"`
	Paystack     PaystackConfig
	Orders       OrdersConfig
	RateLimit    RateLimitConfig
	CORS         CORSConfig
	Graceful     GracefulConfig
}

// PaystackConfig holds payment gateway credentials and transport settings.
type PaystackConfig struct {
	SecretKey   string        `usage:"Paystack secret key (sk_test_.../sk_live_...)" flag:"paystack-secret-key"`
	BaseURL     string        `default:"" usage:"Paystack API base URL override" flag:"paystack-base-url"`
	Timeout     time.Duration `default:"15s" usage:"Gateway call timeout" flag:"paystack-timeout"`
	CallbackURL string        `default:"" usage:"URL Paystack redirects to after checkout" flag:"paystack-callback-url"`
}

// OrdersConfig tunes the pending-order lifecycle.
type OrdersConfig struct {
	PendingTTL     time.Duration `default:"30m" usage:"Payment window before a pending order expires" flag:"pending-ttl"`
	SweepInterval  time.Duration `default:"5m"  usage:"How often expired pending orders are swept" flag:"sweep-interval"`
	SweepBatchSize int           `default:"100" usage:"Max pending orders released per sweep" flag:"sweep-batch-size"`
}

// RateLimitConfig controls the per-client sliding window rate limiter.
type RateLimitConfig struct {
	Max    int           `default:"100" usage:"Max requests per window"`
	Window time.Duration `default:"1m"  usage:"Rate limit window duration"`
}

// CORSConfig controls Cross-Origin Resource Sharing headers.
type CORSConfig struct {
	Origins []string `default:"*" usage:"Allowed CORS origins"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// LoadConfig loads configuration from environment variables, YAML config
// files, and applies platform-specific defaults.
func LoadConfig() (*Config, error) {
	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "ORDERFLOW",
		Files:     []string{"config.yaml", "/etc/orderflow/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()

	if cfg.DatabaseURL == "" {
		return nil, errors.New("database URL is required: set ORDERFLOW_DATABASE_URL or DATABASE_URL")
	}
	if cfg.Paystack.SecretKey == "" {
		return nil, errors.New("Paystack secret key is required: set ORDERFLOW_PAYSTACK_SECRET_KEY")
	}

	return &cfg, nil
}

// applyPlatformDefaults maps platform-provided environment variables (Railway,
// Render, etc.) that use standard names like DATABASE_URL and PORT to the
// application's ORDERFLOW_-prefixed configuration.
func (c *Config) applyPlatformDefaults() {
	if c.DatabaseURL == "" {
		if v := os.Getenv("DATABASE_URL"); v != "" {
			c.DatabaseURL = v
		}
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == "0.0.0.0:8080" {
		c.Addr = "0.0.0.0:" + port
	}
}
