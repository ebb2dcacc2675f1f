package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
	goredis "github.com/redis/go-redis/v9"
)

const defaultAddr = "0.0.0.0:8080"

// Config holds the complete application configuration, loadable from
// environment variables (MARKET_ prefix), flags, or YAML config files.
type Config struct {
	Addr         string `default:"0.0.0.0:8080" usage:"API server listen address"`
	DatabaseURL  string `usage:"PostgreSQL connection URL (MARKET_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	ImageBaseURL string `default:"" usage:"Base URL for relative product image paths" flag:"image-base-url"`
	APIKeyPepper string `usage:"HMAC pepper for API key hashing (MARKET_API_KEY_PEPPER)" flag:"api-key-pepper"`
	RateLimit    RateLimitConfig
	CORS         CORSConfig
	Graceful     GracefulConfig
	Redis        RedisConfig
	Kafka        KafkaConfig
}

// RateLimitConfig controls the per-client sliding window rate limiter.
type RateLimitConfig struct {
	Max    int           `default:"100" usage:"Max requests per window"`
	Window time.Duration `default:"1m"  usage:"Rate limit window duration"`
}

// CORSConfig controls Cross-Origin Resource Sharing headers.
type CORSConfig struct {
	Origins          []string `default:"*" usage:"Allowed CORS origins"`
	AllowCredentials bool     `default:"false" usage:"Allow credentials (cookies, auth headers)" flag:"cors-credentials"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// RedisConfig locates the idempotency key store. An empty Addr disables
// Idempotency-Key handling.
type RedisConfig struct {
	Addr           string        `default:"" usage:"Redis address host:port (MARKET_REDIS_ADDR or REDIS_URL)" flag:"redis-addr"`
	Password       string        `default:"" usage:"Redis password" flag:"redis-password"`
	DB             int           `default:"0" usage:"Redis database number" flag:"redis-db"`
	IdempotencyTTL time.Duration `default:"24h" usage:"How long checkout idempotency keys are remembered" flag:"idempotency-ttl"`
}

// KafkaConfig locates the order event topic. No brokers disables event
// publishing.
type KafkaConfig struct {
	Brokers []string `default:"" usage:"Kafka bootstrap brokers" flag:"kafka-brokers"`
	Topic   string   `default:"marketplace.orders" usage:"Topic for order lifecycle events" flag:"kafka-topic"`
}

// LoadConfig loads configuration from environment variables, YAML config files,
// and applies platform-specific defaults.
func LoadConfig() (*Config, error) {
	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "MARKET",
		Files:     []string{"config.yaml", "/etc/marketplace/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	if err := cfg.applyPlatformDefaults(); err != nil {
		return nil, err
	}

	if cfg.DatabaseURL == "" {
		return nil, errors.New("database URL is required: set MARKET_DATABASE_URL or DATABASE_URL")
	}
	if cfg.APIKeyPepper == "" {
		return nil, errors.New("API key pepper is required: set MARKET_API_KEY_PEPPER")
	}

	return &cfg, nil
}

// applyPlatformDefaults maps the unprefixed variables set by hosting
// platforms (DATABASE_URL, PORT, REDIS_URL) onto the configuration.
func (c *Config) applyPlatformDefaults() error {
	if c.DatabaseURL == "" {
		c.DatabaseURL = os.Getenv("DATABASE_URL")
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == defaultAddr {
		c.Addr = "0.0.0.0:" + port
	}
	if c.Redis.Addr == "" {
		if v := os.Getenv("REDIS_URL"); v != "" {
			opt, err := goredis.ParseURL(v)
			if err != nil {
				return errors.Wrap(err, "parse REDIS_URL")
			}
			c.Redis.Addr = opt.Addr
			c.Redis.Password = opt.Password
			c.Redis.DB = opt.DB
		}
	}
	return nil
}

// brokers drops empty entries left by an unset list variable.
func (k KafkaConfig) brokers() []string {
	var out []string
	for _, b := range k.Brokers {
		if b != "" {
			out = append(out, b)
		}
	}
	return out
}
