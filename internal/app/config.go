package app

import (
	"net/http"
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"

	"github.com/xenking/foodorder/internal/broker"
	"github.com/xenking/foodorder/internal/checkout"
	"github.com/xenking/foodorder/internal/notify"
	"github.com/xenking/foodorder/internal/reconcile"
)

// Config holds the configuration of both binaries, loadable from environment
// variables (FOOD_ prefix), flags, or YAML config files.
type Config struct {
	Addr           string        `default:"0.0.0.0:8080" usage:"API server listen address"`
	MetricsAddr    string        `default:"0.0.0.0:9464" usage:"Payment consumer metrics and probes address" flag:"metrics-addr"`
	DatabaseURL    string        `usage:"PostgreSQL connection URL (FOOD_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	JWTSecret      string        `usage:"HS256 secret shared with the identity service" flag:"jwt-secret"`
	APIKeyPepper   string        `usage:"HMAC pepper for service API key hashing" flag:"api-key-pepper"`
	RequestTimeout time.Duration `default:"10s" usage:"Upper bound for /api requests" flag:"request-timeout"`
	Kafka          KafkaConfig
	Redis          RedisConfig
	Cart           CartConfig
	Checkout       CheckoutConfig
	Reconcile      ReconcileConfig
	Notify         NotifyConfig
	RateLimit      RateLimitConfig
	CORS           CORSConfig
	Graceful       GracefulConfig
}

// KafkaConfig configures the payment event stream.
type KafkaConfig struct {
	Brokers        []string      `default:"localhost:9092" usage:"Kafka bootstrap brokers"`
	Topic          string        `default:"payment-events" usage:"Payment event topic"`
	GroupID        string        `default:"order-payment-consumer" usage:"Consumer group id" flag:"kafka-group-id"`
	Workers        int           `default:"4" usage:"Concurrent partition readers"`
	ProcessTimeout time.Duration `default:"10s" usage:"Timeout of one handling attempt" flag:"kafka-process-timeout"`
	MaxAttempts    int           `default:"5" usage:"Attempts before a message is skipped as poison" flag:"kafka-max-attempts"`
	InitialBackoff time.Duration `default:"200ms" usage:"First retry delay" flag:"kafka-initial-backoff"`
	MaxBackoff     time.Duration `default:"5s" usage:"Retry delay cap" flag:"kafka-max-backoff"`
}

// RedisConfig configures the optional redis client.
type RedisConfig struct {
	Addrs          []string      `usage:"Redis addresses; empty disables redis"`
	Password       string        `usage:"Redis password"`
	DB             int           `default:"0" usage:"Redis database"`
	IdempotencyTTL time.Duration `default:"24h" usage:"Retention of processed event positions" flag:"redis-idempotency-ttl"`
}

// Enabled reports whether redis addresses are configured.
func (c RedisConfig) Enabled() bool {
	for _, a := range c.Addrs {
		if a != "" {
			return true
		}
	}
	return false
}

// Cart backends.
const (
	CartPostgres = "postgres"
	CartRedis    = "redis"
	CartMemory   = "memory"
)

// CartConfig selects the cart store.
type CartConfig struct {
	Backend string        `default:"postgres" usage:"Cart store: postgres, redis or memory"`
	TTL     time.Duration `default:"168h" usage:"Idle cart expiry for the redis backend"`
	Timeout time.Duration `default:"2s" usage:"Timeout of cart store calls from the cart API"`
}

// CheckoutConfig bounds the collaborator calls of a checkout.
type CheckoutConfig struct {
	CollaboratorTimeout time.Duration `default:"2s" usage:"Timeout of cart, pricing and coupon calls" flag:"checkout-collaborator-timeout"`
	PaymentTimeout      time.Duration `default:"5s" usage:"Timeout of payment initiation" flag:"checkout-payment-timeout"`
	LockTTL             time.Duration `default:"30s" usage:"Expiry of the per-user checkout lock held in redis" flag:"checkout-lock-ttl"`
}

// ReconcileConfig controls the stale order sweep.
type ReconcileConfig struct {
	Enabled      bool          `default:"true" usage:"Run the reconciliation sweep in the api server"`
	Interval     time.Duration `default:"1m" usage:"Sweep interval"`
	PendingAfter time.Duration `default:"2m" usage:"Age after which a PENDING order is reconciled" flag:"reconcile-pending-after"`
	BatchSize    int           `default:"100" usage:"Orders per sweep" flag:"reconcile-batch-size"`
}

// NotifyConfig configures branch notifications.
type NotifyConfig struct {
	// BaseURL of the api server hub, used by the payment consumer.
	BaseURL      string        `default:"http://localhost:8080" usage:"Hub base URL for the payment consumer" flag:"notify-base-url"`
	APIKey       string        `default:"" usage:"API key the consumer presents to the hub" flag:"notify-api-key"`
	Timeout      time.Duration `default:"3s" usage:"Publish request timeout"`
	OutboxSize   int           `default:"32" usage:"Messages buffered per listener" flag:"notify-outbox-size"`
	PingInterval time.Duration `default:"30s" usage:"Websocket keepalive interval" flag:"notify-ping-interval"`
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

// LoadConfig loads configuration from environment variables and YAML config
// files, and applies platform defaults.
func LoadConfig() (*Config, error) {
	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "FOOD",
		Files:     []string{"config.yaml", "/etc/foodorder/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()

	if cfg.DatabaseURL == "" {
		return nil, errors.New("database URL is required: set FOOD_DATABASE_URL or DATABASE_URL")
	}
	switch cfg.Cart.Backend {
	case CartPostgres, CartMemory:
	case CartRedis:
		if !cfg.Redis.Enabled() {
			return nil, errors.New("cart backend redis requires FOOD_REDIS_ADDRS")
		}
	default:
		return nil, errors.Errorf("unknown cart backend %q", cfg.Cart.Backend)
	}
	return &cfg, nil
}

// applyPlatformDefaults maps DATABASE_URL and PORT provided by hosting
// platforms to the FOOD_-prefixed configuration.
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

func (c KafkaConfig) consumer() broker.ConsumerConfig {
	return broker.ConsumerConfig{
		Brokers:        c.Brokers,
		Topic:          c.Topic,
		GroupID:        c.GroupID,
		Workers:        c.Workers,
		ProcessTimeout: c.ProcessTimeout,
		MaxAttempts:    c.MaxAttempts,
		InitialBackoff: c.InitialBackoff,
		MaxBackoff:     c.MaxBackoff,
	}
}

func (c CheckoutConfig) service() checkout.Config {
	return checkout.Config{
		CollaboratorTimeout: c.CollaboratorTimeout,
		PaymentTimeout:      c.PaymentTimeout,
	}
}

func (c ReconcileConfig) sweeper() reconcile.Config {
	return reconcile.Config{
		Interval:     c.Interval,
		PendingAfter: c.PendingAfter,
		BatchSize:    c.BatchSize,
	}
}

func (c NotifyConfig) hub(checkOrigin func(*http.Request) bool) notify.HubConfig {
	return notify.HubConfig{
		OutboxSize:   c.OutboxSize,
		PingInterval: c.PingInterval,
		CheckOrigin:  checkOrigin,
	}
}

func (c NotifyConfig) client() notify.ClientConfig {
	return notify.ClientConfig{
		BaseURL: c.BaseURL,
		APIKey:  c.APIKey,
		Timeout: c.Timeout,
	}
}
