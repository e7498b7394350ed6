package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Server captures process level configuration.
type Server struct {
	Addr            string
	Environment     string
	LogLevel        string
	ShutdownTimeout time.Duration

	Postgres     PostgresConfig
	Redis        RedisConfig
	Kafka        KafkaConfig
	OpenPayments OpenPaymentsConfig
	Split        SplitConfig
	Group        GroupCheckoutConfig
	FX           FXConfig
	HTTP         HTTPConfig
}

// PostgresConfig configures the durable split-payment store.
// An empty URL selects the in-memory store.
type PostgresConfig struct {
	URL      string
	MaxConns int32
}

// RedisConfig configures the snapshot cache and correlation store.
// An empty URL disables Redis and falls back to in-process stores.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// KafkaConfig configures lifecycle event publishing.
// No brokers means events are only logged.
type KafkaConfig struct {
	Brokers []string
	Topic   string
}

// OpenPaymentsConfig identifies this platform to authorization servers.
type OpenPaymentsConfig struct {
	WalletAddressURL string
	KeyID            string
	PrivateKeyPath   string
	WalletTimeout    time.Duration
	RequestTimeout   time.Duration
}

// SplitConfig tunes the split-payment orchestration.
type SplitConfig struct {
	CallbackBaseURL string
	FanOutLimit     int
	SnapshotTTL     time.Duration
	// OmissionPolicy decides whether recipients dropped before execution
	// downgrade an otherwise successful run: "ignore" or "partial".
	OmissionPolicy string
}

// GroupCheckoutConfig tunes the per-payer checkout variant.
type GroupCheckoutConfig struct {
	CorrelationTTL time.Duration
}

// FXConfig configures the market-rate comparison helper.
type FXConfig struct {
	ProviderTimeout time.Duration
	ExchangeRateURL string
	FrankfurterURL  string
	OpenERURL       string
	// DemoWallets maps asset codes to wallets used for protocol quotes,
	// e.g. "USD=https://ilp.example/usd,EUR=https://ilp.example/eur".
	DemoWallets map[string]string
}

// HTTPConfig holds transport concerns.
type HTTPConfig struct {
	AllowedOrigins  []string
	RateLimitPerMin int
	RateLimitBurst  int
	WalletCacheTTL  time.Duration
}

// Load reads an optional .env file and builds the configuration from the
// environment.
func Load() (Server, error) {
	_ = godotenv.Load()
	return FromEnv()
}

// FromEnv builds a Server config from environment variables so main stays lean.
func FromEnv() (Server, error) {
	cfg := Server{
		Addr:            getEnv("SPLITPAY_ADDR", ":8080"),
		Environment:     getEnv("ENVIRONMENT", "development"),
		LogLevel:        getEnv("LOG_LEVEL", "info"),
		ShutdownTimeout: getDuration("SHUTDOWN_TIMEOUT", 10*time.Second),
		Postgres: PostgresConfig{
			URL:      os.Getenv("DATABASE_URL"),
			MaxConns: int32(getInt("DATABASE_MAX_CONNS", 10)),
		},
		Redis: RedisConfig{
			URL:          os.Getenv("REDIS_URL"),
			PoolSize:     getInt("REDIS_POOL_SIZE", 10),
			MinIdleConns: getInt("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  getDuration("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  getDuration("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: getDuration("REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		Kafka: KafkaConfig{
			Brokers: getList("KAFKA_BROKERS"),
			Topic:   getEnv("KAFKA_TOPIC", "split-payments.lifecycle"),
		},
		OpenPayments: OpenPaymentsConfig{
			WalletAddressURL: os.Getenv("WALLET_ADDRESS_URL"),
			KeyID:            os.Getenv("KEY_ID"),
			PrivateKeyPath:   os.Getenv("PRIVATE_KEY_PATH"),
			WalletTimeout:    getDuration("WALLET_RESOLVE_TIMEOUT", 5*time.Second),
			RequestTimeout:   getDuration("OPEN_PAYMENTS_TIMEOUT", 15*time.Second),
		},
		Split: SplitConfig{
			CallbackBaseURL: strings.TrimRight(os.Getenv("CALLBACK_BASE_URL"), "/"),
			FanOutLimit:     getInt("SPLIT_FANOUT_LIMIT", 8),
			SnapshotTTL:     getDuration("SPLIT_SNAPSHOT_TTL", 10*time.Minute),
			OmissionPolicy:  getEnv("SPLIT_OMISSION_POLICY", "ignore"),
		},
		Group: GroupCheckoutConfig{
			CorrelationTTL: getDuration("CORRELATION_TTL", 15*time.Minute),
		},
		FX: FXConfig{
			ProviderTimeout: getDuration("FX_PROVIDER_TIMEOUT", 4*time.Second),
			ExchangeRateURL: getEnv("FX_EXCHANGERATE_URL", "https://api.exchangerate.host"),
			FrankfurterURL:  getEnv("FX_FRANKFURTER_URL", "https://api.frankfurter.app"),
			OpenERURL:       getEnv("FX_OPENER_URL", "https://open.er-api.com"),
			DemoWallets:     getMap("FX_DEMO_WALLETS"),
		},
		HTTP: HTTPConfig{
			AllowedOrigins:  getListDefault("CORS_ALLOWED_ORIGINS", []string{"*"}),
			RateLimitPerMin: getInt("RATE_LIMIT_PER_MINUTE", 67),
			RateLimitBurst:  getInt("RATE_LIMIT_BURST", 100),
			WalletCacheTTL:  getDuration("WALLET_CACHE_TTL", 5*time.Minute),
		},
	}

	if err := cfg.validate(); err != nil {
		return Server{}, err
	}
	return cfg, nil
}

func (c Server) validate() error {
	switch c.Split.OmissionPolicy {
	case "ignore", "partial":
	default:
		return fmt.Errorf("SPLIT_OMISSION_POLICY must be ignore or partial, got %q", c.Split.OmissionPolicy)
	}
	if c.Split.FanOutLimit < 1 {
		return fmt.Errorf("SPLIT_FANOUT_LIMIT must be positive, got %d", c.Split.FanOutLimit)
	}
	if c.OpenPayments.WalletTimeout <= 0 {
		return fmt.Errorf("WALLET_RESOLVE_TIMEOUT must be positive")
	}
	return nil
}

// IsProduction reports whether the process runs in production mode.
func (c Server) IsProduction() bool {
	return c.Environment == "production"
}

func getEnv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func getInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func getDuration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

func getList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getListDefault(key string, def []string) []string {
	if l := getList(key); len(l) > 0 {
		return l
	}
	return def
}

func getMap(key string) map[string]string {
	out := make(map[string]string)
	for _, pair := range getList(key) {
		k, v, ok := strings.Cut(pair, "=")
		if !ok {
			continue
		}
		out[strings.ToUpper(strings.TrimSpace(k))] = strings.TrimSpace(v)
	}
	return out
}
