// Package config provides runtime configuration values for the service.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Config holds configuration knobs for the HTTP server, the saga and its
// collaborators. Empty collaborator URLs select the in-process implementation.
type Config struct {
	ServiceName     string
	Env             string
	LogLevel        string
	LogFile         string
	HTTPAddr        string
	ShutdownTimeout time.Duration

	DatabaseURL string

	RedisURL      string
	CacheDisabled bool
	CacheTTL      time.Duration

	IdentityServiceURL string
	CatalogServiceURL  string
	ClientTimeout      time.Duration

	KafkaBrokers     []string
	KafkaTopicPrefix string

	OTelEndpoint string
	OTelInsecure bool

	StepTimeout         time.Duration
	ReserveMaxAttempts  int
	ReserveRetryBackoff time.Duration

	SeedProducts []ProductSeed
	SeedBuyers   []BuyerSeed
}

// ProductSeed is a dev fixture in the form id:price:stock.
type ProductSeed struct {
	ID    string
	Price decimal.Decimal
	Stock int
}

// BuyerSeed is a dev fixture in the form id:email.
type BuyerSeed struct {
	ID    string
	Email string
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func atoienv(key string, def int) int {
	v := getenv(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func boolenv(key string, def bool) bool {
	v := getenv(key, "")
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func durenvms(key string, defMs int) time.Duration {
	ms := atoienv(key, defMs)
	return time.Duration(ms) * time.Millisecond
}

func durenvs(key string, defSec int) time.Duration {
	sec := atoienv(key, defSec)
	return time.Duration(sec) * time.Second
}

func listenv(key string) []string {
	var out []string
	for _, part := range strings.Split(getenv(key, ""), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Load collects configuration from environment with defaults.
func Load() (Config, error) {
	products, err := parseProductSeeds(listenv("SEED_PRODUCTS"))
	if err != nil {
		return Config{}, err
	}
	buyers, err := parseBuyerSeeds(listenv("SEED_BUYERS"))
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		ServiceName:     getenv("SERVICE_NAME", "minishop-saga"),
		Env:             getenv("ENV", "dev"),
		LogLevel:        getenv("LOG_LEVEL", "info"),
		LogFile:         getenv("LOG_FILE", ""),
		HTTPAddr:        getenv("HTTP_ADDR", ":8080"),
		ShutdownTimeout: durenvs("SHUTDOWN_TIMEOUT", 10),

		DatabaseURL: getenv("DATABASE_URL", ""),

		RedisURL:      getenv("REDIS_URL", ""),
		CacheDisabled: boolenv("CACHE_DISABLED", false),
		CacheTTL:      durenvs("CACHE_TTL", 60),

		IdentityServiceURL: getenv("IDENTITY_SERVICE_URL", ""),
		CatalogServiceURL:  getenv("CATALOG_SERVICE_URL", ""),
		ClientTimeout:      durenvms("CLIENT_TIMEOUT_MS", 2000),

		KafkaBrokers:     listenv("KAFKA_BROKERS"),
		KafkaTopicPrefix: getenv("KAFKA_TOPIC_PREFIX", "minishop."),

		OTelEndpoint: getenv("OTEL_ENDPOINT", ""),
		OTelInsecure: boolenv("OTEL_INSECURE", true),

		StepTimeout:         durenvms("STEP_TIMEOUT_MS", 3000),
		ReserveMaxAttempts:  atoienv("RESERVE_MAX_ATTEMPTS", 3),
		ReserveRetryBackoff: durenvms("RESERVE_RETRY_BACKOFF_MS", 10),

		SeedProducts: products,
		SeedBuyers:   buyers,
	}
	return cfg, cfg.Validate()
}

// Validate rejects settings the service cannot run with.
func (c Config) Validate() error {
	var errs []error
	if c.HTTPAddr == "" {
		errs = append(errs, errors.New("HTTP_ADDR must not be empty"))
	}
	if c.ShutdownTimeout <= 0 {
		errs = append(errs, errors.New("SHUTDOWN_TIMEOUT must be positive"))
	}
	if c.StepTimeout <= 0 {
		errs = append(errs, errors.New("STEP_TIMEOUT_MS must be positive"))
	}
	if c.ClientTimeout <= 0 {
		errs = append(errs, errors.New("CLIENT_TIMEOUT_MS must be positive"))
	}
	if c.CacheTTL <= 0 {
		errs = append(errs, errors.New("CACHE_TTL must be positive"))
	}
	if c.ReserveMaxAttempts <= 0 {
		errs = append(errs, errors.New("RESERVE_MAX_ATTEMPTS must be positive"))
	}
	if c.ReserveRetryBackoff < 0 {
		errs = append(errs, errors.New("RESERVE_RETRY_BACKOFF_MS must not be negative"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

func parseProductSeeds(entries []string) ([]ProductSeed, error) {
	out := make([]ProductSeed, 0, len(entries))
	for _, e := range entries {
		parts := strings.Split(e, ":")
		if len(parts) != 3 || parts[0] == "" {
			return nil, fmt.Errorf("config: SEED_PRODUCTS entry %q must be id:price:stock", e)
		}
		price, err := decimal.NewFromString(parts[1])
		if err != nil {
			return nil, fmt.Errorf("config: SEED_PRODUCTS entry %q: price: %w", e, err)
		}
		stock, err := strconv.Atoi(parts[2])
		if err != nil {
			return nil, fmt.Errorf("config: SEED_PRODUCTS entry %q: stock: %w", e, err)
		}
		out = append(out, ProductSeed{ID: parts[0], Price: price, Stock: stock})
	}
	return out, nil
}

func parseBuyerSeeds(entries []string) ([]BuyerSeed, error) {
	out := make([]BuyerSeed, 0, len(entries))
	for _, e := range entries {
		id, email, _ := strings.Cut(e, ":")
		if id == "" {
			return nil, fmt.Errorf("config: SEED_BUYERS entry %q must be id[:email]", e)
		}
		out = append(out, BuyerSeed{ID: id, Email: email})
	}
	return out, nil
}
