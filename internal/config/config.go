package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
)

// Config holds gateway configuration loaded from the environment.
type Config struct {
	AppEnv      string
	Port        string
	DatabaseURL string
	RedisURL    string

	// Merchant credentials and aggregator endpoints.
	ClientID     string
	ClientSecret string
	HashSecret   string
	AuthURL      string
	APIURL       string
	WidgetURL    string
	Description  string
	Locale       string

	// Storefront redirect targets used by the callback handler.
	StoreCartURL     string
	StoreCheckoutURL string
	StoreReceivedURL string

	UpstreamTimeout   time.Duration
	CallbackRateLimit string
	NoticeTTL         time.Duration
}

// Load reads configuration from environment variables and optional .env files.
func Load() (*Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")
	if err := k.Load(env.Provider("", ".", func(s string) string { return s }), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	cfg := &Config{
		AppEnv:       valueOrDefault(k.String("APP_ENV"), "development"),
		Port:         valueOrDefault(k.String("PORT"), "8080"),
		DatabaseURL:  k.String("DATABASE_URL"),
		RedisURL:     k.String("REDIS_URL"),
		ClientID:     k.String("OPTTY_CLIENT_ID"),
		ClientSecret: k.String("OPTTY_CLIENT_SECRET"),
		HashSecret:   k.String("OPTTY_HASH_SECRET"),
		AuthURL:      valueOrDefault(k.String("OPTTY_AUTH_URL"), "https://auth.optty.com/token"),
		APIURL:       valueOrDefault(k.String("OPTTY_API_URL"), "https://api.optty.com"),
		WidgetURL:    valueOrDefault(k.String("OPTTY_WIDGET_URL"), "https://widgets.optty.com/widget-loader.js"),
		Description:  valueOrDefault(k.String("GATEWAY_DESCRIPTION"), "One platform integrating you to the world of Buy Now Pay Later payment gateways globally."),
		Locale:       valueOrDefault(k.String("GATEWAY_LOCALE"), "en_US"),

		StoreCartURL:     k.String("STORE_CART_URL"),
		StoreCheckoutURL: k.String("STORE_CHECKOUT_URL"),
		StoreReceivedURL: k.String("STORE_RECEIVED_URL"),

		UpstreamTimeout:   parseDuration(k.String("UPSTREAM_TIMEOUT"), "15s"),
		CallbackRateLimit: valueOrDefault(k.String("CALLBACK_RATE_LIMIT"), "60-M"),
		NoticeTTL:         parseDuration(k.String("NOTICE_TTL"), "1h"),
	}

	if cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL is required")
	}
	if cfg.RedisURL == "" {
		return nil, errors.New("REDIS_URL is required")
	}
	if cfg.ClientID == "" {
		return nil, errors.New("OPTTY_CLIENT_ID is required")
	}
	if cfg.ClientSecret == "" {
		return nil, errors.New("OPTTY_CLIENT_SECRET is required")
	}
	if cfg.HashSecret == "" {
		return nil, errors.New("OPTTY_HASH_SECRET is required")
	}
	if cfg.StoreCartURL == "" || cfg.StoreCheckoutURL == "" || cfg.StoreReceivedURL == "" {
		return nil, errors.New("STORE_CART_URL, STORE_CHECKOUT_URL and STORE_RECEIVED_URL are required")
	}

	return cfg, nil
}

// HTTPAddr returns the address the HTTP server should bind to.
func (c *Config) HTTPAddr() string {
	port := strings.TrimSpace(c.Port)
	if port == "" {
		port = "8080"
	}
	if strings.HasPrefix(port, ":") {
		return port
	}
	return ":" + port
}

func valueOrDefault(value, fallback string) string {
	if strings.TrimSpace(value) != "" {
		return value
	}
	return fallback
}

func parseDuration(value, fallback string) time.Duration {
	base := strings.TrimSpace(value)
	if base == "" {
		base = fallback
	}
	d, err := time.ParseDuration(base)
	if err != nil {
		d, _ = time.ParseDuration(fallback)
	}
	return d
}

// MustLoad behaves like Load but panics on error. Useful for command entrypoints.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// LoadForTests allows tests to override environment variables without touching the real environment.
func LoadForTests(env map[string]string) (*Config, error) {
	original := make(map[string]string, len(env))
	for key := range env {
		original[key] = os.Getenv(key)
		if err := setEnvVar(key, env[key]); err != nil {
			return nil, err
		}
	}
	cfg, err := Load()
	restoreErr := restoreEnv(original)
	if err != nil {
		return nil, err
	}
	return cfg, restoreErr
}

func setEnvVar(key, value string) error {
	if value == "" {
		return os.Unsetenv(key)
	}
	return os.Setenv(key, value)
}

func restoreEnv(values map[string]string) error {
	var errs []string
	for key, value := range values {
		if err := setEnvVar(key, value); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", key, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("restore env: %s", strings.Join(errs, "; "))
	}
	return nil
}
