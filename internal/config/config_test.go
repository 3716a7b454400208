package config_test

import (
	"testing"
	"time"

	"github.com/noah-isme/optty-gateway/internal/config"
)

func baseEnv() map[string]string {
	return map[string]string{
		"DATABASE_URL":         "postgres://localhost/optty_test",
		"REDIS_URL":            "redis://localhost:6379/0",
		"OPTTY_CLIENT_ID":      "client",
		"OPTTY_CLIENT_SECRET":  "secret",
		"OPTTY_HASH_SECRET":    "hash",
		"STORE_CART_URL":       "https://store.test/cart",
		"STORE_CHECKOUT_URL":   "https://store.test/checkout",
		"STORE_RECEIVED_URL":   "https://store.test/checkout/order-received",
		"OPTTY_AUTH_URL":       "",
		"OPTTY_API_URL":        "",
		"UPSTREAM_TIMEOUT":     "",
		"PORT":                 "",
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := config.LoadForTests(baseEnv())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.AuthURL != "https://auth.optty.com/token" {
		t.Fatalf("unexpected auth url default: %s", cfg.AuthURL)
	}
	if cfg.APIURL != "https://api.optty.com" {
		t.Fatalf("unexpected api url default: %s", cfg.APIURL)
	}
	if cfg.UpstreamTimeout != 15*time.Second {
		t.Fatalf("unexpected upstream timeout: %s", cfg.UpstreamTimeout)
	}
	if got := cfg.HTTPAddr(); got != ":8080" {
		t.Fatalf("unexpected addr: %s", got)
	}
}

func TestLoadRequiresCredentials(t *testing.T) {
	env := baseEnv()
	env["OPTTY_CLIENT_SECRET"] = ""
	if _, err := config.LoadForTests(env); err == nil {
		t.Fatal("expected error for missing client secret")
	}
}

func TestLoadRequiresStoreURLs(t *testing.T) {
	env := baseEnv()
	env["STORE_CART_URL"] = ""
	if _, err := config.LoadForTests(env); err == nil {
		t.Fatal("expected error for missing store urls")
	}
}
