package config

import (
	"strings"
	"testing"
	"time"
)

func validLocal() Config {
	return Config{
		App:      AppConfig{Env: "local", Port: 8080},
		DB:       DBConfig{Host: "localhost", Port: 5432, User: "postgres", Password: "x", Name: "consult"},
		Redis:    RedisConfig{Host: "localhost", Port: 6379},
		Auth:     AuthConfig{JWTSecret: "secret"},
		Razorpay: RazorpayConfig{KeyID: "rzp_test_abc", KeySecret: "shh"},
	}
}

func TestValidate_ReportsMissingRequired(t *testing.T) {
	c := Config{}
	if err := c.Validate(); err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestValidate_ProductionRequiresSSLModeAndSentry(t *testing.T) {
	c := validLocal()
	c.App.Env = "production"
	c.Auth.JWTIssuer = "iss"
	c.Auth.JWTAudience = "aud"
	err := c.Validate()
	if err == nil {
		t.Fatalf("expected error for production without DB_SSLMODE")
	}
	if !strings.Contains(err.Error(), "DB_SSLMODE") || !strings.Contains(err.Error(), "SENTRY_DSN") {
		t.Fatalf("expected both DB_SSLMODE and SENTRY_DSN errors, got %v", err)
	}
}

func TestValidate_LocalDefaults(t *testing.T) {
	c := validLocal()
	if err := c.Validate(); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if c.DB.SSLMode != "disable" {
		t.Fatalf("expected sslmode disable default, got %q", c.DB.SSLMode)
	}
	if c.Admission.MaxLiveCallsPerClient != 1 {
		t.Fatalf("expected one live call per client by default, got %d", c.Admission.MaxLiveCallsPerClient)
	}
	if c.Admission.SlotTTL != 2*time.Hour {
		t.Fatalf("expected 2h slot ttl, got %s", c.Admission.SlotTTL)
	}
}

func TestValidate_RequiresRazorpayKeys(t *testing.T) {
	c := validLocal()
	c.Razorpay = RazorpayConfig{}
	err := c.Validate()
	if err == nil {
		t.Fatalf("expected error without razorpay keys")
	}
	if !strings.Contains(err.Error(), "RAZORPAY_KEY_ID") {
		t.Fatalf("expected RAZORPAY_KEY_ID error, got %v", err)
	}
}

func TestLoad_ReadsEnv(t *testing.T) {
	t.Setenv("APP_ENV", "dev")
	t.Setenv("APP_PORT", "9000")
	t.Setenv("DB_HOST", "db")
	t.Setenv("DB_PORT", "5432")
	t.Setenv("DB_USER", "u")
	t.Setenv("DB_NAME", "n")
	t.Setenv("REDIS_HOST", "r")
	t.Setenv("REDIS_PORT", "6379")
	t.Setenv("JWT_SECRET", "s")
	t.Setenv("RAZORPAY_KEY_ID", "rzp_test_x")
	t.Setenv("RAZORPAY_KEY_SECRET", "k")
	t.Setenv("RAZORPAY_WEBHOOK_SECRET", "w")
	t.Setenv("ADMISSION_MAX_LIVE_CALLS", "2")

	c, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.HTTPAddr() != ":9000" {
		t.Fatalf("unexpected addr %q", c.HTTPAddr())
	}
	if c.Razorpay.WebhookSecret != "w" {
		t.Fatalf("expected webhook secret loaded")
	}
	if c.Admission.MaxLiveCallsPerClient != 2 {
		t.Fatalf("expected cap 2, got %d", c.Admission.MaxLiveCallsPerClient)
	}
}
