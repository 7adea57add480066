package config

import (
	"testing"
	"time"
)

func validConfig() *Config {
	return &Config{
		Env:                   "development",
		HTTPAddr:              ":8080",
		Transport:             TransportGateway,
		Accounts:              []string{"default"},
		GatewayBaseURL:        "http://localhost:3000",
		GatewayTimeout:        30 * time.Second,
		MessagesPerChat:       100,
		StatusPollInterval:    5 * time.Second,
		QRReuseWindow:         25 * time.Second,
		QRMinInterval:         5 * time.Second,
		PairingExpiry:         160 * time.Second,
		HealthInterval:        time.Minute,
		SoftRecoveryThreshold: 3,
		SweepInterval:         5 * time.Minute,
		Retention:             24 * time.Hour,
		KeepRecent:            20,
		BackoffBase:           time.Second,
		BackoffCap:            5 * time.Minute,
		BackoffMaxAttempts:    10,
		ConflictDelay:         2 * time.Minute,
		ConflictMaxAttempts:   3,
		DefaultLanguage:       "en",
		ProcessorTimeout:      60 * time.Second,
		PipelineConcurrency:   4,
	}
}

func TestValidate_Valid(t *testing.T) {
	if err := validConfig().Validate(); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
}

func TestValidate_HealthIntervalFloor(t *testing.T) {
	cfg := validConfig()
	cfg.HealthInterval = 10 * time.Second
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for health interval below one minute")
	}
}

func TestValidate_WhatsmeowNeedsStore(t *testing.T) {
	cfg := validConfig()
	cfg.Transport = TransportWhatsmeow
	cfg.WhatsAppStoreDialect = "sqlite"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error when store dsn is missing")
	}
	cfg.WhatsAppStoreDSN = "file:wa.db?_pragma=foreign_keys(1)"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
}

func TestValidate_UnknownTransport(t *testing.T) {
	cfg := validConfig()
	cfg.Transport = "telegram"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for unknown transport")
	}
}

func TestValidate_DiscordPairing(t *testing.T) {
	cfg := validConfig()
	cfg.DiscordToken = "token"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error when alert channel is missing")
	}
}

func TestValidate_MissingRequired(t *testing.T) {
	cfg := &Config{}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error when required fields are missing")
	}
}

func TestIsDevelopment(t *testing.T) {
	cfg := &Config{Env: "development"}
	if !cfg.IsDevelopment() {
		t.Fatal("expected development mode")
	}
	cfg.Env = "production"
	if cfg.IsDevelopment() {
		t.Fatal("expected non-development mode")
	}
}
