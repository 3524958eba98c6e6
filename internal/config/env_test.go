package config

import (
	"strings"
	"testing"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("SPOTFI_DATABASE_URL", "postgres://spotfi:pw@127.0.0.1:5432/spotfi")
	t.Setenv("SPOTFI_JWT_SECRET", "9f2a-very-long-unguessable-signing-secret-77b1")
}

func TestLoadEnvConfig_Defaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := LoadEnvConfig()
	if err != nil {
		t.Fatalf("LoadEnvConfig: %v", err)
	}
	if cfg.HTTPPort != 8080 {
		t.Fatalf("HTTPPort = %d, want 8080", cfg.HTTPPort)
	}
	if cfg.RPCMaxOutstanding != 64 {
		t.Fatalf("RPCMaxOutstanding = %d, want 64", cfg.RPCMaxOutstanding)
	}
	if cfg.DisconnectConcurrency != 20 || cfg.DisconnectRatePerSec != 100 {
		t.Fatalf("disconnect worker defaults = %d/%d, want 20/100",
			cfg.DisconnectConcurrency, cfg.DisconnectRatePerSec)
	}
	if cfg.QueuePollInterval != 0 {
		t.Fatalf("QueuePollInterval = %v, want 0 (polling fallback disabled)", cfg.QueuePollInterval)
	}
	if cfg.AllowPublicUAMIP {
		t.Fatal("AllowPublicUAMIP default must be false")
	}
}

func TestLoadEnvConfig_MissingDatabaseURL(t *testing.T) {
	t.Setenv("SPOTFI_JWT_SECRET", "9f2a-very-long-unguessable-signing-secret-77b1")
	t.Setenv("SPOTFI_DATABASE_URL", "")

	_, err := LoadEnvConfig()
	if err == nil {
		t.Fatal("expected error for missing SPOTFI_DATABASE_URL")
	}
	if !strings.Contains(err.Error(), "SPOTFI_DATABASE_URL") {
		t.Fatalf("error should mention SPOTFI_DATABASE_URL, got: %v", err)
	}
}

func TestLoadEnvConfig_WeakJWTSecret(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("SPOTFI_JWT_SECRET", "password1")

	_, err := LoadEnvConfig()
	if err == nil || !strings.Contains(err.Error(), "too weak") {
		t.Fatalf("expected weak-secret error, got: %v", err)
	}
}

func TestLoadEnvConfig_InvalidCron(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("SPOTFI_PLAN_EXPIRY_SCHEDULE", "not-a-cron")

	_, err := LoadEnvConfig()
	if err == nil || !strings.Contains(err.Error(), "SPOTFI_PLAN_EXPIRY_SCHEDULE") {
		t.Fatalf("expected cron validation error, got: %v", err)
	}
}

func TestLoadEnvConfig_InvalidBrokerScheme(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("SPOTFI_BROKER_URL", "http://127.0.0.1:1883")

	_, err := LoadEnvConfig()
	if err == nil || !strings.Contains(err.Error(), "SPOTFI_BROKER_URL") {
		t.Fatalf("expected broker scheme error, got: %v", err)
	}
}

func TestIsWeakSecret(t *testing.T) {
	if IsWeakSecret("") {
		t.Fatal("empty secret must not be reported weak (auth disabled)")
	}
	if !IsWeakSecret("abc123") {
		t.Fatal("trivial secret must be reported weak")
	}
	if IsWeakSecret("9f2a-very-long-unguessable-signing-secret-77b1") {
		t.Fatal("long random secret must not be reported weak")
	}
}
