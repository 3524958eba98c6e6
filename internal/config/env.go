// Package config handles environment-based configuration loading.
package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// EnvConfig holds all environment-variable-driven settings.
type EnvConfig struct {
	// Network
	ListenAddress string
	HTTPPort      int

	// Backends
	DatabaseURL string
	RedisURL    string

	// Broker
	BrokerURL      string
	BrokerUsername string
	BrokerPassword string
	BrokerClientID string

	// RADIUS
	RadiusAuthAddr string
	RadiusTimeout  time.Duration

	// Auth
	JWTSecret string

	// Portal
	PortalURL              string
	DefaultRedirectURL     string
	RedirectAllowedDomains []string
	AllowPublicUAMIP       bool
	AllowIPv6              bool
	PortalDNSServers       []string
	PortalNTPServers       []string

	// Edge fabric
	RPCTimeout         time.Duration
	RPCMaxOutstanding  int
	PresenceTTL        time.Duration
	PresenceFlushEvery time.Duration
	TunnelIdleTimeout  time.Duration

	// Quota engine
	DisconnectConcurrency int
	DisconnectRatePerSec  int
	ReconcileConcurrency  int
	ReconcileRatePerSec   int
	QueuePollInterval     time.Duration // 0 disables the polling fallback

	// Schedules (cron expressions)
	StaleSweepSchedule     string
	PlanExpirySchedule     string
	PresenceSweepSchedule  string
	UsageRetentionSchedule string
	UsageRetentionDays     int

	// HTTP
	RequestTimeout  time.Duration
	APIMaxBodyBytes int
}

// LoadEnvConfig reads environment variables and returns a validated EnvConfig.
// Returns an error if any required variable is missing or any value is invalid.
func LoadEnvConfig() (*EnvConfig, error) {
	cfg := &EnvConfig{}
	var errs []string

	// --- Network ---
	cfg.ListenAddress = strings.TrimSpace(envStr("SPOTFI_LISTEN_ADDRESS", "0.0.0.0"))
	cfg.HTTPPort = envInt("SPOTFI_HTTP_PORT", 8080, &errs)

	// --- Backends ---
	cfg.DatabaseURL = envStr("SPOTFI_DATABASE_URL", "")
	cfg.RedisURL = envStr("SPOTFI_REDIS_URL", "redis://127.0.0.1:6379/0")

	// --- Broker ---
	cfg.BrokerURL = envStr("SPOTFI_BROKER_URL", "tcp://127.0.0.1:1883")
	cfg.BrokerUsername = envStr("SPOTFI_BROKER_USERNAME", "cloud")
	cfg.BrokerPassword = envStr("SPOTFI_BROKER_PASSWORD", "")
	cfg.BrokerClientID = envStr("SPOTFI_BROKER_CLIENT_ID", "")

	// --- RADIUS ---
	cfg.RadiusAuthAddr = envStr("SPOTFI_RADIUS_AUTH_ADDR", "127.0.0.1:1812")
	cfg.RadiusTimeout = envDuration("SPOTFI_RADIUS_TIMEOUT", 5*time.Second, &errs)

	// --- Auth ---
	jwtSecret, hasJWTSecret := os.LookupEnv("SPOTFI_JWT_SECRET")
	cfg.JWTSecret = jwtSecret

	// --- Portal ---
	cfg.PortalURL = envStr("SPOTFI_PORTAL_URL", "http://portal.spotfi.local:8080/")
	cfg.DefaultRedirectURL = envStr("SPOTFI_DEFAULT_REDIRECT_URL", "http://www.example.com/")
	cfg.RedirectAllowedDomains = envStringSlice("SPOTFI_REDIRECT_ALLOWED_DOMAINS", []string{}, &errs)
	cfg.AllowPublicUAMIP = envBool("SPOTFI_ALLOW_PUBLIC_UAM_IP", false, &errs)
	cfg.AllowIPv6 = envBool("SPOTFI_ALLOW_IPV6", false, &errs)
	cfg.PortalDNSServers = envStringSlice("SPOTFI_PORTAL_DNS_SERVERS", []string{"1.1.1.1", "8.8.8.8"}, &errs)
	cfg.PortalNTPServers = envStringSlice("SPOTFI_PORTAL_NTP_SERVERS", []string{"pool.ntp.org"}, &errs)

	// --- Edge fabric ---
	cfg.RPCTimeout = envDuration("SPOTFI_RPC_TIMEOUT", 15*time.Second, &errs)
	cfg.RPCMaxOutstanding = envInt("SPOTFI_RPC_MAX_OUTSTANDING", 64, &errs)
	cfg.PresenceTTL = envDuration("SPOTFI_PRESENCE_TTL", 90*time.Second, &errs)
	cfg.PresenceFlushEvery = envDuration("SPOTFI_PRESENCE_FLUSH_EVERY", 15*time.Second, &errs)
	cfg.TunnelIdleTimeout = envDuration("SPOTFI_TUNNEL_IDLE_TIMEOUT", 2*time.Minute, &errs)

	// --- Quota engine ---
	cfg.DisconnectConcurrency = envInt("SPOTFI_DISCONNECT_CONCURRENCY", 20, &errs)
	cfg.DisconnectRatePerSec = envInt("SPOTFI_DISCONNECT_RATE_PER_SEC", 100, &errs)
	cfg.ReconcileConcurrency = envInt("SPOTFI_RECONCILE_CONCURRENCY", 5, &errs)
	cfg.ReconcileRatePerSec = envInt("SPOTFI_RECONCILE_RATE_PER_SEC", 10, &errs)
	cfg.QueuePollInterval = envDuration("SPOTFI_QUEUE_POLL_INTERVAL", 0, &errs)

	// --- Schedules ---
	cfg.StaleSweepSchedule = envStr("SPOTFI_STALE_SWEEP_SCHEDULE", "*/5 * * * *")
	cfg.PlanExpirySchedule = envStr("SPOTFI_PLAN_EXPIRY_SCHEDULE", "0 * * * *")
	cfg.PresenceSweepSchedule = envStr("SPOTFI_PRESENCE_SWEEP_SCHEDULE", "* * * * *")
	cfg.UsageRetentionSchedule = envStr("SPOTFI_USAGE_RETENTION_SCHEDULE", "30 3 * * *")
	cfg.UsageRetentionDays = envInt("SPOTFI_USAGE_RETENTION_DAYS", 90, &errs)

	// --- HTTP ---
	cfg.RequestTimeout = envDuration("SPOTFI_REQUEST_TIMEOUT", 30*time.Second, &errs)
	cfg.APIMaxBodyBytes = envInt("SPOTFI_API_MAX_BODY_BYTES", 1<<20, &errs)

	// --- Validation ---
	if cfg.ListenAddress == "" {
		errs = append(errs, "SPOTFI_LISTEN_ADDRESS must not be empty")
	}
	validatePort("SPOTFI_HTTP_PORT", cfg.HTTPPort, &errs)

	if cfg.DatabaseURL == "" {
		errs = append(errs, "SPOTFI_DATABASE_URL must be defined")
	}
	validateURLScheme("SPOTFI_REDIS_URL", cfg.RedisURL, []string{"redis", "rediss"}, &errs)
	validateURLScheme("SPOTFI_BROKER_URL", cfg.BrokerURL, []string{"tcp", "ssl", "ws", "wss"}, &errs)

	if !hasJWTSecret {
		errs = append(errs, "SPOTFI_JWT_SECRET must be defined (can be empty to disable the admin API)")
	} else if IsWeakSecret(cfg.JWTSecret) {
		errs = append(errs, "SPOTFI_JWT_SECRET is too weak; use a longer random value")
	}

	validateURLScheme("SPOTFI_PORTAL_URL", cfg.PortalURL, []string{"http", "https"}, &errs)
	validateURLScheme("SPOTFI_DEFAULT_REDIRECT_URL", cfg.DefaultRedirectURL, []string{"http", "https"}, &errs)

	if cfg.RadiusTimeout <= 0 {
		errs = append(errs, "SPOTFI_RADIUS_TIMEOUT must be positive")
	}
	if cfg.RPCTimeout <= 0 {
		errs = append(errs, "SPOTFI_RPC_TIMEOUT must be positive")
	}
	validatePositive("SPOTFI_RPC_MAX_OUTSTANDING", cfg.RPCMaxOutstanding, &errs)
	if cfg.PresenceTTL <= 0 {
		errs = append(errs, "SPOTFI_PRESENCE_TTL must be positive")
	}
	if cfg.PresenceFlushEvery <= 0 {
		errs = append(errs, "SPOTFI_PRESENCE_FLUSH_EVERY must be positive")
	}
	if cfg.TunnelIdleTimeout <= 0 {
		errs = append(errs, "SPOTFI_TUNNEL_IDLE_TIMEOUT must be positive")
	}
	validatePositive("SPOTFI_DISCONNECT_CONCURRENCY", cfg.DisconnectConcurrency, &errs)
	validatePositive("SPOTFI_DISCONNECT_RATE_PER_SEC", cfg.DisconnectRatePerSec, &errs)
	validatePositive("SPOTFI_RECONCILE_CONCURRENCY", cfg.ReconcileConcurrency, &errs)
	validatePositive("SPOTFI_RECONCILE_RATE_PER_SEC", cfg.ReconcileRatePerSec, &errs)
	if cfg.QueuePollInterval < 0 {
		errs = append(errs, "SPOTFI_QUEUE_POLL_INTERVAL must be zero (disabled) or positive")
	}

	validateCron("SPOTFI_STALE_SWEEP_SCHEDULE", cfg.StaleSweepSchedule, &errs)
	validateCron("SPOTFI_PLAN_EXPIRY_SCHEDULE", cfg.PlanExpirySchedule, &errs)
	validateCron("SPOTFI_PRESENCE_SWEEP_SCHEDULE", cfg.PresenceSweepSchedule, &errs)
	validateCron("SPOTFI_USAGE_RETENTION_SCHEDULE", cfg.UsageRetentionSchedule, &errs)
	validatePositive("SPOTFI_USAGE_RETENTION_DAYS", cfg.UsageRetentionDays, &errs)

	if cfg.RequestTimeout <= 0 {
		errs = append(errs, "SPOTFI_REQUEST_TIMEOUT must be positive")
	}
	validatePositive("SPOTFI_API_MAX_BODY_BYTES", cfg.APIMaxBodyBytes, &errs)

	if len(errs) > 0 {
		return nil, fmt.Errorf("config validation failed:\n  %s", strings.Join(errs, "\n  "))
	}

	return cfg, nil
}

// --- helpers ---

func envStr(key, defaultVal string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int, errs *[]string) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		*errs = append(*errs, fmt.Sprintf("%s: invalid integer %q", key, v))
		return defaultVal
	}
	return n
}

func envBool(key string, defaultVal bool, errs *[]string) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		*errs = append(*errs, fmt.Sprintf("%s: invalid boolean %q", key, v))
		return defaultVal
	}
	return b
}

func envDuration(key string, defaultVal time.Duration, errs *[]string) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		*errs = append(*errs, fmt.Sprintf("%s: invalid duration %q", key, v))
		return defaultVal
	}
	return d
}

func envStringSlice(key string, defaultVal []string, errs *[]string) []string {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	var out []string
	if err := json.Unmarshal([]byte(v), &out); err != nil {
		*errs = append(*errs, fmt.Sprintf("%s: invalid JSON string array %q", key, v))
		return defaultVal
	}
	if out == nil {
		return []string{}
	}
	return out
}

func validatePort(name string, value int, errs *[]string) {
	if value < 1 || value > 65535 {
		*errs = append(*errs, fmt.Sprintf("%s: port must be 1-65535, got %d", name, value))
	}
}

func validatePositive(name string, value int, errs *[]string) {
	if value <= 0 {
		*errs = append(*errs, fmt.Sprintf("%s: must be positive, got %d", name, value))
	}
}

func validateCron(name, expr string, errs *[]string) {
	if _, err := cron.ParseStandard(expr); err != nil {
		*errs = append(*errs, fmt.Sprintf("%s: invalid cron expression %q: %v", name, expr, err))
	}
}

func validateURLScheme(name, raw string, schemes []string, errs *[]string) {
	u, err := url.Parse(raw)
	if err != nil {
		*errs = append(*errs, fmt.Sprintf("%s: invalid URL %q: %v", name, raw, err))
		return
	}
	for _, s := range schemes {
		if u.Scheme == s {
			return
		}
	}
	*errs = append(*errs, fmt.Sprintf("%s: scheme must be one of %v, got %q", name, schemes, u.Scheme))
}
