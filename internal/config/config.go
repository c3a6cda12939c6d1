package config

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config contains all runtime settings for the ride wallet agent worker.
type Config struct {
	BindAddr                 string
	ShutdownTimeout          time.Duration
	InitTimeout              time.Duration
	SessionInactivityTimeout time.Duration
	MetricsNamespace         string
	LogLevel                 string

	AllowAnyOrigin bool

	WalletAPIBaseURL   string
	WalletAPITimeout   time.Duration
	WalletAPIRateLimit int

	PromptFile string

	TransitProviders      []string
	PurchaseBalanceMaxAge time.Duration

	DatabaseURL string
}

// ConfigError reports a missing or malformed setting.
type ConfigError struct {
	Key    string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config %s: %s", e.Key, e.Reason)
}

// Load reads environment variables (and the optional file named by
// RIDEWALLET_CONFIG) and applies safe defaults.
func Load() (Config, error) {
	v := viper.New()
	v.AutomaticEnv()
	if path := trimSpace(v.GetString("RIDEWALLET_CONFIG")); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, &ConfigError{Key: "RIDEWALLET_CONFIG", Reason: err.Error()}
		}
	}
	return loadFrom(v)
}

func loadFrom(v *viper.Viper) (Config, error) {
	cfg := Config{
		BindAddr:                 envOrDefault(v, "APP_BIND_ADDR", ":8080"),
		MetricsNamespace:         envOrDefault(v, "APP_METRICS_NAMESPACE", "ridewallet"),
		LogLevel:                 strings.ToLower(envOrDefault(v, "LOG_LEVEL", "info")),
		WalletAPIBaseURL:         trimSpace(v.GetString("MYRIDE_WALLET_API")),
		PromptFile:               envOrDefault(v, "AGENT_PROMPT_FILE", "support_agent.yaml"),
		DatabaseURL:              trimSpace(v.GetString("DATABASE_URL")),
		TransitProviders:         listFromEnv(v, "TRANSIT_PROVIDERS", []string{"DDOT", "SMART", "Regional"}),
		ShutdownTimeout:          15 * time.Second,
		InitTimeout:              120 * time.Second,
		SessionInactivityTimeout: 10 * time.Minute,
		WalletAPITimeout:         20 * time.Second,
		WalletAPIRateLimit:       20,
		PurchaseBalanceMaxAge:    5 * time.Minute,
	}

	var err error
	if cfg.ShutdownTimeout, err = durationFromEnv(v, "APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout); err != nil {
		return Config{}, err
	}
	if cfg.InitTimeout, err = durationFromEnv(v, "APP_INIT_TIMEOUT", cfg.InitTimeout); err != nil {
		return Config{}, err
	}
	if cfg.SessionInactivityTimeout, err = durationFromEnv(v, "APP_SESSION_INACTIVITY_TIMEOUT", cfg.SessionInactivityTimeout); err != nil {
		return Config{}, err
	}
	if cfg.WalletAPITimeout, err = durationFromEnv(v, "WALLET_API_TIMEOUT", cfg.WalletAPITimeout); err != nil {
		return Config{}, err
	}
	if cfg.PurchaseBalanceMaxAge, err = durationFromEnv(v, "PURCHASE_BALANCE_MAX_AGE", cfg.PurchaseBalanceMaxAge); err != nil {
		return Config{}, err
	}
	if cfg.WalletAPIRateLimit, err = intFromEnv(v, "WALLET_API_RATE_LIMIT", cfg.WalletAPIRateLimit); err != nil {
		return Config{}, err
	}
	if cfg.AllowAnyOrigin, err = boolFromEnv(v, "APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin); err != nil {
		return Config{}, err
	}

	if cfg.WalletAPIBaseURL == "" {
		return Config{}, &ConfigError{Key: "MYRIDE_WALLET_API", Reason: "must be set"}
	}
	u, err := url.Parse(cfg.WalletAPIBaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return Config{}, &ConfigError{Key: "MYRIDE_WALLET_API", Reason: "must be an absolute http(s) URL"}
	}
	if cfg.SessionInactivityTimeout < 5*time.Second {
		return Config{}, &ConfigError{Key: "APP_SESSION_INACTIVITY_TIMEOUT", Reason: "must be at least 5s"}
	}
	if cfg.InitTimeout <= 0 {
		return Config{}, &ConfigError{Key: "APP_INIT_TIMEOUT", Reason: "must be positive"}
	}
	if cfg.WalletAPITimeout <= 0 {
		return Config{}, &ConfigError{Key: "WALLET_API_TIMEOUT", Reason: "must be positive"}
	}
	if cfg.WalletAPIRateLimit < 0 {
		return Config{}, &ConfigError{Key: "WALLET_API_RATE_LIMIT", Reason: "must be >= 0"}
	}
	if cfg.PurchaseBalanceMaxAge <= 0 {
		return Config{}, &ConfigError{Key: "PURCHASE_BALANCE_MAX_AGE", Reason: "must be positive"}
	}
	if len(cfg.TransitProviders) == 0 {
		return Config{}, &ConfigError{Key: "TRANSIT_PROVIDERS", Reason: "must list at least one provider"}
	}

	return cfg, nil
}

func envOrDefault(v *viper.Viper, key, fallback string) string {
	s := trimSpace(v.GetString(key))
	if s == "" {
		return fallback
	}
	return s
}

func trimSpace(s string) string {
	return strings.TrimSpace(s)
}

func durationFromEnv(v *viper.Viper, key string, fallback time.Duration) (time.Duration, error) {
	s := trimSpace(v.GetString(key))
	if s == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, &ConfigError{Key: key, Reason: fmt.Sprintf("parse error: %v", err)}
	}
	return d, nil
}

func intFromEnv(v *viper.Viper, key string, fallback int) (int, error) {
	s := trimSpace(v.GetString(key))
	if s == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, &ConfigError{Key: key, Reason: fmt.Sprintf("parse error: %v", err)}
	}
	return n, nil
}

func boolFromEnv(v *viper.Viper, key string, fallback bool) (bool, error) {
	s := strings.ToLower(trimSpace(v.GetString(key)))
	if s == "" {
		return fallback, nil
	}
	switch s {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, &ConfigError{Key: key, Reason: "parse error: expected bool"}
	}
}

func listFromEnv(v *viper.Viper, key string, fallback []string) []string {
	s := trimSpace(v.GetString(key))
	if s == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
