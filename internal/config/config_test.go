package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("MYRIDE_WALLET_API", "https://wallet.example.test")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.BindAddr != ":8080" {
		t.Fatalf("BindAddr = %q, want %q", cfg.BindAddr, ":8080")
	}
	if cfg.InitTimeout != 120*time.Second {
		t.Fatalf("InitTimeout = %v, want 120s", cfg.InitTimeout)
	}
	if cfg.PromptFile != "support_agent.yaml" {
		t.Fatalf("PromptFile = %q, want support_agent.yaml", cfg.PromptFile)
	}
	if len(cfg.TransitProviders) != 3 {
		t.Fatalf("TransitProviders = %v, want DDOT,SMART,Regional", cfg.TransitProviders)
	}
}

func TestLoadMissingWalletAPIIsConfigError(t *testing.T) {
	setCoreEnvEmpty(t)

	_, err := Load()
	var cfgErr *ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("Load() error = %v, want *ConfigError", err)
	}
	if cfgErr.Key != "MYRIDE_WALLET_API" {
		t.Fatalf("ConfigError.Key = %q, want MYRIDE_WALLET_API", cfgErr.Key)
	}
}

func TestLoadRejectsRelativeWalletAPI(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("MYRIDE_WALLET_API", "wallet.example.test/api")

	if _, err := Load(); err == nil {
		t.Fatalf("Load() expected error for relative base URL")
	}
}

func TestLoadParsesOverrides(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("MYRIDE_WALLET_API", "http://localhost:9000")
	t.Setenv("APP_INIT_TIMEOUT", "30s")
	t.Setenv("TRANSIT_PROVIDERS", "DDOT, SMART ,QLine")
	t.Setenv("WALLET_API_RATE_LIMIT", "0")
	t.Setenv("APP_ALLOW_ANY_ORIGIN", "yes")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.InitTimeout != 30*time.Second {
		t.Fatalf("InitTimeout = %v, want 30s", cfg.InitTimeout)
	}
	want := []string{"DDOT", "SMART", "QLine"}
	for i, p := range want {
		if cfg.TransitProviders[i] != p {
			t.Fatalf("TransitProviders = %v, want %v", cfg.TransitProviders, want)
		}
	}
	if cfg.WalletAPIRateLimit != 0 || !cfg.AllowAnyOrigin {
		t.Fatalf("unexpected overrides: %+v", cfg)
	}
}

func TestLoadInvalidDuration(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("MYRIDE_WALLET_API", "http://localhost:9000")
	t.Setenv("PURCHASE_BALANCE_MAX_AGE", "soon")

	if _, err := Load(); err == nil {
		t.Fatalf("Load() expected parse error")
	}
}

func TestLoadReadsConfigFile(t *testing.T) {
	setCoreEnvEmpty(t)
	path := filepath.Join(t.TempDir(), "ridewallet.yaml")
	body := "MYRIDE_WALLET_API: https://file.example.test\nAPP_BIND_ADDR: \":9191\"\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("RIDEWALLET_CONFIG", path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.WalletAPIBaseURL != "https://file.example.test" {
		t.Fatalf("WalletAPIBaseURL = %q", cfg.WalletAPIBaseURL)
	}
	if cfg.BindAddr != ":9191" {
		t.Fatalf("BindAddr = %q, want :9191", cfg.BindAddr)
	}
}

func setCoreEnvEmpty(t *testing.T) {
	t.Helper()
	keys := []string{
		"RIDEWALLET_CONFIG",
		"APP_BIND_ADDR",
		"APP_SHUTDOWN_TIMEOUT",
		"APP_INIT_TIMEOUT",
		"APP_SESSION_INACTIVITY_TIMEOUT",
		"APP_METRICS_NAMESPACE",
		"APP_ALLOW_ANY_ORIGIN",
		"LOG_LEVEL",
		"MYRIDE_WALLET_API",
		"WALLET_API_TIMEOUT",
		"WALLET_API_RATE_LIMIT",
		"AGENT_PROMPT_FILE",
		"TRANSIT_PROVIDERS",
		"PURCHASE_BALANCE_MAX_AGE",
		"DATABASE_URL",
	}
	for _, k := range keys {
		t.Setenv(k, "")
	}
}
