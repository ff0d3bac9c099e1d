package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "trailingstoploss_tp.ini")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

const validConfig = `[settings]
timezone = Europe/Amsterdam
check-interval = 300
monitor-interval = 60
3c-apikey = key123
3c-apisecret = secret456

[database]
host = dbhost
port = 5433

[tsl_tp_main]
botids = [12345, 67890]
safety-mode = merge
profit-config = [{"activation-percentage": "2.0", "activation-so-count": "0", "initial-stoploss-percentage": "0.5", "sl-timeout": "0", "sl-increment-factor": "0.0", "tp-increment-factor": "0.4"}]
safety-config = [{"activation-percentage": "0.0", "activation-so-count": "0", "initial-buy-percentage": "0.1", "buy-increment-factor": "0.5"}]
`

func TestLoad(t *testing.T) {
	path := writeConfig(t, validConfig)

	cfg, skipped, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(skipped) != 0 {
		t.Errorf("unexpected skipped sections: %v", skipped)
	}

	if cfg.Settings.CheckInterval != 5*time.Minute {
		t.Errorf("CheckInterval = %v, want 5m", cfg.Settings.CheckInterval)
	}
	if cfg.Settings.MonitorInterval != time.Minute {
		t.Errorf("MonitorInterval = %v, want 1m", cfg.Settings.MonitorInterval)
	}
	if cfg.Settings.APIKey != "key123" || cfg.Settings.APISecret != "secret456" {
		t.Error("API credentials not read from the settings section")
	}
	if cfg.Settings.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want the info default", cfg.Settings.LogLevel)
	}
	if !cfg.Settings.NotifyTrailingUpdate || !cfg.Settings.NotifyTrailingReset {
		t.Error("notification gates must default to enabled")
	}

	if cfg.Database.Host != "dbhost" || cfg.Database.Port != 5433 {
		t.Errorf("database overrides not applied: %+v", cfg.Database)
	}
	if cfg.Database.SSLMode != "disable" {
		t.Errorf("SSLMode = %q, want the disable default", cfg.Database.SSLMode)
	}

	if len(cfg.Groups) != 1 {
		t.Fatalf("expected 1 group, got %d", len(cfg.Groups))
	}
	group := cfg.Groups[0]
	if group.Name != "tsl_tp_main" {
		t.Errorf("group name = %q", group.Name)
	}
	if len(group.BotIDs) != 2 || group.BotIDs[0] != 12345 || group.BotIDs[1] != 67890 {
		t.Errorf("BotIDs = %v", group.BotIDs)
	}
	if group.SafetyMode != SafetyModeMerge {
		t.Errorf("SafetyMode = %q", group.SafetyMode)
	}

	if len(group.ProfitLevels) != 1 {
		t.Fatalf("expected 1 profit level, got %d", len(group.ProfitLevels))
	}
	level := group.ProfitLevels[0]
	if level.ActivationPercentage != 2.0 {
		t.Errorf("ActivationPercentage = %v, want 2.0", level.ActivationPercentage)
	}
	if level.InitialStoplossPercentage != 0.5 {
		t.Errorf("InitialStoplossPercentage = %v, want 0.5", level.InitialStoplossPercentage)
	}
	if level.TPIncrementFactor != 0.4 {
		t.Errorf("TPIncrementFactor = %v, want 0.4", level.TPIncrementFactor)
	}

	if len(group.SafetyLevels) != 1 {
		t.Fatalf("expected 1 safety level, got %d", len(group.SafetyLevels))
	}
	if group.SafetyLevels[0].BuyIncrementFactor != 0.5 {
		t.Errorf("BuyIncrementFactor = %v, want 0.5", group.SafetyLevels[0].BuyIncrementFactor)
	}
}

func TestLoadSkipsInvalidGroups(t *testing.T) {
	path := writeConfig(t, validConfig+`
[tsl_tp_shiftmode]
botids = [111]
safety-mode = shift
profit-config = []
safety-config = []

[tsl_tp_nobots]
botids = []
safety-mode = merge
profit-config = []
safety-config = []
`)

	cfg, skipped, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if len(cfg.Groups) != 1 || cfg.Groups[0].Name != "tsl_tp_main" {
		t.Errorf("only the valid group should survive, got %+v", cfg.Groups)
	}
	if len(skipped) != 2 {
		t.Fatalf("expected 2 skipped sections, got %v", skipped)
	}
	joined := strings.Join(skipped, "\n")
	if !strings.Contains(joined, "tsl_tp_shiftmode") || !strings.Contains(joined, "tsl_tp_nobots") {
		t.Errorf("skipped sections should be named: %v", skipped)
	}
}

func TestLoadBareNumberLevels(t *testing.T) {
	path := writeConfig(t, `[settings]
check-interval = 120
monitor-interval = 60
3c-apikey = k
3c-apisecret = s

[tsl_tp_numeric]
botids = [1]
safety-mode = merge
profit-config = [{"activation-percentage": 3, "activation-so-count": 1, "initial-stoploss-percentage": 1.5, "sl-timeout": 30, "sl-increment-factor": 0.1, "tp-increment-factor": 0}]
safety-config = []
`)

	cfg, _, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(cfg.Groups) != 1 {
		t.Fatalf("expected 1 group, got %d", len(cfg.Groups))
	}
	level := cfg.Groups[0].ProfitLevels[0]
	if level.ActivationPercentage != 3.0 || level.ActivationSOCount != 1 || level.SLTimeout != 30 {
		t.Errorf("bare numbers not decoded: %+v", level)
	}
}

func TestLoadRejectsMissingCredentials(t *testing.T) {
	t.Setenv("THREECOMMAS_API_KEY", "")
	t.Setenv("THREECOMMAS_API_SECRET", "")

	path := writeConfig(t, `[settings]
check-interval = 120
monitor-interval = 60
`)

	if _, _, err := Load(path); err == nil {
		t.Fatal("config without credentials must be rejected")
	}
}

// TestLoadAllowsVaultOnlyCredentials verifies that a config without
// inline or env credentials still loads when Vault is the credential
// source.
func TestLoadAllowsVaultOnlyCredentials(t *testing.T) {
	t.Setenv("THREECOMMAS_API_KEY", "")
	t.Setenv("THREECOMMAS_API_SECRET", "")

	path := writeConfig(t, `[settings]
check-interval = 120
monitor-interval = 60

[vault]
enabled = true
addr = http://127.0.0.1:8200
secret-path = secret/data/tslbot
`)

	cfg, _, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !cfg.Vault.Enabled {
		t.Error("Vault.Enabled = false, want true")
	}
	if cfg.Settings.APIKey != "" || cfg.Settings.APISecret != "" {
		t.Errorf("credentials = %q/%q, want empty until the vault read", cfg.Settings.APIKey, cfg.Settings.APISecret)
	}
}

func TestLoadRejectsInvertedIntervals(t *testing.T) {
	path := writeConfig(t, `[settings]
check-interval = 60
monitor-interval = 120
3c-apikey = k
3c-apisecret = s
`)

	if _, _, err := Load(path); err == nil {
		t.Fatal("monitor-interval above check-interval must be rejected")
	}
}

func TestCredentialsFromEnvironment(t *testing.T) {
	t.Setenv("THREECOMMAS_API_KEY", "env-key")
	t.Setenv("THREECOMMAS_API_SECRET", "env-secret")

	path := writeConfig(t, `[settings]
check-interval = 120
monitor-interval = 60
`)

	cfg, _, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Settings.APIKey != "env-key" || cfg.Settings.APISecret != "env-secret" {
		t.Errorf("credentials not taken from the environment: %q/%q", cfg.Settings.APIKey, cfg.Settings.APISecret)
	}
}
