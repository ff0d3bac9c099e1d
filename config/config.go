package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-viper/encoding/ini"
	"github.com/spf13/viper"
)

// Config is the full runtime configuration, loaded from an INI file.
// The [settings] section plus infrastructure sections map onto the
// typed structs below; every [tsl_tp_*] section becomes a BotGroup.
type Config struct {
	Settings     Settings
	Database     DatabaseConfig
	Redis        RedisConfig
	Server       ServerConfig
	Vault        VaultConfig
	Notification NotificationConfig
	Groups       []BotGroup
}

// Settings holds the main poller settings.
type Settings struct {
	Timezone             string
	CheckInterval        time.Duration
	MonitorInterval      time.Duration
	LogLevel             string
	LogFile              string
	LogRotateDays        int
	APIKey               string
	APISecret            string
	NotifyTrailingUpdate bool
	NotifyTrailingReset  bool
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

// RedisConfig holds Redis connection settings for the reference-data cache.
type RedisConfig struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
}

// ServerConfig holds the status API settings.
type ServerConfig struct {
	Enabled bool
	Addr    string
}

// VaultConfig holds the optional Vault credential source settings.
type VaultConfig struct {
	Enabled    bool
	Addr       string
	Token      string
	SecretPath string
}

// NotificationConfig holds notification provider settings.
type NotificationConfig struct {
	Enabled  bool
	Telegram TelegramConfig
	Discord  DiscordConfig
}

type TelegramConfig struct {
	Enabled  bool
	BotToken string
	ChatID   string
}

type DiscordConfig struct {
	Enabled    bool
	WebhookURL string
}

// BotGroup is one [tsl_tp_*] section: a set of bots sharing threshold
// tables and a safety mode.
type BotGroup struct {
	Name         string
	BotIDs       []int64
	ProfitLevels []ProfitLevel
	SafetyLevels []SafetyLevel
	SafetyMode   string
}

// SafetyModeMerge is the only implemented safety mode. Sections with
// any other value are skipped with a warning.
const SafetyModeMerge = "merge"

// ProfitLevel is one entry of the profit threshold table.
type ProfitLevel struct {
	ActivationPercentage      float64
	ActivationSOCount         int
	InitialStoplossPercentage float64
	SLTimeout                 int
	SLIncrementFactor         float64
	TPIncrementFactor         float64
}

// SafetyLevel is one entry of the safety-order threshold table.
type SafetyLevel struct {
	ActivationPercentage float64
	ActivationSOCount    int
	InitialBuyPercentage float64
	BuyIncrementFactor   float64
}

// ActivationProfit implements engine.ThresholdLevel.
func (l ProfitLevel) ActivationProfit() float64 { return l.ActivationPercentage }

// ActivationSafetyOrders implements engine.ThresholdLevel.
func (l ProfitLevel) ActivationSafetyOrders() int { return l.ActivationSOCount }

// ActivationProfit implements engine.ThresholdLevel.
func (l SafetyLevel) ActivationProfit() float64 { return l.ActivationPercentage }

// ActivationSafetyOrders implements engine.ThresholdLevel.
func (l SafetyLevel) ActivationSafetyOrders() int { return l.ActivationSOCount }

const groupPrefix = "tsl_tp_"

// Load reads and validates the INI configuration file. Bot-group
// sections that fail validation are returned in skipped rather than
// failing the whole load; other groups keep running.
func Load(path string) (*Config, []string, error) {
	// The INI codec lives outside viper since v1.20 and has to be
	// registered explicitly.
	registry := viper.NewCodecRegistry()
	if err := registry.RegisterCodec("ini", ini.Codec{}); err != nil {
		return nil, nil, fmt.Errorf("register ini codec: %w", err)
	}

	v := viper.NewWithOptions(viper.WithCodecRegistry(registry))
	v.SetConfigFile(path)
	v.SetConfigType("ini")

	if err := v.ReadInConfig(); err != nil {
		return nil, nil, fmt.Errorf("read config %s: %w", path, err)
	}

	cfg := &Config{
		Settings: Settings{
			Timezone:             v.GetString("settings.timezone"),
			CheckInterval:        time.Duration(intOrDefault(v.GetString("settings.check-interval"), 120)) * time.Second,
			MonitorInterval:      time.Duration(intOrDefault(v.GetString("settings.monitor-interval"), 60)) * time.Second,
			LogLevel:             stringOrDefault(v.GetString("settings.log-level"), "info"),
			LogFile:              v.GetString("settings.log-file"),
			LogRotateDays:        intOrDefault(v.GetString("settings.logrotate"), 7),
			APIKey:               stringOrEnv(v.GetString("settings.3c-apikey"), "THREECOMMAS_API_KEY"),
			APISecret:            stringOrEnv(v.GetString("settings.3c-apisecret"), "THREECOMMAS_API_SECRET"),
			NotifyTrailingUpdate: boolOrDefault(v.GetString("settings.notify-trailing-update"), true),
			NotifyTrailingReset:  boolOrDefault(v.GetString("settings.notify-trailing-reset"), true),
		},
		Database: DatabaseConfig{
			Host:     stringOrDefault(v.GetString("database.host"), "localhost"),
			Port:     intOrDefault(v.GetString("database.port"), 5432),
			User:     stringOrDefault(v.GetString("database.user"), "tslbot"),
			Password: stringOrEnv(v.GetString("database.password"), "TSLBOT_DB_PASSWORD"),
			Database: stringOrDefault(v.GetString("database.name"), "tslbot"),
			SSLMode:  stringOrDefault(v.GetString("database.sslmode"), "disable"),
		},
		Redis: RedisConfig{
			Enabled:  v.GetBool("redis.enabled"),
			Addr:     stringOrDefault(v.GetString("redis.addr"), "localhost:6379"),
			Password: v.GetString("redis.password"),
			DB:       intOrDefault(v.GetString("redis.db"), 0),
		},
		Server: ServerConfig{
			Enabled: v.GetBool("server.enabled"),
			Addr:    stringOrDefault(v.GetString("server.addr"), ":8099"),
		},
		Vault: VaultConfig{
			Enabled:    v.GetBool("vault.enabled"),
			Addr:       v.GetString("vault.addr"),
			Token:      stringOrEnv(v.GetString("vault.token"), "VAULT_TOKEN"),
			SecretPath: v.GetString("vault.secret-path"),
		},
		Notification: NotificationConfig{
			Enabled: v.GetBool("notifications.enabled"),
			Telegram: TelegramConfig{
				Enabled:  v.GetBool("notifications.telegram-enabled"),
				BotToken: stringOrEnv(v.GetString("notifications.telegram-bot-token"), "TELEGRAM_BOT_TOKEN"),
				ChatID:   v.GetString("notifications.telegram-chat-id"),
			},
			Discord: DiscordConfig{
				Enabled:    v.GetBool("notifications.discord-enabled"),
				WebhookURL: stringOrEnv(v.GetString("notifications.discord-webhook-url"), "DISCORD_WEBHOOK_URL"),
			},
		},
	}

	var skipped []string
	seen := map[string]bool{}
	for _, key := range v.AllKeys() {
		section := key
		if idx := strings.Index(key, "."); idx >= 0 {
			section = key[:idx]
		}
		if seen[section] {
			continue
		}
		seen[section] = true

		if !strings.HasPrefix(section, groupPrefix) {
			continue
		}

		group, err := parseGroup(v, section)
		if err != nil {
			skipped = append(skipped, fmt.Sprintf("%s: %v", section, err))
			continue
		}
		cfg.Groups = append(cfg.Groups, group)
	}

	if err := cfg.validate(); err != nil {
		return nil, skipped, err
	}

	return cfg, skipped, nil
}

func parseGroup(v *viper.Viper, section string) (BotGroup, error) {
	group := BotGroup{
		Name:       section,
		SafetyMode: strings.ToLower(strings.TrimSpace(v.GetString(section + ".safety-mode"))),
	}

	if err := json.Unmarshal([]byte(v.GetString(section+".botids")), &group.BotIDs); err != nil {
		return group, fmt.Errorf("invalid botids: %w", err)
	}
	if len(group.BotIDs) == 0 {
		return group, fmt.Errorf("no botids configured")
	}

	if group.SafetyMode != SafetyModeMerge {
		return group, fmt.Errorf("invalid safety-mode %q (only %q is supported)", group.SafetyMode, SafetyModeMerge)
	}

	profitLevels, err := parseProfitLevels(v.GetString(section + ".profit-config"))
	if err != nil {
		return group, fmt.Errorf("invalid profit-config: %w", err)
	}
	group.ProfitLevels = profitLevels

	safetyLevels, err := parseSafetyLevels(v.GetString(section + ".safety-config"))
	if err != nil {
		return group, fmt.Errorf("invalid safety-config: %w", err)
	}
	group.SafetyLevels = safetyLevels

	return group, nil
}

// parseProfitLevels decodes the JSON profit-config list. Values are
// usually quoted strings in the INI file ("2.0"); bare numbers are
// accepted as well.
func parseProfitLevels(raw string) ([]ProfitLevel, error) {
	entries, err := decodeLevelList(raw)
	if err != nil {
		return nil, err
	}

	levels := make([]ProfitLevel, 0, len(entries))
	for i, entry := range entries {
		level := ProfitLevel{}
		if level.ActivationPercentage, err = entry.float("activation-percentage"); err != nil {
			return nil, fmt.Errorf("entry %d: %w", i, err)
		}
		if level.ActivationSOCount, err = entry.int("activation-so-count"); err != nil {
			return nil, fmt.Errorf("entry %d: %w", i, err)
		}
		if level.InitialStoplossPercentage, err = entry.float("initial-stoploss-percentage"); err != nil {
			return nil, fmt.Errorf("entry %d: %w", i, err)
		}
		if level.SLTimeout, err = entry.int("sl-timeout"); err != nil {
			return nil, fmt.Errorf("entry %d: %w", i, err)
		}
		if level.SLIncrementFactor, err = entry.float("sl-increment-factor"); err != nil {
			return nil, fmt.Errorf("entry %d: %w", i, err)
		}
		if level.TPIncrementFactor, err = entry.float("tp-increment-factor"); err != nil {
			return nil, fmt.Errorf("entry %d: %w", i, err)
		}
		if level.ActivationPercentage < 0 {
			return nil, fmt.Errorf("entry %d: negative activation-percentage", i)
		}
		levels = append(levels, level)
	}
	return levels, nil
}

func parseSafetyLevels(raw string) ([]SafetyLevel, error) {
	entries, err := decodeLevelList(raw)
	if err != nil {
		return nil, err
	}

	levels := make([]SafetyLevel, 0, len(entries))
	for i, entry := range entries {
		level := SafetyLevel{}
		if level.ActivationPercentage, err = entry.float("activation-percentage"); err != nil {
			return nil, fmt.Errorf("entry %d: %w", i, err)
		}
		if level.ActivationSOCount, err = entry.int("activation-so-count"); err != nil {
			return nil, fmt.Errorf("entry %d: %w", i, err)
		}
		if level.InitialBuyPercentage, err = entry.float("initial-buy-percentage"); err != nil {
			return nil, fmt.Errorf("entry %d: %w", i, err)
		}
		if level.BuyIncrementFactor, err = entry.float("buy-increment-factor"); err != nil {
			return nil, fmt.Errorf("entry %d: %w", i, err)
		}
		levels = append(levels, level)
	}
	return levels, nil
}

type levelEntry map[string]json.RawMessage

func decodeLevelList(raw string) ([]levelEntry, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}

	var entries []levelEntry
	if err := json.Unmarshal([]byte(raw), &entries); err != nil {
		return nil, fmt.Errorf("not a JSON list: %w", err)
	}
	return entries, nil
}

func (e levelEntry) float(key string) (float64, error) {
	raw, ok := e[key]
	if !ok {
		return 0, fmt.Errorf("missing key %q", key)
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return 0, fmt.Errorf("key %q: %w", key, err)
		}
		return f, nil
	}

	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		return 0, fmt.Errorf("key %q: not a number", key)
	}
	return f, nil
}

func (e levelEntry) int(key string) (int, error) {
	f, err := e.float(key)
	if err != nil {
		return 0, err
	}
	return int(f), nil
}

func (c *Config) validate() error {
	// With Vault enabled the credentials arrive after load; main
	// re-checks them once the Vault read completes.
	if !c.Vault.Enabled && (c.Settings.APIKey == "" || c.Settings.APISecret == "") {
		return fmt.Errorf("3Commas API key and secret are required")
	}
	if c.Settings.CheckInterval <= 0 || c.Settings.MonitorInterval <= 0 {
		return fmt.Errorf("check-interval and monitor-interval must be positive")
	}
	if c.Settings.MonitorInterval > c.Settings.CheckInterval {
		return fmt.Errorf("monitor-interval must not exceed check-interval")
	}
	return nil
}

func stringOrDefault(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}

func stringOrEnv(s, envKey string) string {
	if strings.TrimSpace(s) != "" {
		return s
	}
	return os.Getenv(envKey)
}

func intOrDefault(s string, def int) int {
	s = strings.TrimSpace(s)
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}

func boolOrDefault(s string, def bool) bool {
	s = strings.TrimSpace(s)
	if s == "" {
		return def
	}
	b, err := strconv.ParseBool(s)
	if err != nil {
		return def
	}
	return b
}
