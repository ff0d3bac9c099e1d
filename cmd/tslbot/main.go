package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"threecommas-tsl-bot/config"
	"threecommas-tsl-bot/internal/api"
	"threecommas-tsl-bot/internal/cache"
	"threecommas-tsl-bot/internal/database"
	"threecommas-tsl-bot/internal/engine"
	"threecommas-tsl-bot/internal/events"
	"threecommas-tsl-bot/internal/logging"
	"threecommas-tsl-bot/internal/metrics"
	"threecommas-tsl-bot/internal/notification"
	"threecommas-tsl-bot/internal/threecommas"
	"threecommas-tsl-bot/internal/vault"
)

func main() {
	configPath := flag.String("config", "trailingstoploss_tp.ini", "path to the INI configuration file")
	flag.Parse()

	// Secrets may come from a local .env; missing file is fine.
	_ = godotenv.Load()

	cfg, skipped, err := config.Load(*configPath)
	if err != nil {
		// No logger yet; stderr is all we have.
		os.Stderr.WriteString("failed to load configuration: " + err.Error() + "\n")
		os.Exit(1)
	}

	logger := logging.New(logging.Config{
		Level:      cfg.Settings.LogLevel,
		File:       cfg.Settings.LogFile,
		MaxAgeDays: cfg.Settings.LogRotateDays,
		Console:    cfg.Settings.LogLevel == "debug",
	})
	for _, section := range skipped {
		logger.Warn().Str("section", section).Msg("configuration section skipped")
	}
	if len(cfg.Groups) == 0 {
		logger.Fatal().Msg("no valid bot group sections configured")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Database and migrations.
	db, err := database.New(ctx, database.Config{
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		Database: cfg.Database.Database,
		SSLMode:  cfg.Database.SSLMode,
	}, logging.ForComponent(logger, "database"))
	if err != nil {
		logger.Fatal().Err(err).Msg("database connection failed")
	}
	defer db.Close()

	if err := db.Migrate(ctx); err != nil {
		logger.Fatal().Err(err).Msg("database migration failed")
	}
	repo := database.NewRepository(db)

	// API credentials: config/env first, Vault override when enabled.
	apiKey, apiSecret := cfg.Settings.APIKey, cfg.Settings.APISecret
	if cfg.Vault.Enabled {
		vaultClient, err := vault.NewClient(cfg.Vault)
		if err != nil {
			logger.Fatal().Err(err).Msg("vault client creation failed")
		}
		creds, err := vaultClient.GetCredentials(ctx)
		if err != nil {
			logger.Fatal().Err(err).Msg("reading credentials from vault failed")
		}
		apiKey, apiSecret = creds.APIKey, creds.APISecret
		logger.Info().Msg("credentials loaded from vault")
	}
	if apiKey == "" || apiSecret == "" {
		logger.Fatal().Msg("3commas API credentials are not configured")
	}

	var client engine.PlatformClient = threecommas.NewClient(apiKey, apiSecret, "", logging.ForComponent(logger, "threecommas"))

	// Optional Redis reference-data cache; degrades to direct calls.
	var cacheService *cache.CacheService
	if cfg.Redis.Enabled {
		cacheService, err = cache.NewCacheService(cfg.Redis, logging.ForComponent(logger, "cache"))
		if err != nil {
			logger.Warn().Err(err).Msg("cache unavailable, using direct API calls")
		} else {
			defer cacheService.Close()
			client = cache.NewCachedClient(client, cacheService)
		}
	}

	bus := events.NewEventBus()

	notifyManager := notification.NewManager(logging.ForComponent(logger, "notification"))
	notifyManager.SetGates(cfg.Settings.NotifyTrailingUpdate, cfg.Settings.NotifyTrailingReset)
	if cfg.Notification.Enabled {
		notifyManager.AddNotifier(notification.NewTelegramNotifier(notification.TelegramConfig{
			BotToken: cfg.Notification.Telegram.BotToken,
			ChatID:   cfg.Notification.Telegram.ChatID,
			Enabled:  cfg.Notification.Telegram.Enabled,
		}))
		notifyManager.AddNotifier(notification.NewDiscordNotifier(notification.DiscordConfig{
			WebhookURL: cfg.Notification.Discord.WebhookURL,
			Enabled:    cfg.Notification.Discord.Enabled,
		}))
	}
	notifyManager.SubscribeTo(bus)

	m := metrics.New(prometheus.DefaultRegisterer)
	eng := engine.New(client, repo, bus, m, logging.ForComponent(logger, "engine"))

	var server *api.Server
	if cfg.Server.Enabled {
		server = api.NewServer(cfg.Server, repo, db, cacheService, bus, logging.ForComponent(logger, "api"))
		go func() {
			if err := server.Start(); err != nil {
				logger.Error().Err(err).Msg("status server failed")
			}
		}()
	}

	logger.Info().
		Int("groups", len(cfg.Groups)).
		Dur("check_interval", cfg.Settings.CheckInterval).
		Dur("monitor_interval", cfg.Settings.MonitorInterval).
		Msg("trailing stop-loss bot started")

	run(ctx, eng, notifyManager, *configPath, cfg, logger)

	if server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("status server shutdown failed")
		}
	}
	logger.Info().Msg("shutdown complete")
}

// run is the outer polling loop. The configuration file is re-read
// every pass, so intervals, notification switches and threshold tables
// can change without a restart; a broken reload keeps the last good
// configuration.
func run(ctx context.Context, eng *engine.Engine, notifyManager *notification.Manager, configPath string, cfg *config.Config, logger zerolog.Logger) {
	for {
		results := eng.RunCycle(ctx, cfg.Groups, cfg.Settings)

		monitored := 0
		for _, result := range results {
			monitored += result.Monitored
		}

		interval := cfg.Settings.CheckInterval
		if monitored > 0 {
			interval = cfg.Settings.MonitorInterval
		}

		logger.Info().
			Int("bots", len(results)).
			Int("monitored", monitored).
			Dur("sleep", interval).
			Msg("cycle complete")

		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
		}

		if reloaded, skipped, err := config.Load(configPath); err != nil {
			logger.Warn().Err(err).Msg("configuration reload failed, keeping previous")
		} else if len(reloaded.Groups) == 0 {
			logger.Warn().Msg("reloaded configuration has no valid bot groups, keeping previous")
		} else {
			for _, section := range skipped {
				logger.Warn().Str("section", section).Msg("configuration section skipped")
			}
			cfg = reloaded
			notifyManager.SetGates(cfg.Settings.NotifyTrailingUpdate, cfg.Settings.NotifyTrailingReset)
		}
	}
}
