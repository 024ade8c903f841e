package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/rewired-gh/soulwatch/internal/cache"
	"github.com/rewired-gh/soulwatch/internal/changelog"
	"github.com/rewired-gh/soulwatch/internal/config"
	"github.com/rewired-gh/soulwatch/internal/credentials"
	"github.com/rewired-gh/soulwatch/internal/discord"
	"github.com/rewired-gh/soulwatch/internal/events"
	"github.com/rewired-gh/soulwatch/internal/logger"
	"github.com/rewired-gh/soulwatch/internal/models"
	"github.com/rewired-gh/soulwatch/internal/monitor"
	"github.com/rewired-gh/soulwatch/internal/notifier"
	"github.com/rewired-gh/soulwatch/internal/registry"
	"github.com/rewired-gh/soulwatch/internal/resolver"
	"github.com/rewired-gh/soulwatch/internal/roblox"
	"github.com/rewired-gh/soulwatch/internal/storage"
	"github.com/rewired-gh/soulwatch/internal/telegram"
)

var configPath = flag.String("config", "configs/config.yaml", "Path to configuration file")

// store is what both the registry and the notifier persist through.
type store interface {
	registry.Store
	notifier.ChangelogStore
	Close() error
}

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	logger.Init(cfg.Logging.Level, cfg.Logging.Format)
	logger.Info("Configuration loaded from %s", *configPath)

	if err := run(cfg); err != nil {
		logger.Fatal("%v", err)
	}
	logger.Info("Service stopped")
}

// run owns every opened resource; it returns only after they are closed.
func run(cfg *config.Config) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rotator, err := credentials.NewRotator(cfg.Roblox.Credentials)
	if err != nil {
		return fmt.Errorf("invalid credential pool: %w", err)
	}
	logger.Info("Loaded %d Roblox credentials", rotator.Size())

	st, err := openStore(cfg.Storage)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer func() {
		if err := st.Close(); err != nil {
			logger.Error("Failed to close storage: %v", err)
		}
	}()

	reg, err := registry.Load(ctx, st)
	if err != nil {
		return fmt.Errorf("failed to load tenants: %w", err)
	}

	stateCache, err := openCache(ctx, cfg.Cache)
	if err != nil {
		return fmt.Errorf("failed to initialize state cache: %w", err)
	}
	defer func() {
		if err := stateCache.Close(); err != nil {
			logger.Error("Failed to close state cache: %v", err)
		}
	}()

	robloxClient := roblox.NewClient(
		roblox.Endpoints{
			Users:      cfg.Roblox.UsersAPIURL,
			Presence:   cfg.Roblox.PresenceAPIURL,
			Thumbnails: cfg.Roblox.ThumbnailsAPIURL,
			Economy:    cfg.Roblox.EconomyAPIURL,
			Catalog:    cfg.Roblox.CatalogAPIURL,
		},
		rotator,
		roblox.ClientConfig{
			Timeout:        cfg.Roblox.Timeout,
			MaxRetries:     cfg.Roblox.MaxRetries,
			RetryDelayBase: cfg.Roblox.RetryDelayBase,
		},
	)
	userResolver := resolver.New(robloxClient, cfg.Roblox.SearchLimit)

	session, err := discord.NewSession(cfg.Discord.BotToken)
	if err != nil {
		return err
	}
	if err := session.Open(); err != nil {
		return fmt.Errorf("failed to open Discord connection: %w", err)
	}
	defer func() {
		if err := session.Close(); err != nil {
			logger.Error("Failed to close Discord session: %v", err)
		}
	}()
	logger.Info("Connected to Discord as %s", session.State.User.Username)

	guilds := discord.New(session, discord.Config{
		Channels: discord.Channels{
			Category:  cfg.Discord.Category,
			Status:    cfg.Discord.StatusChannel,
			Items:     cfg.Discord.ItemChannel,
			Changelog: cfg.Discord.ChangelogChannel,
		},
		MaxRetries:     cfg.Discord.MaxRetries,
		RetryDelayBase: cfg.Discord.RetryDelayBase,
	})

	var notifierOpts []notifier.Option
	if cfg.Events.Enabled {
		publisher := events.NewPublisher(events.Config{Brokers: cfg.Events.Brokers, Topic: cfg.Events.Topic})
		defer func() {
			if err := publisher.Close(); err != nil {
				logger.Error("Failed to close event publisher: %v", err)
			}
		}()
		notifierOpts = append(notifierOpts, notifier.WithPublisher(publisher))
		logger.Info("Mirroring transitions to Kafka topic %s", cfg.Events.Topic)
	}
	changeNotifier := notifier.New(guilds, guilds, st, notifierOpts...)

	var alertSink alertSender
	if cfg.Telegram.Enabled {
		telegramClient, err := telegram.NewClient(cfg.Telegram.BotToken, cfg.Telegram.ChatID, cfg.Telegram.MaxRetries, cfg.Telegram.RetryDelayBase)
		if err != nil {
			return fmt.Errorf("failed to initialize Telegram client: %w", err)
		}
		telegramClient.SetStatusFunc(func() string {
			return statusSummary(reg.Snapshot())
		})
		telegramClient.ListenForCommands(ctx)
		alertSink = telegramClient
		logger.Info("Telegram client initialized successfully")
	} else {
		logger.Debug("Telegram notifications disabled")
	}
	alerts := newAlerter(alertSink)

	presencePoller := monitor.NewPoller[string, models.Status](
		monitor.Config{
			Interval:               cfg.Poller.PresenceInterval,
			NotifyFirstObservation: true,
			RemoveUnreachable:      true,
			Purge:                  stateCache.PurgeTenant,
			OnReport:               alerts.handle,
		},
		reg, guilds,
		monitor.NewPresenceSource(robloxClient, stateCache, userResolver, reg),
		changeNotifier,
	)
	pricePoller := monitor.NewPoller[int64, float64](
		monitor.Config{
			Interval: cfg.Poller.ItemInterval,
			OnReport: alerts.handle,
		},
		reg, guilds,
		monitor.NewPriceSource(robloxClient, reg),
		changeNotifier,
	)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("Shutdown signal received, cleaning up...")
		cancel()
	}()

	var wg sync.WaitGroup
	run := func(fn func(context.Context)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn(ctx)
		}()
	}
	run(presencePoller.Run)
	run(pricePoller.Run)
	if cfg.Changelog.Enabled {
		run(changelog.NewWatcher(cfg.Changelog.Path, cfg.Poller.ChangelogInterval, changeNotifier).Run)
	}

	<-ctx.Done()
	wg.Wait()
	return nil
}

func statusSummary(tenants []models.Tenant) string {
	users, items := 0, 0
	for _, t := range tenants {
		users += len(t.Users)
		items += len(t.Items)
	}
	return fmt.Sprintf("%d tenants, %d users, %d items tracked", len(tenants), users, items)
}

func openStore(cfg config.StorageConfig) (store, error) {
	switch cfg.Backend {
	case "file":
		logger.Info("Persisting tracking lists to %s", cfg.FilePath)
		return storage.NewFileStore(cfg.FilePath)
	default:
		logger.Info("Persisting tracking lists to SQLite database %s", cfg.DBPath)
		return storage.New(cfg.DBPath)
	}
}

func openCache(ctx context.Context, cfg config.CacheConfig) (cache.StateCache, error) {
	if cfg.Backend != "redis" {
		return cache.NewMemory(), nil
	}
	c := cache.NewRedis(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.KeyPrefix)
	if err := c.Ping(ctx); err != nil {
		c.Close() //nolint:errcheck
		return nil, fmt.Errorf("redis at %s unreachable: %w", cfg.RedisAddr, err)
	}
	logger.Info("Using Redis state cache at %s", cfg.RedisAddr)
	return c, nil
}
