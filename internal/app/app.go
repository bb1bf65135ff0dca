// Package app wires configuration into a running bot: strategy, feed,
// executor, event bus, persistence, archiving, notifications, and the HTTP
// status server.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	s3blob "github.com/openquant/botcore/internal/blob/s3"
	"github.com/openquant/botcore/internal/bot"
	"github.com/openquant/botcore/internal/cache/redis"
	"github.com/openquant/botcore/internal/config"
	"github.com/openquant/botcore/internal/domain"
	"github.com/openquant/botcore/internal/event"
	"github.com/openquant/botcore/internal/executor"
	"github.com/openquant/botcore/internal/feed"
	"github.com/openquant/botcore/internal/notify"
	"github.com/openquant/botcore/internal/portfolio"
	"github.com/openquant/botcore/internal/server"
	"github.com/openquant/botcore/internal/server/handler"
	"github.com/openquant/botcore/internal/server/ws"
	"github.com/openquant/botcore/internal/service"
	"github.com/openquant/botcore/internal/store/postgres"
	"github.com/openquant/botcore/internal/strategy"
)

// Run modes. "trade" runs the bot with in-process infrastructure only;
// "full" additionally connects the enabled external backends (redis,
// postgres, s3, notifications).
const (
	ModeTrade = "trade"
	ModeFull  = "full"
)

// signalBuffer sizes the strategy-to-executor channel.
const signalBuffer = 64

// App owns the wired components and their shutdown order.
type App struct {
	cfg      config.Config
	logger   *slog.Logger
	cleanups []func()
}

// New validates nothing; cfg must already be validated by config.Load.
func New(cfg config.Config, logger *slog.Logger) *App {
	return &App{cfg: cfg, logger: logger}
}

// Run builds every component for the configured mode and blocks until the
// context is cancelled or a component fails. Shutdown is graceful: the bot
// loop stops first, then the HTTP server drains, then backends close.
func (a *App) Run(ctx context.Context) error {
	defer a.runCleanups()

	cfg := a.cfg
	full := cfg.Mode == ModeFull

	// Strategy.
	registry := strategy.Defaults()
	hooks, err := registry.Build(cfg.Bot.Strategy, strategy.Config{
		BotName:      cfg.Bot.Name,
		Pairs:        cfg.Bot.Pairs,
		Timeframe:    cfg.Bot.Timeframe,
		PollInterval: cfg.Bot.PollInterval.Duration,
		Params:       cfg.Bot.Params,
		Logger:       a.logger,
	})
	if err != nil {
		return fmt.Errorf("app: build strategy: %w", err)
	}

	// Market data.
	source := feed.NewRandomWalk(feed.RandomWalkOptions{
		Pairs:          cfg.Bot.Pairs,
		Timeframe:      cfg.Bot.Timeframe,
		StartPrice:     cfg.Feed.StartPrice,
		Volatility:     cfg.Feed.Volatility,
		TickInterval:   cfg.Feed.TickInterval.Duration,
		CandleInterval: cfg.Feed.CandleInterval.Duration,
		Seed:           cfg.Feed.Seed,
	}, a.logger)

	// Bot and executor share one signal channel and one event bus.
	signals := make(chan domain.Signal, signalBuffer)
	b := bot.New(hooks, bot.Options{
		Logger:       a.logger,
		Candles:      source.Candles(),
		Ticks:        source.Ticks(),
		Signals:      signals,
		PollInterval: cfg.Bot.PollInterval.Duration,
	})

	pf := portfolio.New()
	exec := executor.New(signals, pf, b.Bus(), executor.Options{
		DefaultQuantity: cfg.Executor.DefaultQuantity,
		SlippageBps:     cfg.Executor.SlippageBps,
		DedupTTL:        cfg.Executor.DedupTTL.Duration,
	}, a.logger)

	// Out-of-process event bus. Redis in full mode, in-memory otherwise.
	domainBus, err := a.buildDomainBus(ctx, full)
	if err != nil {
		return err
	}
	b.Bus().Mirror(streamingPublisher{domainBus}, "events")

	// Trade journal.
	var positionStore domain.PositionStore
	if full && cfg.Postgres.Enabled {
		positionStore, err = a.attachJournal(ctx, b.Bus())
		if err != nil {
			return err
		}
	}

	// Notifications.
	if senders := a.buildSenders(); len(senders) > 0 {
		notifier := notify.NewNotifier(senders, cfg.Notify.Events, a.logger)
		notify.AttachBus(b.Bus(), notifier)
	}

	g, gctx := errgroup.WithContext(ctx)

	// Snapshot archiver.
	if full && cfg.S3.Enabled {
		archiver, err := a.buildArchiver(ctx, b, pf)
		if err != nil {
			return err
		}
		g.Go(func() error { return ignoreCancel(archiver.Run(gctx, cfg.Archive.Interval.Duration)) })
	}

	// Status server and WebSocket stream.
	if cfg.Server.Enabled {
		hub := ws.NewHub(domainBus, ws.Config{
			BotName: cfg.Bot.Name,
			Mode:    cfg.Mode,
		}, a.logger)
		g.Go(func() error { return ignoreCancel(hub.Run(gctx)) })

		srv := server.New(server.Config{
			Port:        cfg.Server.Port,
			CORSOrigins: cfg.Server.CORSOrigins,
		}, server.Handlers{
			Health:    handler.NewHealthHandler(a.logger),
			Status:    handler.NewStatusHandler(b, registry.List(), cfg.Mode, a.logger),
			Positions: handler.NewPositionHandler(pf, positionStore, a.logger),
			Events:    handler.NewEventsHandler(domainBus, a.logger),
			Hub:       hub,
		}, a.logger)

		g.Go(srv.Start)
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	g.Go(func() error { return ignoreCancel(source.Run(gctx)) })
	g.Go(func() error { return ignoreCancel(exec.Run(gctx)) })
	g.Go(func() error { return b.Run(gctx) })

	a.logger.Info("botcore running",
		slog.String("mode", cfg.Mode),
		slog.String("strategy", cfg.Bot.Strategy),
		slog.Any("pairs", cfg.Bot.Pairs),
	)

	return g.Wait()
}

// buildDomainBus returns the bus that carries events out of the process.
func (a *App) buildDomainBus(ctx context.Context, full bool) (domain.EventBus, error) {
	if !full || !a.cfg.Redis.Enabled {
		return event.NewMemBus(), nil
	}

	client, err := redis.New(ctx, redis.ClientConfig{
		Addr:       a.cfg.Redis.Addr,
		Password:   a.cfg.Redis.Password,
		DB:         a.cfg.Redis.DB,
		PoolSize:   a.cfg.Redis.PoolSize,
		MaxRetries: a.cfg.Redis.MaxRetries,
		TLSEnabled: a.cfg.Redis.TLSEnabled,
	})
	if err != nil {
		return nil, fmt.Errorf("app: connect redis: %w", err)
	}
	a.onCleanup(func() {
		if err := client.Close(); err != nil {
			a.logger.Warn("redis close failed", slog.String("error", err.Error()))
		}
	})

	a.logger.Info("redis event bus connected", slog.String("addr", a.cfg.Redis.Addr))
	return redis.NewEventBus(client), nil
}

// attachJournal connects PostgreSQL, runs migrations when configured, and
// hooks the journal into the bot event bus. Returns the position store for
// the HTTP API.
func (a *App) attachJournal(ctx context.Context, bus *event.Bus) (domain.PositionStore, error) {
	pg := a.cfg.Postgres
	client, err := postgres.New(ctx, postgres.ClientConfig{
		DSN:      pg.DSN,
		Host:     pg.Host,
		Port:     pg.Port,
		Database: pg.Database,
		User:     pg.User,
		Password: pg.Password,
		SSLMode:  pg.SSLMode,
		MaxConns: pg.PoolMaxConns,
		MinConns: pg.PoolMinConns,
	})
	if err != nil {
		return nil, fmt.Errorf("app: connect postgres: %w", err)
	}
	a.onCleanup(client.Close)

	if pg.RunMigrations {
		if err := client.RunMigrations(ctx); err != nil {
			return nil, fmt.Errorf("app: migrate: %w", err)
		}
	}

	positions := postgres.NewPositionStore(client.Pool())
	audit := postgres.NewAuditStore(client.Pool())
	service.NewJournal(positions, audit, a.logger).Attach(bus)

	a.logger.Info("trade journal attached", slog.String("database", pg.Database))
	return positions, nil
}

// buildArchiver connects object storage and returns the periodic snapshot
// archiver.
func (a *App) buildArchiver(ctx context.Context, b *bot.Bot, pf *portfolio.Portfolio) (*s3blob.Archiver, error) {
	client, err := s3blob.New(ctx, s3blob.ClientConfig{
		Endpoint:       a.cfg.S3.Endpoint,
		Region:         a.cfg.S3.Region,
		Bucket:         a.cfg.S3.Bucket,
		AccessKey:      a.cfg.S3.AccessKey,
		SecretKey:      a.cfg.S3.SecretKey,
		UseSSL:         a.cfg.S3.UseSSL,
		ForcePathStyle: a.cfg.S3.ForcePathStyle,
	})
	if err != nil {
		return nil, fmt.Errorf("app: connect s3: %w", err)
	}
	if err := client.Health(ctx); err != nil {
		return nil, fmt.Errorf("app: s3 health: %w", err)
	}

	a.logger.Info("snapshot archiver enabled", slog.String("bucket", a.cfg.S3.Bucket))
	return s3blob.NewArchiver(s3blob.NewWriter(client), b, pf, a.logger), nil
}

// buildSenders returns the configured notification senders.
func (a *App) buildSenders() []notify.Sender {
	var senders []notify.Sender
	if a.cfg.Notify.TelegramToken != "" && a.cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(a.cfg.Notify.TelegramToken, a.cfg.Notify.TelegramChatID))
	}
	if a.cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(a.cfg.Notify.DiscordWebhookURL))
	}
	return senders
}

func (a *App) onCleanup(f func()) {
	a.cleanups = append(a.cleanups, f)
}

// runCleanups closes backends in reverse construction order.
func (a *App) runCleanups() {
	for i := len(a.cleanups) - 1; i >= 0; i-- {
		a.cleanups[i]()
	}
}

// streamingPublisher fans mirrored events onto both the live pub/sub channel
// and the durable stream of the same name, so the WebSocket hub gets them
// immediately and /api/events can replay them.
type streamingPublisher struct {
	bus domain.EventBus
}

func (p streamingPublisher) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := p.bus.Publish(ctx, channel, payload); err != nil {
		return err
	}
	return p.bus.StreamAppend(ctx, channel, payload)
}

// ignoreCancel maps context cancellation to a clean exit so a requested
// shutdown does not surface as a run failure.
func ignoreCancel(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return err
}
