package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"solscope/internal/domain"
	"solscope/internal/infra"
	"solscope/internal/infra/birdeye"
	"solscope/internal/infra/redispub"
	"solscope/internal/infra/retry"
	"solscope/internal/infra/solana"
	"solscope/internal/infra/storage"
	"solscope/internal/monitor"
	"solscope/internal/server"
)

const (
	shutdownTimeout = 10 * time.Second
	pruneInterval   = time.Hour
)

// Bootstrap orchestrates the application startup sequence
type Bootstrap struct {
	Config    *infra.Config
	Metrics   *infra.Metrics
	Birdeye   *birdeye.Client
	SolPrice  *birdeye.SolPriceTracker // nil when disabled
	Monitor   *monitor.Monitor
	Storage   *storage.Storage      // nil when storage is disabled
	Publisher *redispub.Publisher   // nil when redis is disabled
	Logos     *infra.LogoDownloader // nil when the logo dir cannot be created
	Enricher  *Enricher
	Server    *server.Server
}

// NewBootstrap creates a new Bootstrap instance
func NewBootstrap() *Bootstrap {
	return &Bootstrap{}
}

// Initialize loads configuration and wires every component. ctx bounds
// connection checks and outlives nothing.
func (b *Bootstrap) Initialize(ctx context.Context, configPath string) error {
	slog.Info("🚀 Bootstrapping solscope...")

	// 1. Load Config
	cfg, err := infra.LoadConfig(configPath)
	if errors.Is(err, domain.ErrConfigNotFound) {
		slog.Warn("Config file not found, using defaults", slog.String("path", configPath))
		cfg = infra.DefaultConfig()
		err = infra.ApplyEnv(cfg)
	}
	if err != nil {
		return err // Let main handle the error
	}
	b.Config = cfg

	// 2. Setup Logger
	slog.SetDefault(infra.NewLogger(cfg))
	b.Metrics = infra.NewMetrics()

	// 3. Market data
	b.Birdeye = birdeye.NewClientFromConfig(cfg, b.Metrics)
	if cfg.Birdeye.APIKey == "" {
		slog.Warn("Birdeye API key not set; requests may be rate limited")
	}
	if cfg.Birdeye.SolPricePollSec > 0 {
		b.SolPrice = birdeye.NewSolPriceTracker(b.Birdeye, time.Duration(cfg.Birdeye.SolPricePollSec)*time.Second, nil)
	}

	// 4. Monitor
	ledger := solana.NewLedger(cfg.Solana.RPCURL, retry.NewPolicy(solana.DefaultLedgerRetry()))
	feed := solana.NewLogFeed(cfg.Solana.WSURL, b.Metrics)
	b.Monitor = monitor.New(monitor.Config{
		ProgramID:            cfg.Solana.ProgramID,
		MaxHistory:           cfg.Monitor.MaxHistory,
		MaxConcurrentFetches: cfg.Monitor.MaxConcurrentFetches,
		FetchTimeout:         cfg.FetchTimeout(),
	}, feed, ledger, b.Metrics)

	// 5. Storage (DB)
	if cfg.Storage.Enabled {
		store, err := storage.NewStorage(cfg.Storage.Path)
		if err != nil {
			return err
		}
		b.Storage = store
		if cfg.Storage.WarmStart {
			b.warmStart()
		}
		b.Monitor.AddObserver(store)
		slog.Info("✅ Database initialized", slog.String("path", cfg.Storage.Path))
	}

	// 6. Redis fan-out
	if cfg.Redis.Enabled {
		pub, err := redispub.NewPublisher(ctx, redispub.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Prefix:   cfg.Redis.ChannelPrefix,
		})
		if err != nil {
			return err
		}
		b.Publisher = pub
		b.Monitor.AddObserver(pub)
	}

	// 7. Logo thumbnails
	logos, err := infra.NewLogoDownloader(cfg.Logos.Dir, cfg.Logos.Size)
	if err != nil {
		slog.Warn("Logo downloads disabled", slog.Any("error", err))
	} else {
		b.Logos = logos
		slog.Info("✅ Logo downloader ready")
	}

	// 8. Live stream, alerts and enrichment
	stream := server.NewStream(b.Metrics)
	b.Monitor.AddObserver(stream)

	if cfg.Monitor.Alerts.Enabled {
		sinks := []monitor.AlertSink{stream}
		if b.Publisher != nil {
			sinks = append(sinks, b.Publisher)
		}
		rules := domain.AlertRules{
			VolumeThreshold:      cfg.Monitor.Alerts.VolumeThreshold,
			PriceChangeThreshold: cfg.Monitor.Alerts.PriceChangeThreshold,
		}
		b.Monitor.AddObserver(monitor.NewAlertObserver(rules, b.Monitor, b.Metrics, sinks...))
	}

	b.Enricher = NewEnricher(context.WithoutCancel(ctx), b.Birdeye, b.Monitor, b.Logos)
	b.Monitor.AddObserver(b.Enricher)

	// 9. HTTP
	deps := server.Deps{
		Monitor:  b.Monitor,
		Birdeye:  b.Birdeye,
		Logos:    b.Logos,
		SolPrice: b.SolPrice,
		Stream:   stream,
		Metrics:  b.Metrics,
	}
	// typed nil pointers must not reach the interfaces
	if b.Storage != nil {
		deps.Journal = b.Storage
	}
	if b.Publisher != nil {
		deps.Prices = b.Publisher
	}
	b.Server = server.New(cfg.Server.Addr, deps)

	return nil
}

// warmStart seeds the monitor from the journal
func (b *Bootstrap) warmStart() {
	launches, err := b.Storage.RecentLaunches(monitor.DefaultConfig().MaxLaunches)
	if err != nil {
		slog.Warn("Failed to load launches", slog.Any("error", err))
		return
	}
	trades, err := b.Storage.RecentTrades(b.Config.Monitor.MaxHistory)
	if err != nil {
		slog.Warn("Failed to load trades", slog.Any("error", err))
		return
	}
	b.Monitor.Seed(launches, trades)
	slog.Info("♻️ Warm start", slog.Int("launches", len(launches)), slog.Int("trades", len(trades)))
}

// Run serves until ctx is cancelled or a component fails, then shuts down.
func (b *Bootstrap) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(b.Server.ListenAndServe)

	if b.SolPrice != nil {
		b.SolPrice.Start(gctx)
	}

	if b.Config.Monitor.AutoStart {
		if err := b.Monitor.Start(gctx); err != nil {
			// the monitor can still be started over HTTP
			slog.Error("❌ Failed to start monitor", slog.Any("error", err))
		}
	}

	if b.Storage != nil && b.Config.Storage.RetentionHours > 0 {
		g.Go(func() error {
			b.pruneLoop(gctx)
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return b.Shutdown(shutdownCtx)
	})

	slog.Info("✨ solscope fully operational. Press Ctrl+C to exit.")
	return g.Wait()
}

func (b *Bootstrap) pruneLoop(ctx context.Context) {
	retention := time.Duration(b.Config.Storage.RetentionHours) * time.Hour
	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := b.Storage.PruneTrades(time.Now().Add(-retention))
			if err != nil {
				slog.Warn("Failed to prune trades", slog.Any("error", err))
				continue
			}
			if removed > 0 {
				slog.Info("🧹 Pruned journaled trades", slog.Int64("removed", removed))
			}
		}
	}
}

// Shutdown stops every component; errors are joined
func (b *Bootstrap) Shutdown(ctx context.Context) error {
	slog.Info("👋 Shutting down gracefully...")

	var errs []error
	if b.Server != nil {
		if err := b.Server.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("http shutdown: %w", err))
		}
	}
	if b.Monitor != nil {
		if err := b.Monitor.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if b.Enricher != nil {
		b.Enricher.Wait()
	}
	if b.SolPrice != nil {
		b.SolPrice.Stop()
	}
	if b.Publisher != nil {
		if err := b.Publisher.Close(); err != nil {
			errs = append(errs, fmt.Errorf("redis close: %w", err))
		}
	}
	if b.Storage != nil {
		if err := b.Storage.Close(); err != nil {
			errs = append(errs, fmt.Errorf("storage close: %w", err))
		}
	}
	return errors.Join(errs...)
}
