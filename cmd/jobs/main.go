// Sportfolios background jobs — the scheduled loop behind the exchange:
// history snapshots, market and portfolio valuations, the liquidity bot and
// the delayed-undo worker, all sharing the minute counter in Redis.
package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/nickelnine37/sportfolios-server/internal/alert"
	"github.com/nickelnine37/sportfolios-server/internal/bot"
	"github.com/nickelnine37/sportfolios-server/internal/config"
	"github.com/nickelnine37/sportfolios-server/internal/docstore"
	"github.com/nickelnine37/sportfolios-server/internal/jobs"
	"github.com/nickelnine37/sportfolios-server/internal/portfolio"
	"github.com/nickelnine37/sportfolios-server/internal/state"
	"github.com/nickelnine37/sportfolios-server/internal/trade"
)

func main() {
	cfgPath := "configs/config.yaml"
	if p := os.Getenv("SPORT_CONFIG"); p != "" {
		cfgPath = p
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err, "path", cfgPath)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Logging)
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	store := state.NewRedis(client)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	err = store.Ping(pingCtx)
	cancel()
	if err != nil {
		logger.Error("redis unreachable", "addr", cfg.Redis.Addr, "error", err)
		os.Exit(1)
	}
	defer client.Close()

	docs, err := docstore.NewFirestore(ctx, cfg.Firestore.ProjectID, cfg.Firestore.CredentialsFile)
	if err != nil {
		logger.Error("failed to init firestore", "error", err)
		os.Exit(1)
	}
	defer docs.Close()

	var alerts *alert.Notifier
	if cfg.Alert.Enabled {
		alerts = alert.New(cfg.Alert.WebhookURL, cfg.Alert.Timeout, logger)
	}

	// The undo worker needs the trade engine to reverse inventory; no events
	// or auditing here, user-facing trades go through cmd/server.
	ledger := portfolio.NewLedger(docs, logger)
	engine := trade.NewEngine(store, ledger, nil, nil, logger)
	worker := trade.NewWorker(store, engine, logger)

	sched := jobs.NewScheduler(store, alerts, cfg.Scheduler.Tick, logger)
	sched.Add("snapshotter", 0, jobs.Always,
		jobs.NewSnapshotter(store, cfg.Data.Dir, logger))
	sched.Add("portfolio_valuation", 2*time.Minute, jobs.EveryAt(60, 0),
		jobs.NewPortfolioValuer(store, docs, logger))
	sched.Add("market_valuation", 2*time.Minute, jobs.EveryAt(60, 30),
		jobs.NewMarketValuer(store, docs, cfg.Data.Dir, logger))
	sched.Add("trading_bot", 20*time.Second, jobs.EveryAt(10, 2),
		bot.New(store, cfg.Bot, cfg.Data.Dir, nil, logger))

	logger.Info("job runner started", "tick", cfg.Scheduler.Tick)

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error { return sched.Run(gCtx) })
	g.Go(func() error {
		worker.Run(gCtx)
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("job runner stopped", "error", err)
		os.Exit(1)
	}
	logger.Info("job runner stopped")
}

func newLogger(cfg config.LoggingConfig) *slog.Logger {
	out := os.Stdout
	if cfg.File != "" {
		f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			slog.Error("cannot open log file, falling back to stdout", "path", cfg.File, "error", err)
		} else {
			out = f
		}
	}

	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Level)}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(out, opts)
	} else {
		handler = slog.NewTextHandler(out, opts)
	}
	return slog.New(handler)
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
