// Sportfolios exchange server — the public HTTP surface of the fantasy
// prediction market.
//
// Architecture:
//
//	cmd/server          — this binary: wires the stores, trade engine and HTTP server
//	cmd/jobs            — background loop: snapshotter, valuations, trading bot
//	cmd/inspect         — operator CLI: dump live market state as a table
//	internal/api        — HTTP handlers, auth middleware and the event stream hub
//	internal/trade      — quote/commit purchase protocol with compensating undos
//	internal/portfolio  — portfolio documents: holdings, cash, transactions
//	internal/lmsr       — LMSR pricing for team vectors and player long/shorts
//	internal/state      — Redis-backed market state: snapshots, histories, queues
//	internal/docstore   — Firestore access behind a small document interface
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nickelnine37/sportfolios-server/internal/api"
	"github.com/nickelnine37/sportfolios-server/internal/audit"
	"github.com/nickelnine37/sportfolios-server/internal/auth"
	"github.com/nickelnine37/sportfolios-server/internal/config"
	"github.com/nickelnine37/sportfolios-server/internal/docstore"
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

	docs, err := docstore.NewFirestore(ctx, cfg.Firestore.ProjectID, cfg.Firestore.CredentialsFile)
	if err != nil {
		logger.Error("failed to init firestore", "error", err)
		os.Exit(1)
	}
	defer docs.Close()

	verifier, err := auth.NewFirebase(ctx, cfg.Firestore.ProjectID, cfg.Firestore.CredentialsFile)
	if err != nil {
		logger.Error("failed to init token verifier", "error", err)
		os.Exit(1)
	}

	var auditLog *audit.Log
	if cfg.Audit.Enabled {
		auditLog, err = audit.Open(cfg.Audit.Path)
		if err != nil {
			logger.Error("failed to open audit log", "path", cfg.Audit.Path, "error", err)
			os.Exit(1)
		}
		defer auditLog.Close()
	}

	ledger := portfolio.NewLedger(docs, logger)
	hub := api.NewHub(cfg.Server.AllowedOrigins, logger)
	go hub.Run()
	engine := trade.NewEngine(store, ledger, auditLog, hub, logger)

	srv := api.NewServer(*cfg, api.Deps{
		Store:    store,
		Engine:   engine,
		Ledger:   ledger,
		Verifier: verifier,
		Audit:    auditLog,
		DataDir:  cfg.Data.Dir,
	}, hub, logger)

	go func() {
		if err := srv.Start(); err != nil {
			logger.Error("server failed", "error", err)
			stop()
		}
	}()
	logger.Info("exchange server started", "port", cfg.Server.Port)

	<-ctx.Done()
	logger.Info("shutting down")
	if err := srv.Stop(); err != nil {
		logger.Error("shutdown error", "error", err)
	}
	if err := client.Close(); err != nil {
		logger.Error("redis close error", "error", err)
	}
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
