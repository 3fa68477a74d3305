// Package api serves the public HTTP surface: market state reads, the trade
// endpoints, portfolio creation, admin operations and the live market event
// stream.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/nickelnine37/sportfolios-server/internal/audit"
	"github.com/nickelnine37/sportfolios-server/internal/auth"
	"github.com/nickelnine37/sportfolios-server/internal/config"
	"github.com/nickelnine37/sportfolios-server/internal/portfolio"
	"github.com/nickelnine37/sportfolios-server/internal/state"
	"github.com/nickelnine37/sportfolios-server/internal/trade"
)

// Deps are the collaborators the HTTP surface dispatches into. Audit may be
// nil (auditing disabled).
type Deps struct {
	Store    state.Store
	Engine   *trade.Engine
	Ledger   *portfolio.Ledger
	Verifier auth.Verifier
	Audit    *audit.Log
	DataDir  string
}

// Server owns the HTTP listener and the websocket hub.
type Server struct {
	cfg    config.Config
	hub    *Hub
	server *http.Server
	logger *slog.Logger
}

// NewServer builds the server and its route table.
func NewServer(cfg config.Config, deps Deps, hub *Hub, logger *slog.Logger) *Server {
	h := &Handlers{
		deps:   deps,
		hub:    hub,
		cfg:    cfg,
		logger: logger.With("component", "api"),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /current_holdings", h.CurrentHoldings)
	mux.HandleFunc("GET /historical_holdings", h.HistoricalHoldings)
	mux.HandleFunc("GET /current_back_prices", h.CurrentBackPrices)
	mux.HandleFunc("GET /daily_back_prices", h.DailyBackPrices)
	mux.HandleFunc("POST /purchase", h.Purchase)
	mux.HandleFunc("POST /confirm_order", h.ConfirmOrder)
	mux.HandleFunc("POST /create_portfolio", h.CreatePortfolio)
	mux.HandleFunc("GET /init_redis", h.InitRedis)
	mux.HandleFunc("POST /update_b", h.UpdateB)
	mux.HandleFunc("GET /stream", h.Stream)
	mux.HandleFunc("GET /health", h.Health)

	return &Server{
		cfg: cfg,
		hub: hub,
		server: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
			Handler:      mux,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		logger: logger.With("component", "api-server"),
	}
}

// Start blocks serving requests until Stop is called.
func (s *Server) Start() error {
	s.logger.Info("api server starting", "addr", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// Stop drains in-flight requests and shuts the listener down.
func (s *Server) Stop() error {
	s.logger.Info("stopping api server")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}
