// Package server exposes the marketplace ledger over HTTP and WebSocket.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/marketledger/internal/crypto"
	"github.com/alanyoungcy/marketledger/internal/domain"
	"github.com/alanyoungcy/marketledger/internal/metrics"
	"github.com/alanyoungcy/marketledger/internal/server/handler"
	"github.com/alanyoungcy/marketledger/internal/server/middleware"
	"github.com/alanyoungcy/marketledger/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // if empty, authentication is disabled
	// RequireSignatures rejects unsigned mutating requests.
	RequireSignatures bool
	// Domain is the EIP-712 domain request signatures are checked under.
	Domain     crypto.Domain
	EnableMint bool
	RateLimit  int
	RateWindow time.Duration
}

// Handlers aggregates all HTTP handlers that the server needs to register.
// Events, Hub, Metrics and Limiter are optional.
type Handlers struct {
	Health      *handler.HealthHandler
	Items       *handler.ItemHandler
	Collections *handler.CollectionHandler
	Market      *handler.MarketHandler
	Events      *handler.EventHandler
	Hub         *ws.Hub
	Metrics     *metrics.Metrics
	Limiter     domain.RateLimiter
}

// Server is the HTTP + WebSocket API server for the marketplace.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	logger     *slog.Logger
}

// NewServer creates a Server with all routes registered on the ServeMux.
func NewServer(cfg Config, h Handlers, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", h.Health.HealthCheck)
	mux.HandleFunc("GET /api/fees", h.Market.Fees)
	mux.HandleFunc("GET /api/balances/{address}", h.Market.Balances)
	if cfg.EnableMint {
		mux.HandleFunc("POST /api/assets", h.Market.Mint)
	}

	mux.HandleFunc("POST /api/collections", h.Collections.Create)
	mux.HandleFunc("GET /api/collections", h.Collections.List)
	mux.HandleFunc("GET /api/collections/mine", h.Collections.Mine)
	mux.HandleFunc("GET /api/collections/{id}", h.Collections.Get)
	mux.HandleFunc("GET /api/collections/{id}/count", h.Collections.Count)
	mux.HandleFunc("POST /api/collections/{id}/items", h.Collections.AddItem)
	mux.HandleFunc("GET /api/collections/{id}/items/{itemID}", h.Collections.Member)
	mux.HandleFunc("DELETE /api/collections/{id}/items/{itemID}", h.Collections.RemoveItem)

	mux.HandleFunc("POST /api/items", h.Items.Create)
	mux.HandleFunc("GET /api/items", h.Items.List)
	mux.HandleFunc("GET /api/items/mine", h.Items.Mine)
	mux.HandleFunc("GET /api/items/{id}", h.Items.Get)
	mux.HandleFunc("POST /api/items/{id}/listing", h.Items.ListForSale)
	mux.HandleFunc("DELETE /api/items/{id}/listing", h.Items.Delist)
	mux.HandleFunc("POST /api/items/{id}/sale", h.Items.Buy)

	if h.Events != nil {
		mux.HandleFunc("GET /api/events", h.Events.List)
	}
	if h.Hub != nil {
		mux.HandleFunc("GET /ws", h.Hub.HandleWS)
	}

	// The route label is read from the pattern the mux sets, so Instrument
	// must wrap the mux itself.
	var root http.Handler = mux
	if h.Metrics != nil {
		mux.Handle("GET /metrics", h.Metrics.Handler())
		root = h.Metrics.Instrument(mux)
	}

	root = middleware.Caller(middleware.CallerConfig{
		RequireSignatures: cfg.RequireSignatures,
		Domain:            cfg.Domain,
	})(root)
	if h.Limiter != nil && cfg.RateLimit > 0 {
		root = middleware.RateLimit(h.Limiter, cfg.RateLimit, cfg.RateWindow, logger)(root)
	}
	root = middleware.Auth(cfg.APIKey)(root)
	root = middleware.Logging(logger)(root)
	root = middleware.CORS(cfg.CORSOrigins)(root)

	return &Server{
		httpServer: &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Port),
			Handler:           root,
			ReadHeaderTimeout: 10 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
		handler: root,
		logger:  logger,
	}
}

// Handler returns the fully wrapped request handler.
func (s *Server) Handler() http.Handler { return s.handler }

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server, waiting for in-flight requests
// to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
