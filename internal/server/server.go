// Package server exposes the settlement ledger over HTTP and WebSocket.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/truthmarkets/settled/internal/domain"
	"github.com/truthmarkets/settled/internal/server/handler"
	"github.com/truthmarkets/settled/internal/server/middleware"
	"github.com/truthmarkets/settled/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port            int
	CORSOrigins     []string
	APIKey          string // if empty, authentication is disabled
	RateLimit       int    // requests per window per client; 0 disables
	RateLimitWindow time.Duration
}

// Handlers aggregates all HTTP handlers that the server needs to register.
type Handlers struct {
	Health    *handler.HealthHandler
	Claims    *handler.ClaimHandler
	Positions *handler.PositionHandler
	Resolvers *handler.ResolverHandler
	Params    *handler.ParamsHandler
}

// Server is the headless HTTP + WebSocket API for the settlement ledger.
type Server struct {
	httpServer *http.Server
	mux        *http.ServeMux
	logger     *slog.Logger
}

// NewServer creates a new Server with all routes registered on the ServeMux.
// It wires up middleware (logging, CORS, auth, rate limiting) and attaches
// the WebSocket hub. The limiter may be nil when rate limiting is disabled.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	// --- Register routes ---

	// Health check (no auth required).
	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)

	// Claim lifecycle.
	mux.HandleFunc("POST /api/claims", handlers.Claims.CreateClaim)
	mux.HandleFunc("GET /api/claims", handlers.Claims.ListClaims)
	mux.HandleFunc("GET /api/claims/{id}", handlers.Claims.GetClaim)
	mux.HandleFunc("POST /api/claims/{id}/cancel", handlers.Claims.CancelClaim)
	mux.HandleFunc("POST /api/claims/{id}/resolution", handlers.Claims.SubmitResolution)
	mux.HandleFunc("POST /api/claims/{id}/fees/creator", handlers.Claims.WithdrawCreatorFees)
	mux.HandleFunc("POST /api/claims/{id}/fees/protocol", handlers.Claims.WithdrawProtocolFees)

	// Staking and settlement.
	mux.HandleFunc("POST /api/claims/{id}/stake", handlers.Positions.Stake)
	mux.HandleFunc("POST /api/claims/{id}/winnings", handlers.Positions.ClaimWinnings)
	mux.HandleFunc("POST /api/claims/{id}/refund", handlers.Positions.ClaimRefund)
	mux.HandleFunc("GET /api/claims/{id}/positions", handlers.Positions.ListByClaim)
	mux.HandleFunc("GET /api/claims/{id}/positions/{owner}", handlers.Positions.GetPosition)
	mux.HandleFunc("GET /api/positions", handlers.Positions.ListByOwner)

	// Resolver whitelist.
	mux.HandleFunc("POST /api/resolvers", handlers.Resolvers.Register)
	mux.HandleFunc("GET /api/resolvers", handlers.Resolvers.List)
	mux.HandleFunc("GET /api/resolvers/{fingerprint}", handlers.Resolvers.Get)
	mux.HandleFunc("DELETE /api/resolvers/{fingerprint}", handlers.Resolvers.Revoke)

	// Protocol parameters.
	mux.HandleFunc("GET /api/params", handlers.Params.Get)
	mux.HandleFunc("PUT /api/params/admin", handlers.Params.UpdateAdmin)
	mux.HandleFunc("PUT /api/params/fee-recipient", handlers.Params.UpdateFeeRecipient)
	mux.HandleFunc("PUT /api/params/protocol-fee", handlers.Params.UpdateProtocolFee)

	// WebSocket endpoint.
	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	// Build the middleware chain.
	var h http.Handler = mux

	// Apply auth middleware (skips if APIKey is empty).
	h = middleware.Auth(cfg.APIKey)(h)

	// Apply per-client rate limiting when configured.
	if limiter != nil && cfg.RateLimit > 0 {
		window := cfg.RateLimitWindow
		if window <= 0 {
			window = time.Second
		}
		h = middleware.RateLimit(limiter, cfg.RateLimit, window)(h)
	}

	// Apply request logging middleware.
	h = middleware.Logging(logger)(h)

	// Apply CORS middleware.
	h = middleware.CORS(cfg.CORSOrigins)(h)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      h,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: srv,
		mux:        mux,
		logger:     logger,
	}
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting",
		slog.String("addr", s.httpServer.Addr),
	)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
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
