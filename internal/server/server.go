// Package server implements the ichiba HTTP API: read access to the
// economy, anchor verification and the admin epoch trigger.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/ashita-ai/ichiba/internal/ratelimit"
	"github.com/ashita-ai/ichiba/internal/storage"
)

// Server is the ichiba HTTP server.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	handlers   *Handlers
	logger     *slog.Logger
}

// Handler returns the root HTTP handler for use in tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// ServerConfig holds all dependencies and configuration for creating a Server.
// Optional fields (nil-safe): Limiter, Broker, MCPServer.
type ServerConfig struct {
	// Required dependencies.
	Store  storage.Store
	Engine Engine
	Logger *slog.Logger

	// Optional dependencies (nil = disabled).
	Limiter   ratelimit.Limiter
	Broker    *Broker
	MCPServer *mcpserver.MCPServer

	// Middlewares wrap the whole handler, outside the built-in chain. The
	// first entry is outermost.
	Middlewares []func(http.Handler) http.Handler

	// AdminSecret guards mutating routes. Empty disables them.
	AdminSecret string

	// HTTP server settings.
	Port                int
	ReadTimeout         time.Duration
	WriteTimeout        time.Duration
	Version             string
	MaxRequestBodyBytes int64
}

// New creates a new HTTP server with all routes configured.
func New(cfg ServerConfig) *Server {
	h := NewHandlers(HandlersDeps{
		Store:               cfg.Store,
		Engine:              cfg.Engine,
		Broker:              cfg.Broker,
		Logger:              cfg.Logger,
		Version:             cfg.Version,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
	})

	// Request ID extractor for rate limit error responses.
	reqIDFunc := func(r *http.Request) string {
		return RequestIDFromContext(r.Context())
	}
	readRL := ratelimit.Middleware(cfg.Limiter, ratelimit.IPKeyFunc, reqIDFunc, cfg.Logger)
	admin := requireAdmin(cfg.AdminSecret)

	mux := http.NewServeMux()

	// Read API (no auth, rate limited by IP).
	mux.Handle("GET /v1/leaderboard", readRL(http.HandlerFunc(h.HandleLeaderboard)))
	mux.Handle("GET /v1/stats", readRL(http.HandlerFunc(h.HandleStats)))
	mux.Handle("GET /v1/agents", readRL(http.HandlerFunc(h.HandleListAgents)))
	mux.Handle("GET /v1/agents/{id}", readRL(http.HandlerFunc(h.HandleGetAgent)))
	mux.Handle("GET /v1/epochs", readRL(http.HandlerFunc(h.HandleListEpochs)))
	mux.Handle("GET /v1/epochs/{n}", readRL(http.HandlerFunc(h.HandleGetEpoch)))
	mux.Handle("GET /v1/epochs/{n}/anchor", readRL(http.HandlerFunc(h.HandleVerifyAnchor)))
	mux.Handle("GET /v1/ledger/root", readRL(http.HandlerFunc(h.HandleLedgerRoot)))

	// Epoch stream (no rate limit, long-lived connection).
	mux.HandleFunc("GET /v1/subscribe", h.HandleSubscribe)

	// Admin (shared bearer secret, exempt from rate limits).
	mux.Handle("POST /v1/epochs/run", admin(http.HandlerFunc(h.HandleRunEpoch)))
	mux.Handle("POST /v1/epochs/{n}/anchor", admin(http.HandlerFunc(h.HandleAnchorEpoch)))
	mux.Handle("POST /v1/agents/{id}/revive", admin(http.HandlerFunc(h.HandleReviveAgent)))

	// MCP StreamableHTTP transport (read-only tools, rate limited).
	if cfg.MCPServer != nil {
		mux.Handle("/mcp", readRL(mcpserver.NewStreamableHTTPServer(cfg.MCPServer)))
	}

	// Health (no auth, no rate limit).
	mux.HandleFunc("GET /health", h.HandleHealth)

	// Middleware chain (outermost executes first):
	// request ID → security headers → tracing → logging → recovery → handler.
	var handler http.Handler = mux
	handler = recoveryMiddleware(cfg.Logger, handler)
	handler = loggingMiddleware(cfg.Logger, handler)
	handler = tracingMiddleware(handler)
	handler = securityHeadersMiddleware(handler)
	handler = requestIDMiddleware(handler)
	for i := len(cfg.Middlewares) - 1; i >= 0; i-- {
		handler = cfg.Middlewares[i](handler)
	}

	return &Server{
		httpServer: &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Port),
			Handler:           handler,
			ReadTimeout:       cfg.ReadTimeout,
			ReadHeaderTimeout: 10 * time.Second,
			WriteTimeout:      cfg.WriteTimeout,
		},
		handler:  handler,
		handlers: h,
		logger:   cfg.Logger,
	}
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("http server shutting down")
	return s.httpServer.Shutdown(ctx)
}
