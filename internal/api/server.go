package api

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/spotfi/spotfi/internal/portal"
)

// Server wraps the HTTP server and mux for the control-plane surface: the
// public portal, the admin API, and the tunnel WebSocket.
type Server struct {
	httpServer *http.Server
	mux        *http.ServeMux
}

// ServerConfig wires the dependencies of the HTTP surface.
type ServerConfig struct {
	ListenAddress string
	Port          int
	JWTSecret     string

	SystemInfo SystemInfo
	Portal     *portal.Handlers

	Routers   RouterStore
	Presence  PresenceReader
	Users     UserStore
	Edge      EdgeCaller
	Tunnels   TunnelOpener
	Reconcile func(routerID string)
	Whitelist WhitelistConfig

	MaxBodyBytes   int64
	RequestTimeout time.Duration
}

// NewServer creates a new API server wired with all routes.
func NewServer(cfg ServerConfig) *Server {
	mux := http.NewServeMux()

	// Public (no auth)
	mux.Handle("GET /healthz", HandleHealthz())
	if cfg.Portal != nil {
		cfg.Portal.Mount(mux)
	}

	// Authenticated admin routes
	authed := http.NewServeMux()
	authed.Handle("GET /api/v1/system/info", HandleSystemInfo(cfg.SystemInfo))

	authed.Handle("GET /api/v1/routers", HandleListRouters(cfg.Routers, cfg.Presence))
	authed.Handle("GET /api/v1/routers/{id}", HandleGetRouter(cfg.Routers, cfg.Presence))
	authed.Handle("GET /api/v1/routers/{id}/whitelist", HandleRouterWhitelist(cfg.Routers, cfg.Whitelist))
	authed.Handle("POST /api/v1/routers/{id}/actions/rpc", HandleRouterRPC(cfg.Routers, cfg.Edge))
	authed.Handle("POST /api/v1/routers/{id}/actions/kick", HandleRouterKick(cfg.Routers, cfg.Edge))
	if cfg.Reconcile != nil {
		authed.Handle("POST /api/v1/routers/{id}/actions/reconcile", HandleRouterReconcile(cfg.Routers, cfg.Reconcile))
	}

	authed.Handle("GET /api/v1/users/{username}/usage", HandleUserUsage(cfg.Users))
	authed.Handle("POST /api/v1/users/{username}/actions/disconnect", HandleUserDisconnect(cfg.Users))
	authed.Handle("POST /api/v1/users/{username}/actions/restore", HandleUserRestore(cfg.Users))

	limitedAuthed := RequestBodyLimitMiddleware(cfg.MaxBodyBytes, authed)
	timedAuthed := RequestTimeoutMiddleware(cfg.RequestTimeout, limitedAuthed)
	mux.Handle("/api/", JWTMiddleware(cfg.JWTSecret, timedAuthed))

	// The tunnel WebSocket holds its connection open for the life of the
	// shell, so it sits outside the request timeout.
	if cfg.Tunnels != nil {
		mux.Handle("GET /x", JWTMiddleware(cfg.JWTSecret,
			HandleTunnel(cfg.Routers, cfg.Tunnels)))
	}

	srv := &http.Server{
		Addr:    net.JoinHostPort(cfg.ListenAddress, strconv.Itoa(cfg.Port)),
		Handler: mux,
	}

	return &Server{
		httpServer: srv,
		mux:        mux,
	}
}

// ListenAndServe starts the HTTP server. It blocks until the server stops.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// Handler returns the underlying http.Handler for testing.
func (s *Server) Handler() http.Handler {
	return s.mux
}
