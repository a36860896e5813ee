// Package api exposes the admin HTTP interface: login, status and stats
// queries, death history, rcon passthrough, reset triggering, confirmation
// resolution, and a live console feed over WebSocket.
package api

import (
	"context"
	"net/http"

	"github.com/mcwarden/warden/internal/auth"
	"github.com/mcwarden/warden/internal/history"
	"github.com/mcwarden/warden/internal/notify"
	"github.com/mcwarden/warden/internal/process"
	"github.com/mcwarden/warden/internal/stats"
)

// RconExecutor is the slice of the rcon client the API exposes.
type RconExecutor interface {
	Command(cmd string) (string, error)
	TestConnection() bool
}

// Deps carries the router's collaborators. History may be nil when the
// history database is disabled.
type Deps struct {
	Auth    *auth.Service
	Users   *auth.Users
	Stats   *stats.Store
	History *history.Store
	Proc    *process.Manager
	Rcon    RconExecutor
	Confirm *notify.Confirmations
	Reset   func(ctx context.Context) bool
}

// Router holds the HTTP routes and dependencies
type Router struct {
	mux     *http.ServeMux
	deps    Deps
	console *ConsoleHub
}

// NewRouter creates a new HTTP router
func NewRouter(deps Deps) *Router {
	r := &Router{
		mux:     http.NewServeMux(),
		deps:    deps,
		console: NewConsoleHub(),
	}

	// Auth routes
	r.mux.HandleFunc("POST /api/auth/login", r.handleLogin)
	r.mux.HandleFunc("GET /api/auth/check", r.handleAuthCheck)

	// Read routes
	r.mux.HandleFunc("GET /api/status", r.requireAuth(r.handleStatus))
	r.mux.HandleFunc("GET /api/stats", r.requireAuth(r.handleStats))
	r.mux.HandleFunc("GET /api/deaths", r.requireAuth(r.handleDeaths))

	// Admin routes
	r.mux.HandleFunc("POST /api/rcon", r.requireAdmin(r.handleRconCommand))
	r.mux.HandleFunc("POST /api/reset", r.requireAdmin(r.handleReset))
	r.mux.HandleFunc("GET /api/confirmations", r.requireAdmin(r.handleListConfirmations))
	r.mux.HandleFunc("POST /api/confirmations/{token}", r.requireAdmin(r.handleResolveConfirmation))

	// WebSocket console feed
	r.mux.HandleFunc("GET /ws/console", r.handleConsoleSocket)

	// Health check
	r.mux.HandleFunc("GET /health", r.handleHealth)

	return r
}

// Console returns the hub the monitor's line tap should feed.
func (r *Router) Console() *ConsoleHub {
	return r.console
}

// ServeHTTP implements http.Handler
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

	if req.Method == "OPTIONS" {
		w.WriteHeader(http.StatusOK)
		return
	}

	r.mux.ServeHTTP(w, req)
}
