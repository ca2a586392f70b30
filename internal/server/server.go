// Package server provides HTTP server initialization and lifecycle
// management for the chatkeep service.
package server

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/scrypster/chatkeep/internal/config"
	"github.com/scrypster/chatkeep/internal/notify"
)

// securityHeadersMiddleware adds security headers to all HTTP responses.
func securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		next.ServeHTTP(w, r)
	})
}

// Start builds the HTTP server around the MCP transport and event hub and
// begins serving. It returns the actual listen address (useful for tests
// binding port 0). The server shuts down gracefully when ctx is cancelled.
func Start(ctx context.Context, cfg *config.Config, transport http.Handler, hub *notify.Hub) (string, error) {
	mux := http.NewServeMux()

	// The MCP endpoint carries its own auth and CORS handling.
	mux.Handle("/mcp", transport)

	// WebSocket event stream for open widget views.
	if hub != nil {
		mux.Handle("/ws", hub)
	}

	// Health endpoint, unauthenticated, for monitoring.
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"healthy"}`))
	})

	rateLimiter := NewRateLimiter(cfg.Limits.RequestsPerSecond, cfg.Limits.Burst)
	handler := RateLimitMiddleware(mux, rateLimiter)
	handler = securityHeadersMiddleware(handler)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return "", fmt.Errorf("server: failed to listen on %s: %w", addr, err)
	}

	actualAddr := listener.Addr().String()
	log.Printf("server: listening on %s", actualAddr)

	go func() {
		if err := srv.Serve(listener); err != nil && err != http.ErrServerClosed {
			log.Printf("server: serve error: %v", err)
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("server: shutdown error: %v", err)
		}
		if hub != nil {
			hub.Stop()
		}
	}()

	return actualAddr, nil
}
