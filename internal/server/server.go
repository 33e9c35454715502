// Package server provides the HTTP REST API over the run orchestration
// engine: operator login, run creation and inspection, checkpoint decisions,
// and cancellation.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/jonathan/applier/internal/config"
	"github.com/jonathan/applier/internal/engine"
	"github.com/jonathan/applier/internal/ratelimit"
	"github.com/jonathan/applier/internal/store"
)

// Operator is the single credentialed account this deployment serves. Runs
// are owned by its ID; login verifies against its bcrypt hash.
type Operator struct {
	ID           uuid.UUID
	PasswordHash string
}

// Options holds server construction parameters.
type Options struct {
	ListenAddr string
	Operator   Operator
	JWT        *config.JWTConfig
	Passwords  *config.PasswordConfig
	RateLimit  *ratelimit.Config
}

// Server represents the HTTP server
type Server struct {
	httpServer  *http.Server
	engine      *engine.Engine
	store       store.Store
	operator    Operator
	passwords   *config.PasswordConfig
	jwtService  *JWTService
	rateLimiter *ratelimit.Limiter
	validator   *validator.Validate
}

// New creates a new server instance over an already-constructed engine and
// store; it owns neither.
func New(opts Options, eng *engine.Engine, st store.Store) (*Server, error) {
	if opts.Operator.PasswordHash == "" {
		return nil, fmt.Errorf("operator password hash is required")
	}
	if opts.JWT == nil {
		return nil, fmt.Errorf("JWT config is required")
	}
	if opts.Passwords == nil {
		return nil, fmt.Errorf("password config is required")
	}

	s := &Server{
		engine:      eng,
		store:       st,
		operator:    opts.Operator,
		passwords:   opts.Passwords,
		jwtService:  NewJWTService(opts.JWT),
		rateLimiter: ratelimit.NewLimiter(opts.RateLimit),
		validator:   validator.New(),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /auth/login", s.handleLogin)
	mux.HandleFunc("GET /health", s.handleHealth)

	authed := http.NewServeMux()
	authed.HandleFunc("POST /runs", s.handleCreateRun)
	authed.HandleFunc("GET /runs", s.handleListRuns)
	authed.HandleFunc("GET /runs/{id}", s.handleGetRun)
	authed.HandleFunc("GET /runs/{id}/history", s.handleRunHistory)
	authed.HandleFunc("POST /runs/{id}/approve", s.handleApprove)
	authed.HandleFunc("POST /runs/{id}/reject", s.handleReject)
	authed.HandleFunc("POST /runs/{id}/cancel", s.handleCancel)
	mux.Handle("/runs", s.withAuth(authed))
	mux.Handle("/runs/", s.withAuth(authed))

	s.httpServer = &http.Server{
		Addr:         opts.ListenAddr,
		Handler:      s.withRateLimit(s.withLogging(s.withCORS(mux))),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s, nil
}

// Handler returns the fully wrapped HTTP handler, for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start begins listening for requests and blocks until SIGINT/SIGTERM.
func (s *Server) Start() error {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	go func() {
		log.Printf("Server starting on %s", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	<-stop
	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
	}

	log.Println("Server stopped")
	return nil
}

// withCORS adds CORS headers
func (s *Server) withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// withRateLimit adds rate limiting middleware keyed by client IP.
func (s *Server) withRateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		allowed, info := s.rateLimiter.Allow(s.extractClientID(r))

		s.setRateLimitHeaders(w, info)
		if !allowed {
			s.rateLimitResponse(w, info)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// withLogging adds request logging
func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		log.Printf("[%s] %s completed in %v", r.Method, r.URL.Path, time.Since(start))
	})
}

// handleHealth returns server health status
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.jsonResponse(w, http.StatusOK, map[string]string{"status": "ok"})
}

// jsonResponse writes a JSON response
func (s *Server) jsonResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("Error encoding JSON response: %v", err)
	}
}

// errorResponse writes an error JSON response
func (s *Server) errorResponse(w http.ResponseWriter, status int, message string) {
	s.jsonResponse(w, status, map[string]string{"error": message})
}

// extractClientID extracts the client identifier from the request.
// For MVP, this uses the IP address from RemoteAddr.
func (s *Server) extractClientID(r *http.Request) string {
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

// setRateLimitHeaders sets standard rate limit headers on the response.
func (s *Server) setRateLimitHeaders(w http.ResponseWriter, info ratelimit.Info) {
	if info.Limit > 0 {
		w.Header().Set("X-RateLimit-Limit", fmt.Sprintf("%d", info.Limit))
		w.Header().Set("X-RateLimit-Remaining", fmt.Sprintf("%d", info.Remaining))
		w.Header().Set("X-RateLimit-Reset", fmt.Sprintf("%d", info.ResetTime.Unix()))
	}
}

// rateLimitResponse writes a 429 Too Many Requests response.
func (s *Server) rateLimitResponse(w http.ResponseWriter, info ratelimit.Info) {
	response := map[string]interface{}{
		"error":     "rate_limit_exceeded",
		"message":   "Rate limit exceeded. Please try again later.",
		"limit":     info.Limit,
		"remaining": info.Remaining,
		"reset_at":  info.ResetTime.Format(time.RFC3339),
	}

	if info.RetryAfter > 0 {
		response["retry_after"] = int(info.RetryAfter.Seconds())
		w.Header().Set("Retry-After", fmt.Sprintf("%d", int(info.RetryAfter.Seconds())))
	}

	s.jsonResponse(w, http.StatusTooManyRequests, response)
}
