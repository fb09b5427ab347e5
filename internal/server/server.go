package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/thruflo/clave/internal/auth"
	"github.com/thruflo/clave/internal/config"
	"github.com/thruflo/clave/internal/cycle"
	"github.com/thruflo/clave/internal/logging"
	"github.com/thruflo/clave/internal/monitor"
	"github.com/thruflo/clave/internal/stream"
)

// Controller is the part of monitor.Controller the server drives.
type Controller interface {
	Snapshot() monitor.Snapshot
	Pause(ctx context.Context) error
	Resume(ctx context.Context) error
	Stop(ctx context.Context) error
}

var _ Controller = (*monitor.Controller)(nil)

// Server is the watch server for a running session.
type Server struct {
	host         string
	port         int
	passwordHash string

	controller Controller
	publisher  *stream.Publisher
	tokens     *auth.Tokens
	limiter    *rateLimiter
	hub        *wsHub
	assets     fs.FS
	log        *logging.Logger

	// quit ends open streams on shutdown
	quit     chan struct{}
	quitOnce sync.Once

	mu       sync.RWMutex
	server   *http.Server
	listener net.Listener
	started  bool
}

// Config holds server configuration options.
type Config struct {
	Host         string
	Port         int
	PasswordHash string
	RateLimit    RateLimitConfig
	// Assets is served at /. Nil serves a 404 for every static path.
	Assets fs.FS
	Logger *logging.Logger
}

// NewServer creates a Server over a controller and the publisher that
// observes it. Without a password hash, authentication is disabled and the
// server only binds to loopback.
func NewServer(cfg *Config, controller Controller, publisher *stream.Publisher) (*Server, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if controller == nil || publisher == nil {
		return nil, errors.New("controller and publisher are required")
	}

	log := cfg.Logger
	if log == nil {
		log = logging.With("component", "server")
	}

	host := cfg.Host
	if cfg.PasswordHash == "" {
		if !isLoopback(host) {
			log.Warn("no password configured, binding to loopback only", "requested_host", host)
			host = config.DefaultServerHost
		} else {
			log.Warn("no password configured, authentication disabled")
		}
	}

	return &Server{
		host:         host,
		port:         cfg.Port,
		passwordHash: cfg.PasswordHash,
		controller:   controller,
		publisher:    publisher,
		tokens:       auth.NewTokens(auth.DefaultTokenTTL),
		limiter:      newRateLimiter(cfg.RateLimit, log),
		hub:          newWSHub(log),
		assets:       cfg.Assets,
		log:          log,
		quit:         make(chan struct{}),
	}, nil
}

// NewServerFromConfig creates a Server from a config.ServerConfig.
func NewServerFromConfig(cfg *config.ServerConfig, assets fs.FS, controller Controller, publisher *stream.Publisher) (*Server, error) {
	if cfg == nil {
		return nil, errors.New("server config is required")
	}
	return NewServer(&Config{
		Host:         cfg.Host,
		Port:         cfg.Port,
		PasswordHash: cfg.PasswordHash,
		Assets:       assets,
	}, controller, publisher)
}

func isLoopback(host string) bool {
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// AuthEnabled reports whether requests need a token.
func (s *Server) AuthEnabled() bool {
	return s.passwordHash != ""
}

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	return net.JoinHostPort(s.host, fmt.Sprint(s.port))
}

// Start listens and serves until ctx is cancelled or Stop is called.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return errors.New("server already started")
	}

	addr := s.Addr()
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	s.listener = listener

	s.server = &http.Server{
		Handler:     s.Handler(),
		ReadTimeout: 30 * time.Second,
		// No write timeout: /stream and /ws hold responses open.
		IdleTimeout: 120 * time.Second,
	}
	s.server.RegisterOnShutdown(s.closeStreams)
	s.started = true
	s.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	s.background(ctx)

	go func() {
		<-ctx.Done()
		s.Stop()
	}()

	s.log.Info("watch server listening", "addr", listener.Addr().String(), "auth", s.AuthEnabled())
	err = s.server.Serve(listener)
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// background starts the websocket fan-out and the periodic rate limiter
// cleanup. Both stop with ctx.
func (s *Server) background(ctx context.Context) {
	go s.hub.run(ctx, s.publisher.Broker().Subscribe(ctx))

	go func() {
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.limiter.cleanup()
			}
		}
	}()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started || s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown error: %w", err)
	}

	s.started = false
	return nil
}

// closeStreams ends SSE responses and websocket connections, which
// Shutdown does not wait out on its own.
func (s *Server) closeStreams() {
	s.quitOnce.Do(func() { close(s.quit) })
	s.hub.closeAll()
}

// ListenAddr returns the address the server is listening on, or "" if it
// has not started. Useful with port 0.
func (s *Server) ListenAddr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /auth", s.handleAuth)
	mux.HandleFunc("GET /auth", methodNotAllowed(http.MethodPost))

	mux.HandleFunc("GET /state", s.withAuth(s.handleState))
	mux.HandleFunc("GET /stream", s.withAuth(s.handleStream))
	mux.HandleFunc("GET /ws", s.withAuth(s.handleWS))
	mux.HandleFunc("POST /control/{action}", s.withAuth(s.handleControl))
	mux.HandleFunc("GET /control/{action}", methodNotAllowed(http.MethodPost))

	// Static assets are public for the initial page load.
	mux.HandleFunc("GET /", s.handleStatic)

	return mux
}

// methodNotAllowed answers reads of POST-only routes, which would otherwise
// fall through to the static handler.
func methodNotAllowed(allow string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Allow", allow)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// withAuth requires a valid bearer token, or a token query parameter for
// EventSource and WebSocket clients that cannot set headers.
func (s *Server) withAuth(handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.AuthEnabled() {
			handler(w, r)
			return
		}

		token := r.URL.Query().Get("token")
		if authHeader := r.Header.Get("Authorization"); authHeader != "" {
			const bearerPrefix = "Bearer "
			if !strings.HasPrefix(authHeader, bearerPrefix) {
				http.Error(w, "invalid authorization format", http.StatusUnauthorized)
				return
			}
			token = strings.TrimPrefix(authHeader, bearerPrefix)
		}
		if token == "" {
			http.Error(w, "authorization required", http.StatusUnauthorized)
			return
		}
		if !s.tokens.Valid(token) {
			http.Error(w, "invalid or expired token", http.StatusUnauthorized)
			return
		}

		handler(w, r)
	}
}

// handleAuth handles POST /auth for password authentication.
func (s *Server) handleAuth(w http.ResponseWriter, r *http.Request) {
	if !s.AuthEnabled() {
		writeJSON(w, http.StatusOK, map[string]string{"token": ""})
		return
	}

	ip := extractIP(r)
	if res := s.limiter.check(ip); !res.Allowed {
		w.Header().Set("Retry-After", res.retryAfterHeader())
		http.Error(w, res.Reason, http.StatusTooManyRequests)
		return
	}

	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	password := r.FormValue("password")
	if password == "" {
		http.Error(w, "password required", http.StatusBadRequest)
		return
	}

	valid, err := auth.VerifyPassword(password, s.passwordHash)
	if err != nil {
		s.log.Error("password verification failed", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if !valid {
		s.limiter.recordFailure(ip)
		http.Error(w, "invalid password", http.StatusUnauthorized)
		return
	}
	s.limiter.recordSuccess(ip)

	token, err := s.tokens.Issue()
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

// handleState handles GET /state.
func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.controller.Snapshot())
}

// handleControl handles POST /control/{pause,resume,stop}.
func (s *Server) handleControl(w http.ResponseWriter, r *http.Request) {
	var op func(context.Context) error
	action := r.PathValue("action")
	switch action {
	case "pause":
		op = s.controller.Pause
	case "resume":
		op = s.controller.Resume
	case "stop":
		op = s.controller.Stop
	default:
		http.Error(w, "unknown action", http.StatusNotFound)
		return
	}

	// A command the operator issued runs to completion even if the watcher
	// disconnects.
	err := op(context.WithoutCancel(r.Context()))
	resp := stream.ControlResponse{Status: s.controller.Snapshot().Status}
	if err != nil {
		s.log.Warn("control command failed", "action", action, "error", err)
		resp.Error = err.Error()
		writeJSON(w, controlErrorStatus(err), resp)
		return
	}
	s.log.Info("control command", "action", action, "status", resp.Status)
	writeJSON(w, http.StatusOK, resp)
}

func controlErrorStatus(err error) int {
	switch {
	case errors.Is(err, cycle.ErrNotStarted), cycle.IsValidation(err):
		return http.StatusBadRequest
	case cycle.IsConflict(err):
		return http.StatusConflict
	case cycle.IsTransient(err):
		return http.StatusBadGateway
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// handleStatic serves the embedded dashboard page.
func (s *Server) handleStatic(w http.ResponseWriter, r *http.Request) {
	if s.assets == nil {
		http.NotFound(w, r)
		return
	}
	http.FileServerFS(s.assets).ServeHTTP(w, r)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
