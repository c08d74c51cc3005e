// Package server provides the base HTTP server, flag binding, middleware
// chain and response helpers shared by the session API and the scoring
// service.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/pflag"
)

// Config holds the runtime settings common to every server.
type Config struct {
	Port     int
	Latency  time.Duration
	FailRate float64
	SeedFile string
	Verbose  bool
	Name     string // service name for logging
}

// BindFlags registers the common flags on fs. Call LoadEnv after parsing to
// pick up PORT when --port was not given.
func (c *Config) BindFlags(fs *pflag.FlagSet) {
	fs.IntVar(&c.Port, "port", c.Port, "HTTP listen port")
	fs.DurationVar(&c.Latency, "latency", c.Latency, "Base simulated latency")
	fs.Float64Var(&c.FailRate, "fail-rate", c.FailRate, "Random failure rate 0.0-1.0")
	fs.StringVar(&c.SeedFile, "seed-file", c.SeedFile, "Path to JSON fixture for initial state")
	fs.BoolVar(&c.Verbose, "verbose", c.Verbose, "Enable request/response logging")
}

// LoadEnv fills Port from $PORT when it is still unset.
func (c *Config) LoadEnv() {
	if c.Port != 0 {
		return
	}
	if p, err := strconv.Atoi(os.Getenv("PORT")); err == nil {
		c.Port = p
	}
}

// NewLogger returns the JSON logger used by every service, at Debug level
// when verbose.
func NewLogger(verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
}

// Server wraps a chi router with the common middleware stack.
type Server struct {
	Config *Config
	Router *chi.Mux
	Logger *slog.Logger
	mw     *Middleware
	mu     sync.RWMutex // guards Config during runtime updates
}

// New creates a Server. A nil logger gets the default JSON logger.
func New(cfg *Config, logger *slog.Logger) *Server {
	if logger == nil {
		logger = NewLogger(cfg.Verbose)
	}
	s := &Server{
		Config: cfg,
		Router: chi.NewRouter(),
		Logger: logger,
	}
	s.mw = NewMiddleware(s.snapshot, logger)

	// Latency and failure middleware are always mounted and check the
	// current config on every request, so runtime updates apply at once.
	s.Router.Use(chimw.RequestID)
	s.Router.Use(chimw.RealIP)
	s.Router.Use(chimw.Recoverer)
	s.Router.Use(s.mw.CORS)
	s.Router.Use(s.mw.RequestLog)
	s.Router.Use(s.mw.LatencyInjection)
	s.Router.Use(s.mw.RandomFailure)
	return s
}

// snapshot returns a copy of the config for middleware reads.
func (s *Server) snapshot() Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return *s.Config
}

// Middleware returns the middleware instance (fault registry, request log).
func (s *Server) Middleware() *Middleware {
	return s.mw
}

// GetConfig returns the runtime configuration as a map.
func (s *Server) GetConfig() map[string]any {
	cfg := s.snapshot()
	return map[string]any{
		"name":      cfg.Name,
		"port":      cfg.Port,
		"latency":   cfg.Latency.String(),
		"fail_rate": cfg.FailRate,
		"verbose":   cfg.Verbose,
	}
}

// UpdateConfig applies runtime updates. Only latency, fail_rate and verbose
// may change; every key is validated before any is applied.
func (s *Server) UpdateConfig(updates map[string]any) error {
	var (
		latency  *time.Duration
		failRate *float64
		verbose  *bool
	)
	for k, v := range updates {
		switch k {
		case "latency":
			str, ok := v.(string)
			if !ok {
				return fmt.Errorf("latency must be a duration string")
			}
			d, err := time.ParseDuration(str)
			if err != nil {
				return fmt.Errorf("invalid latency duration: %w", err)
			}
			if d < 0 {
				return fmt.Errorf("latency must not be negative")
			}
			latency = &d
		case "fail_rate":
			f, ok := v.(float64)
			if !ok {
				return fmt.Errorf("fail_rate must be a number")
			}
			if f < 0 || f > 1 {
				return fmt.Errorf("fail_rate must be between 0.0 and 1.0")
			}
			failRate = &f
		case "verbose":
			b, ok := v.(bool)
			if !ok {
				return fmt.Errorf("verbose must be a boolean")
			}
			verbose = &b
		case "name", "port":
			return fmt.Errorf("%s cannot be changed at runtime", k)
		default:
			return fmt.Errorf("unknown config key: %s", k)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if latency != nil {
		s.Config.Latency = *latency
	}
	if failRate != nil {
		s.Config.FailRate = *failRate
	}
	if verbose != nil {
		s.Config.Verbose = *verbose
	}
	return nil
}

// Serve listens on the configured port until ctx is done, then shuts down
// gracefully.
func (s *Server) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", s.Config.Port))
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	return s.ServeListener(ctx, ln)
}

// ServeListener serves on ln until ctx is done.
func (s *Server) ServeListener(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:      s.Router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.Logger.Info("starting server", "name", s.Config.Name, "addr", ln.Addr().String())
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.Logger.Info("shutting down server", "name", s.Config.Name)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// ServeHTTP implements http.Handler so a Server can back httptest servers.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.Router.ServeHTTP(w, r)
}

// JSON writes v as a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		json.NewEncoder(w).Encode(v)
	}
}

// ErrorBody is the JSON error shape returned by every endpoint.
type ErrorBody struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    int    `json:"code"`
}

// NewErrorBody builds an ErrorBody for status.
func NewErrorBody(status int, message string) ErrorBody {
	return ErrorBody{Message: message, Type: http.StatusText(status), Code: status}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]any{"error": NewErrorBody(status, message)})
}
