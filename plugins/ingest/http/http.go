// Package httpingest accepts events over HTTP and hands them to the
// configured handlers. It plays the role of a logging facade for processes
// that cannot link logdog directly.
package httpingest

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/mbiondo/logdog/core"
	"github.com/mbiondo/logdog/pkg/auth"
)

// Config represents HTTP ingest configuration
type Config struct {
	Address      string           `yaml:"address"`
	Label        string           `yaml:"label,omitempty"`          // used for events without a label
	MaxBodyBytes int64            `yaml:"max_body_bytes,omitempty"` // default 1 MiB
	RateLimit    RateLimitConfig  `yaml:"rate_limit,omitempty"`
	Keys         []auth.KeyConfig `yaml:"keys,omitempty"` // no keys disables authentication
}

// RateLimitConfig limits accepted requests per second
type RateLimitConfig struct {
	Enabled bool    `yaml:"enabled"`
	Rate    float64 `yaml:"rate"`
	Burst   int     `yaml:"burst"`
}

// Event is the JSON form of an event
type Event struct {
	Level    string         `json:"level"`
	Message  string         `json:"message"`
	Label    string         `json:"label,omitempty"`
	Source   string         `json:"source,omitempty"`
	File     string         `json:"file,omitempty"`
	Function string         `json:"function,omitempty"`
	Line     int            `json:"line,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Result is the response body of an ingest request
type Result struct {
	Accepted int    `json:"accepted"`
	Failed   int    `json:"failed"`
	Error    string `json:"error,omitempty"`
}

// Server receives events via HTTP POST requests
type Server struct {
	config  Config
	handler core.EventHandler
	limiter *rate.Limiter
	auth    *auth.Middleware
	logger  *zap.Logger

	server *http.Server
	addr   string
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewFromConfig creates a server from a configuration map
func NewFromConfig(config map[string]any, handler core.EventHandler) (*Server, error) {
	var cfg Config
	if err := core.GetPluginConfig(config, &cfg); err != nil {
		return nil, err
	}
	return New(cfg, handler)
}

// New creates a new ingest server delivering to handler
func New(config Config, handler core.EventHandler) (*Server, error) {
	// Set defaults
	if config.Address == "" {
		config.Address = ":8080"
	}
	if config.MaxBodyBytes <= 0 {
		config.MaxBodyBytes = 1 << 20
	}

	if config.RateLimit.Enabled {
		if config.RateLimit.Rate <= 0 {
			config.RateLimit.Rate = 10
		}
		if config.RateLimit.Burst <= 0 {
			config.RateLimit.Burst = 20
		}
	}

	s := &Server{
		config:  config,
		handler: handler,
		logger:  zap.L().Named("ingest"),
	}

	if config.RateLimit.Enabled {
		s.limiter = rate.NewLimiter(rate.Limit(config.RateLimit.Rate), config.RateLimit.Burst)
	}

	var manager *auth.Manager
	if len(config.Keys) > 0 {
		manager = auth.NewManager()
		if err := manager.LoadKeys(config.Keys); err != nil {
			return nil, err
		}
	}
	s.auth = auth.NewMiddleware(manager)

	return s, nil
}

// Handler returns the HTTP routes: POST /events and GET /health
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("POST /events", s.auth.Require(auth.PermissionIngest, http.HandlerFunc(s.handleEvents)))
	mux.Handle("GET /health", s.auth.Require(auth.PermissionHealth, http.HandlerFunc(s.handleHealth)))
	return mux
}

// Start listens on the configured address and serves in the background
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.config.Address)
	if err != nil {
		return fmt.Errorf("ingest listen: %w", err)
	}

	s.mu.Lock()
	s.addr = ln.Addr().String()
	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	server := s.server
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("ingest server stopped", zap.Error(err))
		}
	}()

	s.logger.Info("ingest listening", zap.String("addr", s.addr))
	return nil
}

// Addr returns the listening address once started
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Shutdown stops accepting requests and waits for in-flight ones
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	server := s.server
	s.server = nil
	s.mu.Unlock()

	if server == nil {
		return nil
	}
	err := server.Shutdown(ctx)
	s.wg.Wait()
	return err
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.limiter != nil && !s.limiter.Allow() {
		writeResult(w, http.StatusTooManyRequests, Result{Error: "rate limit exceeded"})
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.config.MaxBodyBytes))
	if err != nil {
		status := http.StatusBadRequest
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		writeResult(w, status, Result{Error: err.Error()})
		return
	}

	var events []core.Event
	if strings.Contains(r.Header.Get("Content-Type"), "application/json") {
		events, err = s.decodeJSON(body)
	} else {
		events = s.decodeText(body)
	}
	if err != nil {
		writeResult(w, http.StatusBadRequest, Result{Error: err.Error()})
		return
	}

	var result Result
	for _, ev := range events {
		if err := s.handler.Log(r.Context(), ev); err != nil {
			result.Failed++
			if result.Error == "" {
				result.Error = err.Error()
			}
			continue
		}
		result.Accepted++
	}

	status := http.StatusAccepted
	if result.Failed > 0 {
		status = http.StatusBadGateway
		s.logger.Warn("events failed", zap.Int("failed", result.Failed), zap.String("error", result.Error))
	}
	writeResult(w, status, result)
}

// decodeJSON accepts one event object or an array of them
func (s *Server) decodeJSON(body []byte) ([]core.Event, error) {
	body = bytes.TrimSpace(body)

	var raw []Event
	if len(body) > 0 && body[0] == '[' {
		if err := json.Unmarshal(body, &raw); err != nil {
			return nil, fmt.Errorf("invalid JSON: %w", err)
		}
	} else {
		var one Event
		if err := json.Unmarshal(body, &one); err != nil {
			return nil, fmt.Errorf("invalid JSON: %w", err)
		}
		raw = []Event{one}
	}

	events := make([]core.Event, 0, len(raw))
	for i, e := range raw {
		level := core.LevelInfo
		if e.Level != "" {
			var err error
			if level, err = core.ParseLevel(e.Level); err != nil {
				return nil, fmt.Errorf("event %d: %w", i, err)
			}
		}
		events = append(events, core.Event{
			Level:    level,
			Message:  e.Message,
			Metadata: metadata(e.Metadata),
			Label:    s.label(e.Label),
			Source:   e.Source,
			File:     e.File,
			Function: e.Function,
			Line:     e.Line,
		})
	}
	return events, nil
}

// decodeText turns every non-empty line into an event
func (s *Server) decodeText(body []byte) []core.Event {
	var events []core.Event
	scanner := bufio.NewScanner(bytes.NewReader(body))
	scanner.Buffer(make([]byte, 0, 64*1024), len(body)+1)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		events = append(events, core.Event{
			Level:   GuessLevel(line),
			Message: line,
			Label:   s.label(""),
			Source:  "http",
		})
	}
	return events
}

func (s *Server) label(label string) string {
	if label == "" {
		return s.config.Label
	}
	return label
}

// GuessLevel picks a level from keywords in a plain text line
func GuessLevel(line string) core.Level {
	lower := strings.ToLower(line)
	switch {
	case strings.Contains(lower, "fatal") || strings.Contains(lower, "critical"):
		return core.LevelCritical
	case strings.Contains(lower, "error"):
		return core.LevelError
	case strings.Contains(lower, "warn"):
		return core.LevelWarning
	case strings.Contains(lower, "debug"):
		return core.LevelDebug
	case strings.Contains(lower, "trace"):
		return core.LevelTrace
	default:
		return core.LevelInfo
	}
}

// metadata keeps JSON objects deterministic by sorting keys
func metadata(m map[string]any) core.Metadata {
	if len(m) == 0 {
		return nil
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make(core.Metadata, 0, len(keys))
	for _, k := range keys {
		out = append(out, core.F(k, m[k]))
	}
	return out
}

func writeResult(w http.ResponseWriter, status int, result Result) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(result)
}
