// Package monitor exposes the daemon's health checks over a small
// local HTTP endpoint for operators.
package monitor

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/marcus/groundskeeper/internal/logging"
)

// Check statuses.
const (
	StatusPass = "pass"
	StatusFail = "fail"
)

// Check is one named health check result.
type Check struct {
	Name    string `json:"name"`
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// CheckFunc produces a check result. It must be safe for concurrent
// use and should return quickly.
type CheckFunc func(ctx context.Context) Check

// Pass builds a passing check result.
func Pass(name, message string) Check {
	return Check{Name: name, Status: StatusPass, Message: message}
}

// Fail builds a failing check result.
func Fail(name, message string) Check {
	return Check{Name: name, Status: StatusFail, Message: message}
}

// Registry holds registered health checks in registration order.
type Registry struct {
	mu     sync.RWMutex
	names  []string
	checks map[string]CheckFunc
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{checks: make(map[string]CheckFunc)}
}

// Register adds a check. Re-registering a name replaces the check.
func (r *Registry) Register(name string, fn CheckFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.checks[name]; !exists {
		r.names = append(r.names, name)
	}
	r.checks[name] = fn
}

// RunAll executes every check and returns results in registration
// order.
func (r *Registry) RunAll(ctx context.Context) []Check {
	r.mu.RLock()
	names := append([]string(nil), r.names...)
	checks := make(map[string]CheckFunc, len(r.checks))
	for name, fn := range r.checks {
		checks[name] = fn
	}
	r.mu.RUnlock()

	results := make([]Check, 0, len(names))
	for _, name := range names {
		results = append(results, checks[name](ctx))
	}
	return results
}

// Server serves the check registry over HTTP.
type Server struct {
	registry *Registry
	addr     string
	srv      *http.Server
	log      *logging.Logger
}

// NewServer creates a monitor server bound to addr.
func NewServer(addr string, registry *Registry) *Server {
	s := &Server{
		registry: registry,
		addr:     addr,
		log:      logging.Component("monitor"),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	s.srv = &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	return s
}

// Start serves in the background until Shutdown.
func (s *Server) Start() {
	go func() {
		s.log.Infof("monitor endpoint listening on %s", s.addr)
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.Errorf("monitor server: %v", err)
		}
	}()
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

type healthResponse struct {
	Status string  `json:"status"`
	Checks []Check `json:"checks"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	checks := s.registry.RunAll(ctx)
	resp := healthResponse{Status: StatusPass, Checks: checks}
	code := http.StatusOK
	for _, c := range checks {
		if c.Status == StatusFail {
			resp.Status = StatusFail
			code = http.StatusServiceUnavailable
			break
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.log.Errorf("encoding health response: %v", err)
	}
}
