package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"stackguard/internal/events"
	"stackguard/internal/rpc"
	"stackguard/internal/stack"
)

// Options wires the server to its collaborators. Only Local is required;
// routes of missing collaborators are not registered.
type Options struct {
	Version  string
	Local    rpc.Endpoint
	Registry *stack.Registry
	Router   *rpc.Router
	Events   *events.Store
	Metrics  http.Handler
	Logger   *zap.Logger
}

// Server represents the API server
type Server struct {
	router *chi.Mux
	opts   Options
	logger *zap.Logger
}

// NewServer creates the API server
func NewServer(opts Options) *Server {
	if opts.Version == "" {
		opts.Version = "v1"
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Server{
		router: chi.NewRouter(),
		opts:   opts,
		logger: logger,
	}

	s.setupRoutes()
	return s
}

// setupRoutes configures all routes
func (s *Server) setupRoutes() {
	r := s.router

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(requestLogger(s.logger))
	r.Use(middleware.Recoverer)

	securityHandler := NewSecurityHandler(s.opts.Local, s.logger)

	// Reachability probe used by other units
	r.Get("/", probe)

	r.Route("/api/{version}", func(r chi.Router) {
		r.Use(requireVersion(s.opts.Version))

		r.Get("/security", securityHandler.Handle)

		if s.opts.Registry != nil && s.opts.Router != nil {
			stackHandler := NewStackHandler(s.opts.Registry, s.opts.Router)
			r.Get("/stack", stackHandler.Units)
			r.Get("/stack/sensors", stackHandler.Sensors)
		}

		if s.opts.Events != nil {
			eventsHandler := NewEventsHandler(s.opts.Events)
			r.Get("/events", eventsHandler.List)
		}
	})

	if s.opts.Metrics != nil {
		r.Handle("/metrics", s.opts.Metrics)
	}
}

// Router returns the chi router
func (s *Server) Router() *chi.Mux {
	return s.router
}

func probe(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"result": true})
}

// writeJSON writes JSON response
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeFailure writes the failure envelope of the wire protocol
func writeFailure(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusForbidden, map[string]interface{}{
		"result": false,
		"error":  msg,
	})
}
