// Package httpapi exposes pipeline runs and record reads over JSON/HTTP.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/Kocoro-lab/rfpstudio/internal/apperrors"
	"github.com/Kocoro-lab/rfpstudio/internal/orchestrator"
	"github.com/Kocoro-lab/rfpstudio/internal/store"
	"github.com/Kocoro-lab/rfpstudio/internal/streaming"
)

// Runner executes a pipeline outside the process, e.g. as a Temporal workflow.
type Runner interface {
	Run(ctx context.Context, p *orchestrator.Pipeline, req orchestrator.Request) (*orchestrator.State, error)
}

// Options wires a Server. Durable and Streams may be nil.
type Options struct {
	Registry *orchestrator.Registry
	Store    store.RecordStore
	Streams  *streaming.Manager
	Durable  Runner
	APIToken string
	Logger   *zap.Logger
}

// Server holds the API handlers.
type Server struct {
	registry atomic.Pointer[orchestrator.Registry]
	store    store.RecordStore
	streams  *streaming.Manager
	durable  Runner
	token    string
	logger   *zap.Logger
}

func NewServer(opts Options) (*Server, error) {
	if opts.Registry == nil || opts.Store == nil {
		return nil, apperrors.Validation("http server needs a pipeline registry and a record store")
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	s := &Server{
		store:   opts.Store,
		streams: opts.Streams,
		durable: opts.Durable,
		token:   opts.APIToken,
		logger:  opts.Logger,
	}
	s.registry.Store(opts.Registry)
	return s, nil
}

// SetRegistry swaps the pipeline table. Runs already in flight keep the
// pipeline they started with.
func (s *Server) SetRegistry(r *orchestrator.Registry) {
	if r != nil {
		s.registry.Store(r)
	}
}

// RegisterRoutes mounts the API on mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/pipelines", s.handleListPipelines)
	mux.HandleFunc("POST /api/v1/pipelines/{name}/runs", s.handleRun)
	mux.HandleFunc("GET /api/v1/records/{id}", s.handleGetRecord)
	mux.HandleFunc("GET /api/v1/records/{id}/workitems", s.handleListWorkItems)
	mux.HandleFunc("GET /api/v1/records/{id}/events", s.handleListEvents)
	mux.HandleFunc("GET /api/v1/workitems/{id}", s.handleGetWorkItem)
	mux.HandleFunc("GET /api/v1/workflow/states", s.handleStates)
	if s.streams != nil {
		mux.HandleFunc("GET /api/v1/records/{id}/stream/ws", s.handleWS)
		mux.HandleFunc("GET /api/v1/records/{id}/stream/sse", s.handleSSE)
	}
}

// Handler returns the mux wrapped in the request middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return s.withMiddleware(mux)
}

type errorBody struct {
	Error string              `json:"error"`
	Kind  string              `json:"kind"`
	State *orchestrator.State `json:"state,omitempty"`
}

// statusFor maps the error taxonomy onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, apperrors.ErrValidation), errors.Is(err, apperrors.ErrInvalidIdentifier):
		return http.StatusBadRequest
	case errors.Is(err, apperrors.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, apperrors.ErrTransitionRejected):
		return http.StatusConflict
	case errors.Is(err, apperrors.ErrExternalService):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error, state *orchestrator.State) {
	code := statusFor(err)
	if code >= http.StatusInternalServerError {
		s.logger.Error("Request failed", zap.Error(err))
	}
	writeJSON(w, code, errorBody{Error: sanitizeErr(err.Error()), Kind: apperrors.Kind(err), State: state})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// sanitizeErr caps error text returned to clients.
func sanitizeErr(s string) string {
	runes := []rune(s)
	if len(runes) > 200 {
		return string(runes[:200])
	}
	return s
}
