package royaltyd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"royaltysync/core/activity"
	"royaltysync/engine"
	"royaltysync/observability"
)

const maxBodyBytes = 64 << 10

// Engine is the part of the engine manager the admin API drives.
type Engine interface {
	Connect(ctx context.Context) (*engine.Session, error)
	Disconnect()
	Refresh(ctx context.Context) (bool, error)
	Execute(ctx context.Context, action engine.Action) error
	State() engine.StateView
	Log() *activity.Log
	Orchestrator() *engine.Orchestrator
}

// AdminServer exposes the engine to interface layers over HTTP.
type AdminServer struct {
	engine  Engine
	auth    *Authenticator
	limiter *RateLimiter
	metrics *observability.AdminMetrics
	logger  *slog.Logger
	router  http.Handler
}

// AdminOption customises the admin server.
type AdminOption func(*AdminServer)

// WithRateLimiter throttles the /v1 routes.
func WithRateLimiter(l *RateLimiter) AdminOption {
	return func(s *AdminServer) { s.limiter = l }
}

// WithAdminMetrics records request metrics.
func WithAdminMetrics(m *observability.AdminMetrics) AdminOption {
	return func(s *AdminServer) { s.metrics = m }
}

// WithAdminLogger sets the structured logger.
func WithAdminLogger(l *slog.Logger) AdminOption {
	return func(s *AdminServer) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewAdminServer constructs a server wrapping eng. auth is required.
func NewAdminServer(eng Engine, auth *Authenticator, opts ...AdminOption) *AdminServer {
	s := &AdminServer{engine: eng, auth: auth, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	s.router = s.buildRouter()
	return s
}

// ServeHTTP implements http.Handler.
func (s *AdminServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *AdminServer) buildRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(s.observe)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(v1 chi.Router) {
		if s.limiter != nil {
			v1.Use(s.limiter.Middleware)
		}
		v1.Use(s.auth.Middleware)

		v1.Post("/session/connect", s.handleConnect)
		v1.Post("/session/disconnect", s.handleDisconnect)
		v1.Get("/state", s.handleState)
		v1.Get("/activity", s.handleActivity)
		v1.Get("/activity/stream", s.handleActivityStream)
		v1.Post("/refresh", s.handleRefresh)
		v1.Get("/drafts", s.handleDrafts)
		v1.Put("/drafts/{field}", s.handleSetDraft)
		v1.Post("/actions/{action}", s.handleAction)
	})
	return r
}

func (s *AdminServer) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		route := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil {
			if pattern := rc.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		s.metrics.Observe(route, status, time.Since(start))
	})
}

func (s *AdminServer) handleConnect(w http.ResponseWriter, r *http.Request) {
	if _, err := s.engine.Connect(r.Context()); err != nil {
		s.writeError(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, http.StatusOK, s.engine.State())
}

func (s *AdminServer) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	s.engine.Disconnect()
	w.WriteHeader(http.StatusNoContent)
}

func (s *AdminServer) handleState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.State())
}

type activityResponse struct {
	Capacity int              `json:"capacity"`
	Entries  []activity.Entry `json:"entries"`
}

func (s *AdminServer) handleActivity(w http.ResponseWriter, r *http.Request) {
	log := s.engine.Log()
	writeJSON(w, http.StatusOK, activityResponse{Capacity: log.Capacity(), Entries: log.Entries()})
}

type refreshResponse struct {
	Ran bool `json:"ran"`
}

func (s *AdminServer) handleRefresh(w http.ResponseWriter, r *http.Request) {
	ran, err := s.engine.Refresh(r.Context())
	if err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, refreshResponse{Ran: ran})
}

func (s *AdminServer) handleDrafts(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.Orchestrator().Drafts().All())
}

type draftRequest struct {
	Value string `json:"value"`
}

func (s *AdminServer) handleSetDraft(w http.ResponseWriter, r *http.Request) {
	var req draftRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	field := chi.URLParam(r, "field")
	if err := s.engine.Orchestrator().Drafts().Set(field, req.Value); err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *AdminServer) handleAction(w http.ResponseWriter, r *http.Request) {
	params, err := decodeParams(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	action, err := engine.ParseAction(chi.URLParam(r, "action"), params, s.engine.Orchestrator().Drafts())
	if err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}
	if err := s.engine.Execute(r.Context(), action); err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, s.engine.State())
}

// decodeParams accepts a flat JSON object of strings or numbers. Numbers keep
// their literal text so amounts are never routed through float64.
func decodeParams(r *http.Request) (map[string]string, error) {
	raw := map[string]interface{}{}
	if err := decodeBody(r, &raw); err != nil {
		return nil, err
	}
	params := make(map[string]string, len(raw))
	for key, value := range raw {
		switch v := value.(type) {
		case string:
			params[key] = v
		case json.Number:
			params[key] = v.String()
		case nil:
		default:
			return nil, fmt.Errorf("parameter %s must be a string or number", key)
		}
	}
	return params, nil
}

func decodeBody(r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.UseNumber()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

// statusFor maps engine errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, engine.ErrBusy):
		return http.StatusConflict
	case errors.Is(err, engine.ErrInvalidAction), errors.Is(err, engine.ErrPreflight):
		return http.StatusBadRequest
	case errors.Is(err, engine.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, engine.ErrNoSession):
		return http.StatusServiceUnavailable
	}
	return http.StatusBadGateway
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *AdminServer) writeError(w http.ResponseWriter, status int, err error) {
	if status >= http.StatusInternalServerError {
		s.logger.Error("admin request failed", slog.Int("status", status), slog.Any("error", err))
	}
	writeJSON(w, status, errorResponse{Error: strings.TrimSpace(err.Error())})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
