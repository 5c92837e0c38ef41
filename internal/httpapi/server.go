package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"github.com/ent0n29/guardian/internal/config"
	"github.com/ent0n29/guardian/internal/escalation"
	"github.com/ent0n29/guardian/internal/guardian"
	"github.com/ent0n29/guardian/internal/monitor"
	"github.com/ent0n29/guardian/internal/observability"
	"github.com/ent0n29/guardian/internal/profile"
	"github.com/ent0n29/guardian/internal/session"
)

// ReadinessCheck reports whether a dependency is usable. Name labels it in
// the /readyz payload.
type ReadinessCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

type Server struct {
	cfg      config.Config
	sessions *session.Manager
	monitor  *monitor.Service
	profile  *profile.Store
	metrics  *observability.Metrics
	logger   *slog.Logger
	checks   []ReadinessCheck
	upgrader websocket.Upgrader
}

func New(cfg config.Config, sessions *session.Manager, mon *monitor.Service, profiles *profile.Store, metrics *observability.Metrics, logger *slog.Logger, checks ...ReadinessCheck) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:      cfg,
		sessions: sessions,
		monitor:  mon,
		profile:  profiles,
		metrics:  metrics,
		logger:   logger,
		checks:   checks,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Only same-origin browsers may open a monitored session.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Non-browser clients often omit Origin.
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})
	r.Get("/v1/stats/latency", s.handleLatency)

	r.Get("/v1/profile", s.handleGetProfile)
	r.Put("/v1/profile", s.handlePutProfile)

	r.Route("/v1/sessions", func(r chi.Router) {
		r.Post("/", s.handleCreateSession)
		r.Get("/ws", s.handleSessionWS)
		r.Route("/{id}", func(r chi.Router) {
			r.Post("/end", s.handleEndSession)
			r.Put("/mode", s.handleSetMode)
			r.Post("/turns", s.handleSubmitText)
			r.Post("/audio", s.handleSubmitAudio)
			r.Post("/image", s.handleSubmitImage)
			r.Post("/confirm", s.handleConfirm)
			r.Get("/log", s.handleLog)
			r.Get("/alerts", s.handleAlerts)
		})
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"backend": s.cfg.Backend,
	})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	results := make(map[string]string, len(s.checks))
	for _, c := range s.checks {
		if err := c.Check(r.Context()); err != nil {
			status = http.StatusServiceUnavailable
			results[c.Name] = err.Error()
			continue
		}
		results[c.Name] = "ok"
	}
	state := "ready"
	if status != http.StatusOK {
		state = "degraded"
	}
	respondJSON(w, status, map[string]any{
		"status": state,
		"checks": results,
	})
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}

// classify maps domain errors to an HTTP status and a stable error code.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, session.ErrNotFound):
		return http.StatusNotFound, "session_not_found"
	case errors.Is(err, session.ErrEnded):
		return http.StatusConflict, "session_ended"
	case errors.Is(err, guardian.ErrEmptyInput):
		return http.StatusBadRequest, "empty_input"
	case errors.Is(err, guardian.ErrBackendUnavailable):
		return http.StatusBadGateway, "backend_unavailable"
	case errors.Is(err, escalation.ErrNothingPending):
		return http.StatusConflict, "nothing_pending"
	case errors.Is(err, escalation.ErrInvalidChoice):
		return http.StatusBadRequest, "invalid_choice"
	case errors.Is(err, monitor.ErrMediaUnavailable):
		return http.StatusNotImplemented, "media_unavailable"
	case errors.Is(err, profile.ErrInvalidProfile):
		return http.StatusBadRequest, "invalid_profile"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

func (s *Server) respondDomainError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := classify(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "path", r.URL.Path, "code", code, "error", err,
			"request_id", middleware.GetReqID(r.Context()))
	}
	respondError(w, status, code, err.Error())
}
