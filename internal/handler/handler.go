package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/geco-mentor/Msia-Hackathon-2025-11-Team-D-Training-Tracker-sub001/internal/analytics"
	"github.com/geco-mentor/Msia-Hackathon-2025-11-Team-D-Training-Tracker-sub001/internal/i18n"
	"github.com/geco-mentor/Msia-Hackathon-2025-11-Team-D-Training-Tracker-sub001/internal/metrics"
	"github.com/geco-mentor/Msia-Hackathon-2025-11-Team-D-Training-Tracker-sub001/internal/model"
	"github.com/geco-mentor/Msia-Hackathon-2025-11-Team-D-Training-Tracker-sub001/internal/session"
)

// Sessions is the session engine as seen by HTTP handlers.
type Sessions interface {
	Start(ctx context.Context, req session.StartRequest) (session.View, error)
	SubmitAnswer(ctx context.Context, sessionID, answer string) (session.View, error)
	Status(ctx context.Context, sessionID string) (session.View, error)
}

// Reports produces the analytics overview.
type Reports interface {
	Overview(ctx context.Context) (analytics.Overview, error)
}

// Directory manages employees and scenarios.
type Directory interface {
	CreateEmployee(ctx context.Context, e model.Employee) error
	GetEmployee(ctx context.Context, id string) (model.Employee, error)
	ListEmployees(ctx context.Context) ([]model.Employee, error)
	ListEmployeeRecords(ctx context.Context, employeeID string) ([]model.AssessmentRecord, error)
	CreateScenario(ctx context.Context, sc model.Scenario) error
	ListScenarios(ctx context.Context) ([]model.Scenario, error)
}

// HealthCheck reports whether a dependency is usable.
type HealthCheck func(ctx context.Context) error

// Handler holds shared dependencies for HTTP handlers.
type Handler struct {
	sessions  Sessions
	reports   Reports
	directory Directory
	bundle    *i18n.Bundle
	metrics   *metrics.Manager
	checks    map[string]HealthCheck
}

// Option configures a Handler.
type Option func(*Handler)

// WithMetrics serves the metrics registry on /metrics.
func WithMetrics(m *metrics.Manager) Option {
	return func(h *Handler) { h.metrics = m }
}

// WithHealthCheck adds a named dependency check to /healthz.
func WithHealthCheck(name string, check HealthCheck) Option {
	return func(h *Handler) { h.checks[name] = check }
}

// New creates a new Handler.
func New(sessions Sessions, reports Reports, directory Directory, bundle *i18n.Bundle, opts ...Option) *Handler {
	h := &Handler{
		sessions:  sessions,
		reports:   reports,
		directory: directory,
		bundle:    bundle,
		checks:    make(map[string]HealthCheck),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Router builds the full HTTP handler with middleware.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	if h.bundle != nil {
		r.Use(h.bundle.Middleware)
	}
	h.Routes(r)
	return r
}

// Routes registers all HTTP routes.
func (h *Handler) Routes(r chi.Router) {
	r.NotFound(h.handleNotFound)
	r.MethodNotAllowed(h.handleMethodNotAllowed)

	r.Get("/healthz", h.handleHealth)
	if h.metrics != nil {
		r.Method(http.MethodGet, "/metrics", h.metrics.Handler())
	}

	r.Route("/sessions", func(r chi.Router) {
		r.Post("/", h.handleStartSession)
		r.Get("/{sessionID}", h.handleSessionStatus)
		r.Post("/{sessionID}/answers", h.handleSubmitAnswer)
	})

	r.Get("/analytics/overview", h.handleOverview)

	r.Get("/employees", h.handleLeaderboard)
	r.Post("/employees", h.handleCreateEmployee)
	r.Get("/employees/{employeeID}", h.handleGetEmployee)
	r.Get("/scenarios", h.handleListScenarios)
	r.Post("/scenarios", h.handleCreateScenario)
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	result := make(map[string]string, len(h.checks))
	for name, check := range h.checks {
		if err := check(r.Context()); err != nil {
			result[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		result[name] = i18n.T(r.Context(), "Healthy")
	}
	writeJSON(w, status, envelope{Success: status == http.StatusOK, Data: result})
}

func (h *Handler) handleNotFound(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusNotFound, envelope{Message: i18n.T(r.Context(), "ErrRouteNotFound")})
}

func (h *Handler) handleMethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusMethodNotAllowed, envelope{Message: i18n.T(r.Context(), "ErrMethodNotAllowed")})
}
