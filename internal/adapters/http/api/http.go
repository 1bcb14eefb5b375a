// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/goccy/go-json"

	"github.com/okian/trendcast/internal/adapters/mq/queue"
	"github.com/okian/trendcast/internal/adapters/repository"
	service "github.com/okian/trendcast/internal/app"
	"github.com/okian/trendcast/internal/domain/model"
	"github.com/okian/trendcast/internal/domain/replication"
	"github.com/okian/trendcast/pkg/logger"
)

// Dependencies required by HTTP handlers. *service.Service satisfies it.
type Dependencies interface {
	Ready(ctx context.Context) error

	Signatures(ctx context.Context) ([]model.TrendSignature, error)
	Signature(ctx context.Context, trendID string) (model.TrendSignature, error)
	Opportunities(ctx context.Context, trendID string) ([]model.Opportunity, error)
	Opportunity(ctx context.Context, opportunityID string) (model.Opportunity, error)

	Plan(ctx context.Context, trendID string, req replication.PlanRequest) (model.Opportunity, error)
	Deliver(ctx context.Context, opportunityID string, targets ...string) ([]string, error)
	RunCycle(ctx context.Context) (service.CycleReport, error)
}

// Server wires HTTP routes for the business API.
type Server struct {
	healthHandler      *HealthHandler
	signatureHandler   *SignatureHandler
	opportunityHandler *OpportunityHandler
	cycleHandler       *CycleHandler
	logger             logger.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the server logger.
func WithLogger(l logger.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewServer creates a new API server with all handlers.
func NewServer(deps Dependencies, opts ...Option) *Server {
	s := &Server{logger: logger.Get().Named("api")}
	for _, opt := range opts {
		opt(s)
	}
	s.healthHandler = NewHealthHandler(deps)
	s.signatureHandler = NewSignatureHandler(deps, s.logger)
	s.opportunityHandler = NewOpportunityHandler(deps, s.logger)
	s.cycleHandler = NewCycleHandler(deps, s.logger)
	return s
}

// Routes returns the API router. Extra registers additional routes, such as
// the API docs, on the same router.
func (s *Server) Routes(extra ...func(chi.Router)) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(MetricsMiddleware)

	r.Get("/healthz", s.healthHandler.HandleHealth)
	r.Get("/metrics", s.healthHandler.HandleMetrics)

	r.Route("/signatures", func(r chi.Router) {
		r.Get("/", s.signatureHandler.HandleList)
		r.Get("/{id}", s.signatureHandler.HandleGet)
		r.Get("/{id}/opportunities", s.signatureHandler.HandleOpportunities)
		r.Post("/{id}/plan", s.signatureHandler.HandlePlan)
	})
	r.Get("/opportunities/{id}", s.opportunityHandler.HandleGet)
	r.Post("/opportunities/{id}/deliver", s.opportunityHandler.HandleDeliver)
	r.Post("/cycles", s.cycleHandler.HandleRun)

	for _, fn := range extra {
		fn(r)
	}
	return r
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}

// statusFor maps domain errors onto HTTP statuses and error codes.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, ErrBadRequest),
		errors.Is(err, replication.ErrInvalidTargets),
		errors.Is(err, replication.ErrInvalidVariantCount),
		errors.Is(err, service.ErrUnknownTarget):
		return http.StatusBadRequest, "bad_request"
	case errors.Is(err, repository.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, service.ErrSignatureExpired):
		return http.StatusGone, "expired"
	case errors.Is(err, service.ErrNotSelected),
		errors.Is(err, repository.ErrConflict):
		return http.StatusConflict, "conflict"
	case errors.Is(err, service.ErrCycleRunning):
		return http.StatusConflict, "cycle_running"
	case errors.Is(err, queue.ErrFull):
		return http.StatusTooManyRequests, "backpressure"
	case errors.Is(err, replication.ErrAllVariantsFailed):
		return http.StatusBadGateway, "generation_failed"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "timeout"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

func failWith(w http.ResponseWriter, r *http.Request, log logger.Logger, err error) {
	status, code := statusFor(err)
	if status >= http.StatusInternalServerError {
		log.Error(r.Context(), "request failed",
			logger.String("path", r.URL.Path),
			logger.String("request_id", chimiddleware.GetReqID(r.Context())),
			logger.Error(err),
		)
	}
	writeError(w, status, code, err)
}

// decodeBody decodes an optional JSON body into v.
func decodeBody(r *http.Request, v any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	if err != nil {
		return WrapKind("decode body", ErrBadRequest, err)
	}
	return nil
}
