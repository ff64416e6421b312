package routes

import (
	"net/http"

	"github.com/civiclens/civiclens/backend/internal/api/handlers"
	"github.com/civiclens/civiclens/backend/internal/api/middleware"
	"github.com/civiclens/civiclens/backend/internal/infrastructure/observability"
)

// Router holds all route handlers
type Router struct {
	mux *http.ServeMux

	healthHandler   *handlers.HealthHandler
	policyHandler   *handlers.PolicyHandler
	pipelineHandler *handlers.PipelineHandler
	sseHandler      *handlers.SSEHandler

	searchEnabled  bool
	allowedOrigins []string
	metrics        *observability.Metrics
}

// NewRouter creates a new router. sseHandler may be nil.
func NewRouter(
	healthHandler *handlers.HealthHandler,
	policyHandler *handlers.PolicyHandler,
	pipelineHandler *handlers.PipelineHandler,
	sseHandler *handlers.SSEHandler,
	searchEnabled bool,
	allowedOrigins []string,
	metrics *observability.Metrics,
) *Router {
	return &Router{
		mux:             http.NewServeMux(),
		healthHandler:   healthHandler,
		policyHandler:   policyHandler,
		pipelineHandler: pipelineHandler,
		sseHandler:      sseHandler,
		searchEnabled:   searchEnabled,
		allowedOrigins:  allowedOrigins,
		metrics:         metrics,
	}
}

// SetupRoutes configures all application routes
func (r *Router) SetupRoutes() http.Handler {
	// Health check endpoints
	r.mux.HandleFunc("GET /health", r.healthHandler.Health)
	r.mux.HandleFunc("GET /api/v1/health", r.healthHandler.Health)

	// Policy endpoints
	r.mux.HandleFunc("POST /api/v1/policies/upload", r.policyHandler.Upload)
	r.mux.HandleFunc("GET /api/v1/policies/list", r.policyHandler.List)
	r.mux.HandleFunc("GET /api/v1/policies/{policy_id}", r.policyHandler.Get)
	r.mux.HandleFunc("DELETE /api/v1/policies/{policy_id}", r.policyHandler.Delete)
	r.mux.HandleFunc("POST /api/v1/policies/{policy_id}/archive", r.policyHandler.Archive)

	if r.searchEnabled {
		r.mux.HandleFunc("GET /api/v1/policies/search", r.policyHandler.Search)
	}

	// Processing endpoints
	r.mux.HandleFunc("POST /api/v1/policies/{policy_id}/extract-text", r.pipelineHandler.ExtractText)
	r.mux.HandleFunc("GET /api/v1/policies/{policy_id}/text", r.pipelineHandler.GetText)
	r.mux.HandleFunc("GET /api/v1/policies/{policy_id}/processing", r.pipelineHandler.ListProcessing)
	r.mux.HandleFunc("POST /api/v1/policies/{policy_id}/stages/{stage}", r.pipelineHandler.RunStage)

	// Real-time pipeline events
	if r.sseHandler != nil {
		r.mux.HandleFunc("GET /api/v1/stream/policies/{policy_id}", r.sseHandler.StreamPolicyEvents)
	}

	// Apply middleware in reverse order (last middleware wraps first).
	// Observability sits next to the mux so it can read the matched pattern.
	var handler http.Handler = r.mux
	handler = middleware.ObservabilityMiddleware(r.metrics)(handler)
	handler = middleware.LoggingMiddleware(handler)
	handler = middleware.CORSMiddleware(r.allowedOrigins)(handler)

	return handler
}
