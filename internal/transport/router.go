package transport

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/pitabwire/fieldadmin/internal/config"
	"github.com/pitabwire/fieldadmin/internal/observability"
	"github.com/pitabwire/fieldadmin/internal/store"
)

// Dependencies holds all injected dependencies for the HTTP transport layer.
type Dependencies struct {
	Config    *config.Config
	Service   *store.Service
	Logger    *zap.Logger
	Metrics   *observability.Metrics
	Gatherer  prometheus.Gatherer
	Readiness observability.ReadinessChecks

	// Authenticate replaces the bearer token authenticator. Tests use it to
	// inject a fixed caller.
	Authenticate func(http.Handler) http.Handler
}

// NewRouter creates a chi.Router with the full middleware pipeline and all
// route registrations. Health, readiness, and metrics endpoints bypass
// authentication.
func NewRouter(deps Dependencies) chi.Router {
	cfg := deps.Config
	if cfg == nil {
		cfg = config.Defaults()
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	r := chi.NewRouter()

	r.Use(Recovery(logger))
	r.Use(CORS(cfg.Server.CORS))
	r.Use(RequestID)
	r.Use(SecurityHeaders)
	r.Use(observability.TracingMiddleware)
	if deps.Metrics != nil {
		r.Use(deps.Metrics.MetricsMiddleware)
	}

	r.Get("/admin/health", observability.HandleHealth())
	r.Get("/admin/ready", observability.HandleReady(deps.Readiness))
	if cfg.Observability.Metrics.Enabled && deps.Gatherer != nil {
		path := cfg.Observability.Metrics.Path
		if path == "" {
			path = "/metrics"
		}
		r.Handle(path, observability.Handler(deps.Gatherer))
	}

	auth := deps.Authenticate
	if auth == nil {
		var keys KeySource
		if cfg.Identity.Mode != config.IdentityUnverified {
			keys = NewJWKSClient(cfg.Identity.JWKSURL, cfg.Identity.JWKSCacheTTL, logger)
		} else {
			logger.Warn("identity verification disabled, caller state is keyed by token")
		}
		auth = NewAuthenticator(cfg.Identity, keys).Middleware
	}
	svc := deps.Service

	r.Group(func(r chi.Router) {
		r.Use(auth)
		r.Use(HandlerTimeout(cfg.Server.HandlerTimeout))
		r.Use(RequestLogging(logger))

		r.Get("/admin/state", handleState(svc))
		r.Post("/admin/state/clear/{kind}", handleClear(svc))

		r.Route("/admin/data-models", func(r chi.Router) {
			r.Get("/", handleListDataModels(svc))
			r.Post("/", handleCreateDataModel(svc))
			r.Get("/slug/{slug}", handleGetDataModelBySlug(svc))
			r.Patch("/fields/{fieldId}", handleUpdateField(svc))
			r.Delete("/fields/{fieldId}", handleRemoveField(svc))

			r.Get("/{id}", handleGetDataModel(svc))
			r.Patch("/{id}", handleUpdateDataModel(svc))
			r.Delete("/{id}", handleDeleteDataModel(svc))
			r.Post("/{id}/fields", handleAddField(svc))
		})

		r.Route("/admin/records/{modelId}", func(r chi.Router) {
			r.Get("/", handleQueryRecords(svc))
			r.Post("/", handleCreateRecord(svc))
			r.Get("/{recordId}", handleGetRecord(svc))
			r.Patch("/{recordId}", handleUpdateRecord(svc))
			r.Delete("/{recordId}", handleDeleteRecord(svc))
		})

		r.Route("/admin/workflows", func(r chi.Router) {
			r.Get("/", handleListWorkflows(svc))
			r.Post("/", handleCreateWorkflow(svc))
			r.Get("/slug/{slug}", handleGetWorkflowBySlug(svc))
			r.Get("/executions/{executionId}", handleGetExecution(svc))
			r.Post("/executions/{executionId}/cancel", handleCancelExecution(svc))

			r.Get("/{id}", handleGetWorkflow(svc))
			r.Patch("/{id}", handleUpdateWorkflow(svc))
			r.Delete("/{id}", handleDeleteWorkflow(svc))
			r.Post("/{id}/publish", handlePublishWorkflow(svc))
			r.Post("/{id}/execute", handleExecuteWorkflow(svc))
			r.Get("/{id}/executions", handleListExecutions(svc))
		})
	})

	return r
}
