package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lockboxhq/lockbox/internal/api/auth"
	"github.com/lockboxhq/lockbox/internal/api/handlers"
	"github.com/lockboxhq/lockbox/internal/api/middleware"
	"github.com/lockboxhq/lockbox/internal/logger"
	"github.com/lockboxhq/lockbox/pkg/metrics"
	"github.com/lockboxhq/lockbox/pkg/metrics/prometheus"
	"github.com/lockboxhq/lockbox/pkg/vault/authn"
	"github.com/lockboxhq/lockbox/pkg/vault/lifecycle"
	"github.com/lockboxhq/lockbox/pkg/vault/store"
	"github.com/lockboxhq/lockbox/pkg/vault/sweeper"
)

// Deps carries the services the router exposes over HTTP.
type Deps struct {
	Store         *store.GORMStore
	Lifecycle     *lifecycle.Manager
	Authenticator *authn.Authenticator
	Sweeper       *sweeper.Sweeper
	JWTService    *auth.JWTService
}

// NewRouter creates and configures the chi router with all middleware and routes.
//
// The router is configured with:
//   - Request ID middleware for request tracking
//   - Real IP extraction for proper client identification
//   - Custom request logging using the internal logger
//   - Panic recovery to prevent server crashes
//   - Request timeout to prevent hung requests
//
// Routes:
//   - GET /health, GET /health/ready - unauthenticated probes
//   - POST /v2/auth/iam-principal - unauthenticated, proof carried in body
//   - /v2/safe-deposit-box CRUD - JWT required
//   - PUT /v1/cleanup - JWT with admin role required
//   - GET /metrics - Prometheus scrape endpoint, when metrics are enabled
func NewRouter(deps Deps) http.Handler {
	r := chi.NewRouter()

	// Middleware stack - order matters
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(requestLogger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(30 * time.Second))

	healthHandler := handlers.NewHealthHandler(deps.Store)
	authHandler := handlers.NewAuthHandler(deps.Authenticator, prometheus.NewAuthMetrics())
	boxHandler := handlers.NewBoxHandler(deps.Store, deps.Lifecycle, prometheus.NewBoxMetrics())
	cleanupHandler := handlers.NewCleanupHandler(deps.Sweeper, prometheus.NewSweepMetrics())

	// Health routes - unauthenticated
	r.Route("/health", func(r chi.Router) {
		r.Get("/", healthHandler.Liveness)
		r.Get("/ready", healthHandler.Readiness)
	})

	if metrics.IsEnabled() {
		r.Get("/metrics", promhttp.HandlerFor(
			metrics.GetRegistry(),
			promhttp.HandlerOpts{EnableOpenMetrics: true},
		).ServeHTTP)
	}

	// Principal authentication carries its own proof and is not behind JWT.
	r.Post("/v2/auth/iam-principal", authHandler.IamPrincipal)

	// Management routes - JWT required
	r.Group(func(r chi.Router) {
		r.Use(middleware.JWTAuth(deps.JWTService))

		r.Route("/v2/safe-deposit-box", func(r chi.Router) {
			r.Post("/", boxHandler.Create)
			r.Get("/", boxHandler.List)
			r.Get("/{id}", boxHandler.Get)
			r.Put("/{id}", boxHandler.Update)
			r.Delete("/{id}", boxHandler.Delete)
		})

		// Older clients still delete through the v1 path.
		r.Delete("/v1/safe-deposit-box/{id}", boxHandler.Delete)

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireAdmin())
			r.Put("/v1/cleanup", cleanupHandler.Cleanup)
		})
	})

	// Root redirect to health for convenience
	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/health", http.StatusTemporaryRedirect)
	})

	return r
}

// requestLogger is a custom middleware that logs requests using the internal logger.
//
// Health probes complete at DEBUG to keep Kubernetes polling out of the
// INFO stream; everything else logs completion at INFO.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := chimiddleware.GetReqID(r.Context())

		logger.Debug("API request started",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"remote_addr", r.RemoteAddr,
		)

		// Wrap response writer to capture status code
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)

		// Every *Ctx log line below this middleware carries the request id.
		ctx := logger.WithContext(r.Context(), &logger.LogContext{
			RequestID: requestID,
			ClientIP:  r.RemoteAddr,
		})

		next.ServeHTTP(ww, r.WithContext(ctx))

		duration := time.Since(start)

		logFn := logger.Info
		if strings.HasPrefix(r.URL.Path, "/health") {
			logFn = logger.Debug
		}
		logFn("API request completed",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", duration.String(),
		)
	})
}
