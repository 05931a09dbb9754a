package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/castellan-dir/castellan/internal/auth"
	"github.com/castellan-dir/castellan/internal/engine"
	"github.com/castellan-dir/castellan/internal/observability"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger        *slog.Logger
	Config        *Config
	AuthService   *auth.Service
	AuthHandler   *auth.Handler
	EngineHandler *engine.Handler
	Metrics       *observability.Metrics
}

// NewRouter constructs the chi.Router. Everything except health, metrics and
// the authentication endpoints sits behind the bearer-token check.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	params.AuthHandler.MountPublicRoutes(r)

	r.Group(func(r chi.Router) {
		r.Use(RequireAuth(params.AuthService))
		params.AuthHandler.MountAuthedRoutes(r)
		params.EngineHandler.MountRoutes(r)
	})

	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	return r
}
