// Package api serves the dashboard read routes and account routes over HTTP.
package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/sells-group/groundwater/internal/auth"
	"github.com/sells-group/groundwater/internal/model"
	"github.com/sells-group/groundwater/internal/observability"
)

// Dashboard answers the read routes.
type Dashboard interface {
	Home(ctx context.Context, term string) ([]model.StationCard, error)
	Districts(ctx context.Context) (*model.DistrictListing, error)
}

// Authenticator answers the account routes.
type Authenticator interface {
	Signup(ctx context.Context, req auth.SignupRequest) (*model.UserProfile, error)
	Signin(ctx context.Context, req auth.SigninRequest) (*model.UserProfile, error)
}

// Pinger reports store reachability for /health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps wires the router to its services.
type Deps struct {
	Dashboard Dashboard
	Auth      Authenticator
	Health    Pinger
	Metrics   *observability.Metrics

	// MetricsHandler serves /metrics. Defaults to promhttp.Handler().
	MetricsHandler http.Handler

	CORSOrigins []string
	SigninRPS   float64
	SigninBurst int

	// TrustProxy takes the client address from forwarding headers. Without
	// it the socket address keys the signin limiter.
	TrustProxy bool
}

// NewRouter builds the HTTP handler. Every route is served both at the
// root and under /api.
func NewRouter(d Deps) http.Handler {
	if d.MetricsHandler == nil {
		d.MetricsHandler = promhttp.Handler()
	}
	origins := d.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	h := &handlers{dash: d.Dashboard, auth: d.Auth, health: d.Health}
	limiter := newIPLimiter(rate.Limit(d.SigninRPS), d.SigninBurst)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	if d.TrustProxy {
		r.Use(middleware.RealIP)
	}
	r.Use(requestLogger(d.Metrics))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-Id"},
		MaxAge:         300,
	}))

	mount := func(r chi.Router) {
		r.With(limiter.middleware).Post("/signin", h.signin)
		r.Post("/signup", h.signup)
		r.Get("/home", h.home)
		r.Get("/districts", h.districts)
		r.Get("/health", h.healthz)
		r.Method(http.MethodGet, "/metrics", d.MetricsHandler)
	}
	mount(r)
	r.Route("/api", mount)

	return r
}
