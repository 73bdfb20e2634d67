package router

import (
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/vision/backend/internal/broker"
	"github.com/vision/backend/internal/config"
	"github.com/vision/backend/internal/entries"
	"github.com/vision/backend/internal/handlers"
	"github.com/vision/backend/internal/hub"
	"github.com/vision/backend/internal/middleware"
	"github.com/vision/backend/internal/results"
	"github.com/vision/backend/internal/services"
)

// Deps are the long-lived components the HTTP surface is built on.
type Deps struct {
	Credentials *services.CredentialService
	Catalog     *entries.Catalog
	Scores      *entries.ScoreStore
	Aggregator  *results.Aggregator
	Broker      *broker.Broker
	Hub         *hub.Hub
	RateLimiter *middleware.RateLimiter
}

func New(cfg *config.Config, d Deps) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.NewRealIPMiddleware(cfg.TrustedProxies).Handler)
	r.Use(middleware.RequestContextMiddleware)
	r.Use(middleware.RequestLogger)
	r.Use(middleware.CORSMiddleware(cfg.CORSAllowedOrigins))

	// Handlers
	configHandler := handlers.NewConfigHandler(d.Aggregator.MaxScore(), cfg.ClientRefreshLeeway, cfg.ClientMinRefresh)
	authHandler := handlers.NewAuthHandler(d.Credentials, d.Hub)
	entryHandler := handlers.NewEntryHandler(d.Catalog, d.Scores, d.Hub)
	sseHandler := handlers.NewSSEHandler(d.Broker, d.Aggregator, d.Catalog.IDs())
	updateHandler := handlers.NewUpdateHandler(d.Hub, originPatterns(cfg.CORSAllowedOrigins))
	monitoringHandler := handlers.NewMonitoringHandler(cfg.SentryFrontendDSN)

	// Keepalive websocket
	r.Get("/update", updateHandler.Serve)

	// Routes
	r.Route("/api", func(r chi.Router) {
		// Health check
		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"status":"ok"}`))
		})

		// Public configuration (score range, refresh timing)
		r.Get("/config", configHandler.PublicConfig)

		// Credential issuance (rate limited)
		r.With(d.RateLimiter.Middleware).Post("/register", authHandler.Register)
		r.With(d.RateLimiter.Middleware).Post("/token", authHandler.Token)

		// Browser error reports
		r.Post("/monitoring", monitoringHandler.Tunnel)

		// Live results for spectators
		r.Get("/results/stream", sseHandler.Stream)

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(middleware.AuthMiddleware(d.Credentials))
			r.Use(middleware.UpdateRequestContextMiddleware)

			r.Post("/logout", authHandler.Logout)

			r.Route("/entries", func(r chi.Router) {
				r.Get("/", entryHandler.List)
				r.Get("/{id}", entryHandler.Get)
				r.Patch("/{id}", entryHandler.Update)
			})
		})
	})

	return r
}

// originPatterns turns allowed CORS origins into websocket origin host patterns.
func originPatterns(origins []string) []string {
	patterns := make([]string, 0, len(origins))
	for _, origin := range origins {
		u, err := url.Parse(origin)
		if err != nil || u.Host == "" {
			continue
		}
		patterns = append(patterns, u.Host)
	}
	return patterns
}
