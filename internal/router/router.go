package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"companion-auth/internal/config"
	"companion-auth/internal/handler"
	"companion-auth/internal/middleware"
)

type Handlers struct {
	Auth   *handler.AuthHandler
	Health *handler.HealthHandler
	Docs   *handler.DocsHandler
}

func New(cfg *config.Config, authMiddleware *middleware.AuthMiddleware, h Handlers) http.Handler {
	r := chi.NewRouter()
	throttle := middleware.NewThrottle(cfg.GeneralRateRPM)

	r.Use(middleware.Recovery)
	r.Use(middleware.ClientIP(cfg.TrustProxyHeaders))
	r.Use(middleware.Logging)
	r.Use(middleware.CORS(cfg.CORSOrigins))
	r.Use(middleware.SecurityHeaders)
	r.Use(throttle.Handler)

	r.Get("/health", h.Health.Health)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/openapi.yaml", h.Docs.OpenAPI)
	r.Get("/swagger", h.Docs.SwaggerUI)

	r.Route("/auth", func(auth chi.Router) {
		auth.Use(middleware.Timeout(cfg.RequestTimeout))

		auth.Post("/guest", h.Auth.Guest)
		auth.Post("/login", h.Auth.Login)
		auth.Post("/claim", h.Auth.Claim)
		auth.Post("/refresh", h.Auth.Refresh)
		auth.Post("/logout", h.Auth.Logout)

		auth.Group(func(protected chi.Router) {
			protected.Use(authMiddleware.RequireAuth)
			protected.Post("/logout-all", h.Auth.LogoutAll)
			protected.Get("/me", h.Auth.Me)
			protected.Get("/sessions", h.Auth.Sessions)
		})
	})

	return r
}
