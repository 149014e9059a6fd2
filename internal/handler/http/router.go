package http

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nanami404/meeting-assistant/internal/service"
	"github.com/nanami404/meeting-assistant/pkg/health"
	"github.com/nanami404/meeting-assistant/pkg/middleware"
)

// RouterConfig holds the dependencies and settings for the HTTP router.
type RouterConfig struct {
	Auth     *service.AuthService
	Messages *service.MessageService
	Health   *health.Handler
	Logger   *slog.Logger

	CORSAllowedOrigins []string
	Environment        string
	AuthRateRPS        int
	AuthRateBurst      int
	PprofEnabled       bool
	PprofAllowedCIDRs  []string
}

// NewRouter builds the chi router with all routes and middleware.
func NewRouter(cfg RouterConfig) http.Handler {
	authHandler := NewAuthHandler(cfg.Auth, cfg.Logger)
	messageHandler := NewMessageHandler(cfg.Messages, cfg.Logger)
	streamHandler := NewStreamHandler(cfg.Auth, cfg.Messages, cfg.Logger)

	validate := func(ctx context.Context, tok string) (*middleware.Claims, error) {
		claims, err := cfg.Auth.VerifyAccess(ctx, tok)
		if err != nil {
			return nil, err
		}
		return &middleware.Claims{UserID: claims.UserID, Name: claims.Email, Role: claims.Role}, nil
	}
	authMw := middleware.Auth(validate)

	r := chi.NewRouter()

	r.Use(middleware.Recovery(cfg.Logger))
	r.Use(middleware.Tracing("meeting-assistant"))
	r.Use(middleware.RequestLogging(cfg.Logger))
	r.Use(middleware.PrometheusMetrics("meeting-assistant"))
	r.Use(middleware.RequestLogger(cfg.Logger))
	r.Use(CORS(CORSConfig{AllowedOrigins: cfg.CORSAllowedOrigins, Environment: cfg.Environment}))

	r.Get("/health/live", cfg.Health.LivenessHandler())
	r.Get("/health/ready", cfg.Health.ReadinessHandler())
	r.Handle("/metrics", promhttp.Handler())

	if cfg.PprofEnabled {
		middleware.RegisterPprof(r, cfg.PprofAllowedCIDRs, cfg.Logger)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.Use(chimw.Timeout(30 * time.Second))
			r.Use(ContentTypeJSON)
			r.Use(middleware.RateLimit(cfg.AuthRateRPS, cfg.AuthRateBurst, cfg.Logger))

			r.Post("/login", authHandler.Login)
			r.Post("/refresh", authHandler.Refresh)
			r.With(authMw).Post("/logout", authHandler.Logout)
		})

		// The stream route authenticates in the handler (token may arrive
		// as a query parameter) and must not be wrapped in a timeout or
		// compression middleware, both of which break long-lived SSE.
		r.Get("/messages/stream", streamHandler.Stream)

		r.Group(func(r chi.Router) {
			r.Use(chimw.Timeout(30 * time.Second))
			r.Use(chimw.Compress(5))
			r.Use(authMw)

			r.Get("/users/me", authHandler.Me)

			r.Route("/messages", func(r chi.Router) {
				r.With(ContentTypeJSON).Post("/", messageHandler.Send)
				r.Get("/", messageHandler.List)
				r.Post("/read-all", messageHandler.MarkAllRead)
				r.Post("/{id}/read", messageHandler.MarkRead)
				r.Delete("/{id}", messageHandler.Delete)
				r.Delete("/", messageHandler.DeleteByKind)
			})
		})
	})

	return r
}
