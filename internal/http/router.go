package httpserver

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/lisbetwade-design/ReviuNew/internal/api"
	"github.com/lisbetwade-design/ReviuNew/internal/config"
	"github.com/lisbetwade-design/ReviuNew/internal/http/ratelimit"
	"github.com/lisbetwade-design/ReviuNew/internal/logging"
	"github.com/lisbetwade-design/ReviuNew/internal/metrics"
	"github.com/lisbetwade-design/ReviuNew/internal/slackapi"
)

// HealthChecker reports whether the database is reachable.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Authenticator guards routes that need a caller identity.
type Authenticator interface {
	RequireUser(next http.Handler) http.Handler
}

// NewRouter wires the ingestion routes. Rate limiter housekeeping stops with ctx.
func NewRouter(ctx context.Context, cfg *config.Config, health HealthChecker, authService Authenticator, h *api.Handler, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()

	// OAuth endpoints: 5 requests per second, burst of 10
	oauthRateLimiter := ratelimit.NewIPRateLimiter(rate.Limit(5), 10, 5*time.Minute, cfg.TrustedProxies)
	// Webhook deliveries arrive in bursts from a handful of platform IPs
	eventsRateLimiter := ratelimit.NewIPRateLimiter(rate.Limit(50), 100, 5*time.Minute, cfg.TrustedProxies)
	go oauthRateLimiter.Run(ctx)
	go eventsRateLimiter.Run(ctx)

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(logging.Middleware(logger))
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware())
	r.Use(cors.Handler(corsOptions(cfg)))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := health.HealthCheck(ctx); err != nil {
			logging.FromContext(r.Context()).Warn("readiness check failed", zap.Error(err))
			http.Error(w, "unready", http.StatusServiceUnavailable)
			return
		}

		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	if cfg.PrometheusEnabled {
		r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
			metrics.Handler().ServeHTTP(w, r)
		})
	}

	r.Group(func(r chi.Router) {
		r.Use(oauthRateLimiter.Middleware())
		r.Get(cfg.Figma.RedirectPath, h.OAuthCallback)
		r.With(authService.RequireUser).Get("/oauth/figma/start", h.StartOAuth)
		r.With(authService.RequireUser).Post("/oauth/figma/start", h.StartOAuth)
	})

	r.Group(func(r chi.Router) {
		r.Use(eventsRateLimiter.Middleware())
		if cfg.Slack.SigningSecret != "" {
			r.Use(slackapi.VerifySignature(cfg.Slack.SigningSecret))
		}
		r.Post("/slack/events", h.Events)
	})

	r.Group(func(r chi.Router) {
		r.Use(authService.RequireUser)

		r.Post("/figma/sync", h.Sync)
		r.Get("/figma/files", h.ListFiles)
		r.Post("/figma/files", h.CreateFile)
		r.Delete("/figma/files/{id}", h.DeleteFile)
		r.Get("/figma/file-info", h.FileInfo)
		r.Get("/figma/connection", h.ConnectionStatus)

		r.Put("/slack/subscription", h.PutSubscription)
		r.Get("/slack/channels", h.SlackChannels)

		r.Get("/inbox", h.Inbox)
		r.Post("/inbox/{id}/viewed", h.MarkViewed)
	})

	return r
}

func corsOptions(cfg *config.Config) cors.Options {
	origins := append([]string(nil), cfg.CORS.AllowedOrigins...)
	headers := append([]string(nil), cfg.CORS.AllowedHeaders...)
	return cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   headers,
		AllowCredentials: false,
		MaxAge:           300,
	}
}
