package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/eldtechnologies/streamchat/internal/api/middleware"
	"github.com/eldtechnologies/streamchat/internal/handlers"
	"github.com/eldtechnologies/streamchat/internal/store"
)

// Options carries the optional parts of the router.
type Options struct {
	// Redis enables rate limiting when set.
	Redis     *store.RedisStore
	RateLimit middleware.RateLimiterConfig
	// SendKeyHash is a bcrypt hash; when set, POST /api/send requires X-Send-Key.
	SendKeyHash string
}

// NewRouter creates and configures the HTTP router. feed serves GET /ws.
func NewRouter(logger zerolog.Logger, h *handlers.Handler, feed http.Handler, opts Options) (*chi.Mux, error) {
	r := chi.NewRouter()

	// Metrics middleware (first to capture all requests)
	r.Use(middleware.Metrics)

	// Security middleware (order matters!)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.MaxBodySize(8 * 1024)) // 8KB max body
	r.Use(middleware.ValidateRequest)

	// Standard middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.Logger(logger))
	r.Use(chimw.Recoverer)

	// Rate limiting
	if opts.Redis != nil {
		limiter := middleware.NewRateLimiter(opts.Redis.Client(), logger, opts.RateLimit)
		r.Use(limiter.Middleware)
	}

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", handlers.IdempotencyHeader, middleware.SendKeyHeader},
		ExposedHeaders:   []string{"X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset", "Retry-After"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	send := http.Handler(http.HandlerFunc(h.Send))
	if opts.SendKeyHash != "" {
		guard, err := middleware.NewSendKeyGuard(opts.SendKeyHash, logger)
		if err != nil {
			return nil, err
		}
		send = guard.RequireKey(send)
	}

	// Metrics endpoint (for Prometheus scraping)
	r.Handle("/metrics", promhttp.Handler())

	r.Get("/", h.Root)
	r.Get("/api", h.Root)
	r.Get("/health", h.Health)

	r.Method(http.MethodPost, "/api/send", send)
	r.Get("/api/messages", h.Messages)
	r.Get("/api/sends", h.Sends)
	r.Get("/api/stats", h.Stats)
	r.Method(http.MethodGet, "/ws", feed)

	return r, nil
}
