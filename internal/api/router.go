package api

import (
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/whispernet/whispernet/internal/api/middleware"
	"github.com/whispernet/whispernet/internal/auth"
	"github.com/whispernet/whispernet/internal/handlers"
	"github.com/whispernet/whispernet/internal/relay"
	"github.com/whispernet/whispernet/internal/store"
)

// DefaultMaxBodyBytes caps request bodies when Deps leaves it unset.
const DefaultMaxBodyBytes = 64 * 1024

// Deps are the collaborators the router serves.
type Deps struct {
	Service *relay.Service
	Gate    *auth.Gate
	Data    store.DataStore
	// Redis enables rate limiting and the redis health check. Optional.
	Redis        *store.RedisStore
	MaxBodyBytes int64
	RateLimit    middleware.RateLimiterConfig
	// TrustedProxies may set X-Forwarded-For and X-Real-IP. Forwarding
	// headers from any other peer are ignored.
	TrustedProxies []string
}

// NewRouter creates and configures the HTTP router.
func NewRouter(logger zerolog.Logger, deps Deps) *chi.Mux {
	r := chi.NewRouter()

	// Metrics middleware (first to capture all requests)
	r.Use(middleware.Metrics)

	maxBody := deps.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = DefaultMaxBodyBytes
	}

	// Security middleware (order matters!)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.MaxBodySize(maxBody))
	r.Use(middleware.ValidateRequest)

	// Standard middleware
	r.Use(chimw.RequestID)
	r.Use(middleware.NewClientIP(deps.TrustedProxies, logger).Middleware)
	r.Use(middleware.Logger(logger))
	r.Use(chimw.Recoverer)

	var limiter *middleware.RateLimiter
	if deps.Redis != nil {
		limiter = middleware.NewRateLimiter(deps.Redis.Client(), logger, deps.RateLimit)
		r.Use(limiter.Middleware)
	} else {
		logger.Warn().Msg("rate limiting disabled: no redis configured")
	}

	// Browser wallets call from any origin.
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", auth.HeaderAddress, auth.HeaderSignature},
		ExposedHeaders:   []string{"X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset", "Retry-After"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	h := handlers.NewHandler(deps.Service, deps.Data, deps.Redis, logger)
	authMw := middleware.NewAuthMiddleware(deps.Gate, logger)

	// Operational routes
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/", h.Root)
	r.Get("/health", h.Health)
	r.Get("/stats", h.Stats)

	// Relay routes; the middleware lets the public ones through.
	r.Group(func(r chi.Router) {
		r.Use(authMw.RequireAuth)
		if limiter != nil {
			r.Use(limiter.WalletMiddleware)
		}

		r.Post("/auth/login", h.Login)
		r.Post("/keys/register", h.RegisterKey)
		r.Get("/keys/{address}", h.GetKey)
		r.Post("/messages/send", h.SendMessage)
		r.Get("/messages/inbox", h.Inbox)
		r.Get("/messages/sent", h.Sent)
	})

	return r
}
