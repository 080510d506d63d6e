package controller

import (
	"time"

	appsync "github.com/crmbridge/accountsync/internal/application/sync"
	"github.com/crmbridge/accountsync/internal/infrastructure/config"
	"github.com/crmbridge/accountsync/internal/infrastructure/observability"
	infraRedis "github.com/crmbridge/accountsync/internal/infrastructure/redis"
	customMW "github.com/crmbridge/accountsync/internal/middleware"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

type RouterDeps struct {
	Pool            *pgxpool.Pool
	RedisClient     *redis.Client
	CRM             AccountsAPI
	Publisher       EventPublisher
	DeadLetterStore appsync.DeadLetterStore
	Requeuer        *appsync.Requeuer
	ResponseCache   *infraRedis.ResponseCache
	Metrics         *observability.Metrics
	CORSConfig      config.CORSConfig
	Logger          zerolog.Logger
}

func NewRouter(deps RouterDeps) *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(customMW.Tracing())
	r.Use(chimw.RealIP)
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   deps.CORSConfig.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key", "X-Correlation-Id"},
		ExposedHeaders:   []string{"Link", "X-Correlation-Id"},
		AllowCredentials: deps.CORSConfig.AllowCredentials,
		MaxAge:           300,
	}))
	r.Use(customMW.CorrelationID())
	r.Use(customMW.SecurityHeaders())
	r.Use(customMW.Metrics(deps.Metrics))

	healthH := NewHealthController(deps.Pool, deps.RedisClient)
	accountH := NewAccountController(deps.CRM, deps.Publisher, deps.Logger)
	deadLetterH := NewDeadLetterController(deps.DeadLetterStore, deps.Requeuer)

	r.Get("/health", healthH.Health)
	r.Get("/health/live", healthH.Liveness)
	r.Get("/health/ready", healthH.Readiness)

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// Idempotency middleware for mutating endpoints.
		idempotencyMW := customMW.Idempotency(deps.ResponseCache, deps.Logger)

		// Accounts
		r.With(idempotencyMW).Post("/accounts", accountH.Create)
		r.Get("/accounts/{id}", accountH.Get)
		r.With(idempotencyMW).Patch("/accounts/{id}", accountH.Update)
		r.With(idempotencyMW).Delete("/accounts/{id}", accountH.Delete)

		// Dead letters
		r.Get("/deadletters", deadLetterH.List)
		r.With(idempotencyMW).Post("/deadletters/{id}/requeue", deadLetterH.Requeue)
	})

	return r
}
