package controller

import (
	"time"

	"github.com/cassiomorais/docpay/internal/infrastructure/config"
	"github.com/cassiomorais/docpay/internal/infrastructure/observability"
	customMW "github.com/cassiomorais/docpay/internal/middleware"
	"github.com/cassiomorais/docpay/internal/service"
	"github.com/cassiomorais/docpay/internal/webhook"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

type RouterDeps struct {
	Pool         *pgxpool.Pool
	RedisClient  *redis.Client
	Orchestrator *service.Orchestrator
	Ingestor     *service.Ingestor
	Reconciler   *service.Reconciler
	Decryptor    *webhook.Decryptor
	Metrics      *observability.Metrics
	CORSConfig   config.CORSConfig
	JWTSecret    string
	Logger       zerolog.Logger
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
		AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: deps.CORSConfig.AllowCredentials,
		MaxAge:           300,
	}))
	r.Use(customMW.Metrics(deps.Metrics))

	healthH := NewHealthController(deps.Pool, deps.RedisClient)
	paymentH := NewPaymentController(deps.Orchestrator, deps.Reconciler)
	webhookH := NewWebhookController(deps.Decryptor, deps.Ingestor, deps.Metrics, deps.Logger)

	r.Get("/health", healthH.Health)
	r.Get("/health/live", healthH.Liveness)
	r.Get("/health/ready", healthH.Readiness)

	r.Handle("/metrics", promhttp.Handler())

	// The webhook lives at the root path the gateway is registered with.
	// It authenticates through the AES-GCM envelope, not JWT.
	r.Get("/webhook", webhookH.Verify)
	r.Post("/webhook", webhookH.Receive)

	r.Route("/api/v1/payments", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(customMW.RequireAuth(deps.JWTSecret))

			r.Post("/checkout", paymentH.Checkout)
			r.Post("/mbway", paymentH.ExecuteMBWay)
			r.Post("/multibanco", paymentH.ExecuteMultibanco)
			r.Get("/status/{transactionID}", paymentH.Status)

			// Admin surface; capability checks happen in the service layer.
			r.Post("/manual-direct", paymentH.RegisterManual)
			r.Put("/approve/{paymentID}", paymentH.Approve)
			r.Get("/pending", paymentH.Pending)
			r.Get("/history", paymentH.History)
		})
	})

	return r
}
