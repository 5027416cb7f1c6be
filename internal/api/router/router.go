// Package router wires the HTTP surface: webhook intake, outbound send,
// health and metrics.
package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/hogarcril/wa-crm/internal/http/handlers"
	httpmiddleware "github.com/hogarcril/wa-crm/internal/http/middleware"
	"github.com/hogarcril/wa-crm/pkg/logging"
)

// Config holds router configuration.
type Config struct {
	Logger             *logging.Logger
	Webhook            *handlers.WebhookHandler
	Send               *handlers.SendHandler
	DB                 handlers.Pinger
	MetricsHandler     http.Handler
	CORSAllowedOrigins []string
	SendRatePerSecond  float64
	SendBurst          int
}

// New creates the Chi router with all routes configured.
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(httpmiddleware.CORS(cfg.CORSAllowedOrigins))
	}
	if cfg.Logger != nil {
		r.Use(httpmiddleware.RequestLogger(cfg.Logger))
	}

	r.Get("/health", handlers.Health(cfg.DB))
	if cfg.MetricsHandler != nil {
		r.Handle("/metrics", cfg.MetricsHandler)
	}

	if cfg.Webhook != nil {
		r.HandleFunc("/webhooks/whatsapp", cfg.Webhook.Handle)
	}

	if cfg.Send != nil {
		rate, burst := cfg.SendRatePerSecond, cfg.SendBurst
		if rate <= 0 {
			rate = 5
		}
		if burst <= 0 {
			burst = 10
		}
		r.With(httpmiddleware.RateLimit(rate, burst)).Post("/messages/send", cfg.Send.Handle)
	}

	return r
}
