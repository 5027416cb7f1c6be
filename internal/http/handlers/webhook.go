package handlers

import (
	"context"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/hogarcril/wa-crm/internal/conversation"
	"github.com/hogarcril/wa-crm/internal/events"
	observemetrics "github.com/hogarcril/wa-crm/internal/observability/metrics"
	"github.com/hogarcril/wa-crm/pkg/logging"
)

var webhookTracer = otel.Tracer("wacrm.internal.http.webhook")

// Synchronizer folds a normalized delivery into the store.
type Synchronizer interface {
	ProcessBatch(ctx context.Context, batch events.Batch) conversation.Result
}

// WebhookHandler terminates the WhatsApp Cloud API webhook: the GET
// subscription handshake and POST event deliveries.
type WebhookHandler struct {
	sync        Synchronizer
	verifyToken string
	logger      *logging.Logger
	metrics     *observemetrics.PipelineMetrics
}

type WebhookConfig struct {
	Synchronizer Synchronizer
	VerifyToken  string
	Logger       *logging.Logger
	Metrics      *observemetrics.PipelineMetrics
}

func NewWebhookHandler(cfg WebhookConfig) *WebhookHandler {
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	return &WebhookHandler{
		sync:        cfg.Synchronizer,
		verifyToken: cfg.VerifyToken,
		logger:      cfg.Logger.WithComponent("webhook"),
		metrics:     cfg.Metrics,
	}
}

// Handle serves the webhook endpoint for all methods Meta uses.
func (h *WebhookHandler) Handle(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.handleVerify(w, r)
	case http.MethodPost:
		h.handleEvents(w, r)
	case http.MethodOptions:
		w.WriteHeader(http.StatusNoContent)
	default:
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
	}
}

// handleVerify answers Meta's subscription handshake: echo hub.challenge when
// the verify token matches, 403 otherwise.
func (h *WebhookHandler) handleVerify(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	mode := query.Get("hub.mode")
	token := query.Get("hub.verify_token")
	challenge := query.Get("hub.challenge")

	if mode == "subscribe" && token != "" && token == h.verifyToken {
		h.logger.Info("webhook verified")
		w.WriteHeader(http.StatusOK)
		io.WriteString(w, challenge)
		return
	}
	h.logger.Warn("webhook verification rejected", "mode", mode)
	http.Error(w, "Forbidden", http.StatusForbidden)
}

// handleEvents acknowledges every delivery with 200 EVENT_RECEIVED no matter
// what processing did; any other status makes Meta retry and eventually
// disable the subscription.
func (h *WebhookHandler) handleEvents(w http.ResponseWriter, r *http.Request) {
	ctx, span := webhookTracer.Start(r.Context(), "webhook.events")
	defer span.End()
	start := time.Now()

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 4<<20))
	if err != nil {
		h.logger.Error("webhook body read failed", "error", err)
		body = nil
	}

	batch := events.Normalize(body)
	span.SetAttributes(
		attribute.Int("webhook.inbound", len(batch.Inbound)),
		attribute.Int("webhook.statuses", len(batch.Statuses)),
	)

	if !batch.Empty() && h.sync != nil {
		res := h.sync.ProcessBatch(ctx, batch)
		if res.Failed > 0 {
			h.logger.Warn("batch processed with failures",
				"inbound", res.Inbound, "statuses", res.Statuses, "failed", res.Failed)
		}
		h.observe("inbound", "ok", res.Inbound)
		h.observe("status", "ok", res.Statuses)
		h.observe("any", "failed", res.Failed)
	}
	h.metrics.ObserveWebhookLatency("events", time.Since(start).Seconds())

	w.WriteHeader(http.StatusOK)
	io.WriteString(w, "EVENT_RECEIVED")
}

func (h *WebhookHandler) observe(kind, status string, count int) {
	for i := 0; i < count; i++ {
		h.metrics.ObserveEvent(kind, status)
	}
}
