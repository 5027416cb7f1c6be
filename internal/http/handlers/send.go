package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/hogarcril/wa-crm/internal/dispatch"
	observemetrics "github.com/hogarcril/wa-crm/internal/observability/metrics"
	"github.com/hogarcril/wa-crm/internal/wagraph"
	"github.com/hogarcril/wa-crm/pkg/logging"
)

var sendTracer = otel.Tracer("wacrm.internal.http.send")

// Sender is implemented by dispatch.Resolver.
type Sender interface {
	Send(ctx context.Context, req dispatch.SendRequest) (dispatch.SendOutcome, error)
}

// SendHandler exposes outbound sending to the console.
type SendHandler struct {
	sender  Sender
	logger  *logging.Logger
	metrics *observemetrics.PipelineMetrics
}

func NewSendHandler(sender Sender, logger *logging.Logger, metrics *observemetrics.PipelineMetrics) *SendHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &SendHandler{sender: sender, logger: logger.WithComponent("send"), metrics: metrics}
}

type sendRequestBody struct {
	To       string `json:"to"`
	Text     string `json:"text"`
	Channel  string `json:"channel,omitempty"`
	Template *struct {
		Name       string          `json:"name"`
		Language   string          `json:"language,omitempty"`
		Components json.RawMessage `json:"components,omitempty"`
	} `json:"template,omitempty"`
	PreviewURL bool `json:"preview_url,omitempty"`
}

type sendResponseBody struct {
	ConversationID string `json:"conversation_id"`
	MessageID      string `json:"message_id"`
	Candidate      string `json:"sent_to"`
	ChannelID      string `json:"channel_id"`
}

// Handle serves POST /messages/send.
func (h *SendHandler) Handle(w http.ResponseWriter, r *http.Request) {
	ctx, span := sendTracer.Start(r.Context(), "send.message")
	defer span.End()

	var body sendRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}

	req := dispatch.SendRequest{
		To:         body.To,
		Text:       body.Text,
		Channel:    body.Channel,
		PreviewURL: body.PreviewURL,
	}
	if body.Template != nil {
		req.Template = &wagraph.TemplateRef{
			Name:       body.Template.Name,
			Language:   body.Template.Language,
			Components: body.Template.Components,
		}
	}

	outcome, err := h.sender.Send(ctx, req)
	if err != nil {
		span.RecordError(err)
		h.metrics.ObserveSend("error")
		h.logger.Error("send failed", "to", body.To, "error", err)
		status := http.StatusBadGateway
		var apiErr *wagraph.APIError
		switch {
		case errors.Is(err, dispatch.ErrNoChannel):
			status = http.StatusConflict
		case errors.As(err, &apiErr) && apiErr.Code == wagraph.CodeRecipientNotAllowed:
			status = http.StatusUnprocessableEntity
		case errors.Is(err, dispatch.ErrInvalidRequest):
			status = http.StatusBadRequest
		}
		writeJSON(w, status, map[string]string{"error": err.Error()})
		return
	}

	span.SetAttributes(attribute.String("send.candidate", outcome.Candidate))
	h.metrics.ObserveSend("sent")
	writeJSON(w, http.StatusOK, sendResponseBody{
		ConversationID: outcome.ConversationID,
		MessageID:      outcome.MessageID,
		Candidate:      outcome.Candidate,
		ChannelID:      outcome.ChannelID,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}
