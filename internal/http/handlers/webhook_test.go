package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hogarcril/wa-crm/internal/conversation"
	"github.com/hogarcril/wa-crm/internal/events"
)

type recordingSync struct {
	batches []events.Batch
	result  conversation.Result
}

func (s *recordingSync) ProcessBatch(ctx context.Context, batch events.Batch) conversation.Result {
	s.batches = append(s.batches, batch)
	return s.result
}

func newWebhookHandler(sync Synchronizer) *WebhookHandler {
	return NewWebhookHandler(WebhookConfig{Synchronizer: sync, VerifyToken: "sekrit"})
}

func TestWebhookVerifyHandshake(t *testing.T) {
	h := newWebhookHandler(nil)

	req := httptest.NewRequest(http.MethodGet,
		"/webhooks/whatsapp?hub.mode=subscribe&hub.verify_token=sekrit&hub.challenge=12345", nil)
	rec := httptest.NewRecorder()
	h.Handle(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "12345", rec.Body.String())
}

func TestWebhookVerifyRejectsBadToken(t *testing.T) {
	h := newWebhookHandler(nil)

	req := httptest.NewRequest(http.MethodGet,
		"/webhooks/whatsapp?hub.mode=subscribe&hub.verify_token=wrong&hub.challenge=12345", nil)
	rec := httptest.NewRecorder()
	h.Handle(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.NotContains(t, rec.Body.String(), "12345")
}

func TestWebhookEventsAlwaysAcknowledged(t *testing.T) {
	sync := &recordingSync{result: conversation.Result{Inbound: 1}}
	h := newWebhookHandler(sync)

	payload := `{"entry":[{"changes":[{"value":{
		"metadata":{"phone_number_id":"768483333020913"},
		"messages":[{"id":"wamid.1","from":"5493518120950","timestamp":"1726000000","type":"text","text":{"body":"hola"}}]
	}}]}]}`
	req := httptest.NewRequest(http.MethodPost, "/webhooks/whatsapp", strings.NewReader(payload))
	rec := httptest.NewRecorder()
	h.Handle(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "EVENT_RECEIVED", rec.Body.String())
	require.Len(t, sync.batches, 1)
	assert.Len(t, sync.batches[0].Inbound, 1)
}

func TestWebhookUnrecognizedPayloadStillAcknowledged(t *testing.T) {
	sync := &recordingSync{}
	h := newWebhookHandler(sync)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/whatsapp", strings.NewReader(`{"object":"page"}`))
	rec := httptest.NewRecorder()
	h.Handle(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "EVENT_RECEIVED", rec.Body.String())
	assert.Empty(t, sync.batches, "empty batches are not handed to the synchronizer")
}

func TestWebhookFailuresDoNotChangeAck(t *testing.T) {
	sync := &recordingSync{result: conversation.Result{Failed: 2}}
	h := newWebhookHandler(sync)

	payload := `{"entry":[{"changes":[{"value":{
		"messages":[{"id":"wamid.1","from":"549","timestamp":"1","type":"text"}]
	}}]}]}`
	req := httptest.NewRequest(http.MethodPost, "/webhooks/whatsapp", strings.NewReader(payload))
	rec := httptest.NewRecorder()
	h.Handle(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "EVENT_RECEIVED", rec.Body.String())
}

func TestWebhookMethodHandling(t *testing.T) {
	h := newWebhookHandler(nil)

	rec := httptest.NewRecorder()
	h.Handle(rec, httptest.NewRequest(http.MethodOptions, "/webhooks/whatsapp", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = httptest.NewRecorder()
	h.Handle(rec, httptest.NewRequest(http.MethodDelete, "/webhooks/whatsapp", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
