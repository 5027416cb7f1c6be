package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hogarcril/wa-crm/internal/dispatch"
	"github.com/hogarcril/wa-crm/internal/wagraph"
)

type stubSender struct {
	req     dispatch.SendRequest
	outcome dispatch.SendOutcome
	err     error
}

func (s *stubSender) Send(ctx context.Context, req dispatch.SendRequest) (dispatch.SendOutcome, error) {
	s.req = req
	return s.outcome, s.err
}

func TestSendHandlerSuccess(t *testing.T) {
	sender := &stubSender{outcome: dispatch.SendOutcome{
		ConversationID: "+5493518120950",
		MessageID:      "wamid.out1",
		Candidate:      "5493518120950",
		ChannelID:      "768483333020913",
	}}
	h := NewSendHandler(sender, nil, nil)

	body := `{"to":"+54 351 15 812 0950","text":"hola!","channel":"ventas"}`
	req := httptest.NewRequest(http.MethodPost, "/messages/send", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.Handle(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "+54 351 15 812 0950", sender.req.To)
	assert.Equal(t, "ventas", sender.req.Channel)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "wamid.out1", resp["message_id"])
	assert.Equal(t, "5493518120950", resp["sent_to"])
}

func TestSendHandlerTemplate(t *testing.T) {
	sender := &stubSender{}
	h := NewSendHandler(sender, nil, nil)

	body := `{"to":"5493518120950","template":{"name":"bienvenida","language":"es_AR"}}`
	req := httptest.NewRequest(http.MethodPost, "/messages/send", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.Handle(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, sender.req.Template)
	assert.Equal(t, "bienvenida", sender.req.Template.Name)
}

func TestSendHandlerErrorMapping(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"invalid json is 400", nil, http.StatusBadRequest},
		{"validation error is 400", dispatch.ErrInvalidRequest, http.StatusBadRequest},
		{"no channel is 409", dispatch.ErrNoChannel, http.StatusConflict},
		{"exhausted candidates is 422", &wagraph.APIError{StatusCode: 400, Code: wagraph.CodeRecipientNotAllowed}, http.StatusUnprocessableEntity},
		{"provider failure is 502", &wagraph.APIError{StatusCode: 500, Code: 2}, http.StatusBadGateway},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			sender := &stubSender{err: tc.err}
			h := NewSendHandler(sender, nil, nil)

			body := `{"to":"5493518120950","text":"hola"}`
			if tc.err == nil {
				body = `{broken`
			}
			req := httptest.NewRequest(http.MethodPost, "/messages/send", strings.NewReader(body))
			rec := httptest.NewRecorder()
			h.Handle(rec, req)
			assert.Equal(t, tc.want, rec.Code)
		})
	}
}

func TestHealthWithoutDB(t *testing.T) {
	rec := httptest.NewRecorder()
	Health(nil)(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"ok"`)
}
