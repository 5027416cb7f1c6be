package wagraph

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	client, err := New(Config{BaseURL: server.URL, Token: "test-token"})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return client, server
}

func TestSendMessageText(t *testing.T) {
	var gotPath, gotAuth string
	var gotBody map[string]any
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"messaging_product":"whatsapp","contacts":[{"input":"5493518120950","wa_id":"5493518120950"}],"messages":[{"id":"wamid.out1"}]}`))
	})

	result, err := client.SendMessage(context.Background(), SendMessageRequest{
		PhoneNumberID: "768483333020913",
		To:            "5493518120950",
		Text:          "hola",
	})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if result.MessageID != "wamid.out1" {
		t.Errorf("expected wamid.out1, got %s", result.MessageID)
	}
	if result.WaID != "5493518120950" {
		t.Errorf("expected wa_id echo, got %s", result.WaID)
	}
	if gotPath != "/768483333020913/messages" {
		t.Errorf("unexpected path %s", gotPath)
	}
	if gotAuth != "Bearer test-token" {
		t.Errorf("unexpected auth header %s", gotAuth)
	}
	if gotBody["type"] != "text" || gotBody["to"] != "5493518120950" {
		t.Errorf("unexpected body %v", gotBody)
	}
}

func TestSendMessageTemplate(t *testing.T) {
	var gotBody map[string]any
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		_, _ = w.Write([]byte(`{"messages":[{"id":"wamid.tpl1"}]}`))
	})

	_, err := client.SendMessage(context.Background(), SendMessageRequest{
		PhoneNumberID: "p1",
		To:            "5493518120950",
		Template:      &TemplateRef{Name: "promo_combos"},
	})
	if err != nil {
		t.Fatalf("send template: %v", err)
	}
	if gotBody["type"] != "template" {
		t.Errorf("expected template type, got %v", gotBody["type"])
	}
	tpl, _ := gotBody["template"].(map[string]any)
	if tpl["name"] != "promo_combos" {
		t.Errorf("unexpected template payload %v", tpl)
	}
	lang, _ := tpl["language"].(map[string]any)
	if lang["code"] != "es_AR" {
		t.Errorf("expected default language es_AR, got %v", lang)
	}
}

func TestSendMessageValidation(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("request should not reach the server")
	})
	if _, err := client.SendMessage(context.Background(), SendMessageRequest{To: "549"}); err == nil {
		t.Error("expected error for missing phone number id")
	}
	if _, err := client.SendMessage(context.Background(), SendMessageRequest{PhoneNumberID: "p1", To: "549"}); err == nil {
		t.Error("expected error for missing content")
	}
}

func TestSendMessageRecipientFormatError(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"message":"Recipient phone number not in allowed list","type":"OAuthException","code":131030}}`))
	})

	_, err := client.SendMessage(context.Background(), SendMessageRequest{PhoneNumberID: "p1", To: "54351158120950", Text: "hola"})
	if err == nil {
		t.Fatal("expected error")
	}
	if !IsRecipientFormatError(err) {
		t.Errorf("expected recipient-format classification for %v", err)
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Code != CodeRecipientNotAllowed {
		t.Errorf("expected APIError with code 131030, got %v", err)
	}
}

func TestSendMessageAuthErrorNotFormatError(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"Invalid OAuth access token","type":"OAuthException","code":190}}`))
	})

	_, err := client.SendMessage(context.Background(), SendMessageRequest{PhoneNumberID: "p1", To: "549", Text: "hola"})
	if err == nil {
		t.Fatal("expected error")
	}
	if IsRecipientFormatError(err) {
		t.Error("auth error must not classify as format error")
	}
	if IsTransient(err) {
		t.Error("auth error must not classify as transient")
	}
}

func TestMediaMetadata(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/media123" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte(`{"id":"media123","url":"https://lookaside.example/abc","mime_type":"image/jpeg","file_size":52048}`))
	})

	meta, err := client.MediaMetadata(context.Background(), "media123")
	if err != nil {
		t.Fatalf("media metadata: %v", err)
	}
	if meta.URL != "https://lookaside.example/abc" || meta.MimeType != "image/jpeg" {
		t.Errorf("unexpected metadata %+v", meta)
	}
}

func TestMediaMetadataMissingURL(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id":"media123"}`))
	})

	_, err := client.MediaMetadata(context.Background(), "media123")
	if err == nil {
		t.Fatal("expected error for metadata without url")
	}
	if !IsTransient(err) {
		t.Errorf("missing url should classify as transient (expiry race), got %v", err)
	}
}

func TestDownloadMedia(t *testing.T) {
	binary := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer test-token" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "image/jpeg")
		_, _ = w.Write([]byte("jpegbytes"))
	}))
	defer binary.Close()

	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {})
	data, contentType, err := client.DownloadMedia(context.Background(), binary.URL)
	if err != nil {
		t.Fatalf("download: %v", err)
	}
	if string(data) != "jpegbytes" || contentType != "image/jpeg" {
		t.Errorf("unexpected download result %q %q", data, contentType)
	}
}

func TestTransientClassification(t *testing.T) {
	if !IsTransient(&APIError{StatusCode: http.StatusInternalServerError}) {
		t.Error("500 should be transient")
	}
	if !IsTransient(&APIError{StatusCode: http.StatusNotFound}) {
		t.Error("404 (expired media) should be transient")
	}
	if IsTransient(&APIError{StatusCode: http.StatusBadRequest, Code: 100}) {
		t.Error("plain 400 should not be transient")
	}
	if IsTransient(nil) {
		t.Error("nil is not transient")
	}
}
