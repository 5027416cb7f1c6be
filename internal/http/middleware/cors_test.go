package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func corsRequest(t *testing.T, mw func(http.Handler) http.Handler, method, origin string, preflight bool) (*httptest.ResponseRecorder, *bool) {
	t.Helper()
	called := false
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(method, "/messages/send", nil)
	if origin != "" {
		req.Header.Set("Origin", origin)
	}
	if preflight {
		req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	}
	rec := httptest.NewRecorder()
	mw(handler).ServeHTTP(rec, req)
	return rec, &called
}

func TestCORSAllowsListedOrigin(t *testing.T) {
	mw := CORS([]string{"https://crm.example.com"})
	rec, called := corsRequest(t, mw, http.MethodPost, "https://crm.example.com", false)

	assert.True(t, *called)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "https://crm.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, corsAllowedMethods, rec.Header().Get("Access-Control-Allow-Methods"))
	assert.Equal(t, corsAllowedHeaders, rec.Header().Get("Access-Control-Allow-Headers"))
	assert.Contains(t, rec.Header().Values("Vary"), "Origin")
}

func TestCORSIgnoresUnknownOrigin(t *testing.T) {
	mw := CORS([]string{"https://crm.example.com"})
	rec, called := corsRequest(t, mw, http.MethodPost, "https://evil.example", false)

	assert.True(t, *called)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestCORSWildcardEchoesAnyOrigin(t *testing.T) {
	mw := CORS([]string{"*"})
	rec, _ := corsRequest(t, mw, http.MethodGet, "https://random.example", false)

	assert.Equal(t, "https://random.example", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestCORSShortCircuitsPreflight(t *testing.T) {
	mw := CORS([]string{"https://crm.example.com"})
	rec, called := corsRequest(t, mw, http.MethodOptions, "https://crm.example.com", true)

	assert.False(t, *called)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "600", rec.Header().Get("Access-Control-Max-Age"))
}

func TestCORSNoOriginPassesThrough(t *testing.T) {
	mw := CORS([]string{"https://crm.example.com"})
	rec, called := corsRequest(t, mw, http.MethodGet, "", false)

	assert.True(t, *called)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}
