// Package wagraph wraps the WhatsApp Cloud (Graph) API endpoints the pipeline
// needs: sending messages and resolving/downloading media. The client performs
// single attempts; retry budgets belong to the callers.
package wagraph

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"
)

const (
	defaultBaseURL   = "https://graph.facebook.com/v21.0"
	defaultUserAgent = "wa-crm/0.1"

	// CodeRecipientNotAllowed is the Graph error for "recipient phone number
	// not in allowed list / unrecognized format". It is the only error class
	// that justifies re-trying a send with an alternate number encoding.
	CodeRecipientNotAllowed = 131030
)

// Config controls how the Graph client behaves.
type Config struct {
	BaseURL    string
	Token      string
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     *slog.Logger
	UserAgent  string
}

// Client talks to the WhatsApp Cloud API.
type Client struct {
	token      string
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
	userAgent  string
}

// New creates a configured Client with sane defaults.
func New(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("wagraph: access token is required")
	}
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	baseURL = strings.TrimRight(baseURL, "/")
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	userAgent := strings.TrimSpace(cfg.UserAgent)
	if userAgent == "" {
		userAgent = defaultUserAgent
	}
	return &Client{
		token:      cfg.Token,
		baseURL:    baseURL,
		httpClient: httpClient,
		logger:     logger,
		userAgent:  userAgent,
	}, nil
}

// SendMessage posts one message to /{phone-number-id}/messages.
func (c *Client) SendMessage(ctx context.Context, req SendMessageRequest) (SendResult, error) {
	if err := req.validate(); err != nil {
		return SendResult{}, err
	}

	payload := map[string]any{
		"messaging_product": "whatsapp",
		"to":                req.To,
	}
	if req.Template != nil {
		payload["type"] = "template"
		tpl := map[string]any{
			"name":     req.Template.Name,
			"language": map[string]string{"code": languageOrDefault(req.Template.Language)},
		}
		if len(req.Template.Components) > 0 {
			tpl["components"] = req.Template.Components
		}
		payload["template"] = tpl
	} else {
		payload["type"] = "text"
		payload["text"] = map[string]any{"preview_url": req.PreviewURL, "body": req.Text}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return SendResult{}, fmt.Errorf("wagraph: marshal send body: %w", err)
	}
	data, err := c.invoke(ctx, http.MethodPost, "/"+req.PhoneNumberID+"/messages", body)
	if err != nil {
		return SendResult{}, err
	}

	var resp sendResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return SendResult{}, fmt.Errorf("wagraph: decode send response: %w", err)
	}
	result := SendResult{Raw: append(json.RawMessage(nil), data...)}
	if len(resp.Messages) > 0 {
		result.MessageID = resp.Messages[0].ID
	}
	if len(resp.Contacts) > 0 {
		result.WaID = resp.Contacts[0].WaID
	}
	return result, nil
}

// MediaMetadata resolves a media id into its short-lived direct URL.
func (c *Client) MediaMetadata(ctx context.Context, mediaID string) (*MediaMetadata, error) {
	if strings.TrimSpace(mediaID) == "" {
		return nil, errors.New("wagraph: media id is required")
	}
	data, err := c.invoke(ctx, http.MethodGet, "/"+mediaID, nil)
	if err != nil {
		return nil, err
	}
	var meta MediaMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("wagraph: decode media metadata: %w", err)
	}
	if meta.URL == "" {
		return nil, &APIError{StatusCode: http.StatusNotFound, Message: "media url not available", Code: 0}
	}
	return &meta, nil
}

// DownloadMedia fetches the binary behind a direct media URL. The URL host is
// provider-controlled, so the request goes to it as-is, authenticated.
func (c *Client) DownloadMedia(ctx context.Context, directURL string) ([]byte, string, error) {
	if strings.TrimSpace(directURL) == "" {
		return nil, "", errors.New("wagraph: media url is required")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, directURL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("wagraph: build media request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("wagraph: media download: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, "", decodeAPIError(resp.StatusCode, body)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("wagraph: read media body: %w", err)
	}
	return data, resp.Header.Get("Content-Type"), nil
}

func (c *Client) invoke(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+"/"+strings.TrimLeft(path, "/"), bodyReader)
	if err != nil {
		return nil, fmt.Errorf("wagraph: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("User-Agent", c.userAgent)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("wagraph: http error: %w", err)
	}
	data, readErr := io.ReadAll(resp.Body)
	resp.Body.Close()
	if readErr != nil {
		return nil, fmt.Errorf("wagraph: read response: %w", readErr)
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return data, nil
	}
	return nil, decodeAPIError(resp.StatusCode, data)
}

func languageOrDefault(code string) string {
	if strings.TrimSpace(code) == "" {
		return "es_AR"
	}
	return code
}

// APIError carries the Graph API error payload for classification upstream.
type APIError struct {
	StatusCode int
	Code       int
	Subcode    int
	Type       string
	Message    string
	Raw        json.RawMessage
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("wagraph: %s (status=%d code=%d)", e.Message, e.StatusCode, e.Code)
	}
	return fmt.Sprintf("wagraph: http status %d", e.StatusCode)
}

func decodeAPIError(status int, body []byte) error {
	var wrapper struct {
		Error struct {
			Message   string `json:"message"`
			Type      string `json:"type"`
			Code      int    `json:"code"`
			Subcode   int    `json:"error_subcode"`
			FBTraceID string `json:"fbtrace_id"`
		} `json:"error"`
	}
	apiErr := &APIError{StatusCode: status, Raw: append(json.RawMessage(nil), body...)}
	if err := json.Unmarshal(body, &wrapper); err == nil {
		apiErr.Message = wrapper.Error.Message
		apiErr.Type = wrapper.Error.Type
		apiErr.Code = wrapper.Error.Code
		apiErr.Subcode = wrapper.Error.Subcode
	}
	return apiErr
}

// IsRecipientFormatError reports whether a send failed because the provider
// did not recognize the recipient encoding, the one case where probing the
// sibling encoding makes sense.
func IsRecipientFormatError(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == CodeRecipientNotAllowed
}

// IsTransient classifies errors worth a bounded retry: timeouts, connection
// resets, 5xx responses, and the not-found class the provider returns for
// recently expired media.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		if apiErr.StatusCode >= 500 && apiErr.StatusCode <= 599 {
			return true
		}
		if apiErr.StatusCode == http.StatusNotFound || apiErr.StatusCode == http.StatusGone {
			return true
		}
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	return errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, net.ErrClosed)
}
