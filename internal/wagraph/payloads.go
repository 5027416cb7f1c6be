package wagraph

import (
	"encoding/json"
	"errors"
	"strings"
)

// SendMessageRequest describes one outbound send attempt through a channel
// (provider phone-number id). Exactly one of Text or Template must be set.
type SendMessageRequest struct {
	PhoneNumberID string
	To            string
	Text          string
	PreviewURL    bool
	Template      *TemplateRef
}

// TemplateRef selects a pre-approved message template.
type TemplateRef struct {
	Name       string          `json:"name"`
	Language   string          `json:"-"`
	Components json.RawMessage `json:"components,omitempty"`
}

func (r SendMessageRequest) validate() error {
	if strings.TrimSpace(r.PhoneNumberID) == "" {
		return errors.New("wagraph: phone number id is required")
	}
	if strings.TrimSpace(r.To) == "" {
		return errors.New("wagraph: recipient is required")
	}
	if r.Text == "" && r.Template == nil {
		return errors.New("wagraph: text or template is required")
	}
	if r.Template != nil && strings.TrimSpace(r.Template.Name) == "" {
		return errors.New("wagraph: template name is required")
	}
	return nil
}

// SendResult is the provider's acknowledgment of an accepted send.
type SendResult struct {
	MessageID string
	WaID      string
	Raw       json.RawMessage
}

// MediaMetadata is the short-lived pointer the provider hands out for a media
// id. The URL expires within minutes; the binary must be fetched promptly.
type MediaMetadata struct {
	ID       string `json:"id"`
	URL      string `json:"url"`
	MimeType string `json:"mime_type"`
	SHA256   string `json:"sha256"`
	FileSize int64  `json:"file_size"`
}

type sendResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
	Contacts []struct {
		Input string `json:"input"`
		WaID  string `json:"wa_id"`
	} `json:"contacts"`
}
