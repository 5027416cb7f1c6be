// Package conversation owns the durable CRM state: contacts, conversation
// threads and messages, plus the synchronizer that folds webhook deliveries
// into that state.
package conversation

import (
	"encoding/json"
	"time"
)

// Direction of a message relative to the business account.
const (
	DirectionIn  = "in"
	DirectionOut = "out"
)

// Message statuses beyond the provider's sent/delivered/read/failed set.
const (
	StatusReceived = "received"
	StatusError    = "error"
)

// MediaErrorDownloadFailed marks a message whose attachment could not be
// pulled before the provider link expired. The row is persisted anyway.
const MediaErrorDownloadFailed = "DOWNLOAD_FAILED"

// Contact is one person, keyed by the canonical phone id.
type Contact struct {
	CanonicalID string
	DisplayName string
	RawNumber   string
	OptIn       bool
	OptInAt     time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Conversation is the single thread per contact. Its id is the contact's
// canonical phone id, so redeliveries and alternate encodings converge.
type Conversation struct {
	ID                   string
	LastMessageAt        time.Time
	LastMessageText      string
	LastMessageDirection string
	LastChannelID        string
	AssignedAgentID      string
	AssignedAgentName    string
	UnreadCount          int
	FirstInboundAt       time.Time
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// Message is one row keyed by provider message id. Content and status arrive
// in separate webhook deliveries, in any order, so every column is merged
// rather than overwritten.
type Message struct {
	ProviderMessageID string
	ConversationID    string
	Direction         string
	Type              string
	Body              string
	MediaID           string
	MediaKey          string
	MediaURL          string
	MediaMime         string
	MediaError        string
	Location          json.RawMessage
	ContactCards      json.RawMessage
	Reaction          json.RawMessage
	ReplyToID         string
	ReplyPreview      string
	Status            string
	StatusTimestamp   time.Time
	StatusRaw         json.RawMessage
	SendCandidate     string
	SendError         json.RawMessage
	EventTimestamp    time.Time
	Raw               json.RawMessage
	CreatedAt         time.Time
}
