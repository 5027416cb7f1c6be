// Package events turns raw WhatsApp Cloud API webhook deliveries into a closed
// set of typed internal events. All field probing of the provider payload
// happens here; the rest of the pipeline never touches raw JSON.
package events

import (
	"encoding/json"
	"time"
)

// ContentType enumerates the inbound message variants the pipeline understands.
type ContentType string

const (
	ContentText        ContentType = "text"
	ContentImage       ContentType = "image"
	ContentAudio       ContentType = "audio"
	ContentVideo       ContentType = "video"
	ContentDocument    ContentType = "document"
	ContentSticker     ContentType = "sticker"
	ContentLocation    ContentType = "location"
	ContentContactCard ContentType = "contacts"
	ContentReaction    ContentType = "reaction"
	ContentUnknown     ContentType = "unknown"
)

// HasMedia reports whether the content type carries a downloadable attachment.
func (c ContentType) HasMedia() bool {
	switch c {
	case ContentImage, ContentAudio, ContentVideo, ContentDocument, ContentSticker:
		return true
	default:
		return false
	}
}

// Channel identifies which provider sub-account received a delivery.
type Channel struct {
	PhoneNumberID string
	DisplayNumber string
}

// MediaRef points at provider-hosted binary content. The id expires at the
// provider within days, which is why media is archived eagerly.
type MediaRef struct {
	ID       string
	MimeType string
	SHA256   string
	Filename string
}

// Location is a shared map pin.
type Location struct {
	Latitude  float64
	Longitude float64
	Name      string
	Address   string
}

// ContactCard is a shared address-book entry.
type ContactCard struct {
	Name   string
	Phones []string
}

// Reaction references an earlier message with an emoji.
type Reaction struct {
	MessageID string
	Emoji     string
}

// InboundMessageEvent is one inbound message, decoded and flattened.
type InboundMessageEvent struct {
	ProviderMessageID string
	From              string
	SenderName        string
	Timestamp         time.Time
	Type              ContentType
	Text              string
	Media             *MediaRef
	Location          *Location
	Contacts          []ContactCard
	Reaction          *Reaction
	ReplyToID         string
	Raw               json.RawMessage
}

// StatusEvent is a delivery-status update for an earlier message.
type StatusEvent struct {
	ProviderMessageID string
	RecipientID       string
	Status            string
	Timestamp         time.Time
	Raw               json.RawMessage
}

// Batch is the normalized form of one webhook delivery.
type Batch struct {
	Channel  Channel
	Inbound  []InboundMessageEvent
	Statuses []StatusEvent
}

// Empty reports whether the delivery carried nothing recognizable.
func (b Batch) Empty() bool {
	return len(b.Inbound) == 0 && len(b.Statuses) == 0
}
