package events

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

type envelope struct {
	Entry []struct {
		Changes []struct {
			Value changeValue `json:"value"`
		} `json:"changes"`
	} `json:"entry"`
}

type changeValue struct {
	Metadata struct {
		DisplayPhoneNumber string `json:"display_phone_number"`
		PhoneNumberID      string `json:"phone_number_id"`
	} `json:"metadata"`
	Contacts []struct {
		WaID    string `json:"wa_id"`
		Profile struct {
			Name string `json:"name"`
		} `json:"profile"`
	} `json:"contacts"`
	Messages []json.RawMessage `json:"messages"`
	Statuses []json.RawMessage `json:"statuses"`
}

type wireMedia struct {
	ID       string `json:"id"`
	MimeType string `json:"mime_type"`
	SHA256   string `json:"sha256"`
	Caption  string `json:"caption"`
	Filename string `json:"filename"`
}

type wireMessage struct {
	ID        string `json:"id"`
	From      string `json:"from"`
	Timestamp string `json:"timestamp"`
	Type      string `json:"type"`
	Text      *struct {
		Body string `json:"body"`
	} `json:"text"`
	Image    *wireMedia `json:"image"`
	Audio    *wireMedia `json:"audio"`
	Video    *wireMedia `json:"video"`
	Document *wireMedia `json:"document"`
	Sticker  *wireMedia `json:"sticker"`
	Location *struct {
		Latitude  float64 `json:"latitude"`
		Longitude float64 `json:"longitude"`
		Name      string  `json:"name"`
		Address   string  `json:"address"`
	} `json:"location"`
	Contacts []struct {
		Name struct {
			FormattedName string `json:"formatted_name"`
		} `json:"name"`
		Phones []struct {
			Phone string `json:"phone"`
			WaID  string `json:"wa_id"`
		} `json:"phones"`
	} `json:"contacts"`
	Reaction *struct {
		MessageID string `json:"message_id"`
		Emoji     string `json:"emoji"`
	} `json:"reaction"`
	Context *struct {
		ID string `json:"id"`
	} `json:"context"`
	Interactive *struct {
		ButtonReply *struct {
			Title string `json:"title"`
		} `json:"button_reply"`
		ListReply *struct {
			Title string `json:"title"`
		} `json:"list_reply"`
		NfmReply *struct {
			Body string `json:"body"`
		} `json:"nfm_reply"`
	} `json:"interactive"`
	Button *struct {
		Text string `json:"text"`
	} `json:"button"`
}

type wireStatus struct {
	ID          string `json:"id"`
	RecipientID string `json:"recipient_id"`
	Status      string `json:"status"`
	Timestamp   string `json:"timestamp"`
}

// Normalize decodes one webhook delivery into typed events. It never returns
// an error: a payload with nothing recognizable yields an empty Batch, and a
// message with missing optional fields yields an event with zero values. The
// caller must always be able to acknowledge the delivery.
func Normalize(body []byte) Batch {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return Batch{}
	}

	var batch Batch
	for _, entry := range env.Entry {
		for _, change := range entry.Changes {
			value := change.Value
			if batch.Channel.PhoneNumberID == "" {
				batch.Channel = Channel{
					PhoneNumberID: value.Metadata.PhoneNumberID,
					DisplayNumber: value.Metadata.DisplayPhoneNumber,
				}
			}
			names := map[string]string{}
			for _, contact := range value.Contacts {
				if contact.WaID != "" {
					names[contact.WaID] = contact.Profile.Name
				}
			}
			for _, raw := range value.Messages {
				if evt, ok := normalizeMessage(raw); ok {
					evt.SenderName = names[evt.From]
					batch.Inbound = append(batch.Inbound, evt)
				}
			}
			for _, raw := range value.Statuses {
				if evt, ok := normalizeStatus(raw); ok {
					batch.Statuses = append(batch.Statuses, evt)
				}
			}
		}
	}
	return batch
}

func normalizeMessage(raw json.RawMessage) (InboundMessageEvent, bool) {
	var m wireMessage
	if err := json.Unmarshal(raw, &m); err != nil || m.ID == "" {
		return InboundMessageEvent{}, false
	}

	evt := InboundMessageEvent{
		ProviderMessageID: m.ID,
		From:              m.From,
		Timestamp:         parseUnixSeconds(m.Timestamp),
		Type:              contentType(m.Type),
		Text:              extractText(m),
		Raw:               append(json.RawMessage(nil), raw...),
	}
	if m.Context != nil {
		evt.ReplyToID = m.Context.ID
	}

	switch evt.Type {
	case ContentImage:
		evt.Media = mediaRef(m.Image)
	case ContentAudio:
		evt.Media = mediaRef(m.Audio)
	case ContentVideo:
		evt.Media = mediaRef(m.Video)
	case ContentDocument:
		evt.Media = mediaRef(m.Document)
	case ContentSticker:
		evt.Media = mediaRef(m.Sticker)
	case ContentLocation:
		if m.Location != nil {
			evt.Location = &Location{
				Latitude:  m.Location.Latitude,
				Longitude: m.Location.Longitude,
				Name:      m.Location.Name,
				Address:   m.Location.Address,
			}
		}
	case ContentContactCard:
		for _, contact := range m.Contacts {
			card := ContactCard{Name: contact.Name.FormattedName}
			for _, phone := range contact.Phones {
				number := phone.Phone
				if number == "" {
					number = phone.WaID
				}
				if number != "" {
					card.Phones = append(card.Phones, number)
				}
			}
			evt.Contacts = append(evt.Contacts, card)
		}
	case ContentReaction:
		if m.Reaction != nil {
			evt.Reaction = &Reaction{MessageID: m.Reaction.MessageID, Emoji: m.Reaction.Emoji}
		}
	}
	return evt, true
}

func normalizeStatus(raw json.RawMessage) (StatusEvent, bool) {
	var s wireStatus
	if err := json.Unmarshal(raw, &s); err != nil || s.ID == "" {
		return StatusEvent{}, false
	}
	return StatusEvent{
		ProviderMessageID: s.ID,
		RecipientID:       s.RecipientID,
		Status:            strings.ToLower(strings.TrimSpace(s.Status)),
		Timestamp:         parseUnixSeconds(s.Timestamp),
		Raw:               append(json.RawMessage(nil), raw...),
	}, true
}

func contentType(value string) ContentType {
	switch ContentType(value) {
	case ContentText, ContentImage, ContentAudio, ContentVideo, ContentDocument,
		ContentSticker, ContentLocation, ContentContactCard, ContentReaction:
		return ContentType(value)
	case "interactive", "button":
		return ContentText
	case "":
		return ContentText
	default:
		return ContentUnknown
	}
}

func mediaRef(m *wireMedia) *MediaRef {
	if m == nil || m.ID == "" {
		return nil
	}
	return &MediaRef{ID: m.ID, MimeType: m.MimeType, SHA256: m.SHA256, Filename: m.Filename}
}

// extractText pulls the human-readable body out of whichever variant carries
// one: plain text, interactive replies, quick-reply buttons, media captions.
func extractText(m wireMessage) string {
	if m.Text != nil && m.Text.Body != "" {
		return m.Text.Body
	}
	if m.Interactive != nil {
		if m.Interactive.NfmReply != nil && m.Interactive.NfmReply.Body != "" {
			return m.Interactive.NfmReply.Body
		}
		if m.Interactive.ButtonReply != nil && m.Interactive.ButtonReply.Title != "" {
			return m.Interactive.ButtonReply.Title
		}
		if m.Interactive.ListReply != nil && m.Interactive.ListReply.Title != "" {
			return m.Interactive.ListReply.Title
		}
	}
	if m.Button != nil && m.Button.Text != "" {
		return m.Button.Text
	}
	for _, media := range []*wireMedia{m.Image, m.Video, m.Document} {
		if media != nil && media.Caption != "" {
			return media.Caption
		}
	}
	return ""
}

func parseUnixSeconds(value string) time.Time {
	sec, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
	if err != nil || sec <= 0 {
		return time.Now().UTC()
	}
	return time.Unix(sec, 0).UTC()
}
