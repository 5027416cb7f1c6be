package conversation

import (
	"context"
	"encoding/json"
	"time"
	"unicode/utf8"

	"github.com/jackc/pgx/v5"

	"github.com/hogarcril/wa-crm/internal/agents"
	"github.com/hogarcril/wa-crm/internal/events"
	"github.com/hogarcril/wa-crm/internal/phone"
	"github.com/hogarcril/wa-crm/pkg/logging"
)

// Storage is the slice of Store the synchronizer uses.
type Storage interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	UpsertContact(ctx context.Context, q Querier, contact Contact) error
	UpsertThread(ctx context.Context, q Querier, update ThreadUpdate) (string, error)
	AssignAgentIfFree(ctx context.Context, q Querier, conversationID, agentID, agentName string) (bool, error)
	UpsertInboundMessage(ctx context.Context, q Querier, msg Message) (bool, error)
	MergeStatus(ctx context.Context, q Querier, providerMessageID, conversationID, status string, ts time.Time, raw []byte) error
	BumpUnread(ctx context.Context, q Querier, conversationID string) error
	ReplyPreview(ctx context.Context, q Querier, conversationID, providerMessageID string) (string, bool, error)
}

// MediaArchiver pulls provider media and parks a copy in durable storage.
type MediaArchiver interface {
	Fetch(ctx context.Context, mediaID string) ([]byte, string, error)
	Archive(ctx context.Context, conversationID, messageID, mimeType string, data []byte) (string, string, error)
}

// AgentRouter picks an agent for a first-contact conversation.
type AgentRouter interface {
	Route(ctx context.Context, canonicalID string) string
}

// AgentDirectory resolves agent ids to directory records.
type AgentDirectory interface {
	Get(ctx context.Context, agentID string) (agents.Agent, error)
}

// InboundNotice is what the notification layer gets after a commit.
type InboundNotice struct {
	ConversationID string
	AgentID        string
	ContactName    string
	Preview        string
	MessageID      string
	Timestamp      time.Time
}

// Notifier delivers best-effort agent notifications. Implementations own
// their failures; the synchronizer never looks at the outcome.
type Notifier interface {
	NotifyInbound(ctx context.Context, notice InboundNotice)
}

// Synchronizer folds normalized webhook events into the store. Events in a
// batch are isolated from each other: one bad event is logged and skipped,
// the rest still land, and the webhook is always acknowledged.
type Synchronizer struct {
	store     Storage
	phones    *phone.Canonicalizer
	media     MediaArchiver
	router    AgentRouter
	directory AgentDirectory
	notifier  Notifier
	logger    *logging.Logger
}

func NewSynchronizer(store Storage, phones *phone.Canonicalizer, media MediaArchiver, router AgentRouter, directory AgentDirectory, notifier Notifier, logger *logging.Logger) *Synchronizer {
	if logger == nil {
		logger = logging.Default()
	}
	return &Synchronizer{
		store:     store,
		phones:    phones,
		media:     media,
		router:    router,
		directory: directory,
		notifier:  notifier,
		logger:    logger.WithComponent("synchronizer"),
	}
}

// Result counts what a batch produced.
type Result struct {
	Inbound  int
	Statuses int
	Failed   int
}

// ProcessBatch applies every event in the delivery.
func (s *Synchronizer) ProcessBatch(ctx context.Context, batch events.Batch) Result {
	var res Result
	for _, evt := range batch.Inbound {
		if err := s.processInbound(ctx, batch.Channel, evt); err != nil {
			s.logger.Error("inbound event failed", "message_id", evt.ProviderMessageID, "error", err)
			res.Failed++
			continue
		}
		res.Inbound++
	}
	for _, evt := range batch.Statuses {
		if err := s.processStatus(ctx, evt); err != nil {
			s.logger.Error("status event failed", "message_id", evt.ProviderMessageID, "error", err)
			res.Failed++
			continue
		}
		res.Statuses++
	}
	return res
}

func (s *Synchronizer) processInbound(ctx context.Context, channel events.Channel, evt events.InboundMessageEvent) error {
	canonicalID := s.phones.Canonicalize(evt.From)
	if canonicalID == "" {
		s.logger.Warn("dropping message without usable sender", "message_id", evt.ProviderMessageID)
		return nil
	}

	msg := Message{
		ProviderMessageID: evt.ProviderMessageID,
		ConversationID:    canonicalID,
		Direction:         DirectionIn,
		Type:              string(evt.Type),
		Body:              evt.Text,
		ReplyToID:         evt.ReplyToID,
		Status:            StatusReceived,
		EventTimestamp:    evt.Timestamp,
		Raw:               evt.Raw,
	}
	if evt.Location != nil {
		msg.Location, _ = json.Marshal(evt.Location)
	}
	if len(evt.Contacts) > 0 {
		msg.ContactCards, _ = json.Marshal(evt.Contacts)
	}
	if evt.Reaction != nil {
		msg.Reaction, _ = json.Marshal(evt.Reaction)
	}

	// Provider media links expire, so the copy happens before the row lands.
	// A failed copy still persists the message, flagged for the console.
	if evt.Media != nil {
		msg.MediaID = evt.Media.ID
		msg.MediaMime = evt.Media.MimeType
		if s.media != nil {
			s.archiveMedia(ctx, canonicalID, evt, &msg)
		}
	}

	tx, err := s.store.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	contact := Contact{
		CanonicalID: canonicalID,
		DisplayName: evt.SenderName,
		RawNumber:   evt.From,
		OptIn:       true,
	}
	if err := s.store.UpsertContact(ctx, tx, contact); err != nil {
		return err
	}

	if msg.ReplyToID != "" {
		preview, ok, err := s.store.ReplyPreview(ctx, tx, canonicalID, msg.ReplyToID)
		if err != nil {
			return err
		}
		if ok {
			msg.ReplyPreview = preview
		}
	}

	assigned, err := s.store.UpsertThread(ctx, tx, ThreadUpdate{
		ID:        canonicalID,
		ChannelID: channel.PhoneNumberID,
		Direction: DirectionIn,
		Preview:   previewText(evt),
		EventTime: evt.Timestamp,
	})
	if err != nil {
		return err
	}
	if assigned == "" && s.router != nil {
		assigned = s.assignFirstContact(ctx, tx, canonicalID)
	}

	inserted, err := s.store.UpsertInboundMessage(ctx, tx, msg)
	if err != nil {
		return err
	}
	if inserted {
		if err := s.store.BumpUnread(ctx, tx, canonicalID); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}

	if inserted && s.notifier != nil {
		notice := InboundNotice{
			ConversationID: canonicalID,
			AgentID:        assigned,
			ContactName:    contact.DisplayName,
			Preview:        previewText(evt),
			MessageID:      evt.ProviderMessageID,
			Timestamp:      evt.Timestamp,
		}
		go s.notifier.NotifyInbound(context.WithoutCancel(ctx), notice)
	}
	return nil
}

// assignFirstContact routes inside the open transaction so only one of two
// racing first messages claims the conversation. A routing or directory
// hiccup leaves the thread unassigned rather than failing the event.
func (s *Synchronizer) assignFirstContact(ctx context.Context, tx pgx.Tx, canonicalID string) string {
	agentID := s.router.Route(ctx, canonicalID)
	if agentID == "" {
		return ""
	}
	agentName := ""
	if s.directory != nil {
		if agent, err := s.directory.Get(ctx, agentID); err == nil {
			agentName = agent.Name
		} else {
			s.logger.Warn("agent lookup failed, assigning without name", "agent_id", agentID, "error", err)
		}
	}
	won, err := s.store.AssignAgentIfFree(ctx, tx, canonicalID, agentID, agentName)
	if err != nil {
		s.logger.Warn("agent assignment failed", "conversation_id", canonicalID, "error", err)
		return ""
	}
	if !won {
		return ""
	}
	s.logger.Info("conversation assigned", "conversation_id", canonicalID, "agent_id", agentID)
	return agentID
}

func (s *Synchronizer) archiveMedia(ctx context.Context, canonicalID string, evt events.InboundMessageEvent, msg *Message) {
	data, mime, err := s.media.Fetch(ctx, evt.Media.ID)
	if err != nil {
		s.logger.Warn("media fetch failed", "message_id", evt.ProviderMessageID, "media_id", evt.Media.ID, "error", err)
		msg.MediaError = MediaErrorDownloadFailed
		return
	}
	if mime == "" {
		mime = evt.Media.MimeType
	}
	key, url, err := s.media.Archive(ctx, canonicalID, evt.ProviderMessageID, mime, data)
	if err != nil {
		s.logger.Warn("media archive failed", "message_id", evt.ProviderMessageID, "error", err)
		msg.MediaError = MediaErrorDownloadFailed
		return
	}
	msg.MediaKey = key
	msg.MediaURL = url
	msg.MediaMime = mime
}

func (s *Synchronizer) processStatus(ctx context.Context, evt events.StatusEvent) error {
	conversationID := s.phones.Canonicalize(evt.RecipientID)
	return s.store.MergeStatus(ctx, nil, evt.ProviderMessageID, conversationID, evt.Status, evt.Timestamp, evt.Raw)
}

// previewText is the one-line thread summary shown in the console list.
func previewText(evt events.InboundMessageEvent) string {
	if evt.Text != "" {
		return TruncatePreview(evt.Text, 160)
	}
	switch evt.Type {
	case events.ContentImage:
		return "[imagen]"
	case events.ContentAudio:
		return "[audio]"
	case events.ContentVideo:
		return "[video]"
	case events.ContentDocument:
		return "[documento]"
	case events.ContentSticker:
		return "[sticker]"
	case events.ContentLocation:
		return "[ubicación]"
	case events.ContentContactCard:
		return "[contacto]"
	case events.ContentReaction:
		if evt.Reaction != nil && evt.Reaction.Emoji != "" {
			return evt.Reaction.Emoji
		}
		return "[reacción]"
	default:
		return "[mensaje]"
	}
}

// TruncatePreview caps preview text at max bytes without splitting a UTF-8
// rune; Postgres rejects text columns carrying a broken encoding.
func TruncatePreview(value string, max int) string {
	if len(value) <= max {
		return value
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(value[cut]) {
		cut--
	}
	return value[:cut]
}
