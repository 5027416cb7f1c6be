package conversation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// ErrNotFound is returned for lookups of conversations that do not exist yet.
var ErrNotFound = errors.New("conversation: not found")

type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type PgxPool interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store persists CRM state in Postgres. Every write is an upsert designed to
// be safe under webhook redelivery and out-of-order delivery.
type Store struct {
	pool PgxPool
}

func NewStore(pool PgxPool) *Store {
	if pool == nil {
		return nil
	}
	return &Store{pool: pool}
}

func (s *Store) Begin(ctx context.Context) (pgx.Tx, error) {
	return s.pool.Begin(ctx)
}

// UpsertContact creates or refreshes a contact. created_at is written once;
// an empty display name never clears a known one. opt_in only moves forward:
// inbound traffic sets it (and refreshes opt_in_at), outbound writes carry
// false and must never clear a flag the contact already earned.
func (s *Store) UpsertContact(ctx context.Context, q Querier, contact Contact) error {
	if q == nil {
		q = s.pool
	}
	query := `
		INSERT INTO contacts (canonical_id, display_name, raw_number, opt_in, opt_in_at)
		VALUES ($1, NULLIF($2, ''), $3, $4, CASE WHEN $4 THEN now() END)
		ON CONFLICT (canonical_id) DO UPDATE
		SET display_name = COALESCE(NULLIF(EXCLUDED.display_name, ''), contacts.display_name),
			raw_number = EXCLUDED.raw_number,
			opt_in = contacts.opt_in OR EXCLUDED.opt_in,
			opt_in_at = CASE WHEN EXCLUDED.opt_in THEN now() ELSE contacts.opt_in_at END,
			updated_at = now()
	`
	if _, err := q.Exec(ctx, query, contact.CanonicalID, contact.DisplayName, contact.RawNumber, contact.OptIn); err != nil {
		return fmt.Errorf("conversation: upsert contact %s: %w", contact.CanonicalID, err)
	}
	return nil
}

// ThreadUpdate is one message's contribution to the conversation summary.
type ThreadUpdate struct {
	ID        string
	ChannelID string
	Direction string
	Preview   string
	EventTime time.Time
}

// UpsertThread creates or refreshes the conversation row. The preview columns
// move only when the event time is at or past the stored one, so late
// redeliveries never roll the thread backwards. Returns the currently
// assigned agent id ("" when unassigned).
func (s *Store) UpsertThread(ctx context.Context, q Querier, update ThreadUpdate) (string, error) {
	if q == nil {
		q = s.pool
	}
	query := `
		INSERT INTO conversations (id, last_message_at, last_message_text, last_message_direction, last_channel_id, first_inbound_at)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), CASE WHEN $4 = 'in' THEN $2 END)
		ON CONFLICT (id) DO UPDATE
		SET last_message_text = CASE
				WHEN EXCLUDED.last_message_at >= conversations.last_message_at THEN EXCLUDED.last_message_text
				ELSE conversations.last_message_text
			END,
			last_message_direction = CASE
				WHEN EXCLUDED.last_message_at >= conversations.last_message_at THEN EXCLUDED.last_message_direction
				ELSE conversations.last_message_direction
			END,
			last_channel_id = CASE
				WHEN EXCLUDED.last_message_at >= conversations.last_message_at THEN COALESCE(EXCLUDED.last_channel_id, conversations.last_channel_id)
				ELSE conversations.last_channel_id
			END,
			last_message_at = GREATEST(conversations.last_message_at, EXCLUDED.last_message_at),
			first_inbound_at = COALESCE(conversations.first_inbound_at, EXCLUDED.first_inbound_at),
			updated_at = now()
		RETURNING COALESCE(assigned_agent_id, '')
	`
	var assigned string
	err := q.QueryRow(ctx, query, update.ID, update.EventTime, update.Preview, update.Direction, update.ChannelID).Scan(&assigned)
	if err != nil {
		return "", fmt.Errorf("conversation: upsert thread %s: %w", update.ID, err)
	}
	return assigned, nil
}

// AssignAgentIfFree claims the conversation for an agent. The WHERE guard
// makes the first committer the only winner under concurrent first contact.
func (s *Store) AssignAgentIfFree(ctx context.Context, q Querier, conversationID, agentID, agentName string) (bool, error) {
	if q == nil {
		q = s.pool
	}
	query := `
		UPDATE conversations
		SET assigned_agent_id = $2,
			assigned_agent_name = $3,
			updated_at = now()
		WHERE id = $1 AND assigned_agent_id IS NULL
	`
	tag, err := q.Exec(ctx, query, conversationID, agentID, agentName)
	if err != nil {
		return false, fmt.Errorf("conversation: assign agent on %s: %w", conversationID, err)
	}
	return tag.RowsAffected() == 1, nil
}

// UpsertInboundMessage writes a message row keyed by provider message id.
// Content columns are first-write-wins: a redelivery never overwrites what an
// earlier delivery stored, it only fills columns that are still NULL (such as
// the placeholder row a status event created). Reports whether the row was
// newly inserted.
func (s *Store) UpsertInboundMessage(ctx context.Context, q Querier, msg Message) (bool, error) {
	if q == nil {
		q = s.pool
	}
	query := `
		INSERT INTO messages (
			provider_message_id, conversation_id, direction, content_type, body,
			media_id, media_key, media_url, media_mime, media_error,
			location, contact_cards, reaction, reply_to_id, reply_preview,
			event_ts, raw, status
		)
		VALUES (
			$1, $2, $3, $4, NULLIF($5, ''),
			NULLIF($6, ''), NULLIF($7, ''), NULLIF($8, ''), NULLIF($9, ''), NULLIF($10, ''),
			$11, $12, $13, NULLIF($14, ''), NULLIF($15, ''),
			$16, $17, NULLIF($18, '')
		)
		ON CONFLICT (provider_message_id) DO UPDATE
		SET conversation_id = COALESCE(messages.conversation_id, EXCLUDED.conversation_id),
			direction = COALESCE(messages.direction, EXCLUDED.direction),
			content_type = COALESCE(messages.content_type, EXCLUDED.content_type),
			body = COALESCE(messages.body, EXCLUDED.body),
			media_id = COALESCE(messages.media_id, EXCLUDED.media_id),
			media_key = COALESCE(messages.media_key, EXCLUDED.media_key),
			media_url = COALESCE(messages.media_url, EXCLUDED.media_url),
			media_mime = COALESCE(messages.media_mime, EXCLUDED.media_mime),
			media_error = CASE
				WHEN COALESCE(messages.media_key, EXCLUDED.media_key) IS NOT NULL THEN NULL
				ELSE COALESCE(messages.media_error, EXCLUDED.media_error)
			END,
			location = COALESCE(messages.location, EXCLUDED.location),
			contact_cards = COALESCE(messages.contact_cards, EXCLUDED.contact_cards),
			reaction = COALESCE(messages.reaction, EXCLUDED.reaction),
			reply_to_id = COALESCE(messages.reply_to_id, EXCLUDED.reply_to_id),
			reply_preview = COALESCE(messages.reply_preview, EXCLUDED.reply_preview),
			event_ts = COALESCE(messages.event_ts, EXCLUDED.event_ts),
			raw = COALESCE(messages.raw, EXCLUDED.raw),
			status = COALESCE(messages.status, EXCLUDED.status),
			updated_at = now()
		RETURNING (xmax = 0)
	`
	var inserted bool
	err := q.QueryRow(ctx, query,
		msg.ProviderMessageID, msg.ConversationID, msg.Direction, msg.Type, msg.Body,
		msg.MediaID, msg.MediaKey, msg.MediaURL, msg.MediaMime, msg.MediaError,
		msg.Location, msg.ContactCards, msg.Reaction, msg.ReplyToID, msg.ReplyPreview,
		msg.EventTimestamp, msg.Raw, msg.Status,
	).Scan(&inserted)
	if err != nil {
		return false, fmt.Errorf("conversation: upsert message %s: %w", msg.ProviderMessageID, err)
	}
	return inserted, nil
}

// InsertOutboundMessage records a message this system sent. When a status
// event raced ahead and left a placeholder row, the content write fills the
// columns that are still NULL; a status the provider already reported keeps
// precedence over the initial "sent".
func (s *Store) InsertOutboundMessage(ctx context.Context, q Querier, msg Message) error {
	if q == nil {
		q = s.pool
	}
	query := `
		INSERT INTO messages (
			provider_message_id, conversation_id, direction, content_type, body,
			status, status_ts, send_candidate, send_error, event_ts, raw
		)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, $7, NULLIF($8, ''), $9, $10, $11)
		ON CONFLICT (provider_message_id) DO UPDATE
		SET conversation_id = COALESCE(messages.conversation_id, EXCLUDED.conversation_id),
			direction = COALESCE(messages.direction, EXCLUDED.direction),
			content_type = COALESCE(messages.content_type, EXCLUDED.content_type),
			body = COALESCE(messages.body, EXCLUDED.body),
			status = COALESCE(messages.status, EXCLUDED.status),
			status_ts = COALESCE(messages.status_ts, EXCLUDED.status_ts),
			send_candidate = COALESCE(EXCLUDED.send_candidate, messages.send_candidate),
			send_error = COALESCE(EXCLUDED.send_error, messages.send_error),
			event_ts = COALESCE(messages.event_ts, EXCLUDED.event_ts),
			raw = COALESCE(messages.raw, EXCLUDED.raw),
			updated_at = now()
	`
	_, err := q.Exec(ctx, query,
		msg.ProviderMessageID, msg.ConversationID, msg.Direction, msg.Type, msg.Body,
		msg.Status, msg.StatusTimestamp, msg.SendCandidate, msg.SendError, msg.EventTimestamp, msg.Raw,
	)
	if err != nil {
		return fmt.Errorf("conversation: insert outbound %s: %w", msg.ProviderMessageID, err)
	}
	return nil
}

// MergeStatus folds a delivery-status update into the message row. When the
// content write has not arrived yet it creates a placeholder whose direction
// and content columns stay NULL for the content write to fill; the status
// payload lands in status_raw so raw stays reserved for the message itself.
func (s *Store) MergeStatus(ctx context.Context, q Querier, providerMessageID, conversationID, status string, ts time.Time, raw []byte) error {
	if q == nil {
		q = s.pool
	}
	query := `
		INSERT INTO messages (provider_message_id, conversation_id, status, status_ts, status_raw)
		VALUES ($1, NULLIF($2, ''), $3, $4, $5)
		ON CONFLICT (provider_message_id) DO UPDATE
		SET conversation_id = COALESCE(messages.conversation_id, EXCLUDED.conversation_id),
			status = EXCLUDED.status,
			status_ts = EXCLUDED.status_ts,
			status_raw = EXCLUDED.status_raw,
			updated_at = now()
	`
	if _, err := q.Exec(ctx, query, providerMessageID, conversationID, status, ts, raw); err != nil {
		return fmt.Errorf("conversation: merge status %s: %w", providerMessageID, err)
	}
	return nil
}

// BumpUnread increments the unread counter. Callers only invoke it when the
// message row was newly inserted, which keeps redeliveries from inflating it.
func (s *Store) BumpUnread(ctx context.Context, q Querier, conversationID string) error {
	if q == nil {
		q = s.pool
	}
	query := `UPDATE conversations SET unread_count = unread_count + 1 WHERE id = $1`
	if _, err := q.Exec(ctx, query, conversationID); err != nil {
		return fmt.Errorf("conversation: bump unread %s: %w", conversationID, err)
	}
	return nil
}

// ReplyPreview looks up the referenced message inside the same conversation
// and returns a short denormalized snapshot for quoting.
func (s *Store) ReplyPreview(ctx context.Context, q Querier, conversationID, providerMessageID string) (string, bool, error) {
	if q == nil {
		q = s.pool
	}
	query := `
		SELECT content_type, COALESCE(body, '')
		FROM messages
		WHERE provider_message_id = $1 AND conversation_id = $2
	`
	var contentType, body string
	err := q.QueryRow(ctx, query, providerMessageID, conversationID).Scan(&contentType, &body)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("conversation: reply preview %s: %w", providerMessageID, err)
	}
	preview := body
	if preview == "" {
		preview = "[" + contentType + "]"
	}
	return TruncatePreview(preview, 120), true, nil
}

// Get loads a conversation summary row.
func (s *Store) Get(ctx context.Context, conversationID string) (Conversation, error) {
	query := `
		SELECT id, last_message_at, COALESCE(last_message_text, ''), COALESCE(last_message_direction, ''),
			COALESCE(last_channel_id, ''), COALESCE(assigned_agent_id, ''), COALESCE(assigned_agent_name, ''),
			unread_count, COALESCE(first_inbound_at, 'epoch'::timestamptz), created_at, updated_at
		FROM conversations
		WHERE id = $1
	`
	var conv Conversation
	err := s.pool.QueryRow(ctx, query, conversationID).Scan(
		&conv.ID, &conv.LastMessageAt, &conv.LastMessageText, &conv.LastMessageDirection,
		&conv.LastChannelID, &conv.AssignedAgentID, &conv.AssignedAgentName,
		&conv.UnreadCount, &conv.FirstInboundAt, &conv.CreatedAt, &conv.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return Conversation{}, ErrNotFound
	}
	if err != nil {
		return Conversation{}, fmt.Errorf("conversation: get %s: %w", conversationID, err)
	}
	return conv, nil
}
