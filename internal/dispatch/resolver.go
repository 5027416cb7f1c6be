// Package dispatch sends outbound messages through the WhatsApp Cloud API,
// trying each plausible wire encoding of an ambiguous Argentine number until
// the provider accepts one.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/hogarcril/wa-crm/internal/conversation"
	"github.com/hogarcril/wa-crm/internal/phone"
	"github.com/hogarcril/wa-crm/internal/wagraph"
	"github.com/hogarcril/wa-crm/pkg/logging"
)

// ErrNoChannel means no sending channel could be resolved for the request.
var ErrNoChannel = errors.New("dispatch: no channel available")

// ErrInvalidRequest marks caller mistakes as opposed to provider failures.
var ErrInvalidRequest = errors.New("dispatch: invalid request")

// Provider is the slice of the Graph API client dispatch needs.
type Provider interface {
	SendMessage(ctx context.Context, req wagraph.SendMessageRequest) (wagraph.SendResult, error)
}

// Store is the slice of the conversation store dispatch writes through.
type Store interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Get(ctx context.Context, conversationID string) (conversation.Conversation, error)
	UpsertContact(ctx context.Context, q conversation.Querier, contact conversation.Contact) error
	UpsertThread(ctx context.Context, q conversation.Querier, update conversation.ThreadUpdate) (string, error)
	InsertOutboundMessage(ctx context.Context, q conversation.Querier, msg conversation.Message) error
}

// SendRequest is one outbound message as the console submits it.
type SendRequest struct {
	To         string
	Text       string
	Template   *wagraph.TemplateRef
	Channel    string
	PreviewURL bool
}

func (r SendRequest) validate() error {
	if strings.TrimSpace(r.To) == "" {
		return fmt.Errorf("%w: recipient is required", ErrInvalidRequest)
	}
	if strings.TrimSpace(r.Text) == "" && r.Template == nil {
		return fmt.Errorf("%w: text or template is required", ErrInvalidRequest)
	}
	return nil
}

// SendOutcome reports a successful send.
type SendOutcome struct {
	ConversationID string
	MessageID      string
	Candidate      string
	ChannelID      string
}

// Resolver resolves the channel and recipient encoding for each send. Trials
// run sequentially; only the provider's recipient-format rejection moves on
// to the next candidate, any other failure stops the attempt.
type Resolver struct {
	provider       Provider
	store          Store
	phones         *phone.Canonicalizer
	channelAliases map[string]string
	defaultChannel string
	logger         *logging.Logger
}

func NewResolver(provider Provider, store Store, phones *phone.Canonicalizer, channelAliases map[string]string, defaultChannel string, logger *logging.Logger) *Resolver {
	if logger == nil {
		logger = logging.Default()
	}
	return &Resolver{
		provider:       provider,
		store:          store,
		phones:         phones,
		channelAliases: channelAliases,
		defaultChannel: defaultChannel,
		logger:         logger.WithComponent("dispatch"),
	}
}

// Send runs the full state machine: resolve channel, try candidates in
// order, persist the outcome either way.
func (r *Resolver) Send(ctx context.Context, req SendRequest) (SendOutcome, error) {
	if err := req.validate(); err != nil {
		return SendOutcome{}, err
	}
	canonicalID := r.phones.Canonicalize(req.To)
	if canonicalID == "" {
		return SendOutcome{}, fmt.Errorf("%w: unusable recipient %q", ErrInvalidRequest, req.To)
	}
	channelID, err := r.resolveChannel(ctx, canonicalID, req.Channel)
	if err != nil {
		return SendOutcome{}, err
	}

	candidates := r.phones.SendCandidates(req.To)
	if len(candidates) == 0 {
		return SendOutcome{}, fmt.Errorf("dispatch: no send candidates for %q", req.To)
	}

	var lastErr error
	for _, candidate := range candidates {
		result, sendErr := r.provider.SendMessage(ctx, wagraph.SendMessageRequest{
			PhoneNumberID: channelID,
			To:            candidate,
			Text:          req.Text,
			PreviewURL:    req.PreviewURL,
			Template:      req.Template,
		})
		if sendErr == nil {
			return r.recordSuccess(ctx, canonicalID, channelID, candidate, req, result)
		}
		lastErr = sendErr
		if wagraph.IsRecipientFormatError(sendErr) {
			r.logger.Info("candidate rejected by provider, trying next",
				"conversation_id", canonicalID, "candidate", candidate)
			continue
		}
		break
	}

	if persistErr := r.recordFailure(ctx, canonicalID, channelID, req, lastErr); persistErr != nil {
		r.logger.Error("failed send could not be recorded", "conversation_id", canonicalID, "error", persistErr)
	}
	return SendOutcome{}, fmt.Errorf("dispatch: send to %s: %w", canonicalID, lastErr)
}

// resolveChannel prefers the explicit override, then the channel the contact
// last wrote in on, then the configured default.
func (r *Resolver) resolveChannel(ctx context.Context, canonicalID, override string) (string, error) {
	if override != "" {
		if id, ok := r.channelAliases[override]; ok {
			return id, nil
		}
		return override, nil
	}
	conv, err := r.store.Get(ctx, canonicalID)
	if err == nil && conv.LastChannelID != "" {
		return conv.LastChannelID, nil
	}
	if err != nil && !errors.Is(err, conversation.ErrNotFound) {
		return "", err
	}
	if r.defaultChannel != "" {
		return r.defaultChannel, nil
	}
	return "", ErrNoChannel
}

func (r *Resolver) recordSuccess(ctx context.Context, canonicalID, channelID, candidate string, req SendRequest, result wagraph.SendResult) (SendOutcome, error) {
	messageID := result.MessageID
	if messageID == "" {
		messageID = "local." + uuid.NewString()
	}
	msg := conversation.Message{
		ProviderMessageID: messageID,
		ConversationID:    canonicalID,
		Direction:         conversation.DirectionOut,
		Type:              outboundType(req),
		Body:              req.Text,
		Status:            "sent",
		StatusTimestamp:   time.Now().UTC(),
		SendCandidate:     candidate,
		EventTimestamp:    time.Now().UTC(),
		Raw:               result.Raw,
	}
	if err := r.persist(ctx, canonicalID, channelID, req, msg); err != nil {
		// the provider accepted the message; surface the storage problem
		// without pretending the send failed
		r.logger.Error("sent message could not be recorded", "message_id", messageID, "error", err)
	}
	return SendOutcome{
		ConversationID: canonicalID,
		MessageID:      messageID,
		Candidate:      candidate,
		ChannelID:      channelID,
	}, nil
}

func (r *Resolver) recordFailure(ctx context.Context, canonicalID, channelID string, req SendRequest, sendErr error) error {
	msg := conversation.Message{
		ProviderMessageID: "local." + uuid.NewString(),
		ConversationID:    canonicalID,
		Direction:         conversation.DirectionOut,
		Type:              outboundType(req),
		Body:              req.Text,
		Status:            conversation.StatusError,
		StatusTimestamp:   time.Now().UTC(),
		SendError:         errorPayload(sendErr),
		EventTimestamp:    time.Now().UTC(),
	}
	return r.persist(ctx, canonicalID, channelID, req, msg)
}

func (r *Resolver) persist(ctx context.Context, canonicalID, channelID string, req SendRequest, msg conversation.Message) error {
	tx, err := r.store.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	// Outbound writes carry OptIn false; the store merges the flag
	// monotonically so a contact who already opted in stays opted in.
	contact := conversation.Contact{CanonicalID: canonicalID, RawNumber: phone.Digits(req.To)}
	if err := r.store.UpsertContact(ctx, tx, contact); err != nil {
		return err
	}
	if _, err := r.store.UpsertThread(ctx, tx, conversation.ThreadUpdate{
		ID:        canonicalID,
		ChannelID: channelID,
		Direction: conversation.DirectionOut,
		Preview:   outboundPreview(req),
		EventTime: msg.EventTimestamp,
	}); err != nil {
		return err
	}
	if err := r.store.InsertOutboundMessage(ctx, tx, msg); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func outboundType(req SendRequest) string {
	if req.Template != nil {
		return "template"
	}
	return "text"
}

func outboundPreview(req SendRequest) string {
	if req.Text != "" {
		return conversation.TruncatePreview(req.Text, 160)
	}
	if req.Template != nil {
		return "[plantilla: " + req.Template.Name + "]"
	}
	return ""
}

func errorPayload(err error) json.RawMessage {
	var apiErr *wagraph.APIError
	if errors.As(err, &apiErr) && len(apiErr.Raw) > 0 {
		return apiErr.Raw
	}
	encoded, _ := json.Marshal(map[string]string{"error": err.Error()})
	return encoded
}
