// Package notify tells the assigned agent about new inbound messages: a push
// to each registered device, then an email summary. Every failure here is
// logged and swallowed; notification problems must never surface to the
// webhook path.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"html"

	"github.com/hogarcril/wa-crm/internal/agents"
	"github.com/hogarcril/wa-crm/internal/conversation"
	"github.com/hogarcril/wa-crm/pkg/logging"
)

// Directory is the slice of the agent directory the service needs.
type Directory interface {
	Get(ctx context.Context, agentID string) (agents.Agent, error)
	RemoveTokens(ctx context.Context, agentID string, tokens []string) error
}

// Service fans one inbound notice out to the assigned agent.
type Service struct {
	directory  Directory
	push       PushSender
	email      EmailSender
	queue      Queue
	consoleURL string
	logger     *logging.Logger
}

func NewService(directory Directory, push PushSender, email EmailSender, queue Queue, consoleURL string, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{
		directory:  directory,
		push:       push,
		email:      email,
		queue:      queue,
		consoleURL: consoleURL,
		logger:     logger.WithComponent("notify"),
	}
}

// NotifyInbound enqueues the notice when a queue is configured, otherwise
// delivers inline. Either way the caller gets nothing back.
func (s *Service) NotifyInbound(ctx context.Context, notice conversation.InboundNotice) {
	if s.queue != nil {
		body, err := json.Marshal(notice)
		if err == nil {
			if err := s.queue.Send(ctx, string(body)); err == nil {
				return
			} else {
				s.logger.Error("notice enqueue failed, delivering inline", "conversation_id", notice.ConversationID, "error", err)
			}
		}
	}
	s.Deliver(ctx, notice)
}

// Deliver pushes to every device token and then emails a summary. Device
// tokens the provider reports dead are pruned from the agent record.
func (s *Service) Deliver(ctx context.Context, notice conversation.InboundNotice) {
	if notice.AgentID == "" {
		s.logger.Debug("no agent assigned, skipping notification", "conversation_id", notice.ConversationID)
		return
	}
	agent, err := s.directory.Get(ctx, notice.AgentID)
	if err != nil {
		s.logger.Error("agent lookup failed", "agent_id", notice.AgentID, "error", err)
		return
	}
	if !agent.Active {
		s.logger.Debug("agent inactive, skipping notification", "agent_id", agent.ID)
		return
	}

	s.sendPushes(ctx, agent, notice)
	s.sendEmail(ctx, agent, notice)
}

func (s *Service) sendPushes(ctx context.Context, agent agents.Agent, notice conversation.InboundNotice) {
	if s.push == nil || len(agent.PushTokens) == 0 {
		return
	}
	title := notificationTitle(notice)
	data := map[string]string{
		"conversation_id": notice.ConversationID,
		"message_id":      notice.MessageID,
	}
	var dead []string
	for _, token := range agent.PushTokens {
		err := s.push.SendPush(ctx, token, title, notice.Preview, data)
		if err == nil {
			continue
		}
		if IsDeadToken(err) {
			dead = append(dead, token)
			continue
		}
		s.logger.Error("push failed", "agent_id", agent.ID, "error", err)
	}
	if len(dead) > 0 {
		if err := s.directory.RemoveTokens(ctx, agent.ID, dead); err != nil {
			s.logger.Error("dead token prune failed", "agent_id", agent.ID, "error", err)
		} else {
			s.logger.Info("pruned dead push tokens", "agent_id", agent.ID, "count", len(dead))
		}
	}
}

func (s *Service) sendEmail(ctx context.Context, agent agents.Agent, notice conversation.InboundNotice) {
	if s.email == nil || agent.Email == "" {
		return
	}
	link := s.consoleURL + "/conversations/" + notice.ConversationID
	msg := EmailMessage{
		To:      agent.Email,
		ToName:  agent.Name,
		Subject: notificationTitle(notice),
		Body:    fmt.Sprintf("%s\n\nAbrir conversación: %s", notice.Preview, link),
		HTML: fmt.Sprintf("<p>%s</p><p><a href=%q>Abrir conversación</a></p>",
			html.EscapeString(notice.Preview), link),
	}
	if err := s.email.Send(ctx, msg); err != nil {
		s.logger.Error("notification email failed", "agent_id", agent.ID, "error", err)
	}
}

func notificationTitle(notice conversation.InboundNotice) string {
	if notice.ContactName != "" {
		return "Nuevo mensaje de " + notice.ContactName
	}
	return "Nuevo mensaje de " + notice.ConversationID
}
