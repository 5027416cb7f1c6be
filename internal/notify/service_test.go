package notify

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/googleapi"

	"github.com/hogarcril/wa-crm/internal/agents"
	"github.com/hogarcril/wa-crm/internal/conversation"
)

type stubDirectory struct {
	agent   agents.Agent
	err     error
	removed []string
}

func (d *stubDirectory) Get(ctx context.Context, agentID string) (agents.Agent, error) {
	if d.err != nil {
		return agents.Agent{}, d.err
	}
	return d.agent, nil
}

func (d *stubDirectory) RemoveTokens(ctx context.Context, agentID string, tokens []string) error {
	d.removed = append(d.removed, tokens...)
	return nil
}

type recordedPush struct {
	token string
	title string
	body  string
}

type stubPush struct {
	sent    []recordedPush
	failFor map[string]error
}

func (p *stubPush) SendPush(ctx context.Context, token, title, body string, data map[string]string) error {
	if err, ok := p.failFor[token]; ok {
		return err
	}
	p.sent = append(p.sent, recordedPush{token: token, title: title, body: body})
	return nil
}

type stubEmail struct {
	mu   sync.Mutex
	sent []EmailMessage
	err  error
}

func (e *stubEmail) Send(ctx context.Context, msg EmailMessage) error {
	if e.err != nil {
		return e.err
	}
	e.mu.Lock()
	e.sent = append(e.sent, msg)
	e.mu.Unlock()
	return nil
}

func (e *stubEmail) count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.sent)
}

func testNotice() conversation.InboundNotice {
	return conversation.InboundNotice{
		ConversationID: "+5493518120950",
		AgentID:        "agent-1",
		ContactName:    "Carla",
		Preview:        "hola, sigue disponible?",
		MessageID:      "wamid.1",
		Timestamp:      time.Now().UTC(),
	}
}

func TestDeliverPushAndEmail(t *testing.T) {
	dir := &stubDirectory{agent: agents.Agent{
		ID: "agent-1", Name: "Laura", Email: "laura@example.com",
		PushTokens: []string{"tok-a", "tok-b"}, Active: true,
	}}
	push := &stubPush{}
	email := &stubEmail{}
	svc := NewService(dir, push, email, nil, "https://console.example.com", nil)

	svc.Deliver(context.Background(), testNotice())

	require.Len(t, push.sent, 2)
	assert.Equal(t, "Nuevo mensaje de Carla", push.sent[0].title)
	assert.Equal(t, "hola, sigue disponible?", push.sent[0].body)

	require.Len(t, email.sent, 1)
	assert.Equal(t, "laura@example.com", email.sent[0].To)
	assert.Contains(t, email.sent[0].Body, "https://console.example.com/conversations/+5493518120950")
}

func TestDeliverPrunesDeadTokens(t *testing.T) {
	dir := &stubDirectory{agent: agents.Agent{
		ID: "agent-1", PushTokens: []string{"tok-dead", "tok-live"}, Active: true,
	}}
	push := &stubPush{failFor: map[string]error{
		"tok-dead": &googleapi.Error{Code: 404, Message: "Requested entity was not found."},
	}}
	svc := NewService(dir, push, nil, nil, "", nil)

	svc.Deliver(context.Background(), testNotice())

	assert.Equal(t, []string{"tok-dead"}, dir.removed)
	require.Len(t, push.sent, 1)
	assert.Equal(t, "tok-live", push.sent[0].token)
}

func TestDeliverTransientPushFailureKeepsToken(t *testing.T) {
	dir := &stubDirectory{agent: agents.Agent{
		ID: "agent-1", PushTokens: []string{"tok-a"}, Active: true,
	}}
	push := &stubPush{failFor: map[string]error{"tok-a": errors.New("fcm unavailable")}}
	svc := NewService(dir, push, nil, nil, "", nil)

	svc.Deliver(context.Background(), testNotice())
	assert.Empty(t, dir.removed)
}

func TestDeliverSkipsUnassignedAndInactive(t *testing.T) {
	dir := &stubDirectory{agent: agents.Agent{ID: "agent-1", Active: false, Email: "x@example.com"}}
	email := &stubEmail{}
	svc := NewService(dir, nil, email, nil, "", nil)

	notice := testNotice()
	notice.AgentID = ""
	svc.Deliver(context.Background(), notice)
	assert.Empty(t, email.sent)

	svc.Deliver(context.Background(), testNotice())
	assert.Empty(t, email.sent, "inactive agents are not notified")
}

func TestDeliverSurvivesDirectoryError(t *testing.T) {
	dir := &stubDirectory{err: errors.New("db down")}
	svc := NewService(dir, &stubPush{}, &stubEmail{}, nil, "", nil)
	svc.Deliver(context.Background(), testNotice())
}

func TestNotifyInboundThroughQueue(t *testing.T) {
	dir := &stubDirectory{agent: agents.Agent{ID: "agent-1", Email: "a@example.com", Active: true}}
	email := &stubEmail{}
	queue := NewMemoryQueue(4)
	svc := NewService(dir, nil, email, queue, "https://console.example.com", nil)

	svc.NotifyInbound(context.Background(), testNotice())
	assert.Empty(t, email.sent, "queued notices are not delivered inline")

	ctx, cancel := context.WithCancel(context.Background())
	consumer := NewConsumer(queue, svc, nil)
	done := make(chan struct{})
	go func() {
		consumer.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return email.count() == 1 }, 2*time.Second, 10*time.Millisecond)
	cancel()
	<-done
}

func TestIsDeadToken(t *testing.T) {
	assert.True(t, IsDeadToken(&googleapi.Error{Code: 404}))
	assert.True(t, IsDeadToken(&googleapi.Error{Code: 400, Message: "UNREGISTERED token"}))
	assert.False(t, IsDeadToken(&googleapi.Error{Code: 500}))
	assert.False(t, IsDeadToken(errors.New("boom")))
}

func TestNotificationTitleFallsBackToNumber(t *testing.T) {
	notice := testNotice()
	notice.ContactName = ""
	assert.True(t, strings.HasSuffix(notificationTitle(notice), notice.ConversationID))
}
