package agents

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v4"
)

func TestDirectoryGet(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()

	dir := &Directory{pool: mock}
	mock.ExpectQuery("SELECT id, name, email, push_tokens, active").
		WithArgs("agent-1").
		WillReturnRows(pgxmock.NewRows([]string{"id", "name", "email", "push_tokens", "active"}).
			AddRow("agent-1", "Laura", "laura@example.com", []byte(`["tok-a","tok-b"]`), true))

	agent, err := dir.Get(context.Background(), "agent-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if agent.Name != "Laura" || len(agent.PushTokens) != 2 || !agent.Active {
		t.Fatalf("unexpected agent: %+v", agent)
	}
}

func TestDirectoryGetNotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()

	dir := &Directory{pool: mock}
	mock.ExpectQuery("SELECT id, name, email, push_tokens, active").
		WithArgs("ghost").
		WillReturnError(pgx.ErrNoRows)

	if _, err := dir.Get(context.Background(), "ghost"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDirectoryUpsert(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()

	dir := &Directory{pool: mock}
	mock.ExpectExec("INSERT INTO agents").
		WithArgs("agent-1", "Laura", "laura@example.com", []byte(`["tok-a"]`), true).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err = dir.Upsert(context.Background(), Agent{
		ID:         "agent-1",
		Name:       "Laura",
		Email:      "laura@example.com",
		PushTokens: []string{"tok-a"},
		Active:     true,
	})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
}

func TestDirectoryRemoveTokens(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()

	dir := &Directory{pool: mock}
	mock.ExpectExec("UPDATE agents").
		WithArgs("agent-1", []byte(`["tok-dead"]`)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	if err := dir.RemoveTokens(context.Background(), "agent-1", []string{"tok-dead"}); err != nil {
		t.Fatalf("remove tokens: %v", err)
	}
}

func TestDirectoryRemoveTokensNoop(t *testing.T) {
	dir := &Directory{}
	if err := dir.RemoveTokens(context.Background(), "agent-1", nil); err != nil {
		t.Fatalf("expected nil err, got %v", err)
	}
}
