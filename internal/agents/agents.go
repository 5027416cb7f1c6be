// Package agents is the directory of human operators behind the console.
package agents

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Agent is a console operator who can own conversations.
type Agent struct {
	ID         string
	Name       string
	Email      string
	PushTokens []string
	Active     bool
}

// ErrNotFound is returned when an agent id has no directory row.
var ErrNotFound = errors.New("agents: not found")

type PgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Directory reads and maintains agent records in Postgres.
type Directory struct {
	pool PgxPool
}

func NewDirectory(pool PgxPool) *Directory {
	if pool == nil {
		return nil
	}
	return &Directory{pool: pool}
}

func (d *Directory) Get(ctx context.Context, agentID string) (Agent, error) {
	var (
		agent  Agent
		tokens []byte
	)
	query := `
		SELECT id, name, email, push_tokens, active
		FROM agents
		WHERE id = $1
	`
	err := d.pool.QueryRow(ctx, query, agentID).Scan(&agent.ID, &agent.Name, &agent.Email, &tokens, &agent.Active)
	if errors.Is(err, pgx.ErrNoRows) {
		return Agent{}, ErrNotFound
	}
	if err != nil {
		return Agent{}, fmt.Errorf("agents: get %s: %w", agentID, err)
	}
	if len(tokens) > 0 {
		if err := json.Unmarshal(tokens, &agent.PushTokens); err != nil {
			return Agent{}, fmt.Errorf("agents: decode push tokens for %s: %w", agentID, err)
		}
	}
	return agent, nil
}

// Upsert registers or refreshes an agent row. Push tokens are replaced whole.
func (d *Directory) Upsert(ctx context.Context, agent Agent) error {
	tokens, err := json.Marshal(agent.PushTokens)
	if err != nil {
		return fmt.Errorf("agents: encode push tokens: %w", err)
	}
	query := `
		INSERT INTO agents (id, name, email, push_tokens, active)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE
		SET name = EXCLUDED.name,
			email = EXCLUDED.email,
			push_tokens = EXCLUDED.push_tokens,
			active = EXCLUDED.active,
			updated_at = now()
	`
	if _, err := d.pool.Exec(ctx, query, agent.ID, agent.Name, agent.Email, tokens, agent.Active); err != nil {
		return fmt.Errorf("agents: upsert %s: %w", agent.ID, err)
	}
	return nil
}

// AddToken appends a device token if the agent does not already hold it.
func (d *Directory) AddToken(ctx context.Context, agentID, token string) error {
	query := `
		UPDATE agents
		SET push_tokens = push_tokens || to_jsonb($2::text),
			updated_at = now()
		WHERE id = $1 AND NOT push_tokens ? $2
	`
	if _, err := d.pool.Exec(ctx, query, agentID, token); err != nil {
		return fmt.Errorf("agents: add token for %s: %w", agentID, err)
	}
	return nil
}

// RemoveTokens drops device tokens the push provider reported as dead.
func (d *Directory) RemoveTokens(ctx context.Context, agentID string, tokens []string) error {
	if len(tokens) == 0 {
		return nil
	}
	encoded, err := json.Marshal(tokens)
	if err != nil {
		return fmt.Errorf("agents: encode dead tokens: %w", err)
	}
	query := `
		UPDATE agents
		SET push_tokens = (
			SELECT COALESCE(jsonb_agg(tok), '[]'::jsonb)
			FROM jsonb_array_elements(push_tokens) AS tok
			WHERE NOT ($2::jsonb) @> jsonb_build_array(tok)
		),
		updated_at = now()
		WHERE id = $1
	`
	if _, err := d.pool.Exec(ctx, query, agentID, encoded); err != nil {
		return fmt.Errorf("agents: remove tokens for %s: %w", agentID, err)
	}
	return nil
}
