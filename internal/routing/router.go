package routing

import "context"

// Router combines the prefix table with the round-robin pool. The table is
// authoritative: round-robin only runs when nothing matches.
type Router struct {
	table    *Table
	fallback *RoundRobin
}

func NewRouter(table *Table, fallback *RoundRobin) *Router {
	return &Router{table: table, fallback: fallback}
}

// Route picks the agent for a first-contact conversation. Returns "" when no
// prefix matches and the pool is empty; callers leave the conversation
// unassigned in that case.
func (r *Router) Route(ctx context.Context, canonicalID string) string {
	if r == nil {
		return ""
	}
	if agentID, ok := r.table.Match(canonicalID); ok {
		return agentID
	}
	return r.fallback.Next(ctx)
}
