// Package routing decides which agent a brand-new conversation belongs to.
// An externally supplied prefix table is authoritative; a round-robin pool
// only applies when no prefix matches.
package routing

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/hogarcril/wa-crm/internal/phone"
)

// Table maps canonical-number prefixes to agent ids. Longest prefix wins.
type Table struct {
	entries map[string]string
	maxLen  int
}

// ParseTable decodes a JSON object of prefix → agent id. Prefixes may carry a
// leading "+" or separators; only their digits are kept.
func ParseTable(raw string) (*Table, error) {
	table := &Table{entries: map[string]string{}}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return table, nil
	}
	var decoded map[string]string
	if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
		return nil, fmt.Errorf("routing: parse table: %w", err)
	}
	for prefix, agentID := range decoded {
		digits := phone.Digits(prefix)
		agentID = strings.TrimSpace(agentID)
		if digits == "" || agentID == "" {
			continue
		}
		table.entries[digits] = agentID
		if len(digits) > table.maxLen {
			table.maxLen = len(digits)
		}
	}
	return table, nil
}

// Match returns the agent for the longest prefix of the canonical id.
func (t *Table) Match(canonicalID string) (string, bool) {
	if t == nil || len(t.entries) == 0 {
		return "", false
	}
	digits := phone.Digits(canonicalID)
	limit := len(digits)
	if t.maxLen < limit {
		limit = t.maxLen
	}
	for length := limit; length > 0; length-- {
		if agentID, ok := t.entries[digits[:length]]; ok {
			return agentID, true
		}
	}
	return "", false
}

// Len reports how many prefixes are configured.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.entries)
}
