// Package journal persists an append-only diary of what each agent said and
// did. The session never reads it back; it exists for the status API and for
// offline review.
package journal

import (
	"context"
	"time"
)

// Kind classifies a journal entry.
type Kind string

const (
	KindMessage      Kind = "message"
	KindResponse     Kind = "response"
	KindOrders       Kind = "orders"
	KindPhaseSummary Kind = "phase_summary"
)

// Entry is a single diary line.
type Entry struct {
	ID        string    `json:"id"`
	GameID    string    `json:"game_id"`
	Power     string    `json:"power"`
	Phase     string    `json:"phase"`
	Kind      Kind      `json:"kind"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

// Journal is the diary collaborator. Append failures are reported to the
// caller, which logs them and moves on.
type Journal interface {
	Append(ctx context.Context, entry Entry) error
	Recent(ctx context.Context, power string, limit int) ([]Entry, error)
	Close() error
}

// Nop discards every entry.
type Nop struct{}

func (Nop) Append(context.Context, Entry) error { return nil }

func (Nop) Recent(context.Context, string, int) ([]Entry, error) { return nil, nil }

func (Nop) Close() error { return nil }

// Excerpt shortens text for diary lines.
func Excerpt(text string, limit int) string {
	r := []rune(text)
	if len(r) <= limit {
		return text
	}
	return string(r[:limit]) + "..."
}
