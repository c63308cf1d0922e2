// Package decision talks to the collaborator that turns game context into
// orders and negotiation messages.
package decision

import (
	"context"

	"github.com/ashureev/diplobot/internal/domain"
)

// MessageType says whether a proposal is private or broadcast.
type MessageType string

const (
	MessagePrivate   MessageType = "private"
	MessageBroadcast MessageType = "global"
)

// Proposal is one candidate outbound message.
type Proposal struct {
	Content   string      `json:"content"`
	Type      MessageType `json:"message_type"`
	Recipient string      `json:"recipient,omitempty"`
}

// Request is the game context handed to the decider.
type Request struct {
	GameID         string              `json:"game_id"`
	Power          string              `json:"power"`
	Phase          domain.Phase        `json:"phase"`
	Round          int                 `json:"round,omitempty"`
	MaxRounds      int                 `json:"max_rounds,omitempty"`
	Targets        []string            `json:"targets,omitempty"`
	ActivePowers   []string            `json:"active_powers"`
	PossibleOrders map[string][]string `json:"possible_orders"`
	Recent         []domain.Message    `json:"recent_messages,omitempty"`
	ReplyTo        *domain.Message     `json:"reply_to,omitempty"`
}

// Decider produces orders and messages. Implementations return errors
// wrapping domain.ErrDecision for failures that must not be retried.
type Decider interface {
	DecideOrders(ctx context.Context, req Request) ([]string, error)
	DecideMessages(ctx context.Context, req Request) ([]Proposal, error)
	// Model identifies the underlying model for error statistics.
	Model() string
}

var (
	_ Decider = (*GrpcClient)(nil)
	_ Decider = Fallback{}
)
