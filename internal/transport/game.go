// Package transport connects a bot to the game server over a websocket and
// exposes the game operations and push events a session consumes.
package transport

import (
	"context"
	"strings"

	"github.com/ashureev/diplobot/internal/domain"
)

// Game status values reported by the server.
const (
	StatusForming   = "forming"
	StatusActive    = "active"
	StatusPaused    = "paused"
	StatusCompleted = "completed"
	StatusCanceled  = "canceled"
)

// GameState is the result of a synchronize call.
type GameState struct {
	GameID string         `json:"game_id"`
	Phase  domain.Phase   `json:"phase"`
	Status string         `json:"status"`
	Powers []domain.Power `json:"powers"`
}

// Done reports whether the game has ended.
func (s GameState) Done() bool {
	return IsTerminalStatus(s.Status)
}

// IsTerminalStatus reports whether status ends the game.
func IsTerminalStatus(status string) bool {
	switch strings.ToLower(status) {
	case StatusCompleted, StatusCanceled:
		return true
	}
	return false
}

// EventKind names a server push notification.
type EventKind string

const (
	EventPhaseUpdate       EventKind = "game_phase_update"
	EventGameProcessed     EventKind = "game_processed"
	EventMessageReceived   EventKind = "game_message_received"
	EventStatusUpdate      EventKind = "game_status_update"
	EventPowersControllers EventKind = "powers_controllers"
)

// Event is one push notification. Only the fields relevant to Kind are set.
type Event struct {
	Kind        EventKind
	Phase       domain.Phase
	Status      string
	Message     *domain.Message
	Controllers map[string]string
}

// Game is an authenticated connection to one game as one power. All calls
// may block on the network and honor ctx.
type Game interface {
	GameID() string
	Power() string
	Synchronize(ctx context.Context) (GameState, error)
	OrderableLocations(ctx context.Context) ([]string, error)
	AllPossibleOrders(ctx context.Context) (map[string][]string, error)
	SetOrders(ctx context.Context, orders []string) error
	SetWait(ctx context.Context, wait bool) error
	SendMessage(ctx context.Context, msg domain.Message) error
	RecentMessages(ctx context.Context, phase domain.Phase, limit int) ([]domain.Message, error)
	// Events is closed when the connection ends.
	Events() <-chan Event
	Leave(ctx context.Context) error
	Close() error
}

var _ Game = (*Client)(nil)
