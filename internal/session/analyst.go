package session

import (
	"context"
	"fmt"

	"github.com/ashureev/diplobot/internal/domain"
	"github.com/ashureev/diplobot/internal/journal"
	"github.com/ashureev/diplobot/internal/transport"
)

// PhaseResult describes a phase the server has just processed.
type PhaseResult struct {
	GameID string
	Power  string
	Phase  domain.Phase
	Orders []string
	State  transport.GameState
}

// Analyst reviews a processed phase. Errors are logged by the session and
// never stop it.
type Analyst interface {
	AnalyzePhase(ctx context.Context, r PhaseResult) error
}

// JournalAnalyst writes a one-line phase summary to the journal.
type JournalAnalyst struct {
	Journal journal.Journal
}

func (a JournalAnalyst) AnalyzePhase(ctx context.Context, r PhaseResult) error {
	if r.Phase == "" {
		return nil
	}
	text := fmt.Sprintf("Phase %s completed with %d orders.", r.Phase, len(r.Orders))
	if me, ok := domain.FindPower(r.State.Powers, r.Power); ok {
		text = fmt.Sprintf("Phase %s completed with %d orders. Now holding %d centers with %d units.",
			r.Phase, len(r.Orders), me.Centers, me.Units)
		if me.Eliminated {
			text += " Eliminated."
		}
	}
	return a.Journal.Append(ctx, journal.Entry{
		GameID: r.GameID,
		Power:  r.Power,
		Phase:  string(r.Phase),
		Kind:   journal.KindPhaseSummary,
		Text:   text,
	})
}
