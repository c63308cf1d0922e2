package negotiation

import "github.com/ashureev/diplobot/internal/domain"

// Ledger holds the pair-keyed repetition guard state for one phase of a
// session. Round numbers restart every phase, so the state does too.
type Ledger struct {
	phase    domain.Phase
	lastSent map[domain.Pair]int
	pending  map[domain.Pair]bool
}

// NewLedger returns an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{
		lastSent: make(map[domain.Pair]int),
		pending:  make(map[domain.Pair]bool),
	}
}

// Phase returns the phase the ledger currently tracks.
func (l *Ledger) Phase() domain.Phase {
	return l.phase
}

// Enter scopes the ledger to phase, clearing it when the phase changes.
func (l *Ledger) Enter(phase domain.Phase) {
	if phase == l.phase {
		return
	}
	l.phase = phase
	clear(l.lastSent)
	clear(l.pending)
}

// Blocked reports whether a private message on pair in round would repeat
// an unanswered message from the immediately preceding round.
func (l *Ledger) Blocked(pair domain.Pair, round int) bool {
	if !l.pending[pair] {
		return false
	}
	last, ok := l.lastSent[pair]
	return ok && last == round-1
}

// RecordSend marks pair as awaiting a reply and unblocks the reverse pair.
func (l *Ledger) RecordSend(pair domain.Pair, round int) {
	l.lastSent[pair] = round
	l.pending[pair] = true
	l.pending[pair.Reverse()] = false
}

// Pending reports whether sender is awaiting a reply from recipient.
func (l *Ledger) Pending(pair domain.Pair) bool {
	return l.pending[pair]
}
