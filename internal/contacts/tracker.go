// Package contacts keeps per-peer message counters for one session and ranks
// peers by how actively they message us.
package contacts

import (
	"sort"

	"github.com/ashureev/diplobot/internal/domain"
)

// MaxPriority caps the size of the priority ranking.
const MaxPriority = 4

// State is the counter set for a single peer.
type State struct {
	Peer          string `json:"peer"`
	Received      int    `json:"received"`
	Sent          int    `json:"sent"`
	LastSentRound int    `json:"last_sent_round"`
	firstSeen     int
}

// ResponseRate is Sent / Received, or 0 when nothing was received.
func (s State) ResponseRate() float64 {
	if s.Received == 0 {
		return 0
	}
	return float64(s.Sent) / float64(s.Received)
}

// Tracker is owned by a single session and is not safe for concurrent use.
// Counters persist across phases for the lifetime of the session.
type Tracker struct {
	self  string
	peers map[string]*State
	order int
}

// NewTracker returns an empty tracker for the given power.
func NewTracker(self string) *Tracker {
	return &Tracker{
		self:  domain.NormalizePower(self),
		peers: make(map[string]*State),
	}
}

func (t *Tracker) state(peer string) *State {
	st, ok := t.peers[peer]
	if !ok {
		st = &State{Peer: peer, firstSeen: t.order}
		t.order++
		t.peers[peer] = st
	}
	return st
}

// RecordInbound counts a message addressed to us by peer. Self-authored
// messages are ignored.
func (t *Tracker) RecordInbound(peer string) {
	peer = domain.NormalizePower(peer)
	if peer == "" || peer == t.self || peer == domain.Broadcast {
		return
	}
	t.state(peer).Received++
}

// RecordOutbound counts a private message we sent to peer in round.
func (t *Tracker) RecordOutbound(peer string, round int) {
	peer = domain.NormalizePower(peer)
	if peer == "" || peer == t.self || peer == domain.Broadcast {
		return
	}
	st := t.state(peer)
	st.Sent++
	st.LastSentRound = round
}

// PriorityRanking returns up to MaxPriority peers that have messaged us,
// busiest first. Ties keep first-seen order.
func (t *Tracker) PriorityRanking() []string {
	active := make([]*State, 0, len(t.peers))
	for _, st := range t.peers {
		if st.Received > 0 {
			active = append(active, st)
		}
	}
	sort.Slice(active, func(i, j int) bool {
		if active[i].Received != active[j].Received {
			return active[i].Received > active[j].Received
		}
		return active[i].firstSeen < active[j].firstSeen
	})
	if len(active) > MaxPriority {
		active = active[:MaxPriority]
	}
	ranked := make([]string, len(active))
	for i, st := range active {
		ranked[i] = st.Peer
	}
	return ranked
}

// IsPriority reports whether peer is currently in the priority ranking.
func (t *Tracker) IsPriority(peer string) bool {
	peer = domain.NormalizePower(peer)
	for _, p := range t.PriorityRanking() {
		if p == peer {
			return true
		}
	}
	return false
}

// Targets orders the active peers for a negotiation round. Round one
// addresses every active peer; later rounds put ranked peers first and keep
// at most MaxPriority targets.
func (t *Tracker) Targets(round int, active []string) []string {
	if round <= 1 {
		return append([]string(nil), active...)
	}
	isActive := make(map[string]bool, len(active))
	for _, p := range active {
		isActive[p] = true
	}
	targets := make([]string, 0, MaxPriority)
	taken := make(map[string]bool, len(active))
	for _, p := range t.PriorityRanking() {
		if isActive[p] {
			targets = append(targets, p)
			taken[p] = true
		}
	}
	for _, p := range active {
		if !taken[p] {
			targets = append(targets, p)
		}
	}
	if len(targets) > MaxPriority {
		targets = targets[:MaxPriority]
	}
	return targets
}

// Snapshot copies every peer's counters in first-seen order.
func (t *Tracker) Snapshot() []State {
	out := make([]State, 0, len(t.peers))
	for _, st := range t.peers {
		out = append(out, *st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].firstSeen < out[j].firstSeen })
	return out
}
