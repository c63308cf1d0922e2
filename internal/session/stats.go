package session

import (
	"time"

	"github.com/ashureev/diplobot/internal/negotiation"
	"github.com/ashureev/diplobot/internal/resilience"
)

// Contact is the per-peer view published in Stats.
type Contact struct {
	Peer          string  `json:"peer"`
	Received      int     `json:"received"`
	Sent          int     `json:"sent"`
	LastSentRound int     `json:"last_sent_round"`
	ResponseRate  float64 `json:"response_rate"`
}

// Stats is an immutable snapshot of a session, safe to read from any
// goroutine.
type Stats struct {
	Power               string                                   `json:"power"`
	GameID              string                                   `json:"game_id"`
	Phase               string                                   `json:"phase"`
	Status              string                                   `json:"status"`
	State               State                                    `json:"state"`
	Progress            Progress                                 `json:"progress"`
	NegotiationRound    int                                      `json:"negotiation_round"`
	NegotiationComplete bool                                     `json:"negotiation_complete"`
	OrdersSubmitted     bool                                     `json:"orders_submitted"`
	TotalReceived       int                                      `json:"total_received"`
	TotalSent           int                                      `json:"total_sent"`
	PriorityContacts    []string                                 `json:"priority_contacts"`
	Contacts            []Contact                                `json:"contacts"`
	Errors              map[string]map[negotiation.ErrorKind]int `json:"errors"`
	Breaker             resilience.BreakerState                  `json:"breaker"`
	Error               string                                   `json:"error,omitempty"`
	UpdatedAt           time.Time                                `json:"updated_at"`
}

// Stats returns the latest published snapshot.
func (s *Session) Stats() Stats {
	if p := s.stats.Load(); p != nil {
		return *p
	}
	return Stats{Power: s.power}
}

func (s *Session) publishStats() {
	snapshot := s.tracker.Snapshot()
	contacts := make([]Contact, 0, len(snapshot))
	for _, c := range snapshot {
		contacts = append(contacts, Contact{
			Peer:          c.Peer,
			Received:      c.Received,
			Sent:          c.Sent,
			LastSentRound: c.LastSentRound,
			ResponseRate:  c.ResponseRate(),
		})
	}

	st := &Stats{
		Power:               s.power,
		GameID:              s.game.GameID(),
		Phase:               string(s.phase),
		Status:              s.gameState.Status,
		State:               s.state,
		Progress:            s.progress,
		NegotiationRound:    s.negotiationRound,
		NegotiationComplete: s.negotiationComplete,
		OrdersSubmitted:     s.ordersSubmitted,
		TotalReceived:       s.totalReceived(),
		TotalSent:           s.totalSent(),
		PriorityContacts:    s.tracker.PriorityRanking(),
		Contacts:            contacts,
		Errors:              s.errStats.Snapshot(),
		Breaker:             s.wrapper.Breaker().State(),
		UpdatedAt:           time.Now().UTC(),
	}
	if s.err != nil {
		st.Error = s.err.Error()
	}
	s.stats.Store(st)
}

func (s *Session) totalReceived() int {
	n := 0
	for _, c := range s.tracker.Snapshot() {
		n += c.Received
	}
	return n
}

func (s *Session) totalSent() int {
	n := 0
	for _, c := range s.tracker.Snapshot() {
		n += c.Sent
	}
	return n
}
