// Package negotiation runs the per-phase negotiation rounds of one session:
// choosing whom to talk to, asking the decider for messages and routing them
// through the repetition guard to the game server.
package negotiation

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/ashureev/diplobot/internal/contacts"
	"github.com/ashureev/diplobot/internal/decision"
	"github.com/ashureev/diplobot/internal/domain"
	"github.com/ashureev/diplobot/internal/journal"
	"github.com/ashureev/diplobot/internal/resilience"
)

// Sender delivers a message to the game server.
type Sender interface {
	SendMessage(ctx context.Context, msg domain.Message) error
}

// Delivery is the result of routing one proposal.
type Delivery int

const (
	// Delivered means the server accepted the message.
	Delivered Delivery = iota
	// Discarded means the repetition guard suppressed the message.
	Discarded
	// Rejected means the proposal failed validation.
	Rejected
	// Failed means the transport gave up after retries.
	Failed
)

// Sent reports whether the message reached the server.
func (d Delivery) Sent() bool { return d == Delivered }

func (d Delivery) String() string {
	switch d {
	case Delivered:
		return "delivered"
	case Discarded:
		return "discarded"
	case Rejected:
		return "rejected"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("delivery(%d)", int(d))
	}
}

// RouteContext is the session state a send is evaluated against.
type RouteContext struct {
	Phase  domain.Phase
	Round  int
	Active []string
	// Reply marks a reactive response rather than a negotiation round message.
	Reply bool
}

// RouterDeps wires a Router. Journal and Logger may be nil.
type RouterDeps struct {
	Power     string
	GameID    string
	Transport Sender
	Wrapper   *resilience.Wrapper
	History   *domain.History
	Tracker   *contacts.Tracker
	Journal   journal.Journal
	Logger    *slog.Logger
}

// Router validates proposals and forwards them to the transport.
type Router struct {
	power     string
	gameID    string
	transport Sender
	wrapper   *resilience.Wrapper
	history   *domain.History
	tracker   *contacts.Tracker
	journal   journal.Journal
	ledger    *Ledger
	logger    *slog.Logger
	now       func() time.Time
}

// NewRouter creates a Router with its own repetition ledger.
func NewRouter(d RouterDeps) *Router {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	j := d.Journal
	if j == nil {
		j = journal.Nop{}
	}
	return &Router{
		power:     domain.NormalizePower(d.Power),
		gameID:    d.GameID,
		transport: d.Transport,
		wrapper:   d.Wrapper,
		history:   d.History,
		tracker:   d.Tracker,
		journal:   j,
		ledger:    NewLedger(),
		logger:    logger,
		now:       time.Now,
	}
}

// Ledger exposes the repetition guard state.
func (r *Router) Ledger() *Ledger {
	return r.ledger
}

// StartPhase clears the repetition guard for a new phase.
func (r *Router) StartPhase(phase domain.Phase) {
	r.ledger.Enter(phase)
}

// ObserveInbound applies an inbound private message to the repetition
// guard as though its sender had just sent it from their side. Messages
// from another phase are ignored.
func (r *Router) ObserveInbound(msg domain.Message, round int) {
	sender := domain.NormalizePower(msg.Sender)
	if msg.IsBroadcast() || sender == r.power || domain.NormalizePower(msg.Recipient) != r.power {
		return
	}
	if r.ledger.Phase() == "" {
		r.ledger.Enter(msg.Phase)
	}
	if msg.Phase != "" && msg.Phase != r.ledger.Phase() {
		return
	}
	r.ledger.RecordSend(domain.Pair{Sender: sender, Recipient: r.power}, round)
}

// Send routes one proposal. Validation failures and guard discards are
// reported through the Delivery, never as errors.
func (r *Router) Send(ctx context.Context, rc RouteContext, p decision.Proposal) Delivery {
	content := strings.TrimSpace(p.Content)
	if content == "" {
		r.logger.Debug("Empty message content, skipping", "phase", rc.Phase)
		return Rejected
	}

	recipient := domain.Broadcast
	if p.Type == decision.MessagePrivate {
		recipient = domain.NormalizePower(p.Recipient)
		if !slices.Contains(rc.Active, recipient) {
			r.logger.Warn("Invalid private recipient, sending globally",
				"recipient", p.Recipient,
				"phase", rc.Phase)
			recipient = domain.Broadcast
		}
	}

	r.ledger.Enter(rc.Phase)
	pair := domain.Pair{Sender: r.power, Recipient: recipient}
	private := recipient != domain.Broadcast
	if private && r.ledger.Blocked(pair, rc.Round) {
		r.logger.Info("Discarding repeated message awaiting reply",
			"recipient", recipient,
			"round", rc.Round,
			"phase", rc.Phase)
		return Discarded
	}

	msg := domain.Message{
		Sender:    r.power,
		Recipient: recipient,
		Phase:     rc.Phase,
		Body:      content,
		SentAt:    r.now(),
	}
	err := r.wrapper.Run(ctx, "send_message", func(ctx context.Context) error {
		return r.transport.SendMessage(ctx, msg)
	})
	if err != nil {
		r.logger.Warn("Failed to send message", "recipient", recipient, "phase", rc.Phase, "error", err)
		return Failed
	}

	if private {
		r.ledger.RecordSend(pair, rc.Round)
		r.tracker.RecordOutbound(recipient, rc.Round)
	}
	r.history.Add(msg)
	r.writeJournal(ctx, rc, msg)

	r.logger.Info("Message sent",
		"recipient", recipient,
		"round", rc.Round,
		"content", journal.Excerpt(content, 100))
	return Delivered
}

func (r *Router) writeJournal(ctx context.Context, rc RouteContext, msg domain.Message) {
	kind := journal.KindMessage
	target := "globally"
	if !msg.IsBroadcast() {
		target = "to " + msg.Recipient
	}
	text := fmt.Sprintf("Sent message %s in %s: %s", target, msg.Phase, journal.Excerpt(msg.Body, 100))
	if rc.Reply {
		kind = journal.KindResponse
		text = fmt.Sprintf("Responded to %s in %s: %s", msg.Recipient, msg.Phase, journal.Excerpt(msg.Body, 100))
	}
	err := r.journal.Append(ctx, journal.Entry{
		GameID: r.gameID,
		Power:  r.power,
		Phase:  string(msg.Phase),
		Kind:   kind,
		Text:   text,
	})
	if err != nil {
		r.logger.Warn("Failed to write journal entry", "error", err)
	}
}
