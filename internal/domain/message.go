package domain

import "time"

// Message is one diplomatic message. It is created once and never mutated.
type Message struct {
	Sender    string    `json:"sender"`
	Recipient string    `json:"recipient"`
	Phase     Phase     `json:"phase"`
	Body      string    `json:"message"`
	SentAt    time.Time `json:"time_sent"`
}

// IsBroadcast reports whether the message is addressed to every power.
func (m Message) IsBroadcast() bool {
	return m.Recipient == Broadcast
}

// Pair is an ordered (sender, recipient) key.
type Pair struct {
	Sender    string
	Recipient string
}

// Reverse returns the pair with sender and recipient swapped.
func (p Pair) Reverse() Pair {
	return Pair{Sender: p.Recipient, Recipient: p.Sender}
}
