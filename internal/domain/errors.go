package domain

import "errors"

var (
	// ErrTransportTimeout marks a network operation that exceeded its deadline.
	ErrTransportTimeout = errors.New("transport timeout")
	// ErrTransportConnection marks a failed or lost connection to the game server.
	ErrTransportConnection = errors.New("transport connection error")
	// ErrCircuitOpen is returned without attempting the call while the breaker is open.
	ErrCircuitOpen = errors.New("circuit breaker is open")
	// ErrDecision marks a failure or malformed output of the decision collaborator.
	ErrDecision = errors.New("decision error")
	// ErrValidation marks a malformed message or order.
	ErrValidation = errors.New("validation error")
	// ErrSessionFatal terminates a session; the game state can no longer be trusted.
	ErrSessionFatal = errors.New("session fatal")
)

// IsPermanent reports whether err should not be retried.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrDecision) || errors.Is(err, ErrValidation)
}
