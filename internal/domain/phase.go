package domain

import (
	"errors"
	"fmt"
)

// Phase is the connection lifecycle phase of the single WhatsApp session.
type Phase int

const (
	PhaseUninitialized Phase = iota
	PhaseInitializing
	PhaseAwaitingScan
	PhaseAuthenticating
	PhaseReady
	PhaseAuthFailed
	PhaseDisconnected
)

func (p Phase) String() string {
	switch p {
	case PhaseUninitialized:
		return "uninitialized"
	case PhaseInitializing:
		return "initializing"
	case PhaseAwaitingScan:
		return "awaiting_scan"
	case PhaseAuthenticating:
		return "authenticating"
	case PhaseReady:
		return "ready"
	case PhaseAuthFailed:
		return "auth_failed"
	case PhaseDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

var ErrInvalidTransition = errors.New("invalid phase transition")

func NewInvalidTransitionError(from, to Phase) error {
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}

var validTransitions = map[Phase][]Phase{
	PhaseUninitialized:  {PhaseInitializing},
	PhaseInitializing:   {PhaseAwaitingScan, PhaseAuthenticating, PhaseReady, PhaseAuthFailed, PhaseDisconnected},
	PhaseAwaitingScan:   {PhaseAwaitingScan, PhaseAuthenticating, PhaseReady, PhaseAuthFailed, PhaseDisconnected, PhaseInitializing},
	PhaseAuthenticating: {PhaseReady, PhaseAuthFailed, PhaseDisconnected, PhaseInitializing},
	PhaseReady:          {PhaseDisconnected, PhaseAuthFailed, PhaseInitializing},
	PhaseAuthFailed:     {PhaseInitializing, PhaseDisconnected},
	PhaseDisconnected:   {PhaseInitializing, PhaseDisconnected},
}

// CanTransition reports whether moving from one phase to another is legal.
func CanTransition(from, to Phase) bool {
	allowed, ok := validTransitions[from]
	if !ok {
		return false
	}
	for _, p := range allowed {
		if p == to {
			return true
		}
	}
	return false
}

// Operational reports whether the session can service sends and profile
// fetches. Only a fully restored or freshly paired session qualifies.
func (p Phase) Operational() bool {
	return p == PhaseReady
}

// Pairing reports whether the session is partway through establishing a
// connection (a scan or auth handshake may still complete).
func (p Phase) Pairing() bool {
	switch p {
	case PhaseInitializing, PhaseAwaitingScan, PhaseAuthenticating:
		return true
	default:
		return false
	}
}
