package domain

import "time"

// EventType identifies a lifecycle notification from the session client.
type EventType int

const (
	EventQR EventType = iota
	EventAuthenticated
	EventReady
	EventAuthFailure
	EventDisconnected
	EventStateChange
	EventError
)

func (t EventType) String() string {
	switch t {
	case EventQR:
		return "qr"
	case EventAuthenticated:
		return "authenticated"
	case EventReady:
		return "ready"
	case EventAuthFailure:
		return "auth_failure"
	case EventDisconnected:
		return "disconnected"
	case EventStateChange:
		return "state_change"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// Event is a single lifecycle notification emitted by a session client.
type Event struct {
	Type      EventType
	Timestamp time.Time
	Data      any
}

type QRData struct {
	Code string
}

type AuthFailureData struct {
	Reason string
}

type DisconnectData struct {
	Reason string
}

type StateChangeData struct {
	State string
}

type ErrorData struct {
	Message string
	Code    string
}

func NewQREvent(code string) Event {
	return Event{Type: EventQR, Timestamp: time.Now(), Data: QRData{Code: code}}
}

func NewAuthenticatedEvent() Event {
	return Event{Type: EventAuthenticated, Timestamp: time.Now()}
}

func NewReadyEvent() Event {
	return Event{Type: EventReady, Timestamp: time.Now()}
}

func NewAuthFailureEvent(reason string) Event {
	return Event{Type: EventAuthFailure, Timestamp: time.Now(), Data: AuthFailureData{Reason: reason}}
}

func NewDisconnectEvent(reason string) Event {
	return Event{Type: EventDisconnected, Timestamp: time.Now(), Data: DisconnectData{Reason: reason}}
}

func NewStateChangeEvent(state string) Event {
	return Event{Type: EventStateChange, Timestamp: time.Now(), Data: StateChangeData{State: state}}
}

func NewErrorEvent(message, code string) Event {
	return Event{Type: EventError, Timestamp: time.Now(), Data: ErrorData{Message: message, Code: code}}
}
