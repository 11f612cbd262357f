package client

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"syscall"
)

var (
	ErrNotConnected = errors.New("bridge not connected")
	ErrDestroyed    = errors.New("client destroyed")
	ErrCallTimeout  = errors.New("bridge call timed out")
)

// BridgeError is a structured failure reported by the bridge itself.
type BridgeError struct {
	Code    string
	Message string
}

func (e *BridgeError) Error() string {
	if e.Code == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Bridge error codes with special meaning to callers.
const (
	CodeNetworkError  = "NETWORK_ERROR"
	CodePageDestroyed = "PAGE_DESTROYED"
	CodeProtocolError = "PROTOCOL_ERROR"
)

// IsNetworkError reports whether err is a connectivity-class failure
// (DNS resolution, refused or unreachable connections). These reject an
// initialization attempt immediately instead of waiting for the timeout.
func IsNetworkError(err error) bool {
	if err == nil {
		return false
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	var bridgeErr *BridgeError
	if errors.As(err, &bridgeErr) && bridgeErr.Code == CodeNetworkError {
		return true
	}
	for _, errno := range []syscall.Errno{syscall.ECONNREFUSED, syscall.ENETUNREACH, syscall.EHOSTUNREACH} {
		if errors.Is(err, errno) {
			return true
		}
	}
	msg := err.Error()
	return strings.Contains(msg, "ERR_NAME_NOT_RESOLVED") ||
		strings.Contains(msg, "ERR_INTERNET_DISCONNECTED") ||
		strings.Contains(msg, "net::ERR")
}

// IsSessionDeadError reports whether err means the browser session just
// died underneath an active call, which callers treat as session corruption.
func IsSessionDeadError(err error) bool {
	if err == nil {
		return false
	}
	var bridgeErr *BridgeError
	if errors.As(err, &bridgeErr) {
		switch bridgeErr.Code {
		case CodePageDestroyed, CodeProtocolError:
			return true
		}
	}
	msg := err.Error()
	return strings.Contains(msg, "Execution context was destroyed") ||
		strings.Contains(msg, "Protocol error") ||
		strings.Contains(msg, "Session closed") ||
		strings.Contains(msg, "Target closed")
}
