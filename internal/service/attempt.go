package service

import (
	"context"
	"sync"
	"time"
)

// InitStatus is the terminal status of one initialization attempt.
type InitStatus string

const (
	StatusReady      InitStatus = "ready"
	StatusQR         InitStatus = "qr"
	StatusAuthFailed InitStatus = "auth_failed"
)

// InitResult is the resolved outcome shared by every caller of the same
// initialization attempt.
type InitResult struct {
	Status           InitStatus
	QRCode           string // PNG data URL, set when Status == StatusQR
	NeedsQR          bool
	SessionCorrupted bool
}

// initAttempt is a one-shot future: exactly one settle wins, concurrent
// callers all observe the same outcome.
type initAttempt struct {
	done chan struct{}

	mu      sync.Mutex
	settled bool
	result  InitResult
	err     error
}

func newInitAttempt() *initAttempt {
	return &initAttempt{done: make(chan struct{})}
}

// settle records the outcome. Returns false if the attempt was already
// settled; later events and timers lose the race silently.
func (a *initAttempt) settle(result InitResult, err error) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.settled {
		return false
	}
	a.settled = true
	a.result = result
	a.err = err
	close(a.done)
	return true
}

// wait blocks until the attempt settles or ctx is cancelled.
func (a *initAttempt) wait(ctx context.Context) (InitResult, error) {
	select {
	case <-a.done:
		a.mu.Lock()
		defer a.mu.Unlock()
		return a.result, a.err
	case <-ctx.Done():
		return InitResult{}, ctx.Err()
	}
}

// waitBounded is wait with a cap, used by callers joining someone else's
// in-flight attempt rather than starting their own.
func (a *initAttempt) waitBounded(ctx context.Context, cap time.Duration) (InitResult, error) {
	t := time.NewTimer(cap)
	defer t.Stop()
	select {
	case <-a.done:
		a.mu.Lock()
		defer a.mu.Unlock()
		return a.result, a.err
	case <-t.C:
		return InitResult{}, ErrInitInFlight
	case <-ctx.Done():
		return InitResult{}, ctx.Err()
	}
}
