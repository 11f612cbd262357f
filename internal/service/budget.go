package service

import "sync"

// retryBudget caps how many recovery attempts may be consumed before the
// state machine gives up. Reset whenever the session reaches ready or the
// user logs out explicitly.
type retryBudget struct {
	mu   sync.Mutex
	max  int
	used int
}

func newRetryBudget(max int) *retryBudget {
	return &retryBudget{max: max}
}

// Consume takes one attempt from the budget. Returns false when the budget
// is already exhausted; the attempt is not consumed in that case.
func (b *retryBudget) Consume() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.used >= b.max {
		return false
	}
	b.used++
	return true
}

func (b *retryBudget) Used() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.used
}

func (b *retryBudget) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.used = 0
}
