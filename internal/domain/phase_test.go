package domain

import "testing"

func TestPhaseString(t *testing.T) {
	cases := map[Phase]string{
		PhaseUninitialized:  "uninitialized",
		PhaseInitializing:   "initializing",
		PhaseAwaitingScan:   "awaiting_scan",
		PhaseAuthenticating: "authenticating",
		PhaseReady:          "ready",
		PhaseAuthFailed:     "auth_failed",
		PhaseDisconnected:   "disconnected",
		Phase(99):           "unknown",
	}
	for phase, want := range cases {
		if got := phase.String(); got != want {
			t.Errorf("Phase(%d).String() = %q, want %q", phase, got, want)
		}
	}
}

func TestCanTransition(t *testing.T) {
	allowed := []struct{ from, to Phase }{
		{PhaseUninitialized, PhaseInitializing},
		{PhaseInitializing, PhaseAwaitingScan},
		{PhaseInitializing, PhaseReady},
		{PhaseInitializing, PhaseAuthFailed},
		{PhaseAwaitingScan, PhaseAuthenticating},
		{PhaseAwaitingScan, PhaseAwaitingScan},
		{PhaseAuthenticating, PhaseReady},
		{PhaseReady, PhaseDisconnected},
		{PhaseReady, PhaseInitializing},
		{PhaseAuthFailed, PhaseInitializing},
		{PhaseDisconnected, PhaseInitializing},
	}
	for _, tc := range allowed {
		if !CanTransition(tc.from, tc.to) {
			t.Errorf("expected %s -> %s to be allowed", tc.from, tc.to)
		}
	}

	denied := []struct{ from, to Phase }{
		{PhaseUninitialized, PhaseReady},
		{PhaseUninitialized, PhaseAwaitingScan},
		{PhaseReady, PhaseAwaitingScan},
		{PhaseDisconnected, PhaseReady},
		{PhaseAuthFailed, PhaseReady},
	}
	for _, tc := range denied {
		if CanTransition(tc.from, tc.to) {
			t.Errorf("expected %s -> %s to be rejected", tc.from, tc.to)
		}
	}
}

func TestPhasePredicates(t *testing.T) {
	if !PhaseReady.Operational() {
		t.Error("ready phase should be operational")
	}
	if PhaseAwaitingScan.Operational() {
		t.Error("awaiting_scan phase should not be operational")
	}
	for _, p := range []Phase{PhaseInitializing, PhaseAwaitingScan, PhaseAuthenticating} {
		if !p.Pairing() {
			t.Errorf("%s should count as pairing", p)
		}
	}
	for _, p := range []Phase{PhaseUninitialized, PhaseReady, PhaseAuthFailed, PhaseDisconnected} {
		if p.Pairing() {
			t.Errorf("%s should not count as pairing", p)
		}
	}
}
