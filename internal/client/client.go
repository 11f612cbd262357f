// Package client wraps the external WhatsApp Web automation bridge behind a
// narrow session-client interface. The bridge is a headless-browser runner
// spawned as a subprocess; it dials back into a local WebSocket listener and
// exchanges JSON envelopes: lifecycle notifications flowing in, commands
// (send, profile fetch, logout, teardown) flowing out.
package client

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/nartechsolution/wagateway/internal/domain"
)

// Identity is the authenticated WhatsApp account behind the session.
type Identity struct {
	Name   string
	Number string
}

// Profile is the account profile as reported by the bridge. AvatarURL is
// empty when the avatar could not be fetched; that is not an error.
type Profile struct {
	Name      string
	Number    string
	AvatarURL string
}

// Client is one exclusive connection to the WhatsApp Web service.
//
// Lifecycle: Initialize spawns the bridge and returns once it is connected;
// authentication progress then arrives on Events. Destroy is the only
// cancellation primitive: it unregisters the event stream before any
// teardown so no late event can reach a consumer, and it never fails.
type Client interface {
	Initialize(ctx context.Context) error
	Destroy(skipPageClose bool)
	Logout(ctx context.Context) error
	SendText(ctx context.Context, jid, text string) error
	SendMedia(ctx context.Context, jid, path, caption string) error
	Profile(ctx context.Context) (Profile, error)

	// Info returns the authenticated identity, false before authentication.
	Info() (Identity, bool)
	// PageOpen reports whether the underlying browser page is still live.
	PageOpen() bool
	// Events is the lifecycle notification stream. Closed by Destroy or when
	// the run terminates.
	Events() <-chan domain.Event
}

// Config parameterizes one bridge client instance.
type Config struct {
	Identity string // fixed profile identity, e.g. "client-one"
	AuthDir  string
	CacheDir string

	Command string   // bridge executable
	Args    []string // extra bridge arguments

	// QRMaxRetries is passed through to the bridge: 0 when a persisted
	// session is expected (the bridge must not loop on QR internally),
	// 5 for first-time pairing.
	QRMaxRetries int

	ConnectTimeout time.Duration
	Logger         *slog.Logger
}

// Factory creates a client; the state machine owns creation so tests can
// inject fakes.
type Factory func(cfg Config) Client

// HasPersistedSession reports whether on-disk credentials exist for the
// given identity. Pure filesystem predicate; consulted before any client is
// created to pick the QR-retry budget and initialization timeout.
func HasPersistedSession(authDir, identity string) bool {
	entries, err := os.ReadDir(filepath.Join(authDir, "session-"+identity))
	return err == nil && len(entries) > 0
}
