package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"time"

	"github.com/nartechsolution/wagateway/internal/client"
	"github.com/nartechsolution/wagateway/internal/domain"
	"github.com/nartechsolution/wagateway/internal/storage"
)

var (
	ErrNotConnected       = errors.New("whatsapp session is not connected")
	ErrInitializing       = errors.New("whatsapp session is still initializing")
	ErrReconnectRequired  = errors.New("session corrupted, reconnect required")
	ErrInvalidPhoneNumber = errors.New("invalid phone number")
	ErrEmptyMessage       = errors.New("message text must not be empty")
)

const (
	DefaultProfileWaitCap    = 5 * time.Second
	DefaultLogoutSettleDelay = 2 * time.Second

	profilePollInterval = 250 * time.Millisecond

	// Sent after every delivered message so recipients know how to respond.
	feedbackMessage = "Please reply to this number with any questions or feedback."
)

var nonDigits = regexp.MustCompile(`\D`)

// NormalizePhone strips everything but digits and appends the chat suffix.
// Accepts 7 to 15 digits (E.164 bounds).
func NormalizePhone(raw string) (string, error) {
	digits := nonDigits.ReplaceAllString(raw, "")
	if len(digits) < 7 || len(digits) > 15 {
		return "", fmt.Errorf("%w: %q", ErrInvalidPhoneNumber, raw)
	}
	return digits + "@c.us", nil
}

// CheckResult is the outcome of a session check.
type CheckResult struct {
	Status           InitStatus
	QRCode           string
	NeedsQR          bool
	SessionCorrupted bool
}

// ProfileResult is the authenticated user's profile.
type ProfileResult struct {
	Name      string
	Number    string
	AvatarURL string
}

// Gateway is the operations façade over the connection state machine. HTTP
// handlers call it; it owns phone normalization, rescue initialization,
// the send history, and the logout settle delay.
type Gateway struct {
	conn   *Connector
	log    *storage.MessageLog
	logger *slog.Logger

	profileWaitCap    time.Duration
	logoutSettleDelay time.Duration
}

// GatewayOptions tune the façade. Zero values take defaults.
type GatewayOptions struct {
	ProfileWaitCap    time.Duration
	LogoutSettleDelay time.Duration
}

func NewGateway(conn *Connector, msgLog *storage.MessageLog, logger *slog.Logger, opts GatewayOptions) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.ProfileWaitCap <= 0 {
		opts.ProfileWaitCap = DefaultProfileWaitCap
	}
	if opts.LogoutSettleDelay <= 0 {
		opts.LogoutSettleDelay = DefaultLogoutSettleDelay
	}
	return &Gateway{
		conn:              conn,
		log:               msgLog,
		logger:            logger.With("component", "gateway"),
		profileWaitCap:    opts.ProfileWaitCap,
		logoutSettleDelay: opts.LogoutSettleDelay,
	}
}

// CheckSession drives initialization and reports the session's standing.
// When a stored session turns out to be corrupted, one automatic forced
// retry runs so the caller receives a scannable QR instead of a dead end.
func (g *Gateway) CheckSession(ctx context.Context, forceNew bool) (CheckResult, error) {
	result, err := g.conn.Initialize(ctx, forceNew)
	if err != nil {
		return CheckResult{}, err
	}

	if result.Status == StatusAuthFailed && !forceNew {
		g.logger.Info("stored session failed, retrying with a clean slate")
		result, err = g.conn.Initialize(ctx, true)
		if err != nil {
			return CheckResult{}, err
		}
	}

	if result.Status == StatusReady {
		g.conn.ResetCounters()
	}

	return CheckResult{
		Status:           result.Status,
		QRCode:           result.QRCode,
		NeedsQR:          result.NeedsQR || result.Status == StatusQR,
		SessionCorrupted: result.SessionCorrupted,
	}, nil
}

// SendMessage delivers text (and an optional attachment) to a phone number.
// The attachment path, when set, is deleted afterwards regardless of
// outcome; it is always a temp file owned by this call. Every send lands in
// the message history with its terminal status.
func (g *Gateway) SendMessage(ctx context.Context, phone, text, attachmentPath string) error {
	if attachmentPath != "" {
		defer func() {
			if err := os.Remove(attachmentPath); err != nil && !os.IsNotExist(err) {
				g.logger.Warn("temp attachment not removed", "path", attachmentPath, "error", err)
			}
		}()
	}

	if text == "" {
		return ErrEmptyMessage
	}
	jid, err := NormalizePhone(phone)
	if err != nil {
		return err
	}

	if !g.conn.IsHealthy() {
		// One rescue attempt; anything short of ready means not connected.
		result, initErr := g.conn.Initialize(ctx, false)
		if initErr != nil || result.Status != StatusReady {
			g.record(ctx, jid, text, attachmentPath != "", storage.StatusFailed, ErrNotConnected.Error())
			return ErrNotConnected
		}
	}

	cli := g.conn.Client()
	if cli == nil {
		g.record(ctx, jid, text, attachmentPath != "", storage.StatusFailed, ErrNotConnected.Error())
		return ErrNotConnected
	}

	if attachmentPath != "" {
		err = cli.SendMedia(ctx, jid, attachmentPath, text)
	} else {
		err = cli.SendText(ctx, jid, text)
	}
	if err != nil {
		if client.IsSessionDeadError(err) {
			g.conn.MarkCorrupted()
		}
		g.record(ctx, jid, text, attachmentPath != "", storage.StatusFailed, err.Error())
		return fmt.Errorf("send message: %w", err)
	}

	if err := cli.SendText(ctx, jid, feedbackMessage); err != nil {
		g.logger.Warn("feedback follow-up not delivered", "error", err)
	}

	g.record(ctx, jid, text, attachmentPath != "", storage.StatusSent, "")
	return nil
}

func (g *Gateway) record(ctx context.Context, jid, body string, hasAttachment bool, status, sendErr string) {
	if g.log == nil {
		return
	}
	if _, err := g.log.Record(ctx, jid, body, hasAttachment, status, sendErr); err != nil {
		g.logger.Warn("message history write failed", "error", err)
	}
}

// Logout tears the session down. It never fails; remote-side errors are
// swallowed because local state and credentials are wiped regardless.
func (g *Gateway) Logout(ctx context.Context) {
	g.conn.Logout(ctx, g.logoutSettleDelay)
}

// Profile returns the authenticated user's name, number, and avatar.
// While an initialization is underway it polls for readiness up to the
// configured cap rather than failing immediately.
func (g *Gateway) Profile(ctx context.Context) (ProfileResult, error) {
	if g.conn.Corrupted() {
		return ProfileResult{}, ErrReconnectRequired
	}

	if !g.conn.IsHealthy() {
		// Only a session partway through pairing or restore is worth
		// polling for; anything else needs a connect first.
		if !g.conn.Phase().Pairing() {
			return ProfileResult{}, ErrNotConnected
		}
		if !g.awaitHealthy(ctx) {
			if g.conn.Corrupted() {
				return ProfileResult{}, ErrReconnectRequired
			}
			return ProfileResult{}, ErrInitializing
		}
	}

	cli := g.conn.Client()
	if cli == nil {
		return ProfileResult{}, ErrNotConnected
	}

	profile, err := cli.Profile(ctx)
	if err != nil {
		if client.IsSessionDeadError(err) {
			g.conn.MarkCorrupted()
			return ProfileResult{}, ErrReconnectRequired
		}
		return ProfileResult{}, fmt.Errorf("fetch profile: %w", err)
	}

	return ProfileResult{
		Name:      profile.Name,
		Number:    profile.Number,
		AvatarURL: profile.AvatarURL,
	}, nil
}

func (g *Gateway) awaitHealthy(ctx context.Context) bool {
	deadline := time.NewTimer(g.profileWaitCap)
	defer deadline.Stop()
	tick := time.NewTicker(profilePollInterval)
	defer tick.Stop()
	for {
		select {
		case <-tick.C:
			if g.conn.IsHealthy() {
				return true
			}
			if g.conn.Corrupted() {
				return false
			}
		case <-deadline.C:
			return false
		case <-ctx.Done():
			return false
		}
	}
}

// Phase reports the current connection phase.
func (g *Gateway) Phase() domain.Phase {
	return g.conn.Phase()
}

// History returns the most recent outbound messages.
func (g *Gateway) History(ctx context.Context, limit int) ([]storage.OutboundMessage, error) {
	if g.log == nil {
		return nil, nil
	}
	return g.log.History(ctx, limit)
}

// Shutdown is the process-exit hook: destroy the client (page close
// attempted) and close the history database.
func (g *Gateway) Shutdown(ctx context.Context) {
	g.conn.Shutdown(ctx)
	if g.log != nil {
		if err := g.log.Close(); err != nil {
			g.logger.Warn("message log close failed", "error", err)
		}
	}
}
