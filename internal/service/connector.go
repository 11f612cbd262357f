package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nartechsolution/wagateway/internal/client"
	"github.com/nartechsolution/wagateway/internal/domain"
)

var (
	ErrInitTimeout        = errors.New("initialization timed out")
	ErrInitInFlight       = errors.New("another initialization is still in progress")
	ErrConnectionLost     = errors.New("connection to service lost")
	ErrReconnectExhausted = errors.New("reconnect attempts exhausted")
	ErrShuttingDown       = errors.New("gateway is shutting down")
)

const (
	DefaultMaxReconnectAttempts = 3
	DefaultMaxQRRetries         = 2
	DefaultRestoreTimeout       = 20 * time.Second
	DefaultPairingTimeout       = 30 * time.Second
	DefaultInitWaitCap          = 15 * time.Second

	// QR budget handed to the bridge so its internal retry loop stays out of
	// the way when stored credentials should make scanning unnecessary.
	qrBudgetPersisted = 0
	qrBudgetFresh     = 5
)

// Cleaner removes the persisted session directories. Best-effort.
type Cleaner interface {
	CleanupSessionData() bool
}

// Options configures a Connector. Factory, PersistedCheck, and Cleaner are
// the injection seams; production wiring uses the bridge client, the
// filesystem predicate, and the directory sanitizer.
type Options struct {
	Identity      string
	AuthDir       string
	CacheDir      string
	BridgeCommand string
	BridgeArgs    []string

	MaxReconnectAttempts int
	MaxQRRetries         int
	RestoreTimeout       time.Duration
	PairingTimeout       time.Duration
	InitWaitCap          time.Duration

	Factory        client.Factory
	PersistedCheck func() bool
	Cleaner        Cleaner
	Logger         *slog.Logger
}

// Connector is the connection state machine. It owns the single client
// instance, serializes initialization attempts, interprets lifecycle events
// into phase transitions, and applies the recovery policy (retry budgets,
// corruption detection, timeouts).
type Connector struct {
	opts    Options
	logger  *slog.Logger
	factory client.Factory
	cleaner Cleaner

	mu                sync.Mutex
	phase             domain.Phase
	cli               client.Client
	qrPayload         string
	qrRetries         int
	reconnects        *retryBudget
	corrupted         bool
	intentionalLogout bool

	attempt      *initAttempt
	attemptTimer *time.Timer
}

func NewConnector(opts Options) *Connector {
	if opts.MaxReconnectAttempts <= 0 {
		opts.MaxReconnectAttempts = DefaultMaxReconnectAttempts
	}
	if opts.MaxQRRetries <= 0 {
		opts.MaxQRRetries = DefaultMaxQRRetries
	}
	if opts.RestoreTimeout <= 0 {
		opts.RestoreTimeout = DefaultRestoreTimeout
	}
	if opts.PairingTimeout <= 0 {
		opts.PairingTimeout = DefaultPairingTimeout
	}
	if opts.InitWaitCap <= 0 {
		opts.InitWaitCap = DefaultInitWaitCap
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Factory == nil {
		opts.Factory = client.NewBridgeClient
	}
	if opts.PersistedCheck == nil {
		authDir, identity := opts.AuthDir, opts.Identity
		opts.PersistedCheck = func() bool {
			return client.HasPersistedSession(authDir, identity)
		}
	}

	return &Connector{
		opts:       opts,
		logger:     opts.Logger.With("component", "connector"),
		factory:    opts.Factory,
		cleaner:    opts.Cleaner,
		reconnects: newRetryBudget(opts.MaxReconnectAttempts),
		phase:      domain.PhaseUninitialized,
	}
}

// Initialize establishes (or re-establishes) the session.
//
// Concurrency contract: at most one attempt runs at a time. Callers that
// arrive while one is in flight join it and share its outcome (bounded by
// InitWaitCap) instead of spawning a duplicate client. A forceNew caller
// waits for the in-flight attempt to settle, then performs a full reset.
func (c *Connector) Initialize(ctx context.Context, forceNew bool) (InitResult, error) {
	requestedForce := forceNew
	for {
		c.mu.Lock()
		if inFlight := c.attempt; inFlight != nil {
			c.mu.Unlock()
			if !forceNew {
				return inFlight.waitBounded(ctx, c.opts.InitWaitCap)
			}
			if _, err := inFlight.waitBounded(ctx, c.opts.InitWaitCap); err != nil && ctx.Err() != nil {
				return InitResult{}, err
			}
			continue
		}

		// Corruption always forces a full reset before a new client is
		// created.
		if c.corrupted {
			forceNew = true
		}

		if !forceNew && c.healthyLocked() {
			c.reconnects.Reset()
			c.qrRetries = 0
			c.mu.Unlock()
			return InitResult{Status: StatusReady}, nil
		}

		stale := c.detachClientLocked()
		if stale == nil && !forceNew {
			break // lock still held, clean slate
		}

		// Teardown happens outside the lock: Destroy can block on the bridge
		// flush and process stop. Detaching first keeps the state consistent
		// for anyone inspecting it meanwhile.
		fullReset := forceNew
		if fullReset {
			c.resetRecoveryLocked()
		}
		c.mu.Unlock()

		if stale != nil {
			// Forced resets close the page and browser; an unhealthy
			// predecessor gets the quick teardown.
			stale.Destroy(!fullReset)
		}
		if fullReset {
			c.sanitize()
		}
		forceNew = false
	}

	persisted := c.opts.PersistedCheck()
	attempt := newInitAttempt()
	c.attempt = attempt
	c.setPhaseLocked(domain.PhaseInitializing)

	qrBudget := qrBudgetFresh
	timeout := c.opts.PairingTimeout
	if persisted {
		qrBudget = qrBudgetPersisted
		timeout = c.opts.RestoreTimeout
	}

	cli := c.factory(client.Config{
		Identity:     c.opts.Identity,
		AuthDir:      c.opts.AuthDir,
		CacheDir:     c.opts.CacheDir,
		Command:      c.opts.BridgeCommand,
		Args:         c.opts.BridgeArgs,
		QRMaxRetries: qrBudget,
		Logger:       c.opts.Logger,
	})
	c.cli = cli
	c.attemptTimer = time.AfterFunc(timeout, func() {
		c.onInitTimeout(attempt, persisted)
	})
	c.mu.Unlock()

	c.logger.Info("initializing session client",
		"persisted", persisted, "force_new", requestedForce, "timeout", timeout)

	go c.consumeEvents(cli, attempt, persisted)
	go func() {
		if err := cli.Initialize(context.Background()); err != nil {
			c.failAttempt(attempt, cli, fmt.Errorf("client initialization: %w", err))
		}
	}()

	return attempt.wait(ctx)
}

// consumeEvents is the per-client event loop. It exits when the client's
// event stream is closed, which Destroy guarantees happens before teardown,
// so no event from a dead client can mutate state meant for its successor.
func (c *Connector) consumeEvents(cli client.Client, attempt *initAttempt, persisted bool) {
	for ev := range cli.Events() {
		switch ev.Type {
		case domain.EventQR:
			if data, ok := ev.Data.(domain.QRData); ok {
				c.handleQR(cli, attempt, persisted, data.Code)
			}
		case domain.EventAuthenticated:
			c.handleAuthenticated(cli)
		case domain.EventReady:
			c.handleReady(cli, attempt)
		case domain.EventAuthFailure:
			reason := ""
			if data, ok := ev.Data.(domain.AuthFailureData); ok {
				reason = data.Reason
			}
			c.handleAuthFailure(cli, attempt, reason)
		case domain.EventDisconnected:
			reason := ""
			if data, ok := ev.Data.(domain.DisconnectData); ok {
				reason = data.Reason
			}
			c.handleDisconnected(cli, reason)
		case domain.EventStateChange:
			if data, ok := ev.Data.(domain.StateChangeData); ok {
				c.logger.Debug("client state change", "state", data.State)
			}
		case domain.EventError:
			if data, ok := ev.Data.(domain.ErrorData); ok {
				c.handleClientError(cli, attempt, data)
			}
		}
	}
}

func (c *Connector) handleQR(cli client.Client, attempt *initAttempt, persisted bool, code string) {
	c.mu.Lock()
	if c.cli != cli {
		c.mu.Unlock()
		return
	}
	c.qrPayload = code

	if !persisted {
		c.corrupted = false
		c.setPhaseLocked(domain.PhaseAwaitingScan)
		c.mu.Unlock()
		// First-time pairing resolves on the very first QR.
		c.resolveQR(attempt, code, false)
		return
	}

	// A QR despite stored credentials means the restore is struggling. The
	// resolve gate is read before the counter moves so the first QR is
	// withheld from the caller, giving corruption detection a chance to
	// fire before a scan payload is surfaced.
	wouldResolve := c.qrRetries >= 1
	c.qrRetries++
	if c.qrRetries >= c.opts.MaxQRRetries {
		c.corrupted = true
		c.qrPayload = ""
		c.setPhaseLocked(domain.PhaseAuthFailed)
		retries := c.qrRetries
		c.mu.Unlock()
		c.logger.Warn("stored session still demanding scan; marking corrupted", "qr_retries", retries)
		c.settleAttempt(attempt, InitResult{Status: StatusAuthFailed, SessionCorrupted: true})
		return
	}
	c.corrupted = false
	c.setPhaseLocked(domain.PhaseAwaitingScan)
	c.mu.Unlock()
	if wouldResolve {
		c.resolveQR(attempt, code, false)
	}
}

func (c *Connector) resolveQR(attempt *initAttempt, code string, corrupted bool) {
	url, err := qrDataURL(code)
	if err != nil {
		c.logger.Warn("qr render failed", "error", err)
	}
	c.settleAttempt(attempt, InitResult{Status: StatusQR, QRCode: url, SessionCorrupted: corrupted})
}

func (c *Connector) handleAuthenticated(cli client.Client) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cli != cli {
		return
	}
	c.qrPayload = ""
	c.setPhaseLocked(domain.PhaseAuthenticating)
}

func (c *Connector) handleReady(cli client.Client, attempt *initAttempt) {
	c.mu.Lock()
	if c.cli != cli {
		c.mu.Unlock()
		return
	}
	c.qrPayload = ""
	c.qrRetries = 0
	c.reconnects.Reset()
	c.corrupted = false
	c.setPhaseLocked(domain.PhaseReady)
	c.mu.Unlock()

	c.logger.Info("session ready")
	c.settleAttempt(attempt, InitResult{Status: StatusReady})
}

func (c *Connector) handleAuthFailure(cli client.Client, attempt *initAttempt, reason string) {
	c.mu.Lock()
	if c.cli != cli {
		c.mu.Unlock()
		return
	}
	c.corrupted = true
	c.qrPayload = ""
	c.cli = nil
	c.setPhaseLocked(domain.PhaseAuthFailed)
	c.mu.Unlock()

	c.logger.Warn("authentication failure", "reason", reason)
	cli.Destroy(true)
	c.sanitize()
	c.settleAttempt(attempt, InitResult{Status: StatusAuthFailed, NeedsQR: true, SessionCorrupted: true})
}

func (c *Connector) handleDisconnected(cli client.Client, reason string) {
	c.mu.Lock()
	if c.cli != cli {
		c.mu.Unlock()
		return
	}
	inFlight := c.attempt
	if inFlight != nil {
		c.clearAttemptLocked()
	}

	if c.intentionalLogout {
		c.intentionalLogout = false
		c.cli = nil
		c.qrPayload = ""
		c.setPhaseLocked(domain.PhaseDisconnected)
		c.mu.Unlock()

		c.logger.Info("disconnected after logout", "reason", reason)
		if inFlight != nil {
			inFlight.settle(InitResult{}, ErrConnectionLost)
		}
		cli.Destroy(false)
		c.sanitize()
		return
	}

	if !c.reconnects.Consume() {
		c.cli = nil
		c.qrPayload = ""
		c.setPhaseLocked(domain.PhaseDisconnected)
		used := c.reconnects.Used()
		c.mu.Unlock()

		c.logger.Warn("reconnect budget exhausted; giving up", "reason", reason, "attempts", used)
		if inFlight != nil {
			inFlight.settle(InitResult{}, ErrReconnectExhausted)
		}
		cli.Destroy(false)
		return
	}

	c.cli = nil
	c.qrPayload = ""
	c.setPhaseLocked(domain.PhaseDisconnected)
	used := c.reconnects.Used()
	c.mu.Unlock()

	c.logger.Warn("unexpected disconnect; scheduling reconnect", "reason", reason, "attempt", used)
	if inFlight != nil {
		inFlight.settle(InitResult{}, ErrConnectionLost)
	}
	cli.Destroy(true)
	go func() {
		if _, err := c.Initialize(context.Background(), false); err != nil {
			c.logger.Warn("automatic reconnect failed", "error", err)
		}
	}()
}

func (c *Connector) handleClientError(cli client.Client, attempt *initAttempt, data domain.ErrorData) {
	err := &client.BridgeError{Code: data.Code, Message: data.Message}
	if !client.IsNetworkError(err) {
		c.logger.Error("client error", "code", data.Code, "message", data.Message)
		return
	}

	// Connectivity failures reject the attempt immediately so callers can
	// surface a "check your connection" message instead of waiting out the
	// generic timeout.
	c.mu.Lock()
	if c.cli != cli || c.attempt != attempt {
		c.mu.Unlock()
		c.logger.Error("network error outside initialization", "message", data.Message)
		return
	}
	c.clearAttemptLocked()
	c.setPhaseLocked(domain.PhaseDisconnected)
	c.mu.Unlock()

	attempt.settle(InitResult{}, fmt.Errorf("connectivity failure: %w", err))
}

func (c *Connector) failAttempt(attempt *initAttempt, cli client.Client, err error) {
	c.mu.Lock()
	if c.attempt == attempt {
		c.clearAttemptLocked()
	}
	if c.cli == cli {
		c.setPhaseLocked(domain.PhaseDisconnected)
	}
	c.mu.Unlock()
	attempt.settle(InitResult{}, err)
}

func (c *Connector) settleAttempt(attempt *initAttempt, result InitResult) {
	c.mu.Lock()
	if c.attempt == attempt {
		c.clearAttemptLocked()
	}
	c.mu.Unlock()
	attempt.settle(result, nil)
}

func (c *Connector) onInitTimeout(attempt *initAttempt, persisted bool) {
	c.mu.Lock()
	if c.attempt != attempt {
		c.mu.Unlock()
		return
	}
	c.clearAttemptLocked()

	if persisted {
		// A stored session that cannot restore inside the window is corrupt;
		// surface that instead of a bare timeout.
		c.corrupted = true
		c.setPhaseLocked(domain.PhaseAuthFailed)
		c.mu.Unlock()
		c.logger.Warn("session restore timed out; marking corrupted")
		attempt.settle(InitResult{Status: StatusAuthFailed, NeedsQR: true, SessionCorrupted: true}, nil)
		return
	}

	c.setPhaseLocked(domain.PhaseDisconnected)
	c.mu.Unlock()
	c.logger.Warn("first-time pairing timed out")
	attempt.settle(InitResult{}, ErrInitTimeout)
}

// clearAttemptLocked detaches the in-flight attempt and stops its timer.
func (c *Connector) clearAttemptLocked() {
	c.attempt = nil
	if c.attemptTimer != nil {
		c.attemptTimer.Stop()
		c.attemptTimer = nil
	}
}

func (c *Connector) setPhaseLocked(to domain.Phase) {
	if c.phase == to {
		return
	}
	if !domain.CanTransition(c.phase, to) {
		c.logger.Warn("unexpected phase transition", "error", domain.NewInvalidTransitionError(c.phase, to))
	}
	c.logger.Debug("phase transition", "from", c.phase, "to", to)
	c.phase = to
}

// IsHealthy reports whether the session can service operations right now:
// a live client in the ready phase with a valid identity and an open page.
func (c *Connector) IsHealthy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.healthyLocked()
}

func (c *Connector) healthyLocked() (healthy bool) {
	// A client handle that blows up under inspection is unhealthy, full stop.
	defer func() {
		if recover() != nil {
			healthy = false
		}
	}()
	if c.cli == nil || c.phase != domain.PhaseReady || c.corrupted {
		return false
	}
	if _, ok := c.cli.Info(); !ok {
		return false
	}
	return c.cli.PageOpen()
}

func (c *Connector) Phase() domain.Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

func (c *Connector) Corrupted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.corrupted
}

// Client returns the current client handle (nil when none is alive).
// Callers must re-check health before use; ownership stays here.
func (c *Connector) Client() client.Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cli
}

// MarkCorrupted flags the session so the next health check fails and the
// next Initialize performs a full reset. Used when an active call reveals
// the session died underneath us.
func (c *Connector) MarkCorrupted() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.corrupted = true
}

// ResetCounters clears the recovery bookkeeping after a confirmed-healthy
// check.
func (c *Connector) ResetCounters() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reconnects.Reset()
	c.qrRetries = 0
}

// Logout performs a user-initiated logout: flag the disconnect as
// intentional first so the event handler skips reconnect bookkeeping,
// detach and settle any in-flight attempt so joined callers unblock, ask
// the remote side to log out when an authenticated identity is present
// (failures swallowed), wait briefly for the disconnect to settle, then
// force-destroy and sanitize unconditionally. Never fails.
func (c *Connector) Logout(ctx context.Context, settleDelay time.Duration) {
	c.mu.Lock()
	c.intentionalLogout = true
	c.reconnects.Reset()
	c.qrRetries = 0
	c.corrupted = false
	inFlight := c.attempt
	if inFlight != nil {
		c.clearAttemptLocked()
	}
	cli := c.cli
	c.mu.Unlock()

	if inFlight != nil {
		inFlight.settle(InitResult{}, ErrConnectionLost)
	}

	if cli != nil {
		if id, ok := cli.Info(); ok && id.Number != "" {
			if err := cli.Logout(ctx); err != nil {
				c.logger.Warn("remote logout failed; continuing with local teardown", "error", err)
			}
		}
		if settleDelay > 0 {
			t := time.NewTimer(settleDelay)
			select {
			case <-t.C:
			case <-ctx.Done():
				t.Stop()
			}
		}
	}

	c.mu.Lock()
	c.intentionalLogout = false
	stale := c.detachClientLocked()
	c.setPhaseLocked(domain.PhaseDisconnected)
	c.mu.Unlock()

	if stale != nil {
		stale.Destroy(false)
	}
	c.sanitize()
	c.logger.Info("logout complete")
}

// Shutdown is the termination-signal path: full destroy with page close
// attempted, so no orphaned browser process survives the gateway.
func (c *Connector) Shutdown(ctx context.Context) {
	c.mu.Lock()
	inFlight := c.attempt
	if inFlight != nil {
		c.clearAttemptLocked()
	}
	stale := c.detachClientLocked()
	c.setPhaseLocked(domain.PhaseDisconnected)
	c.mu.Unlock()

	if inFlight != nil {
		inFlight.settle(InitResult{}, ErrShuttingDown)
	}
	if stale != nil {
		stale.Destroy(false)
	}
	c.logger.Info("connector shut down")
}

// detachClientLocked removes the client handle from the state without
// destroying it: Destroy can block and must run outside the lock.
func (c *Connector) detachClientLocked() client.Client {
	cli := c.cli
	c.cli = nil
	c.qrPayload = ""
	return cli
}

func (c *Connector) resetRecoveryLocked() {
	c.reconnects.Reset()
	c.qrRetries = 0
	c.corrupted = false
}

func (c *Connector) sanitize() {
	if c.cleaner != nil {
		c.cleaner.CleanupSessionData()
	}
}
