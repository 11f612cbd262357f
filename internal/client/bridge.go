package client

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nartechsolution/wagateway/internal/domain"
	"github.com/nartechsolution/wagateway/internal/process"
)

const defaultConnectTimeout = 15 * time.Second

// sandboxArgs harden the headless browser the bridge drives. Passed on
// every spawn regardless of configuration.
var sandboxArgs = []string{
	"--headless",
	"--no-sandbox",
	"--disable-setuid-sandbox",
	"--disable-dev-shm-usage",
	"--disable-extensions",
	"--disable-gpu",
}

// BridgeClient implements Client by driving the automation bridge
// subprocess over a local WebSocket:
//
//  1. Allocate a random-port WebSocket listener.
//  2. Spawn the bridge pointed at it, with the identity, session
//     directories and QR-retry budget on the command line.
//  3. Translate incoming lifecycle frames into domain.Events.
//  4. Correlate command frames (send, profile, logout) by request id.
type BridgeClient struct {
	cfg    Config
	logger *slog.Logger
	events *eventStream

	mu        sync.RWMutex
	conn      *wireConn
	proc      *process.Manager
	ln        *listener
	identity  *Identity
	pageOpen  bool
	destroyed bool

	pending map[string]chan inboundMessage

	ctx    context.Context
	cancel context.CancelFunc

	connReady   chan struct{}
	destroyOnce sync.Once
}

// NewBridgeClient is the production Factory.
func NewBridgeClient(cfg Config) Client {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &BridgeClient{
		cfg:       cfg,
		logger:    logger.With("component", "bridge", "identity", cfg.Identity),
		events:    newEventStream(64),
		pending:   make(map[string]chan inboundMessage),
		connReady: make(chan struct{}),
	}
}

// Initialize spawns the bridge and blocks until it dials back in (or the
// connect timeout elapses). Authentication progress arrives on Events after
// this returns.
func (b *BridgeClient) Initialize(ctx context.Context) error {
	b.mu.Lock()
	if b.destroyed {
		b.mu.Unlock()
		return ErrDestroyed
	}
	if b.conn != nil {
		b.mu.Unlock()
		return nil
	}
	b.ctx, b.cancel = context.WithCancel(context.Background())

	ln, err := newListener(b.handleConnection)
	if err != nil {
		b.mu.Unlock()
		return err
	}
	b.ln = ln
	ln.Serve(b.ctx)

	args := append([]string{}, b.cfg.Args...)
	args = append(args,
		"--gateway-url", ln.URL(),
		"--identity", b.cfg.Identity,
		"--auth-dir", b.cfg.AuthDir,
		"--cache-dir", b.cfg.CacheDir,
		"--qr-max-retries", strconv.Itoa(b.cfg.QRMaxRetries),
	)
	args = append(args, sandboxArgs...)

	mgr, err := process.Start(b.ctx, process.Config{
		Command: b.cfg.Command,
		Args:    args,
		Logger:  b.logger,
	})
	if err != nil {
		ln.Close()
		b.cancel()
		b.mu.Unlock()
		return fmt.Errorf("failed to start bridge process: %w", err)
	}
	b.proc = mgr
	b.mu.Unlock()

	go b.watchProcessExit(mgr)

	timeout := b.cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = defaultConnectTimeout
	}
	select {
	case <-b.connReady:
		return nil
	case <-mgr.Done():
		return fmt.Errorf("bridge exited before connecting: %w", mgr.ExitErr())
	case <-time.After(timeout):
		return fmt.Errorf("timed out waiting for bridge to connect")
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *BridgeClient) handleConnection(conn *wireConn) {
	b.mu.Lock()
	if b.destroyed {
		b.mu.Unlock()
		conn.Close()
		return
	}
	b.conn = conn
	b.pageOpen = true
	b.mu.Unlock()

	close(b.connReady)
	conn.StartPing(b.ctx, 15*time.Second)

	for {
		data, err := conn.Read()
		if err != nil {
			b.mu.Lock()
			b.pageOpen = false
			dead := b.destroyed
			b.mu.Unlock()
			if !dead && b.ctx.Err() == nil {
				b.events.Emit(domain.NewDisconnectEvent("bridge connection lost"))
			}
			return
		}
		if len(data) == 0 {
			continue
		}
		msg, err := decodeInbound(data)
		if err != nil {
			b.logger.Warn("undecodable bridge frame", "error", err)
			continue
		}
		b.dispatch(msg)
	}
}

func (b *BridgeClient) dispatch(msg inboundMessage) {
	switch msg.Type {
	case msgQR:
		b.events.Emit(domain.NewQREvent(msg.Code))
	case msgAuthenticated:
		b.events.Emit(domain.NewAuthenticatedEvent())
	case msgReady:
		if msg.Identity != nil {
			b.mu.Lock()
			b.identity = &Identity{Name: msg.Identity.Name, Number: msg.Identity.Number}
			b.mu.Unlock()
		}
		b.events.Emit(domain.NewReadyEvent())
	case msgAuthFailure:
		b.events.Emit(domain.NewAuthFailureEvent(msg.Reason))
	case msgDisconnected:
		b.mu.Lock()
		b.pageOpen = false
		b.mu.Unlock()
		b.events.Emit(domain.NewDisconnectEvent(msg.Reason))
	case msgStateChange:
		b.events.Emit(domain.NewStateChangeEvent(msg.State))
	case msgError:
		code := ""
		if msg.Error != nil {
			code = msg.Error.Code
		}
		b.events.Emit(domain.NewErrorEvent(msg.Message, code))
	case msgResponse:
		b.mu.Lock()
		ch, ok := b.pending[msg.RequestID]
		if ok {
			delete(b.pending, msg.RequestID)
		}
		b.mu.Unlock()
		if ok {
			ch <- msg
		}
	default:
		b.logger.Debug("ignoring unknown bridge frame", "type", msg.Type)
	}
}

func (b *BridgeClient) watchProcessExit(mgr *process.Manager) {
	<-mgr.Done()
	b.mu.Lock()
	dead := b.destroyed
	b.pageOpen = false
	b.mu.Unlock()
	if !dead {
		b.events.Emit(domain.NewDisconnectEvent("bridge process exited"))
	}
}

// call sends a command frame and waits for its correlated response.
func (b *BridgeClient) call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	b.mu.Lock()
	if b.destroyed {
		b.mu.Unlock()
		return nil, ErrDestroyed
	}
	conn := b.conn
	if conn == nil {
		b.mu.Unlock()
		return nil, ErrNotConnected
	}
	id := uuid.NewString()
	ch := make(chan inboundMessage, 1)
	b.pending[id] = ch
	b.mu.Unlock()

	req := request{Type: "request", RequestID: id, Method: method, Params: params}
	if err := conn.Send(req); err != nil {
		b.mu.Lock()
		delete(b.pending, id)
		b.mu.Unlock()
		return nil, err
	}

	select {
	case resp := <-ch:
		if !resp.OK {
			if resp.Error != nil {
				return nil, &BridgeError{Code: resp.Error.Code, Message: resp.Error.Message}
			}
			return nil, &BridgeError{Message: "bridge reported failure"}
		}
		return resp.Data, nil
	case <-ctx.Done():
		b.mu.Lock()
		delete(b.pending, id)
		b.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrCallTimeout, method)
	}
}

func (b *BridgeClient) SendText(ctx context.Context, jid, text string) error {
	_, err := b.call(ctx, methodSendText, sendTextParams{JID: jid, Text: text})
	return err
}

func (b *BridgeClient) SendMedia(ctx context.Context, jid, path, caption string) error {
	_, err := b.call(ctx, methodSendMedia, sendMediaParams{JID: jid, Path: path, Caption: caption})
	return err
}

func (b *BridgeClient) Profile(ctx context.Context) (Profile, error) {
	data, err := b.call(ctx, methodGetProfile, nil)
	if err != nil {
		return Profile{}, err
	}
	var p profileData
	if err := json.Unmarshal(data, &p); err != nil {
		return Profile{}, fmt.Errorf("decode profile: %w", err)
	}
	return Profile{Name: p.Name, Number: p.Number, AvatarURL: p.AvatarURL}, nil
}

func (b *BridgeClient) Logout(ctx context.Context) error {
	_, err := b.call(ctx, methodLogout, nil)
	return err
}

func (b *BridgeClient) Info() (Identity, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.identity == nil {
		return Identity{}, false
	}
	return *b.identity, true
}

func (b *BridgeClient) PageOpen() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.pageOpen && b.conn != nil && !b.destroyed
}

func (b *BridgeClient) Events() <-chan domain.Event {
	return b.events.Events()
}

// Destroy tears the client down. The event stream is closed first so no
// late event can reach a consumer after teardown begins; each subsequent
// step is wrapped so one failure cannot block the next. Never returns an
// error: teardown is unconditionally best-effort.
func (b *BridgeClient) Destroy(skipPageClose bool) {
	b.destroyOnce.Do(func() {
		b.mu.Lock()
		b.destroyed = true
		conn := b.conn
		ln := b.ln
		proc := b.proc
		b.pageOpen = false
		for id, ch := range b.pending {
			delete(b.pending, id)
			close(ch)
		}
		b.mu.Unlock()

		b.events.Close()

		if conn != nil && !skipPageClose {
			// Ask the bridge to close the page and browser gracefully before
			// we drop the transport. Each step gets its own short deadline.
			for _, method := range []string{methodClosePage, methodDestroy} {
				if err := b.sendRaw(conn, method); err != nil {
					b.logger.Warn("bridge teardown step failed", "method", method, "error", err)
				}
			}
			time.Sleep(200 * time.Millisecond) // allow the frames to flush
		}

		if b.cancel != nil {
			b.cancel()
		}
		if conn != nil {
			conn.Close()
		}
		if ln != nil {
			ln.Close()
		}
		if proc != nil {
			if skipPageClose {
				if err := proc.Kill(); err != nil {
					b.logger.Warn("bridge kill failed", "error", err)
				}
			} else if err := proc.Stop(5 * time.Second); err != nil {
				b.logger.Warn("bridge stop failed", "error", err)
			}
		}
	})
}

// sendRaw fires a teardown command without waiting for a response; the
// pending map is already drained by the time it is used.
func (b *BridgeClient) sendRaw(conn *wireConn, method string) error {
	return conn.Send(request{Type: "request", RequestID: uuid.NewString(), Method: method})
}
