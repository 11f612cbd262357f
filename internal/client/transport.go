package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// connHandler is invoked once the bridge dials in. It runs the full read
// loop for the lifetime of the connection.
type connHandler func(conn *wireConn)

// listener is a minimal HTTP+WebSocket endpoint on a random localhost port
// accepting exactly one connection: the bridge this client spawned.
type listener struct {
	ln      net.Listener
	srv     *http.Server
	handler connHandler

	mu       sync.Mutex
	accepted bool
}

func newListener(handler connHandler) (*listener, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("bridge listen: %w", err)
	}
	l := &listener{ln: ln, handler: handler}
	mux := http.NewServeMux()
	mux.HandleFunc("/", l.accept)
	l.srv = &http.Server{Handler: mux}
	return l, nil
}

// URL is the ws:// address handed to the bridge on its command line.
func (l *listener) URL() string {
	return "ws://" + l.ln.Addr().String()
}

func (l *listener) Serve(ctx context.Context) {
	go func() {
		_ = l.srv.Serve(l.ln) // returns when closed
	}()
	go func() {
		<-ctx.Done()
		_ = l.srv.Close()
	}()
}

func (l *listener) Close() {
	_ = l.srv.Close()
}

func (l *listener) accept(w http.ResponseWriter, r *http.Request) {
	l.mu.Lock()
	if l.accepted {
		l.mu.Unlock()
		http.Error(w, "already connected", http.StatusConflict)
		return
	}
	l.accepted = true
	l.mu.Unlock()

	c, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	l.handler(newWireConn(c))
}

// wireConn wraps a websocket connection with mutex-guarded writes.
type wireConn struct {
	c      *websocket.Conn
	mu     sync.Mutex // guards writes
	closed bool
}

func newWireConn(c *websocket.Conn) *wireConn {
	c.SetReadLimit(8 * 1024 * 1024)
	c.SetPongHandler(func(string) error {
		_ = c.SetReadDeadline(time.Now().Add(45 * time.Second))
		return nil
	})
	return &wireConn{c: c}
}

func (wc *wireConn) Read() ([]byte, error) {
	_, data, err := wc.c.ReadMessage()
	return data, err
}

func (wc *wireConn) Send(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("bridge marshal: %w", err)
	}
	wc.mu.Lock()
	defer wc.mu.Unlock()
	if wc.closed {
		return ErrNotConnected
	}
	return wc.c.WriteMessage(websocket.TextMessage, data)
}

func (wc *wireConn) Close() {
	wc.mu.Lock()
	defer wc.mu.Unlock()
	if !wc.closed {
		wc.closed = true
		_ = wc.c.Close()
	}
}

// StartPing keeps the connection alive until the context is done.
func (wc *wireConn) StartPing(ctx context.Context, interval time.Duration) {
	go func() {
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				wc.mu.Lock()
				if wc.closed {
					wc.mu.Unlock()
					return
				}
				_ = wc.c.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
				wc.mu.Unlock()
			}
		}
	}()
}
