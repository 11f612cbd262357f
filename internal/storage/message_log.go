// Package storage persists the outbound message history in SQLite.
package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// Delivery status of a logged message.
const (
	StatusSent   = "sent"
	StatusFailed = "failed"
)

// OutboundMessage is one row of the send history.
type OutboundMessage struct {
	ID            string    `json:"id"`
	Destination   string    `json:"destination"`
	Body          string    `json:"body"`
	HasAttachment bool      `json:"hasAttachment"`
	Status        string    `json:"status"`
	Error         string    `json:"error,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
}

// MessageLog records every outbound send with its terminal status.
// SQLite with WAL mode; the connection pool is pinned to a single
// connection because SQLite allows only one writer.
type MessageLog struct {
	db *sql.DB
}

// OpenMessageLog creates or opens the log database at path. Idempotent.
func OpenMessageLog(path string) (*MessageLog, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open message log: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect message log: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("execute %q: %w", pragma, err)
		}
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply message log schema: %w", err)
	}

	return &MessageLog{db: db}, nil
}

func (l *MessageLog) Close() error {
	if l.db == nil {
		return nil
	}
	return l.db.Close()
}

// Record inserts one send outcome and returns its id.
func (l *MessageLog) Record(ctx context.Context, destination, body string, hasAttachment bool, status, sendErr string) (string, error) {
	id := uuid.NewString()
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO outbound_messages (id, destination, body, has_attachment, status, error, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, destination, body, hasAttachment, status, sendErr, time.Now().UTC())
	if err != nil {
		return "", fmt.Errorf("record message: %w", err)
	}
	return id, nil
}

// History returns the most recent sends, newest first. limit <= 0 uses 50.
func (l *MessageLog) History(ctx context.Context, limit int) ([]OutboundMessage, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := l.db.QueryContext(ctx,
		`SELECT id, destination, body, has_attachment, status, error, created_at
		 FROM outbound_messages
		 ORDER BY created_at DESC, id
		 LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query message history: %w", err)
	}
	defer rows.Close()

	var out []OutboundMessage
	for rows.Next() {
		var m OutboundMessage
		if err := rows.Scan(&m.ID, &m.Destination, &m.Body, &m.HasAttachment, &m.Status, &m.Error, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message row: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate message history: %w", err)
	}
	return out, nil
}
