// Package audit records messages Scribe could not persist after exhausting
// its retry budget (spec §4.2: "exceeding this marks the message
// unpersisted — log only, the pipeline must not stall"). Grounded on
// internal/persistence/databases/postgres_graph.go (manifold)'s
// pgxpool-backed bootstrap: create-table-if-not-exists on construction,
// parameterized INSERT thereafter.
package audit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/llitpux/cogstream/internal/observability"
)

// Ledger records unpersisted events for later operator review.
type Ledger interface {
	RecordUnpersisted(ctx context.Context, chatID, messageID int64, eventJSON []byte, cause error) error
	Close()
}

// PostgresLedger is the production Ledger, one row per unpersisted event.
type PostgresLedger struct {
	pool *pgxpool.Pool
}

// NewPostgresLedger connects to dsn and ensures the ledger table exists.
func NewPostgresLedger(ctx context.Context, dsn string) (*PostgresLedger, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("audit: connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("audit: ping postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS unpersisted_messages (
  id BIGSERIAL PRIMARY KEY,
  chat_id BIGINT NOT NULL,
  message_id BIGINT NOT NULL,
  event JSONB NOT NULL,
  cause TEXT NOT NULL,
  recorded_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`); err != nil {
		pool.Close()
		return nil, fmt.Errorf("audit: create ledger table: %w", err)
	}
	if _, err := pool.Exec(ctx, `CREATE INDEX IF NOT EXISTS unpersisted_messages_chat ON unpersisted_messages(chat_id)`); err != nil {
		pool.Close()
		return nil, fmt.Errorf("audit: create ledger index: %w", err)
	}
	return &PostgresLedger{pool: pool}, nil
}

func (l *PostgresLedger) RecordUnpersisted(ctx context.Context, chatID, messageID int64, eventJSON []byte, cause error) error {
	_, err := l.pool.Exec(ctx,
		`INSERT INTO unpersisted_messages(chat_id, message_id, event, cause) VALUES ($1, $2, $3, $4)`,
		chatID, messageID, eventJSON, cause.Error())
	return err
}

func (l *PostgresLedger) Close() { l.pool.Close() }

// NoopLedger logs the failure and drops it, for deployments that run
// without audit.enabled (spec §6: audit is an optional collaborator).
type NoopLedger struct{}

func (NoopLedger) RecordUnpersisted(ctx context.Context, chatID, messageID int64, eventJSON []byte, cause error) error {
	observability.LoggerWithTrace(ctx).Warn().
		Int64("chat_id", chatID).Int64("message_id", messageID).
		Err(cause).RawJSON("event", eventJSON).
		Msg("message_unpersisted")
	return nil
}

func (NoopLedger) Close() {}

var _ Ledger = (*PostgresLedger)(nil)
var _ Ledger = NoopLedger{}

// MemoryLedger is an in-process Ledger for tests.
type MemoryLedger struct {
	Records []Record
}

// Record is one captured unpersisted-message entry.
type Record struct {
	ChatID    int64
	MessageID int64
	Event     json.RawMessage
	Cause     string
}

func (l *MemoryLedger) RecordUnpersisted(ctx context.Context, chatID, messageID int64, eventJSON []byte, cause error) error {
	l.Records = append(l.Records, Record{ChatID: chatID, MessageID: messageID, Event: append(json.RawMessage(nil), eventJSON...), Cause: cause.Error()})
	return nil
}

func (l *MemoryLedger) Close() {}

var _ Ledger = (*MemoryLedger)(nil)
