// Package eventlog archives settlement events in a sqlite database so the
// RPC layer can serve per-account history.
package eventlog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	_ "github.com/glebarez/sqlite"
	"github.com/google/uuid"

	"brokerfund/core/events"
)

const schema = `
CREATE TABLE IF NOT EXISTS settlement_events (
    seq INTEGER PRIMARY KEY AUTOINCREMENT,
    id TEXT NOT NULL UNIQUE,
    type TEXT NOT NULL,
    account_id INTEGER NOT NULL DEFAULT 0,
    attributes TEXT NOT NULL,
    recorded_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS settlement_events_account ON settlement_events(account_id, seq);
`

// ErrPathRequired is returned when the archive path is missing.
var ErrPathRequired = errors.New("eventlog: path must be configured")

// Record is one archived event.
type Record struct {
	ID         string            `json:"id"`
	Type       string            `json:"type"`
	AccountID  uint64            `json:"accountId,omitempty"`
	Attributes map[string]string `json:"attributes"`
	RecordedAt time.Time         `json:"recordedAt"`
}

// Archive persists events. It implements events.Emitter.
type Archive struct {
	db     *sql.DB
	logger *slog.Logger
	nowFn  func() time.Time
}

// Open initialises the archive at path using the sqlite driver.
func Open(path string, logger *slog.Logger) (*Archive, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return nil, ErrPathRequired
	}
	db, err := sql.Open("sqlite", trimmed)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Archive{db: db, logger: logger, nowFn: time.Now}, nil
}

// Close releases database resources.
func (a *Archive) Close() error {
	if a == nil || a.db == nil {
		return nil
	}
	return a.db.Close()
}

// Emit implements events.Emitter. Events without an attribute rendering are
// ignored; write failures are logged.
func (a *Archive) Emit(evt events.Event) {
	if a == nil || evt == nil {
		return
	}
	if _, err := a.Append(context.Background(), evt); err != nil {
		a.logger.Error("archive event", "type", evt.EventType(), "error", err)
	}
}

// Append stores evt and returns the generated record identifier.
func (a *Archive) Append(ctx context.Context, evt events.Event) (string, error) {
	typed, ok := evt.(events.Typed)
	if !ok {
		return "", nil
	}
	rendered := typed.Event()
	if rendered == nil {
		return "", nil
	}
	var accountID uint64
	if scoped, ok := evt.(events.AccountScoped); ok {
		accountID = scoped.BrokerAccountID()
	}
	attrs, err := json.Marshal(rendered.Attributes)
	if err != nil {
		return "", fmt.Errorf("encode attributes: %w", err)
	}
	id := uuid.NewString()
	_, err = a.db.ExecContext(ctx, `
        INSERT INTO settlement_events(id, type, account_id, attributes, recorded_at)
        VALUES(?, ?, ?, ?, ?)
    `, id, rendered.Type, int64(accountID), string(attrs), a.nowFn().UTC().Unix())
	if err != nil {
		return "", fmt.Errorf("insert event: %w", err)
	}
	return id, nil
}

// ByAccount returns up to limit events for the account, newest first.
func (a *Archive) ByAccount(ctx context.Context, accountID uint64, limit int) ([]Record, error) {
	return a.query(ctx, `
        SELECT id, type, account_id, attributes, recorded_at
        FROM settlement_events
        WHERE account_id = ?
        ORDER BY seq DESC
        LIMIT ?
    `, int64(accountID), clampLimit(limit))
}

// Recent returns up to limit events across all accounts, newest first.
func (a *Archive) Recent(ctx context.Context, limit int) ([]Record, error) {
	return a.query(ctx, `
        SELECT id, type, account_id, attributes, recorded_at
        FROM settlement_events
        ORDER BY seq DESC
        LIMIT ?
    `, clampLimit(limit))
}

func clampLimit(limit int) int {
	if limit <= 0 || limit > 500 {
		return 100
	}
	return limit
}

func (a *Archive) query(ctx context.Context, stmt string, args ...interface{}) ([]Record, error) {
	if a == nil || a.db == nil {
		return nil, fmt.Errorf("eventlog not configured")
	}
	rows, err := a.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()
	var records []Record
	for rows.Next() {
		var (
			rec      Record
			account  int64
			attrs    string
			recorded int64
		)
		if err := rows.Scan(&rec.ID, &rec.Type, &account, &attrs, &recorded); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		if err := json.Unmarshal([]byte(attrs), &rec.Attributes); err != nil {
			return nil, fmt.Errorf("decode attributes: %w", err)
		}
		rec.AccountID = uint64(account)
		rec.RecordedAt = time.Unix(recorded, 0).UTC()
		records = append(records, rec)
	}
	return records, rows.Err()
}
