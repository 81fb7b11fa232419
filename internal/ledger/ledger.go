// Package ledger persists the client-local unsaved-transaction ledger:
// the only state this engine owns across reloads. A local transaction
// stays in the ledger from the moment it completes until the ordering
// authority's acknowledgement is observed, so edits made offline or
// lost in transit resend after reconnect.
package ledger

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"strings"

	_ "github.com/mattn/go-sqlite3"

	"github.com/quadratichq/quadratic-sub015/internal/engine"
	"github.com/quadratichq/quadratic-sub015/internal/op"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 0 - Initial schema (pre-migration)
// 1 - Added send_count column default
const currentSchemaVersion = 1

// Ledger is a sqlite-backed implementation of engine.Ledger.
// Uses WAL mode; a single connection avoids SQLITE_BUSY under the
// engine's single-threaded discipline.
type Ledger struct {
	db *sql.DB
}

var _ engine.Ledger = (*Ledger)(nil)

// Open creates or opens the ledger database at the given path.
// Use ":memory:" for tests. Idempotent: pragmas and schema apply on
// every open.
func Open(path string) (*Ledger, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect ledger: %w", err)
	}

	// Single writer; keep one connection ready.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply pragmas: %w", err)
	}
	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Ledger{db: db}, nil
}

// Close closes the database connection.
func (l *Ledger) Close() error {
	if l.db == nil {
		return nil
	}
	return l.db.Close()
}

// Append inserts a transaction's forward operations, keyed by id.
// Idempotent via ON CONFLICT DO NOTHING: re-appending the same
// transaction after a crash-resume is harmless.
func (l *Ledger) Append(ctx context.Context, id string, ops []op.Op) error {
	data, err := op.MarshalAll(ops)
	if err != nil {
		return fmt.Errorf("marshal operations for %s: %w", id, err)
	}
	_, err = l.db.ExecContext(ctx, `
		INSERT INTO unsaved_transactions (id, operations)
		VALUES (?, ?)
		ON CONFLICT(id) DO NOTHING
	`, id, string(data))
	if err != nil {
		return fmt.Errorf("append %s: %w", id, err)
	}
	return nil
}

// MarkSent increments a transaction's dispatch count.
func (l *Ledger) MarkSent(ctx context.Context, id string) error {
	_, err := l.db.ExecContext(ctx, `
		UPDATE unsaved_transactions SET send_count = send_count + 1 WHERE id = ?
	`, id)
	if err != nil {
		return fmt.Errorf("mark sent %s: %w", id, err)
	}
	return nil
}

// Delete removes an acknowledged transaction. Deleting an unknown id is
// a no-op so duplicate acknowledgements are harmless.
func (l *Ledger) Delete(ctx context.Context, id string) error {
	_, err := l.db.ExecContext(ctx, `
		DELETE FROM unsaved_transactions WHERE id = ?
	`, id)
	if err != nil {
		return fmt.Errorf("delete %s: %w", id, err)
	}
	return nil
}

// Unacked returns every retained transaction in original creation
// order (rowid order).
func (l *Ledger) Unacked(ctx context.Context) ([]engine.UnsavedTransaction, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT id, operations, send_count
		FROM unsaved_transactions
		ORDER BY rowid ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query unacked: %w", err)
	}
	defer rows.Close()

	var out []engine.UnsavedTransaction
	for rows.Next() {
		var (
			id        string
			opsJSON   string
			sendCount int
		)
		if err := rows.Scan(&id, &opsJSON, &sendCount); err != nil {
			return nil, fmt.Errorf("scan unacked row: %w", err)
		}
		ops, err := op.UnmarshalAll([]byte(opsJSON))
		if err != nil {
			return nil, fmt.Errorf("unmarshal operations for %s: %w", id, err)
		}
		out = append(out, engine.UnsavedTransaction{
			ID:         id,
			Operations: ops,
			SendCount:  sendCount,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate unacked rows: %w", err)
	}
	return out, nil
}

// Count returns the number of retained transactions. Used by the CLI
// inspector and tests.
func (l *Ledger) Count(ctx context.Context) (int, error) {
	var n int
	if err := l.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM unsaved_transactions
	`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count unacked: %w", err)
	}
	return n, nil
}

// applyPragmas sets required SQLite configuration.
func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("execute %q: %w", pragma, err)
		}
	}
	return nil
}

// applySchema creates tables if needed and runs migrations.
// Idempotent.
func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("execute schema: %w", err)
	}

	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}
	if version < 1 {
		// v1 introduced send_count; databases created from this schema
		// already have it, older ones gain it here.
		if _, err := db.Exec(`
			ALTER TABLE unsaved_transactions ADD COLUMN send_count INTEGER NOT NULL DEFAULT 0
		`); err != nil {
			// Column already present on fresh databases.
			if !isDuplicateColumn(err) {
				return fmt.Errorf("migrate to v1: %w", err)
			}
		}
	}
	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}
	return nil
}

func isDuplicateColumn(err error) bool {
	return err != nil && strings.Contains(err.Error(), "duplicate column name")
}
