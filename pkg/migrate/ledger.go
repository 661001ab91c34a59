package migrate

import (
	"context"
	"database/sql"
	"time"

	"github.com/avsav1n/stackd/pkg/errors"
)

// The ledger is the single source of truth for "is the schema current".
// Each applied revision is recorded exactly once; reapplying a recorded
// revision is a no-op.
const createLedgerSQL = `
CREATE TABLE IF NOT EXISTS schema_ledger (
	revision   TEXT PRIMARY KEY,
	name       TEXT NOT NULL,
	applied_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
)`

// LedgerEntry is one applied schema revision.
type LedgerEntry struct {
	Revision  string
	Name      string
	AppliedAt time.Time
}

func ensureLedger(ctx context.Context, conn *sql.Conn) error {
	if _, err := conn.ExecContext(ctx, createLedgerSQL); err != nil {
		return errors.NewMigrationError("failed to create schema ledger", err)
	}
	return nil
}

func recordedRevisions(ctx context.Context, conn *sql.Conn) (map[string]bool, error) {
	rows, err := conn.QueryContext(ctx, "SELECT revision FROM schema_ledger")
	if err != nil {
		return nil, errors.NewMigrationError("failed to read schema ledger", err)
	}
	defer rows.Close()

	recorded := make(map[string]bool)
	for rows.Next() {
		var revision string
		if err := rows.Scan(&revision); err != nil {
			return nil, errors.NewMigrationError("failed to scan ledger row", err)
		}
		recorded[revision] = true
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewMigrationError("failed to iterate schema ledger", err)
	}
	return recorded, nil
}

func recordRevision(ctx context.Context, conn *sql.Conn, revision Revision) error {
	_, err := conn.ExecContext(ctx,
		"INSERT INTO schema_ledger (revision, name) VALUES (?, ?)",
		revision.ID, revision.Name)
	if err != nil {
		return errors.NewMigrationError("failed to record revision in ledger", err).WithContext("revision", revision.ID)
	}
	return nil
}

// Ledger reads the applied revisions from the database, oldest first.
func Ledger(ctx context.Context, db *sql.DB) ([]LedgerEntry, error) {
	rows, err := db.QueryContext(ctx,
		"SELECT revision, name, applied_at FROM schema_ledger ORDER BY revision")
	if err != nil {
		return nil, errors.NewMigrationError("failed to read schema ledger", err)
	}
	defer rows.Close()

	var entries []LedgerEntry
	for rows.Next() {
		var entry LedgerEntry
		if err := rows.Scan(&entry.Revision, &entry.Name, &entry.AppliedAt); err != nil {
			return nil, errors.NewMigrationError("failed to scan ledger entry", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewMigrationError("failed to iterate schema ledger", err)
	}
	return entries, nil
}
