package migrate

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/avsav1n/stackd/pkg/errors"
	"github.com/avsav1n/stackd/pkg/logging"
)

// Revision is one schema revision file: NNNN_name.sql.
type Revision struct {
	ID   string
	Name string
	Path string
}

var revisionFilePattern = regexp.MustCompile(`^(\d{4})_([a-z0-9_]+)\.sql$`)

// Migrator applies pending schema revisions and records them in the
// ledger. Safe to run concurrently from multiple replicas: all ledger
// mutation happens under the database write lock.
type Migrator struct {
	db     *sql.DB
	dir    string
	logger logging.Logger
}

func NewMigrator(db *sql.DB, dir string, logger logging.Logger) *Migrator {
	return &Migrator{
		db:     db,
		dir:    dir,
		logger: logger,
	}
}

// LoadRevisions reads the revision files from the migrations directory,
// ordered by revision ID.
func (m *Migrator) LoadRevisions() ([]Revision, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return nil, errors.NewIOError("failed to read migrations directory", err).WithContext("dir", m.dir)
	}

	seen := make(map[string]string)
	var revisions []Revision
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasSuffix(name, ".sql") {
			continue
		}
		match := revisionFilePattern.FindStringSubmatch(name)
		if match == nil {
			return nil, errors.NewValidationError("invalid revision file name: "+name, nil).WithContext("dir", m.dir)
		}
		if previous, exists := seen[match[1]]; exists {
			return nil, errors.NewValidationError(
				"duplicate revision ID "+match[1]+" in "+previous+" and "+name, nil)
		}
		seen[match[1]] = name
		revisions = append(revisions, Revision{
			ID:   match[1],
			Name: match[2],
			Path: filepath.Join(m.dir, name),
		})
	}

	sort.Slice(revisions, func(i, j int) bool {
		return revisions[i].ID < revisions[j].ID
	})

	return revisions, nil
}

// Apply brings the schema up to date, recording each applied revision
// in the ledger. Already-recorded revisions are skipped, so calling
// Apply against a current database is a no-op. All pending revisions
// are applied in one transaction: a failing revision rolls back the
// whole run and leaves the ledger untouched.
//
// BEGIN IMMEDIATE takes the database write lock up front, serializing
// concurrent migrator runs so a revision can never be applied twice.
func (m *Migrator) Apply(ctx context.Context) (int, error) {
	revisions, err := m.LoadRevisions()
	if err != nil {
		return 0, err
	}

	m.logger.Infof("Applying migrations, dir: %s, revisions: %d", m.dir, len(revisions))

	conn, err := m.db.Conn(ctx)
	if err != nil {
		return 0, errors.NewMigrationError("failed to acquire database connection", err)
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, "BEGIN IMMEDIATE"); err != nil {
		return 0, errors.NewMigrationError("failed to acquire migration lock", err)
	}

	applied, err := m.applyPending(ctx, conn, revisions)
	if err != nil {
		if _, rollbackErr := conn.ExecContext(ctx, "ROLLBACK"); rollbackErr != nil {
			m.logger.Errorf("Rollback failed after migration error: %v", rollbackErr)
		}
		return 0, err
	}

	if _, err := conn.ExecContext(ctx, "COMMIT"); err != nil {
		return 0, errors.NewMigrationError("failed to commit migrations", err)
	}

	if applied == 0 {
		m.logger.Infof("Schema is current, nothing to apply")
	} else {
		m.logger.Infof("Migrations complete, applied: %d", applied)
	}

	return applied, nil
}

func (m *Migrator) applyPending(ctx context.Context, conn *sql.Conn, revisions []Revision) (int, error) {
	if err := ensureLedger(ctx, conn); err != nil {
		return 0, err
	}

	recorded, err := recordedRevisions(ctx, conn)
	if err != nil {
		return 0, err
	}

	applied := 0
	for _, revision := range revisions {
		if recorded[revision.ID] {
			m.logger.Debugf("Revision already recorded, skipping, revision: %s_%s", revision.ID, revision.Name)
			continue
		}

		script, err := os.ReadFile(revision.Path)
		if err != nil {
			return 0, errors.NewIOError("failed to read revision file", err).WithContext("path", revision.Path)
		}

		m.logger.Infof("Applying revision %s_%s", revision.ID, revision.Name)

		if _, err := conn.ExecContext(ctx, string(script)); err != nil {
			return 0, errors.NewMigrationError("revision failed", err).
				WithContext("revision", revision.ID).
				WithContext("name", revision.Name)
		}

		if err := recordRevision(ctx, conn, revision); err != nil {
			return 0, err
		}

		applied++
	}

	return applied, nil
}
