// Package migrate applies the embedded schema to a caseline database.
package migrate

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"sort"
	"strings"

	"github.com/go-faster/errors"
	"github.com/sirupsen/logrus"

	"caseline/internal/logging"
)

//go:embed sql/*.sql
var migrationsFS embed.FS

type step struct {
	version int
	name    string
	up      string
}

func steps() ([]step, error) {
	entries, err := fs.ReadDir(migrationsFS, "sql")
	if err != nil {
		return nil, errors.Wrap(err, "read embedded migrations")
	}
	var out []step
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		var v int
		if _, err := fmt.Sscanf(entry.Name(), "%d_", &v); err != nil {
			return nil, errors.Wrapf(err, "migration filename %s", entry.Name())
		}
		data, err := migrationsFS.ReadFile("sql/" + entry.Name())
		if err != nil {
			return nil, errors.Wrapf(err, "read %s", entry.Name())
		}
		out = append(out, step{version: v, name: entry.Name(), up: string(data)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].version < out[j].version })
	return out, nil
}

// Latest is the highest schema version embedded in the binary.
func Latest() (int, error) {
	all, err := steps()
	if err != nil || len(all) == 0 {
		return 0, err
	}
	return all[len(all)-1].version, nil
}

// Version reads the schema version recorded in db; 0 before the first
// migration.
func Version(ctx context.Context, db *sql.DB) (int, error) {
	var v int
	err := db.QueryRowContext(ctx, `SELECT version FROM schema_version LIMIT 1`).Scan(&v)
	if err == sql.ErrNoRows || (err != nil && strings.Contains(err.Error(), "no such table")) {
		return 0, nil
	}
	if err != nil {
		return 0, errors.Wrap(err, "read schema_version")
	}
	return v, nil
}

// Migrate brings db up to the latest embedded schema.
func Migrate(db *sql.DB) error {
	return Run(context.Background(), db, nil)
}

// Run applies every pending migration in one transaction and logs each step.
func Run(ctx context.Context, db *sql.DB, logger *logrus.Logger) error {
	log := logging.Component(logger, "migrate")
	all, err := steps()
	if err != nil {
		return err
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin migration")
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_version(version INTEGER NOT NULL)`); err != nil {
		return errors.Wrap(err, "create schema_version")
	}
	current := 0
	err = tx.QueryRowContext(ctx, `SELECT version FROM schema_version LIMIT 1`).Scan(&current)
	switch {
	case err == sql.ErrNoRows:
		if _, err := tx.ExecContext(ctx, `INSERT INTO schema_version(version) VALUES (0)`); err != nil {
			return errors.Wrap(err, "init schema_version")
		}
	case err != nil:
		return errors.Wrap(err, "read schema_version")
	}

	for _, s := range all {
		if s.version <= current {
			continue
		}
		if _, err := tx.ExecContext(ctx, s.up); err != nil {
			return errors.Wrapf(err, "migration %s", s.name)
		}
		if _, err := tx.ExecContext(ctx, `UPDATE schema_version SET version=?`, s.version); err != nil {
			return errors.Wrap(err, "update schema_version")
		}
		log.WithFields(logrus.Fields{"version": s.version, "file": s.name}).Debug("migration applied")
		current = s.version
	}
	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "commit migration")
	}
	return nil
}
