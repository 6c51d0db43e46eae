package repository

import (
	"context"
	"io/fs"
	"path"
	"sort"
	"strings"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/foodorder/db"
)

// migrationLockID is the advisory lock that serializes replicas migrating
// the same database.
const migrationLockID int64 = 0x666f6f646f72

const (
	migrationLockSQL = `SELECT pg_advisory_xact_lock($1)`

	createMigrationsTableSQL = `
CREATE TABLE IF NOT EXISTS schema_migrations (
    version    TEXT        PRIMARY KEY,
    applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

	appliedMigrationsSQL = `SELECT version FROM schema_migrations`

	recordMigrationSQL = `INSERT INTO schema_migrations (version) VALUES ($1)`
)

type migration struct {
	version string
	sql     string
}

// loadMigrations reads migrations/*.sql from fsys in name order.
func loadMigrations(fsys fs.FS) ([]migration, error) {
	names, err := fs.Glob(fsys, "migrations/*.sql")
	if err != nil {
		return nil, errors.Wrap(err, "list migrations")
	}
	sort.Strings(names)

	out := make([]migration, 0, len(names))
	for _, name := range names {
		data, err := fs.ReadFile(fsys, name)
		if err != nil {
			return nil, errors.Wrapf(err, "read %s", name)
		}
		out = append(out, migration{
			version: strings.TrimSuffix(path.Base(name), ".sql"),
			sql:     string(data),
		})
	}
	return out, nil
}

// RunMigrations applies the embedded migrations not yet recorded in
// schema_migrations and returns their versions. All of them run in one
// transaction, so a failing migration leaves the schema untouched.
func RunMigrations(ctx context.Context, pool *pgxpool.Pool) ([]string, error) {
	return migrate(ctx, pool, db.Migrations)
}

type beginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

func migrate(ctx context.Context, conn beginner, fsys fs.FS) ([]string, error) {
	migrations, err := loadMigrations(fsys)
	if err != nil {
		return nil, err
	}

	var applied []string
	if err := pgx.BeginFunc(ctx, conn, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, migrationLockSQL, migrationLockID); err != nil {
			return errors.Wrap(err, "lock")
		}
		if _, err := tx.Exec(ctx, createMigrationsTableSQL); err != nil {
			return errors.Wrap(err, "create schema_migrations")
		}

		rows, err := tx.Query(ctx, appliedMigrationsSQL)
		if err != nil {
			return errors.Wrap(err, "query applied")
		}
		done, err := pgx.CollectRows(rows, pgx.RowTo[string])
		if err != nil {
			return errors.Wrap(err, "scan applied")
		}
		seen := make(map[string]struct{}, len(done))
		for _, v := range done {
			seen[v] = struct{}{}
		}

		for _, m := range migrations {
			if _, ok := seen[m.version]; ok {
				continue
			}
			if _, err := tx.Exec(ctx, m.sql); err != nil {
				return errors.Wrapf(err, "apply %s", m.version)
			}
			if _, err := tx.Exec(ctx, recordMigrationSQL, m.version); err != nil {
				return errors.Wrapf(err, "record %s", m.version)
			}
			applied = append(applied, m.version)
		}
		return nil
	}); err != nil {
		return nil, errors.Wrap(err, "migrate")
	}
	return applied, nil
}
