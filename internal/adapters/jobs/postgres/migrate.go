package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// migrationLock is the advisory lock key serializing migrations across
// processes starting at the same time.
const migrationLock int64 = 0x6d6f6e74616765

type migration struct {
	version int
	name    string
	sql     string
}

var migrations = []migration{
	{1, "create render_jobs", `
		CREATE TABLE IF NOT EXISTS render_jobs (
			id              TEXT PRIMARY KEY,
			status          TEXT NOT NULL,
			clips           JSONB NOT NULL DEFAULT '[]',
			output_name     TEXT NOT NULL DEFAULT '',
			total_frames    INT NOT NULL DEFAULT 0,
			rendered_frames INT NOT NULL DEFAULT 0,
			encoded_frames  INT NOT NULL DEFAULT 0,
			output_key      TEXT NOT NULL DEFAULT '',
			download_url    TEXT NOT NULL DEFAULT '',
			error_code      TEXT NOT NULL DEFAULT '',
			error_text      TEXT NOT NULL DEFAULT '',
			created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
			started_at      TIMESTAMPTZ,
			finished_at     TIMESTAMPTZ
		);
		CREATE INDEX IF NOT EXISTS render_jobs_created_at_idx ON render_jobs (created_at DESC);
	`},
	{2, "render_jobs updated_at", `
		ALTER TABLE render_jobs ADD COLUMN IF NOT EXISTS updated_at TIMESTAMPTZ NOT NULL DEFAULT now();
		CREATE INDEX IF NOT EXISTS render_jobs_status_idx ON render_jobs (status) WHERE status NOT IN ('completed', 'failed');
	`},
}

// Migrate applies pending migrations in order. It is idempotent and safe to
// call from several processes at once.
func Migrate(ctx context.Context, pool *pgxpool.Pool) (applied int, err error) {
	conn, err := pool.Acquire(ctx)
	if err != nil {
		return 0, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, `SELECT pg_advisory_lock($1)`, migrationLock); err != nil {
		return 0, fmt.Errorf("take migration lock: %w", err)
	}
	defer func() {
		_, _ = conn.Exec(context.WithoutCancel(ctx), `SELECT pg_advisory_unlock($1)`, migrationLock)
	}()

	if _, err := conn.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version    INT PRIMARY KEY,
			name       TEXT NOT NULL,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)
	`); err != nil {
		return 0, fmt.Errorf("create schema_migrations: %w", err)
	}

	done := map[int]bool{}
	rows, err := conn.Query(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return 0, fmt.Errorf("read schema_migrations: %w", err)
	}
	versions, err := pgx.CollectRows(rows, pgx.RowTo[int])
	if err != nil {
		return 0, fmt.Errorf("read schema_migrations: %w", err)
	}
	for _, v := range versions {
		done[v] = true
	}

	for _, m := range migrations {
		if done[m.version] {
			continue
		}
		err := pgx.BeginFunc(ctx, conn, func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx, m.sql); err != nil {
				return err
			}
			_, err := tx.Exec(ctx, `INSERT INTO schema_migrations (version, name) VALUES ($1, $2)`, m.version, m.name)
			return err
		})
		if err != nil {
			return applied, fmt.Errorf("migration %d (%s): %w", m.version, m.name, err)
		}
		applied++
	}
	return applied, nil
}
