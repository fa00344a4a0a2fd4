package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strings"

	"TimeMarket/internal/observability"

	"github.com/rs/zerolog"
)

// migrationLockKey is the pg_advisory_lock key held while migrating, so two
// daemons starting together do not race on the same schema.
const migrationLockKey = 0x746d6d6967 // "tmmig"

// Migration is one schema step read from {version}_{name}.up.sql and its
// optional .down.sql partner.
type Migration struct {
	Version string
	Name    string
	Up      string
	Down    string
}

// LoadMigrations reads and pairs the migration files at the root of fsys,
// ordered by version.
func LoadMigrations(fsys fs.FS) ([]Migration, error) {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, fmt.Errorf("read migrations: %w", err)
	}
	byVersion := make(map[string]*Migration)
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		base, direction, ok := splitMigrationName(e.Name())
		if !ok {
			continue
		}
		version, name, _ := strings.Cut(base, "_")
		m := byVersion[version]
		if m == nil {
			m = &Migration{Version: version, Name: name}
			byVersion[version] = m
		} else if m.Name != name {
			return nil, fmt.Errorf("migration %s has two names: %q and %q", version, m.Name, name)
		}
		body, err := fs.ReadFile(fsys, e.Name())
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", e.Name(), err)
		}
		if direction == "up" {
			m.Up = string(body)
		} else {
			m.Down = string(body)
		}
	}

	out := make([]Migration, 0, len(byVersion))
	for _, m := range byVersion {
		if strings.TrimSpace(m.Up) == "" {
			return nil, fmt.Errorf("migration %s_%s has no up script", m.Version, m.Name)
		}
		out = append(out, *m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}

func splitMigrationName(file string) (base, direction string, ok bool) {
	for _, d := range []string{"up", "down"} {
		if b, found := strings.CutSuffix(file, "."+d+".sql"); found {
			return b, d, true
		}
	}
	return "", "", false
}

// Migrator applies Migrations to Postgres. Every step runs in one
// transaction together with its schema_migrations row.
type Migrator struct {
	db         *sql.DB
	migrations []Migration
	logger     zerolog.Logger
}

func NewMigrator(db *sql.DB, fsys fs.FS) (*Migrator, error) {
	ms, err := LoadMigrations(fsys)
	if err != nil {
		return nil, err
	}
	return &Migrator{db: db, migrations: ms, logger: observability.NewLogger("migrator")}, nil
}

// Up applies every pending migration and returns how many ran.
func (m *Migrator) Up(ctx context.Context) (int, error) {
	var ran int
	err := m.locked(ctx, func(conn *sql.Conn) error {
		applied, err := appliedVersions(ctx, conn)
		if err != nil {
			return err
		}
		for _, mig := range m.migrations {
			if applied[mig.Version] {
				continue
			}
			if err := m.step(ctx, conn, mig.Up,
				`INSERT INTO public.schema_migrations (version, filename) VALUES ($1, $2)`,
				mig.Version, mig.Name); err != nil {
				return fmt.Errorf("apply %s_%s: %w", mig.Version, mig.Name, err)
			}
			m.logger.Info().Str("version", mig.Version).Str("name", mig.Name).Msg("applied migration")
			ran++
		}
		return nil
	})
	return ran, err
}

// Down reverts the most recently applied migration. It is a no-op on an
// empty schema.
func (m *Migrator) Down(ctx context.Context) error {
	return m.locked(ctx, func(conn *sql.Conn) error {
		var version string
		err := conn.QueryRowContext(ctx,
			`SELECT version FROM public.schema_migrations ORDER BY version DESC LIMIT 1`).Scan(&version)
		if errors.Is(err, sql.ErrNoRows) {
			m.logger.Info().Msg("nothing to roll back")
			return nil
		}
		if err != nil {
			return fmt.Errorf("latest migration: %w", err)
		}
		mig, ok := m.find(version)
		if !ok {
			return fmt.Errorf("applied migration %s is not in this build", version)
		}
		if strings.TrimSpace(mig.Down) == "" {
			return fmt.Errorf("migration %s_%s has no down script", mig.Version, mig.Name)
		}
		if err := m.step(ctx, conn, mig.Down,
			`DELETE FROM public.schema_migrations WHERE version = $1`, mig.Version); err != nil {
			return fmt.Errorf("revert %s_%s: %w", mig.Version, mig.Name, err)
		}
		m.logger.Info().Str("version", mig.Version).Str("name", mig.Name).Msg("reverted migration")
		return nil
	})
}

// Pending lists migrations not yet applied.
func (m *Migrator) Pending(ctx context.Context) ([]Migration, error) {
	var out []Migration
	err := m.locked(ctx, func(conn *sql.Conn) error {
		applied, err := appliedVersions(ctx, conn)
		if err != nil {
			return err
		}
		for _, mig := range m.migrations {
			if !applied[mig.Version] {
				out = append(out, mig)
			}
		}
		return nil
	})
	return out, err
}

func (m *Migrator) find(version string) (Migration, bool) {
	for _, mig := range m.migrations {
		if mig.Version == version {
			return mig, true
		}
	}
	return Migration{}, false
}

// locked runs fn on a dedicated connection holding the migration lock, with
// the bookkeeping table in place.
func (m *Migrator) locked(ctx context.Context, fn func(*sql.Conn) error) error {
	conn, err := m.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("migration conn: %w", err)
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, `SELECT pg_advisory_lock($1)`, migrationLockKey); err != nil {
		return fmt.Errorf("migration lock: %w", err)
	}
	defer func() {
		if _, err := conn.ExecContext(context.Background(), `SELECT pg_advisory_unlock($1)`, migrationLockKey); err != nil {
			m.logger.Warn().Err(err).Msg("release migration lock")
		}
	}()

	if _, err := conn.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS public.schema_migrations (
			version    TEXT PRIMARY KEY,
			filename   TEXT NOT NULL,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`); err != nil {
		return fmt.Errorf("schema_migrations: %w", err)
	}
	return fn(conn)
}

func (m *Migrator) step(ctx context.Context, conn *sql.Conn, script, bookkeeping string, args ...any) error {
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, script); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, bookkeeping, args...); err != nil {
		return err
	}
	return tx.Commit()
}

func appliedVersions(ctx context.Context, conn *sql.Conn) (map[string]bool, error) {
	rows, err := conn.QueryContext(ctx, `SELECT version FROM public.schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("applied versions: %w", err)
	}
	defer rows.Close()

	applied := make(map[string]bool)
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		applied[v] = true
	}
	return applied, rows.Err()
}
