package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Migrator applies the SQL files under a migrations directory in version
// order. File naming follows the golang-migrate convention,
// {version}_{name}.up.sql with a matching .down.sql, so the directory
// stays usable with that tool as well. Each migration runs in its own
// transaction together with its bookkeeping row.
type Migrator struct {
	db  *sql.DB
	dir string
}

func NewMigrator(db *sql.DB, dir string) *Migrator {
	return &Migrator{db: db, dir: dir}
}

// Up applies every migration not yet recorded in schema_migrations.
func (m *Migrator) Up(ctx context.Context) error {
	if err := m.ensureVersionTable(ctx); err != nil {
		return fmt.Errorf("ensure version table: %w", err)
	}

	applied, err := m.appliedVersions(ctx)
	if err != nil {
		return fmt.Errorf("load applied versions: %w", err)
	}

	files, err := m.migrationFiles(".up.sql")
	if err != nil {
		return fmt.Errorf("list migrations: %w", err)
	}

	for _, name := range files {
		version := versionOf(name)
		if applied[version] {
			continue
		}

		record := `INSERT INTO public.schema_migrations (version, filename) VALUES ($1, $2)`
		if err := m.runFile(ctx, name, record, version, name); err != nil {
			return err
		}
		log.Printf("INFO: applied migration %s", name)
	}

	return nil
}

// Down rolls back the most recently applied migration, one step per call.
func (m *Migrator) Down(ctx context.Context) error {
	if err := m.ensureVersionTable(ctx); err != nil {
		return err
	}

	var version, filename string
	err := m.db.QueryRowContext(ctx,
		`SELECT version, filename FROM public.schema_migrations ORDER BY version DESC LIMIT 1`,
	).Scan(&version, &filename)
	if err == sql.ErrNoRows {
		log.Println("INFO: schema is at the base version, nothing to roll back")
		return nil
	}
	if err != nil {
		return fmt.Errorf("find last migration: %w", err)
	}

	downName := strings.Replace(filename, ".up.sql", ".down.sql", 1)
	record := `DELETE FROM public.schema_migrations WHERE version = $1`
	if err := m.runFile(ctx, downName, record, version); err != nil {
		return err
	}
	log.Printf("INFO: rolled back migration %s", downName)
	return nil
}

// runFile executes one migration file and its bookkeeping statement in a
// single transaction, so a half-applied migration never leaves a
// misleading version row behind.
func (m *Migrator) runFile(ctx context.Context, name, record string, recordArgs ...interface{}) error {
	content, err := os.ReadFile(filepath.Join(m.dir, name))
	if err != nil {
		return fmt.Errorf("read migration %s: %w", name, err)
	}

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx for %s: %w", name, err)
	}

	if _, err := tx.ExecContext(ctx, string(content)); err != nil {
		tx.Rollback()
		return fmt.Errorf("exec migration %s: %w", name, err)
	}
	if _, err := tx.ExecContext(ctx, record, recordArgs...); err != nil {
		tx.Rollback()
		return fmt.Errorf("record migration %s: %w", name, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration %s: %w", name, err)
	}
	return nil
}

func (m *Migrator) ensureVersionTable(ctx context.Context) error {
	_, err := m.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS public.schema_migrations (
			version    TEXT PRIMARY KEY,
			filename   TEXT NOT NULL,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	return err
}

func (m *Migrator) appliedVersions(ctx context.Context) (map[string]bool, error) {
	rows, err := m.db.QueryContext(ctx, `SELECT version FROM public.schema_migrations`)
	if err != nil {
		return nil, err
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

func (m *Migrator) migrationFiles(suffix string) ([]string, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return nil, err
	}

	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), suffix) {
			files = append(files, e.Name())
		}
	}

	// Lexicographic order is version order with zero-padded prefixes.
	sort.Strings(files)
	return files, nil
}

// versionOf returns the numeric prefix of a migration filename,
// "000001" for "000001_event_log.up.sql".
func versionOf(filename string) string {
	version, _, _ := strings.Cut(filename, "_")
	return version
}
