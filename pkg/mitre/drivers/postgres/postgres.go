// Package postgres implements the mitre Runner and statestore.Store
// protocols for PostgreSQL, via github.com/lib/pq: the same
// Open/EnsureSchema/transaction shape as a single-table migration
// runner, generalized to a two-table ledger (migrations/migration_steps).
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	// Register the Postgres driver.
	_ "github.com/lib/pq"

	"github.com/leehambley/mitre/pkg/mitre"
	"github.com/leehambley/mitre/pkg/mitre/statestore"
	"github.com/leehambley/mitre/pkg/mitre/template"
)

// Driver implements both mitre's Runner contract (plain SQL
// execution) and statestore.Store (ledger persistence) for
// PostgreSQL.
type Driver struct {
	db              *sql.DB
	migrationsTable string
	stepsTable      string
}

// Open connects to dsn and pings it before returning.
func Open(ctx context.Context, dsn string, rc mitre.RunnerConfiguration) (*Driver, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}

	vars := template.Vars(rc)
	return &Driver{
		db:              db,
		migrationsTable: vars[template.VarMigrationStateTableName],
		stepsTable:      vars[template.VarMigrationStepsTableName],
	}, nil
}

// Name identifies this driver for diagnostics/logging.
func (d *Driver) Name() string { return string(mitre.DriverPostgreSQL) }

// Execute runs rendered source as a single statement/batch.
func (d *Driver) Execute(ctx context.Context, rendered string) error {
	_, err := d.db.ExecContext(ctx, rendered)
	if err != nil {
		return fmt.Errorf("postgres: execute: %w", err)
	}
	return nil
}

// Close releases the underlying connection pool.
func (d *Driver) Close() error {
	if d.db == nil {
		return nil
	}
	return d.db.Close()
}

// Bootstrap idempotently creates the two ledger tables inside a
// single transaction.
func (d *Driver) Bootstrap(ctx context.Context) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return &statestore.BootstrapError{Err: err}
	}

	ddl := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %[1]s (
	version BIGINT PRIMARY KEY,
	stored_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	flags TEXT NOT NULL DEFAULT '',
	configuration_name TEXT NOT NULL,
	built_in BOOLEAN NOT NULL DEFAULT FALSE
);
CREATE TABLE IF NOT EXISTS %[2]s (
	version BIGINT NOT NULL REFERENCES %[1]s(version) ON DELETE CASCADE,
	direction TEXT NOT NULL CHECK (direction IN ('up', 'down', 'change')),
	source TEXT NOT NULL CHECK (source <> ''),
	path TEXT NOT NULL,
	PRIMARY KEY (version, direction)
);`, d.migrationsTable, d.stepsTable)

	if _, err := tx.ExecContext(ctx, ddl); err != nil {
		_ = tx.Rollback()
		return &statestore.BootstrapError{Err: err}
	}

	if err := tx.Commit(); err != nil {
		return &statestore.BootstrapError{Err: err}
	}
	return nil
}

// RecordApplied appends a migration row plus its steps for up/change,
// or removes the migration row (and, via ON DELETE CASCADE, its
// steps) for down — all inside one transaction.
func (d *Driver) RecordApplied(ctx context.Context, migration mitre.Migration, direction mitre.Direction, duration time.Duration) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return &statestore.WriteError{Version: migration.Version, Err: err}
	}

	if direction == mitre.DirectionDown {
		if _, err := tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE version = $1`, d.migrationsTable), migration.Version); err != nil {
			_ = tx.Rollback()
			return &statestore.WriteError{Version: migration.Version, Err: err}
		}
		return commitOrWrap(tx, migration.Version)
	}

	_, err = tx.ExecContext(ctx, fmt.Sprintf(
		`INSERT INTO %s (version, stored_at, flags, configuration_name, built_in) VALUES ($1, NOW(), $2, $3, $4)`,
		d.migrationsTable,
	), migration.Version, strings.Join(migration.Flags, ","), migration.ConfigurationName, migration.BuiltIn)
	if err != nil {
		_ = tx.Rollback()
		return &statestore.WriteError{Version: migration.Version, Err: err}
	}

	step, ok := migration.Step(direction)
	if ok {
		_, err = tx.ExecContext(ctx, fmt.Sprintf(
			`INSERT INTO %s (version, direction, source, path) VALUES ($1, $2, $3, $4)`,
			d.stepsTable,
		), migration.Version, string(step.Direction), step.Source, step.Path)
		if err != nil {
			_ = tx.Rollback()
			return &statestore.WriteError{Version: migration.Version, Err: err}
		}
	}

	// The down step is stored alongside the up step so that an entry
	// whose files have left the disk can still be reverted.
	if down, ok := migration.Step(mitre.DirectionDown); ok && direction == mitre.DirectionUp && down.Source != "" {
		_, err = tx.ExecContext(ctx, fmt.Sprintf(
			`INSERT INTO %s (version, direction, source, path) VALUES ($1, $2, $3, $4)`,
			d.stepsTable,
		), migration.Version, string(down.Direction), down.Source, down.Path)
		if err != nil {
			_ = tx.Rollback()
			return &statestore.WriteError{Version: migration.Version, Err: err}
		}
	}

	return commitOrWrap(tx, migration.Version)
}

func commitOrWrap(tx *sql.Tx, version uint64) error {
	if err := tx.Commit(); err != nil {
		return &statestore.WriteError{Version: version, Err: err}
	}
	return nil
}

// ListApplied returns every ledger row with its steps, ordered by
// version ascending.
func (d *Driver) ListApplied(ctx context.Context) ([]statestore.AppliedEntry, error) {
	rows, err := d.db.QueryContext(ctx, fmt.Sprintf(
		`SELECT version, stored_at, flags, configuration_name, built_in FROM %s ORDER BY version ASC`,
		d.migrationsTable,
	))
	if err != nil {
		return nil, fmt.Errorf("postgres: list applied: %w", err)
	}
	defer rows.Close()

	entries := map[uint64]*statestore.AppliedEntry{}
	var order []uint64
	for rows.Next() {
		var version uint64
		var storedAt time.Time
		var flagsCSV, configName string
		var builtIn bool
		if err := rows.Scan(&version, &storedAt, &flagsCSV, &configName, &builtIn); err != nil {
			return nil, fmt.Errorf("postgres: scan applied row: %w", err)
		}
		entry := &statestore.AppliedEntry{
			Version:           version,
			StoredAt:          storedAt,
			ConfigurationName: configName,
			BuiltIn:           builtIn,
		}
		if flagsCSV != "" {
			entry.Flags = strings.Split(flagsCSV, ",")
		}
		entries[version] = entry
		order = append(order, version)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterate applied rows: %w", err)
	}

	stepRows, err := d.db.QueryContext(ctx, fmt.Sprintf(
		`SELECT version, direction, source, path FROM %s ORDER BY version ASC`,
		d.stepsTable,
	))
	if err != nil {
		return nil, fmt.Errorf("postgres: list applied steps: %w", err)
	}
	defer stepRows.Close()

	for stepRows.Next() {
		var version uint64
		var direction, source, path string
		if err := stepRows.Scan(&version, &direction, &source, &path); err != nil {
			return nil, fmt.Errorf("postgres: scan applied step: %w", err)
		}
		if entry, ok := entries[version]; ok {
			entry.Steps = append(entry.Steps, statestore.AppliedStep{
				Direction: mitre.Direction(direction),
				Source:    source,
				Path:      path,
			})
		}
	}
	if err := stepRows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterate applied steps: %w", err)
	}

	out := make([]statestore.AppliedEntry, 0, len(order))
	for _, v := range order {
		out = append(out, *entries[v])
	}
	return out, nil
}
