// Package mysql implements the mitre Runner and statestore.Store
// protocols for MySQL and MariaDB, via github.com/go-sql-driver/mysql.
// It mirrors pkg/mitre/drivers/postgres's shape (the same
// Open/Bootstrap/transaction pattern generalized to the two-table
// ledger) with the MySQL-flavored DDL §6.3 calls for: BIGINT(14)
// primary key, MEDIUMBLOB source, ENUM direction, and an explicit
// foreign key with ON DELETE CASCADE rather than Postgres's inline
// REFERENCES clause.
package mysql

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	// Register the MySQL/MariaDB driver.
	_ "github.com/go-sql-driver/mysql"

	"github.com/leehambley/mitre/pkg/mitre"
	"github.com/leehambley/mitre/pkg/mitre/statestore"
	"github.com/leehambley/mitre/pkg/mitre/template"
)

// Driver implements both mitre's Runner contract and
// statestore.Store for MySQL/MariaDB.
type Driver struct {
	db              *sql.DB
	migrationsTable string
	stepsTable      string
}

// Open connects to dsn (a go-sql-driver/mysql DSN, e.g.
// "user:pass@tcp(host:3306)/db") and pings it.
func Open(ctx context.Context, dsn string, rc mitre.RunnerConfiguration) (*Driver, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("mysql: open: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("mysql: ping: %w", err)
	}

	vars := template.Vars(rc)
	return &Driver{
		db:              db,
		migrationsTable: vars[template.VarMigrationStateTableName],
		stepsTable:      vars[template.VarMigrationStepsTableName],
	}, nil
}

// Name identifies this driver for diagnostics/logging.
func (d *Driver) Name() string { return string(mitre.DriverMySQL) }

// Execute runs rendered source as a single statement/batch.
func (d *Driver) Execute(ctx context.Context, rendered string) error {
	if _, err := d.db.ExecContext(ctx, rendered); err != nil {
		return fmt.Errorf("mysql: execute: %w", err)
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

// Bootstrap idempotently creates the two ledger tables. MySQL predates
// "CREATE TABLE ... REFERENCES" style cross-table DDL ergonomics of
// Postgres only cosmetically; functionally this is the same two-table
// ledger with a cascading foreign key, per §6.3.
func (d *Driver) Bootstrap(ctx context.Context) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return &statestore.BootstrapError{Err: err}
	}

	migrationsDDL := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	version BIGINT(14) PRIMARY KEY,
	stored_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	flags VARCHAR(255) NOT NULL DEFAULT '',
	configuration_name VARCHAR(255) NOT NULL,
	built_in BOOLEAN NOT NULL DEFAULT FALSE
) ENGINE=InnoDB;`, d.migrationsTable)

	stepsDDL := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %[1]s (
	version BIGINT(14) NOT NULL,
	direction ENUM('up', 'down', 'change') NOT NULL,
	source MEDIUMBLOB NOT NULL,
	path VARCHAR(1024) NOT NULL,
	PRIMARY KEY (version, direction),
	CONSTRAINT fk_%[1]s_version FOREIGN KEY (version) REFERENCES %[2]s(version) ON DELETE CASCADE,
	CHECK (source <> '')
) ENGINE=InnoDB;`, d.stepsTable, d.migrationsTable)

	if _, err := tx.ExecContext(ctx, migrationsDDL); err != nil {
		_ = tx.Rollback()
		return &statestore.BootstrapError{Err: err}
	}
	if _, err := tx.ExecContext(ctx, stepsDDL); err != nil {
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
		if _, err := tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE version = ?`, d.migrationsTable), migration.Version); err != nil {
			_ = tx.Rollback()
			return &statestore.WriteError{Version: migration.Version, Err: err}
		}
		return commitOrWrap(tx, migration.Version)
	}

	_, err = tx.ExecContext(ctx, fmt.Sprintf(
		`INSERT INTO %s (version, stored_at, flags, configuration_name, built_in) VALUES (?, NOW(), ?, ?, ?)`,
		d.migrationsTable,
	), migration.Version, strings.Join(migration.Flags, ","), migration.ConfigurationName, migration.BuiltIn)
	if err != nil {
		_ = tx.Rollback()
		return &statestore.WriteError{Version: migration.Version, Err: err}
	}

	step, ok := migration.Step(direction)
	if ok {
		_, err = tx.ExecContext(ctx, fmt.Sprintf(
			`INSERT INTO %s (version, direction, source, path) VALUES (?, ?, ?, ?)`,
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
			`INSERT INTO %s (version, direction, source, path) VALUES (?, ?, ?, ?)`,
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
		return nil, fmt.Errorf("mysql: list applied: %w", err)
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
			return nil, fmt.Errorf("mysql: scan applied row: %w", err)
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
		return nil, fmt.Errorf("mysql: iterate applied rows: %w", err)
	}

	stepRows, err := d.db.QueryContext(ctx, fmt.Sprintf(
		`SELECT version, direction, source, path FROM %s ORDER BY version ASC`,
		d.stepsTable,
	))
	if err != nil {
		return nil, fmt.Errorf("mysql: list applied steps: %w", err)
	}
	defer stepRows.Close()

	for stepRows.Next() {
		var version uint64
		var direction, source, path string
		if err := stepRows.Scan(&version, &direction, &source, &path); err != nil {
			return nil, fmt.Errorf("mysql: scan applied step: %w", err)
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
		return nil, fmt.Errorf("mysql: iterate applied steps: %w", err)
	}

	out := make([]statestore.AppliedEntry, 0, len(order))
	for _, v := range order {
		out = append(out, *entries[v])
	}
	return out, nil
}

// MariaDB is a thin alias constructor: MariaDB uses the exact same
// wire protocol and SQL dialect through go-sql-driver/mysql, so it
// shares this package's Driver rather than duplicating it. Callers
// select it by configuring "_driver: mariadb" in the configuration
// YAML; the registry maps both names to the same accepted-extensions
// and capability bundle.
func OpenMariaDB(ctx context.Context, dsn string, rc mitre.RunnerConfiguration) (*Driver, error) {
	return Open(ctx, dsn, rc)
}
