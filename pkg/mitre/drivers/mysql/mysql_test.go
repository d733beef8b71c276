package mysql

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leehambley/mitre/pkg/mitre"
)

func newMockDriver(t *testing.T) (*Driver, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	return &Driver{
		db:              db,
		migrationsTable: "mitre_migrations",
		stepsTable:      "mitre_migration_steps",
	}, mock
}

func TestBootstrap_CreatesBothTablesIdempotently(t *testing.T) {
	d, mock := newMockDriver(t)

	mock.ExpectBegin()
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS mitre_migrations").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS mitre_migration_steps").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	require.NoError(t, d.Bootstrap(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())

	// CREATE TABLE IF NOT EXISTS is idempotent: running Bootstrap a
	// second time against an already-provisioned database issues the
	// same two statements and still commits cleanly.
	mock.ExpectBegin()
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS mitre_migrations").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS mitre_migration_steps").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	require.NoError(t, d.Bootstrap(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordApplied_InsertsMigrationAndStepOnChange(t *testing.T) {
	d, mock := newMockDriver(t)

	migration := mitre.Migration{
		Version:           20210101000000,
		Slug:              "create_users",
		ConfigurationName: "appdb",
		Steps: []mitre.MigrationStep{
			{Direction: mitre.DirectionChange, Path: "20210101000000_create_users.appdb.sql", Source: "CREATE TABLE users (id BIGINT PRIMARY KEY);"},
		},
	}

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO mitre_migrations").
		WithArgs(migration.Version, "", migration.ConfigurationName, migration.BuiltIn).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO mitre_migration_steps").
		WithArgs(migration.Version, string(mitre.DirectionChange), migration.Steps[0].Source, migration.Steps[0].Path).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	// Mirrors postgres's equivalent test: a single-file "change"
	// migration must still produce a migration_steps row once
	// runOne's fallback resolves stepDirection to DirectionChange.
	err := d.RecordApplied(context.Background(), migration, mitre.DirectionChange, time.Millisecond)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordApplied_DeletesMigrationRowOnDown(t *testing.T) {
	d, mock := newMockDriver(t)

	migration := mitre.Migration{Version: 20210101000000, ConfigurationName: "appdb"}

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM mitre_migrations").
		WithArgs(migration.Version).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := d.RecordApplied(context.Background(), migration, mitre.DirectionDown, time.Millisecond)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListApplied_ReturnsRowsWithSteps(t *testing.T) {
	d, mock := newMockDriver(t)

	storedAt := time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery("SELECT version, stored_at, flags, configuration_name, built_in FROM mitre_migrations").
		WillReturnRows(sqlmock.NewRows([]string{"version", "stored_at", "flags", "configuration_name", "built_in"}).
			AddRow(uint64(20210101000000), storedAt, "", "appdb", false))
	mock.ExpectQuery("SELECT version, direction, source, path FROM mitre_migration_steps").
		WillReturnRows(sqlmock.NewRows([]string{"version", "direction", "source", "path"}).
			AddRow(uint64(20210101000000), "change", "CREATE TABLE users (id BIGINT PRIMARY KEY);", "20210101000000_create_users.appdb.sql"))

	entries, err := d.ListApplied(context.Background())
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())

	require.Len(t, entries, 1)
	entry := entries[0]
	assert.Equal(t, uint64(20210101000000), entry.Version)
	assert.Equal(t, "appdb", entry.ConfigurationName)
	assert.Empty(t, entry.Flags)
	require.Len(t, entry.Steps, 1)
	assert.Equal(t, mitre.DirectionChange, entry.Steps[0].Direction)
	assert.Equal(t, "20210101000000_create_users.appdb.sql", entry.Steps[0].Path)
}
