// Package bootstrap supplies the one built-in migration every Mitre
// invocation carries: the ledger schema itself. Built-in migrations
// are embedded in the binary (not read from disk) and are resolved as
// an in-memory source provider with the same MigrationStep shape as
// on-disk migrations, so the planner cannot distinguish them from a
// discovered migration except by the BuiltIn flag.
//
// Versions in [ReservedPrefixStart, ReservedPrefixEnd] are reserved
// for built-ins; a user migration landing in that range is rejected
// by discovery with a ReservedVersionError before it ever reaches the
// planner (see pkg/mitre/discovery).
package bootstrap

import "github.com/leehambley/mitre/pkg/mitre"

// ReservedPrefixStart and ReservedPrefixEnd bound the version range
// set aside for built-in migrations. 14-digit timestamps from real
// calendar dates never fall below year 1000, so this range can never
// collide with an honestly-dated on-disk migration.
const (
	ReservedPrefixStart uint64 = 1
	ReservedPrefixEnd   uint64 = 99
)

// LedgerSchemaVersion is the version of the bootstrap migration that
// creates the ledger's two tables.
const LedgerSchemaVersion uint64 = 1

// ledgerSchemaSource is a two-line SQL comment, not the actual DDL:
// the ledger schema is store-specific (MySQL's BIGINT/ENGINE=InnoDB
// vs. Postgres's BIGINT/CHECK constraints), and that DDL is already
// applied unconditionally by the bound statestore.Store's own
// Bootstrap() before any plan runs. This built-in migration still goes
// through the ordinary change-migration path like any other: rendered
// and executed against the dialed Runner (where it is a harmless
// no-op comment) and recorded in the ledger, so that it is visible in
// the discovered/planned list rather than silently invisible.
const ledgerSchemaSource = `-- built-in: create {{migration_state_table_name}} and {{migration_steps_table_name}} if they do not exist.
-- Actual DDL is driver-specific and already applied by statestore.Store.Bootstrap.`

// Migrations returns the full set of built-in migrations, bound to
// the given state-store configuration name, ready to be prepended to
// a discovery.Discover result.
func Migrations(stateStoreConfigurationName string) []mitre.Migration {
	return []mitre.Migration{
		{
			Version:           LedgerSchemaVersion,
			Slug:              "create_ledger_schema",
			ConfigurationName: stateStoreConfigurationName,
			BuiltIn:           true,
			SourcePath:        "<built-in>",
			Steps: []mitre.MigrationStep{
				{Direction: mitre.DirectionChange, Path: "<built-in>/create_ledger_schema", Source: ledgerSchemaSource},
			},
		},
	}
}

// IsReserved reports whether version falls in the range set aside for
// built-in migrations.
func IsReserved(version uint64) bool {
	return version >= ReservedPrefixStart && version <= ReservedPrefixEnd
}
