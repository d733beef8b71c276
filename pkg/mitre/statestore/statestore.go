// Package statestore defines the narrow protocol any persistent
// runner may implement to serve as the ledger: bootstrap, record an
// applied migration, and list everything recorded. The mysql and
// postgres driver packages implement Store; the planner and executor
// consume it only through this interface, never through a concrete
// driver type, so the executor can be handed any capable runner as a
// collaborator rather than owning a concrete store.
package statestore

import (
	"context"
	"fmt"
	"time"

	"github.com/leehambley/mitre/pkg/mitre"
)

// AppliedStep is one row of the ledger's child steps table.
type AppliedStep struct {
	Direction mitre.Direction
	Source    string
	Path      string
}

// AppliedEntry is one row of the ledger's parent migrations table,
// plus its associated steps.
type AppliedEntry struct {
	Version           uint64
	StoredAt          time.Time
	Flags             []string
	ConfigurationName string
	BuiltIn           bool
	Steps             []AppliedStep
}

// Store is the state-store protocol: bootstrap the ledger schema,
// record a migration's application or reversal, and list everything
// currently recorded.
type Store interface {
	// Bootstrap idempotently creates the ledger schema. Implementations
	// must use CREATE ... IF NOT EXISTS semantics (or equivalent) and
	// must run inside a transaction when the driver advertises
	// can_transact.
	Bootstrap(ctx context.Context) error

	// RecordApplied appends a ledger row for an "up" or "change"
	// step, or removes the "up"/"change" rows of the same version for
	// a "down" step, atomically.
	RecordApplied(ctx context.Context, migration mitre.Migration, direction mitre.Direction, duration time.Duration) error

	// ListApplied returns every ledger row, with its stored steps,
	// ordered by version ascending.
	ListApplied(ctx context.Context) ([]AppliedEntry, error)

	// Close releases the store's underlying connection.
	Close() error
}

// BootstrapError wraps a failure to create the ledger schema. It is
// always fatal: no migration may proceed until the ledger exists.
type BootstrapError struct {
	Err error
}

func (e *BootstrapError) Error() string { return "statestore: bootstrap failed: " + e.Err.Error() }
func (e *BootstrapError) Unwrap() error { return e.Err }

// WriteError wraps a failure to write the ledger in RecordApplied.
// Always fatal: no further migration proceeds.
type WriteError struct {
	Version uint64
	Err     error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("statestore: ledger write failed for version %d: %s", e.Version, e.Err)
}
func (e *WriteError) Unwrap() error { return e.Err }
