// Package mitre holds the portable migration-planner data model
// shared by every subpackage: Migration, MigrationStep,
// RunnerConfiguration, Configuration and MigrationState. Subpackages
// (filename, discovery, planner, executor, ...) operate on these
// types rather than defining their own.
package mitre

import (
	"crypto/sha256"
	"time"
)

// Driver identifies the backend a RunnerConfiguration targets.
type Driver string

const (
	DriverMySQL         Driver = "mysql"
	DriverMariaDB        Driver = "mariadb"
	DriverPostgreSQL     Driver = "postgresql"
	DriverElasticsearch Driver = "elasticsearch"
	DriverRedis          Driver = "redis"
	DriverCurl           Driver = "curl"
	DriverBash           Driver = "bash"
	DriverSh             Driver = "sh"
)

// Direction is the role a single migration step plays.
type Direction string

const (
	DirectionUp     Direction = "up"
	DirectionDown   Direction = "down"
	DirectionChange Direction = "change"
)

// RunnerConfiguration is one named block of the configuration YAML.
// It is immutable once loaded.
type RunnerConfiguration struct {
	Name           string
	Driver         Driver
	Database       string
	Index          string
	DatabaseNumber int
	Host           string
	Port           int
	Username       string
	Password       string

	// Extra carries any additional user-defined keys from the YAML
	// block, available to template expansion.
	Extra map[string]string
}

// MigrationStep is one file contributing to a Migration: either the
// single "change" step of a regular file, or the "up"/"down" pair of
// a migration directory.
type MigrationStep struct {
	Direction Direction
	Path      string
	Source    string
}

// Migration is a single discovered (or ledger-recorded) migration
// unit. Version is the sole join key used throughout the planner;
// two Migrations are never considered "the same" by any other field.
type Migration struct {
	Version           uint64
	Slug              string
	Flags             []string
	ConfigurationName string
	Steps             []MigrationStep
	BuiltIn           bool
	SourcePath        string
}

// Step returns the step for the given direction, if the migration has
// one.
func (m Migration) Step(dir Direction) (MigrationStep, bool) {
	for _, s := range m.Steps {
		if s.Direction == dir {
			return s, true
		}
	}
	return MigrationStep{}, false
}

// HasFlag reports whether flag is present on m.
func (m Migration) HasFlag(flag string) bool {
	for _, f := range m.Flags {
		if f == flag {
			return true
		}
	}
	return false
}

// ChecksumSHA256 hashes the concatenated, direction-ordered step
// paths and sources. It exists purely for diagnostic display (e.g. show-config)
// and must never be used as a join key — Version alone is the join
// key per the planner's diff semantics.
func (m Migration) ChecksumSHA256() [32]byte {
	h := sha256.New()
	for _, d := range []Direction{DirectionChange, DirectionUp, DirectionDown} {
		if step, ok := m.Step(d); ok {
			_, _ = h.Write([]byte(step.Path))
			_, _ = h.Write([]byte(step.Source))
		}
	}
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// State is the planner's verdict for one Migration relative to the
// ledger.
type State int

const (
	// StatePending means the migration is on disk but not recorded
	// as applied.
	StatePending State = iota
	// StatePendingSkipped is StatePending plus an advisory tag-filter
	// annotation; the planner still reports the migration, it is the
	// executor/caller's responsibility to honor the skip.
	StatePendingSkipped
	// StateApplied means the migration is recorded in the ledger.
	StateApplied
	// StateOrphaned means the migration is recorded in the ledger but
	// no longer exists on disk.
	StateOrphaned
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "Pending"
	case StatePendingSkipped:
		return "Pending(Skipped)"
	case StateApplied:
		return "Applied"
	case StateOrphaned:
		return "Orphaned"
	default:
		return "Unknown"
	}
}

// MigrationState is one row of the planner's diff output.
type MigrationState struct {
	Migration Migration
	State     State

	// SkippedTag is set only when State == StatePendingSkipped; it
	// names the disallowed flag that caused the skip.
	SkippedTag string

	// AppliedAt is the ledger's stored_at, set when State is
	// StateApplied or StateOrphaned. ApplyDuration is not kept in the
	// ledger, so the planner leaves it zero.
	AppliedAt     time.Time
	ApplyDuration time.Duration
}
