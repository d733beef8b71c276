// Package planner computes the totally ordered diff between the set
// of on-disk migrations and the set of recorded-as-applied ledger
// entries. It performs no I/O: Diff is a pure function over its
// inputs, so its output is idempotent for unchanged inputs, per the
// specification's testable properties.
package planner

import (
	"sort"

	"github.com/leehambley/mitre/pkg/mitre"
	"github.com/leehambley/mitre/pkg/mitre/statestore"
)

// Options configures the advisory tag-filter policy layered atop the
// join. The diff itself never drops entries; DisallowedTags only
// annotates Pending entries as Skipped.
type Options struct {
	// DisallowedTags is the set of flags that, if present on a
	// Pending migration, mark it Pending(Skipped: <tag>) instead of
	// Pending. A nil map disables filtering entirely (every Pending
	// migration is plain Pending).
	DisallowedTags map[string]struct{}
}

// Diff joins discovered migrations with ledger entries on Version and
// returns an ordered sequence of MigrationState, sorted by version
// ascending.
//
// Join semantics:
//   - v in discovered ∩ ledger -> Applied
//   - v in discovered \ ledger -> Pending (or Pending(Skipped) per opts)
//   - v in ledger \ discovered -> Orphaned
func Diff(discovered []mitre.Migration, ledger []statestore.AppliedEntry, opts Options) []mitre.MigrationState {
	ledgerByVersion := make(map[uint64]statestore.AppliedEntry, len(ledger))
	for _, e := range ledger {
		ledgerByVersion[e.Version] = e
	}

	seen := make(map[uint64]struct{}, len(discovered))
	states := make([]mitre.MigrationState, 0, len(discovered)+len(ledger))

	for _, m := range discovered {
		seen[m.Version] = struct{}{}

		if entry, applied := ledgerByVersion[m.Version]; applied {
			states = append(states, mitre.MigrationState{
				Migration:     m,
				State:         mitre.StateApplied,
				AppliedAt:     entry.StoredAt,
				ApplyDuration: 0,
			})
			continue
		}

		state := mitre.MigrationState{Migration: m, State: mitre.StatePending}
		if tag, skipped := disallowedTag(m, opts.DisallowedTags); skipped {
			state.State = mitre.StatePendingSkipped
			state.SkippedTag = tag
		}
		states = append(states, state)
	}

	for _, entry := range ledger {
		if _, ok := seen[entry.Version]; ok {
			continue
		}
		states = append(states, mitre.MigrationState{
			Migration: orphanedMigration(entry),
			State:     mitre.StateOrphaned,
			AppliedAt: entry.StoredAt,
		})
	}

	sort.SliceStable(states, func(i, j int) bool {
		return states[i].Migration.Version < states[j].Migration.Version
	})

	return states
}

func disallowedTag(m mitre.Migration, disallowed map[string]struct{}) (string, bool) {
	if disallowed == nil {
		return "", false
	}
	for _, flag := range m.Flags {
		if _, bad := disallowed[flag]; bad {
			return flag, true
		}
	}
	return "", false
}

// orphanedMigration reconstructs a Migration shell from a ledger entry
// so that a down step can still be attempted against it: the ledger
// retains step source bytes even after the on-disk file is gone.
func orphanedMigration(entry statestore.AppliedEntry) mitre.Migration {
	steps := make([]mitre.MigrationStep, 0, len(entry.Steps))
	for _, s := range entry.Steps {
		steps = append(steps, mitre.MigrationStep{Direction: s.Direction, Path: s.Path, Source: s.Source})
	}
	return mitre.Migration{
		Version:           entry.Version,
		ConfigurationName: entry.ConfigurationName,
		Flags:             entry.Flags,
		BuiltIn:           entry.BuiltIn,
		Steps:             steps,
	}
}
