package planner_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leehambley/mitre/pkg/mitre"
	"github.com/leehambley/mitre/pkg/mitre/planner"
	"github.com/leehambley/mitre/pkg/mitre/reserved"
	"github.com/leehambley/mitre/pkg/mitre/statestore"
)

func TestDiff_AppliedWhenInBoth(t *testing.T) {
	discovered := []mitre.Migration{{Version: 1}}
	ledger := []statestore.AppliedEntry{{Version: 1, StoredAt: time.Unix(0, 0)}}

	states := planner.Diff(discovered, ledger, planner.Options{})
	require.Len(t, states, 1)
	assert.Equal(t, mitre.StateApplied, states[0].State)
}

func TestDiff_PendingWhenOnDiskOnly(t *testing.T) {
	discovered := []mitre.Migration{{Version: 1}}

	states := planner.Diff(discovered, nil, planner.Options{})
	require.Len(t, states, 1)
	assert.Equal(t, mitre.StatePending, states[0].State)
}

func TestDiff_OrphanedWhenLedgerOnly(t *testing.T) {
	ledger := []statestore.AppliedEntry{{Version: 1, StoredAt: time.Unix(0, 0), Steps: []statestore.AppliedStep{
		{Direction: mitre.DirectionDown, Source: "DROP TABLE t;", Path: "down.sql"},
	}}}

	states := planner.Diff(nil, ledger, planner.Options{})
	require.Len(t, states, 1)
	assert.Equal(t, mitre.StateOrphaned, states[0].State)

	down, ok := states[0].Migration.Step(mitre.DirectionDown)
	require.True(t, ok)
	assert.Equal(t, "DROP TABLE t;", down.Source)
}

func TestDiff_SkippedByDefaultTagPolicy(t *testing.T) {
	discovered := []mitre.Migration{{Version: 1, Flags: []string{"risky"}}}

	states := planner.Diff(discovered, nil, planner.Options{DisallowedTags: reserved.DefaultDisallowedTags})
	require.Len(t, states, 1)
	assert.Equal(t, mitre.StatePendingSkipped, states[0].State)
	assert.Equal(t, "risky", states[0].SkippedTag)
}

func TestDiff_AscendingOrderAndIdempotent(t *testing.T) {
	discovered := []mitre.Migration{{Version: 3}, {Version: 1}, {Version: 2}}

	first := planner.Diff(discovered, nil, planner.Options{})
	second := planner.Diff(discovered, nil, planner.Options{})

	require.Len(t, first, 3)
	assert.Equal(t, []uint64{1, 2, 3}, versions(first))
	assert.Equal(t, versions(first), versions(second))
}

func versions(states []mitre.MigrationState) []uint64 {
	out := make([]uint64, len(states))
	for i, s := range states {
		out[i] = s.Migration.Version
	}
	return out
}
