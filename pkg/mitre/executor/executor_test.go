package executor_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leehambley/mitre/pkg/mitre"
	"github.com/leehambley/mitre/pkg/mitre/executor"
	"github.com/leehambley/mitre/pkg/mitre/statestore"
)

type fakeRunner struct {
	executed []string
	failAt   int
	calls    int
}

func (r *fakeRunner) Name() string { return "fake" }
func (r *fakeRunner) Close() error { return nil }
func (r *fakeRunner) Execute(ctx context.Context, rendered string) error {
	r.calls++
	if r.failAt != 0 && r.calls == r.failAt {
		return assert.AnError
	}
	r.executed = append(r.executed, rendered)
	return nil
}

type fakeStore struct {
	applied []statestore.AppliedEntry
}

func (s *fakeStore) Bootstrap(ctx context.Context) error { return nil }
func (s *fakeStore) Close() error                         { return nil }
func (s *fakeStore) RecordApplied(ctx context.Context, m mitre.Migration, dir mitre.Direction, d time.Duration) error {
	if dir == mitre.DirectionDown {
		filtered := s.applied[:0]
		for _, e := range s.applied {
			if e.Version != m.Version {
				filtered = append(filtered, e)
			}
		}
		s.applied = filtered
		return nil
	}
	s.applied = append(s.applied, statestore.AppliedEntry{Version: m.Version, StoredAt: time.Now()})
	return nil
}
func (s *fakeStore) ListApplied(ctx context.Context) ([]statestore.AppliedEntry, error) {
	return s.applied, nil
}

func migration(version uint64, configName string, source string) mitre.Migration {
	return mitre.Migration{
		Version:           version,
		ConfigurationName: configName,
		Steps:             []mitre.MigrationStep{{Direction: mitre.DirectionChange, Source: source}},
	}
}

func TestRun_AppliesPendingMigrationsInAscendingOrder(t *testing.T) {
	runner := &fakeRunner{}
	store := &fakeStore{}
	rc := mitre.RunnerConfiguration{Name: "appdb"}
	exec := executor.New(store, executor.Runners{"appdb": runner}, map[string]mitre.RunnerConfiguration{"appdb": rc}, nil)

	states := []mitre.MigrationState{
		{Migration: migration(2, "appdb", "SELECT 2;"), State: mitre.StatePending},
		{Migration: migration(1, "appdb", "SELECT 1;"), State: mitre.StatePending},
	}

	results, err := exec.Run(context.Background(), states, mitre.DirectionUp)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, []string{"SELECT 1;", "SELECT 2;"}, runner.executed)
	assert.Len(t, store.applied, 2)
}

func TestRun_AbortsRemainingPlanOnFailure(t *testing.T) {
	runner := &fakeRunner{failAt: 2}
	store := &fakeStore{}
	rc := mitre.RunnerConfiguration{Name: "appdb"}
	exec := executor.New(store, executor.Runners{"appdb": runner}, map[string]mitre.RunnerConfiguration{"appdb": rc}, nil)

	states := []mitre.MigrationState{
		{Migration: migration(1, "appdb", "SELECT 1;"), State: mitre.StatePending},
		{Migration: migration(2, "appdb", "SELECT 2;"), State: mitre.StatePending},
		{Migration: migration(3, "appdb", "SELECT 3;"), State: mitre.StatePending},
	}

	results, err := exec.Run(context.Background(), states, mitre.DirectionUp)
	require.Error(t, err)
	assert.Len(t, store.applied, 1)
	assert.Len(t, results, 2)
}

func TestRun_DownReversesInDescendingOrder(t *testing.T) {
	runner := &fakeRunner{}
	store := &fakeStore{applied: []statestore.AppliedEntry{{Version: 1}, {Version: 2}}}
	rc := mitre.RunnerConfiguration{Name: "appdb"}
	exec := executor.New(store, executor.Runners{"appdb": runner}, map[string]mitre.RunnerConfiguration{"appdb": rc}, nil)

	m1 := mitre.Migration{Version: 1, ConfigurationName: "appdb", Steps: []mitre.MigrationStep{{Direction: mitre.DirectionDown, Source: "DROP 1;"}}}
	m2 := mitre.Migration{Version: 2, ConfigurationName: "appdb", Steps: []mitre.MigrationStep{{Direction: mitre.DirectionDown, Source: "DROP 2;"}}}

	states := []mitre.MigrationState{
		{Migration: m1, State: mitre.StateApplied},
		{Migration: m2, State: mitre.StateApplied},
	}

	_, err := exec.Run(context.Background(), states, mitre.DirectionDown)
	require.NoError(t, err)
	assert.Equal(t, []string{"DROP 2;", "DROP 1;"}, runner.executed)
	assert.Empty(t, store.applied)
}
