package engine_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/leehambley/mitre/pkg/mitre"
	"github.com/leehambley/mitre/pkg/mitre/engine"
	"github.com/leehambley/mitre/pkg/mitre/executor"
	"github.com/leehambley/mitre/pkg/mitre/statestore"
)

// fakeStoreRunner implements both statestore.Store and mitre.Runner,
// mirroring how postgres.Driver and mysql.Driver double as both.
type fakeStoreRunner struct {
	applied   []statestore.AppliedEntry
	closed    int
	executed  []string
}

func (s *fakeStoreRunner) Bootstrap(ctx context.Context) error { return nil }
func (s *fakeStoreRunner) Close() error                        { s.closed++; return nil }
func (s *fakeStoreRunner) RecordApplied(ctx context.Context, m mitre.Migration, dir mitre.Direction, d time.Duration) error {
	s.applied = append(s.applied, statestore.AppliedEntry{Version: m.Version, StoredAt: time.Now()})
	return nil
}
func (s *fakeStoreRunner) ListApplied(ctx context.Context) ([]statestore.AppliedEntry, error) {
	return s.applied, nil
}
func (s *fakeStoreRunner) Name() string { return "fake" }
func (s *fakeStoreRunner) Execute(ctx context.Context, rendered string) error {
	s.executed = append(s.executed, rendered)
	return nil
}

func newEngine(t *testing.T, migrationsDir string) (*engine.Engine, *fakeStoreRunner) {
	t.Helper()
	store := &fakeStoreRunner{}
	cfg := mitre.NewConfiguration(migrationsDir, []mitre.RunnerConfiguration{
		{Name: "mitre", Driver: mitre.DriverPostgreSQL},
	})
	e := &engine.Engine{
		Configuration: cfg,
		Logger:        zap.NewNop(),
		Store:         store,
		Runners:       executor.Runners{},
	}
	return e, store
}

func TestPlan_BuiltInSharesStateStoreConnection(t *testing.T) {
	dir := t.TempDir()
	e, store := newEngine(t, dir)

	states, _, err := e.Plan(context.Background())
	require.NoError(t, err)
	require.Len(t, states, 1)
	assert.True(t, states[0].Migration.BuiltIn)

	runner, ok := e.Runners[mitre.StateStoreConfigurationName]
	require.True(t, ok)
	assert.Same(t, store, runner, "the built-in's runner should be the same object as the state store")
}

func TestEngineClose_DoesNotDoubleCloseSharedStoreConnection(t *testing.T) {
	dir := t.TempDir()
	e, store := newEngine(t, dir)

	_, _, err := e.Plan(context.Background())
	require.NoError(t, err)

	require.NoError(t, e.Close())
	assert.Equal(t, 1, store.closed, "the state store's Close should run exactly once even though it is aliased into Runners")
}
