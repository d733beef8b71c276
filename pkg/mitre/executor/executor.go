// Package executor drives a plan produced by the planner: render each
// pending migration's step through the template package, invoke the
// migration's bound Runner, and record success through the injected
// statestore.Store collaborator. The store is handed to the Executor
// rather than owned by it — and the executor is handed to nothing in
// turn — specifically to avoid the ledger-vs-executor cyclic
// reference the design notes warn about.
package executor

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/leehambley/mitre/pkg/mitre"
	"github.com/leehambley/mitre/pkg/mitre/statestore"
	"github.com/leehambley/mitre/pkg/mitre/template"
)

// Phase tracks one migration's progress through the state machine
// Discovered -> Rendered -> Executing -> (Applied|Failed). It exists
// for observability/logging only: the ledger only ever records the
// terminal Applied state.
type Phase int

const (
	PhaseDiscovered Phase = iota
	PhaseRendered
	PhaseExecuting
	PhaseApplied
	PhaseFailed
)

// Runners resolves a migration's configuration_name to the Runner
// bound to it.
type Runners map[string]mitre.Runner

// Executor drives a plan to completion against a single state store.
type Executor struct {
	Store       statestore.Store
	Runners     Runners
	Configs     map[string]mitre.RunnerConfiguration
	Logger      *zap.Logger
}

// New constructs an Executor. A nil logger is replaced with a no-op
// logger, so callers that don't care about diagnostics can ignore
// logging entirely.
func New(store statestore.Store, runners Runners, configs map[string]mitre.RunnerConfiguration, logger *zap.Logger) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{Store: store, Runners: runners, Configs: configs, Logger: logger}
}

// Result is one migration's outcome after Run.
type Result struct {
	Migration mitre.Migration
	Phase     Phase
	Err       error
}

// Run iterates states in ascending version order (or, for
// mitre.DirectionDown, descending version order — see DESIGN.md's
// resolution of the "down step ordering" open question) and executes
// every entry eligible for direction. Any failure aborts the
// remaining sequence; migrations already recorded as applied before
// the failure stay recorded.
func (e *Executor) Run(ctx context.Context, states []mitre.MigrationState, direction mitre.Direction) ([]Result, error) {
	eligible := selectEligible(states, direction)

	var results []Result
	for _, state := range eligible {
		if err := ctx.Err(); err != nil {
			// Cancellation between migrations: nothing for this
			// migration has started, so it remains Pending at the
			// next diff.
			break
		}

		// Once a migration has started, its runner call and ledger
		// write run to completion even if ctx is canceled meanwhile:
		// cancellation only takes effect at the check above.
		result := e.runOne(context.WithoutCancel(ctx), state.Migration, direction)
		results = append(results, result)
		if result.Err != nil {
			return results, fmt.Errorf("executor: migration %d failed: %w", state.Migration.Version, result.Err)
		}
	}
	return results, nil
}

func selectEligible(states []mitre.MigrationState, direction mitre.Direction) []mitre.MigrationState {
	var eligible []mitre.MigrationState
	for _, s := range states {
		switch direction {
		case mitre.DirectionDown:
			// The built-in ledger-schema migration has no down step: it
			// is never reverted, since reverting it would destroy the
			// ledger an in-progress down run still needs to write to.
			if s.Migration.BuiltIn {
				continue
			}
			if s.State == mitre.StateApplied || s.State == mitre.StateOrphaned {
				eligible = append(eligible, s)
			}
		default:
			if s.State == mitre.StatePending {
				eligible = append(eligible, s)
			}
		}
	}

	sort.SliceStable(eligible, func(i, j int) bool {
		if direction == mitre.DirectionDown {
			return eligible[i].Migration.Version > eligible[j].Migration.Version
		}
		return eligible[i].Migration.Version < eligible[j].Migration.Version
	})
	return eligible
}

func (e *Executor) runOne(ctx context.Context, migration mitre.Migration, direction mitre.Direction) Result {
	stepDirection := direction
	step, ok := migration.Step(stepDirection)
	if !ok && direction != mitre.DirectionDown {
		step, ok = migration.Step(mitre.DirectionChange)
		if ok {
			stepDirection = mitre.DirectionChange
		}
	}
	if !ok {
		err := fmt.Errorf("executor: migration %d has no %s step", migration.Version, stepDirection)
		e.Logger.Warn("missing step", zap.Uint64("version", migration.Version), zap.String("direction", string(stepDirection)))
		return Result{Migration: migration, Phase: PhaseFailed, Err: err}
	}

	rc, ok := e.Configs[migration.ConfigurationName]
	if !ok {
		err := fmt.Errorf("executor: migration %d references unbound configuration %q", migration.Version, migration.ConfigurationName)
		return Result{Migration: migration, Phase: PhaseFailed, Err: err}
	}

	rendered, warnings, err := template.Render(step.Source, template.Vars(rc))
	for _, w := range warnings {
		e.Logger.Warn(w.String(), zap.Uint64("version", migration.Version))
	}
	if err != nil {
		return Result{Migration: migration, Phase: PhaseFailed, Err: fmt.Errorf("render: %w", err)}
	}

	runner, ok := e.Runners[migration.ConfigurationName]
	if !ok {
		err := fmt.Errorf("executor: no runner bound to configuration %q", migration.ConfigurationName)
		return Result{Migration: migration, Phase: PhaseFailed, Err: err}
	}

	start := time.Now()
	if err := runner.Execute(ctx, rendered); err != nil {
		e.Logger.Error("runner execution failed", zap.Uint64("version", migration.Version), zap.Error(err))
		return Result{Migration: migration, Phase: PhaseFailed, Err: &RunnerError{Version: migration.Version, ConfigurationName: migration.ConfigurationName, Err: err}}
	}
	duration := time.Since(start)

	if err := e.Store.RecordApplied(ctx, migration, stepDirection, duration); err != nil {
		e.Logger.Error("ledger write failed after successful run; reconciliation needed at next diff",
			zap.Uint64("version", migration.Version), zap.Error(err))
		return Result{Migration: migration, Phase: PhaseFailed, Err: err}
	}

	return Result{Migration: migration, Phase: PhaseApplied}
}

// RunnerError wraps a per-migration execution failure; it aborts the
// remaining plan while leaving the successfully-applied prefix
// intact.
type RunnerError struct {
	Version           uint64
	ConfigurationName string
	Err               error
}

func (e *RunnerError) Error() string {
	return fmt.Sprintf("executor: runner %q failed for migration %d: %s", e.ConfigurationName, e.Version, e.Err)
}
func (e *RunnerError) Unwrap() error { return e.Err }
