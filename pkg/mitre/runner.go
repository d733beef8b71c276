package mitre

import "context"

// Runner is the capability every driver must provide to execute one
// rendered migration step. It deliberately says nothing about state
// storage — that is the separate, narrower statestore.Store protocol,
// which only mysql and postgres implement. Runner variants are
// selected by Driver enum through a registry/constructor map, not by
// inheritance.
type Runner interface {
	Name() string
	Execute(ctx context.Context, renderedSource string) error
	Close() error
}
