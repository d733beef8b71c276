// Package bash implements the mitre Runner contract for the
// "bash"/"sh" drivers: a migration step's rendered source is a
// shell script, executed by invoking the configured interpreter as a
// child process via os/exec. This is the one driver whose "protocol"
// is inherently OS-level process control, so it is built directly on
// the standard library rather than a third-party dependency — there
// is no corpus library that would change the contract here.
package bash

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"

	"github.com/leehambley/mitre/pkg/mitre"
)

// Driver implements the mitre.Runner contract for shell-script
// migrations.
type Driver struct {
	interpreter string
	driverName  mitre.Driver
}

// New constructs a Driver that invokes interpreter (e.g. "/bin/bash"
// or "/bin/sh") for each step.
func New(driverName mitre.Driver, interpreter string) *Driver {
	return &Driver{interpreter: interpreter, driverName: driverName}
}

// Name identifies this driver for diagnostics/logging.
func (d *Driver) Name() string { return string(d.driverName) }

// Close is a no-op: no persistent resources are held between steps.
func (d *Driver) Close() error { return nil }

// Execute writes renderedSource to the interpreter's stdin and waits
// for it to exit; a non-zero exit status is a RunnerError-worthy
// failure.
func (d *Driver) Execute(ctx context.Context, renderedSource string) error {
	cmd := exec.CommandContext(ctx, d.interpreter)
	cmd.Stdin = bytes.NewReader([]byte(renderedSource))

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("bash: %s exited with error: %w: %s", d.interpreter, err, stderr.String())
	}
	return nil
}
