// Package curl implements the mitre Runner contract for the "curl"
// driver: a migration step's rendered source is an HTTP request
// description, executed with net/http. The precise protocol bytes
// exchanged over HTTP are out of scope for the Runner contract, so
// this implementation is intentionally thin: it satisfies Execute by
// issuing the rendered request line-for-line rather than emulating
// curl's full flag surface.
//
// Rendered source is expected to be a single line of the form
// "METHOD URL" optionally followed by a blank line and a request
// body, which keeps the contract satisfiable without a dependency on
// an actual curl binary.
package curl

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/leehambley/mitre/pkg/mitre"
)

// Driver implements the mitre.Runner contract for curl-style HTTP
// migrations.
type Driver struct {
	client *http.Client
}

// New constructs a curl Driver with a sane default timeout; the
// specification imposes no timeout at the core level, so individual
// runners set their own connect timeouts.
func New() *Driver {
	return &Driver{client: &http.Client{Timeout: 30 * time.Second}}
}

// Name identifies this driver for diagnostics/logging.
func (d *Driver) Name() string { return string(mitre.DriverCurl) }

// Close is a no-op: the http.Client owns no resources that must be
// released between migrations.
func (d *Driver) Close() error { return nil }

// Execute parses the rendered source as "METHOD URL\n\nBODY" and
// issues the request, treating any non-2xx response as a failure.
func (d *Driver) Execute(ctx context.Context, renderedSource string) error {
	method, url, body, err := parseRequest(renderedSource)
	if err != nil {
		return fmt.Errorf("curl: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, strings.NewReader(body))
	if err != nil {
		return fmt.Errorf("curl: build request: %w", err)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("curl: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var buf bytes.Buffer
		_, _ = buf.ReadFrom(resp.Body)
		return fmt.Errorf("curl: %s %s returned %s: %s", method, url, resp.Status, buf.String())
	}
	return nil
}

func parseRequest(source string) (method, url, body string, err error) {
	lines := strings.SplitN(strings.TrimLeft(source, "\n"), "\n", 2)
	head := strings.TrimSpace(lines[0])
	if len(lines) == 2 {
		body = strings.TrimLeft(lines[1], "\n")
	}

	parts := strings.Fields(head)
	if len(parts) != 2 {
		return "", "", "", fmt.Errorf("expected %q to be \"METHOD URL\"", head)
	}
	return strings.ToUpper(parts[0]), parts[1], body, nil
}
