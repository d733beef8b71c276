// Package elasticsearch implements the mitre Runner contract for the
// "elasticsearch" driver. It accepts both ".es" and ".curl" step
// files (per the registry's acceptance table) and, since the precise
// Elasticsearch wire protocol is explicitly out of scope for this
// specification, executes them the same way the curl driver does:
// as a rendered "METHOD URL" HTTP request against the configured
// index's base URL.
package elasticsearch

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/leehambley/mitre/pkg/mitre"
)

// Driver implements the mitre.Runner contract for Elasticsearch-style
// migrations.
type Driver struct {
	client  *http.Client
	baseURL string
}

// New constructs an elasticsearch Driver targeting rc's host/port/index.
func New(rc mitre.RunnerConfiguration) *Driver {
	host := rc.Host
	if host == "" {
		host = "127.0.0.1"
	}
	port := rc.Port
	if port == 0 {
		port = 9200
	}
	base := fmt.Sprintf("http://%s:%d", host, port)
	if rc.Index != "" {
		base += "/" + rc.Index
	}
	return &Driver{
		client:  &http.Client{Timeout: 30 * time.Second},
		baseURL: base,
	}
}

// Name identifies this driver for diagnostics/logging.
func (d *Driver) Name() string { return string(mitre.DriverElasticsearch) }

// Close is a no-op: the http.Client owns no resources that must be
// released between migrations.
func (d *Driver) Close() error { return nil }

// Execute parses rendered source as "METHOD PATH\n\nBODY", resolves
// PATH against the configured index's base URL when PATH is
// relative, and issues the request.
func (d *Driver) Execute(ctx context.Context, renderedSource string) error {
	lines := strings.SplitN(strings.TrimLeft(renderedSource, "\n"), "\n", 2)
	head := strings.TrimSpace(lines[0])
	var body string
	if len(lines) == 2 {
		body = strings.TrimLeft(lines[1], "\n")
	}

	parts := strings.Fields(head)
	if len(parts) != 2 {
		return fmt.Errorf("elasticsearch: expected %q to be \"METHOD PATH\"", head)
	}
	method, path := strings.ToUpper(parts[0]), parts[1]

	url := path
	if !strings.HasPrefix(path, "http://") && !strings.HasPrefix(path, "https://") {
		url = d.baseURL + "/" + strings.TrimPrefix(path, "/")
	}

	req, err := http.NewRequestWithContext(ctx, method, url, strings.NewReader(body))
	if err != nil {
		return fmt.Errorf("elasticsearch: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("elasticsearch: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("elasticsearch: %s %s returned %s", method, url, resp.Status)
	}
	return nil
}
