// Package redis implements the mitre Runner contract for the "redis"
// driver, via github.com/redis/go-redis/v9. A migration step's
// rendered source is a sequence of Redis commands, one per line,
// executed against the configured database_number.
package redis

import (
	"bufio"
	"context"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/leehambley/mitre/pkg/mitre"
)

// Driver implements the mitre.Runner contract for Redis migrations.
type Driver struct {
	client *redis.Client
}

// New constructs a redis Driver targeting rc's host/port/database_number.
func New(rc mitre.RunnerConfiguration) *Driver {
	host := rc.Host
	if host == "" {
		host = "127.0.0.1"
	}
	port := rc.Port
	if port == 0 {
		port = 6379
	}
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", host, port),
		Password: rc.Password,
		DB:       rc.DatabaseNumber,
	})
	return &Driver{client: client}
}

// Name identifies this driver for diagnostics/logging.
func (d *Driver) Name() string { return string(mitre.DriverRedis) }

// Close releases the underlying connection pool.
func (d *Driver) Close() error { return d.client.Close() }

// Execute runs each non-blank line of renderedSource as one Redis
// command, via the generic command dispatcher.
func (d *Driver) Execute(ctx context.Context, renderedSource string) error {
	scanner := bufio.NewScanner(strings.NewReader(renderedSource))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		args := splitArgs(line)
		if len(args) == 0 {
			continue
		}
		cmd := make([]interface{}, len(args))
		for i, a := range args {
			cmd[i] = a
		}
		if err := d.client.Do(ctx, cmd...).Err(); err != nil && err != redis.Nil {
			return fmt.Errorf("redis: command %q failed: %w", line, err)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("redis: read source: %w", err)
	}
	return nil
}

func splitArgs(line string) []string {
	return strings.Fields(line)
}
