// Package engine is the facade that wires configuration loading,
// discovery, the runner registry, template expansion, the state
// store and the executor together into ApplyUp/ApplyDown/ListApplied
// style operations, generalized to Mitre's many drivers.
//
// It is a separate package from pkg/mitre itself because the driver
// packages (pkg/mitre/drivers/...) import pkg/mitre for its data
// model; pkg/mitre therefore cannot import the drivers back without
// creating an import cycle. engine sits above both.
package engine

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/leehambley/mitre/pkg/mitre"
	"github.com/leehambley/mitre/pkg/mitre/bootstrap"
	"github.com/leehambley/mitre/pkg/mitre/config"
	"github.com/leehambley/mitre/pkg/mitre/discovery"
	"github.com/leehambley/mitre/pkg/mitre/drivers/bash"
	"github.com/leehambley/mitre/pkg/mitre/drivers/curl"
	"github.com/leehambley/mitre/pkg/mitre/drivers/elasticsearch"
	"github.com/leehambley/mitre/pkg/mitre/drivers/mysql"
	"github.com/leehambley/mitre/pkg/mitre/drivers/postgres"
	"github.com/leehambley/mitre/pkg/mitre/drivers/redis"
	"github.com/leehambley/mitre/pkg/mitre/executor"
	"github.com/leehambley/mitre/pkg/mitre/planner"
	"github.com/leehambley/mitre/pkg/mitre/reserved"
	"github.com/leehambley/mitre/pkg/mitre/statestore"
)

// Engine owns one invocation's worth of open connections: the state
// store, and one Runner per distinct configuration it has had to
// dial. Close releases all of them. Store and Runners are exported so
// tests can construct an Engine directly against fakes, the way
// executor.Executor does.
type Engine struct {
	Configuration *mitre.Configuration
	Logger        *zap.Logger
	Store         statestore.Store
	Runners       executor.Runners
}

// Open loads the configuration at configPath and dials the state
// store. Runners for other configurations are dialed lazily by Plan
// (discovery must run first to know which configurations are even
// referenced).
func Open(ctx context.Context, configPath string, logger *zap.Logger) (*Engine, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	e := &Engine{Configuration: cfg, Logger: logger, Runners: executor.Runners{}}

	storeConfig, err := cfg.StateStore()
	if err != nil {
		return nil, err
	}
	store, err := dialStore(ctx, storeConfig)
	if err != nil {
		return nil, err
	}
	e.Store = store

	if err := store.Bootstrap(ctx); err != nil {
		_ = store.Close()
		return nil, err
	}

	return e, nil
}

// Close releases the state store and every dialed runner.
func (e *Engine) Close() error {
	var firstErr error
	if e.Store != nil {
		if err := e.Store.Close(); err != nil {
			firstErr = err
		}
	}
	for name, r := range e.Runners {
		if name == mitre.StateStoreConfigurationName {
			// Same connection as e.Store, already closed above.
			continue
		}
		if err := r.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Plan discovers on-disk migrations, prepends the built-in bootstrap
// migration, reads the ledger, and returns the ordered diff. It opens
// (and caches) a Runner for every configuration referenced by a
// discovered migration.
func (e *Engine) Plan(ctx context.Context) ([]mitre.MigrationState, []discovery.Warning, error) {
	discovered, warnings, err := discovery.Discover(e.Configuration.MigrationsDirectory, e.Configuration)
	if err != nil {
		return nil, warnings, err
	}

	stateStoreName, err := storeConfigurationName(e.Configuration)
	if err != nil {
		return nil, warnings, err
	}
	all := append(bootstrap.Migrations(stateStoreName), discovered...)

	for _, m := range all {
		if _, ok := e.Runners[m.ConfigurationName]; ok {
			continue
		}

		if m.ConfigurationName == mitre.StateStoreConfigurationName {
			// Migrations targeting the same configuration as the state
			// store share that connection rather than opening a second
			// one against the same database.
			runner, ok := e.Store.(mitre.Runner)
			if !ok {
				return nil, warnings, fmt.Errorf("engine: state store does not implement mitre.Runner")
			}
			e.Runners[m.ConfigurationName] = runner
			continue
		}

		rc, ok := e.Configuration.Lookup(m.ConfigurationName)
		if !ok {
			continue
		}
		runner, err := dialRunner(ctx, rc)
		if err != nil {
			return nil, warnings, err
		}
		e.Runners[m.ConfigurationName] = runner
	}

	ledger, err := e.Store.ListApplied(ctx)
	if err != nil {
		return nil, warnings, err
	}

	states := planner.Diff(all, ledger, planner.Options{DisallowedTags: reserved.DefaultDisallowedTags})
	for _, s := range states {
		if s.State == mitre.StateOrphaned {
			e.Logger.Warn("reconciliation: ledger entry has no matching on-disk migration",
				zap.Uint64("version", s.Migration.Version))
		}
	}
	return states, warnings, nil
}

// Executor returns an executor.Executor bound to this Engine's state
// store, dialed runners, and configuration map.
func (e *Engine) Executor() *executor.Executor {
	configs := map[string]mitre.RunnerConfiguration{}
	for _, name := range e.Configuration.Names() {
		rc, _ := e.Configuration.Lookup(name)
		configs[name] = rc
	}
	return executor.New(e.Store, e.Runners, configs, e.Logger)
}

func storeConfigurationName(cfg *mitre.Configuration) (string, error) {
	if _, err := cfg.StateStore(); err != nil {
		return "", err
	}
	return mitre.StateStoreConfigurationName, nil
}

func dialStore(ctx context.Context, rc mitre.RunnerConfiguration) (statestore.Store, error) {
	switch rc.Driver {
	case mitre.DriverMySQL:
		return mysql.Open(ctx, mysqlDSN(rc), rc)
	case mitre.DriverMariaDB:
		return mysql.OpenMariaDB(ctx, mysqlDSN(rc), rc)
	case mitre.DriverPostgreSQL:
		return postgres.Open(ctx, postgresDSN(rc), rc)
	default:
		return nil, fmt.Errorf("engine: driver %q cannot serve as a state store", rc.Driver)
	}
}

func dialRunner(ctx context.Context, rc mitre.RunnerConfiguration) (mitre.Runner, error) {
	switch rc.Driver {
	case mitre.DriverMySQL:
		return mysql.Open(ctx, mysqlDSN(rc), rc)
	case mitre.DriverMariaDB:
		return mysql.OpenMariaDB(ctx, mysqlDSN(rc), rc)
	case mitre.DriverPostgreSQL:
		return postgres.Open(ctx, postgresDSN(rc), rc)
	case mitre.DriverRedis:
		return redis.New(rc), nil
	case mitre.DriverCurl:
		return curl.New(), nil
	case mitre.DriverElasticsearch:
		return elasticsearch.New(rc), nil
	case mitre.DriverBash:
		return bash.New(rc.Driver, "/bin/bash"), nil
	case mitre.DriverSh:
		return bash.New(rc.Driver, "/bin/sh"), nil
	default:
		return nil, fmt.Errorf("engine: unknown driver %q", rc.Driver)
	}
}

func postgresDSN(rc mitre.RunnerConfiguration) string {
	host := rc.Host
	if host == "" {
		host = "127.0.0.1"
	}
	port := rc.Port
	if port == 0 {
		port = 5432
	}
	if rc.Password != "" {
		return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable", rc.Username, rc.Password, host, port, rc.Database)
	}
	return fmt.Sprintf("postgres://%s@%s:%d/%s?sslmode=disable", rc.Username, host, port, rc.Database)
}

func mysqlDSN(rc mitre.RunnerConfiguration) string {
	host := rc.Host
	if host == "" {
		host = "127.0.0.1"
	}
	port := rc.Port
	if port == 0 {
		port = 3306
	}
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s", rc.Username, rc.Password, host, port, rc.Database)
}
