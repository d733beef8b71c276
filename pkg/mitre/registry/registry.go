// Package registry maps a RunnerConfiguration's driver to the set of
// extensions it accepts and to the capabilities it advertises. It is
// consulted by discovery (to validate a migration's extension against
// its resolved configuration's driver) and by the configuration
// loader (to ensure the "mitre" configuration names a driver able to
// hold state).
package registry

import "github.com/leehambley/mitre/pkg/mitre"

// Capabilities describes what a driver can do, independent of any one
// configured instance of it.
type Capabilities struct {
	CanExecute    bool
	CanStoreState bool
	CanTransact   bool
}

type entry struct {
	extensions   map[string]struct{}
	capabilities Capabilities
}

func exts(list ...string) map[string]struct{} {
	m := make(map[string]struct{}, len(list))
	for _, e := range list {
		m[e] = struct{}{}
	}
	return m
}

// table is the authoritative driver acceptance table from the
// specification.
var table = map[mitre.Driver]entry{
	mitre.DriverMySQL: {
		extensions:   exts("sql"),
		capabilities: Capabilities{CanExecute: true, CanStoreState: true, CanTransact: true},
	},
	mitre.DriverMariaDB: {
		extensions:   exts("sql"),
		capabilities: Capabilities{CanExecute: true, CanStoreState: true, CanTransact: true},
	},
	mitre.DriverPostgreSQL: {
		extensions:   exts("sql", "pgsql"),
		capabilities: Capabilities{CanExecute: true, CanStoreState: true, CanTransact: true},
	},
	mitre.DriverCurl: {
		extensions:   exts("curl"),
		capabilities: Capabilities{CanExecute: true},
	},
	mitre.DriverElasticsearch: {
		extensions:   exts("es", "curl"),
		capabilities: Capabilities{CanExecute: true},
	},
	mitre.DriverRedis: {
		extensions:   exts("redis"),
		capabilities: Capabilities{CanExecute: true},
	},
	mitre.DriverBash: {
		extensions:   exts("sh", "bash"),
		capabilities: Capabilities{CanExecute: true},
	},
	mitre.DriverSh: {
		extensions:   exts("sh", "bash"),
		capabilities: Capabilities{CanExecute: true},
	},
}

// CapabilitiesFor returns the capability bundle for driver, and whether
// driver is a recognized driver at all.
func CapabilitiesFor(driver mitre.Driver) (Capabilities, bool) {
	e, ok := table[driver]
	if !ok {
		return Capabilities{}, false
	}
	return e.capabilities, true
}

// AcceptsExtension reports whether driver accepts ext for a migration
// step file.
func AcceptsExtension(driver mitre.Driver, ext string) bool {
	e, ok := table[driver]
	if !ok {
		return false
	}
	_, ok = e.extensions[ext]
	return ok
}

// KnownDrivers returns every driver recognized by the registry.
func KnownDrivers() []mitre.Driver {
	out := make([]mitre.Driver, 0, len(table))
	for d := range table {
		out = append(out, d)
	}
	return out
}

// CanBindStateStore reports whether driver may be bound to the
// distinguished "mitre" configuration.
func CanBindStateStore(driver mitre.Driver) bool {
	caps, ok := CapabilitiesFor(driver)
	return ok && caps.CanStoreState
}
