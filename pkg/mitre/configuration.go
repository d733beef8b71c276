package mitre

import "fmt"

// StateStoreConfigurationName is the distinguished configuration name
// that must resolve to a RunnerConfiguration capable of implementing
// the state-store protocol.
const StateStoreConfigurationName = "mitre"

// Configuration is the ordered mapping from name to RunnerConfiguration
// produced by the configuration loader, plus the migrations root.
// Ordering is preserved because configuration order is significant for
// display (show-config) even though it never affects planning.
type Configuration struct {
	MigrationsDirectory string

	order   []string
	runners map[string]RunnerConfiguration
}

// NewConfiguration builds a Configuration from an ordered slice of
// RunnerConfigurations. Later entries with a duplicate Name overwrite
// earlier ones but keep the earlier position, matching how a YAML
// mapping with a repeated key behaves under go-yaml.
func NewConfiguration(migrationsDirectory string, runners []RunnerConfiguration) *Configuration {
	c := &Configuration{
		MigrationsDirectory: migrationsDirectory,
		runners:             make(map[string]RunnerConfiguration, len(runners)),
	}
	for _, r := range runners {
		c.put(r)
	}
	return c
}

func (c *Configuration) put(r RunnerConfiguration) {
	if _, exists := c.runners[r.Name]; !exists {
		c.order = append(c.order, r.Name)
	}
	c.runners[r.Name] = r
}

// Names returns configuration names in declaration order.
func (c *Configuration) Names() []string {
	out := make([]string, len(c.order))
	copy(out, c.order)
	return out
}

// Lookup resolves a configuration name to its RunnerConfiguration.
func (c *Configuration) Lookup(name string) (RunnerConfiguration, bool) {
	r, ok := c.runners[name]
	return r, ok
}

// StateStore resolves the distinguished "mitre" configuration.
func (c *Configuration) StateStore() (RunnerConfiguration, error) {
	r, ok := c.runners[StateStoreConfigurationName]
	if !ok {
		return RunnerConfiguration{}, fmt.Errorf("configuration: %w", ErrMissingStateStoreConfig)
	}
	return r, nil
}

// ErrMissingStateStoreConfig is returned when no "mitre" block exists
// in the loaded configuration.
var ErrMissingStateStoreConfig = fmt.Errorf("missing required %q configuration block", StateStoreConfigurationName)
