// Package config loads the Mitre configuration YAML into an ordered
// mitre.Configuration: a migrations_directory plus a map of named
// RunnerConfigurations, exactly one of which (named "mitre") must be
// capable of acting as the state store.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/leehambley/mitre/pkg/mitre"
	"github.com/leehambley/mitre/pkg/mitre/registry"
)

// knownKeys are the well-known attributes of a RunnerConfiguration
// block. Anything else lands in RunnerConfiguration.Extra.
var knownKeys = map[string]struct{}{
	"_driver":         {},
	"database":        {},
	"index":           {},
	"database_number": {},
	"ip_or_hostname":  {},
	"host":            {},
	"port":            {},
	"username":        {},
	"password":        {},
}

var envToken = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// interpolate expands ${NAME} tokens using os.LookupEnv; unset names
// expand to the empty string. There is no default-value syntax.
func interpolate(s string) string {
	return envToken.ReplaceAllStringFunc(s, func(tok string) string {
		name := envToken.FindStringSubmatch(tok)[1]
		val, _ := os.LookupEnv(name)
		return val
	})
}

// Load reads and parses the YAML configuration file at path.
func Load(path string) (*mitre.Configuration, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return LoadBytes(raw, filepath.Dir(path))
}

// LoadBytes parses raw YAML already in memory. baseDir is used to
// resolve the default migrations_directory when the YAML omits one.
func LoadBytes(raw []byte, baseDir string) (*mitre.Configuration, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("config: parse yaml: %w", err)
	}
	if len(doc.Content) == 0 {
		return nil, fmt.Errorf("config: empty document")
	}

	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("config: top-level document must be a mapping")
	}

	migrationsDirectory := baseDir
	var runners []mitre.RunnerConfiguration

	for i := 0; i < len(root.Content); i += 2 {
		keyNode := root.Content[i]
		valNode := root.Content[i+1]
		key := keyNode.Value

		if key == "migrations_directory" {
			var dir string
			if err := valNode.Decode(&dir); err != nil {
				return nil, fmt.Errorf("config: decode migrations_directory: %w", err)
			}
			migrationsDirectory = interpolate(dir)
			continue
		}

		runnerCfg, err := decodeRunnerBlock(key, valNode)
		if err != nil {
			return nil, err
		}
		runners = append(runners, runnerCfg)
	}

	cfg := mitre.NewConfiguration(migrationsDirectory, runners)

	stateStore, err := cfg.StateStore()
	if err != nil {
		return nil, fmt.Errorf("config: %w", mitre.ErrMissingStateStoreConfig)
	}
	if !registry.CanBindStateStore(stateStore.Driver) {
		return nil, fmt.Errorf("config: %q is bound to driver %q, which cannot implement the state-store protocol", mitre.StateStoreConfigurationName, stateStore.Driver)
	}

	return cfg, nil
}

func decodeRunnerBlock(name string, node *yaml.Node) (mitre.RunnerConfiguration, error) {
	if node.Kind != yaml.MappingNode {
		return mitre.RunnerConfiguration{}, fmt.Errorf("config: configuration block %q must be a mapping", name)
	}

	// Decoding a MappingNode through yaml.Node.Decode into a
	// map[string]interface{} resolves YAML anchors and << merge keys
	// transparently; each value is then formatted into a string.
	raw := map[string]string{}
	rawAny := map[string]interface{}{}
	if err := node.Decode(&rawAny); err != nil {
		return mitre.RunnerConfiguration{}, fmt.Errorf("config: decode configuration block %q: %w", name, err)
	}
	for k, v := range rawAny {
		raw[k] = fmt.Sprintf("%v", v)
	}

	driverStr, ok := raw["_driver"]
	if !ok || driverStr == "" {
		return mitre.RunnerConfiguration{}, fmt.Errorf("config: configuration block %q is missing required _driver", name)
	}
	driver := mitre.Driver(interpolate(driverStr))
	if _, known := registry.CapabilitiesFor(driver); !known {
		return mitre.RunnerConfiguration{}, fmt.Errorf("config: configuration block %q has unknown driver %q", name, driver)
	}

	rc := mitre.RunnerConfiguration{
		Name:     name,
		Driver:   driver,
		Database: interpolate(raw["database"]),
		Index:    interpolate(raw["index"]),
		Username: interpolate(raw["username"]),
		Password: interpolate(raw["password"]),
		Extra:    map[string]string{},
	}

	if host, ok := raw["host"]; ok {
		rc.Host = interpolate(host)
	} else if host, ok := raw["ip_or_hostname"]; ok {
		rc.Host = interpolate(host)
	}

	if portStr, ok := raw["port"]; ok {
		port, err := strconv.Atoi(interpolate(portStr))
		if err != nil {
			return mitre.RunnerConfiguration{}, fmt.Errorf("config: configuration block %q has non-numeric port %q: %w", name, portStr, err)
		}
		rc.Port = port
	}

	if dbNumStr, ok := raw["database_number"]; ok {
		dbNum, err := strconv.Atoi(interpolate(dbNumStr))
		if err != nil {
			return mitre.RunnerConfiguration{}, fmt.Errorf("config: configuration block %q has non-numeric database_number %q: %w", name, dbNumStr, err)
		}
		rc.DatabaseNumber = dbNum
	}

	for k, v := range raw {
		if _, known := knownKeys[k]; known {
			continue
		}
		rc.Extra[k] = interpolate(v)
	}

	return rc, nil
}
