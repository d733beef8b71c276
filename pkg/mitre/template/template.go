// Package template renders a migration step's raw source through a
// logic-less, Mustache-style template (variable substitution and
// section blocks only — no arbitrary expressions) using a variable
// bag derived from the step's resolved RunnerConfiguration plus the
// built-in bootstrap variables.
package template

import (
	"fmt"

	"github.com/cbroglie/mustache"

	"github.com/leehambley/mitre/pkg/mitre"
)

// Built-in variable names injected for every render, regardless of
// configuration, so that embedded/bootstrap migrations can name the
// ledger tables without hardcoding them.
const (
	VarMigrationStateDatabaseName = "migration_state_database_name"
	VarMigrationStateTableName    = "migration_state_table_name"
	VarMigrationStepsTableName    = "migration_steps_table_name"
)

// DefaultTableNames are the names used by the bundled bootstrap
// migration; callers may override them via Vars.
const (
	DefaultMigrationStateTableName = "mitre_migrations"
	DefaultMigrationStepsTableName = "mitre_migration_steps"
)

// Vars builds the variable bag for rendering a step belonging to rc.
func Vars(rc mitre.RunnerConfiguration) map[string]string {
	vars := map[string]string{
		"host":     rc.Host,
		"username": rc.Username,
		"password": rc.Password,
		"database": rc.Database,
		"index":    rc.Index,
		VarMigrationStateDatabaseName: rc.Database,
		VarMigrationStateTableName:    DefaultMigrationStateTableName,
		VarMigrationStepsTableName:    DefaultMigrationStepsTableName,
	}
	if rc.Port != 0 {
		vars["port"] = fmt.Sprintf("%d", rc.Port)
	}
	if rc.DatabaseNumber != 0 {
		vars["database_number"] = fmt.Sprintf("%d", rc.DatabaseNumber)
	}
	for k, v := range rc.Extra {
		vars[k] = v
	}
	return vars
}

// Warning is a non-fatal diagnostic: a template referenced a variable
// that is not present in the supplied bag. Missing variables render
// to the empty string and are warned about, never treated as fatal.
type Warning struct {
	Variable string
}

func (w Warning) String() string {
	return fmt.Sprintf("template: variable %q is not defined, rendering as empty string", w.Variable)
}

// Render expands source against vars, returning the rendered text and
// any missing-variable warnings. A malformed template is a fatal
// *ParseError.
func Render(source string, vars map[string]string) (string, []Warning, error) {
	tmpl, err := mustache.ParseString(source)
	if err != nil {
		return "", nil, &ParseError{Err: err}
	}

	warnings := missingVariableWarnings(tmpl, vars)

	data := make(map[string]interface{}, len(vars))
	for k, v := range vars {
		data[k] = v
	}

	rendered, err := tmpl.Render(data)
	if err != nil {
		return "", warnings, &ParseError{Err: err}
	}
	return rendered, warnings, nil
}

// missingVariableWarnings inspects the parsed template's top-level tags
// (via *mustache.Template's Tags() method) for variable tags not present
// in vars, emitting one warning per distinct missing name. No second
// render pass is made: rendering with an empty bag would turn every
// variable into "", which cannot be distinguished from a
// genuinely-empty configured value. Variable tags nested inside section
// blocks are not inspected.
func missingVariableWarnings(tmpl *mustache.Template, vars map[string]string) []Warning {
	var warnings []Warning
	seen := map[string]bool{}
	for _, tag := range tmpl.Tags() {
		if tag.Type() != mustache.Variable {
			continue
		}
		name := tag.Name()
		if _, ok := vars[name]; !ok && !seen[name] {
			seen[name] = true
			warnings = append(warnings, Warning{Variable: name})
		}
	}
	return warnings
}

// ParseError wraps a fatal template parse/render failure.
type ParseError struct {
	Err error
}

func (e *ParseError) Error() string { return fmt.Sprintf("template: %s", e.Err) }
func (e *ParseError) Unwrap() error { return e.Err }
