// Package filename decodes a single migration path into its
// constituent version, slug, flags, configuration name and runner
// extension, per the following grammar:
//
//	migration   := version "_" slug ("." flag)* "." config_name "." ext
//	             | version "_" slug ("." flag)* "." config_name "/" ("up"|"down") "." ext
//	version     := DIGIT{14}
//	slug        := [a-zA-Z0-9_-]+        ; no dots
//	flag        := token not in reserved-non-flag
//	config_name := token, must resolve in configuration
//	ext         := token from the driver's accepted-extensions set
//
// This package does not know about configured RunnerConfigurations or
// accepted extensions; it only enforces the grammar and the reserved
// word policy. Resolving configuration_name and validating the
// extension against a driver is the discovery package's job.
package filename

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/leehambley/mitre/pkg/mitre/reserved"
)

// Parsed is the decoded form of one migration filename or directory
// name.
type Parsed struct {
	Version           uint64
	Slug              string
	Flags             []string
	ConfigurationName string

	// Extension is empty for the directory form, since the
	// extension there belongs to the child up/down files.
	Extension string
}

// versionLength is the fixed width of the version timestamp,
// YYYYMMDDHHMMSS.
const versionLength = 14

// ParseFile parses the base name of a regular ("change" form) file,
// e.g. "20210101000000_create_users.appdb.sql". It is for the
// top-level regular-file form only: an "up"/"down" file inside a
// migration directory (e.g. "up.sql") is rejected as ill-formed; the
// directory form is handled by ParseDirectory plus a plain extension
// split of its children.
func ParseFile(basename string) (Parsed, error) {
	return parse(basename, true)
}

// ParseDirectory parses the name of a directory that groups an
// up/down pair, e.g. "20210101000000_swap.appdb".
func ParseDirectory(basename string) (Parsed, error) {
	return parse(basename, false)
}

func parse(basename string, hasExtension bool) (Parsed, error) {
	minSegments := 2
	if hasExtension {
		minSegments = 3
	}

	segments := strings.Split(basename, ".")
	if len(segments) < minSegments {
		return Parsed{}, &IllFormedError{Path: basename, Reason: "too few dot-separated segments"}
	}

	var ext string
	rest := segments
	if hasExtension {
		ext = segments[len(segments)-1]
		rest = segments[:len(segments)-1]
		if ext == "" {
			return Parsed{}, &IllFormedError{Path: basename, Reason: "empty extension"}
		}
	}

	configName := rest[len(rest)-1]
	rest = rest[:len(rest)-1]
	if configName == "" {
		return Parsed{}, &IllFormedError{Path: basename, Reason: "empty configuration name"}
	}

	if len(rest) == 0 {
		return Parsed{}, &IllFormedError{Path: basename, Reason: "missing version/slug head"}
	}
	head := rest[0]
	flags := rest[1:]

	underscoreIdx := strings.IndexByte(head, '_')
	if underscoreIdx != versionLength {
		return Parsed{}, &IllFormedError{Path: basename, Reason: "expected 14-digit version followed by '_'"}
	}

	versionStr := head[:versionLength]
	for _, r := range versionStr {
		if r < '0' || r > '9' {
			return Parsed{}, &IllFormedError{Path: basename, Reason: "version is not 14 ASCII digits"}
		}
	}
	version, err := strconv.ParseUint(versionStr, 10, 64)
	if err != nil {
		return Parsed{}, &IllFormedError{Path: basename, Reason: "version does not fit a uint64: " + err.Error()}
	}

	slug := head[underscoreIdx+1:]
	if slug == "" {
		return Parsed{}, &IllFormedError{Path: basename, Reason: "empty slug"}
	}
	for _, r := range slug {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '_' || r == '-') {
			return Parsed{}, &IllFormedError{Path: basename, Reason: "slug may only contain [a-zA-Z0-9_-]"}
		}
	}

	if err := validateReservedWords(basename, configName, flags); err != nil {
		return Parsed{}, err
	}

	out := Parsed{
		Version:           version,
		Slug:              slug,
		Flags:             append([]string(nil), flags...),
		ConfigurationName: configName,
	}
	if hasExtension {
		out.Extension = ext
	}
	return out, nil
}

func validateReservedWords(path, configName string, flags []string) error {
	if !reserved.IsValidConfigurationName(configName) {
		w, _ := reserved.Lookup(configName)
		return &ReservedWordError{Path: path, Word: configName, Role: "configuration_name", Kind: w.Kind}
	}
	for _, f := range flags {
		if !reserved.IsFlaggable(f) {
			w, _ := reserved.Lookup(f)
			return &ReservedWordError{Path: path, Word: f, Role: "flag", Kind: w.Kind}
		}
	}
	return nil
}

// IllFormedError is returned when a filename does not satisfy the
// grammar at all (too few segments, non-numeric version, empty slug,
// ...).
type IllFormedError struct {
	Path   string
	Reason string
}

func (e *IllFormedError) Error() string {
	return fmt.Sprintf("filename: ill-formed migration name %q: %s", e.Path, e.Reason)
}

// ReservedWordError is returned when a configuration_name or flag
// token collides with a reserved, non-flaggable word.
type ReservedWordError struct {
	Path string
	Word string
	Role string
	Kind reserved.Kind
}

func (e *ReservedWordError) Error() string {
	return fmt.Sprintf("filename: reserved word %q (%s) used as %s in %q", e.Word, e.Kind, e.Role, e.Path)
}
