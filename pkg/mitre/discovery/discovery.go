// Package discovery recursively walks a migrations root directory,
// filters candidate migrations by filename, associates each with its
// configured runner, and assembles per-migration step sets — either a
// single "change" step (regular file) or an "up"/"down" directory
// pair. The returned sequence is sorted strictly by version ascending;
// a duplicate version anywhere in the tree is a fatal error.
package discovery

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	ignore "github.com/sabhiram/go-gitignore"

	"github.com/leehambley/mitre/pkg/mitre"
	"github.com/leehambley/mitre/pkg/mitre/bootstrap"
	"github.com/leehambley/mitre/pkg/mitre/filename"
	"github.com/leehambley/mitre/pkg/mitre/registry"
)

// Warning is a non-fatal diagnostic collected during a walk.
type Warning struct {
	Path    string
	Message string
}

func (w Warning) String() string { return fmt.Sprintf("%s: %s", w.Path, w.Message) }

// malformedCandidatePattern matches anything that looks like it was
// meant to be a migration (14 digits + underscore) but failed to
// parse; these are warned about rather than silently ignored.
var malformedCandidatePattern = regexp.MustCompile(`^\d{14}_`)

// Discover walks root and returns every well-formed migration found,
// sorted by version ascending. cfg resolves configuration_name
// references and validates accepted extensions.
func Discover(root string, cfg *mitre.Configuration) ([]mitre.Migration, []Warning, error) {
	matcher := loadIgnoreMatcher(root)

	var migrations []mitre.Migration
	var warnings []Warning

	if err := walk(root, root, cfg, matcher, &migrations, &warnings); err != nil {
		return nil, warnings, err
	}

	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Version < migrations[j].Version
	})

	if err := checkDuplicateVersions(migrations); err != nil {
		return nil, warnings, err
	}

	for _, m := range migrations {
		if bootstrap.IsReserved(m.Version) {
			return nil, warnings, &ReservedVersionError{Path: m.SourcePath, Version: m.Version}
		}
	}

	return migrations, warnings, nil
}

func loadIgnoreMatcher(root string) *ignore.GitIgnore {
	path := filepath.Join(root, ".gitignore")
	m, err := ignore.CompileIgnoreFile(path)
	if err != nil {
		// No .gitignore, or it is unreadable: proceed without any
		// ignore rules rather than failing discovery outright.
		return ignore.CompileIgnoreLines()
	}
	return m
}

func walk(root, dir string, cfg *mitre.Configuration, matcher *ignore.GitIgnore, out *[]mitre.Migration, warnings *[]Warning) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("discovery: read dir %s: %w", dir, err)
	}

	for _, entry := range entries {
		name := entry.Name()
		fullPath := filepath.Join(dir, name)
		relPath, _ := filepath.Rel(root, fullPath)

		if matcher.MatchesPath(relPath) {
			continue
		}

		if entry.IsDir() {
			if strings.HasPrefix(name, ".") {
				continue
			}

			migration, ok, err := tryMigrationDirectory(root, fullPath, name, cfg)
			if err != nil {
				return err
			}
			if ok {
				*out = append(*out, migration)
				continue
			}

			if malformedCandidatePattern.MatchString(name) {
				*warnings = append(*warnings, Warning{Path: relPath, Message: "MalformedCandidate: looks like a migration directory but failed to parse"})
			}

			if err := walk(root, fullPath, cfg, matcher, out, warnings); err != nil {
				return err
			}
			continue
		}

		if strings.HasPrefix(name, ".") {
			continue
		}

		migration, ok, err := tryChangeFile(root, fullPath, name, cfg)
		if err != nil {
			return err
		}
		if ok {
			*out = append(*out, migration)
			continue
		}

		if malformedCandidatePattern.MatchString(name) {
			*warnings = append(*warnings, Warning{Path: relPath, Message: "MalformedCandidate: looks like a migration file but failed to parse"})
		}
	}

	return nil
}

// tryChangeFile attempts to parse name as a regular "change" form
// migration file. ok is false (with no error) when name simply does
// not look like a migration at all; an error is returned only once
// name has committed to the migration grammar but then violates an
// invariant (unknown configuration_name, unaccepted extension, ...).
func tryChangeFile(root, fullPath, name string, cfg *mitre.Configuration) (mitre.Migration, bool, error) {
	parsed, err := filename.ParseFile(name)
	if err != nil {
		return mitre.Migration{}, false, nil
	}

	rc, ok := cfg.Lookup(parsed.ConfigurationName)
	if !ok {
		return mitre.Migration{}, false, &UnknownConfigurationNameError{Path: fullPath, ConfigurationName: parsed.ConfigurationName}
	}
	if !registry.AcceptsExtension(rc.Driver, parsed.Extension) {
		return mitre.Migration{}, false, &UnacceptedExtensionError{Path: fullPath, Driver: rc.Driver, Extension: parsed.Extension}
	}

	source, err := os.ReadFile(fullPath)
	if err != nil {
		return mitre.Migration{}, false, fmt.Errorf("discovery: read %s: %w", fullPath, err)
	}

	relPath, _ := filepath.Rel(root, fullPath)

	return mitre.Migration{
		Version:           parsed.Version,
		Slug:              parsed.Slug,
		Flags:             parsed.Flags,
		ConfigurationName: parsed.ConfigurationName,
		SourcePath:        relPath,
		Steps: []mitre.MigrationStep{
			{Direction: mitre.DirectionChange, Path: relPath, Source: string(source)},
		},
	}, true, nil
}

// tryMigrationDirectory attempts to parse dirName as a directory-form
// migration and, if it parses, validates and reads its up/down
// children.
func tryMigrationDirectory(root, fullPath, dirName string, cfg *mitre.Configuration) (mitre.Migration, bool, error) {
	parsed, err := filename.ParseDirectory(dirName)
	if err != nil {
		return mitre.Migration{}, false, nil
	}

	rc, ok := cfg.Lookup(parsed.ConfigurationName)
	if !ok {
		return mitre.Migration{}, false, &UnknownConfigurationNameError{Path: fullPath, ConfigurationName: parsed.ConfigurationName}
	}

	children, err := os.ReadDir(fullPath)
	if err != nil {
		return mitre.Migration{}, false, fmt.Errorf("discovery: read dir %s: %w", fullPath, err)
	}

	var steps []mitre.MigrationStep
	var ext string
	seen := map[mitre.Direction]bool{}

	for _, child := range children {
		if child.IsDir() {
			continue
		}
		childName := child.Name()
		base := strings.TrimSuffix(childName, filepath.Ext(childName))
		childExt := strings.TrimPrefix(filepath.Ext(childName), ".")

		var direction mitre.Direction
		switch base {
		case "up":
			direction = mitre.DirectionUp
		case "down":
			direction = mitre.DirectionDown
		default:
			// Anything else inside a parsed migration directory is
			// not part of the migration's grammar; directory-form
			// migrations only recognize up.<ext>/down.<ext>.
			return mitre.Migration{}, false, &MixedChangeAndUpDownError{Path: fullPath, UnexpectedFile: childName}
		}

		if ext == "" {
			ext = childExt
		} else if ext != childExt {
			return mitre.Migration{}, false, &MixedChangeAndUpDownError{Path: fullPath, UnexpectedFile: childName}
		}

		if !registry.AcceptsExtension(rc.Driver, childExt) {
			return mitre.Migration{}, false, &UnacceptedExtensionError{Path: filepath.Join(fullPath, childName), Driver: rc.Driver, Extension: childExt}
		}

		childFullPath := filepath.Join(fullPath, childName)
		source, err := os.ReadFile(childFullPath)
		if err != nil {
			return mitre.Migration{}, false, fmt.Errorf("discovery: read %s: %w", childFullPath, err)
		}

		relPath, _ := filepath.Rel(root, childFullPath)
		steps = append(steps, mitre.MigrationStep{Direction: direction, Path: relPath, Source: string(source)})
		seen[direction] = true
	}

	if len(steps) == 0 {
		// Parsed as a migration directory name but has no up/down
		// children at all: not a migration, just a directory that
		// happens to share the naming convention. Let the caller
		// recurse into it instead of erroring.
		return mitre.Migration{}, false, nil
	}

	relDir, _ := filepath.Rel(root, fullPath)

	return mitre.Migration{
		Version:           parsed.Version,
		Slug:              parsed.Slug,
		Flags:             parsed.Flags,
		ConfigurationName: parsed.ConfigurationName,
		SourcePath:        relDir,
		Steps:             steps,
	}, true, nil
}

func checkDuplicateVersions(migrations []mitre.Migration) error {
	byVersion := map[uint64][]string{}
	for _, m := range migrations {
		byVersion[m.Version] = append(byVersion[m.Version], m.SourcePath)
	}
	for version, paths := range byVersion {
		if len(paths) > 1 {
			return &DuplicateVersionError{Version: version, Paths: paths}
		}
	}
	return nil
}

// DuplicateVersionError is fatal: two or more migrations share the
// same version.
type DuplicateVersionError struct {
	Version uint64
	Paths   []string
}

func (e *DuplicateVersionError) Error() string {
	return fmt.Sprintf("discovery: duplicate version %d across %v", e.Version, e.Paths)
}

// UnknownConfigurationNameError is fatal: a migration's
// configuration_name does not resolve in the loaded Configuration.
type UnknownConfigurationNameError struct {
	Path              string
	ConfigurationName string
}

func (e *UnknownConfigurationNameError) Error() string {
	return fmt.Sprintf("discovery: %s references unknown configuration %q", e.Path, e.ConfigurationName)
}

// UnacceptedExtensionError is fatal: a migration's runner extension is
// not among the extensions its resolved driver accepts.
type UnacceptedExtensionError struct {
	Path      string
	Driver    mitre.Driver
	Extension string
}

func (e *UnacceptedExtensionError) Error() string {
	return fmt.Sprintf("discovery: %s has extension %q, not accepted by driver %q", e.Path, e.Extension, e.Driver)
}

// ReservedVersionError is fatal: an on-disk migration's version falls
// in the range reserved for built-in migrations.
type ReservedVersionError struct {
	Path    string
	Version uint64
}

func (e *ReservedVersionError) Error() string {
	return fmt.Sprintf("discovery: %s has version %d, which is reserved for built-in migrations", e.Path, e.Version)
}

// MixedChangeAndUpDownError is fatal: a migration directory contains
// something other than a matching up.<ext>/down.<ext> pair.
type MixedChangeAndUpDownError struct {
	Path           string
	UnexpectedFile string
}

func (e *MixedChangeAndUpDownError) Error() string {
	return fmt.Sprintf("discovery: %s contains unexpected file %q; directory-form migrations may only contain up.<ext> and/or down.<ext>", e.Path, e.UnexpectedFile)
}
