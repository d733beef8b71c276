// Package reserved holds the built-in table of words that may not be
// used as a configuration name or as a flag in a migration filename,
// plus the small set of words that are permitted as flags.
package reserved

// Kind classifies why a word is reserved.
type Kind string

const (
	// KindRunner marks a driver name (e.g. "mysql").
	KindRunner Kind = "runner"
	// KindDirection marks a step direction token (e.g. "up").
	KindDirection Kind = "direction"
	// KindFlag marks one of the canonical, permitted flags.
	KindFlag Kind = "flag"
	// KindKeyword marks any other reserved keyword.
	KindKeyword Kind = "keyword"
)

// Word is one entry of the reserved-word table.
type Word struct {
	Word   string
	Kind   Kind
	Reason string
}

// table is the authoritative reserved-word list. It is consulted by
// pkg/mitre/filename (and so by the CLI's extract-tags command, which
// parses a filename) and exposed verbatim by the CLI's
// list-reserved-words command.
var table = []Word{
	{"mysql", KindRunner, "driver name"},
	{"mariadb", KindRunner, "driver name"},
	{"postgresql", KindRunner, "driver name"},
	{"elasticsearch", KindRunner, "driver name"},
	{"redis", KindRunner, "driver name"},
	{"curl", KindRunner, "driver name"},
	{"bash", KindRunner, "driver name"},
	{"sh", KindRunner, "driver name"},
	{"rails", KindKeyword, "legacy runner vocabulary, reserved for compatibility"},

	{"up", KindDirection, "step direction"},
	{"down", KindDirection, "step direction"},
	{"change", KindDirection, "step direction"},

	{"data", KindFlag, "canonical flag: migration touches user data"},
	{"risky", KindFlag, "canonical flag: migration is unsafe to run unattended"},
	{"long", KindFlag, "canonical flag: migration may run for a long time"},
}

// byWord indexes table for O(1) lookups.
var byWord = func() map[string]Word {
	m := make(map[string]Word, len(table))
	for _, w := range table {
		m[w.Word] = w
	}
	return m
}()

// All returns the full reserved-word table, in declaration order.
func All() []Word {
	out := make([]Word, len(table))
	copy(out, table)
	return out
}

// Lookup returns the Word entry for word, if any.
func Lookup(word string) (Word, bool) {
	w, ok := byWord[word]
	return w, ok
}

// IsReserved reports whether word appears in the table at all.
func IsReserved(word string) bool {
	_, ok := byWord[word]
	return ok
}

// IsFlaggable reports whether word may be used as a migration flag:
// either it is not reserved at all, or it is reserved specifically as
// one of the canonical flags (data|risky|long).
func IsFlaggable(word string) bool {
	w, ok := byWord[word]
	if !ok {
		return true
	}
	return w.Kind == KindFlag
}

// IsValidConfigurationName reports whether word may be used as a
// configuration name: it must not collide with any reserved word,
// flags included, since a configuration name occupies the same
// filename slot that runner/direction/flag vocabulary is reserved
// from.
func IsValidConfigurationName(word string) bool {
	return !IsReserved(word)
}

// DefaultDisallowedTags is the default tag-filter policy applied by
// the planner: migrations carrying any of these flags are surfaced as
// Pending(Skipped: <tag>) rather than Pending.
var DefaultDisallowedTags = map[string]struct{}{
	"data":  {},
	"risky": {},
	"long":  {},
}
