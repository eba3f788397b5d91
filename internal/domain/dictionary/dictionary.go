// Package dictionary parses keyword dictionaries and loads them into an
// automaton. Two source formats are supported: a line-oriented text format
// and YAML. Both produce a Spec, which Build turns into a finalized
// automaton whose keymap values come from a shared label table.
package dictionary

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/corey/kwtag/internal/domain/automaton"
	"github.com/corey/kwtag/internal/domain/labels"
)

// DefaultLabel is applied to keywords that name no label when the
// dictionary itself sets no default.
const DefaultLabel = "MATCH"

// Source formats.
const (
	FormatText = "text"
	FormatYAML = "yaml"
)

// Entry is one keyword definition.
type Entry struct {
	Keyword []byte
	Label   string // empty means the dictionary default
	Line    int    // 1-based source line, 0 when unknown
}

// Spec is a parsed dictionary.
type Spec struct {
	Name            string
	CaseInsensitive bool
	DefaultLabel    string
	Entries         []Entry
}

// ParseError reports a syntax error at a source line.
type ParseError struct {
	Line int
	Msg  string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("line %d: %s", e.Line, e.Msg)
}

// FormatOf guesses the source format from a file name.
func FormatOf(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return FormatText
	}
}

// NameOf derives a dictionary name from a file name.
func NameOf(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// ParseSource parses data in the given format.
func ParseSource(format string, data []byte) (*Spec, error) {
	switch format {
	case FormatYAML:
		return ParseYAML(data)
	case FormatText, "":
		entries, err := Parse(strings.NewReader(string(data)))
		if err != nil {
			return nil, err
		}
		return &Spec{Entries: entries}, nil
	default:
		return nil, fmt.Errorf("unknown dictionary format %q", format)
	}
}

// ParseFile reads and parses a dictionary file, choosing the format by
// extension.
func ParseFile(path string) (*Spec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read dictionary: %w", err)
	}
	spec, err := ParseSource(FormatOf(path), data)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	spec.Name = NameOf(path)
	return spec, nil
}

// LoadDir parses every dictionary file in dir, sorted by name.
func LoadDir(fsys fs.FS, dir string) ([]*Spec, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("read dictionary dir %q: %w", dir, err)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	var specs []*Spec
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		switch strings.ToLower(filepath.Ext(name)) {
		case ".yaml", ".yml", ".txt", ".dict":
		default:
			continue
		}

		path := dir + "/" + name
		data, err := fs.ReadFile(fsys, path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		spec, err := ParseSource(FormatOf(name), data)
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
		spec.Name = NameOf(name)
		specs = append(specs, spec)
	}
	return specs, nil
}

// Load inserts entries into a, registering each label in table, then
// finalizes a. Keywords without a label get defaultLabel, or DefaultLabel
// when that is empty too. Returns the number of entries inserted.
func Load(a *automaton.Automaton, entries []Entry, table *labels.Table, defaultLabel string) (int, error) {
	if a == nil {
		return 0, automaton.ErrNilAutomaton
	}
	if defaultLabel == "" {
		defaultLabel = DefaultLabel
	}

	for _, e := range entries {
		label := e.Label
		if label == "" {
			label = defaultLabel
		}
		value, err := table.Register(label)
		if err != nil {
			return 0, fmt.Errorf("line %d: %w", e.Line, err)
		}
		if err := a.InsertData(e.Keyword, value, label); err != nil {
			return 0, fmt.Errorf("line %d: insert %q: %w", e.Line, e.Keyword, err)
		}
	}

	if err := a.Finalize(); err != nil {
		return 0, fmt.Errorf("finalize: %w", err)
	}
	return len(entries), nil
}

// Build creates a finalized automaton from one or more specs. The result is
// case-insensitive if any spec asks for it.
func Build(table *labels.Table, opts []automaton.Option, specs ...*Spec) (*automaton.Automaton, error) {
	var entries []Entry
	insensitive := false
	for _, s := range specs {
		if s.CaseInsensitive {
			insensitive = true
		}
		for _, e := range s.Entries {
			if e.Label == "" && s.DefaultLabel != "" {
				e.Label = s.DefaultLabel
			}
			entries = append(entries, e)
		}
	}

	if insensitive {
		opts = append(opts, automaton.CaseInsensitive())
	}
	a := automaton.New(opts...)
	if _, err := Load(a, entries, table, ""); err != nil {
		return nil, err
	}
	return a, nil
}
