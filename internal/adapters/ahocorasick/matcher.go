// Package ahocorasick provides an independent multi-pattern matcher built on
// the petar-dambovaliev/aho-corasick library. kwtag uses it as a reference
// to cross-check its own automaton: both must report the same occurrences.
package ahocorasick

import (
	"errors"
	"sort"
	"sync"

	aho "github.com/petar-dambovaliev/aho-corasick"

	"github.com/corey/kwtag/internal/ports"
)

// ErrEmptyKeyword is returned when a keyword set contains "".
var ErrEmptyKeyword = errors.New("ahocorasick: empty keyword")

// Matcher implements ports.ReferenceMatcher. Rebuild compiles an automaton;
// Match reports every overlapping occurrence with byte offsets.
type Matcher struct {
	mu        sync.RWMutex
	automaton aho.AhoCorasick
	patterns  []string
	labels    []string
	fold      bool
	built     bool
}

var _ ports.ReferenceMatcher = (*Matcher)(nil)

// New creates an empty matcher. With caseInsensitive set, ASCII letters are
// folded on both keywords and content.
func New(caseInsensitive bool) *Matcher {
	return &Matcher{fold: caseInsensitive}
}

// Rebuild replaces the automaton with a new keyword → label set.
func (m *Matcher) Rebuild(keywords map[string]string) error {
	byPattern := make(map[string]string, len(keywords))
	for kw, label := range keywords {
		if kw == "" {
			return ErrEmptyKeyword
		}
		p := kw
		if m.fold {
			p = string(asciiUpper([]byte(kw)))
		}
		byPattern[p] = label
	}

	patterns := make([]string, 0, len(byPattern))
	for p := range byPattern {
		patterns = append(patterns, p)
	}
	sort.Strings(patterns)
	labels := make([]string, len(patterns))
	for i, p := range patterns {
		labels[i] = byPattern[p]
	}

	builder := aho.NewAhoCorasickBuilder(aho.Opts{
		DFA: true,
	})
	ac := builder.Build(patterns)

	m.mu.Lock()
	m.automaton = ac
	m.patterns = patterns
	m.labels = labels
	m.built = true
	m.mu.Unlock()
	return nil
}

// Match returns every occurrence in content, ordered by end offset and then
// longest keyword first.
func (m *Matcher) Match(content []byte) []ports.Occurrence {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.built || len(m.patterns) == 0 {
		return nil
	}

	if m.fold {
		content = asciiUpper(content)
	}
	iter := m.automaton.IterOverlappingByte(content)
	var out []ports.Occurrence
	for next := iter.Next(); next != nil; next = iter.Next() {
		hit := *next
		out = append(out, ports.Occurrence{
			Keyword: m.patterns[hit.Pattern()],
			Label:   m.labels[hit.Pattern()],
			Start:   hit.Start(),
			End:     hit.End(),
		})
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].End != out[j].End {
			return out[i].End < out[j].End
		}
		return out[i].Start < out[j].Start
	})
	return out
}

// PatternCount returns the number of patterns in the automaton.
func (m *Matcher) PatternCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.patterns)
}

// asciiUpper returns a copy of b with a-z mapped to A-Z.
func asciiUpper(b []byte) []byte {
	out := make([]byte, len(b))
	for i, c := range b {
		if c >= 'a' && c <= 'z' {
			c -= 'a' - 'A'
		}
		out[i] = c
	}
	return out
}
