// Package automaton implements multi-keyword matching over raw byte buffers.
// Keywords are stored in a trie; Finalize adds Aho-Corasick fail links and,
// for a small set of long keywords, a Horspool skip table.
//
// Lifecycle: New, Insert (repeatedly), Finalize, then Search from any number
// of goroutines. Mutation is single-writer and must not overlap a search.
// Each logical input stream owns one State; a State is never shared.
package automaton

import (
	"bytes"
	"errors"
	"sort"
)

// Errors returned by automaton operations.
var (
	ErrNilAutomaton = errors.New("automaton: nil automaton")
	ErrNilBuffer    = errors.New("automaton: nil buffer")
	ErrEmptyKeyword = errors.New("automaton: empty keyword")
	ErrNoRoot       = errors.New("automaton: root node missing")
	ErrNotEmpty     = errors.New("automaton: keywords already loaded")
)

// Skip-mode selection thresholds. A keyword set qualifies when it holds at
// most DefaultSkipMaxPatterns keywords and the shortest one is at least
// DefaultSkipMinLen bytes long.
const (
	DefaultSkipMaxPatterns = 16
	DefaultSkipMinLen      = 6
)

// root is the arena index of the trie root. It never moves.
const root int32 = 0

// none marks an absent node reference.
const none int32 = -1

// MatchInfo describes a keyword that ends at a trie node.
type MatchInfo struct {
	Value   int    // keymap value supplied at insert time
	Keyword []byte // normalized copy owned by the automaton
	Data    any    // opaque caller data, not inspected
}

// node is one byte-transition state. Children are kept sparse and sorted by
// byte so child lookups stay cheap on the wide, shallow tries keyword
// dictionaries produce.
type node struct {
	incoming byte
	keys     []byte
	kids     []int32
	terminal *MatchInfo
	fail     int32
	output   int32 // nearest terminal on the fail chain
	depth    int32
	free     bool
}

func (n *node) child(b byte) int32 {
	keys := n.keys
	if len(keys) <= 8 {
		for i, k := range keys {
			if k == b {
				return n.kids[i]
			}
		}
		return none
	}
	lo, hi := 0, len(keys)
	for lo < hi {
		mid := int(uint(lo+hi) >> 1)
		if keys[mid] < b {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	if lo < len(keys) && keys[lo] == b {
		return n.kids[lo]
	}
	return none
}

// childCount is the number of populated child edges.
func (n *node) childCount() int {
	return len(n.keys)
}

// Automaton is a keyword trie plus the search tables computed by Finalize.
type Automaton struct {
	nodes []node
	free  []int32

	patterns        int
	maxPatternLen   int
	minPatternLen   int
	caseInsensitive bool

	skipMaxPatterns int
	skipMinLen      int
	skipDisabled    bool

	finalized bool
	useSkip   bool
	shift     [256]int
	tail      [256]bool
	maxShift  int

	gen uint64
}

// Option configures an Automaton at construction time.
type Option func(*Automaton)

// CaseInsensitive folds ASCII letters at insert and search time.
func CaseInsensitive() Option {
	return func(a *Automaton) { a.caseInsensitive = true }
}

// SkipThresholds overrides the skip-mode selection limits.
func SkipThresholds(maxPatterns, minLen int) Option {
	return func(a *Automaton) {
		a.skipMaxPatterns = maxPatterns
		a.skipMinLen = minLen
	}
}

// DisableSkip pins the automaton to the classic fail-link search.
func DisableSkip() Option {
	return func(a *Automaton) { a.skipDisabled = true }
}

// New creates an empty automaton holding only the root node.
func New(opts ...Option) *Automaton {
	a := &Automaton{
		skipMaxPatterns: DefaultSkipMaxPatterns,
		skipMinLen:      DefaultSkipMinLen,
	}
	for _, opt := range opts {
		opt(a)
	}
	a.nodes = []node{newNode(0, 0)}
	return a
}

func newNode(b byte, depth int32) node {
	return node{incoming: b, fail: root, output: none, depth: depth}
}

// SetCaseInsensitive toggles ASCII case folding. Trie edges are byte-exact,
// so the flag can only change while the automaton holds no keywords.
func (a *Automaton) SetCaseInsensitive(on bool) error {
	if a == nil {
		return ErrNilAutomaton
	}
	if a.patterns > 0 || a.nodes[root].childCount() > 0 {
		return ErrNotEmpty
	}
	a.caseInsensitive = on
	return nil
}

// CaseInsensitive reports whether ASCII case folding is enabled.
func (a *Automaton) CaseInsensitive() bool { return a.caseInsensitive }

// SkipMode reports whether Finalize selected the skip scan.
func (a *Automaton) SkipMode() bool { return a.finalized && a.useSkip }

// Finalized reports whether the fail links match the current trie.
func (a *Automaton) Finalized() bool { return a.finalized }

// Len returns the number of keywords loaded.
func (a *Automaton) Len() int { return a.patterns }

// MaxPatternLen returns the length of the longest keyword.
func (a *Automaton) MaxPatternLen() int { return a.maxPatternLen }

// MaxShift returns the largest skip distance, zero outside skip mode.
func (a *Automaton) MaxShift() int { return a.maxShift }

// NodeCount returns the number of live trie nodes, root included.
func (a *Automaton) NodeCount() int { return len(a.nodes) - len(a.free) }

// Keywords returns the loaded keywords sorted bytewise.
func (a *Automaton) Keywords() []*MatchInfo {
	out := make([]*MatchInfo, 0, a.patterns)
	for i := range a.nodes {
		if n := &a.nodes[i]; !n.free && n.terminal != nil {
			out = append(out, n.terminal)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return bytes.Compare(out[i].Keyword, out[j].Keyword) < 0
	})
	return out
}

// Reset drops every keyword, leaving only the root.
func (a *Automaton) Reset() {
	a.nodes = []node{newNode(0, 0)}
	a.free = nil
	a.patterns = 0
	a.maxPatternLen = 0
	a.minPatternLen = 0
	a.useSkip = false
	a.maxShift = 0
	a.structural()
}

// structural records a change to the trie shape or its keyword set. Fail
// links are stale until the next Finalize and every outstanding State
// restarts at the root.
func (a *Automaton) structural() {
	a.finalized = false
	a.gen++
}

var upper [256]byte

func init() {
	for i := range upper {
		b := byte(i)
		if 'a' <= b && b <= 'z' {
			b -= 'a' - 'A'
		}
		upper[i] = b
	}
}

func (a *Automaton) norm(b byte) byte {
	if a.caseInsensitive {
		return upper[b]
	}
	return b
}
