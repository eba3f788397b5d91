// Package stage runs keyword matchers over labeled records. A Stage owns
// one finalized matcher and, depending on its mode, tags the record, tags
// the matched field, or decides whether the record continues down the
// Pipeline.
package stage

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/corey/kwtag/internal/domain/automaton"
	"github.com/corey/kwtag/internal/domain/labels"
	"github.com/corey/kwtag/internal/ports"
)

// Mode selects what a stage does with a match.
type Mode int

const (
	// TagRecord labels the enclosing record with every matched label.
	TagRecord Mode = iota
	// TagField labels only the field that matched.
	TagField
	// Filter labels the record and drops records with no match.
	Filter
	// Invert drops records with a match.
	Invert
)

var modeNames = map[Mode]string{
	TagRecord: "tag",
	TagField:  "tag-field",
	Filter:    "filter",
	Invert:    "invert",
}

func (m Mode) String() string {
	if s, ok := modeNames[m]; ok {
		return s
	}
	return fmt.Sprintf("Mode(%d)", int(m))
}

// ParseMode maps a config name to a Mode.
func ParseMode(s string) (Mode, error) {
	for m, name := range modeNames {
		if name == s {
			return m, nil
		}
	}
	return 0, fmt.Errorf("unknown stage mode %q", s)
}

// DefaultMaxSessions bounds the streaming states a stage keeps.
const DefaultMaxSessions = 4096

// Errors returned by stage construction.
var (
	ErrNoName    = errors.New("stage: name is required")
	ErrNoLabels  = errors.New("stage: label table is required")
	ErrNoMatcher = errors.New("stage: matcher is required")
)

// Config describes one stage.
type Config struct {
	Name         string
	Mode         Mode
	Dictionaries []string // dictionaries compiled into this stage's matcher
	Fields       []string // fields to scan; empty scans all
	FirstOnly    bool     // stop scanning a record at its first match
	Streaming    bool     // carry match state between records of a stream
	MaxSessions  int      // streaming states kept before a reset; 0 = DefaultMaxSessions
}

// Deps are the collaborators a stage needs.
type Deps struct {
	Matcher ports.Scanner
	Labels  *labels.Table
	Metrics *Metrics // nil disables metrics
	Logger  zerolog.Logger
}

// Stats is a snapshot of stage counters.
type Stats struct {
	Name      string            `json:"name"`
	Mode      string            `json:"mode"`
	Keywords  int               `json:"keywords"`
	SkipMode  bool              `json:"skip_mode"`
	Processed uint64            `json:"processed"`
	Passed    uint64            `json:"passed"`
	Dropped   uint64            `json:"dropped"`
	Matches   uint64            `json:"matches"`
	Bytes     uint64            `json:"bytes"`
	Sessions  int               `json:"sessions"`
	Swaps     uint64            `json:"swaps"`
	Hits      map[string]uint64 `json:"hits,omitempty"`
}

type sessionKey struct {
	stream string
	field  string
}

type holder struct {
	scanner ports.Scanner
}

// Stage applies one matcher to records. Process is safe for concurrent use;
// a streaming stage serializes calls so each stream's state sees its
// records in order.
type Stage struct {
	cfg     Config
	fields  map[string]bool
	table   *labels.Table
	metrics *Metrics
	log     zerolog.Logger

	matcher atomic.Pointer[holder]

	mu       sync.Mutex // guards sessions; held across streaming scans
	sessions map[sessionKey]*automaton.State

	processed atomic.Uint64
	passed    atomic.Uint64
	dropped   atomic.Uint64
	matches   atomic.Uint64
	bytes     atomic.Uint64
	swaps     atomic.Uint64

	hitsMu sync.Mutex
	hits   map[string]uint64 // lifetime, by label
	unsent map[string]uint64 // since the last DrainHits
}

// New creates a stage.
func New(cfg Config, deps Deps) (*Stage, error) {
	if cfg.Name == "" {
		return nil, ErrNoName
	}
	if _, ok := modeNames[cfg.Mode]; !ok {
		return nil, fmt.Errorf("stage %s: unknown mode %d", cfg.Name, cfg.Mode)
	}
	if deps.Labels == nil {
		return nil, ErrNoLabels
	}
	if deps.Matcher == nil {
		return nil, ErrNoMatcher
	}
	if cfg.MaxSessions <= 0 {
		cfg.MaxSessions = DefaultMaxSessions
	}

	s := &Stage{
		cfg:      cfg,
		table:    deps.Labels,
		metrics:  deps.Metrics,
		log:      deps.Logger.With().Str("stage", cfg.Name).Logger(),
		sessions: make(map[sessionKey]*automaton.State),
		hits:     make(map[string]uint64),
		unsent:   make(map[string]uint64),
	}
	if len(cfg.Fields) > 0 {
		s.fields = make(map[string]bool, len(cfg.Fields))
		for _, f := range cfg.Fields {
			s.fields[f] = true
		}
	}
	s.matcher.Store(&holder{scanner: deps.Matcher})
	return s, nil
}

// Name returns the stage name.
func (s *Stage) Name() string { return s.cfg.Name }

// Config returns the stage configuration.
func (s *Stage) Config() Config { return s.cfg }

// Matcher returns the current matcher.
func (s *Stage) Matcher() ports.Scanner { return s.matcher.Load().scanner }

// Swap installs a new matcher. Scans already running finish on the old one.
// Every streaming state is discarded.
func (s *Stage) Swap(m ports.Scanner) error {
	if m == nil {
		return ErrNoMatcher
	}
	s.mu.Lock()
	s.matcher.Store(&holder{scanner: m})
	clear(s.sessions)
	s.mu.Unlock()

	s.swaps.Add(1)
	s.metrics.recordSwap(s.cfg.Name)
	s.metrics.setSessions(s.cfg.Name, 0)
	s.log.Info().Int("keywords", m.Len()).Bool("skip", m.SkipMode()).Msg("matcher swapped")
	return nil
}

// ResetStream forgets the streaming state of one stream, e.g. when its
// source rotates.
func (s *Stage) ResetStream(stream string) {
	s.mu.Lock()
	for k := range s.sessions {
		if k.stream == stream {
			delete(s.sessions, k)
		}
	}
	n := len(s.sessions)
	s.mu.Unlock()
	s.metrics.setSessions(s.cfg.Name, n)
}

// Process scans rec and applies the stage mode. It reports whether the
// record should continue down the pipeline.
func (s *Stage) Process(rec *ports.Record) bool {
	if s.cfg.Streaming {
		s.mu.Lock()
		defer s.mu.Unlock()
	}

	scanner := s.matcher.Load().scanner
	start := time.Now()
	scanned := 0
	matched := false
	labeled := false

	for i := range rec.Fields {
		f := &rec.Fields[i]
		if s.fields != nil && !s.fields[f.Name] {
			continue
		}
		if f.Value == nil {
			continue
		}
		scanned += len(f.Value)

		found, err := s.scanField(scanner, rec, f, &labeled)
		if err != nil {
			s.log.Warn().Err(err).Str("record", rec.ID).Str("field", f.Name).Msg("scan failed")
			continue
		}
		if found {
			matched = true
			if s.cfg.FirstOnly && !s.cfg.Streaming {
				break
			}
		}
	}

	pass := true
	switch s.cfg.Mode {
	case Filter:
		pass = matched
	case Invert:
		pass = !matched
	}

	s.processed.Add(1)
	s.bytes.Add(uint64(scanned))
	if pass {
		s.passed.Add(1)
	} else {
		s.dropped.Add(1)
	}
	s.metrics.recordScan(s.cfg.Name, pass, scanned, time.Since(start))
	return pass
}

// scanField runs the matcher over one field and applies labels. With
// FirstOnly only the record's first match is labeled; a streaming stage
// still feeds the rest of the field to its state.
func (s *Stage) scanField(scanner ports.Scanner, rec *ports.Record, f *ports.Field, labeled *bool) (bool, error) {
	fn := func(m automaton.Match) automaton.Action {
		if s.cfg.FirstOnly && *labeled {
			return automaton.Continue
		}
		label := s.labelOf(m.Info)
		s.matches.Add(1)
		s.countHit(label)
		s.metrics.recordMatch(s.cfg.Name, label)

		switch s.cfg.Mode {
		case TagRecord, Filter:
			rec.AddLabel(label)
		case TagField:
			f.AddLabel(label)
		}
		if s.cfg.FirstOnly {
			*labeled = true
			if !s.cfg.Streaming {
				return automaton.Stop
			}
		}
		return automaton.Continue
	}

	if s.cfg.Streaming {
		return scanner.Search(s.session(rec.Stream, f.Name), f.Value, fn)
	}
	if scanner.SkipMode() {
		return scanner.SearchSkip(f.Value, fn)
	}
	return scanner.Search(nil, f.Value, fn)
}

// session returns the state for a (stream, field) pair. Caller holds s.mu.
func (s *Stage) session(stream, field string) *automaton.State {
	key := sessionKey{stream: stream, field: field}
	if st, ok := s.sessions[key]; ok {
		return st
	}
	if len(s.sessions) >= s.cfg.MaxSessions {
		s.log.Warn().Int("sessions", len(s.sessions)).Msg("streaming state limit reached, resetting")
		clear(s.sessions)
	}
	st := &automaton.State{}
	s.sessions[key] = st
	s.metrics.setSessions(s.cfg.Name, len(s.sessions))
	return st
}

func (s *Stage) labelOf(info *automaton.MatchInfo) string {
	if name := s.table.Name(info.Value); name != "" {
		return name
	}
	if name, ok := info.Data.(string); ok && name != "" {
		return name
	}
	return fmt.Sprintf("#%d", info.Value)
}

func (s *Stage) countHit(label string) {
	s.hitsMu.Lock()
	s.hits[label]++
	s.unsent[label]++
	s.hitsMu.Unlock()
}

// DrainHits returns the per-label hits counted since the last call and
// resets them. Used to flush counters to persistent storage.
func (s *Stage) DrainHits() map[string]uint64 {
	s.hitsMu.Lock()
	defer s.hitsMu.Unlock()
	if len(s.unsent) == 0 {
		return nil
	}
	out := s.unsent
	s.unsent = make(map[string]uint64)
	return out
}

// Stats returns a snapshot of the stage counters.
func (s *Stage) Stats() Stats {
	scanner := s.matcher.Load().scanner

	s.mu.Lock()
	sessions := len(s.sessions)
	s.mu.Unlock()

	s.hitsMu.Lock()
	hits := make(map[string]uint64, len(s.hits))
	for k, v := range s.hits {
		hits[k] = v
	}
	s.hitsMu.Unlock()

	return Stats{
		Name:      s.cfg.Name,
		Mode:      s.cfg.Mode.String(),
		Keywords:  scanner.Len(),
		SkipMode:  scanner.SkipMode(),
		Processed: s.processed.Load(),
		Passed:    s.passed.Load(),
		Dropped:   s.dropped.Load(),
		Matches:   s.matches.Load(),
		Bytes:     s.bytes.Load(),
		Sessions:  sessions,
		Swaps:     s.swaps.Load(),
		Hits:      hits,
	}
}
