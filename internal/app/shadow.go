package app

import (
	"fmt"
	"time"

	"github.com/corey/kwtag/internal/adapters/ahocorasick"
	"github.com/corey/kwtag/internal/domain/automaton"
	"github.com/corey/kwtag/internal/domain/labels"
	"github.com/corey/kwtag/internal/ports"
)

// shadowRingSize is how many recent shadow checks are kept.
const shadowRingSize = 100

// ShadowCheck records one comparison between a stage's scan result and the
// reference matcher's result for the same input.
type ShadowCheck struct {
	Timestamp time.Time
	Stage     string
	Bytes     int
	Matches   int   // occurrences the stage matcher reported
	Reference int   // occurrences the reference matcher reported
	Agreed    bool  // same occurrence multiset
	ShadowMs  int64 // reference scan duration in ms
}

// ShadowRing is a fixed-size ring buffer of ShadowCheck entries.
// Not thread-safe: caller must hold a.shadowMu.
type ShadowRing struct {
	entries    [shadowRingSize]ShadowCheck
	head       int
	count      int
	total      int64
	mismatches int64
}

// Push adds a check to the ring.
func (r *ShadowRing) Push(c ShadowCheck) {
	r.entries[r.head] = c
	r.head = (r.head + 1) % shadowRingSize
	if r.count < shadowRingSize {
		r.count++
	}
	r.total++
	if !c.Agreed {
		r.mismatches++
	}
}

// Entries returns all entries in the ring, oldest first.
func (r *ShadowRing) Entries() []ShadowCheck {
	if r.count == 0 {
		return nil
	}
	result := make([]ShadowCheck, r.count)
	for i := 0; i < r.count; i++ {
		idx := (r.head - r.count + i + shadowRingSize) % shadowRingSize
		result[i] = r.entries[idx]
	}
	return result
}

// Totals returns the lifetime check and mismatch counts.
func (r *ShadowRing) Totals() (checks, mismatches int64) {
	return r.total, r.mismatches
}

// Count returns the number of entries in the ring.
func (r *ShadowRing) Count() int {
	return r.count
}

// Reset clears the ring buffer and counters.
func (r *ShadowRing) Reset() {
	*r = ShadowRing{}
}

// ReferenceFor loads a finalized automaton's keywords into a reference
// matcher with the same case folding.
func ReferenceFor(a *automaton.Automaton, table *labels.Table) (*ahocorasick.Matcher, error) {
	keywords := make(map[string]string, a.Len())
	for _, info := range a.Keywords() {
		keywords[string(info.Keyword)] = table.Name(info.Value)
	}
	ref := ahocorasick.New(a.CaseInsensitive())
	if err := ref.Rebuild(keywords); err != nil {
		return nil, err
	}
	return ref, nil
}

// DiffOccurrences compares occurrence multisets keyed by span and keyword.
// Each returned line describes one disagreement.
func DiffOccurrences(want, got []ports.Occurrence) []string {
	key := func(o ports.Occurrence) string {
		return fmt.Sprintf("%d-%d %q", o.Start, o.End, o.Keyword)
	}
	counts := make(map[string]int, len(want))
	for _, o := range want {
		counts[key(o)]++
	}
	for _, o := range got {
		counts[key(o)]--
	}

	var diffs []string
	for _, o := range want {
		k := key(o)
		if counts[k] > 0 {
			diffs = append(diffs, "missing "+k)
			counts[k]--
		}
	}
	for _, o := range got {
		k := key(o)
		if counts[k] < 0 {
			diffs = append(diffs, "unexpected "+k)
			counts[k]++
		}
	}
	return diffs
}

type shadowRef struct {
	matcher ports.Scanner
	ref     *ahocorasick.Matcher
}

// shadowCheck re-scans data with the reference matcher and records whether
// it agrees with occ. A reload invalidates the cached reference.
func (a *App) shadowCheck(stage string, m ports.Scanner, data []byte, occ []ports.Occurrence) {
	am, ok := m.(*automaton.Automaton)
	if !ok {
		return
	}

	a.shadowMu.Lock()
	defer a.shadowMu.Unlock()

	cached, ok := a.shadowRefs[stage]
	if !ok || cached.matcher != m {
		ref, err := ReferenceFor(am, a.Labels)
		if err != nil {
			a.log.Warn().Err(err).Str("stage", stage).Msg("build reference matcher")
			return
		}
		cached = shadowRef{matcher: m, ref: ref}
		a.shadowRefs[stage] = cached
	}

	start := time.Now()
	want := cached.ref.Match(data)
	diffs := DiffOccurrences(want, occ)
	check := ShadowCheck{
		Timestamp: start,
		Stage:     stage,
		Bytes:     len(data),
		Matches:   len(occ),
		Reference: len(want),
		Agreed:    len(diffs) == 0,
		ShadowMs:  time.Since(start).Milliseconds(),
	}
	a.shadow.Push(check)
	if !check.Agreed {
		a.log.Error().Str("stage", stage).Strs("diffs", diffs).Msg("shadow check disagrees with reference matcher")
	}
}

// ShadowEntries returns the recent shadow checks, oldest first.
func (a *App) ShadowEntries() []ShadowCheck {
	a.shadowMu.Lock()
	defer a.shadowMu.Unlock()
	return a.shadow.Entries()
}
