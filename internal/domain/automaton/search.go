package automaton

// Action tells a search whether to keep scanning after a match.
type Action int

const (
	// Continue resumes scanning at the byte after the match.
	Continue Action = iota
	// Stop ends the current call; the search reports a match.
	Stop
)

// Match is what a MatchFunc receives for every keyword occurrence.
type Match struct {
	Info *MatchInfo
	End  int    // end offset (exclusive) within the searched buffer
	Rest []byte // bytes after the match; len(Rest) is what remains
}

// MatchFunc is invoked once per keyword occurrence. A nil MatchFunc stops
// at the first occurrence.
type MatchFunc func(Match) Action

// State is a caller-owned cursor into one automaton, carrying the match
// position from one buffer of a stream to the next. The zero value starts
// at the root. A State captured before a structural change (insert, remove,
// finalize) or against a different automaton restarts at the root.
//
// A search stopped partway through the keywords ending at one position
// leaves the rest pending in the State; the next search reports them first,
// at end offset 0.
type State struct {
	owner   *Automaton
	node    int32
	pending int32 // next output-chain node to report; root when none
	gen     uint64
}

// Reset rewinds the state to the root.
func (s *State) Reset() {
	*s = State{}
}

// AtRoot reports whether the cursor sits at the start position.
func (s *State) AtRoot() bool {
	return s.owner == nil || s.node == root
}

// resume returns the node to continue from and the first pending output,
// or none.
func (a *Automaton) resume(s *State) (int32, int32) {
	if s.owner != a || s.gen != a.gen || int(s.node) >= len(a.nodes) {
		return root, none
	}
	pending := s.pending
	if pending == root || int(pending) >= len(a.nodes) {
		pending = none
	}
	return s.node, pending
}

func (s *State) save(a *Automaton, n, pending int32) {
	if pending == none {
		pending = root
	}
	s.owner = a
	s.node = n
	s.pending = pending
	s.gen = a.gen
}

// dispatch reports the keywords on the output chain starting at hit. When
// fn stops the scan it returns true and the chain node still to report.
func (a *Automaton) dispatch(hit int32, end int, rest []byte, fn MatchFunc, matched *bool) (bool, int32) {
	for ; hit != none; hit = a.nodes[hit].output {
		info := a.nodes[hit].terminal
		if info == nil {
			continue
		}
		*matched = true
		if fn == nil || fn(Match{Info: info, End: end, Rest: rest}) == Stop {
			return true, a.nodes[hit].output
		}
	}
	return false, none
}

// step follows one input byte: take the child edge if present, otherwise
// fall back along fail links. The root absorbs bytes it has no edge for.
func (a *Automaton) step(cur int32, b byte) int32 {
	for {
		if next := a.nodes[cur].child(b); next != none {
			return next
		}
		if cur == root {
			return root
		}
		cur = a.nodes[cur].fail
	}
}

// Search scans buf, resuming from state and reporting every keyword that
// ends inside buf, including ones that began in earlier buffers of the same
// stream. At one position the longest keyword is reported first. A nil state
// scans statelessly. It reports whether any match was dispatched.
func (a *Automaton) Search(state *State, buf []byte, fn MatchFunc) (bool, error) {
	if a == nil {
		return false, ErrNilAutomaton
	}
	if buf == nil {
		return false, ErrNilBuffer
	}
	if len(a.nodes) == 0 {
		return false, ErrNoRoot
	}

	var local State
	if state == nil {
		state = &local
	}

	cur, pending := a.resume(state)
	matched := false
	if stop, next := a.dispatch(pending, 0, buf, fn, &matched); stop {
		state.save(a, cur, next)
		return true, nil
	}
	for i := 0; i < len(buf); i++ {
		cur = a.step(cur, a.norm(buf[i]))
		if stop, next := a.dispatch(cur, i+1, buf[i+1:], fn, &matched); stop {
			state.save(a, cur, next)
			return true, nil
		}
	}
	state.save(a, cur, none)
	return matched, nil
}

// SingleSearch returns the first keyword found in buf and the bytes that
// follow it. A nil MatchInfo means no match; rest is then empty.
func (a *Automaton) SingleSearch(state *State, buf []byte) (*MatchInfo, []byte, error) {
	var (
		info *MatchInfo
		rest []byte
	)
	found, err := a.Search(state, buf, func(m Match) Action {
		info, rest = m.Info, m.Rest
		return Stop
	})
	if err != nil {
		return nil, nil, err
	}
	if !found {
		return nil, buf[len(buf):], nil
	}
	return info, rest, nil
}
