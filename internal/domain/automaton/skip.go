package automaton

// SearchSkip scans buf with the Horspool window selected by Finalize. It
// keeps no state between calls, so a keyword split across two buffers is
// never found. Matches are reported by start position, shortest first.
// Without skip mode it falls back to a stateless automaton scan.
func (a *Automaton) SearchSkip(buf []byte, fn MatchFunc) (bool, error) {
	if a == nil {
		return false, ErrNilAutomaton
	}
	if buf == nil {
		return false, ErrNilBuffer
	}
	if len(a.nodes) == 0 {
		return false, ErrNoRoot
	}
	if !a.SkipMode() {
		return a.Search(nil, buf, fn)
	}

	m := a.maxShift
	matched := false
	for pos := m - 1; pos < len(buf); {
		c := a.norm(buf[pos])
		if a.tail[c] {
			found, stop := a.verifyAt(buf, pos-m+1, fn)
			if found {
				matched = true
			}
			if stop {
				return true, nil
			}
		}
		pos += a.shift[c]
	}
	return matched, nil
}

// verifyAt walks the trie forward from start, reporting every keyword that
// begins there.
func (a *Automaton) verifyAt(buf []byte, start int, fn MatchFunc) (found, stop bool) {
	cur := root
	for i := start; i < len(buf); i++ {
		cur = a.nodes[cur].child(a.norm(buf[i]))
		if cur == none {
			return found, false
		}
		info := a.nodes[cur].terminal
		if info == nil {
			continue
		}
		found = true
		if fn == nil || fn(Match{Info: info, End: i + 1, Rest: buf[i+1:]}) == Stop {
			return true, true
		}
	}
	return found, false
}
