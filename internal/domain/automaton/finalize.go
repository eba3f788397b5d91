package automaton

// Finalize computes fail and output links breadth-first and decides, once,
// whether searches may use the skip scan. Calling it again on an unchanged
// trie yields the same links and the same choice.
func (a *Automaton) Finalize() error {
	if a == nil {
		return ErrNilAutomaton
	}
	if len(a.nodes) == 0 || a.nodes[root].free {
		return ErrNoRoot
	}

	a.nodes[root].fail = root
	a.nodes[root].output = none

	queue := make([]int32, 0, a.NodeCount())
	for _, c := range a.nodes[root].kids {
		a.nodes[c].fail = root
		a.nodes[c].output = none
		queue = append(queue, c)
	}

	for head := 0; head < len(queue); head++ {
		u := queue[head]
		for i, v := range a.nodes[u].kids {
			b := a.nodes[u].keys[i]

			// Longest proper suffix that is still a trie prefix: walk the
			// parent's fail chain until some node has an edge on b.
			target := root
			for f := a.nodes[u].fail; ; f = a.nodes[f].fail {
				if t := a.nodes[f].child(b); t != none {
					target = t
					break
				}
				if f == root {
					break
				}
			}

			vn := &a.nodes[v]
			vn.fail = target
			if a.nodes[target].terminal != nil {
				vn.output = target
			} else {
				vn.output = a.nodes[target].output
			}
			queue = append(queue, v)
		}
	}

	a.recomputeLengths()
	a.selectAlgorithm()
	a.finalized = true
	a.gen++
	return nil
}

// selectAlgorithm picks the skip scan for a few long keywords and builds
// its tables; everything else stays on the fail-link walk.
func (a *Automaton) selectAlgorithm() {
	a.useSkip = !a.skipDisabled &&
		a.patterns > 0 &&
		a.patterns <= a.skipMaxPatterns &&
		a.minPatternLen >= a.skipMinLen

	for i := range a.shift {
		a.shift[i] = 0
		a.tail[i] = false
	}
	a.maxShift = 0
	if !a.useSkip {
		return
	}

	// Set-Horspool over the first m bytes of every keyword, where m is the
	// shortest keyword length. shift[c] is the distance from the last
	// occurrence of c in a window prefix to the window end.
	m := a.minPatternLen
	for i := range a.shift {
		a.shift[i] = m
	}
	for i := range a.nodes {
		n := &a.nodes[i]
		if n.free || n.terminal == nil {
			continue
		}
		kw := n.terminal.Keyword
		for j := 0; j < m-1; j++ {
			if s := m - 1 - j; s < a.shift[kw[j]] {
				a.shift[kw[j]] = s
			}
		}
		a.tail[kw[m-1]] = true
	}
	a.maxShift = m
}
