package automaton

// Insert adds keyword with the given keymap value.
func (a *Automaton) Insert(keyword []byte, value int) error {
	return a.InsertData(keyword, value, nil)
}

// InsertData adds keyword with a keymap value and opaque data. Inserting a
// keyword that is already present overwrites its value and data.
func (a *Automaton) InsertData(keyword []byte, value int, data any) error {
	if a == nil {
		return ErrNilAutomaton
	}
	if len(keyword) == 0 {
		return ErrEmptyKeyword
	}
	if len(a.nodes) == 0 {
		return ErrNoRoot
	}

	kw := make([]byte, len(keyword))
	for i, b := range keyword {
		kw[i] = a.norm(b)
	}

	cur := root
	for _, b := range kw {
		next := a.nodes[cur].child(b)
		if next == none {
			next = a.addChild(cur, b)
		}
		cur = next
	}

	n := &a.nodes[cur]
	if n.terminal != nil {
		n.terminal.Value = value
		n.terminal.Data = data
		return nil
	}
	n.terminal = &MatchInfo{Value: value, Keyword: kw, Data: data}
	a.patterns++
	if len(kw) > a.maxPatternLen {
		a.maxPatternLen = len(kw)
	}
	a.structural()
	return nil
}

// Remove deletes keyword and prunes trie nodes no other keyword needs.
// It reports false when the keyword was not loaded. Fail links are stale
// afterwards; call Finalize before trusting further searches.
func (a *Automaton) Remove(keyword []byte) (bool, error) {
	if a == nil {
		return false, ErrNilAutomaton
	}
	if len(keyword) == 0 {
		return false, ErrEmptyKeyword
	}
	if len(a.nodes) == 0 {
		return false, ErrNoRoot
	}

	path := make([]int32, 1, len(keyword)+1)
	path[0] = root
	cur := root
	for _, b := range keyword {
		cur = a.nodes[cur].child(a.norm(b))
		if cur == none {
			return false, nil
		}
		path = append(path, cur)
	}
	if a.nodes[cur].terminal == nil {
		return false, nil
	}

	a.nodes[cur].terminal = nil
	a.patterns--

	for i := len(path) - 1; i > 0; i-- {
		id := path[i]
		n := &a.nodes[id]
		if n.childCount() > 0 || n.terminal != nil {
			break
		}
		a.nodes[path[i-1]].removeChild(n.incoming)
		a.release(id)
	}

	if len(keyword) >= a.maxPatternLen {
		a.recomputeLengths()
	}
	a.structural()
	return true, nil
}

// addChild links a fresh node under parent on byte b, keeping the edge
// list sorted.
func (a *Automaton) addChild(parent int32, b byte) int32 {
	depth := a.nodes[parent].depth + 1
	var id int32
	if k := len(a.free); k > 0 {
		id = a.free[k-1]
		a.free = a.free[:k-1]
		a.nodes[id] = newNode(b, depth)
	} else {
		id = int32(len(a.nodes))
		a.nodes = append(a.nodes, newNode(b, depth))
	}

	p := &a.nodes[parent]
	i := 0
	for i < len(p.keys) && p.keys[i] < b {
		i++
	}
	p.keys = append(p.keys, 0)
	copy(p.keys[i+1:], p.keys[i:])
	p.keys[i] = b
	p.kids = append(p.kids, 0)
	copy(p.kids[i+1:], p.kids[i:])
	p.kids[i] = id
	return id
}

func (n *node) removeChild(b byte) {
	for i, k := range n.keys {
		if k == b {
			n.keys = append(n.keys[:i], n.keys[i+1:]...)
			n.kids = append(n.kids[:i], n.kids[i+1:]...)
			return
		}
	}
}

// release returns a pruned node to the free list. The slot is reset so a
// stale fail or output link into it ends at the root.
func (a *Automaton) release(id int32) {
	a.nodes[id] = node{fail: root, output: none, free: true}
	a.free = append(a.free, id)
}

func (a *Automaton) recomputeLengths() {
	a.maxPatternLen, a.minPatternLen = 0, 0
	for i := range a.nodes {
		n := &a.nodes[i]
		if n.free || n.terminal == nil {
			continue
		}
		l := len(n.terminal.Keyword)
		if l > a.maxPatternLen {
			a.maxPatternLen = l
		}
		if a.minPatternLen == 0 || l < a.minPatternLen {
			a.minPatternLen = l
		}
	}
}
