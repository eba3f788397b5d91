package automaton

import (
	"context"
	"fmt"
	"io"
	"os"
)

// fileChunkSize is the read size used when scanning files and readers.
const fileChunkSize = 64 * 1024

// FileMatch is a match located by absolute offset in a file or stream.
type FileMatch struct {
	Info   *MatchInfo
	Offset int64 // end offset (exclusive) from the start of the input
}

// FileMatchFunc receives matches from SearchFile and SearchReader. A nil
// FileMatchFunc stops at the first match.
type FileMatchFunc func(FileMatch) Action

// SearchFile scans the file at path chunk by chunk.
func (a *Automaton) SearchFile(ctx context.Context, state *State, path string, fn FileMatchFunc) (bool, error) {
	if a == nil {
		return false, ErrNilAutomaton
	}
	f, err := os.Open(path)
	if err != nil {
		return false, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	return a.SearchReader(ctx, state, f, fn)
}

// SearchReader scans r to EOF. A non-nil state always takes the automaton
// scan: it carries matches in from earlier input and is left positioned at
// the end of this one. With a nil state a skip-mode automaton overlaps
// chunks by MaxPatternLen-1 bytes instead, finding the same matches within
// r but none that straddle into another input.
func (a *Automaton) SearchReader(ctx context.Context, state *State, r io.Reader, fn FileMatchFunc) (bool, error) {
	if a == nil {
		return false, ErrNilAutomaton
	}
	if len(a.nodes) == 0 {
		return false, ErrNoRoot
	}
	if state == nil {
		if a.SkipMode() {
			return a.searchReaderSkip(ctx, r, fn)
		}
		state = &State{}
	}

	buf := make([]byte, fileChunkSize)
	var base int64
	matched := false
	for {
		if err := ctx.Err(); err != nil {
			return matched, err
		}
		n, rerr := r.Read(buf)
		if n > 0 {
			stopped := false
			chunkBase := base
			found, err := a.Search(state, buf[:n], func(m Match) Action {
				act := Stop
				if fn != nil {
					act = fn(FileMatch{Info: m.Info, Offset: chunkBase + int64(m.End)})
				}
				stopped = act == Stop
				return act
			})
			if err != nil {
				return matched, err
			}
			matched = matched || found
			if stopped {
				return true, nil
			}
			base += int64(n)
		}
		if rerr == io.EOF {
			return matched, nil
		}
		if rerr != nil {
			return matched, fmt.Errorf("read: %w", rerr)
		}
	}
}

func (a *Automaton) searchReaderSkip(ctx context.Context, r io.Reader, fn FileMatchFunc) (bool, error) {
	carry := a.maxPatternLen - 1
	buf := make([]byte, carry+fileChunkSize)
	kept := 0      // bytes at the front of buf carried over from the last window
	var base int64 // absolute offset of buf[0]
	matched := false
	for {
		if err := ctx.Err(); err != nil {
			return matched, err
		}
		n, rerr := r.Read(buf[kept : kept+fileChunkSize])
		if n > 0 {
			total := kept + n
			window := buf[:total]
			stopped := false
			_, err := a.SearchSkip(window, func(m Match) Action {
				if m.End <= kept {
					// Lies wholly in the carried bytes: already reported.
					return Continue
				}
				matched = true
				act := Stop
				if fn != nil {
					act = fn(FileMatch{Info: m.Info, Offset: base + int64(m.End)})
				}
				stopped = act == Stop
				return act
			})
			if err != nil {
				return matched, err
			}
			if stopped {
				return true, nil
			}
			keep := carry
			if keep > total {
				keep = total
			}
			copy(buf, window[total-keep:])
			base += int64(total - keep)
			kept = keep
		}
		if rerr == io.EOF {
			return matched, nil
		}
		if rerr != nil {
			return matched, fmt.Errorf("read: %w", rerr)
		}
	}
}
