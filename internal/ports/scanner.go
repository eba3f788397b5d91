package ports

import (
	"context"
	"io"

	"github.com/corey/kwtag/internal/domain/automaton"
)

// Scanner is the search surface of a finalized keyword automaton. Stages
// and adapters depend on this rather than on the concrete type, so a
// reload can hand them any finalized matcher.
type Scanner interface {
	Search(state *automaton.State, buf []byte, fn automaton.MatchFunc) (bool, error)
	SearchSkip(buf []byte, fn automaton.MatchFunc) (bool, error)
	SearchReader(ctx context.Context, state *automaton.State, r io.Reader, fn automaton.FileMatchFunc) (bool, error)
	SkipMode() bool
	Len() int
}

var _ Scanner = (*automaton.Automaton)(nil)
