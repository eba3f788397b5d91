package stage

import (
	"github.com/corey/kwtag/internal/ports"
)

// Pipeline runs stages in order. A stage that drops a record ends the run
// for that record.
type Pipeline struct {
	stages []*Stage
}

// NewPipeline creates a pipeline over stages, in the given order.
func NewPipeline(stages ...*Stage) *Pipeline {
	return &Pipeline{stages: stages}
}

// Process runs rec through every stage and reports whether it passed all
// of them.
func (p *Pipeline) Process(rec *ports.Record) bool {
	rec.EnsureID()
	for _, s := range p.stages {
		if !s.Process(rec) {
			return false
		}
	}
	return true
}

// Stages returns the stages in run order.
func (p *Pipeline) Stages() []*Stage { return p.stages }

// Stage returns the named stage, or nil.
func (p *Pipeline) Stage(name string) *Stage {
	for _, s := range p.stages {
		if s.Name() == name {
			return s
		}
	}
	return nil
}

// ResetStream forgets one stream's state in every stage.
func (p *Pipeline) ResetStream(stream string) {
	for _, s := range p.stages {
		s.ResetStream(stream)
	}
}

// Stats returns a snapshot per stage.
func (p *Pipeline) Stats() []Stats {
	out := make([]Stats, 0, len(p.stages))
	for _, s := range p.stages {
		out = append(out, s.Stats())
	}
	return out
}

// DrainHits collects and resets the unsent hit counters of every stage.
func (p *Pipeline) DrainHits() map[string]uint64 {
	var out map[string]uint64
	for _, s := range p.stages {
		for label, n := range s.DrainHits() {
			if out == nil {
				out = make(map[string]uint64)
			}
			out[label] += n
		}
	}
	return out
}
