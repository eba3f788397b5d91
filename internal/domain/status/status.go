// Package status builds the daemon status snapshot.
//
// The daemon writes a JSON status file on every hit flush. Shell prompts and
// scripts read it instead of opening the socket.
package status

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/corey/kwtag/internal/domain/stage"
)

// StatusFile is the filename within the run directory where status JSON is written.
const StatusFile = "status.json"

// StatusData is the JSON payload the daemon writes.
type StatusData struct {
	Stages        int       `json:"stages"`
	Keywords      int       `json:"keywords"`
	Records       uint64    `json:"records"`
	Dropped       uint64    `json:"dropped"`
	Matches       uint64    `json:"matches"`
	RecordsPerMin float64   `json:"records_per_min"`
	Reloads       uint64    `json:"reloads,omitempty"`
	TopLabels     []string  `json:"top_labels"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Generate produces a StatusData from stage snapshots and lifetime label hits.
// Records counts what entered the first stage; Dropped sums every stage.
func Generate(stages []stage.Stats, hits map[string]uint64, recordsPerMin float64) *StatusData {
	sd := &StatusData{
		Stages:        len(stages),
		RecordsPerMin: recordsPerMin,
		TopLabels:     topLabels(hits, 3),
		UpdatedAt:     time.Now().UTC(),
	}
	if len(stages) > 0 {
		sd.Records = stages[0].Processed
	}
	for _, st := range stages {
		sd.Keywords += st.Keywords
		sd.Dropped += st.Dropped
		sd.Matches += st.Matches
		sd.Reloads += st.Swaps
	}
	return sd
}

// WriteJSON writes the status data as JSON, replacing path atomically.
func WriteJSON(path string, data *StatusData) error {
	b, err := json.Marshal(data)
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".status-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// ReadJSON reads a status file written by WriteJSON.
func ReadJSON(path string) (*StatusData, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var sd StatusData
	if err := json.Unmarshal(b, &sd); err != nil {
		return nil, err
	}
	return &sd, nil
}

// topLabels returns the top N labels sorted by hits descending.
func topLabels(hits map[string]uint64, n int) []string {
	type lh struct {
		name string
		hits uint64
	}

	var labels []lh
	for name, h := range hits {
		if h > 0 {
			labels = append(labels, lh{name, h})
		}
	}

	sort.Slice(labels, func(i, j int) bool {
		if labels[i].hits != labels[j].hits {
			return labels[i].hits > labels[j].hits
		}
		return labels[i].name < labels[j].name
	})

	limit := n
	if limit > len(labels) {
		limit = len(labels)
	}

	result := make([]string, limit)
	for i := 0; i < limit; i++ {
		result[i] = labels[i].name
	}
	return result
}
