// Package socket implements a JSON-over-Unix-socket protocol for the kwtag daemon.
// The protocol uses newline-delimited JSON: each message is one JSON object + \n.
package socket

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/corey/kwtag/internal/domain/stage"
	"github.com/corey/kwtag/internal/ports"
)

// SocketPath returns the Unix socket path for a given working directory.
// Format: /tmp/kwtag-{first12hex}.sock
func SocketPath(root string) string {
	abs, err := filepath.Abs(root)
	if err != nil {
		abs = root
	}
	h := sha256.Sum256([]byte(abs))
	return fmt.Sprintf("/tmp/kwtag-%x.sock", h[:6])
}

// Method names for the protocol.
const (
	MethodScan     = "scan"
	MethodTag      = "tag"
	MethodHealth   = "health"
	MethodStats    = "stats"
	MethodReload   = "reload"
	MethodShutdown = "shutdown"
)

// Request is the wire format for client-to-server messages.
type Request struct {
	ID     string      `json:"id"`
	Method string      `json:"method"`
	Params interface{} `json:"params,omitempty"`
}

// Response is the wire format for server-to-client messages.
type Response struct {
	ID     string      `json:"id"`
	Result interface{} `json:"result,omitempty"`
	Error  string      `json:"error,omitempty"`
}

// ScanParams is the params for a scan request. Data is scanned when set,
// Text otherwise.
type ScanParams struct {
	Text      string `json:"text,omitempty"`
	Data      []byte `json:"data,omitempty"`
	Stage     string `json:"stage,omitempty"` // matcher to use; empty = first stage
	FirstOnly bool   `json:"first_only,omitempty"`
}

// ScanResult is the result of a scan request.
type ScanResult struct {
	Matches []ports.Occurrence `json:"matches"`
	Count   int                `json:"count"`
	Elapsed string             `json:"elapsed"`
}

// TagParams is the params for a tag request.
type TagParams struct {
	Record ports.Record `json:"record"`
}

// TagResult is the result of a tag request: the labeled record and whether
// it passed every stage.
type TagResult struct {
	Record ports.Record `json:"record"`
	Passed bool         `json:"passed"`
}

// HealthResult is the result of a health request.
type HealthResult struct {
	Status       string `json:"status"`
	Stages       int    `json:"stages"`
	Dictionaries int    `json:"dictionaries"`
	Keywords     int    `json:"keywords"`
	Uptime       string `json:"uptime"`

	RecordsPerMin float64 `json:"records_per_min"`
	BytesPerMin   float64 `json:"bytes_per_min"`
}

// StatsResult is the result of a stats request.
type StatsResult struct {
	Stages []stage.Stats     `json:"stages"`
	Hits   map[string]uint64 `json:"hits,omitempty"` // lifetime, from storage
	Labels []string          `json:"labels,omitempty"`
	Shadow *ShadowStats      `json:"shadow,omitempty"`
}

// ShadowStats counts sampled scans re-checked against the reference matcher.
type ShadowStats struct {
	Checks     int64 `json:"checks"`
	Mismatches int64 `json:"mismatches"`
}

// ReloadParams is the params for a reload request. An empty Name reloads
// every dictionary.
type ReloadParams struct {
	Name string `json:"name,omitempty"`
}

// ReloadResult is the result of a reload request.
type ReloadResult struct {
	Stages   []string `json:"stages"`
	Keywords int      `json:"keywords"`
	Elapsed  string   `json:"elapsed"`
}

// remarshal converts a decoded interface{} into a typed value.
func remarshal(in interface{}, out interface{}) error {
	data, err := json.Marshal(in)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}
