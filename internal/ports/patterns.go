package ports

// ReferenceMatcher is an independent multi-pattern matcher used to
// cross-check the engine. Implementations must report every occurrence of
// every keyword, overlapping ones included.
type ReferenceMatcher interface {
	// Match returns every occurrence in content, ordered by end offset and
	// then by descending keyword length.
	Match(content []byte) []Occurrence

	// Rebuild replaces the keyword set. Keywords map to their labels.
	Rebuild(keywords map[string]string) error
}

// Occurrence is one keyword hit.
type Occurrence struct {
	Keyword string `json:"keyword"`
	Label   string `json:"label"`
	Start   int    `json:"start"`
	End     int    `json:"end"` // exclusive
}
