package ports

import (
	"encoding/json"
	"unicode/utf8"

	"github.com/google/uuid"
)

// Record is one labeled item flowing through the stage pipeline: a log
// line, a message, a packet summary. Stages read its fields and attach
// labels; they never rewrite field values.
type Record struct {
	ID     string   `json:"id"`
	Stream string   `json:"stream,omitempty"` // logical input stream, keys streaming state
	Labels []string `json:"labels,omitempty"`
	Fields []Field  `json:"fields"`
}

// Field is a named byte payload inside a record. In JSON, text values are
// carried as "value" and anything that is not valid UTF-8 as base64 in
// "value_b64".
type Field struct {
	Name   string
	Value  []byte
	Labels []string
}

type jsonField struct {
	Name     string   `json:"name"`
	Value    *string  `json:"value,omitempty"`
	ValueB64 []byte   `json:"value_b64,omitempty"`
	Labels   []string `json:"labels,omitempty"`
}

func (f Field) MarshalJSON() ([]byte, error) {
	jf := jsonField{Name: f.Name, Labels: f.Labels}
	if utf8.Valid(f.Value) {
		v := string(f.Value)
		jf.Value = &v
	} else {
		jf.ValueB64 = f.Value
	}
	return json.Marshal(jf)
}

func (f *Field) UnmarshalJSON(data []byte) error {
	var jf jsonField
	if err := json.Unmarshal(data, &jf); err != nil {
		return err
	}
	f.Name, f.Labels = jf.Name, jf.Labels
	switch {
	case jf.ValueB64 != nil:
		f.Value = jf.ValueB64
	case jf.Value != nil:
		f.Value = []byte(*jf.Value)
	default:
		f.Value = nil
	}
	return nil
}

// NewRecord creates a record with a fresh ID.
func NewRecord(stream string, fields ...Field) *Record {
	return &Record{ID: uuid.NewString(), Stream: stream, Fields: fields}
}

// EnsureID assigns a fresh ID when the record has none.
func (r *Record) EnsureID() {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
}

// AddLabel attaches label to the record once.
func (r *Record) AddLabel(label string) {
	r.Labels = addLabel(r.Labels, label)
}

// HasLabel reports whether the record carries label.
func (r *Record) HasLabel(label string) bool {
	return hasLabel(r.Labels, label)
}

// Field returns the named field, or nil.
func (r *Record) Field(name string) *Field {
	for i := range r.Fields {
		if r.Fields[i].Name == name {
			return &r.Fields[i]
		}
	}
	return nil
}

// AddLabel attaches label to the field once.
func (f *Field) AddLabel(label string) {
	f.Labels = addLabel(f.Labels, label)
}

// HasLabel reports whether the field carries label.
func (f *Field) HasLabel(label string) bool {
	return hasLabel(f.Labels, label)
}

func addLabel(labels []string, label string) []string {
	if hasLabel(labels, label) {
		return labels
	}
	return append(labels, label)
}

func hasLabel(labels []string, label string) bool {
	for _, l := range labels {
		if l == label {
			return true
		}
	}
	return false
}
