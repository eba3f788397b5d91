package dictionary

import (
	"encoding/hex"
	"fmt"

	"gopkg.in/yaml.v3"
)

// yamlDictionary is the YAML-serialized form of a Spec.
type yamlDictionary struct {
	CaseInsensitive bool          `yaml:"case_insensitive"`
	DefaultLabel    string        `yaml:"default_label"`
	Keywords        []yamlKeyword `yaml:"keywords"`
}

type yamlKeyword struct {
	Text  string `yaml:"text,omitempty"`
	Hex   string `yaml:"hex,omitempty"`
	Label string `yaml:"label,omitempty"`
}

// ParseYAML parses the YAML dictionary format:
//
//	case_insensitive: true
//	default_label: MATCH
//	keywords:
//	  - text: "Error"
//	    label: ERR
//	  - hex: "deadbeef"
//	    label: MAGIC
func ParseYAML(data []byte) (*Spec, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}
	if doc.Kind == 0 {
		return &Spec{}, nil
	}
	var yd yamlDictionary
	if err := doc.Decode(&yd); err != nil {
		return nil, fmt.Errorf("decode yaml: %w", err)
	}

	lines := keywordLines(&doc)
	spec := &Spec{
		CaseInsensitive: yd.CaseInsensitive,
		DefaultLabel:    yd.DefaultLabel,
		Entries:         make([]Entry, 0, len(yd.Keywords)),
	}
	for i, k := range yd.Keywords {
		line := 0
		if i < len(lines) {
			line = lines[i]
		}
		kw, err := k.bytes()
		if err != nil {
			return nil, &ParseError{Line: line, Msg: err.Error()}
		}
		spec.Entries = append(spec.Entries, Entry{Keyword: kw, Label: k.Label, Line: line})
	}
	return spec, nil
}

func (k yamlKeyword) bytes() ([]byte, error) {
	switch {
	case k.Text != "" && k.Hex != "":
		return nil, fmt.Errorf("keyword sets both text and hex")
	case k.Hex != "":
		b, err := hex.DecodeString(k.Hex)
		if err != nil {
			return nil, fmt.Errorf("bad hex %q", k.Hex)
		}
		if len(b) == 0 {
			return nil, fmt.Errorf("empty keyword")
		}
		return b, nil
	case k.Text != "":
		return []byte(k.Text), nil
	default:
		return nil, fmt.Errorf("empty keyword")
	}
}

// keywordLines returns the source line of each item under "keywords".
func keywordLines(doc *yaml.Node) []int {
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 {
		return nil
	}
	m := doc.Content[0]
	if m.Kind != yaml.MappingNode {
		return nil
	}
	for i := 0; i+1 < len(m.Content); i += 2 {
		if m.Content[i].Value != "keywords" {
			continue
		}
		seq := m.Content[i+1]
		lines := make([]int, len(seq.Content))
		for j, item := range seq.Content {
			lines[j] = item.Line
		}
		return lines
	}
	return nil
}
