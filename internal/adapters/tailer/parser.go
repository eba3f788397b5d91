package tailer

import (
	"encoding/json"
	"sort"
	"strconv"

	"github.com/corey/kwtag/internal/ports"
)

// LineField names the field that holds a plain-text line.
const LineField = "line"

// maxDepth bounds flattening of nested JSON objects.
const maxDepth = 8

// ParseLine turns one log line into a record of stream.
//
// A line holding a JSON object becomes one field per leaf value, nested keys
// joined with dots ("http.status"). Strings keep their text; numbers, bools
// and arrays keep their JSON form. Anything else, including malformed JSON,
// becomes a single LineField with the raw bytes. It never fails on content.
func ParseLine(line []byte, stream string) *ports.Record {
	rec := ports.NewRecord(stream)
	if len(line) > 0 && line[0] == '{' {
		var obj map[string]any
		if err := json.Unmarshal(line, &obj); err == nil {
			rec.Fields = flatten(rec.Fields, "", obj, 0)
			if len(rec.Fields) > 0 {
				return rec
			}
		}
	}
	value := make([]byte, len(line))
	copy(value, line)
	rec.Fields = append(rec.Fields, ports.Field{Name: LineField, Value: value})
	return rec
}

// flatten appends the leaves of obj in key order.
func flatten(dst []ports.Field, prefix string, obj map[string]any, depth int) []ports.Field {
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		name := k
		if prefix != "" {
			name = prefix + "." + k
		}
		switch v := obj[k].(type) {
		case nil:
			continue
		case string:
			dst = append(dst, ports.Field{Name: name, Value: []byte(v)})
		case bool:
			dst = append(dst, ports.Field{Name: name, Value: []byte(strconv.FormatBool(v))})
		case float64:
			dst = append(dst, ports.Field{Name: name, Value: []byte(strconv.FormatFloat(v, 'f', -1, 64))})
		case map[string]any:
			if depth+1 < maxDepth {
				dst = flatten(dst, name, v, depth+1)
			} else {
				dst = appendRaw(dst, name, v)
			}
		default:
			dst = appendRaw(dst, name, v)
		}
	}
	return dst
}

func appendRaw(dst []ports.Field, name string, v any) []ports.Field {
	raw, err := json.Marshal(v)
	if err != nil {
		return dst
	}
	return append(dst, ports.Field{Name: name, Value: raw})
}
