package dictionary

import (
	"bufio"
	"encoding/hex"
	"fmt"
	"io"
	"strings"
)

// Parse reads the text dictionary format, one definition per line:
//
//	"quoted keyword" (LABEL)
//	0x414243          (HEX)
//	bare-token
//	# comment
//
// Quoted keywords accept \" \\ \n \r \t \0 and \xHH escapes. The label is
// optional.
func Parse(r io.Reader) ([]Entry, error) {
	var entries []Entry
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	line := 0
	for scanner.Scan() {
		line++
		entry, ok, err := parseLine(scanner.Text())
		if err != nil {
			return nil, &ParseError{Line: line, Msg: err.Error()}
		}
		if !ok {
			continue
		}
		entry.Line = line
		entries = append(entries, entry)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read dictionary: %w", err)
	}
	return entries, nil
}

// parseLine returns ok=false for blank and comment lines.
func parseLine(s string) (Entry, bool, error) {
	s = strings.TrimLeft(s, " \t")
	if s == "" || s[0] == '#' {
		return Entry{}, false, nil
	}

	var (
		kw   []byte
		rest string
		err  error
	)
	switch {
	case s[0] == '"':
		kw, rest, err = parseQuoted(s[1:])
	case len(s) > 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X'):
		kw, rest, err = parseHex(s[2:])
	default:
		end := strings.IndexAny(s, " \t(#")
		if end < 0 {
			end = len(s)
		}
		kw, rest = []byte(s[:end]), s[end:]
	}
	if err != nil {
		return Entry{}, false, err
	}
	if len(kw) == 0 {
		return Entry{}, false, fmt.Errorf("empty keyword")
	}

	entry := Entry{Keyword: kw}
	rest = strings.TrimLeft(rest, " \t")
	if strings.HasPrefix(rest, "(") {
		end := strings.IndexByte(rest, ')')
		if end < 0 {
			return Entry{}, false, fmt.Errorf("unterminated label")
		}
		entry.Label = strings.TrimSpace(rest[1:end])
		if entry.Label == "" {
			return Entry{}, false, fmt.Errorf("empty label")
		}
		rest = strings.TrimLeft(rest[end+1:], " \t")
	}
	if rest != "" && rest[0] != '#' {
		return Entry{}, false, fmt.Errorf("unexpected text %q", rest)
	}
	return entry, true, nil
}

// parseQuoted decodes up to the closing quote. s starts after the opening
// quote.
func parseQuoted(s string) ([]byte, string, error) {
	var out []byte
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch c {
		case '"':
			return out, s[i+1:], nil
		case '\\':
			i++
			if i >= len(s) {
				return nil, "", fmt.Errorf("unterminated escape")
			}
			switch s[i] {
			case '"', '\\':
				out = append(out, s[i])
			case 'n':
				out = append(out, '\n')
			case 'r':
				out = append(out, '\r')
			case 't':
				out = append(out, '\t')
			case '0':
				out = append(out, 0)
			case 'x':
				if i+3 > len(s) {
					return nil, "", fmt.Errorf("short \\x escape")
				}
				b, err := hex.DecodeString(s[i+1 : i+3])
				if err != nil {
					return nil, "", fmt.Errorf("bad \\x escape %q", s[i+1:i+3])
				}
				out = append(out, b[0])
				i += 2
			default:
				return nil, "", fmt.Errorf("unknown escape \\%c", s[i])
			}
		default:
			out = append(out, c)
		}
	}
	return nil, "", fmt.Errorf("unterminated quote")
}

// parseHex decodes the digits after 0x.
func parseHex(s string) ([]byte, string, error) {
	end := strings.IndexAny(s, " \t(#")
	if end < 0 {
		end = len(s)
	}
	b, err := hex.DecodeString(s[:end])
	if err != nil {
		return nil, "", fmt.Errorf("bad hex literal 0x%s", s[:end])
	}
	return b, s[end:], nil
}
