package dictionary

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corey/kwtag/internal/domain/automaton"
	"github.com/corey/kwtag/internal/domain/labels"
)

// =============================================================================
// Text format
// =============================================================================

func TestParse_Forms(t *testing.T) {
	src := `
# severity keywords
"Segmentation fault" (CRASH)
  "tab\there" (ESC)   # trailing comment
0x7f454c46 (ELF)
panic
timeout(NET)
"quote\"and\\slash\x41\0"
`
	entries, err := Parse(strings.NewReader(src))
	require.NoError(t, err)
	require.Len(t, entries, 6)

	assert.Equal(t, Entry{Keyword: []byte("Segmentation fault"), Label: "CRASH", Line: 3}, entries[0])
	assert.Equal(t, []byte("tab\there"), entries[1].Keyword)
	assert.Equal(t, "ESC", entries[1].Label)
	assert.Equal(t, []byte{0x7f, 'E', 'L', 'F'}, entries[2].Keyword)
	assert.Equal(t, Entry{Keyword: []byte("panic"), Line: 6}, entries[3])
	assert.Equal(t, Entry{Keyword: []byte("timeout"), Label: "NET", Line: 7}, entries[4])
	assert.Equal(t, []byte("quote\"and\\slashA\x00"), entries[5].Keyword)
}

func TestParse_Errors(t *testing.T) {
	cases := map[string]string{
		"unterminated quote": `"abc`,
		"bad escape":         `"a\qb"`,
		"short hex escape":   `"a\x4"`,
		"bad hex literal":    `0x4g`,
		"odd hex literal":    `0x414`,
		"empty quoted":       `""`,
		"unterminated label": `abc (LABEL`,
		"empty label":        `abc ()`,
		"trailing text":      `"abc" def`,
	}
	for name, line := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse(strings.NewReader("ok\n" + line + "\n"))
			require.Error(t, err)
			var pe *ParseError
			require.True(t, errors.As(err, &pe), "got %T", err)
			assert.Equal(t, 2, pe.Line)
		})
	}
}

// =============================================================================
// YAML format
// =============================================================================

func TestParseYAML(t *testing.T) {
	src := []byte(`case_insensitive: true
default_label: LOG
keywords:
  - text: "Error"
    label: ERR
  - hex: "deadbeef"
    label: MAGIC
  - text: warning
`)
	spec, err := ParseYAML(src)
	require.NoError(t, err)
	assert.True(t, spec.CaseInsensitive)
	assert.Equal(t, "LOG", spec.DefaultLabel)
	require.Len(t, spec.Entries, 3)
	assert.Equal(t, Entry{Keyword: []byte("Error"), Label: "ERR", Line: 4}, spec.Entries[0])
	assert.Equal(t, []byte{0xde, 0xad, 0xbe, 0xef}, spec.Entries[1].Keyword)
	assert.Equal(t, "", spec.Entries[2].Label)
}

func TestParseYAML_Errors(t *testing.T) {
	_, err := ParseYAML([]byte("keywords:\n  - label: X\n"))
	var pe *ParseError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, 2, pe.Line)

	_, err = ParseYAML([]byte("keywords:\n  - text: a\n    hex: '41'\n"))
	assert.Error(t, err)

	_, err = ParseYAML([]byte("keywords: [unclosed"))
	assert.Error(t, err)

	spec, err := ParseYAML(nil)
	require.NoError(t, err)
	assert.Empty(t, spec.Entries)
}

// =============================================================================
// Loading into an automaton
// =============================================================================

func TestBuild_LabelsAndFolding(t *testing.T) {
	table := labels.NewTable()
	text := &Spec{Name: "log", Entries: []Entry{
		{Keyword: []byte("Error"), Label: "ERR"},
		{Keyword: []byte("warn")},
	}, DefaultLabel: "LOG"}
	yml := &Spec{Name: "bin", CaseInsensitive: true, Entries: []Entry{
		{Keyword: []byte("magic")},
	}}

	a, err := Build(table, nil, text, yml)
	require.NoError(t, err)
	require.True(t, a.Finalized())
	assert.True(t, a.CaseInsensitive())
	assert.Equal(t, 3, a.Len())

	var got []string
	_, err = a.Search(nil, []byte("ERROR: WARN MAGIC"), func(m automaton.Match) automaton.Action {
		got = append(got, table.Name(m.Info.Value))
		assert.Equal(t, table.Name(m.Info.Value), m.Info.Data)
		return automaton.Continue
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"ERR", "LOG", DefaultLabel}, got)
}

func TestLoad_SharesTableAcrossAutomata(t *testing.T) {
	table := labels.NewTable()
	first := automaton.New()
	_, err := Load(first, []Entry{{Keyword: []byte("alpha"), Label: "A"}}, table, "")
	require.NoError(t, err)
	second := automaton.New()
	_, err = Load(second, []Entry{{Keyword: []byte("beta"), Label: "A"}}, table, "")
	require.NoError(t, err)

	info, _, err := second.SingleSearch(nil, []byte("beta"))
	require.NoError(t, err)
	require.NotNil(t, info)
	v, _ := table.Lookup("A")
	assert.Equal(t, v, info.Value)
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(nil, nil, labels.NewTable(), "")
	assert.ErrorIs(t, err, automaton.ErrNilAutomaton)

	_, err = Load(automaton.New(), []Entry{{Keyword: nil, Line: 3}}, labels.NewTable(), "")
	require.Error(t, err)
	assert.ErrorIs(t, err, automaton.ErrEmptyKeyword)
	assert.Contains(t, err.Error(), "line 3")
}

// =============================================================================
// Files and directories
// =============================================================================

func TestParseFile(t *testing.T) {
	dir := t.TempDir()
	text := filepath.Join(dir, "severity.txt")
	require.NoError(t, os.WriteFile(text, []byte("panic (P)\n"), 0644))
	yml := filepath.Join(dir, "magic.yaml")
	require.NoError(t, os.WriteFile(yml, []byte("keywords:\n  - hex: '7f454c46'\n"), 0644))

	spec, err := ParseFile(text)
	require.NoError(t, err)
	assert.Equal(t, "severity", spec.Name)
	assert.Len(t, spec.Entries, 1)

	spec, err = ParseFile(yml)
	require.NoError(t, err)
	assert.Equal(t, "magic", spec.Name)
	assert.Equal(t, []byte("\x7fELF"), spec.Entries[0].Keyword)

	_, err = ParseFile(filepath.Join(dir, "missing.txt"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestLoadDir(t *testing.T) {
	fsys := fstest.MapFS{
		"d/b.yaml":    {Data: []byte("keywords:\n  - text: beta\n")},
		"d/a.txt":     {Data: []byte("alpha\n")},
		"d/notes.md":  {Data: []byte("ignored")},
		"d/sub/x.txt": {Data: []byte("nested\n")},
	}
	specs, err := LoadDir(fsys, "d")
	require.NoError(t, err)
	require.Len(t, specs, 2)
	assert.Equal(t, "a", specs[0].Name)
	assert.Equal(t, "b", specs[1].Name)
}

func TestFormatOf(t *testing.T) {
	assert.Equal(t, FormatYAML, FormatOf("x.YML"))
	assert.Equal(t, FormatYAML, FormatOf("/a/b.yaml"))
	assert.Equal(t, FormatText, FormatOf("x.txt"))
	assert.Equal(t, FormatText, FormatOf("x"))

	_, err := ParseSource("toml", nil)
	assert.Error(t, err)
}
