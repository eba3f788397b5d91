package cmd

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corey/kwtag/internal/adapters/framing"
	"github.com/corey/kwtag/internal/adapters/socket"
	"github.com/corey/kwtag/internal/app"
	"github.com/corey/kwtag/internal/domain/labels"
	"github.com/corey/kwtag/internal/domain/stage"
	"github.com/corey/kwtag/internal/ports"
)

// =============================================================================
// Helpers
// =============================================================================

// withScanFlags sets the shared scan/verify flags for one test.
func withScanFlags(t *testing.T, dicts, keywords []string, ignoreCase bool) {
	t.Helper()
	scanDicts, scanKeywords, scanCaseInsens = dicts, keywords, ignoreCase
	t.Cleanup(func() {
		scanDicts, scanKeywords, scanCaseInsens = nil, nil, false
		scanClassic, scanCountOnly, scanFilesMatch, scanFirstOnly, scanQuiet = false, false, false, false, false
	})
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func testCmd() *cobra.Command {
	c := &cobra.Command{}
	c.SetContext(context.Background())
	return c
}

// =============================================================================
// scan
// =============================================================================

func TestBuildScanAutomaton_KeywordsAndFiles(t *testing.T) {
	root := t.TempDir()
	dictPath := filepath.Join(root, "ops.txt")
	writeFile(t, dictPath, "\"disk full\" (DISK)\ntimeout (NET)\n")
	withScanFlags(t, []string{dictPath}, []string{"oom"}, false)

	table := labels.NewTable()
	a, err := buildScanAutomaton(root, table)
	require.NoError(t, err)
	assert.Equal(t, 3, a.Len())

	_, ok := table.Lookup("DISK")
	assert.True(t, ok)
	assert.False(t, hasStore(root), "file and keyword scans never create a database")
}

func TestBuildScanAutomaton_Builtin(t *testing.T) {
	withScanFlags(t, []string{"crash"}, nil, false)
	table := labels.NewTable()
	a, err := buildScanAutomaton(t.TempDir(), table)
	require.NoError(t, err)
	assert.Positive(t, a.Len())
}

func TestBuildScanAutomaton_Unknown(t *testing.T) {
	withScanFlags(t, []string{"no-such-dictionary"}, nil, false)
	_, err := buildScanAutomaton(t.TempDir(), labels.NewTable())
	assert.Error(t, err)
}

func TestScanOne_OffsetsAndFirst(t *testing.T) {
	root := t.TempDir()
	input := filepath.Join(root, "app.log")
	writeFile(t, input, "ok\nERROR disk\nerror again\n")
	withScanFlags(t, nil, []string{"error"}, true)

	table := labels.NewTable()
	a, err := buildScanAutomaton(root, table)
	require.NoError(t, err)

	res := scanOne(context.Background(), a, table, input)
	require.NoError(t, res.err)
	require.Len(t, res.hits, 2)
	assert.Equal(t, int64(3), res.hits[0].start)
	assert.Equal(t, int64(8), res.hits[0].end)
	assert.Equal(t, "MATCH", res.hits[0].label, "keywords without a label get the default")

	scanFirstOnly = true
	res = scanOne(context.Background(), a, table, input)
	assert.Len(t, res.hits, 1)

	res = scanOne(context.Background(), a, table, filepath.Join(root, "missing.log"))
	assert.Error(t, res.err)
}

func TestWriteScanResult_Formats(t *testing.T) {
	withScanFlags(t, nil, nil, false)
	r := scanResult{name: "a.log", hits: []scanHit{
		{start: 0, end: 4, keyword: []byte("boom"), label: "CRASH"},
		{start: 9, end: 11, keyword: []byte{0x00, 0xff}, label: "BIN"},
	}}

	render := func() string {
		var buf bytes.Buffer
		w := bufio.NewWriter(&buf)
		writeScanResult(w, r, false)
		w.Flush()
		return buf.String()
	}

	assert.Equal(t, "a.log:0-4: boom [CRASH]\na.log:9-11: \"\\x00\\xff\" [BIN]\n", render())

	scanCountOnly = true
	assert.Equal(t, "a.log:2\n", render())
	scanCountOnly = false

	scanFilesMatch = true
	assert.Equal(t, "a.log\n", render())
	r.hits = nil
	assert.Empty(t, render())
}

func TestRunScan_ExitCodes(t *testing.T) {
	root := t.TempDir()
	hit := filepath.Join(root, "hit.log")
	miss := filepath.Join(root, "miss.log")
	writeFile(t, hit, "kernel panic\n")
	writeFile(t, miss, "all quiet\n")

	withScanFlags(t, nil, []string{"panic"}, false)
	scanQuiet = true
	t.Chdir(root)

	assert.NoError(t, runScan(testCmd(), []string{hit}))
	assert.Equal(t, 1, ExitCode(runScan(testCmd(), []string{miss})))
	assert.Equal(t, 2, ExitCode(runScan(testCmd(), []string{filepath.Join(root, "nope")})))

	scanKeywords = nil
	assert.Equal(t, 2, ExitCode(runScan(testCmd(), []string{hit})))
}

// =============================================================================
// tag
// =============================================================================

func TestPumpRecords_JSONL(t *testing.T) {
	input := strings.Join([]string{
		`{"fields":[{"name":"msg","value":"disk error"}]}`,
		``,
		`{not json`,
		`{"fields":[{"name":"msg","value":"fine"}]}`,
	}, "\n")

	var out bytes.Buffer
	process := func(rec *ports.Record) (bool, error) {
		if strings.Contains(string(rec.Fields[0].Value), "error") {
			rec.AddLabel("ERR")
			return true, nil
		}
		return false, nil
	}

	err := pumpRecords(jsonlSource(strings.NewReader(input)), jsonlSink(&out), process)
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(out.String(), "\n"))
	assert.Contains(t, out.String(), `"labels":["ERR"]`)

	tagAll = true
	t.Cleanup(func() { tagAll = false })
	out.Reset()
	err = pumpRecords(jsonlSource(strings.NewReader(input)), jsonlSink(&out), process)
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(out.String(), "\n"), "--all keeps dropped records")
}

func TestPumpRecords_Framed(t *testing.T) {
	var in bytes.Buffer
	fw := framing.NewWriter(&in, 0)
	require.NoError(t, fw.Write(ports.NewRecord("s", ports.Field{Name: "raw", Value: []byte{0xde, 0xad}})))
	require.NoError(t, fw.WriteFrame([]byte("{bad")))
	require.NoError(t, fw.Write(ports.NewRecord("s", ports.Field{Name: "raw", Value: []byte("x")})))

	var out bytes.Buffer
	fr := framing.NewReader(&in, 0)
	ow := framing.NewWriter(&out, 0)
	n := 0
	err := pumpRecords(fr.Read, ow.Write, func(rec *ports.Record) (bool, error) {
		n++
		return true, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	back := framing.NewReader(&out, 0)
	rec, err := back.Read()
	require.NoError(t, err)
	assert.Equal(t, []byte{0xde, 0xad}, rec.Fields[0].Value)
}

func TestPumpRecords_ProcessError(t *testing.T) {
	boom := errors.New("boom")
	err := pumpRecords(jsonlSource(strings.NewReader(`{"fields":[]}`)), jsonlSink(io.Discard),
		func(*ports.Record) (bool, error) { return false, boom })
	assert.ErrorIs(t, err, boom)
}

// =============================================================================
// verify, output
// =============================================================================

func TestVerifyData_Agrees(t *testing.T) {
	cases := []struct {
		name     string
		keywords []string
		skip     bool
	}{
		{"automaton", []string{"he", "she", "his", "hers"}, false},
		{"skip", []string{"ushers", "hershey", "rs and h"}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			withScanFlags(t, nil, tc.keywords, true)

			table := labels.NewTable()
			a, err := buildScanAutomaton(t.TempDir(), table)
			require.NoError(t, err)
			require.Equal(t, tc.skip, a.SkipMode())
			ref, err := app.ReferenceFor(a, table)
			require.NoError(t, err)

			diffs, err := verifyData(testCmd(), a, table, ref, []byte("USHERS and his Hershey"))
			require.NoError(t, err)
			assert.Empty(t, diffs)
		})
	}
}

func TestFormatStats(t *testing.T) {
	health := &socket.HealthResult{Status: "ok", Stages: 1, Keywords: 12, Uptime: "5s"}
	stats := &socket.StatsResult{Hits: map[string]uint64{"NET": 3, "DISK": 9}}
	stats.Stages = []stage.Stats{{Name: "ops", Mode: "tag", Processed: 4, Passed: 4, Matches: 12}}

	out := formatStats(health, stats, false)
	assert.Contains(t, out, "1 stages │ 12 keywords │ up 5s")
	assert.Contains(t, out, "ops")
	assert.Contains(t, out, "DISK 9 │ NET 3")
}

func TestEndpoints_Config(t *testing.T) {
	root := t.TempDir()
	sock, db := endpoints(root)
	assert.Equal(t, socket.SocketPath(root), sock)
	assert.Equal(t, filepath.Join(root, ".kwtag", "kwtag.db"), db)

	writeFile(t, filepath.Join(root, "kwtag.yaml"), "socket: /tmp/kwtag-test.sock\ndb_path: "+filepath.Join(root, "x.db")+"\n")
	sock, db = endpoints(root)
	assert.Equal(t, "/tmp/kwtag-test.sock", sock)
	assert.Equal(t, filepath.Join(root, "x.db"), db)
}
