package web

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corey/kwtag/internal/adapters/socket"
	"github.com/corey/kwtag/internal/domain/stage"
	"github.com/corey/kwtag/internal/ports"
)

// mockQueries implements socket.AppQueries for testing.
type mockQueries struct {
	lastScan socket.ScanParams
}

func (m *mockQueries) Scan(p socket.ScanParams) (socket.ScanResult, error) {
	m.lastScan = p
	if strings.Contains(string(p.Data), "boom") {
		return socket.ScanResult{}, errors.New("unknown stage")
	}
	return socket.ScanResult{
		Matches: []ports.Occurrence{{Keyword: "error", Label: "ERR", Start: 0, End: 5}},
		Count:   1,
	}, nil
}

func (m *mockQueries) Tag(rec *ports.Record) (bool, error) {
	rec.AddLabel("SEEN")
	return true, nil
}

func (m *mockQueries) Stats() socket.StatsResult {
	return socket.StatsResult{
		Stages: []stage.Stats{{Name: "alerts", Mode: "filter", Keywords: 3, Processed: 10, Passed: 4, Dropped: 6}},
		Hits:   map[string]uint64{"ERR": 7},
	}
}

func (m *mockQueries) Reload(name string) (socket.ReloadResult, error) {
	if name == "bad" {
		return socket.ReloadResult{}, errors.New("line 2: empty keyword")
	}
	return socket.ReloadResult{Stages: []string{"alerts"}, Keywords: 3}, nil
}

func (m *mockQueries) Health() socket.HealthResult {
	return socket.HealthResult{Stages: 1, Dictionaries: 2, Keywords: 3}
}

func setupTestServer(t *testing.T) (*httptest.Server, *mockQueries) {
	t.Helper()

	reg := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "kwtag_test_total", Help: "test"})
	reg.MustRegister(counter)
	counter.Add(3)

	queries := &mockQueries{}
	srv := NewServer(queries, reg, "", zerolog.Nop())
	ts := httptest.NewServer(srv.routes())
	t.Cleanup(ts.Close)
	return ts, queries
}

func TestHealthEndpoint(t *testing.T) {
	ts, _ := setupTestServer(t)

	resp, err := http.Get(ts.URL + "/api/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var result socket.HealthResult
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
	assert.Equal(t, "ok", result.Status)
	assert.Equal(t, 2, result.Dictionaries)
	assert.Equal(t, 3, result.Keywords)
}

func TestStatsEndpoint(t *testing.T) {
	ts, _ := setupTestServer(t)

	resp, err := http.Get(ts.URL + "/api/stats")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, 200, resp.StatusCode)

	var result socket.StatsResult
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
	require.Len(t, result.Stages, 1)
	assert.Equal(t, "alerts", result.Stages[0].Name)
	assert.Equal(t, uint64(6), result.Stages[0].Dropped)
	assert.Equal(t, uint64(7), result.Hits["ERR"])
}

func TestScanEndpoint(t *testing.T) {
	ts, queries := setupTestServer(t)

	resp, err := http.Post(ts.URL+"/api/scan?stage=alerts&first=1", "text/plain", strings.NewReader("error here"))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, 200, resp.StatusCode)

	var result socket.ScanResult
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
	assert.Equal(t, 1, result.Count)
	assert.Equal(t, "ERR", result.Matches[0].Label)
	assert.Equal(t, "alerts", queries.lastScan.Stage)
	assert.True(t, queries.lastScan.FirstOnly)
	assert.Equal(t, []byte("error here"), queries.lastScan.Data)

	resp, err = http.Post(ts.URL+"/api/scan", "text/plain", strings.NewReader("boom"))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	resp, err = http.Get(ts.URL + "/api/scan")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestTagEndpoint(t *testing.T) {
	ts, _ := setupTestServer(t)

	body := `{"id":"r1","fields":[{"name":"msg","value":"hi"}]}`
	resp, err := http.Post(ts.URL+"/api/tag", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, 200, resp.StatusCode)

	var result socket.TagResult
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
	assert.True(t, result.Passed)
	assert.Equal(t, []string{"SEEN"}, result.Record.Labels)

	resp, err = http.Post(ts.URL+"/api/tag", "application/json", strings.NewReader("{"))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestReloadEndpoint(t *testing.T) {
	ts, _ := setupTestServer(t)

	resp, err := http.Post(ts.URL+"/api/reload?name=crash", "", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, 200, resp.StatusCode)

	resp, err = http.Post(ts.URL+"/api/reload?name=bad", "", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Contains(t, body["error"], "empty keyword")
}

func TestMetricsEndpoint(t *testing.T) {
	ts, _ := setupTestServer(t)

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, 200, resp.StatusCode)

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(data), "kwtag_test_total 3")
}

func TestDashboardHTML(t *testing.T) {
	ts, _ := setupTestServer(t)

	resp, err := http.Get(ts.URL + "/")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, 200, resp.StatusCode)
	ct := resp.Header.Get("Content-Type")
	assert.True(t, strings.HasPrefix(ct, "text/html"), "content-type should be text/html, got %s", ct)

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(data), "kwtag")
}

func TestServer_StartWritesPortFile(t *testing.T) {
	portFile := filepath.Join(t.TempDir(), "http.port")
	srv := NewServer(&mockQueries{}, nil, portFile, zerolog.Nop())
	require.NoError(t, srv.Start("127.0.0.1:0"))

	data, err := os.ReadFile(portFile)
	require.NoError(t, err)
	assert.NotEqual(t, "0", string(data))

	resp, err := http.Get(srv.URL() + "/api/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, 200, resp.StatusCode)

	resp, err = http.Get(srv.URL() + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	assert.NotEqual(t, 200, resp.StatusCode, "metrics disabled without a gatherer")

	srv.Stop()
	srv.Stop()
	_, err = os.Stat(portFile)
	assert.True(t, os.IsNotExist(err))
}

func TestDefaultPort(t *testing.T) {
	port := DefaultPort("/home/user/project")
	assert.GreaterOrEqual(t, port, 19000)
	assert.Less(t, port, 20000)

	// Same path should give same port
	assert.Equal(t, port, DefaultPort("/home/user/project"))
}
