package natsio

import (
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corey/kwtag/internal/ports"
)

// fakeConn records subscriptions and publishes in memory.
type fakeConn struct {
	mu         sync.Mutex
	subject    string
	queue      string
	handler    nats.MsgHandler
	published  map[string][][]byte
	drained    int
	publishErr error
}

func newFakeConn() *fakeConn {
	return &fakeConn{published: make(map[string][][]byte)}
}

func (f *fakeConn) QueueSubscribe(subj, queue string, cb nats.MsgHandler) (*nats.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subject, f.queue, f.handler = subj, queue, cb
	return &nats.Subscription{Subject: subj, Queue: queue}, nil
}

func (f *fakeConn) Publish(subj string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.publishErr != nil {
		return f.publishErr
	}
	f.published[subj] = append(f.published[subj], data)
	return nil
}

func (f *fakeConn) Drain() error {
	f.mu.Lock()
	f.drained++
	f.mu.Unlock()
	return nil
}

func (f *fakeConn) deliver(subject, data string) {
	f.handler(&nats.Msg{Subject: subject, Data: []byte(data)})
}

func (f *fakeConn) records(t *testing.T, subject string) []ports.Record {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []ports.Record
	for _, data := range f.published[subject] {
		var rec ports.Record
		require.NoError(t, json.Unmarshal(data, &rec))
		out = append(out, rec)
	}
	return out
}

// containsProcessor passes records whose fields contain a word and labels them.
type containsProcessor struct{ word string }

func (p containsProcessor) Process(rec *ports.Record) bool {
	for _, f := range rec.Fields {
		if strings.Contains(string(f.Value), p.word) {
			rec.AddLabel("HIT")
			return true
		}
	}
	return false
}

func newBridge(t *testing.T, cfg Config) (*Bridge, *fakeConn) {
	t.Helper()
	conn := newFakeConn()
	b, err := NewBridge(cfg, conn, containsProcessor{word: "error"}, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, b.Start())
	return b, conn
}

func TestBridge_PassesAndDrops(t *testing.T) {
	b, conn := newBridge(t, Config{Input: "logs.>", Output: "alerts", Dropped: "quiet", Queue: "kwtag"})
	assert.Equal(t, "logs.>", conn.subject)
	assert.Equal(t, "kwtag", conn.queue)

	conn.deliver("logs.db", `{"id":"r1","fields":[{"name":"msg","value":"disk error"}]}`)
	conn.deliver("logs.web", "GET / 200")

	alerts := conn.records(t, "alerts")
	require.Len(t, alerts, 1)
	assert.Equal(t, "r1", alerts[0].ID)
	assert.Equal(t, "logs.db", alerts[0].Stream, "stream defaults to the subject")
	assert.Equal(t, []string{"HIT"}, alerts[0].Labels)

	quiet := conn.records(t, "quiet")
	require.Len(t, quiet, 1)
	assert.Equal(t, DataField, quiet[0].Fields[0].Name)
	assert.Equal(t, "GET / 200", string(quiet[0].Fields[0].Value))

	assert.Equal(t, Stats{Received: 2, Passed: 1, Dropped: 1}, b.Stats())
}

func TestBridge_NoDroppedSubject(t *testing.T) {
	b, conn := newBridge(t, Config{Input: "in", Output: "out"})
	conn.deliver("in", "nothing")
	assert.Empty(t, conn.published)
	assert.Equal(t, uint64(1), b.Stats().Dropped)
}

func TestBridge_PublishError(t *testing.T) {
	b, conn := newBridge(t, Config{Input: "in", Output: "out"})
	conn.publishErr = errors.New("connection closed")
	conn.deliver("in", "an error line")
	assert.Equal(t, uint64(1), b.Stats().Errors)
}

func TestBridge_StartStopIdempotent(t *testing.T) {
	b, conn := newBridge(t, Config{Input: "in", Output: "out"})
	require.NoError(t, b.Start())
	require.NoError(t, b.Stop())
	require.NoError(t, b.Stop())
	assert.Equal(t, 1, conn.drained)
}

func TestConfig_Validate(t *testing.T) {
	assert.ErrorIs(t, Config{Output: "o"}.Validate(), ErrNoInput)
	assert.ErrorIs(t, Config{Input: "i"}.Validate(), ErrNoOutput)
	assert.Error(t, Config{Input: "x", Output: "x"}.Validate())
	assert.NoError(t, Config{Input: "i", Output: "o"}.Validate())

	_, err := NewBridge(Config{}, newFakeConn(), containsProcessor{}, zerolog.Nop())
	assert.ErrorIs(t, err, ErrNoInput)
}

func TestDecode(t *testing.T) {
	rec := Decode("subj", []byte(`{"stream":"custom","fields":[{"name":"a","value":"b"}]}`))
	assert.Equal(t, "custom", rec.Stream)
	assert.NotEmpty(t, rec.ID)

	raw := Decode("subj", []byte(`{"no_fields":true}`))
	require.Len(t, raw.Fields, 1)
	assert.Equal(t, DataField, raw.Fields[0].Name)
	assert.Equal(t, "subj", raw.Stream)

	empty := Decode("subj", nil)
	assert.Empty(t, empty.Fields[0].Value)
}

func TestConnect_Unreachable(t *testing.T) {
	_, err := Connect(Config{URL: "nats://127.0.0.1:1", MaxReconnects: 1}, zerolog.Nop())
	assert.Error(t, err)
}
