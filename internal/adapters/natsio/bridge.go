// Package natsio bridges NATS subjects to a record pipeline: records arrive
// on an input subject, run through the pipeline, and the ones that pass are
// published to an output subject.
package natsio

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/corey/kwtag/internal/ports"
)

// DataField names the field holding a payload that is not a JSON record.
const DataField = "data"

// Errors returned by the bridge.
var (
	ErrNoInput  = errors.New("natsio: input subject is required")
	ErrNoOutput = errors.New("natsio: output subject is required")
)

// Config describes one bridge.
type Config struct {
	URL           string        `yaml:"url"`
	Name          string        `yaml:"name"`           // client name shown by the server
	Input         string        `yaml:"input"`          // subject to consume, wildcards allowed
	Output        string        `yaml:"output"`         // subject for records that pass
	Dropped       string        `yaml:"dropped"`        // optional subject for records that fail
	Queue         string        `yaml:"queue"`          // optional queue group
	MaxReconnects int           `yaml:"max_reconnects"` // -1 retries forever
	ReconnectWait time.Duration `yaml:"reconnect_wait"`
}

// Validate checks the subjects.
func (c Config) Validate() error {
	if c.Input == "" {
		return ErrNoInput
	}
	if c.Output == "" {
		return ErrNoOutput
	}
	if c.Input == c.Output {
		return fmt.Errorf("natsio: input and output subject are both %q", c.Input)
	}
	return nil
}

// Processor is the pipeline surface the bridge drives.
type Processor interface {
	Process(rec *ports.Record) bool
}

// Conn is the subset of *nats.Conn the bridge uses.
type Conn interface {
	QueueSubscribe(subj, queue string, cb nats.MsgHandler) (*nats.Subscription, error)
	Publish(subj string, data []byte) error
	Drain() error
}

var _ Conn = (*nats.Conn)(nil)

// Connect dials the NATS server with reconnect handling logged to log.
func Connect(cfg Config, log zerolog.Logger) (*nats.Conn, error) {
	url := cfg.URL
	if url == "" {
		url = nats.DefaultURL
	}
	wait := cfg.ReconnectWait
	if wait <= 0 {
		wait = 2 * time.Second
	}
	maxReconnects := cfg.MaxReconnects
	if maxReconnects == 0 {
		maxReconnects = -1
	}
	name := cfg.Name
	if name == "" {
		name = "kwtag"
	}

	opts := []nats.Option{
		nats.Name(name),
		nats.MaxReconnects(maxReconnects),
		nats.ReconnectWait(wait),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn().Err(err).Msg("nats disconnected")
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Info().Str("url", c.ConnectedUrl()).Msg("nats reconnected")
		}),
		nats.ErrorHandler(func(_ *nats.Conn, sub *nats.Subscription, err error) {
			ev := log.Error().Err(err)
			if sub != nil {
				ev = ev.Str("subject", sub.Subject)
			}
			ev.Msg("nats error")
		}),
	}
	conn, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", url, err)
	}
	log.Info().Str("url", url).Msg("nats connected")
	return conn, nil
}

// Stats are the bridge counters.
type Stats struct {
	Received uint64 `json:"received"`
	Passed   uint64 `json:"passed"`
	Dropped  uint64 `json:"dropped"`
	Errors   uint64 `json:"errors"`
}

// Bridge consumes records from NATS and republishes the ones that pass.
type Bridge struct {
	cfg  Config
	conn Conn
	proc Processor
	log  zerolog.Logger

	mu      sync.Mutex
	sub     *nats.Subscription
	started bool

	received atomic.Uint64
	passed   atomic.Uint64
	dropped  atomic.Uint64
	errs     atomic.Uint64
}

// NewBridge creates a bridge over an established connection.
func NewBridge(cfg Config, conn Conn, proc Processor, log zerolog.Logger) (*Bridge, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Bridge{
		cfg:  cfg,
		conn: conn,
		proc: proc,
		log:  log.With().Str("input", cfg.Input).Logger(),
	}, nil
}

// Start subscribes to the input subject.
func (b *Bridge) Start() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.started {
		return nil
	}
	sub, err := b.conn.QueueSubscribe(b.cfg.Input, b.cfg.Queue, b.handle)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", b.cfg.Input, err)
	}
	b.sub = sub
	b.started = true
	b.log.Info().Str("output", b.cfg.Output).Msg("nats bridge started")
	return nil
}

// Stop drains the connection so in-flight messages finish. Idempotent.
func (b *Bridge) Stop() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.started {
		return nil
	}
	b.started = false
	return b.conn.Drain()
}

// Stats returns a snapshot of the counters.
func (b *Bridge) Stats() Stats {
	return Stats{
		Received: b.received.Load(),
		Passed:   b.passed.Load(),
		Dropped:  b.dropped.Load(),
		Errors:   b.errs.Load(),
	}
}

func (b *Bridge) handle(msg *nats.Msg) {
	b.received.Add(1)
	rec := Decode(msg.Subject, msg.Data)

	target := b.cfg.Output
	if b.proc.Process(rec) {
		b.passed.Add(1)
	} else {
		b.dropped.Add(1)
		target = b.cfg.Dropped
	}
	if target == "" {
		return
	}

	data, err := json.Marshal(rec)
	if err != nil {
		b.errs.Add(1)
		b.log.Error().Err(err).Str("record", rec.ID).Msg("encode record")
		return
	}
	if err := b.conn.Publish(target, data); err != nil {
		b.errs.Add(1)
		b.log.Error().Err(err).Str("subject", target).Msg("publish")
	}
}

// Decode turns a message payload into a record. A JSON record keeps its
// fields; any other payload becomes a single DataField. The stream defaults
// to the subject.
func Decode(subject string, data []byte) *ports.Record {
	var rec ports.Record
	if len(data) > 0 && data[0] == '{' && json.Unmarshal(data, &rec) == nil && len(rec.Fields) > 0 {
		if rec.Stream == "" {
			rec.Stream = subject
		}
		rec.EnsureID()
		return &rec
	}
	out := ports.NewRecord(subject)
	value := make([]byte, len(data))
	copy(value, data)
	out.Fields = []ports.Field{{Name: DataField, Value: value}}
	return out
}
