// Package tailer follows a growing log file and turns each appended line
// into a record. Truncation and rotation are detected on every poll and
// reported so streaming match state can be reset.
package tailer

import (
	"bufio"
	"io"
	"os"
	"sync"
	"time"
)

// DefaultPollInterval is how often the file is checked for new data.
const DefaultPollInterval = 250 * time.Millisecond

// MaxLineSize caps a single line. Longer lines are skipped.
const MaxLineSize = 1 << 20

// Tailer polls one file and emits its new lines.
//
// Thread-safe: Start/Stop can be called from any goroutine.
type Tailer struct {
	path         string
	stream       string
	pollInterval time.Duration
	fromStart    bool

	onLine  func(line []byte, offset int64) // called for each complete line
	onReset func(reason string)             // truncation or rotation (optional)

	// State
	offset  int64
	info    os.FileInfo // identity of the file being read
	partial []byte      // bytes after the last newline
	long    bool        // current line exceeded MaxLineSize

	mu      sync.Mutex
	lines   int64
	resets  int64
	done    chan struct{}
	started chan struct{} // closed after the initial stat
	wg      sync.WaitGroup
}

// Config holds parameters for creating a Tailer.
type Config struct {
	// Path is the file to follow.
	Path string

	// Stream names the source in emitted records. Defaults to Path.
	Stream string

	// PollInterval defaults to DefaultPollInterval.
	PollInterval time.Duration

	// FromStart replays the existing content instead of seeking to the end.
	FromStart bool

	// OnLine is called for each complete line, without its newline, and
	// the file offset the line started at. Must be non-nil.
	OnLine func(line []byte, offset int64)

	// OnReset is called when the file is truncated or replaced.
	OnReset func(reason string)
}

// New creates a Tailer. Does not start tailing until Start() is called.
func New(cfg Config) *Tailer {
	interval := cfg.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	stream := cfg.Stream
	if stream == "" {
		stream = cfg.Path
	}
	return &Tailer{
		path:         cfg.Path,
		stream:       stream,
		pollInterval: interval,
		fromStart:    cfg.FromStart,
		onLine:       cfg.OnLine,
		onReset:      cfg.OnReset,
		done:         make(chan struct{}),
		started:      make(chan struct{}),
	}
}

// Start begins the tailing loop in a background goroutine.
func (t *Tailer) Start() {
	t.wg.Add(1)
	go t.loop()
}

// Stop terminates the tailing loop and waits for it to finish.
// Safe to call multiple times.
func (t *Tailer) Stop() {
	t.mu.Lock()
	select {
	case <-t.done:
		t.mu.Unlock()
		return
	default:
		close(t.done)
	}
	t.mu.Unlock()
	t.wg.Wait()
}

// Path returns the file being followed.
func (t *Tailer) Path() string { return t.path }

// Stream returns the stream name used for emitted records.
func (t *Tailer) Stream() string { return t.stream }

// Started returns a channel that closes after the initial stat completes.
// Useful for tests that need to wait for the tailer to be ready before writing.
func (t *Tailer) Started() <-chan struct{} {
	return t.started
}

// Counts returns the lines emitted and resets seen so far.
func (t *Tailer) Counts() (lines, resets int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lines, t.resets
}

func (t *Tailer) loop() {
	defer t.wg.Done()

	ticker := time.NewTicker(t.pollInterval)
	defer ticker.Stop()

	t.open()
	close(t.started)
	if t.fromStart {
		t.poll()
	}

	for {
		select {
		case <-t.done:
			return
		case <-ticker.C:
			t.poll()
		}
	}
}

// open records the initial identity and, unless replaying, seeks to the end.
func (t *Tailer) open() {
	info, err := os.Stat(t.path)
	if err != nil {
		return // file may appear later
	}
	t.info = info
	if !t.fromStart {
		t.offset = info.Size()
	}
}

// poll reads any content appended since the last read.
// Uses ReadBytes('\n') to track exact byte offsets (bufio.Scanner
// reads ahead and corrupts file position tracking).
func (t *Tailer) poll() {
	f, err := os.Open(t.path)
	if err != nil {
		return // file gone mid-rotation; skip this cycle
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return
	}
	switch {
	case t.info != nil && !os.SameFile(t.info, info):
		t.reset("rotated")
	case info.Size() < t.offset:
		t.reset("truncated")
	}
	t.info = info

	if info.Size() == t.offset {
		return
	}
	if _, err := f.Seek(t.offset, io.SeekStart); err != nil {
		return
	}

	reader := bufio.NewReaderSize(f, 256*1024)
	for {
		chunk, err := reader.ReadBytes('\n')
		if len(chunk) > 0 {
			t.consume(chunk)
		}
		if err != nil {
			break
		}
	}
}

// consume handles bytes read from the current offset. Only newline-terminated
// lines are emitted; a trailing fragment waits for the next poll.
func (t *Tailer) consume(chunk []byte) {
	lineStart := t.offset - int64(len(t.partial))
	t.offset += int64(len(chunk))

	if chunk[len(chunk)-1] != '\n' {
		if !t.long && len(t.partial)+len(chunk) <= MaxLineSize {
			t.partial = append(t.partial, chunk...)
		} else {
			t.partial = nil
			t.long = true
		}
		return
	}
	if t.long {
		t.long = false
		return
	}

	line := chunk
	if len(t.partial) > 0 {
		line = append(t.partial, chunk...)
		t.partial = nil
	}
	line = trimNewline(line)
	if len(line) == 0 || len(line) > MaxLineSize {
		return
	}

	t.mu.Lock()
	t.lines++
	t.mu.Unlock()
	if t.onLine != nil {
		t.onLine(line, lineStart)
	}
}

func (t *Tailer) reset(reason string) {
	t.offset = 0
	t.partial = nil
	t.long = false
	t.mu.Lock()
	t.resets++
	t.mu.Unlock()
	if t.onReset != nil {
		t.onReset(reason)
	}
}

// trimNewline removes trailing \n and \r\n from a line.
func trimNewline(line []byte) []byte {
	if len(line) > 0 && line[len(line)-1] == '\n' {
		line = line[:len(line)-1]
	}
	if len(line) > 0 && line[len(line)-1] == '\r' {
		line = line[:len(line)-1]
	}
	return line
}
