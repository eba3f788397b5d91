// Package framing carries records over byte streams as length-prefixed
// frames: a 4-byte big-endian payload length followed by the JSON record.
package framing

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/corey/kwtag/internal/ports"
)

const (
	// HeaderSize is the length prefix size in bytes.
	HeaderSize = 4
	// DefaultMaxFrame bounds a single payload.
	DefaultMaxFrame = 16 << 20
)

var (
	// ErrFrameTooLarge is returned for a payload above the reader or writer limit.
	ErrFrameTooLarge = errors.New("framing: frame too large")
	// ErrEmptyFrame is returned for a zero-length payload.
	ErrEmptyFrame = errors.New("framing: empty frame")
)

// Writer encodes records as frames. Safe for concurrent use.
type Writer struct {
	mu  sync.Mutex
	w   io.Writer
	max int
}

// NewWriter creates a Writer. max <= 0 means DefaultMaxFrame.
func NewWriter(w io.Writer, max int) *Writer {
	if max <= 0 {
		max = DefaultMaxFrame
	}
	return &Writer{w: w, max: max}
}

// Write encodes rec and writes it as one frame.
func (fw *Writer) Write(rec *ports.Record) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("framing: encode record: %w", err)
	}
	return fw.WriteFrame(payload)
}

// WriteFrame writes payload with its length prefix.
func (fw *Writer) WriteFrame(payload []byte) error {
	if len(payload) == 0 {
		return ErrEmptyFrame
	}
	if len(payload) > fw.max {
		return fmt.Errorf("%w: %d > %d", ErrFrameTooLarge, len(payload), fw.max)
	}

	buf := make([]byte, HeaderSize+len(payload))
	binary.BigEndian.PutUint32(buf, uint32(len(payload)))
	copy(buf[HeaderSize:], payload)

	fw.mu.Lock()
	defer fw.mu.Unlock()
	_, err := fw.w.Write(buf)
	return err
}

// Reader decodes frames from a stream.
type Reader struct {
	r      *bufio.Reader
	max    int
	header [HeaderSize]byte
	frames int64
}

// NewReader creates a Reader. max <= 0 means DefaultMaxFrame.
func NewReader(r io.Reader, max int) *Reader {
	if max <= 0 {
		max = DefaultMaxFrame
	}
	return &Reader{r: bufio.NewReaderSize(r, 64*1024), max: max}
}

// Read returns the next record. It returns io.EOF at a clean end of stream
// and io.ErrUnexpectedEOF when the stream stops inside a frame.
func (fr *Reader) Read() (*ports.Record, error) {
	payload, err := fr.ReadFrame()
	if err != nil {
		return nil, err
	}
	var rec ports.Record
	if err := json.Unmarshal(payload, &rec); err != nil {
		return nil, fmt.Errorf("framing: frame %d: decode record: %w", fr.frames, err)
	}
	return &rec, nil
}

// ReadFrame returns the next raw payload.
func (fr *Reader) ReadFrame() ([]byte, error) {
	if _, err := io.ReadFull(fr.r, fr.header[:]); err != nil {
		return nil, err // io.EOF when no bytes were read
	}
	n := binary.BigEndian.Uint32(fr.header[:])
	if n == 0 {
		return nil, ErrEmptyFrame
	}
	if int64(n) > int64(fr.max) {
		return nil, fmt.Errorf("%w: %d > %d", ErrFrameTooLarge, n, fr.max)
	}

	payload := make([]byte, n)
	if _, err := io.ReadFull(fr.r, payload); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}
	fr.frames++
	return payload, nil
}

// Frames returns the number of frames read so far.
func (fr *Reader) Frames() int64 { return fr.frames }
