package cmd

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/corey/kwtag/internal/adapters/framing"
	"github.com/corey/kwtag/internal/ports"
)

var (
	tagFramed bool
	tagDaemon bool
	tagAll    bool
)

var tagCmd = &cobra.Command{
	Use:   "tag",
	Short: "Label records read from stdin",
	Long: "Reads records from stdin (one JSON object per line, or length-prefixed frames with --framed),\n" +
		"runs them through the configured stages and writes the records that pass to stdout.\n" +
		"Uses the running daemon when there is one.",
	Args: cobra.NoArgs,
	RunE: runTag,
}

func init() {
	tagCmd.Flags().BoolVar(&tagFramed, "framed", false, "Read and write 4-byte length-prefixed frames")
	tagCmd.Flags().BoolVar(&tagDaemon, "daemon", false, "Require the running daemon")
	tagCmd.Flags().BoolVar(&tagAll, "all", false, "Also write records dropped by a stage")
}

// recordSource yields records until io.EOF.
type recordSource func() (*ports.Record, error)

// recordSink writes one record.
type recordSink func(*ports.Record) error

func runTag(cmd *cobra.Command, args []string) error {
	root := projectRoot()

	process, closeFn, err := tagProcessor(root)
	if err != nil {
		return err
	}
	defer closeFn()

	out := bufio.NewWriter(os.Stdout)
	defer out.Flush()

	var (
		next recordSource
		emit recordSink
	)
	if tagFramed {
		r := framing.NewReader(os.Stdin, framing.DefaultMaxFrame)
		w := framing.NewWriter(out, framing.DefaultMaxFrame)
		next, emit = r.Read, w.Write
	} else {
		next, emit = jsonlSource(os.Stdin), jsonlSink(out)
	}

	return pumpRecords(next, emit, process)
}

// tagProcessor returns a function that runs one record through either the
// daemon or a local pipeline.
func tagProcessor(root string) (func(*ports.Record) (bool, error), func(), error) {
	client := newClient(root)
	if tagDaemon || client.Ping() {
		if !client.Ping() {
			return nil, nil, fmt.Errorf("daemon not running. Start with: kwtag daemon start")
		}
		logger.Debug().Msg("tagging through daemon")
		return func(rec *ports.Record) (bool, error) {
			res, err := client.Tag(*rec)
			if err != nil {
				return false, err
			}
			*rec = res.Record
			return res.Passed, nil
		}, func() {}, nil
	}

	a, err := newApp(root)
	if err != nil {
		return nil, nil, err
	}
	return a.Tag, func() {
		if err := a.Close(); err != nil {
			logger.Warn().Err(err).Msg("close store")
		}
	}, nil
}

// pumpRecords moves records from next through process to emit. Bad input
// records are reported and skipped.
func pumpRecords(next recordSource, emit recordSink, process func(*ports.Record) (bool, error)) error {
	var n, bad int
	for {
		rec, err := next()
		if errors.Is(err, io.EOF) {
			break
		}
		if isBadRecord(err) {
			bad++
			logger.Warn().Err(err).Int("record", n+bad).Msg("skipping bad record")
			continue
		}
		if err != nil {
			return err
		}
		n++

		passed, err := process(rec)
		if err != nil {
			return err
		}
		if passed || tagAll {
			if err := emit(rec); err != nil {
				return err
			}
		}
	}
	logger.Debug().Int("records", n).Int("bad", bad).Msg("tag done")
	return nil
}

var errBadRecord = errors.New("bad record")

// isBadRecord reports errors that spoil one record but not the stream.
func isBadRecord(err error) bool {
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	return errors.Is(err, errBadRecord) || errors.Is(err, framing.ErrEmptyFrame) ||
		errors.As(err, &syntaxErr) || errors.As(err, &typeErr)
}

// jsonlSource reads one JSON record per line, skipping blank lines.
func jsonlSource(r io.Reader) recordSource {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), framing.DefaultMaxFrame)
	return func() (*ports.Record, error) {
		for sc.Scan() {
			line := sc.Bytes()
			if len(line) == 0 {
				continue
			}
			var rec ports.Record
			if err := json.Unmarshal(line, &rec); err != nil {
				return nil, fmt.Errorf("%w: %v", errBadRecord, err)
			}
			return &rec, nil
		}
		if err := sc.Err(); err != nil {
			return nil, err
		}
		return nil, io.EOF
	}
}

func jsonlSink(w io.Writer) recordSink {
	enc := json.NewEncoder(w)
	return func(rec *ports.Record) error { return enc.Encode(rec) }
}
