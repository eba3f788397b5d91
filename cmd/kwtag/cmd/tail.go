package cmd

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/corey/kwtag/internal/adapters/tailer"
	"github.com/corey/kwtag/internal/ports"
)

var (
	tailFromStart bool
	tailPoll      time.Duration
	tailAll       bool
)

var tailCmd = &cobra.Command{
	Use:   "tail <file> [file ...]",
	Short: "Follow log files and label new lines",
	Long: "Follows each file like tail -F. Every new line becomes a record (JSON lines are\n" +
		"flattened into fields) and goes through the configured stages. Records that pass\n" +
		"are written to stdout as JSON. Streaming state resets when a file rotates.",
	Args: cobra.MinimumNArgs(1),
	RunE: runTail,
}

func init() {
	tailCmd.Flags().BoolVar(&tailFromStart, "from-start", false, "Process existing content first")
	tailCmd.Flags().DurationVar(&tailPoll, "poll", tailer.DefaultPollInterval, "Poll interval")
	tailCmd.Flags().BoolVar(&tailAll, "all", false, "Also write records dropped by a stage")
}

func runTail(cmd *cobra.Command, args []string) error {
	root := projectRoot()
	a, err := newApp(root)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.Warn().Err(err).Msg("close store")
		}
	}()

	out := bufio.NewWriter(os.Stdout)
	enc := json.NewEncoder(out)
	var outMu sync.Mutex

	emit := func(rec *ports.Record) {
		outMu.Lock()
		defer outMu.Unlock()
		if err := enc.Encode(rec); err != nil {
			logger.Error().Err(err).Msg("write record")
			return
		}
		out.Flush()
	}

	tailers := make([]*tailer.Tailer, 0, len(args))
	for _, path := range args {
		stream := path
		t := tailer.New(tailer.Config{
			Path:         path,
			Stream:       stream,
			PollInterval: tailPoll,
			FromStart:    tailFromStart,
			OnLine: func(line []byte, offset int64) {
				rec := tailer.ParseLine(line, stream)
				if a.Process(rec) || tailAll {
					emit(rec)
				}
			},
			OnReset: func(reason string) {
				logger.Info().Str("file", stream).Str("reason", reason).Msg("stream reset")
				a.Pipeline.ResetStream(stream)
			},
		})
		t.Start()
		tailers = append(tailers, t)
	}
	logger.Info().Int("files", len(tailers)).Msg("tailing")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	signal.Stop(sigCh)

	var lines int64
	for _, t := range tailers {
		t.Stop()
		n, _ := t.Counts()
		lines += n
	}
	fmt.Fprintf(os.Stderr, "⚡ %d lines from %d files\n", lines, len(tailers))
	return nil
}
