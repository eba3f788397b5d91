package cmd

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/corey/kwtag/internal/adapters/ahocorasick"
	"github.com/corey/kwtag/internal/app"
	"github.com/corey/kwtag/internal/domain/automaton"
	"github.com/corey/kwtag/internal/domain/labels"
	"github.com/corey/kwtag/internal/ports"
)

var verifyCmd = &cobra.Command{
	Use:   "verify [flags] [file ...]",
	Short: "Cross-check the matcher against an independent Aho-Corasick implementation",
	Long: "Builds the -d/-e keyword set into both kwtag's automaton and a reference matcher and\n" +
		"compares every occurrence, in memory and through chunked file scanning.\n" +
		"Exit 0 when all inputs agree, 1 on a mismatch, 2 on error.",
	Args:          cobra.ArbitraryArgs,
	RunE:          runVerify,
	SilenceErrors: true,
	SilenceUsage:  true,
}

func init() {
	f := verifyCmd.Flags()
	f.StringArrayVarP(&scanDicts, "dict", "d", nil, "Dictionary file, stored name or built-in name (repeatable)")
	f.StringArrayVarP(&scanKeywords, "keyword", "e", nil, "Literal keyword (repeatable)")
	f.BoolVarP(&scanCaseInsens, "ignore-case", "i", false, "ASCII case-insensitive matching")
	f.BoolVar(&scanClassic, "classic", false, "Always use the automaton walk, never skip search")
}

func runVerify(cmd *cobra.Command, args []string) error {
	if len(scanDicts) == 0 && len(scanKeywords) == 0 {
		fmt.Fprintln(os.Stderr, "verify: need at least one -d dictionary or -e keyword")
		return exitError{2}
	}

	table := labels.NewTable()
	a, err := buildScanAutomaton(projectRoot(), table)
	if err != nil {
		fmt.Fprintf(os.Stderr, "verify: %v\n", err)
		return exitError{2}
	}
	ref, err := app.ReferenceFor(a, table)
	if err != nil {
		fmt.Fprintf(os.Stderr, "verify: %v\n", err)
		return exitError{2}
	}

	inputs := args
	if len(inputs) == 0 {
		inputs = []string{"-"}
	}

	mismatched := false
	for _, name := range inputs {
		data, err := readInput(name)
		if err != nil {
			fmt.Fprintf(os.Stderr, "kwtag: %s: %v\n", displayName(name), err)
			return exitError{2}
		}
		diffs, err := verifyData(cmd, a, table, ref, data)
		if err != nil {
			fmt.Fprintf(os.Stderr, "kwtag: %s: %v\n", displayName(name), err)
			return exitError{2}
		}
		if len(diffs) == 0 {
			fmt.Printf("✓ %s\n", displayName(name))
			continue
		}
		mismatched = true
		fmt.Printf("✗ %s\n", displayName(name))
		for _, d := range diffs {
			fmt.Printf("    %s\n", d)
		}
	}

	if mismatched {
		return exitError{1}
	}
	return nil
}

func readInput(name string) ([]byte, error) {
	if name == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(name)
}

// verifyData compares the reference occurrences with the automaton's
// in-memory and streamed results. Each returned line describes one
// disagreement.
func verifyData(cmd *cobra.Command, a *automaton.Automaton, table *labels.Table, ref *ahocorasick.Matcher, data []byte) ([]string, error) {
	want := ref.Match(data)

	mem, err := app.ScanOccurrences(a, table, data, false)
	if err != nil {
		return nil, err
	}

	var streamed []ports.Occurrence
	_, err = a.SearchReader(cmd.Context(), nil, bytes.NewReader(data), func(m automaton.FileMatch) automaton.Action {
		streamed = append(streamed, ports.Occurrence{
			Keyword: string(m.Info.Keyword),
			Label:   table.Name(m.Info.Value),
			Start:   int(m.Offset) - len(m.Info.Keyword),
			End:     int(m.Offset),
		})
		return automaton.Continue
	})
	if err != nil {
		return nil, err
	}

	var diffs []string
	for _, d := range app.DiffOccurrences(want, mem) {
		diffs = append(diffs, "memory: "+d)
	}
	for _, d := range app.DiffOccurrences(want, streamed) {
		diffs = append(diffs, "stream: "+d)
	}
	return diffs, nil
}
