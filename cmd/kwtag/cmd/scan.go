package cmd

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"runtime"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/corey/kwtag/internal/app"
	"github.com/corey/kwtag/internal/domain/automaton"
	"github.com/corey/kwtag/internal/domain/dictionary"
	"github.com/corey/kwtag/internal/domain/labels"
)

var (
	scanDicts      []string
	scanKeywords   []string
	scanCaseInsens bool
	scanClassic    bool
	scanCountOnly  bool
	scanFilesMatch bool
	scanFirstOnly  bool
	scanQuiet      bool
	scanJobs       int
	scanColor      string
)

var scanCmd = &cobra.Command{
	Use:   "scan [flags] [file ...]",
	Short: "Scan files or stdin for dictionary keywords",
	Long: "Scans each file (or stdin) with one automaton built from the given dictionaries and keywords.\n" +
		"Prints file:start-end: keyword [LABEL] per match. Exit 0 on match, 1 on none, 2 on error.",
	Args:          cobra.ArbitraryArgs,
	RunE:          runScan,
	SilenceErrors: true,
	SilenceUsage:  true,
}

func init() {
	f := scanCmd.Flags()
	f.StringArrayVarP(&scanDicts, "dict", "d", nil, "Dictionary file, stored name or built-in name (repeatable)")
	f.StringArrayVarP(&scanKeywords, "keyword", "e", nil, "Literal keyword (repeatable)")
	f.BoolVarP(&scanCaseInsens, "ignore-case", "i", false, "ASCII case-insensitive matching")
	f.BoolVar(&scanClassic, "classic", false, "Always use the automaton walk, never skip search")
	f.BoolVarP(&scanCountOnly, "count", "c", false, "Print match counts per file")
	f.BoolVarP(&scanFilesMatch, "files-with-matches", "l", false, "Print only names of files with matches")
	f.BoolVarP(&scanFirstOnly, "first", "1", false, "Stop each file at its first match")
	f.BoolVarP(&scanQuiet, "quiet", "q", false, "Quiet mode (exit code only)")
	f.IntVarP(&scanJobs, "jobs", "j", runtime.NumCPU(), "Files scanned concurrently")
	f.StringVar(&scanColor, "color", "auto", "Color output: auto, always, never")
}

// scanHit is one match in one input.
type scanHit struct {
	start, end int64
	keyword    []byte
	label      string
}

type scanResult struct {
	name string
	hits []scanHit
	err  error
}

func runScan(cmd *cobra.Command, args []string) error {
	if len(scanDicts) == 0 && len(scanKeywords) == 0 {
		fmt.Fprintln(os.Stderr, "scan: need at least one -d dictionary or -e keyword")
		return exitError{2}
	}

	table := labels.NewTable()
	a, err := buildScanAutomaton(projectRoot(), table)
	if err != nil {
		fmt.Fprintf(os.Stderr, "scan: %v\n", err)
		return exitError{2}
	}
	logger.Debug().Int("keywords", a.Len()).Bool("skip", a.SkipMode()).Msg("automaton ready")

	inputs := args
	if len(inputs) == 0 {
		if !isStdinPipe() {
			fmt.Fprintln(os.Stderr, "scan: no files given and stdin is a terminal")
			return exitError{2}
		}
		inputs = []string{"-"}
	}

	results := make([]scanResult, len(inputs))
	g, ctx := errgroup.WithContext(cmd.Context())
	if scanJobs > 0 {
		g.SetLimit(scanJobs)
	}
	for i, name := range inputs {
		g.Go(func() error {
			results[i] = scanOne(ctx, a, table, name)
			return nil
		})
	}
	g.Wait()

	useColor := resolveColor(scanColor)
	out := bufio.NewWriter(os.Stdout)
	defer out.Flush()

	matched, failed := false, false
	for _, r := range results {
		if r.err != nil {
			fmt.Fprintf(os.Stderr, "kwtag: %s: %v\n", displayName(r.name), r.err)
			failed = true
			continue
		}
		if len(r.hits) > 0 {
			matched = true
		}
		if !scanQuiet {
			writeScanResult(out, r, useColor)
		}
	}

	switch {
	case failed:
		return exitError{2}
	case matched:
		return nil
	default:
		return exitError{1}
	}
}

// buildScanAutomaton compiles -d dictionaries and -e keywords into one
// automaton.
func buildScanAutomaton(root string, table *labels.Table) (*automaton.Automaton, error) {
	var specs []*dictionary.Spec
	resolver := &app.Resolver{Root: root}

	for _, d := range scanDicts {
		dc := app.DictionaryConfig{Name: d}
		if _, err := os.Stat(d); err == nil {
			dc = app.DictionaryConfig{Name: dictionary.NameOf(d), Path: d}
		} else if resolver.Store == nil && hasStore(root) {
			store, err := openStore(root)
			switch {
			case err == nil:
				defer store.Close()
				resolver.Store = store
			case isBuiltin(d):
				logger.Warn().Err(err).Str("dict", d).Msg("store unavailable, using built-in")
			default:
				return nil, err
			}
		}
		spec, err := resolver.Resolve(dc)
		if err != nil {
			return nil, err
		}
		specs = append(specs, spec)
	}

	if len(scanKeywords) > 0 {
		kw := &dictionary.Spec{Name: "cli"}
		for _, k := range scanKeywords {
			kw.Entries = append(kw.Entries, dictionary.Entry{Keyword: []byte(k)})
		}
		specs = append(specs, kw)
	}

	var opts []automaton.Option
	if scanCaseInsens {
		opts = append(opts, automaton.CaseInsensitive())
	}
	if scanClassic {
		opts = append(opts, automaton.DisableSkip())
	}
	return dictionary.Build(table, opts, specs...)
}

// hasStore reports whether the project already has a database.
func hasStore(root string) bool {
	_, dbPath := endpoints(root)
	_, err := os.Stat(dbPath)
	return err == nil
}

func isBuiltin(name string) bool {
	_, err := app.Builtin(name)
	return err == nil
}

// scanOne scans a file, or stdin for "-".
func scanOne(ctx context.Context, a *automaton.Automaton, table *labels.Table, name string) scanResult {
	res := scanResult{name: name}
	fn := func(m automaton.FileMatch) automaton.Action {
		label := table.Name(m.Info.Value)
		res.hits = append(res.hits, scanHit{
			start:   m.Offset - int64(len(m.Info.Keyword)),
			end:     m.Offset,
			keyword: m.Info.Keyword,
			label:   label,
		})
		if scanFirstOnly || scanFilesMatch || scanQuiet {
			return automaton.Stop
		}
		return automaton.Continue
	}

	if name == "-" {
		_, res.err = a.SearchReader(ctx, nil, os.Stdin, fn)
	} else {
		_, res.err = a.SearchFile(ctx, nil, name, fn)
	}
	return res
}

func displayName(name string) string {
	if name == "-" {
		return "(stdin)"
	}
	return name
}

func writeScanResult(w *bufio.Writer, r scanResult, useColor bool) {
	name := displayName(r.name)
	switch {
	case scanFilesMatch:
		if len(r.hits) > 0 {
			fmt.Fprintln(w, paint(useColor, colorCyan, name))
		}
	case scanCountOnly:
		fmt.Fprintf(w, "%s:%d\n", paint(useColor, colorCyan, name), len(r.hits))
	default:
		for _, h := range r.hits {
			fmt.Fprintf(w, "%s:%d-%d: %s [%s]\n",
				paint(useColor, colorCyan, name), h.start, h.end,
				printable(h.keyword), paint(useColor, colorYellow, h.label))
		}
	}
}

// printable quotes keywords holding control or non-ASCII bytes.
func printable(b []byte) string {
	for _, c := range b {
		if c < 0x20 || c >= 0x7f {
			return fmt.Sprintf("%q", b)
		}
	}
	return string(b)
}
