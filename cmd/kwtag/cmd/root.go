package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var (
	verbose    bool
	configPath string
)

// logger writes human-readable logs to stderr. The daemon swaps it for a
// JSON file logger.
var logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
	With().Timestamp().Logger().Level(zerolog.WarnLevel)

var rootCmd = &cobra.Command{
	Use:   "kwtag",
	Short: "kwtag — multi-keyword matching and record tagging",
	Long:  "Match many byte-string keywords at once over files, log streams and labeled records.",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if verbose {
			logger = logger.Level(zerolog.DebugLevel)
		}
	},
}

// projectRoot returns the project root (cwd by default).
func projectRoot() string {
	dir, err := os.Getwd()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	return dir
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.BoolVarP(&verbose, "verbose", "v", false, "Debug logging")
	pf.StringVar(&configPath, "config", "", "Config file (default: ./kwtag.yaml)")

	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(tagCmd)
	rootCmd.AddCommand(tailCmd)
	rootCmd.AddCommand(dictCmd)
	rootCmd.AddCommand(daemonCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(configCmd)
}
