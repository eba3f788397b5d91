// kwtag matches many keywords at once over files, streams and records.
// Single binary: one-shot scans, a tagging pipeline, and a daemon with hot
// dictionary reload.
package main

import (
	"os"

	"github.com/corey/kwtag/cmd/kwtag/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		if code := cmd.ExitCode(err); code >= 0 {
			os.Exit(code)
		}
		os.Exit(1)
	}
}
