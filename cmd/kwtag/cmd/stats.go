package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show daemon health, per-stage counters and label hits",
	RunE:  runStats,
}

func runStats(cmd *cobra.Command, args []string) error {
	client := newClient(projectRoot())

	if !client.Ping() {
		return fmt.Errorf("daemon not running. Start with: kwtag daemon start")
	}

	health, err := client.Health()
	if err != nil {
		return err
	}
	result, err := client.Stats()
	if err != nil {
		return err
	}

	fmt.Print(formatStats(health, result, resolveColor("auto")))
	return nil
}
