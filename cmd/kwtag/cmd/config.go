package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/corey/kwtag/internal/adapters/socket"
	"github.com/corey/kwtag/internal/app"
	"github.com/corey/kwtag/internal/domain/status"
)

var configShowYAML bool

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show configuration",
	Long:  "Shows project paths, socket, daemon status and the effective configuration. No daemon required.",
	RunE:  runConfig,
}

func init() {
	configCmd.Flags().BoolVar(&configShowYAML, "yaml", false, "Print the effective config as YAML only")
}

func runConfig(cmd *cobra.Command, args []string) error {
	root := projectRoot()
	paths := app.NewPaths(root)
	cfg, err := loadConfig(root)
	if err != nil {
		return err
	}

	if configShowYAML {
		data, err := cfg.Marshal()
		if err != nil {
			return err
		}
		_, err = os.Stdout.Write(data)
		return err
	}

	sockPath := cfg.Socket
	if sockPath == "" {
		sockPath = socket.SocketPath(root)
	}
	client := socket.NewClient(sockPath)
	daemonRunning := client.Ping()
	daemonStatus := fmt.Sprintf("%s✗ not running%s", colorYellow, colorReset)
	if daemonRunning {
		daemonStatus = fmt.Sprintf("%s✓ running%s", colorGreen, colorReset)
	}

	configFile := paths.Config
	if configPath != "" {
		configFile = configPath
	}
	if _, err := os.Stat(configFile); err != nil {
		configFile += " (absent, using defaults)"
	}

	fmt.Printf("%s⚡ kwtag config%s\n", colorBold, colorReset)
	fmt.Printf("  Root:       %s\n", root)
	fmt.Printf("  Config:     %s\n", configFile)
	fmt.Printf("  DB:         %s\n", paths.DB)
	fmt.Printf("  Socket:     %s\n", sockPath)
	fmt.Printf("  Daemon:     %s\n", daemonStatus)

	if daemonRunning {
		if portData, err := os.ReadFile(paths.PortFile); err == nil {
			fmt.Printf("  Dashboard:  http://localhost:%s\n", strings.TrimSpace(string(portData)))
		}
		if sd, err := status.ReadJSON(paths.StatusFile); err == nil {
			fmt.Printf("  Activity:   %d records │ %.1f/min │ top %s\n",
				sd.Records, sd.RecordsPerMin, strings.Join(sd.TopLabels, ", "))
		}
	}

	names := make([]string, 0, len(cfg.Dictionaries))
	for _, d := range cfg.Dictionaries {
		names = append(names, d.Name)
	}
	fmt.Printf("  Dicts:      %s\n", strings.Join(names, ", "))
	for _, st := range cfg.Stages {
		fmt.Printf("  Stage:      %s (%s) ← %s\n", st.Name, st.Mode, strings.Join(st.Dictionaries, ", "))
	}
	if cfg.NATS != nil {
		fmt.Printf("  NATS:       %s %s → %s\n", cfg.NATS.URL, cfg.NATS.Input, cfg.NATS.Output)
	}
	return nil
}
