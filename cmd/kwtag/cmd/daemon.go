package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/corey/kwtag/internal/adapters/socket"
	"github.com/corey/kwtag/internal/app"
)

var daemonLogFile bool

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Manage the kwtag daemon",
}

var daemonStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the daemon in the foreground",
	RunE:  runDaemonStart,
}

var daemonStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the daemon",
	RunE:  runDaemonStop,
}

var daemonReloadCmd = &cobra.Command{
	Use:   "reload [dictionary]",
	Short: "Rebuild matchers from dictionary sources",
	Long:  "Reloads one dictionary, or all of them. The running matchers are kept if any rebuild fails.",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runDaemonReload,
}

func init() {
	daemonStartCmd.Flags().BoolVar(&daemonLogFile, "log-file", false, "Write JSON logs to .kwtag/log/daemon.log")

	daemonCmd.AddCommand(daemonStartCmd)
	daemonCmd.AddCommand(daemonStopCmd)
	daemonCmd.AddCommand(daemonReloadCmd)
}

func runDaemonStart(cmd *cobra.Command, args []string) error {
	root := projectRoot()
	sockPath, _ := endpoints(root)

	client := socket.NewClient(sockPath)
	if client.Ping() {
		fmt.Println("⚡ daemon already running")
		return nil
	}

	paths := app.NewPaths(root)
	if err := paths.EnsureDirs(); err != nil {
		return err
	}

	log := logger.Level(zerolog.InfoLevel)
	if verbose {
		log = log.Level(zerolog.DebugLevel)
	}
	if daemonLogFile {
		f, err := os.OpenFile(paths.DaemonLog, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return fmt.Errorf("open daemon log: %w", err)
		}
		defer f.Close()
		log = zerolog.New(f).With().Timestamp().Logger().Level(log.GetLevel())
	}

	cfg, err := loadConfig(root)
	if err != nil {
		return err
	}
	a, err := app.New(app.Options{ProjectRoot: root, Config: cfg, Logger: log})
	if isDBLockError(err) {
		return fmt.Errorf("%s", diagnoseDBLock(root))
	}
	if err != nil {
		return fmt.Errorf("init: %w", err)
	}

	if err := a.Start(); err != nil {
		a.Stop()
		return err
	}
	if err := os.WriteFile(paths.PIDFile, []byte(strconv.Itoa(os.Getpid())), 0644); err != nil {
		log.Warn().Err(err).Msg("write pid file")
	}

	fmt.Printf("⚡ kwtag daemon started at %s\n", sockPath)
	if a.WebServer.Port() != 0 {
		fmt.Printf("⚡ dashboard at %s\n", a.WebServer.URL())
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigCh:
	case <-a.Server.ShutdownCh():
	}
	signal.Stop(sigCh)

	fmt.Println("\n⚡ shutting down...")
	return a.Stop()
}

func runDaemonStop(cmd *cobra.Command, args []string) error {
	client := newClient(projectRoot())

	if !client.Ping() {
		fmt.Println("⚡ daemon is not running")
		return nil
	}

	if err := client.Shutdown(); err != nil {
		return err
	}

	fmt.Println("⚡ daemon stopped")
	return nil
}

func runDaemonReload(cmd *cobra.Command, args []string) error {
	client := newClient(projectRoot())
	if !client.Ping() {
		return fmt.Errorf("daemon not running. Start with: kwtag daemon start")
	}

	name := ""
	if len(args) == 1 {
		name = args[0]
	}
	res, err := client.Reload(name)
	if err != nil {
		return err
	}
	fmt.Printf("⚡ reloaded %s │ %d keywords │ %s\n", strings.Join(res.Stages, ", "), res.Keywords, res.Elapsed)
	return nil
}
