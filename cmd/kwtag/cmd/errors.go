package cmd

import (
	"errors"
	"fmt"
	"os"
	"strings"

	bolt "go.etcd.io/bbolt"

	"github.com/corey/kwtag/internal/adapters/bbolt"
	"github.com/corey/kwtag/internal/adapters/socket"
	"github.com/corey/kwtag/internal/app"
)

// isDBLockError returns true if the error chain contains a bbolt lock timeout.
func isDBLockError(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, bolt.ErrTimeout) || strings.Contains(err.Error(), "timeout")
}

// diagnoseDBLock checks the daemon state and returns actionable guidance
// when a bbolt open fails due to lock contention. It distinguishes three
// scenarios: daemon running, stale socket, and unknown lock holder.
func diagnoseDBLock(root string) string {
	sockPath, _ := endpoints(root)
	client := socket.NewClient(sockPath)

	if client.Ping() {
		return "database is locked by the running daemon\n" +
			"  → stop it first:  kwtag daemon stop\n" +
			"  → or send work to it:  kwtag tag --daemon"
	}

	if _, err := os.Stat(sockPath); err == nil {
		return fmt.Sprintf("database is locked — daemon socket exists but is not responding\n"+
			"  → a previous daemon may have crashed\n"+
			"  → find the process:  ps aux | grep 'kwtag daemon'\n"+
			"  → clean up socket:   rm %s", sockPath)
	}

	return "database is locked by another process\n" +
		"  → find the process:  ps aux | grep 'kwtag'\n" +
		"  → then retry your command"
}

// openStore opens the project store, explaining lock contention.
func openStore(root string) (*bbolt.Store, error) {
	paths := app.NewPaths(root)
	if err := paths.EnsureDirs(); err != nil {
		return nil, err
	}
	_, dbPath := endpoints(root)
	store, err := bbolt.NewStore(dbPath)
	if isDBLockError(err) {
		return nil, errors.New(diagnoseDBLock(root))
	}
	return store, err
}

// loadConfig reads --config, or kwtag.yaml in the project root.
func loadConfig(root string) (*app.Config, error) {
	path := configPath
	if path == "" {
		path = app.NewPaths(root).Config
	}
	return app.LoadConfig(path)
}

// newApp builds the pipeline from config for one-shot commands.
func newApp(root string) (*app.App, error) {
	cfg, err := loadConfig(root)
	if err != nil {
		return nil, err
	}
	cfg.Watch = false
	a, err := app.New(app.Options{ProjectRoot: root, Config: cfg, Logger: logger})
	if isDBLockError(err) {
		return nil, errors.New(diagnoseDBLock(root))
	}
	return a, err
}

// endpoints returns the daemon socket and database paths, honoring the
// socket and db_path config keys.
func endpoints(root string) (sockPath, dbPath string) {
	sockPath, dbPath = socket.SocketPath(root), app.NewPaths(root).DB
	cfg, err := loadConfig(root)
	if err != nil {
		return sockPath, dbPath
	}
	if cfg.Socket != "" {
		sockPath = cfg.Socket
	}
	if cfg.DBPath != "" {
		dbPath = cfg.DBPath
	}
	return sockPath, dbPath
}

// newClient connects to the project's daemon socket.
func newClient(root string) *socket.Client {
	sockPath, _ := endpoints(root)
	return socket.NewClient(sockPath)
}
