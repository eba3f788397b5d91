package app

import (
	"os"
	"path/filepath"

	"github.com/corey/kwtag/internal/domain/status"
)

// ConfigFile is the project config file name, looked up in the project root.
const ConfigFile = "kwtag.yaml"

// Paths holds all resolved filesystem paths for the .kwtag/ project directory.
// All fields are computed once at construction.
type Paths struct {
	Root   string // .kwtag/
	DB     string // .kwtag/kwtag.db
	Config string // kwtag.yaml (project root)

	DictDir string // .kwtag/dicts/

	LogDir    string // .kwtag/log/
	DaemonLog string // .kwtag/log/daemon.log

	RunDir     string // .kwtag/run/
	PIDFile    string // .kwtag/run/daemon.pid
	PortFile   string // .kwtag/run/http.port
	StatusFile string // .kwtag/run/status.json
}

// NewPaths constructs all resolved paths from a project root directory.
func NewPaths(projectRoot string) *Paths {
	root := filepath.Join(projectRoot, ".kwtag")
	return &Paths{
		Root:   root,
		DB:     filepath.Join(root, "kwtag.db"),
		Config: filepath.Join(projectRoot, ConfigFile),

		DictDir: filepath.Join(root, "dicts"),

		LogDir:    filepath.Join(root, "log"),
		DaemonLog: filepath.Join(root, "log", "daemon.log"),

		RunDir:     filepath.Join(root, "run"),
		PIDFile:    filepath.Join(root, "run", "daemon.pid"),
		PortFile:   filepath.Join(root, "run", "http.port"),
		StatusFile: filepath.Join(root, "run", status.StatusFile),
	}
}

// EnsureDirs creates all subdirectories under .kwtag/. Idempotent.
func (p *Paths) EnsureDirs() error {
	for _, d := range []string{p.Root, p.DictDir, p.LogDir, p.RunDir} {
		if err := os.MkdirAll(d, 0755); err != nil {
			return err
		}
	}
	return nil
}

// CleanEphemeral removes ephemeral runtime files (PID, port and status files).
// Called on clean daemon shutdown.
func (p *Paths) CleanEphemeral() {
	os.Remove(p.PIDFile)
	os.Remove(p.PortFile)
	os.Remove(p.StatusFile)
}
