package app

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/corey/kwtag/internal/adapters/natsio"
	"github.com/corey/kwtag/internal/domain/automaton"
	"github.com/corey/kwtag/internal/domain/stage"
)

// DefaultFlushInterval is how often label hit counters are written to the store.
const DefaultFlushInterval = 10 * time.Second

// DictionaryConfig names one dictionary. Path points at a file on disk; when
// empty the dictionary is looked up in the store by Name, then among the
// built-in dictionaries.
type DictionaryConfig struct {
	Name string `yaml:"name"`
	Path string `yaml:"path,omitempty"`
}

// StageConfig is the YAML form of a stage.
type StageConfig struct {
	Name         string   `yaml:"name"`
	Mode         string   `yaml:"mode"`
	Dictionaries []string `yaml:"dictionaries"`
	Fields       []string `yaml:"fields,omitempty"`
	FirstOnly    bool     `yaml:"first_only,omitempty"`
	Streaming    bool     `yaml:"streaming,omitempty"`
	MaxSessions  int      `yaml:"max_sessions,omitempty"`
}

// MatcherConfig tunes automaton construction.
type MatcherConfig struct {
	DisableSkip     bool `yaml:"disable_skip,omitempty"`
	SkipMaxPatterns int  `yaml:"skip_max_patterns,omitempty"` // 0 = automaton default
	SkipMinLen      int  `yaml:"skip_min_len,omitempty"`      // 0 = automaton default
}

// Options returns the automaton options for this config.
func (m MatcherConfig) Options() []automaton.Option {
	if m.DisableSkip {
		return []automaton.Option{automaton.DisableSkip()}
	}
	if m.SkipMaxPatterns > 0 || m.SkipMinLen > 0 {
		maxPatterns, minLen := m.SkipMaxPatterns, m.SkipMinLen
		if maxPatterns <= 0 {
			maxPatterns = automaton.DefaultSkipMaxPatterns
		}
		if minLen <= 0 {
			minLen = automaton.DefaultSkipMinLen
		}
		return []automaton.Option{automaton.SkipThresholds(maxPatterns, minLen)}
	}
	return nil
}

// Config is the project configuration, read from kwtag.yaml.
type Config struct {
	Dictionaries  []DictionaryConfig `yaml:"dictionaries"`
	Stages        []StageConfig      `yaml:"stages"`
	Matcher       MatcherConfig      `yaml:"matcher,omitempty"`
	Socket        string             `yaml:"socket,omitempty"`    // default: derived from project root
	HTTPAddr      string             `yaml:"http_addr,omitempty"` // default: 127.0.0.1 + DefaultPort
	DBPath        string             `yaml:"db_path,omitempty"`   // default: .kwtag/kwtag.db
	Metrics       bool               `yaml:"metrics"`
	Watch         bool               `yaml:"watch"`
	FlushInterval time.Duration      `yaml:"flush_interval,omitempty"`
	ShadowEvery   int                `yaml:"shadow_every,omitempty"` // re-check every Nth scan against the reference matcher; 0 = off
	NATS          *natsio.Config     `yaml:"nats,omitempty"`
}

// DefaultConfig tags records with the built-in severity and crash
// dictionaries.
func DefaultConfig() *Config {
	return &Config{
		Dictionaries: []DictionaryConfig{
			{Name: "severity"},
			{Name: "crash"},
		},
		Stages: []StageConfig{
			{Name: "tag", Mode: stage.TagRecord.String(), Dictionaries: []string{"severity", "crash"}},
		},
		Metrics:       true,
		Watch:         true,
		FlushInterval: DefaultFlushInterval,
	}
}

// LoadConfig reads path over the defaults. A missing file yields the
// defaults. The result is validated.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks names, references and modes.
func (c *Config) Validate() error {
	if len(c.Stages) == 0 {
		return errors.New("no stages configured")
	}

	dicts := make(map[string]bool, len(c.Dictionaries))
	for i, d := range c.Dictionaries {
		if d.Name == "" {
			return fmt.Errorf("dictionaries[%d]: name is required", i)
		}
		if dicts[d.Name] {
			return fmt.Errorf("dictionary %q defined twice", d.Name)
		}
		dicts[d.Name] = true
	}

	stages := make(map[string]bool, len(c.Stages))
	for i, s := range c.Stages {
		if s.Name == "" {
			return fmt.Errorf("stages[%d]: name is required", i)
		}
		if stages[s.Name] {
			return fmt.Errorf("stage %q defined twice", s.Name)
		}
		stages[s.Name] = true
		if _, err := stage.ParseMode(s.Mode); err != nil {
			return fmt.Errorf("stage %q: %w", s.Name, err)
		}
		if len(s.Dictionaries) == 0 {
			return fmt.Errorf("stage %q: no dictionaries", s.Name)
		}
		for _, d := range s.Dictionaries {
			if !dicts[d] {
				return fmt.Errorf("stage %q: unknown dictionary %q", s.Name, d)
			}
		}
		if s.MaxSessions < 0 {
			return fmt.Errorf("stage %q: max_sessions must not be negative", s.Name)
		}
	}

	if c.FlushInterval < 0 {
		return errors.New("flush_interval must not be negative")
	}
	if c.ShadowEvery < 0 {
		return errors.New("shadow_every must not be negative")
	}
	if c.NATS != nil {
		if err := c.NATS.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Marshal renders the config as YAML.
func (c *Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}
