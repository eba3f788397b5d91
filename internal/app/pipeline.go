package app

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/corey/kwtag/dicts"
	"github.com/corey/kwtag/internal/domain/automaton"
	"github.com/corey/kwtag/internal/domain/dictionary"
	"github.com/corey/kwtag/internal/domain/labels"
	"github.com/corey/kwtag/internal/domain/stage"
	"github.com/corey/kwtag/internal/ports"
)

// ErrUnknownDictionary is returned when a dictionary is found in neither the
// store nor the built-in set.
var ErrUnknownDictionary = errors.New("unknown dictionary")

// Resolver finds dictionary sources. Relative paths are taken from Root.
type Resolver struct {
	Root  string
	Store ports.DictionaryStore // optional
}

// Resolve parses the dictionary d describes.
func (r *Resolver) Resolve(d DictionaryConfig) (*dictionary.Spec, error) {
	if d.Path != "" {
		spec, err := dictionary.ParseFile(r.Abs(d.Path))
		if err != nil {
			return nil, err
		}
		spec.Name = d.Name
		return spec, nil
	}

	if r.Store != nil {
		stored, err := r.Store.LoadDictionary(d.Name)
		if err != nil {
			return nil, fmt.Errorf("load dictionary %q: %w", d.Name, err)
		}
		if stored != nil {
			spec, err := dictionary.ParseSource(stored.Format, stored.Source)
			if err != nil {
				return nil, fmt.Errorf("dictionary %q: %w", d.Name, err)
			}
			spec.Name = d.Name
			if stored.CaseInsensitive {
				spec.CaseInsensitive = true
			}
			return spec, nil
		}
	}

	return Builtin(d.Name)
}

// Abs resolves a dictionary path against Root.
func (r *Resolver) Abs(path string) string {
	if filepath.IsAbs(path) || r.Root == "" {
		return path
	}
	return filepath.Join(r.Root, path)
}

// Builtin parses one of the embedded dictionaries.
func Builtin(name string) (*dictionary.Spec, error) {
	data, err := fs.ReadFile(dicts.FS, dicts.Dir+"/"+name+".yaml")
	if err != nil {
		return nil, fmt.Errorf("%w %q", ErrUnknownDictionary, name)
	}
	spec, err := dictionary.ParseYAML(data)
	if err != nil {
		return nil, fmt.Errorf("builtin %s: %w", name, err)
	}
	spec.Name = name
	return spec, nil
}

// BuiltinNames lists the embedded dictionaries.
func BuiltinNames() []string {
	specs, err := dictionary.LoadDir(dicts.FS, dicts.Dir)
	if err != nil {
		return nil
	}
	names := make([]string, 0, len(specs))
	for _, s := range specs {
		names = append(names, s.Name)
	}
	return names
}

// ResolveAll parses every configured dictionary, keyed by name.
func (r *Resolver) ResolveAll(cfg *Config) (map[string]*dictionary.Spec, error) {
	specs := make(map[string]*dictionary.Spec, len(cfg.Dictionaries))
	for _, d := range cfg.Dictionaries {
		spec, err := r.Resolve(d)
		if err != nil {
			return nil, err
		}
		specs[d.Name] = spec
	}
	return specs, nil
}

// BuildMatcher compiles the dictionaries a stage names into one automaton.
func BuildMatcher(sc StageConfig, specs map[string]*dictionary.Spec, table *labels.Table, opts []automaton.Option) (*automaton.Automaton, error) {
	selected := make([]*dictionary.Spec, 0, len(sc.Dictionaries))
	for _, name := range sc.Dictionaries {
		spec, ok := specs[name]
		if !ok {
			return nil, fmt.Errorf("stage %q: %w %q", sc.Name, ErrUnknownDictionary, name)
		}
		selected = append(selected, spec)
	}
	a, err := dictionary.Build(table, opts, selected...)
	if err != nil {
		return nil, fmt.Errorf("stage %q: %w", sc.Name, err)
	}
	return a, nil
}

// StageDeps are shared by every stage BuildPipeline creates.
type StageDeps struct {
	Labels  *labels.Table
	Metrics *stage.Metrics
	Logger  zerolog.Logger
}

// BuildPipeline builds one stage per configured stage, in order.
func BuildPipeline(cfg *Config, specs map[string]*dictionary.Spec, deps StageDeps) (*stage.Pipeline, error) {
	opts := cfg.Matcher.Options()
	stages := make([]*stage.Stage, 0, len(cfg.Stages))
	for _, sc := range cfg.Stages {
		mode, err := stage.ParseMode(sc.Mode)
		if err != nil {
			return nil, fmt.Errorf("stage %q: %w", sc.Name, err)
		}
		m, err := BuildMatcher(sc, specs, deps.Labels, opts)
		if err != nil {
			return nil, err
		}
		s, err := stage.New(stage.Config{
			Name:         sc.Name,
			Mode:         mode,
			Dictionaries: sc.Dictionaries,
			Fields:       sc.Fields,
			FirstOnly:    sc.FirstOnly,
			Streaming:    sc.Streaming,
			MaxSessions:  sc.MaxSessions,
		}, stage.Deps{
			Matcher: m,
			Labels:  deps.Labels,
			Metrics: deps.Metrics,
			Logger:  deps.Logger,
		})
		if err != nil {
			return nil, err
		}
		stages = append(stages, s)
	}
	return stage.NewPipeline(stages...), nil
}
