package app

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corey/kwtag/internal/adapters/bbolt"
	"github.com/corey/kwtag/internal/domain/labels"
	"github.com/corey/kwtag/internal/ports"
)

func TestBuiltin(t *testing.T) {
	spec, err := Builtin("crash")
	require.NoError(t, err)
	assert.Equal(t, "crash", spec.Name)
	assert.NotEmpty(t, spec.Entries)

	_, err = Builtin("nope")
	assert.ErrorIs(t, err, ErrUnknownDictionary)

	assert.Contains(t, BuiltinNames(), "severity")
}

func TestResolver_Order(t *testing.T) {
	root := t.TempDir()
	store, err := bbolt.NewStore(filepath.Join(root, "kwtag.db"))
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, os.WriteFile(filepath.Join(root, "ops.txt"), []byte("\"disk full\" (DISK)\n"), 0644))
	require.NoError(t, store.SaveDictionary(&ports.Dictionary{Name: "crash", Format: "text", Source: []byte("oops (STORED)\n")}))

	r := &Resolver{Root: root, Store: store}

	spec, err := r.Resolve(DictionaryConfig{Name: "ops", Path: "ops.txt"})
	require.NoError(t, err)
	assert.Equal(t, "ops", spec.Name)
	assert.Equal(t, "DISK", spec.Entries[0].Label)

	spec, err = r.Resolve(DictionaryConfig{Name: "crash"})
	require.NoError(t, err)
	assert.Equal(t, "STORED", spec.Entries[0].Label, "stored dictionaries shadow built-ins")

	spec, err = r.Resolve(DictionaryConfig{Name: "severity"})
	require.NoError(t, err)
	assert.True(t, spec.CaseInsensitive)

	_, err = r.Resolve(DictionaryConfig{Name: "missing"})
	assert.ErrorIs(t, err, ErrUnknownDictionary)

	_, err = r.Resolve(DictionaryConfig{Name: "gone", Path: "gone.txt"})
	assert.Error(t, err)
}

func TestBuildPipeline(t *testing.T) {
	cfg := &Config{
		Dictionaries: []DictionaryConfig{{Name: "severity"}, {Name: "crash"}},
		Stages: []StageConfig{
			{Name: "sev", Mode: "tag", Dictionaries: []string{"severity"}},
			{Name: "crashes", Mode: "filter", Dictionaries: []string{"crash"}},
		},
	}
	require.NoError(t, cfg.Validate())

	specs, err := (&Resolver{}).ResolveAll(cfg)
	require.NoError(t, err)

	table := labels.NewTable()
	p, err := BuildPipeline(cfg, specs, StageDeps{Labels: table, Logger: zerolog.Nop()})
	require.NoError(t, err)
	require.Len(t, p.Stages(), 2)

	rec := ports.NewRecord("s", ports.Field{Name: "line", Value: []byte("FATAL: Segmentation fault (core dumped)")})
	assert.True(t, p.Process(rec))
	assert.ElementsMatch(t, []string{"FATAL", "CRASH"}, rec.Labels)

	quiet := ports.NewRecord("s", ports.Field{Name: "line", Value: []byte("warning: low disk")})
	assert.False(t, p.Process(quiet))
	assert.Equal(t, []string{"WARNING"}, quiet.Labels, "earlier stages tag before a later stage drops")
}

func TestBuildMatcher_UnknownDictionary(t *testing.T) {
	_, err := BuildMatcher(StageConfig{Name: "x", Dictionaries: []string{"nope"}}, nil, labels.NewTable(), nil)
	assert.ErrorIs(t, err, ErrUnknownDictionary)
}
