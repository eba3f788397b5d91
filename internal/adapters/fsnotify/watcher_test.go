package fsnotify

import (
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Dictionary watcher: detect edits to dictionary files, trigger a rebuild
// Expectation: one callback per burst, only for watched files, none after Stop.
// =============================================================================

// waitForCallback waits up to timeout for the callback channel to receive a value.
func waitForCallback(ch <-chan string, timeout time.Duration) (string, bool) {
	select {
	case v := <-ch:
		return v, true
	case <-time.After(timeout):
		return "", false
	}
}

func startWatcher(t *testing.T, paths ...string) (*Watcher, chan string) {
	t.Helper()
	w, err := NewWatcher(WithDebounce(30 * time.Millisecond))
	require.NoError(t, err)
	t.Cleanup(func() { w.Stop() })

	changed := make(chan string, 10)
	require.NoError(t, w.Watch(paths, func(path string) { changed <- path }))
	// Give watcher time to start
	time.Sleep(50 * time.Millisecond)
	return w, changed
}

func TestWatcher_DetectsDictionaryEdit(t *testing.T) {
	dir := t.TempDir()
	dict := filepath.Join(dir, "crash.txt")
	require.NoError(t, os.WriteFile(dict, []byte("panic\n"), 0644))

	_, changed := startWatcher(t, dict)
	require.NoError(t, os.WriteFile(dict, []byte("panic\noops\n"), 0644))

	path, ok := waitForCallback(changed, 2*time.Second)
	assert.True(t, ok, "expected callback for dictionary edit")
	assert.Equal(t, dict, path)
}

func TestWatcher_DetectsReplaceByRename(t *testing.T) {
	dir := t.TempDir()
	dict := filepath.Join(dir, "crash.yaml")
	require.NoError(t, os.WriteFile(dict, []byte("keywords: []\n"), 0644))

	_, changed := startWatcher(t, dict)

	tmp := filepath.Join(dir, ".crash.yaml.tmp")
	require.NoError(t, os.WriteFile(tmp, []byte("keywords:\n  - text: x\n"), 0644))
	require.NoError(t, os.Rename(tmp, dict))

	path, ok := waitForCallback(changed, 2*time.Second)
	assert.True(t, ok, "expected callback for atomic replace")
	assert.Equal(t, dict, path)
}

func TestWatcher_IgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	dict := filepath.Join(dir, "crash.txt")
	require.NoError(t, os.WriteFile(dict, []byte("panic\n"), 0644))

	_, changed := startWatcher(t, dict)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0644))

	_, ok := waitForCallback(changed, 300*time.Millisecond)
	assert.False(t, ok, "unwatched file must not fire")
}

func TestWatcher_DebouncesBursts(t *testing.T) {
	dir := t.TempDir()
	dict := filepath.Join(dir, "crash.txt")
	require.NoError(t, os.WriteFile(dict, []byte("a\n"), 0644))

	w, err := NewWatcher(WithDebounce(100 * time.Millisecond))
	require.NoError(t, err)
	defer w.Stop()

	var calls atomic.Int32
	require.NoError(t, w.Watch([]string{dict}, func(string) { calls.Add(1) }))
	time.Sleep(50 * time.Millisecond)

	for i := 0; i < 5; i++ {
		require.NoError(t, os.WriteFile(dict, []byte{byte('a' + i), '\n'}, 0644))
		time.Sleep(10 * time.Millisecond)
	}

	assert.Eventually(t, func() bool { return calls.Load() >= 1 }, 2*time.Second, 20*time.Millisecond)
	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, int32(1), calls.Load())
}

func TestWatcher_MissingDirectory(t *testing.T) {
	w, err := NewWatcher()
	require.NoError(t, err)
	defer w.Stop()

	err = w.Watch([]string{filepath.Join(t.TempDir(), "no", "such", "dict.txt")}, func(string) {})
	assert.Error(t, err)
}

func TestWatcher_StopCleanup(t *testing.T) {
	dir := t.TempDir()
	dict := filepath.Join(dir, "crash.txt")
	require.NoError(t, os.WriteFile(dict, []byte("panic\n"), 0644))

	w, changed := startWatcher(t, dict)
	require.NoError(t, w.Stop())
	require.NoError(t, w.Stop(), "Stop is idempotent")

	require.NoError(t, os.WriteFile(dict, []byte("later\n"), 0644))
	_, ok := waitForCallback(changed, 300*time.Millisecond)
	assert.False(t, ok, "no callbacks after Stop")
}
