package config

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func writeConfig(t *testing.T, path, content string, mod time.Time) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	// 显式推进 mtime，避免文件系统时间精度导致漏检
	require.NoError(t, os.Chtimes(path, mod, mod))
}

func newTestWatcher(t *testing.T, path string) *Watcher {
	t.Helper()
	loader := NewLoader().WithConfigPath(path)
	initial, err := loader.Load()
	require.NoError(t, err)

	w, err := NewWatcher(loader, initial,
		WithPollInterval(10*time.Millisecond),
		WithDebounceDelay(20*time.Millisecond),
		WithWatcherLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)
	return w
}

func runWatcher(t *testing.T, w *Watcher) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		assert.NoError(t, <-done)
	})
}

func TestNewWatcher_RequiresPath(t *testing.T) {
	_, err := NewWatcher(NewLoader(), DefaultConfig())
	require.Error(t, err)

	_, err = NewWatcher(NewLoader().WithConfigPath("x.yaml"), nil)
	require.Error(t, err)
}

func TestFileOp_String(t *testing.T) {
	assert.Equal(t, "CREATE", FileOpCreate.String())
	assert.Equal(t, "WRITE", FileOpWrite.String())
	assert.Equal(t, "REMOVE", FileOpRemove.String())
	assert.Equal(t, "UNKNOWN", FileOp(99).String())
}

func TestWatcher_ReloadsOnChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "botstream.yaml")
	base := time.Now().Add(-time.Hour)
	writeConfig(t, path, "log:\n  level: info\n", base)

	w := newTestWatcher(t, path)

	var mu sync.Mutex
	var levels [][2]string
	w.OnReload(func(oldCfg, newCfg *Config) {
		mu.Lock()
		defer mu.Unlock()
		levels = append(levels, [2]string{oldCfg.Log.Level, newCfg.Log.Level})
	})
	runWatcher(t, w)

	writeConfig(t, path, "log:\n  level: debug\n", base.Add(time.Minute))

	require.Eventually(t, func() bool { return w.Version() == 1 }, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, "debug", w.Current().Log.Level)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, [][2]string{{"info", "debug"}}, levels)
}

func TestWatcher_InvalidConfigKeepsCurrent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "botstream.yaml")
	base := time.Now().Add(-time.Hour)
	writeConfig(t, path, "log:\n  level: warn\n", base)

	w := newTestWatcher(t, path)
	called := false
	w.OnReload(func(*Config, *Config) { called = true })

	writeConfig(t, path, "log:\n  level: shouting\n", base.Add(time.Minute))
	require.Error(t, w.Reload())
	assert.Equal(t, "warn", w.Current().Log.Level)
	assert.Zero(t, w.Version())
	assert.False(t, called)
}

func TestWatcher_DetectsCreateAndRemove(t *testing.T) {
	path := filepath.Join(t.TempDir(), "later.yaml")
	w := newTestWatcher(t, path)

	_, changed := w.checkFile()
	assert.False(t, changed)

	writeConfig(t, path, "server:\n  http_port: 1234\n", time.Now())
	ev, changed := w.checkFile()
	require.True(t, changed)
	assert.Equal(t, FileOpCreate, ev.Op)
	assert.Equal(t, path, ev.Path)

	_, changed = w.checkFile()
	assert.False(t, changed)

	require.NoError(t, os.Remove(path))
	ev, changed = w.checkFile()
	require.True(t, changed)
	assert.Equal(t, FileOpRemove, ev.Op)
}
