package watcher

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestWatcher(t *testing.T) Watcher {
	t.Helper()
	w, err := New(Params{Logger: zap.NewNop().Sugar()})
	require.NoError(t, err)
	t.Cleanup(func() { w.Close() })
	return w
}

func waitForPath(t *testing.T, events <-chan string, want string) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case got := <-events:
			if got == want {
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for event on %s", want)
		}
	}
}

func TestWatcherReportsWrites(t *testing.T) {
	dir := t.TempDir()
	w := newTestWatcher(t)
	require.NoError(t, w.Watch(dir))

	events := make(chan string, 16)
	require.NoError(t, w.Start(func(path string) { events <- path }))

	target := filepath.Join(dir, "main.tex")
	require.NoError(t, os.WriteFile(target, []byte("\\documentclass{article}"), 0644))

	waitForPath(t, events, target)
}

func TestWatcherStartTwice(t *testing.T) {
	w := newTestWatcher(t)
	require.NoError(t, w.Start(func(string) {}))
	assert.Error(t, w.Start(func(string) {}))
}

func TestWatcherUnwatchStopsEvents(t *testing.T) {
	dir := t.TempDir()
	w := newTestWatcher(t)
	require.NoError(t, w.Watch(dir))
	require.NoError(t, w.Unwatch(dir))

	events := make(chan string, 16)
	require.NoError(t, w.Start(func(path string) { events <- path }))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.tex"), []byte("x"), 0644))

	select {
	case path := <-events:
		t.Fatalf("unexpected event after unwatch: %s", path)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestWatcherCloseIdempotent(t *testing.T) {
	w := newTestWatcher(t)
	require.NoError(t, w.Close())
	require.NoError(t, w.Close())
}
