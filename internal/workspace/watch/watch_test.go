package watch

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func startWatcher(t *testing.T, root string, debounce time.Duration) <-chan string {
	t.Helper()
	changes := make(chan string, 16)
	w, err := New(root, debounce, func(_ context.Context, path string) error {
		changes <- path
		return nil
	}, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))
	t.Cleanup(func() { _ = w.Stop() })
	return changes
}

func mkdirs(t *testing.T, root string, dirs ...string) {
	t.Helper()
	for _, dir := range dirs {
		require.NoError(t, os.MkdirAll(filepath.Join(root, dir), 0o755))
	}
}

func expectNoChange(t *testing.T, changes <-chan string, wait time.Duration) {
	t.Helper()
	select {
	case path := <-changes:
		t.Fatalf("unexpected change for %s", path)
	case <-time.After(wait):
	}
}

func TestWatcher_SkipsBuildDirectories(t *testing.T) {
	root := t.TempDir()
	mkdirs(t, root, "src", "test/Unit", ".stack-work/dist", ".git/objects")

	w, err := New(root, 10*time.Millisecond, func(context.Context, string) error { return nil }, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))
	defer w.Stop()

	assert.ElementsMatch(t, []string{
		root,
		filepath.Join(root, "src"),
		filepath.Join(root, "test"),
		filepath.Join(root, "test", "Unit"),
	}, w.watcher.WatchList())
}

func TestWatcher_DebouncesRapidSaves(t *testing.T) {
	root := t.TempDir()
	mkdirs(t, root, "test")
	changes := startWatcher(t, root, 50*time.Millisecond)

	spec := filepath.Join(root, "test", "LibSpec.hs")
	for i := 0; i < 5; i++ {
		require.NoError(t, os.WriteFile(spec, []byte("module LibSpec where\n"), 0o644))
		time.Sleep(5 * time.Millisecond)
	}

	select {
	case path := <-changes:
		assert.Equal(t, spec, path)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for change")
	}
	expectNoChange(t, changes, 200*time.Millisecond)
}

func TestWatcher_IgnoresNonHaskellFiles(t *testing.T) {
	root := t.TempDir()
	changes := startWatcher(t, root, 10*time.Millisecond)

	require.NoError(t, os.WriteFile(filepath.Join(root, "package.yaml"), []byte("name: lib\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "notes.hs~"), []byte("x"), 0o644))

	expectNoChange(t, changes, 200*time.Millisecond)
}

func TestWatcher_FollowsNewDirectories(t *testing.T) {
	root := t.TempDir()
	changes := startWatcher(t, root, 10*time.Millisecond)

	mkdirs(t, root, "src")
	dir := filepath.Join(root, "src")
	require.Eventually(t, func() bool {
		// The directory is registered asynchronously by the event loop.
		path := filepath.Join(dir, "Probe.hs")
		if err := os.WriteFile(path, []byte("module Probe where\n"), 0o644); err != nil {
			return false
		}
		select {
		case got := <-changes:
			return got == path
		case <-time.After(50 * time.Millisecond):
			return false
		}
	}, 2*time.Second, 20*time.Millisecond)
}

func TestWatcher_HandlerErrorsDoNotStopLoop(t *testing.T) {
	root := t.TempDir()
	calls := make(chan string, 16)
	w, err := New(root, 10*time.Millisecond, func(_ context.Context, path string) error {
		calls <- path
		return errors.New("reload failed")
	}, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))
	defer w.Stop()

	first := filepath.Join(root, "A.hs")
	second := filepath.Join(root, "B.hs")
	require.NoError(t, os.WriteFile(first, []byte("module A where\n"), 0o644))
	assert.Equal(t, first, waitFor(t, calls))
	require.NoError(t, os.WriteFile(second, []byte("module B where\n"), 0o644))
	assert.Equal(t, second, waitFor(t, calls))
}

func TestWatcher_StopBeforeStart(t *testing.T) {
	w, err := New(t.TempDir(), time.Millisecond, func(context.Context, string) error { return nil }, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, w.Stop())
}

func TestNew_RejectsNilHandler(t *testing.T) {
	_, err := New(t.TempDir(), time.Millisecond, nil, zerolog.Nop())
	require.Error(t, err)
}

func TestStart_MissingRoot(t *testing.T) {
	w, err := New(filepath.Join(t.TempDir(), "absent"), time.Millisecond, func(context.Context, string) error { return nil }, zerolog.Nop())
	require.NoError(t, err)
	defer w.Stop()
	require.Error(t, w.Start(context.Background()))
}

func TestTickInterval(t *testing.T) {
	assert.Equal(t, 10*time.Millisecond, tickInterval(0))
	assert.Equal(t, 50*time.Millisecond, tickInterval(200*time.Millisecond))
	assert.Equal(t, 100*time.Millisecond, tickInterval(time.Second))
}

func waitFor(t *testing.T, ch <-chan string) string {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for change")
		return ""
	}
}
