package watcher

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type changes struct {
	mu    sync.Mutex
	calls [][]string
}

func (c *changes) record(ids []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, ids)
}

func (c *changes) all() [][]string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]string(nil), c.calls...)
}

func TestWatcher_MissingRootIsIdle(t *testing.T) {
	w := New(filepath.Join(t.TempDir(), "absent"), nil, nil)
	require.NoError(t, w.Start())
	w.Shutdown()
}

func TestWatcher_ReportsChangedProjects(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "alpha"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "beta"), 0o755))

	var got changes
	w := New(root, got.record, nil)
	w.Debounce = 50 * time.Millisecond
	require.NoError(t, w.Start())
	defer w.Shutdown()

	require.NoError(t, os.WriteFile(filepath.Join(root, "alpha", "s1.jsonl"), []byte("{}\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "beta", "s2.jsonl"), []byte("{}\n"), 0o644))

	require.Eventually(t, func() bool {
		seen := map[string]bool{}
		for _, ids := range got.all() {
			for _, id := range ids {
				seen[id] = true
			}
		}
		return seen["alpha"] && seen["beta"]
	}, 5*time.Second, 20*time.Millisecond)
}

func TestWatcher_WatchesNewProjectDirs(t *testing.T) {
	root := t.TempDir()

	var got changes
	w := New(root, got.record, nil)
	w.Debounce = 50 * time.Millisecond
	require.NoError(t, w.Start())
	defer w.Shutdown()

	require.NoError(t, os.MkdirAll(filepath.Join(root, "gamma"), 0o755))
	require.Eventually(t, func() bool { return len(got.all()) > 0 }, 5*time.Second, 20*time.Millisecond)

	// Give the loop a moment to add the new directory before writing into it.
	time.Sleep(100 * time.Millisecond)
	before := len(got.all())
	require.NoError(t, os.WriteFile(filepath.Join(root, "gamma", "s.jsonl"), []byte("{}\n"), 0o644))

	require.Eventually(t, func() bool {
		calls := got.all()
		if len(calls) <= before {
			return false
		}
		return assert.ObjectsAreEqual([]string{"gamma"}, calls[len(calls)-1])
	}, 5*time.Second, 20*time.Millisecond)
}

func TestWatcher_ShutdownIsIdempotent(t *testing.T) {
	w := New(t.TempDir(), nil, nil)
	require.NoError(t, w.Start())
	w.Shutdown()
	w.Shutdown()
}

func TestIsHidden(t *testing.T) {
	tests := []struct {
		name string
		want bool
	}{
		{".git", true},
		{".env", true},
		{"main.go", false},
		{".claude", true},
		{"", false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, isHidden(tt.name), tt.name)
	}
}
