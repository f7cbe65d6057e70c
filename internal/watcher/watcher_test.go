package watcher

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startWatcher(t *testing.T, dir string) <-chan []Event {
	t.Helper()

	w, err := New(dir, 50*time.Millisecond)
	require.NoError(t, err)

	batches := make(chan []Event, 16)
	w.OnChange(func(events []Event) {
		batches <- events
	})
	require.NoError(t, w.Start())
	t.Cleanup(func() { _ = w.Stop() })
	return batches
}

func names(events []Event) []string {
	out := make([]string, 0, len(events))
	for _, e := range events {
		out = append(out, e.Name)
	}
	return out
}

func TestWatcherReportsBurst(t *testing.T) {
	dir := t.TempDir()
	batches := startWatcher(t, dir)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.mp4"), []byte("a"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.mp4"), []byte("b"), 0644))

	seen := map[string]bool{}
	deadline := time.After(5 * time.Second)
	for !seen["a.mp4"] || !seen["b.mp4"] {
		select {
		case batch := <-batches:
			assert.NotEmpty(t, batch)
			for _, name := range names(batch) {
				seen[name] = true
			}
		case <-deadline:
			t.Fatalf("Timed out waiting for events, saw %v", seen)
		}
	}
}

func TestWatcherIgnoresHiddenFiles(t *testing.T) {
	dir := t.TempDir()
	batches := startWatcher(t, dir)

	require.NoError(t, os.WriteFile(filepath.Join(dir, ".state.json"), []byte("{}"), 0644))

	select {
	case batch := <-batches:
		t.Fatalf("Unexpected events for hidden file: %v", names(batch))
	case <-time.After(300 * time.Millisecond):
	}
}

func TestWatcherStopIsIdempotent(t *testing.T) {
	w, err := New(t.TempDir(), 0)
	require.NoError(t, err)
	assert.Equal(t, DefaultDebounce, w.debounce)

	require.NoError(t, w.Start())
	require.NoError(t, w.Stop())
	require.NoError(t, w.Stop())
}

func TestEventTypeString(t *testing.T) {
	assert.Equal(t, "create", EventCreate.String())
	assert.Equal(t, "rename", EventRename.String())
	assert.Equal(t, "unknown", EventType(42).String())
}
