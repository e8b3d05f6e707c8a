package daemon

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadWatchlist(t *testing.T) {
	path := filepath.Join(t.TempDir(), "watchlist")
	require.NoError(t, os.WriteFile(path, []byte(`
# production connections
conn-1
conn-2

conn-1
  conn-3
`), 0644))

	ids, err := LoadWatchlist(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"conn-1", "conn-2", "conn-3"}, ids)
}

func TestLoadWatchlistMissingFile(t *testing.T) {
	ids, err := LoadWatchlist(filepath.Join(t.TempDir(), "nope"))
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestLoadWatchlistEmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "watchlist")
	require.NoError(t, os.WriteFile(path, []byte("# nothing yet\n"), 0644))

	ids, err := LoadWatchlist(path)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestWatcherReloadsOnRewrite(t *testing.T) {
	srv := fakeBackendServer(t)
	manager := NewSessionManager(testConfig(srv.URL))
	defer manager.StopAll()

	path := filepath.Join(t.TempDir(), "watchlist")
	require.NoError(t, os.WriteFile(path, []byte("conn-1\n"), 0644))
	manager.SetWatched([]string{"conn-1"})

	watcher, err := NewWatchlistWatcher(path, manager)
	require.NoError(t, err)
	require.NoError(t, watcher.Start())
	defer watcher.Stop()

	require.NoError(t, os.WriteFile(path, []byte("conn-2\n"), 0644))

	require.Eventually(t, func() bool {
		ids := manager.WatchedIDs()
		return len(ids) == 1 && ids[0] == "conn-2"
	}, 2*time.Second, 10*time.Millisecond)
}

func TestWatcherUnwatchesAllWhenFileRemoved(t *testing.T) {
	srv := fakeBackendServer(t)
	manager := NewSessionManager(testConfig(srv.URL))
	defer manager.StopAll()

	path := filepath.Join(t.TempDir(), "watchlist")
	require.NoError(t, os.WriteFile(path, []byte("conn-1\n"), 0644))
	manager.SetWatched([]string{"conn-1"})

	watcher, err := NewWatchlistWatcher(path, manager)
	require.NoError(t, err)
	require.NoError(t, watcher.Start())
	defer watcher.Stop()

	require.NoError(t, os.Remove(path))

	require.Eventually(t, func() bool {
		return len(manager.WatchedIDs()) == 0
	}, 2*time.Second, 10*time.Millisecond)
}
