package daemon

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"syncdash/internal/logger"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// LoadWatchlist reads the connection ids to watch, one per line. Blank lines
// and #-comments are skipped. A missing file is an empty watchlist.
func LoadWatchlist(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open watchlist: %w", err)
	}

	defer func() {
		_ = f.Close()
	}()

	var ids []string
	seen := make(map[string]bool)

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		if !seen[line] {
			seen[line] = true
			ids = append(ids, line)
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read watchlist: %w", err)
	}

	return ids, nil
}

// WatchlistWatcher reloads the watchlist file on change and pushes the new
// id set into the session manager.
type WatchlistWatcher struct {
	fw      *fsnotify.Watcher
	path    string
	manager *SessionManager
	doneCh  chan struct{}
}

func NewWatchlistWatcher(path string, manager *SessionManager) (*WatchlistWatcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		_ = fw.Close()
		return nil, fmt.Errorf("failed to resolve watchlist path: %w", err)
	}

	return &WatchlistWatcher{
		fw:      fw,
		path:    abs,
		manager: manager,
		doneCh:  make(chan struct{}),
	}, nil
}

func (w *WatchlistWatcher) Start() error {
	// watch the directory: editors replace the file on save, which would
	// drop a watch on the file itself
	if err := w.fw.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("failed to watch watchlist dir: %w", err)
	}

	go w.run()

	logger.Log.Info("watchlist watcher started",
		zap.String("path", w.path))
	return nil
}

func (w *WatchlistWatcher) run() {
	for {
		select {
		case <-w.doneCh:
			logger.Log.Info("watchlist watcher stopping")
			return

		case event, ok := <-w.fw.Events:
			if !ok {
				return
			}

			if event.Name != w.path {
				continue
			}

			// a removed or renamed watchlist reloads as empty
			if !event.Op.Has(fsnotify.Write) && !event.Op.Has(fsnotify.Create) &&
				!event.Op.Has(fsnotify.Remove) && !event.Op.Has(fsnotify.Rename) {
				continue
			}

			ids, err := LoadWatchlist(w.path)
			if err != nil {
				logger.Log.Warn("failed to reload watchlist",
					zap.Error(err))
				continue
			}

			logger.Log.Info("watchlist reloaded",
				zap.Int("connections", len(ids)))
			w.manager.SetWatched(ids)

		case err, ok := <-w.fw.Errors:
			if !ok {
				return
			}

			logger.Log.Error("watchlist watcher error",
				zap.Error(err))
		}
	}
}

func (w *WatchlistWatcher) Stop() {
	close(w.doneCh)
	_ = w.fw.Close()
}
