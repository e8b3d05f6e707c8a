package cmd

import (
	"context"
	"os"
	"os/signal"
	"syncdash/internal/daemon"
	"syncdash/internal/logger"
	"syncdash/internal/server"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Run the dashboard daemon for all watchlisted connections",
	RunE:  runDaemon,
}

func runDaemon(cmd *cobra.Command, args []string) error {
	defer logger.Sync()

	ids, err := daemon.LoadWatchlist(cfg.WatchlistPath)
	if err != nil {
		return err
	}

	manager := daemon.NewSessionManager(cfg)
	manager.SetWatched(ids)

	if len(ids) == 0 {
		logger.Log.Info("watchlist is empty, add connection ids to it to start watching",
			zap.String("path", cfg.WatchlistPath))
	}

	watcher, err := daemon.NewWatchlistWatcher(cfg.WatchlistPath, manager)
	if err != nil {
		return err
	}
	if err := watcher.Start(); err != nil {
		return err
	}
	defer watcher.Stop()

	srv := server.NewServer(manager, cfg.DaemonPort)
	srv.Start()

	logger.Log.Info("syncdash daemon started",
		zap.Int("connections", len(ids)),
		zap.Int("port", cfg.DaemonPort))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Log.Info("shutting down",
			zap.String("signal", sig.String()))
	case <-srv.StopCh():
		logger.Log.Info("stop requested via API")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Stop(ctx)
}

func init() {
	rootCmd.AddCommand(watchCmd)
}
