package main

import (
	"context"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dgnsrekt/feedsync/internal/api"
	"github.com/dgnsrekt/feedsync/internal/notify"
	"github.com/dgnsrekt/feedsync/internal/sequence"
	"github.com/dgnsrekt/feedsync/internal/server"
	"github.com/dgnsrekt/feedsync/internal/session"
	"github.com/dgnsrekt/feedsync/internal/state"
	feedsync "github.com/dgnsrekt/feedsync/internal/sync"
	"github.com/dgnsrekt/feedsync/internal/ws"
)

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the sync daemon: consume the push feed and serve local state",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(cmd.Context())
		},
	}
}

func runDaemon(ctx context.Context) error {
	defer logger.Sync()

	logger.Info("configuration loaded",
		zap.String("feedURL", cfg.Feed.URL),
		zap.Strings("channels", cfg.Channels),
		zap.String("stateDir", cfg.State.Directory),
		zap.Bool("statusEnabled", cfg.Status.Enabled),
	)

	// Restore persisted watermarks before the session starts
	store := state.NewStore(logger)
	if err := store.Load(cfg.State.Directory); err != nil {
		logger.Error("failed to load persisted state", zap.Error(err))
		return err
	}
	for _, channel := range store.Channels() {
		logger.Info("restored channel",
			zap.String("channel", channel),
			zap.Int64("pts", store.Pts(channel)),
			zap.Int("entries", store.Len(channel)),
		)
	}

	apiClient := api.NewClient(
		cfg.API.BaseURL,
		cfg.Feed.APIKey,
		cfg.API.RatePerSecond,
		time.Duration(cfg.API.TimeoutSec)*time.Second,
		time.Duration(cfg.API.RetryDelaySec)*time.Second,
		cfg.API.RetryCount,
		logger,
	)

	notifyCfg := notify.LoadConfig()
	if err := notifyCfg.Validate(); err != nil {
		logger.Error("invalid notification config", zap.Error(err))
		return err
	}
	notifier := notify.NewClient(notifyCfg, logger)

	sessionCfg := session.Config{
		Sequence: sequence.Config{
			ReorderWait: time.Duration(cfg.Sync.ReorderWaitMS) * time.Millisecond,
			GapWait:     time.Duration(cfg.Sync.GapWaitMS) * time.Millisecond,
		},
		ShortPollIdle:    time.Duration(cfg.Sync.ShortPollIdleSec) * time.Second,
		ShortPollWait:    time.Duration(cfg.Sync.ShortPollWaitSec) * time.Second,
		MaxForcedFlushes: cfg.Sync.MaxForcedFlushes,
		PersistInterval:  time.Duration(cfg.Sync.PersistIntervalSec) * time.Second,
		StateDir:         cfg.State.Directory,
		ResyncTimeout:    time.Duration(cfg.API.TimeoutSec) * time.Second,
	}
	manager := session.NewManager(sessionCfg, cfg.Channels, store, apiClient, notifier, logger)

	feedClient, err := ws.NewClient(ws.Config{
		URL:          cfg.Feed.URL,
		APIKey:       cfg.Feed.APIKey,
		Channels:     cfg.Channels,
		DialTimeout:  time.Duration(cfg.Feed.DialTimeoutSec) * time.Second,
		ReconnectMin: time.Duration(cfg.Feed.ReconnectMinSec) * time.Second,
		ReconnectMax: time.Duration(cfg.Feed.ReconnectMaxSec) * time.Second,
	}, manager, logger)
	if err != nil {
		logger.Error("failed to create feed client", zap.Error(err))
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go manager.Run(runCtx)
	go feedClient.Run(runCtx)

	// Status API (optional)
	var httpServer *http.Server
	if cfg.Status.Enabled {
		broadcaster := feedsync.NewBroadcaster(manager,
			time.Duration(cfg.Status.SSEIntervalSec)*time.Second, logger)
		go broadcaster.Run(runCtx)

		srv := server.NewServer(manager, store, broadcaster, logger)
		router, err := server.NewRouter(srv, logger)
		if err != nil {
			logger.Error("failed to create router", zap.Error(err))
			return err
		}

		httpServer = &http.Server{
			Addr:         ":" + cfg.Status.Port,
			Handler:      router,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
		}

		go func() {
			logger.Info("starting status server", zap.String("addr", httpServer.Addr))
			if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("status server error", zap.Error(err))
			}
		}()
	}

	<-ctx.Done()
	logger.Info("shutting down...")

	// Stop the feed and session loops, then drain the HTTP server.
	cancel()
	manager.Wait()

	if httpServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("status server shutdown error", zap.Error(err))
			return err
		}
	}

	logger.Info("stopped")
	return nil
}
