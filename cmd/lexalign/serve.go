package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hyperjump/lexalign/internal/server"
	"github.com/hyperjump/lexalign/internal/watcher"
)

func newServeCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server and watch the corpus drop directories",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), opts)
		},
	}
}

func runServe(ctx context.Context, opts *globalOptions) error {
	cfg, configPath, logger, err := opts.setup()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("config loaded",
		zap.String("config_path", configPath),
		zap.Bool("read_only", cfg.Index.ReadOnly),
	)

	components, err := initializeComponents(cfg, logger, cfg.Index.ReadOnly)
	if err != nil {
		return err
	}
	defer components.Close()

	srvOpts := []server.Option{
		server.WithLogger(logger),
		server.WithMetrics(components.Metrics),
	}
	if components.Indexer != nil {
		watchSvc := watcher.New(components.Indexer, cfg.Watch.Directories,
			watcher.WithLogger(logger),
			watcher.WithExtensions(cfg.Indexer.SourceExtensions...),
			watcher.WithRecursive(cfg.Watch.RecursiveOrDefault()),
			watcher.WithDebounce(cfg.Watch.Debounce),
		)
		if err := watchSvc.Start(ctx); err != nil {
			return err
		}
		defer watchSvc.Stop()
		watchSvc.SyncExistingFiles()
		srvOpts = append(srvOpts, server.WithWatch(watchSvc, configPath))
	}

	srv := server.NewServer(components.Engine, components.Storage, cfg, srvOpts...)
	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	logger.Info("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Stop(shutdownCtx); err != nil {
		logger.Warn("server shutdown", zap.Error(err))
	}
	if components.Indexer != nil {
		if err := components.Indexer.Commit(shutdownCtx); err != nil {
			logger.Warn("final commit failed", zap.Error(err))
		}
	}
	return nil
}
