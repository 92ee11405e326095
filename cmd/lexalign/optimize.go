package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newOptimizeCmd(opts *globalOptions) *cobra.Command {
	var (
		maxSegments int
		serverURL   string
	)
	cmd := &cobra.Command{
		Use:   "optimize",
		Short: "Merge every index down to a number of segments",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runOptimize(cmd.Context(), cmd.OutOrStdout(), opts, maxSegments, serverURL)
		},
	}
	cmd.Flags().IntVar(&maxSegments, "max-segments", 0, "segments to keep per index (default from config)")
	cmd.Flags().StringVar(&serverURL, "server", "", "server URL to optimize through (empty = open the indexes directly)")
	return cmd
}

func runOptimize(ctx context.Context, out io.Writer, opts *globalOptions, maxSegments int, serverURL string) error {
	if maxSegments < 0 {
		return fmt.Errorf("max-segments must be positive, got %d", maxSegments)
	}
	if serverURL != "" {
		body := map[string]int{}
		if maxSegments > 0 {
			body["max_segments"] = maxSegments
		}
		if err := callAPI(ctx, http.MethodPost, serverURL, "/api/v1/index/optimize", body, nil); err != nil {
			return err
		}
		fmt.Fprintln(out, "Indexes optimized")
		return nil
	}

	cfg, _, logger, err := opts.setup()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	if maxSegments == 0 {
		maxSegments = cfg.Index.MaxSegments
	}
	components, err := initializeComponents(cfg, logger, false)
	if err != nil {
		return err
	}
	defer components.Close()

	start := time.Now()
	if err := components.Manager.FullOptimize(ctx, maxSegments, components.Manager.ExistingKeys()...); err != nil {
		return fmt.Errorf("optimize failed: %w", err)
	}
	logger.Info("optimize finished", zap.Int("max_segments", maxSegments), zap.Duration("elapsed", time.Since(start)))
	fmt.Fprintf(out, "Indexes merged to at most %d segments in %s\n", maxSegments, time.Since(start).Round(time.Millisecond))
	return nil
}
