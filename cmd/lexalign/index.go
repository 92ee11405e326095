package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hyperjump/lexalign/internal/cli"
)

type indexOptions struct {
	rebuild bool
	force   bool
}

func newIndexCmd(opts *globalOptions) *cobra.Command {
	var iopts indexOptions
	cmd := &cobra.Command{
		Use:   "index <dir>",
		Short: "Index every parsed document tree below a directory",
		Long: `Index every parsed document tree (one JSON document per file) below dir.

Sources whose modification time has not changed since they were last
indexed are skipped unless --force is given. --rebuild drops every index
first and reindexes the whole directory.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIndex(cmd.Context(), cmd.OutOrStdout(), opts, args[0], iopts)
		},
	}
	cmd.Flags().BoolVar(&iopts.rebuild, "rebuild", false, "drop the indexes and reindex everything")
	cmd.Flags().BoolVar(&iopts.force, "force", false, "reindex sources even when unchanged")
	return cmd
}

func runIndex(ctx context.Context, out io.Writer, opts *globalOptions, dir string, iopts indexOptions) error {
	format, err := opts.outputFormat()
	if err != nil {
		return err
	}
	info, err := os.Stat(dir)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", dir)
	}

	cfg, _, logger, err := opts.setup()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	components, err := initializeComponents(cfg, logger, false)
	if err != nil {
		return err
	}
	defer components.Close()

	if iopts.rebuild {
		for _, key := range components.Manager.Keys() {
			if _, err := components.Manager.Recreate(key); err != nil {
				return fmt.Errorf("recreate %s: %w", key, err)
			}
		}
		logger.Info("indexes recreated", zap.String("root", cfg.Index.Root))
	}

	start := time.Now()
	stats, err := components.Indexer.IndexDirectory(ctx, dir, iopts.force || iopts.rebuild)
	if err != nil {
		return fmt.Errorf("indexing failed: %w", err)
	}
	return cli.WriteIndexStats(out, stats, time.Since(start), format)
}
