package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hyperjump/lexalign/internal/storage"
	"github.com/hyperjump/lexalign/internal/vocabulary"
)

func newVocabularyCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "vocabulary",
		Short: "Manage the controlled vocabulary used to resolve term domains",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "import <tsv>",
		Short: "Import term domains from a TSV file (id<TAB>topic1;topic2)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runVocabularyImport(cmd.Context(), cmd.OutOrStdout(), opts, args[0])
		},
	})
	return cmd
}

func runVocabularyImport(ctx context.Context, out io.Writer, opts *globalOptions, path string) error {
	cfg, _, logger, err := opts.setup()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	store, err := storage.NewSQLiteStorage(cfg.Vocabulary.DatabasePath)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer store.Close()

	vocab, err := vocabulary.New(store,
		vocabulary.WithCacheSize(cfg.Vocabulary.CacheSize),
		vocabulary.WithLogger(logger),
	)
	if err != nil {
		return err
	}
	n, err := vocab.ImportFile(ctx, path)
	if err != nil {
		return fmt.Errorf("import %s: %w", path, err)
	}
	total, err := store.CountTerms(ctx)
	if err != nil {
		return err
	}
	logger.Info("vocabulary imported", zap.String("path", path), zap.Int("terms", n))
	fmt.Fprintf(out, "Imported %d terms (%d in vocabulary)\n", n, total)
	return nil
}
