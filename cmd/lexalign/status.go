package main

import (
	"context"
	"io"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/hyperjump/lexalign/internal/cli"
	"github.com/hyperjump/lexalign/internal/models"
	"github.com/hyperjump/lexalign/internal/storage"
)

func newStatusCmd(opts *globalOptions) *cobra.Command {
	var serverURL string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show index and vocabulary status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStatus(cmd.Context(), cmd.OutOrStdout(), opts, serverURL)
		},
	}
	cmd.Flags().StringVar(&serverURL, "server", defaultServerURL, "server URL (empty = open the indexes directly)")
	return cmd
}

func runStatus(ctx context.Context, out io.Writer, opts *globalOptions, serverURL string) error {
	format, err := opts.outputFormat()
	if err != nil {
		return err
	}
	var st cli.Status
	if serverURL != "" {
		if err := callAPI(ctx, http.MethodGet, serverURL, "/api/v1/status", nil, &st); err != nil {
			return err
		}
		return cli.WriteStatus(out, &st, format)
	}

	cfg, _, logger, err := opts.setup()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	components, err := initializeComponents(cfg, logger, true)
	if err != nil {
		return err
	}
	defer components.Close()

	manager := components.Manager
	if st.Cells, err = manager.Stats(); err != nil {
		return err
	}
	st.Mode = manager.Mode().String()
	st.ReadOnly = manager.ReadOnly()
	for _, c := range st.Cells {
		if c.Key.Granularity == models.GranularityDocument {
			st.Documents += c.Documents
		}
	}
	if st.Terms, err = components.Storage.CountTerms(ctx); err != nil {
		return err
	}
	if st.Sources, err = components.Storage.CountSources(ctx); err != nil {
		return err
	}
	if usage, err := storage.DiskUsageBytes(cfg.Index.Root, cfg.Vocabulary.DatabasePath); err == nil {
		st.DiskUsageBytes = usage
	}
	return cli.WriteStatus(out, &st, format)
}
