package main

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hyperjump/lexalign/internal/cli"
	"github.com/hyperjump/lexalign/internal/models"
)

type searchOptions struct {
	language    string
	granularity string
	view        string
	page        int
	pageSize    int
	serverURL   string
}

func newSearchCmd(opts *globalOptions) *cobra.Command {
	var so searchOptions
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Free-text search at one granularity",
		Long: `Free-text search at one granularity. All remaining arguments form the
query; every word must match.

The running server is queried unless --server is empty, in which case the
indexes are opened read-only.

Examples:
  lexalign search --language sl carinska uredba
  lexalign search -l hr -g Sentence --view Document "porez na dodanu vrijednost"
  lexalign search -l sl --format json --server "" zakon`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSearch(cmd.Context(), cmd.OutOrStdout(), opts, buildSearchQuery(args), so)
		},
	}
	cmd.Flags().StringVarP(&so.language, "language", "l", "", "language to search (required)")
	cmd.Flags().StringVarP(&so.granularity, "granularity", "g", "Paragraph", "level to search: Document, Section, Paragraph or Sentence")
	cmd.Flags().StringVar(&so.view, "view", "", "level to return hits at (default: the searched level)")
	cmd.Flags().IntVar(&so.page, "page", 1, "1-based result page")
	cmd.Flags().IntVarP(&so.pageSize, "page-size", "n", 0, "results per page (default from config)")
	cmd.Flags().StringVar(&so.serverURL, "server", defaultServerURL, `server URL (empty = open the indexes directly)`)
	_ = cmd.MarkFlagRequired("language")
	return cmd
}

// buildSearchQuery joins all positional args with spaces so multi-word queries
// work the same with or without shell quoting.
func buildSearchQuery(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}

// textSearchRequest mirrors the body of POST /api/v1/search/text.
type textSearchRequest struct {
	models.TextQuery
	models.Page
	View models.Granularity `json:"view,omitempty"`
}

func (so searchOptions) request(query string) (textSearchRequest, error) {
	req := textSearchRequest{
		TextQuery: models.TextQuery{Language: so.language, QueryString: query},
		Page:      models.Page{Number: so.page, Size: so.pageSize},
	}
	g, err := models.ParseGranularity(so.granularity)
	if err != nil {
		return req, err
	}
	req.SearchIn = g
	if so.view != "" {
		if req.View, err = models.ParseGranularity(so.view); err != nil {
			return req, err
		}
	}
	return req, req.TextQuery.Validate()
}

func runSearch(ctx context.Context, out io.Writer, opts *globalOptions, query string, so searchOptions) error {
	if query == "" {
		return errors.New("query is empty")
	}
	format, err := opts.outputFormat()
	if err != nil {
		return err
	}
	req, err := so.request(query)
	if err != nil {
		return err
	}

	if so.serverURL != "" {
		var page cli.ResultPage
		if err := callAPI(ctx, http.MethodPost, so.serverURL, "/api/v1/search/text", req, &page); err != nil {
			return err
		}
		return cli.WriteSearchResults(out, &page, format)
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

	if req.Size <= 0 {
		req.Size = cfg.Search.DefaultPageSize
	}
	res, err := components.Engine.TextSearch(ctx, req.TextQuery, req.View, req.Page)
	if err != nil {
		return err
	}
	logger.Debug("search finished", zap.Int("total", res.TotalResults), zap.Int64("query_time_ms", res.QueryTime))
	page, err := cli.NewResultPage(res)
	if err != nil {
		return err
	}
	return cli.WriteSearchResults(out, page, format)
}
