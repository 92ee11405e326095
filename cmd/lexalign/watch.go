package main

import (
	"fmt"
	"net/http"
	"net/url"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/hyperjump/lexalign/internal/cli"
)

func newWatchCmd(opts *globalOptions) *cobra.Command {
	var serverURL string
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Manage the corpus drop directories of a running server",
	}
	cmd.PersistentFlags().StringVar(&serverURL, "server", defaultServerURL, "server URL")

	var noSync bool
	add := &cobra.Command{
		Use:   "add <dir>",
		Short: "Watch a directory and index the trees it already holds",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			abs, err := filepath.Abs(args[0])
			if err != nil {
				return err
			}
			body := map[string]interface{}{"path": abs, "sync": !noSync}
			if err := callAPI(cmd.Context(), http.MethodPost, serverURL, "/api/v1/watch/directories", body, nil); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Watching %s\n", abs)
			return nil
		},
	}
	add.Flags().BoolVar(&noSync, "no-sync", false, "do not index files already in the directory")

	remove := &cobra.Command{
		Use:   "remove <dir>",
		Short: "Stop watching a directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			abs, err := filepath.Abs(args[0])
			if err != nil {
				return err
			}
			path := "/api/v1/watch/directories?path=" + url.QueryEscape(abs)
			if err := callAPI(cmd.Context(), http.MethodDelete, serverURL, path, nil, nil); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Stopped watching %s\n", abs)
			return nil
		},
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List watched directories",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			format, err := opts.outputFormat()
			if err != nil {
				return err
			}
			var out struct {
				Directories []string `json:"directories"`
			}
			if err := callAPI(cmd.Context(), http.MethodGet, serverURL, "/api/v1/watch/directories", nil, &out); err != nil {
				return err
			}
			return cli.WriteDirectories(cmd.OutOrStdout(), out.Directories, format)
		},
	}

	cmd.AddCommand(add, remove, list)
	return cmd
}
