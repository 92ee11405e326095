// Package main is the lexalign CLI entry point.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hyperjump/lexalign/internal/cli"
	"github.com/hyperjump/lexalign/internal/config"
	"github.com/hyperjump/lexalign/pkg/utils"
)

var version = "dev"

const (
	defaultConfigPath = "/usr/local/etc/lexalign/config.yaml"
	defaultServerURL  = "http://localhost:8080"
)

// globalOptions are the persistent flags shared by every command.
type globalOptions struct {
	configPath string
	debug      bool
	format     string
}

// loadConfig loads config from path. When path is the default, a config.yaml
// in the working directory takes precedence so that commands run from a
// checkout use the checkout's settings. It returns the config and the path
// that was actually loaded.
func loadConfig(path string) (*config.Config, string, error) {
	if path == defaultConfigPath {
		if cwd, err := os.Getwd(); err == nil {
			fallback := filepath.Join(cwd, "config.yaml")
			if _, statErr := os.Stat(fallback); statErr == nil {
				cfg, loadErr := config.Load(fallback)
				if loadErr != nil {
					return nil, "", loadErr
				}
				return cfg, fallback, nil
			}
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

// setup loads the config and builds the logger for a command.
func (o *globalOptions) setup() (*config.Config, string, *zap.Logger, error) {
	cfg, path, err := loadConfig(o.configPath)
	if err != nil {
		return nil, "", nil, fmt.Errorf("failed to load config: %w", err)
	}
	logger, err := utils.NewLogger(cfg.Debug || o.debug)
	if err != nil {
		return nil, "", nil, fmt.Errorf("failed to create logger: %w", err)
	}
	return cfg, path, logger, nil
}

func (o *globalOptions) outputFormat() (cli.OutputFormat, error) {
	return cli.ParseOutputFormat(o.format)
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}
	cmd := &cobra.Command{
		Use:   "lexalign",
		Short: "Cross-lingual search over a hierarchical legal corpus",
		Long: `lexalign indexes parsed legal documents at document, section, paragraph
and sentence level and finds their counterparts in other languages.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.SetVersionTemplate("lexalign version {{.Version}}\n")

	cmd.PersistentFlags().StringVar(&opts.configPath, "config", defaultConfigPath, "config file path")
	cmd.PersistentFlags().BoolVar(&opts.debug, "debug", false, "enable debug logging")
	cmd.PersistentFlags().StringVarP(&opts.format, "format", "f", "text", "output format: text or json")

	cmd.AddCommand(
		newServeCmd(opts),
		newIndexCmd(opts),
		newSearchCmd(opts),
		newOptimizeCmd(opts),
		newVocabularyCmd(opts),
		newStatusCmd(opts),
		newWatchCmd(opts),
		newVersionCmd(),
	)
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "lexalign version %s\n", version)
		},
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		stop()
		os.Exit(1)
	}
}
