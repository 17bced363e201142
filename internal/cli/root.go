// Package cli implements rfpctl, the operator command line for the engine.
// Every command builds the same components as the server from the shared
// configuration file, so it is only useful against persistent backends.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Kocoro-lab/rfpstudio/internal/app"
	"github.com/Kocoro-lab/rfpstudio/internal/config"
)

var (
	configPath string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "rfpctl",
	Short: "Operate the RFP workflow engine",
	Long: `rfpctl runs pipelines, inspects records and seeds the knowledge corpus
using the same configuration file as the rfpstudio server.

Set RFPSTUDIO_CONFIG or pass --config to choose the file.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", config.Path(), "path to the configuration file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log component activity to stderr")
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// openApp loads the configuration and wires the components. The caller
// closes the returned App.
func openApp(ctx context.Context) (*app.App, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", configPath, err)
	}
	logger := zap.NewNop()
	if verbose {
		if logger, err = zap.NewDevelopment(); err != nil {
			return nil, err
		}
	}
	return app.New(ctx, cfg, logger)
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
