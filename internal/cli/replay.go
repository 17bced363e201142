package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Kocoro-lab/rfpstudio/internal/temporal"
	"github.com/Kocoro-lab/rfpstudio/internal/workflows"
)

var replayHistory string

var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Check a durable pipeline history against the current workflow code",
	Long: `Replay a workflow history exported with
'temporal workflow show -w <id> --output json'. A non-zero exit means the
workflow code changed in a non-deterministic way.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := zap.NewNop()
		if verbose {
			var err error
			if logger, err = zap.NewDevelopment(); err != nil {
				return err
			}
		}
		if err := workflows.ReplayHistoryFile(temporal.NewZapAdapter(logger), replayHistory); err != nil {
			return fmt.Errorf("replay %s: %w", replayHistory, err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "replay succeeded for %s\n", replayHistory)
		return nil
	},
}

func init() {
	replayCmd.Flags().StringVar(&replayHistory, "history", "", "path to the exported history JSON")
	_ = replayCmd.MarkFlagRequired("history")
	rootCmd.AddCommand(replayCmd)
}
