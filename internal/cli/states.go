package cli

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/Kocoro-lab/rfpstudio/internal/lifecycle"
)

var statesCmd = &cobra.Command{
	Use:   "states",
	Short: "Print the record lifecycle and its legal transitions",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "STATE\tNEXT")
		for _, s := range lifecycle.All() {
			next := make([]string, 0)
			for _, n := range lifecycle.NextValidStates(s) {
				next = append(next, n.String())
			}
			label := strings.Join(next, ",")
			if s.Terminal() {
				label = "(terminal)"
			}
			fmt.Fprintf(tw, "%s\t%s\n", s, label)
		}
		return tw.Flush()
	},
}

func init() {
	rootCmd.AddCommand(statesCmd)
}
