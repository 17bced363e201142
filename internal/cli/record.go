package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/Kocoro-lab/rfpstudio/internal/orchestrator"
)

var (
	createTitle   string
	createClient  string
	createDueDate string
)

var recordCmd = &cobra.Command{
	Use:   "record",
	Short: "Inspect RFP records",
}

var recordCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a record through the intake pipeline",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		reg, err := a.Registry(a.Config)
		if err != nil {
			return err
		}
		p, err := reg.Get("intake")
		if err != nil {
			return err
		}
		payload := map[string]interface{}{"title": createTitle, "client_name": createClient}
		if createDueDate != "" {
			payload["due_date"] = createDueDate
		}
		state, err := p.Run(cmd.Context(), orchestrator.Request{Payload: payload})
		if err != nil {
			return err
		}
		if !state.LastSuccess {
			return fmt.Errorf("intake failed: %s", state.LastMessage)
		}
		rec, err := a.Store.FindRecord(cmd.Context(), state.RecordID)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), rec)
	},
}

var recordGetCmd = &cobra.Command{
	Use:   "get <id>",
	Short: "Print a record as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		rec, err := a.Store.FindRecord(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), rec)
	},
}

var recordWorkItemsCmd = &cobra.Command{
	Use:   "workitems <id>",
	Short: "List the work items of a record",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		if _, err := a.Store.FindRecord(cmd.Context(), args[0]); err != nil {
			return err
		}
		items, err := a.Store.ListWorkItems(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tTYPE\tSTATUS\tTEAM\tTITLE")
		for _, w := range items {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", w.ID, w.Type, w.Status, w.AssignedTeam, w.Title)
		}
		return tw.Flush()
	},
}

func init() {
	recordCreateCmd.Flags().StringVar(&createTitle, "title", "", "RFP title")
	recordCreateCmd.Flags().StringVar(&createClient, "client", "", "client name")
	recordCreateCmd.Flags().StringVar(&createDueDate, "due", "", "due date")
	_ = recordCreateCmd.MarkFlagRequired("title")
	_ = recordCreateCmd.MarkFlagRequired("client")
	recordCmd.AddCommand(recordCreateCmd, recordGetCmd, recordWorkItemsCmd)
	rootCmd.AddCommand(recordCmd)
}
