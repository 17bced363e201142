package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Kocoro-lab/rfpstudio/internal/agents"
	"github.com/Kocoro-lab/rfpstudio/internal/orchestrator"
)

var (
	runRecordID    string
	runPayload     string
	runPayloadFile string
)

var runCmd = &cobra.Command{
	Use:   "run <pipeline>",
	Short: "Run a pipeline inline and print the final state",
	Long: `Run a configured pipeline against a record and print the accumulated
state as JSON. The payload is a JSON object given inline with --payload or
read from a file with --payload-file.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		payload, err := readPayload()
		if err != nil {
			return err
		}

		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		reg, err := a.Registry(a.Config)
		if err != nil {
			return err
		}
		p, err := reg.Get(args[0])
		if err != nil {
			return fmt.Errorf("%w (available: %s)", err, strings.Join(reg.Names(), ", "))
		}
		for _, kind := range p.Kinds() {
			if _, err := agents.DecodePayload(kind, payload); err != nil {
				return err
			}
		}

		state, err := p.Run(cmd.Context(), orchestrator.Request{RecordID: runRecordID, Payload: payload})
		if state != nil {
			if perr := printJSON(cmd.OutOrStdout(), state); perr != nil {
				return perr
			}
		}
		return err
	},
}

var pipelinesCmd = &cobra.Command{
	Use:   "pipelines",
	Short: "List configured pipelines and their agents",
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
		for _, name := range reg.Names() {
			p, err := reg.Get(name)
			if err != nil {
				return err
			}
			kinds := make([]string, 0)
			for _, k := range p.Kinds() {
				kinds = append(kinds, string(k))
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", name, strings.Join(kinds, " -> "))
		}
		return nil
	},
}

func readPayload() (map[string]interface{}, error) {
	raw := []byte(runPayload)
	if runPayloadFile != "" {
		data, err := os.ReadFile(runPayloadFile)
		if err != nil {
			return nil, err
		}
		raw = data
	}
	payload := map[string]interface{}{}
	if len(raw) == 0 {
		return payload, nil
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("payload is not a JSON object: %w", err)
	}
	return payload, nil
}

func init() {
	runCmd.Flags().StringVar(&runRecordID, "record-id", "", "record to run against; intake creates one when empty")
	runCmd.Flags().StringVar(&runPayload, "payload", "", "JSON payload")
	runCmd.Flags().StringVar(&runPayloadFile, "payload-file", "", "read the JSON payload from a file")
	runCmd.MarkFlagsMutuallyExclusive("payload", "payload-file")
	rootCmd.AddCommand(runCmd, pipelinesCmd)
}
