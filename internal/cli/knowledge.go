package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Kocoro-lab/rfpstudio/internal/knowledge"
	"github.com/Kocoro-lab/rfpstudio/internal/models"
)

var (
	knowledgeFile   string
	knowledgeSample bool
)

var knowledgeCmd = &cobra.Command{
	Use:   "knowledge",
	Short: "Manage the team knowledge corpus used for routing",
}

var knowledgeLoadCmd = &cobra.Command{
	Use:   "load",
	Short: "Embed and index knowledge entries",
	Long: `Embed knowledge entries and add them to the configured corpus. With no
flags the configured seed file and sample set are loaded the same way the
server does at startup.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		if knowledgeFile == "" && !knowledgeSample {
			n, err := a.SeedKnowledge(cmd.Context())
			fmt.Fprintf(cmd.OutOrStdout(), "loaded %d entries into %s\n", n, a.Corpus.Name())
			return err
		}

		if err := a.EnsureCorpus(cmd.Context()); err != nil {
			return err
		}
		var entries []models.KnowledgeEntry
		if knowledgeFile != "" {
			if entries, err = knowledge.LoadFile(knowledgeFile); err != nil {
				return err
			}
		}
		if knowledgeSample {
			entries = append(entries, knowledge.SampleEntries()...)
		}
		loader := knowledge.NewLoader(a.Embedder, a.Corpus, a.Config.Knowledge.BatchSize, a.Logger)
		n, err := loader.Load(cmd.Context(), entries)
		fmt.Fprintf(cmd.OutOrStdout(), "loaded %d entries into %s\n", n, a.Corpus.Name())
		return err
	},
}

var knowledgeCountCmd = &cobra.Command{
	Use:   "count",
	Short: "Print the number of indexed entries",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		n, err := a.Corpus.Count(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), n)
		return nil
	},
}

func init() {
	knowledgeLoadCmd.Flags().StringVarP(&knowledgeFile, "file", "f", "", "YAML seed file to load")
	knowledgeLoadCmd.Flags().BoolVar(&knowledgeSample, "sample", false, "load the built-in sample entries")
	knowledgeCmd.AddCommand(knowledgeLoadCmd, knowledgeCountCmd)
	rootCmd.AddCommand(knowledgeCmd)
}
