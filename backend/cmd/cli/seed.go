package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/blackrose-blackhat/llm-guardrail/backend/internal/similarity"
)

var seedFile string

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Load the seed attack corpus into the vector store",
	Long: `Seed embeds the built-in attack examples (or those in --file) and upserts
them into the configured collection. Seed ids are stable, so re-running
replaces rather than duplicates.`,
	RunE: seedCommand,
}

func init() {
	seedCmd.Flags().StringVar(&seedFile, "file", "", "YAML seed file (default: built-in corpus)")
	rootCmd.AddCommand(seedCmd)
}

func seedCommand(cmd *cobra.Command, args []string) error {
	a, _, err := buildApp()
	if err != nil {
		return err
	}
	defer a.Close()

	examples, err := similarity.LoadSeed(seedFile)
	if err != nil {
		return err
	}
	if err := similarity.Seed(cmd.Context(), a.Index, examples); err != nil {
		return fmt.Errorf("seed %s: %w", a.Index.Collection(), err)
	}

	n, err := a.Index.Count(cmd.Context())
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Seeded %d examples into %s (%s); collection now holds %d\n",
		len(examples), a.Index.Collection(), a.Store.Backend(), n)
	return nil
}
