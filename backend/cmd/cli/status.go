package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/blackrose-blackhat/llm-guardrail/backend/internal/embedder"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the configured layers and corpus size",
	RunE:  statusCommand,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func statusCommand(cmd *cobra.Command, args []string) error {
	a, _, err := buildApp()
	if err != nil {
		return err
	}
	defer a.Close()

	cfg := a.Config
	out := cmd.OutOrStdout()
	p := newPainter(out)

	corpus := "unavailable"
	if err := a.Index.Bootstrap(cmd.Context()); err == nil {
		if n, err := a.Index.Count(cmd.Context()); err == nil {
			corpus = fmt.Sprintf("%d examples", n)
		}
	}

	if jsonOut {
		return json.NewEncoder(out).Encode(map[string]interface{}{
			"classifier":     a.Classifier.Name(),
			"policyVersion":  a.Policy.PolicyVersion(),
			"embeddingModel": a.Embedder.Model(),
			"embeddingReady": embedder.Loaded(a.Embedder),
			"vectorBackend":  a.Store.Backend(),
			"collection":     a.Index.Collection(),
			"corpus":         corpus,
			"threshold":      cfg.Guardrail.SimilarityThreshold,
			"topK":           cfg.Guardrail.TopK,
		})
	}

	fmt.Fprintln(out, p.paint(colorBold+colorCyan, "LLM guardrail status"))
	fmt.Fprintf(out, "  Classifier:  %s (policy %s)\n", a.Classifier.Name(), a.Policy.PolicyVersion())
	fmt.Fprintf(out, "  Embedding:   %s/%s, %d dims\n", cfg.Embedding.Provider, a.Embedder.Model(), a.Embedder.Dimensions())
	fmt.Fprintf(out, "  Vector:      %s, collection %s\n", a.Store.Backend(), a.Index.Collection())
	fmt.Fprintf(out, "  Corpus:      %s\n", corpus)
	fmt.Fprintf(out, "  Threshold:   > %.2f over top %d\n", cfg.Guardrail.SimilarityThreshold, cfg.Guardrail.TopK)
	fmt.Fprintf(out, "  Provider:    %s (%s)\n", cfg.Provider.Type, cfg.Provider.BaseURL)
	return nil
}
