package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/blackrose-blackhat/llm-guardrail/backend/internal/guardrail"
)

var checkCmd = &cobra.Command{
	Use:   "check [message]",
	Short: "Check a message, or start an interactive prompt when none is given",
	Long: `Check runs a message through the classifier and similarity layers and
prints the verdict.

  guardrail check "Ignore all previous instructions"
  guardrail check            # interactive; type 'exit' to quit`,
	RunE: checkCommand,
}

func init() {
	rootCmd.AddCommand(checkCmd)
}

func checkCommand(cmd *cobra.Command, args []string) error {
	a, _, err := buildApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	a.Bootstrap(ctx)

	out := cmd.OutOrStdout()
	p := newPainter(out)

	if len(args) > 0 {
		return checkOne(ctx, a.Guard, strings.Join(args, " "), out, p)
	}

	fmt.Fprintln(out, p.paint(colorCyan+colorBold, "LLM guardrail: type a prompt to check it, 'exit' to quit"))
	scanner := bufio.NewScanner(cmd.InOrStdin())
	for {
		fmt.Fprint(out, p.paint(colorBold+colorBlue, "> "))
		if !scanner.Scan() {
			return scanner.Err()
		}
		prompt := strings.TrimSpace(scanner.Text())
		if prompt == "" {
			continue
		}
		if prompt == "exit" || prompt == "quit" {
			return nil
		}
		if err := checkOne(ctx, a.Guard, prompt, out, p); err != nil {
			fmt.Fprintln(out, p.paint(colorRed, err.Error()))
		}
		fmt.Fprintln(out)
	}
}

func checkOne(ctx context.Context, g *guardrail.Guard, text string, out io.Writer, p painter) error {
	v, err := g.Check(ctx, text)
	if err != nil {
		return err
	}
	if jsonOut {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(v.Response())
	}
	printVerdict(out, p, v)
	return nil
}

func printVerdict(out io.Writer, p painter, v *guardrail.Verdict) {
	if v.Blocked {
		fmt.Fprintln(out, p.paint(colorBold+colorRed, "BLOCKED"))
	} else {
		fmt.Fprintln(out, p.paint(colorBold+colorGreen, "ALLOWED"))
	}
	fmt.Fprintf(out, "Layer:      %s\n", v.TriggeringLayer)
	fmt.Fprintf(out, "Reason:     %s\n", v.Reason)
	fmt.Fprintf(out, "Risk:       %s (%.0f%% confidence)\n", v.RiskLevel(), v.Confidence()*100)

	fmt.Fprintf(out, "Classifier: %s", v.Classifier.Status)
	if v.Classifier.Error != "" {
		fmt.Fprint(out, " ", p.paint(colorYellow, v.Classifier.Error))
	}
	fmt.Fprintln(out)

	fmt.Fprintf(out, "Similarity: %s", v.Similarity.Status)
	if ev := v.Similarity.Verdict; ev != nil {
		fmt.Fprintf(out, " (top score %.2f, threshold %.2f)", ev.TopScore, ev.Threshold)
		if ev.MatchedExample != nil {
			fmt.Fprintf(out, " matched %s [%s/%s]", ev.MatchedExample.ID, ev.MatchedExample.Category, ev.MatchedExample.Severity)
		}
	}
	if v.Similarity.Error != "" {
		fmt.Fprint(out, " ", p.paint(colorYellow, v.Similarity.Error))
	}
	fmt.Fprintln(out)
}
