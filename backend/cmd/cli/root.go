package main

import (
	"fmt"
	"io"
	"os"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/blackrose-blackhat/llm-guardrail/backend/internal/app"
	"github.com/blackrose-blackhat/llm-guardrail/backend/internal/config"
	"github.com/blackrose-blackhat/llm-guardrail/backend/internal/logger"
)

var (
	envFile  string
	logLevel string
	jsonOut  bool
)

var rootCmd = &cobra.Command{
	Use:   "guardrail",
	Short: "Check prompts against the two-layer LLM guardrail",
	Long: `guardrail runs the same classifier and similarity layers as the proxy,
in-process, using the environment (and .env) configuration.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env", ".env", "Path to a .env file (ignored if missing)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "Log level for diagnostics on stderr")
	rootCmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "Print machine-readable JSON")
}

// buildApp loads configuration and assembles the guardrail
func buildApp() (*app.App, *logrus.Entry, error) {
	_ = godotenv.Load(envFile)

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid configuration: %w", err)
	}

	logger.Init(logLevel, "text", os.Stderr)
	log := logger.WithFields(logrus.Fields{"service": "guardrail-cli"})

	a, err := app.New(cfg, log)
	if err != nil {
		return nil, nil, err
	}
	return a, log, nil
}

const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorBlue   = "\033[34m"
	colorCyan   = "\033[36m"
	colorBold   = "\033[1m"
)

// painter colours output only when writing to a terminal
type painter struct {
	enabled bool
}

func newPainter(w io.Writer) painter {
	f, ok := w.(*os.File)
	return painter{enabled: ok && term.IsTerminal(int(f.Fd())) && os.Getenv("NO_COLOR") == ""}
}

func (p painter) paint(color, s string) string {
	if !p.enabled {
		return s
	}
	return color + s + colorReset
}
