package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/blackrose-blackhat/llm-guardrail/backend/internal/app"
	"github.com/blackrose-blackhat/llm-guardrail/backend/internal/config"
	"github.com/blackrose-blackhat/llm-guardrail/backend/internal/logger"
	"github.com/blackrose-blackhat/llm-guardrail/backend/internal/mcp"
)

func main() {
	godotenv.Load()

	cfg := config.Load()

	// stdout carries the protocol, so logs go to stderr
	logger.Init(cfg.Logging.Level, cfg.Logging.Format, os.Stderr)
	log := logger.WithFields(logrus.Fields{"service": "guardrail-mcp"})

	if err := cfg.Validate(); err != nil {
		log.WithError(err).Fatal("invalid configuration")
	}

	a, err := app.New(cfg, log)
	if err != nil {
		log.WithError(err).Fatal("failed to initialize guardrail")
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	bootCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	a.Bootstrap(bootCtx)
	cancel()

	server := mcp.NewServer(a.Guard, a.Index, log)

	log.Info("MCP server starting on stdio")
	if err := server.Serve(ctx, os.Stdin, os.Stdout); err != nil && ctx.Err() == nil {
		log.WithError(err).Error("MCP server stopped")
	}
}
