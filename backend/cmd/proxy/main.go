package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/blackrose-blackhat/llm-guardrail/backend/internal/app"
	"github.com/blackrose-blackhat/llm-guardrail/backend/internal/config"
	"github.com/blackrose-blackhat/llm-guardrail/backend/internal/logger"
	"github.com/blackrose-blackhat/llm-guardrail/backend/internal/metrics"
	"github.com/blackrose-blackhat/llm-guardrail/backend/internal/proxy"
)

func main() {
	// Load environment variables
	_ = godotenv.Load()

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	out, err := logger.Output(cfg.Logging.Output)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open log output: %v\n", err)
		os.Exit(1)
	}
	logger.Init(cfg.Logging.Level, cfg.Logging.Format, out)
	log := logger.WithFields(logrus.Fields{"service": "llm-guardrail"})

	if cfg.Metrics.Enabled {
		metrics.Init(log)
	}

	gin.SetMode(gin.ReleaseMode)
	a, err := app.New(cfg, log)
	if err != nil {
		log.WithError(err).Fatal("failed to build guardrail")
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	bootCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	a.Bootstrap(bootCtx)
	cancel()

	if err := a.WatchPolicy(); err != nil {
		log.WithError(err).Warn("policy hot reload disabled")
	}

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      proxy.NewRouter(a.Server()),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	log.WithFields(logrus.Fields{
		"addr":       addr,
		"provider":   cfg.Provider.Type,
		"classifier": a.Classifier.Name(),
		"embedding":  cfg.Embedding.Provider + "/" + cfg.Embedding.Model,
		"vector":     cfg.Vector.Backend,
		"threshold":  cfg.Guardrail.SimilarityThreshold,
	}).Info("guardrail proxy starting")

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			log.WithError(err).Error("server failed")
		}
	case <-ctx.Done():
		log.Info("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("graceful shutdown failed")
	}
}
