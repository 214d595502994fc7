// Package app assembles the guardrail from configuration. Both the HTTP
// service and the CLI build through it.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"

	"github.com/blackrose-blackhat/llm-guardrail/backend/internal/audit"
	"github.com/blackrose-blackhat/llm-guardrail/backend/internal/cedar"
	"github.com/blackrose-blackhat/llm-guardrail/backend/internal/classifier"
	"github.com/blackrose-blackhat/llm-guardrail/backend/internal/config"
	"github.com/blackrose-blackhat/llm-guardrail/backend/internal/embedder"
	"github.com/blackrose-blackhat/llm-guardrail/backend/internal/guardrail"
	"github.com/blackrose-blackhat/llm-guardrail/backend/internal/provider"
	"github.com/blackrose-blackhat/llm-guardrail/backend/internal/proxy"
	"github.com/blackrose-blackhat/llm-guardrail/backend/internal/similarity"
	"github.com/blackrose-blackhat/llm-guardrail/backend/internal/vectorstore"
)

// App owns every long-lived component
type App struct {
	Config     *config.Config
	Providers  *provider.Router
	Embedder   embedder.Embedder
	Store      vectorstore.Store
	Index      *similarity.Index
	Policy     *cedar.Engine
	Classifier classifier.Classifier
	Guard      *guardrail.Guard
	Audit      *audit.Logger

	log *logrus.Entry
}

// New builds the App. It does not touch the vector store; call Bootstrap
// before serving.
func New(cfg *config.Config, log *logrus.Entry) (*App, error) {
	a := &App{Config: cfg, log: log}

	a.Providers = provider.NewRouterFromConfig(cfg)
	defaultProvider, _ := a.Providers.GetProvider("default")

	var err error
	a.Policy, err = cedar.NewEngine(cfg.Classifier.PolicyPath, log)
	if err != nil {
		return nil, fmt.Errorf("load classifier policy: %w", err)
	}

	a.Classifier, err = classifier.New(cfg.Classifier, defaultProvider, a.Policy, log)
	if err != nil {
		return nil, err
	}

	a.Embedder, err = embedder.New(cfg.Embedding)
	if err != nil {
		return nil, err
	}

	a.Store, err = vectorstore.New(vectorstore.Config{
		Backend:    cfg.Vector.Backend,
		SQLitePath: cfg.Vector.SQLitePath,
		QdrantURL:  cfg.Vector.QdrantURL,
		QdrantKey:  cfg.Vector.QdrantKey,
	})
	if err != nil {
		return nil, fmt.Errorf("open vector store: %w", err)
	}
	a.Index = similarity.NewIndex(a.Store, a.Embedder, cfg.Vector.Collection, log)

	if cfg.Logging.AuditPath != "" {
		a.Audit, err = audit.NewLogger(cfg.Logging.AuditPath)
		if err != nil {
			a.Store.Close()
			return nil, fmt.Errorf("open audit log: %w", err)
		}
	}

	a.Guard, err = guardrail.New(a.Classifier, a.Index, guardrail.OptionsFromConfig(cfg.Guardrail), log,
		guardrail.WithTracer(otel.Tracer("github.com/blackrose-blackhat/llm-guardrail")),
		guardrail.WithAudit(a.Audit),
	)
	if err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

// Bootstrap ensures the collection exists and seeds it when configured.
// Failures are logged and left to the similarity layer to fail open on.
func (a *App) Bootstrap(ctx context.Context) {
	if !a.Config.Seed.OnStart {
		if err := a.Index.Bootstrap(ctx); err != nil {
			a.log.WithError(err).Warn("vector store not ready, similarity checks will fail open")
		}
		return
	}

	examples, err := similarity.LoadSeed(a.Config.Seed.File)
	if err != nil {
		a.log.WithError(err).Error("failed to load seed corpus")
		return
	}
	seeded, err := similarity.SeedIfEmpty(ctx, a.Index, examples)
	if err != nil {
		a.log.WithError(err).Warn("seeding failed, similarity checks will fail open")
		return
	}
	if seeded {
		a.log.WithField("examples", len(examples)).Info("seeded empty corpus")
	}
}

// WatchPolicy starts hot reload when a policy file is configured
func (a *App) WatchPolicy() error {
	if !a.Config.Classifier.PolicyWatch || a.Config.Classifier.PolicyPath == "" {
		return nil
	}
	return a.Policy.StartHotReload()
}

// Server returns the HTTP collaborators
func (a *App) Server() *proxy.Server {
	return &proxy.Server{
		Config:     a.Config,
		Guard:      a.Guard,
		Corpus:     a.Index,
		Providers:  a.Providers,
		Classifier: a.Classifier.Name(),
		Embedding: proxy.EmbeddingInfo{
			Model:  a.Embedder.Model(),
			Loaded: func() bool { return embedder.Loaded(a.Embedder) },
		},
		Policy:           a.Policy,
		ClassifierHealth: classifierHealth(a.Classifier),
		Breakers:         a.Guard.BreakerStats,
		Log:              a.log,
	}
}

func classifierHealth(c classifier.Classifier) func(context.Context) bool {
	if h, ok := c.(interface{ Health(context.Context) bool }); ok {
		return h.Health
	}
	return nil
}

// Close releases the store, the policy watcher and the audit log
func (a *App) Close() error {
	var errs []error
	if a.Policy != nil {
		a.Policy.StopHotReload()
	}
	if a.Store != nil {
		errs = append(errs, a.Store.Close())
	}
	errs = append(errs, a.Audit.Close())
	return errors.Join(errs...)
}
