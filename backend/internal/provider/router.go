package provider

import (
	"errors"
	"sort"
	"sync"

	"github.com/blackrose-blackhat/llm-guardrail/backend/internal/config"
	"github.com/blackrose-blackhat/llm-guardrail/backend/pkg/models"
)

// Router manages multiple providers and routes requests to the appropriate one
type Router struct {
	providers map[string]Provider
	rules     []RoutingRule
	fallback  string
	mu        sync.RWMutex
}

// RoutingRule defines a condition for routing to a specific provider
type RoutingRule struct {
	Name      string
	Condition func(*models.LLMRequest) bool
	Target    string
	Priority  int
}

// NewRouter creates a new provider router
func NewRouter() *Router {
	return &Router{
		providers: make(map[string]Provider),
		rules:     make([]RoutingRule, 0),
	}
}

// New builds the provider named by cfg.Type. Unknown types are treated as
// OpenAI-compatible.
func New(cfg config.ProviderConfig) Provider {
	var p Provider
	switch cfg.Type {
	case "ollama":
		op := NewOllamaProviderWithConfig(cfg.BaseURL, cfg.APIKey)
		if cfg.Timeout > 0 {
			op.Client.Timeout = cfg.Timeout
		}
		p = op
	default:
		oa := NewOpenAIProvider(cfg.BaseURL, cfg.APIKey)
		if cfg.Timeout > 0 {
			oa.Client.Timeout = cfg.Timeout
		}
		p = oa
	}
	return p
}

// NewRouterFromConfig creates a router with the configured provider as "default"
func NewRouterFromConfig(cfg *config.Config) *Router {
	router := NewRouter()
	router.RegisterProvider("default", New(cfg.Provider))
	router.SetFallback("default")
	return router
}

// RegisterProvider adds a provider to the router
func (r *Router) RegisterProvider(name string, provider Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[name] = provider
}

// SetFallback sets the default provider to use when no rules match
func (r *Router) SetFallback(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fallback = name
}

// AddRule adds a routing rule
func (r *Router) AddRule(rule RoutingRule) {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Insert in priority order (lower priority first)
	inserted := false
	for i, existing := range r.rules {
		if rule.Priority < existing.Priority {
			r.rules = append(r.rules[:i], append([]RoutingRule{rule}, r.rules[i:]...)...)
			inserted = true
			break
		}
	}
	if !inserted {
		r.rules = append(r.rules, rule)
	}
}

// Route selects the appropriate provider for a request
func (r *Router) Route(req *models.LLMRequest) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, rule := range r.rules {
		if rule.Condition(req) {
			if p, ok := r.providers[rule.Target]; ok {
				return p, nil
			}
		}
	}

	if r.fallback != "" {
		if p, ok := r.providers[r.fallback]; ok {
			return p, nil
		}
	}

	return nil, errors.New("no provider available")
}

// GetProvider returns a specific provider by name
func (r *Router) GetProvider(name string) (Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[name]
	return p, ok
}

// ListProviders returns all registered provider names, sorted
func (r *Router) ListProviders() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
