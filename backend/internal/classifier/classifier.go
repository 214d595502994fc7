// Package classifier decides whether text is a prompt injection, jailbreak
// or malicious request, independent of the attack corpus.
package classifier

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/blackrose-blackhat/llm-guardrail/backend/internal/cedar"
	"github.com/blackrose-blackhat/llm-guardrail/backend/internal/config"
	"github.com/blackrose-blackhat/llm-guardrail/backend/internal/provider"
)

// ErrClassifierUnavailable means no verdict could be produced
var ErrClassifierUnavailable = errors.New("classifier unavailable")

// Threat categories scored by every detector
const (
	Injection = "injection"
	Jailbreak = "jailbreak"
	Malicious = "malicious"
)

// RiskLevel is a coarse label derived from confidence
type RiskLevel string

const (
	RiskSafe     RiskLevel = "safe"
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// RiskFromConfidence maps a confidence in [0,1] to a RiskLevel
func RiskFromConfidence(c float64) RiskLevel {
	switch {
	case c >= 0.9:
		return RiskCritical
	case c >= 0.7:
		return RiskHigh
	case c >= 0.5:
		return RiskMedium
	case c >= 0.3:
		return RiskLow
	default:
		return RiskSafe
	}
}

// Verdict is the classifier's answer for one input
type Verdict struct {
	Blocked     bool               `json:"blocked"`
	RiskLevel   RiskLevel          `json:"riskLevel"`
	Categories  []string           `json:"threatCategories"`
	Confidence  float64            `json:"confidence"`
	Explanation string             `json:"explanation,omitempty"`
	Details     map[string]any     `json:"details,omitempty"`
	Scores      map[string]float64 `json:"scores,omitempty"`
}

// Classifier produces a Verdict. It makes a single attempt; failures wrap
// ErrClassifierUnavailable.
type Classifier interface {
	Classify(ctx context.Context, text string) (*Verdict, error)
	Name() string
}

// New builds the classifier selected by cfg.Mode
func New(cfg config.ClassifierConfig, p provider.Provider, engine *cedar.Engine, log *logrus.Entry) (Classifier, error) {
	switch strings.ToLower(cfg.Mode) {
	case "heuristic", "":
		return NewPolicyClassifier(engine, cfg.Threshold, log, NewHeuristicDetector()), nil
	case "llm":
		if p == nil {
			return nil, fmt.Errorf("classifier mode llm needs a provider")
		}
		return NewPolicyClassifier(engine, cfg.Threshold, log, NewLLMJudge(p, cfg.Model)), nil
	case "hybrid":
		if p == nil {
			return nil, fmt.Errorf("classifier mode hybrid needs a provider")
		}
		return NewPolicyClassifier(engine, cfg.Threshold, log, NewHeuristicDetector(), NewLLMJudge(p, cfg.Model)), nil
	case "remote":
		return NewRemoteClassifier(cfg.RemoteURL), nil
	default:
		return nil, fmt.Errorf("unknown classifier mode %q", cfg.Mode)
	}
}
