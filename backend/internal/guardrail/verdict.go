package guardrail

import (
	"fmt"
	"math"
	"strings"

	"github.com/blackrose-blackhat/llm-guardrail/backend/internal/classifier"
	"github.com/blackrose-blackhat/llm-guardrail/backend/pkg/models"
)

// Layer names which layer decided a verdict
type Layer string

const (
	LayerNone       Layer = "none"
	LayerClassifier Layer = "classifier"
	LayerSimilarity Layer = "similarity"
)

// ClassifierReport is what the classifier layer contributed
type ClassifierReport struct {
	Status  LayerStatus         `json:"status"`
	Passed  bool                `json:"passed"`
	Error   string              `json:"error,omitempty"`
	Verdict *classifier.Verdict `json:"verdict,omitempty"`
}

// MatchedExample identifies the corpus entry behind a similarity block.
// Text is empty unless matched text exposure is enabled.
type MatchedExample struct {
	ID          string          `json:"id"`
	Category    models.Category `json:"category"`
	Severity    models.Severity `json:"severity"`
	Description string          `json:"description,omitempty"`
	Text        string          `json:"text,omitempty"`
}

// SimilarityEvidence is the similarity layer's verdict as reported to callers
type SimilarityEvidence struct {
	IsSimilar       bool            `json:"isSimilar"`
	SimilarityScore float64         `json:"similarityScore"`
	TopScore        float64         `json:"topScore"`
	Threshold       float64         `json:"threshold"`
	Candidates      int             `json:"candidates"`
	MatchedExample  *MatchedExample `json:"matchedExample,omitempty"`
}

// SimilarityReport is what the similarity layer contributed
type SimilarityReport struct {
	Status  LayerStatus         `json:"status"`
	Passed  bool                `json:"passed"`
	Error   string              `json:"error,omitempty"`
	Verdict *SimilarityEvidence `json:"verdict,omitempty"`
}

// Verdict is the fused result of one check. It is built fresh per request.
type Verdict struct {
	Blocked         bool             `json:"blocked"`
	TriggeringLayer Layer            `json:"layer"`
	Reason          string           `json:"reason"`
	RequestID       string           `json:"requestId"`
	Degraded        []string         `json:"degraded"` // layers that were unavailable
	Classifier      ClassifierReport `json:"classifier"`
	Similarity      SimilarityReport `json:"similarity"`
}

// FullyChecked reports whether every layer that should have run did run
func (v *Verdict) FullyChecked() bool {
	return len(v.Degraded) == 0
}

// RiskLevel is the classifier's risk for a classifier block or an allowed
// verdict, and is derived from the matched example's severity for a
// similarity block
func (v *Verdict) RiskLevel() classifier.RiskLevel {
	if v.TriggeringLayer == LayerSimilarity && v.Similarity.Verdict != nil && v.Similarity.Verdict.MatchedExample != nil {
		return riskFromSeverity(v.Similarity.Verdict.MatchedExample.Severity)
	}
	if v.Classifier.Verdict != nil && v.Classifier.Verdict.RiskLevel != "" {
		return v.Classifier.Verdict.RiskLevel
	}
	if v.Blocked {
		return classifier.RiskMedium
	}
	return classifier.RiskSafe
}

// Confidence is the strength of the deciding evidence in [0,1]
func (v *Verdict) Confidence() float64 {
	if v.TriggeringLayer == LayerSimilarity && v.Similarity.Verdict != nil {
		return v.Similarity.Verdict.SimilarityScore
	}
	if v.Classifier.Verdict != nil {
		return v.Classifier.Verdict.Confidence
	}
	return 0
}

// Threats lists the threat categories behind the verdict
func (v *Verdict) Threats() []string {
	switch v.TriggeringLayer {
	case LayerClassifier:
		if v.Classifier.Verdict != nil && len(v.Classifier.Verdict.Categories) > 0 {
			return v.Classifier.Verdict.Categories
		}
	case LayerSimilarity:
		if v.Similarity.Verdict != nil && v.Similarity.Verdict.MatchedExample != nil {
			return []string{string(v.Similarity.Verdict.MatchedExample.Category)}
		}
	}
	return []string{}
}

// Explanation is the user-facing text for a blocked message
func (v *Verdict) Explanation() string {
	if !v.Blocked {
		return ""
	}
	return fmt.Sprintf("Message blocked by the %s layer: %s (risk: %s, confidence: %d%%)",
		v.TriggeringLayer, v.Reason, v.RiskLevel(), int(math.Round(v.Confidence()*100)))
}

// Response is the guardrail check endpoint contract
type Response struct {
	Allowed             bool     `json:"allowed"`
	OverallRisk         string   `json:"overallRisk"`
	ThreatsDetected     []string `json:"threatsDetected"`
	MaxThreatConfidence float64  `json:"maxThreatConfidence"`
	Details             *Verdict `json:"details"`
}

// Response converts the verdict to the check endpoint contract
func (v *Verdict) Response() Response {
	return Response{
		Allowed:             !v.Blocked,
		OverallRisk:         string(v.RiskLevel()),
		ThreatsDetected:     v.Threats(),
		MaxThreatConfidence: v.Confidence(),
		Details:             v,
	}
}

func riskFromSeverity(s models.Severity) classifier.RiskLevel {
	switch s {
	case models.SeverityCritical:
		return classifier.RiskCritical
	case models.SeverityHigh:
		return classifier.RiskHigh
	default:
		// blocks never report below medium
		return classifier.RiskMedium
	}
}

func classifierReason(cv *classifier.Verdict) string {
	if cv.Explanation != "" {
		return cv.Explanation
	}
	if len(cv.Categories) > 0 {
		return "classified as " + strings.Join(cv.Categories, ", ")
	}
	return "flagged by classifier"
}

func similarityReason(m *MatchedExample, score float64) string {
	return fmt.Sprintf("similar to a known %s attack (severity %s, similarity %.2f)", m.Category, m.Severity, score)
}
