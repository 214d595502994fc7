package classifier

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/blackrose-blackhat/llm-guardrail/backend/internal/cedar"
	"github.com/blackrose-blackhat/llm-guardrail/backend/internal/metrics"
)

// Detection is one detector's per-category evidence
type Detection struct {
	Scores      map[string]float64
	Signals     []string
	Explanation string
}

// Detector scores text per threat category
type Detector interface {
	Name() string
	Detect(ctx context.Context, text string) (*Detection, error)
}

// PolicyClassifier runs detectors in order, keeps the highest score per
// category, and lets the Cedar policy decide whether that blocks.
type PolicyClassifier struct {
	detectors []Detector
	engine    *cedar.Engine
	threshold float64
	log       *logrus.Entry
}

// NewPolicyClassifier combines detectors under engine
func NewPolicyClassifier(engine *cedar.Engine, threshold float64, log *logrus.Entry, detectors ...Detector) *PolicyClassifier {
	return &PolicyClassifier{
		detectors: detectors,
		engine:    engine,
		threshold: threshold,
		log:       log.WithField("component", "classifier"),
	}
}

// Name lists the detector names
func (c *PolicyClassifier) Name() string {
	names := make([]string, len(c.detectors))
	for i, d := range c.detectors {
		names[i] = d.Name()
	}
	return strings.Join(names, "+")
}

// Classify is unavailable only when every detector fails. A partial failure
// is reported under details.detectorErrors.
func (c *PolicyClassifier) Classify(ctx context.Context, text string) (*Verdict, error) {
	scores := map[string]float64{Injection: 0, Jailbreak: 0, Malicious: 0}
	var signals, explanations []string
	detectorErrs := map[string]string{}
	ran := 0

	for _, d := range c.detectors {
		det, err := d.Detect(ctx, text)
		if err != nil {
			detectorErrs[d.Name()] = err.Error()
			c.log.WithError(err).WithField("detector", d.Name()).Warn("detector failed")
			continue
		}
		ran++
		for cat, s := range det.Scores {
			if s > scores[cat] {
				scores[cat] = clamp(s)
			}
		}
		signals = append(signals, det.Signals...)
		if det.Explanation != "" {
			explanations = append(explanations, det.Explanation)
		}
	}

	if ran == 0 {
		return nil, fmt.Errorf("%w: %s", ErrClassifierUnavailable, joinErrors(detectorErrs))
	}

	res := c.engine.Evaluate(cedar.Input{
		Scores:    scores,
		Threshold: c.threshold,
		Signals:   signals,
		Source:    c.Name(),
	})

	maxConf := 0.0
	for _, s := range scores {
		if s > maxConf {
			maxConf = s
		}
	}

	v := &Verdict{
		Blocked:    res.Blocked,
		RiskLevel:  RiskFromConfidence(maxConf),
		Categories: res.Categories,
		Confidence: maxConf,
		Scores:     scores,
		Details: map[string]any{
			"detectors": c.Name(),
			"signals":   signals,
			"policies":  res.PolicyIDs,
		},
	}
	if v.Categories == nil {
		v.Categories = []string{}
	}
	if len(detectorErrs) > 0 {
		v.Details["detectorErrors"] = detectorErrs
	}

	switch {
	case len(res.Reasons) > 0:
		v.Explanation = strings.Join(res.Reasons, "; ")
	case res.Blocked:
		v.Explanation = "denied by classifier policy"
	default:
		v.Explanation = strings.Join(explanations, "; ")
	}
	// a block always reports at least medium risk
	if v.Blocked && (v.RiskLevel == RiskSafe || v.RiskLevel == RiskLow) {
		v.RiskLevel = RiskMedium
	}

	for _, cat := range v.Categories {
		metrics.RecordThreat(cat)
	}
	return v, nil
}

func clamp(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}

func joinErrors(errs map[string]string) string {
	names := make([]string, 0, len(errs))
	for n := range errs {
		names = append(names, n)
	}
	sort.Strings(names)
	parts := make([]string, len(names))
	for i, n := range names {
		parts[i] = n + ": " + errs[n]
	}
	return strings.Join(parts, "; ")
}
