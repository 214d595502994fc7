package classifier

import (
	"regexp"
	"strings"
)

// ToxicityScorer scores harmful-intent vocabulary using weighted keyword patterns
type ToxicityScorer struct {
	patterns []*regexp.Regexp
	weights  []float64
}

// NewToxicityScorer creates a new ToxicityScorer
func NewToxicityScorer() *ToxicityScorer {
	patterns := []string{
		`(?i)\b(kill|murder|attack|destroy|harm)\b`,
		`(?i)\b(hate|racist|sexist|bigot)\b`,
		`(?i)\b(suicide|self-harm|cut myself)\b`,
		`(?i)\b(threat|threaten|bomb|terror)\b`,
		// Weapons and violence
		`(?i)\b(weapon|explosive|poison)\b`,
		`(?i)\b(make|build)\s+a\s+(bomb|weapon|explosive)\b`,
		// Hacking and malware
		`(?i)\b(malware|ransomware|keylogger|trojan)\b`,
		`(?i)\b(hack|exploit|breach|crack)\s+(into|password|account|system)\b`,
		`(?i)bypass\s+(security|authentication|firewall|protection)\b`,
		// Illegal activities
		`(?i)\b(steal|fraud|scam|phishing)\b`,
	}
	weights := []float64{0.3, 0.35, 0.4, 0.4, 0.5, 0.9, 0.6, 0.6, 0.6, 0.4}

	compiled := make([]*regexp.Regexp, len(patterns))
	for i, p := range patterns {
		compiled[i] = regexp.MustCompile(p)
	}

	return &ToxicityScorer{patterns: compiled, weights: weights}
}

// Score returns a toxicity score between 0.0 and 1.0
func (t *ToxicityScorer) Score(text string) float64 {
	text = strings.ToLower(text)
	var total float64

	for i, pattern := range t.patterns {
		matches := pattern.FindAllString(text, -1)
		if len(matches) > 0 {
			// repeated hits approach the pattern weight
			total += t.weights[i] * float64(min(len(matches), 3)+1) / 4.0
		}
	}

	if total > 1.0 {
		total = 1.0
	}
	return total
}
