package classifier

import (
	"context"
	"regexp"
	"sort"
	"strings"
)

// rule is one pattern family and the confidence it contributes to a category
type rule struct {
	signal     string
	category   string
	confidence float64
	patterns   []*regexp.Regexp
}

// HeuristicDetector provides fast, deterministic scoring using regex.
// It needs no external service.
type HeuristicDetector struct {
	rules    []rule
	toxicity *ToxicityScorer
}

// NewHeuristicDetector builds the detector with the built-in rules
func NewHeuristicDetector() *HeuristicDetector {
	return &HeuristicDetector{
		rules: []rule{
			{"instruction_override", Injection, 0.85, compilePatterns(
				`(?i)ignore\s+(all\s+)?(the\s+)?(previous|above|prior|earlier)\s+(instructions?|prompts?|rules?|directions?)`,
				`(?i)disregard\s+(all\s+)?(your\s+|the\s+)?(previous|prior|above)?\s*(instructions?|rules?|guidelines?)`,
				`(?i)forget\s+(everything|all\s+(your|previous)|your\s+(instructions?|rules?))`,
				`(?i)new\s+instructions?\s*:`,
			)},
			{"prompt_exfiltration", Injection, 0.75, compilePatterns(
				`(?i)(reveal|show|display|output|print|repeat)\s+(me\s+)?(your|the)\s+(system\s+)?(prompt|instructions?)`,
				`(?i)what\s+(are|is|were)\s+your\s+(system\s+|initial\s+|original\s+)?(prompt|instructions?)`,
			)},
			{"fake_system_message", Injection, 0.8, compilePatterns(
				`(?i)(^|\n|\.\s*)system\s*:\s*(override|ignore|forget|you\s+are|disable)`,
				`(?i)IMPORTANT:\s*(ignore|disregard|override)`,
				`(?i)BEGIN\s+HIDDEN\s+INSTRUCTIONS?`,
			)},
			{"delimiter_injection", Injection, 0.8, compilePatterns(
				`<\|im_start\|>`,
				`<\|im_end\|>`,
				`\[/?INST\]`,
				`<</?SYS>>`,
				`(?i)<{2,}\s*end\s+(of\s+)?(conversation|context|prompt)\s*>{2,}`,
			)},
			{"role_manipulation", Jailbreak, 0.6, compilePatterns(
				`(?i)you\s+are\s+now\s+(a|an|the|free|unrestricted|unfiltered)\b`,
				`(?i)pretend\s+(to\s+be|you\s+are|you\s+have)`,
				`(?i)act\s+as\s+(a|an|if|though)\b`,
				`(?i)roleplay\s+as`,
			)},
			{"restriction_bypass", Jailbreak, 0.85, compilePatterns(
				`(?i)(have|with)\s+no\s+(restrictions?|limits?|rules?|filters?)`,
				`(?i)without\s+(any\s+)?(restrictions?|filters?|limits?|rules?|safety)`,
				`(?i)(remove|bypass|disable|override)\s+(all\s+)?(your\s+)?(restrictions?|filters?|safety|guardrails?)`,
				`(?i)(no|ignore\s+(any|all|your))\s+(ai\s+)?safety\s+(guidelines?|training|protocols?|rules?)`,
				`(?i)as\s+if\s+(you\s+were\s+)?jailbroken`,
			)},
			{"known_jailbreak", Jailbreak, 0.9, compilePatterns(
				`(?i)do\s+anything\s+now`,
				`(?i)\bDAN\s+mode`,
				`(?i)developer\s+mode\s+(enabled|on)`,
				`(?i)\bjailbreak`,
				`(?i)unfiltered\s+response`,
			)},
			{"exploit_payload", Malicious, 0.9, compilePatterns(
				`(?i)(shellcode|nopsled|\\x90|0xdeadbeef|execve|/bin/sh|buffer\s+overflow|stack\s+smashing)`,
			)},
		},
		toxicity: NewToxicityScorer(),
	}
}

func (h *HeuristicDetector) Name() string { return "heuristic" }

// Detect scores each category by its strongest matching rule, plus 0.05
// for every further rule of the same category that fires.
func (h *HeuristicDetector) Detect(ctx context.Context, text string) (*Detection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	scores := map[string]float64{}
	hits := map[string]int{}
	var signals, descriptions []string

	for _, r := range h.rules {
		if !matchesAny(text, r.patterns) {
			continue
		}
		signals = append(signals, r.signal)
		descriptions = append(descriptions, strings.ReplaceAll(r.signal, "_", " "))
		hits[r.category]++
		if r.confidence > scores[r.category] {
			scores[r.category] = r.confidence
		}
	}
	for cat, n := range hits {
		scores[cat] = clamp(scores[cat] + 0.05*float64(n-1))
	}

	if tox := h.toxicity.Score(text); tox > 0 {
		if tox > scores[Malicious] {
			scores[Malicious] = tox
		}
		signals = append(signals, "toxicity")
	}

	sort.Strings(descriptions)
	return &Detection{
		Scores:      scores,
		Signals:     signals,
		Explanation: strings.Join(descriptions, ", "),
	}, nil
}

func compilePatterns(patterns ...string) []*regexp.Regexp {
	compiled := make([]*regexp.Regexp, len(patterns))
	for i, p := range patterns {
		compiled[i] = regexp.MustCompile(p)
	}
	return compiled
}

func matchesAny(s string, patterns []*regexp.Regexp) bool {
	for _, p := range patterns {
		if p.MatchString(s) {
			return true
		}
	}
	return false
}
