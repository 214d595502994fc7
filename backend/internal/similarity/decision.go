package similarity

import (
	"sort"

	"github.com/blackrose-blackhat/llm-guardrail/backend/pkg/models"
)

// Match is the representative example behind a similar verdict
type Match struct {
	Example models.ThreatExample
	Score   float64
}

// Verdict is the outcome of the similarity layer
type Verdict struct {
	IsSimilar  bool
	Match      *Match
	TopScore   float64
	Threshold  float64
	Candidates int
}

// Decide flags the input as similar when any result scores strictly above
// threshold. The representative match is the highest scoring such result.
func Decide(results []Result, threshold float64) Verdict {
	sorted := make([]Result, len(results))
	copy(sorted, results)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Score > sorted[j].Score })

	v := Verdict{Threshold: threshold, Candidates: len(sorted)}
	if len(sorted) > 0 {
		v.TopScore = sorted[0].Score
	}
	for _, r := range sorted {
		if r.Score > threshold {
			v.IsSimilar = true
			v.Match = &Match{Example: r.Example, Score: r.Score}
			break
		}
	}
	return v
}
