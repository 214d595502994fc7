package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sirupsen/logrus"
)

// Prometheus collectors for the guardrail service
var (
	// guardrail_checks_total (counter): total verdicts computed
	ChecksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "guardrail_checks_total",
		Help: "Total number of guardrail checks evaluated",
	})

	// guardrail_verdicts_total{layer=none|classifier|similarity}
	VerdictsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "guardrail_verdicts_total",
		Help: "Verdicts by triggering layer (none means allowed)",
	}, []string{"layer"})

	// guardrail_layer_unavailable_total{layer=classifier|similarity}
	LayerUnavailable = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "guardrail_layer_unavailable_total",
		Help: "Number of times a layer failed open",
	}, []string{"layer"})

	// guardrail_check_latency_seconds (histogram): end-to-end check duration
	CheckLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "guardrail_check_latency_seconds",
		Help:    "Guardrail check latency in seconds",
		Buckets: prometheus.DefBuckets,
	})

	// guardrail_similarity_top_score (histogram): best cosine score per search
	SimilarityTopScore = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "guardrail_similarity_top_score",
		Help:    "Highest similarity score returned per search",
		Buckets: prometheus.LinearBuckets(0, 0.1, 11),
	})

	// guardrail_corpus_writes_total{op=insert|delete|seed}
	CorpusWrites = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "guardrail_corpus_writes_total",
		Help: "Writes to the attack example corpus",
	}, []string{"op"})

	// guardrail_classifier_threats_total{category=injection|jailbreak|malicious}
	ClassifierThreats = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "guardrail_classifier_threats_total",
		Help: "Threat categories reported by the semantic classifier",
	}, []string{"category"})
)

// RecordVerdict counts one completed check and its triggering layer
func RecordVerdict(layer string, seconds float64) {
	ChecksTotal.Inc()
	VerdictsTotal.WithLabelValues(layer).Inc()
	CheckLatency.Observe(seconds)
}

// RecordUnavailable increments the fail-open counter for a layer
func RecordUnavailable(layer string) {
	LayerUnavailable.WithLabelValues(layer).Inc()
}

// RecordTopScore observes the best similarity score of a search
func RecordTopScore(score float64) {
	SimilarityTopScore.Observe(score)
}

// RecordCorpusWrite increments the corpus write counter
func RecordCorpusWrite(op string, n int) {
	CorpusWrites.WithLabelValues(op).Add(float64(n))
}

// RecordThreat increments the classifier category counter
func RecordThreat(category string) {
	ClassifierThreats.WithLabelValues(category).Inc()
}

// Init logs that collectors are registered (promauto registers on import)
func Init(log *logrus.Entry) {
	log.Info("prometheus collectors initialized")
}
