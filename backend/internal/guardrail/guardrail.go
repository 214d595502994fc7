// Package guardrail fuses the semantic classifier and the similarity index
// into one allow/block verdict. It fails open: a layer that cannot answer
// counts as passed, and only a positive detection blocks.
package guardrail

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/blackrose-blackhat/llm-guardrail/backend/internal/audit"
	"github.com/blackrose-blackhat/llm-guardrail/backend/internal/classifier"
	"github.com/blackrose-blackhat/llm-guardrail/backend/internal/config"
	"github.com/blackrose-blackhat/llm-guardrail/backend/internal/metrics"
	"github.com/blackrose-blackhat/llm-guardrail/backend/internal/similarity"
)

var (
	// ErrInvalidInput is a caller error; no layer runs
	ErrInvalidInput = errors.New("invalid input")
	// ErrInternal marks an unexpected fault inside a layer. The layer is
	// still treated as unavailable.
	ErrInternal = errors.New("guardrail internal error")
)

// ClassifierLayer is layer 1
type ClassifierLayer interface {
	Classify(ctx context.Context, text string) (*classifier.Verdict, error)
}

// SimilarityLayer is layer 2
type SimilarityLayer interface {
	Check(ctx context.Context, text string, k int, threshold float64) (*similarity.Verdict, error)
}

// Options tunes the decision pipeline
type Options struct {
	Threshold         float64
	TopK              int
	LayerTimeout      time.Duration
	MaxInputChars     int // 0 means unlimited
	ExposeMatchedText bool
	BreakerFailures   int // 0 disables the breakers
	BreakerCooldown   time.Duration
}

// DefaultOptions returns the documented defaults
func DefaultOptions() Options {
	return Options{
		Threshold:         0.7,
		TopK:              5,
		LayerTimeout:      3 * time.Second,
		ExposeMatchedText: true,
	}
}

// OptionsFromConfig maps the guardrail config section
func OptionsFromConfig(cfg config.GuardrailConfig) Options {
	return Options{
		Threshold:         cfg.SimilarityThreshold,
		TopK:              cfg.TopK,
		LayerTimeout:      cfg.LayerTimeout,
		MaxInputChars:     cfg.MaxInputChars,
		ExposeMatchedText: cfg.ExposeMatchedText,
		BreakerFailures:   cfg.BreakerFailures,
		BreakerCooldown:   cfg.BreakerCooldown,
	}
}

// Option configures optional collaborators
type Option func(*Guard)

// WithTracer sets the OpenTelemetry tracer for check spans
func WithTracer(tracer trace.Tracer) Option {
	return func(g *Guard) {
		if tracer != nil {
			g.tracer = tracer
		}
	}
}

// WithAudit writes one audit entry per verdict
func WithAudit(a *audit.Logger) Option {
	return func(g *Guard) { g.audit = a }
}

// Guard runs the two-layer check. It holds no per-request state and is
// safe for concurrent use.
type Guard struct {
	classifier ClassifierLayer
	similarity SimilarityLayer
	opts       Options

	classifierBreaker *Breaker
	similarityBreaker *Breaker

	tracer trace.Tracer
	audit  *audit.Logger
	log    *logrus.Entry
}

// New creates a Guard over the two layers
func New(c ClassifierLayer, s SimilarityLayer, opts Options, log *logrus.Entry, options ...Option) (*Guard, error) {
	if c == nil || s == nil {
		return nil, fmt.Errorf("guardrail needs both a classifier and a similarity layer")
	}
	if !(opts.Threshold >= 0 && opts.Threshold <= 1) {
		return nil, fmt.Errorf("similarity threshold must be within [0,1], got %v", opts.Threshold)
	}
	if opts.TopK < 1 {
		return nil, fmt.Errorf("top k must be >= 1, got %d", opts.TopK)
	}
	if opts.LayerTimeout <= 0 {
		return nil, fmt.Errorf("layer timeout must be positive")
	}

	g := &Guard{
		classifier:        c,
		similarity:        s,
		opts:              opts,
		classifierBreaker: NewBreaker(opts.BreakerFailures, opts.BreakerCooldown),
		similarityBreaker: NewBreaker(opts.BreakerFailures, opts.BreakerCooldown),
		tracer:            noop.NewTracerProvider().Tracer("guardrail"),
		log:               log.WithField("component", "guardrail"),
	}
	for _, o := range options {
		o(g)
	}
	return g, nil
}

// Options returns the active options
func (g *Guard) Options() Options { return g.opts }

// BreakerStats reports both layer breakers
func (g *Guard) BreakerStats() map[string]interface{} {
	return map[string]interface{}{
		string(LayerClassifier): g.classifierBreaker.Stats(),
		string(LayerSimilarity): g.similarityBreaker.Stats(),
	}
}

// Check computes the verdict for text. The only error returned is
// ErrInvalidInput; every layer failure degrades to a pass.
func (g *Guard) Check(ctx context.Context, text string) (*Verdict, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: message cannot be empty", ErrInvalidInput)
	}
	if !utf8.ValidString(text) {
		return nil, fmt.Errorf("%w: message is not valid UTF-8", ErrInvalidInput)
	}
	if g.opts.MaxInputChars > 0 && utf8.RuneCountInString(text) > g.opts.MaxInputChars {
		return nil, fmt.Errorf("%w: message exceeds %d characters", ErrInvalidInput, g.opts.MaxInputChars)
	}

	start := time.Now()
	requestID := RequestIDFromContext(ctx)
	if requestID == "" {
		requestID = uuid.New().String()
	}
	log := g.log.WithField("request_id", requestID)

	ctx, span := g.tracer.Start(ctx, "guardrail.Check")
	defer span.End()

	v := &Verdict{RequestID: requestID, TriggeringLayer: LayerNone, Degraded: []string{}}

	// Layer 1
	cr := g.classify(ctx, text)
	if cr.ok() {
		v.Classifier = ClassifierReport{Status: StatusPassed, Passed: !cr.verdict.Blocked, Verdict: cr.verdict}
		if cr.verdict.Blocked {
			v.Classifier.Status = StatusBlocked
			v.Blocked = true
			v.TriggeringLayer = LayerClassifier
			v.Reason = classifierReason(cr.verdict)
			v.Similarity = SimilarityReport{Status: StatusSkipped, Passed: true}
			return g.finish(span, log, text, v, start), nil
		}
	} else {
		v.Classifier = ClassifierReport{Status: StatusUnavailable, Passed: true, Error: cr.unavailable.Error()}
		g.degrade(log, v, LayerClassifier, cr.unavailable)
	}

	// Layer 2
	sr := g.search(ctx, text)
	if sr.ok() {
		ev := g.evidence(sr.verdict)
		v.Similarity = SimilarityReport{Status: StatusPassed, Passed: !ev.IsSimilar, Verdict: ev}
		if ev.IsSimilar {
			v.Similarity.Status = StatusBlocked
			v.Blocked = true
			v.TriggeringLayer = LayerSimilarity
			v.Reason = similarityReason(ev.MatchedExample, ev.SimilarityScore)
			return g.finish(span, log, text, v, start), nil
		}
	} else {
		v.Similarity = SimilarityReport{Status: StatusUnavailable, Passed: true, Error: sr.unavailable.Error()}
		g.degrade(log, v, LayerSimilarity, sr.unavailable)
	}

	v.Reason = "no threat detected"
	if len(v.Degraded) > 0 {
		v.Reason = fmt.Sprintf("no threat detected (unavailable: %s)", strings.Join(v.Degraded, ", "))
	}
	return g.finish(span, log, text, v, start), nil
}

func (g *Guard) classify(ctx context.Context, text string) layerResult[classifier.Verdict] {
	ctx, span := g.tracer.Start(ctx, "guardrail.classifier")
	defer span.End()

	res := runLayer(ctx, string(LayerClassifier), g.opts.LayerTimeout, g.classifierBreaker,
		classifier.ErrClassifierUnavailable, func(ctx context.Context) (*classifier.Verdict, error) {
			return g.classifier.Classify(ctx, text)
		})
	endLayerSpan(span, res.unavailable)
	if res.ok() {
		span.SetAttributes(attribute.Bool("guardrail.blocked", res.verdict.Blocked))
	}
	return res
}

func (g *Guard) search(ctx context.Context, text string) layerResult[similarity.Verdict] {
	ctx, span := g.tracer.Start(ctx, "guardrail.similarity")
	defer span.End()

	res := runLayer(ctx, string(LayerSimilarity), g.opts.LayerTimeout, g.similarityBreaker,
		similarity.ErrSimilarityCheckUnavailable, func(ctx context.Context) (*similarity.Verdict, error) {
			return g.similarity.Check(ctx, text, g.opts.TopK, g.opts.Threshold)
		})
	endLayerSpan(span, res.unavailable)
	if res.ok() {
		span.SetAttributes(
			attribute.Bool("guardrail.similar", res.verdict.IsSimilar),
			attribute.Float64("guardrail.top_score", res.verdict.TopScore),
		)
	}
	return res
}

func endLayerSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "layer unavailable")
	}
}

func (g *Guard) evidence(sv *similarity.Verdict) *SimilarityEvidence {
	ev := &SimilarityEvidence{
		IsSimilar:  sv.IsSimilar,
		TopScore:   sv.TopScore,
		Threshold:  sv.Threshold,
		Candidates: sv.Candidates,
	}
	if sv.IsSimilar && sv.Match != nil {
		ex := sv.Match.Example
		ev.SimilarityScore = sv.Match.Score
		ev.MatchedExample = &MatchedExample{
			ID:          ex.ID,
			Category:    ex.Category,
			Severity:    ex.Severity,
			Description: ex.Description,
		}
		if g.opts.ExposeMatchedText {
			ev.MatchedExample.Text = ex.Text
		}
	}
	return ev
}

func (g *Guard) degrade(log *logrus.Entry, v *Verdict, layer Layer, err error) {
	v.Degraded = append(v.Degraded, string(layer))
	metrics.RecordUnavailable(string(layer))
	entry := log.WithError(err).WithField("layer", layer)
	if errors.Is(err, ErrInternal) {
		entry.Error("layer failed with internal error, failing open")
		return
	}
	entry.Warn("layer unavailable, failing open")
}

func (g *Guard) finish(span trace.Span, log *logrus.Entry, text string, v *Verdict, start time.Time) *Verdict {
	elapsed := time.Since(start)

	span.SetAttributes(
		attribute.Bool("guardrail.blocked", v.Blocked),
		attribute.String("guardrail.layer", string(v.TriggeringLayer)),
		attribute.StringSlice("guardrail.degraded", v.Degraded),
	)
	metrics.RecordVerdict(string(v.TriggeringLayer), elapsed.Seconds())

	if v.Blocked {
		log.WithFields(logrus.Fields{
			"layer":  v.TriggeringLayer,
			"reason": v.Reason,
		}).Info("message blocked")
	} else {
		log.WithField("degraded", v.Degraded).Debug("message allowed")
	}

	g.audit.Log(audit.Entry{
		RequestID:   v.RequestID,
		InputSHA256: audit.HashInput(text),
		Blocked:     v.Blocked,
		Layer:       string(v.TriggeringLayer),
		Reason:      v.Reason,
		Risk:        string(v.RiskLevel()),
		Confidence:  v.Confidence(),
		Degraded:    v.Degraded,
		Latency:     elapsed,
	})
	return v
}

type requestIDKey struct{}

// WithRequestID attaches a request id that Check reuses
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestIDFromContext returns the id set by WithRequestID
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}
