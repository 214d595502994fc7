// Package similarity matches input against a corpus of known attack
// examples by embedding similarity.
package similarity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/blackrose-blackhat/llm-guardrail/backend/internal/embedder"
	"github.com/blackrose-blackhat/llm-guardrail/backend/internal/metrics"
	"github.com/blackrose-blackhat/llm-guardrail/backend/internal/vectorstore"
	"github.com/blackrose-blackhat/llm-guardrail/backend/pkg/models"
)

// ErrSimilarityCheckUnavailable means the lookup could not run. It is a
// degraded-mode signal, never a block.
var ErrSimilarityCheckUnavailable = errors.New("similarity check unavailable")

// Result is one scored neighbour
type Result struct {
	Example models.ThreatExample
	Score   float64
}

// Index is the attack example corpus
type Index struct {
	store      vectorstore.Store
	emb        embedder.Embedder
	collection string
	log        *logrus.Entry
}

// NewIndex binds a store and embedder to a collection
func NewIndex(store vectorstore.Store, emb embedder.Embedder, collection string, log *logrus.Entry) *Index {
	return &Index{
		store:      store,
		emb:        emb,
		collection: collection,
		log:        log.WithField("component", "similarity"),
	}
}

// Collection returns the backing collection name
func (ix *Index) Collection() string { return ix.collection }

// Store returns the backing store
func (ix *Index) Store() vectorstore.Store { return ix.store }

// Embedder returns the embedder used for queries and inserts
func (ix *Index) Embedder() embedder.Embedder { return ix.emb }

// Bootstrap creates the collection sized to the embedder's output if it
// does not exist. Safe to call on every start.
func (ix *Index) Bootstrap(ctx context.Context) error {
	if err := ix.store.EnsureCollection(ctx, ix.collection, ix.emb.Dimensions(), vectorstore.Cosine); err != nil {
		return fmt.Errorf("ensure collection %s: %w", ix.collection, err)
	}
	return nil
}

// Search returns up to k examples ordered by descending similarity to text
func (ix *Index) Search(ctx context.Context, text string, k int) ([]Result, error) {
	vec, err := ix.emb.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSimilarityCheckUnavailable, err)
	}

	matches, err := ix.store.Query(ctx, ix.collection, vec, k)
	if err != nil {
		return nil, fmt.Errorf("%w: query %s: %w", ErrSimilarityCheckUnavailable, ix.store.Backend(), err)
	}

	results := make([]Result, len(matches))
	for i, m := range matches {
		results[i] = Result{
			Example: models.ThreatExampleFromMetadata(m.ID, m.Text, m.Metadata),
			Score:   m.Score,
		}
	}
	if len(results) > 0 {
		metrics.RecordTopScore(results[0].Score)
	}
	return results, nil
}

// Check runs Search and applies the decision rule
func (ix *Index) Check(ctx context.Context, text string, k int, threshold float64) (*Verdict, error) {
	results, err := ix.Search(ctx, text, k)
	if err != nil {
		return nil, err
	}
	v := Decide(results, threshold)
	return &v, nil
}

// Insert embeds and stores one example. Ids must be unique; reusing one
// replaces the stored example.
func (ix *Index) Insert(ctx context.Context, ex models.ThreatExample) error {
	return ix.insert(ctx, "insert", []models.ThreatExample{ex})
}

// InsertBatch embeds and stores examples in one write
func (ix *Index) InsertBatch(ctx context.Context, examples []models.ThreatExample) error {
	return ix.insert(ctx, "seed", examples)
}

func (ix *Index) insert(ctx context.Context, op string, examples []models.ThreatExample) error {
	if len(examples) == 0 {
		return nil
	}

	points := make([]vectorstore.Point, 0, len(examples))
	for _, ex := range examples {
		if ex.CreatedAt.IsZero() {
			ex.CreatedAt = time.Now().UTC()
		}
		if err := ex.Validate(); err != nil {
			return err
		}
		vec, err := ix.emb.Embed(ctx, ex.Text)
		if err != nil {
			return fmt.Errorf("embed example %s: %w", ex.ID, err)
		}
		points = append(points, vectorstore.Point{
			ID:       ex.ID,
			Vector:   vec,
			Text:     ex.Text,
			Metadata: ex.Metadata(),
		})
	}

	if err := ix.store.Upsert(ctx, ix.collection, points); err != nil {
		return fmt.Errorf("store examples: %w", err)
	}
	metrics.RecordCorpusWrite(op, len(points))
	ix.log.WithFields(logrus.Fields{"op": op, "count": len(points)}).Info("corpus updated")
	return nil
}

// Delete removes an example by id
func (ix *Index) Delete(ctx context.Context, id string) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("example id cannot be empty")
	}
	if err := ix.store.Delete(ctx, ix.collection, []string{id}); err != nil {
		return fmt.Errorf("delete example %s: %w", id, err)
	}
	metrics.RecordCorpusWrite("delete", 1)
	return nil
}

// Count returns the corpus size
func (ix *Index) Count(ctx context.Context) (int, error) {
	return ix.store.Count(ctx, ix.collection)
}
