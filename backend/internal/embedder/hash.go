package embedder

import (
	"context"
	"strings"
	"unicode"

	"github.com/cespare/xxhash/v2"
)

// HashModel is a local feature-hashing embedder. Word unigrams, word bigrams
// and character trigrams are hashed into a signed bag of features and
// L2-normalised, so identical texts score 1.0 and texts sharing phrasing
// score high. It needs no network and loads instantly.
type HashModel struct {
	dims int
}

// NewHashModel returns a feature-hashing model producing dims-length vectors
func NewHashModel(dims int) *HashModel {
	return &HashModel{dims: dims}
}

// HashLoader adapts NewHashModel to a Loader
func HashLoader(dims int) Loader {
	return func(context.Context) (Model, error) {
		return NewHashModel(dims), nil
	}
}

// EmbedBatch embeds every text independently
func (h *HashModel) EmbedBatch(ctx context.Context, texts []string) ([][]float64, error) {
	out := make([][]float64, len(texts))
	for i, t := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = h.vector(t)
	}
	return out, nil
}

func (h *HashModel) vector(text string) []float64 {
	v := make([]float64, h.dims)
	words := tokenize(text)

	for i, w := range words {
		h.add(v, "w:"+w, 1.0)
		if i > 0 {
			h.add(v, "b:"+words[i-1]+" "+w, 1.5)
		}
		runes := []rune(" " + w + " ")
		for j := 0; j+3 <= len(runes); j++ {
			h.add(v, "c:"+string(runes[j:j+3]), 0.5)
		}
	}
	return normalizeVector(v)
}

func (h *HashModel) add(v []float64, feature string, weight float64) {
	sum := xxhash.Sum64String(feature)
	idx := int(sum % uint64(h.dims))
	if sum&(1<<63) != 0 {
		weight = -weight
	}
	v[idx] += weight
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
}
