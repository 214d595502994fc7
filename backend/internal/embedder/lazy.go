package embedder

import (
	"context"
	"fmt"
	"sync/atomic"

	"golang.org/x/sync/singleflight"
)

// Lazy is an Embedder whose model is loaded on first use. Concurrent first
// callers share one in-flight load; a failed load is not cached, so the next
// call retries.
type Lazy struct {
	model string
	dims  int
	load  Loader

	group  singleflight.Group
	handle atomic.Pointer[modelHandle]
	loads  atomic.Int64
}

type modelHandle struct {
	m Model
}

// NewLazy returns an Embedder for model that produces vectors of dims length
func NewLazy(model string, dims int, load Loader) *Lazy {
	return &Lazy{model: model, dims: dims, load: load}
}

// Embed generates an embedding vector for a single text.
func (l *Lazy) Embed(ctx context.Context, text string) ([]float64, error) {
	m, err := l.get(ctx)
	if err != nil {
		return nil, err
	}

	vecs, err := m.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrEmbeddingUnavailable, l.model, err)
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("%w: %s returned %d vectors for one input", ErrEmbeddingUnavailable, l.model, len(vecs))
	}
	if len(vecs[0]) != l.dims {
		return nil, fmt.Errorf("%w: %s returned %d dimensions, expected %d", ErrEmbeddingUnavailable, l.model, len(vecs[0]), l.dims)
	}
	return vecs[0], nil
}

// Dimensions returns the configured vector length
func (l *Lazy) Dimensions() int { return l.dims }

// Model returns the model identifier
func (l *Lazy) Model() string { return l.model }

// Loaded reports whether the model handle is ready
func (l *Lazy) Loaded() bool { return l.handle.Load() != nil }

// Loads returns how many load attempts have run
func (l *Lazy) Loads() int64 { return l.loads.Load() }

func (l *Lazy) get(ctx context.Context) (Model, error) {
	if h := l.handle.Load(); h != nil {
		return h.m, nil
	}

	// The load outlives any single caller's context so that a cancelled
	// first caller does not fail the others waiting on it.
	ch := l.group.DoChan("load", func() (interface{}, error) {
		if h := l.handle.Load(); h != nil {
			return h.m, nil
		}
		l.loads.Add(1)
		m, err := l.load(context.WithoutCancel(ctx))
		if err != nil {
			return nil, err
		}
		l.handle.Store(&modelHandle{m: m})
		return m, nil
	})

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: waiting for %s to load: %v", ErrEmbeddingUnavailable, l.model, ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return nil, fmt.Errorf("%w: loading %s: %v", ErrEmbeddingUnavailable, l.model, res.Err)
		}
		return res.Val.(Model), nil
	}
}
