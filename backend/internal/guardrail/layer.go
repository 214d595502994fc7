package guardrail

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// LayerStatus is how a layer ended for one check
type LayerStatus string

const (
	StatusPassed      LayerStatus = "passed"
	StatusBlocked     LayerStatus = "blocked"
	StatusUnavailable LayerStatus = "unavailable"
	StatusSkipped     LayerStatus = "skipped" // not run because an earlier layer blocked
)

// layerResult is either a verdict or the reason the layer could not give one
type layerResult[V any] struct {
	verdict     *V
	unavailable error
}

func (r layerResult[V]) ok() bool { return r.unavailable == nil }

// runLayer calls fn under the layer's timeout and breaker. Errors, timeouts
// and panics all come back as an unavailable result wrapping sentinel; a
// panic additionally wraps ErrInternal. Only outcomes the layer is
// responsible for reach the breaker: a caller that cancels or runs out of
// its own deadline leaves the breaker untouched.
func runLayer[V any](parent context.Context, name string, timeout time.Duration, breaker *Breaker, sentinel error, fn func(context.Context) (*V, error)) layerResult[V] {
	if err := breaker.Allow(); err != nil {
		return layerResult[V]{unavailable: fmt.Errorf("%w: %s: %w", sentinel, name, err)}
	}

	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	resultCh := make(chan layerResult[V], 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				resultCh <- layerResult[V]{unavailable: fmt.Errorf("%w: %w: %s panicked: %v", sentinel, ErrInternal, name, r)}
			}
		}()
		v, err := fn(ctx)
		switch {
		case err != nil:
			if !errors.Is(err, sentinel) {
				err = fmt.Errorf("%w: %w", sentinel, err)
			}
			resultCh <- layerResult[V]{unavailable: err}
		case v == nil:
			resultCh <- layerResult[V]{unavailable: fmt.Errorf("%w: %w: %s returned no verdict", sentinel, ErrInternal, name)}
		default:
			resultCh <- layerResult[V]{verdict: v}
		}
	}()

	var res layerResult[V]
	select {
	case <-ctx.Done():
		res = layerResult[V]{unavailable: fmt.Errorf("%w: %s: %w", sentinel, name, ctx.Err())}
	case res = <-resultCh:
	}
	if parent.Err() != nil {
		return res
	}
	breaker.Record(res.unavailable)
	return res
}
