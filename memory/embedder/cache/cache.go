// Package cache wraps any memory.Embedder with a ristretto cache so the
// same text is never embedded twice. Useful when the inner embedder is a
// paid API or a local model with nontrivial inference cost.
package cache

import (
	"context"

	"github.com/dgraph-io/ristretto"
	"github.com/m-mizutani/goerr/v2"

	"github.com/agenthq/memkit/memory"
)

// Config tunes the underlying ristretto cache.
type Config struct {
	// MaxCostBytes bounds total cached vector bytes. Default: 64 MiB.
	MaxCostBytes int64
}

// Embedder caches successful embeddings of an inner embedder.
type Embedder struct {
	inner memory.Embedder
	cache *ristretto.Cache
}

// New wraps inner with a cache.
func New(inner memory.Embedder, cfg Config) (*Embedder, error) {
	if inner == nil {
		return nil, goerr.New("inner embedder is required", goerr.T(memory.ErrTagValidation))
	}
	maxCost := cfg.MaxCostBytes
	if maxCost <= 0 {
		maxCost = 64 << 20
	}

	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 1e6,
		MaxCost:     maxCost,
		BufferItems: 64,
	})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create embedding cache")
	}

	return &Embedder{inner: inner, cache: cache}, nil
}

// Embed returns the cached vector for text, or embeds and caches it.
// Only successful embeddings are cached; failures always retry the inner
// embedder on the next call.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if cached, ok := e.cache.Get(text); ok {
		if vec, ok := cached.([]float32); ok {
			return vec, nil
		}
	}

	vec, err := e.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}

	e.cache.Set(text, vec, int64(4*len(vec)))
	return vec, nil
}

// Dimensions returns the inner embedder's vector size.
func (e *Embedder) Dimensions() int {
	return e.inner.Dimensions()
}

// Wait blocks until pending cache writes are applied. Tests use this to
// make hits deterministic.
func (e *Embedder) Wait() {
	e.cache.Wait()
}

// Close releases the cache.
func (e *Embedder) Close() {
	e.cache.Close()
}

var _ memory.Embedder = (*Embedder)(nil)
