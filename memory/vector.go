package memory

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/m-mizutani/goerr/v2"

	"github.com/agenthq/memkit/logging"
)

const (
	defaultTopK         = 5
	defaultEmbedTimeout = 10 * time.Second
)

// VectorMemory is long-term memory for one owner scope: it embeds text
// fragments and retrieves them by cosine similarity through an injected
// Store and Embedder.
type VectorMemory struct {
	store        Store
	embedder     Embedder
	ownerID      string
	sessionID    string
	topK         int
	embedTimeout time.Duration
	logger       *slog.Logger
}

// VectorOption configures a VectorMemory.
type VectorOption func(*VectorMemory)

// WithTopK sets the default number of search results.
func WithTopK(k int) VectorOption {
	return func(v *VectorMemory) {
		if k > 0 {
			v.topK = k
		}
	}
}

// WithEmbedTimeout bounds each embedding call.
func WithEmbedTimeout(d time.Duration) VectorOption {
	return func(v *VectorMemory) {
		if d > 0 {
			v.embedTimeout = d
		}
	}
}

// WithVectorLogger sets the logger.
func WithVectorLogger(logger *slog.Logger) VectorOption {
	return func(v *VectorMemory) {
		if logger != nil {
			v.logger = logger
		}
	}
}

// NewVectorMemory creates a VectorMemory scoped to (ownerID, sessionID).
func NewVectorMemory(store Store, embedder Embedder, ownerID, sessionID string, opts ...VectorOption) (*VectorMemory, error) {
	if store == nil {
		return nil, goerr.New("store is required", goerr.T(ErrTagValidation))
	}
	if embedder == nil {
		return nil, goerr.New("embedder is required", goerr.T(ErrTagValidation))
	}
	if ownerID == "" {
		return nil, goerr.New("owner ID is required", goerr.T(ErrTagValidation))
	}

	v := &VectorMemory{
		store:        store,
		embedder:     embedder,
		ownerID:      ownerID,
		sessionID:    sessionID,
		topK:         defaultTopK,
		embedTimeout: defaultEmbedTimeout,
		logger:       logging.Default(),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v, nil
}

// OwnerID returns the owner scope.
func (v *VectorMemory) OwnerID() string { return v.ownerID }

// SessionID returns the session scope.
func (v *VectorMemory) SessionID() string { return v.sessionID }

// embed runs the embedder with a bounded timeout and a single retry on
// transient failure. A cancelled parent context is never retried.
func (v *VectorMemory) embed(ctx context.Context, text string) ([]float32, error) {
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		embedCtx, cancel := context.WithTimeout(ctx, v.embedTimeout)
		vec, err := v.embedder.Embed(embedCtx, text)
		cancel()

		if err == nil {
			if len(vec) == 0 {
				return nil, goerr.New("embedder returned an empty vector",
					goerr.T(ErrTagEmbedding), goerr.V("owner_id", v.ownerID))
			}
			return vec, nil
		}

		lastErr = err
		if ctx.Err() != nil {
			break
		}
		v.logger.Debug("embedding attempt failed, retrying",
			"owner_id", v.ownerID, "attempt", attempt+1, "error", err)
	}
	return nil, goerr.Wrap(lastErr, "failed to generate embedding",
		goerr.T(ErrTagEmbedding), goerr.V("owner_id", v.ownerID), goerr.V("text_len", len(text)))
}

// AddMemory embeds content, assigns a fresh ID, and stores the fragment.
// It returns the fragment ID. A fragment is never stored without its
// embedding: embedding failure propagates to the caller.
func (v *VectorMemory) AddMemory(ctx context.Context, content string, metadata map[string]string) (string, error) {
	if strings.TrimSpace(content) == "" {
		return "", goerr.New("memory content is empty", goerr.T(ErrTagValidation),
			goerr.V("owner_id", v.ownerID))
	}

	vec, err := v.embed(ctx, content)
	if err != nil {
		return "", err
	}

	meta := make(map[string]string, len(metadata))
	for k, val := range metadata {
		meta[k] = val
	}

	frag := &Fragment{
		ID:        uuid.New().String(),
		OwnerID:   v.ownerID,
		SessionID: v.sessionID,
		Text:      content,
		Embedding: vec,
		Metadata:  meta,
		CreatedAt: time.Now().UTC(),
	}

	if err := v.store.Store(ctx, frag); err != nil {
		return "", goerr.Wrap(err, "failed to store fragment",
			goerr.T(ErrTagRetrieval), goerr.V("owner_id", v.ownerID), goerr.V("fragment_id", frag.ID))
	}

	v.logger.Debug("stored memory fragment",
		"owner_id", v.ownerID, "session_id", v.sessionID, "fragment_id", frag.ID)
	return frag.ID, nil
}

// Search returns the k most similar fragments for the query within the
// owner scope, descending by similarity. Fewer than k results is not an
// error.
func (v *VectorMemory) Search(ctx context.Context, query string, k int) ([]SearchResult, error) {
	if strings.TrimSpace(query) == "" {
		return nil, goerr.New("search query is empty", goerr.T(ErrTagValidation),
			goerr.V("owner_id", v.ownerID))
	}
	if k <= 0 {
		k = v.topK
	}

	vec, err := v.embed(ctx, query)
	if err != nil {
		return nil, err
	}

	results, err := v.store.Query(ctx, v.ownerID, vec, k)
	if err != nil {
		return nil, goerr.Wrap(err, "vector store query failed",
			goerr.T(ErrTagRetrieval), goerr.V("owner_id", v.ownerID), goerr.V("limit", k))
	}

	v.logger.Debug("searched memory fragments",
		"owner_id", v.ownerID, "results", len(results))
	return results, nil
}

// SearchWithScores is Search with results below scoreThreshold excluded.
func (v *VectorMemory) SearchWithScores(ctx context.Context, query string, k int, scoreThreshold float32) ([]SearchResult, error) {
	results, err := v.Search(ctx, query, k)
	if err != nil {
		return nil, err
	}

	kept := results[:0]
	for _, r := range results {
		if r.Score >= scoreThreshold {
			kept = append(kept, r)
		}
	}
	return kept, nil
}

// RelevantContext returns the top-k fragment texts as one formatted string,
// or "" when nothing matches.
func (v *VectorMemory) RelevantContext(ctx context.Context, query string, k int) (string, error) {
	results, err := v.Search(ctx, query, k)
	if err != nil {
		return "", err
	}
	if len(results) == 0 {
		return "", nil
	}

	parts := make([]string, 0, len(results))
	for i, r := range results {
		parts = append(parts, fmt.Sprintf("[Memory %d] (%s)\n%s",
			i+1, r.Fragment.CreatedAt.Format(time.RFC3339), r.Fragment.Text))
	}
	return strings.Join(parts, "\n\n"), nil
}

// Delete removes one fragment permanently.
func (v *VectorMemory) Delete(ctx context.Context, fragmentID string) error {
	if err := v.store.Delete(ctx, v.ownerID, fragmentID); err != nil {
		return goerr.Wrap(err, "failed to delete fragment",
			goerr.T(ErrTagRetrieval), goerr.V("owner_id", v.ownerID), goerr.V("fragment_id", fragmentID))
	}
	return nil
}

// Clear removes all fragments for the owner scope.
func (v *VectorMemory) Clear(ctx context.Context) error {
	if err := v.store.Clear(ctx, v.ownerID); err != nil {
		return goerr.Wrap(err, "failed to clear fragments",
			goerr.T(ErrTagRetrieval), goerr.V("owner_id", v.ownerID))
	}
	return nil
}
