// Package chromem implements memory.Store on top of chromem-go, a pure Go
// embedded vector database. All data lives in memory; use store/sqlite when
// fragments must survive a restart.
package chromem

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/m-mizutani/goerr/v2"
	chromem "github.com/philippgille/chromem-go"

	"github.com/agenthq/memkit/memory"
)

// Store keeps one chromem collection per owner for namespace isolation.
type Store struct {
	db          *chromem.DB
	collections map[string]*chromem.Collection
	mu          sync.RWMutex
}

// New creates an empty in-memory store.
func New() (*Store, error) {
	return &Store{
		db:          chromem.NewDB(),
		collections: make(map[string]*chromem.Collection),
	}, nil
}

func collectionName(ownerID string) string {
	if ownerID == "" {
		return "global"
	}
	return "owner_" + ownerID
}

func (s *Store) getOrCreateCollection(ownerID string) (*chromem.Collection, error) {
	s.mu.RLock()
	col, exists := s.collections[ownerID]
	s.mu.RUnlock()
	if exists {
		return col, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if col, exists := s.collections[ownerID]; exists {
		return col, nil
	}

	// Embeddings are always provided by the caller, so no embedding func
	// and the default cosine distance.
	col, err := s.db.CreateCollection(collectionName(ownerID), nil, nil)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create collection",
			goerr.T(memory.ErrTagRetrieval), goerr.V("owner_id", ownerID))
	}
	s.collections[ownerID] = col
	return col, nil
}

// Store saves a fragment with its embedding.
func (s *Store) Store(ctx context.Context, frag *memory.Fragment) error {
	if len(frag.Embedding) == 0 {
		return goerr.New("fragment has no embedding", goerr.T(memory.ErrTagValidation),
			goerr.V("fragment_id", frag.ID))
	}

	col, err := s.getOrCreateCollection(frag.OwnerID)
	if err != nil {
		return err
	}

	doc := chromem.Document{
		ID:        frag.ID,
		Content:   frag.Text,
		Embedding: frag.Embedding,
		Metadata:  encodeMetadata(frag),
	}
	if err := col.AddDocument(ctx, doc); err != nil {
		return goerr.Wrap(err, "failed to add document",
			goerr.T(memory.ErrTagRetrieval), goerr.V("fragment_id", frag.ID))
	}
	return nil
}

// Query returns up to limit fragments for the owner, descending by cosine
// similarity, ties broken by newest CreatedAt first.
func (s *Store) Query(ctx context.Context, ownerID string, embedding []float32, limit int) ([]memory.SearchResult, error) {
	if limit <= 0 {
		return nil, nil
	}

	col, err := s.getOrCreateCollection(ownerID)
	if err != nil {
		return nil, err
	}

	// chromem-go rejects nResults larger than the collection, so shrink
	// the limit until the query fits. An empty collection yields no results.
	var raw []chromem.Result
	for nResults := limit; nResults >= 1; nResults-- {
		raw, err = col.QueryEmbedding(ctx, embedding, nResults, nil, nil)
		if err == nil {
			break
		}
		if isInsufficientDocsError(err) {
			if nResults == 1 {
				return nil, nil
			}
			continue
		}
		return nil, goerr.Wrap(err, "chromem query failed",
			goerr.T(memory.ErrTagRetrieval), goerr.V("owner_id", ownerID))
	}

	results := make([]memory.SearchResult, 0, len(raw))
	for _, r := range raw {
		frag, err := decodeResult(ownerID, r)
		if err != nil {
			continue
		}
		results = append(results, memory.SearchResult{Fragment: frag, Score: r.Similarity})
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Fragment.CreatedAt.After(results[j].Fragment.CreatedAt)
	})
	return results, nil
}

// Delete is not supported by the chromem backend; use store/sqlite when
// per-fragment deletion is needed.
func (s *Store) Delete(ctx context.Context, ownerID, fragmentID string) error {
	return goerr.New("delete by ID is not supported by the chromem backend",
		goerr.T(memory.ErrTagRetrieval), goerr.V("fragment_id", fragmentID))
}

// Clear drops the owner's entire collection.
func (s *Store) Clear(ctx context.Context, ownerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.collections[ownerID]; !exists {
		return nil
	}
	if err := s.db.DeleteCollection(collectionName(ownerID)); err != nil {
		return goerr.Wrap(err, "failed to delete collection",
			goerr.T(memory.ErrTagRetrieval), goerr.V("owner_id", ownerID))
	}
	delete(s.collections, ownerID)
	return nil
}

// Close releases resources. chromem keeps everything in memory, so there is
// nothing to flush.
func (s *Store) Close() error {
	return nil
}

const (
	metaOwnerID   = "owner_id"
	metaSessionID = "session_id"
	metaCreatedAt = "created_at"
)

func encodeMetadata(frag *memory.Fragment) map[string]string {
	meta := map[string]string{
		metaOwnerID:   frag.OwnerID,
		metaSessionID: frag.SessionID,
		metaCreatedAt: frag.CreatedAt.Format(time.RFC3339Nano),
	}
	for k, v := range frag.Metadata {
		meta[k] = v
	}
	return meta
}

func decodeResult(ownerID string, r chromem.Result) (*memory.Fragment, error) {
	createdAt, err := time.Parse(time.RFC3339Nano, r.Metadata[metaCreatedAt])
	if err != nil {
		return nil, goerr.Wrap(err, "invalid created_at in stored metadata",
			goerr.V("fragment_id", r.ID))
	}

	custom := make(map[string]string)
	for k, v := range r.Metadata {
		if k == metaOwnerID || k == metaSessionID || k == metaCreatedAt {
			continue
		}
		custom[k] = v
	}

	return &memory.Fragment{
		ID:        r.ID,
		OwnerID:   ownerID,
		SessionID: r.Metadata[metaSessionID],
		Text:      r.Content,
		Embedding: r.Embedding,
		Metadata:  custom,
		CreatedAt: createdAt,
	}, nil
}

// isInsufficientDocsError matches the chromem error raised when nResults
// exceeds the collection size.
func isInsufficientDocsError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "nResults must be") || strings.Contains(msg, "number of documents")
}

// Compile-time interface check.
var _ memory.Store = (*Store)(nil)
