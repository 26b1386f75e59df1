package memory

import (
	"context"
	"time"
)

// Role identifies the speaker of a conversation turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

// Label returns the prompt-facing prefix for the role.
func (r Role) Label() string {
	switch r {
	case RoleUser:
		return "User"
	case RoleAssistant:
		return "Assistant"
	default:
		return string(r)
	}
}

// Turn is one message in a conversation. Immutable once appended to a Buffer.
type Turn struct {
	Role      Role      `json:"role"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// Fragment is a unit of long-term memory: a text with its embedding vector
// and owner scope. Immutable after creation; there is no update operation,
// only insert and delete.
type Fragment struct {
	ID        string            `json:"id"`
	OwnerID   string            `json:"owner_id"`
	SessionID string            `json:"session_id"`
	Text      string            `json:"text"`
	Embedding []float32         `json:"embedding"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// SearchResult pairs a fragment with its cosine similarity to the query.
type SearchResult struct {
	Fragment *Fragment
	Score    float32
}

// Embedder converts text to vector embeddings.
// Implementations: embedder/mock (testing), embedder/onnx (local models),
// embedder/cache (caching wrapper around either).
type Embedder interface {
	// Embed converts a single text to an embedding vector of fixed
	// dimensionality. Determinism across calls is not guaranteed.
	Embed(ctx context.Context, text string) ([]float32, error)

	// Dimensions returns the embedding vector size.
	Dimensions() int
}

// Store is the vector storage backend.
// Implementations: store/chromem (embedded, in-memory), store/sqlite (durable).
type Store interface {
	// Store saves a fragment. The fragment must have its embedding set.
	Store(ctx context.Context, frag *Fragment) error

	// Query returns up to limit fragments owned by ownerID, ordered by
	// descending cosine similarity to the embedding, ties broken by most
	// recent CreatedAt first. Fewer eligible fragments than limit is not
	// an error.
	Query(ctx context.Context, ownerID string, embedding []float32, limit int) ([]SearchResult, error)

	// Delete removes one fragment permanently.
	Delete(ctx context.Context, ownerID, fragmentID string) error

	// Clear removes all fragments for the owner.
	Clear(ctx context.Context, ownerID string) error

	// Close releases resources.
	Close() error
}

// Summarizer condenses conversation turns into a rolling summary.
// prior is the previous summary ("" on the first call); the returned text
// replaces it. Implementations: summarizer/claude.
type Summarizer interface {
	Summarize(ctx context.Context, prior string, turns []Turn) (string, error)
}
