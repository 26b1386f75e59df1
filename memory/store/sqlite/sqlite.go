// Package sqlite implements memory.Store on SQLite via the pure Go
// modernc.org/sqlite driver. Fragments survive restarts; similarity search
// is an exact cosine scan over the owner's rows.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"math"
	"sort"
	"time"

	"github.com/m-mizutani/goerr/v2"
	_ "modernc.org/sqlite"

	"github.com/agenthq/memkit/memory"
)

const schema = `
CREATE TABLE IF NOT EXISTS fragments (
	id         TEXT PRIMARY KEY,
	owner_id   TEXT NOT NULL,
	session_id TEXT NOT NULL DEFAULT '',
	text       TEXT NOT NULL,
	embedding  BLOB NOT NULL,
	metadata   TEXT NOT NULL DEFAULT '{}',
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_fragments_owner ON fragments(owner_id);
`

// Store is a durable fragment store backed by a single SQLite database file.
type Store struct {
	db *sql.DB
}

// Open creates or opens the database file at path and bootstraps the
// schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to open sqlite database",
			goerr.T(memory.ErrTagRetrieval), goerr.V("path", path))
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, goerr.Wrap(err, "failed to enable WAL", goerr.T(memory.ErrTagRetrieval))
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, goerr.Wrap(err, "failed to bootstrap schema", goerr.T(memory.ErrTagRetrieval))
	}

	return &Store{db: db}, nil
}

// Store inserts a fragment. The embedding must already be set.
func (s *Store) Store(ctx context.Context, frag *memory.Fragment) error {
	if len(frag.Embedding) == 0 {
		return goerr.New("fragment has no embedding", goerr.T(memory.ErrTagValidation),
			goerr.V("fragment_id", frag.ID))
	}

	metaJSON, err := json.Marshal(frag.Metadata)
	if err != nil {
		return goerr.Wrap(err, "failed to encode metadata",
			goerr.T(memory.ErrTagValidation), goerr.V("fragment_id", frag.ID))
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO fragments (id, owner_id, session_id, text, embedding, metadata, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		frag.ID, frag.OwnerID, frag.SessionID, frag.Text,
		encodeEmbedding(frag.Embedding), string(metaJSON),
		frag.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return goerr.Wrap(err, "failed to insert fragment",
			goerr.T(memory.ErrTagRetrieval), goerr.V("fragment_id", frag.ID))
	}
	return nil
}

// Query scans the owner's fragments and returns the limit best cosine
// matches, descending by similarity, ties broken by newest CreatedAt first.
func (s *Store) Query(ctx context.Context, ownerID string, embedding []float32, limit int) ([]memory.SearchResult, error) {
	if limit <= 0 {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, text, embedding, metadata, created_at
		 FROM fragments WHERE owner_id = ?`, ownerID)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to query fragments",
			goerr.T(memory.ErrTagRetrieval), goerr.V("owner_id", ownerID))
	}
	defer rows.Close()

	var results []memory.SearchResult
	for rows.Next() {
		var (
			id, sessionID, text, metaJSON, createdRaw string
			blob                                      []byte
		)
		if err := rows.Scan(&id, &sessionID, &text, &blob, &metaJSON, &createdRaw); err != nil {
			return nil, goerr.Wrap(err, "failed to scan fragment row",
				goerr.T(memory.ErrTagRetrieval), goerr.V("owner_id", ownerID))
		}

		vec := decodeEmbedding(blob)
		if len(vec) != len(embedding) {
			// Dimensionality changed across embedder versions; the row
			// cannot be compared against this query.
			continue
		}

		var meta map[string]string
		if err := json.Unmarshal([]byte(metaJSON), &meta); err != nil {
			continue
		}
		createdAt, err := time.Parse(time.RFC3339Nano, createdRaw)
		if err != nil {
			continue
		}

		results = append(results, memory.SearchResult{
			Fragment: &memory.Fragment{
				ID:        id,
				OwnerID:   ownerID,
				SessionID: sessionID,
				Text:      text,
				Embedding: vec,
				Metadata:  meta,
				CreatedAt: createdAt,
			},
			Score: cosineSimilarity(embedding, vec),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, goerr.Wrap(err, "fragment row iteration failed",
			goerr.T(memory.ErrTagRetrieval), goerr.V("owner_id", ownerID))
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Fragment.CreatedAt.After(results[j].Fragment.CreatedAt)
	})
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// Delete removes one fragment permanently.
func (s *Store) Delete(ctx context.Context, ownerID, fragmentID string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM fragments WHERE owner_id = ? AND id = ?`, ownerID, fragmentID)
	if err != nil {
		return goerr.Wrap(err, "failed to delete fragment",
			goerr.T(memory.ErrTagRetrieval), goerr.V("fragment_id", fragmentID))
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return goerr.Wrap(err, "failed to read delete result", goerr.T(memory.ErrTagRetrieval))
	}
	if affected == 0 {
		return goerr.New("fragment not found", goerr.T(memory.ErrTagNotFound),
			goerr.V("owner_id", ownerID), goerr.V("fragment_id", fragmentID))
	}
	return nil
}

// Clear removes all fragments for the owner. Clearing an owner with no
// fragments is not an error.
func (s *Store) Clear(ctx context.Context, ownerID string) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM fragments WHERE owner_id = ?`, ownerID); err != nil {
		return goerr.Wrap(err, "failed to clear fragments",
			goerr.T(memory.ErrTagRetrieval), goerr.V("owner_id", ownerID))
	}
	return nil
}

// Count returns the number of fragments stored for the owner.
func (s *Store) Count(ctx context.Context, ownerID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM fragments WHERE owner_id = ?`, ownerID).Scan(&n)
	if err != nil {
		return 0, goerr.Wrap(err, "failed to count fragments",
			goerr.T(memory.ErrTagRetrieval), goerr.V("owner_id", ownerID))
	}
	return n, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// encodeEmbedding packs the vector as little-endian float32 bytes.
func encodeEmbedding(vec []float32) []byte {
	buf := make([]byte, 4*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

func decodeEmbedding(blob []byte) []float32 {
	vec := make([]float32, len(blob)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(blob[i*4:]))
	}
	return vec
}

// cosineSimilarity returns the cosine of the angle between a and b, or 0
// when either vector has zero norm.
func cosineSimilarity(a, b []float32) float32 {
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(normA) * math.Sqrt(normB)))
}

var _ memory.Store = (*Store)(nil)
