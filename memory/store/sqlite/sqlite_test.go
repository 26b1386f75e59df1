package sqlite_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/m-mizutani/gt"

	"github.com/agenthq/memkit/memory"
	"github.com/agenthq/memkit/memory/store/sqlite"
)

func openStore(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := sqlite.Open(filepath.Join(t.TempDir(), "memkit.db"))
	gt.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func newFragment(ownerID, text string, embedding []float32) *memory.Fragment {
	return &memory.Fragment{
		ID:        uuid.NewString(),
		OwnerID:   ownerID,
		SessionID: "s1",
		Text:      text,
		Embedding: embedding,
		Metadata:  map[string]string{"turn_type": "conversation"},
		CreatedAt: time.Now().UTC(),
	}
}

func TestStoreAndQuery(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)

	gt.NoError(t, store.Store(ctx, newFragment("alice", "I love pizza", []float32{1, 0, 0})))
	gt.NoError(t, store.Store(ctx, newFragment("alice", "the sky is blue", []float32{0, 1, 0})))
	gt.NoError(t, store.Store(ctx, newFragment("alice", "pasta is fine too", []float32{0.9, 0.1, 0})))

	results, err := store.Query(ctx, "alice", []float32{1, 0, 0}, 10)
	gt.NoError(t, err)
	gt.A(t, results).Length(3)
	gt.Equal(t, results[0].Fragment.Text, "I love pizza")
	gt.Equal(t, results[1].Fragment.Text, "pasta is fine too")
	gt.True(t, results[0].Score > results[1].Score)
	gt.True(t, results[1].Score > results[2].Score)

	// Round-tripped fields survive
	gt.Equal(t, results[0].Fragment.OwnerID, "alice")
	gt.Equal(t, results[0].Fragment.SessionID, "s1")
	gt.Equal(t, results[0].Fragment.Metadata["turn_type"], "conversation")
	gt.A(t, results[0].Fragment.Embedding).Length(3)

	// Limit bounds the result count
	two, err := store.Query(ctx, "alice", []float32{1, 0, 0}, 2)
	gt.NoError(t, err)
	gt.A(t, two).Length(2)
}

func TestQueryTieBreaksNewestFirst(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)

	older := newFragment("alice", "older", []float32{1, 0, 0})
	older.CreatedAt = time.Now().UTC().Add(-time.Hour)
	newer := newFragment("alice", "newer", []float32{1, 0, 0})

	gt.NoError(t, store.Store(ctx, older))
	gt.NoError(t, store.Store(ctx, newer))

	results, err := store.Query(ctx, "alice", []float32{1, 0, 0}, 10)
	gt.NoError(t, err)
	gt.A(t, results).Length(2)
	gt.Equal(t, results[0].Fragment.Text, "newer")
	gt.Equal(t, results[1].Fragment.Text, "older")
}

func TestQueryOwnerIsolation(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)

	gt.NoError(t, store.Store(ctx, newFragment("alice", "alice's note", []float32{1, 0, 0})))
	gt.NoError(t, store.Store(ctx, newFragment("bob", "bob's note", []float32{1, 0, 0})))

	results, err := store.Query(ctx, "alice", []float32{1, 0, 0}, 10)
	gt.NoError(t, err)
	gt.A(t, results).Length(1)
	gt.Equal(t, results[0].Fragment.Text, "alice's note")
}

func TestQueryDimensionMismatchRowsSkipped(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)

	gt.NoError(t, store.Store(ctx, newFragment("alice", "three dims", []float32{1, 0, 0})))
	gt.NoError(t, store.Store(ctx, newFragment("alice", "two dims", []float32{1, 0})))

	results, err := store.Query(ctx, "alice", []float32{1, 0, 0}, 10)
	gt.NoError(t, err)
	gt.A(t, results).Length(1)
	gt.Equal(t, results[0].Fragment.Text, "three dims")
}

func TestStoreRejectsMissingEmbedding(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)

	err := store.Store(ctx, newFragment("alice", "no vector", nil))
	gt.Error(t, err)
	gt.True(t, memory.IsValidation(err))
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)

	frag := newFragment("alice", "ephemeral", []float32{1, 0, 0})
	gt.NoError(t, store.Store(ctx, frag))
	gt.NoError(t, store.Delete(ctx, "alice", frag.ID))

	results, err := store.Query(ctx, "alice", []float32{1, 0, 0}, 10)
	gt.NoError(t, err)
	gt.A(t, results).Length(0)

	err = store.Delete(ctx, "alice", frag.ID)
	gt.Error(t, err)
	gt.True(t, memory.IsNotFound(err))

	// Owner mismatch does not delete
	other := newFragment("bob", "bob's note", []float32{1, 0, 0})
	gt.NoError(t, store.Store(ctx, other))
	err = store.Delete(ctx, "alice", other.ID)
	gt.Error(t, err)
	gt.True(t, memory.IsNotFound(err))
}

func TestClearAndCount(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)

	gt.NoError(t, store.Store(ctx, newFragment("alice", "one", []float32{1, 0, 0})))
	gt.NoError(t, store.Store(ctx, newFragment("alice", "two", []float32{0, 1, 0})))
	gt.NoError(t, store.Store(ctx, newFragment("bob", "bob's", []float32{1, 0, 0})))

	n, err := store.Count(ctx, "alice")
	gt.NoError(t, err)
	gt.Equal(t, n, 2)

	gt.NoError(t, store.Clear(ctx, "alice"))
	n, err = store.Count(ctx, "alice")
	gt.NoError(t, err)
	gt.Equal(t, n, 0)

	// Other owners are untouched; clearing again is a no-op
	n, err = store.Count(ctx, "bob")
	gt.NoError(t, err)
	gt.Equal(t, n, 1)
	gt.NoError(t, store.Clear(ctx, "alice"))
}

func TestReopenPersists(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "memkit.db")

	store, err := sqlite.Open(path)
	gt.NoError(t, err)
	gt.NoError(t, store.Store(ctx, newFragment("alice", "durable", []float32{1, 0, 0})))
	gt.NoError(t, store.Close())

	reopened, err := sqlite.Open(path)
	gt.NoError(t, err)
	defer reopened.Close()

	results, err := reopened.Query(ctx, "alice", []float32{1, 0, 0}, 10)
	gt.NoError(t, err)
	gt.A(t, results).Length(1)
	gt.Equal(t, results[0].Fragment.Text, "durable")
}
