package memory_test

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/gt"

	"github.com/agenthq/memkit/memory"
)

// stubSummarizer records what it was asked to condense and returns a canned
// summary, or fails on demand.
type stubSummarizer struct {
	fail      bool
	calls     int
	lastPrior string
	lastTurns []memory.Turn
}

func (s *stubSummarizer) Summarize(ctx context.Context, prior string, turns []memory.Turn) (string, error) {
	s.calls++
	s.lastPrior = prior
	s.lastTurns = turns
	if s.fail {
		return "", goerr.New("summarizer backend down")
	}
	return fmt.Sprintf("summary #%d of %d turns", s.calls, len(turns)), nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestManagerConfigValidate(t *testing.T) {
	cases := map[string]memory.Config{
		"missing owner":              {SessionID: "s"},
		"missing session":            {OwnerID: "o"},
		"summary without summarizer": {OwnerID: "o", SessionID: "s", UseSummary: true},
	}
	for name, cfg := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := memory.NewManager(cfg)
			gt.Error(t, err)
			gt.True(t, memory.IsValidation(err))
		})
	}

	mgr, err := memory.NewManager(memory.Config{OwnerID: "o", SessionID: "s"})
	gt.NoError(t, err)
	gt.V(t, mgr).NotNil()
}

func TestManagerAddTurn(t *testing.T) {
	ctx := context.Background()
	store := &fakeStore{}
	vm, err := memory.NewVectorMemory(store, &stubEmbedder{}, "alice", "s1")
	gt.NoError(t, err)

	mgr, err := memory.NewManager(memory.Config{
		OwnerID:   "alice",
		SessionID: "s1",
		Vector:    vm,
	})
	gt.NoError(t, err)

	gt.NoError(t, mgr.AddTurn(ctx, "My name is Alice.", "Nice to meet you, Alice!"))
	gt.Equal(t, mgr.TurnCount(), 2)

	// One combined fragment per turn on the long-term side
	gt.A(t, store.frags).Length(1)
	gt.Equal(t, store.frags[0].Text, "User: My name is Alice.\nAssistant: Nice to meet you, Alice!")
	gt.Equal(t, store.frags[0].Metadata["turn_type"], "conversation")

	// Both messages are validated before either is appended
	err = mgr.AddTurn(ctx, "hello", "   ")
	gt.Error(t, err)
	gt.True(t, memory.IsValidation(err))
	gt.Equal(t, mgr.TurnCount(), 2)

	err = mgr.AddTurn(ctx, "", "hi")
	gt.Error(t, err)
	gt.True(t, memory.IsValidation(err))
	gt.Equal(t, mgr.TurnCount(), 2)
}

func TestManagerAddTurnSurvivesVectorFailure(t *testing.T) {
	ctx := context.Background()
	vm, err := memory.NewVectorMemory(&fakeStore{failStore: true}, &stubEmbedder{}, "alice", "s1")
	gt.NoError(t, err)

	mgr, err := memory.NewManager(memory.Config{
		OwnerID:   "alice",
		SessionID: "s1",
		Vector:    vm,
		Logger:    discardLogger(),
	})
	gt.NoError(t, err)

	// The buffer write sticks even though the long-term write fails
	gt.NoError(t, mgr.AddTurn(ctx, "hello", "hi there"))
	gt.Equal(t, mgr.TurnCount(), 2)
}

func TestManagerGetContextSections(t *testing.T) {
	ctx := context.Background()
	embedder := &stubEmbedder{vectors: map[string][]float32{
		"I love pizza": {1, 0, 0},
		"pizza":        {1, 0, 0},
	}}
	vm, err := memory.NewVectorMemory(&fakeStore{}, embedder, "alice", "s1")
	gt.NoError(t, err)

	mgr, err := memory.NewManager(memory.Config{
		OwnerID:   "alice",
		SessionID: "s1",
		Vector:    vm,
	})
	gt.NoError(t, err)
	gt.NoError(t, mgr.AddTurn(ctx, "I love pizza", "Noted!"))

	out, err := mgr.GetContext(ctx, "pizza")
	gt.NoError(t, err)
	gt.False(t, out.Degraded)
	gt.S(t, out.Text).Contains("=== Recent Conversation ===")
	gt.S(t, out.Text).Contains("User: I love pizza")
	gt.S(t, out.Text).Contains("=== Relevant Past Memories ===")

	// Conversation comes before long-term memories
	conv := strings.Index(out.Text, "=== Recent Conversation ===")
	mem := strings.Index(out.Text, "=== Relevant Past Memories ===")
	gt.True(t, conv < mem)

	// Option toggles drop their sections
	out, err = mgr.GetContext(ctx, "pizza", memory.WithoutVector())
	gt.NoError(t, err)
	gt.False(t, strings.Contains(out.Text, "=== Relevant Past Memories ==="))

	out, err = mgr.GetContext(ctx, "pizza", memory.WithoutConversation())
	gt.NoError(t, err)
	gt.False(t, strings.Contains(out.Text, "=== Recent Conversation ==="))
	gt.S(t, out.Text).Contains("=== Relevant Past Memories ===")
}

func TestManagerGetContextEmptyQuerySkipsVector(t *testing.T) {
	ctx := context.Background()
	store := &fakeStore{failQuery: true} // would fail if queried
	vm, err := memory.NewVectorMemory(store, &stubEmbedder{}, "alice", "s1")
	gt.NoError(t, err)

	mgr, err := memory.NewManager(memory.Config{
		OwnerID:   "alice",
		SessionID: "s1",
		Vector:    vm,
		Logger:    discardLogger(),
	})
	gt.NoError(t, err)
	gt.NoError(t, mgr.AddTurn(ctx, "hello", "hi"))

	out, err := mgr.GetContext(ctx, "   ")
	gt.NoError(t, err)
	gt.False(t, out.Degraded)
	gt.A(t, out.Warnings).Length(0)
	gt.S(t, out.Text).Contains("=== Recent Conversation ===")
}

func TestManagerGetContextDegraded(t *testing.T) {
	ctx := context.Background()

	// No vector memory configured at all
	mgr, err := memory.NewManager(memory.Config{OwnerID: "alice", SessionID: "s1"})
	gt.NoError(t, err)
	gt.NoError(t, mgr.AddTurn(ctx, "hello", "hi"))

	out, err := mgr.GetContext(ctx, "hello")
	gt.NoError(t, err)
	gt.True(t, out.Degraded)
	gt.A(t, out.Warnings).Length(1)
	gt.S(t, out.Text).Contains("=== Recent Conversation ===")

	// Configured but failing
	vm, err := memory.NewVectorMemory(&fakeStore{failQuery: true}, &stubEmbedder{}, "alice", "s1")
	gt.NoError(t, err)
	mgr, err = memory.NewManager(memory.Config{
		OwnerID:   "alice",
		SessionID: "s1",
		Vector:    vm,
		Logger:    discardLogger(),
	})
	gt.NoError(t, err)
	gt.NoError(t, mgr.AddTurn(ctx, "hello", "hi"))

	out, err = mgr.GetContext(ctx, "hello")
	gt.NoError(t, err)
	gt.True(t, out.Degraded)
	gt.A(t, out.Warnings).Longer(0)
	gt.S(t, out.Text).Contains("=== Recent Conversation ===")
}

func TestManagerSummarization(t *testing.T) {
	ctx := context.Background()
	summarizer := &stubSummarizer{}

	mgr, err := memory.NewManager(memory.Config{
		OwnerID:         "alice",
		SessionID:       "s1",
		Summarizer:      summarizer,
		UseSummary:      true,
		MaxContextChars: 40,
	})
	gt.NoError(t, err)

	msg := strings.Repeat("a", 20)

	// First turn: the rendered buffer exceeds the trigger, but the cut
	// would consume every turn, so nothing is summarized yet.
	gt.NoError(t, mgr.AddTurn(ctx, msg, msg))
	gt.Equal(t, summarizer.calls, 0)
	gt.Equal(t, mgr.Summary(), "")
	gt.Equal(t, mgr.TurnCount(), 2)

	// Second turn: the oldest turns fold into the rolling summary.
	gt.NoError(t, mgr.AddTurn(ctx, msg, msg))
	gt.Equal(t, summarizer.calls, 1)
	gt.NotEqual(t, mgr.Summary(), "")
	gt.True(t, mgr.TurnCount() < 4)
	gt.Equal(t, summarizer.lastPrior, "")
	gt.A(t, summarizer.lastTurns).Longer(0)

	// The summary shows up in context
	out, err := mgr.GetContext(ctx, "")
	gt.NoError(t, err)
	gt.S(t, out.Text).Contains("=== Conversation Summary ===")
	gt.S(t, out.Text).Contains(mgr.Summary())
}

func TestManagerSummarizerFailureKeepsBuffer(t *testing.T) {
	ctx := context.Background()
	summarizer := &stubSummarizer{fail: true}

	mgr, err := memory.NewManager(memory.Config{
		OwnerID:         "alice",
		SessionID:       "s1",
		Summarizer:      summarizer,
		UseSummary:      true,
		MaxContextChars: 40,
		Logger:          discardLogger(),
	})
	gt.NoError(t, err)

	msg := strings.Repeat("a", 20)
	gt.NoError(t, mgr.AddTurn(ctx, msg, msg))
	gt.NoError(t, mgr.AddTurn(ctx, msg, msg))

	gt.True(t, summarizer.calls > 0)
	gt.Equal(t, mgr.Summary(), "")
	gt.Equal(t, mgr.TurnCount(), 4)
}

func TestManagerSearchMemory(t *testing.T) {
	ctx := context.Background()

	mgr, err := memory.NewManager(memory.Config{OwnerID: "alice", SessionID: "s1"})
	gt.NoError(t, err)
	_, err = mgr.SearchMemory(ctx, "anything", 3)
	gt.Error(t, err)
	gt.True(t, memory.IsValidation(err))

	vm, err := memory.NewVectorMemory(&fakeStore{}, &stubEmbedder{}, "alice", "s1")
	gt.NoError(t, err)
	mgr, err = memory.NewManager(memory.Config{OwnerID: "alice", SessionID: "s1", Vector: vm})
	gt.NoError(t, err)
	gt.NoError(t, mgr.AddTurn(ctx, "I love pizza", "Noted!"))

	results, err := mgr.SearchMemory(ctx, "pizza", 3)
	gt.NoError(t, err)
	gt.A(t, results).Length(1)
}

func TestManagerClear(t *testing.T) {
	ctx := context.Background()
	store := &fakeStore{}
	vm, err := memory.NewVectorMemory(store, &stubEmbedder{}, "alice", "s1")
	gt.NoError(t, err)
	mgr, err := memory.NewManager(memory.Config{OwnerID: "alice", SessionID: "s1", Vector: vm})
	gt.NoError(t, err)

	gt.NoError(t, mgr.AddTurn(ctx, "hello", "hi"))
	gt.Equal(t, mgr.TurnCount(), 2)
	gt.A(t, store.frags).Length(1)

	// ClearConversation leaves long-term memory intact
	mgr.ClearConversation()
	gt.Equal(t, mgr.TurnCount(), 0)
	gt.A(t, store.frags).Length(1)

	gt.NoError(t, mgr.AddTurn(ctx, "hello again", "hi again"))
	gt.NoError(t, mgr.ClearAll(ctx))
	gt.Equal(t, mgr.TurnCount(), 0)
	gt.A(t, store.frags).Length(0)
}

func TestManagerConcurrentAddTurn(t *testing.T) {
	ctx := context.Background()
	mgr, err := memory.NewManager(memory.Config{OwnerID: "alice", SessionID: "s1"})
	gt.NoError(t, err)

	const n = 32
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = mgr.AddTurn(ctx, fmt.Sprintf("user %d", i), fmt.Sprintf("assistant %d", i))
		}(i)
	}
	wg.Wait()

	gt.Equal(t, mgr.TurnCount(), 2*n)
}
