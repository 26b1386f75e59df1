package memory

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/m-mizutani/goerr/v2"

	"github.com/agenthq/memkit/logging"
)

const (
	defaultMaxContextChars = 8000

	// Portion of the rendered buffer folded into the rolling summary when
	// the size trigger fires.
	summarizeRatio = 0.7
)

// Config holds Manager configuration. Validated at construction;
// contradictory combinations are rejected early.
type Config struct {
	// OwnerID and SessionID identify the scope this manager serves.
	// Both are required.
	OwnerID   string
	SessionID string

	// Vector enables long-term memory. Nil means conversation-only:
	// context requests degrade gracefully instead of failing.
	Vector *VectorMemory

	// Summarizer condenses old turns into a rolling summary.
	// Required when UseSummary is set.
	Summarizer Summarizer
	UseSummary bool

	// MaxContextChars is the rendered-buffer size that triggers
	// summarization. Default: 8000.
	MaxContextChars int

	// VectorTopK is the number of long-term results merged into context.
	// Default: 5.
	VectorTopK int

	Logger *slog.Logger
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.OwnerID == "" {
		return goerr.New("owner ID is required", goerr.T(ErrTagValidation))
	}
	if c.SessionID == "" {
		return goerr.New("session ID is required", goerr.T(ErrTagValidation))
	}
	if c.UseSummary && c.Summarizer == nil {
		return goerr.New("summary enabled without a summarizer", goerr.T(ErrTagValidation),
			goerr.V("owner_id", c.OwnerID))
	}
	return nil
}

// Manager is the per-(owner, session) memory facade. Callers push turns in
// and pull merged short+long-term context out.
//
// A mutex serializes AddTurn, Context and the other operations: the original
// single-threaded ownership assumption does not hold when two requests race
// on one session.
type Manager struct {
	mu      sync.Mutex
	cfg     Config
	buffer  *Buffer
	vector  *VectorMemory
	summary string
	logger  *slog.Logger
}

// NewManager creates a Manager from the config.
func NewManager(cfg Config) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.MaxContextChars <= 0 {
		cfg.MaxContextChars = defaultMaxContextChars
	}
	if cfg.VectorTopK <= 0 {
		cfg.VectorTopK = defaultTopK
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}

	return &Manager{
		cfg:    cfg,
		buffer: NewBuffer(cfg.SessionID),
		vector: cfg.Vector,
		logger: logger.With("owner_id", cfg.OwnerID, "session_id", cfg.SessionID),
	}, nil
}

// AddTurn appends one exchange (user message + assistant response) to the
// conversation buffer and, when long-term memory is configured, stores one
// combined fragment per turn.
//
// The buffer write is never rolled back because of a long-term memory
// failure: the two stores are independent, and the vector side already
// retries once internally before the failure is logged and skipped.
func (m *Manager) AddTurn(ctx context.Context, userMessage, assistantMessage string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Validate both messages before appending so a rejected assistant
	// message does not leave a half-written turn behind.
	if strings.TrimSpace(userMessage) == "" {
		return goerr.New("user message is empty", goerr.T(ErrTagValidation),
			goerr.V("session_id", m.cfg.SessionID))
	}
	if strings.TrimSpace(assistantMessage) == "" {
		return goerr.New("assistant message is empty", goerr.T(ErrTagValidation),
			goerr.V("session_id", m.cfg.SessionID))
	}

	if err := m.buffer.AddUserMessage(userMessage); err != nil {
		return err
	}
	if err := m.buffer.AddAssistantMessage(assistantMessage); err != nil {
		return err
	}

	if m.vector != nil {
		combined := "User: " + userMessage + "\nAssistant: " + assistantMessage
		meta := map[string]string{
			"turn_type":         "conversation",
			"user_message":      userMessage,
			"assistant_message": assistantMessage,
		}
		if _, err := m.vector.AddMemory(ctx, combined, meta); err != nil {
			m.logger.Warn("long-term memory write skipped", "error", err)
		}
	}

	m.maybeSummarize(ctx)
	return nil
}

// Context is the merged short+long-term context for a query.
type Context struct {
	// Text is the rendered context blob.
	Text string

	// Degraded is set when long-term retrieval was requested but
	// unavailable or failing, so the caller can tell a short context from
	// a silently truncated one.
	Degraded bool

	// Warnings explain each degradation.
	Warnings []string
}

// ContextOption adjusts a Context request.
type ContextOption func(*contextRequest)

type contextRequest struct {
	includeConversation bool
	includeVector       bool
	topK                int
}

// WithoutConversation omits the recent conversation section.
func WithoutConversation() ContextOption {
	return func(r *contextRequest) { r.includeConversation = false }
}

// WithoutVector omits the long-term memory section.
func WithoutVector() ContextOption {
	return func(r *contextRequest) { r.includeVector = false }
}

// WithContextTopK overrides the number of long-term results for one request.
func WithContextTopK(k int) ContextOption {
	return func(r *contextRequest) {
		if k > 0 {
			r.topK = k
		}
	}
}

// GetContext returns the context for continuing the conversation: the
// rolling summary (if any), the recent conversation window, then the
// long-term fragments relevant to query, each under its own section header.
//
// An empty query skips long-term retrieval: there is nothing to search
// with. A failing or unconfigured vector side degrades to conversation-only
// context and flags the result as Degraded instead of failing the call.
func (m *Manager) GetContext(ctx context.Context, query string, opts ...ContextOption) (*Context, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	req := contextRequest{
		includeConversation: true,
		includeVector:       true,
		topK:                m.cfg.VectorTopK,
	}
	for _, opt := range opts {
		opt(&req)
	}

	out := &Context{}
	var sections []string

	if req.includeConversation {
		if m.summary != "" {
			sections = append(sections, "=== Conversation Summary ===\n"+m.summary)
		}
		if conv := m.buffer.Context(); conv != "" {
			sections = append(sections, "=== Recent Conversation ===\n"+conv)
		}
	}

	if req.includeVector && strings.TrimSpace(query) != "" {
		switch {
		case m.vector == nil:
			out.Degraded = true
			out.Warnings = append(out.Warnings, "long-term memory is not configured")
		default:
			blob, err := m.vector.RelevantContext(ctx, query, req.topK)
			if err != nil {
				m.logger.Warn("long-term retrieval failed, degrading to conversation-only", "error", err)
				out.Degraded = true
				out.Warnings = append(out.Warnings, "long-term retrieval failed: "+err.Error())
			} else if blob != "" {
				sections = append(sections, "=== Relevant Past Memories ===\n"+blob)
			}
		}
	}

	out.Text = strings.Join(sections, "\n\n")
	return out, nil
}

// SearchMemory queries long-term memory directly, bypassing the
// conversation buffer.
func (m *Manager) SearchMemory(ctx context.Context, query string, k int) ([]SearchResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.vector == nil {
		return nil, goerr.New("long-term memory is not configured", goerr.T(ErrTagValidation),
			goerr.V("owner_id", m.cfg.OwnerID))
	}
	return m.vector.Search(ctx, query, k)
}

// TurnCount returns the number of turns in the conversation buffer.
func (m *Manager) TurnCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.buffer.TurnCount()
}

// Summary returns the rolling conversation summary, or "" when none exists.
func (m *Manager) Summary() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.summary
}

// ClearConversation empties the buffer and the rolling summary, leaving
// long-term memory intact.
func (m *Manager) ClearConversation() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.buffer.Clear()
	m.summary = ""
}

// ClearAll empties the buffer, the rolling summary, and all long-term
// fragments for the owner.
func (m *Manager) ClearAll(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.buffer.Clear()
	m.summary = ""
	if m.vector != nil {
		return m.vector.Clear(ctx)
	}
	return nil
}

// maybeSummarize folds the oldest turns into the rolling summary once the
// rendered buffer exceeds the size trigger. The oldest turns covering
// roughly 70% of the rendered bytes are summarized and trimmed; a failing
// summarizer leaves the buffer untouched.
//
// Callers must hold m.mu.
func (m *Manager) maybeSummarize(ctx context.Context) {
	if !m.cfg.UseSummary {
		return
	}

	turns := m.buffer.Messages(0)
	total := 0
	sizes := make([]int, len(turns))
	for i, turn := range turns {
		sizes[i] = len(turn.Role.Label()) + len(": ") + len(turn.Text) + 1
		total += sizes[i]
	}
	if total <= m.cfg.MaxContextChars {
		return
	}

	threshold := int(float64(total) * summarizeRatio)
	cumulative := 0
	cut := 0
	for i, size := range sizes {
		cumulative += size
		if cumulative >= threshold {
			cut = i + 1
			break
		}
	}
	if cut == 0 || cut >= len(turns) {
		return
	}

	summary, err := m.cfg.Summarizer.Summarize(ctx, m.summary, turns[:cut])
	if err != nil {
		m.logger.Warn("conversation summarization failed, keeping full buffer", "error", err)
		return
	}

	m.summary = summary
	m.buffer.trimOldest(cut)
	m.logger.Debug("summarized old conversation turns",
		"trimmed_turns", cut, "remaining_turns", m.buffer.TurnCount())
}
