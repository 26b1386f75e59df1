package memory

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"
)

// Buffer holds the recency-ordered turns of one conversation session.
// Insertion order is the only order; turns are never re-sorted.
//
// A Buffer has no internal locking: it is owned by exactly one caller at a
// time. Concurrent access goes through a Manager, which serializes.
type Buffer struct {
	sessionID string
	turns     []Turn
}

// NewBuffer creates an empty buffer for the session.
func NewBuffer(sessionID string) *Buffer {
	return &Buffer{sessionID: sessionID}
}

// SessionID returns the session this buffer belongs to.
func (b *Buffer) SessionID() string {
	return b.sessionID
}

// TurnCount returns the number of turns currently held.
func (b *Buffer) TurnCount() int {
	return len(b.turns)
}

// AddUserMessage appends a user turn. Empty or whitespace-only text is
// rejected.
func (b *Buffer) AddUserMessage(text string) error {
	return b.append(RoleUser, text)
}

// AddAssistantMessage appends an assistant turn. Empty or whitespace-only
// text is rejected.
func (b *Buffer) AddAssistantMessage(text string) error {
	return b.append(RoleAssistant, text)
}

func (b *Buffer) append(role Role, text string) error {
	if strings.TrimSpace(text) == "" {
		return goerr.New("message text is empty", goerr.T(ErrTagValidation),
			goerr.V("session_id", b.sessionID), goerr.V("role", string(role)))
	}
	b.turns = append(b.turns, Turn{
		Role:      role,
		Text:      text,
		Timestamp: time.Now().UTC(),
	})
	return nil
}

// Messages returns the most recent lastN turns, or all turns when lastN <= 0.
// The result is a copy; calling Messages never consumes the buffer.
func (b *Buffer) Messages(lastN int) []Turn {
	turns := b.turns
	if lastN > 0 && lastN < len(turns) {
		turns = turns[len(turns)-lastN:]
	}
	out := make([]Turn, len(turns))
	copy(out, turns)
	return out
}

// Context renders the buffer as role-prefixed lines, one per turn, suitable
// for prompt injection. Deterministic for a given buffer state.
func (b *Buffer) Context() string {
	if len(b.turns) == 0 {
		return ""
	}
	lines := make([]string, 0, len(b.turns))
	for _, turn := range b.turns {
		lines = append(lines, turn.Role.Label()+": "+turn.Text)
	}
	return strings.Join(lines, "\n")
}

// Clear empties the buffer. Idempotent.
func (b *Buffer) Clear() {
	b.turns = nil
}

// trimOldest drops the oldest n turns. Used by the Manager after it has
// folded them into a rolling summary.
func (b *Buffer) trimOldest(n int) {
	if n <= 0 {
		return
	}
	if n >= len(b.turns) {
		b.turns = nil
		return
	}
	kept := make([]Turn, len(b.turns)-n)
	copy(kept, b.turns[n:])
	b.turns = kept
}

type bufferJSON struct {
	SessionID string `json:"session_id"`
	Turns     []Turn `json:"turns"`
	TurnCount int    `json:"turn_count"`
}

// MarshalJSON encodes the buffer as
// {session_id, turns: [{role, text, timestamp}], turn_count}.
func (b *Buffer) MarshalJSON() ([]byte, error) {
	return json.Marshal(bufferJSON{
		SessionID: b.sessionID,
		Turns:     b.Messages(0),
		TurnCount: len(b.turns),
	})
}

// UnmarshalJSON restores a buffer encoded by MarshalJSON. Every turn field
// and the insertion order are preserved exactly.
func (b *Buffer) UnmarshalJSON(data []byte) error {
	var raw bufferJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return goerr.Wrap(err, "failed to decode buffer", goerr.T(ErrTagValidation))
	}
	if raw.TurnCount != len(raw.Turns) {
		return goerr.New("turn_count does not match turns", goerr.T(ErrTagValidation),
			goerr.V("turn_count", raw.TurnCount), goerr.V("turns", len(raw.Turns)))
	}
	for i, turn := range raw.Turns {
		if !turn.Role.Valid() {
			return goerr.New("unknown role", goerr.T(ErrTagValidation),
				goerr.V("role", string(turn.Role)), goerr.V("index", i))
		}
	}
	b.sessionID = raw.SessionID
	b.turns = raw.Turns
	return nil
}
