// Package claude implements memory.Summarizer with the Anthropic API.
// It condenses old conversation turns into a rolling summary so the buffer
// can stay bounded without losing earlier context.
package claude

import (
	"context"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/m-mizutani/goerr/v2"

	"github.com/agenthq/memkit/memory"
)

const systemPrompt = `You maintain a running summary of a conversation between a user and an assistant.
Merge the previous summary (if any) with the new turns into one concise summary.
Keep stated facts about the user, decisions made, and open tasks. Write plain prose, no headers.`

// Config configures the summarizer.
type Config struct {
	// Model is the Anthropic model ID. Default: claude-3-5-haiku-latest.
	Model string

	// MaxTokens bounds the summary length. Default: 1024.
	MaxTokens int64
}

// Summarizer produces rolling conversation summaries via Claude.
type Summarizer struct {
	client *anthropic.Client
	cfg    Config
}

// New creates a Summarizer using the given API client.
func New(client *anthropic.Client, cfg Config) (*Summarizer, error) {
	if client == nil {
		return nil, goerr.New("anthropic client is required", goerr.T(memory.ErrTagValidation))
	}
	if cfg.Model == "" {
		cfg.Model = "claude-3-5-haiku-latest"
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 1024
	}
	return &Summarizer{client: client, cfg: cfg}, nil
}

// Summarize merges the prior summary with the given turns into a new one.
func (s *Summarizer) Summarize(ctx context.Context, prior string, turns []memory.Turn) (string, error) {
	if len(turns) == 0 {
		return prior, nil
	}

	var b strings.Builder
	if prior != "" {
		b.WriteString("Previous summary:\n")
		b.WriteString(prior)
		b.WriteString("\n\n")
	}
	b.WriteString("New turns:\n")
	for _, turn := range turns {
		b.WriteString(turn.Role.Label())
		b.WriteString(": ")
		b.WriteString(turn.Text)
		b.WriteString("\n")
	}

	resp, err := s.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(s.cfg.Model),
		MaxTokens: s.cfg.MaxTokens,
		System: []anthropic.TextBlockParam{
			{Text: systemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(b.String())),
		},
	})
	if err != nil {
		return "", goerr.Wrap(err, "summary request failed", goerr.V("model", s.cfg.Model))
	}

	var summary strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			summary.WriteString(block.Text)
		}
	}
	out := strings.TrimSpace(summary.String())
	if out == "" {
		return "", goerr.New("model returned an empty summary", goerr.V("model", s.cfg.Model))
	}
	return out, nil
}

var _ memory.Summarizer = (*Summarizer)(nil)
