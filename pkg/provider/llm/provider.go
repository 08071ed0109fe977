// Package llm is the contract between the translator and its chat-completion
// backends: the request and response shapes, the [Provider] interface, token
// estimation and the limits of well-known models. The openai and anyllm
// subpackages implement it; implementations must be safe for concurrent use.
package llm

import (
	"context"
	"strings"
	"unicode"
)

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one conversation turn. Role is one of the Role constants.
type Message struct {
	Role    string
	Content string
}

// Usage is the token accounting a backend reports for one completion.
// Counts are in the model's own token unit.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// CompletionRequest is one chat-completion call.
type CompletionRequest struct {
	Messages []Message

	// SystemPrompt goes before Messages. Backends without a system field
	// receive it as a leading system message.
	SystemPrompt string

	// Temperature and MaxTokens keep the backend default when zero.
	Temperature float64
	MaxTokens   int
}

// CompletionResponse is the assistant's reply to a [CompletionRequest].
type CompletionResponse struct {
	Content string
	Usage   Usage
}

// ModelCapabilities are the token limits of a model. The translator sizes
// segmentation prompts against ContextWindow.
type ModelCapabilities struct {
	ContextWindow   int
	MaxOutputTokens int
}

// Provider is a chat-completion backend. Complete must return promptly once
// ctx is cancelled. CountTokens may overestimate but must not undercount.
type Provider interface {
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
	CountTokens(messages []Message) (int, error)
	Capabilities() ModelCapabilities
}

// EstimateTokens approximates the prompt size of messages without a
// tokenizer: roughly four bytes per token for alphabetic text, one token per
// ideographic, kana or hangul rune, and a fixed per-message overhead.
func EstimateTokens(messages []Message) int {
	total := 0
	for _, m := range messages {
		wide, narrow := 0, 0
		for _, r := range m.Content {
			if unicode.In(r, unicode.Han, unicode.Hiragana, unicode.Katakana, unicode.Hangul) {
				wide++
				continue
			}
			narrow += len(string(r))
		}
		total += wide + (narrow+3)/4
		// Per-message overhead (role + formatting tokens).
		total += 4
	}
	return total
}

// KnownCapabilities returns the limits of well-known model families.
// Unknown models receive conservative defaults.
func KnownCapabilities(model string) ModelCapabilities {
	caps := ModelCapabilities{ContextWindow: 128_000, MaxOutputTokens: 4_096}

	lower := strings.ToLower(model)
	switch {
	// ── OpenAI ───────────────────────────────────────────────────────────────
	case strings.HasPrefix(lower, "gpt-4o"), strings.HasPrefix(lower, "gpt-4.1"):
		caps.MaxOutputTokens = 16_384
	case strings.HasPrefix(lower, "gpt-4-turbo"):
		caps.MaxOutputTokens = 4_096
	case strings.HasPrefix(lower, "gpt-4"):
		caps.ContextWindow = 8_192
	case strings.HasPrefix(lower, "gpt-3.5-turbo"):
		caps.ContextWindow = 16_385
	case strings.HasPrefix(lower, "o1-mini"):
		caps.MaxOutputTokens = 65_536
	case strings.HasPrefix(lower, "o1"), strings.HasPrefix(lower, "o3"), strings.HasPrefix(lower, "o4"):
		caps.ContextWindow = 200_000
		caps.MaxOutputTokens = 100_000

	// ── Anthropic ────────────────────────────────────────────────────────────
	case strings.Contains(lower, "claude-3-opus"):
		caps.ContextWindow = 200_000
	case strings.HasPrefix(lower, "claude"):
		caps.ContextWindow = 200_000
		caps.MaxOutputTokens = 8_192

	// ── Google ───────────────────────────────────────────────────────────────
	case strings.Contains(lower, "gemini-1.5-pro"):
		caps.ContextWindow = 2_097_152
		caps.MaxOutputTokens = 8_192
	case strings.Contains(lower, "gemini-1.5-flash"), strings.Contains(lower, "gemini-2"):
		caps.ContextWindow = 1_048_576
		caps.MaxOutputTokens = 8_192
	case strings.HasPrefix(lower, "gemini"):
		caps.MaxOutputTokens = 8_192
	}
	return caps
}
