// Package tokencounter estimates token usage for conversation history and
// exposes the per-model context window table the compressor checks against.
//
// There is no byte-pair encoder dependency in this module's stack, so the
// counter always uses the chars/4 heuristic described in spec.md §4.5 — the
// same fallback the spec names for when a BPE tokenizer isn't available.
// See DESIGN.md for why no tokenizer library was wired in.
package tokencounter

import (
	"strings"

	"github.com/relaydb/dbagent/internal/models"
)

// charsPerToken is the fallback heuristic: len(text) / 4.
const charsPerToken = 4

// Counter estimates token counts for text and chat history.
type Counter struct{}

// New returns a ready-to-use Counter.
func New() *Counter {
	return &Counter{}
}

// Count estimates the number of tokens in text.
func (c *Counter) Count(text string) int {
	if text == "" {
		return 0
	}
	n := len(text) / charsPerToken
	if n == 0 {
		return 1
	}
	return n
}

// CountMessages estimates the total token count across a list of chat
// messages, including tool call arguments and tool-result content.
func (c *Counter) CountMessages(messages []*models.ChatMessage) int {
	total := 0
	for _, m := range messages {
		if m == nil {
			continue
		}
		total += c.Count(m.Content)
		for _, tc := range m.ToolCalls {
			total += c.Count(tc.Name)
			total += c.Count(string(tc.Arguments))
		}
	}
	return total
}

// contextLimits maps a model id substring (checked case-insensitively, in
// the order listed) to its context window size. This is the provider-family
// default table from spec.md §4.5.
var contextLimits = []struct {
	match string
	limit int
}{
	{"claude", 200_000},
	{"gpt-4o", 128_000},
	{"gpt-4", 128_000},
	{"o1", 128_000},
	{"deepseek", 64_000},
	{"gemini-1.5", 1_000_000},
	{"gemini", 1_000_000},
	{"qwen", 32_000},
}

// genericLimit is used when no known model family matches.
const genericLimit = 8_000

// ContextLimit returns the context window size for modelID, falling back
// to a generic 8k window for unrecognized models.
func ContextLimit(modelID string) int {
	lower := strings.ToLower(modelID)
	for _, entry := range contextLimits {
		if strings.Contains(lower, entry.match) {
			return entry.limit
		}
	}
	return genericLimit
}

// Threshold returns the token count at which compression should trigger:
// fraction * ContextLimit(modelID). fraction defaults to 0.8 when <= 0.
func Threshold(modelID string, fraction float64) int {
	if fraction <= 0 {
		fraction = 0.8
	}
	return int(float64(ContextLimit(modelID)) * fraction)
}
