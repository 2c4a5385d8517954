package convengine

import (
	"context"
	"fmt"

	"github.com/relaydb/dbagent/internal/models"
	"github.com/relaydb/dbagent/internal/tokencounter"
)

// summaryMarker prefixes every summary so the packed history is
// unambiguously distinguishable from a real assistant turn.
const summaryMarker = "[conversation summary]"

// Compressor implements C5: it decides when a session's history is close
// enough to the model's context window to need summarizing, and produces
// the summary (via the LLM, with a statistical fallback) when it is.
type Compressor struct {
	counter    *tokencounter.Counter
	keepRecent int
	fraction   float64
}

// NewCompressor builds a Compressor. keepRecent defaults to 10 and
// fraction to 0.8 when <= 0, matching spec.md §4.5's defaults.
func NewCompressor(keepRecent int, fraction float64) *Compressor {
	if keepRecent <= 0 {
		keepRecent = 10
	}
	if fraction <= 0 {
		fraction = 0.8
	}
	return &Compressor{counter: tokencounter.New(), keepRecent: keepRecent, fraction: fraction}
}

// NeedsCompression reports whether tokens(systemPrompt) + tokens(history)
// meets or exceeds the compression threshold for modelID.
func (c *Compressor) NeedsCompression(modelID, systemPrompt string, history []*models.ChatMessage) bool {
	total := c.counter.Count(systemPrompt) + c.counter.CountMessages(history)
	return total >= tokencounter.Threshold(modelID, c.fraction)
}

// splitIndex returns the index in history at which the retained suffix
// should begin: len(history)-keepRecent, extended backwards as needed so
// the split never severs an assistant-with-tool-calls message from its
// tool results (spec.md §4.5's hard invariant).
func (c *Compressor) splitIndex(history []*models.ChatMessage) int {
	idx := len(history) - c.keepRecent
	if idx <= 0 {
		return 0
	}
	// Walk backwards while the message at idx is a tool result (role=tool)
	// whose triggering assistant-with-tool-calls message would otherwise be
	// left in the summarized prefix, or is itself an assistant message with
	// tool calls whose results would be split off into the retained suffix.
	for idx > 0 {
		m := history[idx]
		if m == nil {
			break
		}
		if m.Role == models.RoleTool {
			// A tool result at the boundary: its assistant call must stay
			// on the same side. Walk back until we cross that assistant
			// message, then split just before it.
			idx--
			continue
		}
		if m.Role == models.RoleAssistant && len(m.ToolCalls) > 0 {
			// Check whether all of this message's tool results are already
			// in the retained suffix (i.e. the very next messages). If a
			// required tool result would land before idx, pull the split
			// back further.
			needed := toolCallIDs(m.ToolCalls)
			j := idx + 1
			for j < len(history) && len(needed) > 0 {
				if history[j] != nil && history[j].Role == models.RoleTool {
					delete(needed, history[j].ToolCallID)
				}
				j++
			}
			if len(needed) > 0 {
				idx--
				continue
			}
		}
		break
	}
	if idx < 0 {
		idx = 0
	}
	return idx
}

func toolCallIDs(calls []models.ToolCall) map[string]struct{} {
	out := make(map[string]struct{}, len(calls))
	for _, tc := range calls {
		out[tc.ID] = struct{}{}
	}
	return out
}

// Summarizer abstracts the LLM call the compressor uses to produce a
// natural-language summary; the conversation engine's LLMClient satisfies
// this via a thin adapter so the compressor itself stays decoupled from
// the full chat contract.
type Summarizer func(ctx context.Context, toSummarize []*models.ChatMessage, language string) (string, error)

// Compress splits history at the tool-call-safe boundary, summarizes the
// older prefix (falling back to a statistical summary if summarize fails
// or is nil), and returns the summary plus the retained suffix. It never
// loses the retained suffix, even on LLM failure.
func (c *Compressor) Compress(ctx context.Context, sessionID, language string, history []*models.ChatMessage, summarize Summarizer) (*models.ContextSummary, []*models.ChatMessage) {
	idx := c.splitIndex(history)
	toSummarize := history[:idx]
	retained := history[idx:]

	if len(toSummarize) == 0 {
		return nil, retained
	}

	tokensBefore := c.counter.CountMessages(history)

	var text string
	var err error
	if summarize != nil {
		text, err = summarize(ctx, toSummarize, language)
	}
	if summarize == nil || err != nil {
		text = statisticalSummary(toSummarize)
	}
	text = summaryMarker + " " + text

	summary := &models.ContextSummary{
		SessionID:        sessionID,
		Summary:          text,
		MessagesReplaced: len(toSummarize),
		TokensBefore:     tokensBefore,
		TokensAfter:      c.counter.Count(text) + c.counter.CountMessages(retained),
	}
	return summary, retained
}

// statisticalSummary produces the non-LLM fallback: a plain count of
// user/assistant/tool messages that were compressed away.
func statisticalSummary(messages []*models.ChatMessage) string {
	var users, assistants, tools int
	for _, m := range messages {
		if m == nil {
			continue
		}
		switch m.Role {
		case models.RoleUser:
			users++
		case models.RoleAssistant:
			assistants++
		case models.RoleTool:
			tools++
		}
	}
	return fmt.Sprintf("%d user / %d assistant / %d tool messages compressed", users, assistants, tools)
}
