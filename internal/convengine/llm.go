// Package convengine implements the Agent Conversation Engine (spec.md §4.10):
// the turn loop that drives LLM/tool-call iteration, the dispatcher that
// routes tool calls to database adapters, the migration handler, skills, and
// external tool-servers, and the pending-operation/interrupt/auto-execute
// state machine that makes confirmation-gated and unattended migration
// possible.
package convengine

import (
	"context"
	"encoding/json"

	"github.com/relaydb/dbagent/internal/models"
)

// FinishReason is the LLM's signal for how a completion ended.
type FinishReason string

const (
	FinishStop      FinishReason = "stop"
	FinishToolCalls FinishReason = "tool_calls"
	FinishError     FinishReason = "error"
)

// ToolDef is one entry in the tool catalog sent to the LLM on every turn:
// function name, natural-language description, and JSON-schema parameters.
type ToolDef struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// ResponseToolCall is one tool call the LLM emitted in a completion.
// Signature carries an opaque provider-specific blob (Gemini's
// thought_signature is the canonical example) that must be round-tripped
// verbatim into the next turn's history.
type ResponseToolCall struct {
	ID        string
	Name      string
	Arguments json.RawMessage
	Signature []byte
}

// Response is the LLM client's uniform completion contract (spec.md §6).
type Response struct {
	FinishReason FinishReason
	Content      string
	ToolCalls    []ResponseToolCall
}

// LLMClient is the collaborator interface the conversation engine drives.
// Implementations translate to/from a specific provider's wire format;
// the engine only ever sees this shape.
type LLMClient interface {
	// Chat sends the full message history and tool catalog and returns one
	// completion. Implementations own their own retry policy — the engine
	// does not retry LLM API errors (spec.md §7).
	Chat(ctx context.Context, messages []*models.ChatMessage, systemPrompt string, tools []ToolDef) (Response, error)

	// ModelID identifies the active model, used to look up the context
	// window for compression thresholds.
	ModelID() string

	// Provider identifies the vendor family (e.g. "claude", "openai"),
	// used purely as a metrics label.
	Provider() string
}
