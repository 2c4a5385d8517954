package convengine

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/relaydb/dbagent/internal/audit"
	"github.com/relaydb/dbagent/internal/dbadapter"
	"github.com/relaydb/dbagent/internal/i18n"
	"github.com/relaydb/dbagent/internal/migration"
	"github.com/relaydb/dbagent/internal/models"
	"github.com/relaydb/dbagent/internal/observability"
	"github.com/relaydb/dbagent/internal/sessionstore"
	"github.com/relaydb/dbagent/internal/skills"
	exectools "github.com/relaydb/dbagent/internal/tools/exec"
)

// resumptionHintMarker prefixes a user message when the prior turn was
// interrupted mid-flight, so the model can tell "resume" from "new ask".
const resumptionHintMarker = "[resuming after interruption] "

// defaultMaxIterations bounds the LLM/tool-call loop per turn (spec.md §4.10).
const defaultMaxIterations = 30

// InterruptedState is the snapshot taken when an interrupt is observed
// mid-turn, so the next chat() call can prepend a resumption hint.
type InterruptedState struct {
	Iteration       int
	OriginalMessage string
}

// Engine is the Agent Conversation Engine (C10): the turn loop that drives
// LLM/tool-call iteration against one session, one active database
// connection, and the collaborators that back each tool family.
//
// Scheduling is single-threaded cooperative: at most one in-flight LLM
// call and one in-flight tool call per Engine. A second concurrent Chat
// call on the same instance is undefined (spec.md §5) — callers running
// multiple sessions must use one Engine per session.
type Engine struct {
	llm     LLMClient
	store   sessionstore.Store
	audit   *audit.Service
	migration *migration.Handler

	adapter          dbadapter.Adapter
	sourceDBAdapter  dbadapter.Adapter
	sourceEngine     models.EngineKind
	targetEngine     models.EngineKind

	toolServers *ToolServerManager
	execManager *exectools.Manager

	skillEntries     map[string]*skills.SkillEntry
	skillCallContext map[string]string

	sessionID string
	language  string

	history    []*models.ChatMessage
	pendingOps []models.PendingOperation

	interruptRequested   atomic.Bool
	interruptedState     *InterruptedState
	autoExecuteMigration bool

	maxIterations int
	compressor    *Compressor
	summarizer    Summarizer

	systemPromptBase string
	toolCatalog      []ToolDef
	toolSchemas      map[string]json.RawMessage
	argValidator     *argValidator

	onMigrationProgress func(toolName string, result dispatchResult)

	metrics      *observability.Metrics
	sessionStart time.Time
}

// Config constructs an Engine. LLM, Store, and SessionID are required;
// every other collaborator is optional and the corresponding tool family
// is simply unavailable (Dispatch reports a clean error) when nil.
type Config struct {
	LLM       LLMClient
	Store     sessionstore.Store
	Audit     *audit.Service
	Migration *migration.Handler

	Adapter         dbadapter.Adapter
	SourceAdapter   dbadapter.Adapter
	SourceEngine    models.EngineKind
	TargetEngine    models.EngineKind

	ToolServers *ToolServerManager
	ExecManager *exectools.Manager
	Skills      map[string]*skills.SkillEntry

	SessionID        string
	Language         string
	SystemPromptBase string
	MaxIterations    int

	// Metrics is optional; when nil, the engine simply records nothing.
	Metrics *observability.Metrics
}

// New builds an Engine from cfg, loading no history — callers resuming an
// existing session should follow with LoadHistory.
func New(cfg Config) *Engine {
	maxIter := cfg.MaxIterations
	if maxIter <= 0 {
		maxIter = defaultMaxIterations
	}
	lang := cfg.Language
	if lang == "" {
		lang = "en"
	}
	if cfg.Metrics != nil {
		cfg.Metrics.SessionStarted()
	}
	return &Engine{
		llm:              cfg.LLM,
		store:            cfg.Store,
		audit:            cfg.Audit,
		migration:        cfg.Migration,
		adapter:          cfg.Adapter,
		sourceDBAdapter:  cfg.SourceAdapter,
		sourceEngine:     cfg.SourceEngine,
		targetEngine:     cfg.TargetEngine,
		toolServers:      cfg.ToolServers,
		execManager:      cfg.ExecManager,
		skillEntries:     cfg.Skills,
		skillCallContext: map[string]string{},
		sessionID:        cfg.SessionID,
		language:         lang,
		maxIterations:    maxIter,
		compressor:       NewCompressor(0, 0),
		systemPromptBase: cfg.SystemPromptBase,
		metrics:          cfg.Metrics,
		sessionStart:     time.Now(),
		argValidator:     newArgValidator(),
	}
}

// Close records the session's final duration. Callers that built an
// Engine with metrics configured should defer this once per session.
func (e *Engine) Close() {
	if e.metrics == nil {
		return
	}
	e.metrics.SessionEnded(time.Since(e.sessionStart).Seconds())
}

// SetToolCatalog installs the tool definitions sent to the LLM every turn
// (built by the caller via the toolregistry package, which is the only
// component that knows about every tool family at once). It also indexes
// each tool's parameter schema by name, so Dispatch can validate incoming
// arguments before routing the call anywhere.
func (e *Engine) SetToolCatalog(tools []ToolDef) {
	e.toolCatalog = tools
	schemas := make(map[string]json.RawMessage, len(tools))
	for _, t := range tools {
		schemas[t.Name] = t.Parameters
	}
	e.toolSchemas = schemas
}

// SetSummarizer installs the LLM-backed compressor summarizer. Without
// one, compression always falls back to the statistical summary.
func (e *Engine) SetSummarizer(s Summarizer) { e.summarizer = s }

// SetMigrationProgressObserver installs the callback notified after every
// migration tool dispatch.
func (e *Engine) SetMigrationProgressObserver(fn func(toolName string, result dispatchResult)) {
	e.onMigrationProgress = fn
}

// LoadHistory replaces the in-memory history, used when resuming a
// session the durable store already has messages for.
func (e *Engine) LoadHistory(messages []*models.ChatMessage) { e.history = messages }

// RequestInterrupt sets the cooperative interrupt flag. The engine
// observes it before the next LLM call and before/after the next tool
// call; it never kills a tool call mid-flight (spec.md §5).
func (e *Engine) RequestInterrupt() { e.interruptRequested.Store(true) }

// StartAutoExecuteMigration turns on the engine's auto-execute override
// for the duration of a migration task: every execute_sql tool call
// dispatched from here on is forced confirmed=true regardless of what
// the LLM supplied, and the turn loop ignores maxIterations so a long
// batch can drain without the caller re-entering Chat (spec.md §4.9).
// The override clears itself the moment the model calls
// generate_migration_report for that task.
//
// Callers MUST only do this for a task whose MigrationTask.AutoExecute
// is true — the engine itself has no notion of which task is active.
func (e *Engine) StartAutoExecuteMigration() { e.autoExecuteMigration = true }

// skillLookup finds a skill entry by bare name (without the skill_ prefix).
func (e *Engine) skillLookup(name string) (*skills.SkillEntry, bool) {
	if e.skillEntries == nil {
		return nil, false
	}
	entry, ok := e.skillEntries[name]
	return entry, ok
}

// ChatResult is what Chat returns. Interrupted is the spec's "None"
// sentinel: the turn was paused and must be resumed by a follow-up Chat
// call, which will carry the resumption hint automatically.
type ChatResult struct {
	Interrupted  bool
	Content      string
	PendingOps   []models.PendingOperation
	ToolStatuses []string // status tags of any tool results returned this turn
}

// Chat runs the turn loop described in spec.md §4.10: it appends and
// persists userMessage, then alternates LLM calls and tool dispatch until
// the model stops, errors, asks for confirmation/input, or the iteration
// budget (or an active auto-execute-migration task) is exhausted.
func (e *Engine) Chat(ctx context.Context, userMessage string) (ChatResult, error) {
	e.interruptRequested.Store(false)
	e.pendingOps = nil

	msg := userMessage
	if e.interruptedState != nil {
		msg = resumptionHintMarker + userMessage
		e.interruptedState = nil
	}

	userMsg := e.newMessage(models.RoleUser, msg, nil, "")
	if err := e.persist(ctx, userMsg); err != nil {
		return ChatResult{}, fmt.Errorf("persist user message: %w", err)
	}
	e.history = append(e.history, userMsg)

	for iteration := 0; iteration < e.maxIterations || e.autoExecuteMigration; iteration++ {
		if e.interruptRequested.Load() {
			e.interruptedState = &InterruptedState{Iteration: iteration, OriginalMessage: userMessage}
			return ChatResult{Interrupted: true}, nil
		}

		if e.compressor.NeedsCompression(e.llm.ModelID(), e.systemPromptBase, e.history) {
			if err := e.runCompression(ctx); err != nil {
				return ChatResult{}, fmt.Errorf("compress history: %w", err)
			}
		}

		llmStart := time.Now()
		resp, err := e.llm.Chat(ctx, e.history, e.systemPromptBase, e.toolCatalog)
		e.recordLLMCall(llmStart, err)
		if err != nil {
			return ChatResult{Content: localizedLLMError(e.language, err)}, nil
		}

		switch resp.FinishReason {
		case FinishStop:
			assistantMsg := e.newMessage(models.RoleAssistant, resp.Content, nil, "")
			if perr := e.persist(ctx, assistantMsg); perr != nil {
				return ChatResult{}, fmt.Errorf("persist assistant message: %w", perr)
			}
			e.history = append(e.history, assistantMsg)
			return ChatResult{Content: resp.Content}, nil

		case FinishError:
			return ChatResult{Content: resp.Content}, nil

		case FinishToolCalls:
			toolCalls := make([]models.ToolCall, len(resp.ToolCalls))
			for i, tc := range resp.ToolCalls {
				toolCalls[i] = models.ToolCall{ID: tc.ID, Name: tc.Name, Arguments: tc.Arguments, Signature: tc.Signature}
			}
			assistantMsg := e.newMessage(models.RoleAssistant, resp.Content, toolCalls, "")
			if err := e.persist(ctx, assistantMsg); err != nil {
				return ChatResult{}, fmt.Errorf("persist assistant message: %w", err)
			}
			e.history = append(e.history, assistantMsg)

			for _, call := range toolCalls {
				if e.interruptRequested.Load() {
					e.interruptedState = &InterruptedState{Iteration: iteration, OriginalMessage: userMessage}
					return ChatResult{Interrupted: true, Content: resp.Content}, nil
				}

				toolStart := time.Now()
				result := e.dispatch(ctx, call)
				e.recordToolCall(call.Name, toolStart, result)

				toolMsg := e.newMessage(models.RoleTool, result.marshal(), nil, call.ID)
				if err := e.persist(ctx, toolMsg); err != nil {
					return ChatResult{}, fmt.Errorf("persist tool result: %w", err)
				}
				e.history = append(e.history, toolMsg)

				if e.interruptRequested.Load() {
					e.interruptedState = &InterruptedState{Iteration: iteration, OriginalMessage: userMessage}
					return ChatResult{Interrupted: true, Content: resp.Content}, nil
				}

				switch result.Status {
				case "pending_confirmation", "pending_performance_confirmation", "form_input_requested":
					return ChatResult{Content: resp.Content, PendingOps: e.pendingOps, ToolStatuses: []string{result.Status}}, nil
				}
			}
		}
	}

	return ChatResult{Content: i18n.T(e.language, "max_iterations_reached")}, nil
}

// ConfirmOperation pops the pending operation at index and invokes the
// adapter with confirmed=true. The caller must resume the turn with a
// follow-up Chat call carrying an execution-feedback message.
func (e *Engine) ConfirmOperation(ctx context.Context, index int) (dispatchResult, error) {
	if index < 0 || index >= len(e.pendingOps) {
		return dispatchResult{}, fmt.Errorf("pending operation index %d out of range", index)
	}
	op := e.pendingOps[index]
	e.pendingOps = append(e.pendingOps[:index], e.pendingOps[index+1:]...)

	a := args(op.ToolCall.Arguments)
	if a == nil {
		a = map[string]any{}
	}
	a["confirmed"] = true
	op.ToolCall.Arguments = mustJSON(a)

	return e.dispatch(ctx, op.ToolCall), nil
}

// newMessage stamps a fresh ChatMessage with a generated ID and timestamp;
// the session store requires both to be set before AddMessage is called.
func (e *Engine) newMessage(role models.Role, content string, toolCalls []models.ToolCall, toolCallID string) *models.ChatMessage {
	return &models.ChatMessage{
		ID:         uuid.NewString(),
		SessionID:  e.sessionID,
		Role:       role,
		Content:    content,
		ToolCalls:  toolCalls,
		ToolCallID: toolCallID,
		CreatedAt:  time.Now(),
	}
}

func (e *Engine) persist(ctx context.Context, msg *models.ChatMessage) error {
	if e.store == nil {
		return nil
	}
	return e.store.AddMessage(ctx, msg)
}

func (e *Engine) runCompression(ctx context.Context) error {
	var summarize Summarizer
	if e.summarizer != nil {
		summarize = e.summarizer
	} else if e.llm != nil {
		summarize = func(ctx context.Context, toSummarize []*models.ChatMessage, language string) (string, error) {
			resp, err := e.llm.Chat(ctx, toSummarize, summarizationPrompt(language), nil)
			if err != nil {
				return "", err
			}
			return resp.Content, nil
		}
	}

	summary, retained := e.compressor.Compress(ctx, e.sessionID, e.language, e.history, summarize)
	if summary == nil {
		return nil
	}
	if e.store != nil {
		if err := e.store.SaveContextSummary(ctx, summary); err != nil {
			return err
		}
		if _, err := e.store.DeleteOldestN(ctx, e.sessionID, summary.MessagesReplaced); err != nil {
			return err
		}
	}
	e.history = retained
	return nil
}

func summarizationPrompt(language string) string {
	return fmt.Sprintf("Summarize the following conversation concisely, in language %q, preserving any decisions and pending work.", language)
}

// localizedLLMError renders an LLM API error as assistant-facing content.
// The engine never retries these — retry policy is the LLMClient's job.
func localizedLLMError(language string, err error) string {
	return i18n.T(language, "llm_error") + ": " + err.Error()
}

// recordLLMCall reports one LLM round trip's latency/outcome and the
// estimated context window it carried, using the same token estimator the
// compressor uses rather than provider-reported usage, since not every
// LLMClient implementation surfaces one.
func (e *Engine) recordLLMCall(start time.Time, err error) {
	if e.metrics == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
		e.metrics.RecordError("engine", "llm_request_failed")
	}
	provider, model := e.llm.Provider(), e.llm.ModelID()
	e.metrics.RecordLLMRequest(provider, model, status, time.Since(start).Seconds(), 0, 0)
	e.metrics.RecordContextWindow(provider, model, e.compressor.counter.Count(e.systemPromptBase)+e.compressor.counter.CountMessages(e.history))
}

// recordToolCall reports one dispatched tool call's latency/outcome, and
// additionally as a database-query observation when it reached a live
// adapter (the dbBuiltinNames family).
func (e *Engine) recordToolCall(name string, start time.Time, result dispatchResult) {
	if e.metrics == nil {
		return
	}
	elapsed := time.Since(start).Seconds()
	e.metrics.RecordToolExecution(name, result.Status, elapsed)
	if result.Status == "error" {
		e.metrics.RecordError("dispatch", name)
	}
	if dbBuiltinNames[name] && e.adapter != nil {
		e.metrics.RecordDatabaseQuery(string(e.adapter.Engine()), name, elapsed)
	}
}
