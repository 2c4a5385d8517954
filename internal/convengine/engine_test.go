package convengine

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/relaydb/dbagent/internal/dbadapter"
	"github.com/relaydb/dbagent/internal/models"
)

// fakeLLM scripts a fixed sequence of responses, one per Chat call.
type fakeLLM struct {
	model     string
	responses []Response
	calls     int
}

func (f *fakeLLM) ModelID() string { return f.model }

func (f *fakeLLM) Provider() string { return "fake" }

func (f *fakeLLM) Chat(ctx context.Context, messages []*models.ChatMessage, systemPrompt string, tools []ToolDef) (Response, error) {
	if f.calls >= len(f.responses) {
		return Response{FinishReason: FinishStop, Content: "done"}, nil
	}
	r := f.responses[f.calls]
	f.calls++
	return r, nil
}

// fakeStore is a minimal in-memory sessionstore.Store sufficient for the
// engine's own calls (AddMessage / SaveContextSummary / DeleteOldestN).
type fakeStore struct {
	messages []*models.ChatMessage
}

func (s *fakeStore) CreateSession(ctx context.Context, session *models.Session) error { return nil }
func (s *fakeStore) GetSession(ctx context.Context, id string) (*models.Session, error) {
	return nil, nil
}
func (s *fakeStore) ListSessions(ctx context.Context) ([]*models.Session, error) { return nil, nil }
func (s *fakeStore) RenameSession(ctx context.Context, id, name string) error    { return nil }
func (s *fakeStore) DeleteSession(ctx context.Context, id string) error          { return nil }
func (s *fakeStore) SetCurrentSession(ctx context.Context, id string) error      { return nil }
func (s *fakeStore) GetCurrentSession(ctx context.Context) (*models.Session, error) {
	return nil, nil
}
func (s *fakeStore) AddMessage(ctx context.Context, msg *models.ChatMessage) error {
	s.messages = append(s.messages, msg)
	return nil
}
func (s *fakeStore) GetSessionMessages(ctx context.Context, sessionID string) ([]*models.ChatMessage, error) {
	return s.messages, nil
}
func (s *fakeStore) ClearSessionMessages(ctx context.Context, sessionID string) error {
	s.messages = nil
	return nil
}
func (s *fakeStore) DeleteOldestN(ctx context.Context, sessionID string, n int) (int, error) {
	if n > len(s.messages) {
		n = len(s.messages)
	}
	s.messages = s.messages[n:]
	return n, nil
}
func (s *fakeStore) SaveContextSummary(ctx context.Context, summary *models.ContextSummary) error {
	return nil
}
func (s *fakeStore) GetLatestSummary(ctx context.Context, sessionID string) (*models.ContextSummary, error) {
	return nil, nil
}
func (s *fakeStore) AppendAuditLog(ctx context.Context, entry *models.AuditLog) error { return nil }
func (s *fakeStore) Cleanup(ctx context.Context, olderThanDays int) (int64, error)    { return 0, nil }

// fakeAdapter implements dbadapter.Adapter with scriptable ExecuteSQL and
// CheckQueryPerformance; every other method returns a plain success.
type fakeAdapter struct {
	executeSQLResult dbadapter.Result
	perfResult       dbadapter.Result
	executeSQLCalls  int
}

func (a *fakeAdapter) Engine() models.EngineKind { return models.EnginePostgreSQL }
func (a *fakeAdapter) Close() error              { return nil }
func (a *fakeAdapter) GetDBInfo(ctx context.Context) dbadapter.Result {
	return dbadapter.Result{Status: dbadapter.StatusSuccess}
}
func (a *fakeAdapter) ListTables(ctx context.Context, schema string) dbadapter.Result {
	return dbadapter.Result{Status: dbadapter.StatusSuccess}
}
func (a *fakeAdapter) DescribeTable(ctx context.Context, table, schema string) dbadapter.Result {
	return dbadapter.Result{Status: dbadapter.StatusSuccess}
}
func (a *fakeAdapter) GetSampleData(ctx context.Context, table, schema string, limit int) dbadapter.Result {
	return dbadapter.Result{Status: dbadapter.StatusSuccess}
}
func (a *fakeAdapter) ListDatabases(ctx context.Context) dbadapter.Result {
	return dbadapter.Result{Status: dbadapter.StatusSuccess}
}
func (a *fakeAdapter) ExecuteSafeQuery(ctx context.Context, sql string) dbadapter.Result {
	return dbadapter.Result{Status: dbadapter.StatusSuccess}
}
func (a *fakeAdapter) ExecuteSQL(ctx context.Context, sql string, confirmed bool) dbadapter.Result {
	a.executeSQLCalls++
	if !confirmed {
		return dbadapter.Result{Status: dbadapter.StatusPendingConfirmation}
	}
	return a.executeSQLResult
}
func (a *fakeAdapter) RunExplain(ctx context.Context, sql string, analyze bool) dbadapter.Result {
	return dbadapter.Result{Status: dbadapter.StatusSuccess}
}
func (a *fakeAdapter) CreateIndex(ctx context.Context, sql string, concurrent bool) dbadapter.Result {
	return dbadapter.Result{Status: dbadapter.StatusSuccess}
}
func (a *fakeAdapter) AnalyzeTable(ctx context.Context, table, schema string) dbadapter.Result {
	return dbadapter.Result{Status: dbadapter.StatusSuccess}
}
func (a *fakeAdapter) CheckIndexUsage(ctx context.Context, table, schema string) dbadapter.Result {
	return dbadapter.Result{Status: dbadapter.StatusSuccess}
}
func (a *fakeAdapter) GetTableStats(ctx context.Context, table, schema string) dbadapter.Result {
	return dbadapter.Result{Status: dbadapter.StatusSuccess}
}
func (a *fakeAdapter) GetRunningQueries(ctx context.Context) dbadapter.Result {
	return dbadapter.Result{Status: dbadapter.StatusSuccess}
}
func (a *fakeAdapter) IdentifySlowQueries(ctx context.Context, minMS int, limit int) dbadapter.Result {
	return dbadapter.Result{Status: dbadapter.StatusSuccess}
}
func (a *fakeAdapter) GetAllObjects(ctx context.Context, schema string, objectTypes []models.MigrationObjectType) ([]dbadapter.SchemaObject, error) {
	return nil, nil
}
func (a *fakeAdapter) GetObjectDDL(ctx context.Context, objectType models.MigrationObjectType, name, schema string) (string, error) {
	return "", nil
}
func (a *fakeAdapter) GetObjectDependencies(ctx context.Context, schema string) ([]dbadapter.ForeignKeyEdge, error) {
	return nil, nil
}
func (a *fakeAdapter) GetForeignKeyDependencies(ctx context.Context, schema string) ([]dbadapter.ForeignKeyEdge, []string, error) {
	return nil, nil, nil
}
func (a *fakeAdapter) CheckQueryPerformance(ctx context.Context, sql string) dbadapter.Result {
	return a.perfResult
}

func toolCallArgs(v map[string]any) json.RawMessage {
	b, _ := json.Marshal(v)
	return b
}

func TestChat_StopReturnsContent(t *testing.T) {
	llm := &fakeLLM{model: "claude-3-5", responses: []Response{{FinishReason: FinishStop, Content: "hello there"}}}
	store := &fakeStore{}
	e := New(Config{LLM: llm, Store: store, SessionID: "s1"})

	result, err := e.Chat(context.Background(), "hi")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Content != "hello there" {
		t.Fatalf("got %q", result.Content)
	}
	if len(store.messages) != 2 {
		t.Fatalf("expected 2 persisted messages (user+assistant), got %d", len(store.messages))
	}
}

func TestChat_ToolCallPendingConfirmationStopsTurn(t *testing.T) {
	llm := &fakeLLM{
		model: "claude-3-5",
		responses: []Response{
			{FinishReason: FinishToolCalls, ToolCalls: []ResponseToolCall{
				{ID: "call-1", Name: "execute_sql", Arguments: toolCallArgs(map[string]any{"sql": "DELETE FROM x"})},
			}},
		},
	}
	store := &fakeStore{}
	adapter := &fakeAdapter{}
	e := New(Config{LLM: llm, Store: store, SessionID: "s1", Adapter: adapter})

	result, err := e.Chat(context.Background(), "delete it")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Interrupted {
		t.Fatalf("did not expect interruption")
	}
	if len(result.ToolStatuses) != 1 || result.ToolStatuses[0] != "pending_confirmation" {
		t.Fatalf("expected pending_confirmation, got %v", result.ToolStatuses)
	}
	if adapter.executeSQLCalls != 1 {
		t.Fatalf("expected exactly one ExecuteSQL call, got %d", adapter.executeSQLCalls)
	}
}

func TestChat_AutoExecuteMigrationForcesConfirmed(t *testing.T) {
	llm := &fakeLLM{
		model: "claude-3-5",
		responses: []Response{
			{FinishReason: FinishToolCalls, ToolCalls: []ResponseToolCall{
				{ID: "call-1", Name: "execute_sql", Arguments: toolCallArgs(map[string]any{"sql": "CREATE TABLE x (id int)", "confirmed": false})},
			}},
			{FinishReason: FinishStop, Content: "done"},
		},
	}
	store := &fakeStore{}
	adapter := &fakeAdapter{executeSQLResult: dbadapter.Result{Status: dbadapter.StatusSuccess}}
	e := New(Config{LLM: llm, Store: store, SessionID: "s1", Adapter: adapter})
	e.StartAutoExecuteMigration()
	// a bounded loop even with the flag set, so the test terminates
	e.maxIterations = 2

	_, err := e.Chat(context.Background(), "migrate it")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if adapter.executeSQLCalls != 1 {
		t.Fatalf("expected ExecuteSQL to be called once, got %d", adapter.executeSQLCalls)
	}
}

func TestChat_InterruptStopsBeforeNextToolCall(t *testing.T) {
	llm := &fakeLLM{
		model: "claude-3-5",
		responses: []Response{
			{FinishReason: FinishToolCalls, ToolCalls: []ResponseToolCall{
				{ID: "call-1", Name: "list_tables", Arguments: toolCallArgs(map[string]any{})},
				{ID: "call-2", Name: "list_tables", Arguments: toolCallArgs(map[string]any{})},
			}},
		},
	}
	store := &fakeStore{}
	adapter := &fakeAdapter{}
	e := New(Config{LLM: llm, Store: store, SessionID: "s1", Adapter: adapter})
	e.RequestInterrupt()

	result, err := e.Chat(context.Background(), "list things")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Interrupted {
		t.Fatalf("expected interrupted turn")
	}
	if e.interruptedState == nil {
		t.Fatalf("expected interrupted_state snapshot to be set")
	}
}

func TestConfirmOperation_ForcesConfirmedTrue(t *testing.T) {
	store := &fakeStore{}
	adapter := &fakeAdapter{executeSQLResult: dbadapter.Result{Status: dbadapter.StatusSuccess}}
	llm := &fakeLLM{model: "claude-3-5"}
	e := New(Config{LLM: llm, Store: store, SessionID: "s1", Adapter: adapter})
	e.pendingOps = []models.PendingOperation{
		{Kind: models.PendingExecuteSQL, ToolCall: models.ToolCall{Name: "execute_sql", Arguments: toolCallArgs(map[string]any{"sql": "DROP TABLE x", "confirmed": false})}},
	}

	result, err := e.ConfirmOperation(context.Background(), 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Status != "success" {
		t.Fatalf("expected success, got %+v", result)
	}
	if adapter.executeSQLCalls != 1 {
		t.Fatalf("expected one ExecuteSQL call, got %d", adapter.executeSQLCalls)
	}
	if len(e.pendingOps) != 0 {
		t.Fatalf("expected pending op to be popped")
	}
}
