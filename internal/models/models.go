// Package models holds the durable domain types shared across the agent
// engine, its storage layer, and its tool subsystems.
package models

import (
	"encoding/json"
	"time"
)

// EngineKind identifies a supported relational database engine.
type EngineKind string

const (
	EnginePostgreSQL EngineKind = "postgresql"
	EngineMySQL      EngineKind = "mysql"
	EngineGaussDB    EngineKind = "gaussdb"
	EngineOracle     EngineKind = "oracle"
	EngineSQLServer  EngineKind = "sqlserver"
)

// ProviderKind identifies a supported LLM provider family.
type ProviderKind string

const (
	ProviderDeepSeek ProviderKind = "deepseek"
	ProviderOpenAI   ProviderKind = "openai"
	ProviderClaude   ProviderKind = "claude"
	ProviderGemini   ProviderKind = "gemini"
	ProviderQwen     ProviderKind = "qwen"
	ProviderOllama   ProviderKind = "ollama"
)

// Connection is a stored database connection profile. At most one
// connection in a store may have IsActive set.
type Connection struct {
	ID               int64      `json:"id"`
	Name             string     `json:"name"`
	Engine           EngineKind `json:"engine"`
	Host             string     `json:"host"`
	Port             int        `json:"port"`
	Database         string     `json:"database"`
	User             string     `json:"user"`
	PasswordEncrypted string    `json:"password_encrypted"`
	IsActive         bool       `json:"is_active"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// Provider is a stored LLM provider profile. At most one provider in a
// store may have IsDefault set.
type Provider struct {
	ID           int64        `json:"id"`
	Name         string       `json:"name"`
	Kind         ProviderKind `json:"kind"`
	APIKeyEncrypted string    `json:"api_key_encrypted"`
	Model        string       `json:"model"`
	BaseURL      string       `json:"base_url,omitempty"`
	IsDefault    bool         `json:"is_default"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

// ToolServerConfig describes an external tool-server subprocess.
type ToolServerConfig struct {
	ID      int64             `json:"id"`
	Name    string            `json:"name"`
	Command string            `json:"command"`
	Args    []string          `json:"args"`
	Env     map[string]string `json:"env"`
	Enabled bool              `json:"enabled"`
}

// Session is a single conversation thread.
type Session struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	ConnectionID *int64    `json:"connection_id,omitempty"`
	ProviderID   *int64    `json:"provider_id,omitempty"`
	IsCurrent    bool      `json:"is_current"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Role is the author of a chat message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
	RoleSystem    Role = "system"
)

// ToolCall is an LLM-emitted request to invoke a named tool. Signature
// carries an opaque provider-specific blob (e.g. Gemini's thought_signature)
// that must be round-tripped verbatim on subsequent turns.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
	Signature []byte          `json:"signature,omitempty"`
}

// ChatMessage is one entry in a session's durable history.
type ChatMessage struct {
	ID         string     `json:"id"`
	SessionID  string     `json:"session_id"`
	Role       Role       `json:"role"`
	Content    string     `json:"content,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// ContextSummary is a compaction record: a block of older messages
// collapsed into one summary message.
type ContextSummary struct {
	SessionID        string    `json:"session_id"`
	Summary          string    `json:"summary"`
	MessagesReplaced int       `json:"messages_replaced"`
	TokensBefore     int       `json:"tokens_before"`
	TokensAfter      int       `json:"tokens_after"`
	CreatedAt        time.Time `json:"created_at"`
}

// MigrationTaskStatus is the lifecycle state of a migration task.
type MigrationTaskStatus string

const (
	MigrationTaskPending   MigrationTaskStatus = "pending"
	MigrationTaskPlanning  MigrationTaskStatus = "planning"
	MigrationTaskConfirmed MigrationTaskStatus = "confirmed"
	MigrationTaskExecuting MigrationTaskStatus = "executing"
	MigrationTaskCompleted MigrationTaskStatus = "completed"
	MigrationTaskFailed    MigrationTaskStatus = "failed"
)

// MigrationTask tracks one heterogeneous schema migration run.
type MigrationTask struct {
	ID                 int64               `json:"id"`
	Name               string              `json:"name"`
	SourceConnectionID int64               `json:"source_connection_id"`
	TargetConnectionID int64               `json:"target_connection_id"`
	SourceEngine       EngineKind          `json:"source_engine"`
	TargetEngine       EngineKind          `json:"target_engine"`
	Status             MigrationTaskStatus `json:"status"`
	Total              int                 `json:"total"`
	Completed          int                 `json:"completed"`
	Failed             int                 `json:"failed"`
	Skipped            int                 `json:"skipped"`
	SourceSchema       string              `json:"source_schema,omitempty"`
	TargetSchema       string              `json:"target_schema,omitempty"`
	AutoExecute        bool                `json:"auto_execute"`
	AnalysisResult     json.RawMessage     `json:"analysis_result,omitempty"`
	CreatedAt          time.Time           `json:"created_at"`
	UpdatedAt          time.Time           `json:"updated_at"`
}

// IsDone reports whether the task has no pending or executing items left.
func (t *MigrationTask) IsDone() bool {
	return t.Completed+t.Failed+t.Skipped >= t.Total
}

// FinalStatus computes the strict completion status: completed only when
// no items failed, failed otherwise. See DESIGN.md — this resolves the
// spec's documented ambiguity in the legacy batch-execute code path.
func (t *MigrationTask) FinalStatus() MigrationTaskStatus {
	if t.Failed > 0 {
		return MigrationTaskFailed
	}
	return MigrationTaskCompleted
}

// MigrationObjectType enumerates the kinds of schema object a migration
// item may represent.
type MigrationObjectType string

const (
	ObjectSequence  MigrationObjectType = "sequence"
	ObjectTable     MigrationObjectType = "table"
	ObjectIndex     MigrationObjectType = "index"
	ObjectView      MigrationObjectType = "view"
	ObjectFunction  MigrationObjectType = "function"
	ObjectProcedure MigrationObjectType = "procedure"
	ObjectTrigger   MigrationObjectType = "trigger"
	ObjectConstraint MigrationObjectType = "constraint"
)

// MigrationItemStatus is the lifecycle state of one migration item.
type MigrationItemStatus string

const (
	MigrationItemPending   MigrationItemStatus = "pending"
	MigrationItemExecuting MigrationItemStatus = "executing"
	MigrationItemCompleted MigrationItemStatus = "completed"
	MigrationItemFailed    MigrationItemStatus = "failed"
	MigrationItemSkipped   MigrationItemStatus = "skipped"
)

// MigrationItem is a single schema object to be migrated, ordered
// globally within its task by ExecutionOrder.
type MigrationItem struct {
	ID             int64                `json:"id"`
	TaskID         int64                `json:"task_id"`
	ObjectType     MigrationObjectType  `json:"object_type"`
	ObjectName     string               `json:"object_name"`
	Schema         string               `json:"schema,omitempty"`
	ExecutionOrder int                  `json:"execution_order"`
	DependsOn      []string             `json:"depends_on,omitempty"`
	Status         MigrationItemStatus  `json:"status"`
	SourceDDL      string               `json:"source_ddl"`
	TargetDDL      *string              `json:"target_ddl,omitempty"`
	ConversionNotes []string            `json:"conversion_notes,omitempty"`
	ExecutionResult string              `json:"execution_result,omitempty"`
	Error          string               `json:"error,omitempty"`
	RetryCount     int                  `json:"retry_count"`
}

// AuditCategory classifies an audit log entry.
type AuditCategory string

const (
	AuditSQLExecute   AuditCategory = "sql_execute"
	AuditToolCall     AuditCategory = "tool_call"
	AuditConfigChange AuditCategory = "config_change"
)

// AuditResultStatus is the outcome recorded on an audit entry.
type AuditResultStatus string

const (
	AuditSuccess AuditResultStatus = "success"
	AuditError   AuditResultStatus = "error"
	AuditPending AuditResultStatus = "pending"
)

// AuditLog is one append-only audit record.
type AuditLog struct {
	ID             int64             `json:"id"`
	SessionID      string            `json:"session_id,omitempty"`
	ConnectionID   *int64            `json:"connection_id,omitempty"`
	Category       AuditCategory     `json:"category"`
	Action         string            `json:"action"`
	TargetType     string            `json:"target_type,omitempty"`
	TargetName     string            `json:"target_name,omitempty"`
	SQLText        string            `json:"sql_text,omitempty"`
	Parameters     json.RawMessage   `json:"parameters,omitempty"`
	ResultStatus   AuditResultStatus `json:"result_status"`
	ResultSummary  string            `json:"result_summary,omitempty"`
	AffectedRows   *int64            `json:"affected_rows,omitempty"`
	ExecutionTimeMs *int64           `json:"execution_time_ms,omitempty"`
	UserConfirmed  bool              `json:"user_confirmed"`
	CreatedAt      time.Time         `json:"created_at"`
}

// PendingOperationKind enumerates the tool calls that can be withheld
// pending user confirmation.
type PendingOperationKind string

const (
	PendingExecuteSQL              PendingOperationKind = "execute_sql"
	PendingCreateIndex             PendingOperationKind = "create_index"
	PendingExecuteSafeQueryForced  PendingOperationKind = "execute_safe_query_forced"
)

// PendingOperation is an in-memory, per-Agent record of a tool call that
// was withheld awaiting confirmation.
type PendingOperation struct {
	Kind   PendingOperationKind `json:"kind"`
	ToolCall ToolCall           `json:"tool_call"`
	Issues []string             `json:"issues,omitempty"`
}
