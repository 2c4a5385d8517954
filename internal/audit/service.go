package audit

import (
	"context"
	"encoding/json"
	"regexp"
	"time"

	"github.com/relaydb/dbagent/internal/models"
)

// Store persists append-only audit log records. Implementations MUST NOT
// support update or delete of individual rows — only Cleanup by age.
type Store interface {
	AppendAuditLog(ctx context.Context, entry *models.AuditLog) error
	Cleanup(ctx context.Context, olderThanDays int) (int64, error)
}

// sensitiveKeyPattern matches parameter keys that must never appear in an
// audit payload with their real value.
var sensitiveKeyPattern = regexp.MustCompile(`(?i)(password|api_key|secret|token|credential)`)

const maskedValue = "***MASKED***"

// MaskParameters returns a copy of params with any key matching
// sensitiveKeyPattern replaced by a fixed mask, then serializes it. The
// key itself is preserved so operators can see which parameter was
// sensitive without ever persisting its value.
func MaskParameters(params map[string]any) json.RawMessage {
	if len(params) == 0 {
		return nil
	}
	masked := make(map[string]any, len(params))
	for k, v := range params {
		if sensitiveKeyPattern.MatchString(k) {
			masked[k] = maskedValue
		} else {
			masked[k] = v
		}
	}
	out, err := json.Marshal(masked)
	if err != nil {
		return nil
	}
	return out
}

// Service is the C11 Audit Service: it persists structured audit records
// via Store and mirrors them to the process log via Logger for operators
// tailing stdout/stderr.
type Service struct {
	store  Store
	logger *Logger
}

// NewService builds an audit Service. logger may be nil, in which case
// only persistence happens.
func NewService(store Store, logger *Logger) *Service {
	return &Service{store: store, logger: logger}
}

// RecordInput is the caller-facing shape for a single audit record; it
// omits ID/CreatedAt, which the Service assigns.
type RecordInput struct {
	SessionID       string
	ConnectionID    *int64
	Category        models.AuditCategory
	Action          string
	TargetType      string
	TargetName      string
	SQLText         string
	Parameters      map[string]any
	ResultStatus    models.AuditResultStatus
	ResultSummary   string
	AffectedRows    *int64
	ExecutionTimeMs *int64
	UserConfirmed   bool
}

// Record appends one audit entry. It never returns an error to the
// caller's hot path for logging failures that aren't the Store's own
// persistence error — a failed mirror to slog must not fail the tool call.
func (s *Service) Record(ctx context.Context, in RecordInput) error {
	entry := &models.AuditLog{
		SessionID:       in.SessionID,
		ConnectionID:    in.ConnectionID,
		Category:        in.Category,
		Action:          in.Action,
		TargetType:      in.TargetType,
		TargetName:      in.TargetName,
		SQLText:         in.SQLText,
		Parameters:      MaskParameters(in.Parameters),
		ResultStatus:    in.ResultStatus,
		ResultSummary:   in.ResultSummary,
		AffectedRows:    in.AffectedRows,
		ExecutionTimeMs: in.ExecutionTimeMs,
		UserConfirmed:   in.UserConfirmed,
		CreatedAt:       time.Now(),
	}

	var err error
	if s.store != nil {
		err = s.store.AppendAuditLog(ctx, entry)
	}

	if s.logger != nil {
		eventType := EventToolInvocation
		level := LevelInfo
		switch in.ResultStatus {
		case models.AuditError:
			level = LevelError
		case models.AuditPending:
			level = LevelWarn
		}
		if in.Category == models.AuditSQLExecute {
			eventType = EventToolCompletion
		}
		s.logger.Log(ctx, &Event{
			Type:       eventType,
			Level:      level,
			SessionID:  in.SessionID,
			Action:     in.Action,
			ToolName:   in.TargetName,
			Details: map[string]any{
				"category":       in.Category,
				"target_type":    in.TargetType,
				"result_status":  in.ResultStatus,
				"result_summary": in.ResultSummary,
			},
			Error: errText(in.ResultStatus, in.ResultSummary),
		})
	}

	return err
}

func errText(status models.AuditResultStatus, summary string) string {
	if status == models.AuditError {
		return summary
	}
	return ""
}

// Cleanup purges audit entries older than the given retention window
// (default 30 days, per spec §3 and §6).
func (s *Service) Cleanup(ctx context.Context, olderThanDays int) (int64, error) {
	if olderThanDays <= 0 {
		olderThanDays = 30
	}
	if s.store == nil {
		return 0, nil
	}
	return s.store.Cleanup(ctx, olderThanDays)
}

// Close flushes and closes the mirrored process logger, if one was
// configured. Safe to call on a Service built with a nil Logger.
func (s *Service) Close() error {
	if s.logger == nil {
		return nil
	}
	return s.logger.Close()
}
