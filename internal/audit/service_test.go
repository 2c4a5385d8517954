package audit

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/relaydb/dbagent/internal/models"
)

func TestMaskParametersMasksSensitiveKeys(t *testing.T) {
	params := map[string]any{
		"host":        "db.internal",
		"password":    "hunter2",
		"api_key":     "sk-abc123",
		"auth_token":  "tok-xyz",
		"credential":  "c-1",
		"limit":       100,
	}

	out := MaskParameters(params)
	var got map[string]any
	if err := json.Unmarshal(out, &got); err != nil {
		t.Fatalf("unmarshal masked params: %v", err)
	}

	for _, key := range []string{"password", "api_key", "auth_token", "credential"} {
		if got[key] != maskedValue {
			t.Errorf("key %q = %v, want %q", key, got[key], maskedValue)
		}
	}
	if got["host"] != "db.internal" {
		t.Errorf("host was masked: %v", got["host"])
	}
	if got["limit"] != float64(100) {
		t.Errorf("limit = %v, want 100", got["limit"])
	}
}

func TestMaskParametersEmpty(t *testing.T) {
	if out := MaskParameters(nil); out != nil {
		t.Errorf("MaskParameters(nil) = %v, want nil", out)
	}
	if out := MaskParameters(map[string]any{}); out != nil {
		t.Errorf("MaskParameters({}) = %v, want nil", out)
	}
}

type fakeStore struct {
	appended []*models.AuditLog
	cleanupDays int
}

func (f *fakeStore) AppendAuditLog(ctx context.Context, entry *models.AuditLog) error {
	f.appended = append(f.appended, entry)
	return nil
}

func (f *fakeStore) Cleanup(ctx context.Context, olderThanDays int) (int64, error) {
	f.cleanupDays = olderThanDays
	return int64(len(f.appended)), nil
}

func TestServiceRecordPersistsAndMasks(t *testing.T) {
	store := &fakeStore{}
	svc := NewService(store, nil)

	err := svc.Record(context.Background(), RecordInput{
		SessionID:    "sess-1",
		Category:     models.AuditSQLExecute,
		Action:       "execute_sql",
		TargetType:   "table",
		TargetName:   "users",
		SQLText:      "SELECT 1",
		Parameters:   map[string]any{"password": "s3cret"},
		ResultStatus: models.AuditSuccess,
		UserConfirmed: true,
	})
	if err != nil {
		t.Fatalf("Record returned error: %v", err)
	}
	if len(store.appended) != 1 {
		t.Fatalf("got %d appended entries, want 1", len(store.appended))
	}

	entry := store.appended[0]
	if entry.SessionID != "sess-1" || entry.Action != "execute_sql" {
		t.Errorf("unexpected entry: %+v", entry)
	}
	if entry.CreatedAt.IsZero() {
		t.Errorf("CreatedAt was not set")
	}

	var params map[string]any
	if err := json.Unmarshal(entry.Parameters, &params); err != nil {
		t.Fatalf("unmarshal entry params: %v", err)
	}
	if params["password"] != maskedValue {
		t.Errorf("password not masked in persisted entry: %v", params["password"])
	}
}

func TestServiceCleanupDefaultsRetention(t *testing.T) {
	store := &fakeStore{}
	svc := NewService(store, nil)

	if _, err := svc.Cleanup(context.Background(), 0); err != nil {
		t.Fatalf("Cleanup returned error: %v", err)
	}
	if store.cleanupDays != 30 {
		t.Errorf("cleanupDays = %d, want 30 (default retention)", store.cleanupDays)
	}
}

func TestServiceCleanupNilStoreIsNoop(t *testing.T) {
	svc := NewService(nil, nil)
	n, err := svc.Cleanup(context.Background(), 10)
	if err != nil || n != 0 {
		t.Errorf("Cleanup with nil store = (%d, %v), want (0, nil)", n, err)
	}
}
