package migration

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/relaydb/dbagent/internal/dbadapter"
	"github.com/relaydb/dbagent/internal/models"
)

// Handler drives the heterogeneous schema migration workflow: planning a
// task's items from a source adapter's object catalog, converting DDL per
// item, and executing items one at a time or in batches against a target
// adapter. It never dials a database connection itself — adapters are
// built and cached by the conversation engine's connection manager and
// passed in, keeping this package free of per-engine driver concerns.
type Handler struct {
	store Store
}

// NewHandler builds a Handler bound to a persistence Store.
func NewHandler(store Store) *Handler {
	return &Handler{store: store}
}

// SourceAnalysis is the outcome of enumerating a source database's
// migratable objects, ready to seed CreateMigrationPlan.
type SourceAnalysis struct {
	Schema      string                  `json:"schema"`
	Objects     []dbadapter.SchemaObject `json:"objects"`
	TableOrder  []string                `json:"table_order"`
	ForeignKeys []dbadapter.ForeignKeyEdge `json:"foreign_keys"`
}

// AnalyzeSourceDatabase enumerates the source's schema objects and FK
// dependency order, the read-only step that precedes CreateMigrationPlan.
func (h *Handler) AnalyzeSourceDatabase(ctx context.Context, source dbadapter.Adapter, schema string, objectTypes []models.MigrationObjectType) (SourceAnalysis, error) {
	objects, err := source.GetAllObjects(ctx, schema, objectTypes)
	if err != nil {
		return SourceAnalysis{}, fmt.Errorf("get all objects: %w", err)
	}
	edges, tableOrder, err := source.GetForeignKeyDependencies(ctx, schema)
	if err != nil {
		return SourceAnalysis{}, fmt.Errorf("get foreign key dependencies: %w", err)
	}
	return SourceAnalysis{Schema: schema, Objects: objects, TableOrder: tableOrder, ForeignKeys: edges}, nil
}

// PlanSummary reports how many items of each object type a freshly
// created plan contains.
type PlanSummary struct {
	TaskID      int64          `json:"task_id"`
	TotalItems  int            `json:"total_items"`
	ItemsByType map[string]int `json:"items_by_type"`
}

// planOrder is the fixed object-type migration order: sequences first so
// tables can reference them, tables in FK-dependency order, then indexes
// (primary-key-backing indexes are expected to already be excluded by the
// adapter's GetAllObjects — they are created inline with their table),
// views, functions, procedures, and finally triggers, which may depend on
// the tables and functions ordered before them.
var planOrder = []models.MigrationObjectType{
	models.ObjectSequence,
	models.ObjectTable,
	models.ObjectIndex,
	models.ObjectView,
	models.ObjectFunction,
	models.ObjectProcedure,
	models.ObjectTrigger,
}

// CreateMigrationPlan builds and persists the migration items for task,
// fetching each object's source DDL from the adapter and ordering tables
// by FK dependency (leaves first) ahead of any table absent from that
// order. The task moves to MigrationTaskPlanning on success.
func (h *Handler) CreateMigrationPlan(ctx context.Context, taskID int64, source dbadapter.Adapter, schema string) (PlanSummary, error) {
	task, err := h.store.GetTask(ctx, taskID)
	if err != nil {
		return PlanSummary{}, err
	}

	objects, err := source.GetAllObjects(ctx, schema, nil)
	if err != nil {
		return PlanSummary{}, fmt.Errorf("get all objects: %w", err)
	}
	edges, tableOrder, err := source.GetForeignKeyDependencies(ctx, schema)
	if err != nil {
		return PlanSummary{}, fmt.Errorf("get foreign key dependencies: %w", err)
	}

	dependsOn := map[string][]string{}
	for _, e := range edges {
		dependsOn[e.Table] = append(dependsOn[e.Table], e.References)
	}

	byType := map[models.MigrationObjectType][]dbadapter.SchemaObject{}
	tableSet := map[string]dbadapter.SchemaObject{}
	for _, obj := range objects {
		byType[obj.Type] = append(byType[obj.Type], obj)
		if obj.Type == models.ObjectTable {
			tableSet[obj.Name] = obj
		}
	}

	var items []*models.MigrationItem
	order := 0
	fetchDDL := func(objType models.MigrationObjectType, name, schemaName string) string {
		ddl, err := source.GetObjectDDL(ctx, objType, name, schemaName)
		if err != nil {
			return ""
		}
		return ddl
	}

	// 1. Sequences.
	for _, obj := range byType[models.ObjectSequence] {
		order++
		items = append(items, &models.MigrationItem{
			TaskID: taskID, ObjectType: models.ObjectSequence, ObjectName: obj.Name, Schema: obj.Schema,
			ExecutionOrder: order, Status: models.MigrationItemPending,
			SourceDDL: fetchDDL(models.ObjectSequence, obj.Name, obj.Schema),
		})
	}

	// 2. Tables: FK order first, then any table the order omitted.
	placed := map[string]bool{}
	for _, name := range tableOrder {
		obj, ok := tableSet[name]
		if !ok || placed[name] {
			continue
		}
		order++
		items = append(items, &models.MigrationItem{
			TaskID: taskID, ObjectType: models.ObjectTable, ObjectName: name, Schema: obj.Schema,
			ExecutionOrder: order, DependsOn: dependsOn[name], Status: models.MigrationItemPending,
			SourceDDL: fetchDDL(models.ObjectTable, name, obj.Schema),
		})
		placed[name] = true
	}
	for _, obj := range byType[models.ObjectTable] {
		if placed[obj.Name] {
			continue
		}
		order++
		items = append(items, &models.MigrationItem{
			TaskID: taskID, ObjectType: models.ObjectTable, ObjectName: obj.Name, Schema: obj.Schema,
			ExecutionOrder: order, DependsOn: dependsOn[obj.Name], Status: models.MigrationItemPending,
			SourceDDL: fetchDDL(models.ObjectTable, obj.Name, obj.Schema),
		})
		placed[obj.Name] = true
	}

	// 3-7. Indexes, views, functions, procedures, triggers.
	for _, objType := range []models.MigrationObjectType{
		models.ObjectIndex, models.ObjectView, models.ObjectFunction, models.ObjectProcedure, models.ObjectTrigger,
	} {
		for _, obj := range byType[objType] {
			order++
			items = append(items, &models.MigrationItem{
				TaskID: taskID, ObjectType: objType, ObjectName: obj.Name, Schema: obj.Schema,
				ExecutionOrder: order, Status: models.MigrationItemPending,
				SourceDDL: fetchDDL(objType, obj.Name, obj.Schema),
			})
		}
	}

	if err := h.store.AddItemsBatch(ctx, items); err != nil {
		return PlanSummary{}, fmt.Errorf("save migration items: %w", err)
	}

	counts := map[string]int{}
	for _, obj := range objects {
		counts[string(obj.Type)]++
	}
	analysis, err := json.Marshal(map[string]any{"objects": counts})
	if err != nil {
		return PlanSummary{}, fmt.Errorf("marshal analysis: %w", err)
	}
	if err := h.store.UpdateTaskAnalysis(ctx, taskID, analysis, len(items)); err != nil {
		return PlanSummary{}, err
	}
	if err := h.store.UpdateTaskStatus(ctx, taskID, models.MigrationTaskPlanning); err != nil {
		return PlanSummary{}, err
	}
	_ = task // task fetched only to validate existence before planning

	itemsByType := map[string]int{}
	for _, item := range items {
		itemsByType[string(item.ObjectType)]++
	}
	return PlanSummary{TaskID: taskID, TotalItems: len(items), ItemsByType: itemsByType}, nil
}

// Plan is the full detail view behind get_migration_plan.
type Plan struct {
	Task    *models.MigrationTask   `json:"task"`
	Items   []*models.MigrationItem `json:"items"`
	Summary StatusSummary           `json:"summary"`
}

// StatusSummary is the per-status item tally behind get_migration_status
// and get_migration_plan.
type StatusSummary struct {
	Total     int `json:"total"`
	Pending   int `json:"pending"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
}

// GetMigrationPlan returns the task, its items, and a status summary.
func (h *Handler) GetMigrationPlan(ctx context.Context, taskID int64) (Plan, error) {
	task, err := h.store.GetTask(ctx, taskID)
	if err != nil {
		return Plan{}, err
	}
	items, err := h.store.ListItems(ctx, taskID, "")
	if err != nil {
		return Plan{}, err
	}
	return Plan{Task: task, Items: items, Summary: summarize(items)}, nil
}

// GetTask returns the raw task record, letting a caller inspect options
// like AutoExecute before starting a conversation against it.
func (h *Handler) GetTask(ctx context.Context, taskID int64) (*models.MigrationTask, error) {
	return h.store.GetTask(ctx, taskID)
}

// GetMigrationStatus returns just the status summary for taskID.
func (h *Handler) GetMigrationStatus(ctx context.Context, taskID int64) (StatusSummary, error) {
	items, err := h.store.ListItems(ctx, taskID, "")
	if err != nil {
		return StatusSummary{}, err
	}
	return summarize(items), nil
}

func summarize(items []*models.MigrationItem) StatusSummary {
	s := StatusSummary{Total: len(items)}
	for _, item := range items {
		switch item.Status {
		case models.MigrationItemPending, models.MigrationItemExecuting:
			s.Pending++
		case models.MigrationItemCompleted:
			s.Completed++
		case models.MigrationItemFailed:
			s.Failed++
		case models.MigrationItemSkipped:
			s.Skipped++
		}
	}
	return s
}

// ItemResult is the outcome of executing or skipping a single item.
type ItemResult struct {
	Status     string `json:"status"`
	ItemID     int64  `json:"item_id"`
	ObjectType string `json:"object_type"`
	ObjectName string `json:"object_name"`
	Error      string `json:"error,omitempty"`
	Reason     string `json:"reason,omitempty"`
}

// ExecuteMigrationItem converts (if not already converted) and runs one
// item's DDL against target, confirmed unconditionally since migration
// DDL is operator-approved at plan time, not per-statement. A conversion
// that reports a skip reason marks the item skipped without touching
// target at all.
func (h *Handler) ExecuteMigrationItem(ctx context.Context, itemID int64, target dbadapter.Adapter, sourceEngine, targetEngine models.EngineKind) (ItemResult, error) {
	item, err := h.store.GetItem(ctx, itemID)
	if err != nil {
		return ItemResult{}, err
	}

	if err := h.store.UpdateItemStatus(ctx, itemID, models.MigrationItemExecuting, ""); err != nil {
		return ItemResult{}, err
	}

	ddl := ""
	if item.TargetDDL != nil && *item.TargetDDL != "" {
		ddl = *item.TargetDDL
	} else if item.SourceDDL != "" {
		conversion := ConvertDDL(item.SourceDDL, sourceEngine, targetEngine, item.ObjectType)
		if len(conversion.Notes) > 0 {
			_ = h.store.UpdateItemDDL(ctx, itemID, conversion.DDL, conversion.Notes)
		}
		if conversion.Skipped() {
			_ = h.store.UpdateItemStatus(ctx, itemID, models.MigrationItemSkipped, conversion.SkipReason)
			h.bumpProgress(ctx, item.TaskID, nil, nil, intPtr(1))
			return ItemResult{Status: "skipped", ItemID: itemID, ObjectType: string(item.ObjectType), ObjectName: item.ObjectName, Reason: conversion.SkipReason}, nil
		}
		ddl = conversion.DDL
	}

	if ddl == "" {
		_ = h.store.UpdateItemStatus(ctx, itemID, models.MigrationItemFailed, "no DDL available")
		h.bumpProgress(ctx, item.TaskID, nil, intPtr(1), nil)
		return ItemResult{Status: "error", ItemID: itemID, ObjectType: string(item.ObjectType), ObjectName: item.ObjectName, Error: "no DDL available"}, nil
	}

	result := target.ExecuteSQL(ctx, ddl, true)
	if result.Status == dbadapter.StatusSuccess {
		resultJSON, _ := json.Marshal(result)
		_ = h.store.UpdateItemExecutionResult(ctx, itemID, string(resultJSON))
		_ = h.store.UpdateItemStatus(ctx, itemID, models.MigrationItemCompleted, "")
		h.bumpProgress(ctx, item.TaskID, intPtr(1), nil, nil)
		return ItemResult{Status: "success", ItemID: itemID, ObjectType: string(item.ObjectType), ObjectName: item.ObjectName}, nil
	}

	_ = h.store.UpdateItemStatus(ctx, itemID, models.MigrationItemFailed, result.Error)
	h.bumpProgress(ctx, item.TaskID, nil, intPtr(1), nil)
	return ItemResult{Status: "error", ItemID: itemID, ObjectType: string(item.ObjectType), ObjectName: item.ObjectName, Error: result.Error}, nil
}

func intPtr(v int) *int { return &v }

// bumpProgress adds the given deltas (nil means "leave unchanged") to a
// task's counters. It re-fetches the task first rather than issuing a raw
// SQL increment because UpdateTaskProgress's contract is "set to this
// absolute value"; within a single migration run items execute serially,
// so this read-then-write is not racing another writer.
func (h *Handler) bumpProgress(ctx context.Context, taskID int64, completedDelta, failedDelta, skippedDelta *int) {
	if completedDelta == nil && failedDelta == nil && skippedDelta == nil {
		return
	}
	t, err := h.store.GetTask(ctx, taskID)
	if err != nil {
		return
	}
	var completed, failed, skipped *int
	if completedDelta != nil {
		v := t.Completed + *completedDelta
		completed = &v
	}
	if failedDelta != nil {
		v := t.Failed + *failedDelta
		failed = &v
	}
	if skippedDelta != nil {
		v := t.Skipped + *skippedDelta
		skipped = &v
	}
	_ = h.store.UpdateTaskProgress(ctx, taskID, completed, failed, skipped)
}

// BatchResult reports the outcome of ExecuteMigrationBatch.
type BatchResult struct {
	TaskID         int64        `json:"task_id"`
	BatchCompleted int          `json:"batch_completed"`
	BatchFailed    int          `json:"batch_failed"`
	Results        []ItemResult `json:"results"`
}

// ExecuteMigrationBatch drains up to batchSize pending items in execution
// order, moving the task to MigrationTaskExecuting first and to its
// FinalStatus once no pending items remain.
func (h *Handler) ExecuteMigrationBatch(ctx context.Context, taskID int64, batchSize int, target dbadapter.Adapter, sourceEngine, targetEngine models.EngineKind) (BatchResult, error) {
	if err := h.store.UpdateTaskStatus(ctx, taskID, models.MigrationTaskExecuting); err != nil {
		return BatchResult{}, err
	}

	var results []ItemResult
	completed, failed := 0, 0
	for i := 0; i < batchSize; i++ {
		item, err := h.store.GetNextPendingItem(ctx, taskID)
		if err == ErrNotFound {
			break
		}
		if err != nil {
			return BatchResult{}, err
		}
		result, err := h.ExecuteMigrationItem(ctx, item.ID, target, sourceEngine, targetEngine)
		if err != nil {
			return BatchResult{}, err
		}
		results = append(results, result)
		if result.Status == "success" {
			completed++
		} else if result.Status == "error" {
			failed++
		}
	}

	summary, err := h.GetMigrationStatus(ctx, taskID)
	if err != nil {
		return BatchResult{}, err
	}
	if summary.Pending == 0 {
		task, err := h.store.GetTask(ctx, taskID)
		if err == nil {
			_ = h.store.UpdateTaskStatus(ctx, taskID, task.FinalStatus())
		}
	}

	return BatchResult{TaskID: taskID, BatchCompleted: completed, BatchFailed: failed, Results: results}, nil
}

// SkipMigrationItem marks an item skipped without executing it, recording
// the operator-supplied reason.
func (h *Handler) SkipMigrationItem(ctx context.Context, itemID int64, reason string) (ItemResult, error) {
	item, err := h.store.GetItem(ctx, itemID)
	if err != nil {
		return ItemResult{}, err
	}
	if err := h.store.UpdateItemStatus(ctx, itemID, models.MigrationItemSkipped, reason); err != nil {
		return ItemResult{}, err
	}
	h.bumpProgress(ctx, item.TaskID, nil, nil, intPtr(1))
	return ItemResult{Status: "success", ItemID: itemID, ObjectType: string(item.ObjectType), ObjectName: item.ObjectName, Reason: reason}, nil
}

// RetryResult reports how many failed items were requeued.
type RetryResult struct {
	TaskID  int64 `json:"task_id"`
	Retried int   `json:"retried"`
}

// RetryFailedItems requeues every failed item as pending (bumping its
// retry count) and resets the task's failed counter to zero, per the
// non-monotonic counter semantics models.MigrationTask.FinalStatus
// depends on: a retried task is judged solely by items still failed
// after the retry pass, not by how many failed before it.
func (h *Handler) RetryFailedItems(ctx context.Context, taskID int64) (RetryResult, error) {
	failedItems, err := h.store.ListItems(ctx, taskID, models.MigrationItemFailed)
	if err != nil {
		return RetryResult{}, err
	}
	if len(failedItems) == 0 {
		return RetryResult{TaskID: taskID, Retried: 0}, nil
	}

	for _, item := range failedItems {
		if err := h.store.IncrementItemRetry(ctx, item.ID); err != nil {
			return RetryResult{}, err
		}
	}

	zero := 0
	if err := h.store.UpdateTaskProgress(ctx, taskID, nil, &zero, nil); err != nil {
		return RetryResult{}, err
	}
	if err := h.store.UpdateTaskStatus(ctx, taskID, models.MigrationTaskExecuting); err != nil {
		return RetryResult{}, err
	}

	return RetryResult{TaskID: taskID, Retried: len(failedItems)}, nil
}

// Comparison is the table-level diff behind compare_databases.
type Comparison struct {
	TaskID          int64    `json:"task_id"`
	Matches         []string `json:"matches"`
	MissingInTarget []string `json:"missing_in_target"`
	ExtraInTarget   []string `json:"extra_in_target"`
}

// CompareDatabases diffs the source and target table sets for task's
// configured schemas, surfacing what a migration run left behind or
// already had present.
func (h *Handler) CompareDatabases(ctx context.Context, taskID int64, source, target dbadapter.Adapter) (Comparison, error) {
	task, err := h.store.GetTask(ctx, taskID)
	if err != nil {
		return Comparison{}, err
	}

	sourceObjects, err := source.GetAllObjects(ctx, task.SourceSchema, []models.MigrationObjectType{models.ObjectTable})
	if err != nil {
		return Comparison{}, fmt.Errorf("get source objects: %w", err)
	}
	targetObjects, err := target.GetAllObjects(ctx, task.TargetSchema, []models.MigrationObjectType{models.ObjectTable})
	if err != nil {
		return Comparison{}, fmt.Errorf("get target objects: %w", err)
	}

	sourceTables := map[string]bool{}
	for _, o := range sourceObjects {
		sourceTables[o.Name] = true
	}
	targetTables := map[string]bool{}
	for _, o := range targetObjects {
		targetTables[o.Name] = true
	}

	var matches, missing, extra []string
	for name := range sourceTables {
		if targetTables[name] {
			matches = append(matches, name)
		} else {
			missing = append(missing, name)
		}
	}
	for name := range targetTables {
		if !sourceTables[name] {
			extra = append(extra, name)
		}
	}

	return Comparison{TaskID: taskID, Matches: matches, MissingInTarget: missing, ExtraInTarget: extra}, nil
}

// Report is the operator-facing migration report behind
// generate_migration_report.
type Report struct {
	TaskID       int64             `json:"task_id"`
	TaskName     string            `json:"task_name"`
	SourceEngine models.EngineKind `json:"source_engine"`
	TargetEngine models.EngineKind `json:"target_engine"`
	TaskStatus   models.MigrationTaskStatus `json:"task_status"`
	Statistics   StatusSummary     `json:"statistics"`
	FailedItems  []ItemFailure     `json:"failed_items"`
	SkippedItems []ItemFailure     `json:"skipped_items"`
	RuleSummary  string            `json:"rule_summary"`
}

// ItemFailure is one failed-or-skipped item surfaced in a Report.
type ItemFailure struct {
	ID    int64  `json:"id"`
	Type  string `json:"type"`
	Name  string `json:"name"`
	Error string `json:"error,omitempty"`
}

// GenerateMigrationReport renders a full task report, including the
// conversion rule summary in effect so an operator reviewing failures
// can see what automatic rewrite coverage existed.
func (h *Handler) GenerateMigrationReport(ctx context.Context, taskID int64) (Report, error) {
	task, err := h.store.GetTask(ctx, taskID)
	if err != nil {
		return Report{}, err
	}
	items, err := h.store.ListItems(ctx, taskID, "")
	if err != nil {
		return Report{}, err
	}

	var failedItems, skippedItems []ItemFailure
	for _, item := range items {
		switch item.Status {
		case models.MigrationItemFailed:
			failedItems = append(failedItems, ItemFailure{ID: item.ID, Type: string(item.ObjectType), Name: item.ObjectName, Error: item.Error})
		case models.MigrationItemSkipped:
			skippedItems = append(skippedItems, ItemFailure{ID: item.ID, Type: string(item.ObjectType), Name: item.ObjectName, Error: item.Error})
		}
	}

	return Report{
		TaskID:       taskID,
		TaskName:     task.Name,
		SourceEngine: task.SourceEngine,
		TargetEngine: task.TargetEngine,
		TaskStatus:   task.Status,
		Statistics:   summarize(items),
		FailedItems:  failedItems,
		SkippedItems: skippedItems,
		RuleSummary:  RuleSummary(task.SourceEngine, task.TargetEngine),
	}, nil
}
