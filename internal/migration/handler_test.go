package migration

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/relaydb/dbagent/internal/dbadapter"
	"github.com/relaydb/dbagent/internal/models"
)

// fakeStore is an in-memory Store sufficient to exercise Handler without a
// database, mirroring the fakeStore/fakeAdapter pattern in
// internal/convengine/engine_test.go.
type fakeStore struct {
	tasks   map[int64]*models.MigrationTask
	items   map[int64]*models.MigrationItem
	nextID  int64
}

func newFakeStore() *fakeStore {
	return &fakeStore{tasks: map[int64]*models.MigrationTask{}, items: map[int64]*models.MigrationItem{}}
}

func (s *fakeStore) CreateTask(ctx context.Context, task *models.MigrationTask) error {
	s.nextID++
	task.ID = s.nextID
	cp := *task
	s.tasks[task.ID] = &cp
	return nil
}

func (s *fakeStore) GetTask(ctx context.Context, taskID int64) (*models.MigrationTask, error) {
	t, ok := s.tasks[taskID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (s *fakeStore) UpdateTaskStatus(ctx context.Context, taskID int64, status models.MigrationTaskStatus) error {
	t, ok := s.tasks[taskID]
	if !ok {
		return ErrNotFound
	}
	t.Status = status
	return nil
}

func (s *fakeStore) UpdateTaskAnalysis(ctx context.Context, taskID int64, analysis json.RawMessage, total int) error {
	t, ok := s.tasks[taskID]
	if !ok {
		return ErrNotFound
	}
	t.AnalysisResult = analysis
	t.Total = total
	return nil
}

func (s *fakeStore) UpdateTaskProgress(ctx context.Context, taskID int64, completed, failed, skipped *int) error {
	t, ok := s.tasks[taskID]
	if !ok {
		return ErrNotFound
	}
	if completed != nil {
		t.Completed = *completed
	}
	if failed != nil {
		t.Failed = *failed
	}
	if skipped != nil {
		t.Skipped = *skipped
	}
	return nil
}

func (s *fakeStore) AddItemsBatch(ctx context.Context, items []*models.MigrationItem) error {
	for _, item := range items {
		s.nextID++
		item.ID = s.nextID
		cp := *item
		s.items[item.ID] = &cp
	}
	return nil
}

func (s *fakeStore) ListItems(ctx context.Context, taskID int64, status models.MigrationItemStatus) ([]*models.MigrationItem, error) {
	var out []*models.MigrationItem
	for id := int64(1); id <= s.nextID; id++ {
		it, ok := s.items[id]
		if !ok || it.TaskID != taskID {
			continue
		}
		if status != "" && it.Status != status {
			continue
		}
		cp := *it
		out = append(out, &cp)
	}
	return out, nil
}

func (s *fakeStore) GetItem(ctx context.Context, itemID int64) (*models.MigrationItem, error) {
	it, ok := s.items[itemID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *it
	return &cp, nil
}

func (s *fakeStore) GetNextPendingItem(ctx context.Context, taskID int64) (*models.MigrationItem, error) {
	var best *models.MigrationItem
	for id := int64(1); id <= s.nextID; id++ {
		it, ok := s.items[id]
		if !ok || it.TaskID != taskID || it.Status != models.MigrationItemPending {
			continue
		}
		if best == nil || it.ExecutionOrder < best.ExecutionOrder {
			best = it
		}
	}
	if best == nil {
		return nil, ErrNotFound
	}
	cp := *best
	return &cp, nil
}

func (s *fakeStore) UpdateItemStatus(ctx context.Context, itemID int64, status models.MigrationItemStatus, errMsg string) error {
	it, ok := s.items[itemID]
	if !ok {
		return ErrNotFound
	}
	it.Status = status
	it.Error = errMsg
	return nil
}

func (s *fakeStore) UpdateItemDDL(ctx context.Context, itemID int64, targetDDL string, notes []string) error {
	it, ok := s.items[itemID]
	if !ok {
		return ErrNotFound
	}
	it.TargetDDL = &targetDDL
	it.ConversionNotes = notes
	return nil
}

func (s *fakeStore) UpdateItemExecutionResult(ctx context.Context, itemID int64, result string) error {
	it, ok := s.items[itemID]
	if !ok {
		return ErrNotFound
	}
	it.ExecutionResult = result
	return nil
}

func (s *fakeStore) IncrementItemRetry(ctx context.Context, itemID int64) error {
	it, ok := s.items[itemID]
	if !ok {
		return ErrNotFound
	}
	it.RetryCount++
	it.Status = models.MigrationItemPending
	it.Error = ""
	return nil
}

// fakeMigrationAdapter implements dbadapter.Adapter with scriptable
// migration-support methods; every other method returns a plain success,
// sufficient because Handler never calls them.
type fakeMigrationAdapter struct {
	engine        models.EngineKind
	objects       []dbadapter.SchemaObject
	ddl           map[string]string
	fkEdges       []dbadapter.ForeignKeyEdge
	tableOrder    []string
	executeResult dbadapter.Result
	executedSQL   []string
}

func (a *fakeMigrationAdapter) Engine() models.EngineKind { return a.engine }
func (a *fakeMigrationAdapter) Close() error              { return nil }
func (a *fakeMigrationAdapter) GetDBInfo(ctx context.Context) dbadapter.Result {
	return dbadapter.Result{Status: dbadapter.StatusSuccess}
}
func (a *fakeMigrationAdapter) ListTables(ctx context.Context, schema string) dbadapter.Result {
	return dbadapter.Result{Status: dbadapter.StatusSuccess}
}
func (a *fakeMigrationAdapter) DescribeTable(ctx context.Context, table, schema string) dbadapter.Result {
	return dbadapter.Result{Status: dbadapter.StatusSuccess}
}
func (a *fakeMigrationAdapter) GetSampleData(ctx context.Context, table, schema string, limit int) dbadapter.Result {
	return dbadapter.Result{Status: dbadapter.StatusSuccess}
}
func (a *fakeMigrationAdapter) ListDatabases(ctx context.Context) dbadapter.Result {
	return dbadapter.Result{Status: dbadapter.StatusSuccess}
}
func (a *fakeMigrationAdapter) ExecuteSafeQuery(ctx context.Context, sql string) dbadapter.Result {
	return dbadapter.Result{Status: dbadapter.StatusSuccess}
}
func (a *fakeMigrationAdapter) ExecuteSQL(ctx context.Context, sql string, confirmed bool) dbadapter.Result {
	a.executedSQL = append(a.executedSQL, sql)
	if a.executeResult.Status == "" {
		return dbadapter.Result{Status: dbadapter.StatusSuccess}
	}
	return a.executeResult
}
func (a *fakeMigrationAdapter) RunExplain(ctx context.Context, sql string, analyze bool) dbadapter.Result {
	return dbadapter.Result{Status: dbadapter.StatusSuccess}
}
func (a *fakeMigrationAdapter) CreateIndex(ctx context.Context, sql string, concurrent bool) dbadapter.Result {
	return dbadapter.Result{Status: dbadapter.StatusSuccess}
}
func (a *fakeMigrationAdapter) AnalyzeTable(ctx context.Context, table, schema string) dbadapter.Result {
	return dbadapter.Result{Status: dbadapter.StatusSuccess}
}
func (a *fakeMigrationAdapter) CheckIndexUsage(ctx context.Context, table, schema string) dbadapter.Result {
	return dbadapter.Result{Status: dbadapter.StatusSuccess}
}
func (a *fakeMigrationAdapter) GetTableStats(ctx context.Context, table, schema string) dbadapter.Result {
	return dbadapter.Result{Status: dbadapter.StatusSuccess}
}
func (a *fakeMigrationAdapter) GetRunningQueries(ctx context.Context) dbadapter.Result {
	return dbadapter.Result{Status: dbadapter.StatusSuccess}
}
func (a *fakeMigrationAdapter) IdentifySlowQueries(ctx context.Context, minMS int, limit int) dbadapter.Result {
	return dbadapter.Result{Status: dbadapter.StatusSuccess}
}
func (a *fakeMigrationAdapter) GetAllObjects(ctx context.Context, schema string, objectTypes []models.MigrationObjectType) ([]dbadapter.SchemaObject, error) {
	return a.objects, nil
}
func (a *fakeMigrationAdapter) GetObjectDDL(ctx context.Context, objectType models.MigrationObjectType, name, schema string) (string, error) {
	return a.ddl[string(objectType)+":"+name], nil
}
func (a *fakeMigrationAdapter) GetObjectDependencies(ctx context.Context, schema string) ([]dbadapter.ForeignKeyEdge, error) {
	return a.fkEdges, nil
}
func (a *fakeMigrationAdapter) GetForeignKeyDependencies(ctx context.Context, schema string) ([]dbadapter.ForeignKeyEdge, []string, error) {
	return a.fkEdges, a.tableOrder, nil
}
func (a *fakeMigrationAdapter) CheckQueryPerformance(ctx context.Context, sql string) dbadapter.Result {
	return dbadapter.Result{Status: dbadapter.StatusSuccess}
}

// scenario builds the 3-table, 1-index, 1-view source database from
// spec.md §8 scenario 5: table a, table b referencing a, table c with no
// FK, one FULLTEXT index on a.body, and one view.
func scenario5Adapter() *fakeMigrationAdapter {
	return &fakeMigrationAdapter{
		engine: models.EngineMySQL,
		objects: []dbadapter.SchemaObject{
			{Type: models.ObjectTable, Name: "a"},
			{Type: models.ObjectTable, Name: "b"},
			{Type: models.ObjectTable, Name: "c"},
			{Type: models.ObjectIndex, Name: "idx_b_a_id"},
			{Type: models.ObjectView, Name: "v1"},
		},
		ddl: map[string]string{
			"table:a": "CREATE TABLE a (id INT AUTO_INCREMENT, body TEXT, PRIMARY KEY (id))",
			"table:b": "CREATE TABLE b (id INT AUTO_INCREMENT, a_id INT, PRIMARY KEY (id))",
			"table:c": "CREATE TABLE c (id INT AUTO_INCREMENT, PRIMARY KEY (id))",
			"index:idx_b_a_id": "CREATE FULLTEXT INDEX idx_b_a_id ON a (body)",
			"view:v1":          "CREATE VIEW v1 AS SELECT * FROM a",
		},
		fkEdges:    []dbadapter.ForeignKeyEdge{{Table: "b", Column: "a_id", References: "a", RefColumn: "id"}},
		tableOrder: []string{"a", "c", "b"},
	}
}

func TestCreateMigrationPlan_OrdersByTypeThenFKDependency(t *testing.T) {
	store := newFakeStore()
	h := NewHandler(store)
	task := &models.MigrationTask{Name: "t1", SourceEngine: models.EngineMySQL, TargetEngine: models.EnginePostgreSQL}
	if err := store.CreateTask(context.Background(), task); err != nil {
		t.Fatalf("create task: %v", err)
	}

	source := scenario5Adapter()
	summary, err := h.CreateMigrationPlan(context.Background(), task.ID, source, "public")
	if err != nil {
		t.Fatalf("create migration plan: %v", err)
	}
	if summary.TotalItems != 5 {
		t.Fatalf("got %d items, want 5", summary.TotalItems)
	}

	items, err := store.ListItems(context.Background(), task.ID, "")
	if err != nil {
		t.Fatalf("list items: %v", err)
	}
	var names []string
	for _, it := range items {
		names = append(names, it.ObjectName)
	}
	want := []string{"a", "c", "b", "idx_b_a_id", "v1"}
	if len(names) != len(want) {
		t.Fatalf("got order %v, want %v", names, want)
	}
	for i, n := range want {
		if names[i] != n {
			t.Fatalf("got order %v, want %v", names, want)
		}
	}

	// invariant: if A depends on B, order(B) < order(A).
	orderByName := map[string]int{}
	for _, it := range items {
		orderByName[it.ObjectName] = it.ExecutionOrder
	}
	if orderByName["a"] >= orderByName["b"] {
		t.Fatalf("table a (FK referent) must precede table b (referrer): a=%d b=%d", orderByName["a"], orderByName["b"])
	}
}

func TestExecuteMigrationItem_SkipsUnconvertibleFulltextIndex(t *testing.T) {
	store := newFakeStore()
	h := NewHandler(store)
	task := &models.MigrationTask{Name: "t1", SourceEngine: models.EngineMySQL, TargetEngine: models.EnginePostgreSQL}
	_ = store.CreateTask(context.Background(), task)
	source := scenario5Adapter()
	if _, err := h.CreateMigrationPlan(context.Background(), task.ID, source, "public"); err != nil {
		t.Fatalf("create plan: %v", err)
	}

	var indexItemID int64
	items, _ := store.ListItems(context.Background(), task.ID, "")
	for _, it := range items {
		if it.ObjectType == models.ObjectIndex {
			indexItemID = it.ID
		}
	}
	if indexItemID == 0 {
		t.Fatalf("expected an index item in the plan")
	}

	target := &fakeMigrationAdapter{engine: models.EnginePostgreSQL}
	result, err := h.ExecuteMigrationItem(context.Background(), indexItemID, target, models.EngineMySQL, models.EnginePostgreSQL)
	if err != nil {
		t.Fatalf("execute migration item: %v", err)
	}
	if result.Status != "skipped" {
		t.Fatalf("status = %q, want skipped", result.Status)
	}
	if result.Reason == "" {
		t.Fatal("expected a skip reason")
	}
	item, _ := store.GetItem(context.Background(), indexItemID)
	if item.Status != models.MigrationItemSkipped {
		t.Fatalf("item status = %v, want skipped", item.Status)
	}
}

func TestExecuteMigrationBatch_DrainsAndSetsFinalStatus(t *testing.T) {
	store := newFakeStore()
	h := NewHandler(store)
	task := &models.MigrationTask{Name: "t1", SourceEngine: models.EngineMySQL, TargetEngine: models.EnginePostgreSQL}
	_ = store.CreateTask(context.Background(), task)
	source := scenario5Adapter()
	if _, err := h.CreateMigrationPlan(context.Background(), task.ID, source, "public"); err != nil {
		t.Fatalf("create plan: %v", err)
	}

	target := &fakeMigrationAdapter{engine: models.EnginePostgreSQL, executeResult: dbadapter.Result{Status: dbadapter.StatusSuccess}}
	result, err := h.ExecuteMigrationBatch(context.Background(), task.ID, 10, target, models.EngineMySQL, models.EnginePostgreSQL)
	if err != nil {
		t.Fatalf("execute migration batch: %v", err)
	}
	if result.BatchCompleted != 4 {
		t.Fatalf("batch completed = %d, want 4 (5 items minus the skipped FULLTEXT index)", result.BatchCompleted)
	}
	if result.BatchFailed != 0 {
		t.Fatalf("batch failed = %d, want 0", result.BatchFailed)
	}

	finalTask, err := store.GetTask(context.Background(), task.ID)
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	if finalTask.Completed != 4 || finalTask.Skipped != 1 || finalTask.Failed != 0 {
		t.Fatalf("task counters = completed=%d failed=%d skipped=%d, want 4/0/1",
			finalTask.Completed, finalTask.Failed, finalTask.Skipped)
	}
	if finalTask.Status != models.MigrationTaskCompleted {
		t.Fatalf("final status = %v, want completed (no failures)", finalTask.Status)
	}
}

func TestExecuteMigrationBatch_FailedItemsSetTaskFailed(t *testing.T) {
	store := newFakeStore()
	h := NewHandler(store)
	task := &models.MigrationTask{Name: "t1", SourceEngine: models.EngineMySQL, TargetEngine: models.EnginePostgreSQL}
	_ = store.CreateTask(context.Background(), task)
	source := &fakeMigrationAdapter{
		engine:  models.EngineMySQL,
		objects: []dbadapter.SchemaObject{{Type: models.ObjectTable, Name: "a"}},
		ddl:     map[string]string{"table:a": "CREATE TABLE a (id INT)"},
	}
	if _, err := h.CreateMigrationPlan(context.Background(), task.ID, source, "public"); err != nil {
		t.Fatalf("create plan: %v", err)
	}

	target := &fakeMigrationAdapter{engine: models.EnginePostgreSQL, executeResult: dbadapter.Result{Status: dbadapter.StatusError, Error: "syntax error"}}
	if _, err := h.ExecuteMigrationBatch(context.Background(), task.ID, 10, target, models.EngineMySQL, models.EnginePostgreSQL); err != nil {
		t.Fatalf("execute migration batch: %v", err)
	}

	finalTask, _ := store.GetTask(context.Background(), task.ID)
	if finalTask.Status != models.MigrationTaskFailed {
		t.Fatalf("final status = %v, want failed", finalTask.Status)
	}
}

func TestRetryFailedItems_ResetsFailedCounterNotCompleted(t *testing.T) {
	store := newFakeStore()
	h := NewHandler(store)
	task := &models.MigrationTask{Name: "t1", SourceEngine: models.EngineMySQL, TargetEngine: models.EnginePostgreSQL}
	_ = store.CreateTask(context.Background(), task)
	_ = store.AddItemsBatch(context.Background(), []*models.MigrationItem{
		{TaskID: task.ID, ObjectType: models.ObjectTable, ObjectName: "a", ExecutionOrder: 1, Status: models.MigrationItemFailed, SourceDDL: "CREATE TABLE a (id INT)"},
	})
	_ = store.UpdateTaskProgress(context.Background(), task.ID, intPtr(2), intPtr(1), nil)

	result, err := h.RetryFailedItems(context.Background(), task.ID)
	if err != nil {
		t.Fatalf("retry failed items: %v", err)
	}
	if result.Retried != 1 {
		t.Fatalf("retried = %d, want 1", result.Retried)
	}

	finalTask, _ := store.GetTask(context.Background(), task.ID)
	if finalTask.Failed != 0 {
		t.Fatalf("failed counter = %d, want reset to 0", finalTask.Failed)
	}
	if finalTask.Completed != 2 {
		t.Fatalf("completed counter = %d, want unchanged at 2 (non-monotonic counters, per spec.md Open Questions)", finalTask.Completed)
	}

	items, _ := store.ListItems(context.Background(), task.ID, models.MigrationItemPending)
	if len(items) != 1 {
		t.Fatalf("expected the failed item to be requeued as pending, got %d pending", len(items))
	}
	if items[0].RetryCount != 1 {
		t.Fatalf("retry count = %d, want 1", items[0].RetryCount)
	}
}

func TestSkipMigrationItem_BumpsSkippedCounter(t *testing.T) {
	store := newFakeStore()
	h := NewHandler(store)
	task := &models.MigrationTask{Name: "t1"}
	_ = store.CreateTask(context.Background(), task)
	_ = store.AddItemsBatch(context.Background(), []*models.MigrationItem{
		{TaskID: task.ID, ObjectType: models.ObjectTrigger, ObjectName: "trg1", ExecutionOrder: 1, Status: models.MigrationItemPending},
	})
	items, _ := store.ListItems(context.Background(), task.ID, "")

	result, err := h.SkipMigrationItem(context.Background(), items[0].ID, "manual review required")
	if err != nil {
		t.Fatalf("skip migration item: %v", err)
	}
	if result.Reason != "manual review required" {
		t.Fatalf("reason = %q", result.Reason)
	}
	finalTask, _ := store.GetTask(context.Background(), task.ID)
	if finalTask.Skipped != 1 {
		t.Fatalf("skipped counter = %d, want 1", finalTask.Skipped)
	}
}

func TestGenerateMigrationReport_IncludesFailedAndSkipped(t *testing.T) {
	store := newFakeStore()
	h := NewHandler(store)
	task := &models.MigrationTask{Name: "t1", SourceEngine: models.EngineMySQL, TargetEngine: models.EnginePostgreSQL}
	_ = store.CreateTask(context.Background(), task)
	_ = store.AddItemsBatch(context.Background(), []*models.MigrationItem{
		{TaskID: task.ID, ObjectType: models.ObjectTable, ObjectName: "a", ExecutionOrder: 1, Status: models.MigrationItemCompleted},
		{TaskID: task.ID, ObjectType: models.ObjectTable, ObjectName: "b", ExecutionOrder: 2, Status: models.MigrationItemFailed, Error: "boom"},
		{TaskID: task.ID, ObjectType: models.ObjectIndex, ObjectName: "idx1", ExecutionOrder: 3, Status: models.MigrationItemSkipped, Error: "unsupported"},
	})

	report, err := h.GenerateMigrationReport(context.Background(), task.ID)
	if err != nil {
		t.Fatalf("generate migration report: %v", err)
	}
	if len(report.FailedItems) != 1 || report.FailedItems[0].Name != "b" {
		t.Fatalf("failed items = %+v", report.FailedItems)
	}
	if len(report.SkippedItems) != 1 || report.SkippedItems[0].Name != "idx1" {
		t.Fatalf("skipped items = %+v", report.SkippedItems)
	}
	if report.RuleSummary == "" {
		t.Fatal("expected a non-empty rule summary")
	}
}

func TestCompareDatabases_FindsMissingAndExtraTables(t *testing.T) {
	store := newFakeStore()
	h := NewHandler(store)
	task := &models.MigrationTask{Name: "t1", SourceSchema: "public", TargetSchema: "public"}
	_ = store.CreateTask(context.Background(), task)

	source := &fakeMigrationAdapter{objects: []dbadapter.SchemaObject{{Type: models.ObjectTable, Name: "a"}, {Type: models.ObjectTable, Name: "b"}}}
	target := &fakeMigrationAdapter{objects: []dbadapter.SchemaObject{{Type: models.ObjectTable, Name: "a"}, {Type: models.ObjectTable, Name: "c"}}}

	cmp, err := h.CompareDatabases(context.Background(), task.ID, source, target)
	if err != nil {
		t.Fatalf("compare databases: %v", err)
	}
	if len(cmp.Matches) != 1 || cmp.Matches[0] != "a" {
		t.Fatalf("matches = %v, want [a]", cmp.Matches)
	}
	if len(cmp.MissingInTarget) != 1 || cmp.MissingInTarget[0] != "b" {
		t.Fatalf("missing = %v, want [b]", cmp.MissingInTarget)
	}
	if len(cmp.ExtraInTarget) != 1 || cmp.ExtraInTarget[0] != "c" {
		t.Fatalf("extra = %v, want [c]", cmp.ExtraInTarget)
	}
}
