package stores

import (
	"context"
	"errors"
	"iter"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/openfroyo/cfgport/pkg/engine"
)

// setupTestStore creates an in-memory SQLite store for testing
func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	store, err := NewSQLiteStore(Config{
		Path: ":memory:",
	})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("failed to initialize store: %v", err)
	}

	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("failed to migrate store: %v", err)
	}

	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestNewSQLiteStore_RequiresPath(t *testing.T) {
	if _, err := NewSQLiteStore(Config{}); err == nil {
		t.Fatal("expected error for empty path")
	}
}

// TestStoreLifecycle tests database initialization and closure
func TestStoreLifecycle(t *testing.T) {
	store, err := NewSQLiteStore(Config{
		Path: filepath.Join(t.TempDir(), "journal.db"),
	})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	ctx := context.Background()
	if err := store.HealthCheck(ctx); err == nil {
		t.Fatal("expected health check to fail before Init")
	}
	if err := store.Init(ctx); err != nil {
		t.Fatalf("failed to initialize store: %v", err)
	}
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("failed to migrate store: %v", err)
	}
	// migrations are idempotent
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("second migration failed: %v", err)
	}
	if err := store.HealthCheck(ctx); err != nil {
		t.Fatalf("health check failed: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("failed to close store: %v", err)
	}
}

// TestStoreMigrations tests database migrations
func TestStoreMigrations(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	tables := []string{"import_runs", "import_results", "export_documents"}
	for _, table := range tables {
		var count int
		err := store.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&count)
		if err != nil {
			t.Errorf("table %s does not exist or is not accessible: %v", table, err)
		}
	}
}

func TestJournal_RunLifecycle(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	started := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	run := engine.ImportRun{
		ID:        "run-001",
		Origin:    "https://source.example.com/am",
		Target:    "https://target.example.com/am",
		Total:     2,
		StartedAt: started,
	}
	if err := store.BeginImport(ctx, run); err != nil {
		t.Fatalf("failed to begin import: %v", err)
	}

	got, err := store.GetImportRun(ctx, "run-001")
	if err != nil {
		t.Fatalf("failed to get run: %v", err)
	}
	if got.Status != engine.RunStatusRunning {
		t.Errorf("expected status running, got %s", got.Status)
	}
	if got.Mode != engine.ModeFailFast {
		t.Errorf("expected empty mode to be stored as fail-fast, got %s", got.Mode)
	}
	if !got.StartedAt.Equal(started) {
		t.Errorf("expected started_at %v, got %v", started, got.StartedAt)
	}
	if got.CompletedAt != nil {
		t.Errorf("expected no completion time, got %v", got.CompletedAt)
	}

	created := engine.Skeleton{ID: "rt-new", Type: engine.TypeResourceType}
	results := []engine.Result{
		{
			Key:       engine.Key{Type: engine.TypeResourceType, ID: "rt1"},
			Entity:    &created,
			Operation: engine.OperationCreate,
			State:     engine.StateDone,
			History:   []engine.ImportState{engine.StatePending, engine.StateCreating, engine.StateCreated, engine.StateDone},
		},
		{
			Key:     engine.Key{Type: engine.TypeScript, ID: "s1"},
			State:   engine.StateFailed,
			History: []engine.ImportState{engine.StatePending, engine.StateCreating, engine.StateFailed},
			Err:     engine.NewError("Error importing script s1", errors.New("boom")),
		},
	}
	for _, res := range results {
		if err := store.RecordResult(ctx, "run-001", res); err != nil {
			t.Fatalf("failed to record result: %v", err)
		}
	}

	summary := engine.ImportSummary{
		Status:    engine.RunStatusPartial,
		Succeeded: 1,
		Failed:    1,
		Error:     "Error importing 1 of 2 entities",
	}
	if err := store.EndImport(ctx, "run-001", summary); err != nil {
		t.Fatalf("failed to end import: %v", err)
	}

	got, err = store.GetImportRun(ctx, "run-001")
	if err != nil {
		t.Fatalf("failed to get run: %v", err)
	}
	if got.Status != engine.RunStatusPartial || got.Succeeded != 1 || got.Failed != 1 {
		t.Errorf("unexpected completed run: %+v", got)
	}
	if got.Error == nil || *got.Error != summary.Error {
		t.Errorf("expected error %q, got %v", summary.Error, got.Error)
	}
	if got.CompletedAt == nil {
		t.Error("expected completion time to be set")
	}

	records, err := store.ListImportResults(ctx, "run-001")
	if err != nil {
		t.Fatalf("failed to list results: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 results, got %d", len(records))
	}

	first := records[0]
	if first.EntityType != engine.TypeResourceType || first.EntityID != "rt1" || first.Operation != engine.OperationCreate {
		t.Errorf("unexpected first result: %+v", first)
	}
	if first.AppliedID == nil || *first.AppliedID != "rt-new" {
		t.Errorf("expected applied id rt-new, got %v", first.AppliedID)
	}
	if diff := cmp.Diff(results[0].History, first.History); diff != "" {
		t.Errorf("unexpected history (-want +got):\n%s", diff)
	}

	second := records[1]
	if second.Operation != engine.OperationNone || second.State != engine.StateFailed {
		t.Errorf("unexpected second result: %+v", second)
	}
	if second.AppliedID != nil {
		t.Errorf("expected no applied id, got %q", *second.AppliedID)
	}
	if second.Error == nil || *second.Error != "Error importing script s1\n  boom" {
		t.Errorf("unexpected error text: %v", second.Error)
	}
}

func TestJournal_Errors(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	if _, err := store.GetImportRun(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got: %v", err)
	}
	err := store.EndImport(ctx, "missing", engine.ImportSummary{Status: engine.RunStatusSucceeded})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got: %v", err)
	}
	if err := store.EndImport(ctx, "missing", engine.ImportSummary{Status: "bogus"}); err == nil {
		t.Error("expected invalid status to be rejected")
	}

	res := engine.Result{Key: engine.Key{Type: engine.TypeScript, ID: "s1"}, State: engine.StateDone}
	if err := store.RecordResult(ctx, "missing", res); err == nil {
		t.Error("expected foreign key violation for unknown run")
	}
	if err := store.DeleteImportRun(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got: %v", err)
	}
}

func TestJournal_ListAndDelete(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	for i, id := range []string{"run-a", "run-b", "run-c"} {
		run := engine.ImportRun{ID: id, Target: "https://am.example.com/am", Mode: engine.ModeCollect, StartedAt: base.Add(time.Duration(i) * time.Hour)}
		if err := store.BeginImport(ctx, run); err != nil {
			t.Fatalf("failed to begin import %s: %v", id, err)
		}
	}
	res := engine.Result{Key: engine.Key{Type: engine.TypeScript, ID: "s1"}, State: engine.StateDone, History: []engine.ImportState{engine.StateDone}}
	if err := store.RecordResult(ctx, "run-b", res); err != nil {
		t.Fatalf("failed to record result: %v", err)
	}

	runs, err := store.ListImportRuns(ctx, 2, 0)
	if err != nil {
		t.Fatalf("failed to list runs: %v", err)
	}
	var ids []string
	for _, r := range runs {
		ids = append(ids, r.ID)
	}
	if diff := cmp.Diff([]string{"run-c", "run-b"}, ids); diff != "" {
		t.Errorf("unexpected runs (-want +got):\n%s", diff)
	}

	if err := store.DeleteImportRun(ctx, "run-b"); err != nil {
		t.Fatalf("failed to delete run: %v", err)
	}
	results, err := store.ListImportResults(ctx, "run-b")
	if err != nil {
		t.Fatalf("failed to list results: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("expected results to be deleted with their run, got %d", len(results))
	}
	runs, _ = store.ListImportRuns(ctx, 10, 0)
	if len(runs) != 2 {
		t.Errorf("expected 2 remaining runs, got %d", len(runs))
	}
}

func testDocument(t *testing.T, origin string) *engine.ExportDocument {
	t.Helper()
	doc, err := engine.ParseExportDocument([]byte(`{
		"meta": {
			"origin": "` + origin + `",
			"originAmVersion": "7.3.0",
			"exportedBy": "amadmin",
			"exportDate": "2026-01-02T02:04:05Z",
			"exportTool": "cfgport",
			"exportToolVersion": "dev"
		},
		"resourceType": {
			"rt1": {"_id": "rt1", "name": "Web", "actions": {"GET": true}, "patterns": ["*://*:*/*"]}
		},
		"script": {
			"s1": {"_id": "s1", "name": "Decide", "script": ["var x = 12345678901234567890;"]}
		}
	}`))
	if err != nil {
		t.Fatalf("failed to parse document: %v", err)
	}
	return doc
}

func TestExportArchive_SaveLoad(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	doc := testDocument(t, "https://source.example.com/am")

	rec, err := store.SaveExport(ctx, "nightly", doc)
	if err != nil {
		t.Fatalf("failed to save export: %v", err)
	}
	if rec.ID == "" || rec.Entities != 2 || rec.Origin != "https://source.example.com/am" || rec.ExportedBy != "amadmin" {
		t.Errorf("unexpected record: %+v", rec)
	}

	loaded, err := store.LoadExport(ctx, "nightly")
	if err != nil {
		t.Fatalf("failed to load export: %v", err)
	}
	if diff := cmp.Diff(doc, loaded); diff != "" {
		t.Errorf("document changed in the archive (-want +got):\n%s", diff)
	}

	// saving under the same name replaces the document and keeps the id
	replacement := testDocument(t, "https://other.example.com/am")
	replacement.Add(engine.Skeleton{ID: "rt2", Type: engine.TypeResourceType, Payload: &engine.ResourceType{Object: engine.Object{"_id": "rt2", "name": "Api"}}})
	rec2, err := store.SaveExport(ctx, "nightly", replacement)
	if err != nil {
		t.Fatalf("failed to replace export: %v", err)
	}
	if rec2.ID != rec.ID {
		t.Errorf("expected id %s to be kept, got %s", rec.ID, rec2.ID)
	}

	list, err := store.ListExports(ctx, 10, 0)
	if err != nil {
		t.Fatalf("failed to list exports: %v", err)
	}
	if len(list) != 1 || list[0].Entities != 3 || list[0].Origin != "https://other.example.com/am" {
		t.Errorf("unexpected export list: %+v", list)
	}
}

func TestExportArchive_Errors(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	if _, err := store.SaveExport(ctx, "", engine.NewExportDocument(nil)); err == nil {
		t.Error("expected error for empty name")
	}
	if _, err := store.LoadExport(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got: %v", err)
	}
	if err := store.DeleteExport(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got: %v", err)
	}

	if _, err := store.SaveExport(ctx, "empty", engine.NewExportDocument(nil)); err != nil {
		t.Fatalf("failed to save document without metadata: %v", err)
	}
	if err := store.DeleteExport(ctx, "empty"); err != nil {
		t.Fatalf("failed to delete export: %v", err)
	}
	list, _ := store.ListExports(ctx, 10, 0)
	if len(list) != 0 {
		t.Errorf("expected empty archive, got %d", len(list))
	}
}

// memTarget is a minimal engine.Target holding resource types in memory.
type memTarget struct {
	entities map[string]engine.Skeleton
	fail     map[string]bool
}

func (m *memTarget) List(context.Context, engine.EntityType, engine.Scope) iter.Seq2[engine.Skeleton, error] {
	return func(func(engine.Skeleton, error) bool) {}
}

func (m *memTarget) Get(ctx context.Context, t engine.EntityType, scope engine.Scope, id string) (engine.Skeleton, error) {
	s, ok := m.entities[id]
	if !ok {
		return engine.Skeleton{}, engine.NewNotFoundError(t, id, nil)
	}
	return s, nil
}

func (m *memTarget) Find(ctx context.Context, t engine.EntityType, scope engine.Scope, id string) (*engine.Skeleton, error) {
	s, ok := m.entities[id]
	if !ok {
		return nil, nil
	}
	return &s, nil
}

func (m *memTarget) NodeTypes(context.Context, engine.Scope) ([]string, error) { return nil, nil }

func (m *memTarget) ListSubresources(context.Context, engine.Skeleton, engine.Scope) ([]engine.Subresource, error) {
	return nil, nil
}

func (m *memTarget) Create(ctx context.Context, s engine.Skeleton, scope engine.Scope) (engine.Skeleton, error) {
	if m.fail[s.ID] {
		return engine.Skeleton{}, &engine.NetworkError{Status: 500, Code: "ERR_BAD_RESPONSE", Message: "boom"}
	}
	out := s.Clone()
	out.Revision = "1"
	m.entities[s.ID] = out
	return out, nil
}

func (m *memTarget) Update(ctx context.Context, s engine.Skeleton, scope engine.Scope) (engine.Skeleton, error) {
	out := s.Clone()
	out.Revision = "2"
	m.entities[s.ID] = out
	return out, nil
}

func (m *memTarget) Delete(ctx context.Context, t engine.EntityType, scope engine.Scope, id string) error {
	delete(m.entities, id)
	return nil
}

func (m *memTarget) PutSubresource(context.Context, engine.Skeleton, engine.Scope, engine.Subresource) error {
	return nil
}

func TestJournal_WithImporter(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	doc, err := engine.ParseExportDocument([]byte(`{
		"meta": {"origin": "https://source.example.com/am"},
		"resourceType": {
			"rt1": {"_id": "rt1", "name": "Web"},
			"rt2": {"_id": "rt2", "name": "Api"}
		}
	}`))
	if err != nil {
		t.Fatalf("failed to parse document: %v", err)
	}

	target := &memTarget{entities: map[string]engine.Skeleton{}, fail: map[string]bool{"rt2": true}}
	conn := engine.Connection{Host: "https://target.example.com/am", Realm: "alpha", DeploymentType: engine.DeploymentCloud}
	importer := engine.NewImporter(target, conn).WithJournal(store)

	applied, err := importer.ImportAll(ctx, doc, engine.DefaultImportOptions())
	if err == nil {
		t.Fatal("expected aggregate error")
	}
	if len(applied) != 1 || applied[0].ID != "rt1" {
		t.Errorf("expected rt1 to be applied, got %v", applied)
	}

	runs, err := store.ListImportRuns(ctx, 10, 0)
	if err != nil {
		t.Fatalf("failed to list runs: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("expected 1 run, got %d", len(runs))
	}
	run := runs[0]
	if run.Status != engine.RunStatusPartial || run.Total != 2 || run.Succeeded != 1 || run.Failed != 1 {
		t.Errorf("unexpected run: %+v", run)
	}
	if run.Origin != "https://source.example.com/am" || run.Target != conn.Host || run.Mode != engine.ModeCollect {
		t.Errorf("unexpected run context: %+v", run)
	}

	results, err := store.ListImportResults(ctx, run.ID)
	if err != nil {
		t.Fatalf("failed to list results: %v", err)
	}
	var got []string
	for _, r := range results {
		got = append(got, r.EntityID+":"+string(r.State))
	}
	if diff := cmp.Diff([]string{"rt1:done", "rt2:failed"}, got); diff != "" {
		t.Errorf("unexpected results (-want +got):\n%s", diff)
	}
	if results[1].Error == nil || !strings.HasPrefix(*results[1].Error, "Error importing resourceType rt2") {
		t.Errorf("unexpected failure text: %v", results[1].Error)
	}
}
