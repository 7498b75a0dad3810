package stores

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/openfroyo/manifests/pkg/catalog"
	"github.com/openfroyo/manifests/pkg/manifest"
)

// setupTestStore creates an in-memory SQLite store for testing
func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	store, err := NewSQLiteStore(Config{
		Path: MemoryPath,
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

func testRecord(class string, started time.Time, status manifest.RunStatus) *manifest.RunRecord {
	return &manifest.RunRecord{
		Manifest:    class + "#1",
		Class:       class,
		Status:      status,
		StartedAt:   started,
		CompletedAt: started.Add(2 * time.Second),
		Bucket: &catalog.Bucket{
			Name: class + "#1",
			Type: catalog.BucketTypeClass,
			Resources: []catalog.Resource{
				{
					Type:     "package",
					Name:     "nginx",
					Declared: true,
					Source:   class + "#1",
					Parameters: []catalog.Parameter{
						{Name: "ensure", Value: "installed"},
					},
				},
				{
					Type:     "service",
					Name:     "nginx",
					Declared: true,
					Source:   class + "#1",
					Parameters: []catalog.Parameter{
						{Name: "ensure", Value: "running"},
						{Name: "require", Value: "Package[nginx]"},
					},
				},
				{Type: "file", Name: "/etc/nginx", Declared: false},
			},
		},
	}
}

// TestStoreLifecycle tests database initialization and closure
func TestStoreLifecycle(t *testing.T) {
	store, err := NewSQLiteStore(Config{
		Path: MemoryPath,
	})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("failed to initialize store: %v", err)
	}

	if err := store.HealthCheck(ctx); err != nil {
		t.Fatalf("health check failed: %v", err)
	}

	if err := store.Close(); err != nil {
		t.Fatalf("failed to close store: %v", err)
	}
}

func TestNewSQLiteStore_RequiresPath(t *testing.T) {
	if _, err := NewSQLiteStore(Config{}); err == nil {
		t.Fatal("Expected error for empty path")
	}
}

func TestHealthCheck_Uninitialized(t *testing.T) {
	store, err := NewSQLiteStore(Config{Path: MemoryPath})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	if err := store.HealthCheck(context.Background()); err == nil {
		t.Fatal("Expected error before Init")
	}
}

// TestStoreMigrations tests that migrations are idempotent
func TestStoreMigrations(t *testing.T) {
	store := setupTestStore(t)

	if err := store.Migrate(context.Background()); err != nil {
		t.Fatalf("second migration failed: %v", err)
	}

	for _, table := range []string{"runs", "run_resources"} {
		var name string
		err := store.db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
		if err != nil {
			t.Errorf("table %s not found: %v", table, err)
		}
	}
}

func TestOpen_FileDatabase(t *testing.T) {
	path := t.TempDir() + "/history.db"
	ctx := context.Background()

	store, err := Open(ctx, Config{Path: path})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if err := store.RecordRun(ctx, testRecord("webserver", time.Now(), manifest.RunStatusApplied)); err != nil {
		t.Fatalf("RecordRun failed: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	reopened, err := Open(ctx, Config{Path: path})
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer reopened.Close()

	runs, err := reopened.ListRuns(ctx, 10, 0)
	if err != nil {
		t.Fatalf("ListRuns failed: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("Expected 1 run after reopen, got %d", len(runs))
	}
}

func TestRecordRun(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	started := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	run, err := store.SaveRun(ctx, testRecord("webserver", started, manifest.RunStatusApplied))
	if err != nil {
		t.Fatalf("SaveRun failed: %v", err)
	}
	if run.ID == "" {
		t.Fatal("Expected a run ID")
	}

	got, err := store.GetRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("GetRun failed: %v", err)
	}
	if got.Class != "webserver" {
		t.Errorf("Expected class webserver, got %s", got.Class)
	}
	if got.Status != RunStatusApplied {
		t.Errorf("Expected status applied, got %s", got.Status)
	}
	if got.ResourceCount != 3 {
		t.Errorf("Expected 3 resources, got %d", got.ResourceCount)
	}
	if got.Bucket != "webserver#1" {
		t.Errorf("Expected bucket webserver#1, got %s", got.Bucket)
	}
	if !got.StartedAt.Equal(started) {
		t.Errorf("Expected started_at %v, got %v", started, got.StartedAt)
	}
	if got.Duration() != 2*time.Second {
		t.Errorf("Expected duration 2s, got %v", got.Duration())
	}
	if got.Error != "" {
		t.Errorf("Expected no error, got %q", got.Error)
	}
	if got.TraceID != "" {
		t.Errorf("Expected no trace ID, got %q", got.TraceID)
	}
}

func TestRecordRun_TraceID(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	rec := testRecord("webserver", time.Now(), manifest.RunStatusApplied)
	rec.TraceID = "4bf92f3577b34da6a3ce929d0e0e4736"
	run, err := store.SaveRun(ctx, rec)
	if err != nil {
		t.Fatalf("SaveRun failed: %v", err)
	}

	runs, err := store.ListRuns(ctx, 10, 0)
	if err != nil {
		t.Fatalf("ListRuns failed: %v", err)
	}
	if len(runs) != 1 || runs[0].ID != run.ID || runs[0].TraceID != rec.TraceID {
		t.Errorf("Expected run %s with trace %s, got %+v", run.ID, rec.TraceID, runs)
	}
}

func TestRecordRun_Failed(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	rec := testRecord("webserver", time.Now(), manifest.RunStatusFailed)
	rec.Err = errors.New("Service[nginx]: exit status 1")
	rec.Forced = true

	run, err := store.SaveRun(ctx, rec)
	if err != nil {
		t.Fatalf("SaveRun failed: %v", err)
	}

	got, err := store.GetRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("GetRun failed: %v", err)
	}
	if got.Status != RunStatusFailed {
		t.Errorf("Expected status failed, got %s", got.Status)
	}
	if !got.Forced {
		t.Error("Expected forced run")
	}
	if got.Error != "Service[nginx]: exit status 1" {
		t.Errorf("Expected stored error, got %q", got.Error)
	}
}

func TestRecordRun_NilBucket(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	rec := testRecord("empty", time.Now(), manifest.RunStatusFailed)
	rec.Bucket = nil

	run, err := store.SaveRun(ctx, rec)
	if err != nil {
		t.Fatalf("SaveRun failed: %v", err)
	}

	resources, err := store.ListRunResources(ctx, run.ID)
	if err != nil {
		t.Fatalf("ListRunResources failed: %v", err)
	}
	if len(resources) != 0 {
		t.Errorf("Expected no resources, got %d", len(resources))
	}
}

func TestGetRun_NotFound(t *testing.T) {
	store := setupTestStore(t)

	_, err := store.GetRun(context.Background(), "missing")
	if !errors.Is(err, ErrRunNotFound) {
		t.Fatalf("Expected ErrRunNotFound, got %v", err)
	}
}

func TestListRunResources(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	run, err := store.SaveRun(ctx, testRecord("webserver", time.Now(), manifest.RunStatusApplied))
	if err != nil {
		t.Fatalf("SaveRun failed: %v", err)
	}

	resources, err := store.ListRunResources(ctx, run.ID)
	if err != nil {
		t.Fatalf("ListRunResources failed: %v", err)
	}
	if len(resources) != 3 {
		t.Fatalf("Expected 3 resources, got %d", len(resources))
	}

	want := []string{"Package[nginx]", "Service[nginx]", "File[/etc/nginx]"}
	for i, res := range resources {
		if res.String() != want[i] {
			t.Errorf("resource %d: expected %s, got %s", i, want[i], res.String())
		}
		if res.Position != i {
			t.Errorf("resource %d: expected position %d, got %d", i, i, res.Position)
		}
	}

	svc := resources[1].Resource()
	if v, _ := svc.Param("require"); v != "Package[nginx]" {
		t.Errorf("Expected require Package[nginx], got %q", v)
	}
	if svc.Parameters[0].Name != "ensure" {
		t.Errorf("Expected parameter order preserved, got %v", svc.Parameters)
	}
	if resources[2].Declared {
		t.Error("Expected reference to be stored as undeclared")
	}
	if resources[2].Parameters != nil {
		t.Errorf("Expected no parameters on reference, got %v", resources[2].Parameters)
	}
}

func TestListRuns_NewestFirst(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i, class := range []string{"first", "second", "third"} {
		if err := store.RecordRun(ctx, testRecord(class, base.Add(time.Duration(i)*time.Minute), manifest.RunStatusApplied)); err != nil {
			t.Fatalf("RecordRun failed: %v", err)
		}
	}

	runs, err := store.ListRuns(ctx, 2, 0)
	if err != nil {
		t.Fatalf("ListRuns failed: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("Expected 2 runs, got %d", len(runs))
	}
	if runs[0].Class != "third" || runs[1].Class != "second" {
		t.Errorf("Expected third, second; got %s, %s", runs[0].Class, runs[1].Class)
	}

	runs, err = store.ListRuns(ctx, 2, 2)
	if err != nil {
		t.Fatalf("ListRuns failed: %v", err)
	}
	if len(runs) != 1 || runs[0].Class != "first" {
		t.Errorf("Expected only first on second page, got %v", runs)
	}
}

func TestListRunsByClass(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	now := time.Now()
	for _, class := range []string{"webserver", "database", "webserver"} {
		if err := store.RecordRun(ctx, testRecord(class, now, manifest.RunStatusApplied)); err != nil {
			t.Fatalf("RecordRun failed: %v", err)
		}
	}

	runs, err := store.ListRunsByClass(ctx, "webserver", 10)
	if err != nil {
		t.Fatalf("ListRunsByClass failed: %v", err)
	}
	if len(runs) != 2 {
		t.Errorf("Expected 2 webserver runs, got %d", len(runs))
	}
}

func TestDeleteRun_Cascades(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	run, err := store.SaveRun(ctx, testRecord("webserver", time.Now(), manifest.RunStatusApplied))
	if err != nil {
		t.Fatalf("SaveRun failed: %v", err)
	}

	if err := store.DeleteRun(ctx, run.ID); err != nil {
		t.Fatalf("DeleteRun failed: %v", err)
	}

	var count int
	if err := store.db.QueryRow("SELECT COUNT(*) FROM run_resources WHERE run_id = ?", run.ID).Scan(&count); err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if count != 0 {
		t.Errorf("Expected resources to be deleted, got %d", count)
	}

	if err := store.DeleteRun(ctx, run.ID); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("Expected ErrRunNotFound on second delete, got %v", err)
	}
}

func TestPruneRuns(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		if err := store.RecordRun(ctx, testRecord("webserver", base.Add(time.Duration(i)*time.Hour), manifest.RunStatusApplied)); err != nil {
			t.Fatalf("RecordRun failed: %v", err)
		}
	}

	removed, err := store.PruneRuns(ctx, 2)
	if err != nil {
		t.Fatalf("PruneRuns failed: %v", err)
	}
	if removed != 3 {
		t.Errorf("Expected 3 runs removed, got %d", removed)
	}

	runs, err := store.ListRuns(ctx, 10, 0)
	if err != nil {
		t.Fatalf("ListRuns failed: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("Expected 2 runs kept, got %d", len(runs))
	}
	if !runs[1].StartedAt.Equal(base.Add(3 * time.Hour)) {
		t.Errorf("Expected the newest runs to be kept, got %v", runs[1].StartedAt)
	}

	if _, err := store.PruneRuns(ctx, -1); err == nil {
		t.Error("Expected error for negative keep")
	}
}

func TestDiffResources(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	first, err := store.SaveRun(ctx, testRecord("webserver", time.Now(), manifest.RunStatusApplied))
	if err != nil {
		t.Fatalf("SaveRun failed: %v", err)
	}
	changed := testRecord("webserver", time.Now(), manifest.RunStatusApplied)
	changed.Bucket.Resources[0].Parameters[0].Value = "latest"
	second, err := store.SaveRun(ctx, changed)
	if err != nil {
		t.Fatalf("SaveRun failed: %v", err)
	}

	a, err := store.ListRunResources(ctx, first.ID)
	if err != nil {
		t.Fatalf("ListRunResources failed: %v", err)
	}
	b, err := store.ListRunResources(ctx, second.ID)
	if err != nil {
		t.Fatalf("ListRunResources failed: %v", err)
	}

	diff, err := DiffResources(first, second, a, b)
	if err != nil {
		t.Fatalf("DiffResources failed: %v", err)
	}
	if !strings.Contains(diff, "-  ensure => installed") {
		t.Errorf("Expected removed line in diff, got:\n%s", diff)
	}
	if !strings.Contains(diff, "+  ensure => latest") {
		t.Errorf("Expected added line in diff, got:\n%s", diff)
	}

	same, err := DiffResources(first, first, a, a)
	if err != nil {
		t.Fatalf("DiffResources failed: %v", err)
	}
	if same != "" {
		t.Errorf("Expected empty diff for identical snapshots, got:\n%s", same)
	}
}

func TestRenderResources(t *testing.T) {
	out := RenderResources([]*RunResource{
		{Type: "exec", Name: "reload", Declared: true, Parameters: []catalog.Parameter{{Name: "command", Value: "nginx -s reload"}}},
		{Type: "file", Name: "/etc/nginx"},
	})

	want := "Exec[reload]\n  command => nginx -s reload\nFile[/etc/nginx] (reference)\n"
	if out != want {
		t.Errorf("Expected %q, got %q", want, out)
	}
}
