package buildqueue

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "github.com/asg017/sqlite-vec-go-bindings/ncruces"
	_ "github.com/ncruces/go-sqlite3/driver"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/migrate"

	"raptorengine/internal/raptor"
	"raptorengine/internal/sqlite/migrations"
)

// fakeBuilder records the jobs it was asked to build and signals a channel
// so the test doesn't need to poll.
type fakeBuilder struct {
	done chan BuildJob
}

func (f *fakeBuilder) Build(ctx context.Context, docID, datasetID string, chunks []raptor.ChunkItem, params raptor.BuildParams) (string, error) {
	f.done <- BuildJob{DocID: docID, DatasetID: datasetID, Chunks: chunks, Params: params}
	return "tree-1", nil
}

func newTestSQLDB(t *testing.T) *sql.DB {
	t.Helper()
	sqlDB, err := sql.Open("sqlite3", "file::memory:?cache=shared")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { sqlDB.Close() })

	// bun.DB.Close would close the underlying sqlDB this helper returns, so
	// the migration wrapper is never closed here; sqlDB outlives it.
	db := bun.NewDB(sqlDB, sqlitedialect.New())

	ctx := context.Background()
	migrator := migrate.NewMigrator(db, migrations.Migrations)
	if err := migrator.Init(ctx); err != nil {
		t.Fatalf("migrator init: %v", err)
	}
	if _, err := migrator.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return sqlDB
}

// TestEnqueueRunsBuildThroughGoqite verifies a job enqueued via goqite is
// picked up by the runner's poll loop and dispatched to the Builder with
// the payload intact.
func TestEnqueueRunsBuildThroughGoqite(t *testing.T) {
	sqlDB := newTestSQLDB(t)
	builder := &fakeBuilder{done: make(chan BuildJob, 1)}
	bq := New(sqlDB, builder, Config{Workers: 1, PollInterval: 10 * time.Millisecond})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	go bq.Start(ctx)

	job := BuildJob{
		DocID:     "doc-1",
		DatasetID: "dataset-1",
		Chunks: []raptor.ChunkItem{
			{ID: "c1", Text: "hello world", Vector: []float32{1, 0, 0, 0}},
		},
		Params: raptor.DefaultBuildParams(),
	}
	if err := bq.Enqueue(ctx, job); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	select {
	case got := <-builder.done:
		if got.DocID != job.DocID || got.DatasetID != job.DatasetID {
			t.Fatalf("expected job %+v, got %+v", job, got)
		}
		if len(got.Chunks) != 1 || got.Chunks[0].ID != "c1" {
			t.Fatalf("expected chunk payload to round-trip, got %+v", got.Chunks)
		}
	case <-ctx.Done():
		t.Fatalf("timed out waiting for build to run")
	}
}
