// Package buildqueue durably schedules RAPTOR tree builds on top of
// goqite, an SQLite-backed job queue sharing the same database as the
// tree schema. A build is long-running and must survive a process restart
// mid-flight, so it is dispatched as a job rather than run inline on the
// caller's goroutine.
package buildqueue

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"maragu.dev/goqite"
	"maragu.dev/goqite/jobs"

	"raptorengine/internal/raptor"
)

// QueueName is the single goqite queue this package dispatches on.
const QueueName = "raptor_build"

// JobType is the registered job type for a tree build.
const JobType = "build_tree"

// BuildJob is the durable payload for one build_tree job: enough to call
// RaptorBuilder.Build without depending on anything the caller's process
// still has in memory.
type BuildJob struct {
	DocID     string             `json:"doc_id"`
	DatasetID string             `json:"dataset_id"`
	Chunks    []raptor.ChunkItem `json:"chunks"`
	Params    raptor.BuildParams `json:"params"`
}

// Builder is the capability BuildQueue dispatches jobs to; RaptorBuilder
// satisfies it directly.
type Builder interface {
	Build(ctx context.Context, docID, datasetID string, chunks []raptor.ChunkItem, params raptor.BuildParams) (string, error)
}

// Config holds the runner's worker count and poll interval.
type Config struct {
	Workers      int
	PollInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 2
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 200 * time.Millisecond
	}
	return c
}

// BuildQueue wraps one goqite queue plus its job runner, registered to
// run builds through a Builder. It is not a process-global singleton:
// callers construct and own one instance.
type BuildQueue struct {
	queue  *goqite.Queue
	runner *jobs.Runner
}

// New wires a BuildQueue against sqlDB (the *sql.DB underlying the shared
// bun.DB handle) and registers builder as the build_tree handler.
func New(sqlDB *sql.DB, builder Builder, cfg Config) *BuildQueue {
	cfg = cfg.withDefaults()

	q := goqite.New(goqite.NewOpts{
		DB:   sqlDB,
		Name: QueueName,
	})

	r := jobs.NewRunner(jobs.NewRunnerOpts{
		Limit:        cfg.Workers,
		Log:          slog.Default(),
		PollInterval: cfg.PollInterval,
		Queue:        q,
	})

	r.Register(JobType, func(ctx context.Context, msg []byte) error {
		var job BuildJob
		if err := json.Unmarshal(msg, &job); err != nil {
			slog.Error("buildqueue: malformed job payload, dropping", "error", err)
			return nil
		}
		_, err := builder.Build(ctx, job.DocID, job.DatasetID, job.Chunks, job.Params)
		return err
	})

	return &BuildQueue{queue: q, runner: r}
}

// Start runs the job runner's poll loop until ctx is cancelled.
func (bq *BuildQueue) Start(ctx context.Context) {
	bq.runner.Start(ctx)
}

// Enqueue durably schedules a build, returning once the job row is
// committed. The build itself runs later, on the runner's goroutine.
func (bq *BuildQueue) Enqueue(ctx context.Context, job BuildJob) error {
	body, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("buildqueue: marshal job: %w", err)
	}
	return jobs.Create(ctx, bq.queue, JobType, body)
}
