package pipeline

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/malascope/malascope-backend/internal/logger"
	"github.com/malascope/malascope-backend/internal/repos"
	"github.com/malascope/malascope-backend/internal/utils"
)

const (
	pollInterval      = 1 * time.Second
	staleSweepEvery   = 1 * time.Minute
	staleRunningAfter = 10 * time.Minute
)

// Worker drives the analysis pipeline: a pool of goroutines polls the
// job table, claims runnable jobs with SKIP LOCKED and dispatches them
// to registered handlers. Jobs are never retried automatically; a
// failed stage requires a fresh trigger from the API.
type Worker struct {
	db       *gorm.DB
	log      *logger.Logger
	repo     repos.AnalysisJobRepo
	registry *Registry
}

func NewWorker(db *gorm.DB, baseLog *logger.Logger, repo repos.AnalysisJobRepo, registry *Registry) *Worker {
	return &Worker{
		db:       db,
		log:      baseLog.With("component", "AnalysisWorker"),
		repo:     repo,
		registry: registry,
	}
}

func (w *Worker) Start(ctx context.Context) {
	concurrency := utils.GetEnvAsInt("WORKER_CONCURRENCY", 4, w.log)
	if concurrency < 1 {
		concurrency = 1
	}
	w.log.Info("Starting analysis worker pool", "concurrency", concurrency)

	for i := 0; i < concurrency; i++ {
		workerID := i + 1
		go w.runLoop(ctx, workerID)
	}
	go w.staleSweepLoop(ctx)
}

func (w *Worker) runLoop(ctx context.Context, workerID int) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info("Worker loop stopped", "worker_id", workerID)
			return
		case <-ticker.C:
			job, err := w.repo.ClaimNextRunnable(ctx, nil)
			if err != nil {
				w.log.Warn("ClaimNextRunnable failed", "worker_id", workerID, "error", err)
				continue
			}
			if job == nil {
				continue
			}

			jc := NewJobContext(ctx, w.db, job, w.repo)
			h, ok := w.registry.Get(job.JobType)
			if !ok {
				w.log.Warn("No handler registered for job_type",
					"worker_id", workerID,
					"job_type", job.JobType,
					"job_id", job.ID,
				)
				jc.Fail("dispatch", &missingHandlerError{JobType: job.JobType})
				continue
			}

			w.runOne(jc, h, workerID)
		}
	}
}

func (w *Worker) runOne(jc *JobContext, h Handler, workerID int) {
	defer func() {
		if r := recover(); r != nil {
			w.log.Error("Job handler panic",
				"worker_id", workerID,
				"job_id", jc.Job.ID,
				"job_type", jc.Job.JobType,
				"panic", r,
			)
			jc.Fail("panic", &panicError{})
		}
	}()

	if runErr := h.Run(jc); runErr != nil {
		// Handlers normally call jc.Fail themselves; safety net for
		// the ones that just return.
		jc.Fail("run", runErr)
	}
}

// staleSweepLoop fails running jobs whose worker died without a
// heartbeat, freeing the dedup slot for a re-trigger.
func (w *Worker) staleSweepLoop(ctx context.Context) {
	ticker := time.NewTicker(staleSweepEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := w.repo.FailStale(ctx, nil, staleRunningAfter)
			if err != nil {
				w.log.Warn("Stale job sweep failed", "error", err)
				continue
			}
			if n > 0 {
				w.log.Warn("Failed stale running jobs", "count", n)
			}
		}
	}
}

type missingHandlerError struct{ JobType string }

func (e *missingHandlerError) Error() string {
	return "no handler registered for job_type=" + e.JobType
}

type panicError struct{}

func (e *panicError) Error() string { return "panic: unexpected error" }
