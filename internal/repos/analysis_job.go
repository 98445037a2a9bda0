package repos

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	pkgerrors "github.com/malascope/malascope-backend/internal/pkg/errors"
	"github.com/malascope/malascope-backend/internal/logger"
	"github.com/malascope/malascope-backend/internal/types"
)

type AnalysisJobRepo interface {
	Create(ctx context.Context, tx *gorm.DB, job *types.AnalysisJob) (*types.AnalysisJob, error)
	GetByID(ctx context.Context, tx *gorm.DB, jobID uuid.UUID) (*types.AnalysisJob, error)
	ListByImageID(ctx context.Context, tx *gorm.DB, imageID uuid.UUID) ([]*types.AnalysisJob, error)
	ClaimNextRunnable(ctx context.Context, tx *gorm.DB) (*types.AnalysisJob, error)
	UpdateFields(ctx context.Context, tx *gorm.DB, jobID uuid.UUID, updates map[string]any) error
	Heartbeat(ctx context.Context, tx *gorm.DB, jobID uuid.UUID) error
	FailStale(ctx context.Context, tx *gorm.DB, staleRunning time.Duration) (int64, error)
}

type analysisJobRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewAnalysisJobRepo(db *gorm.DB, baseLog *logger.Logger) AnalysisJobRepo {
	return &analysisJobRepo{
		db:  db,
		log: baseLog.With("repo", "AnalysisJobRepo"),
	}
}

// Create inserts a new queued job. The uq_analysis_job_active partial
// index makes the insert fail with ErrDuplicatedKey when a queued or
// running job for the same image and job type exists; that case is
// surfaced as ErrStageInProgress so callers can treat the second
// trigger as a no-op.
func (r *analysisJobRepo) Create(ctx context.Context, tx *gorm.DB, job *types.AnalysisJob) (*types.AnalysisJob, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if err := transaction.WithContext(ctx).Create(job).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, pkgerrors.ErrStageInProgress
		}
		return nil, err
	}
	return job, nil
}

func (r *analysisJobRepo) GetByID(ctx context.Context, tx *gorm.DB, jobID uuid.UUID) (*types.AnalysisJob, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var result types.AnalysisJob
	if err := transaction.WithContext(ctx).
		Where("id = ?", jobID).
		First(&result).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.ErrNotFound
		}
		return nil, err
	}
	return &result, nil
}

func (r *analysisJobRepo) ListByImageID(ctx context.Context, tx *gorm.DB, imageID uuid.UUID) ([]*types.AnalysisJob, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var results []*types.AnalysisJob
	if err := transaction.WithContext(ctx).
		Where("image_id = ?", imageID).
		Order("created_at ASC").
		Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

// ClaimNextRunnable atomically claims the oldest queued job. Failed
// jobs are not retried here; a failed stage requires a fresh trigger.
func (r *analysisJobRepo) ClaimNextRunnable(ctx context.Context, tx *gorm.DB) (*types.AnalysisJob, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	now := time.Now()
	var claimed *types.AnalysisJob
	err := transaction.WithContext(ctx).Transaction(func(txx *gorm.DB) error {
		var job types.AnalysisJob
		q := txx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where("status = ?", types.JobStatusQueued).
			Order("created_at ASC")
		qErr := q.First(&job).Error
		if errors.Is(qErr, gorm.ErrRecordNotFound) {
			return nil
		}
		if qErr != nil {
			return qErr
		}
		uErr := txx.Model(&types.AnalysisJob{}).
			Where("id = ?", job.ID).
			Updates(map[string]any{
				"status":       types.JobStatusRunning,
				"attempts":     gorm.Expr("attempts + 1"),
				"locked_at":    now,
				"heartbeat_at": now,
				"updated_at":   now,
			}).Error
		if uErr != nil {
			return uErr
		}
		claimed = &job
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

func (r *analysisJobRepo) UpdateFields(ctx context.Context, tx *gorm.DB, jobID uuid.UUID, updates map[string]any) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if jobID == uuid.Nil {
		return nil
	}
	if updates == nil {
		updates = map[string]any{}
	}
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now()
	}
	return transaction.WithContext(ctx).
		Model(&types.AnalysisJob{}).
		Where("id = ?", jobID).
		Updates(updates).Error
}

func (r *analysisJobRepo) Heartbeat(ctx context.Context, tx *gorm.DB, jobID uuid.UUID) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	now := time.Now()
	return transaction.WithContext(ctx).
		Model(&types.AnalysisJob{}).
		Where("id = ? AND status = ?", jobID, types.JobStatusRunning).
		Updates(map[string]any{
			"heartbeat_at": now,
			"updated_at":   now,
		}).Error
}

// FailStale marks running jobs whose heartbeat stopped as failed. This
// frees the partial unique index slot so the stage can be re-triggered.
func (r *analysisJobRepo) FailStale(ctx context.Context, tx *gorm.DB, staleRunning time.Duration) (int64, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	now := time.Now()
	cutoff := now.Add(-staleRunning)
	res := transaction.WithContext(ctx).
		Model(&types.AnalysisJob{}).
		Where("status = ? AND heartbeat_at IS NOT NULL AND heartbeat_at < ?", types.JobStatusRunning, cutoff).
		Updates(map[string]any{
			"status":        types.JobStatusFailed,
			"error":         "worker heartbeat lost",
			"last_error_at": now,
			"updated_at":    now,
		})
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}
