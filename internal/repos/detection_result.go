package repos

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/malascope/malascope-backend/internal/logger"
	"github.com/malascope/malascope-backend/internal/types"
)

type DetectionResultRepo interface {
	Create(ctx context.Context, tx *gorm.DB, results []*types.DetectionResult) ([]*types.DetectionResult, error)
	GetByDetailedAnalysisID(ctx context.Context, tx *gorm.DB, detailedAnalysisID uuid.UUID) ([]*types.DetectionResult, error)
}

type detectionResultRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewDetectionResultRepo(db *gorm.DB, baseLog *logger.Logger) DetectionResultRepo {
	repoLog := baseLog.With("repo", "DetectionResultRepo")
	return &detectionResultRepo{db: db, log: repoLog}
}

func (r *detectionResultRepo) Create(ctx context.Context, tx *gorm.DB, results []*types.DetectionResult) ([]*types.DetectionResult, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	if len(results) == 0 {
		return []*types.DetectionResult{}, nil
	}

	if err := transaction.WithContext(ctx).Create(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (r *detectionResultRepo) GetByDetailedAnalysisID(ctx context.Context, tx *gorm.DB, detailedAnalysisID uuid.UUID) ([]*types.DetectionResult, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	var results []*types.DetectionResult
	if err := transaction.WithContext(ctx).
		Where("detailed_analysis_id = ?", detailedAnalysisID).
		Order("confidence DESC").
		Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}
