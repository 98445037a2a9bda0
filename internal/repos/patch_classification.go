package repos

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/malascope/malascope-backend/internal/logger"
	"github.com/malascope/malascope-backend/internal/types"
)

type PatchClassificationRepo interface {
	Create(ctx context.Context, tx *gorm.DB, classifications []*types.PatchClassification) ([]*types.PatchClassification, error)
	GetByAnalysisID(ctx context.Context, tx *gorm.DB, analysisID uuid.UUID) ([]*types.PatchClassification, error)
	CountPositiveByAnalysisID(ctx context.Context, tx *gorm.DB, analysisID uuid.UUID) (int64, error)
}

type patchClassificationRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewPatchClassificationRepo(db *gorm.DB, baseLog *logger.Logger) PatchClassificationRepo {
	repoLog := baseLog.With("repo", "PatchClassificationRepo")
	return &patchClassificationRepo{db: db, log: repoLog}
}

func (r *patchClassificationRepo) Create(ctx context.Context, tx *gorm.DB, classifications []*types.PatchClassification) ([]*types.PatchClassification, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	if len(classifications) == 0 {
		return []*types.PatchClassification{}, nil
	}

	if err := transaction.WithContext(ctx).Create(&classifications).Error; err != nil {
		return nil, err
	}
	return classifications, nil
}

func (r *patchClassificationRepo) GetByAnalysisID(ctx context.Context, tx *gorm.DB, analysisID uuid.UUID) ([]*types.PatchClassification, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	var results []*types.PatchClassification
	if err := transaction.WithContext(ctx).
		Where("analysis_id = ?", analysisID).
		Order("created_at ASC").
		Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (r *patchClassificationRepo) CountPositiveByAnalysisID(ctx context.Context, tx *gorm.DB, analysisID uuid.UUID) (int64, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	var count int64
	if err := transaction.WithContext(ctx).
		Model(&types.PatchClassification{}).
		Where("analysis_id = ? AND is_positive = true", analysisID).
		Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}
