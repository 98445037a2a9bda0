package repos

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	pkgerrors "github.com/malascope/malascope-backend/internal/pkg/errors"
	"github.com/malascope/malascope-backend/internal/logger"
	"github.com/malascope/malascope-backend/internal/types"
)

type InitialAnalysisRepo interface {
	Create(ctx context.Context, tx *gorm.DB, analysis *types.InitialAnalysis) (*types.InitialAnalysis, error)
	GetByID(ctx context.Context, tx *gorm.DB, analysisID uuid.UUID) (*types.InitialAnalysis, error)
	GetByImageID(ctx context.Context, tx *gorm.DB, imageID uuid.UUID) (*types.InitialAnalysis, error)
	UpdateFields(ctx context.Context, tx *gorm.DB, analysisID uuid.UUID, fields map[string]any) error
}

type initialAnalysisRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewInitialAnalysisRepo(db *gorm.DB, baseLog *logger.Logger) InitialAnalysisRepo {
	repoLog := baseLog.With("repo", "InitialAnalysisRepo")
	return &initialAnalysisRepo{db: db, log: repoLog}
}

func (r *initialAnalysisRepo) Create(ctx context.Context, tx *gorm.DB, analysis *types.InitialAnalysis) (*types.InitialAnalysis, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	if err := transaction.WithContext(ctx).Create(analysis).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, pkgerrors.ErrAlreadyAnalyzed
		}
		return nil, err
	}
	return analysis, nil
}

func (r *initialAnalysisRepo) GetByID(ctx context.Context, tx *gorm.DB, analysisID uuid.UUID) (*types.InitialAnalysis, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	var result types.InitialAnalysis
	if err := transaction.WithContext(ctx).
		Where("id = ?", analysisID).
		First(&result).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.ErrNotFound
		}
		return nil, err
	}
	return &result, nil
}

func (r *initialAnalysisRepo) GetByImageID(ctx context.Context, tx *gorm.DB, imageID uuid.UUID) (*types.InitialAnalysis, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	var result types.InitialAnalysis
	if err := transaction.WithContext(ctx).
		Where("image_id = ?", imageID).
		First(&result).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.ErrNotFound
		}
		return nil, err
	}
	return &result, nil
}

func (r *initialAnalysisRepo) UpdateFields(ctx context.Context, tx *gorm.DB, analysisID uuid.UUID, fields map[string]any) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	res := transaction.WithContext(ctx).
		Model(&types.InitialAnalysis{}).
		Where("id = ?", analysisID).
		Updates(fields)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return pkgerrors.ErrNotFound
	}
	return nil
}
