package repos

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	pkgerrors "github.com/malascope/malascope-backend/internal/pkg/errors"
	"github.com/malascope/malascope-backend/internal/logger"
	"github.com/malascope/malascope-backend/internal/types"
)

type DetailedAnalysisRepo interface {
	Create(ctx context.Context, tx *gorm.DB, analysis *types.DetailedAnalysis) (*types.DetailedAnalysis, error)
	GetByID(ctx context.Context, tx *gorm.DB, analysisID uuid.UUID) (*types.DetailedAnalysis, error)
	GetByImageAndInitial(ctx context.Context, tx *gorm.DB, imageID, initialAnalysisID uuid.UUID) (*types.DetailedAnalysis, error)
	GetLatestByImageID(ctx context.Context, tx *gorm.DB, imageID uuid.UUID) (*types.DetailedAnalysis, error)
	Verify(ctx context.Context, tx *gorm.DB, analysisID, verifiedBy uuid.UUID, notes string) (*types.DetailedAnalysis, error)
}

type detailedAnalysisRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewDetailedAnalysisRepo(db *gorm.DB, baseLog *logger.Logger) DetailedAnalysisRepo {
	repoLog := baseLog.With("repo", "DetailedAnalysisRepo")
	return &detailedAnalysisRepo{db: db, log: repoLog}
}

func (r *detailedAnalysisRepo) Create(ctx context.Context, tx *gorm.DB, analysis *types.DetailedAnalysis) (*types.DetailedAnalysis, error) {
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

func (r *detailedAnalysisRepo) GetByID(ctx context.Context, tx *gorm.DB, analysisID uuid.UUID) (*types.DetailedAnalysis, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	var result types.DetailedAnalysis
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

func (r *detailedAnalysisRepo) GetByImageAndInitial(ctx context.Context, tx *gorm.DB, imageID, initialAnalysisID uuid.UUID) (*types.DetailedAnalysis, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	var result types.DetailedAnalysis
	if err := transaction.WithContext(ctx).
		Where("image_id = ? AND initial_analysis_id = ?", imageID, initialAnalysisID).
		First(&result).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.ErrNotFound
		}
		return nil, err
	}
	return &result, nil
}

func (r *detailedAnalysisRepo) GetLatestByImageID(ctx context.Context, tx *gorm.DB, imageID uuid.UUID) (*types.DetailedAnalysis, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	var result types.DetailedAnalysis
	if err := transaction.WithContext(ctx).
		Where("image_id = ?", imageID).
		Order("created_at DESC").
		First(&result).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.ErrNotFound
		}
		return nil, err
	}
	return &result, nil
}

func (r *detailedAnalysisRepo) Verify(ctx context.Context, tx *gorm.DB, analysisID, verifiedBy uuid.UUID, notes string) (*types.DetailedAnalysis, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	now := time.Now().UTC()
	fields := map[string]any{
		"verified_by": verifiedBy,
		"verified_at": now,
	}
	if notes != "" {
		fields["notes"] = notes
	}

	res := transaction.WithContext(ctx).
		Model(&types.DetailedAnalysis{}).
		Where("id = ?", analysisID).
		Updates(fields)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, pkgerrors.ErrNotFound
	}
	return r.GetByID(ctx, transaction, analysisID)
}
