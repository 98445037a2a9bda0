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

type SampleImageRepo interface {
	Create(ctx context.Context, tx *gorm.DB, image *types.SampleImage) (*types.SampleImage, error)
	GetByID(ctx context.Context, tx *gorm.DB, imageID uuid.UUID) (*types.SampleImage, error)
	GetBySampleID(ctx context.Context, tx *gorm.DB, sampleID uuid.UUID) ([]*types.SampleImage, error)
	SetAnalyzed(ctx context.Context, tx *gorm.DB, imageID uuid.UUID, analyzed bool) error
}

type sampleImageRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewSampleImageRepo(db *gorm.DB, baseLog *logger.Logger) SampleImageRepo {
	repoLog := baseLog.With("repo", "SampleImageRepo")
	return &sampleImageRepo{db: db, log: repoLog}
}

func (r *sampleImageRepo) Create(ctx context.Context, tx *gorm.DB, image *types.SampleImage) (*types.SampleImage, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	if err := transaction.WithContext(ctx).Create(image).Error; err != nil {
		return nil, err
	}
	return image, nil
}

func (r *sampleImageRepo) GetByID(ctx context.Context, tx *gorm.DB, imageID uuid.UUID) (*types.SampleImage, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	var result types.SampleImage
	if err := transaction.WithContext(ctx).
		Where("id = ?", imageID).
		First(&result).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.ErrNotFound
		}
		return nil, err
	}
	return &result, nil
}

func (r *sampleImageRepo) GetBySampleID(ctx context.Context, tx *gorm.DB, sampleID uuid.UUID) ([]*types.SampleImage, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	var results []*types.SampleImage
	if err := transaction.WithContext(ctx).
		Where("sample_id = ?", sampleID).
		Order("created_at ASC").
		Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (r *sampleImageRepo) SetAnalyzed(ctx context.Context, tx *gorm.DB, imageID uuid.UUID, analyzed bool) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	res := transaction.WithContext(ctx).
		Model(&types.SampleImage{}).
		Where("id = ?", imageID).
		Update("is_analyzed", analyzed)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return pkgerrors.ErrNotFound
	}
	return nil
}
