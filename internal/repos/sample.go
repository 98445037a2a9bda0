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

type SampleRepo interface {
	Create(ctx context.Context, tx *gorm.DB, sample *types.Sample) (*types.Sample, error)
	GetByID(ctx context.Context, tx *gorm.DB, sampleID uuid.UUID) (*types.Sample, error)
	UpdateStatus(ctx context.Context, tx *gorm.DB, sampleID uuid.UUID, status types.SampleStatus) error
}

type sampleRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewSampleRepo(db *gorm.DB, baseLog *logger.Logger) SampleRepo {
	repoLog := baseLog.With("repo", "SampleRepo")
	return &sampleRepo{db: db, log: repoLog}
}

func (r *sampleRepo) Create(ctx context.Context, tx *gorm.DB, sample *types.Sample) (*types.Sample, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	if err := transaction.WithContext(ctx).Create(sample).Error; err != nil {
		return nil, err
	}
	return sample, nil
}

func (r *sampleRepo) GetByID(ctx context.Context, tx *gorm.DB, sampleID uuid.UUID) (*types.Sample, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	var result types.Sample
	if err := transaction.WithContext(ctx).
		Where("id = ?", sampleID).
		First(&result).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.ErrNotFound
		}
		return nil, err
	}
	return &result, nil
}

func (r *sampleRepo) UpdateStatus(ctx context.Context, tx *gorm.DB, sampleID uuid.UUID, status types.SampleStatus) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	res := transaction.WithContext(ctx).
		Model(&types.Sample{}).
		Where("id = ?", sampleID).
		Update("status", status)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return pkgerrors.ErrNotFound
	}
	return nil
}
