package repos

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/malascope/malascope-backend/internal/logger"
	"github.com/malascope/malascope-backend/internal/types"
)

type ImagePatchRepo interface {
	Create(ctx context.Context, tx *gorm.DB, patches []*types.ImagePatch) ([]*types.ImagePatch, error)
	GetByImageID(ctx context.Context, tx *gorm.DB, imageID uuid.UUID) ([]*types.ImagePatch, error)
	CountByImageID(ctx context.Context, tx *gorm.DB, imageID uuid.UUID) (int64, error)
	DeleteByImageID(ctx context.Context, tx *gorm.DB, imageID uuid.UUID) error
}

type imagePatchRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewImagePatchRepo(db *gorm.DB, baseLog *logger.Logger) ImagePatchRepo {
	repoLog := baseLog.With("repo", "ImagePatchRepo")
	return &imagePatchRepo{db: db, log: repoLog}
}

func (r *imagePatchRepo) Create(ctx context.Context, tx *gorm.DB, patches []*types.ImagePatch) ([]*types.ImagePatch, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	if len(patches) == 0 {
		return []*types.ImagePatch{}, nil
	}

	if err := transaction.WithContext(ctx).Create(&patches).Error; err != nil {
		return nil, err
	}
	return patches, nil
}

func (r *imagePatchRepo) GetByImageID(ctx context.Context, tx *gorm.DB, imageID uuid.UUID) ([]*types.ImagePatch, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	var results []*types.ImagePatch
	if err := transaction.WithContext(ctx).
		Where("image_id = ?", imageID).
		Order("created_at ASC").
		Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (r *imagePatchRepo) CountByImageID(ctx context.Context, tx *gorm.DB, imageID uuid.UUID) (int64, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	var count int64
	if err := transaction.WithContext(ctx).
		Model(&types.ImagePatch{}).
		Where("image_id = ?", imageID).
		Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

func (r *imagePatchRepo) DeleteByImageID(ctx context.Context, tx *gorm.DB, imageID uuid.UUID) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	if err := transaction.WithContext(ctx).
		Where("image_id = ?", imageID).
		Delete(&types.ImagePatch{}).Error; err != nil {
		return err
	}
	return nil
}
