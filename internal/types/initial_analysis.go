package types

import (
	"time"

	"github.com/google/uuid"
)

// InitialAnalysis is one screening run over every patch of an image. The
// unique index on image_id makes the store itself reject a second run, so
// two concurrent screen triggers cannot both commit.
type InitialAnalysis struct {
	ID              uuid.UUID    `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	SampleID        uuid.UUID    `gorm:"type:uuid;not null;index" json:"sample_id"`
	ImageID         uuid.UUID    `gorm:"type:uuid;not null;uniqueIndex:uq_initial_analysis_image" json:"image_id"`
	Image           *SampleImage `gorm:"constraint:OnDelete:CASCADE;foreignKey:ImageID;references:ID" json:"image,omitempty"`
	IsPositive      bool         `gorm:"column:is_positive;not null;default:false" json:"is_positive"`
	Confidence      float64      `gorm:"column:confidence" json:"confidence"`
	ProcessingMS    int64        `gorm:"column:processing_ms" json:"processing_ms"`
	PatchesAnalyzed int          `gorm:"column:patches_analyzed" json:"patches_analyzed"`
	PositivePatches int          `gorm:"column:positive_patches" json:"positive_patches"`
	ModelVersion    string       `gorm:"column:model_version;size:50" json:"model_version"`
	CreatedAt       time.Time    `gorm:"not null;default:now()" json:"created_at"`
}

func (InitialAnalysis) TableName() string { return "initial_analysis" }
