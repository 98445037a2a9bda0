package types

import (
	"time"

	"github.com/google/uuid"
)

// PatchClassification is one classifier verdict for one patch within one
// screening run. Note carries the error annotation for patches that were
// degraded to a negative verdict instead of failing the run.
type PatchClassification struct {
	ID         uuid.UUID        `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	PatchID    uuid.UUID        `gorm:"type:uuid;not null;uniqueIndex:uq_patch_classification_run" json:"patch_id"`
	Patch      *ImagePatch      `gorm:"constraint:OnDelete:CASCADE;foreignKey:PatchID;references:ID" json:"patch,omitempty"`
	AnalysisID uuid.UUID        `gorm:"type:uuid;not null;uniqueIndex:uq_patch_classification_run;index" json:"analysis_id"`
	Analysis   *InitialAnalysis `gorm:"constraint:OnDelete:CASCADE;foreignKey:AnalysisID;references:ID" json:"analysis,omitempty"`
	IsPositive bool             `gorm:"column:is_positive;not null;default:false" json:"is_positive"`
	Confidence float64          `gorm:"column:confidence;not null" json:"confidence"`
	Note       string           `gorm:"column:note" json:"note,omitempty"`
	CreatedAt  time.Time        `gorm:"not null;default:now()" json:"created_at"`
}

func (PatchClassification) TableName() string { return "patch_classification" }
