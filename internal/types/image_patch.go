package types

import (
	"time"

	"github.com/google/uuid"
)

type PatchType string

const (
	PatchTypeRBC               PatchType = "rbc"
	PatchTypeParasiteCandidate PatchType = "parasite_candidate"
)

// ImagePatch is one classifiable sub-region of a SampleImage. Rows are
// created exactly once per image by the extractor and never mutated.
type ImagePatch struct {
	ID         uuid.UUID    `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	ImageID    uuid.UUID    `gorm:"type:uuid;not null;index" json:"image_id"`
	Image      *SampleImage `gorm:"constraint:OnDelete:CASCADE;foreignKey:ImageID;references:ID" json:"image,omitempty"`
	StorageKey string       `gorm:"column:storage_key;not null" json:"storage_key"`
	X          int          `gorm:"column:x_coord;not null" json:"x"`
	Y          int          `gorm:"column:y_coord;not null" json:"y"`
	Width      int          `gorm:"column:width;not null" json:"width"`
	Height     int          `gorm:"column:height;not null" json:"height"`
	PatchType  PatchType    `gorm:"column:patch_type;not null" json:"patch_type"`
	CreatedAt  time.Time    `gorm:"not null;default:now()" json:"created_at"`
}

func (ImagePatch) TableName() string { return "image_patch" }
