package types

import (
	"time"

	"github.com/google/uuid"
)

type SmearKind string

const (
	SmearKindThin  SmearKind = "thin"
	SmearKindThick SmearKind = "thick"
)

// SampleImage is one uploaded microscopy field. Upload handling lives
// outside this service; the pipeline only flips IsAnalyzed.
type SampleImage struct {
	ID           uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	SampleID     uuid.UUID `gorm:"type:uuid;not null;index" json:"sample_id"`
	Sample       *Sample   `gorm:"constraint:OnDelete:CASCADE;foreignKey:SampleID;references:ID" json:"sample,omitempty"`
	SmearKind    SmearKind `gorm:"column:smear_kind;not null" json:"smear_kind"`
	StorageKey   string    `gorm:"column:storage_key;not null" json:"storage_key"`
	OriginalName string    `gorm:"column:original_name" json:"original_name"`
	Width        int       `gorm:"column:width;not null" json:"width"`
	Height       int       `gorm:"column:height;not null" json:"height"`
	IsAnalyzed   bool      `gorm:"column:is_analyzed;not null;default:false" json:"is_analyzed"`
	CreatedAt    time.Time `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt    time.Time `gorm:"not null;default:now()" json:"updated_at"`
}

func (SampleImage) TableName() string { return "sample_image" }
