package types

import (
	"time"

	"github.com/google/uuid"
)

// Life-stage labels the detector may return in ClassName alongside
// species tags.
const (
	StageRing        = "ring"
	StageTrophozoite = "trophozoite"
	StageSchizont    = "schizont"
	StageGametocyte  = "gametocyte"
)

// DetectionResult is a single localized detection within a DetailedAnalysis.
// Rows are bulk-created together with their parent and never mutated.
type DetectionResult struct {
	ID                 uuid.UUID         `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	DetailedAnalysisID uuid.UUID         `gorm:"type:uuid;not null;index" json:"detailed_analysis_id"`
	DetailedAnalysis   *DetailedAnalysis `gorm:"constraint:OnDelete:CASCADE;foreignKey:DetailedAnalysisID;references:ID" json:"detailed_analysis,omitempty"`
	ClassName          string            `gorm:"column:class_name;size:50;not null" json:"class_name"`
	X                  int               `gorm:"column:x_coord;not null" json:"x"`
	Y                  int               `gorm:"column:y_coord;not null" json:"y"`
	Width              int               `gorm:"column:width;not null" json:"width"`
	Height             int               `gorm:"column:height;not null" json:"height"`
	Confidence         float64           `gorm:"column:confidence" json:"confidence"`
	CreatedAt          time.Time         `gorm:"not null;default:now()" json:"created_at"`
}

func (DetectionResult) TableName() string { return "detection_result" }
