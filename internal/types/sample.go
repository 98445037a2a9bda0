package types

import (
	"time"

	"github.com/google/uuid"
)

type SampleStatus string

const (
	SampleStatusRegistered       SampleStatus = "registered"
	SampleStatusReadyForAnalysis SampleStatus = "ready_for_analysis"
	SampleStatusProcessing       SampleStatus = "processing"
	SampleStatusCompleted        SampleStatus = "completed"
	SampleStatusFailed           SampleStatus = "failed"
)

// Sample is the owning entity for one blood draw. Registration and patient
// bookkeeping happen outside this service; the pipeline only moves Status
// through processing/completed/failed.
type Sample struct {
	ID          uuid.UUID    `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	PatientID   *uuid.UUID   `gorm:"type:uuid;index" json:"patient_id,omitempty"`
	SampleType  string       `gorm:"column:sample_type;not null;default:'thin_smear'" json:"sample_type"`
	Priority    string       `gorm:"column:priority;not null;default:'routine'" json:"priority"`
	Status      SampleStatus `gorm:"column:status;not null;default:'registered';index" json:"status"`
	CollectedAt *time.Time   `gorm:"column:collected_at" json:"collected_at,omitempty"`
	CreatedAt   time.Time    `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt   time.Time    `gorm:"not null;default:now()" json:"updated_at"`
}

func (Sample) TableName() string { return "sample" }
