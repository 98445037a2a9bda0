package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Job types for the analysis worker.
const (
	JobTypeExtractPatches   = "extract_patches"
	JobTypeScreenImage      = "screen_image"
	JobTypeDetailedAnalysis = "detailed_analysis"
)

// Job statuses.
const (
	JobStatusQueued    = "queued"
	JobStatusRunning   = "running"
	JobStatusCompleted = "completed"
	JobStatusFailed    = "failed"
)

// AnalysisJob is one unit of background pipeline work for a sample image.
// A partial unique index on (image_id, job_type) WHERE status IN
// ('queued','running') guarantees at most one active job per image and
// stage; the index is created in db.AutoMigrateAll since gorm tags
// cannot express the predicate.
type AnalysisJob struct {
	ID          uuid.UUID      `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	JobType     string         `gorm:"column:job_type;size:50;not null;index" json:"job_type"`
	ImageID     uuid.UUID      `gorm:"type:uuid;not null;index" json:"image_id"`
	Image       *SampleImage   `gorm:"constraint:OnDelete:CASCADE;foreignKey:ImageID;references:ID" json:"image,omitempty"`
	SampleID    uuid.UUID      `gorm:"type:uuid;not null;index" json:"sample_id"`
	Status      string         `gorm:"size:20;not null;default:'queued';index" json:"status"`
	Stage       string         `gorm:"size:100" json:"stage"`
	Attempts    int            `gorm:"not null;default:0" json:"attempts"`
	Error       string         `gorm:"type:text" json:"error,omitempty"`
	Payload     datatypes.JSON `gorm:"type:jsonb" json:"payload,omitempty"`
	Result      datatypes.JSON `gorm:"type:jsonb" json:"result,omitempty"`
	LockedAt    *time.Time     `json:"locked_at,omitempty"`
	HeartbeatAt *time.Time     `json:"heartbeat_at,omitempty"`
	LastErrorAt *time.Time     `json:"last_error_at,omitempty"`
	CreatedAt   time.Time      `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt   time.Time      `gorm:"not null;default:now()" json:"updated_at"`
}

func (AnalysisJob) TableName() string { return "analysis_job" }
