package types

import (
	"time"

	"github.com/google/uuid"
)

type Species string

const (
	SpeciesFalciparum Species = "p_falciparum"
	SpeciesVivax      Species = "p_vivax"
	SpeciesMalariae   Species = "p_malariae"
	SpeciesOvale      Species = "p_ovale"
	SpeciesKnowlesi   Species = "p_knowlesi"
	SpeciesUnknown    Species = "unknown"
	SpeciesNone       Species = "none"
)

// DetailedAnalysis is the result of the external detector stage. The unique
// index on (image_id, initial_analysis_id) guarantees at most one row per
// screening run even under concurrent triggers.
type DetailedAnalysis struct {
	ID                uuid.UUID        `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	SampleID          uuid.UUID        `gorm:"type:uuid;not null;index" json:"sample_id"`
	ImageID           uuid.UUID        `gorm:"type:uuid;not null;uniqueIndex:uq_detailed_analysis_run" json:"image_id"`
	Image             *SampleImage     `gorm:"constraint:OnDelete:CASCADE;foreignKey:ImageID;references:ID" json:"image,omitempty"`
	InitialAnalysisID uuid.UUID        `gorm:"type:uuid;not null;uniqueIndex:uq_detailed_analysis_run" json:"initial_analysis_id"`
	InitialAnalysis   *InitialAnalysis `gorm:"constraint:OnDelete:CASCADE;foreignKey:InitialAnalysisID;references:ID" json:"initial_analysis,omitempty"`
	ParasiteDetected  bool             `gorm:"column:parasite_detected;not null;default:false" json:"parasite_detected"`
	Species           Species          `gorm:"column:species;not null;default:'none'" json:"species"`
	Confidence        float64          `gorm:"column:confidence" json:"confidence"`
	ParasiteDensity   float64          `gorm:"column:parasite_density" json:"parasite_density"`
	ProcessingMS      int64            `gorm:"column:processing_ms" json:"processing_ms"`
	ExternalRef       string           `gorm:"column:external_ref;size:100" json:"external_ref"`
	ModelVersion      string           `gorm:"column:model_version;size:50" json:"model_version"`
	VerifiedBy        *uuid.UUID       `gorm:"type:uuid;column:verified_by" json:"verified_by,omitempty"`
	VerifiedAt        *time.Time       `gorm:"column:verified_at" json:"verified_at,omitempty"`
	Notes             string           `gorm:"column:notes" json:"notes,omitempty"`
	CreatedAt         time.Time        `gorm:"not null;default:now()" json:"created_at"`
}

func (DetailedAnalysis) TableName() string { return "detailed_analysis" }
