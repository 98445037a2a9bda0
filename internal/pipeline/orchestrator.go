package pipeline

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/malascope/malascope-backend/internal/logger"
	pkgerrors "github.com/malascope/malascope-backend/internal/pkg/errors"
	"github.com/malascope/malascope-backend/internal/repos"
	"github.com/malascope/malascope-backend/internal/types"
)

// Orchestrator is the API-facing entry point of the pipeline. Triggers
// validate preconditions, enqueue a job and return immediately; the
// worker pool does the heavy lifting. The partial unique index on the
// job table makes concurrent triggers for the same stage collapse into
// one job.
type Orchestrator struct {
	db          *gorm.DB
	log         *logger.Logger
	jobRepo     repos.AnalysisJobRepo
	imageRepo   repos.SampleImageRepo
	sampleRepo  repos.SampleRepo
	patchRepo   repos.ImagePatchRepo
	initialRepo repos.InitialAnalysisRepo
}

func NewOrchestrator(
	db *gorm.DB,
	jobRepo repos.AnalysisJobRepo,
	imageRepo repos.SampleImageRepo,
	sampleRepo repos.SampleRepo,
	patchRepo repos.ImagePatchRepo,
	initialRepo repos.InitialAnalysisRepo,
	baseLog *logger.Logger,
) *Orchestrator {
	return &Orchestrator{
		db:          db,
		log:         baseLog.With("service", "Orchestrator"),
		jobRepo:     jobRepo,
		imageRepo:   imageRepo,
		sampleRepo:  sampleRepo,
		patchRepo:   patchRepo,
		initialRepo: initialRepo,
	}
}

// ProcessImage queues patch extraction for the image and moves its
// sample to processing.
func (o *Orchestrator) ProcessImage(ctx context.Context, imageID uuid.UUID) (*types.AnalysisJob, error) {
	sampleImage, err := o.imageRepo.GetByID(ctx, nil, imageID)
	if err != nil {
		return nil, err
	}
	if sampleImage.IsAnalyzed {
		return nil, pkgerrors.ErrAlreadyProcessed
	}
	count, err := o.patchRepo.CountByImageID(ctx, nil, imageID)
	if err != nil {
		return nil, err
	}
	if count > 0 {
		return nil, fmt.Errorf("%w: image already has %d patches", pkgerrors.ErrAlreadyProcessed, count)
	}

	var job *types.AnalysisJob
	err = o.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		job = &types.AnalysisJob{
			JobType:  types.JobTypeExtractPatches,
			ImageID:  sampleImage.ID,
			SampleID: sampleImage.SampleID,
			Status:   types.JobStatusQueued,
			Stage:    "queued",
		}
		if _, err := o.jobRepo.Create(ctx, tx, job); err != nil {
			return err
		}
		return o.sampleRepo.UpdateStatus(ctx, tx, sampleImage.SampleID, types.SampleStatusProcessing)
	})
	if err != nil {
		return nil, err
	}
	o.log.Info("Queued patch extraction", "image_id", imageID, "job_id", job.ID)
	return job, nil
}

// ScreenImage queues the fast screening pass. Patches must already be
// extracted and the image must not have been screened.
func (o *Orchestrator) ScreenImage(ctx context.Context, imageID uuid.UUID) (*types.AnalysisJob, error) {
	sampleImage, err := o.imageRepo.GetByID(ctx, nil, imageID)
	if err != nil {
		return nil, err
	}
	count, err := o.patchRepo.CountByImageID(ctx, nil, imageID)
	if err != nil {
		return nil, err
	}
	if count == 0 {
		return nil, pkgerrors.ErrNoPatches
	}
	if existing, err := o.initialRepo.GetByImageID(ctx, nil, imageID); err == nil {
		return nil, fmt.Errorf("%w: initial analysis %s", pkgerrors.ErrAlreadyAnalyzed, existing.ID)
	}

	job := &types.AnalysisJob{
		JobType:  types.JobTypeScreenImage,
		ImageID:  sampleImage.ID,
		SampleID: sampleImage.SampleID,
		Status:   types.JobStatusQueued,
		Stage:    "queued",
	}
	if _, err := o.jobRepo.Create(ctx, nil, job); err != nil {
		return nil, err
	}
	o.log.Info("Queued screening", "image_id", imageID, "job_id", job.ID)
	return job, nil
}

// SendForDetailedAnalysis queues the external detailed detection for a
// screening-positive image.
func (o *Orchestrator) SendForDetailedAnalysis(ctx context.Context, imageID, initialAnalysisID uuid.UUID) (*types.AnalysisJob, error) {
	sampleImage, err := o.imageRepo.GetByID(ctx, nil, imageID)
	if err != nil {
		return nil, err
	}
	initial, err := o.initialRepo.GetByID(ctx, nil, initialAnalysisID)
	if err != nil {
		return nil, err
	}
	if initial.ImageID != imageID {
		return nil, fmt.Errorf("%w: screening run belongs to a different image", pkgerrors.ErrInvalidArgument)
	}
	if !initial.IsPositive {
		return nil, fmt.Errorf("%w: screening verdict was negative", pkgerrors.ErrInvalidArgument)
	}

	payload, err := json.Marshal(map[string]string{
		"initial_analysis_id": initialAnalysisID.String(),
	})
	if err != nil {
		return nil, err
	}

	job := &types.AnalysisJob{
		JobType:  types.JobTypeDetailedAnalysis,
		ImageID:  sampleImage.ID,
		SampleID: sampleImage.SampleID,
		Status:   types.JobStatusQueued,
		Stage:    "queued",
		Payload:  datatypes.JSON(payload),
	}
	if _, err := o.jobRepo.Create(ctx, nil, job); err != nil {
		return nil, err
	}
	o.log.Info("Queued detailed analysis", "image_id", imageID, "initial_analysis_id", initialAnalysisID, "job_id", job.ID)
	return job, nil
}

// JobsForImage lists the pipeline history for an image.
func (o *Orchestrator) JobsForImage(ctx context.Context, imageID uuid.UUID) ([]*types.AnalysisJob, error) {
	if _, err := o.imageRepo.GetByID(ctx, nil, imageID); err != nil {
		return nil, err
	}
	return o.jobRepo.ListByImageID(ctx, nil, imageID)
}

// PatchesForImage lists the extracted patches for an image.
func (o *Orchestrator) PatchesForImage(ctx context.Context, imageID uuid.UUID) ([]*types.ImagePatch, error) {
	if _, err := o.imageRepo.GetByID(ctx, nil, imageID); err != nil {
		return nil, err
	}
	return o.patchRepo.GetByImageID(ctx, nil, imageID)
}

// InitialAnalysisForImage returns the screening result for an image.
func (o *Orchestrator) InitialAnalysisForImage(ctx context.Context, imageID uuid.UUID) (*types.InitialAnalysis, error) {
	if _, err := o.imageRepo.GetByID(ctx, nil, imageID); err != nil {
		return nil, err
	}
	return o.initialRepo.GetByImageID(ctx, nil, imageID)
}
