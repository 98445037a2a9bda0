package detector

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/malascope/malascope-backend/internal/logger"
	pkgerrors "github.com/malascope/malascope-backend/internal/pkg/errors"
	"github.com/malascope/malascope-backend/internal/repos"
	"github.com/malascope/malascope-backend/internal/storage"
	"github.com/malascope/malascope-backend/internal/types"
)

// Outcome pairs the persisted detailed analysis with its detections.
type Outcome struct {
	Analysis   *types.DetailedAnalysis
	Detections []*types.DetectionResult
}

// Service runs the second pipeline stage: it forwards a
// screening-positive image to the external detection service and
// persists the species-level findings.
type Service struct {
	db            *gorm.DB
	log           *logger.Logger
	client        Client
	store         storage.Store
	imageRepo     repos.SampleImageRepo
	initialRepo   repos.InitialAnalysisRepo
	detailedRepo  repos.DetailedAnalysisRepo
	detectionRepo repos.DetectionResultRepo
	sampleRepo    repos.SampleRepo
}

func NewService(
	db *gorm.DB,
	client Client,
	store storage.Store,
	imageRepo repos.SampleImageRepo,
	initialRepo repos.InitialAnalysisRepo,
	detailedRepo repos.DetailedAnalysisRepo,
	detectionRepo repos.DetectionResultRepo,
	sampleRepo repos.SampleRepo,
	baseLog *logger.Logger,
) *Service {
	return &Service{
		db:            db,
		log:           baseLog.With("service", "DetectorService"),
		client:        client,
		store:         store,
		imageRepo:     imageRepo,
		initialRepo:   initialRepo,
		detailedRepo:  detailedRepo,
		detectionRepo: detectionRepo,
		sampleRepo:    sampleRepo,
	}
}

// Analyze sends the image for detailed detection and persists the
// result. Only a screening-positive image can be analyzed, and only
// once per screening run.
func (s *Service) Analyze(ctx context.Context, imageID, initialAnalysisID uuid.UUID) (*Outcome, error) {
	sampleImage, err := s.imageRepo.GetByID(ctx, nil, imageID)
	if err != nil {
		return nil, err
	}
	initial, err := s.initialRepo.GetByID(ctx, nil, initialAnalysisID)
	if err != nil {
		return nil, err
	}
	if initial.ImageID != imageID {
		return nil, fmt.Errorf("%w: screening run belongs to a different image", pkgerrors.ErrInvalidArgument)
	}
	if !initial.IsPositive {
		return nil, fmt.Errorf("%w: screening verdict was negative", pkgerrors.ErrInvalidArgument)
	}
	if existing, err := s.detailedRepo.GetByImageAndInitial(ctx, nil, imageID, initialAnalysisID); err == nil {
		return nil, fmt.Errorf("%w: detailed analysis %s", pkgerrors.ErrAlreadyAnalyzed, existing.ID)
	}

	imageData, err := s.loadImage(ctx, sampleImage.StorageKey)
	if err != nil {
		return nil, fmt.Errorf("failed to load image data: %w", err)
	}

	started := time.Now()
	report, err := s.client.Detect(ctx, imageData, sampleImage.OriginalName, sampleImage.SmearKind, initial)
	if err != nil {
		return nil, err
	}
	elapsed := time.Since(started)

	species := types.Species(report.Species)
	if species == "" {
		species = types.SpeciesNone
		if report.ParasiteDetected {
			species = types.SpeciesUnknown
		}
	}

	analysis := &types.DetailedAnalysis{
		SampleID:          sampleImage.SampleID,
		ImageID:           imageID,
		InitialAnalysisID: initialAnalysisID,
		ParasiteDetected:  report.ParasiteDetected,
		Species:           species,
		Confidence:        report.Confidence,
		ParasiteDensity:   report.ParasiteDensity,
		ProcessingMS:      elapsed.Milliseconds(),
		ExternalRef:       report.ExternalRef,
		ModelVersion:      report.ModelVersion,
	}

	var detections []*types.DetectionResult
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := s.detailedRepo.Create(ctx, tx, analysis); err != nil {
			return err
		}

		detections = make([]*types.DetectionResult, 0, len(report.Detections))
		for _, d := range report.Detections {
			detections = append(detections, &types.DetectionResult{
				DetailedAnalysisID: analysis.ID,
				ClassName:          d.ClassName,
				X:                  d.X,
				Y:                  d.Y,
				Width:              d.Width,
				Height:             d.Height,
				Confidence:         d.Confidence,
			})
		}
		if _, err := s.detectionRepo.Create(ctx, tx, detections); err != nil {
			return err
		}

		return s.sampleRepo.UpdateStatus(ctx, tx, sampleImage.SampleID, types.SampleStatusCompleted)
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("Detailed analysis finished",
		"image_id", imageID,
		"parasite_detected", report.ParasiteDetected,
		"species", species,
		"detections", len(detections),
		"elapsed_ms", elapsed.Milliseconds(),
	)

	return &Outcome{Analysis: analysis, Detections: detections}, nil
}

// Verify records a microscopist's sign-off on a detailed analysis.
func (s *Service) Verify(ctx context.Context, analysisID, verifiedBy uuid.UUID, notes string) (*types.DetailedAnalysis, error) {
	return s.detailedRepo.Verify(ctx, nil, analysisID, verifiedBy, notes)
}

// GetByImage returns the latest detailed analysis for an image with
// its detections.
func (s *Service) GetByImage(ctx context.Context, imageID uuid.UUID) (*Outcome, error) {
	analysis, err := s.detailedRepo.GetLatestByImageID(ctx, nil, imageID)
	if err != nil {
		return nil, err
	}
	detections, err := s.detectionRepo.GetByDetailedAnalysisID(ctx, nil, analysis.ID)
	if err != nil {
		return nil, err
	}
	return &Outcome{Analysis: analysis, Detections: detections}, nil
}

func (s *Service) loadImage(ctx context.Context, key string) ([]byte, error) {
	r, err := s.store.Open(ctx, key)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}
