package pipeline

import (
	"fmt"
	"image"

	_ "image/jpeg"
	_ "image/png"

	"github.com/malascope/malascope-backend/internal/detector"
	"github.com/malascope/malascope-backend/internal/extractor"
	"github.com/malascope/malascope-backend/internal/logger"
	"github.com/malascope/malascope-backend/internal/repos"
	"github.com/malascope/malascope-backend/internal/screening"
	"github.com/malascope/malascope-backend/internal/storage"
	"github.com/malascope/malascope-backend/internal/types"
)

// ExtractHandler runs the extract_patches stage: decode the stored
// smear image, segment it and persist the winning patches. Success
// moves the sample to ready_for_analysis.
type ExtractHandler struct {
	log        *logger.Logger
	store      storage.Store
	extractor  *extractor.Service
	imageRepo  repos.SampleImageRepo
	sampleRepo repos.SampleRepo
}

func NewExtractHandler(store storage.Store, svc *extractor.Service, imageRepo repos.SampleImageRepo, sampleRepo repos.SampleRepo, baseLog *logger.Logger) *ExtractHandler {
	return &ExtractHandler{
		log:        baseLog.With("handler", "ExtractHandler"),
		store:      store,
		extractor:  svc,
		imageRepo:  imageRepo,
		sampleRepo: sampleRepo,
	}
}

func (h *ExtractHandler) Type() string { return types.JobTypeExtractPatches }

func (h *ExtractHandler) Run(jc *JobContext) error {
	ctx := jc.Ctx

	jc.Stage("load_image")
	sampleImage, err := h.imageRepo.GetByID(ctx, nil, jc.Job.ImageID)
	if err != nil {
		h.failSample(jc, "load_image", err)
		return nil
	}

	src, err := h.decodeImage(jc, sampleImage.StorageKey)
	if err != nil {
		h.failSample(jc, "decode_image", err)
		return nil
	}

	jc.Stage("segment")
	patches, err := h.extractor.Extract(ctx, nil, sampleImage, src)
	if err != nil {
		h.failSample(jc, "segment", err)
		return nil
	}

	jc.Stage("finalize")
	if err := h.sampleRepo.UpdateStatus(ctx, nil, sampleImage.SampleID, types.SampleStatusReadyForAnalysis); err != nil {
		h.failSample(jc, "finalize", err)
		return nil
	}

	jc.Complete("done", map[string]any{"patch_count": len(patches)})
	return nil
}

func (h *ExtractHandler) decodeImage(jc *JobContext, key string) (image.Image, error) {
	jc.Stage("decode_image")
	r, err := h.store.Open(jc.Ctx, key)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	src, _, err := image.Decode(r)
	if err != nil {
		return nil, fmt.Errorf("failed to decode smear image: %w", err)
	}
	return src, nil
}

func (h *ExtractHandler) failSample(jc *JobContext, stage string, err error) {
	h.log.Error("Patch extraction failed", "job_id", jc.Job.ID, "image_id", jc.Job.ImageID, "stage", stage, "error", err)
	jc.Fail(stage, err)
	if uErr := h.sampleRepo.UpdateStatus(jc.Ctx, nil, jc.Job.SampleID, types.SampleStatusFailed); uErr != nil {
		h.log.Error("Could not mark sample failed", "sample_id", jc.Job.SampleID, "error", uErr)
	}
}

// ScreenHandler runs the screen_image stage. A positive verdict chains
// the detailed_analysis job; a negative one already completed the
// sample inside the coordinator's transaction.
type ScreenHandler struct {
	log          *logger.Logger
	coordinator  *screening.Coordinator
	orchestrator *Orchestrator
	imageRepo    repos.SampleImageRepo
	sampleRepo   repos.SampleRepo
}

func NewScreenHandler(coordinator *screening.Coordinator, orchestrator *Orchestrator, imageRepo repos.SampleImageRepo, sampleRepo repos.SampleRepo, baseLog *logger.Logger) *ScreenHandler {
	return &ScreenHandler{
		log:          baseLog.With("handler", "ScreenHandler"),
		coordinator:  coordinator,
		orchestrator: orchestrator,
		imageRepo:    imageRepo,
		sampleRepo:   sampleRepo,
	}
}

func (h *ScreenHandler) Type() string { return types.JobTypeScreenImage }

func (h *ScreenHandler) Run(jc *JobContext) error {
	ctx := jc.Ctx

	jc.Stage("load_image")
	sampleImage, err := h.imageRepo.GetByID(ctx, nil, jc.Job.ImageID)
	if err != nil {
		h.failSample(jc, "load_image", err)
		return nil
	}

	jc.Stage("classify")
	outcome, err := h.coordinator.Screen(ctx, sampleImage)
	if err != nil {
		h.failSample(jc, "classify", err)
		return nil
	}

	if outcome.Analysis.IsPositive {
		jc.Stage("chain_detailed")
		if _, err := h.orchestrator.SendForDetailedAnalysis(ctx, sampleImage.ID, outcome.Analysis.ID); err != nil {
			// The screening result is already durable; a chaining
			// failure is recoverable through a manual trigger.
			h.log.Warn("Could not chain detailed analysis",
				"image_id", sampleImage.ID,
				"initial_analysis_id", outcome.Analysis.ID,
				"error", err,
			)
		}
	}

	jc.Complete("done", map[string]any{
		"initial_analysis_id": outcome.Analysis.ID.String(),
		"is_positive":         outcome.Analysis.IsPositive,
		"positive_patches":    outcome.Analysis.PositivePatches,
		"patches_analyzed":    outcome.Analysis.PatchesAnalyzed,
	})
	return nil
}

func (h *ScreenHandler) failSample(jc *JobContext, stage string, err error) {
	h.log.Error("Screening failed", "job_id", jc.Job.ID, "image_id", jc.Job.ImageID, "stage", stage, "error", err)
	jc.Fail(stage, err)
	if uErr := h.sampleRepo.UpdateStatus(jc.Ctx, nil, jc.Job.SampleID, types.SampleStatusFailed); uErr != nil {
		h.log.Error("Could not mark sample failed", "sample_id", jc.Job.SampleID, "error", uErr)
	}
}

// DetailedHandler runs the detailed_analysis stage against the
// external detection service.
type DetailedHandler struct {
	log        *logger.Logger
	svc        *detector.Service
	sampleRepo repos.SampleRepo
}

func NewDetailedHandler(svc *detector.Service, sampleRepo repos.SampleRepo, baseLog *logger.Logger) *DetailedHandler {
	return &DetailedHandler{
		log:        baseLog.With("handler", "DetailedHandler"),
		svc:        svc,
		sampleRepo: sampleRepo,
	}
}

func (h *DetailedHandler) Type() string { return types.JobTypeDetailedAnalysis }

func (h *DetailedHandler) Run(jc *JobContext) error {
	initialAnalysisID, ok := jc.PayloadUUID("initial_analysis_id")
	if !ok {
		h.failSample(jc, "payload", fmt.Errorf("payload missing initial_analysis_id"))
		return nil
	}

	jc.Stage("detect")
	outcome, err := h.svc.Analyze(jc.Ctx, jc.Job.ImageID, initialAnalysisID)
	if err != nil {
		h.failSample(jc, "detect", err)
		return nil
	}

	jc.Complete("done", map[string]any{
		"detailed_analysis_id": outcome.Analysis.ID.String(),
		"parasite_detected":    outcome.Analysis.ParasiteDetected,
		"species":              string(outcome.Analysis.Species),
		"detections":           len(outcome.Detections),
	})
	return nil
}

func (h *DetailedHandler) failSample(jc *JobContext, stage string, err error) {
	h.log.Error("Detailed analysis failed", "job_id", jc.Job.ID, "image_id", jc.Job.ImageID, "stage", stage, "error", err)
	jc.Fail(stage, err)
	if uErr := h.sampleRepo.UpdateStatus(jc.Ctx, nil, jc.Job.SampleID, types.SampleStatusFailed); uErr != nil {
		h.log.Error("Could not mark sample failed", "sample_id", jc.Job.SampleID, "error", uErr)
	}
}
