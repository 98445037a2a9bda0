package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"strings"
	"testing"

	"gorm.io/gorm"

	"github.com/malascope/malascope-backend/internal/classifier"
	"github.com/malascope/malascope-backend/internal/detector"
	"github.com/malascope/malascope-backend/internal/extractor"
	"github.com/malascope/malascope-backend/internal/logger"
	pkgerrors "github.com/malascope/malascope-backend/internal/pkg/errors"
	"github.com/malascope/malascope-backend/internal/repos"
	"github.com/malascope/malascope-backend/internal/repos/testutil"
	"github.com/malascope/malascope-backend/internal/screening"
	"github.com/malascope/malascope-backend/internal/storage"
	"github.com/malascope/malascope-backend/internal/types"
	"github.com/malascope/malascope-backend/internal/viz"
)

type pipelineFixture struct {
	tx    *gorm.DB
	log   *logger.Logger
	store *storage.LocalStore

	jobRepo     repos.AnalysisJobRepo
	imageRepo   repos.SampleImageRepo
	sampleRepo  repos.SampleRepo
	patchRepo   repos.ImagePatchRepo
	initialRepo repos.InitialAnalysisRepo

	orchestrator *Orchestrator
}

func newPipelineFixture(t *testing.T) *pipelineFixture {
	t.Helper()
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	log := testutil.Logger(t)

	store, err := storage.NewLocalStore(t.TempDir(), log)
	if err != nil {
		t.Fatalf("NewLocalStore: %v", err)
	}

	f := &pipelineFixture{
		tx:          tx,
		log:         log,
		store:       store,
		jobRepo:     repos.NewAnalysisJobRepo(tx, log),
		imageRepo:   repos.NewSampleImageRepo(tx, log),
		sampleRepo:  repos.NewSampleRepo(tx, log),
		patchRepo:   repos.NewImagePatchRepo(tx, log),
		initialRepo: repos.NewInitialAnalysisRepo(tx, log),
	}
	f.orchestrator = NewOrchestrator(tx, f.jobRepo, f.imageRepo, f.sampleRepo, f.patchRepo, f.initialRepo, log)
	return f
}

func (f *pipelineFixture) claim(t *testing.T) *JobContext {
	t.Helper()
	job, err := f.jobRepo.ClaimNextRunnable(context.Background(), nil)
	if err != nil {
		t.Fatalf("ClaimNextRunnable: %v", err)
	}
	if job == nil {
		t.Fatal("expected a claimable job")
	}
	return NewJobContext(context.Background(), f.tx, job, f.jobRepo)
}

func thinSmearPNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, 400, 400))
	for i := range img.Pix {
		img.Pix[i] = 220
	}
	centers := [][2]int{{80, 80}, {200, 120}, {300, 300}}
	for _, c := range centers {
		for dy := -30; dy <= 30; dy++ {
			for dx := -30; dx <= 30; dx++ {
				if dx*dx+dy*dy <= 30*30 {
					img.SetGray(c[0]+dx, c[1]+dy, color.Gray{Y: 40})
				}
			}
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode smear: %v", err)
	}
	return buf.Bytes()
}

func brightPatchPNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, 64, 64))
	for i := range img.Pix {
		img.Pix[i] = 245
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode patch: %v", err)
	}
	return buf.Bytes()
}

func darkPatchPNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, 64, 64))
	for i := range img.Pix {
		img.Pix[i] = 10
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode patch: %v", err)
	}
	return buf.Bytes()
}

func TestProcessImageQueuesJobOnce(t *testing.T) {
	f := newPipelineFixture(t)
	ctx := context.Background()

	sample := testutil.SeedSample(t, f.tx, types.SampleStatusRegistered)
	img := testutil.SeedImage(t, f.tx, sample.ID, types.SmearKindThin)

	job, err := f.orchestrator.ProcessImage(ctx, img.ID)
	if err != nil {
		t.Fatalf("ProcessImage: %v", err)
	}
	if job.JobType != types.JobTypeExtractPatches {
		t.Fatalf("unexpected job type %s", job.JobType)
	}

	gotSample, err := f.sampleRepo.GetByID(ctx, f.tx, sample.ID)
	if err != nil {
		t.Fatalf("reload sample: %v", err)
	}
	if gotSample.Status != types.SampleStatusProcessing {
		t.Fatalf("expected processing, got %s", gotSample.Status)
	}

	// The second trigger loses against the active job.
	if _, err := f.orchestrator.ProcessImage(ctx, img.ID); !errors.Is(err, pkgerrors.ErrStageInProgress) {
		t.Fatalf("expected ErrStageInProgress, got %v", err)
	}
}

func TestProcessImageAlreadyAnalyzed(t *testing.T) {
	f := newPipelineFixture(t)
	ctx := context.Background()

	sample := testutil.SeedSample(t, f.tx, types.SampleStatusCompleted)
	img := testutil.SeedImage(t, f.tx, sample.ID, types.SmearKindThin)
	if err := f.imageRepo.SetAnalyzed(ctx, f.tx, img.ID, true); err != nil {
		t.Fatalf("SetAnalyzed: %v", err)
	}

	if _, err := f.orchestrator.ProcessImage(ctx, img.ID); !errors.Is(err, pkgerrors.ErrAlreadyProcessed) {
		t.Fatalf("expected ErrAlreadyProcessed, got %v", err)
	}
}

func TestScreenImagePreconditions(t *testing.T) {
	f := newPipelineFixture(t)
	ctx := context.Background()

	sample := testutil.SeedSample(t, f.tx, types.SampleStatusProcessing)
	img := testutil.SeedImage(t, f.tx, sample.ID, types.SmearKindThin)

	if _, err := f.orchestrator.ScreenImage(ctx, img.ID); !errors.Is(err, pkgerrors.ErrNoPatches) {
		t.Fatalf("expected ErrNoPatches, got %v", err)
	}

	if _, err := f.patchRepo.Create(ctx, f.tx, []*types.ImagePatch{
		{ImageID: img.ID, StorageKey: "patches/x/0.png", Width: 64, Height: 64, PatchType: types.PatchTypeRBC},
	}); err != nil {
		t.Fatalf("seed patch row: %v", err)
	}
	analysis := &types.InitialAnalysis{
		SampleID:        sample.ID,
		ImageID:         img.ID,
		IsPositive:      false,
		PatchesAnalyzed: 1,
		ModelVersion:    "MalariaScreen-thin-1.0",
	}
	if _, err := f.initialRepo.Create(ctx, f.tx, analysis); err != nil {
		t.Fatalf("seed analysis row: %v", err)
	}

	_, err := f.orchestrator.ScreenImage(ctx, img.ID)
	if !errors.Is(err, pkgerrors.ErrAlreadyAnalyzed) {
		t.Fatalf("expected ErrAlreadyAnalyzed, got %v", err)
	}
	if !strings.Contains(err.Error(), analysis.ID.String()) {
		t.Fatalf("error must reference the existing analysis, got %q", err.Error())
	}
}

func TestExtractHandlerEndToEnd(t *testing.T) {
	f := newPipelineFixture(t)
	ctx := context.Background()

	sample := testutil.SeedSample(t, f.tx, types.SampleStatusRegistered)
	img := testutil.SeedImage(t, f.tx, sample.ID, types.SmearKindThin)
	if err := f.store.Save(ctx, img.StorageKey, bytes.NewReader(thinSmearPNG(t))); err != nil {
		t.Fatalf("save smear object: %v", err)
	}

	if _, err := f.orchestrator.ProcessImage(ctx, img.ID); err != nil {
		t.Fatalf("ProcessImage: %v", err)
	}

	extractorSvc := extractor.NewService(extractor.Config{}, f.store, f.patchRepo, viz.NewRenderer(f.log), f.log)
	handler := NewExtractHandler(f.store, extractorSvc, f.imageRepo, f.sampleRepo, f.log)

	jc := f.claim(t)
	if err := handler.Run(jc); err != nil {
		t.Fatalf("Run: %v", err)
	}

	gotJob, err := f.jobRepo.GetByID(ctx, f.tx, jc.Job.ID)
	if err != nil {
		t.Fatalf("reload job: %v", err)
	}
	if gotJob.Status != types.JobStatusCompleted {
		t.Fatalf("expected completed job, got %s (error %q)", gotJob.Status, gotJob.Error)
	}

	count, err := f.patchRepo.CountByImageID(ctx, f.tx, img.ID)
	if err != nil {
		t.Fatalf("CountByImageID: %v", err)
	}
	if count != 3 {
		t.Fatalf("expected 3 patches, got %d", count)
	}

	gotSample, err := f.sampleRepo.GetByID(ctx, f.tx, sample.ID)
	if err != nil {
		t.Fatalf("reload sample: %v", err)
	}
	if gotSample.Status != types.SampleStatusReadyForAnalysis {
		t.Fatalf("expected ready_for_analysis, got %s", gotSample.Status)
	}
}

func TestProcessImageAfterExtractionCompletes(t *testing.T) {
	f := newPipelineFixture(t)
	ctx := context.Background()

	sample := testutil.SeedSample(t, f.tx, types.SampleStatusRegistered)
	img := testutil.SeedImage(t, f.tx, sample.ID, types.SmearKindThin)
	if err := f.store.Save(ctx, img.StorageKey, bytes.NewReader(thinSmearPNG(t))); err != nil {
		t.Fatalf("save smear object: %v", err)
	}

	if _, err := f.orchestrator.ProcessImage(ctx, img.ID); err != nil {
		t.Fatalf("ProcessImage: %v", err)
	}

	extractorSvc := extractor.NewService(extractor.Config{}, f.store, f.patchRepo, viz.NewRenderer(f.log), f.log)
	handler := NewExtractHandler(f.store, extractorSvc, f.imageRepo, f.sampleRepo, f.log)
	if err := handler.Run(f.claim(t)); err != nil {
		t.Fatalf("Run: %v", err)
	}

	count, err := f.patchRepo.CountByImageID(ctx, f.tx, img.ID)
	if err != nil {
		t.Fatalf("CountByImageID: %v", err)
	}

	// The extract job is done and screening has not run yet, so the
	// active-job index no longer guards this image. The patch set does.
	if _, err := f.orchestrator.ProcessImage(ctx, img.ID); !errors.Is(err, pkgerrors.ErrAlreadyProcessed) {
		t.Fatalf("expected ErrAlreadyProcessed, got %v", err)
	}

	after, err := f.patchRepo.CountByImageID(ctx, f.tx, img.ID)
	if err != nil {
		t.Fatalf("CountByImageID: %v", err)
	}
	if after != count {
		t.Fatalf("re-trigger changed the patch set: %d -> %d", count, after)
	}
}

func TestExtractHandlerMissingObjectFailsSample(t *testing.T) {
	f := newPipelineFixture(t)
	ctx := context.Background()

	sample := testutil.SeedSample(t, f.tx, types.SampleStatusRegistered)
	img := testutil.SeedImage(t, f.tx, sample.ID, types.SmearKindThin)

	if _, err := f.orchestrator.ProcessImage(ctx, img.ID); err != nil {
		t.Fatalf("ProcessImage: %v", err)
	}

	extractorSvc := extractor.NewService(extractor.Config{}, f.store, f.patchRepo, viz.NewRenderer(f.log), f.log)
	handler := NewExtractHandler(f.store, extractorSvc, f.imageRepo, f.sampleRepo, f.log)

	jc := f.claim(t)
	if err := handler.Run(jc); err != nil {
		t.Fatalf("Run: %v", err)
	}

	gotJob, err := f.jobRepo.GetByID(ctx, f.tx, jc.Job.ID)
	if err != nil {
		t.Fatalf("reload job: %v", err)
	}
	if gotJob.Status != types.JobStatusFailed {
		t.Fatalf("expected failed job, got %s", gotJob.Status)
	}

	gotSample, err := f.sampleRepo.GetByID(ctx, f.tx, sample.ID)
	if err != nil {
		t.Fatalf("reload sample: %v", err)
	}
	if gotSample.Status != types.SampleStatusFailed {
		t.Fatalf("expected failed sample, got %s", gotSample.Status)
	}
}

func (f *pipelineFixture) screenHandler(t *testing.T) *ScreenHandler {
	t.Helper()
	coordinator := screening.NewCoordinator(
		screening.Config{},
		f.tx,
		f.store,
		classifier.NewHeuristicClassifier(7),
		f.patchRepo,
		f.initialRepo,
		repos.NewPatchClassificationRepo(f.tx, f.log),
		f.imageRepo,
		f.sampleRepo,
		f.log,
	)
	return NewScreenHandler(coordinator, f.orchestrator, f.imageRepo, f.sampleRepo, f.log)
}

func (f *pipelineFixture) seedScreeningSetup(t *testing.T, patchData [][]byte) (*types.Sample, *types.SampleImage) {
	t.Helper()
	ctx := context.Background()

	sample := testutil.SeedSample(t, f.tx, types.SampleStatusProcessing)
	img := testutil.SeedImage(t, f.tx, sample.ID, types.SmearKindThin)

	var rows []*types.ImagePatch
	for i, data := range patchData {
		key := fmt.Sprintf("patches/%s/%d.png", img.ID, i)
		if err := f.store.Save(ctx, key, bytes.NewReader(data)); err != nil {
			t.Fatalf("save patch: %v", err)
		}
		rows = append(rows, &types.ImagePatch{
			ImageID:    img.ID,
			StorageKey: key,
			Width:      64,
			Height:     64,
			PatchType:  types.PatchTypeRBC,
		})
	}
	if _, err := f.patchRepo.Create(ctx, f.tx, rows); err != nil {
		t.Fatalf("seed patch rows: %v", err)
	}
	return sample, img
}

func TestScreenHandlerPositiveChainsDetailedJob(t *testing.T) {
	f := newPipelineFixture(t)
	ctx := context.Background()

	_, img := f.seedScreeningSetup(t, [][]byte{darkPatchPNG(t), brightPatchPNG(t)})

	if _, err := f.orchestrator.ScreenImage(ctx, img.ID); err != nil {
		t.Fatalf("ScreenImage: %v", err)
	}

	jc := f.claim(t)
	if err := f.screenHandler(t).Run(jc); err != nil {
		t.Fatalf("Run: %v", err)
	}

	gotJob, err := f.jobRepo.GetByID(ctx, f.tx, jc.Job.ID)
	if err != nil {
		t.Fatalf("reload job: %v", err)
	}
	if gotJob.Status != types.JobStatusCompleted {
		t.Fatalf("expected completed job, got %s (error %q)", gotJob.Status, gotJob.Error)
	}

	jobs, err := f.jobRepo.ListByImageID(ctx, f.tx, img.ID)
	if err != nil {
		t.Fatalf("ListByImageID: %v", err)
	}
	var chained *types.AnalysisJob
	for _, j := range jobs {
		if j.JobType == types.JobTypeDetailedAnalysis {
			chained = j
		}
	}
	if chained == nil {
		t.Fatal("expected chained detailed_analysis job")
	}
	if chained.Status != types.JobStatusQueued {
		t.Fatalf("expected queued chained job, got %s", chained.Status)
	}
}

func TestScreenHandlerNegativeDoesNotChain(t *testing.T) {
	f := newPipelineFixture(t)
	ctx := context.Background()

	sample, img := f.seedScreeningSetup(t, [][]byte{brightPatchPNG(t), brightPatchPNG(t)})

	if _, err := f.orchestrator.ScreenImage(ctx, img.ID); err != nil {
		t.Fatalf("ScreenImage: %v", err)
	}

	jc := f.claim(t)
	if err := f.screenHandler(t).Run(jc); err != nil {
		t.Fatalf("Run: %v", err)
	}

	jobs, err := f.jobRepo.ListByImageID(ctx, f.tx, img.ID)
	if err != nil {
		t.Fatalf("ListByImageID: %v", err)
	}
	for _, j := range jobs {
		if j.JobType == types.JobTypeDetailedAnalysis {
			t.Fatal("negative screening must not chain a detailed job")
		}
	}

	gotSample, err := f.sampleRepo.GetByID(ctx, f.tx, sample.ID)
	if err != nil {
		t.Fatalf("reload sample: %v", err)
	}
	if gotSample.Status != types.SampleStatusCompleted {
		t.Fatalf("expected completed sample, got %s", gotSample.Status)
	}
}

type stubDetectorClient struct {
	report *detector.Report
}

func (c *stubDetectorClient) Detect(ctx context.Context, imageData []byte, filename string, kind types.SmearKind, initial *types.InitialAnalysis) (*detector.Report, error) {
	return c.report, nil
}

func TestDetailedHandlerCompletesSample(t *testing.T) {
	f := newPipelineFixture(t)
	ctx := context.Background()

	sample, img := f.seedScreeningSetup(t, [][]byte{darkPatchPNG(t)})
	if err := f.store.Save(ctx, img.StorageKey, bytes.NewReader(thinSmearPNG(t))); err != nil {
		t.Fatalf("save smear object: %v", err)
	}

	if _, err := f.orchestrator.ScreenImage(ctx, img.ID); err != nil {
		t.Fatalf("ScreenImage: %v", err)
	}
	jc := f.claim(t)
	if err := f.screenHandler(t).Run(jc); err != nil {
		t.Fatalf("screen Run: %v", err)
	}

	detectorSvc := detector.NewService(
		f.tx,
		&stubDetectorClient{report: &detector.Report{
			ParasiteDetected: true,
			Species:          "p_falciparum",
			Confidence:       0.93,
			ModelVersion:     "MalariaDetect-thin-1.0",
			Detections:       []detector.Detection{{ClassName: "p_falciparum_ring", X: 1, Y: 2, Width: 30, Height: 30, Confidence: 0.9}},
		}},
		f.store,
		f.imageRepo,
		f.initialRepo,
		repos.NewDetailedAnalysisRepo(f.tx, f.log),
		repos.NewDetectionResultRepo(f.tx, f.log),
		f.sampleRepo,
		f.log,
	)
	handler := NewDetailedHandler(detectorSvc, f.sampleRepo, f.log)

	djc := f.claim(t)
	if djc.Job.JobType != types.JobTypeDetailedAnalysis {
		t.Fatalf("expected detailed job, got %s", djc.Job.JobType)
	}
	if err := handler.Run(djc); err != nil {
		t.Fatalf("detailed Run: %v", err)
	}

	gotJob, err := f.jobRepo.GetByID(ctx, f.tx, djc.Job.ID)
	if err != nil {
		t.Fatalf("reload job: %v", err)
	}
	if gotJob.Status != types.JobStatusCompleted {
		t.Fatalf("expected completed job, got %s (error %q)", gotJob.Status, gotJob.Error)
	}

	gotSample, err := f.sampleRepo.GetByID(ctx, f.tx, sample.ID)
	if err != nil {
		t.Fatalf("reload sample: %v", err)
	}
	if gotSample.Status != types.SampleStatusCompleted {
		t.Fatalf("expected completed sample, got %s", gotSample.Status)
	}
}
