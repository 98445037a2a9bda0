package repos

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	pkgerrors "github.com/malascope/malascope-backend/internal/pkg/errors"
	"github.com/malascope/malascope-backend/internal/repos/testutil"
	"github.com/malascope/malascope-backend/internal/types"
)

func TestSampleRepo(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	ctx := context.Background()
	repo := NewSampleRepo(db, testutil.Logger(t))

	sample := testutil.SeedSample(t, tx, types.SampleStatusRegistered)

	got, err := repo.GetByID(ctx, tx, sample.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.Status != types.SampleStatusRegistered {
		t.Fatalf("expected status registered, got %s", got.Status)
	}

	if err := repo.UpdateStatus(ctx, tx, sample.ID, types.SampleStatusProcessing); err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}
	got, err = repo.GetByID(ctx, tx, sample.ID)
	if err != nil {
		t.Fatalf("GetByID after update: %v", err)
	}
	if got.Status != types.SampleStatusProcessing {
		t.Fatalf("expected status processing, got %s", got.Status)
	}

	if err := repo.UpdateStatus(ctx, tx, uuid.New(), types.SampleStatusFailed); !errors.Is(err, pkgerrors.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown sample, got %v", err)
	}
}

func TestImagePatchRepo(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	ctx := context.Background()
	repo := NewImagePatchRepo(db, testutil.Logger(t))

	sample := testutil.SeedSample(t, tx, types.SampleStatusProcessing)
	image := testutil.SeedImage(t, tx, sample.ID, types.SmearKindThin)

	patches := []*types.ImagePatch{
		{ImageID: image.ID, StorageKey: "patches/a.png", X: 10, Y: 10, Width: 64, Height: 64, PatchType: types.PatchTypeRBC},
		{ImageID: image.ID, StorageKey: "patches/b.png", X: 90, Y: 40, Width: 64, Height: 64, PatchType: types.PatchTypeRBC},
	}
	if _, err := repo.Create(ctx, tx, patches); err != nil {
		t.Fatalf("Create: %v", err)
	}

	count, err := repo.CountByImageID(ctx, tx, image.ID)
	if err != nil {
		t.Fatalf("CountByImageID: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected 2 patches, got %d", count)
	}

	got, err := repo.GetByImageID(ctx, tx, image.ID)
	if err != nil {
		t.Fatalf("GetByImageID: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 patches, got %d", len(got))
	}

	if err := repo.DeleteByImageID(ctx, tx, image.ID); err != nil {
		t.Fatalf("DeleteByImageID: %v", err)
	}
	count, err = repo.CountByImageID(ctx, tx, image.ID)
	if err != nil {
		t.Fatalf("CountByImageID after delete: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected 0 patches after delete, got %d", count)
	}
}

func TestInitialAnalysisRepoDedup(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	ctx := context.Background()
	repo := NewInitialAnalysisRepo(db, testutil.Logger(t))

	sample := testutil.SeedSample(t, tx, types.SampleStatusProcessing)
	image := testutil.SeedImage(t, tx, sample.ID, types.SmearKindThin)

	first := &types.InitialAnalysis{
		SampleID:        sample.ID,
		ImageID:         image.ID,
		IsPositive:      true,
		Confidence:      0.91,
		PatchesAnalyzed: 12,
		PositivePatches: 3,
		ModelVersion:    "MalariaScreen-thin-1.0",
	}
	if _, err := repo.Create(ctx, tx, first); err != nil {
		t.Fatalf("Create: %v", err)
	}

	second := &types.InitialAnalysis{
		SampleID:     sample.ID,
		ImageID:      image.ID,
		ModelVersion: "MalariaScreen-thin-1.0",
	}
	if _, err := repo.Create(ctx, tx, second); !errors.Is(err, pkgerrors.ErrAlreadyAnalyzed) {
		t.Fatalf("expected ErrAlreadyAnalyzed on second screening, got %v", err)
	}

	got, err := repo.GetByImageID(ctx, tx, image.ID)
	if err != nil {
		t.Fatalf("GetByImageID: %v", err)
	}
	if got.ID != first.ID {
		t.Fatalf("expected first analysis to survive, got %s", got.ID)
	}
}

func TestDetailedAnalysisRepoVerify(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	ctx := context.Background()
	initialRepo := NewInitialAnalysisRepo(db, testutil.Logger(t))
	repo := NewDetailedAnalysisRepo(db, testutil.Logger(t))

	sample := testutil.SeedSample(t, tx, types.SampleStatusProcessing)
	image := testutil.SeedImage(t, tx, sample.ID, types.SmearKindThick)

	initial := &types.InitialAnalysis{
		SampleID:     sample.ID,
		ImageID:      image.ID,
		IsPositive:   true,
		ModelVersion: "MalariaScreen-thick-1.0",
	}
	if _, err := initialRepo.Create(ctx, tx, initial); err != nil {
		t.Fatalf("create initial: %v", err)
	}

	detailed := &types.DetailedAnalysis{
		SampleID:          sample.ID,
		ImageID:           image.ID,
		InitialAnalysisID: initial.ID,
		ParasiteDetected:  true,
		Species:           types.SpeciesFalciparum,
		Confidence:        0.88,
		ModelVersion:      "MalariaDetect-thick-1.0",
	}
	if _, err := repo.Create(ctx, tx, detailed); err != nil {
		t.Fatalf("create detailed: %v", err)
	}

	dup := &types.DetailedAnalysis{
		SampleID:          sample.ID,
		ImageID:           image.ID,
		InitialAnalysisID: initial.ID,
		ModelVersion:      "MalariaDetect-thick-1.0",
	}
	if _, err := repo.Create(ctx, tx, dup); !errors.Is(err, pkgerrors.ErrAlreadyAnalyzed) {
		t.Fatalf("expected ErrAlreadyAnalyzed for duplicate run, got %v", err)
	}

	reviewer := uuid.New()
	verified, err := repo.Verify(ctx, tx, detailed.ID, reviewer, "confirmed ring forms")
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if verified.VerifiedBy == nil || *verified.VerifiedBy != reviewer {
		t.Fatalf("expected verified_by %s, got %v", reviewer, verified.VerifiedBy)
	}
	if verified.VerifiedAt == nil {
		t.Fatal("expected verified_at to be set")
	}
	if verified.Notes != "confirmed ring forms" {
		t.Fatalf("unexpected notes: %q", verified.Notes)
	}

	if _, err := repo.Verify(ctx, tx, uuid.New(), reviewer, ""); !errors.Is(err, pkgerrors.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown analysis, got %v", err)
	}
}

func TestAnalysisJobRepoDedupAndClaim(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	ctx := context.Background()
	repo := NewAnalysisJobRepo(db, testutil.Logger(t))

	sample := testutil.SeedSample(t, tx, types.SampleStatusRegistered)
	image := testutil.SeedImage(t, tx, sample.ID, types.SmearKindThin)

	job := &types.AnalysisJob{
		JobType:  types.JobTypeExtractPatches,
		ImageID:  image.ID,
		SampleID: sample.ID,
		Status:   types.JobStatusQueued,
	}
	if _, err := repo.Create(ctx, tx, job); err != nil {
		t.Fatalf("Create: %v", err)
	}

	dup := &types.AnalysisJob{
		JobType:  types.JobTypeExtractPatches,
		ImageID:  image.ID,
		SampleID: sample.ID,
		Status:   types.JobStatusQueued,
	}
	if _, err := repo.Create(ctx, tx, dup); !errors.Is(err, pkgerrors.ErrStageInProgress) {
		t.Fatalf("expected ErrStageInProgress for duplicate active job, got %v", err)
	}

	// A different job type for the same image is allowed.
	other := &types.AnalysisJob{
		JobType:  types.JobTypeScreenImage,
		ImageID:  image.ID,
		SampleID: sample.ID,
		Status:   types.JobStatusQueued,
	}
	if _, err := repo.Create(ctx, tx, other); err != nil {
		t.Fatalf("Create other job type: %v", err)
	}

	claimed, err := repo.ClaimNextRunnable(ctx, tx)
	if err != nil {
		t.Fatalf("ClaimNextRunnable: %v", err)
	}
	if claimed == nil {
		t.Fatal("expected a claimed job")
	}
	if claimed.ID != job.ID {
		t.Fatalf("expected oldest queued job %s, got %s", job.ID, claimed.ID)
	}

	got, err := repo.GetByID(ctx, tx, claimed.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.Status != types.JobStatusRunning {
		t.Fatalf("expected claimed job running, got %s", got.Status)
	}
	if got.Attempts != 1 {
		t.Fatalf("expected 1 attempt, got %d", got.Attempts)
	}

	// Completing the job frees the dedup slot for a re-trigger.
	if err := repo.UpdateFields(ctx, tx, claimed.ID, map[string]any{
		"status": types.JobStatusCompleted,
		"stage":  "done",
	}); err != nil {
		t.Fatalf("UpdateFields: %v", err)
	}
	again := &types.AnalysisJob{
		JobType:  types.JobTypeExtractPatches,
		ImageID:  image.ID,
		SampleID: sample.ID,
		Status:   types.JobStatusQueued,
	}
	if _, err := repo.Create(ctx, tx, again); err != nil {
		t.Fatalf("Create after completion: %v", err)
	}

	jobs, err := repo.ListByImageID(ctx, tx, image.ID)
	if err != nil {
		t.Fatalf("ListByImageID: %v", err)
	}
	if len(jobs) != 3 {
		t.Fatalf("expected 3 jobs, got %d", len(jobs))
	}
}

func TestAnalysisJobRepoFailStale(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	ctx := context.Background()
	repo := NewAnalysisJobRepo(db, testutil.Logger(t))

	sample := testutil.SeedSample(t, tx, types.SampleStatusProcessing)
	image := testutil.SeedImage(t, tx, sample.ID, types.SmearKindThick)

	stale := time.Now().Add(-30 * time.Minute)
	job := &types.AnalysisJob{
		JobType:     types.JobTypeScreenImage,
		ImageID:     image.ID,
		SampleID:    sample.ID,
		Status:      types.JobStatusRunning,
		HeartbeatAt: &stale,
	}
	if err := tx.Create(job).Error; err != nil {
		t.Fatalf("seed running job: %v", err)
	}

	n, err := repo.FailStale(ctx, tx, 10*time.Minute)
	if err != nil {
		t.Fatalf("FailStale: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 stale job failed, got %d", n)
	}

	got, err := repo.GetByID(ctx, tx, job.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.Status != types.JobStatusFailed {
		t.Fatalf("expected failed, got %s", got.Status)
	}
	if got.Error == "" {
		t.Fatal("expected error message on stale job")
	}

	// ClaimNextRunnable never picks up failed jobs.
	claimed, err := repo.ClaimNextRunnable(ctx, tx)
	if err != nil {
		t.Fatalf("ClaimNextRunnable: %v", err)
	}
	if claimed != nil {
		t.Fatalf("expected no claimable job, got %s", claimed.ID)
	}
}
