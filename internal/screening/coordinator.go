package screening

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/malascope/malascope-backend/internal/classifier"
	"github.com/malascope/malascope-backend/internal/logger"
	pkgerrors "github.com/malascope/malascope-backend/internal/pkg/errors"
	"github.com/malascope/malascope-backend/internal/repos"
	"github.com/malascope/malascope-backend/internal/storage"
	"github.com/malascope/malascope-backend/internal/types"
)

const (
	// DefaultBatchSize bounds how many patches are scored in
	// parallel; the inference backend sets the practical ceiling.
	DefaultBatchSize = 10

	// DefaultPositiveThreshold is how many positive patches flag the
	// whole image. One stained cell is enough for a screening alarm.
	DefaultPositiveThreshold = 1
)

type Config struct {
	BatchSize         int
	PositiveThreshold int
}

// Outcome is the persisted result of screening one image.
type Outcome struct {
	Analysis        *types.InitialAnalysis
	Classifications []*types.PatchClassification
}

// Coordinator runs the fast screening pass: it scores every extracted
// patch, aggregates a per-image verdict and persists everything in one
// transaction. A negative verdict completes the sample; a positive one
// leaves it in processing for the detailed pass.
type Coordinator struct {
	db                 *gorm.DB
	log                *logger.Logger
	store              storage.Store
	cls                classifier.Classifier
	patchRepo          repos.ImagePatchRepo
	initialRepo        repos.InitialAnalysisRepo
	classificationRepo repos.PatchClassificationRepo
	imageRepo          repos.SampleImageRepo
	sampleRepo         repos.SampleRepo
	batchSize          int
	positiveThreshold  int
}

func NewCoordinator(
	cfg Config,
	db *gorm.DB,
	store storage.Store,
	cls classifier.Classifier,
	patchRepo repos.ImagePatchRepo,
	initialRepo repos.InitialAnalysisRepo,
	classificationRepo repos.PatchClassificationRepo,
	imageRepo repos.SampleImageRepo,
	sampleRepo repos.SampleRepo,
	baseLog *logger.Logger,
) *Coordinator {
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	positiveThreshold := cfg.PositiveThreshold
	if positiveThreshold <= 0 {
		positiveThreshold = DefaultPositiveThreshold
	}
	return &Coordinator{
		db:                 db,
		log:                baseLog.With("service", "ScreeningCoordinator"),
		store:              store,
		cls:                cls,
		patchRepo:          patchRepo,
		initialRepo:        initialRepo,
		classificationRepo: classificationRepo,
		imageRepo:          imageRepo,
		sampleRepo:         sampleRepo,
		batchSize:          batchSize,
		positiveThreshold:  positiveThreshold,
	}
}

type patchScore struct {
	patch    *types.ImagePatch
	result   classifier.Result
	degraded bool
	note     string
}

// Screen scores all patches of the image and persists the verdict.
// Screening the same image twice returns ErrAlreadyAnalyzed; an image
// without extracted patches returns ErrNoPatches.
func (c *Coordinator) Screen(ctx context.Context, sampleImage *types.SampleImage) (*Outcome, error) {
	patches, err := c.patchRepo.GetByImageID(ctx, nil, sampleImage.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load patches: %w", err)
	}
	if len(patches) == 0 {
		return nil, pkgerrors.ErrNoPatches
	}

	if existing, err := c.initialRepo.GetByImageID(ctx, nil, sampleImage.ID); err == nil {
		return nil, fmt.Errorf("%w: initial analysis %s", pkgerrors.ErrAlreadyAnalyzed, existing.ID)
	}

	started := time.Now()
	scores := make([]patchScore, len(patches))
	for offset := 0; offset < len(patches); offset += c.batchSize {
		end := offset + c.batchSize
		if end > len(patches) {
			end = len(patches)
		}

		g, gctx := errgroup.WithContext(ctx)
		for i := offset; i < end; i++ {
			i := i
			g.Go(func() error {
				score, err := c.scorePatch(gctx, patches[i], sampleImage.SmearKind)
				if err != nil {
					return err
				}
				scores[i] = score
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}

	var positive, scored int
	var probSum float64
	for _, s := range scores {
		if s.degraded {
			continue
		}
		scored++
		probSum += s.result.Probability
		if s.result.Infected {
			positive++
		}
	}
	if scored == 0 {
		return nil, fmt.Errorf("%w: every patch failed classification", pkgerrors.ErrClassifierUnavailable)
	}

	isPositive := positive >= c.positiveThreshold
	// Degraded patches count as probability 0, so the aggregate is the
	// mean over every recorded classification row.
	avgConfidence := probSum / float64(len(patches))
	elapsed := time.Since(started)

	analysis := &types.InitialAnalysis{
		SampleID:        sampleImage.SampleID,
		ImageID:         sampleImage.ID,
		IsPositive:      isPositive,
		Confidence:      avgConfidence,
		ProcessingMS:    elapsed.Milliseconds(),
		PatchesAnalyzed: len(patches),
		PositivePatches: positive,
		ModelVersion:    c.cls.Version(sampleImage.SmearKind),
	}

	var classifications []*types.PatchClassification
	err = c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := c.initialRepo.Create(ctx, tx, analysis); err != nil {
			return err
		}

		classifications = make([]*types.PatchClassification, 0, len(scores))
		for _, s := range scores {
			classifications = append(classifications, &types.PatchClassification{
				PatchID:    s.patch.ID,
				AnalysisID: analysis.ID,
				IsPositive: s.result.Infected,
				Confidence: s.result.Probability,
				Note:       s.note,
			})
		}
		if _, err := c.classificationRepo.Create(ctx, tx, classifications); err != nil {
			return err
		}

		if err := c.imageRepo.SetAnalyzed(ctx, tx, sampleImage.ID, true); err != nil {
			return err
		}

		status := types.SampleStatusProcessing
		if !isPositive {
			status = types.SampleStatusCompleted
		}
		return c.sampleRepo.UpdateStatus(ctx, tx, sampleImage.SampleID, status)
	})
	if err != nil {
		return nil, err
	}

	c.log.Info("Screening finished",
		"image_id", sampleImage.ID,
		"positive", isPositive,
		"positive_patches", positive,
		"patches", len(patches),
		"avg_confidence", avgConfidence,
		"elapsed_ms", elapsed.Milliseconds(),
	)

	return &Outcome{Analysis: analysis, Classifications: classifications}, nil
}

// scorePatch degrades per-patch problems so one bad patch cannot sink
// the run, with one exception: a classifier that reports itself
// unavailable aborts the whole screening, since every remaining patch
// would degrade the same way.
func (c *Coordinator) scorePatch(ctx context.Context, patch *types.ImagePatch, kind types.SmearKind) (patchScore, error) {
	raw, err := c.loadPatch(ctx, patch.StorageKey)
	if err != nil {
		c.log.Warn("Patch unreadable, marking degraded", "patch_id", patch.ID, "key", patch.StorageKey, "error", err)
		return patchScore{patch: patch, degraded: true, note: fmt.Sprintf("patch unreadable: %v", err)}, nil
	}

	result, err := c.cls.Classify(ctx, raw, kind)
	if err != nil {
		if errors.Is(err, pkgerrors.ErrClassifierUnavailable) {
			return patchScore{}, err
		}
		c.log.Warn("Patch classification failed, marking degraded", "patch_id", patch.ID, "error", err)
		return patchScore{patch: patch, degraded: true, note: fmt.Sprintf("classification failed: %v", err)}, nil
	}
	return patchScore{patch: patch, result: result}, nil
}

func (c *Coordinator) loadPatch(ctx context.Context, key string) ([]byte, error) {
	r, err := c.store.Open(ctx, key)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}
