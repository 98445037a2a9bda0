package extractor

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"sort"

	"gorm.io/gorm"

	"github.com/malascope/malascope-backend/internal/logger"
	pkgerrors "github.com/malascope/malascope-backend/internal/pkg/errors"
	"github.com/malascope/malascope-backend/internal/repos"
	"github.com/malascope/malascope-backend/internal/segmenter"
	"github.com/malascope/malascope-backend/internal/storage"
	"github.com/malascope/malascope-backend/internal/types"
	"github.com/malascope/malascope-backend/internal/viz"
)

// DefaultMaxPatches caps how many candidates are kept per image.
const DefaultMaxPatches = 20

type Config struct {
	MaxPatches int
}

// Service turns a full smear image into stored, classifiable patches.
// Candidates come from the kind-specific segmenter; the best
// MaxPatches survive.
type Service struct {
	log        *logger.Logger
	store      storage.Store
	patchRepo  repos.ImagePatchRepo
	renderer   *viz.Renderer
	thin       segmenter.Segmenter
	thick      segmenter.Segmenter
	maxPatches int
}

func NewService(cfg Config, store storage.Store, patchRepo repos.ImagePatchRepo, renderer *viz.Renderer, baseLog *logger.Logger) *Service {
	maxPatches := cfg.MaxPatches
	if maxPatches <= 0 {
		maxPatches = DefaultMaxPatches
	}
	return &Service{
		log:        baseLog.With("service", "ExtractorService"),
		store:      store,
		patchRepo:  patchRepo,
		renderer:   renderer,
		thin:       segmenter.NewThinSegmenter(),
		thick:      segmenter.NewThickSegmenter(),
		maxPatches: maxPatches,
	}
}

// Extract segments the image, stores the winning patches as PNGs and
// records them in the given transaction. An image is extracted at most
// once; a second call returns ErrAlreadyProcessed without touching the
// existing patch set. A candidate that fails to crop or upload is
// skipped; the extraction only fails when nothing survives.
func (s *Service) Extract(ctx context.Context, tx *gorm.DB, sampleImage *types.SampleImage, src image.Image) ([]*types.ImagePatch, error) {
	existing, err := s.patchRepo.CountByImageID(ctx, tx, sampleImage.ID)
	if err != nil {
		return nil, err
	}
	if existing > 0 {
		return nil, fmt.Errorf("%w: image already has %d patches", pkgerrors.ErrAlreadyProcessed, existing)
	}

	seg := s.thin
	patchType := types.PatchTypeRBC
	if sampleImage.SmearKind == types.SmearKindThick {
		seg = s.thick
		patchType = types.PatchTypeParasiteCandidate
	}

	candidates, err := seg.Segment(src)
	if err != nil {
		return nil, err
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Score > candidates[j].Score
	})
	if len(candidates) > s.maxPatches {
		candidates = candidates[:s.maxPatches]
	}

	var rows []*types.ImagePatch
	for i, cand := range candidates {
		key := fmt.Sprintf("patches/%s/%d.png", sampleImage.ID, i)
		if err := s.savePatch(ctx, key, src, cand); err != nil {
			s.log.Warn("Skipping candidate patch",
				"image_id", sampleImage.ID,
				"index", i,
				"error", err,
			)
			continue
		}
		rows = append(rows, &types.ImagePatch{
			ImageID:    sampleImage.ID,
			StorageKey: key,
			X:          cand.X,
			Y:          cand.Y,
			Width:      cand.Size,
			Height:     cand.Size,
			PatchType:  patchType,
		})
	}
	if len(rows) == 0 {
		return nil, pkgerrors.ErrNoValidPatches
	}

	if _, err := s.patchRepo.Create(ctx, tx, rows); err != nil {
		return nil, fmt.Errorf("failed to record patches: %w", err)
	}

	s.saveOverlay(ctx, sampleImage, src, rows)

	return rows, nil
}

func (s *Service) savePatch(ctx context.Context, key string, src image.Image, cand segmenter.Candidate) error {
	crop := cropSquare(src, cand)
	var buf bytes.Buffer
	if err := png.Encode(&buf, crop); err != nil {
		return fmt.Errorf("encode patch: %w", err)
	}
	return s.store.Save(ctx, key, &buf)
}

// saveOverlay renders the review overlay. Failures are logged and
// swallowed; the overlay is an aid for microscopists, not pipeline
// state.
func (s *Service) saveOverlay(ctx context.Context, sampleImage *types.SampleImage, src image.Image, rows []*types.ImagePatch) {
	regions := make([]viz.Region, 0, len(rows))
	for _, p := range rows {
		regions = append(regions, viz.Region{X: p.X, Y: p.Y, W: p.Width, H: p.Height})
	}
	buf, err := s.renderer.Render(src, sampleImage.SmearKind, regions)
	if err != nil {
		s.log.Warn("Overlay render failed", "image_id", sampleImage.ID, "error", err)
		return
	}
	key := fmt.Sprintf("overlays/%s/patches.png", sampleImage.ID)
	if err := s.store.Save(ctx, key, &buf); err != nil {
		s.log.Warn("Overlay upload failed", "image_id", sampleImage.ID, "key", key, "error", err)
	}
}

func cropSquare(src image.Image, cand segmenter.Candidate) image.Image {
	b := src.Bounds()
	out := image.NewRGBA(image.Rect(0, 0, cand.Size, cand.Size))
	for y := 0; y < cand.Size; y++ {
		for x := 0; x < cand.Size; x++ {
			out.Set(x, y, src.At(b.Min.X+cand.X+x, b.Min.Y+cand.Y+y))
		}
	}
	return out
}
