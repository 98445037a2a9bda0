package segmenter

import (
	"image"
	"math"
	"sort"

	pkgerrors "github.com/malascope/malascope-backend/internal/pkg/errors"
)

// Thin smear segmentation isolates individual red blood cells. Cells
// are darker than the illuminated background; each surviving connected
// component yields one centered square candidate.
const (
	thinMinCellSide    = 40
	thinMaxCellSide    = 150
	thinMinCircularity = 0.5
	thinMinAspect      = 0.7
	thinMaxAspect      = 1.3
	thinErodeKernel    = 3
	thinMinArea        = 100
)

type ThinSegmenter struct{}

func NewThinSegmenter() *ThinSegmenter { return &ThinSegmenter{} }

func (s *ThinSegmenter) Segment(img image.Image) ([]Candidate, error) {
	if err := checkSize(img); err != nil {
		return nil, err
	}

	raster := NewGreenRaster(img)
	raster.StretchPercentile(1, 99)

	mean := raster.Mean()
	fg := raster.DarkerThan(uint8(mean))
	fg = fg.Erode(thinErodeKernel)

	var candidates []Candidate
	for _, comp := range fg.Components(thinMinArea) {
		w, h := comp.Width(), comp.Height()
		if w < thinMinCellSide || w > thinMaxCellSide ||
			h < thinMinCellSide || h > thinMaxCellSide {
			continue
		}

		aspect := float64(w) / float64(h)
		if aspect < thinMinAspect || aspect > thinMaxAspect {
			continue
		}

		circularity := 4 * math.Pi * float64(comp.Area) /
			(float64(comp.Perimeter) * float64(comp.Perimeter))
		if circularity < thinMinCircularity {
			continue
		}

		quality := circularity * (1 - math.Abs(1-aspect))

		size := w
		if h > size {
			size = h
		}
		x, y := clampSquare(comp.CentroidX(), comp.CentroidY(), size, raster.W, raster.H)
		candidates = append(candidates, Candidate{
			X:     x,
			Y:     y,
			Size:  size,
			Score: quality,
		})
	}

	if len(candidates) == 0 {
		return nil, pkgerrors.ErrNoValidPatches
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Score > candidates[j].Score
	})
	return candidates, nil
}
