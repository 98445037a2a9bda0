package segmenter

import (
	"image"

	pkgerrors "github.com/malascope/malascope-backend/internal/pkg/errors"
)

// Thick smear segmentation works on stain density rather than cell
// shape: parasites show up as small dark foci. Candidates are picked
// greedily from the darkest remaining pixel, suppressing a disk around
// each pick so nearby dark maxima collapse into one candidate.
const (
	thickBorderKernel  = 11
	thickWBCKernel     = 9
	thickWBCMinArea    = 1000
	thickWBCDarkFactor = 0.5
	thickMaxPatch      = 100
	thickMinPatch      = 32
	thickPatchFraction = 0.1
	thickMaxCandidates = 400
)

type ThickSegmenter struct{}

func NewThickSegmenter() *ThickSegmenter { return &ThickSegmenter{} }

func (s *ThickSegmenter) Segment(img image.Image) ([]Candidate, error) {
	if err := checkSize(img); err != nil {
		return nil, err
	}

	raster := NewGreenRaster(img)
	otsu := raster.OtsuThreshold()

	// Film region, with a border band stripped so partially imaged
	// cells at the film edge never become candidates. The threshold
	// bin itself belongs to the film.
	cut := int(otsu) + 1
	if cut > 255 {
		cut = 255
	}
	film := raster.DarkerThan(uint8(cut))
	interior := film.Erode(thickBorderKernel)

	// White blood cells are much darker than the film and would
	// dominate the greedy pick. Mask out large very dark blobs plus a
	// margin around them.
	dark := raster.DarkerThan(uint8(float64(otsu) * thickWBCDarkFactor))
	wbc := NewMask(raster.W, raster.H)
	for _, comp := range dark.Components(thickWBCMinArea) {
		for y := comp.MinY; y <= comp.MaxY; y++ {
			for x := comp.MinX; x <= comp.MaxX; x++ {
				if dark.At(x, y) {
					wbc.Set(x, y, true)
				}
			}
		}
	}
	wbc = wbc.Dilate(thickWBCKernel)

	// Excluded pixels are forced to full brightness so the greedy
	// darkest-pixel scan never lands on them.
	work := raster.Clone()
	for i := range work.Pix {
		if !interior.Bits[i] || wbc.Bits[i] {
			work.Pix[i] = 255
		}
	}

	patch := patchSize(raster.W, raster.H)
	radius := patch / 2

	var candidates []Candidate
	for len(candidates) < thickMaxCandidates {
		minVal := uint8(255)
		minIdx := -1
		for i, v := range work.Pix {
			if v < minVal {
				minVal = v
				minIdx = i
			}
		}
		if minIdx < 0 || minVal == 255 {
			break
		}

		cx, cy := minIdx%work.W, minIdx/work.W
		x, y := clampSquare(cx, cy, patch, work.W, work.H)
		candidates = append(candidates, Candidate{
			X:     x,
			Y:     y,
			Size:  patch,
			Score: float64(255 - minVal),
		})

		suppressDisk(work, cx, cy, radius)
	}

	if len(candidates) == 0 {
		return nil, pkgerrors.ErrNoValidPatches
	}
	return candidates, nil
}

func patchSize(w, h int) int {
	size := int(thickPatchFraction * float64(min(w, h)))
	if size > thickMaxPatch {
		size = thickMaxPatch
	}
	if size < thickMinPatch {
		size = thickMinPatch
	}
	return size
}

func suppressDisk(r *Raster, cx, cy, radius int) {
	r2 := radius * radius
	for dy := -radius; dy <= radius; dy++ {
		y := cy + dy
		if y < 0 || y >= r.H {
			continue
		}
		for dx := -radius; dx <= radius; dx++ {
			if dx*dx+dy*dy > r2 {
				continue
			}
			x := cx + dx
			if x < 0 || x >= r.W {
				continue
			}
			r.Pix[y*r.W+x] = 255
		}
	}
}
