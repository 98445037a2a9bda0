package segmenter

import (
	"image"

	pkgerrors "github.com/malascope/malascope-backend/internal/pkg/errors"
)

// MinImageDim is the smallest usable smear image edge in pixels.
const MinImageDim = 200

// Candidate is one square region proposed for classification, in
// image coordinates with the origin at the top-left. Score orders
// candidates best-first; its scale differs per smear kind.
type Candidate struct {
	X     int
	Y     int
	Size  int
	Score float64
}

// Segmenter proposes candidate patches from a full smear image.
type Segmenter interface {
	Segment(img image.Image) ([]Candidate, error)
}

func checkSize(img image.Image) error {
	b := img.Bounds()
	if b.Dx() < MinImageDim || b.Dy() < MinImageDim {
		return pkgerrors.ErrImageTooSmall
	}
	return nil
}

// clampSquare shifts a size x size square so it lies fully inside a
// w x h image while keeping it as close to the requested center as
// possible.
func clampSquare(cx, cy, size, w, h int) (int, int) {
	x := cx - size/2
	y := cy - size/2
	if x < 0 {
		x = 0
	}
	if y < 0 {
		y = 0
	}
	if x+size > w {
		x = w - size
	}
	if y+size > h {
		y = h - size
	}
	return x, y
}
