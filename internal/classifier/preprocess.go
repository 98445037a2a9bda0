package classifier

import (
	"bytes"
	"fmt"
	"image"

	_ "image/jpeg"
	_ "image/png"

	"golang.org/x/image/draw"

	"github.com/malascope/malascope-backend/internal/types"
)

// Model input sizes per smear kind. Thin smear patches hold one whole
// cell and get the larger input; thick smear patches are tight crops
// around a stained focus.
const (
	thinInputSize  = 64
	thickInputSize = 32
)

// InputSize returns the model's square input edge for the smear kind.
func InputSize(kind types.SmearKind) int {
	if kind == types.SmearKindThick {
		return thickInputSize
	}
	return thinInputSize
}

// Preprocess decodes a patch and produces the normalized green-channel
// tensor the screening model consumes: size*size float32 values in
// [0,1], row-major.
func Preprocess(patch []byte, kind types.SmearKind) ([]float32, error) {
	img, _, err := image.Decode(bytes.NewReader(patch))
	if err != nil {
		return nil, fmt.Errorf("failed to decode patch: %w", err)
	}

	size := InputSize(kind)
	resized := image.NewRGBA(image.Rect(0, 0, size, size))
	draw.BiLinear.Scale(resized, resized.Bounds(), img, img.Bounds(), draw.Src, nil)

	out := make([]float32, size*size)
	i := 0
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			_, g, _, _ := resized.At(x, y).RGBA()
			out[i] = float32(g>>8) / 255.0
			i++
		}
	}
	return out, nil
}
