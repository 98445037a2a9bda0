package viz

import (
	"bytes"
	"image"
	"image/png"
	"testing"

	"github.com/malascope/malascope-backend/internal/logger"
	"github.com/malascope/malascope-backend/internal/types"
)

func TestRendererProducesDecodablePNG(t *testing.T) {
	log, err := logger.New("test")
	if err != nil {
		t.Fatalf("init logger: %v", err)
	}
	r := NewRenderer(log)

	src := image.NewRGBA(image.Rect(0, 0, 300, 200))
	regions := []Region{
		{X: 20, Y: 20, W: 60, H: 60, Positive: true},
		{X: 150, Y: 80, W: 60, H: 60, Positive: false, Label: "ok"},
	}

	for _, kind := range []types.SmearKind{types.SmearKindThin, types.SmearKindThick} {
		buf, err := r.Render(src, kind, regions)
		if err != nil {
			t.Fatalf("Render(%s): %v", kind, err)
		}
		decoded, err := png.Decode(bytes.NewReader(buf.Bytes()))
		if err != nil {
			t.Fatalf("decode overlay for %s: %v", kind, err)
		}
		if decoded.Bounds().Dx() != 300 || decoded.Bounds().Dy() != 200 {
			t.Fatalf("unexpected overlay size %v", decoded.Bounds())
		}
	}
}
