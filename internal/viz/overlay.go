package viz

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"os"
	"strings"

	_ "image/jpeg"
	_ "image/png"

	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"

	"github.com/malascope/malascope-backend/internal/logger"
	"github.com/malascope/malascope-backend/internal/types"
)

// Region is one annotated area on a review overlay.
type Region struct {
	X, Y, W, H int
	Positive   bool
	Label      string
}

var (
	negativeColor = color.NRGBA{R: 46, G: 160, B: 67, A: 255}
	positiveColor = color.NRGBA{R: 218, G: 54, B: 51, A: 255}
)

// Renderer draws review overlays for microscopists: patch outlines on
// the original smear image, colored by verdict. Thin smear regions are
// drawn as circles around the cell, thick smear regions as boxes.
type Renderer struct {
	log  *logger.Logger
	face font.Face
}

func NewRenderer(baseLog *logger.Logger) *Renderer {
	serviceLog := baseLog.With("service", "OverlayRenderer")

	var face font.Face = basicfont.Face7x13
	if fontPath := strings.TrimSpace(os.Getenv("OVERLAY_FONT")); fontPath != "" {
		loaded, err := loadFontFace(fontPath, 14)
		if err != nil {
			serviceLog.Warn("Could not load overlay font, using builtin face", "font", fontPath, "error", err)
		} else {
			face = loaded
		}
	}

	return &Renderer{log: serviceLog, face: face}
}

// Render draws the regions over the source image and returns a PNG.
func (r *Renderer) Render(src image.Image, kind types.SmearKind, regions []Region) (bytes.Buffer, error) {
	b := src.Bounds()
	dc := gg.NewContext(b.Dx(), b.Dy())
	dc.DrawImage(src, -b.Min.X, -b.Min.Y)
	dc.SetFontFace(r.face)
	dc.SetLineWidth(2)

	for i, region := range regions {
		c := negativeColor
		if region.Positive {
			c = positiveColor
		}
		dc.SetColor(c)

		if kind == types.SmearKindThin {
			cx := float64(region.X) + float64(region.W)/2
			cy := float64(region.Y) + float64(region.H)/2
			dc.DrawCircle(cx, cy, float64(region.W)/2)
			dc.Stroke()
		} else {
			dc.DrawRectangle(float64(region.X), float64(region.Y), float64(region.W), float64(region.H))
			dc.Stroke()
		}

		label := region.Label
		if label == "" {
			label = fmt.Sprintf("%d", i+1)
		}
		dc.DrawString(label, float64(region.X)+3, float64(region.Y)+13)
	}

	var buf bytes.Buffer
	if err := dc.EncodePNG(&buf); err != nil {
		return buf, fmt.Errorf("failed to encode overlay PNG: %w", err)
	}
	return buf, nil
}

func loadFontFace(fontPath string, size float64) (font.Face, error) {
	fontBytes, err := os.ReadFile(fontPath)
	if err != nil {
		return nil, fmt.Errorf("read font: %w", err)
	}
	f, err := truetype.Parse(fontBytes)
	if err != nil {
		return nil, fmt.Errorf("parse font: %w", err)
	}
	return truetype.NewFace(f, &truetype.Options{Size: size}), nil
}
