package segmenter

import (
	"image"
)

// Raster is a single-channel 8-bit view of a smear image. All
// segmentation runs on the green channel, which carries the strongest
// contrast between stained cells and the bright field background.
type Raster struct {
	W, H int
	Pix  []uint8
}

func NewGreenRaster(img image.Image) *Raster {
	b := img.Bounds()
	r := &Raster{
		W:   b.Dx(),
		H:   b.Dy(),
		Pix: make([]uint8, b.Dx()*b.Dy()),
	}
	i := 0
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			_, g, _, _ := img.At(x, y).RGBA()
			r.Pix[i] = uint8(g >> 8)
			i++
		}
	}
	return r
}

func (r *Raster) At(x, y int) uint8     { return r.Pix[y*r.W+x] }
func (r *Raster) Set(x, y int, v uint8) { r.Pix[y*r.W+x] = v }

func (r *Raster) Clone() *Raster {
	out := &Raster{W: r.W, H: r.H, Pix: make([]uint8, len(r.Pix))}
	copy(out.Pix, r.Pix)
	return out
}

func (r *Raster) Histogram() [256]int {
	var h [256]int
	for _, v := range r.Pix {
		h[v]++
	}
	return h
}

func (r *Raster) Mean() float64 {
	if len(r.Pix) == 0 {
		return 0
	}
	var sum int64
	for _, v := range r.Pix {
		sum += int64(v)
	}
	return float64(sum) / float64(len(r.Pix))
}

// StretchPercentile linearly remaps intensities so that the low-th
// percentile maps to 0 and the high-th maps to 255. Values outside the
// range clip. Percentiles are given in [0,100].
func (r *Raster) StretchPercentile(low, high float64) {
	hist := r.Histogram()
	total := len(r.Pix)
	if total == 0 {
		return
	}
	lowCount := int(float64(total) * low / 100.0)
	highCount := int(float64(total) * high / 100.0)

	lo, hi := 0, 255
	cum := 0
	for i := 0; i < 256; i++ {
		cum += hist[i]
		if cum > lowCount {
			lo = i
			break
		}
	}
	cum = 0
	for i := 0; i < 256; i++ {
		cum += hist[i]
		if cum >= highCount {
			hi = i
			break
		}
	}
	if hi <= lo {
		return
	}
	scale := 255.0 / float64(hi-lo)
	for i, v := range r.Pix {
		switch {
		case int(v) <= lo:
			r.Pix[i] = 0
		case int(v) >= hi:
			r.Pix[i] = 255
		default:
			r.Pix[i] = uint8(float64(int(v)-lo) * scale)
		}
	}
}

// OtsuThreshold picks the threshold maximizing between-class variance.
func (r *Raster) OtsuThreshold() uint8 {
	hist := r.Histogram()
	total := len(r.Pix)
	if total == 0 {
		return 0
	}

	var sum float64
	for i := 0; i < 256; i++ {
		sum += float64(i) * float64(hist[i])
	}

	var sumB, wB float64
	var best float64
	var threshold uint8
	for i := 0; i < 256; i++ {
		wB += float64(hist[i])
		if wB == 0 {
			continue
		}
		wF := float64(total) - wB
		if wF == 0 {
			break
		}
		sumB += float64(i) * float64(hist[i])
		mB := sumB / wB
		mF := (sum - sumB) / wF
		between := wB * wF * (mB - mF) * (mB - mF)
		if between > best {
			best = between
			threshold = uint8(i)
		}
	}
	return threshold
}

// DarkerThan returns a mask of pixels strictly below the threshold.
// Stained cells are darker than the illuminated background.
func (r *Raster) DarkerThan(threshold uint8) *Mask {
	m := NewMask(r.W, r.H)
	for i, v := range r.Pix {
		if v < threshold {
			m.Bits[i] = true
		}
	}
	return m
}

// Mask is a binary raster used for morphology and labeling.
type Mask struct {
	W, H int
	Bits []bool
}

func NewMask(w, h int) *Mask {
	return &Mask{W: w, H: h, Bits: make([]bool, w*h)}
}

func (m *Mask) At(x, y int) bool {
	if x < 0 || y < 0 || x >= m.W || y >= m.H {
		return false
	}
	return m.Bits[y*m.W+x]
}

func (m *Mask) Set(x, y int, v bool) { m.Bits[y*m.W+x] = v }

func (m *Mask) Clone() *Mask {
	out := NewMask(m.W, m.H)
	copy(out.Bits, m.Bits)
	return out
}

// Erode applies a k x k square structuring element. k must be odd.
func (m *Mask) Erode(k int) *Mask {
	out := NewMask(m.W, m.H)
	r := k / 2
	for y := 0; y < m.H; y++ {
	pixel:
		for x := 0; x < m.W; x++ {
			for dy := -r; dy <= r; dy++ {
				for dx := -r; dx <= r; dx++ {
					if !m.At(x+dx, y+dy) {
						continue pixel
					}
				}
			}
			out.Set(x, y, true)
		}
	}
	return out
}

// Dilate applies a k x k square structuring element. k must be odd.
func (m *Mask) Dilate(k int) *Mask {
	out := NewMask(m.W, m.H)
	r := k / 2
	for y := 0; y < m.H; y++ {
		for x := 0; x < m.W; x++ {
			if !m.Bits[y*m.W+x] {
				continue
			}
			for dy := -r; dy <= r; dy++ {
				yy := y + dy
				if yy < 0 || yy >= m.H {
					continue
				}
				for dx := -r; dx <= r; dx++ {
					xx := x + dx
					if xx < 0 || xx >= m.W {
						continue
					}
					out.Bits[yy*m.W+xx] = true
				}
			}
		}
	}
	return out
}

// Subtract returns m AND NOT other.
func (m *Mask) Subtract(other *Mask) *Mask {
	out := NewMask(m.W, m.H)
	for i := range m.Bits {
		out.Bits[i] = m.Bits[i] && !other.Bits[i]
	}
	return out
}

// Component is a 4-connected region of a mask.
type Component struct {
	Area      int
	Perimeter int
	MinX      int
	MinY      int
	MaxX      int
	MaxY      int
	SumX      int64
	SumY      int64
}

func (c Component) Width() int  { return c.MaxX - c.MinX + 1 }
func (c Component) Height() int { return c.MaxY - c.MinY + 1 }

// CentroidX and CentroidY are the integer centroid coordinates.
func (c Component) CentroidX() int { return int(c.SumX / int64(c.Area)) }
func (c Component) CentroidY() int { return int(c.SumY / int64(c.Area)) }

// Components labels 4-connected foreground regions with at least
// minArea pixels. Perimeter counts pixel edges adjacent to background
// or the image border.
func (m *Mask) Components(minArea int) []Component {
	labels := make([]int32, len(m.Bits))
	var out []Component
	var stack []int

	next := int32(0)
	for start := range m.Bits {
		if !m.Bits[start] || labels[start] != 0 {
			continue
		}
		next++
		comp := Component{MinX: m.W, MinY: m.H, MaxX: -1, MaxY: -1}
		stack = stack[:0]
		stack = append(stack, start)
		labels[start] = next
		for len(stack) > 0 {
			idx := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			x, y := idx%m.W, idx/m.W

			comp.Area++
			comp.SumX += int64(x)
			comp.SumY += int64(y)
			if x < comp.MinX {
				comp.MinX = x
			}
			if x > comp.MaxX {
				comp.MaxX = x
			}
			if y < comp.MinY {
				comp.MinY = y
			}
			if y > comp.MaxY {
				comp.MaxY = y
			}

			for _, d := range [4][2]int{{1, 0}, {-1, 0}, {0, 1}, {0, -1}} {
				xx, yy := x+d[0], y+d[1]
				if !m.At(xx, yy) {
					comp.Perimeter++
					continue
				}
				nidx := yy*m.W + xx
				if labels[nidx] == 0 {
					labels[nidx] = next
					stack = append(stack, nidx)
				}
			}
		}
		if comp.Area >= minArea {
			out = append(out, comp)
		}
	}
	return out
}
