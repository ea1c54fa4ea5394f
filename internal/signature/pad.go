// Package signature implements the freehand signature capture surface used
// at the enrollment step.
package signature

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"math"

	"github.com/disintegration/imaging"
	"github.com/rotisserie/eris"
)

// Point is a position in logical (CSS pixel) coordinates.
type Point struct {
	X float64
	Y float64
}

// Pad is a freehand drawing surface. It accumulates stroke segments between
// Press and Release events; mouse and touch input are treated uniformly by
// the caller. The internal raster scales with the device pixel ratio while
// the logical layout size stays constant, so strokes render crisply on
// high-density displays.
type Pad struct {
	width      int
	height     int
	pixelRatio float64
	lineWidth  float64

	strokes [][]Point
	current []Point
	pressed bool
}

// Option configures a Pad.
type Option func(*Pad)

// WithPixelRatio sets the device pixel ratio. Values below 1 are clamped.
func WithPixelRatio(r float64) Option {
	return func(p *Pad) {
		if r >= 1 {
			p.pixelRatio = r
		}
	}
}

// WithLineWidth sets the stroke width in logical pixels.
func WithLineWidth(w float64) Option {
	return func(p *Pad) {
		if w > 0 {
			p.lineWidth = w
		}
	}
}

// NewPad creates a blank pad with the given logical dimensions.
func NewPad(width, height int, opts ...Option) *Pad {
	p := &Pad{
		width:      width,
		height:     height,
		pixelRatio: 1,
		lineWidth:  2,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Press begins a stroke at the given logical position.
func (p *Pad) Press(x, y float64) {
	p.pressed = true
	p.current = []Point{{X: x, Y: y}}
}

// Move extends the current stroke. Moves without a preceding press are
// ignored (hover).
func (p *Pad) Move(x, y float64) {
	if !p.pressed {
		return
	}
	p.current = append(p.current, Point{X: x, Y: y})
}

// Release ends the current stroke. A tap with no movement still registers
// as a single-point stroke (a dot), never silently discarded.
func (p *Pad) Release() {
	if !p.pressed {
		return
	}
	p.pressed = false
	if len(p.current) > 0 {
		p.strokes = append(p.strokes, p.current)
	}
	p.current = nil
}

// Empty reports whether no signature is currently present.
func (p *Pad) Empty() bool {
	return len(p.strokes) == 0 && len(p.current) == 0
}

// Clear resets the surface to a blank state. After Clear no signature is
// present: the payload becomes absent, not an empty-but-valid image.
func (p *Pad) Clear() {
	p.strokes = nil
	p.current = nil
	p.pressed = false
}

// Render rasterizes the surface. The raster resolution is the logical size
// multiplied by the pixel ratio.
func (p *Pad) Render() *image.NRGBA {
	w := int(math.Round(float64(p.width) * p.pixelRatio))
	h := int(math.Round(float64(p.height) * p.pixelRatio))
	img := imaging.New(w, h, color.White)

	radius := p.lineWidth * p.pixelRatio / 2
	for _, stroke := range p.allStrokes() {
		prev := stroke[0]
		stampDisc(img, prev.X*p.pixelRatio, prev.Y*p.pixelRatio, radius)
		for _, pt := range stroke[1:] {
			drawSegment(img, prev.X*p.pixelRatio, prev.Y*p.pixelRatio, pt.X*p.pixelRatio, pt.Y*p.pixelRatio, radius)
			prev = pt
		}
	}
	return img
}

// Payload serializes the current surface as a PNG. It returns nil with no
// error when no signature is present.
func (p *Pad) Payload() ([]byte, error) {
	if p.Empty() {
		return nil, nil
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, p.Render()); err != nil {
		return nil, eris.Wrap(err, "signature: encode png")
	}
	return buf.Bytes(), nil
}

// Thumbnail renders the signature scaled to the given height, preserving
// aspect ratio, for evidence bundles and admin views. Returns nil when no
// signature is present.
func (p *Pad) Thumbnail(height int) ([]byte, error) {
	if p.Empty() {
		return nil, nil
	}
	small := imaging.Resize(p.Render(), 0, height, imaging.Lanczos)
	var buf bytes.Buffer
	if err := png.Encode(&buf, small); err != nil {
		return nil, eris.Wrap(err, "signature: encode thumbnail")
	}
	return buf.Bytes(), nil
}

func (p *Pad) allStrokes() [][]Point {
	strokes := p.strokes
	if len(p.current) > 0 {
		strokes = append(strokes[:len(strokes):len(strokes)], p.current)
	}
	return strokes
}

// drawSegment stamps discs along the line from (x0,y0) to (x1,y1) at
// sub-radius spacing for a continuous stroke.
func drawSegment(img *image.NRGBA, x0, y0, x1, y1, radius float64) {
	dx, dy := x1-x0, y1-y0
	dist := math.Hypot(dx, dy)
	if dist == 0 {
		stampDisc(img, x1, y1, radius)
		return
	}
	step := math.Max(radius/2, 0.5)
	steps := int(math.Ceil(dist / step))
	for i := 0; i <= steps; i++ {
		t := float64(i) / float64(steps)
		stampDisc(img, x0+dx*t, y0+dy*t, radius)
	}
}

func stampDisc(img *image.NRGBA, cx, cy, radius float64) {
	if radius < 1 {
		radius = 1
	}
	minX := int(math.Floor(cx - radius))
	maxX := int(math.Ceil(cx + radius))
	minY := int(math.Floor(cy - radius))
	maxY := int(math.Ceil(cy + radius))
	bounds := img.Bounds()
	for y := minY; y <= maxY; y++ {
		for x := minX; x <= maxX; x++ {
			if x < bounds.Min.X || x >= bounds.Max.X || y < bounds.Min.Y || y >= bounds.Max.Y {
				continue
			}
			if math.Hypot(float64(x)+0.5-cx, float64(y)+0.5-cy) <= radius {
				img.Set(x, y, color.Black)
			}
		}
	}
}
