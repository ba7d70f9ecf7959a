// Package geom provides the pixel math for segmented page capture:
// CSS-pixel rectangles, page measurements, and the splitting of a
// vertical span into viewport-sized segments.
//
// Everything in this package is pure. Coordinates are CSS pixels
// unless a name says otherwise; device pixels appear only after an
// explicit Scale call.
package geom

import (
	"fmt"
	"math"
)

// Rect is an axis-aligned rectangle in CSS pixels.
type Rect struct {
	X int
	Y int
	W int
	H int
}

// Empty reports whether the rectangle has no area.
func (r Rect) Empty() bool { return r.W <= 0 || r.H <= 0 }

// Right returns the exclusive right edge.
func (r Rect) Right() int { return r.X + r.W }

// Bottom returns the exclusive bottom edge.
func (r Rect) Bottom() int { return r.Y + r.H }

// Intersect returns the overlapping region of r and o. The result is
// empty when they do not overlap.
func (r Rect) Intersect(o Rect) Rect {
	x0 := max(r.X, o.X)
	y0 := max(r.Y, o.Y)
	x1 := min(r.Right(), o.Right())
	y1 := min(r.Bottom(), o.Bottom())
	if x1 <= x0 || y1 <= y0 {
		return Rect{}
	}
	return Rect{X: x0, Y: y0, W: x1 - x0, H: y1 - y0}
}

// Clamp constrains r to bounds. A request hanging past an edge comes
// back flush with it instead of failing; a request entirely outside
// bounds comes back empty.
func (r Rect) Clamp(bounds Rect) Rect {
	return r.Intersect(bounds)
}

// Translate returns r shifted by dx, dy.
func (r Rect) Translate(dx, dy int) Rect {
	return Rect{X: r.X + dx, Y: r.Y + dy, W: r.W, H: r.H}
}

// Contains reports whether o lies entirely inside r.
func (r Rect) Contains(o Rect) bool {
	return o.X >= r.X && o.Y >= r.Y && o.Right() <= r.Right() && o.Bottom() <= r.Bottom()
}

// Scale maps r to device pixels at ratio dpr. Edges are rounded
// rather than width and height so rects adjacent in CSS pixels stay
// adjacent in device pixels.
func (r Rect) Scale(dpr float64) Rect {
	x0 := int(math.Round(float64(r.X) * dpr))
	y0 := int(math.Round(float64(r.Y) * dpr))
	x1 := int(math.Round(float64(r.Right()) * dpr))
	y1 := int(math.Round(float64(r.Bottom()) * dpr))
	return Rect{X: x0, Y: y0, W: x1 - x0, H: y1 - y0}
}

func (r Rect) String() string {
	return fmt.Sprintf("%dx%d+%d+%d", r.W, r.H, r.X, r.Y)
}

// Metrics is one measurement of a page: the full document extent, the
// viewport, the current scroll offsets and the device pixel ratio.
type Metrics struct {
	ScrollWidth      int
	ScrollHeight     int
	ViewportWidth    int
	ViewportHeight   int
	ScrollX          int
	ScrollY          int
	DevicePixelRatio float64
}

// Validate reports the first thing wrong with a measurement. A page
// that fails Validate cannot be captured.
func (m Metrics) Validate() error {
	switch {
	case m.ViewportWidth <= 0 || m.ViewportHeight <= 0:
		return fmt.Errorf("geom: invalid viewport %dx%d", m.ViewportWidth, m.ViewportHeight)
	case m.ScrollWidth <= 0 || m.ScrollHeight <= 0:
		return fmt.Errorf("geom: invalid document extent %dx%d", m.ScrollWidth, m.ScrollHeight)
	case m.DevicePixelRatio <= 0:
		return fmt.Errorf("geom: invalid device pixel ratio %g", m.DevicePixelRatio)
	case m.ScrollX < 0 || m.ScrollY < 0:
		return fmt.Errorf("geom: negative scroll offset %d,%d", m.ScrollX, m.ScrollY)
	}
	return nil
}

// Bounds returns the full document rectangle at origin.
func (m Metrics) Bounds() Rect {
	return Rect{W: m.ScrollWidth, H: m.ScrollHeight}
}

// Viewport returns the currently visible document rectangle.
func (m Metrics) Viewport() Rect {
	return Rect{X: m.ScrollX, Y: m.ScrollY, W: m.ViewportWidth, H: m.ViewportHeight}
}

// MaxScrollY returns the largest vertical scroll offset the page
// accepts. Scrolling further is clamped by the browser.
func (m Metrics) MaxScrollY() int {
	return max(0, m.ScrollHeight-m.ViewportHeight)
}

// FitWithin returns the uniform scale factor that brings w×h inside
// maxDim on both axes. The factor is 1 when no downscale is needed
// and never greater than 1: oversized output is shrunk, not cropped.
func FitWithin(w, h, maxDim int) float64 {
	if maxDim <= 0 || (w <= maxDim && h <= maxDim) {
		return 1
	}
	f := float64(maxDim) / float64(w)
	if fh := float64(maxDim) / float64(h); fh < f {
		f = fh
	}
	return f
}

// ScaleSize applies a uniform factor to a size, rounding and keeping
// both dimensions at least 1.
func ScaleSize(w, h int, f float64) (int, int) {
	sw := int(math.Round(float64(w) * f))
	sh := int(math.Round(float64(h) * f))
	return max(1, sw), max(1, sh)
}
