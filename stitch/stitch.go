// Package stitch composes captured frames into a single image. Full
// page captures arrive as a stack of viewport frames described by a
// segment plan; area and embed captures arrive as one frame to crop.
//
// The canvas is sized in device pixels from the first frame's scale.
// Each frame contributes only its fresh band: rows the previous
// segment already drew are skipped, so overlapping segments never
// double-draw. Output larger than the dimension cap is downscaled
// proportionally, never cropped.
package stitch

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/png"
	"log/slog"

	xdraw "golang.org/x/image/draw"

	"github.com/pagesnap/pagesnap/geom"
	"github.com/pagesnap/pagesnap/raster"
)

var (
	// ErrNoFrames is returned when Compose is given nothing to draw.
	ErrNoFrames = errors.New("stitch: no frames")

	// ErrFrameMismatch is returned when frames disagree with the plan
	// or with each other, which means the layout shifted mid-capture.
	ErrFrameMismatch = errors.New("stitch: frame mismatch")
)

// Compositor draws frames onto a canvas. The zero value composes at
// full resolution with no dimension cap.
type Compositor struct {
	// MaxDimension caps either canvas axis in device pixels. Output
	// exceeding it is downscaled uniformly. Zero disables the cap.
	MaxDimension int

	Logger *slog.Logger
}

func (c *Compositor) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

// Compose stitches one frame per plan segment into a single image.
// It is a pure function of its inputs: composing the same frames and
// plan twice yields identical pixels.
func (c *Compositor) Compose(frames []raster.Image, plan geom.Plan) (image.Image, error) {
	if len(frames) == 0 {
		return nil, ErrNoFrames
	}
	if len(frames) != len(plan.Segments) {
		return nil, fmt.Errorf("%w: %d frames for %d segments", ErrFrameMismatch, len(frames), len(plan.Segments))
	}

	scale := frames[0].Scale
	if scale <= 0 {
		return nil, fmt.Errorf("%w: frame 0 has scale %g", ErrFrameMismatch, scale)
	}

	canvasW := frames[0].Width
	canvasH := (geom.Rect{Y: plan.Top, H: plan.Height()}).Scale(scale).H
	if canvasW <= 0 || canvasH <= 0 {
		return nil, fmt.Errorf("%w: empty canvas %dx%d", ErrFrameMismatch, canvasW, canvasH)
	}

	canvas := image.NewRGBA(image.Rect(0, 0, canvasW, canvasH))
	scaleWarned := false

	for i, frame := range frames {
		seg := plan.Segments[i]

		if frame.Scale != scale && !scaleWarned {
			c.logger().Warn("stitch: device pixel ratio changed mid-capture",
				"segment", i, "first", scale, "got", frame.Scale)
			scaleWarned = true
		}
		if frame.Width != canvasW {
			return nil, fmt.Errorf("%w: frame %d is %dpx wide, canvas %dpx", ErrFrameMismatch, i, frame.Width, canvasW)
		}

		src, err := png.Decode(bytes.NewReader(frame.Data))
		if err != nil {
			return nil, fmt.Errorf("stitch: decode frame %d: %w", i, err)
		}

		// Fresh band only: skip the rows the previous segment drew.
		srcY0 := (geom.Rect{H: seg.Overlap}).Scale(scale).H
		dstY0 := (geom.Rect{Y: plan.Top, H: seg.Top + seg.Overlap - plan.Top}).Scale(scale).H
		srcY1 := src.Bounds().Dy()
		if over := dstY0 + (srcY1 - srcY0) - canvasH; over > 0 {
			srcY1 -= over
		}
		if srcY1 <= srcY0 {
			continue
		}

		sr := image.Rect(src.Bounds().Min.X, src.Bounds().Min.Y+srcY0, src.Bounds().Min.X+canvasW, src.Bounds().Min.Y+srcY1)
		xdraw.Copy(canvas, image.Pt(0, dstY0), src, sr, xdraw.Src, nil)
	}

	return c.fit(canvas)
}

// Crop cuts a device-pixel rect out of a single frame, clamping the
// rect to the frame bounds. Area and embed captures come through
// here. An empty rect after clamping is an error.
func (c *Compositor) Crop(frame raster.Image, r geom.Rect) (image.Image, error) {
	src, err := png.Decode(bytes.NewReader(frame.Data))
	if err != nil {
		return nil, fmt.Errorf("stitch: decode frame: %w", err)
	}

	bounds := geom.Rect{W: src.Bounds().Dx(), H: src.Bounds().Dy()}
	r = r.Clamp(bounds)
	if r.Empty() {
		return nil, fmt.Errorf("%w: crop %v is outside the frame %v", ErrFrameMismatch, r, bounds)
	}

	out := image.NewRGBA(image.Rect(0, 0, r.W, r.H))
	sr := image.Rect(src.Bounds().Min.X+r.X, src.Bounds().Min.Y+r.Y, src.Bounds().Min.X+r.Right(), src.Bounds().Min.Y+r.Bottom())
	xdraw.Copy(out, image.Point{}, src, sr, xdraw.Src, nil)
	return c.fit(out)
}

// fit downscales img uniformly when it exceeds MaxDimension.
func (c *Compositor) fit(img *image.RGBA) (image.Image, error) {
	w, h := img.Bounds().Dx(), img.Bounds().Dy()
	f := geom.FitWithin(w, h, c.MaxDimension)
	if f >= 1 {
		return img, nil
	}

	sw, sh := geom.ScaleSize(w, h, f)
	c.logger().Info("stitch: downscaling oversized output",
		"from_w", w, "from_h", h, "to_w", sw, "to_h", sh)

	out := image.NewRGBA(image.Rect(0, 0, sw, sh))
	xdraw.CatmullRom.Scale(out, out.Bounds(), img, img.Bounds(), xdraw.Src, nil)
	return out, nil
}
