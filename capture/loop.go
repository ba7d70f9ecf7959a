package capture

import (
	"context"
	"fmt"
	"image"
	"time"

	"github.com/pagesnap/pagesnap/encode"
	"github.com/pagesnap/pagesnap/geom"
	"github.com/pagesnap/pagesnap/raster"
	"github.com/pagesnap/pagesnap/stitch"
)

// run drives the session to its terminal state. It is the only
// goroutine that mutates the session's page.
func (s *Session) run(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.TotalTimeout)
	defer cancel()
	s.fin(s.execute(ctx))
}

func (s *Session) execute(ctx context.Context) Result {
	s.setState(StatePreparing, 0, 0)

	m, err := s.measure(ctx)
	if err != nil {
		return Result{Err: s.prepFailure(ctx, err, "measure")}
	}
	if err := m.Validate(); err != nil {
		return Result{Err: &MeasurementError{Err: err}}
	}

	// The page is borrowed. Whatever happens from here on, the
	// scroll position goes back where it was found; fullPage adds
	// its own restore for masked chrome, which runs first.
	originX, originY := m.ScrollX, m.ScrollY
	defer func() {
		rctx, rcancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.SegmentTimeout)
		defer rcancel()
		if err := s.page.ScrollTo(rctx, originX, originY); err != nil {
			s.log.Debug("capture: scroll restore failed", "session", s.id, "error", err)
		}
	}()

	switch req := s.req.(type) {
	case FullPageRequest:
		return s.fullPage(ctx, m)
	case AreaRequest:
		return s.cropCapture(ctx, m, req.Rect)
	case EmbedRequest:
		return s.cropCapture(ctx, m, req.Rect)
	default:
		return Result{Err: fmt.Errorf("capture: unsupported request %T", s.req)}
	}
}

// fullPage walks the document top to bottom, one viewport frame per
// planned segment, then stitches.
func (s *Session) fullPage(ctx context.Context, m geom.Metrics) Result {
	if s.canceled.Load() {
		return Result{Err: ErrCanceled}
	}

	// Mask fixed and sticky chrome once, before the loop. Remasking
	// per segment would race paint timing. The restore runs on every
	// exit path; a partial Apply still hands back the records it
	// managed to hide.
	records, err := s.masker.Apply(ctx)
	defer func() {
		rctx, rcancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.SegmentTimeout)
		defer rcancel()
		if rerr := s.masker.Restore(rctx, records); rerr != nil {
			s.log.Warn("capture: mask restore incomplete", "session", s.id, "error", rerr)
		}
	}()
	if err != nil {
		return Result{Err: s.prepFailure(ctx, err, "mask")}
	}

	span := m.ScrollHeight
	truncated := false
	if span > s.cfg.MaxLogicalHeight {
		span = s.cfg.MaxLogicalHeight
		truncated = true
	}

	overlap := min(s.cfg.Overlap, m.ViewportHeight/4)
	plan, err := geom.SplitSpan(0, span, m.ViewportHeight, overlap)
	if err != nil {
		return Result{Err: &MeasurementError{Err: err}}
	}
	if len(plan.Segments) > s.cfg.MaxSegments {
		plan = plan.Truncate(s.cfg.MaxSegments)
		truncated = true
	}

	s.setState(StateCapturing, 0, len(plan.Segments))
	s.log.Info("capture: full page", "session", s.id,
		"document_h", m.ScrollHeight, "viewport_h", m.ViewportHeight,
		"dpr", m.DevicePixelRatio, "segments", len(plan.Segments),
		"masked", len(records))

	frames := make([]raster.Image, 0, len(plan.Segments))

loop:
	for _, seg := range plan.Segments {
		// Cancellation is cooperative: checked at the top of every
		// iteration and after every blocking step below.
		if s.canceled.Load() {
			return Result{Err: ErrCanceled}
		}
		if ctx.Err() != nil {
			// Out of total budget. With frames in hand the session
			// truncates gracefully; with none it fails.
			if len(frames) == 0 {
				return Result{Err: &TotalTimeoutError{Budget: s.cfg.TotalTimeout}}
			}
			truncated = true
			break loop
		}

		if err := s.scrollAndSettle(ctx, 0, seg.Top); err != nil {
			term, grace := s.stepFailure(ctx, err, len(frames), "scroll")
			if !grace {
				return Result{Err: term}
			}
			truncated = true
			break loop
		}

		// Re-measure every iteration: lazy-loaded content moves the
		// goalposts in both directions.
		m2, err := s.measure(ctx)
		if err != nil {
			term, grace := s.stepFailure(ctx, err, len(frames), "measure")
			if !grace {
				return Result{Err: term}
			}
			truncated = true
			break loop
		}
		if m2.ScrollHeight < seg.Bottom() {
			if len(frames) == 0 {
				return Result{Err: &MeasurementError{
					Err: fmt.Errorf("document shrank to %dpx mid-capture", m2.ScrollHeight)}}
			}
			s.log.Warn("capture: document shrank, stopping early", "session", s.id,
				"segment", seg.Index, "document_h", m2.ScrollHeight)
			truncated = true
			break loop
		}

		frame, err := s.rasterize(ctx)
		if s.canceled.Load() {
			// Canceled while the request was in flight. The request
			// was allowed to settle; its frame is discarded.
			return Result{Err: ErrCanceled}
		}
		if err != nil {
			final := seg.Index == len(plan.Segments)-1
			if raster.IsTimeout(err) && final && s.cfg.AllowPartialOnFinalTimeout && len(frames) > 0 {
				s.log.Warn("capture: final segment timed out, keeping partial result",
					"session", s.id, "segment", seg.Index)
				truncated = true
				break loop
			}
			return Result{Err: rasterFailure(seg.Index, err)}
		}

		frames = append(frames, frame)
		s.progress(len(frames))
	}

	if s.canceled.Load() {
		return Result{Err: ErrCanceled}
	}
	plan = plan.Truncate(len(frames))
	return s.composeEncode(frames, plan, truncated)
}

// cropCapture is the degenerate one-segment path shared by area and
// embed requests: bring the target into view, rasterize once, crop.
func (s *Session) cropCapture(ctx context.Context, m geom.Metrics, target geom.Rect) Result {
	bounds := m.Bounds()
	clamped := target.Clamp(bounds)
	if clamped.Empty() {
		return Result{Err: &MeasurementError{
			Err: fmt.Errorf("target %v outside document %v", target, bounds)}}
	}
	if clamped != target {
		s.log.Debug("capture: target clamped to document", "session", s.id,
			"from", target.String(), "to", clamped.String())
	}

	s.setState(StateCapturing, 0, 1)

	if !m.Viewport().Contains(clamped) {
		x := min(clamped.X, max(0, m.ScrollWidth-m.ViewportWidth))
		y := min(clamped.Y, m.MaxScrollY())
		if err := s.scrollAndSettle(ctx, x, y); err != nil {
			return Result{Err: s.prepFailure(ctx, err, "scroll")}
		}
		m2, err := s.measure(ctx)
		if err != nil {
			return Result{Err: s.prepFailure(ctx, err, "measure")}
		}
		m = m2
	}

	frame, err := s.rasterize(ctx)
	if s.canceled.Load() {
		return Result{Err: ErrCanceled}
	}
	if err != nil {
		return Result{Err: rasterFailure(0, err)}
	}
	s.progress(1)
	s.setState(StateComposing, 1, 1)

	// Crop in device pixels relative to the viewport origin. The
	// compositor clamps partially offscreen targets to the frame
	// instead of erroring.
	rel := clamped.Translate(-m.ScrollX, -m.ScrollY)
	dev := rel.Scale(frame.Scale)
	comp := &stitch.Compositor{MaxDimension: s.cfg.MaxOutputDimension, Logger: s.log}
	img, err := comp.Crop(frame, dev)
	if err != nil {
		return Result{Err: &CompositionError{Err: err}}
	}
	return s.encodeImage(img, false, 1)
}

func (s *Session) composeEncode(frames []raster.Image, plan geom.Plan, truncated bool) Result {
	s.setState(StateComposing, len(frames), len(frames))

	comp := &stitch.Compositor{MaxDimension: s.cfg.MaxOutputDimension, Logger: s.log}
	img, err := comp.Compose(frames, plan)
	if err != nil {
		return Result{Err: &CompositionError{Err: err}}
	}
	return s.encodeImage(img, truncated, len(frames))
}

func (s *Session) encodeImage(img image.Image, truncated bool, segments int) Result {
	enc, err := encode.Encode(img, encode.Options{
		MaxBytes:  s.cfg.MaxOutputBytes,
		Qualities: s.cfg.JPEGQualities,
		Logger:    s.log,
	})
	b := img.Bounds()
	if err != nil {
		return Result{
			Err:       fmt.Errorf("capture: encode: %w", err),
			Width:     b.Dx(),
			Height:    b.Dy(),
			Truncated: truncated,
			Segments:  segments,
		}
	}
	return Result{
		Image:     enc.Data,
		MIME:      enc.MIME,
		Width:     b.Dx(),
		Height:    b.Dy(),
		Truncated: truncated,
		Segments:  segments,
	}
}

// scrollAndSettle moves the page and gives paint, reflow and lazy
// loading a fixed window to catch up. A timer, not a poll, so
// segment timing stays deterministic.
func (s *Session) scrollAndSettle(ctx context.Context, x, y int) error {
	sctx, cancel := context.WithTimeout(ctx, s.cfg.SegmentTimeout)
	err := s.page.ScrollTo(sctx, x, y)
	cancel()
	if err != nil {
		return err
	}
	select {
	case <-time.After(s.cfg.SettleDelay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Session) measure(ctx context.Context) (geom.Metrics, error) {
	mctx, cancel := context.WithTimeout(ctx, s.cfg.SegmentTimeout)
	defer cancel()
	return s.page.Measure(mctx)
}

// rasterize requests one viewport frame. The request runs detached
// from session cancellation so an in-flight capture settles instead
// of being torn down mid-transfer; the segment timeout still bounds
// it, which also bounds cancellation latency.
func (s *Session) rasterize(ctx context.Context) (raster.Image, error) {
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.SegmentTimeout)
	defer cancel()
	img, err := s.transport.CaptureViewport(rctx)
	if err != nil {
		return raster.Image{}, raster.Wrap("capture_viewport", raster.CodeUnknown, err)
	}
	return img, nil
}

// prepFailure classifies a failure from before any frame existed.
func (s *Session) prepFailure(ctx context.Context, err error, op string) error {
	switch {
	case s.canceled.Load():
		return ErrCanceled
	case ctx.Err() != nil:
		return &TotalTimeoutError{Budget: s.cfg.TotalTimeout}
	default:
		return &MeasurementError{Err: fmt.Errorf("%s: %w", op, err)}
	}
}

// stepFailure classifies a scroll or measure failure mid-loop. The
// second return is true when the session should truncate gracefully
// instead of failing: the total budget ran out with frames in hand.
func (s *Session) stepFailure(ctx context.Context, err error, frames int, op string) (error, bool) {
	switch {
	case s.canceled.Load():
		return ErrCanceled, false
	case ctx.Err() != nil:
		if frames > 0 {
			return nil, true
		}
		return &TotalTimeoutError{Budget: s.cfg.TotalTimeout}, false
	default:
		return &MeasurementError{Err: fmt.Errorf("%s: %w", op, err)}, false
	}
}

// rasterFailure maps a transport error to the session taxonomy.
func rasterFailure(segment int, err error) error {
	switch {
	case raster.IsDenied(err):
		return &DeniedError{Err: err}
	case raster.IsTimeout(err):
		return &SegmentTimeoutError{Segment: segment, Err: err}
	default:
		return fmt.Errorf("capture: segment %d rasterize: %w", segment, err)
	}
}
