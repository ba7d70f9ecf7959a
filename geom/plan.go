package geom

import "fmt"

// Segment is one slice of a capture plan. Top is the scroll target in
// CSS pixels. Height is the band of document the segment's frame
// covers. Overlap is how many pixels at the top of that band were
// already covered by the previous segment; the compositor skips them
// when drawing.
type Segment struct {
	Index   int
	Top     int
	Height  int
	Overlap int
}

// Bottom returns the exclusive bottom edge of the segment's band.
func (s Segment) Bottom() int { return s.Top + s.Height }

// Fresh returns the height of the band this segment contributes that
// no earlier segment covered.
func (s Segment) Fresh() int { return s.Height - s.Overlap }

// Plan is an ordered list of segments covering one vertical span of a
// document. Splitting is deterministic: the same span and viewport
// always produce the same plan.
type Plan struct {
	Top       int
	Bottom    int
	ViewportH int
	Segments  []Segment
}

// Height returns the total CSS-pixel height the plan covers.
func (p Plan) Height() int { return p.Bottom - p.Top }

// Truncate drops segments past n and pulls the plan's bottom edge up
// to match. Truncating to zero or more segments than exist is a no-op
// on the segment list.
func (p Plan) Truncate(n int) Plan {
	if n <= 0 || n >= len(p.Segments) {
		return p
	}
	out := p
	out.Segments = p.Segments[:n]
	out.Bottom = out.Segments[n-1].Bottom()
	return out
}

// SplitSpan splits the span [top, bottom) into segments of at most
// viewportH pixels. The first segment starts at top; each subsequent
// segment starts viewportH−overlap below the previous one; the final
// segment is pulled up so it ends exactly at bottom, growing its
// overlap as needed. A span no taller than the viewport yields a
// single segment.
func SplitSpan(top, bottom, viewportH, overlap int) (Plan, error) {
	switch {
	case viewportH <= 0:
		return Plan{}, fmt.Errorf("geom: viewport height %d", viewportH)
	case overlap < 0 || overlap >= viewportH:
		return Plan{}, fmt.Errorf("geom: overlap %d outside [0,%d)", overlap, viewportH)
	case bottom <= top:
		return Plan{}, fmt.Errorf("geom: empty span [%d,%d)", top, bottom)
	}

	plan := Plan{Top: top, Bottom: bottom, ViewportH: viewportH}
	span := bottom - top
	if span <= viewportH {
		plan.Segments = []Segment{{Top: top, Height: span}}
		return plan, nil
	}

	step := viewportH - overlap
	prevTop := 0
	for t := top; ; t += step {
		last := false
		if t+viewportH >= bottom {
			// Pull the final segment up so its frame ends at bottom.
			t = bottom - viewportH
			last = true
		}
		seg := Segment{Index: len(plan.Segments), Top: t, Height: viewportH}
		if seg.Index > 0 {
			seg.Overlap = max(0, prevTop+viewportH-t)
		}
		plan.Segments = append(plan.Segments, seg)
		prevTop = t
		if last {
			return plan, nil
		}
	}
}
