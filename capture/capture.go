// Package capture runs segmented page captures: full-page screenshots
// taller than one viewport, user-selected areas, and single embedded
// elements. A session measures the page, masks fixed and sticky
// chrome, walks the scroll positions a segment plan dictates,
// rasterizes one viewport frame per segment through a privileged
// transport, stitches the frames, and encodes the result under a byte
// budget. Masked chrome and the original scroll position are restored
// on every exit path, including cancellation and failure.
//
// Usage:
//
//	ctrl := capture.NewController(page, transport, dom, capture.Config{})
//	sess, err := ctrl.Start(ctx, capture.FullPageRequest{})
//	if err != nil {
//		return err
//	}
//	events, unsub := sess.Subscribe()
//	defer unsub()
//	go func() {
//		for ev := range events {
//			fmt.Printf("%s %d/%d\n", ev.Phase, ev.SegmentsDone, ev.SegmentsTotal)
//		}
//	}()
//	res, err := sess.Wait(ctx)
//
// One session owns the page at a time: scroll position and mask state
// are shared mutable resources, so Start rejects overlap with ErrBusy.
package capture

import (
	"context"

	"github.com/pagesnap/pagesnap/geom"
)

// Pager is the read-write view of the page the loop needs between
// captures: geometry out, scroll position in. Measurements go stale
// the moment the page lazy-loads, so the loop re-measures after every
// scroll instead of trusting a snapshot.
type Pager interface {
	Measure(ctx context.Context) (geom.Metrics, error)
	ScrollTo(ctx context.Context, x, y int) error
}

// Request selects what one session captures.
type Request interface {
	// Mode names the capture kind for logs and stored history.
	Mode() string
}

// FullPageRequest captures the whole document, top to bottom.
type FullPageRequest struct{}

func (FullPageRequest) Mode() string { return "full_page" }

// AreaRequest captures one rectangle in page coordinates (CSS px).
// Rectangles hanging past a document edge are clamped, not rejected.
type AreaRequest struct {
	Rect geom.Rect
}

func (AreaRequest) Mode() string { return "area" }

// EmbedRequest captures the bounding rectangle of one embedded
// element (a player, chart or social post the detector found). Kind
// is recorded alongside the result.
type EmbedRequest struct {
	Rect geom.Rect
	Kind string
}

func (EmbedRequest) Mode() string { return "embed" }
