package capture

import (
	"errors"
	"fmt"
	"time"
)

// Every failure below is terminal for its session. The engine never
// retries: a denied or timed-out capture is surfaced to the caller,
// and retry policy, if any, lives above the engine.
var (
	// ErrBusy is returned by Start while another session owns the
	// page. Scroll position and mask state cannot be shared.
	ErrBusy = errors.New("capture: a session is already running")

	// ErrCanceled is the terminal error of a canceled session.
	ErrCanceled = errors.New("capture: session canceled")
)

// MeasurementError means the page could not be measured or prepared:
// geometry was unreadable, masking failed, or the document changed
// out from under the session before anything was captured.
type MeasurementError struct {
	Err error
}

func (e *MeasurementError) Error() string {
	return fmt.Sprintf("capture: measurement failed: %v", e.Err)
}

func (e *MeasurementError) Unwrap() error { return e.Err }

// DeniedError means the privileged rasterizer refused the capture
// (permission or quota).
type DeniedError struct {
	Err error
}

func (e *DeniedError) Error() string {
	return fmt.Sprintf("capture: capture denied: %v", e.Err)
}

func (e *DeniedError) Unwrap() error { return e.Err }

// SegmentTimeoutError means one raster request exceeded its bound.
type SegmentTimeoutError struct {
	Segment int
	Err     error
}

func (e *SegmentTimeoutError) Error() string {
	return fmt.Sprintf("capture: segment %d timed out: %v", e.Segment, e.Err)
}

func (e *SegmentTimeoutError) Unwrap() error { return e.Err }

// TotalTimeoutError means the session budget expired before anything
// was captured. When the budget expires with frames already in hand,
// the session instead truncates gracefully and succeeds.
type TotalTimeoutError struct {
	Budget time.Duration
}

func (e *TotalTimeoutError) Error() string {
	return fmt.Sprintf("capture: total budget %s exceeded", e.Budget)
}

// CompositionError means stitching or cropping the captured frames
// failed. No partial output survives it.
type CompositionError struct {
	Err error
}

func (e *CompositionError) Error() string {
	return fmt.Sprintf("capture: composition failed: %v", e.Err)
}

func (e *CompositionError) Unwrap() error { return e.Err }
