package capture

import (
	"log/slog"
	"time"

	"github.com/pagesnap/pagesnap/encode"
)

// Config tunes a capture session. The zero value is usable; defaults
// are applied when the Controller is built.
type Config struct {
	// Overlap is the margin in CSS pixels by which consecutive
	// segments overlap. It exists to absorb subpixel rounding at
	// segment seams, not to survive layout shift, so it stays small.
	Overlap int

	// SettleDelay is how long the loop waits after each scroll for
	// paint, reflow and lazy-loading to catch up before rasterizing.
	// A fixed wait keeps segment timing deterministic.
	SettleDelay time.Duration

	// SegmentTimeout bounds each raster request. One request past
	// this bound fails the session; a missing band in the middle of
	// a page is worse than no result.
	SegmentTimeout time.Duration

	// TotalTimeout bounds the whole session. Running past it stops
	// the loop early and composes what was captured, marked
	// truncated.
	TotalTimeout time.Duration

	// MaxSegments caps how many viewport frames one session may
	// rasterize. Plans past the cap are truncated.
	MaxSegments int

	// MaxLogicalHeight caps the captured document height in CSS
	// pixels. Taller pages are captured from the top down to the cap
	// and marked truncated.
	MaxLogicalHeight int

	// MaxOutputDimension caps either output axis in device pixels.
	// Oversized output is downscaled proportionally, never cropped.
	MaxOutputDimension int

	// MaxOutputBytes is the encoded-size budget. PNG is tried first,
	// then the JPEG ladder.
	MaxOutputBytes int

	// JPEGQualities is the descending quality ladder used when PNG
	// misses the byte budget.
	JPEGQualities []int

	// AllowPartialOnFinalTimeout keeps the session alive when the
	// final segment's raster request times out and earlier segments
	// already exist: the partial stack is composed and marked
	// truncated. Off by default; a timeout anywhere else always
	// fails the session.
	AllowPartialOnFinalTimeout bool

	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.Overlap <= 0 {
		c.Overlap = 24
	}
	if c.SettleDelay <= 0 {
		c.SettleDelay = 350 * time.Millisecond
	}
	if c.SegmentTimeout <= 0 {
		c.SegmentTimeout = 10 * time.Second
	}
	if c.TotalTimeout <= 0 {
		c.TotalTimeout = 90 * time.Second
	}
	if c.MaxSegments <= 0 {
		c.MaxSegments = 20
	}
	if c.MaxLogicalHeight <= 0 {
		c.MaxLogicalHeight = 16000
	}
	if c.MaxOutputDimension <= 0 {
		c.MaxOutputDimension = 8192
	}
	if c.MaxOutputBytes <= 0 {
		c.MaxOutputBytes = 8 << 20
	}
	if len(c.JPEGQualities) == 0 {
		c.JPEGQualities = encode.DefaultQualities
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}
