// Package encode turns a composed image into the final capture
// bytes. Lossless PNG is tried first; when it misses the byte
// budget, a descending JPEG quality ladder runs until something
// fits. When nothing fits, the caller still gets the smallest
// attempt inside the error, so "too big" never means "lost".
package encode

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"log/slog"

	"github.com/dustin/go-humanize"
)

// MIME types the encoder produces.
const (
	MIMEPNG  = "image/png"
	MIMEJPEG = "image/jpeg"
)

// DefaultQualities is the JPEG ladder used when none is configured.
var DefaultQualities = []int{85, 70, 55, 40}

// Options configure one encode pass.
type Options struct {
	// MaxBytes is the output budget. Zero means unlimited, which
	// always yields PNG.
	MaxBytes int

	// Qualities is the JPEG ladder, tried in order after PNG misses
	// the budget. First fit wins.
	Qualities []int

	Logger *slog.Logger
}

func (o *Options) defaults() {
	if len(o.Qualities) == 0 {
		o.Qualities = DefaultQualities
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Result is an encoded capture.
type Result struct {
	Data    []byte
	MIME    string
	Quality int // JPEG quality used, 0 for PNG
}

// OverLimitError reports that every encoding attempt exceeded the
// budget. Best is the smallest attempt; callers may keep it.
type OverLimitError struct {
	Limit int
	Best  Result
}

func (e *OverLimitError) Error() string {
	return fmt.Sprintf("encode: smallest encoding %s exceeds %s limit",
		humanize.Bytes(uint64(len(e.Best.Data))), humanize.Bytes(uint64(e.Limit)))
}

// Encode produces the final bytes for img under opts. The work is
// bounded: one PNG pass plus at most one JPEG pass per ladder step.
func Encode(img image.Image, opts Options) (Result, error) {
	opts.defaults()

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return Result{}, fmt.Errorf("encode: png: %w", err)
	}
	best := Result{Data: buf.Bytes(), MIME: MIMEPNG}
	if opts.MaxBytes <= 0 || len(best.Data) <= opts.MaxBytes {
		return best, nil
	}

	opts.Logger.Debug("encode: png over budget, walking jpeg ladder",
		"png", humanize.Bytes(uint64(len(best.Data))),
		"limit", humanize.Bytes(uint64(opts.MaxBytes)))

	for _, q := range opts.Qualities {
		var jb bytes.Buffer
		if err := jpeg.Encode(&jb, img, &jpeg.Options{Quality: q}); err != nil {
			return Result{}, fmt.Errorf("encode: jpeg q%d: %w", q, err)
		}
		attempt := Result{Data: jb.Bytes(), MIME: MIMEJPEG, Quality: q}
		if len(attempt.Data) <= opts.MaxBytes {
			return attempt, nil
		}
		if len(attempt.Data) < len(best.Data) {
			best = attempt
		}
	}

	return Result{}, &OverLimitError{Limit: opts.MaxBytes, Best: best}
}
