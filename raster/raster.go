// Package raster defines the boundary between the capture engine and
// whatever is privileged enough to rasterize pixels: a headless
// browser over CDP in this repo, a fake in tests. The engine never
// draws pixels itself; it requests a frame of the current viewport
// and gets encoded bytes back.
package raster

import "context"

// Image is one frame delivered by a Transport: encoded pixels plus
// the geometry they were rendered at.
type Image struct {
	Data   []byte  // PNG-encoded pixels
	Width  int     // device px
	Height int     // device px
	Scale  float64 // device pixel ratio the frame was rendered at
}

// Transport is implemented by the rasterizer host. It captures
// exactly the current visible viewport; it has no notion of scroll
// position, so callers scroll first and rasterize after. Calls honor
// their context deadline. Callers keep at most one request in flight
// per page.
type Transport interface {
	CaptureViewport(ctx context.Context) (Image, error)
}
