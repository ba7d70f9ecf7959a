package browser

import (
	"bytes"
	"context"
	"fmt"
	"image/png"

	"github.com/go-rod/rod/lib/proto"

	"github.com/pagesnap/pagesnap/geom"
	"github.com/pagesnap/pagesnap/raster"
)

// Measure reads the live page geometry in one round trip. The capture
// loop calls this after every scroll, so it never caches.
func (t *Tab) Measure(ctx context.Context) (geom.Metrics, error) {
	res, err := t.page.Context(ctx).Eval(`() => {
		const d = document.documentElement;
		const b = document.body;
		return {
			sw: Math.max(d.scrollWidth, b ? b.scrollWidth : 0),
			sh: Math.max(d.scrollHeight, b ? b.scrollHeight : 0),
			vw: window.innerWidth,
			vh: window.innerHeight,
			sx: Math.round(window.scrollX),
			sy: Math.round(window.scrollY),
			dpr: window.devicePixelRatio,
		};
	}`)
	if err != nil {
		return geom.Metrics{}, fmt.Errorf("browser: measure: %w", err)
	}

	m := geom.Metrics{
		ScrollWidth:      res.Value.Get("sw").Int(),
		ScrollHeight:     res.Value.Get("sh").Int(),
		ViewportWidth:    res.Value.Get("vw").Int(),
		ViewportHeight:   res.Value.Get("vh").Int(),
		ScrollX:          res.Value.Get("sx").Int(),
		ScrollY:          res.Value.Get("sy").Int(),
		DevicePixelRatio: res.Value.Get("dpr").Num(),
	}
	t.dpr = m.DevicePixelRatio
	return m, nil
}

// ScrollTo moves the viewport to page coordinates (x, y). The browser
// clamps out-of-range targets; the capture loop reads the landing
// position back through Measure rather than trusting the request.
func (t *Tab) ScrollTo(ctx context.Context, x, y int) error {
	_, err := t.page.Context(ctx).Eval(`(x, y) => { window.scrollTo(x, y); }`, x, y)
	if err != nil {
		return fmt.Errorf("browser: scroll to %d,%d: %w", x, y, err)
	}
	return nil
}

// CaptureViewport rasterizes the current visible viewport as PNG via
// CDP. FromSurface keeps the compositor output, which includes CSS
// transforms the layout tree does not.
func (t *Tab) CaptureViewport(ctx context.Context) (raster.Image, error) {
	const op = "capture viewport"

	if t.page == nil {
		return raster.Image{}, &raster.Error{Code: raster.CodeUnavailable, Op: op}
	}

	data, err := t.page.Context(ctx).Screenshot(false, &proto.PageCaptureScreenshot{
		Format:      proto.PageCaptureScreenshotFormatPng,
		FromSurface: true,
	})
	if err != nil {
		return raster.Image{}, raster.Wrap(op, raster.CodeUnknown, err)
	}

	cfg, err := png.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return raster.Image{}, raster.Wrap(op, raster.CodeUnknown, fmt.Errorf("decode frame header: %w", err))
	}

	scale := t.dpr
	if scale == 0 {
		scale = 1
	}
	return raster.Image{
		Data:   data,
		Width:  cfg.Width,
		Height: cfg.Height,
		Scale:  scale,
	}, nil
}
