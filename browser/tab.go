package browser

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
)

// Tab wraps a Rod page prepared for capture: stealth, resource
// blocking, navigation. It implements the capture engine's Pager,
// Transport and DOM interfaces, so one Tab is everything a capture
// session needs.
type Tab struct {
	page     *rod.Page
	pageURL  string
	mgr      *Manager
	log      *slog.Logger
	dpr      float64
	released bool
}

// Open creates a tab, navigates to the URL and waits for the load
// event. The tab holds a browser lease until Close, which keeps the
// manager from recycling Chrome mid-capture.
func Open(ctx context.Context, mgr *Manager, pageURL string) (*Tab, error) {
	b := mgr.Browser()
	if b == nil {
		return nil, fmt.Errorf("browser: no active browser")
	}

	var page *rod.Page
	var err error

	if mgr.cfg.Stealth {
		page, err = stealth.Page(b)
	} else {
		page, err = b.Page(proto.TargetCreateTarget{URL: ""})
	}
	if err != nil {
		return nil, fmt.Errorf("browser: create tab: %w", err)
	}

	if len(mgr.cfg.ResourceBlocking) > 0 {
		if err := applyResourceBlocking(page, mgr.cfg.ResourceBlocking); err != nil {
			mgr.cfg.Logger.Warn("browser: resource blocking failed", "error", err)
		}
	}

	navCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := page.Context(navCtx).Navigate(pageURL); err != nil {
		page.Close()
		return nil, fmt.Errorf("browser: navigate %s: %w", pageURL, err)
	}

	if err := page.Context(navCtx).WaitLoad(); err != nil {
		mgr.cfg.Logger.Warn("browser: wait load timeout", "url", pageURL, "error", err)
	}

	mgr.acquire()
	return &Tab{
		page:    page,
		pageURL: pageURL,
		mgr:     mgr,
		log:     mgr.cfg.Logger,
	}, nil
}

// URL returns the address the tab was opened on.
func (t *Tab) URL() string { return t.pageURL }

// HTML serialises the complete DOM as outer HTML. Run AnnotateEmbeds
// first when the HTML feeds embed detection with geometry.
func (t *Tab) HTML(ctx context.Context) ([]byte, error) {
	res, err := t.page.Context(ctx).Eval(`() => document.documentElement.outerHTML`)
	if err != nil {
		return nil, fmt.Errorf("browser: get DOM: %w", err)
	}
	return []byte(res.Value.Str()), nil
}

// Close closes the tab and releases the browser lease.
func (t *Tab) Close() error {
	if !t.released {
		t.released = true
		t.mgr.release()
	}
	if t.page != nil {
		return t.page.Close()
	}
	return nil
}
