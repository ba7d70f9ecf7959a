package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/pagesnap/pagesnap/browser"
	"github.com/pagesnap/pagesnap/capq"
	"github.com/pagesnap/pagesnap/capture"
	"github.com/pagesnap/pagesnap/detect"
	"github.com/pagesnap/pagesnap/geom"
	"github.com/pagesnap/pagesnap/history"
	"github.com/pagesnap/pagesnap/notify"
	"github.com/pagesnap/pagesnap/observability"
)

// jobPayload is the queue message for one capture job.
type jobPayload struct {
	CaptureID string    `json:"capture_id"`
	URL       string    `json:"url"`
	Mode      string    `json:"mode"` // full_page | area | embed
	Rect      *rectSpec `json:"rect,omitempty"`
	Kind      string    `json:"kind,omitempty"`
}

type rectSpec struct {
	X int `json:"x"`
	Y int `json:"y"`
	W int `json:"w"`
	H int `json:"h"`
}

func (r *rectSpec) rect() geom.Rect {
	return geom.Rect{X: r.X, Y: r.Y, W: r.W, H: r.H}
}

// worker drains the capture queue: one job at a time, one tab per job,
// results into history, webhooks on terminal states. The capture
// config is swapped atomically by the settings watcher; each job reads
// it once at start.
type worker struct {
	store       *history.Store
	queue       *capq.Q
	mgr         *browser.Manager
	notifier    *notify.Notifier
	events      *observability.EventLogger
	visibility  time.Duration
	maxAttempts int
	log         *slog.Logger

	mu  sync.RWMutex
	cfg capture.Config
}

func (w *worker) captureConfig() capture.Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.cfg
}

// reloadSettings overlays the stored settings onto engine defaults.
// Called at startup and from the settings watcher.
func (w *worker) reloadSettings(ctx context.Context) error {
	st, err := w.store.LoadSettings(ctx)
	if err != nil {
		return fmt.Errorf("worker: load settings: %w", err)
	}
	cfg := st.Apply(capture.Config{Logger: w.log})

	w.mu.Lock()
	w.cfg = cfg
	w.mu.Unlock()

	w.log.Info("worker: capture settings loaded",
		"overlap", cfg.Overlap, "max_segments", cfg.MaxSegments)
	return nil
}

// handle runs one claimed job to a terminal state. It returns an error
// only for failures worth redelivering (browser not available); a
// capture that ran and failed is recorded and acked.
func (w *worker) handle(ctx context.Context, job *capq.Job) error {
	var p jobPayload
	if err := json.Unmarshal(job.Payload, &p); err != nil {
		w.log.Error("worker: bad job payload", "job", job.ID, "error", err)
		return nil
	}
	log := w.log.With("capture", p.CaptureID, "mode", p.Mode)

	// Long captures extend their claim so the queue never redelivers a
	// job that is still scrolling.
	extendCtx, stopExtend := context.WithCancel(ctx)
	defer stopExtend()
	go w.extendLoop(extendCtx, job.ID)

	if err := w.store.MarkRunning(ctx, p.CaptureID); err != nil {
		log.Error("worker: mark running", "error", err)
	}

	tab, err := browser.Open(ctx, w.mgr, p.URL)
	if err != nil {
		log.Warn("worker: open tab", "attempt", job.Attempts, "error", err)
		w.appendEvent(ctx, p.CaptureID, "retrying", 0, 0, err.Error())
		if job.Attempts >= w.maxAttempts {
			w.finishFailed(ctx, &p, history.StateFailed, err, 0, 0)
			return fmt.Errorf("worker: open tab: %w", err)
		}
		return fmt.Errorf("worker: open tab: %w", err)
	}
	defer tab.Close()

	req, err := buildRequest(&p)
	if err != nil {
		w.finishFailed(ctx, &p, history.StateFailed, err, 0, 0)
		return nil
	}

	ctrl := capture.NewController(tab, tab, tab, w.captureConfig())
	sess, err := ctrl.Start(ctx, req)
	if err != nil {
		w.finishFailed(ctx, &p, history.StateFailed, err, 0, 0)
		return nil
	}

	unsub := sess.OnProgress(func(ev capture.Event) {
		w.appendEvent(ctx, p.CaptureID, string(ev.Phase), ev.SegmentsDone, ev.SegmentsTotal, "")
	})
	defer unsub()

	res, err := sess.Wait(ctx)
	switch {
	case err == nil:
		w.finishDone(ctx, &p, res)
	case errors.Is(err, capture.ErrCanceled):
		w.finishFailed(ctx, &p, history.StateCanceled, err, res.Segments, res.Elapsed)
	default:
		w.finishFailed(ctx, &p, history.StateFailed, err, res.Segments, res.Elapsed)
	}
	return nil
}

func (w *worker) extendLoop(ctx context.Context, jobID string) {
	interval := w.visibility / 2
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.queue.Extend(ctx, jobID, w.visibility); err != nil {
				w.log.Warn("worker: extend claim", "job", jobID, "error", err)
			}
		}
	}
}

func (w *worker) finishDone(ctx context.Context, p *jobPayload, res capture.Result) {
	if err := w.store.FinishCapture(ctx, p.CaptureID, res.Image, res.MIME,
		res.Width, res.Height, res.Segments, res.Truncated, res.Elapsed); err != nil {
		w.log.Error("worker: finish capture", "capture", p.CaptureID, "error", err)
	}
	w.events.LogEvent(ctx, observability.BusinessEvent{
		EventType:   "capture_done",
		ServiceName: "pagesnap",
		EntityType:  "capture",
		EntityID:    p.CaptureID,
		Action:      p.Mode,
		Success:     true,
	})
	w.notifier.Notify(ctx, notify.Payload{
		CaptureID:  p.CaptureID,
		URL:        p.URL,
		Mode:       p.Mode,
		State:      history.StateDone,
		MIME:       res.MIME,
		Width:      res.Width,
		Height:     res.Height,
		Truncated:  res.Truncated,
		Segments:   res.Segments,
		Bytes:      len(res.Image),
		DurationMs: res.Elapsed.Milliseconds(),
	})
}

func (w *worker) finishFailed(ctx context.Context, p *jobPayload, state string, cause error, segments int, elapsed time.Duration) {
	if err := w.store.FailCapture(ctx, p.CaptureID, state, cause.Error(), elapsed); err != nil {
		w.log.Error("worker: fail capture", "capture", p.CaptureID, "error", err)
	}
	w.events.LogEvent(ctx, observability.BusinessEvent{
		EventType:   "capture_" + state,
		ServiceName: "pagesnap",
		EntityType:  "capture",
		EntityID:    p.CaptureID,
		Action:      p.Mode,
		Details:     cause.Error(),
		Success:     false,
	})
	w.notifier.Notify(ctx, notify.Payload{
		CaptureID:  p.CaptureID,
		URL:        p.URL,
		Mode:       p.Mode,
		State:      state,
		Segments:   segments,
		Error:      cause.Error(),
		DurationMs: elapsed.Milliseconds(),
	})
}

func (w *worker) appendEvent(ctx context.Context, captureID, state string, segment, total int, detail string) {
	err := w.store.AppendEvent(ctx, history.Event{
		CaptureID: captureID,
		State:     state,
		Segment:   segment,
		Total:     total,
		Detail:    detail,
	})
	if err != nil {
		w.log.Warn("worker: append event", "capture", captureID, "error", err)
	}
}

func buildRequest(p *jobPayload) (capture.Request, error) {
	switch p.Mode {
	case "full_page":
		return capture.FullPageRequest{}, nil
	case "area":
		if p.Rect == nil {
			return nil, fmt.Errorf("worker: area capture without rect")
		}
		return capture.AreaRequest{Rect: p.Rect.rect()}, nil
	case "embed":
		if p.Rect == nil {
			return nil, fmt.Errorf("worker: embed capture without rect")
		}
		return capture.EmbedRequest{Rect: p.Rect.rect(), Kind: p.Kind}, nil
	default:
		return nil, fmt.Errorf("worker: unknown mode %q", p.Mode)
	}
}

// detectEmbeds opens a throwaway tab, annotates embeddable elements
// with their geometry, and parses the serialised HTML.
func detectEmbeds(ctx context.Context, mgr *browser.Manager, pageURL string) ([]detect.Candidate, error) {
	tab, err := browser.Open(ctx, mgr, pageURL)
	if err != nil {
		return nil, err
	}
	defer tab.Close()

	if _, err := tab.AnnotateEmbeds(ctx); err != nil {
		return nil, err
	}
	html, err := tab.HTML(ctx)
	if err != nil {
		return nil, err
	}
	return detect.Detect(bytes.NewReader(html))
}
