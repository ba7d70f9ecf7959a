// Package mask hides fixed and sticky page chrome during scrolled
// capture and restores it afterwards. Without masking, a sticky
// header rasterizes again in every segment and repeats down the
// stitched image.
//
// The DOM side lives behind an interface so the engine runs against
// a real browser or a fake. Restoration is the contract that
// matters: every applied mask is restored on every exit path, and
// elements the page removed mid-capture are skipped without error.
package mask

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// ErrDetached is used by DOM implementations, bare or wrapped, for
// elements that left the document between masking and restoration.
var ErrDetached = errors.New("mask: element detached")

// ElementRef is an opaque handle to a DOM element, issued by the DOM
// implementation. Refs stay valid for the lifetime of one capture.
type ElementRef string

// Snapshot records the inline-style state needed to restore one
// element: the visibility value and whether the inline property was
// present at all.
type Snapshot struct {
	Visibility string
	HadInline  bool
}

// Record pairs a hidden element with the state that restores it.
type Record struct {
	Ref  ElementRef
	Prev Snapshot
}

// DOM is the minimal view of the page the masker needs.
type DOM interface {
	// FindFixed returns the fixed- and sticky-positioned elements
	// currently rendered.
	FindFixed(ctx context.Context) ([]ElementRef, error)

	// ReadStyle snapshots an element's inline visibility state.
	ReadStyle(ctx context.Context, ref ElementRef) (Snapshot, error)

	// Hide sets visibility:hidden as an inline style.
	Hide(ctx context.Context, ref ElementRef) error

	// Restore reinstates a snapshot, removing the inline property
	// when the snapshot says it was absent.
	Restore(ctx context.Context, ref ElementRef, prev Snapshot) error

	// Detached reports whether err means the element left the
	// document.
	Detached(err error) bool
}

// Masker applies and restores capture masks over a DOM.
type Masker struct {
	dom DOM
	log *slog.Logger
}

// New returns a Masker. A nil logger falls back to slog.Default().
func New(dom DOM, logger *slog.Logger) *Masker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Masker{dom: dom, log: logger}
}

// Apply hides every fixed and sticky element and returns one Record
// per hidden element. On a mid-sweep error the records hidden so far
// are returned together with the error, so the caller can still
// restore the partial set. Elements that detach during the sweep are
// skipped.
func (m *Masker) Apply(ctx context.Context) ([]Record, error) {
	refs, err := m.dom.FindFixed(ctx)
	if err != nil {
		return nil, fmt.Errorf("mask: find fixed elements: %w", err)
	}

	records := make([]Record, 0, len(refs))
	for _, ref := range refs {
		prev, err := m.dom.ReadStyle(ctx, ref)
		if err != nil {
			if m.dom.Detached(err) {
				continue
			}
			return records, fmt.Errorf("mask: read style %s: %w", ref, err)
		}
		if err := m.dom.Hide(ctx, ref); err != nil {
			if m.dom.Detached(err) {
				continue
			}
			return records, fmt.Errorf("mask: hide %s: %w", ref, err)
		}
		records = append(records, Record{Ref: ref, Prev: prev})
	}

	m.log.Debug("mask: applied", "elements", len(records))
	return records, nil
}

// Restore reinstates every record. Detached elements are skipped
// silently. Other per-element failures are logged and the sweep
// continues; the first such failure is returned after every record
// was attempted.
func (m *Masker) Restore(ctx context.Context, records []Record) error {
	var firstErr error
	restored, detached := 0, 0
	for _, rec := range records {
		err := m.dom.Restore(ctx, rec.Ref, rec.Prev)
		switch {
		case err == nil:
			restored++
		case m.dom.Detached(err):
			detached++
		default:
			m.log.Warn("mask: restore failed", "ref", string(rec.Ref), "error", err)
			if firstErr == nil {
				firstErr = fmt.Errorf("mask: restore %s: %w", rec.Ref, err)
			}
		}
	}

	m.log.Debug("mask: restored", "restored", restored, "detached", detached, "of", len(records))
	return firstErr
}
