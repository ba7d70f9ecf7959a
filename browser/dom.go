package browser

import (
	"context"
	"errors"
	"fmt"

	"github.com/pagesnap/pagesnap/mask"
)

// The masker addresses elements through tokens written into a data
// attribute, so refs survive across Eval round trips without holding
// CDP node handles that go stale on layout changes.
const maskAttr = "data-pagesnap-mask"

// FindFixed tags every fixed- and sticky-positioned element currently
// rendered and returns their tokens. Elements already tagged keep
// their token, so repeated sweeps are stable.
func (t *Tab) FindFixed(ctx context.Context) ([]mask.ElementRef, error) {
	res, err := t.page.Context(ctx).Eval(`(attr) => {
		const out = [];
		let seq = 0;
		for (const el of document.querySelectorAll('*')) {
			const pos = getComputedStyle(el).position;
			if (pos !== 'fixed' && pos !== 'sticky') continue;
			let token = el.getAttribute(attr);
			if (!token) {
				token = 'm' + (seq++) + '-' + Date.now().toString(36);
				el.setAttribute(attr, token);
			}
			out.push(token);
		}
		return out;
	}`, maskAttr)
	if err != nil {
		return nil, fmt.Errorf("browser: find fixed elements: %w", err)
	}

	arr := res.Value.Arr()
	refs := make([]mask.ElementRef, 0, len(arr))
	for _, v := range arr {
		refs = append(refs, mask.ElementRef(v.Str()))
	}
	return refs, nil
}

// ReadStyle snapshots an element's inline visibility state.
func (t *Tab) ReadStyle(ctx context.Context, ref mask.ElementRef) (mask.Snapshot, error) {
	res, err := t.page.Context(ctx).Eval(`(attr, token) => {
		const el = document.querySelector('[' + attr + '="' + token + '"]');
		if (!el) return null;
		return {
			vis: el.style.visibility,
			had: el.style.getPropertyValue('visibility') !== '',
		};
	}`, maskAttr, string(ref))
	if err != nil {
		return mask.Snapshot{}, fmt.Errorf("browser: read style %s: %w", ref, err)
	}
	if res.Value.Nil() {
		return mask.Snapshot{}, fmt.Errorf("browser: read style %s: %w", ref, mask.ErrDetached)
	}
	return mask.Snapshot{
		Visibility: res.Value.Get("vis").Str(),
		HadInline:  res.Value.Get("had").Bool(),
	}, nil
}

// Hide sets visibility:hidden as an inline style.
func (t *Tab) Hide(ctx context.Context, ref mask.ElementRef) error {
	res, err := t.page.Context(ctx).Eval(`(attr, token) => {
		const el = document.querySelector('[' + attr + '="' + token + '"]');
		if (!el) return false;
		el.style.setProperty('visibility', 'hidden');
		return true;
	}`, maskAttr, string(ref))
	if err != nil {
		return fmt.Errorf("browser: hide %s: %w", ref, err)
	}
	if !res.Value.Bool() {
		return fmt.Errorf("browser: hide %s: %w", ref, mask.ErrDetached)
	}
	return nil
}

// Restore reinstates a snapshot, removing the inline property when the
// snapshot says it was absent.
func (t *Tab) Restore(ctx context.Context, ref mask.ElementRef, prev mask.Snapshot) error {
	res, err := t.page.Context(ctx).Eval(`(attr, token, vis, had) => {
		const el = document.querySelector('[' + attr + '="' + token + '"]');
		if (!el) return false;
		if (had) {
			el.style.setProperty('visibility', vis);
		} else {
			el.style.removeProperty('visibility');
		}
		return true;
	}`, maskAttr, string(ref), prev.Visibility, prev.HadInline)
	if err != nil {
		return fmt.Errorf("browser: restore %s: %w", ref, err)
	}
	if !res.Value.Bool() {
		return fmt.Errorf("browser: restore %s: %w", ref, mask.ErrDetached)
	}
	return nil
}

// Detached reports whether err means the element left the document.
func (t *Tab) Detached(err error) bool {
	return errors.Is(err, mask.ErrDetached)
}

// AnnotateEmbeds writes layout geometry onto embeddable elements as
// data-capture-* attributes, in page coordinates (CSS px). The embed
// detector reads them back out of the serialised HTML; elements with a
// zero-sized box are left unannotated.
func (t *Tab) AnnotateEmbeds(ctx context.Context) (int, error) {
	res, err := t.page.Context(ctx).Eval(`() => {
		const sel = 'iframe, video, embed, object, figure, ' +
			'[class~="video-player"], [class~="player"], [class~="media-embed"], ' +
			'[class~="youtube"], [class~="vimeo"], [class~="twitter-tweet"], [class~="instagram-media"]';
		let n = 0;
		for (const el of document.querySelectorAll(sel)) {
			const r = el.getBoundingClientRect();
			const w = Math.round(r.width);
			const h = Math.round(r.height);
			if (w <= 0 || h <= 0) continue;
			el.setAttribute('data-capture-x', Math.round(r.left + window.scrollX));
			el.setAttribute('data-capture-y', Math.round(r.top + window.scrollY));
			el.setAttribute('data-capture-w', w);
			el.setAttribute('data-capture-h', h);
			n++;
		}
		return n;
	}`)
	if err != nil {
		return 0, fmt.Errorf("browser: annotate embeds: %w", err)
	}
	return res.Value.Int(), nil
}
