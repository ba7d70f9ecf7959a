package capture

import (
	"context"
	"sync"
	"time"

	"github.com/pagesnap/pagesnap/idgen"
	"github.com/pagesnap/pagesnap/mask"
	"github.com/pagesnap/pagesnap/raster"
)

// Controller starts sessions against one page and enforces that only
// one runs at a time. The page's scroll position and the masked
// chrome are shared mutable state; two concurrent sessions would
// scroll out from under each other.
type Controller struct {
	page      Pager
	transport raster.Transport
	dom       mask.DOM
	cfg       Config
	newID     idgen.Generator

	mu   sync.Mutex
	live *Session
}

// NewController wires the engine's collaborators together. Config
// defaults are applied here, once, so every session the controller
// starts runs with the same settings.
func NewController(page Pager, transport raster.Transport, dom mask.DOM, cfg Config) *Controller {
	cfg.defaults()
	return &Controller{
		page:      page,
		transport: transport,
		dom:       dom,
		cfg:       cfg,
		newID:     idgen.Prefixed("cap_", idgen.Default),
	}
}

// Busy reports whether a session is currently running.
func (c *Controller) Busy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.live != nil
}

// Start begins a capture session and returns immediately; the loop
// runs in its own goroutine. While another session is live, Start
// returns ErrBusy. Cancelling ctx cancels the session the same way
// Session.Cancel does.
func (c *Controller) Start(ctx context.Context, req Request) (*Session, error) {
	c.mu.Lock()
	if c.live != nil {
		c.mu.Unlock()
		return nil, ErrBusy
	}

	sctx, cancel := context.WithCancel(ctx)
	s := &Session{
		id:        c.newID(),
		req:       req,
		cfg:       c.cfg,
		page:      c.page,
		transport: c.transport,
		masker:    mask.New(c.dom, c.cfg.Logger),
		log:       c.cfg.Logger,
		cancelCtx: cancel,
		events:    newBroadcaster(),
		started:   time.Now(),
		done:      make(chan struct{}),
		state:     StateIdle,
	}
	s.release = func() {
		c.mu.Lock()
		if c.live == s {
			c.live = nil
		}
		c.mu.Unlock()
	}
	c.live = s
	c.mu.Unlock()

	c.cfg.Logger.Info("capture: session started", "session", s.id, "mode", req.Mode())

	// A dying caller context is a cancellation, not a timeout: route
	// it through Cancel so the session classifies it as Canceled.
	go func() {
		select {
		case <-ctx.Done():
			s.Cancel()
		case <-s.done:
		}
	}()

	go func() {
		defer cancel()
		s.run(sctx)
	}()
	return s, nil
}

// Run starts a session and blocks until it ends. Shorthand for the
// callers that have no use for progress events.
func (c *Controller) Run(ctx context.Context, req Request) (Result, error) {
	s, err := c.Start(ctx, req)
	if err != nil {
		return Result{}, err
	}
	return s.Wait(ctx)
}
