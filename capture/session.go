package capture

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pagesnap/pagesnap/mask"
	"github.com/pagesnap/pagesnap/raster"
)

// Result describes how a session ended. Image is nil on cancellation
// and on every failure except the over-limit case, where the caller
// can still dig the best-effort bytes out of the wrapped
// encode.OverLimitError.
type Result struct {
	Image     []byte
	MIME      string
	Width     int // device px, post any downscale
	Height    int // device px, post any downscale
	Truncated bool
	Segments  int // frames that made it into the composition
	Elapsed   time.Duration
	Err       error
}

// Session is one in-flight capture. It is created by a Controller
// and runs in its own goroutine; callers observe it through Wait,
// State and Subscribe and stop it through Cancel.
type Session struct {
	id        string
	req       Request
	cfg       Config
	page      Pager
	transport raster.Transport
	masker    *mask.Masker
	log       *slog.Logger

	cancelCtx context.CancelFunc
	canceled  atomic.Bool

	events  *broadcaster
	started time.Time
	done    chan struct{}
	release func()

	finishOnce sync.Once

	mu        sync.Mutex
	state     State
	segsDone  int
	segsTotal int
	result    Result
}

// ID returns the session identifier used in logs and history.
func (s *Session) ID() string { return s.id }

// Mode returns the capture mode of the session's request.
func (s *Session) Mode() string { return s.req.Mode() }

// State returns the session's current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Done is closed when the session reaches a terminal state.
func (s *Session) Done() <-chan struct{} { return s.done }

// Wait blocks until the session ends or ctx is done. The returned
// error matches Result.Err, so callers can ignore the Result when
// they only care about success.
func (s *Session) Wait(ctx context.Context) (Result, error) {
	select {
	case <-s.done:
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.result, s.result.Err
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// Cancel requests cooperative cancellation. It is idempotent and a
// no-op after completion. The session reaches Canceled within at
// most one segment timeout: an in-flight raster request is allowed
// to settle, then the loop stops, restores the page and discards
// partial frames.
func (s *Session) Cancel() {
	if s.canceled.CompareAndSwap(false, true) {
		s.cancelCtx()
	}
}

// Subscribe registers a progress listener and returns its event
// channel plus an unsubscribe func. The channel is closed when the
// session ends or the subscriber unsubscribes; a slow subscriber
// loses intermediate events rather than blocking the capture loop.
func (s *Session) Subscribe() (<-chan Event, func()) {
	return s.events.subscribe()
}

// OnProgress invokes fn for every event from a dedicated goroutine
// until the session ends or the returned unsubscribe func is called.
func (s *Session) OnProgress(fn func(Event)) func() {
	ch, unsub := s.Subscribe()
	go func() {
		for ev := range ch {
			fn(ev)
		}
	}()
	return unsub
}

// DroppedEvents reports how many progress events were discarded
// because subscribers were slow.
func (s *Session) DroppedEvents() int64 { return s.events.dropped.Load() }

func (s *Session) setState(st State, segsDone, segsTotal int) {
	s.mu.Lock()
	s.state = st
	s.segsDone = segsDone
	s.segsTotal = segsTotal
	s.mu.Unlock()

	s.log.Debug("capture: state", "session", s.id, "state", string(st),
		"done", segsDone, "total", segsTotal)
	s.events.publish(Event{
		Phase:         st,
		SegmentsDone:  segsDone,
		SegmentsTotal: segsTotal,
		Elapsed:       time.Since(s.started),
	})
}

func (s *Session) progress(segsDone int) {
	s.mu.Lock()
	s.segsDone = segsDone
	total := s.segsTotal
	s.mu.Unlock()

	s.events.publish(Event{
		Phase:         StateCapturing,
		SegmentsDone:  segsDone,
		SegmentsTotal: total,
		Elapsed:       time.Since(s.started),
	})
}

// fin records the result and emits the single terminal event. Safe
// against double invocation; only the first result counts.
func (s *Session) fin(res Result) {
	s.finishOnce.Do(func() {
		res.Elapsed = time.Since(s.started)

		st := StateComplete
		switch {
		case errors.Is(res.Err, ErrCanceled):
			st = StateCanceled
		case res.Err != nil:
			st = StateFailed
		}

		s.mu.Lock()
		s.state = st
		s.result = res
		total := s.segsTotal
		s.mu.Unlock()

		switch st {
		case StateComplete:
			s.log.Info("capture: session complete", "session", s.id, "mode", s.req.Mode(),
				"width", res.Width, "height", res.Height, "mime", res.MIME,
				"segments", res.Segments, "truncated", res.Truncated,
				"bytes", len(res.Image), "elapsed", res.Elapsed)
		case StateCanceled:
			s.log.Info("capture: session canceled", "session", s.id, "mode", s.req.Mode(),
				"elapsed", res.Elapsed)
		default:
			s.log.Warn("capture: session failed", "session", s.id, "mode", s.req.Mode(),
				"error", res.Err, "elapsed", res.Elapsed)
		}

		s.events.publish(Event{
			Phase:         st,
			SegmentsDone:  res.Segments,
			SegmentsTotal: total,
			Elapsed:       res.Elapsed,
			Truncated:     res.Truncated,
			Err:           res.Err,
		})
		s.events.close()

		if s.release != nil {
			s.release()
		}
		close(s.done)
	})
}
