// Package screenstream transforms a (possibly repeated) sequence of
// display.DisplayFrame into a de-duplicated sequence of
// display.ParsedScreen, with alert-screen suppression or dismissal
// (spec §4.F).
package screenstream

import (
	"context"
	"sync"

	"github.com/agsys/combo-control/internal/display"
)

// Mode selects how alert screens are handled.
type Mode int

const (
	// ModeObserver drops alert screens; nothing else about the stream
	// changes.
	ModeObserver Mode = iota
	// ModeActive collects consecutive alert screens and, once a
	// non-alert screen follows, invokes DismissFunc and surfaces an
	// AlertSeenError to the consumer instead of the non-alert screen
	// that triggered the dismissal.
	ModeActive
)

// DismissFunc simulates pressing CHECK to clear the pump's active
// alert (spec §4.F Active mode).
type DismissFunc func(ctx context.Context) error

// Result is one item of a Stream's output: either a freshly recognized
// screen, or an error (AlertSeenError in Active mode, or a
// display.FrameParseError propagated from recognition).
type Result struct {
	Screen display.ParsedScreen
	Err    error
}

// Stream runs the dedup/alert pipeline over one channel of frames. Not
// safe for concurrent calls to Run; each Stream drives exactly one
// logical RT display flow.
type Stream struct {
	mode    Mode
	dismiss DismissFunc
	addr    string

	// parse recognizes one frame. Defaults to MatchFrame+RecognizeScreen;
	// overridable in tests to exercise dedup/alert logic without real
	// glyph bitmaps.
	parse func(frame *display.DisplayFrame) (display.ParsedScreen, error)

	haveLast   bool
	lastFrame  *display.DisplayFrame
	lastScreen display.ParsedScreen

	pendingAlerts []display.ParsedScreen
}

func defaultParse(frame *display.DisplayFrame) (display.ParsedScreen, error) {
	matches := display.MatchFrame(*frame)
	return display.RecognizeScreen(*frame, matches)
}

var (
	activeMu    sync.Mutex
	activeAddrs = map[string]struct{}{}
)

// NewObserver creates a Stream in Observer mode: alert screens are
// simply dropped.
func NewObserver() *Stream {
	return &Stream{mode: ModeObserver, parse: defaultParse}
}

// NewActive creates a Stream in Active mode for the given pump
// address, invoking dismiss once a run of alert screens ends. Returns
// DuplicateActiveStreamError if an active stream is already running
// for addr (spec §4.F invariant).
func NewActive(addr string, dismiss DismissFunc) (*Stream, error) {
	activeMu.Lock()
	defer activeMu.Unlock()
	if _, exists := activeAddrs[addr]; exists {
		return nil, &DuplicateActiveStreamError{Addr: addr}
	}
	activeAddrs[addr] = struct{}{}
	return &Stream{mode: ModeActive, dismiss: dismiss, addr: addr, parse: defaultParse}, nil
}

// Close releases the active-stream slot held by addr, if any. Safe to
// call on an Observer-mode Stream (no-op).
func (s *Stream) Close() {
	if s.mode != ModeActive || s.addr == "" {
		return
	}
	activeMu.Lock()
	delete(activeAddrs, s.addr)
	activeMu.Unlock()
}

// Run consumes frames until the channel closes or ctx is cancelled,
// emitting de-duplicated, alert-filtered results on the returned
// channel, which is closed when Run returns.
func (s *Stream) Run(ctx context.Context, frames <-chan *display.DisplayFrame) <-chan Result {
	out := make(chan Result, 8)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case frame, ok := <-frames:
				if !ok {
					return
				}
				s.push(ctx, frame, out)
			}
		}
	}()
	return out
}

// push processes one frame and, if it isn't a duplicate of the
// immediately preceding frame, emits at most one Result.
func (s *Stream) push(ctx context.Context, frame *display.DisplayFrame, out chan<- Result) {
	if s.haveLast && frame == s.lastFrame {
		return // stage 1: reference identity, cheap passthrough filter
	}

	screen, err := s.parse(frame)
	if err != nil {
		s.lastFrame = frame
		s.haveLast = true
		out <- Result{Err: err}
		return
	}

	dup := false
	if s.haveLast {
		if screen.Kind == display.ScreenUnrecognized && s.lastScreen.Kind == display.ScreenUnrecognized {
			dup = frameEqual(frame, s.lastFrame)
		} else {
			dup = screenEqual(screen, s.lastScreen)
		}
	}
	s.lastFrame = frame
	s.lastScreen = screen
	s.haveLast = true
	if dup {
		return
	}

	if isAlert(screen) {
		s.pendingAlerts = append(s.pendingAlerts, screen)
		return
	}

	if len(s.pendingAlerts) > 0 {
		contents := s.pendingAlerts
		s.pendingAlerts = nil
		if s.mode == ModeActive {
			if s.dismiss != nil {
				_ = s.dismiss(ctx)
			}
			out <- Result{Err: &AlertSeenError{Contents: contents}}
			return
		}
		// Observer mode: the alerts were dropped; fall through and
		// surface the screen that ended the alert run.
	}

	out <- Result{Screen: screen}
}
