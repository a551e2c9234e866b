package monitor

import (
	"context"

	"github.com/agsys/combo-control/internal/controller"
	"github.com/agsys/combo-control/internal/display"
	"github.com/agsys/combo-control/internal/screenstream"
)

// WatchScreenStream republishes every screen a screenstream.Stream
// produces for addr as a parsedScreenFlow message, until ctx is
// cancelled or the channel closes. AlertSeenError/parse-error results
// are dropped here; a host wanting those surfaced separately should
// read the channel itself instead of using this helper.
func (s *Server) WatchScreenStream(ctx context.Context, addr string, results <-chan screenstream.Result) {
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case r, ok := <-results:
				if !ok {
					return
				}
				if r.Err != nil {
					continue
				}
				s.PublishParsedScreen(addr, r.Screen)
			}
		}
	}()
}

// WatchDisplayFrames republishes every raw display frame as a
// displayFrameFlow message.
func (s *Server) WatchDisplayFrames(ctx context.Context, addr string, frames <-chan *display.DisplayFrame) {
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case f, ok := <-frames:
				if !ok {
					return
				}
				s.PublishDisplayFrame(addr, f)
			}
		}
	}()
}

// WatchProgress polls reporter until it reports a terminal overall
// progress of 1, republishing every change as a progressFlow message.
func (s *Server) WatchProgress(ctx context.Context, addr string, reporter *controller.ProgressReporter) {
	go func() {
		s.PublishProgress(addr, reporter.Latest())
		for {
			report, err := reporter.Wait(ctx)
			if err != nil {
				return
			}
			s.PublishProgress(addr, report)
			if report.OverallProgress >= 1 {
				return
			}
		}
	}()
}
