package screenstream

import "github.com/agsys/combo-control/internal/display"

// AlertSeenError is raised in Active mode once one or more consecutive
// alert screens have been auto-dismissed and a non-alert screen
// follows (spec §4.F, §7). The caller must treat the in-flight RT
// operation as aborted and re-check pump state.
type AlertSeenError struct {
	Contents []display.ParsedScreen
}

func (e *AlertSeenError) Error() string { return "screenstream: alert seen and dismissed" }

// DuplicateActiveStreamError is raised by NewActive when an active-mode
// stream already exists for the given pump address. At most one active
// stream per pump may run at a time (spec §4.F invariant): concurrent
// active streams could double-dismiss the same alert.
type DuplicateActiveStreamError struct{ Addr string }

func (e *DuplicateActiveStreamError) Error() string {
	return "screenstream: active stream already running for " + e.Addr
}
