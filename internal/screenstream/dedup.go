package screenstream

import "github.com/agsys/combo-control/internal/display"

// screenEqual implements spec §4.F's two-stage parsed-value equality:
// ParsedScreen carries no slice/map fields, so two recognized screens
// of the same kind and field values compare equal directly; two
// Unrecognized screens always compare equal this way (every field is
// zero), so that case is deliberately excluded here and handled by the
// caller via frameEqual instead.
func screenEqual(a, b display.ParsedScreen) bool {
	return a == b
}

func isAlert(screen display.ParsedScreen) bool {
	return screen.Kind == display.ScreenAlertWarning || screen.Kind == display.ScreenAlertError
}

// frameEqual is the bitmap-equality fallback used only when both sides
// parsed as Unrecognized (spec §4.F stage 2).
func frameEqual(a, b *display.DisplayFrame) bool {
	if a == b {
		return true
	}
	if a == nil || b == nil {
		return false
	}
	if a.Width != b.Width || a.Height != b.Height || len(a.Pixels) != len(b.Pixels) {
		return false
	}
	for i, p := range a.Pixels {
		if b.Pixels[i] != p {
			return false
		}
	}
	return true
}
