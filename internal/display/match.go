package display

// PatternMatch is one recognized glyph at a position in the frame
// (spec §3).
type PatternMatch struct {
	Pattern Pattern
	X, Y    int
}

// MatchFrame scans left-to-right, top-to-bottom, trying every glyph
// template in Table (already ordered by descending height) at each
// position; on a pixel-exact match it records the match and advances x
// by the pattern width minus 1 (spec §4.E phase 1). Overlapping matches
// are then resolved: large glyph beats small; among equal size, more
// set pixels beats fewer (spec §3).
func MatchFrame(f DisplayFrame) []PatternMatch {
	var raw []PatternMatch
	for y := 0; y < f.Height; y++ {
		x := 0
		for x < f.Width {
			m, ok := bestMatchAt(f, x, y)
			if !ok {
				x++
				continue
			}
			raw = append(raw, m)
			x += m.Pattern.Width - 1
			if m.Pattern.Width <= 0 {
				x++
			}
		}
	}
	return resolveOverlaps(raw)
}

func bestMatchAt(f DisplayFrame, x, y int) (PatternMatch, bool) {
	for _, pat := range Table {
		if fits(f, pat, x, y) && pixelExact(f, pat, x, y) {
			return PatternMatch{Pattern: pat, X: x, Y: y}, true
		}
	}
	return PatternMatch{}, false
}

func fits(f DisplayFrame, p Pattern, x, y int) bool {
	return x+p.Width <= f.Width && y+p.Height <= f.Height
}

func pixelExact(f DisplayFrame, p Pattern, x, y int) bool {
	for py := 0; py < p.Height; py++ {
		for px := 0; px < p.Width; px++ {
			want := p.Pixels[py*p.Width+px]
			got := f.Pixels[(y+py)*f.Width+(x+px)]
			if want != got {
				return false
			}
		}
	}
	return true
}

func overlaps(a, b PatternMatch) bool {
	ax2, ay2 := a.X+a.Pattern.Width, a.Y+a.Pattern.Height
	bx2, by2 := b.X+b.Pattern.Width, b.Y+b.Pattern.Height
	return a.X < bx2 && b.X < ax2 && a.Y < by2 && b.Y < ay2
}

// resolveOverlaps applies the two-rule tie-break in order: large beats
// small; among equal size, more set pixels beats fewer. Result is kept
// ordered by (y then x).
func resolveOverlaps(matches []PatternMatch) []PatternMatch {
	keep := make([]bool, len(matches))
	for i := range matches {
		keep[i] = true
	}
	for i := 0; i < len(matches); i++ {
		if !keep[i] {
			continue
		}
		for j := i + 1; j < len(matches); j++ {
			if !keep[j] || !overlaps(matches[i], matches[j]) {
				continue
			}
			if iLoses(matches[i], matches[j]) {
				keep[i] = false
				break
			}
			keep[j] = false
		}
	}
	var out []PatternMatch
	for i, m := range matches {
		if keep[i] {
			out = append(out, m)
		}
	}
	sortByPosition(out)
	return out
}

// iLoses reports whether a should be discarded in favor of b, applying
// the two-rule tie-break in order: large beats small; among equal size,
// more set pixels beats fewer (spec §3 / property 6). Exact ties keep a.
func iLoses(a, b PatternMatch) bool {
	aLarge, bLarge := a.Pattern.Glyph.Kind.large(), b.Pattern.Glyph.Kind.large()
	if aLarge != bLarge {
		return bLarge
	}
	return b.Pattern.SetPixels > a.Pattern.SetPixels
}

func sortByPosition(matches []PatternMatch) {
	for i := 1; i < len(matches); i++ {
		for j := i; j > 0; j-- {
			a, b := matches[j-1], matches[j]
			if a.Y < b.Y || (a.Y == b.Y && a.X <= b.X) {
				break
			}
			matches[j-1], matches[j] = matches[j], matches[j-1]
		}
	}
}
