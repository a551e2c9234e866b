package display

import "testing"

// displayWidth/displayHeight mirror the 96x32 frame size of
// application.DisplayFrame.
const (
	displayWidth  = 96
	displayHeight = 32
)

func titleMatch(r rune, x int) PatternMatch {
	return PatternMatch{Pattern: Pattern{Glyph: Glyph{Kind: SmallChar, Rune: r}, Width: 5, Height: 7}, X: x, Y: 0}
}

func digitMatch(d rune, x int) PatternMatch {
	return PatternMatch{Pattern: Pattern{Glyph: Glyph{Kind: SmallDigit, Rune: d}, Width: 5, Height: 7}, X: x, Y: 0}
}

// TestQuickinfoParseSucceeds exercises scenario S5's first case: the
// glyph matches of a quickinfo screen ("BE" title, digits 213) yield
// QuickinfoMain{units=213, reservoir not empty}.
func TestQuickinfoParseSucceeds(t *testing.T) {
	matches := []PatternMatch{
		titleMatch('B', 0), titleMatch('E', 6),
		digitMatch('2', 20), digitMatch('1', 26), digitMatch('3', 32),
	}
	frame := DisplayFrame{Width: displayWidth, Height: displayHeight}
	screen, err := RecognizeScreen(frame, matches)
	if err != nil {
		t.Fatalf("RecognizeScreen: %v", err)
	}
	if screen.Kind != ScreenQuickinfoMain {
		t.Fatalf("Kind = %v, want ScreenQuickinfoMain", screen.Kind)
	}
	if screen.QuickinfoUnits != 213000 {
		t.Fatalf("QuickinfoUnits = %d, want 213000 (213 IU encoded)", screen.QuickinfoUnits)
	}
	if screen.Reservoir == ReservoirEmpty {
		t.Fatalf("Reservoir = %v, want not empty", screen.Reservoir)
	}
}

// TestQuickinfoParseRejectsOver350IU exercises scenario S5's second
// case: a reservoir reading of 400 IU is invalid per spec §4.E
// Validation and must surface a FrameParseError.
func TestQuickinfoParseRejectsOver350IU(t *testing.T) {
	matches := []PatternMatch{
		titleMatch('B', 0), titleMatch('E', 6),
		digitMatch('4', 20), digitMatch('0', 26), digitMatch('0', 32),
	}
	frame := DisplayFrame{Width: displayWidth, Height: displayHeight}
	_, err := RecognizeScreen(frame, matches)
	if err == nil {
		t.Fatal("RecognizeScreen accepted a 400 IU reservoir reading")
	}
	if _, ok := err.(*FrameParseError); !ok {
		t.Fatalf("err = %T, want *FrameParseError", err)
	}
}

func TestMenuScreenRecognizesBasalProfile(t *testing.T) {
	matches := []PatternMatch{
		{Pattern: Pattern{Glyph: Glyph{Kind: LargeDigit, Rune: '3'}, Width: 8, Height: 14}, X: 0, Y: 0},
		{Pattern: Pattern{Glyph: Glyph{Kind: LargeSymbol, Sym: SymMenu}, Width: 10, Height: 16}, X: 10, Y: 0},
	}
	frame := DisplayFrame{Width: displayWidth, Height: displayHeight}
	screen, err := RecognizeScreen(frame, matches)
	if err != nil {
		t.Fatalf("RecognizeScreen: %v", err)
	}
	if screen.Kind != ScreenMenu || screen.Menu != MenuBasalProfile3 {
		t.Fatalf("screen = %+v, want Menu=MenuBasalProfile3", screen)
	}
}

func TestUnrecognizedWhenNoParserMatches(t *testing.T) {
	matches := []PatternMatch{digitMatch('5', 0)}
	frame := DisplayFrame{Width: displayWidth, Height: displayHeight}
	screen, err := RecognizeScreen(frame, matches)
	if err != nil {
		t.Fatalf("RecognizeScreen: %v", err)
	}
	if screen.Kind != ScreenUnrecognized {
		t.Fatalf("Kind = %v, want ScreenUnrecognized", screen.Kind)
	}
}
