package display

import "strings"

// ScreenKind tags the ParsedScreen variant (spec §3).
type ScreenKind uint8

const (
	ScreenUnrecognized ScreenKind = iota
	ScreenMainNormal
	ScreenMainStopped
	ScreenMainTbr
	ScreenAlertWarning
	ScreenAlertError
	ScreenBasalRateTotal
	ScreenBasalRateFactorSetting
	ScreenTbrPercentage
	ScreenTbrDuration
	ScreenTimeDateHour
	ScreenTimeDateMinute
	ScreenTimeDateYear
	ScreenTimeDateMonth
	ScreenTimeDateDay
	ScreenMenu
	ScreenQuickinfoMain
)

// ReservoirState is the quickinfo reservoir indicator.
type ReservoirState uint8

const (
	ReservoirFull ReservoirState = iota
	ReservoirLow
	ReservoirEmpty
)

// MenuID names a recognized menu screen.
type MenuID uint8

const (
	MenuMain MenuID = iota
	MenuBasalProfile1
	MenuBasalProfile2
	MenuBasalProfile3
	MenuBasalProfile4
	MenuBasalProfile5
	MenuBolus
	MenuTbr
)

// ParsedScreen is the closed sum type over every recognized RT screen
// (spec §3). Only the fields relevant to Kind are meaningful.
type ParsedScreen struct {
	Kind ScreenKind

	BasalTotalIU   int
	FactorBegin    int
	FactorEnd      int
	FactorUnits    int
	TbrPercentage  int
	TbrHasPercent  bool
	DurationHour   int
	DurationMinute int
	TimeValue      int
	Menu           MenuID
	AlertCount     int
	QuickinfoUnits int
	Reservoir      ReservoirState
}

// RecognizeScreen runs the ordered phase-2 parsers over matches produced
// by MatchFrame (spec §4.E phase 2): the first to succeed wins; if all
// fail, the screen is Unrecognized.
func RecognizeScreen(frame DisplayFrame, matches []PatternMatch) (ParsedScreen, error) {
	if len(matches) == 0 {
		return ParsedScreen{Kind: ScreenUnrecognized}, nil
	}

	if screen, ok, err := tryClockScreen(frame, matches); ok || err != nil {
		return screen, err
	}
	if screen, ok := tryMenuScreen(matches); ok {
		return screen, nil
	}
	if screen, ok, err := tryTitleScreen(frame, matches); ok || err != nil {
		return screen, err
	}
	if screen, ok, err := tryWarningErrorScreen(matches); ok || err != nil {
		return screen, err
	}
	if screen, ok, err := tryBasalTotalScreen(matches, frame); ok || err != nil {
		return screen, err
	}
	return ParsedScreen{Kind: ScreenUnrecognized}, nil
}

func tryClockScreen(frame DisplayFrame, matches []PatternMatch) (ParsedScreen, bool, error) {
	if matches[0].Pattern.Glyph.Kind != SmallSymbol || matches[0].Pattern.Glyph.Sym != SymClock {
		return ParsedScreen{}, false, nil
	}
	// Basal-rate-factor setting screen: two decimal values separated by
	// a dash, e.g. "0.45-1.00 U/h".
	if factor, ok, err := tryBasalFactorSetting(matches[1:]); ok || err != nil {
		return factor, ok, err
	}
	// Otherwise a normal/stopped/TBR main screen.
	return tryMainScreen(matches[1:])
}

func tryBasalFactorSetting(matches []PatternMatch) (ParsedScreen, bool, error) {
	token := rangeDecimalStringOf(matches)
	if !strings.Contains(token, "-") {
		return ParsedScreen{}, false, nil
	}
	parts := strings.SplitN(token, "-", 2)
	begin, err := ParseDecimal(parts[0])
	if err != nil {
		return ParsedScreen{}, true, err
	}
	end, err := ParseDecimal(parts[1])
	if err != nil {
		return ParsedScreen{}, true, err
	}
	return ParsedScreen{Kind: ScreenBasalRateFactorSetting, FactorBegin: begin, FactorEnd: end}, true, nil
}

// rangeDecimalStringOf reconstructs a "begin-end" token from digit,
// decimal-point, and dash glyph matches, ignoring the trailing unit
// suffix glyphs.
func rangeDecimalStringOf(matches []PatternMatch) string {
	var b strings.Builder
	for _, m := range matches {
		switch {
		case m.Pattern.Glyph.Kind == SmallDigit || m.Pattern.Glyph.Kind == LargeDigit:
			b.WriteRune(m.Pattern.Glyph.Rune)
		case (m.Pattern.Glyph.Kind == SmallChar || m.Pattern.Glyph.Kind == LargeChar) && (m.Pattern.Glyph.Rune == '.' || m.Pattern.Glyph.Rune == '-'):
			b.WriteRune(m.Pattern.Glyph.Rune)
		}
	}
	return b.String()
}

func tryMainScreen(matches []PatternMatch) (ParsedScreen, bool, error) {
	for i, m := range matches {
		if m.Pattern.Glyph.Kind == LargeChar && m.Pattern.Glyph.Rune == 'T' {
			screen := ParsedScreen{Kind: ScreenMainTbr}
			if digits := digitsOf(matches[i+1:]); digits != "" {
				pct, err := ParseInt(digits)
				if err != nil {
					return ParsedScreen{}, true, err
				}
				screen.TbrPercentage = pct
				screen.TbrHasPercent = true
			}
			return screen, true, nil
		}
	}
	for _, m := range matches {
		if m.Pattern.Glyph.Kind == LargeChar && m.Pattern.Glyph.Rune == 'S' {
			return ParsedScreen{Kind: ScreenMainStopped}, true, nil
		}
	}
	return ParsedScreen{Kind: ScreenMainNormal}, true, nil
}

func tryMenuScreen(matches []PatternMatch) (ParsedScreen, bool) {
	last := matches[len(matches)-1]
	if last.Pattern.Glyph.Kind != LargeSymbol || last.Pattern.Glyph.Sym != SymMenu {
		return ParsedScreen{}, false
	}
	menu := MenuMain
	if len(matches) >= 2 {
		prev := matches[len(matches)-2]
		if prev.Pattern.Glyph.Kind == LargeDigit {
			switch prev.Pattern.Glyph.Rune {
			case '1':
				menu = MenuBasalProfile1
			case '2':
				menu = MenuBasalProfile2
			case '3':
				menu = MenuBasalProfile3
			case '4':
				menu = MenuBasalProfile4
			case '5':
				menu = MenuBasalProfile5
			}
		}
	}
	return ParsedScreen{Kind: ScreenMenu, Menu: menu}, true
}

// splitTitleAndValue separates the leading run of SmallChar label glyphs
// (the title, looked up in the multi-locale table) from the remaining
// matches that carry the screen's value (digits, decimal points,
// symbols) — spec §4.E phase 2 step 3.
func splitTitleAndValue(matches []PatternMatch) (title string, rest []PatternMatch) {
	var b strings.Builder
	var prev *PatternMatch
	i := 0
	for i < len(matches) {
		m := matches[i]
		if m.Pattern.Glyph.Kind != SmallChar {
			break
		}
		if prev != nil {
			sameRow := m.Y == prev.Y
			gap := m.X - (prev.X + prev.Pattern.Width)
			if !sameRow || gap > prev.Pattern.Width {
				b.WriteByte(' ')
			}
		}
		b.WriteRune(m.Pattern.Glyph.Rune)
		prev = &matches[i]
		i++
	}
	return strings.ToUpper(b.String()), matches[i:]
}

// timeStringOf reconstructs an "HH:MM"-shaped token from digit and
// colon glyph matches, ignoring everything else.
func timeStringOf(matches []PatternMatch) string {
	var b strings.Builder
	for _, m := range matches {
		switch {
		case m.Pattern.Glyph.Kind == SmallDigit || m.Pattern.Glyph.Kind == LargeDigit:
			b.WriteRune(m.Pattern.Glyph.Rune)
		case (m.Pattern.Glyph.Kind == SmallChar || m.Pattern.Glyph.Kind == LargeChar) && m.Pattern.Glyph.Rune == ':':
			b.WriteByte(':')
		}
	}
	return b.String()
}

func tryTitleScreen(frame DisplayFrame, matches []PatternMatch) (ParsedScreen, bool, error) {
	title, rest := splitTitleAndValue(matches)
	if title == "" {
		return ParsedScreen{}, false, nil
	}
	id, ok := LookupTitle(title)
	if !ok {
		return ParsedScreen{}, false, nil
	}
	switch id {
	case TitleQuickinfo:
		return parseQuickinfo(rest, frame)
	case TitleTbrPercentage:
		return parseTbrPercentage(rest)
	case TitleTbrDuration:
		return parseTbrDuration(rest)
	case TitleHour, TitleMinute, TitleYear, TitleMonth, TitleDay:
		return parseTimeDateField(id, rest)
	}
	return ParsedScreen{}, false, nil
}

func tryWarningErrorScreen(matches []PatternMatch) (ParsedScreen, bool, error) {
	for i, m := range matches {
		if m.Pattern.Glyph.Kind != LargeSymbol {
			continue
		}
		if m.Pattern.Glyph.Sym != SymWarning && m.Pattern.Glyph.Sym != SymError {
			continue
		}
		rest := matches[i+1:]
		numStr := digitsOf(rest)
		if numStr == "" {
			continue
		}
		n, err := ParseInt(numStr)
		if err != nil {
			return ParsedScreen{}, true, err
		}
		if m.Pattern.Glyph.Sym == SymWarning {
			return ParsedScreen{Kind: ScreenAlertWarning, AlertCount: n}, true, nil
		}
		return ParsedScreen{Kind: ScreenAlertError, AlertCount: n}, true, nil
	}
	return ParsedScreen{}, false, nil
}

func tryBasalTotalScreen(matches []PatternMatch, frame DisplayFrame) (ParsedScreen, bool, error) {
	for i, m := range matches {
		if m.Pattern.Glyph.Kind == LargeSymbol && m.Pattern.Glyph.Sym == SymBasalSet {
			decStr := decimalStringOf(matches[i+1:])
			if decStr == "" {
				continue
			}
			iu, err := ParseDecimal(decStr)
			if err != nil {
				return ParsedScreen{Kind: ScreenUnrecognized}, true, &FrameParseError{Msg: "bad basal total decimal", Frame: frame}
			}
			return ParsedScreen{Kind: ScreenBasalRateTotal, BasalTotalIU: iu}, true, nil
		}
	}
	return ParsedScreen{}, false, nil
}

func digitsOf(matches []PatternMatch) string {
	var b strings.Builder
	for _, m := range matches {
		if m.Pattern.Glyph.Kind == SmallDigit || m.Pattern.Glyph.Kind == LargeDigit {
			b.WriteRune(m.Pattern.Glyph.Rune)
		}
	}
	return b.String()
}

func decimalStringOf(matches []PatternMatch) string {
	var b strings.Builder
	for _, m := range matches {
		switch {
		case m.Pattern.Glyph.Kind == SmallDigit || m.Pattern.Glyph.Kind == LargeDigit:
			b.WriteRune(m.Pattern.Glyph.Rune)
		case (m.Pattern.Glyph.Kind == SmallChar || m.Pattern.Glyph.Kind == LargeChar) && m.Pattern.Glyph.Rune == '.':
			b.WriteByte('.')
		}
	}
	return b.String()
}

func parseQuickinfo(matches []PatternMatch, frame DisplayFrame) (ParsedScreen, bool, error) {
	decStr := decimalStringOf(matches)
	units, err := ParseDecimal(decStr)
	if err != nil {
		return ParsedScreen{Kind: ScreenUnrecognized}, true, err
	}
	if units > 350000 {
		return ParsedScreen{Kind: ScreenUnrecognized}, true, &FrameParseError{Msg: "quickinfo reservoir exceeds 350 IU", Frame: frame}
	}
	state := ReservoirFull
	switch {
	case units == 0:
		state = ReservoirEmpty
	case units < 50000:
		state = ReservoirLow
	}
	return ParsedScreen{Kind: ScreenQuickinfoMain, QuickinfoUnits: units, Reservoir: state}, true, nil
}

func parseTbrPercentage(matches []PatternMatch) (ParsedScreen, bool, error) {
	digits := digitsOf(matches)
	if digits == "" {
		return ParsedScreen{Kind: ScreenTbrPercentage, TbrHasPercent: false}, true, nil
	}
	pct, err := ParseInt(digits)
	if err != nil {
		return ParsedScreen{}, true, err
	}
	return ParsedScreen{Kind: ScreenTbrPercentage, TbrPercentage: pct, TbrHasPercent: true}, true, nil
}

func parseTbrDuration(matches []PatternMatch) (ParsedScreen, bool, error) {
	h, m, err := ParseTime(timeStringOf(matches))
	if err != nil {
		return ParsedScreen{}, true, err
	}
	return ParsedScreen{Kind: ScreenTbrDuration, DurationHour: h, DurationMinute: m}, true, nil
}

func parseTimeDateField(id TitleID, matches []PatternMatch) (ParsedScreen, bool, error) {
	digits := digitsOf(matches)
	v, err := ParseInt(digits)
	if err != nil {
		return ParsedScreen{}, true, err
	}
	kind := map[TitleID]ScreenKind{
		TitleHour:  ScreenTimeDateHour,
		TitleMinute: ScreenTimeDateMinute,
		TitleYear:  ScreenTimeDateYear,
		TitleMonth: ScreenTimeDateMonth,
		TitleDay:   ScreenTimeDateDay,
	}[id]
	return ParsedScreen{Kind: kind, TimeValue: v}, true, nil
}
