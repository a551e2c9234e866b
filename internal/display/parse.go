package display

import (
	"strconv"
	"strings"
)

// FrameParseError reports a recognized-but-invalid screen value (spec
// §4.E Validation), carrying the offending frame for diagnostics.
type FrameParseError struct {
	Msg   string
	Frame DisplayFrame
}

func (e *FrameParseError) Error() string { return "display: " + e.Msg }

// ParseTime parses "HH:MM", "HH:MM(AM|PM)", or "HH(AM|PM)" into 24-hour
// (hour, minute). 12 AM maps to hour 0; 12 PM to hour 12; otherwise PM
// adds 12 (spec §4.E, property 4).
func ParseTime(s string) (hour, minute int, err error) {
	s = strings.TrimSpace(s)
	upper := strings.ToUpper(s)

	var meridiem string
	body := upper
	if strings.HasSuffix(upper, "AM") || strings.HasSuffix(upper, "PM") {
		meridiem = upper[len(upper)-2:]
		body = upper[:len(upper)-2]
	}

	if colon := strings.IndexByte(body, ':'); colon >= 0 {
		hour, err = strconv.Atoi(body[:colon])
		if err != nil {
			return 0, 0, &FrameParseError{Msg: "bad hour in time: " + s}
		}
		minute, err = strconv.Atoi(body[colon+1:])
		if err != nil {
			return 0, 0, &FrameParseError{Msg: "bad minute in time: " + s}
		}
	} else {
		hour, err = strconv.Atoi(body)
		if err != nil {
			return 0, 0, &FrameParseError{Msg: "bad hour-only time: " + s}
		}
		minute = 0
	}

	switch meridiem {
	case "AM":
		if hour == 12 {
			hour = 0
		}
	case "PM":
		if hour != 12 {
			hour += 12
		}
	}
	return hour, minute, nil
}

// ParseDecimal parses an integer-part[.fractional] string into the
// integer-encoded decimal representation used throughout ParsedScreen:
// 3 implicit fractional digits, missing fraction zero-padded, and no dot
// meaning "multiply by 1000" (spec §3, property 5).
func ParseDecimal(s string) (int, error) {
	s = strings.TrimSpace(s)
	dot := strings.IndexByte(s, '.')
	if dot < 0 {
		whole, err := strconv.Atoi(s)
		if err != nil {
			return 0, &FrameParseError{Msg: "bad decimal: " + s}
		}
		return whole * 1000, nil
	}
	wholePart, fracPart := s[:dot], s[dot+1:]
	if len(fracPart) > 3 {
		fracPart = fracPart[:3]
	}
	for len(fracPart) < 3 {
		fracPart += "0"
	}
	whole, err := strconv.Atoi(wholePart)
	if err != nil {
		return 0, &FrameParseError{Msg: "bad decimal integer part: " + s}
	}
	frac, err := strconv.Atoi(fracPart)
	if err != nil {
		return 0, &FrameParseError{Msg: "bad decimal fractional part: " + s}
	}
	sign := 1
	if whole < 0 {
		sign = -1
		whole = -whole
	}
	return sign * (whole*1000 + frac), nil
}

// ParseInt parses a run of digit glyphs into a plain integer.
func ParseInt(s string) (int, error) {
	v, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, &FrameParseError{Msg: "bad integer: " + s}
	}
	return v, nil
}
