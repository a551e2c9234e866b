// Package navigation drives the pump's remote terminal by sequencing
// RT_BUTTON_STATUS sends (spec §4.G): short/long presses, chorded
// button combinations, and menu-tree traversal/quantity-adjustment
// built on top of those presses.
package navigation

import "context"

// ButtonCode identifies one or more RT buttons. Multi-button chords
// combine codes with bitwise OR (spec §4.G).
type ButtonCode uint8

const (
	NoButton ButtonCode = 0
	Up       ButtonCode = 1 << 0
	Down     ButtonCode = 1 << 1
	Menu     ButtonCode = 1 << 2
	Check    ButtonCode = 1 << 3
	Back     ButtonCode = 1 << 4
)

// Chord combines button codes into one multi-button press.
func Chord(codes ...ButtonCode) ButtonCode {
	var c ButtonCode
	for _, code := range codes {
		c |= code
	}
	return c
}

// Sender transmits one RT_BUTTON_STATUS packet: a button code plus the
// status-changed flag (spec §4.D). Implemented by the controller
// package over an application.Session.
type Sender interface {
	SendButtonStatus(ctx context.Context, code ButtonCode, flagChanged bool) error
}
