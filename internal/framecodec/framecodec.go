// Package framecodec implements the byte-stuffed STX/ETX framing spec §4.I
// puts between the RFCOMM byte stream and the transport layer's packets.
package framecodec

const (
	stx    byte = 0xCC
	etx    byte = 0x47
	escape byte = 0x77
)

// Frame wraps payload in STX...ETX delimiters, escaping any occurrence of
// STX, ETX, or the escape byte itself inside payload with escape XOR 0x20.
func Frame(payload []byte) []byte {
	out := make([]byte, 0, len(payload)+4)
	out = append(out, stx)
	for _, b := range payload {
		if b == stx || b == etx || b == escape {
			out = append(out, escape, b^0x20)
		} else {
			out = append(out, b)
		}
	}
	out = append(out, etx)
	return out
}

type state int

const (
	stateOutsideFrame state = iota
	stateInFrame
	stateAfterEscape
)

// Deframer incrementally recovers complete payloads from an arbitrarily
// fragmented byte stream. It is a 3-state machine: outside a frame, inside
// a frame, or just after an escape byte inside a frame.
type Deframer struct {
	st  state
	buf []byte
}

// NewDeframer returns a Deframer ready to consume a fresh connection's
// byte stream.
func NewDeframer() *Deframer {
	return &Deframer{st: stateOutsideFrame}
}

// Reset discards any partial frame, as required when a connection is torn
// down and a new one started.
func (d *Deframer) Reset() {
	d.st = stateOutsideFrame
	d.buf = nil
}

// Feed appends chunk to the deframer's input and returns every complete
// payload it could extract, in order. Partial frames are buffered across
// calls.
func (d *Deframer) Feed(chunk []byte) [][]byte {
	var out [][]byte
	for _, b := range chunk {
		switch d.st {
		case stateOutsideFrame:
			if b == stx {
				d.buf = d.buf[:0]
				d.st = stateInFrame
			}
			// Any other byte outside a frame is noise; discard it.
		case stateInFrame:
			switch b {
			case etx:
				payload := append([]byte(nil), d.buf...)
				out = append(out, payload)
				d.buf = d.buf[:0]
				d.st = stateOutsideFrame
			case escape:
				d.st = stateAfterEscape
			case stx:
				// Unescaped STX inside a frame means the previous frame
				// was abandoned mid-stream; resynchronize on this one.
				d.buf = d.buf[:0]
			default:
				d.buf = append(d.buf, b)
			}
		case stateAfterEscape:
			d.buf = append(d.buf, b^0x20)
			d.st = stateInFrame
		}
	}
	return out
}
