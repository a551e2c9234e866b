package application

import (
	"context"
	"sync"
	"time"

	"github.com/agsys/combo-control/internal/transport"
)

// keepAliveInterval is the RT-mode keep-alive cadence (spec §4.D / GLOSSARY).
const keepAliveInterval = 1 * time.Second

// Filter decides whether a decoded packet should surface to a waiting
// receiver. Packets for which it returns false are handled internally
// (keep-alives, reassembly fragments) and never delivered (spec §4.D).
type Filter func(Packet) bool

// DefaultFilter suppresses RT_KEEP_ALIVE; everything else passes.
// RT_DISPLAY quadrants never reach a Filter: HandleInbound routes them to
// reassembly first.
func DefaultFilter(p Packet) bool {
	return p.Header.Command != CmdRTKeepAlive
}

// Session multiplexes the application layer over one transport.Conn: it
// assigns RT sequence numbers to outbound RT_BUTTON_STATUS/RT_DISPLAY
// packets, runs the RT keep-alive loop while active, reassembles
// RT_DISPLAY quadrants into full frames, and applies a caller-supplied
// Filter before handing decoded packets to Receive.
type Session struct {
	conn   *transport.Conn
	major  uint8
	minor  uint8
	filter Filter

	mu      sync.Mutex
	nextSeq uint16

	quadrants   [4][]byte
	quadrantSeq int32
	haveMask    uint8

	delivered chan Packet
	frames    chan DisplayFrame

	keepAliveCancel context.CancelFunc
	keepAliveDone   chan struct{}
}

// DisplayFrame is the reassembled 96x32 monochrome bitmap once all four
// RT_DISPLAY quadrants for one frame sequence id have arrived.
type DisplayFrame struct {
	Width, Height int
	Pixels        []bool // row-major, Width*Height entries
}

const (
	displayWidth  = 96
	displayHeight = 32
	quadrantCols  = displayWidth / 4
)

// NewSession wraps conn. A nil filter selects DefaultFilter. The transport
// command code that carries application-layer DATA frames is passed to
// Send and StartKeepAlive as dataCommand.
func NewSession(conn *transport.Conn, major, minor uint8, filter Filter) *Session {
	if filter == nil {
		filter = DefaultFilter
	}
	return &Session{
		conn:      conn,
		major:     major,
		minor:     minor,
		filter:    filter,
		delivered: make(chan Packet, 32),
		frames:    make(chan DisplayFrame, 4),
	}
}

// Frames returns the channel of reassembled RT_DISPLAY frames.
func (s *Session) Frames() <-chan DisplayFrame { return s.frames }

// Delivered returns the channel of packets that passed the Filter.
func (s *Session) Delivered() <-chan Packet { return s.delivered }

// nextRTSeq returns the next RT sequence number and advances the counter.
func (s *Session) nextRTSeq() uint16 {
	s.mu.Lock()
	defer s.mu.Unlock()
	seq := s.nextSeq
	s.nextSeq++
	return seq
}

// Send encodes and transmits one application packet over the given
// transport command code, reliably.
func (s *Session) Send(ctx context.Context, dataCommand uint8, cmd Command, payload []byte) error {
	seq := s.nextRTSeq()
	wire := Encode(s.major, s.minor, cmd, payload, seq)
	p := &transport.Packet{
		Version:  1,
		Command:  dataCommand,
		Reliable: true,
		Payload:  wire,
	}
	return s.conn.Send(ctx, p)
}

// HandleInbound decodes a raw application payload received on the
// transport layer, reassembles RT_DISPLAY quadrants, and routes the
// result through the Filter. Call this from the reader loop that reads
// transport.Conn.Receive for the DATA command family.
func (s *Session) HandleInbound(p *transport.Packet) {
	decoded, _, err := Decode(p.Payload)
	if err != nil {
		return
	}
	if decoded.Header.Command == CmdRTDisplay {
		if frame, ok := s.absorbQuadrant(decoded.Payload); ok {
			select {
			case s.frames <- frame:
			default:
			}
		}
		return
	}
	if !s.filter(decoded) {
		return
	}
	select {
	case s.delivered <- decoded:
	default:
	}
}

// absorbQuadrant stores one RT_DISPLAY quadrant and returns the
// reassembled frame once all four quadrants sharing a frame sequence id
// have arrived (spec §4.D). Quadrant payload layout: 1-byte quadrant
// index (0-3), 4-byte little-endian frame sequence id, then
// packed bitmap bytes, row-major: (quadrantCols+7)/8 bytes per row for
// displayHeight rows, MSB first within each byte.
func (s *Session) absorbQuadrant(payload []byte) (DisplayFrame, bool) {
	if len(payload) < 5 {
		return DisplayFrame{}, false
	}
	idx := payload[0]
	if idx > 3 {
		return DisplayFrame{}, false
	}
	seq := int32(payload[1]) | int32(payload[2])<<8 | int32(payload[3])<<16 | int32(payload[4])<<24
	bits := payload[5:]

	s.mu.Lock()
	defer s.mu.Unlock()
	if seq != s.quadrantSeq {
		s.quadrantSeq = seq
		s.haveMask = 0
		s.quadrants = [4][]byte{}
	}
	s.quadrants[idx] = bits
	s.haveMask |= 1 << idx
	if s.haveMask != 0x0F {
		return DisplayFrame{}, false
	}
	s.haveMask = 0
	return assembleFrame(s.quadrants), true
}

// assembleFrame concatenates four vertical quadrants (each
// quadrantCols-wide, full height) into one displayWidth x displayHeight
// bitmap.
func assembleFrame(quadrants [4][]byte) DisplayFrame {
	f := DisplayFrame{Width: displayWidth, Height: displayHeight, Pixels: make([]bool, displayWidth*displayHeight)}
	rowBytes := (quadrantCols + 7) / 8
	for q := 0; q < 4; q++ {
		bits := quadrants[q]
		for row := 0; row < displayHeight; row++ {
			for col := 0; col < quadrantCols; col++ {
				byteIdx := row*rowBytes + col/8
				if byteIdx >= len(bits) {
					continue
				}
				bit := bits[byteIdx] & (0x80 >> uint(col%8))
				x := q*quadrantCols + col
				f.Pixels[row*displayWidth+x] = bit != 0
			}
		}
	}
	return f
}

// StartKeepAlive launches the RT keep-alive loop: one RT_KEEP_ALIVE send
// per keepAliveInterval until ctx is cancelled or StopKeepAlive is called.
// Idempotent against a second call while already running.
func (s *Session) StartKeepAlive(ctx context.Context, dataCommand uint8) {
	s.mu.Lock()
	if s.keepAliveCancel != nil {
		s.mu.Unlock()
		return
	}
	kaCtx, cancel := context.WithCancel(ctx)
	s.keepAliveCancel = cancel
	done := make(chan struct{})
	s.keepAliveDone = done
	s.mu.Unlock()

	go func() {
		defer close(done)
		ticker := time.NewTicker(keepAliveInterval)
		defer ticker.Stop()
		for {
			select {
			case <-kaCtx.Done():
				return
			case <-ticker.C:
				_ = s.Send(kaCtx, dataCommand, CmdRTKeepAlive, nil)
			}
		}
	}()
}

// StopKeepAlive stops the keep-alive loop if running. Idempotent.
func (s *Session) StopKeepAlive() {
	s.mu.Lock()
	cancel := s.keepAliveCancel
	done := s.keepAliveDone
	s.keepAliveCancel = nil
	s.keepAliveDone = nil
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}
