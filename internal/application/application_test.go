package application

import (
	"encoding/binary"
	"testing"
)

func TestEncodeDecodeRoundTripNonRT(t *testing.T) {
	wire := Encode(1, 2, CmdReadPumpStatus, []byte{9, 9}, 0)
	p, seq, err := Decode(wire)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if p.Header.Command != CmdReadPumpStatus {
		t.Fatalf("Command = %#04x, want %#04x", p.Header.Command, CmdReadPumpStatus)
	}
	if p.Header.Command.Service() != ServiceCommand {
		t.Fatalf("Service = %#02x, want %#02x", p.Header.Command.Service(), ServiceCommand)
	}
	if seq != 0 {
		t.Fatalf("seq = %d, want 0 for a non-RT command", seq)
	}
	if string(p.Payload) != "\x09\x09" {
		t.Fatalf("Payload = %x, want 0909", p.Payload)
	}
}

func TestEncodeDecodeRoundTripRTCarriesSequence(t *testing.T) {
	wire := Encode(1, 0, CmdRTButtonStatus, []byte{0x01, 0x01}, 7)
	p, seq, err := Decode(wire)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if seq != 7 {
		t.Fatalf("seq = %d, want 7", seq)
	}
	if string(p.Payload) != "\x01\x01" {
		t.Fatalf("Payload = %x, want 0101", p.Payload)
	}
}

// TestRTSequenceNumbering covers scenario S3's counter: three consecutive
// nextRTSeq calls return 0, 1, 2, and an RT_BUTTON_STATUS encoding
// carries its number as the little-endian prefix (01 00 for 1).
func TestRTSequenceNumbering(t *testing.T) {
	// RT_KEEP_ALIVE itself is not RT-sequenced per spec (only
	// RT_BUTTON_STATUS/RT_DISPLAY are); use RT_BUTTON_STATUS to exercise
	// the sequence counter, matching the property the scenario tests: a
	// monotonically increasing counter shared across RT-sequenced sends.
	s := &Session{}
	var got []uint16
	for i := 0; i < 3; i++ {
		seq := s.nextRTSeq()
		got = append(got, seq)
	}
	want := []uint16{0, 1, 2}
	for i, g := range got {
		if g != want[i] {
			t.Fatalf("seq[%d] = %d, want %d", i, g, want[i])
		}
	}

	wire := Encode(1, 0, CmdRTButtonStatus, nil, got[1])
	prefix := wire[HeaderSize : HeaderSize+2]
	if binary.LittleEndian.Uint16(prefix) != 1 {
		t.Fatalf("encoded seq prefix = %x, want 01 00", prefix)
	}
}

// TestCustomFilterSuspendsOnThirdReceive exercises scenario S4: a filter
// that rejects RT_KEEP_ALIVE sees a stream of
// [CONNECT_RESP, KEEP_ALIVE, KEEP_ALIVE, KEEP_ALIVE, BIND_RESP] and
// delivers exactly 2 packets; a third receive would block forever (we
// assert the channel is empty rather than actually blocking the test).
func TestCustomFilterSuspendsOnThirdReceive(t *testing.T) {
	filter := func(p Packet) bool { return p.Header.Command != CmdRTKeepAlive }
	s := NewSession(nil, 1, 0, filter)

	feed := func(cmd Command) {
		wire := Encode(1, 0, cmd, nil, 0)
		p := decodeOrFail(t, wire)
		if !filter(p) {
			return
		}
		select {
		case s.delivered <- p:
		default:
			t.Fatal("delivered channel full")
		}
	}

	feed(CmdCtrlConnectResponse)
	feed(CmdRTKeepAlive)
	feed(CmdRTKeepAlive)
	feed(CmdRTKeepAlive)
	feed(CmdCtrlBindResponse)

	got := []Command{}
	for i := 0; i < 2; i++ {
		p := <-s.Delivered()
		got = append(got, p.Header.Command)
	}
	if got[0] != CmdCtrlConnectResponse || got[1] != CmdCtrlBindResponse {
		t.Fatalf("delivered = %v, want [CONNECT_RESP, BIND_RESP]", got)
	}
	select {
	case <-s.Delivered():
		t.Fatal("a third receive should have nothing pending")
	default:
	}
}

func decodeOrFail(t *testing.T, wire []byte) Packet {
	t.Helper()
	p, _, err := Decode(wire)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	return p
}

func TestQuadrantReassembly(t *testing.T) {
	s := NewSession(nil, 1, 0, nil)
	rowBytes := (quadrantCols + 7) / 8
	for q := 0; q < 4; q++ {
		bits := make([]byte, rowBytes*displayHeight)
		// Set the top-left pixel of each quadrant.
		bits[0] = 0x80
		payload := append([]byte{byte(q), 0, 0, 0, 0}, bits...)
		frame, done := s.absorbQuadrant(payload)
		if q < 3 {
			if done {
				t.Fatalf("quadrant %d: frame assembled early", q)
			}
			continue
		}
		if !done {
			t.Fatal("frame not assembled after all 4 quadrants")
		}
		for qq := 0; qq < 4; qq++ {
			x := qq * quadrantCols
			if !frame.Pixels[0*displayWidth+x] {
				t.Fatalf("quadrant %d top-left pixel not set in reassembled frame", qq)
			}
		}
	}
}

func TestQuadrantReassemblyResetsOnNewFrameSeq(t *testing.T) {
	s := NewSession(nil, 1, 0, nil)
	rowBytes := (quadrantCols + 7) / 8
	bits := make([]byte, rowBytes*displayHeight)

	// Only quadrant 0 of frame seq 1 arrives...
	s.absorbQuadrant(append([]byte{0, 1, 0, 0, 0}, bits...))
	// ...then frame seq 2 starts; quadrant 0 of the stale frame must not
	// count toward the new one.
	_, done := s.absorbQuadrant(append([]byte{0, 2, 0, 0, 0}, bits...))
	if done {
		t.Fatal("frame assembled with only 1 of 4 quadrants for the new sequence")
	}
}
