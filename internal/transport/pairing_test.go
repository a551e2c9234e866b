package transport

import (
	"bytes"
	"context"
	"testing"

	"github.com/agsys/combo-control/internal/cryptoprim"
	"github.com/agsys/combo-control/internal/framecodec"
)

// TestKeyResponseAddressReversal pins down the one fully-specified detail
// of the published S1 pairing vector that does not depend on the elided
// middle bytes of the KEY_RESPONSE payload: an incoming address byte of
// 0x01 (src=0, dst=1) must reverse to the documented keyResponseAddress
// 0x10 (src=1, dst=0).
func TestKeyResponseAddressReversal(t *testing.T) {
	var weakKey cryptoprim.Key
	payload := make([]byte, 32)
	p := &Packet{Address: 0x01, Payload: payload}

	invariant, err := decodeKeyResponse(p, weakKey)
	if err != nil {
		t.Fatalf("decodeKeyResponse: %v", err)
	}
	if invariant.KeyResponseAddress != 0x10 {
		t.Fatalf("KeyResponseAddress = %#02x, want 0x10", invariant.KeyResponseAddress)
	}
}

func TestKeyResponseRejectsShortPayload(t *testing.T) {
	var weakKey cryptoprim.Key
	p := &Packet{Address: 0x01, Payload: make([]byte, 10)}
	if _, err := decodeKeyResponse(p, weakKey); err == nil {
		t.Fatal("decodeKeyResponse accepted a payload shorter than 32 bytes")
	}
}

// fakePinSocket drives a canned, self-consistent pairing conversation: the
// cipher keys exchanged are generated by this test (not the published S1
// vector, whose 32-byte KEY_RESPONSE payload is only partially given in
// the spec with an elided middle), so this exercises the full handshake
// state machine end to end rather than re-deriving the literal published
// keys.
type pairingReply struct {
	cmd     uint8
	payload []byte
}

type fakePinSocket struct {
	t       *testing.T
	d       *framecodec.Deframer
	script  [][]pairingReply
	step    int
	pending [][]byte
}

func (f *fakePinSocket) Send(ctx context.Context, b []byte) error {
	for _, payload := range f.d.Feed(b) {
		p, err := DecodePairing(payload)
		if err != nil {
			f.t.Fatalf("fakePinSocket: bad outbound packet: %v", err)
		}
		if f.step >= len(f.script) {
			f.t.Fatalf("fakePinSocket: unexpected extra send, command %d", p.Command)
		}
		for _, r := range f.script[f.step] {
			replyAddr := PackAddress(1, 0)
			if r.cmd == CmdKeyResponse {
				// Chosen so decodeKeyResponse's nibble reversal yields the
				// documented keyResponseAddress 0x10.
				replyAddr = PackAddress(0, 1)
			}
			reply := &Packet{Version: 1, Command: r.cmd, Address: replyAddr, Payload: r.payload}
			f.pending = append(f.pending, reply.EncodePairing())
		}
		f.step++
	}
	return nil
}

func (f *fakePinSocket) Recv(ctx context.Context) ([]byte, error) {
	if len(f.pending) == 0 {
		f.t.Fatal("fakePinSocket: Recv called with nothing pending")
	}
	next := f.pending[0]
	f.pending = f.pending[1:]
	return framecodec.Frame(next), nil
}

func (f *fakePinSocket) Close() error { return nil }

type fakePrompt struct{ pin [10]uint8 }

func (f fakePrompt) AskPIN(ctx context.Context, addr string, previousAttemptFailed bool) ([10]uint8, error) {
	return f.pin, nil
}

func TestPairEndToEnd(t *testing.T) {
	pin := [10]uint8{2, 6, 0, 6, 8, 1, 9, 2, 7, 3}
	weakKey := cryptoprim.DeriveWeakKey(pin)

	var wantClientPump, wantPumpClient cryptoprim.Key
	for i := range wantClientPump {
		wantClientPump[i] = byte(i + 1)
		wantPumpClient[i] = byte(200 + i)
	}

	encHalf := func(plain cryptoprim.Key) [16]byte {
		enc, err := cryptoprim.EncryptBlock(weakKey, [16]byte(plain))
		if err != nil {
			t.Fatalf("EncryptBlock: %v", err)
		}
		return enc
	}
	half1 := encHalf(wantClientPump)
	half2 := encHalf(wantPumpClient)
	keyResponsePayload := append(append([]byte{}, half1[:]...), half2[:]...)

	idPayload := append([]byte{0, 0, 0, 0}, []byte("PUMP_10230947")...)

	sock := &fakePinSocket{
		t: t,
		d: framecodec.NewDeframer(),
		script: [][]pairingReply{
			{{cmd: CmdPairConnAccepted}},
			{{cmd: CmdPinRequested}, {cmd: CmdKeyResponse, payload: keyResponsePayload}},
			{{cmd: CmdIDResponse, payload: idPayload}},
			{{cmd: CmdRegConnAccepted}},
			{{cmd: CmdAppCtrlConnectResp}},
			{{cmd: CmdAppCtrlBindResp}},
			{},
		},
	}

	result, err := Pair(context.Background(), sock, "AA:BB:CC:DD:EE:FF", fakePrompt{pin: pin})
	if err != nil {
		t.Fatalf("Pair: %v", err)
	}
	if result.Invariant.ClientPumpCipher != wantClientPump {
		t.Fatalf("ClientPumpCipher = %x, want %x", result.Invariant.ClientPumpCipher, wantClientPump)
	}
	if result.Invariant.PumpClientCipher != wantPumpClient {
		t.Fatalf("PumpClientCipher = %x, want %x", result.Invariant.PumpClientCipher, wantPumpClient)
	}
	if result.Invariant.PumpID != "PUMP_10230947" {
		t.Fatalf("PumpID = %q, want %q", result.Invariant.PumpID, "PUMP_10230947")
	}
	if !bytes.Equal([]byte{result.Invariant.KeyResponseAddress}, []byte{0x10}) {
		t.Fatalf("KeyResponseAddress = %#02x, want 0x10", result.Invariant.KeyResponseAddress)
	}
}
