package transport

import (
	"context"
	"fmt"

	"github.com/agsys/combo-control/internal/btio"
	"github.com/agsys/combo-control/internal/cryptoprim"
	"github.com/agsys/combo-control/internal/framecodec"
	"github.com/agsys/combo-control/internal/store"
)

// Pairing-phase command codes. Unlike the post-pairing application
// command set (internal/application), these are interpreted directly by
// the transport layer since no service has been activated yet.
const (
	CmdReqPairingConn     uint8 = 0x01
	CmdPairConnAccepted   uint8 = 0x02
	CmdReqKeys            uint8 = 0x03
	CmdPinRequested       uint8 = 0x04
	CmdKeyResponse        uint8 = 0x05
	CmdReqID              uint8 = 0x06
	CmdIDResponse          uint8 = 0x07
	CmdReqRegConn          uint8 = 0x08
	CmdRegConnAccepted    uint8 = 0x09
	CmdAppCtrlConnect      uint8 = 0x0A
	CmdAppCtrlConnectResp  uint8 = 0x0B
	CmdAppCtrlBind         uint8 = 0x0C
	CmdAppCtrlBindResp     uint8 = 0x0D
	CmdPairingDisconnect   uint8 = 0x0E
)

// PairingResult is the data committed to the store on a successful
// handshake.
type PairingResult struct {
	Invariant store.InvariantData
}

// pairingState names each step of the handshake for logging and for the
// state-machine switch; it does not escape this file.
type pairingState int

const (
	stInit pairingState = iota
	stReqPairingConn
	stPairConnAccepted
	stReqKeys
	stPinRequested
	stKeyResponse
	stReqID
	stIDResponse
	stReqRegConn
	stRegConnAccepted
	stAppCtrlConnect
	stAppCtrlBind
	stDisconnect
	stDone
)

// Pair drives the pairing handshake (spec §4.C) over sock, prompting for
// the PIN via prompt. On any failure the caller is responsible for
// unpairing at the Bluetooth layer; Pair itself does not touch the store
// or the OS pairing state, only the wire protocol.
func Pair(ctx context.Context, sock btio.Socket, addr string, prompt btio.PinPrompt) (*PairingResult, error) {
	d := framecodec.NewDeframer()
	state := stInit
	previousPinFailed := false

	send := func(cmd uint8, payload []byte) error {
		p := &Packet{Version: 1, Command: cmd, Address: PackAddress(0, 0), Payload: payload}
		return sock.Send(ctx, framecodec.Frame(p.EncodePairing()))
	}
	recv := func(want uint8) (*Packet, error) {
		for {
			raw, err := sock.Recv(ctx)
			if err != nil {
				return nil, &BluetoothIOError{Err: err}
			}
			for _, payload := range d.Feed(raw) {
				p, err := DecodePairing(payload)
				if err != nil {
					return nil, err
				}
				if p.Command != want {
					return nil, &ProtocolError{Msg: fmt.Sprintf("expected command %d during pairing, got %d", want, p.Command)}
				}
				return p, nil
			}
		}
	}

	state = stReqPairingConn
	if err := send(CmdReqPairingConn, nil); err != nil {
		return nil, err
	}
	if _, err := recv(CmdPairConnAccepted); err != nil {
		return nil, err
	}
	state = stPairConnAccepted

	state = stReqKeys
	if err := send(CmdReqKeys, nil); err != nil {
		return nil, err
	}

	if _, err := recv(CmdPinRequested); err != nil {
		return nil, err
	}
	state = stPinRequested

	for {
		pin, perr := prompt.AskPIN(ctx, addr, previousPinFailed)
		if perr != nil {
			return nil, &PairingAbortedError{Reason: perr.Error()}
		}
		weakKey := cryptoprim.DeriveWeakKey(pin)

		kr, rerr := recv(CmdKeyResponse)
		if rerr != nil {
			return nil, rerr
		}
		state = stKeyResponse

		invariant, kerr := decodeKeyResponse(kr, weakKey)
		if kerr != nil {
			previousPinFailed = true
			if err := send(CmdReqKeys, nil); err != nil {
				return nil, err
			}
			continue
		}
		return finishPairing(ctx, sock, d, send, recv, invariant, state)
	}
}

// decodeKeyResponse splits the 32-byte KEY_RESPONSE payload into two
// 16-byte halves, decrypting each with the PIN-derived weak key to
// recover clientPumpCipher and pumpClientCipher, and reverses the
// nibbles of the packet's address byte to obtain keyResponseAddress
// (spec §4.C).
func decodeKeyResponse(p *Packet, weakKey cryptoprim.Key) (store.InvariantData, error) {
	if len(p.Payload) < 32 {
		return store.InvariantData{}, &ProtocolError{Msg: "KEY_RESPONSE payload too short"}
	}
	var half1, half2 [16]byte
	copy(half1[:], p.Payload[0:16])
	copy(half2[:], p.Payload[16:32])

	clientPump, err := cryptoprim.DecryptBlock(weakKey, half1)
	if err != nil {
		return store.InvariantData{}, err
	}
	pumpClient, err := cryptoprim.DecryptBlock(weakKey, half2)
	if err != nil {
		return store.InvariantData{}, err
	}

	src, dst := SrcDst(p.Address)
	reversed := PackAddress(dst, src)

	return store.InvariantData{
		ClientPumpCipher:   cryptoprim.Key(clientPump),
		PumpClientCipher:   cryptoprim.Key(pumpClient),
		KeyResponseAddress: reversed,
	}, nil
}

func finishPairing(
	ctx context.Context,
	sock btio.Socket,
	d *framecodec.Deframer,
	send func(uint8, []byte) error,
	recv func(uint8) (*Packet, error),
	invariant store.InvariantData,
	_ pairingState,
) (*PairingResult, error) {
	if err := send(CmdReqID, nil); err != nil {
		return nil, err
	}
	idResp, err := recv(CmdIDResponse)
	if err != nil {
		return nil, err
	}
	if len(idResp.Payload) < 4 {
		return nil, &ProtocolError{Msg: "ID_RESPONSE payload too short"}
	}
	invariant.PumpID = string(idResp.Payload[4:])

	if err := send(CmdReqRegConn, nil); err != nil {
		return nil, err
	}
	if _, err := recv(CmdRegConnAccepted); err != nil {
		return nil, err
	}

	if err := send(CmdAppCtrlConnect, nil); err != nil {
		return nil, err
	}
	if _, err := recv(CmdAppCtrlConnectResp); err != nil {
		return nil, err
	}

	if err := send(CmdAppCtrlBind, nil); err != nil {
		return nil, err
	}
	if _, err := recv(CmdAppCtrlBindResp); err != nil {
		return nil, err
	}

	if err := send(CmdPairingDisconnect, nil); err != nil {
		return nil, err
	}

	return &PairingResult{Invariant: invariant}, nil
}
