package transport

import (
	"encoding/binary"
	"fmt"

	"github.com/agsys/combo-control/internal/cryptoprim"
)

// HeaderSize is the size in bytes of a transport packet header: version(1)
// + command(1) + payloadLength(2) + address(1) + nonce(13) + reserved(1).
const HeaderSize = 19

// commandMask/flag bits packed into the single command byte: the low 6
// bits hold the command code, bit 6 the sequence bit, bit 7 the
// reliability bit.
const (
	commandCodeMask  = 0x3F
	sequenceBitMask  = 0x40
	reliabilityMask  = 0x80
)

// Packet is a single transport-layer frame (spec §3).
type Packet struct {
	Version      uint8
	Command      uint8 // low 6 bits only; use SequenceBit/Reliable for flags
	SequenceBit  bool
	Reliable     bool
	Address      uint8
	Nonce        cryptoprim.Nonce
	Payload      []byte
	MAC          [cryptoprim.MACSize]byte
	CRC          uint16 // valid only for pairing-phase packets
}

// SrcDst splits the packed address byte into (source, destination)
// nibbles: upper nibble is source, lower nibble is destination.
func SrcDst(address uint8) (src, dst uint8) {
	return address >> 4, address & 0x0F
}

// PackAddress combines source/destination nibbles into a packed address
// byte.
func PackAddress(src, dst uint8) uint8 {
	return (src << 4) | (dst & 0x0F)
}

// headerBytes serializes everything except the MAC/CRC trailer: version,
// command+flags, payload length, address, nonce, reserved byte.
func (p *Packet) headerBytes() []byte {
	buf := make([]byte, HeaderSize)
	buf[0] = p.Version
	cmd := p.Command & commandCodeMask
	if p.SequenceBit {
		cmd |= sequenceBitMask
	}
	if p.Reliable {
		cmd |= reliabilityMask
	}
	buf[1] = cmd
	binary.LittleEndian.PutUint16(buf[2:4], uint16(len(p.Payload)))
	buf[4] = p.Address
	nb := p.Nonce.Bytes()
	copy(buf[5:18], nb[:])
	buf[18] = 0
	return buf
}

// EncodePairing serializes a pairing-phase packet: header + payload +
// 2-byte little-endian CRC-16 (zero MAC is implicit; pairing frames carry
// no MAC trailer on the wire).
func (p *Packet) EncodePairing() []byte {
	header := p.headerBytes()
	body := append(append([]byte{}, header...), p.Payload...)
	crc := cryptoprim.CRC16(body)
	out := make([]byte, 0, len(body)+2)
	out = append(out, body...)
	out = append(out, byte(crc), byte(crc>>8))
	return out
}

// EncodeAuthenticated serializes a post-pairing packet, computing the MAC
// over header+payload with key.
func (p *Packet) EncodeAuthenticated(key cryptoprim.Key) ([]byte, error) {
	header := p.headerBytes()
	body := append(append([]byte{}, header...), p.Payload...)
	mac, err := cryptoprim.MAC(key, body)
	if err != nil {
		return nil, fmt.Errorf("transport: mac: %w", err)
	}
	out := make([]byte, 0, len(body)+cryptoprim.MACSize)
	out = append(out, body...)
	out = append(out, mac[:]...)
	return out, nil
}

// DecodePairing parses a pairing-phase packet and verifies its CRC-16.
func DecodePairing(data []byte) (*Packet, error) {
	if len(data) < HeaderSize+2 {
		return nil, &ProtocolError{Msg: fmt.Sprintf("pairing packet too short: %d bytes", len(data))}
	}
	p, payloadEnd, err := decodeHeader(data)
	if err != nil {
		return nil, err
	}
	crcBytes := data[payloadEnd : payloadEnd+2]
	want := uint16(crcBytes[0]) | uint16(crcBytes[1])<<8
	got := cryptoprim.CRC16(data[:payloadEnd])
	if got != want {
		return nil, &CrcMismatchError{}
	}
	p.CRC = got
	return p, nil
}

// DecodeAuthenticated parses a post-pairing packet and verifies its MAC
// against key.
func DecodeAuthenticated(data []byte, key cryptoprim.Key) (*Packet, error) {
	if len(data) < HeaderSize+cryptoprim.MACSize {
		return nil, &ProtocolError{Msg: fmt.Sprintf("packet too short: %d bytes", len(data))}
	}
	p, payloadEnd, err := decodeHeader(data)
	if err != nil {
		return nil, err
	}
	macBytes := data[payloadEnd : payloadEnd+cryptoprim.MACSize]
	ok, err := cryptoprim.VerifyMAC(key, data[:payloadEnd], [cryptoprim.MACSize]byte(macBytes))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &MacMismatchError{}
	}
	copy(p.MAC[:], macBytes)
	return p, nil
}

func decodeHeader(data []byte) (*Packet, int, error) {
	if len(data) < HeaderSize {
		return nil, 0, &ProtocolError{Msg: fmt.Sprintf("header too short: %d bytes", len(data))}
	}
	p := &Packet{}
	p.Version = data[0]
	cmdByte := data[1]
	p.Command = cmdByte & commandCodeMask
	p.SequenceBit = cmdByte&sequenceBitMask != 0
	p.Reliable = cmdByte&reliabilityMask != 0
	payloadLen := int(binary.LittleEndian.Uint16(data[2:4]))
	p.Address = data[4]
	var nb [cryptoprim.NonceSize]byte
	copy(nb[:], data[5:18])
	p.Nonce = cryptoprim.NonceFromBytes(nb)

	payloadEnd := HeaderSize + payloadLen
	if payloadEnd > len(data) {
		return nil, 0, &ProtocolError{Msg: fmt.Sprintf("declared payload length %d exceeds packet size", payloadLen)}
	}
	p.Payload = append([]byte{}, data[HeaderSize:payloadEnd]...)
	return p, payloadEnd, nil
}
