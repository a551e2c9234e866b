// Package application implements the layer that rides inside transport
// DATA frames: service activation, RT-mode keep-alive, CMD request/response
// codecs, and the RT sequence counter (spec §4.D). It depends only on
// internal/transport for packet plumbing, not on any concrete Bluetooth or
// store implementation.
package application

import "encoding/binary"

// HeaderSize is the fixed 4-byte application header: majorVersion(1),
// minorVersion(1), then a 2-byte little-endian compound command id whose
// low byte is the service id and whose high byte is the command code
// within that service.
const HeaderSize = 4

// Service identifies one of the three recognized services.
type Service uint8

const (
	ServiceControl Service = 0x00
	ServiceCommand Service = 0x01
	ServiceRT      Service = 0x02
)

// Command is the compound (service, code) pair packed into the 16-bit
// commandID field: low byte service, high byte code.
type Command uint16

func newCommand(service Service, code uint8) Command {
	return Command(uint16(service) | uint16(code)<<8)
}

func (c Command) Service() Service { return Service(c & 0xFF) }
func (c Command) Code() uint8      { return uint8(c >> 8) }

// Control commands.
const (
	CmdCtrlConnect             = Command(0x0100 | uint16(ServiceControl))
	CmdCtrlConnectResponse     = Command(0x0200 | uint16(ServiceControl))
	CmdCtrlBind                = Command(0x0300 | uint16(ServiceControl))
	CmdCtrlBindResponse        = Command(0x0400 | uint16(ServiceControl))
	CmdCtrlActivateService     = Command(0x0500 | uint16(ServiceControl))
	CmdCtrlActivateServiceResp = Command(0x0600 | uint16(ServiceControl))
	CmdCtrlDeactivateAll       = Command(0x0700 | uint16(ServiceControl))
	CmdCtrlDeactivateAllResp   = Command(0x0800 | uint16(ServiceControl))
	CmdCtrlDisconnect          = Command(0x0900 | uint16(ServiceControl))
)

// CMD-mode commands.
const (
	CmdReadDateTime             = Command(0x0100 | uint16(ServiceCommand))
	CmdReadDateTimeResponse     = Command(0x0200 | uint16(ServiceCommand))
	CmdReadPumpStatus           = Command(0x0300 | uint16(ServiceCommand))
	CmdReadPumpStatusResponse   = Command(0x0400 | uint16(ServiceCommand))
	CmdReadErrorWarningStatus   = Command(0x0500 | uint16(ServiceCommand))
	CmdReadErrorWarningResponse = Command(0x0600 | uint16(ServiceCommand))
	CmdReadHistoryBlock         = Command(0x0700 | uint16(ServiceCommand))
	CmdReadHistoryBlockResponse = Command(0x0800 | uint16(ServiceCommand))
	CmdConfirmHistoryBlock      = Command(0x0900 | uint16(ServiceCommand))
	CmdDeliverBolus             = Command(0x0A00 | uint16(ServiceCommand))
	CmdDeliverBolusResponse     = Command(0x0B00 | uint16(ServiceCommand))
	CmdGetBolusStatus           = Command(0x0C00 | uint16(ServiceCommand))
	CmdGetBolusStatusResponse   = Command(0x0D00 | uint16(ServiceCommand))
	CmdCancelBolus              = Command(0x0E00 | uint16(ServiceCommand))
	CmdCancelBolusResponse      = Command(0x0F00 | uint16(ServiceCommand))
)

// RT-mode commands.
const (
	CmdRTKeepAlive    = Command(0x0100 | uint16(ServiceRT))
	CmdRTButtonStatus = Command(0x0200 | uint16(ServiceRT))
	CmdRTDisplay      = Command(0x0300 | uint16(ServiceRT))
	CmdRTAudio        = Command(0x0400 | uint16(ServiceRT))
	CmdRTVibration    = Command(0x0500 | uint16(ServiceRT))
	CmdRTPause        = Command(0x0600 | uint16(ServiceRT))
	CmdRTResume       = Command(0x0700 | uint16(ServiceRT))
)

// rtSequenced reports whether a command carries the 2-byte RT sequence
// prefix ahead of its payload (spec §4.D: every RT_BUTTON_STATUS and
// RT_DISPLAY packet).
func rtSequenced(cmd Command) bool {
	return cmd == CmdRTButtonStatus || cmd == CmdRTDisplay
}

// Header is the 4-byte application header.
type Header struct {
	MajorVersion uint8
	MinorVersion uint8
	Command      Command
}

// Packet is a decoded application-layer message.
type Packet struct {
	Header  Header
	Payload []byte
}

// Encode serializes header+payload. If cmd is RT-sequenced, seq is
// prepended to the payload as a little-endian uint16.
func Encode(major, minor uint8, cmd Command, payload []byte, seq uint16) []byte {
	body := payload
	if rtSequenced(cmd) {
		body = make([]byte, 2+len(payload))
		binary.LittleEndian.PutUint16(body[0:2], seq)
		copy(body[2:], payload)
	}
	buf := make([]byte, HeaderSize+len(body))
	buf[0] = major
	buf[1] = minor
	binary.LittleEndian.PutUint16(buf[2:4], uint16(cmd))
	copy(buf[HeaderSize:], body)
	return buf
}

// Decode parses header+payload; if the command is RT-sequenced the
// leading 2-byte sequence is split out and returned separately.
func Decode(data []byte) (Packet, uint16, error) {
	if len(data) < HeaderSize {
		return Packet{}, 0, &DecodeError{Msg: "application header too short"}
	}
	h := Header{
		MajorVersion: data[0],
		MinorVersion: data[1],
		Command:      Command(binary.LittleEndian.Uint16(data[2:4])),
	}
	body := append([]byte{}, data[HeaderSize:]...)

	var seq uint16
	if rtSequenced(h.Command) {
		if len(body) < 2 {
			return Packet{}, 0, &DecodeError{Msg: "RT packet missing sequence prefix"}
		}
		seq = binary.LittleEndian.Uint16(body[0:2])
		body = body[2:]
	}
	return Packet{Header: h, Payload: body}, seq, nil
}

// DecodeError reports a malformed application-layer packet.
type DecodeError struct{ Msg string }

func (e *DecodeError) Error() string { return "application: " + e.Msg }
