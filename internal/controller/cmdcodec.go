package controller

import (
	"encoding/binary"
	"time"
)

// CMD-mode payload layouts are not published in the protocol description
// this module is built from; the encodings below are this module's own
// choice, following the teacher's internal/protocol/messages.go style of
// a plain struct plus Encode/Decode functions, fixed-width fields,
// little-endian integers.

// DateTime is the CMD_READ_DATE_TIME response payload.
type DateTime struct {
	Year             uint16
	Month, Day       uint8
	Hour, Min, Sec   uint8
}

func encodeDateTime(t time.Time) []byte {
	b := make([]byte, 7)
	binary.LittleEndian.PutUint16(b[0:2], uint16(t.Year()))
	b[2] = uint8(t.Month())
	b[3] = uint8(t.Day())
	b[4] = uint8(t.Hour())
	b[5] = uint8(t.Minute())
	b[6] = uint8(t.Second())
	return b
}

func decodeDateTime(b []byte) (DateTime, error) {
	if len(b) < 7 {
		return DateTime{}, &CodecError{Field: "DateTime", Msg: "short payload"}
	}
	return DateTime{
		Year: binary.LittleEndian.Uint16(b[0:2]),
		Month: b[2], Day: b[3],
		Hour: b[4], Min: b[5], Sec: b[6],
	}, nil
}

// PumpStatus is the CMD_READ_PUMP_STATUS response payload: battery and
// reservoir gauges plus the currently running TBR, if any.
type PumpStatus struct {
	BatteryPercent    uint8
	ReservoirUnitsX10 uint16
	TBRActive         bool
	TBRPercent        uint8
	TBRRemainingMins  uint16
}

func decodePumpStatus(b []byte) (PumpStatus, error) {
	if len(b) < 7 {
		return PumpStatus{}, &CodecError{Field: "PumpStatus", Msg: "short payload"}
	}
	return PumpStatus{
		BatteryPercent:    b[0],
		ReservoirUnitsX10: binary.LittleEndian.Uint16(b[1:3]),
		TBRActive:         b[3] != 0,
		TBRPercent:        b[4],
		TBRRemainingMins:  binary.LittleEndian.Uint16(b[5:7]),
	}, nil
}

// BolusStatus is the CMD_GET_BOLUS_STATUS response payload.
type BolusStatus struct {
	Active           bool
	DeliveredUnitsX1000 uint32
	RequestedUnitsX1000 uint32
}

func decodeBolusStatus(b []byte) (BolusStatus, error) {
	if len(b) < 9 {
		return BolusStatus{}, &CodecError{Field: "BolusStatus", Msg: "short payload"}
	}
	return BolusStatus{
		Active:              b[0] != 0,
		DeliveredUnitsX1000: binary.LittleEndian.Uint32(b[1:5]),
		RequestedUnitsX1000: binary.LittleEndian.Uint32(b[5:9]),
	}, nil
}

// HistoryEvent is one decoded record from a CMD_READ_HISTORY_BLOCK
// response (spec §4.H fetchTddHistory / getCmdHistoryDelta).
type HistoryEvent struct {
	Timestamp time.Time
	EventType uint8
	ValueX1000 int32
}

// HistoryBlock is a full decoded history response: a sequence number
// used to acknowledge via CMD_CONFIRM_HISTORY_BLOCK, the events it
// carries, and Last, which the pump sets on the final block of a paged
// CMD_READ_HISTORY_BLOCK sequence (spec §4.D: "paginated; last block
// flagged").
type HistoryBlock struct {
	BlockSeq uint16
	Last     bool
	Events   []HistoryEvent
}

const historyEventSize = 9

func decodeHistoryBlock(b []byte) (HistoryBlock, error) {
	if len(b) < 3 {
		return HistoryBlock{}, &CodecError{Field: "HistoryBlock", Msg: "short payload"}
	}
	seq := binary.LittleEndian.Uint16(b[0:2])
	last := b[2] != 0
	rest := b[3:]
	if len(rest)%historyEventSize != 0 {
		return HistoryBlock{}, &CodecError{Field: "HistoryBlock", Msg: "truncated event list"}
	}
	n := len(rest) / historyEventSize
	events := make([]HistoryEvent, n)
	for i := 0; i < n; i++ {
		e := rest[i*historyEventSize : (i+1)*historyEventSize]
		epoch := int64(binary.LittleEndian.Uint32(e[0:4]))
		events[i] = HistoryEvent{
			Timestamp:  time.Unix(epoch, 0).UTC(),
			EventType:  e[4],
			ValueX1000: int32(binary.LittleEndian.Uint32(e[5:9])),
		}
	}
	return HistoryBlock{BlockSeq: seq, Last: last, Events: events}, nil
}

func encodeConfirmHistoryBlock(seq uint16) []byte {
	b := make([]byte, 2)
	binary.LittleEndian.PutUint16(b, seq)
	return b
}

func encodeDeliverBolus(unitsX1000 uint32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, unitsX1000)
	return b
}

// CodecError reports a malformed CMD-mode payload.
type CodecError struct {
	Field string
	Msg   string
}

func (e *CodecError) Error() string { return "controller: " + e.Field + ": " + e.Msg }
