package transport

import "fmt"

// BluetoothIOError wraps a lost connection or failed socket write (spec §7).
// Recovery: abort current op; mark transport failed; caller must reconnect.
type BluetoothIOError struct{ Err error }

func (e *BluetoothIOError) Error() string { return fmt.Sprintf("transport: bluetooth io: %v", e.Err) }
func (e *BluetoothIOError) Unwrap() error  { return e.Err }

// MacMismatchError is raised when an inbound packet's MAC does not
// verify. The packet is dropped; transport tears down only if the
// failure-rate threshold is exceeded (spec §7, §9).
type MacMismatchError struct{}

func (*MacMismatchError) Error() string { return "transport: mac mismatch" }

// CrcMismatchError is the pairing-phase analogue of MacMismatchError.
type CrcMismatchError struct{}

func (*CrcMismatchError) Error() string { return "transport: crc mismatch" }

// NonceReplayError is raised when an inbound packet's nonce does not
// exceed the last accepted nonce from the pump. The packet is dropped.
type NonceReplayError struct{}

func (*NonceReplayError) Error() string { return "transport: nonce replay" }

// ProtocolError signals an unexpected command or invalid state transition.
// Fatal to the current operation; tears down the transport.
type ProtocolError struct{ Msg string }

func (e *ProtocolError) Error() string { return "transport: protocol error: " + e.Msg }

// PairingAbortedError is raised when the pairing PIN callback rejects or
// the pump rejects the PIN. Rolls back the store entry and the OS-level
// Bluetooth pairing.
type PairingAbortedError struct{ Reason string }

func (e *PairingAbortedError) Error() string { return "transport: pairing aborted: " + e.Reason }

// CancelledError wraps cooperative cancellation; re-raised by the caller
// after cleanup (spec §7).
type CancelledError struct{ Err error }

func (e *CancelledError) Error() string { return fmt.Sprintf("transport: cancelled: %v", e.Err) }
func (e *CancelledError) Unwrap() error  { return e.Err }

// ErrTransportFailed is returned by Send/Receive once the background
// worker has failed; the caller must disconnect and reconnect.
type ErrTransportFailed struct{ Cause error }

func (e *ErrTransportFailed) Error() string {
	return fmt.Sprintf("transport: failed: %v", e.Cause)
}
func (e *ErrTransportFailed) Unwrap() error { return e.Cause }
