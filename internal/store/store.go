// Package store defines the external persistent-store contract for pump
// state (spec §4.B) and a SQLite-backed reference implementation.
package store

import (
	"time"

	"github.com/agsys/combo-control/internal/cryptoprim"
)

// InvariantData is the immutable-after-pairing data recorded for a pump.
type InvariantData struct {
	ClientPumpCipher   cryptoprim.Key
	PumpClientCipher   cryptoprim.Key
	KeyResponseAddress byte
	PumpID             string
}

// TBRSnapshot is the most recently confirmed temporary basal rate.
type TBRSnapshot struct {
	Timestamp    time.Time
	Percentage   int
	DurationMins int
	Type         int
}

// StoreAccessError wraps any failure in a Store implementation. It is
// unrecoverable for the affected pump and mandates re-pairing (spec §7).
type StoreAccessError struct {
	Op  string
	Err error
}

func (e *StoreAccessError) Error() string {
	return "store: " + e.Op + ": " + e.Err.Error()
}

func (e *StoreAccessError) Unwrap() error { return e.Err }

// Store is the narrow persistence contract the controller depends on.
// Every mutating method must be durable before it returns. Concurrent
// access to distinct addresses is allowed; same-address operations are
// serialized by the caller (internal/controller), not by the store.
type Store interface {
	Create(addr string, data InvariantData) error
	Delete(addr string) (bool, error)
	Has(addr string) (bool, error)
	ListAddresses() ([]string, error)

	GetInvariant(addr string) (InvariantData, error)
	GetTxNonce(addr string) (cryptoprim.Nonce, error)
	SetTxNonce(addr string, n cryptoprim.Nonce) error
	GetUTCOffset(addr string) (int, error)
	SetUTCOffset(addr string, seconds int) error
	GetTBR(addr string) (*TBRSnapshot, error)
	SetTBR(addr string, snap *TBRSnapshot) error
}
