package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/agsys/combo-control/internal/cryptoprim"
)

const schema = `
CREATE TABLE IF NOT EXISTS pumps (
	address              TEXT PRIMARY KEY,
	client_pump_cipher   BLOB NOT NULL,
	pump_client_cipher   BLOB NOT NULL,
	key_response_address INTEGER NOT NULL,
	pump_id              TEXT NOT NULL,
	tx_nonce             BLOB NOT NULL,
	utc_offset_seconds   INTEGER NOT NULL DEFAULT 0,
	tbr_timestamp        TIMESTAMP,
	tbr_percentage       INTEGER,
	tbr_duration_mins    INTEGER,
	tbr_type             INTEGER,
	created_at           TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`

// SQLiteStore is the reference Store implementation backed by
// database/sql and mattn/go-sqlite3.
type SQLiteStore struct {
	db *sql.DB
}

// Open opens (creating if absent) a SQLite pump store at path and runs
// its migration.
func Open(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, &StoreAccessError{Op: "open", Err: err}
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, &StoreAccessError{Op: "migrate", Err: err}
	}
	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StoreAccessError{Op: op, Err: err}
}

// Create inserts a new pump entry, failing if one already exists for addr.
func (s *SQLiteStore) Create(addr string, data InvariantData) error {
	zero := cryptoprim.ZeroNonce()
	zb := zero.Bytes()
	_, err := s.db.Exec(`
		INSERT INTO pumps (address, client_pump_cipher, pump_client_cipher,
			key_response_address, pump_id, tx_nonce, utc_offset_seconds)
		VALUES (?, ?, ?, ?, ?, ?, 0)
	`, addr, data.ClientPumpCipher[:], data.PumpClientCipher[:],
		data.KeyResponseAddress, data.PumpID, zb[:])
	return wrap("create", err)
}

// Delete removes the pump entry for addr, reporting whether it existed.
func (s *SQLiteStore) Delete(addr string) (bool, error) {
	res, err := s.db.Exec(`DELETE FROM pumps WHERE address = ?`, addr)
	if err != nil {
		return false, wrap("delete", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, wrap("delete", err)
	}
	return n > 0, nil
}

// Has reports whether a pump entry exists for addr.
func (s *SQLiteStore) Has(addr string) (bool, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM pumps WHERE address = ?`, addr).Scan(&n)
	if err != nil {
		return false, wrap("has", err)
	}
	return n > 0, nil
}

// ListAddresses returns every paired pump's Bluetooth address.
func (s *SQLiteStore) ListAddresses() ([]string, error) {
	rows, err := s.db.Query(`SELECT address FROM pumps ORDER BY address`)
	if err != nil {
		return nil, wrap("list_addresses", err)
	}
	defer rows.Close()

	var addrs []string
	for rows.Next() {
		var a string
		if err := rows.Scan(&a); err != nil {
			return nil, wrap("list_addresses", err)
		}
		addrs = append(addrs, a)
	}
	return addrs, wrap("list_addresses", rows.Err())
}

// GetInvariant returns the immutable pairing data for addr.
func (s *SQLiteStore) GetInvariant(addr string) (InvariantData, error) {
	var data InvariantData
	var clientPump, pumpClient []byte
	var keyRespAddr int
	err := s.db.QueryRow(`
		SELECT client_pump_cipher, pump_client_cipher, key_response_address, pump_id
		FROM pumps WHERE address = ?
	`, addr).Scan(&clientPump, &pumpClient, &keyRespAddr, &data.PumpID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return InvariantData{}, wrap("get_invariant", fmt.Errorf("no pump for address %q", addr))
		}
		return InvariantData{}, wrap("get_invariant", err)
	}
	copy(data.ClientPumpCipher[:], clientPump)
	copy(data.PumpClientCipher[:], pumpClient)
	data.KeyResponseAddress = byte(keyRespAddr)
	return data, nil
}

// GetTxNonce returns the currently persisted outgoing nonce for addr.
func (s *SQLiteStore) GetTxNonce(addr string) (cryptoprim.Nonce, error) {
	var raw []byte
	err := s.db.QueryRow(`SELECT tx_nonce FROM pumps WHERE address = ?`, addr).Scan(&raw)
	if err != nil {
		return cryptoprim.Nonce{}, wrap("get_tx_nonce", err)
	}
	var n cryptoprim.Nonce
	copy(n[:], raw)
	return n, nil
}

// SetTxNonce durably persists the next outgoing nonce for addr.
func (s *SQLiteStore) SetTxNonce(addr string, n cryptoprim.Nonce) error {
	b := n.Bytes()
	res, err := s.db.Exec(`UPDATE pumps SET tx_nonce = ? WHERE address = ?`, b[:], addr)
	if err != nil {
		return wrap("set_tx_nonce", err)
	}
	return checkUpdated(res, "set_tx_nonce", addr)
}

// GetUTCOffset returns the last-confirmed UTC offset, in seconds, for addr.
func (s *SQLiteStore) GetUTCOffset(addr string) (int, error) {
	var v int
	err := s.db.QueryRow(`SELECT utc_offset_seconds FROM pumps WHERE address = ?`, addr).Scan(&v)
	return v, wrap("get_utc_offset", err)
}

// SetUTCOffset durably persists the UTC offset, in seconds, for addr.
func (s *SQLiteStore) SetUTCOffset(addr string, seconds int) error {
	res, err := s.db.Exec(`UPDATE pumps SET utc_offset_seconds = ? WHERE address = ?`, seconds, addr)
	if err != nil {
		return wrap("set_utc_offset", err)
	}
	return checkUpdated(res, "set_utc_offset", addr)
}

// GetTBR returns the last-confirmed TBR snapshot for addr, or nil if none
// has been set.
func (s *SQLiteStore) GetTBR(addr string) (*TBRSnapshot, error) {
	var ts sql.NullTime
	var pct, dur, typ sql.NullInt64
	err := s.db.QueryRow(`
		SELECT tbr_timestamp, tbr_percentage, tbr_duration_mins, tbr_type
		FROM pumps WHERE address = ?
	`, addr).Scan(&ts, &pct, &dur, &typ)
	if err != nil {
		return nil, wrap("get_tbr", err)
	}
	if !ts.Valid {
		return nil, nil
	}
	return &TBRSnapshot{
		Timestamp:    ts.Time,
		Percentage:   int(pct.Int64),
		DurationMins: int(dur.Int64),
		Type:         int(typ.Int64),
	}, nil
}

// SetTBR durably persists the TBR snapshot for addr, or clears it if
// snap is nil.
func (s *SQLiteStore) SetTBR(addr string, snap *TBRSnapshot) error {
	var res sql.Result
	var err error
	if snap == nil {
		res, err = s.db.Exec(`
			UPDATE pumps SET tbr_timestamp = NULL, tbr_percentage = NULL,
				tbr_duration_mins = NULL, tbr_type = NULL WHERE address = ?
		`, addr)
	} else {
		res, err = s.db.Exec(`
			UPDATE pumps SET tbr_timestamp = ?, tbr_percentage = ?,
				tbr_duration_mins = ?, tbr_type = ? WHERE address = ?
		`, snap.Timestamp.UTC().Format(time.RFC3339Nano), snap.Percentage, snap.DurationMins, snap.Type, addr)
	}
	if err != nil {
		return wrap("set_tbr", err)
	}
	return checkUpdated(res, "set_tbr", addr)
}

func checkUpdated(res sql.Result, op, addr string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return wrap(op, err)
	}
	if n == 0 {
		return wrap(op, fmt.Errorf("no pump for address %q", addr))
	}
	return nil
}
