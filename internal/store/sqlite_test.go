package store

import (
	"testing"
	"time"

	"github.com/agsys/combo-control/internal/cryptoprim"
)

func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleInvariant() InvariantData {
	var data InvariantData
	for i := range data.ClientPumpCipher {
		data.ClientPumpCipher[i] = byte(i)
		data.PumpClientCipher[i] = byte(0xFF - i)
	}
	data.KeyResponseAddress = 0x10
	data.PumpID = "PUMP_10230947"
	return data
}

func TestCreateHasDelete(t *testing.T) {
	s := openTestStore(t)
	const addr = "AA:BB:CC:DD:EE:FF"

	if has, _ := s.Has(addr); has {
		t.Fatal("Has reported true before Create")
	}
	if err := s.Create(addr, sampleInvariant()); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := s.Create(addr, sampleInvariant()); err == nil {
		t.Fatal("Create did not fail for an existing address")
	}
	if has, err := s.Has(addr); err != nil || !has {
		t.Fatalf("Has = %v, %v; want true, nil", has, err)
	}

	deleted, err := s.Delete(addr)
	if err != nil || !deleted {
		t.Fatalf("Delete = %v, %v; want true, nil", deleted, err)
	}
	if deleted, _ := s.Delete(addr); deleted {
		t.Fatal("Delete reported success on an already-deleted address")
	}
}

func TestListAddresses(t *testing.T) {
	s := openTestStore(t)
	want := []string{"11:11:11:11:11:11", "22:22:22:22:22:22"}
	for _, a := range want {
		if err := s.Create(a, sampleInvariant()); err != nil {
			t.Fatalf("Create(%s): %v", a, err)
		}
	}
	got, err := s.ListAddresses()
	if err != nil {
		t.Fatalf("ListAddresses: %v", err)
	}
	if len(got) != len(want) {
		t.Fatalf("ListAddresses = %v, want %v", got, want)
	}
}

func TestGetInvariantRoundTrip(t *testing.T) {
	s := openTestStore(t)
	const addr = "AA:BB:CC:DD:EE:FF"
	in := sampleInvariant()
	if err := s.Create(addr, in); err != nil {
		t.Fatalf("Create: %v", err)
	}
	out, err := s.GetInvariant(addr)
	if err != nil {
		t.Fatalf("GetInvariant: %v", err)
	}
	if out != in {
		t.Fatalf("GetInvariant = %+v, want %+v", out, in)
	}
}

func TestTxNonceMonotonic(t *testing.T) {
	s := openTestStore(t)
	const addr = "AA:BB:CC:DD:EE:FF"
	if err := s.Create(addr, sampleInvariant()); err != nil {
		t.Fatalf("Create: %v", err)
	}

	n, err := s.GetTxNonce(addr)
	if err != nil {
		t.Fatalf("GetTxNonce: %v", err)
	}
	if n != cryptoprim.ZeroNonce() {
		t.Fatalf("initial nonce = %x, want zero", n)
	}

	prev := n
	for i := 0; i < 50; i++ {
		next := prev.Increment(1)
		if err := s.SetTxNonce(addr, next); err != nil {
			t.Fatalf("SetTxNonce: %v", err)
		}
		got, err := s.GetTxNonce(addr)
		if err != nil {
			t.Fatalf("GetTxNonce: %v", err)
		}
		if !prev.Less(got) {
			t.Fatalf("persisted nonce did not strictly increase: %x -> %x", prev, got)
		}
		prev = got
	}
}

func TestUTCOffsetRoundTrip(t *testing.T) {
	s := openTestStore(t)
	const addr = "AA:BB:CC:DD:EE:FF"
	if err := s.Create(addr, sampleInvariant()); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := s.SetUTCOffset(addr, -18000); err != nil {
		t.Fatalf("SetUTCOffset: %v", err)
	}
	got, err := s.GetUTCOffset(addr)
	if err != nil {
		t.Fatalf("GetUTCOffset: %v", err)
	}
	if got != -18000 {
		t.Fatalf("GetUTCOffset = %d, want -18000", got)
	}
}

func TestTBRRoundTripAndClear(t *testing.T) {
	s := openTestStore(t)
	const addr = "AA:BB:CC:DD:EE:FF"
	if err := s.Create(addr, sampleInvariant()); err != nil {
		t.Fatalf("Create: %v", err)
	}

	if snap, err := s.GetTBR(addr); err != nil || snap != nil {
		t.Fatalf("GetTBR before set = %v, %v; want nil, nil", snap, err)
	}

	want := &TBRSnapshot{
		Timestamp:    time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		Percentage:   150,
		DurationMins: 120,
		Type:         1,
	}
	if err := s.SetTBR(addr, want); err != nil {
		t.Fatalf("SetTBR: %v", err)
	}
	got, err := s.GetTBR(addr)
	if err != nil {
		t.Fatalf("GetTBR: %v", err)
	}
	if got == nil || !got.Timestamp.Equal(want.Timestamp) || got.Percentage != want.Percentage ||
		got.DurationMins != want.DurationMins || got.Type != want.Type {
		t.Fatalf("GetTBR = %+v, want %+v", got, want)
	}

	if err := s.SetTBR(addr, nil); err != nil {
		t.Fatalf("SetTBR(nil): %v", err)
	}
	if snap, err := s.GetTBR(addr); err != nil || snap != nil {
		t.Fatalf("GetTBR after clear = %v, %v; want nil, nil", snap, err)
	}
}
