package cryptoprim

// DeriveWeakKey packs the 10-digit pairing PIN into a 16-byte key in the
// form the pump expects during KEY_RESPONSE decryption: each digit occupies
// the low nibble of one key byte (BCD-style), most significant digit
// first, with the remaining six trailing bytes zero-padded. This packing
// has not been checked against a captured KEY_RESPONSE: the S1 payload is
// incomplete (see DESIGN.md), so cryptoprim_test.go pins only the digit
// order for the S1 PIN 2 6 0 6 8 1 9 2 7 3.
func DeriveWeakKey(pin [10]uint8) Key {
	var key Key
	for i, d := range pin {
		key[i] = d & 0x0F
	}
	return key
}
