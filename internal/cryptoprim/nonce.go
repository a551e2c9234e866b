package cryptoprim

// NonceSize is the size in bytes of the transport nonce.
const NonceSize = 13

// Nonce is a 13-byte little-endian monotonic counter bound into every
// authenticated packet's MAC input.
type Nonce [NonceSize]byte

// ZeroNonce returns the nonce value used before any packet has been sent.
func ZeroNonce() Nonce {
	return Nonce{}
}

// Increment returns n+by as a new Nonce, wrapping on overflow of the
// 13-byte counter space (104 bits) rather than panicking; overflow is not
// reachable in practice at 1 packet/ms for thousands of years.
func (n Nonce) Increment(by uint64) Nonce {
	out := n
	carry := by
	for i := 0; i < NonceSize && carry > 0; i++ {
		sum := uint64(out[i]) + (carry & 0xFF)
		out[i] = byte(sum)
		carry = (carry >> 8) + (sum >> 8)
	}
	return out
}

// Bytes returns the little-endian wire representation.
func (n Nonce) Bytes() [NonceSize]byte {
	return n
}

// NonceFromBytes reconstructs a Nonce from its wire representation.
func NonceFromBytes(b [NonceSize]byte) Nonce {
	return Nonce(b)
}

// Less reports whether n is strictly less than other, compared as a
// 13-byte little-endian unsigned integer.
func (n Nonce) Less(other Nonce) bool {
	for i := NonceSize - 1; i >= 0; i-- {
		if n[i] != other[i] {
			return n[i] < other[i]
		}
	}
	return false
}
