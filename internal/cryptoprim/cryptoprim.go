// Package cryptoprim implements the fixed cryptographic primitives the Combo
// wire protocol is built on: a single AES-128 block operation, the MAC
// derived from it, a CRC-16 used only during pairing, and the weak key
// derived from a PIN during the pairing handshake.
package cryptoprim

import (
	"crypto/aes"
	"crypto/subtle"
	"fmt"
)

// KeySize is the size in bytes of a Combo cipher key.
const KeySize = 16

// MACSize is the size in bytes of a transport MAC.
const MACSize = 8

// Key is an opaque 128-bit cipher key (client->pump or pump->client).
type Key [KeySize]byte

// EncryptBlock encrypts a single 16-byte block with key using AES-128.
// The Combo protocol never chains blocks; every use is a single,
// independent 16-byte encryption.
func EncryptBlock(key Key, block [16]byte) ([16]byte, error) {
	c, err := aes.NewCipher(key[:])
	if err != nil {
		return [16]byte{}, fmt.Errorf("cryptoprim: new cipher: %w", err)
	}
	var out [16]byte
	c.Encrypt(out[:], block[:])
	return out, nil
}

// DecryptBlock decrypts a single 16-byte block with key using AES-128.
// Used only during the pairing handshake to recover the long-term cipher
// keys from the KEY_RESPONSE payload.
func DecryptBlock(key Key, block [16]byte) ([16]byte, error) {
	c, err := aes.NewCipher(key[:])
	if err != nil {
		return [16]byte{}, fmt.Errorf("cryptoprim: new cipher: %w", err)
	}
	var out [16]byte
	c.Decrypt(out[:], block[:])
	return out, nil
}

// MAC computes the 8-byte authentication tag over data using key: data is
// zero-padded to a multiple of 16 bytes, the resulting blocks are XORed
// together, the XOR result is encrypted with key, and the first 8 bytes
// of the ciphertext form the MAC.
func MAC(key Key, data []byte) ([MACSize]byte, error) {
	var acc [16]byte
	for i := 0; i < len(data); i += 16 {
		end := i + 16
		if end > len(data) {
			end = len(data)
		}
		var block [16]byte
		copy(block[:], data[i:end])
		for j := range block {
			acc[j] ^= block[j]
		}
	}
	enc, err := EncryptBlock(key, acc)
	if err != nil {
		return [MACSize]byte{}, err
	}
	var mac [MACSize]byte
	copy(mac[:], enc[:MACSize])
	return mac, nil
}

// VerifyMAC recomputes the MAC over data with key and compares it to want
// in constant time.
func VerifyMAC(key Key, data []byte, want [MACSize]byte) (bool, error) {
	got, err := MAC(key, data)
	if err != nil {
		return false, err
	}
	return subtle.ConstantTimeCompare(got[:], want[:]) == 1, nil
}

// crc16Table is precomputed for polynomial 0x1021, no reflection.
var crc16Table = buildCRC16Table()

func buildCRC16Table() [256]uint16 {
	const poly = 0x1021
	var table [256]uint16
	for i := 0; i < 256; i++ {
		crc := uint16(i) << 8
		for b := 0; b < 8; b++ {
			if crc&0x8000 != 0 {
				crc = (crc << 1) ^ poly
			} else {
				crc <<= 1
			}
		}
		table[i] = crc
	}
	return table
}

// CRC16 computes the pairing-phase checksum: polynomial 0x1021, initial
// value 0xFFFF, no input/output reflection. The caller places the result
// little-endian into the packet's two CRC payload bytes.
func CRC16(data []byte) uint16 {
	crc := uint16(0xFFFF)
	for _, b := range data {
		crc = (crc << 8) ^ crc16Table[byte(crc>>8)^b]
	}
	return crc
}
