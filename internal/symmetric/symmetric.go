// Package symmetric implements the symmetric primitives the AKE and
// session layers build on top of: AES-128-CTR encryption, SHA-1/SHA-256
// keyed MACs, and the SHA-1/SHA-256 key-derivation hashes spec.md §4.3
// names for m1/m2/c/c' and their v4 SHA3-based counterparts.
package symmetric

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/sha1"
	"crypto/sha256"
	"errors"

	"golang.org/x/crypto/sha3"
)

// ErrKeySize signals a key of the wrong length for the requested cipher.
var ErrKeySize = errors.New("symmetric: invalid key size")

// CTREncrypt runs AES-CTR in place semantics, returning a fresh slice, with
// the given 16-byte key and 16-byte counter-derived IV (the 8-byte OTR wire
// counter followed by eight zero bytes).
func CTREncrypt(key, iv, plaintext []byte) ([]byte, error) {
	return ctrXOR(key, iv, plaintext)
}

// CTRDecrypt is identical to CTREncrypt: CTR mode is its own inverse.
func CTRDecrypt(key, iv, ciphertext []byte) ([]byte, error) {
	return ctrXOR(key, iv, ciphertext)
}

func ctrXOR(key, iv, in []byte) ([]byte, error) {
	if len(key) != 16 {
		return nil, ErrKeySize
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	var ivBlock [aes.BlockSize]byte
	copy(ivBlock[:], iv)
	stream := cipher.NewCTR(block, ivBlock[:])
	out := make([]byte, len(in))
	stream.XORKeyStream(out, in)
	return out, nil
}

// CounterIV places an 8-byte OTR counter in the high half of a 16-byte
// AES-CTR IV, leaving the low half zero (counter || 0^8), the
// convention spec.md §4.3 uses for data message encryption.
func CounterIV(counter [8]byte) [16]byte {
	var iv [16]byte
	copy(iv[:8], counter[:])
	return iv
}

// MAC20 computes the 20-byte HMAC-SHA1 the v2/v3 signature and data
// messages authenticate with.
func MAC20(key, message []byte) [20]byte {
	h := hmac.New(sha1.New, key)
	h.Write(message)
	var out [20]byte
	copy(out[:], h.Sum(nil))
	return out
}

// MAC32 computes a 32-byte HMAC-SHA256, used by the AKE for its signed
// transcript MACs and the MAC over the encrypted signature.
func MAC32(key, message []byte) [32]byte {
	h := hmac.New(sha256.New, key)
	h.Write(message)
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// MAC64 computes the 64-byte HMAC-SHA3-512 the v4 data message
// authenticates with.
func MAC64(key, message []byte) [64]byte {
	h := hmac.New(sha3.New512, key)
	h.Write(message)
	var out [64]byte
	copy(out[:], h.Sum(nil))
	return out
}

// Hash1 computes SHA-1.
func Hash1(data []byte) [20]byte {
	return sha1.Sum(data)
}

// Hash256 computes SHA-256, used by the session layer's MAC-key and extra
// symmetric key derivations.
func Hash256(data []byte) [32]byte {
	return sha256.Sum256(data)
}

// KDFv4 is OTRv4's SHAKE-256-based key derivation function: usageID is a
// single domain-separation byte, and outLen selects the output length in
// bytes. No other package of this module calls it.
func KDFv4(usageID byte, inputs []byte, outLen int) []byte {
	h := sha3.NewShake256()
	h.Write([]byte("OTR4"))
	h.Write([]byte{usageID})
	h.Write(inputs)
	out := make([]byte, outLen)
	h.Read(out)
	return out
}
