// Package randsrc provides a deterministic, chacha20-seeded io.Reader for
// reproducible tests of the AKE and SMP state machines, where a fixed
// transcript (matching a known-good vector) requires fixed "random"
// exponents.
package randsrc

import (
	"encoding/binary"
	"sync"

	"github.com/katzenpost/chacha20"
)

// Deterministic is an io.Reader that derives an unbounded keystream from a
// fixed seed, so two Deterministic readers constructed with the same seed
// produce byte-for-byte identical output.
type Deterministic struct {
	mu  sync.Mutex
	c   *chacha20.Cipher
	ctr uint64
}

var zeroNonce [chacha20.NonceSize]byte

// New returns a Deterministic reader keyed from seed. seed is expanded or
// truncated to chacha20.KeySize bytes.
func New(seed []byte) *Deterministic {
	var key [chacha20.KeySize]byte
	if len(seed) > 0 {
		for i := range key {
			key[i] = seed[i%len(seed)]
		}
	}
	c, err := chacha20.New(key[:], zeroNonce[:])
	if err != nil {
		panic("randsrc: chacha20.New failed: " + err.Error())
	}
	return &Deterministic{c: c}
}

// Read fills p with the next len(p) keystream bytes. It never returns an
// error or a short read.
func (d *Deterministic) Read(p []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.c.KeyStream(p)
	d.ctr += uint64(len(p))
	return len(p), nil
}

// Uint32 draws four keystream bytes as a big-endian uint32, convenient for
// seeding small counters in tests without a second allocation.
func (d *Deterministic) Uint32() uint32 {
	var b [4]byte
	d.Read(b[:])
	return binary.BigEndian.Uint32(b[:])
}
