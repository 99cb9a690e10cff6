// Package secret holds cryptographic material that must be zeroed the
// moment it is retired: DH exponents, SMP working scalars, session AES
// and MAC keys, and the extra symmetric key. It wraps memguard so the
// underlying bytes are mlock'd and wiped rather than left for the
// garbage collector to find whenever it gets around to it.
package secret

import (
	"math/big"

	"github.com/awnumar/memguard"
)

// Bytes is a fixed-length secret byte string.
type Bytes struct {
	buf *memguard.LockedBuffer
}

// NewBytes copies b into a locked buffer and zeroes the caller's copy.
func NewBytes(b []byte) *Bytes {
	s := &Bytes{buf: memguard.NewBufferFromBytes(b)}
	return s
}

// Slice returns the current secret bytes. The returned slice aliases the
// locked buffer and must not be retained past the next Destroy call.
func (s *Bytes) Slice() []byte {
	if s == nil || s.buf == nil || !s.buf.IsAlive() {
		return nil
	}
	return s.buf.Bytes()
}

// Destroy wipes and unlocks the underlying memory. Safe to call more than
// once and on a nil receiver.
func (s *Bytes) Destroy() {
	if s == nil || s.buf == nil {
		return
	}
	s.buf.Destroy()
}

// Int is a big.Int that must be zeroed when retired: a DH exponent or an
// SMP working scalar (x2, x3, b3, ...).
type Int struct {
	v   *big.Int
	buf *memguard.LockedBuffer
}

// NewInt takes ownership of v; callers must not use v after this call.
func NewInt(v *big.Int) *Int {
	return &Int{v: v, buf: memguard.NewBufferFromBytes(v.Bytes())}
}

// Value returns the wrapped big.Int. It is valid until Destroy is called.
func (s *Int) Value() *big.Int {
	if s == nil {
		return nil
	}
	return s.v
}

// Destroy zeroes both the big.Int's internal words and the shadow locked
// buffer, then marks the value unusable.
func (s *Int) Destroy() {
	if s == nil {
		return
	}
	if s.v != nil {
		words := s.v.Bits()
		for i := range words {
			words[i] = 0
		}
		s.v.SetInt64(0)
		s.v = nil
	}
	if s.buf != nil {
		s.buf.Destroy()
	}
}
