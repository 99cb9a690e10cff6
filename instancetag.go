package otr

import (
	"crypto/rand"
	"encoding/binary"
	"io"
)

// InstanceTag identifies one logical endpoint of a conversation for the
// v3/v4 multi-instance dispatcher (spec.md §4.6). Values below 0x100 are
// reserved; 0 means "master" (no tag, or "any instance" on a receiver
// field).
type InstanceTag uint32

// MasterTag is the dispatcher's own pseudo-instance for v2 traffic and
// pre-AKE plaintext/query/error handling.
const MasterTag InstanceTag = 0

const minInstanceTag InstanceTag = 0x100

// GenerateInstanceTag draws a random tag in the non-reserved range
// [0x100, 0xFFFFFFFF], reading from rng (crypto/rand.Reader if nil).
func GenerateInstanceTag(rng io.Reader) (InstanceTag, error) {
	if rng == nil {
		rng = rand.Reader
	}
	var buf [4]byte
	for {
		if _, err := io.ReadFull(rng, buf[:]); err != nil {
			return 0, err
		}
		tag := InstanceTag(binary.BigEndian.Uint32(buf[:]))
		if tag >= minInstanceTag {
			return tag, nil
		}
	}
}
