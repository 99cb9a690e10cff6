// Package fragment implements the OTR fragmenter and assembler (spec
// component C2): splitting an outbound encoded message into a sequence
// of size-bounded text fragments, and reassembling inbound fragments
// into the original encoded message.
package fragment

import (
	"encoding/base64"
	"errors"
	"strings"

	"github.com/katzenpost/otr3/internal/wire"
)

// Header sizes in bytes, per spec.md §4.2. v2's is an upper bound (the
// header's digit fields are variable width); v3 and v4 are constant.
const (
	HeaderMaxV2 = 18
	HeaderV3    = 36
	HeaderV4    = 45
)

var (
	// ErrTooSmall signals that maxFragmentSize leaves no room for payload.
	ErrTooSmall = errors.New("fragment: fragment too small")
	// ErrTooManyFragments signals a fragment count outside [1, 65535].
	ErrTooManyFragments = errors.New("fragment: too many fragments")
	// ErrAlreadyFramed signals an attempt to fragment text framing or
	// an already-fragmented payload, both rejected per spec.md §9.
	ErrAlreadyFramed = errors.New("fragment: input is already framed text, refusing to re-fragment")
	// ErrOutOfOrder signals a non-consecutive fragment index.
	ErrOutOfOrder = errors.New("fragment: fragment received out of order")
)

func headerSize(version int) int {
	switch version {
	case 2:
		return HeaderMaxV2
	case 3:
		return HeaderV3
	default:
		return HeaderV4
	}
}

// Fragment splits an outbound encoded message (the raw bytes produced by
// wire.Message.Encode, not yet base64-wrapped) into an ordered sequence
// of "?OTR..." text fragments no longer than maxFragmentSize bytes each.
//
// identifier is only meaningful for version 4; callers should pass a
// fresh random value per logical message and repeat it across all of
// that message's fragments.
func Fragment(version int, identifier, sender, receiver uint32, encoded []byte, maxFragmentSize int) ([]string, error) {
	if strings.HasPrefix(string(encoded), "?OTR") {
		return nil, ErrAlreadyFramed
	}

	body := base64.StdEncoding.EncodeToString(encoded)
	hdr := headerSize(version)
	payloadSize := maxFragmentSize - hdr
	if payloadSize <= 0 {
		return nil, ErrTooSmall
	}

	count := (len(body) + payloadSize - 1) / payloadSize
	if count == 0 {
		count = 1
	}
	if count < 1 || count > 65535 {
		return nil, ErrTooManyFragments
	}

	frags := make([]string, 0, count)
	for i := 0; i < count; i++ {
		start := i * payloadSize
		end := start + payloadSize
		if end > len(body) {
			end = len(body)
		}
		piece := body[start:end]
		frags = append(frags, renderHeader(version, identifier, sender, receiver, i+1, count)+piece+",")
	}
	return frags, nil
}

func renderHeader(version int, identifier, sender, receiver uint32, k, n int) string {
	var b strings.Builder
	b.WriteString("?OTR")
	switch version {
	case 2:
		b.WriteByte(',')
	case 3:
		b.WriteByte('|')
		writeHex(&b, sender)
		b.WriteByte('|')
		writeHex(&b, receiver)
		b.WriteByte(',')
	default:
		b.WriteByte('|')
		writeHex(&b, identifier)
		b.WriteByte('|')
		writeHex(&b, sender)
		b.WriteByte('|')
		writeHex(&b, receiver)
		b.WriteByte(',')
	}
	for _, v := range [2]int{k, n} {
		// v3/v4 zero-pad k and n to five digits, keeping the header length fixed.
		if version != 2 {
			for d := 10000; d > 1 && v < d; d /= 10 {
				b.WriteByte('0')
			}
		}
		writeInt(&b, v)
		b.WriteByte(',')
	}
	return b.String()
}

func writeHex(b *strings.Builder, v uint32) {
	const hexdigits = "0123456789abcdef"
	var tmp [8]byte
	for i := 7; i >= 0; i-- {
		tmp[i] = hexdigits[v&0xf]
		v >>= 4
	}
	b.Write(tmp[:])
}

func writeInt(b *strings.Builder, v int) {
	if v == 0 {
		b.WriteByte('0')
		return
	}
	var tmp [20]byte
	i := len(tmp)
	for v > 0 {
		i--
		tmp[i] = byte('0' + v%10)
		v /= 10
	}
	b.Write(tmp[i:])
}

// pending is one in-progress reassembly buffer for a single remote
// instance tag.
type pending struct {
	n      int
	have   int // highest k accumulated, consecutively, so far
	pieces []string
}

// Assembler reassembles inbound fragments into complete encoded
// messages, keyed by the sending peer's instance tag (0 for v2, which
// carries no instance tags and so shares a single buffer).
type Assembler struct {
	ourTag  uint32
	buffers map[uint32]*pending
}

// NewAssembler returns an Assembler that discards fragments addressed
// to a receiver instance tag other than ourTag (0 accepts everything,
// matching the "any/unknown" convention of spec.md §3).
func NewAssembler(ourTag uint32) *Assembler {
	return &Assembler{ourTag: ourTag, buffers: make(map[uint32]*pending)}
}

// Result is the outcome of feeding one line to Accumulate.
type Result int

const (
	// ResultPending means more fragments are needed.
	ResultPending Result = iota
	// ResultComplete means Complete holds the fully reassembled message.
	ResultComplete
	// ResultUnknownInstance means the fragment was addressed to a
	// different receiver instance tag and was discarded without
	// mutating any buffer.
	ResultUnknownInstance
)

// Accumulate feeds one parsed fragment header + piece into the
// assembler. The caller is responsible for recognizing fragment lines
// via wire.ClassifyText and passing the resulting header through.
func (a *Assembler) Accumulate(h wire.FragmentHeader) (Result, []byte, error) {
	if h.Receiver != 0 && a.ourTag != 0 && h.Receiver != a.ourTag {
		return ResultUnknownInstance, nil, nil
	}
	if h.K < 1 || h.N < 1 || h.K > h.N || h.N > 65535 {
		return ResultPending, nil, ErrOutOfOrder
	}

	key := h.Sender
	buf, ok := a.buffers[key]

	if h.K == 1 {
		buf = &pending{n: h.N, have: 1, pieces: []string{h.Piece}}
		a.buffers[key] = buf
	} else if !ok || buf.n != h.N || h.K != buf.have+1 {
		delete(a.buffers, key)
		return ResultPending, nil, ErrOutOfOrder
	} else {
		buf.pieces = append(buf.pieces, h.Piece)
		buf.have = h.K
	}

	if buf.have == buf.n {
		delete(a.buffers, key)
		body := strings.Join(buf.pieces, "")
		raw, err := base64.StdEncoding.DecodeString(body)
		if err != nil {
			return ResultPending, nil, wire.ErrMalformed
		}
		return ResultComplete, raw, nil
	}
	return ResultPending, nil, nil
}
