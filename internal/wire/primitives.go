// Package wire implements the OTR binary encoding (primitives and message
// types) and the text framings (query tag, whitespace tag, error message,
// fragment header) that the session, AKE, and SMP state machines consume
// and produce.
package wire

import (
	"encoding/binary"
	"errors"
	"math/big"
)

// ErrMalformed signals framing or length corruption in an encoded buffer.
var ErrMalformed = errors.New("wire: malformed message")

// ErrLengthTooLarge signals a DATA length prefix exceeding the maximum
// decodable size of 2^31 - 8 bytes.
var ErrLengthTooLarge = errors.New("wire: length too large")

// ErrUnknownType signals a discriminator byte this codec does not
// recognize. Distinct from ErrMalformed so callers (the dispatcher) may
// choose to ignore rather than abort on this category.
var ErrUnknownType = errors.New("wire: unknown type")

const maxDataLength = (1 << 31) - 8

// Writer accumulates the binary encoding of OTR primitives, mirroring
// otr4j's OtrOutputStream.
type Writer struct {
	buf []byte
}

// NewWriter returns an empty Writer.
func NewWriter() *Writer { return &Writer{} }

// Bytes returns the accumulated encoding.
func (w *Writer) Bytes() []byte { return w.buf }

// Byte appends a single BYTE.
func (w *Writer) Byte(b byte) *Writer {
	w.buf = append(w.buf, b)
	return w
}

// Short appends a SHORT (2 bytes, network order).
func (w *Writer) Short(v uint16) *Writer {
	var tmp [2]byte
	binary.BigEndian.PutUint16(tmp[:], v)
	w.buf = append(w.buf, tmp[:]...)
	return w
}

// Int appends an INT (4 bytes, network order).
func (w *Writer) Int(v uint32) *Writer {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], v)
	w.buf = append(w.buf, tmp[:]...)
	return w
}

// Long appends a LONG (8 bytes, network order).
func (w *Writer) Long(v uint64) *Writer {
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], v)
	w.buf = append(w.buf, tmp[:]...)
	return w
}

// Data appends a DATA value: an INT length prefix followed by the bytes.
func (w *Writer) Data(b []byte) *Writer {
	w.Int(uint32(len(b)))
	w.buf = append(w.buf, b...)
	return w
}

// Fixed appends raw bytes with no length prefix (CTR, MAC, NONCE, ...).
func (w *Writer) Fixed(b []byte) *Writer {
	w.buf = append(w.buf, b...)
	return w
}

// MPI appends an MPI: an INT length prefix followed by the minimal
// unsigned big-endian magnitude. A zero value encodes as a zero-length
// DATA, matching otr4j's BigInteger(0).toByteArray() stripping.
func (w *Writer) MPI(v *big.Int) *Writer {
	if v == nil || v.Sign() == 0 {
		return w.Data(nil)
	}
	return w.Data(v.Bytes())
}

// DSAPublicKey appends a DSA-PUBKEY: SHORT type=0 followed by the four
// MPIs p, q, g, y.
func (w *Writer) DSAPublicKey(p, q, g, y *big.Int) *Writer {
	w.Short(0)
	w.MPI(p)
	w.MPI(q)
	w.MPI(g)
	w.MPI(y)
	return w
}

// Reader consumes the binary encoding of OTR primitives, mirroring
// otr4j's OtrInputStream. Byte, Short, Int, Long and Fixed advance the
// cursor only on success; Data, MPI and DSAPublicKey may already have
// consumed a length prefix or earlier fields when they fail.
type Reader struct {
	buf []byte
	pos int
}

// NewReader wraps b for sequential decoding.
func NewReader(b []byte) *Reader { return &Reader{buf: b} }

// Remaining reports how many bytes are left to read.
func (r *Reader) Remaining() int { return len(r.buf) - r.pos }

// Rest returns (without consuming) every byte not yet read.
func (r *Reader) Rest() []byte { return r.buf[r.pos:] }

func (r *Reader) take(n int) ([]byte, error) {
	if n < 0 || r.pos+n > len(r.buf) {
		return nil, ErrMalformed
	}
	b := r.buf[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

// Byte reads a single BYTE.
func (r *Reader) Byte() (byte, error) {
	b, err := r.take(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

// Short reads a SHORT.
func (r *Reader) Short() (uint16, error) {
	b, err := r.take(2)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b), nil
}

// Int reads an INT.
func (r *Reader) Int() (uint32, error) {
	b, err := r.take(4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b), nil
}

// Long reads a LONG.
func (r *Reader) Long() (uint64, error) {
	b, err := r.take(8)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(b), nil
}

// Data reads a DATA value, rejecting a decoded length above the maximum
// representable size (2^31 - 8 bytes, per spec).
func (r *Reader) Data() ([]byte, error) {
	n, err := r.Int()
	if err != nil {
		return nil, err
	}
	if n > maxDataLength {
		return nil, ErrLengthTooLarge
	}
	return r.take(int(n))
}

// Fixed reads exactly n raw bytes (CTR, MAC, NONCE, Ed448 points, ...).
func (r *Reader) Fixed(n int) ([]byte, error) {
	return r.take(n)
}

// MPI reads an MPI as an unsigned big.Int.
func (r *Reader) MPI() (*big.Int, error) {
	b, err := r.Data()
	if err != nil {
		return nil, err
	}
	return new(big.Int).SetBytes(b), nil
}

// DSAPublicKey reads a DSA-PUBKEY: SHORT type (must be 0) followed by
// four MPIs p, q, g, y.
func (r *Reader) DSAPublicKey() (p, q, g, y *big.Int, err error) {
	typ, err := r.Short()
	if err != nil {
		return nil, nil, nil, nil, err
	}
	if typ != 0 {
		return nil, nil, nil, nil, ErrUnknownType
	}
	if p, err = r.MPI(); err != nil {
		return nil, nil, nil, nil, err
	}
	if q, err = r.MPI(); err != nil {
		return nil, nil, nil, nil, err
	}
	if g, err = r.MPI(); err != nil {
		return nil, nil, nil, nil, err
	}
	if y, err = r.MPI(); err != nil {
		return nil, nil, nil, nil, err
	}
	return p, q, g, y, nil
}

// Fixed-size primitive lengths, per spec.md §4.1.
const (
	CTRSize          = 8
	MACSize          = 20
	MACv4Size        = 64
	Ed448PointSize   = 57
	Ed448ScalarSize  = 57
	Ed448SigSize     = 114
	SSIDSize         = 8
	FingerprintSize  = 20
	FingerprintV4Len = 56
	NonceSize        = 24
)
