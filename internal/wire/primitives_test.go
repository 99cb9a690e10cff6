package wire

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriterReaderPrimitivesRoundTrip(t *testing.T) {
	w := NewWriter()
	w.Byte(0x42).Short(0xbeef).Int(0xdeadbeef).Long(0x0102030405060708).
		Data([]byte("hello")).Fixed([]byte{1, 2, 3}).MPI(big.NewInt(12345))

	r := NewReader(w.Bytes())

	b, err := r.Byte()
	require.NoError(t, err)
	assert.Equal(t, byte(0x42), b)

	s, err := r.Short()
	require.NoError(t, err)
	assert.Equal(t, uint16(0xbeef), s)

	i, err := r.Int()
	require.NoError(t, err)
	assert.Equal(t, uint32(0xdeadbeef), i)

	l, err := r.Long()
	require.NoError(t, err)
	assert.Equal(t, uint64(0x0102030405060708), l)

	d, err := r.Data()
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), d)

	f, err := r.Fixed(3)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, f)

	m, err := r.MPI()
	require.NoError(t, err)
	assert.Equal(t, int64(12345), m.Int64())

	assert.Equal(t, 0, r.Remaining())
}

func TestMPIZeroEncodesEmpty(t *testing.T) {
	w := NewWriter().MPI(big.NewInt(0))
	assert.Equal(t, []byte{0, 0, 0, 0}, w.Bytes())

	r := NewReader(w.Bytes())
	v, err := r.MPI()
	require.NoError(t, err)
	assert.Equal(t, 0, v.Sign())
}

func TestMPINilTreatedAsZero(t *testing.T) {
	w := NewWriter().MPI(nil)
	assert.Equal(t, []byte{0, 0, 0, 0}, w.Bytes())
}

func TestDSAPublicKeyRoundTrip(t *testing.T) {
	p, q, g, y := big.NewInt(23), big.NewInt(11), big.NewInt(5), big.NewInt(17)
	w := NewWriter().DSAPublicKey(p, q, g, y)
	r := NewReader(w.Bytes())
	gp, gq, gg, gy, err := r.DSAPublicKey()
	require.NoError(t, err)
	assert.Equal(t, p, gp)
	assert.Equal(t, q, gq)
	assert.Equal(t, g, gg)
	assert.Equal(t, y, gy)
}

func TestReaderTruncatedBufferErrors(t *testing.T) {
	r := NewReader([]byte{0x00})
	_, err := r.Short()
	assert.Error(t, err)

	r2 := NewReader([]byte{0, 0, 0, 10, 1, 2})
	_, err = r2.Data()
	assert.Error(t, err)
}

func TestDataLengthTooLargeRejected(t *testing.T) {
	w := NewWriter()
	w.Int(uint32(maxDataLength) + 1)
	r := NewReader(w.Bytes())
	_, err := r.Data()
	assert.ErrorIs(t, err, ErrLengthTooLarge)
}
