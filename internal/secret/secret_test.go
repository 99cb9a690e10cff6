package secret

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBytesSliceAndDestroy(t *testing.T) {
	orig := []byte("super secret")
	s := NewBytes(orig)
	assert.Equal(t, []byte("super secret"), s.Slice())
	s.Destroy()
	assert.Nil(t, s.Slice())
}

func TestBytesDestroyIsIdempotentAndNilSafe(t *testing.T) {
	var s *Bytes
	assert.NotPanics(t, func() { s.Destroy() })
	assert.Nil(t, s.Slice())

	s2 := NewBytes([]byte("x"))
	s2.Destroy()
	assert.NotPanics(t, func() { s2.Destroy() })
}

func TestIntValueAndDestroy(t *testing.T) {
	v := big.NewInt(424242)
	s := NewInt(v)
	assert.Equal(t, int64(424242), s.Value().Int64())
	s.Destroy()
	assert.Nil(t, s.Value())
}

func TestIntDestroyIsIdempotentAndNilSafe(t *testing.T) {
	var s *Int
	assert.NotPanics(t, func() { s.Destroy() })
	assert.Nil(t, s.Value())
}
