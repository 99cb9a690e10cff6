package fragment

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/katzenpost/otr3/internal/wire"
)

func TestFragmentAndReassembleV3RoundTrip(t *testing.T) {
	payload := make([]byte, 500)
	for i := range payload {
		payload[i] = byte(i)
	}

	frags, err := Fragment(3, 0, 0x100, 0x200, payload, 60)
	require.NoError(t, err)
	require.Greater(t, len(frags), 1)

	asm := NewAssembler(0x200)
	var result []byte
	for _, line := range frags {
		f, err := wire.ClassifyText(line)
		require.NoError(t, err)
		require.Equal(t, wire.FrameFragment, f.Kind)
		res, raw, err := asm.Accumulate(f.Fragment)
		require.NoError(t, err)
		if res == ResultComplete {
			result = raw
		}
	}
	assert.Equal(t, payload, result)
}

func TestFragmentSingleFragmentWhenSmall(t *testing.T) {
	frags, err := Fragment(2, 0, 0, 0, []byte("hi"), 200)
	require.NoError(t, err)
	assert.Len(t, frags, 1)
}

func TestFragmentRejectsAlreadyFramed(t *testing.T) {
	_, err := Fragment(3, 0, 1, 2, []byte("?OTR:xyz."), 100)
	assert.ErrorIs(t, err, ErrAlreadyFramed)
}

func TestFragmentRejectsTooSmallBudget(t *testing.T) {
	_, err := Fragment(3, 0, 1, 2, []byte("payload"), HeaderV3)
	assert.ErrorIs(t, err, ErrTooSmall)
}

func TestAssemblerDiscardsWrongReceiver(t *testing.T) {
	asm := NewAssembler(0x200)
	res, _, err := asm.Accumulate(wire.FragmentHeader{Sender: 1, Receiver: 0x999, K: 1, N: 2, Piece: "abc"})
	require.NoError(t, err)
	assert.Equal(t, ResultUnknownInstance, res)
}

func TestAssemblerRejectsOutOfOrder(t *testing.T) {
	asm := NewAssembler(0)
	_, _, err := asm.Accumulate(wire.FragmentHeader{Sender: 1, K: 2, N: 3, Piece: "b"})
	assert.ErrorIs(t, err, ErrOutOfOrder)
}

func TestAssemblerResetsOnMismatchedRestart(t *testing.T) {
	asm := NewAssembler(0)
	_, _, err := asm.Accumulate(wire.FragmentHeader{Sender: 1, K: 1, N: 3, Piece: "a"})
	require.NoError(t, err)
	// A K=1 restart for the same sender discards the old buffer and starts fresh.
	res, _, err := asm.Accumulate(wire.FragmentHeader{Sender: 1, K: 1, N: 1, Piece: "aGk="})
	require.NoError(t, err)
	assert.Equal(t, ResultComplete, res)
}
