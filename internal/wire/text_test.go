package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyPlaintextNoTag(t *testing.T) {
	f, err := ClassifyText("hello world")
	require.NoError(t, err)
	assert.Equal(t, FramePlaintext, f.Kind)
	assert.Equal(t, "hello world", f.Text)
	assert.Nil(t, f.Versions)
}

func TestClassifyPlaintextWithWhitespaceTag(t *testing.T) {
	tagged := EncodeWhitespaceTag("hi there", []int{2, 3})
	f, err := ClassifyText(tagged)
	require.NoError(t, err)
	assert.Equal(t, FramePlaintext, f.Kind)
	assert.Equal(t, "hi there", f.Text)
	assert.Equal(t, []int{2, 3}, f.Versions)
}

func TestClassifyQuery(t *testing.T) {
	f, err := ClassifyText(EncodeQuery([]int{2, 3}))
	require.NoError(t, err)
	assert.Equal(t, FrameQuery, f.Kind)
	assert.Equal(t, []int{2, 3}, f.QueryVersions)
}

func TestClassifyError(t *testing.T) {
	f, err := ClassifyText(EncodeError("oops"))
	require.NoError(t, err)
	assert.Equal(t, FrameError, f.Kind)
	assert.Equal(t, "oops", f.ErrorText)
}

func TestClassifyEncoded(t *testing.T) {
	raw := []byte{1, 2, 3, 4, 5}
	f, err := ClassifyText(EncodeEncoded(raw))
	require.NoError(t, err)
	assert.Equal(t, FrameEncoded, f.Kind)
	assert.Equal(t, raw, f.Encoded)
}

func TestClassifyEncodedBadBase64(t *testing.T) {
	_, err := ClassifyText("?OTR:not-valid-base64!!!.")
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestClassifyFragmentV2(t *testing.T) {
	f, err := ClassifyText("?OTR,1,3,abcdef,")
	require.NoError(t, err)
	require.Equal(t, FrameFragment, f.Kind)
	assert.Equal(t, 2, f.Fragment.Version)
	assert.Equal(t, 1, f.Fragment.K)
	assert.Equal(t, 3, f.Fragment.N)
	assert.Equal(t, "abcdef", f.Fragment.Piece)
}

func TestClassifyFragmentV3(t *testing.T) {
	f, err := ClassifyText("?OTR|100|200,1,2,deadbeef,")
	require.NoError(t, err)
	require.Equal(t, FrameFragment, f.Kind)
	assert.Equal(t, 3, f.Fragment.Version)
	assert.Equal(t, uint32(0x100), f.Fragment.Sender)
	assert.Equal(t, uint32(0x200), f.Fragment.Receiver)
	assert.Equal(t, "deadbeef", f.Fragment.Piece)
}

func TestClassifyFragmentV4(t *testing.T) {
	f, err := ClassifyText("?OTR|1|100|200,1,2,cafebabe,")
	require.NoError(t, err)
	require.Equal(t, FrameFragment, f.Kind)
	assert.Equal(t, 4, f.Fragment.Version)
	assert.Equal(t, uint32(1), f.Fragment.Identifier)
	assert.Equal(t, uint32(0x100), f.Fragment.Sender)
	assert.Equal(t, uint32(0x200), f.Fragment.Receiver)
}

func TestClassifyFragmentMalformed(t *testing.T) {
	_, err := ClassifyText("?OTR|bad,1,2,x,")
	assert.Error(t, err)
}
