package otr

import (
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/katzenpost/otr3/internal/dsa"
)

// fakeHost relays InjectMessage directly into the peer Conversation's
// Receive, and records the notifications a real host would act on.
type fakeHost struct {
	NopHost
	key    *dsa.PrivateKey
	peer   *Conversation
	policy Policy

	delivered []string
	verified  [][]byte
	smpErrors int
}

func (h *fakeHost) InjectMessage(id SessionID, text string) error {
	out, err := h.peer.Receive(text)
	if err != nil {
		return err
	}
	if out != "" {
		h.delivered = append(h.delivered, out)
	}
	return nil
}

func (h *fakeHost) GetLocalKeyPair(SessionID) (*dsa.PrivateKey, error) { return h.key, nil }
func (h *fakeHost) GetSessionPolicy(SessionID) Policy                 { return h.policy }
func (h *fakeHost) MaxFragmentSize(SessionID) int                     { return 1 << 20 }
func (h *fakeHost) Verify(id SessionID, fp []byte)                    { h.verified = append(h.verified, fp) }
func (h *fakeHost) SMPError(id SessionID, smpType int, cheated bool)  { h.smpErrors++ }

func testConvKey(t *testing.T) *dsa.PrivateKey {
	params, err := dsa.GenerateParameters(nil, 128, 64)
	require.NoError(t, err)
	priv, err := dsa.GenerateKey(params, nil)
	require.NoError(t, err)
	return priv
}

func newConversationPair(t *testing.T) (*Conversation, *fakeHost, *Conversation, *fakeHost) {
	pol := Policy{AllowV3: true}
	aliceHost := &fakeHost{key: testConvKey(t), policy: pol}
	bobHost := &fakeHost{key: testConvKey(t), policy: pol}

	alice, err := NewConversation("alice<->bob", aliceHost, rand.Reader)
	require.NoError(t, err)
	bob, err := NewConversation("bob<->alice", bobHost, rand.Reader)
	require.NoError(t, err)

	aliceHost.peer, bobHost.peer = bob, alice
	return alice, aliceHost, bob, bobHost
}

func TestConversationHandshakeReachesEncrypted(t *testing.T) {
	alice, aliceHost, bob, bobHost := newConversationPair(t)
	_ = aliceHost
	_ = bobHost

	require.NoError(t, alice.StartAKE(MasterTag))

	aliceSub := alice.d.subByTag(alice.d.outbound)
	bobSub := bob.d.subByTag(bob.d.outbound)
	assert.Equal(t, StateEncrypted, fromInternalState(aliceSub.state))
	assert.Equal(t, StateEncrypted, fromInternalState(bobSub.state))
	assert.Equal(t, aliceSub.ssid, bobSub.ssid)
}

func TestConversationSendReceiveAfterHandshake(t *testing.T) {
	alice, aliceHost, bob, _ := newConversationPair(t)
	require.NoError(t, alice.StartAKE(MasterTag))

	require.NoError(t, alice.Send("hello bob"))
	require.Contains(t, aliceHost.delivered, "hello bob")
	_ = bob
}

func TestConversationSMPSucceedsWithMatchingSecrets(t *testing.T) {
	alice, _, bob, bobHost := newConversationPair(t)
	require.NoError(t, alice.StartAKE(MasterTag))

	require.NoError(t, alice.InitSMP(alice.d.outbound, []byte("shared secret")))
	require.NoError(t, bob.RespondSMP(bob.d.outbound, []byte("shared secret")))

	aliceSub := alice.d.subByTag(alice.d.outbound)
	bobSub := bob.d.subByTag(bob.d.outbound)
	assert.NotNil(t, aliceSub.smp)
	assert.NotNil(t, bobSub.smp)
	assert.NotEmpty(t, bobHost.verified)
}

func TestConversationSMPFailsWithMismatchedSecrets(t *testing.T) {
	alice, aliceHost, bob, bobHost := newConversationPair(t)
	require.NoError(t, alice.StartAKE(MasterTag))

	require.NoError(t, alice.InitSMP(alice.d.outbound, []byte("correct secret")))
	require.NoError(t, bob.RespondSMP(bob.d.outbound, []byte("wrong secret")))

	assert.Greater(t, aliceHost.smpErrors+bobHost.smpErrors, 0)
}

func TestConversationEndSessionSendsDisconnect(t *testing.T) {
	alice, _, bob, _ := newConversationPair(t)
	require.NoError(t, alice.StartAKE(MasterTag))

	require.NoError(t, alice.EndSession(alice.d.outbound))

	bobSub := bob.d.subByTag(bob.d.outbound)
	assert.Equal(t, StateFinished, fromInternalState(bobSub.state))
}
