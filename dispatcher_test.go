package otr

import (
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/katzenpost/otr3/internal/ake"
	"github.com/katzenpost/otr3/internal/dsa"
	"github.com/katzenpost/otr3/internal/session"
	"github.com/katzenpost/otr3/internal/wire"
)

type countingHost struct {
	NopHost
	multipleInstances int
	statusChanges     []InstanceTag
}

func (h *countingHost) MultipleInstancesDetected(SessionID) { h.multipleInstances++ }
func (h *countingHost) SessionStatusChanged(_ SessionID, tag InstanceTag, _ MessageState) {
	h.statusChanges = append(h.statusChanges, tag)
}

func testDispatcherKey(t *testing.T) *dsa.PrivateKey {
	params, err := dsa.GenerateParameters(nil, 128, 64)
	require.NoError(t, err)
	priv, err := dsa.GenerateKey(params, nil)
	require.NoError(t, err)
	return priv
}

func newTestDispatcher(t *testing.T, host Host) *dispatcher {
	key := testDispatcherKey(t)
	return newDispatcher("alice<->bob", key, InstanceTag(0x1000), rand.Reader, host)
}

func TestTargetRoutesV2ToMaster(t *testing.T) {
	d := newTestDispatcher(t, &countingHost{})
	sub, ok := d.target(wire.Header{Version: 2, Type: wire.MsgDHCommit})
	assert.True(t, ok)
	assert.Same(t, d.master, sub)
}

func TestTargetDropsMismatchedReceiver(t *testing.T) {
	d := newTestDispatcher(t, &countingHost{})
	_, ok := d.target(wire.Header{Version: 3, Sender: 0x2000, Receiver: 0x9999})
	assert.False(t, ok)
}

func TestTargetAcceptsBroadcastDHCommit(t *testing.T) {
	d := newTestDispatcher(t, &countingHost{})
	sub, ok := d.target(wire.Header{Version: 3, Type: wire.MsgDHCommit, Sender: 0, Receiver: 0})
	assert.True(t, ok)
	assert.Same(t, d.master, sub)
}

func TestTargetDropsSenderlessNonCommit(t *testing.T) {
	d := newTestDispatcher(t, &countingHost{})
	_, ok := d.target(wire.Header{Version: 3, Type: wire.MsgData, Sender: 0, Receiver: 0})
	assert.False(t, ok)
}

func TestTargetCreatesSubForKnownSender(t *testing.T) {
	d := newTestDispatcher(t, &countingHost{})
	sub, ok := d.target(wire.Header{Version: 3, Type: wire.MsgDHKey, Sender: 0x2000, Receiver: uint32(d.ourTag)})
	assert.True(t, ok)
	assert.Equal(t, InstanceTag(0x2000), sub.tag)
	assert.Same(t, sub, d.subs[InstanceTag(0x2000)])
}

func TestSubForCreatesDistinctSubsAndFiresMultipleInstances(t *testing.T) {
	host := &countingHost{}
	d := newTestDispatcher(t, host)

	subA := d.subFor(InstanceTag(0x2000))
	assert.Equal(t, 0, host.multipleInstances)

	subB := d.subFor(InstanceTag(0x3000))
	assert.Equal(t, 1, host.multipleInstances)

	assert.NotSame(t, subA, subB)

	// A third new instance must not re-fire the notification.
	d.subFor(InstanceTag(0x4000))
	assert.Equal(t, 1, host.multipleInstances)

	// Re-requesting an existing tag returns the same sub and does not
	// re-fire either.
	assert.Same(t, subA, d.subFor(InstanceTag(0x2000)))
	assert.Equal(t, 1, host.multipleInstances)
}

func TestSubForReplicatesAwaitingDHKeyStateFromMaster(t *testing.T) {
	d := newTestDispatcher(t, &countingHost{})

	masterState := &ake.StateAwaitingDHKey{Version: 3}
	d.master.ake.State = masterState

	sub := d.subFor(InstanceTag(0x2000))
	assert.Same(t, ake.State(masterState), sub.ake.State)
}

func TestSubForDoesNotReplicateWhenMasterIsIdle(t *testing.T) {
	d := newTestDispatcher(t, &countingHost{})
	sub := d.subFor(InstanceTag(0x2000))
	_, isNone := sub.ake.State.(ake.StateNone)
	assert.True(t, isNone)
}

func TestSubByTagTreatsMasterTagSpecially(t *testing.T) {
	d := newTestDispatcher(t, &countingHost{})
	assert.Same(t, d.master, d.subByTag(MasterTag))
	assert.NotSame(t, d.master, d.subByTag(InstanceTag(0x2000)))
}

func TestOnEncryptedAutoSwitchesOutboundFromMaster(t *testing.T) {
	host := &countingHost{}
	d := newTestDispatcher(t, host)
	sub := d.subFor(InstanceTag(0x2000))
	sub.state = session.StateEncrypted

	d.onEncrypted(sub)

	assert.Equal(t, InstanceTag(0x2000), d.outbound)
	assert.Contains(t, host.statusChanges, InstanceTag(0x2000))
}

func TestOnEncryptedDoesNotSwitchAwayFromAlreadyEncryptedOutbound(t *testing.T) {
	d := newTestDispatcher(t, &countingHost{})
	first := d.subFor(InstanceTag(0x2000))
	first.state = session.StateEncrypted
	d.onEncrypted(first)
	require.Equal(t, InstanceTag(0x2000), d.outbound)

	second := d.subFor(InstanceTag(0x3000))
	second.state = session.StateEncrypted
	d.onEncrypted(second)

	assert.Equal(t, InstanceTag(0x2000), d.outbound)
}
