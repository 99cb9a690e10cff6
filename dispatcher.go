package otr

import (
	"io"
	"math/big"

	"github.com/katzenpost/otr3/internal/ake"
	"github.com/katzenpost/otr3/internal/dsa"
	"github.com/katzenpost/otr3/internal/fragment"
	"github.com/katzenpost/otr3/internal/session"
	"github.com/katzenpost/otr3/internal/smp"
	"github.com/katzenpost/otr3/internal/wire"
)

// MessageState mirrors internal/session.MessageState for the public API
// surface, so Host implementations outside this module don't need to
// import an internal package.
type MessageState int

const (
	StatePlaintext MessageState = iota
	StateEncrypted
	StateFinished
)

func fromInternalState(s session.MessageState) MessageState { return MessageState(s) }

// subSession is one instance-tag-addressable leg of a conversation: its
// own AKE engine, encrypted session state, SMP engine, and message
// state, per spec.md §4.6.
type subSession struct {
	tag     InstanceTag
	version uint16
	ake     *ake.Engine
	enc     *session.EncryptedState
	smp     *smp.Engine
	state   session.MessageState

	ssid            [8]byte
	peerFingerprint []byte

	// pendingG2a/pendingG3a hold the initiator's SMP1 commitments while
	// the host gathers the local secret for RespondSMP.
	pendingG2a, pendingG3a *big.Int
}

func newSubSession(tag InstanceTag, localKey *dsa.PrivateKey, rng io.Reader) *subSession {
	return &subSession{tag: tag, ake: ake.New(localKey, rng), state: session.StatePlaintext}
}

// dispatcher maintains the master sub-session (v2 traffic, plus
// pre-instance plaintext/query/error handling) and the sender-tag-keyed
// map of v3/v4 sub-sessions, per spec.md §4.6.
type dispatcher struct {
	id       SessionID
	ourTag   InstanceTag
	localKey *dsa.PrivateKey
	rng      io.Reader

	master *subSession
	subs   map[InstanceTag]*subSession

	outbound InstanceTag // 0 selects master

	assembler *fragment.Assembler

	sawMultipleInstances bool

	host Host
}

func newDispatcher(id SessionID, localKey *dsa.PrivateKey, ourTag InstanceTag, rng io.Reader, host Host) *dispatcher {
	return &dispatcher{
		id:        id,
		ourTag:    ourTag,
		localKey:  localKey,
		rng:       rng,
		master:    newSubSession(MasterTag, localKey, rng),
		subs:      make(map[InstanceTag]*subSession),
		assembler: fragment.NewAssembler(uint32(ourTag)),
		host:      host,
	}
}

// subFor finds or creates the sub-session for a v3/v4 sender tag.
func (d *dispatcher) subFor(sender InstanceTag) *subSession {
	if sub, ok := d.subs[sender]; ok {
		return sub
	}
	sub := newSubSession(sender, d.localKey, d.rng)
	d.replicateAKEState(sub)
	d.subs[sender] = sub
	if len(d.subs) > 1 && !d.sawMultipleInstances {
		d.sawMultipleInstances = true
		safeCall(func() { d.host.MultipleInstancesDetected(d.id) }, "MultipleInstancesDetected")
	}
	return sub
}

// target resolves the sub-session an inbound encoded message addresses,
// applying the instance-tag discipline of spec.md §4.6: a non-zero
// receiver tag unequal to our tag is dropped; a zero sender tag on a
// v3/v4 message is dropped.
func (d *dispatcher) target(h wire.Header) (*subSession, bool) {
	if h.Version < 3 {
		return d.master, true
	}
	if h.Receiver != 0 && h.Receiver != uint32(d.ourTag) {
		return nil, false
	}
	if h.Sender == 0 {
		if h.Type == wire.MsgDHCommit {
			// Broadcast DH-Commit: routed to the master sub-session;
			// no per-instance sub-session is created for it. Any other
			// sender-less message is refused below.
			return d.master, true
		}
		return nil, false
	}
	return d.subFor(InstanceTag(h.Sender)), true
}

// subByTag resolves a tag to its sub-session, treating MasterTag as the
// dispatcher's own master leg rather than a v3/v4 instance.
func (d *dispatcher) subByTag(tag InstanceTag) *subSession {
	if tag == MasterTag {
		return d.master
	}
	return d.subFor(tag)
}

// onEncrypted is called whenever a sub-session transitions to
// ENCRYPTED; if the current outbound target is still plaintext, the
// master auto-switches outbound to the newly encrypted sub-session,
// per spec.md §4.6's last bullet.
func (d *dispatcher) onEncrypted(sub *subSession) {
	out := d.master
	if d.outbound != MasterTag {
		out = d.subFor(d.outbound)
	}
	if d.outbound == MasterTag || out.state != session.StateEncrypted {
		if sub.tag != MasterTag {
			d.outbound = sub.tag
		}
	}
	safeCall(func() { d.host.SessionStatusChanged(d.id, sub.tag, fromInternalState(sub.state)) }, "SessionStatusChanged")
}

// replicateAKEState copies the master's in-progress AwaitingDHKey state
// into a freshly discovered sub-session, so that multiple peer
// instances may each complete an AKE against our single outstanding
// DH-Commit (spec.md §4.6).
func (d *dispatcher) replicateAKEState(sub *subSession) {
	if st, ok := d.master.ake.State.(*ake.StateAwaitingDHKey); ok {
		sub.ake.State = st
	}
}

func safeCall(f func(), name string) {
	defer func() {
		if r := recover(); r != nil {
			logDispatch.Warningf("host callback %s panicked: %v", name, r)
		}
	}()
	f()
}

