package otr

import (
	"crypto/rand"
	"encoding/binary"
	"io"

	"github.com/katzenpost/otr3/internal/ake"
	"github.com/katzenpost/otr3/internal/dsa"
	"github.com/katzenpost/otr3/internal/fragment"
	"github.com/katzenpost/otr3/internal/session"
	"github.com/katzenpost/otr3/internal/smp"
	"github.com/katzenpost/otr3/internal/wire"
)

// Conversation is the host-facing façade for one peer relationship. It
// owns a dispatcher (C6) and exposes the operations spec.md §4.6/§4.7
// name: Send, Receive, StartAKE, EndSession, InitSMP, RespondSMP,
// AbortSMP, SetOutboundInstance.
type Conversation struct {
	id   SessionID
	host Host
	rng  io.Reader
	d    *dispatcher
}

// NewConversation builds a Conversation for id, drawing the local
// long-term key pair from host and a fresh instance tag from rng
// (crypto/rand.Reader if nil).
func NewConversation(id SessionID, host Host, rng io.Reader) (*Conversation, error) {
	if rng == nil {
		rng = rand.Reader
	}
	localKey, err := host.GetLocalKeyPair(id)
	if err != nil {
		return nil, err
	}
	ourTag, err := GenerateInstanceTag(rng)
	if err != nil {
		return nil, err
	}
	return &Conversation{
		id:   id,
		host: host,
		rng:  rng,
		d:    newDispatcher(id, localKey, ourTag, rng, host),
	}, nil
}

// Send enqueues outbound text: encrypted if the current outbound
// sub-session is ENCRYPTED, plaintext (optionally whitespace-tagged)
// otherwise. It is the caller's only way to push application text onto
// the wire; everything else InjectMessage sends is protocol traffic.
func (c *Conversation) Send(text string) error {
	pol := c.host.GetSessionPolicy(c.id)
	sub := c.d.subByTag(c.d.outbound)
	if sub.state != session.StateEncrypted {
		if pol.RequireEncryption {
			return newStateError("send-requires-encryption")
		}
		out := text
		if pol.SendWhitespaceTag {
			out = wire.EncodeWhitespaceTag(text, pol.Versions())
		}
		return c.inject(out)
	}
	return c.sendData(sub, []byte(text), nil, 0)
}

// StartAKE begins a fresh AKE against instance, using the highest
// version the policy allows.
func (c *Conversation) StartAKE(instance InstanceTag) error {
	pol := c.host.GetSessionPolicy(c.id)
	versions := pol.Versions()
	if len(versions) == 0 {
		return newPolicyError("no-versions-allowed")
	}
	return c.startAKE(versions[0], instance)
}

func (c *Conversation) startAKE(version int, tag InstanceTag) error {
	pol := c.host.GetSessionPolicy(c.id)
	if !pol.Allows(version) {
		return newPolicyError("version-not-allowed")
	}
	sub := c.d.subByTag(tag)
	var sender uint32
	if version >= 3 {
		sender = uint32(c.d.ourTag)
	}
	msg, err := sub.ake.StartAKE(uint16(version), sender, 0)
	if err != nil {
		return newCryptoError("ake-start-failed", err)
	}
	return c.send(msg)
}

// EndSession sends a disconnect TLV and moves instance to FINISHED.
func (c *Conversation) EndSession(instance InstanceTag) error {
	sub := c.d.subByTag(instance)
	if sub.state != session.StateEncrypted {
		return nil
	}
	err := c.sendData(sub, nil, []session.TLV{{Type: session.TLVDisconnect}}, 0)
	sub.state = session.StateFinished
	safeCall(func() { c.host.SessionStatusChanged(c.id, sub.tag, fromInternalState(sub.state)) }, "SessionStatusChanged")
	return err
}

// SetOutboundInstance redirects Send's plaintext/encrypted target to a
// specific peer instance, overriding the dispatcher's auto-selection.
func (c *Conversation) SetOutboundInstance(instance InstanceTag) {
	c.d.outbound = instance
}

// InitSMP starts the Socialist Millionaires Protocol against instance
// as the initiator, comparing secret against the peer's answer.
func (c *Conversation) InitSMP(instance InstanceTag, secret []byte) error {
	sub := c.d.subByTag(instance)
	if sub.state != session.StateEncrypted {
		return newStateError("smp-requires-encryption")
	}
	sub.smp = smp.New(smp.RoleInitiator, c.rng)
	localFP := dsa.Fingerprint(&c.d.localKey.PublicKey)
	secretHash := smp.HashSecret(1, localFP, sub.peerFingerprint, sub.ssid[:], secret)
	m, err := sub.smp.Start(secretHash)
	if err != nil {
		return newCryptoError("smp-start-failed", err)
	}
	return c.sendData(sub, nil, []session.TLV{{Type: session.TLVSMP1, Value: m.Encode()}}, 0)
}

// RespondSMP answers a pending SMP1 request on instance with secret,
// after the host has prompted the user via AskForSecret.
func (c *Conversation) RespondSMP(instance InstanceTag, secret []byte) error {
	sub := c.d.subByTag(instance)
	if sub.smp == nil || sub.pendingG2a == nil || sub.pendingG3a == nil {
		return newStateError("smp-no-pending-request")
	}
	localFP := dsa.Fingerprint(&c.d.localKey.PublicKey)
	secretHash := smp.HashSecret(1, sub.peerFingerprint, localFP, sub.ssid[:], secret)
	m, err := sub.smp.Answer(sub.pendingG2a, sub.pendingG3a, secretHash)
	sub.pendingG2a, sub.pendingG3a = nil, nil
	if err != nil {
		return newCryptoError("smp-answer-failed", err)
	}
	return c.sendData(sub, nil, []session.TLV{{Type: session.TLVSMP2, Value: m.Encode()}}, 0)
}

// AbortSMP resets any in-progress SMP run on instance and notifies the
// peer with an abort TLV.
func (c *Conversation) AbortSMP(instance InstanceTag) error {
	sub := c.d.subByTag(instance)
	if sub.smp != nil {
		sub.smp.Abort()
	}
	if sub.state != session.StateEncrypted {
		return nil
	}
	return c.sendData(sub, nil, []session.TLV{{Type: session.TLVSMPAbort}}, 0)
}

// Receive feeds one inbound line of text through the text framing
// classifier and the appropriate protocol handler, returning any
// decrypted application text (empty when the line was protocol-only).
func (c *Conversation) Receive(text string) (string, error) {
	frame, err := wire.ClassifyText(text)
	if err != nil {
		return "", newProtocolError("malformed-text-frame", err)
	}
	switch frame.Kind {
	case wire.FramePlaintext:
		return c.receivePlaintext(frame), nil
	case wire.FrameQuery:
		c.receiveQuery(frame)
		return "", nil
	case wire.FrameError:
		safeCall(func() { c.host.ShowError(c.id, frame.ErrorText) }, "ShowError")
		if pol := c.host.GetSessionPolicy(c.id); pol.ErrorStartAKE {
			if versions := pol.Versions(); len(versions) > 0 {
				_ = c.startAKE(versions[0], MasterTag)
			}
		}
		return "", nil
	case wire.FrameFragment:
		res, raw, ferr := c.d.assembler.Accumulate(frame.Fragment)
		if ferr != nil {
			return "", newProtocolError("fragment-disorder", ferr)
		}
		if res == fragment.ResultComplete {
			return c.receiveEncoded(raw)
		}
		return "", nil
	case wire.FrameEncoded:
		return c.receiveEncoded(frame.Encoded)
	}
	return "", nil
}

func (c *Conversation) receivePlaintext(frame *wire.TextFrame) string {
	pol := c.host.GetSessionPolicy(c.id)
	if pol.RequireEncryption {
		safeCall(func() { c.host.UnencryptedMessageReceived(c.id, frame.Text) }, "UnencryptedMessageReceived")
	}
	if pol.WhitespaceStartAKE && len(frame.Versions) > 0 {
		if v := pol.best(frame.Versions); v >= 2 {
			_ = c.startAKE(v, MasterTag)
		}
	}
	return frame.Text
}

func (c *Conversation) receiveQuery(frame *wire.TextFrame) {
	pol := c.host.GetSessionPolicy(c.id)
	v := pol.best(frame.QueryVersions)
	if v < 2 {
		return
	}
	_ = c.startAKE(v, MasterTag)
}

func (c *Conversation) receiveEncoded(raw []byte) (string, error) {
	msg, err := wire.DecodeMessage(raw)
	if err != nil {
		if err == wire.ErrUnknownType {
			return "", nil
		}
		return "", newProtocolError("malformed-encoded-message", err)
	}
	h := messageHeader(msg)
	pol := c.host.GetSessionPolicy(c.id)
	if !pol.Allows(int(h.Version)) {
		return "", nil
	}

	sub, ok := c.d.target(h)
	if !ok {
		safeCall(func() { c.host.MessageFromAnotherInstance(c.id) }, "MessageFromAnotherInstance")
		return "", nil
	}

	switch m := msg.(type) {
	case *wire.DHCommitMessage:
		return "", c.handleDHCommit(sub, m)
	case *wire.DHKeyMessage:
		return "", c.handleDHKey(sub, m)
	case *wire.RevealSignatureMessage:
		return "", c.handleRevealSignature(sub, m)
	case *wire.SignatureMessage:
		return "", c.handleSignature(sub, m)
	case *wire.DataMessage:
		return c.handleData(sub, m)
	case *wire.IdentityMessage, *wire.AuthRMessage, *wire.AuthIMessage:
		// OTRv4 DAKE messages decode cleanly but this module does not
		// yet drive a v4 session to ENCRYPTED (see DESIGN.md).
		return "", nil
	}
	return "", nil
}

func (c *Conversation) handleDHCommit(sub *subSession, m *wire.DHCommitMessage) error {
	reply, err := sub.ake.HandleDHCommit(m)
	if err != nil {
		return newCryptoError("dh-commit-failed", err)
	}
	if reply == nil {
		return nil
	}
	c.tagAKEReply(reply, sub)
	return c.send(reply)
}

func (c *Conversation) handleDHKey(sub *subSession, m *wire.DHKeyMessage) error {
	reply, err := sub.ake.HandleDHKey(m)
	if err != nil {
		return newCryptoError("dh-key-failed", err)
	}
	if reply == nil {
		return nil
	}
	c.tagAKEReply(reply, sub)
	return c.send(reply)
}

func (c *Conversation) handleRevealSignature(sub *subSession, m *wire.RevealSignatureMessage) error {
	reply, result, err := sub.ake.HandleRevealSignature(m)
	if err != nil {
		return newCryptoError("reveal-signature-failed", err)
	}
	if reply == nil {
		return nil
	}
	if err := c.completeAKE(sub, result); err != nil {
		return err
	}
	c.tagAKEReply(reply, sub)
	return c.send(reply)
}

func (c *Conversation) handleSignature(sub *subSession, m *wire.SignatureMessage) error {
	result, err := sub.ake.HandleSignature(m)
	if err != nil {
		return newCryptoError("signature-failed", err)
	}
	if result == nil {
		return nil
	}
	return c.completeAKE(sub, result)
}

func (c *Conversation) completeAKE(sub *subSession, result *ake.Result) error {
	enc, err := session.NewEncryptedState(result.LocalX.Value(), result.RemoteDH, result.Shared.Value())
	if err != nil {
		return newCryptoError("session-key-init-failed", err)
	}
	sub.enc = enc
	sub.version = result.Version
	sub.ssid = result.SSID
	sub.peerFingerprint = dsa.Fingerprint(result.PeerPublic)
	sub.state = session.StateEncrypted
	c.d.onEncrypted(sub)
	return nil
}

func (c *Conversation) handleData(sub *subSession, m *wire.DataMessage) (string, error) {
	if sub.state != session.StateEncrypted || sub.enc == nil {
		c.rejectUnreadable(m)
		return "", newStateError("data-while-not-encrypted")
	}
	plaintext, tlvs, err := sub.enc.Decrypt(m)
	if err != nil {
		c.rejectUnreadable(m)
		return "", newCryptoError("data-decrypt-failed", err)
	}
	for _, t := range tlvs {
		if serr := c.handleTLV(sub, t); serr != nil {
			logSession.Warningf("tlv %d handling failed: %v", t.Type, serr)
		}
	}
	return string(plaintext), nil
}

func (c *Conversation) rejectUnreadable(m *wire.DataMessage) {
	if m.Flags&wire.FlagIgnoreUnreadable != 0 {
		return
	}
	safeCall(func() { c.host.UnreadableMessageReceived(c.id) }, "UnreadableMessageReceived")
	errText := c.host.GetReplyForUnreadableMessage(c.id)
	_ = c.inject(wire.EncodeError(errText))
}

func (c *Conversation) handleTLV(sub *subSession, t session.TLV) error {
	switch t.Type {
	case session.TLVDisconnect:
		sub.state = session.StateFinished
		safeCall(func() { c.host.SessionStatusChanged(c.id, sub.tag, fromInternalState(sub.state)) }, "SessionStatusChanged")
		return nil
	case session.TLVSMP1:
		return c.handleSMP1(sub, t.Value)
	case session.TLVSMP2:
		return c.handleSMP2(sub, t.Value)
	case session.TLVSMP3:
		return c.handleSMP3(sub, t.Value)
	case session.TLVSMP4:
		return c.handleSMP4(sub, t.Value)
	case session.TLVSMPAbort:
		if sub.smp != nil {
			sub.smp.Abort()
		}
		safeCall(func() { c.host.SMPAborted(c.id) }, "SMPAborted")
		return nil
	}
	return nil
}

func (c *Conversation) handleSMP1(sub *subSession, value []byte) error {
	m, err := smp.DecodeMessage1(value)
	if err != nil {
		c.smpFail(1, true)
		return err
	}
	if sub.smp == nil {
		sub.smp = smp.New(smp.RoleResponder, c.rng)
	}
	if err := sub.smp.ReceiveMessage1(m); err != nil {
		c.smpFail(1, true)
		return err
	}
	sub.pendingG2a, sub.pendingG3a = m.G2a, m.G3a
	safeCall(func() { c.host.AskForSecret(c.id, sub.tag, "") }, "AskForSecret")
	return nil
}

func (c *Conversation) handleSMP2(sub *subSession, value []byte) error {
	m, err := smp.DecodeMessage2(value)
	if err != nil {
		c.smpFail(2, true)
		return err
	}
	if sub.smp == nil {
		c.smpFail(2, true)
		return smp.ErrAbort
	}
	reply, err := sub.smp.ReceiveMessage2(m)
	if err != nil {
		c.smpFail(2, true)
		return err
	}
	return c.sendData(sub, nil, []session.TLV{{Type: session.TLVSMP3, Value: reply.Encode()}}, 0)
}

func (c *Conversation) handleSMP3(sub *subSession, value []byte) error {
	m, err := smp.DecodeMessage3(value)
	if err != nil {
		c.smpFail(3, true)
		return err
	}
	if sub.smp == nil {
		c.smpFail(3, true)
		return smp.ErrAbort
	}
	reply, err := sub.smp.ReceiveMessage3(m)
	if err != nil {
		c.smpFail(3, true)
		return err
	}
	c.finishSMP(sub)
	return c.sendData(sub, nil, []session.TLV{{Type: session.TLVSMP4, Value: reply.Encode()}}, 0)
}

func (c *Conversation) handleSMP4(sub *subSession, value []byte) error {
	m, err := smp.DecodeMessage4(value)
	if err != nil {
		c.smpFail(4, true)
		return err
	}
	if sub.smp == nil {
		c.smpFail(4, true)
		return smp.ErrAbort
	}
	if err := sub.smp.ReceiveMessage4(m); err != nil {
		c.smpFail(4, true)
		return err
	}
	c.finishSMP(sub)
	return nil
}

func (c *Conversation) finishSMP(sub *subSession) {
	switch sub.smp.Status {
	case smp.StatusSucceeded:
		safeCall(func() { c.host.Verify(c.id, sub.peerFingerprint) }, "Verify")
	case smp.StatusFailed, smp.StatusCheated:
		safeCall(func() { c.host.Unverify(c.id, sub.peerFingerprint) }, "Unverify")
		c.smpFail(4, sub.smp.Status == smp.StatusCheated)
	}
}

func (c *Conversation) smpFail(smpType int, cheated bool) {
	safeCall(func() { c.host.SMPError(c.id, smpType, cheated) }, "SMPError")
}

func (c *Conversation) sendData(sub *subSession, plaintext []byte, tlvs []session.TLV, flags byte) error {
	if sub.enc == nil {
		return newStateError("send-data-without-session")
	}
	m, err := sub.enc.Encrypt(plaintext, tlvs, flags)
	if err != nil {
		return newCryptoError("encrypt-failed", err)
	}
	m.Header = c.dataHeader(sub)
	return c.send(m)
}

// tagAKEReply stamps a v3/v4 reply produced by the AKE engine (which has
// no notion of instance tags) with our own tag and the sub-session's
// peer tag, mirroring how dataHeader tags outbound DATA messages.
func (c *Conversation) tagAKEReply(msg wire.Message, sub *subSession) {
	var h *wire.Header
	switch m := msg.(type) {
	case *wire.DHCommitMessage:
		h = &m.Header
	case *wire.DHKeyMessage:
		h = &m.Header
	case *wire.RevealSignatureMessage:
		h = &m.Header
	case *wire.SignatureMessage:
		h = &m.Header
	default:
		return
	}
	if h.Version >= 3 {
		h.Sender = uint32(c.d.ourTag)
		h.Receiver = uint32(sub.tag)
	}
}

func (c *Conversation) dataHeader(sub *subSession) wire.Header {
	h := wire.Header{Version: sub.version, Type: wire.MsgData}
	if sub.version >= 3 {
		h.Sender = uint32(c.d.ourTag)
		h.Receiver = uint32(sub.tag)
	}
	return h
}

// send encodes msg, fragmenting it if it exceeds the host's advertised
// fragment size, and injects the result (one or more lines) via
// Host.InjectMessage.
func (c *Conversation) send(msg wire.Message) error {
	h := messageHeader(msg)
	raw := msg.Encode()
	maxFrag := c.host.MaxFragmentSize(c.id)
	encoded := wire.EncodeEncoded(raw)
	if maxFrag <= 0 || len(encoded) <= maxFrag {
		return c.inject(encoded)
	}

	var identifier uint32
	if h.Version >= 4 {
		var b [4]byte
		if _, err := io.ReadFull(c.rng, b[:]); err != nil {
			return newCryptoError("fragment-identifier-failed", err)
		}
		identifier = binary.BigEndian.Uint32(b[:])
	}
	frags, err := fragment.Fragment(int(h.Version), identifier, h.Sender, h.Receiver, raw, maxFrag)
	if err != nil {
		return newProtocolError("fragment-failed", err)
	}
	for _, f := range frags {
		if err := c.inject(f); err != nil {
			return err
		}
	}
	return nil
}

func (c *Conversation) inject(text string) error {
	if err := c.host.InjectMessage(c.id, text); err != nil {
		return &HostError{Callback: "InjectMessage", Err: err}
	}
	return nil
}

func messageHeader(msg wire.Message) wire.Header {
	switch m := msg.(type) {
	case *wire.DHCommitMessage:
		return m.Header
	case *wire.DHKeyMessage:
		return m.Header
	case *wire.RevealSignatureMessage:
		return m.Header
	case *wire.SignatureMessage:
		return m.Header
	case *wire.DataMessage:
		return m.Header
	case *wire.IdentityMessage:
		return m.Header
	case *wire.AuthRMessage:
		return m.Header
	case *wire.AuthIMessage:
		return m.Header
	}
	return wire.Header{}
}
