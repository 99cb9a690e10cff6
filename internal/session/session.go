// Package session implements per-sub-session message state and key
// management (spec component C5): the PLAINTEXT/ENCRYPTED/FINISHED
// lifecycle, the four concurrent DH session-key pairs, counter-based
// replay rejection, MAC-key reveal queuing, and the extra symmetric key.
package session

import (
	"crypto/sha1"
	"errors"
	"math/big"

	"github.com/katzenpost/otr3/internal/dhgroup"
	"github.com/katzenpost/otr3/internal/secret"
	"github.com/katzenpost/otr3/internal/symmetric"
	"github.com/katzenpost/otr3/internal/wire"
)

// MessageState is the per-sub-session lifecycle of spec.md §3: it begins
// Plaintext, becomes Encrypted after a successful AKE, and becomes
// Finished when the peer signals session end.
type MessageState int

const (
	StatePlaintext MessageState = iota
	StateEncrypted
	StateFinished
)

// Errors surfaced by inbound DATA message processing.
var (
	ErrReplay   = errors.New("session: replayed counter")
	ErrMAC      = errors.New("session: mac verification failed")
	ErrNoKeyPair = errors.New("session: no matching key pair")
)

// TLV types carried inside a DATA message, per spec.md §4.5.
const (
	TLVPadding    uint16 = 0x0000
	TLVDisconnect uint16 = 0x0001
	TLVSMP1       uint16 = 0x0002
	TLVSMP2       uint16 = 0x0003
	TLVSMP3       uint16 = 0x0004
	TLVSMP4       uint16 = 0x0005
	TLVSMPAbort   uint16 = 0x0006
	TLVExtraKey   uint16 = 0x0008
)

// TLV is one typed container inside a DATA message.
type TLV struct {
	Type  uint16
	Value []byte
}

// EncodeTLVs serializes a sequence of TLVs as SHORT type, SHORT length,
// value, repeated.
func EncodeTLVs(tlvs []TLV) []byte {
	w := wire.NewWriter()
	for _, t := range tlvs {
		w.Short(t.Type)
		w.Short(uint16(len(t.Value)))
		w.Fixed(t.Value)
	}
	return w.Bytes()
}

// DecodeTLVs parses the TLV sequence trailing a decrypted DATA message
// plaintext.
func DecodeTLVs(b []byte) ([]TLV, error) {
	r := wire.NewReader(b)
	var out []TLV
	for r.Remaining() > 0 {
		typ, err := r.Short()
		if err != nil {
			return nil, err
		}
		n, err := r.Short()
		if err != nil {
			return nil, err
		}
		val, err := r.Fixed(int(n))
		if err != nil {
			return nil, err
		}
		out = append(out, TLV{Type: typ, Value: val})
	}
	return out, nil
}

// keyPair is one of the four concurrent DH key pairs, identified by
// (localKeyID, remoteKeyID), with its derived AES/MAC keys and replay
// counters.
type keyPair struct {
	localKeyID, remoteKeyID uint32
	localDH                 *secret.Int // our private exponent for this pair
	localPublic             *big.Int
	remotePublic            *big.Int

	rawShared *secret.Int // gxy mod p for this pair

	sendCounter uint64
	recvCounter uint64

	sendAESKey [16]byte
	sendMACKey [32]byte
	recvAESKey [16]byte
	recvMACKey [32]byte

	macUsed bool
}

// deriveSubKeys implements the v2/v3 convention of spec.md §4.5 over the
// MPI-encoded raw shared value: the AES keys are SHA1(0x01 || SHA1(raw))[:16]
// and SHA1(0x02 || SHA1(raw))[:16], the MAC keys SHA-256(0x03 || raw) and
// SHA-256(0x04 || raw). The first of each pair is returned as the send key;
// NewEncryptedState swaps the pairs on the end whose public value is the
// smaller, so that one end's send keys are the other end's receive keys.
func deriveSubKeys(raw *big.Int) (aesSend, aesRecv [16]byte, macSend, macRecv [32]byte) {
	rawBytes := wire.NewWriter().MPI(raw).Bytes()
	h := func(tag byte) []byte {
		inner := sha1.Sum(rawBytes)
		outer := sha1.Sum(append([]byte{tag}, inner[:]...))
		return outer[:]
	}
	copy(aesSend[:], h(0x01))
	copy(aesRecv[:], h(0x02))
	macSendHash := symmetric.Hash256(append([]byte{0x03}, rawBytes...))
	macRecvHash := symmetric.Hash256(append([]byte{0x04}, rawBytes...))
	copy(macSend[:], macSendHash[:])
	copy(macRecv[:], macRecvHash[:])
	return
}

// EncryptedState is the session-key management live while MessageState is
// StateEncrypted.
type EncryptedState struct {
	pairs []*keyPair

	oldMACKeys [][32]byte // queued for reveal on the next outbound DATA message

	nextLocalKeyID uint32
}

// NewEncryptedState builds the initial encrypted state from the AKE's
// result: one key pair (keyid 1, keyid 1) derived from the AKE's shared
// secret, plus a freshly generated next local DH key (keyid 2) so the
// first outbound rotation has somewhere to go.
func NewEncryptedState(localX *big.Int, remoteY *big.Int, rawShared *big.Int) (*EncryptedState, error) {
	aesSend, aesRecv, macSend, macRecv := deriveSubKeys(rawShared)
	localPublic := dhgroup.PublicValue(localX)
	if localPublic.Cmp(remoteY) < 0 {
		aesSend, aesRecv = aesRecv, aesSend
		macSend, macRecv = macRecv, macSend
	}
	kp := &keyPair{
		localKeyID: 1, remoteKeyID: 1,
		localDH: secret.NewInt(new(big.Int).Set(localX)), localPublic: localPublic,
		remotePublic: remoteY,
		rawShared:    secret.NewInt(new(big.Int).Set(rawShared)),
		sendAESKey:   aesSend, recvAESKey: aesRecv,
		sendMACKey: macSend, recvMACKey: macRecv,
	}
	es := &EncryptedState{pairs: []*keyPair{kp}, nextLocalKeyID: 3}

	nextX, err := dhgroup.GenerateExponent(nil)
	if err != nil {
		return nil, err
	}
	nextPub := dhgroup.PublicValue(nextX)
	es.pairs = append(es.pairs, &keyPair{
		localKeyID: 2, remoteKeyID: 0,
		localDH: secret.NewInt(nextX), localPublic: nextPub,
	})
	return es, nil
}

// newestAcked returns the key pair with the highest localKeyID that also
// has a known remote public value (i.e. has been acknowledged by the peer
// via a received DH value), for selecting the outbound pair.
func (es *EncryptedState) newestAcked() *keyPair {
	var best *keyPair
	for _, kp := range es.pairs {
		if kp.remotePublic == nil {
			continue
		}
		if best == nil || kp.localKeyID > best.localKeyID {
			best = kp
		}
	}
	if best == nil && len(es.pairs) > 0 {
		return es.pairs[0]
	}
	return best
}

func (es *EncryptedState) find(localKeyID, remoteKeyID uint32) *keyPair {
	for _, kp := range es.pairs {
		if kp.localKeyID == localKeyID && kp.remoteKeyID == remoteKeyID {
			return kp
		}
	}
	return nil
}

// findUnbound returns the local key pair that has not yet seen a peer
// acknowledgment (remoteKeyID still 0), the slot a fresh inbound
// SenderKeyID binds into.
func (es *EncryptedState) findUnbound(localKeyID uint32) *keyPair {
	for _, kp := range es.pairs {
		if kp.localKeyID == localKeyID && kp.remoteKeyID == 0 {
			return kp
		}
	}
	return nil
}

// bindPair replaces the unbound placeholder sharing kp's localKeyID with
// kp itself, once kp's remote side has been authenticated.
func (es *EncryptedState) bindPair(kp *keyPair) {
	for i, p := range es.pairs {
		if p.localKeyID == kp.localKeyID && p.remoteKeyID == 0 {
			es.pairs[i] = kp
			return
		}
	}
}

// Encrypt builds the payload (the plaintext, followed by a NUL byte and the
// encoded TLVs when there are any) into an outbound DataMessage using the
// newest acknowledged key pair, rotating the send counter and attaching any
// queued old MAC keys.
func (es *EncryptedState) Encrypt(plaintext []byte, tlvs []TLV, flags byte) (*wire.DataMessage, error) {
	kp := es.newestAcked()
	if kp == nil {
		return nil, ErrNoKeyPair
	}
	kp.sendCounter++

	body := append([]byte{}, plaintext...)
	if len(tlvs) > 0 {
		body = append(body, 0)
		body = append(body, EncodeTLVs(tlvs)...)
	}
	var counter [8]byte
	putUint64(counter[:], kp.sendCounter)
	iv := symmetric.CounterIV(counter)
	enc, err := symmetric.CTREncrypt(kp.sendAESKey[:], iv[:], body)
	if err != nil {
		return nil, err
	}

	prefix := wire.NewWriter().Byte(flags).Int(kp.localKeyID).Int(kp.remoteKeyID).
		MPI(kp.localPublic).Fixed(counter[:]).Data(enc).Bytes()
	mac := symmetric.MAC20(kp.sendMACKey[:], prefix)

	old := es.drainOldMACKeys()
	kp.macUsed = true

	return &wire.DataMessage{
		Flags: flags, SenderKeyID: kp.localKeyID, RecipientKeyID: kp.remoteKeyID,
		NextDH: kp.localPublic, Counter: counter, EncMessage: enc, MAC: mac, OldMACKeys: old,
	}, nil
}

func (es *EncryptedState) drainOldMACKeys() []byte {
	if len(es.oldMACKeys) == 0 {
		return nil
	}
	w := wire.NewWriter()
	for _, k := range es.oldMACKeys {
		w.Fixed(k[:])
	}
	es.oldMACKeys = nil
	return w.Bytes()
}

// Decrypt authenticates and decrypts an inbound DataMessage, rejecting
// replays and rotating keys when the message announces a new DH value.
func (es *EncryptedState) Decrypt(m *wire.DataMessage) (plaintext []byte, tlvs []TLV, err error) {
	kp := es.find(m.RecipientKeyID, m.SenderKeyID)
	var binding *keyPair
	if kp == nil {
		unbound := es.findUnbound(m.RecipientKeyID)
		if unbound == nil {
			return nil, nil, ErrNoKeyPair
		}
		if err := dhgroup.CheckPublicValue(m.NextDH); err != nil {
			return nil, nil, ErrNoKeyPair
		}
		raw := dhgroup.SharedSecret(unbound.localDH.Value(), m.NextDH)
		aesSend, aesRecv, macSend, macRecv := deriveSubKeys(raw)
		kp = &keyPair{
			localKeyID: unbound.localKeyID, remoteKeyID: m.SenderKeyID,
			localDH: unbound.localDH, localPublic: unbound.localPublic,
			remotePublic: m.NextDH,
			rawShared:    secret.NewInt(raw),
			sendAESKey:   aesSend, recvAESKey: aesRecv,
			sendMACKey: macSend, recvMACKey: macRecv,
		}
		binding = kp
	}

	counter := beUint64(m.Counter[:])
	if counter <= kp.recvCounter {
		return nil, nil, ErrReplay
	}

	prefix := wire.NewWriter().Byte(m.Flags).Int(m.SenderKeyID).Int(m.RecipientKeyID).
		MPI(m.NextDH).Fixed(m.Counter[:]).Data(m.EncMessage).Bytes()
	want := symmetric.MAC20(kp.recvMACKey[:], prefix)
	if want != m.MAC {
		return nil, nil, ErrMAC
	}

	iv := symmetric.CounterIV(m.Counter)
	body, err := symmetric.CTRDecrypt(kp.recvAESKey[:], iv[:], m.EncMessage)
	if err != nil {
		return nil, nil, err
	}
	kp.recvCounter = counter

	if binding != nil {
		es.bindPair(binding)
		es.rotateAfterAck(binding)
	}

	body, tlvBytes := splitTLVTail(body)
	parsed, err := DecodeTLVs(tlvBytes)
	if err != nil {
		return nil, nil, err
	}
	return body, parsed, nil
}

// rotateAfterAck advances the local DH key once the peer acknowledges the
// current newest pair, queuing its MAC key for reveal if it was used.
func (es *EncryptedState) rotateAfterAck(acked *keyPair) {
	if acked.macUsed {
		es.oldMACKeys = append(es.oldMACKeys, acked.sendMACKey)
	}
	nextX, err := dhgroup.GenerateExponent(nil)
	if err != nil {
		return
	}
	es.pairs = append(es.pairs, &keyPair{
		localKeyID: es.nextLocalKeyID, remoteKeyID: 0,
		localDH: secret.NewInt(nextX), localPublic: dhgroup.PublicValue(nextX),
	})
	es.nextLocalKeyID++
	if len(es.pairs) > 4 {
		es.pairs = es.pairs[len(es.pairs)-4:]
	}
}

// ExtraSymmetricKey derives the 32-byte out-of-band key of spec.md §4.5 from
// the newest acknowledged key pair: SHA-256(0xff || raw_gxy), with raw_gxy
// MPI-encoded.
func (es *EncryptedState) ExtraSymmetricKey() [32]byte {
	kp := es.newestAcked()
	raw := wire.NewWriter().MPI(kp.rawShared.Value()).Bytes()
	return symmetric.Hash256(append([]byte{0xff}, raw...))
}

func splitTLVTail(body []byte) (msg []byte, tlvs []byte) {
	idx := indexNUL(body)
	if idx < 0 {
		return body, nil
	}
	return body[:idx], body[idx+1:]
}

func indexNUL(b []byte) int {
	for i, c := range b {
		if c == 0 {
			return i
		}
	}
	return -1
}

func putUint64(b []byte, v uint64) {
	for i := 7; i >= 0; i-- {
		b[i] = byte(v)
		v >>= 8
	}
}

func beUint64(b []byte) uint64 {
	var v uint64
	for _, c := range b {
		v = v<<8 | uint64(c)
	}
	return v
}
