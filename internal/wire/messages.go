package wire

import "math/big"

// MessageType is the single-byte discriminator following the version
// SHORT in every encoded OTR message, per spec.md §6.
type MessageType byte

const (
	MsgDHCommit   MessageType = 0x02
	MsgData       MessageType = 0x03
	MsgDHKey      MessageType = 0x0a
	MsgRevealSig  MessageType = 0x11
	MsgSignature  MessageType = 0x12
	MsgIdentity   MessageType = 0x35
	MsgAuthR      MessageType = 0x36
	MsgAuthI      MessageType = 0x37
)

// Header is the common prefix of every encoded message: SHORT version,
// BYTE type, and (v3/v4 only) the sender/receiver instance tags.
type Header struct {
	Version  uint16
	Type     MessageType
	Sender   uint32 // 0 for v2, which carries no instance tags
	Receiver uint32
}

func (h Header) hasTags() bool { return h.Version >= 3 }

func (h Header) encode(w *Writer) {
	w.Short(h.Version)
	w.Byte(byte(h.Type))
	if h.hasTags() {
		w.Int(h.Sender)
		w.Int(h.Receiver)
	}
}

func decodeHeader(r *Reader) (Header, error) {
	var h Header
	v, err := r.Short()
	if err != nil {
		return h, err
	}
	t, err := r.Byte()
	if err != nil {
		return h, err
	}
	h.Version, h.Type = v, MessageType(t)
	if h.hasTags() {
		if h.Sender, err = r.Int(); err != nil {
			return h, err
		}
		if h.Receiver, err = r.Int(); err != nil {
			return h, err
		}
	}
	return h, nil
}

// DHCommitMessage is the first AKE message: `... | 0x02 | [tags] |
// DATA encrypted_gx | DATA hash_gx`.
type DHCommitMessage struct {
	Header
	EncryptedGx []byte
	HashGx      []byte
}

func (m *DHCommitMessage) Encode() []byte {
	w := NewWriter()
	m.Header.encode(w)
	w.Data(m.EncryptedGx)
	w.Data(m.HashGx)
	return w.Bytes()
}

func decodeDHCommit(h Header, r *Reader) (*DHCommitMessage, error) {
	m := &DHCommitMessage{Header: h}
	var err error
	if m.EncryptedGx, err = r.Data(); err != nil {
		return nil, err
	}
	if m.HashGx, err = r.Data(); err != nil {
		return nil, err
	}
	return m, nil
}

// DHKeyMessage is the second AKE message: `... | 0x0a | [tags] | MPI gy`.
type DHKeyMessage struct {
	Header
	Gy *big.Int
}

func (m *DHKeyMessage) Encode() []byte {
	w := NewWriter()
	m.Header.encode(w)
	w.MPI(m.Gy)
	return w.Bytes()
}

func decodeDHKey(h Header, r *Reader) (*DHKeyMessage, error) {
	m := &DHKeyMessage{Header: h}
	var err error
	if m.Gy, err = r.MPI(); err != nil {
		return nil, err
	}
	return m, nil
}

// RevealSignatureMessage: `... | 0x11 | [tags] | DATA revealed_r |
// DATA enc_X | MAC(20) hash_X`.
type RevealSignatureMessage struct {
	Header
	RevealedR []byte
	EncX      []byte
	MACX      [MACSize]byte
}

func (m *RevealSignatureMessage) Encode() []byte {
	w := NewWriter()
	m.Header.encode(w)
	w.Data(m.RevealedR)
	w.Data(m.EncX)
	w.Fixed(m.MACX[:])
	return w.Bytes()
}

func decodeRevealSignature(h Header, r *Reader) (*RevealSignatureMessage, error) {
	m := &RevealSignatureMessage{Header: h}
	var err error
	if m.RevealedR, err = r.Data(); err != nil {
		return nil, err
	}
	if m.EncX, err = r.Data(); err != nil {
		return nil, err
	}
	mac, err := r.Fixed(MACSize)
	if err != nil {
		return nil, err
	}
	copy(m.MACX[:], mac)
	return m, nil
}

// SignatureMessage: `... | 0x12 | [tags] | DATA enc_X | MAC(20) hash_X`.
type SignatureMessage struct {
	Header
	EncX []byte
	MACX [MACSize]byte
}

func (m *SignatureMessage) Encode() []byte {
	w := NewWriter()
	m.Header.encode(w)
	w.Data(m.EncX)
	w.Fixed(m.MACX[:])
	return w.Bytes()
}

func decodeSignature(h Header, r *Reader) (*SignatureMessage, error) {
	m := &SignatureMessage{Header: h}
	var err error
	if m.EncX, err = r.Data(); err != nil {
		return nil, err
	}
	mac, err := r.Fixed(MACSize)
	if err != nil {
		return nil, err
	}
	copy(m.MACX[:], mac)
	return m, nil
}

// DataMessage: `... | 0x03 | [tags] | BYTE flags | INT sender_keyid |
// INT recipient_keyid | MPI next_dh | CTR(8) | DATA enc_msg | MAC(20) |
// DATA old_mac_keys`.
type DataMessage struct {
	Header
	Flags          byte
	SenderKeyID    uint32
	RecipientKeyID uint32
	NextDH         *big.Int
	Counter        [CTRSize]byte
	EncMessage     []byte
	MAC            [MACSize]byte
	OldMACKeys     []byte
}

// Flag bits for DataMessage.Flags.
const (
	FlagIgnoreUnreadable byte = 0x01
)

func (m *DataMessage) Encode() []byte {
	w := NewWriter()
	m.Header.encode(w)
	w.Byte(m.Flags)
	w.Int(m.SenderKeyID)
	w.Int(m.RecipientKeyID)
	w.MPI(m.NextDH)
	w.Fixed(m.Counter[:])
	w.Data(m.EncMessage)
	w.Fixed(m.MAC[:])
	w.Data(m.OldMACKeys)
	return w.Bytes()
}

func decodeData(h Header, r *Reader) (*DataMessage, error) {
	m := &DataMessage{Header: h}
	var err error
	if m.Flags, err = r.Byte(); err != nil {
		return nil, err
	}
	if m.SenderKeyID, err = r.Int(); err != nil {
		return nil, err
	}
	if m.RecipientKeyID, err = r.Int(); err != nil {
		return nil, err
	}
	if m.NextDH, err = r.MPI(); err != nil {
		return nil, err
	}
	ctr, err := r.Fixed(CTRSize)
	if err != nil {
		return nil, err
	}
	copy(m.Counter[:], ctr)
	if m.EncMessage, err = r.Data(); err != nil {
		return nil, err
	}
	mac, err := r.Fixed(MACSize)
	if err != nil {
		return nil, err
	}
	copy(m.MAC[:], mac)
	if m.OldMACKeys, err = r.Data(); err != nil {
		return nil, err
	}
	return m, nil
}

// IdentityMessage is the first OTRv4 DAKE message: an Ed448 ECDH point,
// a DH-3072 public value, and the sender's client profile payload.
type IdentityMessage struct {
	Header
	B        [Ed448PointSize]byte // ephemeral ECDH public point
	DHPublic *big.Int             // ephemeral DH-3072 public value
	Profile  []byte               // encoded client profile payload
}

func (m *IdentityMessage) Encode() []byte {
	w := NewWriter()
	m.Header.encode(w)
	w.Fixed(m.B[:])
	w.MPI(m.DHPublic)
	w.Data(m.Profile)
	return w.Bytes()
}

func decodeIdentity(h Header, r *Reader) (*IdentityMessage, error) {
	m := &IdentityMessage{Header: h}
	b, err := r.Fixed(Ed448PointSize)
	if err != nil {
		return nil, err
	}
	copy(m.B[:], b)
	if m.DHPublic, err = r.MPI(); err != nil {
		return nil, err
	}
	if m.Profile, err = r.Data(); err != nil {
		return nil, err
	}
	return m, nil
}

// AuthRMessage is the OTRv4 DAKE response: the responder's client
// profile, its ephemeral keys, and a transcript signature (sigma). The
// real DAKE's sigma is a three-key ring signature; this module's partial
// v4 support substitutes a single Ed448 signature (see DESIGN.md).
type AuthRMessage struct {
	Header
	Profile  []byte
	X        [Ed448PointSize]byte
	DHPublic *big.Int
	Sigma    [Ed448SigSize]byte
}

func (m *AuthRMessage) Encode() []byte {
	w := NewWriter()
	m.Header.encode(w)
	w.Data(m.Profile)
	w.Fixed(m.X[:])
	w.MPI(m.DHPublic)
	w.Fixed(m.Sigma[:])
	return w.Bytes()
}

func decodeAuthR(h Header, r *Reader) (*AuthRMessage, error) {
	m := &AuthRMessage{Header: h}
	var err error
	if m.Profile, err = r.Data(); err != nil {
		return nil, err
	}
	x, err := r.Fixed(Ed448PointSize)
	if err != nil {
		return nil, err
	}
	copy(m.X[:], x)
	if m.DHPublic, err = r.MPI(); err != nil {
		return nil, err
	}
	s, err := r.Fixed(Ed448SigSize)
	if err != nil {
		return nil, err
	}
	copy(m.Sigma[:], s)
	return m, nil
}

// AuthIMessage is the OTRv4 DAKE's final message: the initiator's
// transcript signature, completing mutual authentication.
type AuthIMessage struct {
	Header
	Sigma [Ed448SigSize]byte
}

func (m *AuthIMessage) Encode() []byte {
	w := NewWriter()
	m.Header.encode(w)
	w.Fixed(m.Sigma[:])
	return w.Bytes()
}

func decodeAuthI(h Header, r *Reader) (*AuthIMessage, error) {
	m := &AuthIMessage{Header: h}
	s, err := r.Fixed(Ed448SigSize)
	if err != nil {
		return nil, err
	}
	copy(m.Sigma[:], s)
	return m, nil
}

// Message is the decoded form of any binary OTR message.
type Message interface {
	Encode() []byte
}

// DecodeMessage parses a binary-encoded OTR message (the bytes inside a
// "?OTR:....." text framing, already base64-decoded). It is the single
// parse entry point named in spec.md §4.1.
func DecodeMessage(raw []byte) (Message, error) {
	r := NewReader(raw)
	h, err := decodeHeader(r)
	if err != nil {
		return nil, err
	}
	switch h.Type {
	case MsgDHCommit:
		return decodeDHCommit(h, r)
	case MsgDHKey:
		return decodeDHKey(h, r)
	case MsgRevealSig:
		return decodeRevealSignature(h, r)
	case MsgSignature:
		return decodeSignature(h, r)
	case MsgData:
		return decodeData(h, r)
	case MsgIdentity:
		return decodeIdentity(h, r)
	case MsgAuthR:
		return decodeAuthR(h, r)
	case MsgAuthI:
		return decodeAuthI(h, r)
	default:
		return nil, ErrUnknownType
	}
}
