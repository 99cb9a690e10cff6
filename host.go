package otr

import "github.com/katzenpost/otr3/internal/dsa"

// SessionID identifies one conversation to the host: typically an
// account/peer pair the caller already tracks.
type SessionID string

// Host is the contract between the protocol core and the embedding
// application (spec.md §4.7). The core performs no I/O of its own — the
// only transport action it ever takes is calling InjectMessage — and it
// never persists key material; GetLocalKeyPair and GetSessionPolicy are
// called whenever the core needs them.
//
// Every method here may be called from within Conversation.Send or
// Conversation.Receive; implementations must not block indefinitely, as
// spec.md §5 treats InjectMessage as synchronous from the core's
// perspective.
type Host interface {
	// InjectMessage sends text on the wire to the peer. This is the
	// only I/O the core performs.
	InjectMessage(id SessionID, text string) error

	// GetLocalKeyPair supplies the long-term DSA key pair for id.
	GetLocalKeyPair(id SessionID) (*dsa.PrivateKey, error)

	// GetSessionPolicy returns the Policy in effect for id.
	GetSessionPolicy(id SessionID) Policy

	// MaxFragmentSize returns the largest outbound text fragment size
	// for id, used by the fragmenter (C2).
	MaxFragmentSize(id SessionID) int

	// UnreadableMessageReceived is called when a DATA message cannot be
	// decrypted or authenticated.
	UnreadableMessageReceived(id SessionID)
	// UnencryptedMessageReceived is called when a plaintext message
	// arrives while the session's policy requires encryption.
	UnencryptedMessageReceived(id SessionID, text string)
	// ShowError surfaces a peer-sent OTR error message to the user.
	ShowError(id SessionID, text string)
	// MessageFromAnotherInstance notifies that an inbound v3/v4 message
	// was dropped because its receiver tag is not ours, or because it
	// carries no sender tag and is not a DH-Commit.
	MessageFromAnotherInstance(id SessionID)
	// MultipleInstancesDetected notifies that more than one peer
	// instance has been observed for this conversation.
	MultipleInstancesDetected(id SessionID)
	// SessionStatusChanged notifies of a message-state transition.
	SessionStatusChanged(id SessionID, instance InstanceTag, state MessageState)
	// SMPError notifies of an SMP failure, with smpType identifying the
	// TLV type that failed and cheated indicating a proof-check failure.
	SMPError(id SessionID, smpType int, cheated bool)
	// SMPAborted notifies that the peer sent an SMP abort TLV.
	SMPAborted(id SessionID)
	// AskForSecret requests that the user supply an SMP comparison
	// secret, optionally in answer to question (empty if the peer asked
	// none).
	AskForSecret(id SessionID, instance InstanceTag, question string)
	// Verify marks the peer's long-term fingerprint as verified
	// (SMP succeeded).
	Verify(id SessionID, fingerprint []byte)
	// Unverify marks the peer's long-term fingerprint as unverified
	// (SMP failed or was never run).
	Unverify(id SessionID, fingerprint []byte)
	// FinishedSessionMessage carries the text of a send attempted after
	// the peer ended the session (message state Finished). Conversation
	// does not call it: Send in the Finished state sends the text as
	// plaintext.
	FinishedSessionMessage(id SessionID, text string)
	// RequireEncryptedMessage carries a plaintext message received while
	// RequireEncryption is set. Conversation does not call it; such
	// messages are reported through UnencryptedMessageReceived.
	RequireEncryptedMessage(id SessionID, text string)
	// GetFallbackMessage returns the text sent alongside a query tag for
	// clients that do not understand OTR. Conversation sends no query
	// messages and does not call it.
	GetFallbackMessage(id SessionID) string
	// GetReplyForUnreadableMessage returns the error text sent back when
	// a DATA message cannot be processed.
	GetReplyForUnreadableMessage(id SessionID) string
}

// NopHost is a Host whose callbacks all no-op (notifications) or return
// zero values, embeddable by implementations that only care to override
// a handful of methods. Grounded on the teacher's small-interface-plus-
// embeddable-default idiom (core/wire.PeerAuthenticator's usage in
// core/wire/session.go).
type NopHost struct{}

func (NopHost) InjectMessage(SessionID, string) error            { return nil }
func (NopHost) GetLocalKeyPair(SessionID) (*dsa.PrivateKey, error) { return nil, errNoLocalKey }
func (NopHost) GetSessionPolicy(SessionID) Policy                 { return Policy{} }
func (NopHost) MaxFragmentSize(SessionID) int                     { return 0 }
func (NopHost) UnreadableMessageReceived(SessionID)               {}
func (NopHost) UnencryptedMessageReceived(SessionID, string)      {}
func (NopHost) ShowError(SessionID, string)                       {}
func (NopHost) MessageFromAnotherInstance(SessionID)              {}
func (NopHost) MultipleInstancesDetected(SessionID)               {}
func (NopHost) SessionStatusChanged(SessionID, InstanceTag, MessageState) {}
func (NopHost) SMPError(SessionID, int, bool)                     {}
func (NopHost) SMPAborted(SessionID)                               {}
func (NopHost) AskForSecret(SessionID, InstanceTag, string)        {}
func (NopHost) Verify(SessionID, []byte)                           {}
func (NopHost) Unverify(SessionID, []byte)                         {}
func (NopHost) FinishedSessionMessage(SessionID, string)           {}
func (NopHost) RequireEncryptedMessage(SessionID, string)          {}
func (NopHost) GetFallbackMessage(SessionID) string                { return "" }
func (NopHost) GetReplyForUnreadableMessage(SessionID) string      { return "" }

var errNoLocalKey = newStateError("nop-host: no local key pair configured")
