// Package otr implements the client side of the Off-the-Record
// messaging protocol: the v2/v3 authenticated key exchange and
// encrypted message exchange in full, plus an OTRv4 DAKE outline.
//
// A Conversation owns one dispatcher, which fans inbound and outbound
// traffic out across the master (v2) sub-session and any number of
// v3/v4 instance-tagged sub-sessions. The core never touches a socket
// itself: Host.InjectMessage is the only transport action it takes,
// and the embedding application drives Conversation.Receive with
// whatever text it reads off the wire.
package otr
