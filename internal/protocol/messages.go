// Package protocol defines the line-oriented control protocol spoken
// between a calling endpoint and the switching node, and the ENC envelope
// used once a secure channel is established.
package protocol

import "strings"

// Wire prefixes. One message per line; the part after the colon is the
// argument (base64 key material, a subscriber number, or a reason).
const (
	PrefixPublicKey = "PUBLIC_KEY:"
	PrefixAESKey    = "AES_KEY:"
	PrefixIV        = "IV:"
	PrefixEncrypted = "ENC:"
	PrefixStartCall = "START_CALL:"
	PrefixEndCall   = "END_CALL:"
	PrefixTerminate = "TERMINATE_CALL:"

	// Ready has no argument; the node sends it once it holds the session key.
	Ready = "READY_FOR_ENCRYPTED"
)

// Kind tags a parsed control line.
type Kind int

const (
	KindUnknown Kind = iota
	KindPublicKey
	KindAESKey
	KindIV
	KindReady
	KindEncrypted
	KindStartCall
	KindEndCall
	KindTerminate
)

func (k Kind) String() string {
	switch k {
	case KindPublicKey:
		return "PUBLIC_KEY"
	case KindAESKey:
		return "AES_KEY"
	case KindIV:
		return "IV"
	case KindReady:
		return "READY_FOR_ENCRYPTED"
	case KindEncrypted:
		return "ENC"
	case KindStartCall:
		return "START_CALL"
	case KindEndCall:
		return "END_CALL"
	case KindTerminate:
		return "TERMINATE_CALL"
	default:
		return "UNKNOWN"
	}
}

// Message is one parsed control line.
type Message struct {
	Kind Kind
	Arg  string
}

// Parse tags a raw control line. Unrecognized content parses as
// KindUnknown and is ignored by the state machine, which keeps the
// protocol forward-compatible with newer endpoint revisions.
func Parse(line string) Message {
	line = strings.TrimRight(line, "\r\n")

	switch {
	case line == Ready:
		return Message{Kind: KindReady}
	case strings.HasPrefix(line, PrefixPublicKey):
		return Message{Kind: KindPublicKey, Arg: line[len(PrefixPublicKey):]}
	case strings.HasPrefix(line, PrefixAESKey):
		return Message{Kind: KindAESKey, Arg: line[len(PrefixAESKey):]}
	case strings.HasPrefix(line, PrefixIV):
		return Message{Kind: KindIV, Arg: line[len(PrefixIV):]}
	case strings.HasPrefix(line, PrefixEncrypted):
		return Message{Kind: KindEncrypted, Arg: line[len(PrefixEncrypted):]}
	case strings.HasPrefix(line, PrefixStartCall):
		return Message{Kind: KindStartCall, Arg: line[len(PrefixStartCall):]}
	case strings.HasPrefix(line, PrefixEndCall):
		return Message{Kind: KindEndCall, Arg: line[len(PrefixEndCall):]}
	case strings.HasPrefix(line, PrefixTerminate):
		return Message{Kind: KindTerminate, Arg: line[len(PrefixTerminate):]}
	default:
		return Message{Kind: KindUnknown, Arg: line}
	}
}

func StartCall(msisdn string) string   { return PrefixStartCall + msisdn }
func EndCall(msisdn string) string     { return PrefixEndCall + msisdn }
func TerminateCall(reason string) string { return PrefixTerminate + reason }
