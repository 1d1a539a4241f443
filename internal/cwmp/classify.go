package cwmp

import "bytes"

// MessageKind is the coarse classification of an inbound HTTP body.
type MessageKind int

const (
	// KindEmpty is an empty POST: the device is ready for a server RPC.
	KindEmpty MessageKind = iota
	// KindInform is a session-opening Inform envelope.
	KindInform
	// KindResponse is a reply to a server-issued RPC.
	KindResponse
)

// emptyBodyThreshold treats very short bodies as empty posts. Devices
// occasionally pad the empty post with whitespace or a stray newline.
const emptyBodyThreshold = 10

// Classify decides whether a request body is an empty post, an RPC
// response, or an Inform. Responses are recognized by the literal
// "Response" substring (plus TransferComplete and SOAP faults, which have
// no Response suffix); everything else is treated as an Inform. Known
// fragility: an Inform whose parameter values happen to contain the word
// "Response" is misclassified and rejected by the response parser, the
// cost of a protocol variant without a session token.
func Classify(body []byte) MessageKind {
	if len(body) < emptyBodyThreshold {
		return KindEmpty
	}
	if bytes.Contains(body, []byte("Response")) || bytes.Contains(body, []byte("TransferComplete")) || bytes.Contains(body, []byte(":Fault")) {
		return KindResponse
	}
	return KindInform
}
