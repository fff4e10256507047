package rtps

import "errors"

// Error taxonomy. Nothing here is fatal to a participant: decode errors
// abort a single submessage, lookup misses are returned to the caller, and
// lost remotes surface as events.
var (
	// ErrFormat reports malformed wire bytes: a declared length that
	// exceeds the buffer, a missing required parameter, or a bad magic.
	ErrFormat = errors.New("rtps: malformed wire data")

	// ErrNotFound reports a lookup of an evicted or unknown sequence
	// number, or of a GUID with no matching entity or proxy.
	ErrNotFound = errors.New("rtps: not found")

	// ErrQosIncompatible reports a discovery match rejected because the
	// requested and offered QoS cannot interoperate. Both sides stay
	// unmatched; compatibility cannot change without reconfiguration.
	ErrQosIncompatible = errors.New("rtps: incompatible qos")

	// ErrClosed reports an operation on a participant that has been
	// torn down.
	ErrClosed = errors.New("rtps: participant closed")
)
