package protocol

import "errors"

// Decode failures are protocol-level faults, not corruption signals: a frame
// that cannot be parsed is dropped without touching the connection's failure
// count. Callers match them with errors.Is.
var (
	// ErrTruncated reports a message shorter than its own framing requires
	ErrTruncated = errors.New("protocol: truncated frame")

	// ErrMalformedMetadata reports metadata that is not valid UTF-8 JSON or
	// carries missing or wrong-typed fields
	ErrMalformedMetadata = errors.New("protocol: malformed metadata")

	// ErrMisalignedPayload reports a payload whose byte count is not a whole
	// number of 16-bit samples
	ErrMisalignedPayload = errors.New("protocol: misaligned payload")
)
