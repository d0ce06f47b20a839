package integrity

import (
	"fmt"
	"strings"

	"github.com/kunci115/RealtimeSTT/internal/protocol"
)

// Checksum computes the transmission checksum of a PCM payload: the sum of
// all signed 16-bit little-endian samples, reduced modulo 2^32. Samples
// accumulate into an int64 with their signed values so the running sum
// cannot overflow before the final reduction. This matches the accumulation
// order used by streaming clients and must not be changed without
// versioning the wire protocol.
func Checksum(payload []byte) uint32 {
	var sum int64
	for i := 0; i+1 < len(payload); i += protocol.BytesPerSample {
		sample := int16(payload[i]) | int16(payload[i+1])<<8
		sum += int64(sample)
	}
	return uint32(sum)
}

// Verdict is the outcome of verifying one frame against its declared
// metadata. Created per frame, consumed immediately, never persisted.
type Verdict struct {
	LengthExpected   uint32
	LengthActual     uint32
	ChecksumExpected uint32
	ChecksumActual   uint32
	OK               bool
}

// Verify checks a payload against the client-declared sample count and
// checksum. Deterministic and side effect free, linear in the payload size.
// Callers invoke it only for frames that requested verification under a
// policy that enables it.
func Verify(metadata protocol.Metadata, payload []byte) *Verdict {
	verdict := &Verdict{
		LengthExpected:   metadata.DataLength,
		LengthActual:     uint32(len(payload) / protocol.BytesPerSample),
		ChecksumExpected: metadata.Checksum,
		ChecksumActual:   Checksum(payload),
	}
	verdict.OK = verdict.LengthActual == verdict.LengthExpected &&
		verdict.ChecksumActual == verdict.ChecksumExpected
	return verdict
}

// Mismatch describes the failing comparisons in a form suitable for warning
// logs and client rejection notices. Empty when the verdict passed.
func (v *Verdict) Mismatch() string {
	if v.OK {
		return ""
	}

	var parts []string
	if v.LengthActual != v.LengthExpected {
		parts = append(parts, fmt.Sprintf("length expected %d, got %d", v.LengthExpected, v.LengthActual))
	}
	if v.ChecksumActual != v.ChecksumExpected {
		parts = append(parts, fmt.Sprintf("checksum expected %d, got %d", v.ChecksumExpected, v.ChecksumActual))
	}
	return strings.Join(parts, "; ")
}

// String returns a human-readable representation of the verdict
func (v *Verdict) String() string {
	return fmt.Sprintf("Verdict{Length:%d/%d, Checksum:%d/%d, OK:%t}",
		v.LengthExpected, v.LengthActual, v.ChecksumExpected, v.ChecksumActual, v.OK)
}
