package protocol

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"unicode/utf8"
)

// Wire format constants
// Layout: [MetadataLength:4 LE][Metadata JSON:MetadataLength][PCM samples:N*2 LE]
const (
	// LengthPrefixSize is the size of the metadata length prefix
	LengthPrefixSize = 4

	// BytesPerSample is the width of one signed 16-bit PCM sample
	BytesPerSample = 2
)

// Metadata is the client-supplied frame descriptor carried as JSON between
// the length prefix and the audio payload. DataLength and Checksum hold the
// client's declared values and are guaranteed present whenever
// VerificationRequested is true; with verification not requested they keep
// whatever the client sent, or zero.
type Metadata struct {
	SampleRate            uint32 // Sample rate in Hz (informational)
	DataLength            uint32 // Declared sample count
	Checksum              uint32 // Declared sum of samples mod 2^32
	Timestamp             int64  // Client send time, ms since epoch (informational)
	VerificationRequested bool   // Opts this frame into integrity verification
}

// metadataJSON mirrors Metadata with pointer fields so that a missing field
// can be told apart from an explicit zero during decoding.
type metadataJSON struct {
	SampleRate            *uint32 `json:"sampleRate"`
	DataLength            *uint32 `json:"dataLength"`
	Checksum              *uint32 `json:"checksum"`
	Timestamp             *int64  `json:"timestamp"`
	VerificationRequested *bool   `json:"verificationRequested"`
}

// Frame represents one fully decoded protocol message
type Frame struct {
	Metadata Metadata
	Payload  []byte // Signed 16-bit little-endian PCM samples, uninterpreted
}

// DecodeFrame parses a complete wire message into metadata and payload.
// It is a pure function of its input: no side effects, no retained references
// beyond slicing the given buffer. Failures are reported as ErrTruncated,
// ErrMalformedMetadata or ErrMisalignedPayload, wrapped with detail.
func DecodeFrame(data []byte) (*Frame, error) {
	if len(data) < LengthPrefixSize {
		return nil, fmt.Errorf("%w: message of %d bytes is shorter than the length prefix", ErrTruncated, len(data))
	}

	metaLen := binary.LittleEndian.Uint32(data[:LengthPrefixSize])
	rest := data[LengthPrefixSize:]

	if uint64(len(rest)) < uint64(metaLen) {
		return nil, fmt.Errorf("%w: metadata length %d declared, only %d bytes remain", ErrTruncated, metaLen, len(rest))
	}

	metadata, err := decodeMetadata(rest[:metaLen])
	if err != nil {
		return nil, err
	}

	payload := rest[metaLen:]
	if len(payload)%BytesPerSample != 0 {
		return nil, fmt.Errorf("%w: payload of %d bytes is not a whole number of 16-bit samples", ErrMisalignedPayload, len(payload))
	}

	return &Frame{
		Metadata: *metadata,
		Payload:  payload,
	}, nil
}

// decodeMetadata parses and validates the metadata JSON section.
// A frame that requests verification must declare both dataLength and
// checksum; their absence without verification is not an error.
func decodeMetadata(data []byte) (*Metadata, error) {
	if !utf8.Valid(data) {
		return nil, fmt.Errorf("%w: metadata is not valid UTF-8", ErrMalformedMetadata)
	}

	var raw metadataJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMetadata, err)
	}

	if raw.SampleRate == nil {
		return nil, fmt.Errorf("%w: missing sampleRate", ErrMalformedMetadata)
	}

	metadata := &Metadata{
		SampleRate: *raw.SampleRate,
	}
	if raw.Timestamp != nil {
		metadata.Timestamp = *raw.Timestamp
	}
	if raw.VerificationRequested != nil {
		metadata.VerificationRequested = *raw.VerificationRequested
	}

	if metadata.VerificationRequested {
		if raw.DataLength == nil {
			return nil, fmt.Errorf("%w: verificationRequested is set but dataLength is missing", ErrMalformedMetadata)
		}
		if raw.Checksum == nil {
			return nil, fmt.Errorf("%w: verificationRequested is set but checksum is missing", ErrMalformedMetadata)
		}
	}

	if raw.DataLength != nil {
		metadata.DataLength = *raw.DataLength
	}
	if raw.Checksum != nil {
		metadata.Checksum = *raw.Checksum
	}

	return metadata, nil
}

// EncodeFrame builds the wire form of a frame from metadata and samples.
// DataLength and Checksum are emitted only when the frame requests
// verification, matching what streaming clients send.
func EncodeFrame(metadata Metadata, samples []int16) ([]byte, error) {
	raw := metadataJSON{
		SampleRate:            &metadata.SampleRate,
		Timestamp:             &metadata.Timestamp,
		VerificationRequested: &metadata.VerificationRequested,
	}
	if metadata.VerificationRequested {
		raw.DataLength = &metadata.DataLength
		raw.Checksum = &metadata.Checksum
	}

	metaBytes, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to encode metadata: %w", err)
	}

	buf := new(bytes.Buffer)
	buf.Grow(LengthPrefixSize + len(metaBytes) + len(samples)*BytesPerSample)

	if err := binary.Write(buf, binary.LittleEndian, uint32(len(metaBytes))); err != nil {
		return nil, fmt.Errorf("failed to write length prefix: %w", err)
	}
	buf.Write(metaBytes)
	if err := binary.Write(buf, binary.LittleEndian, samples); err != nil {
		return nil, fmt.Errorf("failed to write samples: %w", err)
	}

	return buf.Bytes(), nil
}

// SampleCount returns the number of PCM samples carried by the payload
func (f *Frame) SampleCount() int {
	return len(f.Payload) / BytesPerSample
}

// Samples decodes the payload into signed 16-bit little-endian samples
func (f *Frame) Samples() []int16 {
	samples := make([]int16, len(f.Payload)/BytesPerSample)
	for i := range samples {
		samples[i] = int16(f.Payload[i*BytesPerSample]) | int16(f.Payload[i*BytesPerSample+1])<<8
	}
	return samples
}

// String returns a human-readable representation of the metadata
func (m Metadata) String() string {
	return fmt.Sprintf("Metadata{SampleRate:%d, DataLength:%d, Checksum:%d, Timestamp:%d, VerificationRequested:%t}",
		m.SampleRate, m.DataLength, m.Checksum, m.Timestamp, m.VerificationRequested)
}

// String returns a human-readable representation of the frame
func (f *Frame) String() string {
	return fmt.Sprintf("Frame{%s, PayloadBytes:%d, Samples:%d}",
		f.Metadata, len(f.Payload), f.SampleCount())
}
