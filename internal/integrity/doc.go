// Package integrity implements transmission-error detection for audio frames.
// It recomputes the modular sum checksum and sample count of a PCM payload
// and compares them against the values the client declared in frame metadata.
package integrity
