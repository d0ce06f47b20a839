// Package protocol implements parsing and encoding of framed audio messages.
// It handles the length-prefixed binary format sent by streaming clients: a
// UTF-8 JSON metadata descriptor followed by raw 16-bit PCM audio samples.
package protocol
