// Package session manages per-client state for the audio ingest service.
// Each session owns the frame pipeline for one connection: decoding,
// integrity verification, corruption policy and utterance assembly.
package session
