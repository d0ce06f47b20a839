// Package vad provides energy-based voice activity detection over fixed
// windows of 16-bit PCM samples. Probabilities are smoothed across windows
// and compared against a configurable threshold.
package vad
