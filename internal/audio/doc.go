// Package audio handles utterance assembly and format conversion.
// It gates incoming PCM samples through voice activity detection, assembles
// complete utterances bounded by silence, and encodes them to WAV for recognition.
package audio
