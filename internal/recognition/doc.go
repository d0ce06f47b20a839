// Package recognition implements the HTTP client for the speech recognition API.
// It uploads assembled utterances as multipart WAV requests, implements retry
// logic with exponential backoff, and limits concurrent requests.
package recognition
