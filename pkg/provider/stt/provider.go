// Package stt defines the Provider interface for speech-to-text backends.
//
// The conversation loop records one utterance at a time, so transcription is
// batch-oriented: a complete PCM buffer goes in, the final transcript comes
// out. Providers that stream internally (e.g., Deepgram over a websocket)
// still collect their partials and return only the final text.
//
// Implementations must be safe for concurrent use.
package stt

import "context"

// Provider is the abstraction over any speech-to-text backend.
type Provider interface {
	// Transcribe converts a complete utterance of 16-bit signed little-endian
	// PCM audio to text. languageHint is an optional BCP-47 code ("en", "zh");
	// empty means provider default or auto-detect.
	//
	// An empty transcript with a nil error means the audio contained no
	// recognisable speech. Errors are reserved for transport and backend
	// failures.
	Transcribe(ctx context.Context, pcm []byte, sampleRate, channels int, languageHint string) (string, error)

	// ModelID returns the backend model identifier for logging.
	ModelID() string
}
