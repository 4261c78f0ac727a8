// Package tts defines the Provider interface for text-to-speech backends.
//
// Speech output is sentence-chunked upstream, so providers synthesize one
// short text at a time and return a complete RIFF/WAV clip. Streaming
// synthesis is deliberately out of scope; the clips are small enough that
// per-sentence latency stays low.
//
// Implementations must be safe for concurrent use.
package tts

import "context"

// Voice describes a synthesis voice offered by a provider.
type Voice struct {
	// ID is the provider-specific voice identifier passed to Synthesize
	// (e.g., "en-US-AnaNeural").
	ID string

	// Name is a human-readable display name.
	Name string

	// Language is the BCP-47 locale of the voice (e.g., "en-US").
	Language string

	// Gender is the provider-reported voice gender, when known.
	Gender string
}

// Provider is the abstraction over any text-to-speech backend.
type Provider interface {
	// Synthesize renders text with the given voice and returns a complete
	// RIFF/WAV audio clip. An empty voiceID selects the provider default.
	Synthesize(ctx context.Context, text string, voiceID string) ([]byte, error)

	// ListVoices returns the voices this provider offers.
	ListVoices(ctx context.Context) ([]Voice, error)
}
