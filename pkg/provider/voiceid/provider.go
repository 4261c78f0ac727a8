// Package voiceid defines the Provider interface for speaker-embedding
// backends.
//
// A voiceid provider maps an utterance of raw PCM audio to a fixed-length
// d-vector that characterises the speaker's voice rather than the words
// spoken. The verification layer compares these vectors by cosine similarity
// against the registered owner's voiceprint to decide whether the bot should
// respond.
//
// Implementations must be safe for concurrent use.
package voiceid

import "context"

// Provider is the abstraction over any speaker-embedding backend.
//
// All vectors from one Provider instance share the same dimensionality and
// embedding space. Voiceprints recorded with one backend must never be
// compared against vectors from another.
type Provider interface {
	// Embed computes the speaker embedding for an utterance of 16-bit signed
	// little-endian mono PCM. The returned slice has length Dimensions().
	//
	// Utterances shorter than roughly a second produce unreliable embeddings;
	// callers enforce their own minimum-length floor before calling.
	Embed(ctx context.Context, pcm []byte, sampleRate int) ([]float32, error)

	// Dimensions returns the fixed embedding length produced by this provider.
	Dimensions() int

	// ModelID returns the backend model identifier for logging.
	ModelID() string
}
