// Package audio defines the interfaces and types for microphone capture and
// speaker playback within kidsBot.
//
// The primary abstraction is [Device], a duplex audio endpoint that streams
// captured PCM frames and plays back synthesized clips. Implementations live
// in backend-specific subpackages (e.g., audio/malgo for real hardware via
// miniaudio, audio/mock for tests). The interface is intentionally narrow to
// keep the conversation loop decoupled from hardware details.
package audio

import "context"

// Device is a duplex audio endpoint: one capture stream and blocking playback.
//
// Implementations must be safe for concurrent use. Capture and Play may be
// invoked from different goroutines; a single Device serves one conversation
// session at a time.
type Device interface {
	// Capture starts the microphone and returns a read-only channel delivering
	// PCM frames as they arrive. The channel is closed when ctx is cancelled or
	// the device fails. Calling Capture while a previous capture stream is
	// still open returns an error.
	Capture(ctx context.Context) (<-chan Frame, error)

	// Play writes the raw PCM clip to the speaker and blocks until playback
	// completes or ctx is cancelled. On cancellation playback stops promptly
	// (within one poll interval) and Play returns ctx.Err().
	Play(ctx context.Context, pcm []byte, sampleRate, channels int) error

	// Close releases the underlying hardware. The Device is unusable afterwards.
	Close() error
}
