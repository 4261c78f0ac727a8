// Package vad defines the Engine interface for Voice Activity Detection backends.
//
// A VAD engine wraps a frame-level speech detector and surfaces it as a
// stateful, per-stream session. Each session maintains its own internal state
// (hysteresis counters, ambient-noise window) so that multiple concurrent audio
// streams can be processed independently.
//
// VAD is synchronous by design: ProcessFrame returns immediately with a
// detection result, making it suitable for the low-latency capture loop that
// gates recording.
//
// Implementations must be safe for concurrent use across different sessions.
// A single SessionHandle should not be shared across goroutines unless the
// implementation explicitly documents thread safety for that type.
package vad

// Config holds the parameters for a VAD session. Energy thresholds are
// expressed in 16-bit PCM RMS units (0–32767); see each Engine's documentation
// for recommended starting values.
type Config struct {
	// SampleRate is the audio sample rate in Hz. Must match the rate of the PCM
	// frames passed to ProcessFrame. Common values: 8000, 16000, 48000.
	SampleRate int

	// FrameSizeMs is the duration of each audio frame in milliseconds.
	// ProcessFrame returns an error if the supplied frame does not match this
	// size.
	FrameSizeMs int

	// SpeechThreshold is the RMS energy above which a frame is classified as
	// speech. Higher values reduce false positives at the cost of increased
	// speech start latency. Typical: 300 for near-field microphones.
	SpeechThreshold float64

	// SilenceThreshold is the RMS energy below which a frame is classified as
	// silence while a speech segment is active. Must be ≤ SpeechThreshold.
	// Zero means derive it from SpeechThreshold.
	SilenceThreshold float64

	// TrailingSilenceMs is the consecutive-silence duration that ends an active
	// speech segment (the endpointing pause). Typical: 500 ms.
	TrailingSilenceMs int
}

// SessionHandle represents an active VAD session for a single audio stream.
// It is an interface so that test code can supply mock implementations without
// a live engine. Each session maintains its own detection state; Reset clears
// this state without closing the session.
type SessionHandle interface {
	// ProcessFrame analyses a single audio frame and returns the detection
	// result. The frame must be raw 16-bit little-endian PCM at the configured
	// SampleRate and FrameSizeMs. Returns an error if the frame size is wrong.
	//
	// This method is called synchronously in the capture loop; it must not block.
	ProcessFrame(frame []byte) (Event, error)

	// Reset clears all accumulated detection state (hysteresis counters,
	// trailing-silence accumulator) without closing the session. Use this when
	// a new capture cycle starts so stale state from the previous utterance
	// cannot leak into the next one.
	Reset()

	// Close releases all resources associated with the session. After Close,
	// ProcessFrame must return an error. Calling Close more than once is safe
	// and returns nil.
	Close() error
}

// Engine is the factory for VAD sessions. It is the top-level interface
// implemented by each VAD backend.
//
// Implementations must be safe for concurrent use: multiple goroutines may
// call NewSession simultaneously to create independent sessions.
type Engine interface {
	// NewSession creates a new VAD session with the given configuration. The
	// session is immediately ready to accept audio frames.
	//
	// Returns an error if the configuration is invalid (unsupported sample
	// rate, frame size, or threshold out of range).
	NewSession(cfg Config) (SessionHandle, error)
}
