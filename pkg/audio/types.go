package audio

import "time"

// Frame represents a single frame of PCM audio flowing through the pipeline.
// Frames are the atomic unit of audio transport: captured from the microphone,
// scored by VAD, and accumulated into a [Sample] by the recorder.
type Frame struct {
	// Data is raw 16-bit signed little-endian PCM.
	Data []byte

	// SampleRate in Hz (e.g., 16000 for STT input).
	SampleRate int

	// Channels: 1 for mono, 2 for stereo.
	Channels int

	// Timestamp marks when this frame was captured, relative to stream start.
	Timestamp time.Duration
}

// Sample is one captured utterance: the PCM recorded between speech start and
// the trailing-silence endpoint, plus its format metadata.
//
// Samples are ephemeral: created per capture, consumed by verification and
// transcription, then discarded. Callers that spill a Sample to disk must
// guarantee deletion on every exit path.
type Sample struct {
	// PCM is raw 16-bit signed little-endian PCM.
	PCM []byte

	// SampleRate in Hz.
	SampleRate int

	// Channels is the channel count of PCM.
	Channels int

	// Start and End bound the utterance within the capture stream.
	Start time.Duration
	End   time.Duration
}

// Duration returns the audible length of the sample derived from the PCM
// size and format.
func (s *Sample) Duration() time.Duration {
	if s == nil || s.SampleRate <= 0 || s.Channels <= 0 {
		return 0
	}
	frames := len(s.PCM) / 2 / s.Channels
	return time.Duration(frames) * time.Second / time.Duration(s.SampleRate)
}
