// Package energy provides an RMS-energy VAD engine with ambient-noise
// adaptation.
//
// The detector classifies each frame by its root-mean-square energy with
// hysteresis: speech starts only after several consecutive high-energy frames
// (suppressing clicks and pops), and ends only after the configured
// trailing-silence duration elapses (bridging the short gaps between words).
//
// The speech threshold is not fixed. Frames observed outside speech feed an
// exponentially weighted ambient-noise estimate, and the effective threshold is
// recalibrated from it continuously so the detector tolerates room-noise drift
// without manual retuning. The configured SpeechThreshold acts as a floor.
package energy

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/SuperGokou/kidsBot/pkg/provider/vad"
)

const (
	// defaultSpeechThreshold is the floor RMS energy for speech, in 16-bit PCM
	// units (max 32767). 300 corresponds to quiet speech in a calm room.
	defaultSpeechThreshold = 300.0

	// defaultTrailingSilenceMs ends an utterance after this much silence.
	defaultTrailingSilenceMs = 500

	// speechStartFrames is the number of consecutive speech-energy frames
	// required before SpeechStart fires.
	speechStartFrames = 3

	// noiseAlpha is the EWMA smoothing factor for the ambient-noise estimate.
	noiseAlpha = 0.05

	// noiseMargin scales the ambient-noise estimate into a speech threshold.
	noiseMargin = 2.5

	// silenceRatio derives the silence threshold from the speech threshold
	// when none is configured explicitly.
	silenceRatio = 0.6
)

// Compile-time assertion that Engine implements vad.Engine.
var _ vad.Engine = (*Engine)(nil)

// Engine is the factory for energy VAD sessions. The zero value is usable.
type Engine struct{}

// New returns a new energy VAD Engine.
func New() *Engine {
	return &Engine{}
}

// NewSession implements vad.Engine.
func (e *Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	if cfg.SampleRate <= 0 {
		return nil, fmt.Errorf("energy vad: sample rate %d is invalid", cfg.SampleRate)
	}
	if cfg.FrameSizeMs <= 0 {
		return nil, fmt.Errorf("energy vad: frame size %d ms is invalid", cfg.FrameSizeMs)
	}
	if cfg.SpeechThreshold < 0 || cfg.SilenceThreshold < 0 {
		return nil, errors.New("energy vad: thresholds must not be negative")
	}
	if cfg.SilenceThreshold > cfg.SpeechThreshold && cfg.SpeechThreshold > 0 {
		return nil, errors.New("energy vad: silence threshold must not exceed speech threshold")
	}

	speechThresh := cfg.SpeechThreshold
	if speechThresh == 0 {
		speechThresh = defaultSpeechThreshold
	}
	silenceThresh := cfg.SilenceThreshold
	if silenceThresh == 0 {
		silenceThresh = speechThresh * silenceRatio
	}
	trailingMs := cfg.TrailingSilenceMs
	if trailingMs <= 0 {
		trailingMs = defaultTrailingSilenceMs
	}

	// One channel assumed; the capture layer feeds mono frames.
	frameBytes := cfg.SampleRate * cfg.FrameSizeMs / 1000 * 2

	return &session{
		frameBytes:    frameBytes,
		frameMs:       cfg.FrameSizeMs,
		baseThreshold: speechThresh,
		silenceRatio:  silenceThresh / speechThresh,
		trailingMs:    trailingMs,
		noiseRMS:      speechThresh / noiseMargin,
	}, nil
}

// session holds per-stream detection state. Not safe for concurrent use; the
// capture loop owns it exclusively.
type session struct {
	mu sync.Mutex

	frameBytes    int
	frameMs       int
	baseThreshold float64
	silenceRatio  float64
	trailingMs    int

	closed bool

	// detection state
	inSpeech     bool
	speechFrames int // consecutive frames above threshold before speech start
	silenceMs    int // trailing silence accumulated inside speech

	// ambient-noise adaptation
	noiseRMS float64
}

// ProcessFrame implements vad.SessionHandle.
func (s *session) ProcessFrame(frame []byte) (vad.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return vad.Event{}, errors.New("energy vad: session is closed")
	}
	if len(frame) != s.frameBytes {
		return vad.Event{}, fmt.Errorf("energy vad: frame is %d bytes, expected %d", len(frame), s.frameBytes)
	}

	rms := computeRMS(frame)
	speechThresh := s.effectiveThreshold()
	silenceThresh := speechThresh * s.silenceRatio

	if !s.inSpeech {
		if rms >= speechThresh {
			s.speechFrames++
			if s.speechFrames >= speechStartFrames {
				s.inSpeech = true
				s.silenceMs = 0
				return vad.Event{Type: vad.SpeechStart, Energy: rms}, nil
			}
			// Not enough consecutive frames yet; still report silence so the
			// recorder does not commit to an utterance on a single pop.
			return vad.Event{Type: vad.Silence, Energy: rms}, nil
		}
		s.speechFrames = 0
		s.adaptNoise(rms)
		return vad.Event{Type: vad.Silence, Energy: rms}, nil
	}

	// Inside a speech segment.
	if rms < silenceThresh {
		s.silenceMs += s.frameMs
		if s.silenceMs >= s.trailingMs {
			s.inSpeech = false
			s.speechFrames = 0
			s.silenceMs = 0
			return vad.Event{Type: vad.SpeechEnd, Energy: rms}, nil
		}
		// Short gap between words still counts as ongoing speech.
		return vad.Event{Type: vad.SpeechContinue, Energy: rms}, nil
	}

	s.silenceMs = 0
	return vad.Event{Type: vad.SpeechContinue, Energy: rms}, nil
}

// effectiveThreshold returns the current adapted speech threshold. Must be
// called with s.mu held.
func (s *session) effectiveThreshold() float64 {
	adapted := s.noiseRMS * noiseMargin
	if adapted < s.baseThreshold {
		return s.baseThreshold
	}
	return adapted
}

// adaptNoise folds a non-speech frame into the ambient-noise estimate.
// Must be called with s.mu held.
func (s *session) adaptNoise(rms float64) {
	s.noiseRMS = (1-noiseAlpha)*s.noiseRMS + noiseAlpha*rms
}

// Reset implements vad.SessionHandle. The ambient-noise estimate survives the
// reset so calibration carries over between capture cycles.
func (s *session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inSpeech = false
	s.speechFrames = 0
	s.silenceMs = 0
}

// Close implements vad.SessionHandle.
func (s *session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// computeRMS returns the root-mean-square energy of a 16-bit signed
// little-endian PCM buffer. Returns 0 for buffers shorter than one sample.
func computeRMS(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		sample := int16(binary.LittleEndian.Uint16(pcm[i*2 : i*2+2]))
		v := float64(sample)
		sum += v * v
	}
	return math.Sqrt(sum / float64(n))
}
