// Package capture records single utterances from an audio device using
// VAD-based endpointing.
//
// The [Recorder] combines a raw frame stream from an [audio.Device] with a
// [vad.SessionHandle] to implement record-until-silence: wait for speech to
// begin (bounded by a timeout), accumulate PCM while speech continues, and
// stop when the trailing-silence endpoint fires or the phrase-length ceiling
// is reached.
//
// A no-speech timeout is a normal outcome, not an error condition; callers
// receive the [ErrNoSpeech] sentinel and simply begin the next listening
// cycle. Transient device failures during one capture are mapped to the same
// sentinel so that a single bad cycle can never take down the loop.
package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/SuperGokou/kidsBot/pkg/audio"
	"github.com/SuperGokou/kidsBot/pkg/provider/vad"
)

// ErrNoSpeech is returned when no speech energy crossed the detection
// threshold within the allowed wait, or when a transient capture fault made
// the cycle unusable. It signals "keep listening", not a failure.
var ErrNoSpeech = errors.New("no speech detected")

const (
	defaultSampleRate  = 16000
	defaultFrameSizeMs = 30

	// prerollDuration is how much audio preceding the detected speech start is
	// prepended to the sample, so the hysteresis frames and any soft attack of
	// the first word are not lost.
	prerollDuration = 300 * time.Millisecond
)

// Option is a functional option for configuring a Recorder.
type Option func(*Recorder)

// WithSampleRate sets the expected capture sample rate in Hz. Defaults to 16000.
func WithSampleRate(rate int) Option {
	return func(r *Recorder) {
		r.sampleRate = rate
	}
}

// WithFrameSizeMs sets the VAD analysis frame duration. Defaults to 30 ms.
func WithFrameSizeMs(ms int) Option {
	return func(r *Recorder) {
		r.frameSizeMs = ms
	}
}

// WithSpeechThreshold sets the base RMS speech threshold forwarded to the VAD
// session. Zero keeps the engine default.
func WithSpeechThreshold(threshold float64) Option {
	return func(r *Recorder) {
		r.speechThreshold = threshold
	}
}

// WithPauseThreshold sets the trailing-silence duration that ends an
// utterance. Zero keeps the engine default (500 ms).
func WithPauseThreshold(d time.Duration) Option {
	return func(r *Recorder) {
		r.pauseThreshold = d
	}
}

// WithLogger sets the logger used for capture diagnostics. Defaults to
// slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(r *Recorder) {
		r.logger = logger
	}
}

// Recorder captures one utterance at a time from an audio device.
// It is safe for sequential reuse; concurrent RecordUntilSilence calls on the
// same Recorder are not supported (the loop is single-threaded by design).
type Recorder struct {
	device audio.Device
	engine vad.Engine

	sampleRate      int
	frameSizeMs     int
	speechThreshold float64
	pauseThreshold  time.Duration
	logger          *slog.Logger
}

// New creates a Recorder over the given device and VAD engine.
//
// device may be nil when no microphone could be initialised; the Recorder is
// then permanently unavailable and every RecordUntilSilence call returns
// [ErrNoSpeech] immediately, letting the caller degrade instead of crash.
func New(device audio.Device, engine vad.Engine, opts ...Option) *Recorder {
	r := &Recorder{
		device:      device,
		engine:      engine,
		sampleRate:  defaultSampleRate,
		frameSizeMs: defaultFrameSizeMs,
		logger:      slog.Default(),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Available reports whether a capture device is present.
func (r *Recorder) Available() bool {
	return r.device != nil
}

// RecordUntilSilence listens for one utterance.
//
// If speech does not begin within maxWaitForSpeech the cycle ends with
// [ErrNoSpeech]. Once speech starts, recording continues until the VAD
// trailing-silence endpoint fires or the utterance reaches maxPhraseLength,
// whichever comes first. The returned sample is mono 16-bit PCM at the
// configured sample rate.
//
// Cancelling ctx aborts the capture and returns ctx.Err().
func (r *Recorder) RecordUntilSilence(ctx context.Context, maxWaitForSpeech, maxPhraseLength time.Duration) (*audio.Sample, error) {
	if r.device == nil {
		return nil, ErrNoSpeech
	}

	sess, err := r.engine.NewSession(vad.Config{
		SampleRate:        r.sampleRate,
		FrameSizeMs:       r.frameSizeMs,
		SpeechThreshold:   r.speechThreshold,
		TrailingSilenceMs: int(r.pauseThreshold / time.Millisecond),
	})
	if err != nil {
		return nil, fmt.Errorf("capture: create vad session: %w", err)
	}
	defer sess.Close()
	sess.Reset()

	captureCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	frames, err := r.device.Capture(captureCtx)
	if err != nil {
		r.logger.Warn("capture device error, treating cycle as no speech", "error", err)
		return nil, ErrNoSpeech
	}

	frameBytes := r.sampleRate * r.frameSizeMs / 1000 * 2
	prerollChunks := int(prerollDuration/time.Millisecond) / r.frameSizeMs

	var (
		rechunk  []byte // partial frame carried between device frames
		preroll  [][]byte
		pcm      []byte
		speaking bool
		startTS  time.Duration
		lastTS   time.Duration
	)

	waitTimer := time.NewTimer(maxWaitForSpeech)
	defer waitTimer.Stop()

	maxPCM := int(maxPhraseLength.Seconds() * float64(r.sampleRate) * 2)

	finish := func() *audio.Sample {
		return &audio.Sample{
			PCM:        pcm,
			SampleRate: r.sampleRate,
			Channels:   1,
			Start:      startTS,
			End:        lastTS,
		}
	}

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()

		case <-waitTimer.C:
			if !speaking {
				return nil, ErrNoSpeech
			}

		case frame, ok := <-frames:
			if !ok {
				// Device stream ended mid-cycle. Keep whatever speech was
				// already captured; otherwise treat as an empty cycle.
				if speaking && len(pcm) > 0 {
					return finish(), nil
				}
				r.logger.Warn("capture stream closed unexpectedly")
				return nil, ErrNoSpeech
			}

			lastTS = frame.Timestamp
			rechunk = append(rechunk, frame.Data...)

			for len(rechunk) >= frameBytes {
				chunk := rechunk[:frameBytes:frameBytes]
				rechunk = rechunk[frameBytes:]

				ev, err := sess.ProcessFrame(chunk)
				if err != nil {
					r.logger.Warn("vad frame error, treating cycle as no speech", "error", err)
					return nil, ErrNoSpeech
				}

				switch ev.Type {
				case vad.Silence:
					if !speaking {
						preroll = append(preroll, chunk)
						if len(preroll) > prerollChunks {
							preroll = preroll[1:]
						}
					}

				case vad.SpeechStart:
					speaking = true
					startTS = frame.Timestamp
					for _, p := range preroll {
						pcm = append(pcm, p...)
					}
					preroll = nil
					pcm = append(pcm, chunk...)

				case vad.SpeechContinue:
					if speaking {
						pcm = append(pcm, chunk...)
					}

				case vad.SpeechEnd:
					if speaking {
						pcm = append(pcm, chunk...)
						return finish(), nil
					}
				}

				if speaking && len(pcm) >= maxPCM {
					// Hard cutoff so a chatty room cannot grow the buffer or
					// delay the turn forever.
					r.logger.Debug("phrase length ceiling reached", "bytes", len(pcm))
					return finish(), nil
				}
			}
		}
	}
}
