// Package registration enrols the owner's voiceprint.
//
// Registration records a few short phrases from the child, embeds each with
// the voiceid provider, and stores the averaged d-vector as the owner
// voiceprint. Averaging over several utterances smooths out per-recording
// noise and gives the verifier a more stable reference than any single take.
package registration

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/SuperGokou/kidsBot/internal/capture"
	"github.com/SuperGokou/kidsBot/internal/verify"
	"github.com/SuperGokou/kidsBot/pkg/provider/voiceid"
)

// DefaultPhrases is how many utterances are recorded for enrolment.
const DefaultPhrases = 3

// ErrNoUsableAudio is returned when none of the enrolment attempts produced
// speech the voiceid provider could embed.
var ErrNoUsableAudio = errors.New("registration: no usable audio captured")

// Registrar performs voiceprint enrolment.
type Registrar struct {
	recorder   *capture.Recorder
	provider   voiceid.Provider
	path       string
	phrases    int
	sampleRate int
	log        *slog.Logger
}

// Option is a functional option for Registrar.
type Option func(*Registrar)

// WithPhrases sets how many utterances to record. Defaults to DefaultPhrases.
func WithPhrases(n int) Option {
	return func(r *Registrar) {
		if n > 0 {
			r.phrases = n
		}
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(log *slog.Logger) Option {
	return func(r *Registrar) {
		r.log = log
	}
}

// New creates a Registrar that records through recorder, embeds with
// provider, and writes the voiceprint to path.
func New(recorder *capture.Recorder, provider voiceid.Provider, path string, sampleRate int, opts ...Option) (*Registrar, error) {
	if recorder == nil {
		return nil, fmt.Errorf("registration: recorder must not be nil")
	}
	if provider == nil {
		return nil, fmt.Errorf("registration: provider must not be nil")
	}
	if path == "" {
		return nil, fmt.Errorf("registration: voiceprint path must not be empty")
	}
	r := &Registrar{
		recorder:   recorder,
		provider:   provider,
		path:       path,
		phrases:    DefaultPhrases,
		sampleRate: sampleRate,
		log:        slog.Default(),
	}
	for _, o := range opts {
		o(r)
	}
	return r, nil
}

// IsOwnerRegistered reports whether a voiceprint file exists at path.
func IsOwnerRegistered(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Size() > 0
}

// Run records the configured number of phrases, averages their embeddings,
// and saves the voiceprint. Prompting the child to speak is the caller's job;
// Run blocks on the microphone between prompts via the prompt callback.
func (r *Registrar) Run(ctx context.Context, prompt func(attempt, total int)) error {
	var sum []float32
	captured := 0

	for i := 0; i < r.phrases; i++ {
		if prompt != nil {
			prompt(i+1, r.phrases)
		}

		sample, err := r.recorder.RecordUntilSilence(ctx, 15*time.Second, 10*time.Second)
		if errors.Is(err, capture.ErrNoSpeech) {
			r.log.Warn("no speech detected during enrolment attempt", "attempt", i+1)
			continue
		}
		if err != nil {
			return fmt.Errorf("registration: record: %w", err)
		}

		embedding, err := r.provider.Embed(ctx, sample.PCM, sample.SampleRate)
		if err != nil {
			r.log.Warn("embedding failed during enrolment attempt", "attempt", i+1, "error", err)
			continue
		}

		if sum == nil {
			sum = make([]float32, len(embedding))
		}
		if len(embedding) != len(sum) {
			return fmt.Errorf("registration: inconsistent embedding dimensions %d vs %d", len(embedding), len(sum))
		}
		for j, v := range embedding {
			sum[j] += v
		}
		captured++
	}

	if captured == 0 {
		return ErrNoUsableAudio
	}

	for j := range sum {
		sum[j] /= float32(captured)
	}

	if err := verify.SaveVoiceprint(r.path, sum); err != nil {
		return err
	}
	r.log.Info("owner voiceprint registered", "path", r.path, "phrases", captured, "dimensions", len(sum))
	return nil
}
