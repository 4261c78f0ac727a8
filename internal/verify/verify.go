// Package verify gates the conversation loop on speaker identity.
//
// Each recorded utterance is embedded by the voiceid provider and compared
// against the registered owner's voiceprint by cosine similarity. Utterances
// at or above the threshold belong to the owner and proceed; everything else
// is silently ignored so the bot never answers a stranger, a sibling, or the
// television.
package verify

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"math"
	"os"
	"time"

	"github.com/SuperGokou/kidsBot/pkg/provider/voiceid"
)

// DefaultThreshold is the minimum cosine similarity for acceptance.
const DefaultThreshold = 0.25

// minUtterance is the floor below which an utterance is too short to produce
// a meaningful speaker embedding.
const minUtterance = 100 * time.Millisecond

// Decision is the outcome of one verification check.
type Decision struct {
	// Accepted reports whether the utterance should be processed.
	Accepted bool

	// Similarity is the cosine similarity against the voiceprint. Zero when
	// no comparison took place (unregistered, too short, or embed failure).
	Similarity float64

	// Reason explains the decision for logging: "match", "mismatch",
	// "unregistered", "too_short", or "embed_failed".
	Reason string
}

// Verifier compares utterances against a stored voiceprint.
type Verifier struct {
	provider   voiceid.Provider
	voiceprint []float32
	threshold  float64
	log        *slog.Logger
}

// Option is a functional option for Verifier.
type Option func(*Verifier)

// WithThreshold overrides DefaultThreshold.
func WithThreshold(t float64) Option {
	return func(v *Verifier) {
		v.threshold = t
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(log *slog.Logger) Option {
	return func(v *Verifier) {
		v.log = log
	}
}

// New creates a Verifier. voiceprint may be nil, meaning no owner is
// registered yet: every utterance is then accepted with a warning so the
// first-run experience still works before registration.
func New(provider voiceid.Provider, voiceprint []float32, opts ...Option) (*Verifier, error) {
	if provider == nil {
		return nil, fmt.Errorf("verify: provider must not be nil")
	}
	if voiceprint != nil && provider.Dimensions() > 0 && len(voiceprint) != provider.Dimensions() {
		return nil, fmt.Errorf("verify: voiceprint has %d dimensions, provider produces %d",
			len(voiceprint), provider.Dimensions())
	}
	v := &Verifier{
		provider:   provider,
		voiceprint: voiceprint,
		threshold:  DefaultThreshold,
		log:        slog.Default(),
	}
	for _, o := range opts {
		o(v)
	}
	return v, nil
}

// Registered reports whether an owner voiceprint is loaded.
func (v *Verifier) Registered() bool {
	return v.voiceprint != nil
}

// Verify checks whether the utterance was spoken by the registered owner.
//
// Failure modes are closed: an utterance that cannot be embedded is rejected
// rather than let an unverified speaker through. The only open case is when
// no voiceprint is registered at all.
func (v *Verifier) Verify(ctx context.Context, pcm []byte, sampleRate int) Decision {
	if v.voiceprint == nil {
		v.log.Warn("no owner voiceprint registered, accepting utterance unverified")
		return Decision{Accepted: true, Reason: "unregistered"}
	}

	if utteranceDuration(pcm, sampleRate) < minUtterance {
		return Decision{Accepted: false, Reason: "too_short"}
	}

	embedding, err := v.provider.Embed(ctx, pcm, sampleRate)
	if err != nil {
		v.log.Error("speaker embedding failed, rejecting utterance", "error", err)
		return Decision{Accepted: false, Reason: "embed_failed"}
	}

	sim := Cosine(embedding, v.voiceprint)
	if sim >= v.threshold {
		return Decision{Accepted: true, Similarity: sim, Reason: "match"}
	}
	return Decision{Accepted: false, Similarity: sim, Reason: "mismatch"}
}

// Cosine returns the cosine similarity of two vectors, or 0 when either is
// empty, mismatched in length, or zero-magnitude.
func Cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// utteranceDuration computes the duration of a 16-bit mono PCM buffer.
func utteranceDuration(pcm []byte, sampleRate int) time.Duration {
	if sampleRate <= 0 {
		return 0
	}
	samples := len(pcm) / 2
	return time.Duration(samples) * time.Second / time.Duration(sampleRate)
}

// LoadVoiceprint reads a voiceprint file written by SaveVoiceprint. Returns
// (nil, nil) when the file does not exist, which callers treat as
// "unregistered".
func LoadVoiceprint(path string) ([]float32, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("verify: read voiceprint: %w", err)
	}
	if len(data) == 0 || len(data)%4 != 0 {
		return nil, fmt.Errorf("verify: voiceprint file %q is corrupt (%d bytes)", path, len(data))
	}

	vec := make([]float32, len(data)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4 : i*4+4]))
	}
	return vec, nil
}

// SaveVoiceprint writes the voiceprint as little-endian float32 values via a
// temp file and rename, so a crash mid-write never leaves a truncated
// voiceprint behind.
func SaveVoiceprint(path string, vec []float32) error {
	if len(vec) == 0 {
		return fmt.Errorf("verify: refusing to save empty voiceprint")
	}

	data := make([]byte, len(vec)*4)
	for i, v := range vec {
		binary.LittleEndian.PutUint32(data[i*4:i*4+4], math.Float32bits(v))
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("verify: write voiceprint: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("verify: rename voiceprint: %w", err)
	}
	return nil
}
