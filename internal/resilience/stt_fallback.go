package resilience

import (
	"context"
	"strings"

	"github.com/SuperGokou/kidsBot/pkg/provider/stt"
)

// STTFallback implements [stt.Provider] with automatic failover across
// multiple transcription backends. A local whisper.cpp model makes a good
// last entry: slower, but it keeps working without a network.
type STTFallback struct {
	group *FallbackGroup[stt.Provider]
}

var _ stt.Provider = (*STTFallback)(nil)

// NewSTTFallback creates an [STTFallback] with primary as the preferred
// backend.
func NewSTTFallback(primary stt.Provider, primaryName string, cfg FallbackConfig) *STTFallback {
	return &STTFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
	}
}

// AddFallback registers an additional STT provider as a fallback.
func (f *STTFallback) AddFallback(name string, provider stt.Provider) {
	f.group.AddFallback(name, provider)
}

// Transcribe sends the utterance to the first healthy provider. An empty
// transcript is a valid result (no speech), not a reason to fail over.
func (f *STTFallback) Transcribe(ctx context.Context, pcm []byte, sampleRate, channels int, languageHint string) (string, error) {
	return ExecuteWithResult(f.group, func(p stt.Provider) (string, error) {
		return p.Transcribe(ctx, pcm, sampleRate, channels, languageHint)
	})
}

// ModelID lists the model identifiers of all entries, primary first.
func (f *STTFallback) ModelID() string {
	ids := make([]string, 0, len(f.group.entries))
	for _, e := range f.group.entries {
		ids = append(ids, e.value.ModelID())
	}
	return strings.Join(ids, ",")
}
