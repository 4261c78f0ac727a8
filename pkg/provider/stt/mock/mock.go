// Package mock provides a test double for the stt.Provider interface.
package mock

import (
	"context"
	"sync"

	"github.com/SuperGokou/kidsBot/pkg/provider/stt"
)

var _ stt.Provider = (*Provider)(nil)

// TranscribeCall records a single invocation of Transcribe.
type TranscribeCall struct {
	PCMLen       int
	SampleRate   int
	Channels     int
	LanguageHint string
}

// Provider is a mock implementation of stt.Provider.
type Provider struct {
	mu sync.Mutex

	// Transcripts are returned in order by successive Transcribe calls. When
	// exhausted, the last entry repeats. Empty slice means "".
	Transcripts []string

	// TranscribeErr, if non-nil, is returned by Transcribe.
	TranscribeErr error

	// ModelIDValue is returned by ModelID.
	ModelIDValue string

	// TranscribeCalls records every call to Transcribe in order.
	TranscribeCalls []TranscribeCall

	next int
}

// Transcribe records the call and returns the next canned transcript.
func (p *Provider) Transcribe(ctx context.Context, pcm []byte, sampleRate, channels int, languageHint string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.TranscribeCalls = append(p.TranscribeCalls, TranscribeCall{
		PCMLen:       len(pcm),
		SampleRate:   sampleRate,
		Channels:     channels,
		LanguageHint: languageHint,
	})
	if p.TranscribeErr != nil {
		return "", p.TranscribeErr
	}
	if len(p.Transcripts) == 0 {
		return "", nil
	}
	idx := p.next
	if idx >= len(p.Transcripts) {
		idx = len(p.Transcripts) - 1
	}
	p.next++
	return p.Transcripts[idx], nil
}

// ModelID returns ModelIDValue.
func (p *Provider) ModelID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ModelIDValue
}

// Reset clears recorded calls and rewinds the transcript cursor.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.TranscribeCalls = nil
	p.next = 0
}
