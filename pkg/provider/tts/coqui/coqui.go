// Package coqui provides a TTS provider backed by a self-hosted Coqui TTS
// server, for fully offline deployments. It targets the standard Coqui
// server API (GET /api/tts) which returns a complete WAV clip per request.
package coqui

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/SuperGokou/kidsBot/pkg/audio"
	"github.com/SuperGokou/kidsBot/pkg/provider/tts"
)

// Compile-time assertion that Provider implements tts.Provider.
var _ tts.Provider = (*Provider)(nil)

// Option is a functional option for Provider.
type Option func(*Provider)

// WithLanguage sets the language_id query parameter for multilingual models.
func WithLanguage(lang string) Option {
	return func(p *Provider) {
		p.language = lang
	}
}

// WithTimeout sets a per-request HTTP timeout. Defaults to 30 s; CPU-only
// servers can take several seconds per sentence.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) {
		p.httpClient.Timeout = d
	}
}

// WithOutputSampleRate resamples the returned audio to the given rate. Zero
// (the default) keeps the server's native rate.
func WithOutputSampleRate(rate int) Option {
	return func(p *Provider) {
		p.outputSampleRate = rate
	}
}

// Provider implements tts.Provider backed by a Coqui TTS HTTP server.
type Provider struct {
	serverURL        string
	language         string
	outputSampleRate int
	httpClient       *http.Client
}

// New creates a new Provider that connects to the Coqui server at serverURL
// (e.g., "http://localhost:5002"). serverURL must be non-empty.
func New(serverURL string, opts ...Option) (*Provider, error) {
	if serverURL == "" {
		return nil, errors.New("coqui: serverURL must not be empty")
	}
	p := &Provider{
		serverURL:  strings.TrimRight(serverURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Synthesize implements tts.Provider.
func (p *Provider) Synthesize(ctx context.Context, text string, voiceID string) ([]byte, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, errors.New("coqui: text must not be empty")
	}

	q := url.Values{}
	q.Set("text", text)
	if voiceID != "" {
		q.Set("speaker_id", voiceID)
	}
	if p.language != "" {
		q.Set("language_id", p.language)
	}

	endpoint := p.serverURL + "/api/tts?" + q.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("coqui: create request: %w", err)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("coqui: http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("coqui: server returned HTTP %d", resp.StatusCode)
	}

	wav, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("coqui: read response: %w", err)
	}

	if p.outputSampleRate > 0 {
		wav, err = resampleWAV(wav, p.outputSampleRate)
		if err != nil {
			return nil, fmt.Errorf("coqui: resample: %w", err)
		}
	}
	return wav, nil
}

// ListVoices implements tts.Provider. Multi-speaker servers expose their
// speaker list at /speakers_list; single-speaker servers return 404, which
// maps to an empty list rather than an error.
func (p *Provider) ListVoices(ctx context.Context) ([]tts.Voice, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.serverURL+"/speakers_list", nil)
	if err != nil {
		return nil, fmt.Errorf("coqui: create request: %w", err)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("coqui: list voices: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("coqui: server returned HTTP %d", resp.StatusCode)
	}

	var ids []string
	if err := json.NewDecoder(resp.Body).Decode(&ids); err != nil {
		return nil, fmt.Errorf("coqui: decode speakers: %w", err)
	}

	voices := make([]tts.Voice, 0, len(ids))
	for _, id := range ids {
		voices = append(voices, tts.Voice{ID: id, Name: id})
	}
	return voices, nil
}

// resampleWAV converts a mono WAV clip to the target sample rate, rebuilding
// the container around the resampled PCM.
func resampleWAV(wav []byte, dstRate int) ([]byte, error) {
	pcm, info, err := audio.DecodeWAV(wav)
	if err != nil {
		return nil, err
	}
	if info.Channels != 1 {
		return nil, fmt.Errorf("expected mono audio, got %d channels", info.Channels)
	}
	if info.SampleRate == dstRate {
		return wav, nil
	}
	resampled := audio.ResampleMono16(pcm, info.SampleRate, dstRate)
	return audio.EncodeWAV(resampled, dstRate, 1), nil
}
