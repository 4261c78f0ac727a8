// Package resemblyzer provides a speaker-embedding provider backed by a
// Resemblyzer sidecar service.
//
// Resemblyzer computes 256-dimensional d-vectors from a voice recording. The
// sidecar exposes a single POST /embed endpoint that accepts a WAV upload and
// returns the embedding as a JSON float array.
package resemblyzer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/SuperGokou/kidsBot/pkg/audio"
	"github.com/SuperGokou/kidsBot/pkg/provider/voiceid"
)

// EmbeddingDims is the d-vector length produced by Resemblyzer.
const EmbeddingDims = 256

// Compile-time assertion that Provider implements voiceid.Provider.
var _ voiceid.Provider = (*Provider)(nil)

// Option is a functional option for Provider.
type Option func(*Provider)

// WithTimeout sets a per-request HTTP timeout. Defaults to 10 s.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) {
		p.httpClient.Timeout = d
	}
}

// Provider implements voiceid.Provider backed by a Resemblyzer HTTP sidecar.
type Provider struct {
	serverURL  string
	httpClient *http.Client
}

// New creates a new Provider that connects to the Resemblyzer sidecar at
// serverURL (e.g., "http://localhost:5010"). serverURL must be non-empty.
func New(serverURL string, opts ...Option) (*Provider, error) {
	if serverURL == "" {
		return nil, errors.New("resemblyzer: serverURL must not be empty")
	}
	p := &Provider{
		serverURL:  strings.TrimRight(serverURL, "/"),
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Embed implements voiceid.Provider.
func (p *Provider) Embed(ctx context.Context, pcm []byte, sampleRate int) ([]float32, error) {
	if len(pcm) == 0 {
		return nil, errors.New("resemblyzer: pcm must not be empty")
	}
	if sampleRate <= 0 {
		return nil, fmt.Errorf("resemblyzer: invalid sample rate %d", sampleRate)
	}

	wav := audio.EncodeWAV(pcm, sampleRate, 1)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", "utterance.wav")
	if err != nil {
		return nil, fmt.Errorf("resemblyzer: create form file: %w", err)
	}
	if _, err := fw.Write(wav); err != nil {
		return nil, fmt.Errorf("resemblyzer: write wav data: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("resemblyzer: close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.serverURL+"/embed", &body)
	if err != nil {
		return nil, fmt.Errorf("resemblyzer: create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("resemblyzer: http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("resemblyzer: server returned HTTP %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("resemblyzer: read response: %w", err)
	}

	var result struct {
		Embedding []float32 `json:"embedding"`
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("resemblyzer: parse JSON response: %w", err)
	}
	if len(result.Embedding) != EmbeddingDims {
		return nil, fmt.Errorf("resemblyzer: expected %d dimensions, got %d", EmbeddingDims, len(result.Embedding))
	}
	return result.Embedding, nil
}

// Dimensions implements voiceid.Provider.
func (p *Provider) Dimensions() int {
	return EmbeddingDims
}

// ModelID implements voiceid.Provider.
func (p *Provider) ModelID() string {
	return "resemblyzer/d-vector"
}
