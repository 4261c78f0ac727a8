// Package deepgram provides a Deepgram-backed STT provider using the
// streaming WebSocket API.
//
// Although Deepgram is a streaming service, the conversation loop hands over
// one complete utterance at a time, so Transcribe opens a session, streams
// the buffer in fixed-size chunks, sends CloseStream, and concatenates the
// final results before returning.
package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/coder/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/SuperGokou/kidsBot/pkg/provider/stt"
)

const (
	deepgramEndpoint = "wss://api.deepgram.com/v1/listen"
	defaultModel     = "nova-3"
	defaultLanguage  = "en"

	// chunkBytes is the binary frame size for audio upload. 8 KiB is 256 ms
	// of 16 kHz mono PCM, comfortably under Deepgram's frame limits.
	chunkBytes = 8192
)

// Compile-time assertion that Provider implements stt.Provider.
var _ stt.Provider = (*Provider)(nil)

// Option is a functional option for configuring the Deepgram Provider.
type Option func(*Provider)

// WithModel sets the Deepgram model to use (e.g., "nova-3", "base").
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithLanguage sets the default BCP-47 language code for recognition.
func WithLanguage(language string) Option {
	return func(p *Provider) {
		p.language = language
	}
}

// WithTimeout bounds the total time Transcribe may spend on one utterance,
// including the websocket dial. Defaults to 30 s.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) {
		p.timeout = d
	}
}

// Provider implements stt.Provider backed by the Deepgram streaming API.
type Provider struct {
	apiKey   string
	model    string
	language string
	timeout  time.Duration
}

// New creates a new Deepgram Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("deepgram: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:   apiKey,
		model:    defaultModel,
		language: defaultLanguage,
		timeout:  30 * time.Second,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// deepgramResponse is the JSON structure of a Deepgram Results event.
type deepgramResponse struct {
	Type    string `json:"type"`
	IsFinal bool   `json:"is_final"`
	Channel struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
		} `json:"alternatives"`
	} `json:"channel"`
}

// Transcribe implements stt.Provider.
func (p *Provider) Transcribe(ctx context.Context, pcm []byte, sampleRate, channels int, languageHint string) (string, error) {
	if len(pcm) == 0 {
		return "", nil
	}
	if sampleRate <= 0 || channels <= 0 {
		return "", fmt.Errorf("deepgram: invalid audio format %d ch @ %d Hz", channels, sampleRate)
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	wsURL, err := p.buildURL(sampleRate, channels, languageHint)
	if err != nil {
		return "", fmt.Errorf("deepgram: build URL: %w", err)
	}

	headers := http.Header{}
	headers.Set("Authorization", "Token "+p.apiKey)

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: headers,
	})
	if err != nil {
		return "", fmt.Errorf("deepgram: dial: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "done")

	// Upload and read concurrently. Deepgram pushes interim results while
	// audio is still in flight; reading them as they arrive keeps the socket
	// drained so long utterances cannot stall the writer.
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		for off := 0; off < len(pcm); off += chunkBytes {
			end := off + chunkBytes
			if end > len(pcm) {
				end = len(pcm)
			}
			if err := conn.Write(gctx, websocket.MessageBinary, pcm[off:end]); err != nil {
				return fmt.Errorf("deepgram: write audio: %w", err)
			}
		}
		// Tell Deepgram no more audio is coming so it flushes final results.
		closeMsg, _ := json.Marshal(map[string]string{"type": "CloseStream"})
		if err := conn.Write(gctx, websocket.MessageText, closeMsg); err != nil {
			return fmt.Errorf("deepgram: close stream: %w", err)
		}
		return nil
	})

	var parts []string
	g.Go(func() error {
		for {
			_, data, err := conn.Read(gctx)
			if err != nil {
				// A normal closure after CloseStream means Deepgram is done.
				if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
					return nil
				}
				if len(parts) > 0 && errors.Is(err, context.DeadlineExceeded) {
					return nil
				}
				return fmt.Errorf("deepgram: read: %w", err)
			}

			var resp deepgramResponse
			if err := json.Unmarshal(data, &resp); err != nil {
				continue
			}
			switch resp.Type {
			case "Results":
				if !resp.IsFinal || len(resp.Channel.Alternatives) == 0 {
					continue
				}
				text := strings.TrimSpace(resp.Channel.Alternatives[0].Transcript)
				if text != "" {
					parts = append(parts, text)
				}
			case "Metadata":
				// Metadata arrives after the last Results event.
				return nil
			}
		}
	})

	if err := g.Wait(); err != nil {
		return "", err
	}
	return strings.Join(parts, " "), nil
}

// ModelID implements stt.Provider.
func (p *Provider) ModelID() string {
	return "deepgram/" + p.model
}

// buildURL constructs the streaming endpoint URL for the given audio format.
func (p *Provider) buildURL(sampleRate, channels int, languageHint string) (string, error) {
	u, err := url.Parse(deepgramEndpoint)
	if err != nil {
		return "", err
	}

	lang := p.language
	if languageHint != "" {
		lang = languageHint
	}

	q := u.Query()
	q.Set("model", p.model)
	q.Set("language", lang)
	q.Set("punctuate", "true")
	q.Set("encoding", "linear16")
	q.Set("sample_rate", strconv.Itoa(sampleRate))
	q.Set("channels", strconv.Itoa(channels))
	u.RawQuery = q.Encode()
	return u.String(), nil
}
