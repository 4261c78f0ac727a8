// Package edge provides a TTS provider backed by the Microsoft Edge read-aloud
// service. The service is free, needs no API key, and offers child-friendly
// neural voices such as en-US-AnaNeural, which is the default voice here.
//
// The protocol is a WebSocket exchange: a speech.config message selects the
// output format, an SSML message carries the text, and the service answers
// with binary frames whose payload (after a small header) is audio data,
// terminated by a turn.end message.
package edge

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/SuperGokou/kidsBot/pkg/provider/tts"
)

const (
	// trustedClientToken is the public token the Edge browser itself uses.
	trustedClientToken = "6A5AA1D4EAFF4E9FB37E23D68491D6F4"

	wsEndpoint     = "wss://speech.platform.bing.com/consumer/speech/synthesize/readaloud/edge/v1?TrustedClientToken=" + trustedClientToken
	voicesEndpoint = "https://speech.platform.bing.com/consumer/speech/synthesize/readaloud/voices/list?trustedclienttoken=" + trustedClientToken

	// outputFormat requests raw RIFF PCM so no decoding step is needed before
	// playback.
	outputFormat = "riff-16khz-16bit-mono-pcm"

	// DefaultVoice is a clear, friendly child voice.
	DefaultVoice = "en-US-AnaNeural"
)

// Compile-time assertion that Provider implements tts.Provider.
var _ tts.Provider = (*Provider)(nil)

// Option is a functional option for Provider.
type Option func(*Provider)

// WithDefaultVoice overrides the voice used when Synthesize receives an empty
// voiceID.
func WithDefaultVoice(voiceID string) Option {
	return func(p *Provider) {
		p.defaultVoice = voiceID
	}
}

// WithRate sets the speaking rate as a signed percentage string (e.g. "+10%",
// "-5%"). Empty means the service default.
func WithRate(rate string) Option {
	return func(p *Provider) {
		p.rate = rate
	}
}

// WithTimeout bounds the time one Synthesize call may take. Defaults to 15 s.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) {
		p.timeout = d
	}
}

// Provider implements tts.Provider against the Edge read-aloud service.
// Each Synthesize call opens its own WebSocket connection, so the Provider
// is safe for concurrent use.
type Provider struct {
	defaultVoice string
	rate         string
	timeout      time.Duration
	httpClient   *http.Client
}

// New constructs a new Edge TTS Provider.
func New(opts ...Option) *Provider {
	p := &Provider{
		defaultVoice: DefaultVoice,
		timeout:      15 * time.Second,
		httpClient:   &http.Client{Timeout: 15 * time.Second},
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Synthesize implements tts.Provider.
func (p *Provider) Synthesize(ctx context.Context, text string, voiceID string) ([]byte, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, errors.New("edge tts: text must not be empty")
	}
	if voiceID == "" {
		voiceID = p.defaultVoice
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, wsEndpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("edge tts: dial: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "done")

	if err := conn.Write(ctx, websocket.MessageText, speechConfigMessage()); err != nil {
		return nil, fmt.Errorf("edge tts: send config: %w", err)
	}

	requestID := strings.ReplaceAll(uuid.NewString(), "-", "")
	if err := conn.Write(ctx, websocket.MessageText, ssmlMessage(requestID, voiceID, p.rate, text)); err != nil {
		return nil, fmt.Errorf("edge tts: send ssml: %w", err)
	}

	var audio bytes.Buffer
	for {
		msgType, data, err := conn.Read(ctx)
		if err != nil {
			return nil, fmt.Errorf("edge tts: read: %w", err)
		}

		switch msgType {
		case websocket.MessageText:
			if strings.Contains(string(data), "Path:turn.end") {
				if audio.Len() == 0 {
					return nil, errors.New("edge tts: no audio received")
				}
				return audio.Bytes(), nil
			}
		case websocket.MessageBinary:
			payload, ok := binaryAudioPayload(data)
			if ok {
				audio.Write(payload)
			}
		}
	}
}

// ListVoices implements tts.Provider by querying the read-aloud voice list.
func (p *Provider) ListVoices(ctx context.Context) ([]tts.Voice, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, voicesEndpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("edge tts: build voices request: %w", err)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("edge tts: list voices: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("edge tts: voices endpoint returned HTTP %d", resp.StatusCode)
	}

	var raw []struct {
		ShortName    string `json:"ShortName"`
		FriendlyName string `json:"FriendlyName"`
		Locale       string `json:"Locale"`
		Gender       string `json:"Gender"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("edge tts: decode voices: %w", err)
	}

	voices := make([]tts.Voice, 0, len(raw))
	for _, v := range raw {
		voices = append(voices, tts.Voice{
			ID:       v.ShortName,
			Name:     v.FriendlyName,
			Language: v.Locale,
			Gender:   v.Gender,
		})
	}
	return voices, nil
}

// ---- wire format helpers ----

// speechConfigMessage builds the Path:speech.config message that selects the
// output format for the connection.
func speechConfigMessage() []byte {
	cfg := map[string]any{
		"context": map[string]any{
			"synthesis": map[string]any{
				"audio": map[string]any{
					"metadataoptions": map[string]string{
						"sentenceBoundaryEnabled": "false",
						"wordBoundaryEnabled":     "false",
					},
					"outputFormat": outputFormat,
				},
			},
		},
	}
	body, _ := json.Marshal(cfg)

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "X-Timestamp:%s\r\n", timestamp())
	buf.WriteString("Content-Type:application/json; charset=utf-8\r\n")
	buf.WriteString("Path:speech.config\r\n\r\n")
	buf.Write(body)
	return buf.Bytes()
}

// ssmlMessage builds the Path:ssml message carrying the text to render.
func ssmlMessage(requestID, voiceID, rate, text string) []byte {
	var escaped bytes.Buffer
	xml.EscapeText(&escaped, []byte(text))

	var ssml bytes.Buffer
	ssml.WriteString(`<speak version='1.0' xmlns='http://www.w3.org/2001/10/synthesis' xml:lang='en-US'>`)
	fmt.Fprintf(&ssml, `<voice name='%s'>`, voiceID)
	if rate != "" {
		fmt.Fprintf(&ssml, `<prosody rate='%s'>%s</prosody>`, rate, escaped.String())
	} else {
		ssml.Write(escaped.Bytes())
	}
	ssml.WriteString(`</voice></speak>`)

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "X-RequestId:%s\r\n", requestID)
	fmt.Fprintf(&buf, "X-Timestamp:%s\r\n", timestamp())
	buf.WriteString("Content-Type:application/ssml+xml\r\n")
	buf.WriteString("Path:ssml\r\n\r\n")
	buf.Write(ssml.Bytes())
	return buf.Bytes()
}

// binaryAudioPayload strips the length-prefixed header from a binary frame
// and returns the audio payload when the frame carries Path:audio.
func binaryAudioPayload(data []byte) ([]byte, bool) {
	if len(data) < 2 {
		return nil, false
	}
	headerLen := int(binary.BigEndian.Uint16(data[:2]))
	if len(data) < 2+headerLen {
		return nil, false
	}
	header := string(data[2 : 2+headerLen])
	if !strings.Contains(header, "Path:audio") {
		return nil, false
	}
	return data[2+headerLen:], true
}

func timestamp() string {
	return time.Now().UTC().Format("Mon Jan 02 2006 15:04:05 GMT+0000 (Coordinated Universal Time)")
}
