package whisper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	whispercpp "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/SuperGokou/kidsBot/pkg/audio"
	"github.com/SuperGokou/kidsBot/pkg/provider/stt"
)

// nativeSampleRate is the only sample rate whisper.cpp models accept.
const nativeSampleRate = 16000

// Compile-time assertion that Native implements stt.Provider.
var _ stt.Provider = (*Native)(nil)

// Native implements stt.Provider by running a GGML whisper model in-process
// through the whisper.cpp Go bindings. Inference is serialised: the
// underlying context is not safe for concurrent Process calls, and the
// conversation loop only ever has one utterance in flight anyway.
type Native struct {
	mu        sync.Mutex
	model     whispercpp.Model
	modelPath string
	language  string
	threads   uint
}

// NativeOption is a functional option for Native.
type NativeOption func(*Native)

// WithNativeLanguage sets the default decode language. Defaults to "en".
func WithNativeLanguage(lang string) NativeOption {
	return func(n *Native) {
		n.language = lang
	}
}

// WithNativeThreads sets the number of CPU threads used for inference.
// Zero means the bindings' default.
func WithNativeThreads(threads uint) NativeOption {
	return func(n *Native) {
		n.threads = threads
	}
}

// NewNative loads the GGML model at modelPath (e.g., "models/ggml-base.en.bin")
// and returns a ready provider. Loading can take several seconds for larger
// models. Call Close to release the model memory.
func NewNative(modelPath string, opts ...NativeOption) (*Native, error) {
	if modelPath == "" {
		return nil, errors.New("whisper native: modelPath must not be empty")
	}

	model, err := whispercpp.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("whisper native: load model %q: %w", modelPath, err)
	}

	n := &Native{
		model:     model,
		modelPath: modelPath,
		language:  defaultLanguage,
	}
	for _, o := range opts {
		o(n)
	}
	return n, nil
}

// Transcribe implements stt.Provider. Audio is resampled to 16 kHz mono
// before inference when the input format differs.
func (n *Native) Transcribe(ctx context.Context, pcm []byte, sampleRate, channels int, languageHint string) (string, error) {
	if len(pcm) == 0 {
		return "", nil
	}
	if sampleRate <= 0 || channels <= 0 {
		return "", fmt.Errorf("whisper native: invalid audio format %d ch @ %d Hz", channels, sampleRate)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	if channels == 2 {
		pcm = audio.StereoToMono16(pcm)
	} else if channels != 1 {
		return "", fmt.Errorf("whisper native: unsupported channel count %d", channels)
	}
	pcm = audio.ResampleMono16(pcm, sampleRate, nativeSampleRate)

	samples := pcmToFloat32(pcm)

	n.mu.Lock()
	defer n.mu.Unlock()

	wctx, err := n.model.NewContext()
	if err != nil {
		return "", fmt.Errorf("whisper native: new context: %w", err)
	}

	lang := n.language
	if languageHint != "" {
		lang = languageHint
	}
	if lang != "" {
		if err := wctx.SetLanguage(lang); err != nil {
			return "", fmt.Errorf("whisper native: set language %q: %w", lang, err)
		}
	}
	if n.threads > 0 {
		wctx.SetThreads(n.threads)
	}

	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return "", fmt.Errorf("whisper native: process: %w", err)
	}

	var sb strings.Builder
	for {
		segment, err := wctx.NextSegment()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("whisper native: next segment: %w", err)
		}
		if sb.Len() > 0 {
			sb.WriteByte(' ')
		}
		sb.WriteString(strings.TrimSpace(segment.Text))
	}
	return strings.TrimSpace(sb.String()), nil
}

// ModelID implements stt.Provider.
func (n *Native) ModelID() string {
	return "whisper.cpp/native:" + n.modelPath
}

// Close releases the loaded model.
func (n *Native) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.model == nil {
		return nil
	}
	err := n.model.Close()
	n.model = nil
	return err
}

// pcmToFloat32 converts 16-bit signed little-endian PCM to the normalised
// float32 samples the bindings expect.
func pcmToFloat32(pcm []byte) []float32 {
	count := len(pcm) / 2
	out := make([]float32, count)
	for i := 0; i < count; i++ {
		s := int16(pcm[i*2]) | int16(pcm[i*2+1])<<8
		out[i] = float32(s) / 32768.0
	}
	return out
}
