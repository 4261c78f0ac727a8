package speech

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/SuperGokou/kidsBot/pkg/audio"
	"github.com/SuperGokou/kidsBot/pkg/provider/tts"
)

// Speaker synthesizes text and plays it through the audio device. Safe for
// sequential use from the conversation loop; concurrent Say calls would
// interleave audio and are not supported.
type Speaker struct {
	tts        tts.Provider
	device     audio.Device
	voice      string
	scratchDir string
	log        *slog.Logger
}

// Option is a functional option for Speaker.
type Option func(*Speaker)

// WithVoice sets the voice ID passed to the TTS provider. Empty selects the
// provider default.
func WithVoice(voice string) Option {
	return func(s *Speaker) {
		s.voice = voice
	}
}

// WithScratchDir sets where synthesized clips are staged before playback.
// Defaults to os.TempDir().
func WithScratchDir(dir string) Option {
	return func(s *Speaker) {
		s.scratchDir = dir
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(log *slog.Logger) Option {
	return func(s *Speaker) {
		s.log = log
	}
}

// NewSpeaker creates a Speaker.
func NewSpeaker(ttsProvider tts.Provider, device audio.Device, opts ...Option) (*Speaker, error) {
	if ttsProvider == nil {
		return nil, fmt.Errorf("speech: tts provider must not be nil")
	}
	if device == nil {
		return nil, fmt.Errorf("speech: audio device must not be nil")
	}
	s := &Speaker{
		tts:        ttsProvider,
		device:     device,
		scratchDir: os.TempDir(),
		log:        slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// Say synthesizes text and plays it to completion. Blank or whitespace-only
// text is a no-op. Cancelling ctx interrupts playback.
//
// The synthesized clip is staged in a uniquely named scratch file that is
// always removed, even when synthesis or playback fails part way.
func (s *Speaker) Say(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	wav, err := s.tts.Synthesize(ctx, text, s.voice)
	if err != nil {
		return fmt.Errorf("speech: synthesize: %w", err)
	}

	scratch := filepath.Join(s.scratchDir, "kidsbot-"+uuid.NewString()+".wav")
	if err := os.WriteFile(scratch, wav, 0o600); err != nil {
		return fmt.Errorf("speech: write scratch file: %w", err)
	}
	defer func() {
		if err := os.Remove(scratch); err != nil {
			s.log.Warn("failed to remove scratch file", "path", scratch, "error", err)
		}
	}()

	pcm, info, err := audio.DecodeWAV(wav)
	if err != nil {
		return fmt.Errorf("speech: decode synthesized audio: %w", err)
	}

	if err := s.device.Play(ctx, pcm, info.SampleRate, info.Channels); err != nil {
		return fmt.Errorf("speech: playback: %w", err)
	}
	return nil
}
