package resilience

import (
	"context"
	"errors"
	"testing"

	"github.com/SuperGokou/kidsBot/pkg/provider/tts"
	ttsmock "github.com/SuperGokou/kidsBot/pkg/provider/tts/mock"
)

func TestTTSFallback_FailsOver(t *testing.T) {
	primary := &ttsmock.Provider{SynthesizeErr: errTest}
	backup := &ttsmock.Provider{SynthesizeResult: []byte("RIFFclip")}

	f := NewTTSFallback(primary, "primary", FallbackConfig{})
	f.AddFallback("backup", backup)

	wav, err := f.Synthesize(context.Background(), "Hello!", "voice-a")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(wav) != "RIFFclip" {
		t.Errorf("wav = %q, want the backup clip", wav)
	}
	if len(primary.SynthesizeCalls) != 1 {
		t.Errorf("primary calls = %d, want 1", len(primary.SynthesizeCalls))
	}
	if len(backup.SynthesizeCalls) != 1 {
		t.Errorf("backup calls = %d, want 1", len(backup.SynthesizeCalls))
	}
}

func TestTTSFallback_PrimaryPreferred(t *testing.T) {
	primary := &ttsmock.Provider{SynthesizeResult: []byte("primary")}
	backup := &ttsmock.Provider{SynthesizeResult: []byte("backup")}

	f := NewTTSFallback(primary, "primary", FallbackConfig{})
	f.AddFallback("backup", backup)

	wav, err := f.Synthesize(context.Background(), "Hello!", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(wav) != "primary" {
		t.Errorf("wav = %q, want the primary clip", wav)
	}
	if len(backup.SynthesizeCalls) != 0 {
		t.Errorf("backup calls = %d, want 0", len(backup.SynthesizeCalls))
	}
}

func TestTTSFallback_AllFail(t *testing.T) {
	primary := &ttsmock.Provider{SynthesizeErr: errTest}
	backup := &ttsmock.Provider{SynthesizeErr: errTest}

	f := NewTTSFallback(primary, "primary", FallbackConfig{})
	f.AddFallback("backup", backup)

	if _, err := f.Synthesize(context.Background(), "Hello!", ""); !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
}

func TestTTSFallback_ListVoices(t *testing.T) {
	primary := &ttsmock.Provider{Voices: []tts.Voice{{ID: "voice-a"}}}

	f := NewTTSFallback(primary, "primary", FallbackConfig{})

	voices, err := f.ListVoices(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(voices) != 1 || voices[0].ID != "voice-a" {
		t.Errorf("voices = %+v", voices)
	}
}
