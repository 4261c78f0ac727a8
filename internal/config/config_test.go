package config_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/SuperGokou/kidsBot/internal/config"
	"github.com/SuperGokou/kidsBot/internal/convo"
	"github.com/SuperGokou/kidsBot/pkg/provider/llm"
	llmmock "github.com/SuperGokou/kidsBot/pkg/provider/llm/mock"
)

const minimalYAML = `
providers:
  llm:
    name: deepseek
    api_key: sk-test
    model: deepseek-chat
  stt:
    name: whisper
    base_url: http://localhost:8080
`

func TestLoadFromReader_Defaults(t *testing.T) {
	t.Parallel()

	cfg, err := config.LoadFromReader(strings.NewReader(minimalYAML))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}

	if cfg.Server.LogLevel != config.LogInfo {
		t.Errorf("log_level = %q, want info", cfg.Server.LogLevel)
	}
	if cfg.Audio.SampleRate != 16000 {
		t.Errorf("sample_rate = %d, want 16000", cfg.Audio.SampleRate)
	}
	if cfg.Capture.MaxWaitForSpeechMs != 10000 {
		t.Errorf("max_wait_for_speech_ms = %d, want 10000", cfg.Capture.MaxWaitForSpeechMs)
	}
	if cfg.Persona.BotName != "Kiko" {
		t.Errorf("bot_name = %q, want Kiko", cfg.Persona.BotName)
	}
	if cfg.Persona.Mode != convo.ModeChat {
		t.Errorf("mode = %q, want chat", cfg.Persona.Mode)
	}
	if cfg.Providers.VAD.Name != "energy" {
		t.Errorf("vad = %q, want energy", cfg.Providers.VAD.Name)
	}
	if cfg.Providers.TTS.Name != "edge" {
		t.Errorf("tts = %q, want edge", cfg.Providers.TTS.Name)
	}
}

func TestValidate_RequiresLLMAndSTT(t *testing.T) {
	t.Parallel()

	_, err := config.LoadFromReader(strings.NewReader(`persona: {bot_name: Kiko}`))
	if err == nil {
		t.Fatal("expected error for missing providers, got nil")
	}
	if !strings.Contains(err.Error(), "providers.llm") {
		t.Errorf("error should mention providers.llm, got: %v", err)
	}
	if !strings.Contains(err.Error(), "providers.stt") {
		t.Errorf("error should mention providers.stt, got: %v", err)
	}
}

func TestValidate_VerificationNeedsVoiceID(t *testing.T) {
	t.Parallel()

	yaml := minimalYAML + `
verification:
  enabled: true
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for verification without voiceid, got nil")
	}
	if !strings.Contains(err.Error(), "voiceid") {
		t.Errorf("error should mention voiceid, got: %v", err)
	}
}

func TestValidate_MemoryNeedsEmbeddings(t *testing.T) {
	t.Parallel()

	yaml := minimalYAML + `
memory:
  postgres_dsn: postgres://localhost/kidsbot
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for memory without embeddings, got nil")
	}
}

func TestValidate_InvalidMode(t *testing.T) {
	t.Parallel()

	yaml := minimalYAML + `
persona:
  mode: karaoke
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for invalid mode, got nil")
	}
	if !strings.Contains(err.Error(), "karaoke") {
		t.Errorf("error should quote the bad mode, got: %v", err)
	}
}

func TestLoadFromReader_UnknownFieldRejected(t *testing.T) {
	t.Parallel()

	yaml := minimalYAML + `
sever:
  metrics_addr: ":9090"
`
	if _, err := config.LoadFromReader(strings.NewReader(yaml)); err == nil {
		t.Fatal("expected error for misspelled top-level key, got nil")
	}
}

func TestRegistry_CreateAndMiss(t *testing.T) {
	t.Parallel()

	reg := config.NewRegistry()
	reg.RegisterLLM("mock", func(entry config.ProviderEntry) (llm.Provider, error) {
		return &llmmock.Provider{}, nil
	})

	if _, err := reg.CreateLLM(config.ProviderEntry{Name: "mock"}); err != nil {
		t.Fatalf("CreateLLM: %v", err)
	}

	_, err := reg.CreateLLM(config.ProviderEntry{Name: "nope"})
	if !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Fatalf("err = %v, want ErrProviderNotRegistered", err)
	}
}
