package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind. Used by
// [Validate] to warn about unrecognised names.
var ValidProviderNames = map[string][]string{
	"llm":        {"openai", "deepseek", "ollama", "mistral", "groq"},
	"stt":        {"whisper", "whisper-native", "deepgram"},
	"tts":        {"edge", "coqui"},
	"embeddings": {"openai", "ollama"},
	"vad":        {"energy"},
	"voiceid":    {"resemblyzer"},
}

// Load reads the YAML configuration file at path and returns a validated
// [Config].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults, and
// validates the result. Useful in tests where configs are string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyDefaults fills zero-value fields with their documented defaults.
func applyDefaults(cfg *Config) {
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Audio.SampleRate == 0 {
		cfg.Audio.SampleRate = 16000
	}
	if cfg.Capture.MaxWaitForSpeechMs == 0 {
		cfg.Capture.MaxWaitForSpeechMs = 10000
	}
	if cfg.Capture.MaxPhraseLengthMs == 0 {
		cfg.Capture.MaxPhraseLengthMs = 15000
	}
	if cfg.Memory.EmbeddingDimensions == 0 {
		cfg.Memory.EmbeddingDimensions = 1536
	}
	if cfg.Persona.BotName == "" {
		cfg.Persona.BotName = "Kiko"
	}
	if cfg.Persona.ChildID == "" {
		cfg.Persona.ChildID = "default"
	}
	if cfg.Persona.Mode == "" {
		cfg.Persona.Mode = "chat"
	}
	if cfg.Providers.VAD.Name == "" {
		cfg.Providers.VAD.Name = "energy"
	}
	if cfg.Providers.TTS.Name == "" {
		cfg.Providers.TTS.Name = "edge"
	}
}

// Validate checks that cfg contains a coherent set of values. It returns a
// joined error listing all validation failures found; soft problems are
// logged as warnings instead.
func Validate(cfg *Config) error {
	var errs []error

	if !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Audio.SampleRate < 8000 {
		errs = append(errs, fmt.Errorf("audio.sample_rate %d is too low; 16000 is the expected rate", cfg.Audio.SampleRate))
	}
	if cfg.Capture.MaxWaitForSpeechMs < 0 || cfg.Capture.MaxPhraseLengthMs < 0 || cfg.Capture.PauseThresholdMs < 0 {
		errs = append(errs, errors.New("capture durations must not be negative"))
	}
	if !cfg.Persona.Mode.IsValid() {
		errs = append(errs, fmt.Errorf("persona.mode %q is invalid; valid values: chat, story, learning, game", cfg.Persona.Mode))
	}

	if t := cfg.Verification.Threshold; t < -1 || t > 1 {
		errs = append(errs, fmt.Errorf("verification.threshold %.2f is out of range [-1, 1]", t))
	}
	if cfg.Verification.Enabled {
		if cfg.Providers.VoiceID.Name == "" {
			errs = append(errs, errors.New("verification.enabled requires providers.voiceid"))
		}
		if cfg.Verification.VoiceprintPath == "" {
			errs = append(errs, errors.New("verification.enabled requires verification.voiceprint_path"))
		}
	}

	if cfg.Providers.LLM.Name == "" {
		errs = append(errs, errors.New("providers.llm is required; the bot cannot converse without a language model"))
	}
	if cfg.Providers.STT.Name == "" {
		errs = append(errs, errors.New("providers.stt is required; the bot cannot hear without a transcriber"))
	}

	validateProviderName("llm", cfg.Providers.LLM.Name)
	validateProviderName("llm", cfg.Providers.FallbackLLM.Name)
	validateProviderName("stt", cfg.Providers.STT.Name)
	validateProviderName("stt", cfg.Providers.FallbackSTT.Name)
	validateProviderName("tts", cfg.Providers.TTS.Name)
	validateProviderName("tts", cfg.Providers.FallbackTTS.Name)
	validateProviderName("embeddings", cfg.Providers.Embeddings.Name)
	validateProviderName("vad", cfg.Providers.VAD.Name)
	validateProviderName("voiceid", cfg.Providers.VoiceID.Name)

	if cfg.Memory.PostgresDSN != "" && cfg.Providers.Embeddings.Name == "" {
		errs = append(errs, errors.New("memory.postgres_dsn is set but providers.embeddings is not; facts cannot be stored without embeddings"))
	}
	if cfg.Memory.PostgresDSN == "" {
		slog.Warn("memory.postgres_dsn is empty; the bot will not remember facts between sessions")
	}
	if cfg.Journal.Dir == "" {
		slog.Warn("journal.dir is empty; interactions will not be logged and the daily report is unavailable")
	}

	return errors.Join(errs...)
}

// validateProviderName warns about provider names we do not ship a factory
// for. Unknown names are not fatal so custom registrations keep working.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	if !slices.Contains(ValidProviderNames[kind], name) {
		slog.Warn("unrecognised provider name",
			"kind", kind,
			"name", name,
			"known", ValidProviderNames[kind],
		)
	}
}
