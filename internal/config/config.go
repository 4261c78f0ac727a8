// Package config provides the configuration schema, loader, and provider
// registry for kidsBot.
package config

import "github.com/SuperGokou/kidsBot/internal/convo"

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Config is the root configuration structure, typically loaded from a YAML
// file using [Load] or [LoadFromReader].
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Audio        AudioConfig        `yaml:"audio"`
	Capture      CaptureConfig      `yaml:"capture"`
	Verification VerificationConfig `yaml:"verification"`
	Providers    ProvidersConfig    `yaml:"providers"`
	Memory       MemoryConfig       `yaml:"memory"`
	Journal      JournalConfig      `yaml:"journal"`
	Persona      PersonaConfig      `yaml:"persona"`
}

// ServerConfig holds logging and the operational HTTP surface.
type ServerConfig struct {
	// MetricsAddr is the TCP address for /healthz, /readyz, and /metrics
	// (e.g., ":9090"). Empty disables the listener.
	MetricsAddr string `yaml:"metrics_addr"`

	// LogLevel controls verbosity. Default: info.
	LogLevel LogLevel `yaml:"log_level"`
}

// AudioConfig describes the capture/playback device.
type AudioConfig struct {
	// SampleRate is the capture sample rate in Hz. Default: 16000.
	SampleRate int `yaml:"sample_rate"`

	// ScratchDir is where synthesized clips are staged before playback.
	// Empty means the OS temp directory.
	ScratchDir string `yaml:"scratch_dir"`
}

// CaptureConfig tunes the record-until-silence cycle.
type CaptureConfig struct {
	// MaxWaitForSpeechMs bounds how long one listening cycle waits for
	// speech to begin. Default: 10000.
	MaxWaitForSpeechMs int `yaml:"max_wait_for_speech_ms"`

	// MaxPhraseLengthMs is the hard cutoff for one utterance. Default: 15000.
	MaxPhraseLengthMs int `yaml:"max_phrase_length_ms"`

	// PauseThresholdMs is the trailing silence that ends an utterance.
	// Zero keeps the VAD engine default.
	PauseThresholdMs int `yaml:"pause_threshold_ms"`

	// SpeechThreshold is the base RMS energy threshold for speech detection.
	// Zero keeps the engine default (adaptive).
	SpeechThreshold float64 `yaml:"speech_threshold"`
}

// VerificationConfig gates the loop on speaker identity.
type VerificationConfig struct {
	// Enabled turns speaker verification on. When false, every utterance is
	// processed.
	Enabled bool `yaml:"enabled"`

	// Threshold is the minimum cosine similarity for acceptance.
	// Zero means the built-in default (0.25).
	Threshold float64 `yaml:"threshold"`

	// VoiceprintPath is where the owner's voiceprint is stored.
	VoiceprintPath string `yaml:"voiceprint_path"`
}

// ProvidersConfig declares which implementation serves each pipeline stage.
type ProvidersConfig struct {
	LLM ProviderEntry `yaml:"llm"`

	// FallbackLLM, when named, is wired behind the primary in a failover
	// group so the bot keeps talking when the primary API is down.
	FallbackLLM ProviderEntry `yaml:"fallback_llm"`

	STT ProviderEntry `yaml:"stt"`

	// FallbackSTT, when named, backs the primary transcriber. A local
	// whisper entry here keeps the bot listening when the network is down.
	FallbackSTT ProviderEntry `yaml:"fallback_stt"`

	TTS ProviderEntry `yaml:"tts"`

	// FallbackTTS, when named, backs the primary voice. Voice IDs are
	// provider-specific, so pick one that exists on the fallback backend.
	FallbackTTS ProviderEntry `yaml:"fallback_tts"`

	Embeddings ProviderEntry `yaml:"embeddings"`
	VAD        ProviderEntry `yaml:"vad"`
	VoiceID    ProviderEntry `yaml:"voiceid"`
}

// ProviderEntry is the common configuration block shared by all provider
// kinds. Name selects the factory in the [Registry].
type ProviderEntry struct {
	// Name selects the registered implementation (e.g., "deepseek", "edge").
	Name string `yaml:"name"`

	// APIKey authenticates against the provider's API, if any.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default endpoint. For local servers
	// (ollama, whisper, coqui, resemblyzer) this is the server address.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider. For whisper-native
	// it is the GGML model file path.
	Model string `yaml:"model"`

	// Options holds provider-specific values not covered by the standard
	// fields above.
	Options map[string]any `yaml:"options"`
}

// MemoryConfig holds settings for the long-term fact store.
type MemoryConfig struct {
	// PostgresDSN is the connection string for the pgvector fact store.
	// Empty disables long-term memory.
	PostgresDSN string `yaml:"postgres_dsn"`

	// EmbeddingDimensions is the vector dimension of the facts column. Must
	// match the configured embeddings model. Default: 1536.
	EmbeddingDimensions int `yaml:"embedding_dimensions"`
}

// JournalConfig holds the interaction journal location.
type JournalConfig struct {
	// Dir is the Badger database directory. Empty disables the journal (and
	// with it the daily report).
	Dir string `yaml:"dir"`
}

// PersonaConfig describes the companion itself.
type PersonaConfig struct {
	// BotName is the name the bot uses for itself. Default: "Kiko".
	BotName string `yaml:"bot_name"`

	// ChildID scopes remembered facts to one child. Default: "default".
	ChildID string `yaml:"child_id"`

	// Mode is the starting conversation mode. Default: chat.
	Mode convo.Mode `yaml:"mode"`

	// Language is the initial language hint for transcription (BCP-47).
	Language string `yaml:"language"`

	// Voice is the TTS voice ID. Empty selects the provider default.
	Voice string `yaml:"voice"`
}
