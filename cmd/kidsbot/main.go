// Command kidsbot runs the voice companion: a continuous listen, verify,
// transcribe, respond, speak loop driven by the configuration file.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/SuperGokou/kidsBot/internal/brain"
	"github.com/SuperGokou/kidsBot/internal/capture"
	"github.com/SuperGokou/kidsBot/internal/config"
	"github.com/SuperGokou/kidsBot/internal/health"
	"github.com/SuperGokou/kidsBot/internal/journal"
	"github.com/SuperGokou/kidsBot/internal/loop"
	"github.com/SuperGokou/kidsBot/internal/observe"
	"github.com/SuperGokou/kidsBot/internal/registration"
	"github.com/SuperGokou/kidsBot/internal/resilience"
	"github.com/SuperGokou/kidsBot/internal/speech"
	"github.com/SuperGokou/kidsBot/internal/verify"
	"github.com/SuperGokou/kidsBot/pkg/audio"
	malgoaudio "github.com/SuperGokou/kidsBot/pkg/audio/malgo"
	"github.com/SuperGokou/kidsBot/pkg/memory"
	"github.com/SuperGokou/kidsBot/pkg/memory/postgres"
	"github.com/SuperGokou/kidsBot/pkg/provider/embeddings"
	ollamaembed "github.com/SuperGokou/kidsBot/pkg/provider/embeddings/ollama"
	oaembed "github.com/SuperGokou/kidsBot/pkg/provider/embeddings/openai"
	"github.com/SuperGokou/kidsBot/pkg/provider/llm"
	"github.com/SuperGokou/kidsBot/pkg/provider/llm/anyllm"
	oaillm "github.com/SuperGokou/kidsBot/pkg/provider/llm/openai"
	"github.com/SuperGokou/kidsBot/pkg/provider/stt"
	"github.com/SuperGokou/kidsBot/pkg/provider/stt/deepgram"
	"github.com/SuperGokou/kidsBot/pkg/provider/stt/whisper"
	"github.com/SuperGokou/kidsBot/pkg/provider/tts"
	"github.com/SuperGokou/kidsBot/pkg/provider/tts/coqui"
	"github.com/SuperGokou/kidsBot/pkg/provider/tts/edge"
	"github.com/SuperGokou/kidsBot/pkg/provider/vad"
	"github.com/SuperGokou/kidsBot/pkg/provider/vad/energy"
	"github.com/SuperGokou/kidsBot/pkg/provider/voiceid"
	"github.com/SuperGokou/kidsBot/pkg/provider/voiceid/resemblyzer"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	register := flag.Bool("register", false, "record the owner's voiceprint and exit")
	report := flag.Bool("report", false, "print today's parent report and exit")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "kidsbot: config file %q not found\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "kidsbot: %v\n", err)
		}
		return 1
	}

	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	ps, err := buildProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	switch {
	case *register:
		return runRegistration(ctx, cfg, ps)
	case *report:
		return runReport(ctx, cfg, ps)
	}
	return runLoop(ctx, cfg, ps)
}

// runLoop is the normal interactive mode.
func runLoop(ctx context.Context, cfg *config.Config, ps *providers) int {
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceName: "kidsbot"})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		sdCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(sdCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	if cfg.Server.MetricsAddr != "" {
		startMetricsServer(ctx, cfg.Server.MetricsAddr)
	}

	device, err := malgoaudio.New(malgoaudio.WithSampleRate(cfg.Audio.SampleRate))
	if err != nil {
		slog.Error("failed to open audio device", "err", err)
		return 1
	}
	defer device.Close()

	recorder := newRecorder(cfg, device, ps.vad)

	verifier, err := newVerifier(cfg, ps.voiceID)
	if err != nil {
		slog.Error("failed to set up speaker verification", "err", err)
		return 1
	}

	speakerOpts := []speech.Option{speech.WithVoice(cfg.Persona.Voice)}
	if cfg.Audio.ScratchDir != "" {
		speakerOpts = append(speakerOpts, speech.WithScratchDir(cfg.Audio.ScratchDir))
	}
	speaker, err := speech.NewSpeaker(ps.tts, device, speakerOpts...)
	if err != nil {
		slog.Error("failed to set up speech output", "err", err)
		return 1
	}

	store, err := newMemoryStore(ctx, cfg)
	if err != nil {
		slog.Error("failed to connect to memory store", "err", err)
		return 1
	}
	if store != nil {
		defer store.Close()
	}

	var brainOpts []brain.Option
	if store != nil && ps.embeddings != nil {
		brainOpts = append(brainOpts, brain.WithMemory(store, ps.embeddings))
	}
	b, err := brain.New(ps.llm, cfg.Persona.BotName, cfg.Persona.ChildID, brainOpts...)
	if err != nil {
		slog.Error("failed to set up response generation", "err", err)
		return 1
	}

	loopOpts := []loop.Option{
		loop.WithMode(cfg.Persona.Mode),
		loop.WithLanguage(cfg.Persona.Language),
		loop.WithMetrics(observe.DefaultMetrics()),
		loop.WithTimings(
			time.Duration(cfg.Capture.MaxWaitForSpeechMs)*time.Millisecond,
			time.Duration(cfg.Capture.MaxPhraseLengthMs)*time.Millisecond,
		),
	}
	if cfg.Journal.Dir != "" {
		j, err := journal.Open(cfg.Journal.Dir)
		if err != nil {
			slog.Error("failed to open journal", "err", err)
			return 1
		}
		defer j.Close()
		loopOpts = append(loopOpts, loop.WithJournal(j))
	}

	l, err := loop.New(recorder, verifier, ps.stt, b, speaker, loopOpts...)
	if err != nil {
		slog.Error("failed to assemble conversation loop", "err", err)
		return 1
	}

	printStartupSummary(cfg, verifier)
	slog.Info("listening, press Ctrl+C to stop")

	if err := l.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("conversation loop error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// runRegistration records the owner's voiceprint.
func runRegistration(ctx context.Context, cfg *config.Config, ps *providers) int {
	if ps.voiceID == nil {
		slog.Error("registration requires providers.voiceid")
		return 1
	}
	if cfg.Verification.VoiceprintPath == "" {
		slog.Error("registration requires verification.voiceprint_path")
		return 1
	}

	device, err := malgoaudio.New(malgoaudio.WithSampleRate(cfg.Audio.SampleRate))
	if err != nil {
		slog.Error("failed to open audio device", "err", err)
		return 1
	}
	defer device.Close()

	recorder := newRecorder(cfg, device, ps.vad)

	registrar, err := registration.New(recorder, ps.voiceID, cfg.Verification.VoiceprintPath, cfg.Audio.SampleRate)
	if err != nil {
		slog.Error("failed to set up registration", "err", err)
		return 1
	}

	fmt.Println("Voice registration: you will record a few short phrases.")
	err = registrar.Run(ctx, func(attempt, total int) {
		fmt.Printf("Phrase %d of %d, please speak now...\n", attempt, total)
	})
	if err != nil {
		slog.Error("registration failed", "err", err)
		return 1
	}
	fmt.Printf("Voiceprint saved to %s\n", cfg.Verification.VoiceprintPath)
	return 0
}

// runReport prints the parent-facing summary of today's learned facts.
func runReport(ctx context.Context, cfg *config.Config, ps *providers) int {
	store, err := newMemoryStore(ctx, cfg)
	if err != nil {
		slog.Error("failed to connect to memory store", "err", err)
		return 1
	}
	if store == nil {
		slog.Error("the report requires memory.postgres_dsn")
		return 1
	}
	defer store.Close()

	b, err := brain.New(ps.llm, cfg.Persona.BotName, cfg.Persona.ChildID,
		brain.WithMemory(store, ps.embeddings))
	if err != nil {
		slog.Error("failed to set up response generation", "err", err)
		return 1
	}

	now := time.Now()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	rep, err := b.DailyReport(ctx, midnight)
	if err != nil {
		slog.Error("report generation failed", "err", err)
		return 1
	}
	if rep == "" {
		fmt.Println("Nothing new was learned today.")
		return 0
	}
	fmt.Println(rep)
	return 0
}

// ---- wiring helpers ----

// providers holds one instance of each configured pipeline stage.
type providers struct {
	llm        llm.Provider
	stt        stt.Provider
	tts        tts.Provider
	embeddings embeddings.Provider
	vad        vad.Engine
	voiceID    voiceid.Provider
}

// buildProviders instantiates everything named in cfg via the registry. The
// LLM, STT, and TTS stages are each wrapped in a failover group when a
// fallback is configured for them.
func buildProviders(cfg *config.Config, reg *config.Registry) (*providers, error) {
	ps := &providers{}
	var err error

	if ps.llm, err = reg.CreateLLM(cfg.Providers.LLM); err != nil {
		return nil, fmt.Errorf("create llm provider %q: %w", cfg.Providers.LLM.Name, err)
	}
	slog.Info("provider created", "kind", "llm", "name", cfg.Providers.LLM.Name)

	if name := cfg.Providers.FallbackLLM.Name; name != "" {
		fb, err := reg.CreateLLM(cfg.Providers.FallbackLLM)
		if err != nil {
			return nil, fmt.Errorf("create fallback llm provider %q: %w", name, err)
		}
		group := resilience.NewLLMFallback(ps.llm, cfg.Providers.LLM.Name, resilience.FallbackConfig{})
		group.AddFallback(name, fb)
		ps.llm = group
		slog.Info("provider created", "kind", "llm", "name", name, "role", "fallback")
	}

	if ps.stt, err = reg.CreateSTT(cfg.Providers.STT); err != nil {
		return nil, fmt.Errorf("create stt provider %q: %w", cfg.Providers.STT.Name, err)
	}
	slog.Info("provider created", "kind", "stt", "name", cfg.Providers.STT.Name)

	if name := cfg.Providers.FallbackSTT.Name; name != "" {
		fb, err := reg.CreateSTT(cfg.Providers.FallbackSTT)
		if err != nil {
			return nil, fmt.Errorf("create fallback stt provider %q: %w", name, err)
		}
		group := resilience.NewSTTFallback(ps.stt, cfg.Providers.STT.Name, resilience.FallbackConfig{})
		group.AddFallback(name, fb)
		ps.stt = group
		slog.Info("provider created", "kind", "stt", "name", name, "role", "fallback")
	}

	if ps.tts, err = reg.CreateTTS(cfg.Providers.TTS); err != nil {
		return nil, fmt.Errorf("create tts provider %q: %w", cfg.Providers.TTS.Name, err)
	}
	slog.Info("provider created", "kind", "tts", "name", cfg.Providers.TTS.Name)

	if name := cfg.Providers.FallbackTTS.Name; name != "" {
		fb, err := reg.CreateTTS(cfg.Providers.FallbackTTS)
		if err != nil {
			return nil, fmt.Errorf("create fallback tts provider %q: %w", name, err)
		}
		group := resilience.NewTTSFallback(ps.tts, cfg.Providers.TTS.Name, resilience.FallbackConfig{})
		group.AddFallback(name, fb)
		ps.tts = group
		slog.Info("provider created", "kind", "tts", "name", name, "role", "fallback")
	}

	if name := cfg.Providers.Embeddings.Name; name != "" {
		if ps.embeddings, err = reg.CreateEmbeddings(cfg.Providers.Embeddings); err != nil {
			return nil, fmt.Errorf("create embeddings provider %q: %w", name, err)
		}
		slog.Info("provider created", "kind", "embeddings", "name", name)
	}

	if ps.vad, err = reg.CreateVAD(cfg.Providers.VAD); err != nil {
		return nil, fmt.Errorf("create vad engine %q: %w", cfg.Providers.VAD.Name, err)
	}

	if name := cfg.Providers.VoiceID.Name; name != "" {
		if ps.voiceID, err = reg.CreateVoiceID(cfg.Providers.VoiceID); err != nil {
			return nil, fmt.Errorf("create voiceid provider %q: %w", name, err)
		}
		slog.Info("provider created", "kind", "voiceid", "name", name)
	}

	return ps, nil
}

// registerBuiltinProviders wires all built-in provider factories into reg.
func registerBuiltinProviders(reg *config.Registry) {
	// The OpenAI backend uses the official SDK; the other hosted providers
	// and local ollama go through any-llm.
	reg.RegisterLLM("openai", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []oaillm.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaillm.WithBaseURL(entry.BaseURL))
		}
		return oaillm.New(entry.APIKey, entry.Model, opts...)
	})
	for _, providerName := range []string{"deepseek", "mistral", "groq"} {
		reg.RegisterLLM(providerName, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(providerName, entry.Model, opts...)
		})
	}
	reg.RegisterLLM("ollama", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []anyllmlib.Option
		if entry.BaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
		}
		return anyllm.NewOllama(entry.Model, opts...)
	})

	reg.RegisterSTT("whisper", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []whisper.Option
		if entry.Model != "" {
			opts = append(opts, whisper.WithModel(entry.Model))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, whisper.WithLanguage(lang))
		}
		return whisper.New(entry.BaseURL, opts...)
	})
	reg.RegisterSTT("whisper-native", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []whisper.NativeOption
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, whisper.WithNativeLanguage(lang))
		}
		return whisper.NewNative(entry.Model, opts...)
	})
	reg.RegisterSTT("deepgram", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []deepgram.Option
		if entry.Model != "" {
			opts = append(opts, deepgram.WithModel(entry.Model))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, deepgram.WithLanguage(lang))
		}
		return deepgram.New(entry.APIKey, opts...)
	})

	reg.RegisterTTS("edge", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []edge.Option
		if voice := optString(entry.Options, "voice"); voice != "" {
			opts = append(opts, edge.WithDefaultVoice(voice))
		}
		if rate := optString(entry.Options, "rate"); rate != "" {
			opts = append(opts, edge.WithRate(rate))
		}
		return edge.New(opts...), nil
	})
	reg.RegisterTTS("coqui", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []coqui.Option
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, coqui.WithLanguage(lang))
		}
		return coqui.New(entry.BaseURL, opts...)
	})

	reg.RegisterEmbeddings("openai", func(entry config.ProviderEntry) (embeddings.Provider, error) {
		var opts []oaembed.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaembed.WithBaseURL(entry.BaseURL))
		}
		return oaembed.New(entry.APIKey, entry.Model, opts...)
	})
	reg.RegisterEmbeddings("ollama", func(entry config.ProviderEntry) (embeddings.Provider, error) {
		return ollamaembed.New(entry.BaseURL, entry.Model)
	})

	reg.RegisterVAD("energy", func(config.ProviderEntry) (vad.Engine, error) {
		return energy.New(), nil
	})

	reg.RegisterVoiceID("resemblyzer", func(entry config.ProviderEntry) (voiceid.Provider, error) {
		return resemblyzer.New(entry.BaseURL)
	})
}

// newRecorder builds the capture pipeline from config.
func newRecorder(cfg *config.Config, device audio.Device, engine vad.Engine) *capture.Recorder {
	opts := []capture.Option{capture.WithSampleRate(cfg.Audio.SampleRate)}
	if cfg.Capture.PauseThresholdMs > 0 {
		opts = append(opts, capture.WithPauseThreshold(time.Duration(cfg.Capture.PauseThresholdMs)*time.Millisecond))
	}
	if cfg.Capture.SpeechThreshold > 0 {
		opts = append(opts, capture.WithSpeechThreshold(cfg.Capture.SpeechThreshold))
	}
	return capture.New(device, engine, opts...)
}

// newVerifier loads the voiceprint and builds the verifier, or returns nil
// when verification is disabled.
func newVerifier(cfg *config.Config, provider voiceid.Provider) (*verify.Verifier, error) {
	if !cfg.Verification.Enabled {
		slog.Warn("speaker verification is disabled; the bot will answer anyone")
		return nil, nil
	}

	voiceprint, err := verify.LoadVoiceprint(cfg.Verification.VoiceprintPath)
	if err != nil {
		return nil, err
	}
	if voiceprint == nil {
		slog.Warn("no voiceprint found; run with -register to enrol the owner",
			"path", cfg.Verification.VoiceprintPath)
	}

	var opts []verify.Option
	if cfg.Verification.Threshold != 0 {
		opts = append(opts, verify.WithThreshold(cfg.Verification.Threshold))
	}
	return verify.New(provider, voiceprint, opts...)
}

// newMemoryStore connects the pgvector fact store, or returns nil when
// memory is not configured.
func newMemoryStore(ctx context.Context, cfg *config.Config) (memory.Store, error) {
	if cfg.Memory.PostgresDSN == "" {
		return nil, nil
	}
	return postgres.NewStore(ctx, cfg.Memory.PostgresDSN, cfg.Memory.EmbeddingDimensions)
}

// startMetricsServer serves /healthz, /readyz, and /metrics until ctx ends.
func startMetricsServer(ctx context.Context, addr string) {
	mux := http.NewServeMux()
	health.New().Register(mux)

	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics server error", "err", err)
		}
	}()
	go func() {
		<-ctx.Done()
		sdCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(sdCtx)
	}()
	slog.Info("metrics server listening", "addr", addr)
}

// optString reads a string value from a provider's Options map. Missing keys
// and non-string values yield "".
func optString(options map[string]any, key string) string {
	if v, ok := options[key].(string); ok {
		return v
	}
	return ""
}

// newLogger builds the process logger at the configured level.
func newLogger(level config.LogLevel) *slog.Logger {
	var l slog.Level
	switch level {
	case config.LogDebug:
		l = slog.LevelDebug
	case config.LogWarn:
		l = slog.LevelWarn
	case config.LogError:
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l}))
}

// printStartupSummary logs the effective configuration in one glance.
func printStartupSummary(cfg *config.Config, verifier *verify.Verifier) {
	registered := false
	if verifier != nil {
		registered = verifier.Registered()
	}
	slog.Info("kidsbot starting",
		"bot_name", cfg.Persona.BotName,
		"mode", cfg.Persona.Mode,
		"llm", cfg.Providers.LLM.Name,
		"stt", cfg.Providers.STT.Name,
		"tts", cfg.Providers.TTS.Name,
		"verification", cfg.Verification.Enabled,
		"owner_registered", registered,
		"memory", cfg.Memory.PostgresDSN != "",
		"journal", cfg.Journal.Dir != "",
	)
}
