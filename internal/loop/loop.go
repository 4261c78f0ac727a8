// Package loop runs the conversation state machine that ties the whole bot
// together: record one utterance, gate it on speaker identity, transcribe,
// stream a response, and speak it sentence by sentence while the stream is
// still arriving.
//
// The loop is single-threaded and cooperative: one phase runs to completion
// before the next begins. The only concurrency it spawns is the
// fire-and-forget fact-extraction task after each turn, which talks back
// only through the thread-safe memory store.
package loop

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/SuperGokou/kidsBot/internal/brain"
	"github.com/SuperGokou/kidsBot/internal/capture"
	"github.com/SuperGokou/kidsBot/internal/convo"
	"github.com/SuperGokou/kidsBot/internal/exitwords"
	"github.com/SuperGokou/kidsBot/internal/journal"
	"github.com/SuperGokou/kidsBot/internal/observe"
	"github.com/SuperGokou/kidsBot/internal/speech"
	"github.com/SuperGokou/kidsBot/internal/tagparse"
	"github.com/SuperGokou/kidsBot/internal/verify"
	"github.com/SuperGokou/kidsBot/pkg/provider/stt"
)

const (
	// tagThreshold is how many characters of streamed text to accumulate
	// before scanning for command tags. Tags are instructed to appear at the
	// start of the response, so one early scan catches nearly all of them;
	// a final scan on the complete text catches the rest.
	tagThreshold = 50

	// defaultMaxWaitForSpeech bounds how long one listening cycle waits for
	// speech to begin before self-looping.
	defaultMaxWaitForSpeech = 10 * time.Second

	// defaultMaxPhraseLength is the hard cutoff for one utterance.
	defaultMaxPhraseLength = 15 * time.Second

	// factExtractionTimeout bounds the background fact-extraction task.
	factExtractionTimeout = 30 * time.Second

	// farewell is spoken when the child says goodbye.
	farewell = "Goodbye! Talk to you soon!"
)

// Transcriber is the slice of the STT provider the loop needs.
type Transcriber interface {
	Transcribe(ctx context.Context, pcm []byte, sampleRate, channels int, languageHint string) (string, error)
}

var _ Transcriber = (stt.Provider)(nil)

// Loop is the conversation state machine. Construct with New, drive with
// Run; Phase, Mode, and History are safe to call from other goroutines for
// display purposes.
type Loop struct {
	recorder *capture.Recorder
	verifier *verify.Verifier
	stt      Transcriber
	brain    *brain.Brain
	speaker  *speech.Speaker
	exits    *exitwords.Detector

	journal *journal.Journal
	metrics *observe.Metrics
	onAction func(action string)

	maxWaitForSpeech time.Duration
	maxPhraseLength  time.Duration
	log              *slog.Logger

	stop atomic.Bool

	mu         sync.Mutex
	stopCancel context.CancelFunc
	phase      convo.Phase
	mode       convo.Mode
	language   string
	history    []convo.Turn
}

// Option is a functional option for Loop.
type Option func(*Loop)

// WithMode sets the starting conversation mode. Defaults to chat.
func WithMode(mode convo.Mode) Option {
	return func(l *Loop) {
		l.mode = mode
	}
}

// WithLanguage sets the initial language hint passed to the transcriber.
func WithLanguage(lang string) Option {
	return func(l *Loop) {
		l.language = lang
	}
}

// WithJournal wires the interaction journal. Without it turns are not
// persisted and the daily report has nothing to summarise.
func WithJournal(j *journal.Journal) Option {
	return func(l *Loop) {
		l.journal = j
	}
}

// WithMetrics wires the observability instruments.
func WithMetrics(m *observe.Metrics) Option {
	return func(l *Loop) {
		l.metrics = m
	}
}

// WithActionHandler sets the callback invoked when a response carries an
// ACTION tag (an expressive cue for a display or robot body). The default
// just logs the cue.
func WithActionHandler(fn func(action string)) Option {
	return func(l *Loop) {
		l.onAction = fn
	}
}

// WithTimings overrides the listening-cycle bounds.
func WithTimings(maxWaitForSpeech, maxPhraseLength time.Duration) Option {
	return func(l *Loop) {
		if maxWaitForSpeech > 0 {
			l.maxWaitForSpeech = maxWaitForSpeech
		}
		if maxPhraseLength > 0 {
			l.maxPhraseLength = maxPhraseLength
		}
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(log *slog.Logger) Option {
	return func(l *Loop) {
		l.log = log
	}
}

// New creates a Loop. verifier may be nil when speaker verification is
// disabled; every other collaborator is required.
func New(recorder *capture.Recorder, verifier *verify.Verifier, transcriber Transcriber, b *brain.Brain, speaker *speech.Speaker, opts ...Option) (*Loop, error) {
	if recorder == nil || transcriber == nil || b == nil || speaker == nil {
		return nil, fmt.Errorf("loop: recorder, transcriber, brain, and speaker must be non-nil")
	}
	l := &Loop{
		recorder:         recorder,
		verifier:         verifier,
		stt:              transcriber,
		brain:            b,
		speaker:          speaker,
		exits:            exitwords.New(),
		maxWaitForSpeech: defaultMaxWaitForSpeech,
		maxPhraseLength:  defaultMaxPhraseLength,
		mode:             convo.ModeChat,
		phase:            convo.PhaseIdle,
		log:              slog.Default(),
	}
	for _, o := range opts {
		o(l)
	}
	if l.onAction == nil {
		l.onAction = func(action string) {
			l.log.Info("expressive cue", "action", action)
		}
	}
	return l, nil
}

// Phase returns the current loop phase.
func (l *Loop) Phase() convo.Phase {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.phase
}

// Mode returns the current conversation mode.
func (l *Loop) Mode() convo.Mode {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.mode
}

// History returns a copy of the completed turns this session.
func (l *Loop) History() []convo.Turn {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]convo.Turn, len(l.history))
	copy(out, l.history)
	return out
}

// Stop requests the loop unwind to idle. The signal is level-triggered: it
// stays set until the next Run clears it, and is checked at the top of every
// phase and at every suspension point. In-flight capture and playback are
// cancelled, so a clip that is mid-play is cut off rather than finishing.
func (l *Loop) Stop() {
	l.stop.Store(true)
	l.mu.Lock()
	cancel := l.stopCancel
	l.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Run owns one conversation session: greeting, then the listening cycle
// until Stop is called, the child says goodbye, or ctx is cancelled. Always
// returns with the loop in the idle phase. Returns ctx.Err() on context
// cancellation, nil otherwise.
func (l *Loop) Run(ctx context.Context) error {
	l.stop.Store(false)
	defer l.setPhase(convo.PhaseIdle)

	// Stop cancels runCtx so that blocking work (capture, playback) aborts
	// immediately instead of running the current clip to completion.
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	l.mu.Lock()
	l.stopCancel = cancel
	l.mu.Unlock()
	defer func() {
		l.mu.Lock()
		l.stopCancel = nil
		l.mu.Unlock()
	}()

	if l.metrics != nil {
		l.metrics.ActiveSessions.Add(ctx, 1)
		defer l.metrics.ActiveSessions.Add(ctx, -1)
	}

	// Greeting phase.
	l.setPhase(convo.PhaseGreeting)
	if err := l.speaker.Say(runCtx, brain.Greeting(l.Mode(), l.brain.BotName())); err != nil && runCtx.Err() == nil {
		l.log.Warn("greeting failed", "error", err)
	}

	for {
		if l.stop.Load() {
			l.log.Info("stop requested, draining to idle")
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		l.setPhase(convo.PhaseListening)
		text, ok := l.listen(runCtx)
		if !ok {
			continue
		}

		if l.exits.IsFarewell(text) {
			l.log.Info("farewell detected", "text", text)
			// Set the flag without cancelling runCtx so the farewell itself
			// still plays.
			l.stop.Store(true)
			if err := l.speaker.Say(runCtx, farewell); err != nil && runCtx.Err() == nil {
				l.log.Warn("farewell playback failed", "error", err)
			}
			return nil
		}

		l.setPhase(convo.PhaseProcessing)
		l.processTurn(runCtx, text)
	}
}

// listen records one utterance, gates it on speaker identity, and
// transcribes it. Returns ok=false for every self-loop outcome: no speech,
// rejected speaker, empty transcript, or a recoverable provider failure.
func (l *Loop) listen(ctx context.Context) (string, bool) {
	listenStart := time.Now()

	sample, err := l.recorder.RecordUntilSilence(ctx, l.maxWaitForSpeech, l.maxPhraseLength)
	l.observeDuration(ctx, func(m *observe.Metrics) { m.ListenDuration.Record(ctx, time.Since(listenStart).Seconds()) })
	switch {
	case errors.Is(err, capture.ErrNoSpeech):
		l.recordOutcome(ctx, "timeout")
		return "", false
	case err != nil:
		if ctx.Err() == nil {
			l.log.Warn("capture failed", "error", err)
			l.recordOutcome(ctx, "error")
		}
		return "", false
	}

	if l.stop.Load() {
		return "", false
	}

	var decision verify.Decision
	if l.verifier != nil {
		verifyStart := time.Now()
		decision = l.verifier.Verify(ctx, sample.PCM, sample.SampleRate)
		l.observeDuration(ctx, func(m *observe.Metrics) { m.VerifyDuration.Record(ctx, time.Since(verifyStart).Seconds()) })
		if !decision.Accepted {
			l.log.Warn("utterance rejected",
				"reason", decision.Reason,
				"similarity", decision.Similarity)
			l.recordOutcome(ctx, "rejected_speaker")
			return "", false
		}
	}

	sttStart := time.Now()
	text, err := l.stt.Transcribe(ctx, sample.PCM, sample.SampleRate, sample.Channels, l.languageHint())
	l.observeDuration(ctx, func(m *observe.Metrics) { m.STTDuration.Record(ctx, time.Since(sttStart).Seconds()) })
	if err != nil {
		l.log.Warn("transcription failed", "error", err)
		l.recordOutcome(ctx, "error")
		return "", false
	}
	if text == "" {
		l.recordOutcome(ctx, "empty")
		return "", false
	}

	l.log.Info("heard", "text", text, "similarity", decision.Similarity)
	l.recordOutcome(ctx, "speech")
	return text, true
}

// processTurn runs one generate-and-speak exchange. It never returns an
// error: every failure inside degrades to "speak what we got" or a spoken
// apology, and the loop continues.
func (l *Loop) processTurn(ctx context.Context, userText string) {
	turnStart := time.Now()
	mode := l.Mode()

	// Record the user's side immediately so a failed turn still shows what
	// was asked.
	l.appendTurn(convo.Turn{UserText: userText, Mode: mode, Timestamp: time.Now()})

	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	llmStart := time.Now()
	stream, err := l.brain.Respond(streamCtx, mode, l.historyBefore(), userText)
	if err != nil {
		l.log.Error("response stream failed to open", "error", err)
		l.sayOrLog(ctx, brain.Apology())
		l.finishTurn(ctx, userText, "", mode, convo.CommandSet{}, turnStart)
		return
	}

	var (
		fullText string
		chunker  speech.Chunker
		cmds     convo.CommandSet
		tagsDone bool
	)

	for chunk := range stream {
		if l.stop.Load() {
			cancel()
			for range stream {
				// Drain so the provider goroutine can exit.
			}
			break
		}
		if chunk.FinishReason == "error" {
			// Degrade to speaking whatever was buffered.
			l.log.Warn("response stream broke mid-turn", "error", chunk.Text)
			break
		}

		fullText += chunk.Text
		segment := chunker.Feed(chunk.Text)

		if !tagsDone && len(fullText) > tagThreshold {
			cmds, _ = tagparse.Parse(fullText)
			tagsDone = true
			// Commands take effect as soon as they are seen, so a mode or
			// language switch applies while the rest of the response is
			// still streaming.
			l.applyCommands(cmds)
		}
		if segment != "" {
			l.speakSegment(ctx, segment)
		}
	}
	l.observeDuration(ctx, func(m *observe.Metrics) { m.LLMDuration.Record(ctx, time.Since(llmStart).Seconds()) })

	// Late tags: responses shorter than the threshold never got the early
	// scan, and a misbehaving model can emit tags mid-text.
	finalCmds, cleanText := tagparse.Parse(fullText)
	merged := mergeCommands(cmds, finalCmds)

	if !l.stop.Load() {
		if remainder := chunker.Flush(); remainder != "" {
			l.speakSegment(ctx, remainder)
		}
		if cleanText == "" {
			l.sayOrLog(ctx, brain.Apology())
		}
	}

	l.finishTurn(ctx, userText, cleanText, mode, merged, turnStart)
	l.applyCommands(lateCommands(cmds, merged))
}

// finishTurn completes the bookkeeping for one exchange: history, journal,
// metrics, and the background fact-extraction task.
func (l *Loop) finishTurn(ctx context.Context, userText, botText string, mode convo.Mode, cmds convo.CommandSet, turnStart time.Time) {
	turn := convo.Turn{
		UserText:  userText,
		BotText:   botText,
		Mode:      mode,
		Commands:  cmds,
		Timestamp: time.Now(),
	}
	l.replaceLastTurn(turn)

	if l.journal != nil {
		err := l.journal.Append(journal.Entry{
			Time:     turn.Timestamp,
			UserText: userText,
			BotText:  botText,
			Mode:     mode,
		})
		if err != nil {
			l.log.Warn("journal append failed", "error", err)
		}
	}

	if l.metrics != nil {
		l.metrics.TurnDuration.Record(ctx, time.Since(turnStart).Seconds())
		l.metrics.RecordTurn(ctx, string(mode))
	}

	// Fire-and-forget: a slow or failing extraction must never delay the
	// next listening cycle. Detached from ctx so a session teardown does
	// not lose the last fact.
	go func() {
		bg, cancel := context.WithTimeout(context.Background(), factExtractionTimeout)
		defer cancel()
		l.brain.ExtractAndRemember(bg, userText)
	}()
}

// applyCommands acts on the tags parsed from the response. A MODE tag only
// switches the persona for the turns that follow; the conversation history
// and the response being spoken are left alone.
func (l *Loop) applyCommands(cmds convo.CommandSet) {
	if cmds.Action != "" {
		l.onAction(cmds.Action)
	}
	if cmds.Language != "" {
		l.mu.Lock()
		l.language = cmds.Language
		l.mu.Unlock()
		l.log.Info("language switched", "language", cmds.Language)
	}
	if cmds.Mode != "" && cmds.Mode != l.Mode() {
		l.mu.Lock()
		l.mode = cmds.Mode
		l.mu.Unlock()
		l.log.Info("mode switched", "mode", cmds.Mode)
	}
}

// SwitchMode is the explicit mode change for an external control surface
// (a parent's app, a button on the device). Unlike a tag-driven switch it
// starts the new persona fresh: the cross-persona history is cleared and the
// bot greets in the new voice.
func (l *Loop) SwitchMode(ctx context.Context, mode convo.Mode) {
	if !mode.IsValid() || mode == l.Mode() {
		return
	}
	l.mu.Lock()
	l.mode = mode
	l.history = nil
	l.mu.Unlock()

	l.log.Info("mode switched", "mode", mode)
	if !l.stop.Load() {
		l.sayOrLog(ctx, brain.Greeting(mode, l.brain.BotName()))
	}
}

// speakSegment strips tag debris from one sentence-chunked segment and
// speaks it. Synthesis and playback failures are logged, never fatal.
func (l *Loop) speakSegment(ctx context.Context, segment string) {
	clean := tagparse.Clean(segment)
	if clean == "" {
		return
	}
	ttsStart := time.Now()
	err := l.speaker.Say(ctx, clean)
	l.observeDuration(ctx, func(m *observe.Metrics) { m.TTSDuration.Record(ctx, time.Since(ttsStart).Seconds()) })
	if err != nil && ctx.Err() == nil {
		l.log.Warn("speech failed", "error", err, "text", clean)
	}
}

// sayOrLog speaks text, logging instead of failing when playback breaks.
func (l *Loop) sayOrLog(ctx context.Context, text string) {
	if err := l.speaker.Say(ctx, text); err != nil && ctx.Err() == nil {
		l.log.Warn("speech failed", "error", err)
	}
}

// ---- state helpers ----

func (l *Loop) setPhase(p convo.Phase) {
	l.mu.Lock()
	l.phase = p
	l.mu.Unlock()
}

func (l *Loop) languageHint() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.language
}

func (l *Loop) appendTurn(t convo.Turn) {
	l.mu.Lock()
	l.history = append(l.history, t)
	l.mu.Unlock()
}

// historyBefore returns the turns preceding the in-flight one.
func (l *Loop) historyBefore() []convo.Turn {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.history) == 0 {
		return nil
	}
	out := make([]convo.Turn, len(l.history)-1)
	copy(out, l.history[:len(l.history)-1])
	return out
}

func (l *Loop) replaceLastTurn(t convo.Turn) {
	l.mu.Lock()
	if n := len(l.history); n > 0 {
		l.history[n-1] = t
	}
	l.mu.Unlock()
}

func (l *Loop) recordOutcome(ctx context.Context, outcome string) {
	if l.metrics != nil {
		l.metrics.RecordListenOutcome(ctx, outcome)
	}
}

func (l *Loop) observeDuration(ctx context.Context, record func(*observe.Metrics)) {
	if l.metrics != nil {
		record(l.metrics)
	}
}

// mergeCommands combines the early-scan and final-scan results. The early
// scan wins per field since it saw the tags first; the final scan only fills
// fields the early scan missed.
func mergeCommands(early, final convo.CommandSet) convo.CommandSet {
	if early.Mode == "" {
		early.Mode = final.Mode
	}
	if early.Action == "" {
		early.Action = final.Action
	}
	if early.Language == "" {
		early.Language = final.Language
	}
	return early
}

// lateCommands returns the fields the final scan found that the early scan,
// already applied mid-stream, did not.
func lateCommands(applied, merged convo.CommandSet) convo.CommandSet {
	var late convo.CommandSet
	if applied.Mode == "" {
		late.Mode = merged.Mode
	}
	if applied.Action == "" {
		late.Action = merged.Action
	}
	if applied.Language == "" {
		late.Language = merged.Language
	}
	return late
}
