package loop_test

import (
	"context"
	"testing"
	"time"

	"github.com/SuperGokou/kidsBot/internal/brain"
	"github.com/SuperGokou/kidsBot/internal/capture"
	"github.com/SuperGokou/kidsBot/internal/convo"
	"github.com/SuperGokou/kidsBot/internal/loop"
	"github.com/SuperGokou/kidsBot/internal/speech"
	"github.com/SuperGokou/kidsBot/internal/verify"
	"github.com/SuperGokou/kidsBot/pkg/audio"
	audiomock "github.com/SuperGokou/kidsBot/pkg/audio/mock"
	llmpkg "github.com/SuperGokou/kidsBot/pkg/provider/llm"
	llmmock "github.com/SuperGokou/kidsBot/pkg/provider/llm/mock"
	sttmock "github.com/SuperGokou/kidsBot/pkg/provider/stt/mock"
	ttsmock "github.com/SuperGokou/kidsBot/pkg/provider/tts/mock"
	"github.com/SuperGokou/kidsBot/pkg/provider/vad"
	vadmock "github.com/SuperGokou/kidsBot/pkg/provider/vad/mock"
	voiceidmock "github.com/SuperGokou/kidsBot/pkg/provider/voiceid/mock"
)

// scriptedEngine hands out a fresh scripted VAD session per capture cycle,
// so every listening cycle replays the same speech envelope.
type scriptedEngine struct {
	events []vad.Event
}

func (e *scriptedEngine) NewSession(vad.Config) (vad.SessionHandle, error) {
	return &vadmock.Session{Events: append([]vad.Event(nil), e.events...)}, nil
}

// fixture wires a full loop over mocks. Every capture cycle produces one
// 120 ms utterance; the transcript script decides what was "said".
type fixture struct {
	device  *audiomock.Device
	voiceid *voiceidmock.Provider
	stt     *sttmock.Provider
	llm     *llmmock.Provider
	tts     *ttsmock.Provider
	loop    *loop.Loop
}

func newFixture(t *testing.T, transcripts []string, chunks []llmpkg.Chunk) *fixture {
	t.Helper()

	frames := make([]audio.Frame, 4)
	for i := range frames {
		frames[i] = audio.Frame{
			Data:      make([]byte, 960), // one 30 ms frame at 16 kHz mono
			Timestamp: time.Duration(i) * 30 * time.Millisecond,
		}
	}
	device := &audiomock.Device{CaptureFrames: frames}
	engine := &scriptedEngine{events: []vad.Event{
		{Type: vad.SpeechStart},
		{Type: vad.SpeechContinue},
		{Type: vad.SpeechContinue},
		{Type: vad.SpeechEnd},
	}}
	recorder := capture.New(device, engine)

	vid := &voiceidmock.Provider{
		EmbedResult:     []float32{1, 0},
		DimensionsValue: 2,
	}
	verifier, err := verify.New(vid, []float32{1, 0})
	if err != nil {
		t.Fatalf("verify.New: %v", err)
	}

	sttProv := &sttmock.Provider{Transcripts: transcripts}
	llmProv := &llmmock.Provider{StreamChunks: chunks}

	ttsProv := &ttsmock.Provider{
		SynthesizeResult: audio.EncodeWAV(make([]byte, 3200), 16000, 1),
	}
	speaker, err := speech.NewSpeaker(ttsProv, device, speech.WithScratchDir(t.TempDir()))
	if err != nil {
		t.Fatalf("speech.NewSpeaker: %v", err)
	}

	b, err := brain.New(llmProv, "Kiko", "child-1")
	if err != nil {
		t.Fatalf("brain.New: %v", err)
	}

	l, err := loop.New(recorder, verifier, sttProv, b, speaker)
	if err != nil {
		t.Fatalf("loop.New: %v", err)
	}

	return &fixture{
		device:  device,
		voiceid: vid,
		stt:     sttProv,
		llm:     llmProv,
		tts:     ttsProv,
		loop:    l,
	}
}

func spokenTexts(p *ttsmock.Provider) []string {
	out := make([]string, 0, len(p.SynthesizeCalls))
	for _, c := range p.SynthesizeCalls {
		out = append(out, c.Text)
	}
	return out
}

func TestRunFullTurnWithModeSwitchAndFarewell(t *testing.T) {
	fx := newFixture(t,
		[]string{"tell me a story", "goodbye"},
		[]llmpkg.Chunk{
			{Text: "[[MODE: game]] Sure! "},
			{Text: "Here is a long riddle for you. "},
			{Text: "The end."},
			{FinishReason: "stop"},
		},
	)

	// Record the loop mode at each synthesis call so the test can see when
	// the MODE tag took effect.
	clip := audio.EncodeWAV(make([]byte, 3200), 16000, 1)
	var modes []convo.Mode
	fx.tts.SynthesizeFn = func(context.Context, string, string) ([]byte, error) {
		modes = append(modes, fx.loop.Mode())
		return clip, nil
	}

	if err := fx.loop.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	// A tag-driven mode switch speaks no extra greeting: the response and
	// the farewell are the only utterances after the opening greeting.
	want := []string{
		"Hi! I'm Kiko. How can I help you today?",
		"Sure!",
		"Here is a long riddle for you.",
		"The end.",
		"Goodbye! Talk to you soon!",
	}
	got := spokenTexts(fx.tts)
	if len(got) != len(want) {
		t.Fatalf("spoken = %q, want %q", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("spoken[%d] = %q, want %q", i, got[i], want[i])
		}
	}

	if mode := fx.loop.Mode(); mode != convo.ModeGame {
		t.Errorf("mode = %q, want game", mode)
	}
	// The tag is applied while the response is still streaming: the second
	// and third sentences are synthesized in game mode already.
	if modes[1] != convo.ModeChat {
		t.Errorf("mode at first sentence = %q, want chat", modes[1])
	}
	if modes[2] != convo.ModeGame || modes[3] != convo.ModeGame {
		t.Errorf("mode mid-stream = %q/%q, want game", modes[2], modes[3])
	}
	if phase := fx.loop.Phase(); phase != convo.PhaseIdle {
		t.Errorf("phase = %v, want idle", phase)
	}

	// The in-band switch keeps the conversation: the finished turn stays in
	// history with its clean text.
	h := fx.loop.History()
	if len(h) != 1 {
		t.Fatalf("history length = %d, want 1", len(h))
	}
	if h[0].BotText != "Sure! Here is a long riddle for you. The end." {
		t.Errorf("BotText = %q", h[0].BotText)
	}
	if h[0].Commands.Mode != convo.ModeGame {
		t.Errorf("Commands.Mode = %q, want game", h[0].Commands.Mode)
	}
}

func TestExplicitSwitchModeClearsHistoryAndGreets(t *testing.T) {
	fx := newFixture(t,
		[]string{"hi there"},
		[]llmpkg.Chunk{
			{Text: "Hello friend!"},
			{FinishReason: "stop"},
		},
	)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- fx.loop.Run(ctx) }()

	deadline := time.Now().Add(5 * time.Second)
	for len(fx.loop.History()) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("no turn completed")
		}
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	if err := <-done; err != context.Canceled {
		t.Fatalf("Run = %v, want context.Canceled", err)
	}

	fx.tts.Reset()
	fx.loop.SwitchMode(context.Background(), convo.ModeStory)

	if mode := fx.loop.Mode(); mode != convo.ModeStory {
		t.Errorf("mode = %q, want story", mode)
	}
	if h := fx.loop.History(); len(h) != 0 {
		t.Errorf("history length = %d, want 0 after explicit switch", len(h))
	}
	got := spokenTexts(fx.tts)
	if len(got) != 1 || got[0] != "Story time! What kind of story would you like to hear?" {
		t.Errorf("spoken = %q, want the story greeting", got)
	}
}

func TestRejectedSpeakerNeverReachesTranscription(t *testing.T) {
	fx := newFixture(t, []string{"should never be heard"}, nil)
	// A voice orthogonal to the registered print: cosine similarity 0.
	fx.voiceid.EmbedResult = []float32{0, 1}

	done := make(chan error, 1)
	go func() { done <- fx.loop.Run(context.Background()) }()

	time.Sleep(150 * time.Millisecond)
	fx.loop.Stop()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("loop did not stop")
	}

	if len(fx.voiceid.EmbedCalls) == 0 {
		t.Fatal("verification never ran")
	}
	if len(fx.stt.TranscribeCalls) != 0 {
		t.Errorf("transcribe calls = %d, want 0 for rejected speaker", len(fx.stt.TranscribeCalls))
	}
	if len(fx.loop.History()) != 0 {
		t.Error("rejected utterances must not enter history")
	}
}

func TestStreamFailureSpeaksApology(t *testing.T) {
	fx := newFixture(t,
		[]string{"hello there", "goodbye"},
		[]llmpkg.Chunk{{Text: "connection reset", FinishReason: "error"}},
	)

	if err := fx.loop.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	got := spokenTexts(fx.tts)
	// Greeting, apology, farewell.
	if len(got) != 3 {
		t.Fatalf("spoken = %q, want 3 utterances", got)
	}
	if got[1] == "" || got[1] == "connection reset" {
		t.Errorf("apology = %q, want a spoken fallback", got[1])
	}

	h := fx.loop.History()
	if len(h) != 1 {
		t.Fatalf("history length = %d, want 1", len(h))
	}
	if h[0].UserText != "hello there" {
		t.Errorf("UserText = %q", h[0].UserText)
	}
	if h[0].BotText != "" {
		t.Errorf("BotText = %q, want empty for failed turn", h[0].BotText)
	}
}

func TestStopDuringStreamHaltsSpeech(t *testing.T) {
	fx := newFixture(t,
		[]string{"count to three"},
		[]llmpkg.Chunk{
			{Text: "One. "},
			{Text: "Two. "},
			{Text: "Three."},
			{FinishReason: "stop"},
		},
	)

	clip := audio.EncodeWAV(make([]byte, 3200), 16000, 1)
	sentences := 0
	fx.tts.SynthesizeFn = func(context.Context, string, string) ([]byte, error) {
		sentences++
		if sentences == 2 { // greeting, then the first sentence
			fx.loop.Stop()
		}
		return clip, nil
	}

	if err := fx.loop.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	got := spokenTexts(fx.tts)
	want := []string{"Hi! I'm Kiko. How can I help you today?", "One."}
	if len(got) != len(want) {
		t.Fatalf("spoken = %q, want %q", got, want)
	}
	if fx.loop.Phase() != convo.PhaseIdle {
		t.Errorf("phase = %v, want idle", fx.loop.Phase())
	}
}

func TestStopInterruptsPlayback(t *testing.T) {
	fx := newFixture(t,
		[]string{"tell me something long"},
		[]llmpkg.Chunk{
			{Text: "This one goes on for a while. "},
			{FinishReason: "stop"},
		},
	)

	// The greeting plays normally; the first response clip blocks until its
	// context is cancelled, standing in for a long synthesized sentence.
	playing := make(chan struct{})
	calls := 0
	fx.device.PlayFn = func(ctx context.Context, _ []byte, _, _ int) error {
		calls++
		if calls == 1 {
			return nil
		}
		if calls == 2 {
			close(playing)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(5 * time.Second):
			return nil
		}
	}

	done := make(chan error, 1)
	go func() { done <- fx.loop.Run(context.Background()) }()

	<-playing
	start := time.Now()
	fx.loop.Stop()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not unwind while a clip was playing")
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("stop took %v, playback was not cut off", elapsed)
	}
	if fx.loop.Phase() != convo.PhaseIdle {
		t.Errorf("phase = %v, want idle", fx.loop.Phase())
	}
}

func TestContextCancelUnwinds(t *testing.T) {
	fx := newFixture(t, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- fx.loop.Run(ctx) }()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != context.Canceled {
			t.Fatalf("Run = %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("loop did not unwind on cancel")
	}
	if fx.loop.Phase() != convo.PhaseIdle {
		t.Errorf("phase = %v, want idle", fx.loop.Phase())
	}
}
