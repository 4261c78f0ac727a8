package speech_test

import (
	"context"
	"errors"
	"testing"

	"github.com/SuperGokou/kidsBot/internal/speech"
	"github.com/SuperGokou/kidsBot/pkg/audio"
	audiomock "github.com/SuperGokou/kidsBot/pkg/audio/mock"
	ttsmock "github.com/SuperGokou/kidsBot/pkg/provider/tts/mock"
)

func TestChunkerCutsAtLastTerminal(t *testing.T) {
	t.Parallel()

	var c speech.Chunker

	if got := c.Feed("Hello there"); got != "" {
		t.Errorf("Feed without terminal returned %q, want empty", got)
	}
	// Two sentences arrive in one fragment: both come back in a single chunk.
	got := c.Feed(", friend! How are you? I was")
	if got != "Hello there, friend! How are you?" {
		t.Errorf("Feed = %q", got)
	}
	if got := c.Flush(); got != "I was" {
		t.Errorf("Flush = %q, want %q", got, "I was")
	}
}

func TestChunkerCJKTerminals(t *testing.T) {
	t.Parallel()

	var c speech.Chunker
	got := c.Feed("你好！今天想玩什么？我们")
	if got != "你好！今天想玩什么？" {
		t.Errorf("Feed = %q", got)
	}
	if got := c.Flush(); got != "我们" {
		t.Errorf("Flush = %q", got)
	}
}

func TestChunkerHoldsCutInsideOpenTag(t *testing.T) {
	t.Parallel()

	var c speech.Chunker

	// The "!" inside the half-arrived tag must not end the sentence, or the
	// unterminated bracket fragment would be spoken.
	if got := c.Feed("[[ACTION: wow!"); got != "" {
		t.Errorf("Feed mid-tag = %q, want empty", got)
	}
	got := c.Feed("]] Great job! You did")
	if got != "[[ACTION: wow!]] Great job!" {
		t.Errorf("Feed = %q", got)
	}
	if got := c.Flush(); got != "You did" {
		t.Errorf("Flush = %q", got)
	}
}

func TestChunkerOpenTagAfterCompleteSentence(t *testing.T) {
	t.Parallel()

	var c speech.Chunker

	// The finished sentence before the open tag is still released.
	got := c.Feed("All done! [[MODE: ga")
	if got != "All done!" {
		t.Errorf("Feed = %q", got)
	}
	if got := c.Feed("me]] Let's go."); got != "[[MODE: game]] Let's go." {
		t.Errorf("Feed = %q", got)
	}
}

func TestChunkerFlushEmpty(t *testing.T) {
	t.Parallel()

	var c speech.Chunker
	if got := c.Flush(); got != "" {
		t.Errorf("Flush on empty chunker = %q", got)
	}
}

func TestChunkerIncrementalFragments(t *testing.T) {
	t.Parallel()

	var c speech.Chunker
	fragments := []string{"On", "ce upon", " a time", ".", " The end"}
	var spoken []string
	for _, f := range fragments {
		if s := c.Feed(f); s != "" {
			spoken = append(spoken, s)
		}
	}
	if rest := c.Flush(); rest != "" {
		spoken = append(spoken, rest)
	}

	want := []string{"Once upon a time.", "The end"}
	if len(spoken) != len(want) {
		t.Fatalf("spoken = %q, want %q", spoken, want)
	}
	for i := range want {
		if spoken[i] != want[i] {
			t.Errorf("spoken[%d] = %q, want %q", i, spoken[i], want[i])
		}
	}
}

func TestSayBlankTextIsNoOp(t *testing.T) {
	t.Parallel()

	ttsP := &ttsmock.Provider{}
	device := &audiomock.Device{}
	s, err := speech.NewSpeaker(ttsP, device)
	if err != nil {
		t.Fatalf("NewSpeaker: %v", err)
	}

	if err := s.Say(context.Background(), "   \n "); err != nil {
		t.Fatalf("Say: %v", err)
	}
	if len(ttsP.SynthesizeCalls) != 0 {
		t.Errorf("Synthesize called %d times, want 0", len(ttsP.SynthesizeCalls))
	}
	if len(device.PlayCalls) != 0 {
		t.Errorf("Play called %d times, want 0", len(device.PlayCalls))
	}
}

func TestSayPlaysDecodedAudio(t *testing.T) {
	t.Parallel()

	pcm := []byte{1, 2, 3, 4}
	ttsP := &ttsmock.Provider{
		SynthesizeResult: audio.EncodeWAV(pcm, 16000, 1),
	}
	device := &audiomock.Device{}
	s, err := speech.NewSpeaker(ttsP, device, speech.WithVoice("en-US-AnaNeural"), speech.WithScratchDir(t.TempDir()))
	if err != nil {
		t.Fatalf("NewSpeaker: %v", err)
	}

	if err := s.Say(context.Background(), "Hi!"); err != nil {
		t.Fatalf("Say: %v", err)
	}

	if len(ttsP.SynthesizeCalls) != 1 {
		t.Fatalf("Synthesize called %d times, want 1", len(ttsP.SynthesizeCalls))
	}
	if ttsP.SynthesizeCalls[0].VoiceID != "en-US-AnaNeural" {
		t.Errorf("voice = %q", ttsP.SynthesizeCalls[0].VoiceID)
	}
	if len(device.PlayCalls) != 1 {
		t.Fatalf("Play called %d times, want 1", len(device.PlayCalls))
	}
	call := device.PlayCalls[0]
	if call.SampleRate != 16000 || call.Channels != 1 || len(call.PCM) != len(pcm) {
		t.Errorf("Play call = %d bytes @ %d Hz %d ch", len(call.PCM), call.SampleRate, call.Channels)
	}
}

func TestSaySynthesisErrorPropagates(t *testing.T) {
	t.Parallel()

	wantErr := errors.New("service down")
	ttsP := &ttsmock.Provider{SynthesizeErr: wantErr}
	device := &audiomock.Device{}
	s, err := speech.NewSpeaker(ttsP, device, speech.WithScratchDir(t.TempDir()))
	if err != nil {
		t.Fatalf("NewSpeaker: %v", err)
	}

	if err := s.Say(context.Background(), "Hi!"); !errors.Is(err, wantErr) {
		t.Errorf("Say error = %v, want %v", err, wantErr)
	}
	if len(device.PlayCalls) != 0 {
		t.Errorf("Play called %d times, want 0", len(device.PlayCalls))
	}
}
