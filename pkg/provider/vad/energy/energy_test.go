package energy_test

import (
	"encoding/binary"
	"testing"

	"github.com/SuperGokou/kidsBot/pkg/provider/vad"
	"github.com/SuperGokou/kidsBot/pkg/provider/vad/energy"
)

// frame builds a 16-bit mono PCM frame of the given duration filled with a
// constant amplitude, so its RMS equals the amplitude exactly.
func frame(amplitude int16, sampleRate, frameMs int) []byte {
	n := sampleRate * frameMs / 1000
	buf := make([]byte, n*2)
	for i := 0; i < n; i++ {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(amplitude))
	}
	return buf
}

func newSession(t *testing.T, cfg vad.Config) vad.SessionHandle {
	t.Helper()
	sess, err := energy.New().NewSession(cfg)
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	t.Cleanup(func() { sess.Close() })
	return sess
}

func TestNewSessionValidation(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		cfg     vad.Config
		wantErr bool
	}{
		{"valid", vad.Config{SampleRate: 16000, FrameSizeMs: 30}, false},
		{"zero sample rate", vad.Config{FrameSizeMs: 30}, true},
		{"zero frame size", vad.Config{SampleRate: 16000}, true},
		{"negative threshold", vad.Config{SampleRate: 16000, FrameSizeMs: 30, SpeechThreshold: -1}, true},
		{"silence above speech", vad.Config{SampleRate: 16000, FrameSizeMs: 30, SpeechThreshold: 100, SilenceThreshold: 200}, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := energy.New().NewSession(tc.cfg)
			if (err != nil) != tc.wantErr {
				t.Fatalf("NewSession(%+v) err = %v, wantErr = %v", tc.cfg, err, tc.wantErr)
			}
		})
	}
}

func TestSpeechStartRequiresConsecutiveFrames(t *testing.T) {
	t.Parallel()

	cfg := vad.Config{SampleRate: 16000, FrameSizeMs: 30, SpeechThreshold: 300}
	sess := newSession(t, cfg)

	loud := frame(5000, 16000, 30)

	want := []vad.EventType{vad.Silence, vad.Silence, vad.SpeechStart, vad.SpeechContinue}
	for i, w := range want {
		ev, err := sess.ProcessFrame(loud)
		if err != nil {
			t.Fatalf("frame %d: %v", i, err)
		}
		if ev.Type != w {
			t.Errorf("frame %d: got %v, want %v", i, ev.Type, w)
		}
	}
}

func TestSinglePopDoesNotStartSpeech(t *testing.T) {
	t.Parallel()

	cfg := vad.Config{SampleRate: 16000, FrameSizeMs: 30, SpeechThreshold: 300}
	sess := newSession(t, cfg)

	loud := frame(5000, 16000, 30)
	quiet := frame(50, 16000, 30)

	seq := [][]byte{loud, quiet, loud, quiet}
	for i, f := range seq {
		ev, err := sess.ProcessFrame(f)
		if err != nil {
			t.Fatalf("frame %d: %v", i, err)
		}
		if ev.Type != vad.Silence {
			t.Errorf("frame %d: got %v, want silence", i, ev.Type)
		}
	}
}

func TestTrailingSilenceEndsSpeech(t *testing.T) {
	t.Parallel()

	cfg := vad.Config{
		SampleRate:        16000,
		FrameSizeMs:       30,
		SpeechThreshold:   300,
		TrailingSilenceMs: 90, // three quiet frames
	}
	sess := newSession(t, cfg)

	loud := frame(5000, 16000, 30)
	quiet := frame(50, 16000, 30)

	for i := 0; i < 3; i++ {
		if _, err := sess.ProcessFrame(loud); err != nil {
			t.Fatalf("warmup frame %d: %v", i, err)
		}
	}

	want := []vad.EventType{vad.SpeechContinue, vad.SpeechContinue, vad.SpeechEnd}
	for i, w := range want {
		ev, err := sess.ProcessFrame(quiet)
		if err != nil {
			t.Fatalf("quiet frame %d: %v", i, err)
		}
		if ev.Type != w {
			t.Errorf("quiet frame %d: got %v, want %v", i, ev.Type, w)
		}
	}

	// After the segment ends the detector is back in the silence state.
	ev, err := sess.ProcessFrame(quiet)
	if err != nil {
		t.Fatalf("post-end frame: %v", err)
	}
	if ev.Type != vad.Silence {
		t.Errorf("post-end frame: got %v, want silence", ev.Type)
	}
}

func TestWordGapDoesNotEndSpeech(t *testing.T) {
	t.Parallel()

	cfg := vad.Config{
		SampleRate:        16000,
		FrameSizeMs:       30,
		SpeechThreshold:   300,
		TrailingSilenceMs: 300,
	}
	sess := newSession(t, cfg)

	loud := frame(5000, 16000, 30)
	quiet := frame(50, 16000, 30)

	for i := 0; i < 3; i++ {
		sess.ProcessFrame(loud)
	}

	// A 120 ms gap stays below the 300 ms endpoint.
	for i := 0; i < 4; i++ {
		ev, err := sess.ProcessFrame(quiet)
		if err != nil {
			t.Fatalf("gap frame %d: %v", i, err)
		}
		if ev.Type != vad.SpeechContinue {
			t.Fatalf("gap frame %d: got %v, want speech_continue", i, ev.Type)
		}
	}

	// Resumed speech resets the trailing-silence accumulator.
	ev, err := sess.ProcessFrame(loud)
	if err != nil {
		t.Fatalf("resume frame: %v", err)
	}
	if ev.Type != vad.SpeechContinue {
		t.Errorf("resume frame: got %v, want speech_continue", ev.Type)
	}
}

func TestNoiseAdaptationRaisesThreshold(t *testing.T) {
	t.Parallel()

	cfg := vad.Config{SampleRate: 16000, FrameSizeMs: 30, SpeechThreshold: 300}
	sess := newSession(t, cfg)

	// A noisy room: sustained 250-RMS ambience below the base threshold.
	noise := frame(250, 16000, 30)
	for i := 0; i < 100; i++ {
		if _, err := sess.ProcessFrame(noise); err != nil {
			t.Fatalf("noise frame %d: %v", i, err)
		}
	}

	// 400 RMS would start speech on a calm session but is within the adapted
	// noise margin here.
	borderline := frame(400, 16000, 30)
	for i := 0; i < 5; i++ {
		ev, err := sess.ProcessFrame(borderline)
		if err != nil {
			t.Fatalf("borderline frame %d: %v", i, err)
		}
		if ev.Type != vad.Silence {
			t.Fatalf("borderline frame %d: got %v, want silence", i, ev.Type)
		}
	}

	// Clearly loud speech still cuts through.
	loud := frame(8000, 16000, 30)
	var last vad.Event
	for i := 0; i < 3; i++ {
		var err error
		last, err = sess.ProcessFrame(loud)
		if err != nil {
			t.Fatalf("loud frame %d: %v", i, err)
		}
	}
	if last.Type != vad.SpeechStart {
		t.Errorf("loud speech: got %v, want speech_start", last.Type)
	}
}

func TestProcessFrameWrongSize(t *testing.T) {
	t.Parallel()

	cfg := vad.Config{SampleRate: 16000, FrameSizeMs: 30, SpeechThreshold: 300}
	sess := newSession(t, cfg)

	if _, err := sess.ProcessFrame(make([]byte, 10)); err == nil {
		t.Fatal("expected error for undersized frame")
	}
}

func TestResetClearsSegmentState(t *testing.T) {
	t.Parallel()

	cfg := vad.Config{SampleRate: 16000, FrameSizeMs: 30, SpeechThreshold: 300}
	sess := newSession(t, cfg)

	loud := frame(5000, 16000, 30)
	for i := 0; i < 3; i++ {
		sess.ProcessFrame(loud)
	}
	sess.Reset()

	// After reset the hysteresis count starts over.
	ev, err := sess.ProcessFrame(loud)
	if err != nil {
		t.Fatalf("ProcessFrame after reset: %v", err)
	}
	if ev.Type != vad.Silence {
		t.Errorf("first frame after reset: got %v, want silence", ev.Type)
	}
}

func TestClosedSessionRejectsFrames(t *testing.T) {
	t.Parallel()

	cfg := vad.Config{SampleRate: 16000, FrameSizeMs: 30, SpeechThreshold: 300}
	sess := newSession(t, cfg)
	if err := sess.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := sess.ProcessFrame(frame(0, 16000, 30)); err == nil {
		t.Fatal("expected error after Close")
	}
}
