package capture_test

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/SuperGokou/kidsBot/internal/capture"
	"github.com/SuperGokou/kidsBot/pkg/audio"
	audiomock "github.com/SuperGokou/kidsBot/pkg/audio/mock"
	"github.com/SuperGokou/kidsBot/pkg/provider/vad"
	vadmock "github.com/SuperGokou/kidsBot/pkg/provider/vad/mock"
)

const (
	testSampleRate = 16000
	testFrameMs    = 30
	frameBytes     = testSampleRate * testFrameMs / 1000 * 2
)

// deviceFrames builds capture frames sized exactly to the VAD analysis frame,
// each filled with a distinct byte so the assembled sample can be inspected.
func deviceFrames(fill ...byte) []audio.Frame {
	frames := make([]audio.Frame, len(fill))
	for i, b := range fill {
		data := bytes.Repeat([]byte{b}, frameBytes)
		frames[i] = audio.Frame{
			Data:       data,
			SampleRate: testSampleRate,
			Channels:   1,
			Timestamp:  time.Duration(i) * 30 * time.Millisecond,
		}
	}
	return frames
}

func newRecorder(dev audio.Device, sess vad.SessionHandle) *capture.Recorder {
	return capture.New(dev, &vadmock.Engine{Session: sess},
		capture.WithSampleRate(testSampleRate),
		capture.WithFrameSizeMs(testFrameMs),
	)
}

func TestNilDeviceReturnsNoSpeech(t *testing.T) {
	t.Parallel()

	rec := capture.New(nil, &vadmock.Engine{})
	if rec.Available() {
		t.Error("Available() = true for nil device")
	}
	_, err := rec.RecordUntilSilence(context.Background(), time.Second, time.Second)
	if !errors.Is(err, capture.ErrNoSpeech) {
		t.Fatalf("err = %v, want ErrNoSpeech", err)
	}
}

func TestCaptureErrorMapsToNoSpeech(t *testing.T) {
	t.Parallel()

	dev := &audiomock.Device{CaptureErr: errors.New("device busy")}
	rec := newRecorder(dev, &vadmock.Session{})
	_, err := rec.RecordUntilSilence(context.Background(), time.Second, time.Second)
	if !errors.Is(err, capture.ErrNoSpeech) {
		t.Fatalf("err = %v, want ErrNoSpeech", err)
	}
}

func TestNoSpeechTimeout(t *testing.T) {
	t.Parallel()

	dev := &audiomock.Device{
		CaptureFrames:   deviceFrames(1, 2, 3),
		KeepCaptureOpen: true,
	}
	sess := &vadmock.Session{EventResult: vad.Event{Type: vad.Silence}}
	rec := newRecorder(dev, sess)

	start := time.Now()
	_, err := rec.RecordUntilSilence(context.Background(), 50*time.Millisecond, time.Second)
	if !errors.Is(err, capture.ErrNoSpeech) {
		t.Fatalf("err = %v, want ErrNoSpeech", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("timeout took %v, expected ~50ms", elapsed)
	}
	if sess.ResetCallCount == 0 {
		t.Error("vad session was never reset")
	}
}

func TestRecordsUntilSpeechEnd(t *testing.T) {
	t.Parallel()

	dev := &audiomock.Device{CaptureFrames: deviceFrames(0xA0, 0xA1, 0xA2, 0xA3)}
	sess := &vadmock.Session{Events: []vad.Event{
		{Type: vad.Silence},
		{Type: vad.SpeechStart},
		{Type: vad.SpeechContinue},
		{Type: vad.SpeechEnd},
	}}
	rec := newRecorder(dev, sess)

	sample, err := rec.RecordUntilSilence(context.Background(), time.Second, 10*time.Second)
	if err != nil {
		t.Fatalf("RecordUntilSilence: %v", err)
	}

	// Preroll keeps the silence frame that preceded speech start.
	want := bytes.Join([][]byte{
		bytes.Repeat([]byte{0xA0}, frameBytes),
		bytes.Repeat([]byte{0xA1}, frameBytes),
		bytes.Repeat([]byte{0xA2}, frameBytes),
		bytes.Repeat([]byte{0xA3}, frameBytes),
	}, nil)
	if !bytes.Equal(sample.PCM, want) {
		t.Errorf("PCM mismatch: got %d bytes, want %d", len(sample.PCM), len(want))
	}
	if sample.SampleRate != testSampleRate || sample.Channels != 1 {
		t.Errorf("format = %d Hz / %d ch, want %d Hz / 1 ch", sample.SampleRate, sample.Channels, testSampleRate)
	}
	if got := sample.Duration(); got != 120*time.Millisecond {
		t.Errorf("Duration() = %v, want 120ms", got)
	}
}

func TestPhraseLengthCeiling(t *testing.T) {
	t.Parallel()

	dev := &audiomock.Device{
		CaptureFrames:   deviceFrames(1, 2, 3, 4, 5, 6, 7, 8),
		KeepCaptureOpen: true,
	}
	sess := &vadmock.Session{Events: []vad.Event{
		{Type: vad.SpeechStart},
		{Type: vad.SpeechContinue},
	}}
	rec := newRecorder(dev, sess)

	sample, err := rec.RecordUntilSilence(context.Background(), time.Second, 60*time.Millisecond)
	if err != nil {
		t.Fatalf("RecordUntilSilence: %v", err)
	}
	if got := len(sample.PCM); got != 2*frameBytes {
		t.Errorf("PCM = %d bytes, want hard cutoff at %d", got, 2*frameBytes)
	}
}

func TestStreamClosureKeepsPartialSpeech(t *testing.T) {
	t.Parallel()

	dev := &audiomock.Device{CaptureFrames: deviceFrames(1, 2)}
	sess := &vadmock.Session{Events: []vad.Event{
		{Type: vad.SpeechStart},
		{Type: vad.SpeechContinue},
	}}
	rec := newRecorder(dev, sess)

	sample, err := rec.RecordUntilSilence(context.Background(), time.Second, 10*time.Second)
	if err != nil {
		t.Fatalf("RecordUntilSilence: %v", err)
	}
	if got := len(sample.PCM); got != 2*frameBytes {
		t.Errorf("PCM = %d bytes, want %d", got, 2*frameBytes)
	}
}

func TestContextCancellation(t *testing.T) {
	t.Parallel()

	dev := &audiomock.Device{KeepCaptureOpen: true}
	rec := newRecorder(dev, &vadmock.Session{})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := rec.RecordUntilSilence(ctx, time.Minute, time.Minute)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestVADErrorMapsToNoSpeech(t *testing.T) {
	t.Parallel()

	dev := &audiomock.Device{CaptureFrames: deviceFrames(1)}
	sess := &vadmock.Session{ProcessFrameErr: errors.New("bad frame")}
	rec := newRecorder(dev, sess)

	_, err := rec.RecordUntilSilence(context.Background(), time.Second, time.Second)
	if !errors.Is(err, capture.ErrNoSpeech) {
		t.Fatalf("err = %v, want ErrNoSpeech", err)
	}
}
