// Package mock provides a test double for the audio.Device interface.
//
// Use Device in unit tests to feed scripted capture frames into the recorder
// and to verify playback calls without real hardware.
//
// Example:
//
//	dev := &mock.Device{CaptureFrames: frames}
//	ch, _ := dev.Capture(ctx)
package mock

import (
	"context"
	"sync"

	"github.com/SuperGokou/kidsBot/pkg/audio"
)

// PlayCall records a single invocation of Play.
type PlayCall struct {
	// PCM is the audio data passed to Play.
	PCM []byte
	// SampleRate and Channels describe the clip format.
	SampleRate int
	Channels   int
}

// Device is a mock implementation of audio.Device.
// Zero values cause methods to succeed with no data. Set Err fields to
// inject errors.
type Device struct {
	mu sync.Mutex

	// --- Configurable behaviour ---

	// CaptureFrames is the sequence of frames emitted by the channel returned
	// from Capture. The channel closes after the last frame unless
	// KeepCaptureOpen is set, in which case it stays open until ctx ends.
	CaptureFrames []audio.Frame

	// KeepCaptureOpen, when true, leaves the capture channel open (silent)
	// after all scripted frames are delivered, simulating an idle microphone.
	KeepCaptureOpen bool

	// CaptureErr, if non-nil, is returned by Capture instead of a channel.
	CaptureErr error

	// PlayErr, if non-nil, is returned by every Play call.
	PlayErr error

	// PlayFn, if non-nil, is invoked by Play after recording the call and its
	// return value is used. Useful for tests that need to block playback.
	PlayFn func(ctx context.Context, pcm []byte, sampleRate, channels int) error

	// --- Call records (read after test) ---

	// PlayCalls records every invocation of Play in order.
	PlayCalls []PlayCall

	// CloseCallCount is the number of times Close was called.
	CloseCallCount int
}

// Compile-time assertion that Device implements audio.Device.
var _ audio.Device = (*Device)(nil)

// Capture returns a channel fed with CaptureFrames. Frames are delivered as
// fast as the consumer reads them; ctx cancellation stops delivery.
func (d *Device) Capture(ctx context.Context) (<-chan audio.Frame, error) {
	d.mu.Lock()
	if d.CaptureErr != nil {
		err := d.CaptureErr
		d.mu.Unlock()
		return nil, err
	}
	frames := make([]audio.Frame, len(d.CaptureFrames))
	copy(frames, d.CaptureFrames)
	keepOpen := d.KeepCaptureOpen
	d.mu.Unlock()

	ch := make(chan audio.Frame, len(frames))
	go func() {
		for _, f := range frames {
			select {
			case <-ctx.Done():
				close(ch)
				return
			case ch <- f:
			}
		}
		if !keepOpen {
			close(ch)
			return
		}
		<-ctx.Done()
		close(ch)
	}()
	return ch, nil
}

// Play records the call and returns PlayErr (or runs PlayFn when set).
func (d *Device) Play(ctx context.Context, pcm []byte, sampleRate, channels int) error {
	d.mu.Lock()
	data := make([]byte, len(pcm))
	copy(data, pcm)
	d.PlayCalls = append(d.PlayCalls, PlayCall{PCM: data, SampleRate: sampleRate, Channels: channels})
	err := d.PlayErr
	fn := d.PlayFn
	d.mu.Unlock()

	if fn != nil {
		return fn(ctx, pcm, sampleRate, channels)
	}
	if err != nil {
		return err
	}
	return ctx.Err()
}

// Close records the call and returns nil.
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.CloseCallCount++
	return nil
}

// Reset clears all recorded calls. Thread-safe.
func (d *Device) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.PlayCalls = nil
	d.CloseCallCount = 0
}
