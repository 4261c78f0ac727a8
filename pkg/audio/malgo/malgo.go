// Package malgo provides an [audio.Device] backed by miniaudio via the
// github.com/gen2brain/malgo bindings. It drives the default system
// microphone and speaker with 16-bit signed little-endian PCM.
//
// Usage:
//
//	dev, err := malgo.New(malgo.WithSampleRate(16000))
//	frames, err := dev.Capture(ctx)
//	err = dev.Play(ctx, wavData, 16000, 1)
//	dev.Close()
package malgo

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	ma "github.com/gen2brain/malgo"

	"github.com/SuperGokou/kidsBot/pkg/audio"
)

const (
	defaultSampleRate = 16000
	defaultChannels   = 1

	// frameChanBuffer sizes the capture channel. At ~30 ms per frame this
	// buffers roughly two seconds of audio before the producer drops frames.
	frameChanBuffer = 64
)

// Compile-time assertion that Device implements audio.Device.
var _ audio.Device = (*Device)(nil)

// Option is a functional option for configuring a Device.
type Option func(*Device)

// WithSampleRate sets the capture sample rate in Hz. Defaults to 16000.
func WithSampleRate(rate int) Option {
	return func(d *Device) {
		d.sampleRate = rate
	}
}

// WithChannels sets the capture channel count. Defaults to 1 (mono).
func WithChannels(ch int) Option {
	return func(d *Device) {
		d.channels = ch
	}
}

// Device implements audio.Device on top of miniaudio. One capture stream may
// be open at a time; Play may be called concurrently with capture (duplex).
type Device struct {
	allocCtx   *ma.AllocatedContext
	sampleRate int
	channels   int

	mu        sync.Mutex
	capturing bool
	closed    bool
}

// New initialises the miniaudio context and returns a ready Device.
// Returns an error if no audio backend can be initialised; callers should
// treat that as "audio unavailable" and degrade rather than abort.
func New(opts ...Option) (*Device, error) {
	allocCtx, err := ma.InitContext(nil, ma.ContextConfig{}, func(message string) {})
	if err != nil {
		return nil, fmt.Errorf("malgo: init context: %w", err)
	}

	d := &Device{
		allocCtx:   allocCtx,
		sampleRate: defaultSampleRate,
		channels:   defaultChannels,
	}
	for _, o := range opts {
		o(d)
	}
	return d, nil
}

// Capture implements audio.Device. It opens the default capture device and
// streams PCM frames until ctx is cancelled. Frames that cannot be delivered
// because the consumer is slow are dropped rather than blocking the audio
// callback thread.
func (d *Device) Capture(ctx context.Context) (<-chan audio.Frame, error) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil, errors.New("malgo: device is closed")
	}
	if d.capturing {
		d.mu.Unlock()
		return nil, errors.New("malgo: capture already in progress")
	}
	d.capturing = true
	d.mu.Unlock()

	cfg := ma.DefaultDeviceConfig(ma.Capture)
	cfg.Capture.Format = ma.FormatS16
	cfg.Capture.Channels = uint32(d.channels)
	cfg.SampleRate = uint32(d.sampleRate)
	cfg.Alsa.NoMMap = 1

	frames := make(chan audio.Frame, frameChanBuffer)
	bytesPerSec := d.sampleRate * d.channels * 2
	var captured int64

	onRecv := func(_, input []byte, _ uint32) {
		data := make([]byte, len(input))
		copy(data, input)
		ts := time.Duration(captured) * time.Second / time.Duration(bytesPerSec)
		captured += int64(len(input))
		select {
		case frames <- audio.Frame{
			Data:       data,
			SampleRate: d.sampleRate,
			Channels:   d.channels,
			Timestamp:  ts,
		}:
		default:
			// Consumer fell behind; drop the frame.
		}
	}

	dev, err := ma.InitDevice(d.allocCtx.Context, cfg, ma.DeviceCallbacks{Data: onRecv})
	if err != nil {
		d.endCapture()
		return nil, fmt.Errorf("malgo: init capture device: %w", err)
	}
	if err := dev.Start(); err != nil {
		dev.Uninit()
		d.endCapture()
		return nil, fmt.Errorf("malgo: start capture: %w", err)
	}

	go func() {
		<-ctx.Done()
		dev.Uninit()
		close(frames)
		d.endCapture()
	}()

	return frames, nil
}

// endCapture clears the capturing flag.
func (d *Device) endCapture() {
	d.mu.Lock()
	d.capturing = false
	d.mu.Unlock()
}

// Play implements audio.Device. It opens a playback device in the clip's
// format, feeds the PCM through the miniaudio callback, and blocks until the
// clip is fully rendered or ctx is cancelled.
func (d *Device) Play(ctx context.Context, pcm []byte, sampleRate, channels int) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return errors.New("malgo: device is closed")
	}
	d.mu.Unlock()

	if len(pcm) == 0 {
		return nil
	}
	if sampleRate <= 0 || channels <= 0 {
		return fmt.Errorf("malgo: invalid playback format %d Hz / %d ch", sampleRate, channels)
	}

	cfg := ma.DefaultDeviceConfig(ma.Playback)
	cfg.Playback.Format = ma.FormatS16
	cfg.Playback.Channels = uint32(channels)
	cfg.SampleRate = uint32(sampleRate)
	cfg.Alsa.NoMMap = 1

	var (
		offset int
		once   sync.Once
	)
	done := make(chan struct{})

	onSend := func(output, _ []byte, _ uint32) {
		n := copy(output, pcm[offset:])
		offset += n
		// Zero-fill the tail of the last callback buffer.
		for i := n; i < len(output); i++ {
			output[i] = 0
		}
		if offset >= len(pcm) {
			once.Do(func() { close(done) })
		}
	}

	dev, err := ma.InitDevice(d.allocCtx.Context, cfg, ma.DeviceCallbacks{Data: onSend})
	if err != nil {
		return fmt.Errorf("malgo: init playback device: %w", err)
	}
	defer dev.Uninit()

	if err := dev.Start(); err != nil {
		return fmt.Errorf("malgo: start playback: %w", err)
	}

	select {
	case <-done:
		// Give the backend a moment to flush the final buffer.
		tail := time.Duration(len(pcm)%(sampleRate*channels*2)) * time.Second /
			time.Duration(sampleRate*channels*2)
		if tail > 0 {
			select {
			case <-time.After(tail):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close implements audio.Device by tearing down the miniaudio context.
// Safe to call more than once.
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	if err := d.allocCtx.Uninit(); err != nil {
		return fmt.Errorf("malgo: uninit context: %w", err)
	}
	d.allocCtx.Free()
	return nil
}
