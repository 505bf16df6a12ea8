package audio

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gen2brain/malgo"
)

// Capture format for amplitude sampling. Mono S16 is enough for a loudness
// statistic; the content itself is never processed.
const (
	// SampleRate is the capture sample rate in Hz.
	SampleRate = 44100
	// Channels is the capture channel count.
	Channels = 1
	// BytesPerSecond is the PCM data rate of the capture format.
	BytesPerSecond = SampleRate * Channels * 2
)

// Sampler opens capture streams on a device and reports per-buffer RMS.
// The capture callback runs on the backend's audio thread and must never
// touch anything beyond the accumulator handed to it.
type Sampler struct {
	ctx *Context

	mu   sync.Mutex
	sink func(pcm []byte)
}

// NewSampler returns a Sampler backed by the shared audio context.
func NewSampler(ctx *Context) *Sampler {
	return &Sampler{ctx: ctx}
}

// SetSink installs a raw PCM tap that receives every capture buffer from
// every stream this sampler opens. Used for incident audio capture. The sink
// runs on the audio callback and must copy, not retain, the slice.
func (s *Sampler) SetSink(sink func(pcm []byte)) {
	s.mu.Lock()
	s.sink = sink
	s.mu.Unlock()
}

func (s *Sampler) feedSink(pcm []byte) {
	s.mu.Lock()
	sink := s.sink
	s.mu.Unlock()
	if sink != nil {
		sink(pcm)
	}
}

func captureConfig(dev Device) malgo.DeviceConfig {
	cfg := malgo.DefaultDeviceConfig(malgo.Capture)
	cfg.Capture.Format = malgo.FormatS16
	cfg.Capture.Channels = Channels
	cfg.SampleRate = SampleRate
	cfg.Alsa.NoMMap = 1
	cfg.Capture.DeviceID = dev.raw.Pointer()
	return cfg
}

// Stream is a running capture tap. Close is idempotent.
type Stream struct {
	mu     sync.Mutex
	device *malgo.Device
	closed bool
}

// Close stops the capture tap and releases the device.
func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	_ = s.device.Stop()
	s.device.Uninit()
	return nil
}

// Open starts a capture stream on dev. onBuffer receives the normalized RMS
// of every capture buffer until the stream is closed; it is invoked from the
// audio callback and must be fast and allocation-free.
func (s *Sampler) Open(dev Device, onBuffer func(rms float64)) (*Stream, error) {
	stream := &Stream{}

	callbacks := malgo.DeviceCallbacks{
		Data: func(_, inputSamples []byte, _ uint32) {
			onBuffer(BufferRMS(inputSamples))
			s.feedSink(inputSamples)
		},
	}

	device, err := malgo.InitDevice(s.ctx.ctx.Context, captureConfig(dev), callbacks)
	if err != nil {
		return nil, fmt.Errorf("failed to open capture tap on %q: %w", dev.Name, err)
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		return nil, fmt.Errorf("failed to start capture tap on %q: %w", dev.Name, err)
	}

	stream.device = device
	return stream, nil
}

// Probe samples dev for the given duration and reports whether any buffer's
// RMS exceeded threshold. A capture that cannot be opened counts as an error,
// not as silence.
func (s *Sampler) Probe(ctx context.Context, dev Device, duration time.Duration, threshold float64) (bool, error) {
	var hadSignal atomic.Bool

	stream, err := s.Open(dev, func(rms float64) {
		if rms > threshold {
			hadSignal.Store(true)
		}
	})
	if err != nil {
		return false, err
	}
	defer func() { _ = stream.Close() }()

	select {
	case <-time.After(duration):
	case <-ctx.Done():
		return false, ctx.Err()
	}

	return hadSignal.Load(), nil
}
