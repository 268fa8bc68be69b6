// Package portaudio implements [audio.Capturer] on top of the PortAudio
// library, capturing from a local input device such as a loopback or virtual
// meeting-audio device.
//
// PortAudio is initialised once per acquired track and terminated when the
// track is closed; PortAudio reference-counts nested Initialize/Terminate
// pairs, so several tracks may coexist.
package portaudio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"github.com/gordonklaus/portaudio"

	"github.com/MrWong99/meetcaption/pkg/audio"
)

// DefaultFramesPerBuffer is the callback block size used when none is
// configured.
const DefaultFramesPerBuffer = 1024

// Option is a functional option for [Capturer].
type Option func(*Capturer)

// WithFramesPerBuffer sets the number of frames delivered per callback.
func WithFramesPerBuffer(n int) Option {
	return func(c *Capturer) {
		if n > 0 {
			c.framesPerBuffer = n
		}
	}
}

// Capturer opens PortAudio input devices.
type Capturer struct {
	framesPerBuffer int
}

var _ audio.Capturer = (*Capturer)(nil)

// New creates a PortAudio capturer.
func New(opts ...Option) *Capturer {
	c := &Capturer{framesPerBuffer: DefaultFramesPerBuffer}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Acquire implements [audio.Capturer]. streamID selects the input device by
// exact name, by case-insensitive name substring, or by device index. An
// empty streamID selects the system default input.
func (c *Capturer) Acquire(ctx context.Context, streamID string) (audio.Track, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("portaudio: initialize: %w", err)
	}

	dev, err := findDevice(streamID)
	if err != nil {
		_ = portaudio.Terminate()
		return nil, err
	}

	channels := min(dev.MaxInputChannels, 2)
	slog.Debug("portaudio: acquired input device",
		"device", dev.Name,
		"sample_rate", dev.DefaultSampleRate,
		"channels", channels,
	)
	return &track{
		dev:             dev,
		format:          audio.Format{SampleRate: int(dev.DefaultSampleRate), Channels: channels},
		framesPerBuffer: c.framesPerBuffer,
	}, nil
}

func findDevice(streamID string) (*portaudio.DeviceInfo, error) {
	if streamID == "" {
		dev, err := portaudio.DefaultInputDevice()
		if err != nil {
			return nil, fmt.Errorf("portaudio: no default input device: %w", err)
		}
		return dev, nil
	}
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("portaudio: list devices: %w", err)
	}
	return selectDevice(devices, streamID)
}

// selectDevice picks the input-capable device matching streamID.
func selectDevice(devices []*portaudio.DeviceInfo, streamID string) (*portaudio.DeviceInfo, error) {
	var inputs []*portaudio.DeviceInfo
	for _, d := range devices {
		if d.MaxInputChannels > 0 {
			inputs = append(inputs, d)
		}
	}

	for _, d := range inputs {
		if d.Name == streamID {
			return d, nil
		}
	}
	if idx, err := strconv.Atoi(streamID); err == nil {
		if idx >= 0 && idx < len(devices) && devices[idx].MaxInputChannels > 0 {
			return devices[idx], nil
		}
		return nil, fmt.Errorf("portaudio: device index %d is not an input device", idx)
	}
	needle := strings.ToLower(streamID)
	for _, d := range inputs {
		if strings.Contains(strings.ToLower(d.Name), needle) {
			return d, nil
		}
	}
	return nil, fmt.Errorf("portaudio: no input device matches %q", streamID)
}

// track is an acquired PortAudio input device.
type track struct {
	dev             *portaudio.DeviceInfo
	format          audio.Format
	framesPerBuffer int

	mu         sync.Mutex
	stream     *portaudio.Stream
	stopOnce   sync.Once
	closeOnce  sync.Once
	terminated bool
}

func (t *track) Format() audio.Format { return t.format }

// Start opens and starts the stream. With monitor enabled a duplex stream is
// opened against the default output so the captured audio stays audible.
// If no usable output exists the track captures without monitoring.
func (t *track) Start(tap func(samples []float32), monitor bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.terminated {
		return errors.New("portaudio: start on closed track")
	}
	if t.stream != nil {
		return errors.New("portaudio: track already started")
	}

	params := portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   t.dev,
			Channels: t.format.Channels,
			Latency:  t.dev.DefaultLowInputLatency,
		},
		SampleRate:      float64(t.format.SampleRate),
		FramesPerBuffer: t.framesPerBuffer,
	}

	var callback any = func(in []float32) {
		if len(in) > 0 {
			tap(in)
		}
	}
	if monitor {
		out, err := portaudio.DefaultOutputDevice()
		if err == nil && out.MaxOutputChannels >= t.format.Channels {
			params.Output = portaudio.StreamDeviceParameters{
				Device:   out,
				Channels: t.format.Channels,
				Latency:  out.DefaultLowOutputLatency,
			}
			callback = func(in, out []float32) {
				copy(out, in)
				if len(in) > 0 {
					tap(in)
				}
			}
		} else {
			slog.Warn("portaudio: monitor output unavailable, capturing without playback", "device", t.dev.Name)
		}
	}

	stream, err := portaudio.OpenStream(params, callback)
	if err != nil {
		return fmt.Errorf("portaudio: open stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		return fmt.Errorf("portaudio: start stream: %w", err)
	}
	t.stream = stream
	return nil
}

func (t *track) Stop() error {
	t.mu.Lock()
	stream := t.stream
	t.mu.Unlock()
	if stream == nil {
		return nil
	}
	var err error
	t.stopOnce.Do(func() {
		if e := stream.Stop(); e != nil {
			err = fmt.Errorf("portaudio: stop stream: %w", e)
		}
	})
	return err
}

func (t *track) Close() error {
	var errs []error
	t.closeOnce.Do(func() {
		t.mu.Lock()
		stream := t.stream
		t.terminated = true
		t.mu.Unlock()

		if stream != nil {
			if err := stream.Close(); err != nil {
				errs = append(errs, fmt.Errorf("portaudio: close stream: %w", err))
			}
		}
		if err := portaudio.Terminate(); err != nil {
			errs = append(errs, fmt.Errorf("portaudio: terminate: %w", err))
		}
	})
	return errors.Join(errs...)
}
