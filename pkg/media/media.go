// Package media acquires the local camera and microphone for a presentation.
package media

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"

	"github.com/harunnryd/rehearsal/pkg/errorsx"
)

// Constraints selects which devices to open.
type Constraints struct {
	Audio bool
	Video bool
}

// Stream is an open set of local devices.
type Stream interface {
	// Audio returns the microphone PCM stream, or nil when audio was not requested.
	Audio() io.Reader
	SetAudioEnabled(enabled bool)
	AudioEnabled() bool
	// VideoDevice names the opened camera, empty when video was not requested.
	VideoDevice() string
	Close() error
}

// Acquirer opens local devices.
type Acquirer interface {
	Acquire(ctx context.Context, c Constraints) (Stream, error)
}

// ErrNoDevices is returned when neither audio nor video was requested.
var ErrNoDevices = errors.New("no media devices requested")

// DeviceStream wraps captured PCM and applies the mute switch. Muted reads keep
// their length and timing but carry silence.
type DeviceStream struct {
	audio   io.ReadCloser
	video   string
	enabled atomic.Bool

	closeOnce sync.Once
	closeErr  error
}

// NewDeviceStream builds a stream over audio (may be nil) and a camera name.
func NewDeviceStream(audio io.ReadCloser, videoDevice string) *DeviceStream {
	s := &DeviceStream{audio: audio, video: videoDevice}
	s.enabled.Store(true)
	return s
}

func (s *DeviceStream) Audio() io.Reader {
	if s.audio == nil {
		return nil
	}
	return gatedReader{s: s}
}

func (s *DeviceStream) SetAudioEnabled(enabled bool) { s.enabled.Store(enabled) }

func (s *DeviceStream) AudioEnabled() bool { return s.enabled.Load() }

func (s *DeviceStream) VideoDevice() string { return s.video }

func (s *DeviceStream) Close() error {
	s.closeOnce.Do(func() {
		if s.audio != nil {
			s.closeErr = s.audio.Close()
		}
	})
	return s.closeErr
}

type gatedReader struct {
	s *DeviceStream
}

func (g gatedReader) Read(p []byte) (int, error) {
	n, err := g.s.audio.Read(p)
	if n > 0 && !g.s.enabled.Load() {
		clear(p[:n])
	}
	return n, err
}

// StaticAcquirer hands out streams without touching hardware. Audio is nil, which
// suits engines that do not read raw PCM.
type StaticAcquirer struct {
	VideoDevice string
}

func (a StaticAcquirer) Acquire(_ context.Context, c Constraints) (Stream, error) {
	if !c.Audio && !c.Video {
		return nil, errorsx.Wrap(ErrNoDevices, errorsx.ReasonMediaUnavailable)
	}
	video := ""
	if c.Video {
		video = a.VideoDevice
		if video == "" {
			video = "virtual-camera"
		}
	}
	return NewDeviceStream(nil, video), nil
}
