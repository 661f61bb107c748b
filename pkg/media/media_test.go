package media

import (
	"context"
	"errors"
	"io"
	"os"
	"strings"
	"testing"

	"github.com/harunnryd/rehearsal/pkg/errorsx"
)

type closeCounter struct {
	io.Reader
	closed int
}

func (c *closeCounter) Close() error {
	c.closed++
	return nil
}

func TestDeviceStreamMuteSilencesAudio(t *testing.T) {
	src := &closeCounter{Reader: strings.NewReader("abcdef")}
	stream := NewDeviceStream(src, "cam")
	if !stream.AudioEnabled() {
		t.Fatalf("audio should start enabled")
	}

	buf := make([]byte, 3)
	if _, err := io.ReadFull(stream.Audio(), buf); err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(buf) != "abc" {
		t.Fatalf("unexpected audio %q", buf)
	}

	stream.SetAudioEnabled(false)
	if _, err := io.ReadFull(stream.Audio(), buf); err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(buf) != "\x00\x00\x00" {
		t.Fatalf("expected silence, got %q", buf)
	}

	_ = stream.Close()
	_ = stream.Close()
	if src.closed != 1 {
		t.Fatalf("expected one close, got %d", src.closed)
	}
	if stream.VideoDevice() != "cam" {
		t.Fatalf("unexpected video device %q", stream.VideoDevice())
	}
}

func TestStaticAcquirer(t *testing.T) {
	if _, err := (StaticAcquirer{}).Acquire(context.Background(), Constraints{}); !errorsx.HasReason(err, errorsx.ReasonMediaUnavailable) {
		t.Fatalf("expected media unavailable, got %v", err)
	}
	stream, err := StaticAcquirer{}.Acquire(context.Background(), Constraints{Audio: true, Video: true})
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if stream.Audio() != nil {
		t.Fatalf("static stream has no audio")
	}
	if stream.VideoDevice() != "virtual-camera" {
		t.Fatalf("unexpected video %q", stream.VideoDevice())
	}
	if err := stream.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestFFmpegAcquirerMissingBinary(t *testing.T) {
	a := NewFFmpegAcquirer(FFmpegConfig{VideoDevice: "/dev/video9"})
	a.lookPath = func(string) (string, error) { return "", errors.New("not found") }
	a.stat = func(string) (os.FileInfo, error) { return nil, nil }

	if a.Available() {
		t.Fatalf("expected unavailable")
	}
	_, err := a.Acquire(context.Background(), Constraints{Audio: true, Video: true})
	if !errorsx.HasReason(err, errorsx.ReasonMediaUnavailable) {
		t.Fatalf("expected media unavailable, got %v", err)
	}
}

func TestFFmpegAcquirerCameraChecks(t *testing.T) {
	a := NewFFmpegAcquirer(FFmpegConfig{VideoDevice: "/dev/video9"})
	a.stat = func(string) (os.FileInfo, error) { return nil, os.ErrPermission }
	_, err := a.Acquire(context.Background(), Constraints{Video: true})
	if !errorsx.HasReason(err, errorsx.ReasonPermissionDenied) {
		t.Fatalf("expected permission denied, got %v", err)
	}

	a.stat = func(string) (os.FileInfo, error) { return nil, os.ErrNotExist }
	_, err = a.Acquire(context.Background(), Constraints{Video: true})
	if !errorsx.HasReason(err, errorsx.ReasonMediaUnavailable) {
		t.Fatalf("expected media unavailable, got %v", err)
	}

	a.stat = func(string) (os.FileInfo, error) { return nil, nil }
	stream, err := a.Acquire(context.Background(), Constraints{Video: true})
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if stream.VideoDevice() != "/dev/video9" || stream.Audio() != nil {
		t.Fatalf("unexpected stream")
	}
}

func TestDeviceReasonFromStderr(t *testing.T) {
	if got := deviceReason(errors.New("exit 1"), "Permission denied while opening device"); got != errorsx.ReasonPermissionDenied {
		t.Fatalf("unexpected reason %s", got)
	}
	if got := deviceReason(errors.New("exit 1"), "no such device"); got != errorsx.ReasonMediaUnavailable {
		t.Fatalf("unexpected reason %s", got)
	}
}
