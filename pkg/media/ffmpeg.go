package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/harunnryd/rehearsal/pkg/errorsx"
)

// FFmpegConfig configures microphone capture through an ffmpeg subprocess.
type FFmpegConfig struct {
	Command     string
	InputFormat string
	InputDevice string
	// VideoDevice is checked for existence when video is requested.
	VideoDevice  string
	SampleRate   int
	Channels     int
	StartupGrace time.Duration
}

// FFmpegAcquirer streams s16le PCM from the default microphone.
type FFmpegAcquirer struct {
	cfg      FFmpegConfig
	lookPath func(string) (string, error)
	stat     func(string) (os.FileInfo, error)
}

func NewFFmpegAcquirer(cfg FFmpegConfig) *FFmpegAcquirer {
	if cfg.Command == "" {
		cfg.Command = "ffmpeg"
	}
	if cfg.InputFormat == "" {
		cfg.InputFormat = defaultInputFormat()
	}
	if cfg.InputDevice == "" {
		cfg.InputDevice = "default"
	}
	if cfg.VideoDevice == "" && runtime.GOOS == "linux" {
		cfg.VideoDevice = "/dev/video0"
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 16000
	}
	if cfg.Channels <= 0 {
		cfg.Channels = 1
	}
	if cfg.StartupGrace <= 0 {
		cfg.StartupGrace = 250 * time.Millisecond
	}
	return &FFmpegAcquirer{cfg: cfg, lookPath: exec.LookPath, stat: os.Stat}
}

func defaultInputFormat() string {
	switch runtime.GOOS {
	case "darwin":
		return "avfoundation"
	case "windows":
		return "dshow"
	default:
		return "pulse"
	}
}

// Available reports whether the ffmpeg binary can be found.
func (a *FFmpegAcquirer) Available() bool {
	_, err := a.lookPath(a.cfg.Command)
	return err == nil
}

func (a *FFmpegAcquirer) Acquire(ctx context.Context, c Constraints) (Stream, error) {
	if !c.Audio && !c.Video {
		return nil, errorsx.Wrap(ErrNoDevices, errorsx.ReasonMediaUnavailable)
	}
	video := ""
	if c.Video {
		if a.cfg.VideoDevice == "" {
			return nil, errorsx.New(errorsx.ReasonMediaUnavailable, "no camera configured")
		}
		if _, err := a.stat(a.cfg.VideoDevice); err != nil {
			return nil, errorsx.Wrap(fmt.Errorf("camera %s: %w", a.cfg.VideoDevice, err), deviceReason(err, ""))
		}
		video = a.cfg.VideoDevice
	}
	if !c.Audio {
		return NewDeviceStream(nil, video), nil
	}
	if !a.Available() {
		return nil, errorsx.New(errorsx.ReasonMediaUnavailable, a.cfg.Command+" not found in PATH")
	}
	audio, err := a.startCapture(ctx)
	if err != nil {
		return nil, err
	}
	return NewDeviceStream(audio, video), nil
}

func (a *FFmpegAcquirer) startCapture(ctx context.Context) (io.ReadCloser, error) {
	args := []string{
		"-nostdin",
		"-hide_banner",
		"-loglevel", "warning",
		"-f", a.cfg.InputFormat,
		"-i", a.cfg.InputDevice,
		"-ac", strconv.Itoa(a.cfg.Channels),
		"-ar", strconv.Itoa(a.cfg.SampleRate),
		"-f", "s16le",
		"-",
	}
	// The capture outlives the acquiring request; Close ends it.
	cmd := exec.CommandContext(context.WithoutCancel(ctx), a.cfg.Command, args...)
	stderr := &syncBuffer{}
	cmd.Stderr = stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, errorsx.Wrap(fmt.Errorf("ffmpeg stdout pipe: %w", err), errorsx.ReasonMediaUnavailable)
	}
	if err := cmd.Start(); err != nil {
		return nil, errorsx.Wrap(fmt.Errorf("start ffmpeg: %w", err), errorsx.ReasonMediaUnavailable)
	}

	waitErr := make(chan error, 1)
	go func() {
		waitErr <- cmd.Wait()
		close(waitErr)
	}()

	select {
	case err := <-waitErr:
		msg := strings.TrimSpace(stderr.String())
		if err == nil {
			err = errors.New("ffmpeg exited before capture started")
		}
		return nil, errorsx.Wrap(fmt.Errorf("%w: %s", err, msg), deviceReason(err, msg))
	case <-ctx.Done():
		_ = cmd.Process.Kill()
		<-waitErr
		return nil, ctx.Err()
	case <-time.After(a.cfg.StartupGrace):
	}

	return &ffmpegCapture{stdout: stdout, stderr: stderr, process: cmd.Process, waitErr: waitErr}, nil
}

func deviceReason(err error, stderr string) errorsx.ReasonCode {
	if errors.Is(err, os.ErrPermission) {
		return errorsx.ReasonPermissionDenied
	}
	lower := strings.ToLower(stderr)
	if strings.Contains(lower, "permission denied") || strings.Contains(lower, "not permitted") {
		return errorsx.ReasonPermissionDenied
	}
	return errorsx.ReasonMediaUnavailable
}

type ffmpegCapture struct {
	stdout  io.ReadCloser
	stderr  *syncBuffer
	process *os.Process
	waitErr <-chan error

	stopOnce sync.Once
	stopErr  error
}

func (c *ffmpegCapture) Read(p []byte) (int, error) {
	return c.stdout.Read(p)
}

func (c *ffmpegCapture) Close() error {
	c.stopOnce.Do(func() {
		_ = c.process.Signal(os.Interrupt)
		select {
		case err, ok := <-c.waitErr:
			if ok {
				c.stopErr = normalizeExit(err)
			}
		case <-time.After(1200 * time.Millisecond):
			_ = c.process.Kill()
			if err, ok := <-c.waitErr; ok {
				c.stopErr = normalizeExit(err)
			}
		}
		if err := c.stdout.Close(); err != nil && !errors.Is(err, os.ErrClosed) && c.stopErr == nil {
			c.stopErr = err
		}
		if c.stopErr != nil {
			if msg := strings.TrimSpace(c.stderr.String()); msg != "" {
				c.stopErr = fmt.Errorf("%w: %s", c.stopErr, msg)
			}
		}
	})
	return c.stopErr
}

func normalizeExit(err error) error {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return nil
	}
	return err
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
