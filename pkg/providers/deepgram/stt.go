package deepgram

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/harunnryd/rehearsal/pkg/logging"
	"github.com/harunnryd/rehearsal/pkg/speech"

	msginterfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket/interfaces"
	interfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/interfaces"
	client "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/listen"
)

type Config struct {
	APIKey          string
	Model           string
	Language        string
	SampleRate      int
	Encoding        string
	Interim         bool
	SmartFormat     bool
	UtteranceEndMS  int
	NoSpeechTimeout time.Duration
	ChunkSize       int
	StreamID        string
}

func (c Config) withDefaults() Config {
	if c.Model == "" {
		c.Model = "nova-2"
	}
	if c.Language == "" {
		c.Language = "en-US"
	}
	if c.SampleRate == 0 {
		c.SampleRate = 16000
	}
	if c.Encoding == "" {
		c.Encoding = "linear16"
	}
	if c.NoSpeechTimeout <= 0 {
		c.NoSpeechTimeout = 8 * time.Second
	}
	if c.ChunkSize < 256 {
		c.ChunkSize = 4096
	}
	return c
}

// StreamingSTT is a speech engine backed by Deepgram live transcription.
// Each Start opens a new websocket; the event channel is shared across runs.
type StreamingSTT struct {
	cfg    Config
	audio  io.Reader
	out    chan speech.Event
	logger *slog.Logger

	mu       sync.Mutex
	run      *run
	audioErr error
	// One reader owns the audio source for the engine's lifetime and feeds whichever run is current.
	readerOnce sync.Once
}

type run struct {
	cancel     context.CancelFunc
	dgClient   *client.WSCallback
	pipeWriter *io.PipeWriter
	endOnce    sync.Once
	heard      chan struct{}
	heardOnce  sync.Once
}

func New(cfg Config, audio io.Reader) *StreamingSTT {
	cfg = cfg.withDefaults()
	return &StreamingSTT{
		cfg:    cfg,
		audio:  audio,
		out:    make(chan speech.Event, 256),
		logger: logging.NewComponentLogger(slog.Default(), "deepgram_stt"),
	}
}

func (s *StreamingSTT) Name() string { return "deepgram_streaming" }

func (s *StreamingSTT) Events() <-chan speech.Event { return s.out }

func (s *StreamingSTT) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.run != nil {
		return errors.New("deepgram stream already running")
	}
	if s.audio == nil {
		return errors.New("no audio source")
	}
	if s.audioErr != nil {
		return fmt.Errorf("audio source closed: %w", s.audioErr)
	}

	runCtx, cancel := context.WithCancel(ctx)
	pipeReader, pipeWriter := io.Pipe()
	r := &run{cancel: cancel, pipeWriter: pipeWriter, heard: make(chan struct{})}

	clientOptions := &interfaces.ClientOptions{
		EnableKeepAlive: true,
	}
	transcriptOptions := &interfaces.LiveTranscriptionOptions{
		Model:          s.cfg.Model,
		Language:       s.cfg.Language,
		Encoding:       s.cfg.Encoding,
		SampleRate:     s.cfg.SampleRate,
		Channels:       1,
		InterimResults: s.cfg.Interim,
		SmartFormat:    s.cfg.SmartFormat,
		Punctuate:      true,
	}
	if s.cfg.UtteranceEndMS > 0 {
		transcriptOptions.UtteranceEndMs = fmt.Sprintf("%d", s.cfg.UtteranceEndMS)
	}

	s.logger.Info("initializing deepgram connection",
		slog.String("stream_id", s.cfg.StreamID),
		slog.String("model", s.cfg.Model),
		slog.String("language", s.cfg.Language),
		slog.Int("sample_rate", s.cfg.SampleRate))

	cb := &callback{parent: s, run: r}
	dgClient, err := client.NewWSUsingCallback(runCtx, s.cfg.APIKey, clientOptions, transcriptOptions, cb)
	if err != nil {
		cancel()
		s.logger.Error("deepgram_client_create_error", slog.String("error", err.Error()))
		return err
	}
	if connected := dgClient.Connect(); !connected {
		cancel()
		s.logger.Error("deepgram_connect_failed", slog.String("stream_id", s.cfg.StreamID))
		return fmt.Errorf("deepgram connection failed")
	}
	r.dgClient = dgClient
	s.run = r

	go func() {
		if err := dgClient.Stream(pipeReader); err != nil && runCtx.Err() == nil {
			s.logger.Error("deepgram_stream_error", slog.String("error", err.Error()))
			s.send(speech.Event{Kind: speech.EventError, Code: speech.CodeNetwork, Detail: err.Error()})
			s.finish(r)
		}
	}()
	s.readerOnce.Do(func() { go s.readAudio() })
	go s.watchSilence(runCtx, r)

	s.logger.Info("deepgram_connected", slog.String("stream_id", s.cfg.StreamID))
	return nil
}

func (s *StreamingSTT) Stop() error {
	s.mu.Lock()
	r := s.run
	s.mu.Unlock()
	if r == nil {
		return nil
	}
	s.logger.Info("closing deepgram connection", slog.String("stream_id", s.cfg.StreamID))
	s.finish(r)
	return nil
}

// finish tears a run down and emits its single End event.
func (s *StreamingSTT) finish(r *run) {
	r.endOnce.Do(func() {
		r.cancel()
		_ = r.pipeWriter.Close()
		if r.dgClient != nil {
			r.dgClient.Stop()
		}
		s.mu.Lock()
		if s.run == r {
			s.run = nil
		}
		s.mu.Unlock()
		s.send(speech.Event{Kind: speech.EventEnd})
	})
}

// readAudio copies microphone PCM into the current run's stream in fixed-size chunks. Chunks read
// while no run is active are dropped.
func (s *StreamingSTT) readAudio() {
	buf := make([]byte, s.cfg.ChunkSize)
	for {
		n, err := s.audio.Read(buf)
		if n > 0 {
			s.deliver(buf[:n])
		}
		if err != nil {
			s.mu.Lock()
			s.audioErr = err
			r := s.run
			s.mu.Unlock()
			if r == nil {
				return
			}
			if !errors.Is(err, io.EOF) {
				s.logger.Error("audio_read_error", slog.String("error", err.Error()))
				s.send(speech.Event{Kind: speech.EventError, Code: "audio-capture", Detail: err.Error()})
			}
			s.finish(r)
			return
		}
	}
}

// deliver writes chunk to the current run, following a restart that replaced the run mid-write.
func (s *StreamingSTT) deliver(chunk []byte) {
	var last *run
	for {
		s.mu.Lock()
		r := s.run
		s.mu.Unlock()
		if r == nil || r == last {
			return
		}
		if _, err := r.pipeWriter.Write(chunk); err == nil {
			return
		}
		last = r
	}
}

// watchSilence reports no-speech once when nothing is transcribed within the timeout.
func (s *StreamingSTT) watchSilence(ctx context.Context, r *run) {
	timer := time.NewTimer(s.cfg.NoSpeechTimeout)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-r.heard:
	case <-timer.C:
		s.send(speech.Event{Kind: speech.EventError, Code: speech.CodeNoSpeech})
	}
}

func (s *StreamingSTT) send(ev speech.Event) {
	select {
	case s.out <- ev:
	default:
		s.logger.Warn("deepgram_out_channel_full", slog.String("event", ev.Kind.String()))
	}
}

// --- Callback Implementation ---

type callback struct {
	parent *StreamingSTT
	run    *run
}

func (c *callback) Open(or *msginterfaces.OpenResponse) error {
	c.parent.logger.Info("deepgram_connection_opened",
		slog.String("stream_id", c.parent.cfg.StreamID))
	return nil
}

func (c *callback) Message(mr *msginterfaces.MessageResponse) error {
	if len(mr.Channel.Alternatives) == 0 {
		return nil
	}
	text := strings.TrimSpace(mr.Channel.Alternatives[0].Transcript)
	if text == "" {
		return nil
	}
	c.run.heardOnce.Do(func() { close(c.run.heard) })

	isFinal := mr.IsFinal
	c.parent.logger.Debug("transcript_received",
		slog.String("stream_id", c.parent.cfg.StreamID),
		slog.Int("chars", len(text)),
		slog.Bool("is_final", isFinal))

	c.parent.send(speech.Event{
		Kind:     speech.EventResult,
		Segments: []speech.Segment{{Text: text, Final: isFinal}},
	})
	return nil
}

func (c *callback) Metadata(md *msginterfaces.MetadataResponse) error {
	c.parent.logger.Info("deepgram_metadata_received",
		slog.String("stream_id", c.parent.cfg.StreamID),
		slog.String("request_id", md.RequestID))
	return nil
}

func (c *callback) SpeechStarted(ssr *msginterfaces.SpeechStartedResponse) error {
	return nil
}

func (c *callback) UtteranceEnd(ur *msginterfaces.UtteranceEndResponse) error {
	return nil
}

func (c *callback) Close(cr *msginterfaces.CloseResponse) error {
	c.parent.logger.Info("deepgram_connection_closed",
		slog.String("stream_id", c.parent.cfg.StreamID))
	go c.parent.finish(c.run)
	return nil
}

func (c *callback) Error(er *msginterfaces.ErrorResponse) error {
	c.parent.logger.Error("deepgram_error",
		slog.String("stream_id", c.parent.cfg.StreamID),
		slog.String("error_code", er.ErrCode),
		slog.String("error_message", er.ErrMsg))
	c.parent.send(speech.Event{Kind: speech.EventError, Code: errorCode(er.ErrCode, er.ErrMsg), Detail: er.ErrMsg})
	return nil
}

func (c *callback) UnhandledEvent(byData []byte) error {
	c.parent.logger.Debug("deepgram_unhandled_event",
		slog.String("stream_id", c.parent.cfg.StreamID),
		slog.Int("bytes", len(byData)))
	return nil
}

// errorCode maps Deepgram failures onto engine error codes; credential problems count as not-allowed.
func errorCode(code, msg string) string {
	joined := strings.ToLower(code + " " + msg)
	for _, marker := range []string{"401", "403", "auth", "unauthorized", "forbidden", "credentials"} {
		if strings.Contains(joined, marker) {
			return speech.CodeNotAllowed
		}
	}
	if strings.TrimSpace(code) == "" {
		return "deepgram-error"
	}
	return strings.ToLower(code)
}

var _ speech.Engine = (*StreamingSTT)(nil)
