package deepgram

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/harunnryd/rehearsal/pkg/speech"
)

func TestErrorCodeMapsCredentialFailures(t *testing.T) {
	cases := []struct {
		code, msg, want string
	}{
		{"INVALID_AUTH", "Invalid credentials.", speech.CodeNotAllowed},
		{"", "websocket: bad handshake 401", speech.CodeNotAllowed},
		{"NET-0001", "timeout", "net-0001"},
		{"", "", "deepgram-error"},
	}
	for _, tc := range cases {
		if got := errorCode(tc.code, tc.msg); got != tc.want {
			t.Fatalf("errorCode(%q, %q) = %q, want %q", tc.code, tc.msg, got, tc.want)
		}
	}
}

func TestConfigFromSettings(t *testing.T) {
	cfg, err := ConfigFromSettings(map[string]any{
		"api_key":              "dg",
		"interim":              false,
		"no_speech_timeout_ms": 5000,
	})
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	if cfg.APIKey != "dg" || cfg.Interim || !cfg.SmartFormat {
		t.Fatalf("unexpected config %+v", cfg)
	}
	if cfg.NoSpeechTimeout != 5*time.Second {
		t.Fatalf("unexpected no speech timeout %s", cfg.NoSpeechTimeout)
	}

	if _, err := ConfigFromSettings(map[string]any{"model": "nova-2"}); err == nil || !strings.Contains(err.Error(), "api_key") {
		t.Fatalf("expected missing api_key error, got %v", err)
	}
	if _, err := ConfigFromSettings(map[string]any{"api_key": "dg", "encoding": "opus"}); err == nil {
		t.Fatalf("expected encoding error")
	}
}

func TestProviderAvailability(t *testing.T) {
	if (Provider{}).Available() {
		t.Fatalf("provider without key must be unavailable")
	}
	p := Provider{Config: Config{APIKey: "dg"}}
	if !p.Available() {
		t.Fatalf("expected available")
	}
	if _, err := p.New(speech.DefaultOptions()); err == nil {
		t.Fatalf("expected error without audio")
	}
	engine, err := p.New(speech.Options{Language: "en-US", Interim: true, Audio: strings.NewReader("")})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if engine.Name() != "deepgram_streaming" {
		t.Fatalf("unexpected engine %s", engine.Name())
	}
	if err := engine.Stop(); err != nil {
		t.Fatalf("stop before start: %v", err)
	}
}

func attachTestRun(s *StreamingSTT) (*run, *io.PipeReader) {
	_, cancel := context.WithCancel(context.Background())
	pr, pw := io.Pipe()
	r := &run{cancel: cancel, pipeWriter: pw, heard: make(chan struct{})}
	s.mu.Lock()
	s.run = r
	s.mu.Unlock()
	s.readerOnce.Do(func() { go s.readAudio() })
	return r, pr
}

func readChunk(t *testing.T, pr *io.PipeReader) string {
	t.Helper()
	got := make(chan string, 1)
	go func() {
		buf := make([]byte, 64)
		n, _ := pr.Read(buf)
		got <- string(buf[:n])
	}()
	select {
	case s := <-got:
		return s
	case <-time.After(time.Second):
		t.Fatalf("no audio reached the stream")
		return ""
	}
}

func TestRestartedRunReceivesEveryChunk(t *testing.T) {
	mic, micW := io.Pipe()
	defer micW.Close()
	s := New(Config{APIKey: "dg"}, mic)

	first, firstStream := attachTestRun(s)
	go func() { _, _ = micW.Write([]byte("one")) }()
	if got := readChunk(t, firstStream); got != "one" {
		t.Fatalf("first run got %q", got)
	}
	s.finish(first)

	_, secondStream := attachTestRun(s)
	go func() { _, _ = micW.Write([]byte("two")) }()
	if got := readChunk(t, secondStream); got != "two" {
		t.Fatalf("restarted run got %q", got)
	}
}

func TestAudioEOFEndsRunAndBlocksRestart(t *testing.T) {
	mic, micW := io.Pipe()
	s := New(Config{APIKey: "dg"}, mic)
	_, stream := attachTestRun(s)
	go func() { _, _ = io.Copy(io.Discard, stream) }()
	_ = micW.Close()

	select {
	case ev := <-s.Events():
		if ev.Kind != speech.EventEnd {
			t.Fatalf("expected end event, got %s", ev.Kind)
		}
	case <-time.After(time.Second):
		t.Fatalf("run did not end on audio EOF")
	}
	if err := s.Start(context.Background()); err == nil || !strings.Contains(err.Error(), "audio source closed") {
		t.Fatalf("expected closed audio error, got %v", err)
	}
}
