package coach

import (
	"testing"

	"github.com/harunnryd/rehearsal/pkg/speech"
)

func TestDeepgramWithoutKeyFallsBackToMock(t *testing.T) {
	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	reg, err := DefaultProviderRegistry().BuildSpeechRegistry(cfg)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	p, ok := reg.Probe(cfg.Speech.Providers...)
	if !ok || p.Name() != "mock" {
		t.Fatalf("expected mock provider, got %v", p)
	}
}

func TestDeepgramWithKeyIsPreferred(t *testing.T) {
	cfg, _ := LoadConfig("")
	cfg.Speech.Settings = map[string]map[string]any{
		"deepgram": {"api_key": "dg-key", "encoding": "linear16"},
	}
	reg, err := DefaultProviderRegistry().BuildSpeechRegistry(cfg)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	p, ok := reg.Probe(cfg.Speech.Providers...)
	if !ok || p.Name() != "deepgram" {
		t.Fatalf("expected deepgram provider, got %v", p)
	}
}

func TestBuildSpeechRejectsBadSettings(t *testing.T) {
	cfg, _ := LoadConfig("")
	cfg.Speech.Settings = map[string]map[string]any{
		"deepgram": {"api_key": "dg-key", "encoding": "opus"},
	}
	if _, err := DefaultProviderRegistry().BuildSpeech("deepgram", cfg); err == nil {
		t.Fatalf("expected encoding error")
	}

	cfg.Speech.Settings = map[string]map[string]any{"mock": {"voice": "x"}}
	if _, err := DefaultProviderRegistry().BuildSpeech("mock", cfg); err == nil {
		t.Fatalf("expected unknown key error")
	}
}

func TestBuildSpeechUnknownProvider(t *testing.T) {
	cfg, _ := LoadConfig("")
	if _, err := DefaultProviderRegistry().BuildSpeech("whisper", cfg); err == nil {
		t.Fatalf("expected not registered error")
	}
}

func TestRegisterSpeechNormalizesName(t *testing.T) {
	r := NewProviderRegistry()
	called := false
	r.RegisterSpeech("  Custom ", func(Config, map[string]any) (speech.Provider, error) {
		called = true
		return nil, nil
	})
	if _, err := r.BuildSpeech("CUSTOM", Config{}); err != nil {
		t.Fatalf("build: %v", err)
	}
	if !called {
		t.Fatalf("factory not called")
	}
}
