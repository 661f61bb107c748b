package coach

import (
	"fmt"
	"strings"
	"time"

	"github.com/harunnryd/rehearsal/pkg/configutil"
	"github.com/harunnryd/rehearsal/pkg/providers/deepgram"
	"github.com/harunnryd/rehearsal/pkg/providers/mock"
	"github.com/harunnryd/rehearsal/pkg/speech"
)

// SpeechFactory builds a speech provider from its settings block.
type SpeechFactory func(cfg Config, settings map[string]any) (speech.Provider, error)

type ProviderRegistry struct {
	speech map[string]SpeechFactory
}

func NewProviderRegistry() *ProviderRegistry {
	return &ProviderRegistry{speech: make(map[string]SpeechFactory)}
}

// DefaultProviderRegistry knows the deepgram and mock speech providers.
func DefaultProviderRegistry() *ProviderRegistry {
	r := NewProviderRegistry()
	r.RegisterSpeech("deepgram", deepgramFactory)
	r.RegisterSpeech("mock", mockFactory)
	return r
}

func (r *ProviderRegistry) RegisterSpeech(name string, factory SpeechFactory) {
	r.speech[strings.ToLower(strings.TrimSpace(name))] = factory
}

func (r *ProviderRegistry) BuildSpeech(provider string, cfg Config) (speech.Provider, error) {
	name := strings.ToLower(strings.TrimSpace(provider))
	fn := r.speech[name]
	if fn == nil {
		return nil, fmt.Errorf("speech provider not registered: %s", provider)
	}
	return fn(cfg, cfg.Speech.Settings[name])
}

// BuildSpeechRegistry builds every configured provider into a registry for probing.
func (r *ProviderRegistry) BuildSpeechRegistry(cfg Config) (*speech.Registry, error) {
	reg := speech.NewRegistry()
	for _, name := range cfg.Speech.Providers {
		p, err := r.BuildSpeech(name, cfg)
		if err != nil {
			return nil, fmt.Errorf("speech provider %s: %w", name, err)
		}
		reg.Register(p)
	}
	return reg, nil
}

// deepgramFactory leaves the provider unavailable rather than failing when no key is set,
// so a later provider in the probe order can take over.
func deepgramFactory(cfg Config, settings map[string]any) (speech.Provider, error) {
	if len(settings) == 0 || isBlank(settings["api_key"]) {
		return deepgram.Provider{}, nil
	}
	dg, err := deepgram.ConfigFromSettings(settings)
	if err != nil {
		return nil, err
	}
	if dg.SampleRate == 0 {
		dg.SampleRate = cfg.Media.SampleRate
	}
	return deepgram.Provider{Config: dg}, nil
}

type mockSettings struct {
	Segments    []string `mapstructure:"segments"`
	EmitInterim *bool    `mapstructure:"emit_interim"`
	IntervalMS  int      `mapstructure:"interval_ms"`
	ErrorCode   string   `mapstructure:"error_code"`
	EndAfter    int      `mapstructure:"end_after"`
}

var mockSchema = configutil.Schema{
	Optional: []string{"segments", "emit_interim", "interval_ms", "error_code", "end_after"},
}

var defaultMockSegments = []string{
	"Good morning everyone, ",
	"today I want to walk you through our plan for the next quarter ",
	"and the three bets we are making.",
}

func mockFactory(_ Config, settings map[string]any) (speech.Provider, error) {
	if err := configutil.ValidateSettings(settings, mockSchema); err != nil {
		return nil, err
	}
	var s mockSettings
	if err := configutil.DecodeSettings(settings, &s); err != nil {
		return nil, err
	}
	segments := s.Segments
	if len(segments) == 0 {
		segments = defaultMockSegments
	}
	return mock.Provider{Config: mock.STTConfig{
		Segments:    segments,
		EmitInterim: configutil.BoolValue(s.EmitInterim, false),
		Interval:    configutil.Millis(s.IntervalMS, 400*time.Millisecond),
		ErrorCode:   s.ErrorCode,
		EndAfter:    s.EndAfter,
	}}, nil
}

func isBlank(v any) bool {
	s, ok := v.(string)
	return !ok || strings.TrimSpace(s) == ""
}
