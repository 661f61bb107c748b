package deepgram

import (
	"errors"
	"strings"
	"time"

	"github.com/harunnryd/rehearsal/pkg/configutil"
	"github.com/harunnryd/rehearsal/pkg/speech"
)

// Settings is the provider settings block under speech.settings.deepgram.
type Settings struct {
	APIKey          string `mapstructure:"api_key"`
	Model           string `mapstructure:"model"`
	Language        string `mapstructure:"language"`
	SampleRate      int    `mapstructure:"sample_rate"`
	Encoding        string `mapstructure:"encoding"`
	Interim         *bool  `mapstructure:"interim"`
	SmartFormat     *bool  `mapstructure:"smart_format"`
	UtteranceEndMS  int    `mapstructure:"utterance_end_ms"`
	NoSpeechTimeout int    `mapstructure:"no_speech_timeout_ms"`
	ChunkSize       int    `mapstructure:"chunk_size"`
}

var settingsSchema = configutil.Schema{
	Required: []string{"api_key"},
	Optional: []string{"model", "language", "sample_rate", "encoding", "interim", "smart_format",
		"utterance_end_ms", "no_speech_timeout_ms", "chunk_size"},
}

// ConfigFromSettings validates and decodes a raw settings map.
func ConfigFromSettings(raw map[string]any) (Config, error) {
	if err := configutil.ValidateSettings(raw, settingsSchema); err != nil {
		return Config{}, err
	}
	var s Settings
	if err := configutil.DecodeSettings(raw, &s); err != nil {
		return Config{}, err
	}
	switch strings.ToLower(strings.TrimSpace(s.Encoding)) {
	case "", "linear16", "mulaw":
	default:
		return Config{}, errors.New("deepgram encoding must be linear16 or mulaw")
	}
	return Config{
		APIKey:          s.APIKey,
		Model:           s.Model,
		Language:        s.Language,
		SampleRate:      s.SampleRate,
		Encoding:        s.Encoding,
		Interim:         configutil.BoolValue(s.Interim, true),
		SmartFormat:     configutil.BoolValue(s.SmartFormat, true),
		UtteranceEndMS:  s.UtteranceEndMS,
		NoSpeechTimeout: configutil.Millis(s.NoSpeechTimeout, 8*time.Second),
		ChunkSize:       s.ChunkSize,
	}, nil
}

// Provider builds Deepgram engines. It is available when an API key is configured.
type Provider struct {
	Config Config
}

func (p Provider) Name() string { return "deepgram" }

func (p Provider) Available() bool {
	return strings.TrimSpace(p.Config.APIKey) != ""
}

func (p Provider) New(opts speech.Options) (speech.Engine, error) {
	if opts.Audio == nil {
		return nil, errors.New("deepgram engine needs a microphone stream")
	}
	cfg := p.Config
	if cfg.Language == "" {
		cfg.Language = opts.Language
	}
	cfg.Interim = cfg.Interim && opts.Interim
	cfg.StreamID = opts.StreamID
	return New(cfg, opts.Audio), nil
}

var _ speech.Provider = Provider{}
