package coach

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"reflect"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	LogLevel      string              `mapstructure:"log_level"`
	LogFormat     string              `mapstructure:"log_format"`
	Server        ServerConfig        `mapstructure:"server"`
	Storage       StorageConfig       `mapstructure:"storage"`
	Speech        SpeechConfig        `mapstructure:"speech"`
	Media         MediaConfig         `mapstructure:"media"`
	Tavus         TavusConfig         `mapstructure:"tavus"`
	Presentation  PresentationConfig  `mapstructure:"presentation"`
	Call          CallConfig          `mapstructure:"call"`
	Notify        NotifyConfig        `mapstructure:"notify"`
	Observability ObservabilityConfig `mapstructure:"observability"`
	Privacy       PrivacyConfig       `mapstructure:"privacy"`
}

type ServerConfig struct {
	Addr           string   `mapstructure:"addr"`
	AllowAnyOrigin bool     `mapstructure:"allow_any_origin"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type StorageConfig struct {
	SettingsPath string `mapstructure:"settings_path"`
	// TokenBackend is file, keyring or memory.
	TokenBackend   string `mapstructure:"token_backend"`
	KeyringService string `mapstructure:"keyring_service"`
}

type SpeechConfig struct {
	// Providers is probed in order; the first available one is used.
	Providers []string                  `mapstructure:"providers"`
	Language  string                    `mapstructure:"language"`
	Interim   bool                      `mapstructure:"interim"`
	Settings  map[string]map[string]any `mapstructure:"settings"`
}

type MediaConfig struct {
	// Provider is ffmpeg or static.
	Provider    string `mapstructure:"provider"`
	Command     string `mapstructure:"command"`
	InputFormat string `mapstructure:"input_format"`
	InputDevice string `mapstructure:"input_device"`
	VideoDevice string `mapstructure:"video_device"`
	SampleRate  int    `mapstructure:"sample_rate"`
}

type TavusConfig struct {
	BaseURL         string `mapstructure:"base_url"`
	TimeoutMS       int    `mapstructure:"timeout_ms"`
	ContextTemplate string `mapstructure:"context_template"`
	Persona         string `mapstructure:"persona"`
	Replica         string `mapstructure:"replica"`
	Greeting        string `mapstructure:"greeting"`
}

type PresentationConfig struct {
	MinWords      int `mapstructure:"min_words"`
	StopTimeoutMS int `mapstructure:"stop_timeout_ms"`
}

type CallConfig struct {
	// Joiner is browser or none.
	Joiner        string `mapstructure:"joiner"`
	PollRetries   int    `mapstructure:"poll_retries"`
	PollBackoffMS int    `mapstructure:"poll_backoff_ms"`
}

type NotifyConfig struct {
	// Provider is none or twilio.
	Provider string         `mapstructure:"provider"`
	Settings map[string]any `mapstructure:"settings"`
}

type ObservabilityConfig struct {
	MetricsPath   string `mapstructure:"metrics_path"`
	MetricsBuffer int    `mapstructure:"metrics_buffer"`
}

type PrivacyConfig struct {
	RedactPII bool `mapstructure:"redact_pii"`
}

// LoadConfig reads the YAML file at path on top of the defaults. An empty path loads defaults only.
func LoadConfig(path string) (Config, error) {
	v := viper.New()
	setDefaults(v)
	if strings.TrimSpace(path) != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal: %w", err)
	}

	expandEnvStrings(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")
	v.SetDefault("server.addr", "127.0.0.1:8787")
	v.SetDefault("server.allow_any_origin", false)
	v.SetDefault("storage.settings_path", defaultSettingsPath())
	v.SetDefault("storage.token_backend", "file")
	v.SetDefault("storage.keyring_service", "rehearsal")
	v.SetDefault("speech.providers", []string{"deepgram", "mock"})
	v.SetDefault("speech.language", "en-US")
	v.SetDefault("speech.interim", true)
	v.SetDefault("media.provider", "ffmpeg")
	v.SetDefault("media.command", "ffmpeg")
	v.SetDefault("media.input_device", "default")
	v.SetDefault("media.sample_rate", 16000)
	v.SetDefault("tavus.base_url", "https://tavusapi.com")
	v.SetDefault("tavus.timeout_ms", 30000)
	v.SetDefault("presentation.min_words", 5)
	v.SetDefault("presentation.stop_timeout_ms", 2000)
	v.SetDefault("call.joiner", "browser")
	v.SetDefault("call.poll_retries", 10)
	v.SetDefault("call.poll_backoff_ms", 500)
	v.SetDefault("notify.provider", "none")
	v.SetDefault("observability.metrics_path", "")
	v.SetDefault("observability.metrics_buffer", 256)
	v.SetDefault("privacy.redact_pii", true)
}

func defaultSettingsPath() string {
	dir, err := os.UserConfigDir()
	if err != nil || dir == "" {
		return ".rehearsal/settings.json"
	}
	return filepath.Join(dir, "rehearsal", "settings.json")
}

func (c *Config) Validate() error {
	if len(c.Speech.Providers) == 0 {
		return fmt.Errorf("speech.providers is required")
	}
	switch strings.ToLower(strings.TrimSpace(c.Storage.TokenBackend)) {
	case "file", "keyring", "memory":
	default:
		return fmt.Errorf("storage.token_backend must be file, keyring or memory: %q", c.Storage.TokenBackend)
	}
	if strings.TrimSpace(c.Storage.SettingsPath) == "" {
		return fmt.Errorf("storage.settings_path is required")
	}
	switch strings.ToLower(strings.TrimSpace(c.Media.Provider)) {
	case "ffmpeg", "static":
	default:
		return fmt.Errorf("media.provider must be ffmpeg or static: %q", c.Media.Provider)
	}
	switch strings.ToLower(strings.TrimSpace(c.Call.Joiner)) {
	case "browser", "none":
	default:
		return fmt.Errorf("call.joiner must be browser or none: %q", c.Call.Joiner)
	}
	switch strings.ToLower(strings.TrimSpace(c.Notify.Provider)) {
	case "none", "", "twilio":
	default:
		return fmt.Errorf("notify.provider must be none or twilio: %q", c.Notify.Provider)
	}
	if c.Presentation.MinWords < 1 {
		return fmt.Errorf("presentation.min_words must be at least 1")
	}
	u, err := url.Parse(c.Tavus.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("tavus.base_url is not an absolute URL: %q", c.Tavus.BaseURL)
	}
	return nil
}

func expandEnvStrings(cfg *Config) {
	expandValue(reflect.ValueOf(cfg))
	for name, settings := range cfg.Speech.Settings {
		cfg.Speech.Settings[name] = expandSettings(settings)
	}
	cfg.Notify.Settings = expandSettings(cfg.Notify.Settings)
}

func expandSettings(settings map[string]any) map[string]any {
	if settings == nil {
		return nil
	}
	for k, v := range settings {
		settings[k] = expandAny(v)
	}
	return settings
}

func expandAny(v any) any {
	switch val := v.(type) {
	case string:
		return os.ExpandEnv(val)
	case []any:
		for i := range val {
			val[i] = expandAny(val[i])
		}
		return val
	case map[string]any:
		for k, v := range val {
			val[k] = expandAny(v)
		}
		return val
	case map[any]any:
		out := make(map[string]any, len(val))
		for k, v := range val {
			ks, ok := k.(string)
			if !ok {
				continue
			}
			out[ks] = expandAny(v)
		}
		return out
	default:
		return v
	}
}

func expandValue(v reflect.Value) {
	if !v.IsValid() {
		return
	}
	if v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return
		}
		expandValue(v.Elem())
		return
	}
	switch v.Kind() {
	case reflect.Struct:
		for i := 0; i < v.NumField(); i++ {
			expandValue(v.Field(i))
		}
	case reflect.String:
		if v.CanSet() {
			v.SetString(os.ExpandEnv(v.String()))
		}
	case reflect.Slice, reflect.Array:
		for i := 0; i < v.Len(); i++ {
			expandValue(v.Index(i))
		}
	}
}
