// Package coach assembles the rehearsal service from configuration.
package coach

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/harunnryd/rehearsal/pkg/call"
	"github.com/harunnryd/rehearsal/pkg/configutil"
	"github.com/harunnryd/rehearsal/pkg/logging"
	"github.com/harunnryd/rehearsal/pkg/media"
	"github.com/harunnryd/rehearsal/pkg/metrics"
	"github.com/harunnryd/rehearsal/pkg/notify"
	"github.com/harunnryd/rehearsal/pkg/redact"
	"github.com/harunnryd/rehearsal/pkg/resilience"
	"github.com/harunnryd/rehearsal/pkg/screen"
	"github.com/harunnryd/rehearsal/pkg/server"
	"github.com/harunnryd/rehearsal/pkg/session"
	"github.com/harunnryd/rehearsal/pkg/settings"
	"github.com/harunnryd/rehearsal/pkg/speech"
	"github.com/harunnryd/rehearsal/pkg/tavus"
)

// App is one assembled rehearsal service.
type App struct {
	Config   Config
	Logger   *slog.Logger
	Settings *settings.Store
	Screens  *screen.Controller
	Session  *session.Session
	Server   *server.Server
	Observer metrics.Observer
	Tavus    *tavus.Client
	// Speech is the probed provider; nil when recognition is unsupported on this host.
	Speech       speech.Provider
	SpeechByName *speech.Registry
}

// Options overrides pieces Build would otherwise create from configuration.
type Options struct {
	Logger    *slog.Logger
	Registry  *ProviderRegistry
	Backend   settings.Backend
	Tokens    settings.Backend
	Media     media.Acquirer
	Joiner    call.Joiner
	Notifier  notify.Notifier
	Observer  metrics.Observer
	TavusHTTP *http.Client
}

// Build wires every component described by cfg.
func Build(cfg Config, opts Options) (*App, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	redact.SetEnabled(cfg.Privacy.RedactPII)

	store, err := openSettings(cfg, opts, logger)
	if err != nil {
		return nil, err
	}

	observer, err := buildObserver(cfg, opts)
	if err != nil {
		return nil, err
	}

	registry := opts.Registry
	if registry == nil {
		registry = DefaultProviderRegistry()
	}
	speechReg, err := registry.BuildSpeechRegistry(cfg)
	if err != nil {
		closeObserver(observer)
		return nil, err
	}
	provider, _ := speechReg.Probe(cfg.Speech.Providers...)

	client, err := tavus.NewClient(tavus.Config{
		BaseURL:         cfg.Tavus.BaseURL,
		Timeout:         configutil.Millis(cfg.Tavus.TimeoutMS, 30*time.Second),
		ContextTemplate: cfg.Tavus.ContextTemplate,
		Defaults: tavus.Defaults{
			Persona:  cfg.Tavus.Persona,
			Replica:  cfg.Tavus.Replica,
			Greeting: cfg.Tavus.Greeting,
		},
		HTTPClient: opts.TavusHTTP,
		Logger:     logger,
	})
	if err != nil {
		closeObserver(observer)
		return nil, err
	}

	notifier, err := buildNotifier(cfg, opts, logger)
	if err != nil {
		closeObserver(observer)
		return nil, err
	}

	tile := call.NewTile(buildJoiner(cfg, opts, logger), client, call.TileConfig{
		Retry:  resilience.NewRetryPolicy(cfg.Call.PollRetries, configutil.Millis(cfg.Call.PollBackoffMS, 500*time.Millisecond)),
		Logger: logger,
	})

	screens := screen.NewController(screen.IntroLoading)
	sess, err := session.New(session.Config{
		Settings: store,
		Screens:  screens,
		Speech:   provider,
		SpeechOptions: speech.Options{
			Language:   cfg.Speech.Language,
			Continuous: true,
			Interim:    cfg.Speech.Interim,
		},
		Media:         buildMedia(cfg, opts, provider),
		Conversations: client,
		Tile:          tile,
		Notifier:      notifier,
		Metrics:       observer,
		Logger:        logger,
		MinWords:      cfg.Presentation.MinWords,
		StopTimeout:   configutil.Millis(cfg.Presentation.StopTimeoutMS, 2*time.Second),
	})
	if err != nil {
		closeObserver(observer)
		return nil, err
	}

	srv := server.New(server.Config{
		Addr:           cfg.Server.Addr,
		AllowAnyOrigin: cfg.Server.AllowAnyOrigin,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Logger:         logger,
	}, sess, store, screens)

	// Settings are loaded; leave the loading screen.
	screens.Go(screen.Intro)

	name := "none"
	if provider != nil {
		name = provider.Name()
	}
	logging.NewComponentLogger(logger, "coach").Info("app built",
		slog.String("speech_provider", name),
		slog.String("media", cfg.Media.Provider),
		slog.String("joiner", cfg.Call.Joiner),
		slog.String("notify", cfg.Notify.Provider),
		slog.Bool("has_token", store.Get().HasToken()))

	return &App{
		Config:       cfg,
		Logger:       logger,
		Settings:     store,
		Screens:      screens,
		Session:      sess,
		Server:       srv,
		Observer:     observer,
		Tavus:        client,
		Speech:       provider,
		SpeechByName: speechReg,
	}, nil
}

// Start runs the HTTP control surface until ctx ends.
func (a *App) Start(ctx context.Context) error {
	return a.Server.Start(ctx)
}

// Drain tears the session down, closes the server and flushes metrics.
func (a *App) Drain(ctx context.Context) error {
	a.Session.Exit()
	err := a.Server.Drain(ctx)
	closeObserver(a.Observer)
	return err
}

// OpenSettings opens the configured settings store on its own, for commands that only touch settings.
func OpenSettings(cfg Config, logger *slog.Logger) (*settings.Store, error) {
	return openSettings(cfg, Options{}, logger)
}

// HandoffTranscript creates a coach conversation for a transcript recorded elsewhere. It applies
// the same validation and settings update as ending a live presentation.
func (a *App) HandoffTranscript(ctx context.Context, text string) (tavus.Conversation, error) {
	text = strings.TrimSpace(text)
	if verr := session.ValidateHandoff(a.Settings.Get(), text, a.Config.Presentation.MinWords); verr != nil {
		return tavus.Conversation{}, verr
	}
	updated, err := a.Settings.Update(func(st *settings.Settings) {
		session.ApplyHandoff(st, text)
	})
	if err != nil {
		return tavus.Conversation{}, err
	}
	conv, err := a.Tavus.CreateConversation(ctx, updated.APIToken, updated)
	if err != nil {
		metrics.Record(a.Observer, metrics.EventConversationFailed, 1, nil, nil)
		return tavus.Conversation{}, err
	}
	metrics.Record(a.Observer, metrics.EventConversationCreated, 1, map[string]string{"source": "transcript_file"}, nil)
	return conv, nil
}

func openSettings(cfg Config, opts Options, logger *slog.Logger) (*settings.Store, error) {
	backend := opts.Backend
	if backend == nil {
		backend = settings.NewFileBackend(cfg.Storage.SettingsPath)
	}
	storeOpts := []settings.Option{settings.WithLogger(logger)}
	tokens := opts.Tokens
	if tokens == nil {
		switch strings.ToLower(strings.TrimSpace(cfg.Storage.TokenBackend)) {
		case "keyring":
			tokens = settings.NewKeyringBackend(cfg.Storage.KeyringService)
		case "memory":
			tokens = settings.NewMemoryBackend()
		}
	}
	if tokens != nil {
		storeOpts = append(storeOpts, settings.WithTokenBackend(tokens))
	}
	store, err := settings.Open(backend, storeOpts...)
	if err != nil {
		return nil, fmt.Errorf("open settings: %w", err)
	}
	return store, nil
}

func buildObserver(cfg Config, opts Options) (metrics.Observer, error) {
	if opts.Observer != nil {
		return opts.Observer, nil
	}
	path := strings.TrimSpace(cfg.Observability.MetricsPath)
	if path == "" {
		return metrics.NoopObserver{}, nil
	}
	jsonl, err := metrics.OpenJSONLFile(path)
	if err != nil {
		return nil, err
	}
	return metrics.NewAsyncObserver(jsonl, cfg.Observability.MetricsBuffer), nil
}

func closeObserver(obs metrics.Observer) {
	if a, ok := obs.(*metrics.AsyncObserver); ok {
		a.Close()
	}
}

// buildMedia pairs the mock engine with a device-free acquirer so it runs anywhere.
func buildMedia(cfg Config, opts Options, provider speech.Provider) media.Acquirer {
	if opts.Media != nil {
		return opts.Media
	}
	if strings.EqualFold(cfg.Media.Provider, "static") || (provider != nil && provider.Name() == "mock") {
		return media.StaticAcquirer{VideoDevice: cfg.Media.VideoDevice}
	}
	return media.NewFFmpegAcquirer(media.FFmpegConfig{
		Command:     cfg.Media.Command,
		InputFormat: cfg.Media.InputFormat,
		InputDevice: cfg.Media.InputDevice,
		VideoDevice: cfg.Media.VideoDevice,
		SampleRate:  cfg.Media.SampleRate,
	})
}

func buildJoiner(cfg Config, opts Options, logger *slog.Logger) call.Joiner {
	if opts.Joiner != nil {
		return opts.Joiner
	}
	if strings.EqualFold(cfg.Call.Joiner, "browser") {
		return call.NewBrowserJoiner(logger)
	}
	return call.NoopJoiner{}
}

var twilioSchema = configutil.Schema{
	Required: []string{"account_sid", "auth_token", "from", "to"},
}

func buildNotifier(cfg Config, opts Options, logger *slog.Logger) (notify.Notifier, error) {
	if opts.Notifier != nil {
		return opts.Notifier, nil
	}
	if !strings.EqualFold(cfg.Notify.Provider, "twilio") {
		return notify.Noop{}, nil
	}
	if err := configutil.ValidateSettings(cfg.Notify.Settings, twilioSchema); err != nil {
		return nil, fmt.Errorf("notify.settings: %w", err)
	}
	var tc notify.TwilioConfig
	if err := configutil.DecodeSettings(cfg.Notify.Settings, &tc); err != nil {
		return nil, fmt.Errorf("notify.settings: %w", err)
	}
	return notify.NewTwilioSMS(tc, logger), nil
}
