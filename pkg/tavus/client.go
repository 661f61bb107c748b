// Package tavus creates conversations on the Tavus conversational video API.
package tavus

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"text/template"
	"time"

	"github.com/harunnryd/rehearsal/pkg/errorsx"
	"github.com/harunnryd/rehearsal/pkg/logging"
	"github.com/harunnryd/rehearsal/pkg/redact"
	"github.com/harunnryd/rehearsal/pkg/settings"
	"github.com/harunnryd/rehearsal/pkg/transcript"
)

const (
	DefaultBaseURL  = "https://tavusapi.com"
	DefaultPersona  = "pcce34deac2a"
	DefaultReplica  = "rb17cf590e15"
	DefaultGreeting = "Hey there! I'm your technical co-pilot! Let's get started building with Tavus."
)

// Defaults fill request fields whose setting is empty.
type Defaults struct {
	Persona  string
	Replica  string
	Greeting string
}

func (d Defaults) withFallbacks() Defaults {
	if d.Persona == "" {
		d.Persona = DefaultPersona
	}
	if d.Replica == "" {
		d.Replica = DefaultReplica
	}
	if d.Greeting == "" {
		d.Greeting = DefaultGreeting
	}
	return d
}

type Config struct {
	BaseURL string
	Timeout time.Duration
	// ContextTemplate wraps the conversational context before it is sent. Empty sends
	// the context unchanged. The template sees .Transcript and .Words.
	ContextTemplate string
	Defaults        Defaults
	HTTPClient      *http.Client
	Logger          *slog.Logger
}

// Client issues single, unretried requests against the conversations endpoint.
type Client struct {
	baseURL  string
	http     *http.Client
	tmpl     *template.Template
	defaults Defaults
	logger   *slog.Logger
}

func NewClient(cfg Config) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		base = DefaultBaseURL
	}
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("tavus base url: %w", err)
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	var tmpl *template.Template
	if strings.TrimSpace(cfg.ContextTemplate) != "" {
		t, err := template.New("context").Option("missingkey=error").Parse(cfg.ContextTemplate)
		if err != nil {
			return nil, fmt.Errorf("tavus context template: %w", err)
		}
		tmpl = t
	}
	return &Client{
		baseURL:  base,
		http:     httpClient,
		tmpl:     tmpl,
		defaults: cfg.Defaults.withFallbacks(),
		logger:   logging.NewComponentLogger(cfg.Logger, "tavus"),
	}, nil
}

type createRequest struct {
	PersonaID             string `json:"persona_id"`
	ReplicaID             string `json:"replica_id"`
	CustomGreeting        string `json:"custom_greeting"`
	ConversationalContext string `json:"conversational_context"`
}

// Conversation is the API's description of a created conversation.
type Conversation struct {
	ConversationID   string          `json:"conversation_id"`
	ConversationName string          `json:"conversation_name,omitempty"`
	ConversationURL  string          `json:"conversation_url"`
	Status           string          `json:"status,omitempty"`
	CallbackURL      string          `json:"callback_url,omitempty"`
	CreatedAt        string          `json:"created_at,omitempty"`
	Raw              json.RawMessage `json:"-"`
}

// Active reports whether the remote participant has joined.
func (c Conversation) Active() bool {
	return strings.EqualFold(c.Status, "active")
}

// CreateConversation posts one conversation request built from s.
func (c *Client) CreateConversation(ctx context.Context, token string, s settings.Settings) (Conversation, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Conversation{}, errorsx.New(errorsx.ReasonMissingToken, "api token is missing")
	}
	contextText, err := c.renderContext(s.Context)
	if err != nil {
		return Conversation{}, err
	}
	body := createRequest{
		PersonaID:             fallback(s.Persona, c.defaults.Persona),
		ReplicaID:             fallback(s.Replica, c.defaults.Replica),
		CustomGreeting:        fallback(s.Greeting, c.defaults.Greeting),
		ConversationalContext: contextText,
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return Conversation{}, err
	}

	c.logger.Info("creating conversation",
		slog.String("persona_id", body.PersonaID),
		slog.String("replica_id", body.ReplicaID),
		slog.Int("context_words", transcript.WordCount(s.Context)),
		slog.String("context_preview", redact.Preview(s.Context, 80)),
		slog.String("token", redact.Token(token)))

	conv, err := c.do(ctx, http.MethodPost, c.baseURL+"/v2/conversations", token, payload)
	if err != nil {
		c.logger.Warn("conversation request failed",
			slog.String("reason", string(errorsx.Reason(err))),
			slog.String("error", err.Error()))
		return Conversation{}, err
	}
	c.logger.Info("conversation created",
		slog.String("conversation_id", conv.ConversationID),
		slog.String("status", conv.Status))
	return conv, nil
}

// GetConversation fetches the current state of a conversation.
func (c *Client) GetConversation(ctx context.Context, token, id string) (Conversation, error) {
	if strings.TrimSpace(id) == "" {
		return Conversation{}, errors.New("conversation id is required")
	}
	return c.do(ctx, http.MethodGet, c.baseURL+"/v2/conversations/"+url.PathEscape(id), strings.TrimSpace(token), nil)
}

func (c *Client) do(ctx context.Context, method, endpoint, token string, payload []byte) (Conversation, error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return Conversation{}, err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("x-api-key", token)

	resp, err := c.http.Do(req)
	if err != nil {
		return Conversation{}, &NetworkError{Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return Conversation{}, &NetworkError{Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Conversation{}, &APIError{Status: resp.StatusCode, Body: string(raw)}
	}

	var conv Conversation
	if err := json.Unmarshal(raw, &conv); err != nil {
		return Conversation{}, errorsx.Wrap(fmt.Errorf("decode conversation: %w", err), errorsx.ReasonAPIDecode)
	}
	if conv.ConversationID == "" || conv.ConversationURL == "" {
		return Conversation{}, errorsx.New(errorsx.ReasonAPIDecode, "conversation response is missing conversation_id or conversation_url")
	}
	conv.Raw = json.RawMessage(raw)
	return conv, nil
}

type contextData struct {
	Transcript string
	Words      int
}

func (c *Client) renderContext(raw string) (string, error) {
	if c.tmpl == nil {
		return raw, nil
	}
	var buf bytes.Buffer
	if err := c.tmpl.Execute(&buf, contextData{Transcript: raw, Words: transcript.WordCount(raw)}); err != nil {
		return "", fmt.Errorf("render conversational context: %w", err)
	}
	return buf.String(), nil
}

func fallback(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
