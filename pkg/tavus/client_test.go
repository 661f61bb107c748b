package tavus

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harunnryd/rehearsal/pkg/errorsx"
	"github.com/harunnryd/rehearsal/pkg/settings"
)

type captured struct {
	method string
	path   string
	header http.Header
	body   map[string]string
}

func newServer(t *testing.T, status int, response string) (*httptest.Server, *captured) {
	t.Helper()
	got := &captured{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got.method = r.Method
		got.path = r.URL.Path
		got.header = r.Header.Clone()
		if r.Body != nil {
			raw, _ := io.ReadAll(r.Body)
			if len(raw) > 0 {
				require.NoError(t, json.Unmarshal(raw, &got.body))
			}
		}
		w.WriteHeader(status)
		_, _ = io.WriteString(w, response)
	}))
	t.Cleanup(srv.Close)
	return srv, got
}

func TestCreateConversationAppliesDefaults(t *testing.T) {
	srv, got := newServer(t, http.StatusOK, `{"conversation_id":"c1","conversation_url":"https://tavus.daily.co/c1","status":"active"}`)
	client, err := NewClient(Config{BaseURL: srv.URL})
	require.NoError(t, err)

	conv, err := client.CreateConversation(context.Background(), " tok ", settings.Settings{Context: "hello there"})
	require.NoError(t, err)

	assert.Equal(t, http.MethodPost, got.method)
	assert.Equal(t, "/v2/conversations", got.path)
	assert.Equal(t, "tok", got.header.Get("x-api-key"))
	assert.Equal(t, "application/json", got.header.Get("Content-Type"))
	assert.Equal(t, map[string]string{
		"persona_id":             DefaultPersona,
		"replica_id":             DefaultReplica,
		"custom_greeting":        DefaultGreeting,
		"conversational_context": "hello there",
	}, got.body)

	assert.Equal(t, "c1", conv.ConversationID)
	assert.Equal(t, "https://tavus.daily.co/c1", conv.ConversationURL)
	assert.True(t, conv.Active())
	assert.JSONEq(t, `{"conversation_id":"c1","conversation_url":"https://tavus.daily.co/c1","status":"active"}`, string(conv.Raw))
}

func TestCreateConversationUsesSettings(t *testing.T) {
	srv, got := newServer(t, http.StatusOK, `{"conversation_id":"c1","conversation_url":"u"}`)
	client, err := NewClient(Config{BaseURL: srv.URL + "/"})
	require.NoError(t, err)

	_, err = client.CreateConversation(context.Background(), "tok", settings.Settings{
		Persona: "p1", Replica: "r1", Greeting: "hi", Context: "ctx",
	})
	require.NoError(t, err)
	assert.Equal(t, "p1", got.body["persona_id"])
	assert.Equal(t, "r1", got.body["replica_id"])
	assert.Equal(t, "hi", got.body["custom_greeting"])
	assert.Equal(t, "ctx", got.body["conversational_context"])
}

func TestCreateConversationRendersContextTemplate(t *testing.T) {
	srv, got := newServer(t, http.StatusOK, `{"conversation_id":"c1","conversation_url":"u"}`)
	client, err := NewClient(Config{
		BaseURL:         srv.URL,
		ContextTemplate: "Presentation ({{.Words}} words): {{.Transcript}}",
	})
	require.NoError(t, err)

	_, err = client.CreateConversation(context.Background(), "tok", settings.Settings{Context: "one two three"})
	require.NoError(t, err)
	assert.Equal(t, "Presentation (3 words): one two three", got.body["conversational_context"])
}

func TestCreateConversationAPIError(t *testing.T) {
	srv, _ := newServer(t, http.StatusUnauthorized, `{"message":"Invalid access token"}`)
	client, err := NewClient(Config{BaseURL: srv.URL})
	require.NoError(t, err)

	_, err = client.CreateConversation(context.Background(), "tok", settings.Settings{})
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.Status)
	assert.Contains(t, apiErr.Body, "Invalid access token")
	assert.True(t, errorsx.HasReason(err, errorsx.ReasonAPIStatus))
}

func TestCreateConversationNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	base := srv.URL
	srv.Close()

	client, err := NewClient(Config{BaseURL: base})
	require.NoError(t, err)
	_, err = client.CreateConversation(context.Background(), "tok", settings.Settings{})
	var netErr *NetworkError
	require.ErrorAs(t, err, &netErr)
	assert.True(t, errorsx.HasReason(err, errorsx.ReasonNetwork))
}

func TestCreateConversationDecodeFailures(t *testing.T) {
	for _, body := range []string{`not json`, `{"conversation_id":"c1"}`} {
		srv, _ := newServer(t, http.StatusOK, body)
		client, err := NewClient(Config{BaseURL: srv.URL})
		require.NoError(t, err)
		_, err = client.CreateConversation(context.Background(), "tok", settings.Settings{})
		assert.True(t, errorsx.HasReason(err, errorsx.ReasonAPIDecode), "body %q: %v", body, err)
	}
}

func TestCreateConversationRequiresToken(t *testing.T) {
	client, err := NewClient(Config{BaseURL: "http://127.0.0.1:1"})
	require.NoError(t, err)
	_, err = client.CreateConversation(context.Background(), "  ", settings.Settings{})
	assert.True(t, errorsx.HasReason(err, errorsx.ReasonMissingToken))
}

func TestGetConversation(t *testing.T) {
	srv, got := newServer(t, http.StatusOK, `{"conversation_id":"c 1","conversation_url":"u","status":"ended"}`)
	client, err := NewClient(Config{BaseURL: srv.URL})
	require.NoError(t, err)

	conv, err := client.GetConversation(context.Background(), "tok", "c 1")
	require.NoError(t, err)
	assert.Equal(t, http.MethodGet, got.method)
	assert.Equal(t, "/v2/conversations/c 1", got.path)
	assert.False(t, conv.Active())
}

func TestNewClientRejectsBadTemplate(t *testing.T) {
	_, err := NewClient(Config{ContextTemplate: "{{.Transcript"})
	assert.Error(t, err)
}
