package settings

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/harunnryd/rehearsal/pkg/errorsx"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"
)

func TestStoreLoadsTokenAndSettings(t *testing.T) {
	backend := NewMemoryBackend()
	require.NoError(t, backend.Set(KeyToken, "tvs_123"))
	require.NoError(t, backend.Set(KeySettings, `{"persona":"p1","replica":"r1","greeting":"hi","context":"ctx"}`))

	store, err := Open(backend)
	require.NoError(t, err)

	got := store.Get()
	require.Equal(t, Settings{APIToken: "tvs_123", Persona: "p1", Replica: "r1", Greeting: "hi", Context: "ctx"}, got)
	require.True(t, got.HasToken())
}

func TestStoreIgnoresCorruptSettings(t *testing.T) {
	backend := NewMemoryBackend()
	require.NoError(t, backend.Set(KeySettings, "{not json"))
	require.NoError(t, backend.Set(KeyToken, "tok"))

	store, err := Open(backend)
	require.NoError(t, err)
	require.Equal(t, Settings{APIToken: "tok"}, store.Get())
}

func TestStoreUpdatePersistsAndNotifies(t *testing.T) {
	backend := NewMemoryBackend()
	store, err := Open(backend)
	require.NoError(t, err)

	var seen []Settings
	cancel := store.Subscribe(func(s Settings) { seen = append(seen, s) })

	_, err = store.Update(func(s *Settings) {
		s.Context = "my talk"
		s.Persona = "pcce34deac2a"
	})
	require.NoError(t, err)

	raw, ok, err := backend.Get(KeySettings)
	require.NoError(t, err)
	require.True(t, ok)
	var persisted Settings
	require.NoError(t, json.Unmarshal([]byte(raw), &persisted))
	require.Equal(t, "my talk", persisted.Context)
	require.Equal(t, "pcce34deac2a", persisted.Persona)
	require.NotContains(t, raw, "apiToken")

	require.Len(t, seen, 1)
	require.Equal(t, "my talk", seen[0].Context)

	cancel()
	require.NoError(t, store.SetToken("  tvs_abc  "))
	require.Len(t, seen, 1)
	require.Equal(t, "tvs_abc", store.Token())

	token, ok, err := backend.Get(KeyToken)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "tvs_abc", token)
}

func TestStoreUpdateFailureKeepsState(t *testing.T) {
	backend := &failingBackend{MemoryBackend: NewMemoryBackend()}
	store, err := Open(backend)
	require.NoError(t, err)

	backend.fail = true
	_, err = store.Update(func(s *Settings) { s.Context = "lost" })
	require.Error(t, err)
	require.True(t, errorsx.HasReason(err, errorsx.ReasonSettingsPersist))
	require.Empty(t, store.Get().Context)
}

func TestFileBackendRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conf", "settings.json")
	b := NewFileBackend(path)

	_, ok, err := b.Get(KeyToken)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, b.Set(KeyToken, "tok"))
	require.NoError(t, b.Set(KeySettings, `{"context":"x"}`))

	reopened := NewFileBackend(path)
	v, ok, err := reopened.Get(KeySettings)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, `{"context":"x"}`, v)

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestKeyringTokenBackend(t *testing.T) {
	keyring.MockInit()

	files := NewMemoryBackend()
	store, err := Open(files, WithTokenBackend(NewKeyringBackend("rehearsal-test")))
	require.NoError(t, err)
	require.False(t, store.Get().HasToken())

	require.NoError(t, store.SetToken("tvs_secret"))
	_, ok, err := files.Get(KeyToken)
	require.NoError(t, err)
	require.False(t, ok, "token must not land in the settings file")

	reopened, err := Open(files, WithTokenBackend(NewKeyringBackend("rehearsal-test")))
	require.NoError(t, err)
	require.Equal(t, "tvs_secret", reopened.Token())

	require.NoError(t, reopened.SetToken(""))
	again, err := Open(files, WithTokenBackend(NewKeyringBackend("rehearsal-test")))
	require.NoError(t, err)
	require.False(t, again.Get().HasToken())
}

type failingBackend struct {
	*MemoryBackend
	fail bool
}

func (b *failingBackend) Set(key, value string) error {
	if b.fail {
		return errors.New("disk full")
	}
	return b.MemoryBackend.Set(key, value)
}
