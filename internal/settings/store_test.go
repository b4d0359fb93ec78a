package settings

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/chadiek/speakassist/internal/suggest"
)

func TestFileStore_MissingFileGivesDefaults(t *testing.T) {
	s := NewFileStore(filepath.Join(t.TempDir(), "settings.yaml"), nil)
	st, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, suggest.DefaultSettings(), st)
}

func TestFileStore_LoadValidatesStyle(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yaml")
	require.NoError(t, os.WriteFile(path, []byte("response_style: Supportive\nlanguage: ja\n"), 0o644))
	s := NewFileStore(path, nil)
	st, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, suggest.Settings{ResponseStyle: suggest.StyleSupportive, Language: "ja"}, st)

	require.NoError(t, os.WriteFile(path, []byte("response_style: shouty\n"), 0o644))
	_, err = s.Load()
	require.Error(t, err)
	assert.Equal(t, suggest.StyleSupportive, s.Current().ResponseStyle, "invalid file must not replace current settings")
}

func TestFileStore_SaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "settings.yaml")
	s := NewFileStore(path, nil)
	require.NoError(t, s.Save(suggest.Settings{ResponseStyle: suggest.StyleCasual, Language: "es"}))

	other := NewFileStore(path, nil)
	st, err := other.Load()
	require.NoError(t, err)
	assert.Equal(t, suggest.Settings{ResponseStyle: suggest.StyleCasual, Language: "es"}, st)

	assert.Error(t, s.Save(suggest.Settings{ResponseStyle: "rude"}))
}

func TestFileStore_InMemory(t *testing.T) {
	s := NewFileStore("", nil)
	require.NoError(t, s.Save(suggest.Settings{ResponseStyle: suggest.StyleFormal}))
	st, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, suggest.Settings{ResponseStyle: suggest.StyleFormal, Language: "en"}, st)
}

func TestFileStore_WatchReloadsOnWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yaml")
	require.NoError(t, os.WriteFile(path, []byte("response_style: neutral\n"), 0o644))
	s := NewFileStore(path, zaptest.NewLogger(t))
	s.debounce = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	changes := make(chan suggest.Settings, 4)
	done := make(chan error, 1)
	go func() { done <- s.Watch(ctx, func(st suggest.Settings) { changes <- st }) }()

	// give the watcher time to register before writing
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte("response_style: formal\nlanguage: fr\n"), 0o644))

	select {
	case st := <-changes:
		assert.Equal(t, suggest.Settings{ResponseStyle: suggest.StyleFormal, Language: "fr"}, st)
	case <-time.After(2 * time.Second):
		t.Fatal("no reload observed")
	}
	assert.Equal(t, suggest.StyleFormal, s.Current().ResponseStyle)

	cancel()
	require.NoError(t, <-done)
}
