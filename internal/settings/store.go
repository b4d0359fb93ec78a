// Package settings persists the user's suggestion settings in a YAML file and watches it for
// edits made outside the service.
package settings

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/chadiek/speakassist/internal/logging"
	"github.com/chadiek/speakassist/internal/suggest"
)

type fileFormat struct {
	ResponseStyle string `yaml:"response_style"`
	Language      string `yaml:"language"`
}

// FileStore reads and writes settings at a fixed path. An empty path keeps settings in memory only.
type FileStore struct {
	path     string
	log      *zap.Logger
	debounce time.Duration

	mu      sync.RWMutex
	current suggest.Settings
}

// NewFileStore returns a store primed with default settings; call Load to read the file.
func NewFileStore(path string, log *zap.Logger) *FileStore {
	return &FileStore{path: path, log: logging.OrNop(log), debounce: 100 * time.Millisecond, current: suggest.DefaultSettings()}
}

// Path returns the backing file path.
func (s *FileStore) Path() string { return s.path }

// Current returns the last successfully loaded or saved settings.
func (s *FileStore) Current() suggest.Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Load reads the file. A missing file yields defaults. Invalid content is an error and leaves
// the current settings untouched.
func (s *FileStore) Load() (suggest.Settings, error) {
	if s.path == "" {
		return s.Current(), nil
	}
	b, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		st := suggest.DefaultSettings()
		s.set(st)
		return st, nil
	}
	if err != nil {
		return suggest.Settings{}, fmt.Errorf("read settings: %w", err)
	}
	st, err := decode(b)
	if err != nil {
		return suggest.Settings{}, fmt.Errorf("parse settings %s: %w", s.path, err)
	}
	s.set(st)
	return st, nil
}

func decode(b []byte) (suggest.Settings, error) {
	var f fileFormat
	if err := yaml.Unmarshal(b, &f); err != nil {
		return suggest.Settings{}, err
	}
	style, err := suggest.ParseStyle(f.ResponseStyle)
	if err != nil {
		return suggest.Settings{}, err
	}
	return suggest.Settings{ResponseStyle: style, Language: f.Language}.Normalize(), nil
}

// Save validates st and writes it to the file.
func (s *FileStore) Save(st suggest.Settings) error {
	style, err := suggest.ParseStyle(string(st.ResponseStyle))
	if err != nil {
		return err
	}
	st.ResponseStyle = style
	st = st.Normalize()
	if s.path != "" {
		b, err := yaml.Marshal(fileFormat{ResponseStyle: string(st.ResponseStyle), Language: st.Language})
		if err != nil {
			return err
		}
		if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
			return fmt.Errorf("create settings dir: %w", err)
		}
		tmp := s.path + ".tmp"
		if err := os.WriteFile(tmp, b, 0o644); err != nil {
			return fmt.Errorf("write settings: %w", err)
		}
		if err := os.Rename(tmp, s.path); err != nil {
			return fmt.Errorf("write settings: %w", err)
		}
	}
	s.set(st)
	return nil
}

func (s *FileStore) set(st suggest.Settings) {
	s.mu.Lock()
	s.current = st
	s.mu.Unlock()
}

// Watch blocks until ctx is done, reloading the file whenever it changes and passing every
// successfully parsed result to onChange. The parent directory is watched so that editors that
// replace the file are picked up.
func (s *FileStore) Watch(ctx context.Context, onChange func(suggest.Settings)) error {
	if s.path == "" {
		<-ctx.Done()
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		s.log.Warn("settings: failed to create dir", zap.String("dir", dir), zap.Error(err))
	}
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	s.log.Info("settings: watching file", zap.String("path", s.path))

	name := filepath.Clean(s.path)
	var pending <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != name {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename|fsnotify.Remove) == 0 {
				continue
			}
			// debounce rapid saves
			pending = time.After(s.debounce)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.log.Error("settings watcher error", zap.Error(err))

		case <-pending:
			pending = nil
			st, err := s.Load()
			if err != nil {
				s.log.Warn("settings: ignoring invalid file", zap.Error(err))
				continue
			}
			s.log.Info("settings reloaded",
				zap.String("response_style", string(st.ResponseStyle)),
				zap.String("language", st.Language))
			if onChange != nil {
				onChange(st)
			}
		}
	}
}
