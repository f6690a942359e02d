package credentials

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/haasonsaas/eventlive/internal/observability"
)

// FileStore keeps the session in a JSON file readable only by the owner.
// With Watch, changes written by other processes refresh the cached copy.
type FileStore struct {
	path   string
	logger *slog.Logger

	mu       sync.RWMutex
	cached   *Session
	loaded   bool
	onChange func(*Session)

	watchMu     sync.Mutex
	watcher     *fsnotify.Watcher
	watchCancel context.CancelFunc
	watchWg     sync.WaitGroup
	debounce    time.Duration
}

// NewFileStore creates a store at path. A nil logger uses slog.Default.
func NewFileStore(path string, logger *slog.Logger) *FileStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &FileStore{
		path:     path,
		logger:   observability.Component(logger, "credentials.file"),
		debounce: 100 * time.Millisecond,
	}
}

// Path returns the session file location.
func (f *FileStore) Path() string {
	return f.path
}

// OnChange registers fn to run after the watcher reloads the file. fn
// receives nil when the file was removed.
func (f *FileStore) OnChange(fn func(*Session)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onChange = fn
}

func (f *FileStore) Load(context.Context) (*Session, error) {
	f.mu.RLock()
	if f.loaded {
		defer f.mu.RUnlock()
		if f.cached == nil {
			return nil, ErrNoSession
		}
		return f.cached.clone(), nil
	}
	f.mu.RUnlock()

	session, err := f.read()
	if err != nil && !errors.Is(err, ErrNoSession) {
		return nil, err
	}
	f.mu.Lock()
	f.cached = session
	f.loaded = true
	f.mu.Unlock()
	if session == nil {
		return nil, ErrNoSession
	}
	return session.clone(), nil
}

func (f *FileStore) Save(_ context.Context, session *Session) error {
	values, err := encodeSession(session)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(values, "", "  ")
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(f.path), 0o700); err != nil {
		return fmt.Errorf("create session dir: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(f.path), ".session-*.json")
	if err != nil {
		return fmt.Errorf("create temp session file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) //nolint:errcheck // gone after a successful rename
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("chmod session file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write session file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close session file: %w", err)
	}
	if err := os.Rename(tmpName, f.path); err != nil {
		return fmt.Errorf("replace session file: %w", err)
	}

	f.mu.Lock()
	f.cached = session.clone()
	f.loaded = true
	f.mu.Unlock()
	return nil
}

func (f *FileStore) Clear(context.Context) error {
	if err := os.Remove(f.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove session file: %w", err)
	}
	f.mu.Lock()
	f.cached = nil
	f.loaded = true
	f.mu.Unlock()
	return nil
}

func (f *FileStore) read() (*Session, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNoSession
		}
		return nil, fmt.Errorf("read session file: %w", err)
	}
	var values map[string]string
	if err := json.Unmarshal(data, &values); err != nil {
		return nil, fmt.Errorf("parse session file %s: %w", f.path, err)
	}
	return decodeSession(values)
}

// Watch reloads the cached session whenever the file changes on disk. The
// parent directory is watched so atomic replacements are seen.
func (f *FileStore) Watch(ctx context.Context) error {
	f.watchMu.Lock()
	defer f.watchMu.Unlock()
	if f.watcher != nil {
		return nil
	}

	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create session dir: %w", err)
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	f.watcher = watcher

	watchCtx, cancel := context.WithCancel(ctx)
	f.watchCancel = cancel
	f.watchWg.Add(1)
	go f.watchLoop(watchCtx, watcher)
	return nil
}

// Close stops the watcher.
func (f *FileStore) Close() error {
	f.watchMu.Lock()
	if f.watchCancel != nil {
		f.watchCancel()
		f.watchCancel = nil
	}
	watcher := f.watcher
	f.watcher = nil
	f.watchMu.Unlock()

	var err error
	if watcher != nil {
		err = watcher.Close()
	}
	f.watchWg.Wait()
	return err
}

func (f *FileStore) watchLoop(ctx context.Context, watcher *fsnotify.Watcher) {
	defer f.watchWg.Done()

	var mu sync.Mutex
	var timer *time.Timer
	scheduleReload := func() {
		mu.Lock()
		defer mu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(f.debounce, f.reload)
	}
	defer func() {
		mu.Lock()
		if timer != nil {
			timer.Stop()
		}
		mu.Unlock()
	}()

	target := filepath.Clean(f.path)
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) != 0 {
				scheduleReload()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			f.logger.Warn("session watch error", "error", err)
		}
	}
}

func (f *FileStore) reload() {
	session, err := f.read()
	if err != nil && !errors.Is(err, ErrNoSession) {
		f.logger.Warn("session reload failed", "error", err)
		return
	}

	f.mu.Lock()
	f.cached = session
	f.loaded = true
	fn := f.onChange
	f.mu.Unlock()

	f.logger.Debug("session reloaded", "signed_in", session != nil)
	if fn != nil {
		fn(session.clone())
	}
}
