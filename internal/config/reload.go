package config

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	log "github.com/web2labs/studio-gateway/internal/logging"
)

const reloadDebounce = 500 * time.Millisecond

// Reloader watches the config file and invokes a callback with the freshly
// loaded config whenever its content changes. Editors that replace the file
// (rename+create) are handled by watching the parent directory.
type Reloader struct {
	path     string
	onChange func(*Config)

	mu       sync.Mutex
	timer    *time.Timer
	lastHash string

	watcher *fsnotify.Watcher
	done    chan struct{}
	once    sync.Once
}

// NewReloader creates a stopped Reloader for path. onChange runs on the
// watcher goroutine; callers are responsible for their own locking.
func NewReloader(path string, onChange func(*Config)) *Reloader {
	return &Reloader{
		path:     path,
		onChange: onChange,
		done:     make(chan struct{}),
	}
}

// Start begins watching. It is an error to start a Reloader twice.
func (r *Reloader) Start() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	r.watcher = watcher

	if err := watcher.Add(filepath.Dir(r.path)); err != nil {
		_ = watcher.Close()
		return err
	}

	if data, err := os.ReadFile(r.path); err == nil {
		r.lastHash = hashBytes(data)
	}

	go r.loop()
	return nil
}

// Stop terminates the watcher. Safe to call multiple times.
func (r *Reloader) Stop() {
	r.once.Do(func() {
		close(r.done)
		if r.watcher != nil {
			_ = r.watcher.Close()
		}
	})
}

func (r *Reloader) loop() {
	for {
		select {
		case <-r.done:
			return
		case event, ok := <-r.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(r.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			r.scheduleReload()
		case err, ok := <-r.watcher.Errors:
			if !ok {
				return
			}
			log.Errorf("config watcher error: %v", err)
		}
	}
}

// scheduleReload debounces bursts of write events into a single reload.
func (r *Reloader) scheduleReload() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.timer != nil {
		r.timer.Stop()
	}
	r.timer = time.AfterFunc(reloadDebounce, func() {
		r.mu.Lock()
		r.timer = nil
		r.mu.Unlock()
		r.reloadIfChanged()
	})
}

func (r *Reloader) reloadIfChanged() {
	data, err := os.ReadFile(r.path)
	if err != nil {
		log.Errorf("failed to read config file for hash check: %v", err)
		return
	}
	if len(data) == 0 {
		log.Debug("ignoring empty config file write event")
		return
	}

	newHash := hashBytes(data)

	r.mu.Lock()
	unchanged := r.lastHash != "" && r.lastHash == newHash
	r.mu.Unlock()
	if unchanged {
		log.Debug("config file content unchanged, skipping reload")
		return
	}

	cfg, err := Load(r.path)
	if err != nil {
		log.Errorf("config reload failed, keeping previous config: %v", err)
		return
	}

	r.mu.Lock()
	r.lastHash = newHash
	r.mu.Unlock()

	log.Infof("config file changed, reloaded: %s", r.path)
	if r.onChange != nil {
		r.onChange(cfg)
	}
}

func hashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
