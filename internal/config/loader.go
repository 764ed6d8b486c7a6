// Copyright The pipa-project Authors.
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"fmt"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/go-logr/logr"
)

// FSLoader loads a config file and republishes it on every change. The
// parent directory is watched rather than the file itself so atomic
// replace-by-rename (the way editors and configmap mounts update files)
// is still observed.
type FSLoader struct {
	mu sync.RWMutex

	path    string
	watcher *fsnotify.Watcher
	logger  logr.Logger
	done    chan struct{}
	wg      sync.WaitGroup
	subs    []chan Config
	closed  bool

	current Config
}

// NewFSLoader loads the config file at path and starts watching it.
func NewFSLoader(path string, logger logr.Logger) (*FSLoader, error) {
	fsLogger := logger.WithName("config.loader.fs")
	path = filepath.Clean(path)

	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create filesystem watcher: %w", err)
	}

	if err := watcher.Add(filepath.Dir(path)); err != nil {
		if cerr := watcher.Close(); cerr != nil {
			fsLogger.Error(cerr, "failed to close fs watcher")
		}
		return nil, fmt.Errorf("failed to watch config directory: %w", err)
	}

	fl := &FSLoader{
		path:    path,
		watcher: watcher,
		logger:  fsLogger,
		done:    make(chan struct{}),
		current: cfg,
	}

	fl.wg.Add(1)
	go fl.processEvents()

	return fl, nil
}

// Current returns the most recently loaded valid config.
func (fl *FSLoader) Current() Config {
	fl.mu.RLock()
	defer fl.mu.RUnlock()
	return fl.current
}

// Watch returns a channel that receives the current config immediately
// and a new Config after every successful reload. Invalid file contents
// keep the previous config and are only logged.
func (fl *FSLoader) Watch() <-chan Config {
	ch := make(chan Config, 1)

	fl.mu.Lock()
	defer fl.mu.Unlock()
	if fl.closed {
		close(ch)
		return ch
	}
	ch <- fl.current
	fl.subs = append(fl.subs, ch)
	return ch
}

// Close stops the watcher and closes all Watch channels.
func (fl *FSLoader) Close() error {
	close(fl.done)
	fl.wg.Wait()

	fl.mu.Lock()
	fl.closed = true
	for _, ch := range fl.subs {
		close(ch)
	}
	fl.subs = nil
	fl.mu.Unlock()

	return fl.watcher.Close()
}

func (fl *FSLoader) processEvents() {
	defer fl.wg.Done()
	for {
		select {
		case <-fl.done:
			return
		case event, ok := <-fl.watcher.Events:
			if !ok {
				return
			}
			fl.handleEvent(event)
		case err, ok := <-fl.watcher.Errors:
			if !ok {
				return
			}
			fl.logger.Error(err, "filesystem watcher error")
		}
	}
}

func (fl *FSLoader) handleEvent(event fsnotify.Event) {
	if filepath.Clean(event.Name) != fl.path {
		return
	}

	fl.logger.V(1).Info("received file event", "file", event.Name, "op", event.Op)

	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) && !event.Has(fsnotify.Rename) {
		return
	}

	cfg, err := Load(fl.path)
	if err != nil {
		fl.logger.Error(err, "failed to reload config file, keeping previous config", "path", fl.path)
		return
	}

	fl.mu.Lock()
	fl.current = cfg
	subs := make([]chan Config, len(fl.subs))
	copy(subs, fl.subs)
	fl.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- cfg:
		case <-fl.done:
			return
		default:
			// A subscriber that is not draining only misses intermediate
			// versions. Current() always has the latest.
		}
	}
}
