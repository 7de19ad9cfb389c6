package config

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// DefaultDebounce coalesces the burst of events editors emit on save.
const DefaultDebounce = 500 * time.Millisecond

// ErrNoConfigFile is returned by Watch when Load did not read a file.
var ErrNoConfigFile = errors.New("config: no config file to watch")

// Watch re-reads the file behind v whenever it changes and hands the new
// configuration to onChange. Reload failures go to onError and the previous
// configuration stays in effect. Watch blocks until ctx is done.
//
// The parent directory is watched rather than the file so that editors
// which save by rename are followed.
func Watch(ctx context.Context, v *viper.Viper, debounce time.Duration, onChange func(*Config), onError func(error)) error {
	file := v.ConfigFileUsed()
	if file == "" {
		return ErrNoConfigFile
	}
	abs, err := filepath.Abs(file)
	if err != nil {
		return fmt.Errorf("config: resolve %s: %w", file, err)
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	if onError == nil {
		onError = func(error) {}
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config: create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("config: watch %s: %w", filepath.Dir(abs), err)
	}

	timer := time.NewTimer(debounce)
	if !timer.Stop() {
		<-timer.C
	}

	for {
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != abs {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			timer.Reset(debounce)
		case <-timer.C:
			if err := v.ReadInConfig(); err != nil {
				onError(fmt.Errorf("reload config: %w", err))
				continue
			}
			cfg, err := decode(v)
			if err != nil {
				onError(err)
				continue
			}
			onChange(cfg)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			onError(fmt.Errorf("config watcher: %w", err))
		}
	}
}
