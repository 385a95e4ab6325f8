package config

import (
	"fmt"

	"github.com/fsnotify/fsnotify"
)

// WatchFile calls onChange every time path is written or replaced, until
// done is closed. Watcher errors go to onError. Editors that save by
// renaming a temp file over the original produce a Rename; the watch is
// re-added so later saves are still seen.
func WatchFile(path string, onChange func(), onError func(error), done <-chan struct{}) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("can't create watcher: %w", err)
	}
	if err := watcher.Add(path); err != nil {
		watcher.Close()
		return fmt.Errorf("can't watch %s: %w", path, err)
	}
	go func() {
		// ignore close error
		defer watcher.Close()
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				if event.Op&fsnotify.Rename != 0 {
					// the old inode is gone; follow the new file at the same path
					_ = watcher.Remove(path)
					if err := watcher.Add(path); err != nil && onError != nil {
						onError(err)
					}
				}
				onChange()
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				if onError != nil {
					onError(err)
				}
			case <-done:
				return
			}
		}
	}()
	return nil
}

// Watch reloads the engine config at path on every change and delivers
// valid results to configs. Invalid files are reported on errs and the
// previous config stays in effect.
func Watch(path string, configs chan<- Engine, errs chan<- error, done <-chan struct{}) error {
	report := func(err error) {
		select {
		case errs <- err:
		case <-done:
		}
	}
	return WatchFile(path, func() {
		e, err := Load(path)
		if err != nil {
			report(err)
			return
		}
		select {
		case configs <- e:
		case <-done:
		}
	}, report, done)
}
