// Package flagfile manages the completion marker the service manager
// checks to decide whether first-boot setup still needs to run.
package flagfile

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultPath is where the completion marker lives unless configured
// otherwise.
const DefaultPath = "/var/lib/plasma-setup/setup-complete"

// nowFunc is replaced in tests for a stable timestamp.
var nowFunc = time.Now

// Write creates the marker file with a UTC timestamp line and makes it
// world-readable, so unprivileged services can check it too.
func Write(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", filepath.Dir(path), err)
	}

	line := fmt.Sprintf("Setup completed at %s\n", nowFunc().UTC().Format(time.RFC3339))
	if err := os.WriteFile(path, []byte(line), 0o644); err != nil {
		return fmt.Errorf("writing completion marker %s: %w", path, err)
	}
	// WriteFile honors the umask; the marker must be world-readable.
	if err := os.Chmod(path, 0o644); err != nil {
		return fmt.Errorf("setting completion marker permissions: %w", err)
	}
	return nil
}

// Exists reports whether the marker is present.
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// Wait blocks until the marker appears or ctx is done. Services that
// must not start before setup finishes use this instead of polling.
func Wait(ctx context.Context, path string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", dir, err)
	}
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watching %s: %w", dir, err)
	}

	// The marker may have appeared before the watch was in place.
	if Exists(path) {
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return fmt.Errorf("watcher closed")
			}
			if event.Name == path && event.Op.Has(fsnotify.Create|fsnotify.Write) {
				return nil
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return fmt.Errorf("watcher closed")
			}
			return fmt.Errorf("watching %s: %w", dir, err)
		}
	}
}
