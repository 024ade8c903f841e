// Package changelog watches a markdown changelog and triggers a broadcast
// whenever its latest section changes version.
package changelog

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/rewired-gh/soulwatch/internal/logger"
	"github.com/rewired-gh/soulwatch/internal/notifier"
)

// Broadcaster delivers a changelog version to every tenant at most once.
type Broadcaster interface {
	BroadcastChangelog(ctx context.Context, version, body string) (notifier.BroadcastReport, error)
}

// Watcher periodically reads the changelog file.
type Watcher struct {
	path        string
	interval    time.Duration
	broadcaster Broadcaster
}

// NewWatcher creates a Watcher for the file at path.
func NewWatcher(path string, interval time.Duration, b Broadcaster) *Watcher {
	return &Watcher{path: path, interval: interval, broadcaster: b}
}

// Latest extracts the first "## " section of a markdown changelog. The version
// is the heading text; the body is the section without its heading.
func Latest(content string) (version, body string, ok bool) {
	var lines []string
	in := false
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimRight(line, "\r")
		if strings.HasPrefix(line, "## ") {
			if in {
				break
			}
			in = true
			version = strings.Trim(line, "# ")
			continue
		}
		if in {
			lines = append(lines, line)
		}
	}
	if !in || version == "" {
		return "", "", false
	}
	return version, strings.TrimSpace(strings.Join(lines, "\n")), true
}

// Check reads the file and broadcasts its latest section. A missing file is
// not an error.
func (w *Watcher) Check(ctx context.Context) error {
	data, err := os.ReadFile(w.path)
	if errors.Is(err, fs.ErrNotExist) {
		logger.Debug("Changelog %s not found, nothing to broadcast", w.path)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read changelog: %w", err)
	}

	version, body, ok := Latest(string(data))
	if !ok {
		logger.Warn("Changelog %s has no \"## \" section", w.path)
		return nil
	}
	if _, err := w.broadcaster.BroadcastChangelog(ctx, version, body); err != nil {
		return fmt.Errorf("failed to broadcast changelog %s: %w", version, err)
	}
	return nil
}

// Run checks immediately and then on every interval until ctx is done.
func (w *Watcher) Run(ctx context.Context) {
	logger.Info("Watching changelog %s (interval: %v)", w.path, w.interval)
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		if err := w.Check(ctx); err != nil {
			logger.Warn("Changelog check failed: %v", err)
		}
		select {
		case <-ctx.Done():
			logger.Info("Changelog watcher stopped")
			return
		case <-ticker.C:
		}
	}
}
