package recording

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// StartCleanupTicker runs a background goroutine that periodically removes
// .wav files under dir older than maxAge. maxAge <= 0 disables cleanup. The
// goroutine stops when ctx is cancelled.
func StartCleanupTicker(ctx context.Context, dir string, maxAge, interval time.Duration, logger *slog.Logger) {
	if maxAge <= 0 {
		return
	}
	logger = logger.With("subsystem", "recording-cleanup", "dir", dir)

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				sweep(dir, maxAge, logger)
			}
		}
	}()
}

func sweep(dir string, maxAge time.Duration, logger *slog.Logger) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Error("recording cleanup: reading directory failed", "error", err)
		}
		return
	}

	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".wav" {
			continue
		}
		info, err := entry.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			logger.Warn("failed to remove expired recording", "path", path, "error", err)
			continue
		}
		removed++
	}
	if removed > 0 {
		logger.Info("recording retention cleanup", "removed", removed, "max_age", maxAge)
	}
}
