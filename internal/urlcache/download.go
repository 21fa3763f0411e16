package urlcache

import (
	"context"
	"fmt"
	"time"
)

// ProgressFunc reports download progress as a 0-100 percent and a short status message.
type ProgressFunc func(percent int, message string)

// Ingestor resolves a submitted URL into a local media file, preferring a
// cached copy and falling back to a yt-dlp download.
type Ingestor struct {
	store                *Store
	configuredExecutable string
	defaultTimeout       time.Duration
}

// NewIngestor builds an Ingestor backed by store, using configuredExecutable
// (if non-empty) as the preferred yt-dlp binary ahead of PATH discovery.
func NewIngestor(store *Store, configuredExecutable string, defaultTimeout time.Duration) *Ingestor {
	if defaultTimeout <= 0 {
		defaultTimeout = 900 * time.Second
	}
	return &Ingestor{store: store, configuredExecutable: configuredExecutable, defaultTimeout: defaultTimeout}
}

// Ingest normalizes sourceURL, serves a cache hit by materializing it into
// outputDir, or else downloads via yt-dlp and stores the result for reuse.
// It returns the local file path ready for the next pipeline stage.
func (ing *Ingestor) Ingest(ctx context.Context, sourceURL, outputDir string, onProgress ProgressFunc) (string, error) {
	normalized, err := NormalizeSourceURL(sourceURL)
	if err != nil {
		return "", err
	}

	if cachedPath, hit, err := ing.store.Lookup(normalized); err != nil {
		return "", fmt.Errorf("urlcache: lookup: %w", err)
	} else if hit {
		if onProgress != nil {
			onProgress(95, "reusing cached source media")
		}
		materialized, err := Materialize(cachedPath, outputDir, time.Now().UnixMilli())
		if err != nil {
			return "", err
		}
		if onProgress != nil {
			onProgress(100, "cached source media ready")
		}
		return materialized, nil
	}

	commands := resolveYTDLPCommands(ing.configuredExecutable)
	if len(commands) == 0 {
		return "", ErrYTDLPNotAvailable
	}

	var lastErr error
	for _, cmd := range commands {
		downloaded, err := runDownload(ctx, cmd, normalized, outputDir, ing.defaultTimeout, onProgress)
		if err == nil {
			if storeErr := ing.store.Store(normalized, downloaded); storeErr != nil {
				// A cache-write failure doesn't invalidate a successful download.
				_ = storeErr
			}
			return downloaded, nil
		}
		var cmdErr *CommandError
		if asCommandError(err, &cmdErr) {
			lastErr = cmdErr
			continue
		}
		return "", err
	}

	if lastErr != nil {
		return "", fmt.Errorf("%w: %s", ErrDownloadFailed, lastErr)
	}
	return "", ErrDownloadFailed
}

func asCommandError(err error, target **CommandError) bool {
	if ce, ok := err.(*CommandError); ok {
		*target = ce
		return true
	}
	return false
}
