package urlcache

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Materialize links (or, failing that, copies) a cached media file into
// outputDir under a fresh name, so each job gets its own path even when
// reusing cached content.
func Materialize(cachedPath, outputDir string, nowMillis int64) (string, error) {
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return "", fmt.Errorf("urlcache: create output dir: %w", err)
	}
	ext := strings.ToLower(filepath.Ext(cachedPath))
	if ext == "" {
		ext = ".mp4"
	}
	target := filepath.Join(outputDir, fmt.Sprintf("source_cache_%d%s", nowMillis, ext))

	if err := os.Link(cachedPath, target); err == nil {
		return target, nil
	}
	if err := copyFile(cachedPath, target); err != nil {
		return "", fmt.Errorf("urlcache: materialize cached file: %w", err)
	}
	return target, nil
}
