package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
)

// FileCleanupInput is the executor input for file_cleanup schedules.
// Pattern is a glob matched against base names, defaulting to every file.
// MaxAgeHours of zero removes matches regardless of age.
type FileCleanupInput struct {
	Dir         string `json:"dir"`
	Pattern     string `json:"pattern,omitempty"`
	MaxAgeHours int    `json:"max_age_hours,omitempty"`
	Recursive   bool   `json:"recursive,omitempty"`
}

// FileCleanupHandler removes aged files under a confined base directory.
type FileCleanupHandler struct {
	logger  *zap.Logger
	baseDir string
}

// NewFileCleanupHandler creates a handler confined to baseDir. Cleanup
// requests escaping it are rejected.
func NewFileCleanupHandler(logger *zap.Logger, baseDir string) *FileCleanupHandler {
	return &FileCleanupHandler{
		logger:  logger,
		baseDir: filepath.Clean(baseDir),
	}
}

// Execute removes matching files and reports how many were deleted.
func (h *FileCleanupHandler) Execute(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
	var in FileCleanupInput
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, fmt.Errorf("failed to unmarshal input: %w", err)
	}

	dir := filepath.Clean(filepath.Join(h.baseDir, in.Dir))
	if dir != h.baseDir && !strings.HasPrefix(dir, h.baseDir+string(filepath.Separator)) {
		return nil, fmt.Errorf("dir must be within base directory")
	}

	pattern := in.Pattern
	if pattern == "" {
		pattern = "*"
	}
	if _, err := filepath.Match(pattern, ""); err != nil {
		return nil, fmt.Errorf("invalid pattern: %w", err)
	}

	var cutoff time.Time
	if in.MaxAgeHours > 0 {
		cutoff = time.Now().Add(-time.Duration(in.MaxAgeHours) * time.Hour)
	}

	h.logger.Info("Executing file cleanup",
		zap.String("dir", dir),
		zap.String("pattern", pattern),
		zap.Int("max_age_hours", in.MaxAgeHours))

	var removed int
	var freed int64

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if cerr := ctx.Err(); cerr != nil {
			return cerr
		}
		if d.IsDir() {
			if path != dir && !in.Recursive {
				return filepath.SkipDir
			}
			return nil
		}

		matched, _ := filepath.Match(pattern, d.Name())
		if !matched {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		if !cutoff.IsZero() && info.ModTime().After(cutoff) {
			return nil
		}

		if err := os.Remove(path); err != nil {
			return fmt.Errorf("failed to remove %s: %w", path, err)
		}
		removed++
		freed += info.Size()
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("cleanup failed: %w", err)
	}

	result, err := json.Marshal(map[string]int64{
		"removed":     int64(removed),
		"freed_bytes": freed,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal result: %w", err)
	}
	return result, nil
}
