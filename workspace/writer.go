// Package workspace manages the mutable artifact directory: validated file
// writes, point-in-time snapshots with rollback, prompt-context listings, and
// detection of external modification between iterations.
package workspace

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/forgeloop/forgeloop/llm"
)

// Writer applies generated file changes inside a single root directory.
// Paths that escape the root are skipped and logged, never written: one
// hostile path must not abort an otherwise good batch.
type Writer struct {
	root   string
	logger *slog.Logger
}

// NewWriter creates a Writer confined to root, creating it if needed.
func NewWriter(root string, logger *slog.Logger) (*Writer, error) {
	if logger == nil {
		logger = slog.Default()
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve workspace root: %w", err)
	}
	if err := os.MkdirAll(abs, 0755); err != nil {
		return nil, fmt.Errorf("create workspace root: %w", err)
	}
	return &Writer{root: abs, logger: logger}, nil
}

// Root returns the absolute workspace root.
func (w *Writer) Root() string {
	return w.root
}

// WriteFiles writes each change under the workspace root, creating parent
// directories as needed. It returns the relative paths actually written.
func (w *Writer) WriteFiles(files []llm.FileChange) ([]string, error) {
	written := make([]string, 0, len(files))
	for _, f := range files {
		if f.Path == "" {
			continue
		}

		target, err := w.resolve(f.Path)
		if err != nil {
			w.logger.Warn("Skipping unsafe path", "path", f.Path, "error", err)
			continue
		}

		if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
			return written, fmt.Errorf("create parent directory for %s: %w", f.Path, err)
		}
		if err := os.WriteFile(target, []byte(f.Content), 0644); err != nil {
			return written, fmt.Errorf("write %s: %w", f.Path, err)
		}

		w.logger.Info("Wrote file", "path", f.Path, "bytes", len(f.Content))
		written = append(written, f.Path)
	}
	return written, nil
}

// resolve validates a path and maps it to an absolute location inside the
// workspace root.
func (w *Writer) resolve(path string) (string, error) {
	if filepath.IsAbs(path) {
		return "", fmt.Errorf("absolute paths are not allowed")
	}

	full := filepath.Clean(filepath.Join(w.root, path))
	if full != w.root && !strings.HasPrefix(full, w.root+string(filepath.Separator)) {
		return "", fmt.Errorf("path escapes workspace root")
	}
	if full == w.root {
		return "", fmt.Errorf("path resolves to the workspace root itself")
	}
	return full, nil
}
