package workspace

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
)

// snapshotsDirName is the snapshot area under the project directory. It sits
// outside the workspace so snapshots never snapshot themselves.
const snapshotsDirName = "snapshots"

// Handle identifies one stored snapshot.
type Handle struct {
	dir string
}

// Name returns the snapshot directory name, e.g. "iter-0004-pre".
func (h Handle) Name() string {
	return filepath.Base(h.dir)
}

// Store takes and restores whole-workspace snapshots. Retention is bounded:
// once more than keep snapshots exist, the oldest by creation order are
// pruned. Creation order is tracked explicitly rather than recovered from
// directory names, so stage suffixes cannot reorder pruning.
type Store struct {
	workspace string
	root      string
	keep      int
	logger    *slog.Logger

	// handles holds live snapshots oldest-first.
	handles []Handle
}

// NewStore creates a Store for the given workspace, keeping at most keep
// snapshots under projectDir/snapshots.
func NewStore(projectDir, workspace string, keep int, logger *slog.Logger) *Store {
	if keep < 1 {
		keep = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		workspace: workspace,
		root:      filepath.Join(projectDir, snapshotsDirName),
		keep:      keep,
		logger:    logger,
	}
}

// Take copies the entire workspace into a new snapshot directory named after
// the iteration and stage. Pruning of old snapshots is best-effort: a failed
// removal is logged and never fails the snapshot.
func (s *Store) Take(iteration int, stage string) (Handle, error) {
	dir := filepath.Join(s.root, fmt.Sprintf("iter-%04d-%s", iteration, stage))

	if err := os.RemoveAll(dir); err != nil {
		return Handle{}, fmt.Errorf("clear stale snapshot %s: %w", dir, err)
	}
	if err := copyTree(s.workspace, dir); err != nil {
		return Handle{}, fmt.Errorf("snapshot workspace: %w", err)
	}

	h := Handle{dir: dir}
	s.handles = append(s.handles, h)
	s.prune()

	s.logger.Debug("Snapshot taken", "snapshot", h.Name())
	return h, nil
}

// Restore replaces the workspace contents wholesale with the snapshot.
func (s *Store) Restore(h Handle) error {
	if _, err := os.Stat(h.dir); err != nil {
		return fmt.Errorf("snapshot %s unavailable: %w", h.Name(), err)
	}

	if err := os.RemoveAll(s.workspace); err != nil {
		return fmt.Errorf("clear workspace: %w", err)
	}
	if err := copyTree(h.dir, s.workspace); err != nil {
		return fmt.Errorf("restore snapshot %s: %w", h.Name(), err)
	}

	s.logger.Info("Workspace restored from snapshot", "snapshot", h.Name())
	return nil
}

func (s *Store) prune() {
	for len(s.handles) > s.keep {
		oldest := s.handles[0]
		s.handles = s.handles[1:]
		if err := os.RemoveAll(oldest.dir); err != nil {
			s.logger.Warn("Failed to prune snapshot", "snapshot", oldest.Name(), "error", err)
		}
	}
}

// copyTree recursively copies src into dst, creating dst.
func copyTree(src, dst string) error {
	return filepath.WalkDir(src, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}

		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)

		if d.IsDir() {
			return os.MkdirAll(target, 0755)
		}
		return copyFile(path, target)
	})
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return err
	}
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}
