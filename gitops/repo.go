// Package gitops wraps the git CLI for the loop's commit/push contract.
// The loop only depends on three facts: a commit either lands or reports
// "nothing changed", commit subjects carry the iteration tag, and pushes are
// best-effort on a configurable cadence.
package gitops

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// stageCandidates are the paths committed each iteration, when present.
var stageCandidates = []string{
	"workspace", "assets", "status.md", "eval_log.md", "spec.md", "brief.txt",
}

// defaultGitignore keeps loop-internal state out of version control.
const defaultGitignore = "snapshots/\n.env\n"

// Runner executes one git command in dir and returns its combined streams.
type Runner func(ctx context.Context, dir string, args ...string) (stdout, stderr string, err error)

// Repo manages the project's git repository.
type Repo struct {
	dir       string
	remoteURL string
	pushEvery int
	run       Runner
	logger    *slog.Logger
}

// Option configures a Repo.
type Option func(*Repo)

// WithRunner replaces the git CLI runner. Used by tests.
func WithRunner(run Runner) Option {
	return func(r *Repo) {
		r.run = run
	}
}

// WithRepoLogger sets the logger.
func WithRepoLogger(logger *slog.Logger) Option {
	return func(r *Repo) {
		r.logger = logger
	}
}

// NewRepo creates a Repo over the project directory. pushEvery of 0 or below
// disables pushing entirely.
func NewRepo(dir, remoteURL string, pushEvery int, opts ...Option) *Repo {
	r := &Repo{
		dir:       dir,
		remoteURL: remoteURL,
		pushEvery: pushEvery,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.run == nil {
		r.run = execGit
	}
	return r
}

func execGit(ctx context.Context, dir string, args ...string) (string, string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir

	var stdout, stderr strings.Builder
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	return stdout.String(), stderr.String(), err
}

// Init prepares the repository: a .gitignore for loop-internal state, an
// initialized repo on a main branch, and the remote when one is configured.
// An already-initialized repository keeps its existing remote.
func (r *Repo) Init(ctx context.Context) error {
	gitignore := filepath.Join(r.dir, ".gitignore")
	if _, err := os.Stat(gitignore); os.IsNotExist(err) {
		if err := os.WriteFile(gitignore, []byte(defaultGitignore), 0644); err != nil {
			return fmt.Errorf("write .gitignore: %w", err)
		}
	}

	if _, err := os.Stat(filepath.Join(r.dir, ".git")); os.IsNotExist(err) {
		if _, stderr, err := r.run(ctx, r.dir, "init"); err != nil {
			return fmt.Errorf("git init: %s: %w", strings.TrimSpace(stderr), err)
		}
		if _, stderr, err := r.run(ctx, r.dir, "checkout", "-b", "main"); err != nil {
			return fmt.Errorf("git checkout -b main: %s: %w", strings.TrimSpace(stderr), err)
		}
		r.logger.Info("Initialized git repository", "dir", r.dir)
	}

	if stdout, _, err := r.run(ctx, r.dir, "remote", "get-url", "origin"); err == nil {
		r.remoteURL = strings.TrimSpace(stdout)
		r.logger.Info("Using existing remote", "url", r.remoteURL)
		return nil
	}

	if r.remoteURL != "" {
		if _, stderr, err := r.run(ctx, r.dir, "remote", "add", "origin", r.remoteURL); err != nil {
			return fmt.Errorf("git remote add: %s: %w", strings.TrimSpace(stderr), err)
		}
		r.logger.Info("Configured remote", "url", r.remoteURL)
	} else {
		r.logger.Info("No remote configured, commits stay local")
	}
	return nil
}

// Commit stages the loop's known paths and commits with the iteration tag.
// It returns false with a nil error when there was nothing to commit; that
// outcome feeds the no-change stop condition and must not abort the loop.
func (r *Repo) Commit(ctx context.Context, message string, iteration int) (bool, error) {
	r.stage(ctx)

	subject := fmt.Sprintf("[iter-%04d] %s", iteration, message)
	stdout, stderr, err := r.run(ctx, r.dir, "commit", "-m", subject)
	if err == nil {
		r.logger.Info("Committed", "subject", subject)
		return true, nil
	}

	combined := strings.ToLower(stdout + stderr)
	if strings.Contains(combined, "nothing to commit") {
		r.logger.Info("Nothing to commit")
		return false, nil
	}

	return false, fmt.Errorf("git commit: %s: %w", strings.TrimSpace(stderr), err)
}

// stage adds the known project paths, falling back to everything when none
// of them exist yet.
func (r *Repo) stage(ctx context.Context) {
	var existing []string
	for _, candidate := range stageCandidates {
		if _, err := os.Stat(filepath.Join(r.dir, candidate)); err == nil {
			existing = append(existing, candidate)
		}
	}

	args := []string{"add", "."}
	if len(existing) > 0 {
		args = append([]string{"add", "--"}, existing...)
	}
	if _, stderr, err := r.run(ctx, r.dir, args...); err != nil {
		r.logger.Warn("git add failed", "error", err, "stderr", strings.TrimSpace(stderr))
	}
}

// Push pushes main to origin. Failures are logged, not returned: publishing
// is a convenience, and the loop must keep running offline.
func (r *Repo) Push(ctx context.Context) {
	if r.remoteURL == "" {
		r.logger.Debug("No remote configured, skipping push")
		return
	}

	if _, stderr, err := r.run(ctx, r.dir, "push", "-u", "origin", "main"); err != nil {
		r.logger.Warn("Push failed", "error", err, "stderr", strings.TrimSpace(stderr))
		return
	}
	r.logger.Info("Pushed to remote")
}

// ShouldPush reports whether this iteration falls on the push cadence.
func (r *Repo) ShouldPush(iteration int) bool {
	return r.pushEvery > 0 && iteration%r.pushEvery == 0
}
