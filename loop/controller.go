// Package loop drives the iteration state machine: snapshot, generate,
// evaluate, then commit or roll back, with exactly one feedback retry per
// iteration. The loop is strictly sequential; nothing here runs attempts
// concurrently.
package loop

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/forgeloop/forgeloop/backend"
	"github.com/forgeloop/forgeloop/evaluate"
	"github.com/forgeloop/forgeloop/events"
	"github.com/forgeloop/forgeloop/llm"
	"github.com/forgeloop/forgeloop/metrics"
	"github.com/forgeloop/forgeloop/statusdoc"
	"github.com/forgeloop/forgeloop/workspace"
)

// StructuredAsker produces one validated payload per call, or (nil, nil)
// when the backend could not be coaxed into valid output.
type StructuredAsker interface {
	AskStructured(ctx context.Context, prompt string) (*llm.Payload, error)
}

// FileWriter applies generated file changes to the workspace.
type FileWriter interface {
	WriteFiles(files []llm.FileChange) ([]string, error)
}

// ArtifactEvaluator judges the workspace after an attempt.
type ArtifactEvaluator interface {
	Evaluate(implementedFeatures, uiElements []string, assertions []llm.Assertion) evaluate.Result
}

// Snapshotter takes and restores workspace snapshots.
type Snapshotter interface {
	Take(iteration int, stage string) (workspace.Handle, error)
	Restore(h workspace.Handle) error
}

// Committer is the version-control contract the loop depends on.
type Committer interface {
	Commit(ctx context.Context, message string, iteration int) (bool, error)
	Push(ctx context.Context)
	ShouldPush(iteration int) bool
}

// BackendRefresher exposes the dispatcher operations the loop calls between
// iterations.
type BackendRefresher interface {
	Refresh()
	Current() (backend.Backend, bool)
}

// Config holds the loop tunables. Stop-condition values of 0 or below
// disable that condition.
type Config struct {
	MaxIterations     int
	MaxMinutes        int
	StopAfterPasses   int
	StopAfterNoChange int
	Interval          time.Duration

	PromptFileLimit    int
	PromptCharsPerFile int
	EvalLogTailChars   int
	IgnoreGlobs        []string
}

// Deps are the collaborators the controller composes. Extractor, Writer,
// Evaluator, Store, and Repo are required; the rest default to no-ops.
type Deps struct {
	Extractor  StructuredAsker
	Writer     FileWriter
	Evaluator  ArtifactEvaluator
	Store      Snapshotter
	Repo       Committer
	Dispatcher BackendRefresher
	Emitter    events.Emitter
	Metrics    *metrics.Metrics
	Guard      *workspace.Guard
	Logger     *slog.Logger
}

// Controller runs the iteration loop over one project directory.
type Controller struct {
	cfg          Config
	projectDir   string
	workspaceDir string
	deps         Deps

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error

	started           time.Time
	iteration         int
	consecutivePasses int
	noChangeStreak    int
	lastBackend       string
}

// Option configures a Controller.
type Option func(*Controller)

// WithClock sets the time source. Used by tests.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) {
		c.now = now
	}
}

// WithSleep sets the between-iteration wait function. Used by tests.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(c *Controller) {
		c.sleep = sleep
	}
}

// NewController creates a Controller.
func NewController(projectDir, workspaceDir string, cfg Config, deps Deps, opts ...Option) (*Controller, error) {
	switch {
	case deps.Extractor == nil:
		return nil, fmt.Errorf("extractor is required")
	case deps.Writer == nil:
		return nil, fmt.Errorf("writer is required")
	case deps.Evaluator == nil:
		return nil, fmt.Errorf("evaluator is required")
	case deps.Store == nil:
		return nil, fmt.Errorf("snapshot store is required")
	case deps.Repo == nil:
		return nil, fmt.Errorf("repo is required")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Emitter == nil {
		deps.Emitter = events.NewLogEmitter(deps.Logger)
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.New(prometheus.NewRegistry())
	}

	c := &Controller{
		cfg:          cfg,
		projectDir:   projectDir,
		workspaceDir: workspaceDir,
		deps:         deps,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.sleep == nil {
		c.sleep = func(ctx context.Context, d time.Duration) error {
			timer := time.NewTimer(d)
			defer timer.Stop()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-timer.C:
				return nil
			}
		}
	}
	return c, nil
}

// Run executes iterations until a stop condition fires, the context is
// cancelled, or the dispatcher exhausts its retry budget. A final push is
// attempted on every exit path.
func (c *Controller) Run(ctx context.Context) error {
	c.started = c.now()
	defer c.deps.Repo.Push(ctx)

	for {
		if err := ctx.Err(); err != nil {
			c.emitStopped("cancelled")
			return err
		}

		if err := c.runIteration(ctx); err != nil {
			c.deps.Logger.Error("Loop aborted", "iteration", c.iteration, "error", err)
			if llm.IsExhausted(err) {
				c.deps.Metrics.RetryBudgetExhaustedTotal.Inc()
			}
			c.emitStopped(err.Error())
			return err
		}

		if stop, reason := c.shouldStop(); stop {
			c.deps.Logger.Info("Loop finished", "reason", reason, "iterations", c.iteration)
			c.emitStopped(reason)
			return nil
		}

		if c.deps.Guard != nil {
			if err := c.deps.Guard.Arm(); err != nil {
				c.deps.Logger.Warn("Failed to arm workspace guard", "error", err)
			}
		}
		if c.cfg.Interval > 0 {
			if err := c.sleep(ctx, c.cfg.Interval); err != nil {
				c.emitStopped("cancelled")
				return err
			}
		}
	}
}

func (c *Controller) runIteration(ctx context.Context) error {
	c.iteration++

	if c.deps.Guard != nil {
		c.deps.Guard.Disarm()
	}

	c.emit(events.TypeIterationStarted, "")
	c.deps.Logger.Info("Iteration started",
		"iteration", c.iteration,
		"elapsed", c.elapsed().Truncate(time.Second))

	// Give a recovered better-ranked backend a chance before generating.
	if c.deps.Dispatcher != nil {
		c.deps.Dispatcher.Refresh()
		c.noteBackendSwitch()
	}

	pre, err := c.deps.Store.Take(c.iteration, "pre")
	if err != nil {
		return fmt.Errorf("pre-attempt snapshot: %w", err)
	}

	payload, result, err := c.attempt(ctx, "")
	if err != nil {
		return err
	}
	c.noteBackendSwitch()

	if !result.Passed {
		c.deps.Logger.Warn("First attempt failed", "reason", result.Reason)
		if err := c.deps.Store.Restore(pre); err != nil {
			return fmt.Errorf("rollback before retry: %w", err)
		}
		payload, result, err = c.attempt(ctx, "evaluation failed: "+result.Reason)
		if err != nil {
			return err
		}
		c.noteBackendSwitch()
	}

	if result.Passed {
		return c.completePass(ctx, pre, payload, result)
	}
	return c.completeFail(ctx, pre, payload, result)
}

// attempt runs one generate/write/evaluate pass. A payload the extractor
// could not validate counts as an evaluation failure, not an error.
func (c *Controller) attempt(ctx context.Context, feedback string) (*llm.Payload, evaluate.Result, error) {
	promptCtx, err := c.readContext()
	if err != nil {
		return nil, evaluate.Result{}, err
	}

	payload, err := c.deps.Extractor.AskStructured(ctx, implementerPrompt(promptCtx, feedback))
	if err != nil {
		return nil, evaluate.Result{}, err
	}
	if payload == nil {
		c.deps.Metrics.AttemptsTotal.WithLabelValues("malformed").Inc()
		return nil, evaluate.Result{Reason: "implementer output was not a valid payload"}, nil
	}

	written, err := c.deps.Writer.WriteFiles(payload.Files)
	if err != nil {
		return nil, evaluate.Result{}, fmt.Errorf("write files: %w", err)
	}
	c.deps.Logger.Info("Applied file changes", "action", payload.ActionType, "files", len(written))

	result := c.deps.Evaluator.Evaluate(payload.ImplementedFeatures, payload.UIElements, payload.Assertions)
	if result.Passed {
		c.deps.Metrics.AttemptsTotal.WithLabelValues("pass").Inc()
	} else {
		c.deps.Metrics.AttemptsTotal.WithLabelValues("fail").Inc()
	}
	return payload, result, nil
}

func (c *Controller) completePass(ctx context.Context, pre workspace.Handle, payload *llm.Payload, result evaluate.Result) error {
	c.deps.Logger.Info("Iteration passed", "iteration", c.iteration, "note", result.Note)
	c.emit(events.TypeAttemptPassed, result.Note)

	if err := c.updateStatus(payload); err != nil {
		c.deps.Logger.Warn("Failed to update status document", "error", err)
	}

	commitMsg := payload.CommitMessage
	if commitMsg == "" {
		commitMsg = fmt.Sprintf("iter-%04d", c.iteration)
	}
	committed, err := c.deps.Repo.Commit(ctx, commitMsg, c.iteration)
	if err != nil {
		c.deps.Logger.Warn("Commit failed", "error", err)
	}
	if committed {
		c.noChangeStreak = 0
		c.emit(events.TypeIterationCommitted, commitMsg)
	} else {
		c.noChangeStreak++
	}

	c.consecutivePasses++
	c.deps.Metrics.IterationsTotal.WithLabelValues("pass").Inc()
	c.deps.Metrics.ConsecutivePasses.Set(float64(c.consecutivePasses))

	if c.deps.Repo.ShouldPush(c.iteration) {
		c.deps.Repo.Push(ctx)
	}
	if _, err := c.deps.Store.Take(c.iteration, "post-pass"); err != nil {
		c.deps.Logger.Warn("Post-pass snapshot failed", "error", err)
	}

	return c.appendEvalLog(payload.ActionType, commitMsg, "PASS", result.Note)
}

func (c *Controller) completeFail(ctx context.Context, pre workspace.Handle, payload *llm.Payload, result evaluate.Result) error {
	c.deps.Logger.Warn("Iteration failed after retry", "iteration", c.iteration, "reason", result.Reason)
	c.emit(events.TypeAttemptFailed, result.Reason)

	if err := c.deps.Store.Restore(pre); err != nil {
		return fmt.Errorf("rollback after failed iteration: %w", err)
	}

	c.consecutivePasses = 0
	c.deps.Metrics.IterationsTotal.WithLabelValues("fail").Inc()
	c.deps.Metrics.ConsecutivePasses.Set(0)

	if _, err := c.deps.Store.Take(c.iteration, "post-fail"); err != nil {
		c.deps.Logger.Warn("Post-fail snapshot failed", "error", err)
	}

	action, commitMsg := "", ""
	if payload != nil {
		action, commitMsg = payload.ActionType, payload.CommitMessage
	}
	return c.appendEvalLog(action, commitMsg, "FAIL", result.Reason)
}

// updateStatus merges the payload's bookkeeping into status.md.
func (c *Controller) updateStatus(payload *llm.Payload) error {
	path := filepath.Join(c.projectDir, "status.md")
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	doc := statusdoc.Parse(data)
	for _, item := range payload.TodoDone {
		doc.MarkDone(item)
	}
	for _, item := range payload.TodoAdd {
		doc.AddIfMissing(item)
	}
	doc.SetCurrentIteration(c.iteration)
	if payload.StatusUpdate != "" {
		doc.ReplaceSectionBody(statusdoc.NextPlanHeadings, payload.StatusUpdate)
	}

	return os.WriteFile(path, doc.Bytes(), 0644)
}

// appendEvalLog appends one entry per iteration, pass or fail.
func (c *Controller) appendEvalLog(action, commitMsg, result, note string) error {
	path := filepath.Join(c.projectDir, "eval_log.md")
	entry := fmt.Sprintf("\n## iter-%04d | %s | elapsed %s\n- action: %s\n- commit: %s\n- result: %s\n- note: %s\n",
		c.iteration,
		c.now().Format("2006-01-02 15:04"),
		c.elapsed().Truncate(time.Second),
		action, commitMsg, result, note)

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("open eval log: %w", err)
	}
	defer f.Close()

	if _, err := f.WriteString(entry); err != nil {
		return fmt.Errorf("append eval log: %w", err)
	}
	return nil
}

// shouldStop evaluates the stop conditions in a fixed order; the first one
// that fires wins.
func (c *Controller) shouldStop() (bool, string) {
	if c.cfg.MaxIterations > 0 && c.iteration >= c.cfg.MaxIterations {
		return true, fmt.Sprintf("reached max iterations (%d)", c.cfg.MaxIterations)
	}
	if c.cfg.MaxMinutes > 0 {
		if elapsed := c.elapsed().Minutes(); elapsed >= float64(c.cfg.MaxMinutes) {
			return true, fmt.Sprintf("reached max runtime (%d minutes)", c.cfg.MaxMinutes)
		}
	}
	if c.cfg.StopAfterPasses > 0 && c.consecutivePasses >= c.cfg.StopAfterPasses {
		return true, fmt.Sprintf("reached %d consecutive passes", c.cfg.StopAfterPasses)
	}
	if c.cfg.StopAfterNoChange > 0 && c.noChangeStreak >= c.cfg.StopAfterNoChange {
		return true, fmt.Sprintf("no changes for %d iterations", c.cfg.StopAfterNoChange)
	}
	return false, ""
}

func (c *Controller) elapsed() time.Duration {
	return c.now().Sub(c.started)
}

func (c *Controller) currentBackend() string {
	if c.deps.Dispatcher == nil {
		return ""
	}
	if b, ok := c.deps.Dispatcher.Current(); ok {
		return b.Name
	}
	return ""
}

// noteBackendSwitch emits a switch event when the dispatcher's selection
// changed since the last observation. The controller is the only source of
// switch events, so every one carries the iteration it occurred in. Rotations
// inside the very first request have no prior observation and are reported by
// the dispatcher's log output only.
func (c *Controller) noteBackendSwitch() {
	cur := c.currentBackend()
	if cur == "" {
		return
	}
	if c.lastBackend != "" && c.lastBackend != cur {
		c.emit(events.TypeBackendSwitched, c.lastBackend+" -> "+cur)
	}
	c.lastBackend = cur
}

func (c *Controller) emit(eventType, detail string) {
	c.deps.Emitter.Emit(events.New(eventType, c.iteration, c.currentBackend(), detail))
}

func (c *Controller) emitStopped(reason string) {
	c.emit(events.TypeLoopStopped, reason)
}
