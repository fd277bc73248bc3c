// Package bootstrap scaffolds a project directory from a brief file: the
// directory layout, a generated spec, and the initial status and evaluation
// log documents the loop operates on.
package bootstrap

import (
	"context"
	"embed"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/forgeloop/forgeloop/llm"
)

//go:embed templates/*.md
var templatesFS embed.FS

// Project describes a scaffolded project.
type Project struct {
	Name   string
	Slug   string
	Genre  string
	GitHub string
	Dir    string
}

// Bootstrapper turns a brief into a ready-to-iterate project directory.
type Bootstrapper struct {
	sender llm.Sender
	logger *slog.Logger
	now    func() time.Time
}

// New creates a Bootstrapper. sender generates the project spec; a nil
// sender falls back to writing the brief and template verbatim.
func New(sender llm.Sender, logger *slog.Logger) *Bootstrapper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bootstrapper{sender: sender, logger: logger, now: time.Now}
}

// Run parses the brief file and scaffolds the project under projectsDir.
// Re-running over an existing project refreshes the scaffold but never
// truncates an existing status.md or eval_log.md.
func (b *Bootstrapper) Run(ctx context.Context, briefPath, projectsDir string) (*Project, error) {
	raw, err := os.ReadFile(briefPath)
	if err != nil {
		return nil, fmt.Errorf("read brief: %w", err)
	}
	brief := ParseBrief(string(raw))

	b.logger.Info("Bootstrapping project",
		"name", brief.Name,
		"genre", brief.Genre,
		"slug", brief.Slug)

	dir := filepath.Join(projectsDir, brief.Slug)
	for _, sub := range []string{
		"workspace",
		filepath.Join("assets", "images"),
		filepath.Join("assets", "fonts"),
		filepath.Join("assets", "icons"),
		"snapshots",
	} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0755); err != nil {
			return nil, fmt.Errorf("create project layout: %w", err)
		}
	}

	template, err := loadTemplate(brief.Genre)
	if err != nil {
		return nil, err
	}

	spec, err := b.generateSpec(ctx, brief, template)
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(filepath.Join(dir, "spec.md"), []byte(spec), 0644); err != nil {
		return nil, fmt.Errorf("write spec.md: %w", err)
	}

	if err := writeIfMissing(filepath.Join(dir, "status.md"), b.initialStatus(brief)); err != nil {
		return nil, err
	}
	if err := writeIfMissing(filepath.Join(dir, "eval_log.md"), b.initialEvalLog()); err != nil {
		return nil, err
	}
	if err := os.WriteFile(filepath.Join(dir, "brief.txt"), raw, 0644); err != nil {
		return nil, fmt.Errorf("write brief.txt: %w", err)
	}

	return &Project{
		Name:   brief.Name,
		Slug:   brief.Slug,
		Genre:  brief.Genre,
		GitHub: brief.GitHub,
		Dir:    dir,
	}, nil
}

// loadTemplate combines the base stack rules with the genre template,
// falling back to the website template for unknown genres.
func loadTemplate(genre string) (string, error) {
	base, err := templatesFS.ReadFile("templates/_base_stack.md")
	if err != nil {
		return "", fmt.Errorf("load base template: %w", err)
	}

	genreTmpl, err := templatesFS.ReadFile("templates/" + genre + ".md")
	if err != nil {
		genreTmpl, err = templatesFS.ReadFile("templates/website.md")
		if err != nil {
			return "", fmt.Errorf("load website template: %w", err)
		}
	}

	return string(base) + "\n\n" + string(genreTmpl), nil
}

// generateSpec asks the backend for a project spec built from the brief and
// template. Without a sender the combined source material becomes the spec.
func (b *Bootstrapper) generateSpec(ctx context.Context, brief *Brief, template string) (string, error) {
	if b.sender == nil {
		return fmt.Sprintf("# spec.md\n\n%s\n\n## Brief\n\n%s\n", template, brief.Raw), nil
	}

	prompt := fmt.Sprintf(`Create spec.md for an autonomous web project based on the brief and template.

# brief.txt
%s

# template
%s

Requirements:
- Respect forbidden rules
- Include concrete stack and implementation boundaries
- Include a clear iteration checklist for the implementer
- Output markdown only
`, brief.Raw, template)

	spec, err := b.sender.Send(ctx, prompt)
	if err != nil {
		return "", fmt.Errorf("generate spec: %w", err)
	}
	return spec, nil
}

func (b *Bootstrapper) initialStatus(brief *Brief) string {
	todoLines := "- [ ] Create index.html and initial layout"
	if len(brief.Todo) > 0 {
		var lines []string
		for _, item := range brief.Todo {
			lines = append(lines, "- [ ] "+item)
		}
		todoLines = strings.Join(lines, "\n")
	}

	return fmt.Sprintf(`# status.md

## Project
%s

## Current Iteration
iter-0000

## TODO
%s

## Next Iteration Plan
Create the initial HTML/CSS/JS skeleton and verify rendering.

## Notes
Initialized at %s
`, brief.Name, todoLines, b.now().Format("2006-01-02 15:04"))
}

func (b *Bootstrapper) initialEvalLog() string {
	return fmt.Sprintf(`# eval_log.md

## iter-0000 | %s
- action: bootstrap
- result: INIT
- note: initial project scaffold created
`, b.now().Format("2006-01-02 15:04"))
}

func writeIfMissing(path, content string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	return nil
}
