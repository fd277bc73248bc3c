package loop

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/forgeloop/forgeloop/workspace"
)

// readContext assembles the implementer's working context: the project spec,
// the status document, the recent evaluation history, and a bounded view of
// the workspace.
func (c *Controller) readContext() (string, error) {
	spec, err := os.ReadFile(filepath.Join(c.projectDir, "spec.md"))
	if err != nil {
		return "", fmt.Errorf("read spec.md: %w", err)
	}
	status, err := os.ReadFile(filepath.Join(c.projectDir, "status.md"))
	if err != nil {
		return "", fmt.Errorf("read status.md: %w", err)
	}

	evalLog, err := os.ReadFile(filepath.Join(c.projectDir, "eval_log.md"))
	if err != nil && !os.IsNotExist(err) {
		return "", fmt.Errorf("read eval_log.md: %w", err)
	}
	tail := string(evalLog)
	if c.cfg.EvalLogTailChars > 0 && len(tail) > c.cfg.EvalLogTailChars {
		tail = tail[len(tail)-c.cfg.EvalLogTailChars:]
	}

	files, err := workspace.List(c.workspaceDir, c.cfg.IgnoreGlobs)
	if err != nil {
		return "", err
	}
	excerpts, err := workspace.Excerpts(c.workspaceDir, c.cfg.IgnoreGlobs,
		c.cfg.PromptFileLimit, c.cfg.PromptCharsPerFile)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# spec.md\n%s\n\n", spec)
	fmt.Fprintf(&b, "# status.md\n%s\n\n", status)
	fmt.Fprintf(&b, "# eval_log.md (recent)\n%s\n\n", tail)
	fmt.Fprintf(&b, "# workspace files\n%s\n\n", workspace.FormatListing(files))
	fmt.Fprintf(&b, "# workspace file contents (excerpt)\n%s\n", excerpts)
	return b.String(), nil
}

// implementerPrompt wraps the context with the implementer's instructions
// and, on a retry, the evaluation feedback from the failed attempt.
func implementerPrompt(context, feedback string) string {
	feedbackSection := ""
	if feedback != "" {
		feedbackSection = fmt.Sprintf(
			"\n# Feedback on the previous attempt\n%s\nFix the cause of the failure before anything else.\n",
			feedback)
	}

	return fmt.Sprintf(`You are an autonomous web implementation agent.
Read the context below and output exactly one JSON object.

%s%s
Rules:
- Follow spec.md and status.md at all times
- Make small, concrete, testable changes
- Keep the code in a working state
- When editing existing files, do not break working features

JSON schema:
{
  "thought": "a short reason for this change",
  "action_type": "init|add_feature|improve_ui|fix_bug|refactor",
  "files": [{"path":"index.html","content":"..."}],
  "implemented_features": ["..."],
  "ui_elements": ["#id", ".class"],
  "assertions": [
    {"type":"file_exists","path":"index.html"},
    {"type":"text_in_file","path":"index.html","text":"Start"},
    {"type":"selector_exists","selector":"#app"}
  ],
  "commit_message": "feat: ...",
  "status_update": "plan for the next iteration",
  "todo_done": ["..."],
  "todo_add": ["..."]
}`, context, feedbackSection)
}
