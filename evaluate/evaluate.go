// Package evaluate decides whether a generated workspace passes an iteration.
// All checks are static: a required entry file, declared UI element presence,
// and declarative assertions. The loop treats the verdict as opaque.
package evaluate

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/net/html"

	"github.com/forgeloop/forgeloop/llm"
)

// Result is the evaluation verdict for one attempt.
type Result struct {
	// Passed reports whether every check succeeded.
	Passed bool
	// Reason names the first failing check; empty on a pass.
	Reason string
	// Note carries informational detail for the evaluation log.
	Note string
}

// Evaluator runs static checks against a workspace directory.
type Evaluator struct {
	workspace    string
	requiredFile string
	logger       *slog.Logger
}

// New creates an Evaluator. requiredFile defaults to index.html.
func New(workspace, requiredFile string, logger *slog.Logger) *Evaluator {
	if requiredFile == "" {
		requiredFile = "index.html"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Evaluator{workspace: workspace, requiredFile: requiredFile, logger: logger}
}

// Evaluate runs every check in order and stops at the first failure.
func (e *Evaluator) Evaluate(implementedFeatures, uiElements []string, assertions []llm.Assertion) Result {
	if !e.fileExists(e.requiredFile) {
		return Result{Reason: fmt.Sprintf("%s does not exist", e.requiredFile)}
	}

	missing, skipped, err := e.checkUIElements(uiElements)
	if err != nil {
		return Result{Reason: fmt.Sprintf("scan %s: %v", e.requiredFile, err)}
	}
	uiNote := ""
	if len(skipped) > 0 {
		uiNote = "skipped selectors: " + strings.Join(skipped, ", ")
	}
	if len(missing) > 0 {
		return Result{
			Reason: "missing UI elements: " + strings.Join(missing, ", "),
			Note:   uiNote,
		}
	}

	assertNote, failures := e.runAssertions(assertions)
	if len(failures) > 0 {
		return Result{Reason: strings.Join(failures, "; ")}
	}

	notes := []string{fmt.Sprintf("features:%d", len(implementedFeatures))}
	for _, n := range []string{uiNote, assertNote} {
		if n != "" {
			notes = append(notes, n)
		}
	}
	return Result{Passed: true, Note: strings.Join(notes, " | ")}
}

func (e *Evaluator) fileExists(rel string) bool {
	if rel == "" {
		return false
	}
	_, err := os.Stat(filepath.Join(e.workspace, filepath.FromSlash(rel)))
	return err == nil
}

// checkUIElements verifies that each "#id" or ".class" selector appears in
// the required file. Selectors in any other form are skipped, not failed.
func (e *Evaluator) checkUIElements(selectors []string) (missing, skipped []string, err error) {
	if len(selectors) == 0 {
		return nil, nil, nil
	}

	ids, classes, err := e.scanRequiredFile()
	if err != nil {
		return nil, nil, err
	}

	for _, sel := range selectors {
		switch {
		case strings.HasPrefix(sel, "#"):
			if !ids[sel[1:]] {
				missing = append(missing, sel)
			}
		case strings.HasPrefix(sel, "."):
			if !classes[sel[1:]] {
				missing = append(missing, sel)
			}
		default:
			skipped = append(skipped, sel)
		}
	}
	return missing, skipped, nil
}

// scanRequiredFile tokenizes the required HTML file and collects every id
// and class attribute value.
func (e *Evaluator) scanRequiredFile() (ids, classes map[string]bool, err error) {
	f, err := os.Open(filepath.Join(e.workspace, filepath.FromSlash(e.requiredFile)))
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()

	ids = make(map[string]bool)
	classes = make(map[string]bool)

	z := html.NewTokenizer(f)
	for {
		switch z.Next() {
		case html.ErrorToken:
			// Tokenization errors at EOF are normal; a malformed document
			// simply yields whatever was scanned before the error.
			return ids, classes, nil
		case html.StartTagToken, html.SelfClosingTagToken:
			token := z.Token()
			for _, attr := range token.Attr {
				switch attr.Key {
				case "id":
					if attr.Val != "" {
						ids[attr.Val] = true
					}
				case "class":
					for _, c := range strings.Fields(attr.Val) {
						classes[c] = true
					}
				}
			}
		}
	}
}

// runAssertions executes each declarative assertion. Unknown types fail the
// assertion rather than silently passing.
func (e *Evaluator) runAssertions(assertions []llm.Assertion) (note string, failures []string) {
	if len(assertions) == 0 {
		return "", nil
	}

	for i, a := range assertions {
		switch a.Type {
		case "file_exists":
			path := strings.TrimSpace(a.Path)
			if path == "" || !e.fileExists(path) {
				failures = append(failures, fmt.Sprintf("file_exists failed: %s", path))
			}

		case "text_in_file":
			path := strings.TrimSpace(a.Path)
			if path == "" || !e.fileExists(path) {
				failures = append(failures, fmt.Sprintf("text_in_file: no such file: %s", path))
				continue
			}
			data, err := os.ReadFile(filepath.Join(e.workspace, filepath.FromSlash(path)))
			if err != nil {
				failures = append(failures, fmt.Sprintf("text_in_file: read %s: %v", path, err))
				continue
			}
			if !strings.Contains(string(data), a.Text) {
				failures = append(failures, fmt.Sprintf("text_in_file: text missing in %s", path))
			}

		case "selector_exists":
			sel := strings.TrimSpace(a.Selector)
			missing, _, err := e.checkUIElements([]string{sel})
			if err != nil || len(missing) > 0 {
				failures = append(failures, fmt.Sprintf("selector_exists failed: %s", sel))
			}

		default:
			failures = append(failures, fmt.Sprintf("assertions[%d]: unsupported type: %s", i, a.Type))
		}
	}

	if len(failures) == 0 {
		note = fmt.Sprintf("all %d assertions passed", len(assertions))
	}
	return note, failures
}
