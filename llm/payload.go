package llm

import (
	"encoding/json"
	"fmt"
)

// FileChange is one file the backend wants written into the workspace.
type FileChange struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

// Assertion is a declarative check the evaluator runs against the workspace.
// Type selects the check; the remaining fields are its parameters.
type Assertion struct {
	Type     string `json:"type"`
	Path     string `json:"path,omitempty"`
	Text     string `json:"text,omitempty"`
	Selector string `json:"selector,omitempty"`
}

// Payload is the validated structured result of one generation call.
// A payload is rejected wholesale if any required key is absent or mistyped;
// optional fields default to empty on acceptance.
type Payload struct {
	Thought             string       `json:"thought"`
	ActionType          string       `json:"action_type"`
	Files               []FileChange `json:"files"`
	ImplementedFeatures []string     `json:"implemented_features"`
	UIElements          []string     `json:"ui_elements"`
	Assertions          []Assertion  `json:"assertions"`
	CommitMessage       string       `json:"commit_message"`
	StatusUpdate        string       `json:"status_update"`
	TodoDone            []string     `json:"todo_done"`
	TodoAdd             []string     `json:"todo_add"`
}

// requiredKeys must all be present for a payload to be accepted.
var requiredKeys = []string{"files", "commit_message", "status_update", "todo_done", "todo_add"}

// ParsePayload parses and schema-validates a structured payload.
// The returned error names the specific violation so the extractor can build
// a corrective re-prompt from it. Validation is a typed check returning a
// result-or-reason, not exception-driven control flow.
func ParsePayload(data []byte) (*Payload, error) {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("invalid JSON syntax: %w", err)
	}

	for _, key := range requiredKeys {
		if _, ok := raw[key]; !ok {
			return nil, fmt.Errorf("missing required key: %s", key)
		}
	}

	p := &Payload{
		ActionType:          "add_feature",
		ImplementedFeatures: []string{},
		UIElements:          []string{},
		Assertions:          []Assertion{},
		TodoDone:            []string{},
		TodoAdd:             []string{},
	}

	var err error
	if p.Files, err = parseFiles(raw["files"]); err != nil {
		return nil, err
	}
	if p.CommitMessage, err = parseString(raw, "commit_message"); err != nil {
		return nil, err
	}
	if p.StatusUpdate, err = parseString(raw, "status_update"); err != nil {
		return nil, err
	}
	if p.TodoDone, err = parseStringList(raw, "todo_done"); err != nil {
		return nil, err
	}
	if p.TodoAdd, err = parseStringList(raw, "todo_add"); err != nil {
		return nil, err
	}

	// Optional fields: absent means empty, present means well-typed.
	if _, ok := raw["implemented_features"]; ok {
		if p.ImplementedFeatures, err = parseStringList(raw, "implemented_features"); err != nil {
			return nil, err
		}
	}
	if _, ok := raw["ui_elements"]; ok {
		if p.UIElements, err = parseStringList(raw, "ui_elements"); err != nil {
			return nil, err
		}
	}
	if _, ok := raw["assertions"]; ok {
		if p.Assertions, err = parseAssertions(raw["assertions"]); err != nil {
			return nil, err
		}
	}
	if v, ok := raw["thought"].(string); ok {
		p.Thought = v
	}
	if v, ok := raw["action_type"].(string); ok && v != "" {
		p.ActionType = v
	}

	return p, nil
}

func parseFiles(v any) ([]FileChange, error) {
	list, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("files must be an array")
	}

	files := make([]FileChange, 0, len(list))
	seen := make(map[string]bool, len(list))
	for i, item := range list {
		obj, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("files[%d] must be an object", i)
		}
		path, ok := obj["path"].(string)
		if !ok || path == "" {
			return nil, fmt.Errorf("files[%d].path must be a non-empty string", i)
		}
		if seen[path] {
			return nil, fmt.Errorf("files[%d].path duplicates %q", i, path)
		}
		seen[path] = true
		content, ok := obj["content"].(string)
		if !ok {
			return nil, fmt.Errorf("files[%d].content must be a string", i)
		}
		files = append(files, FileChange{Path: path, Content: content})
	}
	return files, nil
}

func parseString(raw map[string]any, key string) (string, error) {
	s, ok := raw[key].(string)
	if !ok {
		return "", fmt.Errorf("%s must be a string", key)
	}
	return s, nil
}

func parseStringList(raw map[string]any, key string) ([]string, error) {
	list, ok := raw[key].([]any)
	if !ok {
		return nil, fmt.Errorf("%s must be an array", key)
	}
	out := make([]string, 0, len(list))
	for i, item := range list {
		s, ok := item.(string)
		if !ok {
			return nil, fmt.Errorf("%s[%d] must be a string", key, i)
		}
		out = append(out, s)
	}
	return out, nil
}

func parseAssertions(v any) ([]Assertion, error) {
	list, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("assertions must be an array")
	}

	out := make([]Assertion, 0, len(list))
	for i, item := range list {
		obj, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("assertions[%d] must be an object", i)
		}
		var a Assertion
		if a.Type, ok = obj["type"].(string); !ok {
			return nil, fmt.Errorf("assertions[%d].type must be a string", i)
		}
		a.Path, _ = obj["path"].(string)
		a.Text, _ = obj["text"].(string)
		a.Selector, _ = obj["selector"].(string)
		out = append(out, a)
	}
	return out, nil
}
