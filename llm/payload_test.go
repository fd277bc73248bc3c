package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validPayloadJSON() string {
	return `{
		"thought": "add the header",
		"action_type": "add_feature",
		"files": [{"path": "index.html", "content": "<html></html>"}],
		"implemented_features": ["page skeleton"],
		"ui_elements": ["#app"],
		"assertions": [{"type": "selector_exists", "selector": "#app"}],
		"commit_message": "add page skeleton",
		"status_update": "skeleton in place",
		"todo_done": ["create index.html"],
		"todo_add": ["style the header"]
	}`
}

func TestParsePayload_Valid(t *testing.T) {
	p, err := ParsePayload([]byte(validPayloadJSON()))
	require.NoError(t, err)

	assert.Equal(t, "add_feature", p.ActionType)
	require.Len(t, p.Files, 1)
	assert.Equal(t, "index.html", p.Files[0].Path)
	assert.Equal(t, "add page skeleton", p.CommitMessage)
	assert.Equal(t, []string{"create index.html"}, p.TodoDone)
	assert.Equal(t, []string{"style the header"}, p.TodoAdd)
	require.Len(t, p.Assertions, 1)
	assert.Equal(t, "selector_exists", p.Assertions[0].Type)
	assert.Equal(t, "#app", p.Assertions[0].Selector)
}

func TestParsePayload_OptionalDefaults(t *testing.T) {
	minimal := `{
		"files": [],
		"commit_message": "noop",
		"status_update": "",
		"todo_done": [],
		"todo_add": []
	}`

	p, err := ParsePayload([]byte(minimal))
	require.NoError(t, err)

	assert.Equal(t, "add_feature", p.ActionType)
	assert.Empty(t, p.Files)
	assert.NotNil(t, p.ImplementedFeatures)
	assert.NotNil(t, p.UIElements)
	assert.NotNil(t, p.Assertions)
}

func TestParsePayload_Violations(t *testing.T) {
	tests := []struct {
		name    string
		json    string
		wantErr string
	}{
		{
			name:    "not json",
			json:    "hello",
			wantErr: "invalid JSON syntax",
		},
		{
			name:    "missing files",
			json:    `{"commit_message": "m", "status_update": "", "todo_done": [], "todo_add": []}`,
			wantErr: "missing required key: files",
		},
		{
			name:    "missing commit message",
			json:    `{"files": [], "status_update": "", "todo_done": [], "todo_add": []}`,
			wantErr: "missing required key: commit_message",
		},
		{
			name:    "files not an array",
			json:    `{"files": "index.html", "commit_message": "m", "status_update": "", "todo_done": [], "todo_add": []}`,
			wantErr: "files must be an array",
		},
		{
			name:    "file entry missing path",
			json:    `{"files": [{"content": "x"}], "commit_message": "m", "status_update": "", "todo_done": [], "todo_add": []}`,
			wantErr: "files[0].path must be a non-empty string",
		},
		{
			name:    "file content mistyped",
			json:    `{"files": [{"path": "a", "content": 3}], "commit_message": "m", "status_update": "", "todo_done": [], "todo_add": []}`,
			wantErr: "files[0].content must be a string",
		},
		{
			name:    "duplicate path",
			json:    `{"files": [{"path": "a", "content": ""}, {"path": "a", "content": ""}], "commit_message": "m", "status_update": "", "todo_done": [], "todo_add": []}`,
			wantErr: "files[1].path duplicates",
		},
		{
			name:    "todo entry mistyped",
			json:    `{"files": [], "commit_message": "m", "status_update": "", "todo_done": [1], "todo_add": []}`,
			wantErr: "todo_done[0] must be a string",
		},
		{
			name:    "commit message mistyped",
			json:    `{"files": [], "commit_message": 7, "status_update": "", "todo_done": [], "todo_add": []}`,
			wantErr: "commit_message must be a string",
		},
		{
			name:    "assertion missing type",
			json:    `{"files": [], "commit_message": "m", "status_update": "", "todo_done": [], "todo_add": [], "assertions": [{"path": "a"}]}`,
			wantErr: "assertions[0].type must be a string",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := ParsePayload([]byte(tt.json))
			require.Error(t, err)
			assert.Nil(t, p)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
