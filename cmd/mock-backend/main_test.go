package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const payloadFixture = `{
  "files": [{"path": "index.html", "content": "<html></html>"}],
  "commit_message": "scaffold the page",
  "status_update": {"todo_done": [], "todo_add": []}
}`

func writeFixture(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func postChat(t *testing.T, srv *server, model string) *httptest.ResponseRecorder {
	t.Helper()
	body := `{"model": "` + model + `", "messages": [{"role": "user", "content": "go"}]}`
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(body))
	rec := httptest.NewRecorder()
	srv.handleChatCompletions(rec, req)
	return rec
}

func assistantContent(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var resp chatResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Choices, 1)
	return resp.Choices[0].Message.Content
}

func TestLoadFixtures(t *testing.T) {
	dir := t.TempDir()
	writeFixture(t, dir, "gemini-2.5-pro.json", payloadFixture)
	writeFixture(t, dir, "gemini-2.5-flash.1.json", `{"a": 1}`)
	writeFixture(t, dir, "gemini-2.5-flash.2.json", `{"a": 2}`)
	writeFixture(t, dir, "gemini-2.5-flash.json", `{"a": 3}`)
	writeFixture(t, dir, "notes.txt", "ignored")

	fixtures, err := loadFixtures(dir)
	require.NoError(t, err)

	assert.Len(t, fixtures["gemini-2.5-pro"], 1)
	require.Len(t, fixtures["gemini-2.5-flash"], 3)
	assert.Contains(t, fixtures["gemini-2.5-flash"][0], `"a": 1`)
	assert.Contains(t, fixtures["gemini-2.5-flash"][1], `"a": 2`)
	assert.Contains(t, fixtures["gemini-2.5-flash"][2], `"a": 3`)
}

func TestLoadFixtures_Empty(t *testing.T) {
	_, err := loadFixtures(t.TempDir())
	assert.Error(t, err)
}

func TestLoadFixtures_InvalidJSON(t *testing.T) {
	dir := t.TempDir()
	writeFixture(t, dir, "broken.json", "{not json")
	_, err := loadFixtures(dir)
	assert.Error(t, err)
}

func TestChatCompletions(t *testing.T) {
	srv := newServer(map[string][]string{
		"gemini-2.5-pro": {payloadFixture},
	})

	rec := postChat(t, srv, "gemini-2.5-pro")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, assistantContent(t, rec), "scaffold the page")
}

func TestChatCompletions_SequenceThenRepeat(t *testing.T) {
	srv := newServer(map[string][]string{
		"gemini-2.5-pro": {`{"step": 1}`, `{"step": 2}`},
	})

	for i, want := range []string{`"step": 1`, `"step": 2`, `"step": 2`} {
		rec := postChat(t, srv, "gemini-2.5-pro")
		require.Equal(t, http.StatusOK, rec.Code, "call %d", i+1)
		assert.Contains(t, assistantContent(t, rec), want, "call %d", i+1)
	}
}

func TestChatCompletions_UnknownModel(t *testing.T) {
	srv := newServer(map[string][]string{"gemini-2.5-pro": {payloadFixture}})

	rec := postChat(t, srv, "no-such-model")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestChatCompletions_FailureInjection(t *testing.T) {
	srv := newServer(map[string][]string{
		"gemini-2.5-pro": {
			`{"__status": 429, "__message": "retry after 30 seconds"}`,
			payloadFixture,
		},
	})

	rec := postChat(t, srv, "gemini-2.5-pro")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Contains(t, rec.Body.String(), "retry after 30 seconds")

	rec = postChat(t, srv, "gemini-2.5-pro")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestStats(t *testing.T) {
	srv := newServer(map[string][]string{"gemini-2.5-pro": {payloadFixture}})
	postChat(t, srv, "gemini-2.5-pro")
	postChat(t, srv, "gemini-2.5-pro")

	rec := httptest.NewRecorder()
	srv.handleStats(rec, httptest.NewRequest(http.MethodGet, "/stats", nil))

	var stats struct {
		TotalCalls   int            `json:"total_calls"`
		CallsByModel map[string]int `json:"calls_by_model"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, 2, stats.TotalCalls)
	assert.Equal(t, 2, stats.CallsByModel["gemini-2.5-pro"])
}
