package providers

import (
	"encoding/json"
	"testing"

	"github.com/forgeloop/forgeloop/llm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOllamaProvider_BuildURL(t *testing.T) {
	p := &OllamaProvider{}

	tests := []struct {
		name    string
		baseURL string
		want    string
	}{
		{
			name:    "empty uses default",
			baseURL: "",
			want:    "http://localhost:11434/v1/chat/completions",
		},
		{
			name:    "custom base URL",
			baseURL: "http://gpu-box:8000/v1",
			want:    "http://gpu-box:8000/v1/chat/completions",
		},
		{
			name:    "already complete",
			baseURL: "http://gpu-box:8000/v1/chat/completions",
			want:    "http://gpu-box:8000/v1/chat/completions",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, p.BuildURL(tt.baseURL))
		})
	}
}

func TestOllamaProvider_BuildRequestBody(t *testing.T) {
	p := &OllamaProvider{}

	body, err := p.BuildRequestBody("qwen2.5-coder", []llm.Message{
		{Role: "system", Content: "be brief"},
		{Role: "user", Content: "hello"},
	}, nil, 0)
	require.NoError(t, err)

	var req map[string]any
	require.NoError(t, json.Unmarshal(body, &req))
	assert.Equal(t, "qwen2.5-coder", req["model"])
	// System messages pass through unchanged in the OpenAI format.
	msgs := req["messages"].([]any)
	assert.Len(t, msgs, 2)
	// max_tokens omitted when not set
	_, hasMax := req["max_tokens"]
	assert.False(t, hasMax)
}

func TestOllamaProvider_ParseResponse(t *testing.T) {
	p := &OllamaProvider{}

	body := []byte(`{
		"id": "cmpl-1",
		"object": "chat.completion",
		"model": "qwen2.5-coder",
		"choices": [
			{"index": 0, "message": {"role": "assistant", "content": "hi there"}, "finish_reason": "stop"}
		]
	}`)

	resp, err := p.ParseResponse(body, "qwen2.5-coder")
	require.NoError(t, err)
	assert.Equal(t, "hi there", resp.Content)
	assert.Equal(t, "stop", resp.FinishReason)
}

func TestOllamaProvider_ParseResponse_NoChoices(t *testing.T) {
	p := &OllamaProvider{}
	_, err := p.ParseResponse([]byte(`{"choices": []}`), "m")
	assert.Error(t, err)
}

func TestOllamaProvider_ModelsURL(t *testing.T) {
	p := &OllamaProvider{}

	tests := []struct {
		name    string
		baseURL string
		want    string
	}{
		{
			name:    "empty uses default",
			baseURL: "",
			want:    "http://localhost:11434/v1/models",
		},
		{
			name:    "custom base",
			baseURL: "http://gpu-box:8000/v1",
			want:    "http://gpu-box:8000/v1/models",
		},
		{
			name:    "full chat URL is rewound",
			baseURL: "http://gpu-box:8000/v1/chat/completions",
			want:    "http://gpu-box:8000/v1/models",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, p.ModelsURL(tt.baseURL))
		})
	}
}
