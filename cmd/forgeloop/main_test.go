package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := rootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestConfigInit(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	_, err := execute(t, "config", "init")
	require.NoError(t, err)

	path := filepath.Join(home, ".config", "forgeloop", "config.yaml")
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "backends:")
	assert.Contains(t, string(data), "gemini-2.5-pro")
}

func TestConfigInit_KeepsExistingFile(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	path := filepath.Join(home, ".config", "forgeloop", "config.yaml")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte("# customized\n"), 0644))

	_, err := execute(t, "config", "init")
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "# customized\n", string(data))
}

func TestProvidersCommand(t *testing.T) {
	out, err := execute(t, "providers")
	require.NoError(t, err)

	for _, name := range []string{"anthropic", "ollama", "openai"} {
		assert.Contains(t, out, name)
	}
}

func TestRun_RequiresBriefOrProject(t *testing.T) {
	_, err := execute(t, "run")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--brief or --project")
}
