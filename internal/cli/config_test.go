package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigShow_RedactsSecrets(t *testing.T) {
	tmp := t.TempDir()
	path := filepath.Join(tmp, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
auth:
  token: super-secret
providers:
  anthropic:
    kind: anthropic
    api_key: sk-ant-secret
    base_url: https://api.anthropic.com
`), 0644))

	cmd := newConfigCmd()
	cmd.SetArgs([]string{"show", "--config", path})

	origStdout := os.Stdout
	r, w, err := os.Pipe()
	require.NoError(t, err)
	os.Stdout = w

	require.NoError(t, cmd.Execute())

	w.Close()
	os.Stdout = origStdout

	var buf bytes.Buffer
	buf.ReadFrom(r)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))

	auth := decoded["Auth"].(map[string]any)
	assert.Equal(t, "********", auth["Token"])

	providers := decoded["Providers"].(map[string]any)
	anthropic := providers["anthropic"].(map[string]any)
	assert.Equal(t, "********", anthropic["APIKey"])
}
