package cli

import (
	"bytes"
	"encoding/json"
	"io"
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

// isolateEnv clears the variables config.Load reads so the host
// environment cannot leak into a test.
func isolateEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"CARDFILE_DATA_DIR", "CARDFILE_LOCK_MODE", "CARDFILE_LOCK_TIMEOUT", "CARDFILE_LOCK_RETRY",
		"CARDFILE_STRICT_HISTORY", "CARDFILE_INDEX", "CARDFILE_LOG_LEVEL",
	} {
		if v, ok := os.LookupEnv(k); ok {
			t.Setenv(k, v) // restored on cleanup
			require.NoError(t, os.Unsetenv(k))
		}
	}
	t.Setenv("CARDFILE_LOCK_MODE", "create")
	t.Setenv("CARDFILE_LOCK_TIMEOUT", "2s")
	t.Setenv("CARDFILE_LOCK_RETRY", "5ms")
}

// runCLI executes the root command against dataDir and returns stdout.
func runCLI(t *testing.T, dataDir string, args ...string) (string, error) {
	t.Helper()

	out := &bytes.Buffer{}
	cmd := NewRootCommand()
	cmd.SetOut(out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(append([]string{"--data-dir", dataDir, "--env-file", dataDir + "/.env"}, args...))
	err := cmd.Execute()
	return out.String(), err
}

// mustRunCLI is runCLI for steps that must succeed.
func mustRunCLI(t *testing.T, dataDir string, args ...string) string {
	t.Helper()
	out, err := runCLI(t, dataDir, args...)
	require.NoError(t, err, out)
	return out
}

// decodeResponse parses a JSON CLI response and decodes its data into v.
func decodeResponse(t *testing.T, out string, v any) CLIResponse {
	t.Helper()

	var raw struct {
		Status string          `json:"status"`
		Data   json.RawMessage `json:"data"`
		Error  *CLIError       `json:"error"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &raw), out)
	if v != nil && len(raw.Data) > 0 {
		require.NoError(t, json.Unmarshal(raw.Data, v), out)
	}
	return CLIResponse{Status: raw.Status, Error: raw.Error}
}
