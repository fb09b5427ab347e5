package testutil

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/thruflo/clave/internal/config"
)

// FastConfig is a config.yaml with short task intervals so simulated
// sessions run quickly under test.
const FastConfig = `monitor:
  sample_interval: 10ms
  reconcile_interval: 20ms
  tick_interval: 10ms
  chart_capacity: 60
  command_retries: 1
  retry_backoff: 1ms
`

// FastMonitor matches the monitor section of FastConfig.
func FastMonitor() config.Monitor {
	return config.Monitor{
		SampleInterval:    10 * time.Millisecond,
		ReconcileInterval: 20 * time.Millisecond,
		TickInterval:      10 * time.Millisecond,
		ChartCapacity:     60,
		CommandRetries:    1,
		RetryBackoff:      time.Millisecond,
	}
}

// IdleMonitor never fires the background tasks within a test, so tests
// drive state changes explicitly.
func IdleMonitor() config.Monitor {
	return config.Monitor{
		SampleInterval:    time.Hour,
		ReconcileInterval: time.Hour,
		TickInterval:      time.Hour,
		ChartCapacity:     60,
		CommandRetries:    1,
		RetryBackoff:      time.Millisecond,
	}
}

// SetupTestDir creates a temporary project directory with a .clave
// directory holding FastConfig. The directory is removed when the test
// completes.
func SetupTestDir(t *testing.T) string {
	t.Helper()

	tmpDir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(tmpDir, config.Dir), 0o755))
	require.NoError(t, os.WriteFile(config.Path(tmpDir), []byte(FastConfig), 0o644))
	return tmpDir
}

// MustMarshalJSON marshals a value to JSON, failing the test on error.
// Uses indented format for readability.
func MustMarshalJSON(t *testing.T, v any) []byte {
	t.Helper()
	data, err := json.MarshalIndent(v, "", "  ")
	require.NoError(t, err)
	return data
}

// MustUnmarshalJSON unmarshals JSON data into v, failing the test on error.
func MustUnmarshalJSON(t *testing.T, data []byte, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(data, v))
}

// WriteTestFile writes content to a file in the test directory.
// Creates parent directories as needed.
func WriteTestFile(t *testing.T, basePath, relativePath string, content []byte) string {
	t.Helper()
	fullPath := filepath.Join(basePath, relativePath)
	require.NoError(t, os.MkdirAll(filepath.Dir(fullPath), 0o755))
	require.NoError(t, os.WriteFile(fullPath, content, 0o644))
	return fullPath
}
