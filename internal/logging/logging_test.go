package logging

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetupWritesJSONLines(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "local-search-mcp.log")

	logger, cleanup, err := Setup(DefaultConfig(path))
	require.NoError(t, err)
	defer cleanup()

	logger.Info("test event", "job_id", "abc123")
	cleanup()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NotEmpty(t, data)

	var line map[string]any
	require.NoError(t, json.Unmarshal([]byte(firstLine(data)), &line))
	assert.Equal(t, "test event", line["msg"])
	assert.Equal(t, "abc123", line["job_id"])
}

func TestRotatingWriterRotatesBeyondMaxSize(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "app.log")

	w, err := NewRotatingWriter(path, 0, 2) // maxSize 0 forces rotation on every write
	require.NoError(t, err)
	defer w.Close()

	_, err = w.Write([]byte("first\n"))
	require.NoError(t, err)
	_, err = w.Write([]byte("second\n"))
	require.NoError(t, err)

	_, statErr := os.Stat(path + ".1")
	assert.NoError(t, statErr)
}

func firstLine(b []byte) string {
	for i, c := range b {
		if c == '\n' {
			return string(b[:i])
		}
	}
	return string(b)
}
