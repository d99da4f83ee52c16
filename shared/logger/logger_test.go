package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_JSONLevels(t *testing.T) {
	tests := []struct {
		level     string
		wantLines []string
	}{
		{level: "debug", wantLines: []string{"DEBUG", "INFO", "WARN", "ERROR"}},
		{level: "info", wantLines: []string{"INFO", "WARN", "ERROR"}},
		{level: "warning", wantLines: []string{"WARN", "ERROR"}},
		{level: "error", wantLines: []string{"ERROR"}},
		{level: "bogus", wantLines: []string{"INFO", "WARN", "ERROR"}},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			output := &bytes.Buffer{}
			logger, err := New(&Config{Level: tt.level, Format: "json", writer: output})
			require.NoError(t, err)

			logger.Debug("d")
			logger.Info("i")
			logger.Warn("w")
			logger.Error("e", slog.String("job_id", "job-1"))

			lines := strings.Split(strings.TrimSpace(output.String()), "\n")
			require.Len(t, lines, len(tt.wantLines))
			for i, line := range lines {
				var entry map[string]any
				require.NoError(t, json.Unmarshal([]byte(line), &entry))
				assert.Equal(t, tt.wantLines[i], entry["level"])
			}

			var last map[string]any
			require.NoError(t, json.Unmarshal([]byte(lines[len(lines)-1]), &last))
			assert.Equal(t, "job-1", last["job_id"])
		})
	}
}

func TestNew_Console(t *testing.T) {
	for _, format := range []string{"console", "text", ""} {
		t.Run(format, func(t *testing.T) {
			output := &bytes.Buffer{}
			logger, err := New(&Config{Level: "info", Format: format, TimeFormat: time.Kitchen, writer: output})
			require.NoError(t, err)

			logger.Info("Root job created", slog.Int("total_child_jobs", 2))

			line := output.String()
			assert.Contains(t, line, "INF")
			assert.Contains(t, line, "Root job created")
			assert.Contains(t, line, "total_child_jobs")
		})
	}
}

func TestNew_FileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "worker.log")

	logger, err := New(&Config{Level: "info", Format: "json", Output: path})
	require.NoError(t, err)
	logger.Info("written to file")
	require.NoError(t, logger.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "written to file")
}

func TestLogger_With(t *testing.T) {
	output := &bytes.Buffer{}
	logger, err := New(&Config{Level: "info", Format: "json", writer: output})
	require.NoError(t, err)

	logger.With("worker_id", "w-1").Info("tagged")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(output.Bytes(), &entry))
	assert.Equal(t, "w-1", entry["worker_id"])
}

func TestNewDefault(t *testing.T) {
	logger := NewDefault()
	require.NotNil(t, logger)
	assert.NoError(t, logger.Close())
}
