package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewValidation(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"defaults", DefaultConfig(), false},
		{"json", Config{Level: "debug", Format: "json"}, false},
		{"bad level", Config{Level: "loud", Format: "json"}, true},
		{"bad format", Config{Level: "info", Format: "xml"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, closeFn, err := newLogger(tt.cfg, &bytes.Buffer{})
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, logger)
			assert.NoError(t, closeFn())
		})
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger, closeFn, err := newLogger(Config{Level: "warn", Format: "json"}, &buf)
	require.NoError(t, err)

	logger.Info("hidden")
	logger.Warn("shown", zap.Int("rows", 3))
	require.NoError(t, closeFn())

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)

	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "shown", entry["message"])
	assert.Equal(t, "warn", entry["level"])
	assert.Equal(t, 3.0, entry["rows"])
}

func TestFileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "goguard.log")

	cfg := DefaultConfig()
	cfg.File = path
	logger, closeFn, err := newLogger(cfg, &bytes.Buffer{})
	require.NoError(t, err)

	logger.Info("written to file")
	require.NoError(t, closeFn())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"message":"written to file"`)
}
