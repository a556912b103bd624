package observability

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/momentics/hioload-mq/config"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]zapcore.Level{
		"debug":   zap.DebugLevel,
		"INFO":    zap.InfoLevel,
		"warning": zap.WarnLevel,
		" warn ":  zap.WarnLevel,
		"error":   zap.ErrorLevel,
		"shout":   zap.InfoLevel,
	}
	for in, want := range cases {
		assert.Equal(t, want, ParseLevel(in), in)
	}
}

func TestSetupLogger_FileJSON(t *testing.T) {
	restore := zap.L()
	t.Cleanup(func() { zap.ReplaceGlobals(restore) })

	path := filepath.Join(t.TempDir(), "nested", "node.log")
	logger, level, err := SetupLogger(config.LogConfig{
		Level:   "warn",
		Format:  "json",
		Outputs: []string{path},
	})
	require.NoError(t, err)

	logger.Info("hidden")
	logger.Warn("shown", zap.String("socket", "sub1"))
	level.SetLevel(zap.DebugLevel)
	logger.Debug("after reload")
	require.NoError(t, logger.Sync())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	require.Len(t, lines, 2)

	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "shown", entry["msg"])
	assert.Equal(t, "sub1", entry["socket"])
	assert.Contains(t, lines[1], "after reload")
	assert.Same(t, logger, zap.L())
}

func TestSetupLogger_RotationUsesConfiguredFilename(t *testing.T) {
	restore := zap.L()
	t.Cleanup(func() { zap.ReplaceGlobals(restore) })

	dir := t.TempDir()
	rotated := filepath.Join(dir, "rotated.log")
	logger, _, err := SetupLogger(config.LogConfig{
		Level:   "info",
		Outputs: []string{filepath.Join(dir, "ignored.log")},
		Rotation: config.RotationConfig{
			Enable:   true,
			Filename: rotated,
		},
	})
	require.NoError(t, err)
	logger.Info("rotating")
	_ = logger.Sync()

	_, err = os.Stat(rotated)
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(dir, "ignored.log"))
	assert.True(t, os.IsNotExist(err))
}
