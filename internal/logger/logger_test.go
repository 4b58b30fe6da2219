package logger

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

func TestNewSplitsStreamsByLevel(t *testing.T) {
	var stdout, stderr bytes.Buffer
	log, err := New(Options{Level: "info", Stdout: &stdout, Stderr: &stderr})
	require.NoError(t, err)

	log.Debug("hidden")
	log.Info("analyzing", zap.Int("rows", 12))
	log.Error("cycle failed", zap.String("stage", "fetch"))
	Flush(log)

	assert.NotContains(t, stdout.String(), "hidden")
	assert.Contains(t, stdout.String(), "analyzing")
	assert.NotContains(t, stdout.String(), "cycle failed")
	assert.Contains(t, stderr.String(), "cycle failed")
	assert.NotContains(t, stderr.String(), "analyzing")

	var rec map[string]any
	require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(stdout.String())), &rec))
	assert.Equal(t, "INFO", rec["level"])
	assert.Equal(t, float64(12), rec["rows"])
	assert.Contains(t, rec, "ts")
}

func TestNewRejectsUnknownLevel(t *testing.T) {
	_, err := New(Options{Level: "chatty"})
	assert.Error(t, err)
}

func TestNewWritesFileCopy(t *testing.T) {
	path := filepath.Join(t.TempDir(), "anomalyd.log")
	var sink bytes.Buffer
	log, err := New(Options{Level: "debug", File: path, Stdout: &sink, Stderr: &sink})
	require.NoError(t, err)

	log.Debug("tree built", zap.Int("tree", 3))
	Flush(log)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "tree built")
}
