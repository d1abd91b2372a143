package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBufferLogger(t *testing.T, cfg Config) (*Logger, *bytes.Buffer) {
	t.Helper()

	buf := &bytes.Buffer{}
	opts := &slog.HandlerOptions{ReplaceAttr: maskAttrs}

	var handler slog.Handler
	if cfg.Format == FormatJSON {
		handler = slog.NewJSONHandler(buf, opts)
	} else {
		handler = slog.NewTextHandler(buf, opts)
	}
	return &Logger{Logger: slog.New(handler), config: cfg}, buf
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, LevelInfo, cfg.Level)
	assert.Equal(t, FormatText, cfg.Format)
	assert.Equal(t, "stderr", cfg.Output)
}

func TestNewWithFileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "huginn.log")
	logger, err := New(Config{Level: LevelInfo, Format: FormatText, Output: path})
	require.NoError(t, err)

	logger.Info("file output works")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "file output works")
}

func TestLevelParsing(t *testing.T) {
	tests := []struct {
		level LogLevel
	}{
		{LevelDebug}, {LevelInfo}, {LevelWarn}, {LevelError}, {LogLevel("bogus")},
	}
	for _, tt := range tests {
		t.Run(string(tt.level), func(t *testing.T) {
			logger, err := New(Config{Level: tt.level, Format: FormatText, Output: "stderr"})
			require.NoError(t, err)
			require.NotNil(t, logger)
		})
	}
}

func TestJSONFormat(t *testing.T) {
	logger, buf := newBufferLogger(t, Config{Format: FormatJSON})
	logger.Info("structured message", "target", "10.0.0.1")

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, "structured message", record["msg"])
	assert.Equal(t, "10.0.0.1", record["target"])
}

func TestSecretMasking(t *testing.T) {
	logger, buf := newBufferLogger(t, Config{Format: FormatText})
	logger.Info("loaded config", "raw", "api_key=sk_live_abcdef123456")

	out := buf.String()
	assert.NotContains(t, out, "sk_live_abcdef123456")
	assert.Contains(t, out, "REDACTED")
}

func TestDomainHelpers(t *testing.T) {
	logger, buf := newBufferLogger(t, Config{Format: FormatJSON})

	logger.InfoProbe("probe done", "192.168.0.5", "probe_type", "tcp_connect")
	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, "192.168.0.5", record["target"])
	assert.Equal(t, "tcp_connect", record["probe_type"])

	buf.Reset()
	logger.InfoEngine("run started", "requests", 12)
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, "engine", record["component"])
}

func TestWithHelpers(t *testing.T) {
	logger, buf := newBufferLogger(t, Config{Format: FormatJSON})

	logger.WithComponent("aggregator").WithRunID("run-1").Info("collecting")

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, "aggregator", record["component"])
	assert.Equal(t, "run-1", record["run_id"])
}

func TestSetDefault(t *testing.T) {
	original := Default()
	defer SetDefault(original)

	logger, _ := newBufferLogger(t, Config{Format: FormatText})
	SetDefault(logger)
	assert.Equal(t, logger, Default())
}
