package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/huginnscan/huginn/internal/config"
)

func TestMergeScanFlags(t *testing.T) {
	cfg := config.Default()
	cfg.Scan.Targets = []string{"10.0.0.1"}

	scanFlags.targets = []string{"10.0.0.2"}
	scanFlags.probeTypes = []string{"tcp_connect"}
	scanFlags.ports = "1-100"
	scanFlags.concurrency = 42
	scanFlags.rate = 0
	require.NoError(t, scanCmd.Flags().Set("lenient", "true"))
	t.Cleanup(func() {
		scanFlags.targets = nil
		scanFlags.probeTypes = nil
		scanFlags.ports = ""
		scanFlags.concurrency = 0
		scanFlags.rate = -1
		_ = scanCmd.Flags().Set("lenient", "false")
	})

	mergeScanFlags(scanCmd, cfg)

	assert.Equal(t, []string{"10.0.0.1", "10.0.0.2"}, cfg.Scan.Targets)
	assert.Equal(t, []string{"tcp_connect"}, cfg.Scan.ProbeTypes)
	assert.Equal(t, "1-100", cfg.Scan.Ports)
	assert.Equal(t, 42, cfg.Scan.Concurrency)
	assert.Equal(t, 0.0, cfg.Scan.RateLimit.OpsPerSecond, "explicit zero disables rate limiting")
	assert.False(t, cfg.Scan.StrictTargets)
}

func TestRootCommandHasSubcommands(t *testing.T) {
	names := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	assert.True(t, names["scan"])
	assert.True(t, names["probes"])
	assert.True(t, names["config"])
}
