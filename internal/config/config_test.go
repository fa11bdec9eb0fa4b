package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "indexer.yaml", "network: devnet\n")

	cfg, err := LoadConfig(path, filepath.Join(dir, "missing.env"))
	require.NoError(t, err)

	assert.Equal(t, SolanaDevnetRPC, cfg.RPCUrl)
	assert.Equal(t, SolanaDevnetWS, cfg.WSUrl)
	assert.Equal(t, FarmProgramID, cfg.Farm.ProgramID)
	assert.Equal(t, GroupingContext, cfg.Farm.LogGrouping)
	assert.Equal(t, SinkJSONL, cfg.Output.Sink)
	assert.Equal(t, "confirmed", cfg.Source.Commitment)
	assert.True(t, cfg.Checkpoint.Enabled)
	assert.Equal(t, MaxRetries, cfg.Advanced.MaxRetries)
	assert.Equal(t, 500*time.Millisecond, cfg.GetRetryDelay())
	assert.Equal(t, 30*time.Second, cfg.GetRPCTimeout())
}

func TestLoadConfigFileAndEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "indexer.yaml", `
rpc_url: "${FARMIDX_TEST_RPC:-http://localhost:8899}"
farm:
  log_grouping: substring
source:
  from_slot: 100
  to_slot: 200
output:
  sink: jsonl
  path: out/events.jsonl
`)
	envPath := writeFile(t, dir, ".env", "# overrides\nFARMIDX_ADVANCED_MAX_RETRIES=7\nFARMIDX_OUTPUT_PATH=\"env/events.jsonl\"\n")
	t.Cleanup(func() {
		os.Unsetenv("FARMIDX_ADVANCED_MAX_RETRIES")
		os.Unsetenv("FARMIDX_OUTPUT_PATH")
	})

	cfg, err := LoadConfig(path, envPath)
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:8899", cfg.RPCUrl)
	assert.Equal(t, GroupingSubstring, cfg.Farm.LogGrouping)
	assert.Equal(t, uint64(100), cfg.Source.FromSlot)
	assert.Equal(t, uint64(200), cfg.Source.ToSlot)
	assert.Equal(t, 7, cfg.Advanced.MaxRetries)
	assert.Equal(t, "env/events.jsonl", cfg.Output.Path)
}

func TestLoadConfigRejectsInvalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{name: "bad program id", content: "farm:\n  program_id: not-base58-0OIl\n"},
		{name: "bad grouping", content: "farm:\n  log_grouping: fuzzy\n"},
		{name: "inverted range", content: "source:\n  from_slot: 10\n  to_slot: 5\n"},
		{name: "postgres without dsn", content: "output:\n  sink: postgres\n"},
		{name: "unknown sink", content: "output:\n  sink: kafka\n"},
		{name: "bad commitment", content: "source:\n  commitment: eventual\n"},
		{name: "processed commitment", content: "source:\n  commitment: processed\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			path := writeFile(t, dir, "indexer.yaml", tt.content)
			_, err := LoadConfig(path, filepath.Join(dir, "missing.env"))
			assert.Error(t, err)
		})
	}
}

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("FARMIDX_TEST_HOST", "rpc.example")

	assert.Equal(t, "plain", expandEnvVars("plain"))
	assert.Equal(t, "https://rpc.example/", expandEnvVars("https://${FARMIDX_TEST_HOST}/"))
	assert.Equal(t, "fallback", expandEnvVars("${FARMIDX_TEST_UNSET:-fallback}"))
	assert.Equal(t, "rpc.example:1", expandEnvVars("${FARMIDX_TEST_HOST:-x}:${FARMIDX_TEST_UNSET:-1}"))
}

func TestGetConfigFromEnv(t *testing.T) {
	t.Setenv("FARMIDX_NETWORK", "devnet")
	t.Setenv("FARMIDX_SOURCE_SIGNATURES", "sigA, sigB,,")
	t.Setenv("FARMIDX_SOURCE_FOLLOW", "1")
	t.Setenv("FARMIDX_SOURCE_FROM_SLOT", "42")

	cfg := GetConfigFromEnv(filepath.Join(t.TempDir(), "missing.env"))
	assert.Equal(t, SolanaDevnetRPC, cfg.RPCUrl)
	assert.Equal(t, []string{"sigA", "sigB"}, cfg.Source.Signatures)
	assert.True(t, cfg.Source.Follow)
	assert.Equal(t, uint64(42), cfg.Source.FromSlot)

	// placeholders are not signatures
	assert.Error(t, cfg.Validate())
	cfg.Source.Signatures = nil
	assert.NoError(t, cfg.Validate())
}
