package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rechain/ledger/internal/config"
)

func TestDefaultConfigHasFivePeers(t *testing.T) {
	cfg := config.DefaultConfig()
	ids, err := cfg.PeerIDs()
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2, 3, 4, 5}, ids)
}

func TestLoadOverridesFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "peer.yaml")
	contents := "node:\n  id: 3\napi:\n  address: \"0.0.0.0:9100\"\n"
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, int64(3), cfg.Node.ID)
	assert.Equal(t, "0.0.0.0:9100", cfg.API.Address)
	// Untouched defaults still apply.
	assert.Equal(t, "./data", cfg.Storage.StateDir)
}

func TestLoadWithoutFileUsesDefaults(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)
	assert.Equal(t, config.DefaultConfig().Network.Delay, cfg.Network.Delay)
}
