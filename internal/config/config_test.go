package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.Equal(t, "mysql", cfg.Store.Driver)
	assert.Equal(t, 5*time.Second, cfg.Ledger.CallTimeout)
	assert.Equal(t, 30*time.Second, cfg.Sync.Interval)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoad_FromFile(t *testing.T) {
	dir := t.TempDir()
	yaml := `
store:
  driver: memory
ledger:
  rpc_url: "http://node:8545"
  call_timeout: 2s
sync:
  interval: 0s
  workers: 2
log:
  level: debug
`
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "memory", cfg.Store.Driver)
	assert.Equal(t, "http://node:8545", cfg.Ledger.RPCURL)
	assert.Equal(t, 2*time.Second, cfg.Ledger.CallTimeout)
	assert.Equal(t, time.Duration(0), cfg.Sync.Interval)
	assert.Equal(t, 2, cfg.Sync.Workers)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("INVLEDGER_LEDGER_RPC_URL", "http://env-node:7545")
	t.Setenv("INVLEDGER_STORE_DRIVER", "postgres")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "http://env-node:7545", cfg.Ledger.RPCURL)
	assert.Equal(t, "postgres", cfg.Store.Driver)
}

func TestValidate_RejectsUnknownDriver(t *testing.T) {
	t.Setenv("INVLEDGER_STORE_DRIVER", "sqlite")

	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.driver")
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}
