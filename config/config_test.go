package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/reward-engine/config"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := config.Load(config.New(), "")
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, config.DriverSQLite, cfg.Store.Driver)
	assert.Equal(t, "rewards.db", cfg.Store.DSN)
	assert.Equal(t, 3*time.Second, cfg.Engine.ValidatorTimeout)
	assert.Equal(t, 5*time.Second, cfg.Engine.LedgerTimeout)
	assert.Equal(t, 512, cfg.Cache.Size)
	assert.True(t, cfg.Scheduler.Enabled)
	assert.Equal(t, "@every 1m", cfg.Scheduler.Spec)
}

func TestLoad_FileThenEnvironment(t *testing.T) {
	// GIVEN: A YAML file selecting memory and an env var overriding the address
	// WHEN: Loading
	// THEN: Env wins over the file, the file wins over defaults

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  addr: ":9000"
store:
  driver: memory
engine:
  validator_timeout: 250ms
scheduler:
  enabled: false
`), 0o600))
	t.Setenv("REWARD_ENGINE_SERVER_ADDR", ":9100")

	cfg, err := config.Load(config.New(), path)
	require.NoError(t, err)

	assert.Equal(t, ":9100", cfg.Server.Addr)
	assert.Equal(t, config.DriverMemory, cfg.Store.Driver)
	assert.Equal(t, 250*time.Millisecond, cfg.Engine.ValidatorTimeout)
	assert.False(t, cfg.Scheduler.Enabled)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := config.Load(config.New(), filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidate_ReportsEveryProblem(t *testing.T) {
	cfg := &config.Config{
		Store:     config.StoreConfig{Driver: config.DriverPostgres},
		Cache:     config.CacheConfig{Size: -1},
		Scheduler: config.SchedulerConfig{Enabled: true},
	}

	err := cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{
		"store.dsn is required for postgres",
		"server.addr is required",
		"engine.validator_timeout",
		"engine.ledger_timeout",
		"cache.size",
		"scheduler.spec",
	} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestValidate_UnknownDriver(t *testing.T) {
	t.Setenv("REWARD_ENGINE_STORE_DRIVER", "mongo")

	_, err := config.Load(config.New(), "")

	assert.ErrorContains(t, err, `got "mongo"`)
}
