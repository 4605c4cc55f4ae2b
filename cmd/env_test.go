package main

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/placeresolve/internal/config"
	"github.com/sells-group/placeresolve/internal/runlog"
)

func withConfig(t *testing.T, c *config.Config) {
	t.Helper()
	prev := cfg
	cfg = c
	t.Cleanup(func() { cfg = prev })
}

func TestInitRunLog_SQLite(t *testing.T) {
	withConfig(t, &config.Config{RunLog: config.RunLogConfig{
		Driver: "sqlite",
		Path:   filepath.Join(t.TempDir(), "runs.db"),
	}})

	st, err := initRunLog(nil)
	require.NoError(t, err)
	defer st.Close() //nolint:errcheck

	ctx := context.Background()
	require.NoError(t, st.Migrate(ctx))
	run, err := st.Start(ctx, "resolve", runlog.ModeDryRun, "")
	require.NoError(t, err)
	assert.NotEmpty(t, run.ID)
}

func TestInitRunLog_PostgresNeedsPool(t *testing.T) {
	withConfig(t, &config.Config{RunLog: config.RunLogConfig{Driver: "postgres"}})

	_, err := initRunLog(nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.database_url")
}

func TestInitRunLog_UnknownDriver(t *testing.T) {
	withConfig(t, &config.Config{RunLog: config.RunLogConfig{Driver: "mysql"}})

	_, err := initRunLog(nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported run log driver")
}

func TestInitEnv_RunsModeWithoutDatabase(t *testing.T) {
	withConfig(t, &config.Config{RunLog: config.RunLogConfig{
		Driver: "sqlite",
		Path:   filepath.Join(t.TempDir(), "runs.db"),
	}})

	env, err := initEnv(context.Background(), "runs")
	require.NoError(t, err)
	defer env.Close()

	assert.Nil(t, env.Pool)
	assert.Nil(t, env.Golden)
	assert.NotNil(t, env.Runs)
	assert.NotNil(t, env.Metrics)
}

func TestInitEnv_ValidatesMode(t *testing.T) {
	withConfig(t, &config.Config{RunLog: config.RunLogConfig{Driver: "sqlite", Path: "x.db"}})

	_, err := initEnv(context.Background(), "resolve")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.database_url is required")
}
