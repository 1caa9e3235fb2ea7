package main

import (
	"bytes"
	"context"
	"flag"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"

	"github.com/santoshpalla27/taulayer/api"
	"github.com/santoshpalla27/taulayer/decision/advisor"
	"github.com/santoshpalla27/taulayer/decision/caller"
	"github.com/santoshpalla27/taulayer/decision/policy"
	"github.com/santoshpalla27/taulayer/internal/config"
)

func TestExitCode(t *testing.T) {
	assert.Equal(t, ExitSuccess, exitCode(policy.StatusOK))
	assert.Equal(t, ExitSuggest, exitCode(policy.StatusSuggestImprovement))
	assert.Equal(t, ExitRejected, exitCode(policy.StatusRejected))
}

func TestOutputText(t *testing.T) {
	engine, err := advisor.New(context.Background(), config.Default())
	require.NoError(t, err)

	advice := engine.Advise(context.Background(),
		"SELECT * FROM events e JOIN sessions s ON e.session_id = s.id",
		caller.Context{UserID: "u1", Urgency: caller.UrgencyHigh})

	var buf bytes.Buffer
	outputText(&buf, api.BuildResponse(advice), advice)

	out := buf.String()
	assert.Contains(t, out, "❌ rejected")
	assert.Contains(t, out, "Reason:")
	assert.Contains(t, out, "Suggestions:")
	assert.Contains(t, out, "Alternatives:")
}

func newFlagContext(t *testing.T, args ...string) *cli.Context {
	t.Helper()
	set := flag.NewFlagSet("taulayer", flag.ContinueOnError)
	set.String("log-level", "info", "")
	set.String("clickhouse-host", "", "")
	set.Int("clickhouse-port", 0, "")
	set.String("clickhouse-database", "", "")
	set.String("clickhouse-user", "", "")
	set.String("clickhouse-password", "", "")
	require.NoError(t, set.Parse(args))
	return cli.NewContext(cli.NewApp(), set, nil)
}

func TestClickHouseConfig(t *testing.T) {
	assert.Nil(t, clickHouseConfig(newFlagContext(t)), "no host disables the store")

	cfg := clickHouseConfig(newFlagContext(t, "-clickhouse-host", "ch.internal"))
	require.NotNil(t, cfg)
	assert.Equal(t, "ch.internal", cfg.Host)
	assert.Equal(t, 9000, cfg.Port)
	assert.Equal(t, "taulayer", cfg.Database)
	assert.Equal(t, "default", cfg.Username)
	assert.False(t, cfg.Debug)

	cfg = clickHouseConfig(newFlagContext(t,
		"-log-level", "debug",
		"-clickhouse-host", "ch.internal",
		"-clickhouse-port", "9440",
		"-clickhouse-database", "analytics",
		"-clickhouse-user", "advisor",
		"-clickhouse-password", "secret",
	))
	assert.Equal(t, 9440, cfg.Port)
	assert.Equal(t, "analytics", cfg.Database)
	assert.Equal(t, "advisor", cfg.Username)
	assert.Equal(t, "secret", cfg.Password)
	assert.True(t, cfg.Debug)
}
