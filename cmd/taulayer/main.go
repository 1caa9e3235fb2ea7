// taulayer - query advisory service
//
// Usage:
//
//	taulayer serve [--port 8080]
//	taulayer predict --query "SELECT ..." --user u1 [--urgency high]
//	taulayer config validate --config policy.yaml
//	taulayer telemetry migrate
//	taulayer telemetry ingest --file executions.jsonl
//	taulayer telemetry record --query "SELECT ..." --latency 1.5 --cost 0.02
//	taulayer telemetry stats --query "SELECT ..."
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/santoshpalla27/taulayer/internal/config"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// Exit codes for CI/CD integration
const (
	ExitSuccess         = 0
	ExitRejected        = 1
	ExitSuggest         = 2
	ExitInputError      = 10
	ExitInternalFailure = 11
)

func main() {
	app := &cli.App{
		Name:    "taulayer",
		Usage:   "Query advisory service - admission, latency and cost estimates for data queries",
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),

		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Value:   "info",
				Usage:   "Log level (debug, info, warn, error)",
				EnvVars: []string{"TAULAYER_LOG_LEVEL"},
			},
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to policy YAML (defaults are used when empty)",
				EnvVars: []string{"TAULAYER_CONFIG"},
			},
			&cli.StringFlag{
				Name:    "policies-dir",
				Usage:   "Directory of .rego detector policies (overrides config)",
				EnvVars: []string{"TAULAYER_POLICIES_DIR"},
			},
			&cli.StringFlag{
				Name:    "clickhouse-host",
				Usage:   "ClickHouse host for execution telemetry (disabled when empty)",
				EnvVars: []string{"CLICKHOUSE_HOST"},
			},
			&cli.IntFlag{
				Name:    "clickhouse-port",
				Usage:   "ClickHouse native port (default 9000)",
				EnvVars: []string{"CLICKHOUSE_PORT"},
			},
			&cli.StringFlag{
				Name:    "clickhouse-database",
				Usage:   "ClickHouse database (default taulayer)",
				EnvVars: []string{"CLICKHOUSE_DATABASE"},
			},
			&cli.StringFlag{
				Name:    "clickhouse-user",
				Usage:   "ClickHouse user (default default)",
				EnvVars: []string{"CLICKHOUSE_USER"},
			},
			&cli.StringFlag{
				Name:    "clickhouse-password",
				Usage:   "ClickHouse password",
				EnvVars: []string{"CLICKHOUSE_PASSWORD"},
			},
			&cli.StringFlag{
				Name:    "postgres-dsn",
				Usage:   "Postgres DSN of a query_history table (disabled when empty)",
				EnvVars: []string{"POSTGRES_DSN"},
			},
			&cli.StringFlag{
				Name:    "telemetry-url",
				Usage:   "Remote telemetry lookup endpoint (disabled when empty)",
				EnvVars: []string{"TELEMETRY_URL"},
			},
			&cli.StringFlag{
				Name:    "redis-addr",
				Usage:   "Redis address for the telemetry snapshot cache (disabled when empty)",
				EnvVars: []string{"REDIS_ADDR"},
			},
		},

		Commands: []*cli.Command{
			serveCommand(),
			predictCommand(),
			configCommand(),
			telemetryCommand(),
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := app.RunContext(ctx, os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(ExitInternalFailure)
	}
}

// loadConfig reads the policy file and applies flag overrides.
func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, err
	}
	if dir := c.String("policies-dir"); dir != "" {
		cfg.Detectors.PoliciesDir = dir
	}
	return cfg, nil
}

// =============================================================================
// CONFIG COMMAND
// =============================================================================

func configCommand() *cli.Command {
	return &cli.Command{
		Name:  "config",
		Usage: "Policy configuration tools",
		Subcommands: []*cli.Command{
			{
				Name:  "validate",
				Usage: "Validate the policy file and compile detector policies",
				Action: func(c *cli.Context) error {
					cfg, err := loadConfig(c)
					if err != nil {
						return cli.Exit(err.Error(), ExitInputError)
					}
					engine, err := newAdvisor(c, cfg, nil)
					if err != nil {
						return cli.Exit(err.Error(), ExitInputError)
					}
					fmt.Printf("✅ Configuration valid (%d detectors)\n", len(engine.Detectors()))
					for _, id := range engine.Detectors() {
						fmt.Printf("   - %s\n", id)
					}
					return nil
				},
			},
		},
	}
}
