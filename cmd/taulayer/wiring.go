package main

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"

	"github.com/santoshpalla27/taulayer/api"
	"github.com/santoshpalla27/taulayer/db/clickhouse"
	"github.com/santoshpalla27/taulayer/db/postgres"
	"github.com/santoshpalla27/taulayer/decision/advisor"
	"github.com/santoshpalla27/taulayer/decision/telemetry"
	"github.com/santoshpalla27/taulayer/internal/config"
	"github.com/santoshpalla27/taulayer/internal/metrics"
	"github.com/santoshpalla27/taulayer/pkg/platform"
)

// telemetryStack is the assembled lookup plus what it holds open.
// Sources are tried in order: ClickHouse, Postgres, remote HTTP. The chain
// sits behind a circuit breaker, and the breaker behind the redis cache.
type telemetryStack struct {
	lookup  telemetry.Lookup
	checks  []api.Check
	closers []func() error
}

func (t *telemetryStack) Close() {
	for i := len(t.closers) - 1; i >= 0; i-- {
		t.closers[i]()
	}
}

// clickHouseConfig overlays the connection flags on the store defaults.
// It returns nil when no host is configured.
func clickHouseConfig(c *cli.Context) *clickhouse.Config {
	host := c.String("clickhouse-host")
	if host == "" {
		return nil
	}
	cfg := clickhouse.DefaultConfig()
	cfg.Host = host
	if port := c.Int("clickhouse-port"); port != 0 {
		cfg.Port = port
	}
	if db := c.String("clickhouse-database"); db != "" {
		cfg.Database = db
	}
	if user := c.String("clickhouse-user"); user != "" {
		cfg.Username = user
	}
	cfg.Password = c.String("clickhouse-password")
	cfg.Debug = c.String("log-level") == "debug"
	return cfg
}

func openClickHouse(c *cli.Context) (*clickhouse.Store, error) {
	cfg := clickHouseConfig(c)
	if cfg == nil {
		return nil, nil
	}
	return clickhouse.NewStore(cfg)
}

func buildTelemetry(c *cli.Context, cfg *config.Config, logger zerolog.Logger) (*telemetryStack, error) {
	stack := &telemetryStack{}
	var chain telemetry.Chain

	store, err := openClickHouse(c)
	if err != nil {
		return nil, err
	}
	if store != nil {
		chain = append(chain, store)
		stack.checks = append(stack.checks, api.Check{Name: "clickhouse", Probe: store.Ping})
		stack.closers = append(stack.closers, store.Close)
		logger.Info().Str("host", c.String("clickhouse-host")).Msg("ClickHouse telemetry enabled")
	}

	if dsn := c.String("postgres-dsn"); dsn != "" {
		history, err := postgres.Open(c.Context, dsn)
		if err != nil {
			stack.Close()
			return nil, err
		}
		chain = append(chain, history)
		stack.closers = append(stack.closers, history.Close)
		logger.Info().Msg("Postgres query history enabled")
	}

	if url := c.String("telemetry-url"); url != "" {
		chain = append(chain, telemetry.NewHTTPLookup(url, platform.NewHTTPClient(0, cfg.Telemetry.Timeout)))
		logger.Info().Str("url", url).Msg("Remote telemetry enabled")
	}

	if len(chain) == 0 {
		logger.Info().Msg("No telemetry source configured, estimates use static weights")
		return stack, nil
	}

	var lookup telemetry.Lookup = telemetry.NewGuarded(chain, telemetry.GuardConfig{
		Failures:    cfg.Telemetry.BreakerFailures,
		OpenTimeout: cfg.Telemetry.BreakerOpenTimeout,
	})

	if addr := c.String("redis-addr"); addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:         addr,
			DialTimeout:  cfg.Telemetry.Timeout,
			ReadTimeout:  cfg.Telemetry.Timeout,
			WriteTimeout: cfg.Telemetry.Timeout,
		})
		lookup = telemetry.NewCache(client, lookup, cfg.Telemetry.CacheTTL, logger)
		stack.closers = append(stack.closers, client.Close)
		logger.Info().Str("addr", addr).Msg("Telemetry cache enabled")
	}

	stack.lookup = lookup
	return stack, nil
}

// newAdvisor builds the engine. A nil stack means static estimates only.
func newAdvisor(c *cli.Context, cfg *config.Config, stack *telemetryStack, opts ...advisor.Option) (*advisor.Engine, error) {
	if stack != nil && stack.lookup != nil {
		opts = append(opts, advisor.WithTelemetry(stack.lookup))
	}
	engine, err := advisor.New(c.Context, cfg, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to build advisor: %w", err)
	}
	return engine, nil
}

// =============================================================================
// SERVE COMMAND
// =============================================================================

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Start the query advisor API server",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Value:   8080,
				Usage:   "API server port",
				EnvVars: []string{"TAULAYER_PORT", "PORT"},
			},
			&cli.StringFlag{
				Name:    "api-key",
				Usage:   "Require this X-API-Key on /api routes",
				EnvVars: []string{"TAULAYER_API_KEY"},
			},
		},
		Action: runServe,
	}
}

func runServe(c *cli.Context) error {
	logger := platform.InitLogger(c.String("log-level"), platform.GetEnv("ENV", "production") == "development")

	cfg, err := loadConfig(c)
	if err != nil {
		platform.LogFatal(logger, "Invalid configuration", err)
	}

	stack, err := buildTelemetry(c, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to connect telemetry: %w", err)
	}
	defer stack.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.NewMetrics(reg)

	engine, err := newAdvisor(c, cfg, stack, advisor.WithLogger(logger), advisor.WithObserver(m))
	if err != nil {
		platform.LogFatal(logger, "Invalid detector policies", err)
	}

	serverCfg := api.DefaultConfig()
	serverCfg.Port = c.Int("port")
	serverCfg.APIKey = c.String("api-key")
	serverCfg.Version = version

	opts := []api.Option{api.WithLogger(logger), api.WithGatherer(reg)}
	for _, check := range stack.checks {
		opts = append(opts, api.WithReadinessCheck(check.Name, check.Probe))
	}

	logger.Info().
		Strs("detectors", engine.Detectors()).
		Bool("telemetry", stack.lookup != nil).
		Msg("Advisor ready")

	return api.NewServer(engine, serverCfg, opts...).StartWithGracefulShutdown(c.Context)
}
