package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/shopspring/decimal"
	"github.com/urfave/cli/v2"

	"github.com/santoshpalla27/taulayer/db/ingestion"
	"github.com/santoshpalla27/taulayer/db/postgres"
	"github.com/santoshpalla27/taulayer/decision/telemetry"
	"github.com/santoshpalla27/taulayer/pkg/platform"
	"github.com/santoshpalla27/taulayer/pkg/units"
)

// =============================================================================
// TELEMETRY COMMAND
// =============================================================================

func telemetryCommand() *cli.Command {
	return &cli.Command{
		Name:  "telemetry",
		Usage: "Manage query execution telemetry",
		Subcommands: []*cli.Command{
			{
				Name:   "migrate",
				Usage:  "Create query_executions (ClickHouse) and query_history (Postgres) for the configured stores",
				Action: runMigrate,
			},
			{
				Name:  "ingest",
				Usage: "Ingest JSON-lines execution records into ClickHouse",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "file",
						Aliases: []string{"f"},
						Usage:   "Path to a .jsonl file (stdin when omitted)",
					},
				},
				Action: runIngest,
			},
			{
				Name:  "record",
				Usage: "Record a single execution in ClickHouse",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "query", Aliases: []string{"q"}, Usage: "Query text", Required: true},
					&cli.StringFlag{Name: "user", Aliases: []string{"u"}, Usage: "User that ran the query"},
					&cli.StringFlag{Name: "client", Usage: "Client that ran the query"},
					&cli.Float64Flag{Name: "latency", Usage: "Observed latency in seconds", Required: true},
					&cli.StringFlag{Name: "cost", Value: "0", Usage: "Observed cost in USD"},
					&cli.Uint64Flag{Name: "rows", Usage: "Rows read"},
					&cli.Float64Flag{Name: "load", Usage: "Load factor at execution time (1 = normal)"},
					&cli.BoolFlag{Name: "failed", Usage: "The execution failed"},
				},
				Action: runRecord,
			},
			{
				Name:  "stats",
				Usage: "Show recorded executions and the telemetry snapshot for a query's shape",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "query", Aliases: []string{"q"}, Usage: "Query text", Required: true},
				},
				Action: runStats,
			},
		},
	}
}

var errNoStore = errors.New("--clickhouse-host is required")

func runMigrate(c *cli.Context) error {
	store, err := openClickHouse(c)
	if err != nil {
		return err
	}
	dsn := c.String("postgres-dsn")
	if store == nil && dsn == "" {
		return cli.Exit("--clickhouse-host or --postgres-dsn is required", ExitInputError)
	}

	if store != nil {
		defer store.Close()
		if err := store.Migrate(c.Context); err != nil {
			return err
		}
		fmt.Println("✅ query_executions ready")
	}

	if dsn != "" {
		history, err := postgres.Open(c.Context, dsn)
		if err != nil {
			return err
		}
		defer history.Close()
		if err := history.Migrate(c.Context); err != nil {
			return err
		}
		fmt.Println("✅ query_history ready")
	}
	return nil
}

func runIngest(c *cli.Context) error {
	logger := platform.InitLogger(c.String("log-level"), true)

	cfg, err := loadConfig(c)
	if err != nil {
		return cli.Exit(err.Error(), ExitInputError)
	}

	store, err := openClickHouse(c)
	if err != nil {
		return err
	}
	if store == nil {
		return cli.Exit(errNoStore.Error(), ExitInputError)
	}
	defer store.Close()

	var in io.Reader = os.Stdin
	if path := c.String("file"); path != "" {
		f, err := os.Open(path)
		if err != nil {
			return cli.Exit(fmt.Sprintf("failed to open %s: %v", path, err), ExitInputError)
		}
		defer f.Close()
		in = f
	}

	adapter := ingestion.NewClickHouseAdapter(store, cfg.Policy.TimeFields...)
	result, err := adapter.IngestExecutions(c.Context, in)
	if err != nil {
		return fmt.Errorf("ingestion failed after %d records: %w", result.Recorded, err)
	}

	for _, e := range result.Errors {
		logger.Warn().Str("error", e).Msg("Skipped execution record")
	}
	logger.Info().
		Int("lines", result.Lines).
		Int("recorded", result.Recorded).
		Int("skipped", result.Skipped).
		Int("shapes", result.Shapes).
		Dur("duration", result.Duration).
		Msg("Ingestion complete")
	return nil
}

func runRecord(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return cli.Exit(err.Error(), ExitInputError)
	}
	cost, err := decimal.NewFromString(c.String("cost"))
	if err != nil {
		return cli.Exit(fmt.Sprintf("invalid --cost: %v", err), ExitInputError)
	}

	store, err := openClickHouse(c)
	if err != nil {
		return err
	}
	if store == nil {
		return cli.Exit(errNoStore.Error(), ExitInputError)
	}
	defer store.Close()

	adapter := ingestion.NewClickHouseAdapter(store, cfg.Policy.TimeFields...)
	exec, err := adapter.Record(c.Context, ingestion.ExecutionRecord{
		Query:          c.String("query"),
		UserID:         c.String("user"),
		ClientID:       c.String("client"),
		LatencySeconds: c.Float64("latency"),
		CostUSD:        cost,
		RowsRead:       c.Uint64("rows"),
		LoadFactor:     c.Float64("load"),
		Failed:         c.Bool("failed"),
	})
	if err != nil {
		return cli.Exit(err.Error(), ExitInputError)
	}
	fmt.Printf("✅ recorded %s (shape %s)\n", exec.ID, exec.Shape)
	return nil
}

func runStats(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return cli.Exit(err.Error(), ExitInputError)
	}

	store, err := openClickHouse(c)
	if err != nil {
		return err
	}
	if store == nil {
		return cli.Exit(errNoStore.Error(), ExitInputError)
	}
	defer store.Close()

	shape := ingestion.NewClickHouseAdapter(store, cfg.Policy.TimeFields...).ShapeOf(c.String("query"))
	count, err := store.CountExecutions(c.Context, shape)
	if err != nil {
		return err
	}
	fmt.Printf("Shape:       %s\n", shape)
	fmt.Printf("Executions:  %d recorded\n", count)

	snap, err := store.Lookup(c.Context, telemetry.Key{Shape: shape, Window: cfg.Telemetry.Window})
	switch {
	case errors.Is(err, telemetry.ErrNoData):
		fmt.Printf("Snapshot:    no successful executions in the last %s\n", cfg.Telemetry.Window)
		return nil
	case err != nil:
		return err
	}
	fmt.Printf("Snapshot:    %d samples over %s\n", snap.Samples, cfg.Telemetry.Window)
	fmt.Printf("   P50:      %s\n", units.FormatLatency(snap.LatencyP50))
	fmt.Printf("   P90:      %s\n", units.FormatLatency(snap.LatencyP90))
	fmt.Printf("   Avg cost: %s\n", units.FormatCost(snap.AvgCost))
	fmt.Printf("   Load:     %.2f\n", snap.LoadFactor)
	return nil
}
