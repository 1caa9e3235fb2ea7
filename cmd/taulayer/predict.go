package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/santoshpalla27/taulayer/api"
	"github.com/santoshpalla27/taulayer/decision/advisor"
	"github.com/santoshpalla27/taulayer/decision/policy"
	contracts "github.com/santoshpalla27/taulayer/pkg/api"
	"github.com/santoshpalla27/taulayer/pkg/platform"
)

// =============================================================================
// PREDICT COMMAND
// =============================================================================

func predictCommand() *cli.Command {
	return &cli.Command{
		Name:      "predict",
		Usage:     "Advise on a single query (reads stdin when --query is omitted)",
		ArgsUsage: " ",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "query", Aliases: []string{"q"}, Usage: "Query text"},
			&cli.StringFlag{Name: "user", Aliases: []string{"u"}, Usage: "Caller user id", EnvVars: []string{"TAULAYER_USER"}, Value: "cli"},
			&cli.StringFlag{Name: "role", Usage: "Caller role"},
			&cli.StringFlag{Name: "client", Usage: "Caller client id"},
			&cli.StringFlag{Name: "location", Usage: "Caller location"},
			&cli.StringFlag{Name: "device", Usage: "Device (desktop, mobile, tablet)"},
			&cli.StringFlag{Name: "urgency", Value: "low", Usage: "Urgency (low, medium, high)"},
			&cli.StringFlag{Name: "behavior", Usage: "Free-text behavior summary"},
			&cli.StringFlag{
				Name:    "format",
				Aliases: []string{"f"},
				Value:   "text",
				Usage:   "Output format (text, json)",
			},
		},
		Action: runPredict,
	}
}

func runPredict(c *cli.Context) error {
	logger := platform.InitLogger(c.String("log-level"), true)

	text := c.String("query")
	if text == "" {
		b, err := io.ReadAll(os.Stdin)
		if err != nil {
			return cli.Exit(fmt.Sprintf("failed to read query: %v", err), ExitInputError)
		}
		text = strings.TrimSpace(string(b))
	}

	req := contracts.PredictRequest{
		Query: text,
		Context: contracts.QueryContext{
			UserID:          c.String("user"),
			Role:            c.String("role"),
			ClientID:        c.String("client"),
			Location:        c.String("location"),
			Device:          c.String("device"),
			BehaviorSummary: c.String("behavior"),
			Urgency:         c.String("urgency"),
		},
	}
	if err := req.Validate(); err != nil {
		return cli.Exit(err.Error(), ExitInputError)
	}

	cfg, err := loadConfig(c)
	if err != nil {
		return cli.Exit(err.Error(), ExitInputError)
	}
	stack, err := buildTelemetry(c, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to connect telemetry: %w", err)
	}
	defer stack.Close()

	engine, err := newAdvisor(c, cfg, stack, advisor.WithLogger(logger))
	if err != nil {
		return cli.Exit(err.Error(), ExitInputError)
	}

	advice := engine.Advise(c.Context, req.Query, api.ToCallerContext(req.Context))
	resp := api.BuildResponse(advice)

	switch c.String("format") {
	case "json":
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(resp); err != nil {
			return err
		}
	default:
		outputText(os.Stdout, resp, advice)
	}

	if code := exitCode(advice.Status()); code != ExitSuccess {
		return cli.Exit("", code)
	}
	return nil
}

func exitCode(s policy.Status) int {
	switch s {
	case policy.StatusRejected:
		return ExitRejected
	case policy.StatusSuggestImprovement:
		return ExitSuggest
	default:
		return ExitSuccess
	}
}

func outputText(w io.Writer, resp contracts.PredictResponse, advice *advisor.Advice) {
	icon := "✅"
	switch advice.Status() {
	case policy.StatusRejected:
		icon = "❌"
	case policy.StatusSuggestImprovement:
		icon = "⚠️ "
	}

	fmt.Fprintf(w, "%s %s\n", icon, resp.Status)
	fmt.Fprintf(w, "   Latency:    %s (%s confidence)\n", resp.PredictedLatency, advice.Estimate.Confidence)
	fmt.Fprintf(w, "   Cost:       %s\n", resp.EstimatedCost)
	for _, r := range advice.Verdict.Reasons {
		fmt.Fprintf(w, "   Reason:     %s\n", r)
	}

	if len(resp.Suggestions) > 0 {
		fmt.Fprintln(w, "\nSuggestions:")
		for _, s := range resp.Suggestions {
			fmt.Fprintf(w, "   [%s] %s\n", s.Type, s.Message)
		}
	}
	if len(resp.Alternatives) > 0 {
		fmt.Fprintln(w, "\nAlternatives:")
		for _, a := range resp.Alternatives {
			fmt.Fprintf(w, "   %s\n", a)
		}
	}
	for _, d := range advice.Degradations {
		fmt.Fprintf(w, "\nnote: %s\n", d.Message)
	}
}
