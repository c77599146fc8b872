package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"fraud-scoring/internal/cfg"
	"fraud-scoring/internal/client"
	"fraud-scoring/internal/common"
	"fraud-scoring/internal/features"
	"fraud-scoring/internal/fusion"
	"fraud-scoring/internal/rules"
	"fraud-scoring/internal/training"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const usage = `Usage: fraudctl [-url URL] [-timeout D] <command> [flags]

Commands:
  train         -client ID -file data.csv [-stream]
  metrics       -client ID
  predict       -client ID -tx JSON
  ers           -tx JSON [-score S]
  analyze       -file data.csv
  detect        -tx JSON
  detect-batch  -file data.csv
  settings      [-strategy S] [-enable-ers B] [-ers-low L -ers-high H] [-batch-limit N] [-tenants a,b]
  status
  health
`

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.WarnLevel)

	serviceURL, timeout := defaults()
	flag.StringVar(&serviceURL, "url", serviceURL, "Fraud scoring service URL")
	flag.DurationVar(&timeout, "timeout", timeout, "Request timeout")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()

	if flag.NArg() < 1 {
		flag.Usage()
		os.Exit(2)
	}

	c := client.New(serviceURL, timeout)
	ctx := context.Background()

	out, err := run(ctx, c, flag.Arg(0), flag.Args()[1:])
	if err != nil {
		log.Fatal().Err(err).Str("command", flag.Arg(0)).Msg("command failed")
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		log.Fatal().Err(err).Msg("failed to print result")
	}
}

// defaults takes the service URL and timeout from the service configuration
// when it loads, and the built-in defaults otherwise.
func defaults() (string, time.Duration) {
	c, err := cfg.Load()
	if err != nil {
		log.Debug().Err(err).Msg("using built-in client defaults")
		return common.DefaultServiceURL, 30 * time.Second
	}
	return c.ServiceURL, c.RequestTimeout
}

func run(ctx context.Context, c *client.Client, command string, args []string) (any, error) {
	fs := flag.NewFlagSet(command, flag.ExitOnError)
	tenant := fs.String("client", "", "Tenant (client) id")
	file := fs.String("file", "", "CSV dataset")
	tx := fs.String("tx", "", "Transaction as a JSON object")
	score := fs.Float64("score", rules.DefaultScore, "Classifier score passed to the expert rules")
	stream := fs.Bool("stream", false, "Stream training logs over a websocket")
	strategy := fs.String("strategy", "", "Weighting strategy: performance or equal")
	enableERS := fs.Bool("enable-ers", true, "Consult the expert rules for ambiguous scores")
	ersLow := fs.Float64("ers-low", common.DefaultERSLow, "Lower bound of the ERS band")
	ersHigh := fs.Float64("ers-high", common.DefaultERSHigh, "Upper bound of the ERS band")
	batchLimit := fs.Int("batch-limit", common.DefaultBatchLimit, "Rows scored by batch detection")
	tenants := fs.String("tenants", "", "Comma-separated tenants taking part in fusion")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	switch command {
	case "train":
		f, err := openFile(*file)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		if *stream {
			return c.TrainStreamFrom(ctx, *tenant, f, printLog)
		}
		return c.Train(ctx, *tenant, f)

	case "metrics":
		return c.Metrics(ctx, *tenant)

	case "predict":
		rec, err := parseTransaction(*tx)
		if err != nil {
			return nil, err
		}
		return c.Predict(ctx, *tenant, rec)

	case "ers":
		rec, err := parseTransaction(*tx)
		if err != nil {
			return nil, err
		}
		return c.ApplyRules(ctx, rec, *score)

	case "analyze":
		f, err := openFile(*file)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		return c.Analyze(ctx, f)

	case "detect":
		rec, err := parseTransaction(*tx)
		if err != nil {
			return nil, err
		}
		return c.Detect(ctx, rec)

	case "detect-batch":
		f, err := openFile(*file)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		return c.DetectBatch(ctx, f)

	case "settings":
		var update fusion.SettingsUpdate
		changed := false
		fs.Visit(func(f *flag.Flag) {
			changed = true
			switch f.Name {
			case "strategy":
				update.Strategy = strategy
			case "enable-ers":
				update.EnableERS = enableERS
			case "ers-low", "ers-high":
				update.ERSThreshold = []float64{*ersLow, *ersHigh}
			case "batch-limit":
				update.BatchLimit = batchLimit
			case "tenants":
				update.Tenants = splitTenants(*tenants)
			}
		})
		if !changed {
			return c.Settings(ctx)
		}
		return c.UpdateSettings(ctx, update)

	case "status":
		return c.Status(ctx)

	case "health":
		return c.Health(ctx)

	default:
		return nil, fmt.Errorf("unknown command %q", command)
	}
}

func openFile(path string) (*os.File, error) {
	if path == "" {
		return nil, fmt.Errorf("-file is required")
	}
	return os.Open(path)
}

func parseTransaction(raw string) (features.Record, error) {
	if raw == "" {
		return nil, fmt.Errorf("-tx is required")
	}
	var rec features.Record
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return nil, fmt.Errorf("invalid transaction JSON: %w", err)
	}
	return rec, nil
}

func splitTenants(v string) []string {
	out := []string{}
	for _, t := range strings.Split(v, ",") {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func printLog(e training.LogEntry) {
	fmt.Fprintf(os.Stderr, "%s [%s] %s\n", e.Timestamp, e.Level, e.Message)
}
