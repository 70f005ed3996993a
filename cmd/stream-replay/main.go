// Command stream-replay replays a recorded monitor table against a D'insight
// baseline at a controlled pace, simulating live sensor telemetry.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/dinsight-analytics/stream-replay/internal/config"
	"github.com/dinsight-analytics/stream-replay/internal/dinsight"
	"github.com/dinsight-analytics/stream-replay/internal/replay"
	"github.com/dinsight-analytics/stream-replay/internal/version"
)

func main() {
	// Load .env if present; real environment variables win.
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	os.Exit(run(ctx, os.Args[1:]))
}

func run(ctx context.Context, args []string) int {
	// The config file must be loaded before the flag set is built, because
	// flag defaults come from it; scan the args for -config up front.
	configPath := configFlag(args)
	if configPath == "" {
		configPath = strings.TrimSpace(os.Getenv("DINSIGHT_CONFIG"))
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "config error: %s\n", err)
		return 2
	}

	fs := flag.NewFlagSet("stream-replay", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	fs.Usage = func() { usage(os.Stderr, fs) }

	const (
		unsetFrequency = 0.0
		unsetIndex     = -1
	)
	defaultFrequency := unsetFrequency
	if cfg.MaxFrequency != nil {
		defaultFrequency = *cfg.MaxFrequency
	}
	defaultIndex := unsetIndex
	if cfg.MaxIndex != nil {
		defaultIndex = *cfg.MaxIndex
	}

	fs.Int64Var(&cfg.BaselineID, "baseline-id", cfg.BaselineID, "Existing baseline dinsight id")
	fs.StringVar(&cfg.BaselineFile, "baseline-file", cfg.BaselineFile, "Baseline CSV to upload and process instead of --baseline-id")
	fs.StringVar(&cfg.MonitorFile, "monitor-file", cfg.MonitorFile, "Monitor CSV to replay")
	fs.Float64Var(&cfg.DelaySeconds, "delay", cfg.DelaySeconds, "Delay in seconds between batches (env: DINSIGHT_DELAY_SECONDS)")
	fs.IntVar(&cfg.BatchSize, "batch-size", cfg.BatchSize, "Points per batch (env: DINSIGHT_BATCH_SIZE)")
	fs.IntVar(&cfg.LatestGlowCount, "latest-glow-count", cfg.LatestGlowCount, "Latest points to highlight during streaming (env: DINSIGHT_GLOW_COUNT)")
	fs.StringVar(&cfg.APIBaseURL, "api-url", cfg.APIBaseURL, "Backend base API URL (env: DINSIGHT_API_URL)")
	fs.IntVar(&cfg.RetryBudget, "retry-budget", cfg.RetryBudget, "Extra delivery attempts per batch (env: DINSIGHT_RETRY_BUDGET)")
	fs.BoolVar(&cfg.IncludeMetadata, "include-metadata", cfg.IncludeMetadata, "Transmit metadata columns alongside features")
	fs.StringVar(&cfg.WorkDir, "work-dir", cfg.WorkDir, "Directory for per-batch transmission tables (env: DINSIGHT_WORK_DIR)")
	maxFrequency := fs.Float64("max-frequency", defaultFrequency, "Keep only freq_ columns at or below this frequency (0 disables)")
	maxIndex := fs.Int("max-index", defaultIndex, "Keep only f_ columns at or below this index (-1 disables)")
	showVersion := fs.Bool("version", false, "Print the version and exit")
	fs.String("config", configPath, "YAML config file; flags override its values (env: DINSIGHT_CONFIG)")

	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *showVersion {
		fmt.Println(version.Current)
		return 0
	}
	if *maxFrequency != unsetFrequency {
		cfg.MaxFrequency = maxFrequency
	}
	if *maxIndex != unsetIndex {
		cfg.MaxIndex = maxIndex
	}

	logger := log.New(os.Stdout, "", log.LstdFlags)

	client, err := dinsight.NewClient(cfg.APIBaseURL, dinsight.Options{
		Logger:      logger,
		RetryBudget: cfg.RetryBudget,
	})
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "config error: %s\n", err)
		return 2
	}

	session, err := replay.New(cfg, client, logger)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "config error: %s\n", err)
		fs.Usage()
		return 2
	}

	if err := session.Run(ctx); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "replay failed (%s): %s\n", categorize(err), err)
		return 1
	}
	return 0
}

// configFlag extracts the -config value from raw args ahead of flag parsing.
func configFlag(args []string) string {
	for i, a := range args {
		if !strings.HasPrefix(a, "-") {
			continue
		}
		name := strings.TrimPrefix(strings.TrimPrefix(a, "-"), "-")
		if name == "config" {
			if i+1 < len(args) {
				return strings.TrimSpace(args[i+1])
			}
			return ""
		}
		if v, ok := strings.CutPrefix(name, "config="); ok {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

// categorize maps a fatal session error onto the operator-facing failure
// classes: schema, dimension, server, timeout.
func categorize(err error) string {
	switch {
	case errors.Is(err, dinsight.ErrProcessingTimeout):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "interrupted"
	}

	var apiErr *dinsight.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Category {
		case dinsight.CategoryDimensionMismatch:
			return "dimension"
		case dinsight.CategoryBaselineEmpty:
			return "baseline"
		case dinsight.CategoryServer:
			return "server"
		default:
			return "request"
		}
	}
	return "schema"
}

func usage(w *os.File, fs *flag.FlagSet) {
	_, _ = fmt.Fprintf(w, `stream-replay: replay a monitor CSV against a D'insight baseline

Usage:
  stream-replay [flags]

Exactly one of --baseline-id or --baseline-file is required, along with
--monitor-file.

Environment:
  DINSIGHT_CONFIG  Optional YAML config file; flags override its values.

Flags:
`)
	fs.PrintDefaults()
}
