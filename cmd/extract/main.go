// Package main provides the one-shot cordon extraction command.
//
// Usage:
//
//	extract [flags] INPUT
//
// INPUT is the plans file of the full population. Flags may appear before or
// after it.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cordontrips/cordontrips/internal/config"
	"github.com/cordontrips/cordontrips/internal/extract"
	"github.com/cordontrips/cordontrips/internal/pipeline"
	"github.com/cordontrips/cordontrips/internal/source"
	"github.com/cordontrips/cordontrips/internal/telemetry"
)

// Version and BuildTime are set at compile time via ldflags.
var (
	Version   = "dev"
	BuildTime = "unknown"
)

const serviceName = "cordontrips-extract"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stderr)
	stop()
	os.Exit(code)
}

// options are the command line flags. Zero values mean "not given".
type options struct {
	configPath string
	region     string
	network    string
	output     string
	mode       string
	crs        string
	workers    int
	landmarks  int
	logLevel   string
	plans      string

	set map[string]bool
}

func parseArgs(args []string, stderr io.Writer) (*options, error) {
	opts := &options{set: map[string]bool{}}

	fs := flag.NewFlagSet("extract", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: extract [flags] INPUT\n\n"+
			"Extracts the freight trips crossing or inside a region from INPUT plans.\n\nFlags:\n")
		fs.PrintDefaults()
	}
	fs.StringVar(&opts.configPath, "config", "", "YAML configuration file")
	fs.StringVar(&opts.region, "shp", "", "region boundary: ESRI shapefile (.shp, with optional .prj alongside) or GeoJSON polygon")
	fs.StringVar(&opts.network, "network", "", "road network (XML, optionally gzipped)")
	fs.StringVar(&opts.output, "output", "", "output plans file; .gz compresses")
	fs.StringVar(&opts.mode, "mode", "", "only route over links allowing this mode (default car)")
	fs.StringVar(&opts.crs, "crs", "", "coordinate reference system of all inputs (default EPSG:5677)")
	fs.IntVar(&opts.workers, "workers", 0, "routing workers, 0 for one per CPU")
	fs.IntVar(&opts.landmarks, "landmarks", 0, "routing landmarks, 0 disables them (default 8)")
	fs.StringVar(&opts.logLevel, "log-level", "", "trace, debug, info, warn or error")

	var positional []string
	for {
		if err := fs.Parse(args); err != nil {
			return nil, err
		}
		if fs.NArg() == 0 {
			break
		}
		positional = append(positional, fs.Arg(0))
		args = fs.Args()[1:]
	}

	switch len(positional) {
	case 0:
	case 1:
		opts.plans = positional[0]
	default:
		fs.Usage()
		return nil, fmt.Errorf("expected one INPUT, got %d", len(positional))
	}

	fs.Visit(func(f *flag.Flag) { opts.set[f.Name] = true })
	return opts, nil
}

// apply overrides cfg with the flags that were given.
func (o *options) apply(cfg *config.Config) {
	if o.plans != "" {
		cfg.Inputs.Plans = o.plans
	}
	if o.set["shp"] {
		cfg.Inputs.Region = o.region
	}
	if o.set["network"] {
		cfg.Inputs.Network = o.network
	}
	if o.set["output"] {
		cfg.Inputs.Output = o.output
	}
	if o.set["mode"] {
		cfg.Mode = o.mode
	}
	if o.set["crs"] {
		cfg.CRS = o.crs
	}
	if o.set["workers"] {
		cfg.Workers = o.workers
	}
	if o.set["landmarks"] {
		cfg.Landmarks = o.landmarks
	}
	if o.set["log-level"] {
		cfg.LogLevel = o.logLevel
	}
}

func run(ctx context.Context, args []string, stderr io.Writer) int {
	opts, err := parseArgs(args, stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		fmt.Fprintln(stderr, err)
		return 1
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	opts.apply(cfg)
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	if err := cfg.RequireInputs(); err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}

	cfg.Telemetry.ServiceName = serviceName
	cfg.Telemetry.ServiceVersion = Version
	log := telemetry.NewLogger(stderr, cfg.Telemetry, cfg.LogLevel)

	tp, err := telemetry.Init(ctx, cfg.Telemetry)
	if err != nil {
		log.Error().Err(err).Msg("failed to initialize telemetry")
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if shutdownErr := tp.Shutdown(shutdownCtx); shutdownErr != nil {
			log.Error().Err(shutdownErr).Msg("failed to shutdown telemetry")
		}
	}()

	metrics, err := extract.NewMetrics()
	if err != nil {
		log.Error().Err(err).Msg("failed to initialize metrics")
		return 1
	}

	p := pipeline.New(pipeline.Config{
		Logger:  log,
		Opener:  source.NewOpener(source.Config{Logger: log}),
		Metrics: metrics,
	})

	log.Info().
		Str("build_time", BuildTime).
		Str("plans", cfg.Inputs.Plans).
		Str("network", cfg.Inputs.Network).
		Str("region", cfg.Inputs.Region).
		Str("output", cfg.Inputs.Output).
		Msg("starting extraction")

	summary, err := p.Execute(ctx, pipeline.Request{
		Plans:            cfg.Inputs.Plans,
		Network:          cfg.Inputs.Network,
		Region:           cfg.Inputs.Region,
		Output:           cfg.Inputs.Output,
		CRS:              cfg.CRS,
		Mode:             cfg.Mode,
		Workers:          cfg.Workers,
		Landmarks:        cfg.Landmarks,
		DepartureDefault: cfg.DepartureDefault,
		ProgressEvery:    cfg.ProgressEvery,
	})
	if err != nil {
		log.Error().Err(err).Msg("extraction failed")
		return 1
	}

	log.Info().
		Str("output", summary.Output).
		Int("processed", summary.Processed).
		Int("emitted", summary.Emitted).
		Interface("skipped", summary.Skipped).
		Interface("by_case", summary.ByCase).
		Dur("duration", summary.Duration).
		Msg("extraction finished")
	return 0
}
