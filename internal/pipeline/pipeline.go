// Package pipeline runs one complete extraction: it loads the inputs, clips
// the plans to the region and writes the resulting population.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/cordontrips/cordontrips/internal/extract"
	"github.com/cordontrips/cordontrips/internal/network"
	"github.com/cordontrips/cordontrips/internal/population"
	"github.com/cordontrips/cordontrips/internal/region"
	"github.com/cordontrips/cordontrips/internal/source"
)

const tracerName = "github.com/cordontrips/cordontrips/internal/pipeline"

// Pipeline errors.
var (
	ErrMissingInput   = errors.New("missing input location")
	ErrRemoteOutput   = source.ErrNotLocal
	ErrNoModeNetwork  = errors.New("no links allow the requested mode")
	ErrWriteCancelled = errors.New("extraction cancelled before writing output")
)

// Request is one extraction job.
type Request struct {
	Plans   string
	Network string
	Region  string
	Output  string

	// CRS the region must declare, if it declares one at all.
	CRS string

	// Mode filters the network before routing. Empty keeps every link.
	Mode string

	Workers          int
	Landmarks        int
	DepartureDefault float64
	ProgressEvery    int
}

func (r Request) validate() error {
	for name, v := range map[string]string{
		"plans": r.Plans, "network": r.Network, "region": r.Region, "output": r.Output,
	} {
		if v == "" {
			return fmt.Errorf("%w: %s", ErrMissingInput, name)
		}
	}
	return nil
}

// Summary reports what an extraction did.
type Summary struct {
	Output        string
	Nodes         int
	Links         int
	BoundaryLinks int
	Processed     int
	Emitted       int
	Skipped       map[string]int
	ByCase        map[string]int
	Duration      time.Duration
}

// Config holds configuration for a Pipeline.
type Config struct {
	Logger zerolog.Logger

	// Opener resolves input URIs and the output path, applying its location
	// policy. Default: an unrestricted local/HTTP opener with default client
	// settings.
	Opener *source.Opener

	// Metrics is optional.
	Metrics *extract.Metrics
}

// Pipeline executes extraction requests. It is safe for concurrent use.
type Pipeline struct {
	logger  zerolog.Logger
	opener  *source.Opener
	metrics *extract.Metrics
	tracer  trace.Tracer
}

// New creates a Pipeline.
func New(cfg Config) *Pipeline {
	opener := cfg.Opener
	if opener == nil {
		opener = source.NewOpener(source.Config{Logger: cfg.Logger})
	}
	return &Pipeline{
		logger:  cfg.Logger,
		opener:  opener,
		metrics: cfg.Metrics,
		tracer:  otel.Tracer(tracerName),
	}
}

// Opener returns the source opener, whose host health feeds readiness checks.
func (p *Pipeline) Opener() *source.Opener { return p.opener }

// Execute runs req end to end. Per-trip problems are counted in the summary;
// an error means no output was written.
func (p *Pipeline) Execute(ctx context.Context, req Request) (*Summary, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	outPath, err := p.opener.Destination(req.Output)
	if err != nil {
		return nil, err
	}

	ctx, span := p.tracer.Start(ctx, "pipeline.Execute", trace.WithAttributes(
		attribute.String("cordon.plans", req.Plans),
		attribute.String("cordon.network", req.Network),
		attribute.String("cordon.region", req.Region),
		attribute.String("cordon.mode", req.Mode),
	))
	defer span.End()

	start := time.Now()
	summary, err := p.execute(ctx, req, outPath)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	summary.Duration = time.Since(start)

	span.SetAttributes(
		attribute.Int("cordon.processed", summary.Processed),
		attribute.Int("cordon.emitted", summary.Emitted),
	)
	p.logger.Info().
		Str("output", summary.Output).
		Int("processed", summary.Processed).
		Int("emitted", summary.Emitted).
		Interface("skipped", summary.Skipped).
		Dur("duration", summary.Duration).
		Msg("extraction pipeline completed")
	return summary, nil
}

func (p *Pipeline) execute(ctx context.Context, req Request, outPath string) (*Summary, error) {
	net, err := p.loadNetwork(ctx, req.Network, req.Mode)
	if err != nil {
		return nil, err
	}
	reg, err := p.loadRegion(ctx, req.Region, req.CRS)
	if err != nil {
		return nil, err
	}

	x, err := extract.New(extract.Config{
		Network:          net,
		Region:           reg,
		Logger:           p.logger,
		Workers:          req.Workers,
		Landmarks:        req.Landmarks,
		DepartureDefault: req.DepartureDefault,
		ProgressEvery:    req.ProgressEvery,
		Metrics:          p.metrics,
	})
	if err != nil {
		return nil, fmt.Errorf("prepare extractor: %w", err)
	}

	result, err := p.extract(ctx, x, req.Plans)
	if err != nil {
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrWriteCancelled, err)
	}
	if err := p.write(ctx, outPath, result.Trips); err != nil {
		return nil, err
	}

	byCase := make(map[string]int, len(result.ByCase))
	for c, n := range result.ByCase {
		byCase[c.String()] = n
	}
	return &Summary{
		Output:        outPath,
		Nodes:         net.NumNodes(),
		Links:         net.NumLinks(),
		BoundaryLinks: result.BoundaryLinks,
		Processed:     result.Processed,
		Emitted:       result.Emitted,
		Skipped:       result.SkippedByName(),
		ByCase:        byCase,
	}, nil
}

func (p *Pipeline) loadNetwork(ctx context.Context, uri, mode string) (*network.Network, error) {
	ctx, span := p.tracer.Start(ctx, "pipeline.loadNetwork")
	defer span.End()

	rc, err := p.opener.Open(ctx, uri)
	if err != nil {
		return nil, fmt.Errorf("open network: %w", err)
	}
	defer rc.Close()

	net, err := network.ReadXML(ctx, rc)
	if err != nil {
		return nil, fmt.Errorf("load network: %w", err)
	}
	p.logger.Info().Str("uri", uri).Int("nodes", net.NumNodes()).Int("links", net.NumLinks()).Msg("network loaded")

	if mode == "" {
		return net, nil
	}
	filtered, err := net.FilterByMode(mode)
	if err != nil {
		return nil, fmt.Errorf("%w %q: %v", ErrNoModeNetwork, mode, err)
	}
	span.SetAttributes(attribute.Int("cordon.links", filtered.NumLinks()))
	p.logger.Info().Str("mode", mode).Int("links", filtered.NumLinks()).Msg("network filtered by mode")
	return filtered, nil
}

func (p *Pipeline) loadRegion(ctx context.Context, uri, crs string) (*region.Polygon, error) {
	ctx, span := p.tracer.Start(ctx, "pipeline.loadRegion")
	defer span.End()

	data, err := p.opener.ReadAll(ctx, uri)
	if err != nil {
		return nil, fmt.Errorf("open region: %w", err)
	}

	var prj []byte
	if region.IsShapefile(uri) {
		prjURI := region.ShapefileSibling(uri, ".prj")
		prj, err = p.opener.ReadAll(ctx, prjURI)
		if err != nil {
			p.logger.Debug().Err(err).Str("uri", prjURI).Msg("no shapefile projection, skipping CRS check")
			prj = nil
		}
		span.SetAttributes(attribute.String("cordon.region_format", "shapefile"))
	}

	reg, err := region.Load(uri, data, prj, crs)
	if err != nil {
		return nil, fmt.Errorf("load region: %w", err)
	}
	return reg, nil
}

func (p *Pipeline) extract(ctx context.Context, x *extract.Extractor, uri string) (*extract.Result, error) {
	ctx, span := p.tracer.Start(ctx, "pipeline.extract")
	defer span.End()

	rc, err := p.opener.Open(ctx, uri)
	if err != nil {
		return nil, fmt.Errorf("open plans: %w", err)
	}
	defer rc.Close()

	result, err := x.Run(ctx, plansSource(ctx, rc))
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("extract trips: %w", err)
	}
	return result, nil
}

func (p *Pipeline) write(ctx context.Context, path string, trips []population.OutputTrip) error {
	_, span := p.tracer.Start(ctx, "pipeline.write", trace.WithAttributes(
		attribute.String("cordon.output", path),
		attribute.Int("cordon.trips", len(trips)),
	))
	defer span.End()

	if err := population.WriteFile(path, trips); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	return nil
}

func plansSource(ctx context.Context, r io.Reader) extract.RecordSource {
	return func(yield func(population.Record) error) error {
		return population.ReadPlans(ctx, r, yield)
	}
}
