package extract

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/cordontrips/cordontrips/internal/boundary"
	"github.com/cordontrips/cordontrips/internal/network"
	"github.com/cordontrips/cordontrips/internal/population"
	"github.com/cordontrips/cordontrips/internal/region"
	"github.com/cordontrips/cordontrips/internal/router"
)

// DefaultProgressEvery is how many processed trips pass between progress logs.
const DefaultProgressEvery = 100

// inFlightPerWorker sizes the default dispatch window.
const inFlightPerWorker = 4

// RecordSource feeds records to yield in input order. It stops and returns
// the error when yield fails.
type RecordSource func(yield func(population.Record) error) error

// FromTrips adapts an in-memory trip slice to a RecordSource.
func FromTrips(trips []population.Trip) RecordSource {
	return func(yield func(population.Record) error) error {
		for _, t := range trips {
			if err := yield(population.Record{Trip: t}); err != nil {
				return err
			}
		}
		return nil
	}
}

// FromRecords adapts decoded records to a RecordSource.
func FromRecords(records []population.Record) RecordSource {
	return func(yield func(population.Record) error) error {
		for _, r := range records {
			if err := yield(r); err != nil {
				return err
			}
		}
		return nil
	}
}

// Config holds configuration for creating an Extractor.
type Config struct {
	Network *network.Network
	Region  region.Region
	Logger  zerolog.Logger

	// Engine is optional; one is built from Network when nil.
	Engine *router.Engine

	// Workers defaults to GOMAXPROCS.
	Workers int

	// Landmarks is used only when Engine is nil.
	Landmarks int

	DepartureDefault float64

	// ProgressEvery defaults to DefaultProgressEvery.
	ProgressEvery int

	// MaxInFlight bounds how many records may be dispatched ahead of the
	// oldest one not yet collected, which caps the reorder buffer.
	// Default: inFlightPerWorker * Workers
	MaxInFlight int

	// Metrics is optional.
	Metrics *Metrics
}

// Extractor holds the shared read-only state for clipping trips. Run may be
// called repeatedly and concurrently.
type Extractor struct {
	logger        zerolog.Logger
	engine        *router.Engine
	classifier    *Classifier
	boundary      boundary.Set
	workers       int
	maxInFlight   int
	progressEvery int
	metrics       *Metrics

	// newFinder overrides the per-worker path finder in tests.
	newFinder func() PathFinder
}

// New validates the inputs, detects boundary links and prepares the router.
func New(cfg Config) (*Extractor, error) {
	if cfg.Network == nil {
		return nil, ErrNilNetwork
	}
	if cfg.Network.NumNodes() == 0 || cfg.Network.NumLinks() == 0 {
		return nil, network.ErrEmptyNetwork
	}
	if cfg.Region == nil {
		return nil, ErrNilRegion
	}
	if b := cfg.Region.Bound(); b.Max[0] <= b.Min[0] || b.Max[1] <= b.Min[1] {
		return nil, ErrEmptyRegion
	}

	engine := cfg.Engine
	if engine == nil {
		var err error
		engine, err = router.NewEngine(cfg.Network, router.WithLandmarks(cfg.Landmarks))
		if err != nil {
			return nil, fmt.Errorf("build router: %w", err)
		}
	}

	workers := cfg.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	maxInFlight := cfg.MaxInFlight
	if maxInFlight <= 0 {
		maxInFlight = inFlightPerWorker * workers
	}
	progress := cfg.ProgressEvery
	if progress <= 0 {
		progress = DefaultProgressEvery
	}

	set := boundary.Detect(cfg.Network, cfg.Region)
	if set.Len() == 0 {
		cfg.Logger.Warn().Msg("no boundary links found; only interior trips can be emitted")
	}

	cfg.Logger.Info().
		Int("nodes", cfg.Network.NumNodes()).
		Int("links", cfg.Network.NumLinks()).
		Int("boundary_links", set.Len()).
		Int("skipped_links", engine.Skipped()).
		Int("landmarks", engine.NumLandmarks()).
		Int("workers", workers).
		Msg("extractor initialized")

	return &Extractor{
		logger:        cfg.Logger,
		engine:        engine,
		classifier:    NewClassifier(cfg.Network, cfg.Region, set, cfg.DepartureDefault),
		boundary:      set,
		workers:       workers,
		maxInFlight:   maxInFlight,
		progressEvery: progress,
		metrics:       cfg.Metrics,
	}, nil
}

// Boundary returns the boundary link set.
func (x *Extractor) Boundary() boundary.Set { return x.boundary }

// Classifier returns the trip classifier.
func (x *Extractor) Classifier() *Classifier { return x.classifier }

type job struct {
	index  int
	record population.Record
}

type outcome struct {
	index    int
	personID string
	tc       Case
	trip     population.OutputTrip
	skip     *SkipError
}

// Run clips every record from src. Records are processed by a worker pool,
// each worker owning its own router.Searcher, and collected in input order so
// the output is identical to a sequential run. Per-trip failures are counted;
// only source errors and cancellation abort the run.
func (x *Extractor) Run(ctx context.Context, src RecordSource) (*Result, error) {
	start := time.Now()
	result := &Result{
		Skipped:       make(map[Reason]int),
		ByCase:        make(map[Case]int),
		BoundaryLinks: x.boundary.Len(),
	}

	x.logger.Info().Int("workers", x.workers).Msg("starting trip extraction")

	g, gctx := errgroup.WithContext(ctx)
	jobs := make(chan job, x.workers*4)
	outcomes := make(chan outcome, x.workers*4)
	// One token per record between dispatch and in-order collection.
	window := make(chan struct{}, x.maxInFlight)

	g.Go(func() error {
		defer close(jobs)
		index := 0
		return src(func(rec population.Record) error {
			select {
			case window <- struct{}{}:
			case <-gctx.Done():
				return gctx.Err()
			}
			select {
			case jobs <- job{index: index, record: rec}:
				index++
				return nil
			case <-gctx.Done():
				return gctx.Err()
			}
		})
	})

	var wg sync.WaitGroup
	for i := 0; i < x.workers; i++ {
		wg.Add(1)
		g.Go(func() error {
			defer wg.Done()
			return x.worker(gctx, jobs, outcomes)
		})
	}
	go func() {
		wg.Wait()
		close(outcomes)
	}()

	x.collect(ctx, outcomes, window, result)

	if err := g.Wait(); err != nil {
		return nil, err
	}

	result.Duration = time.Since(start)
	x.logger.Info().
		Int("processed", result.Processed).
		Int("emitted", result.Emitted).
		Int("skipped", result.SkippedTotal()).
		Interface("skipped_by_reason", result.SkippedByName()).
		Dur("duration", result.Duration).
		Msg("trip extraction completed")

	return result, nil
}

func (x *Extractor) worker(ctx context.Context, jobs <-chan job, out chan<- outcome) error {
	pf := x.finder()
	for j := range jobs {
		o, err := x.process(ctx, pf, j)
		if err != nil {
			return err
		}
		select {
		case out <- o:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (x *Extractor) process(ctx context.Context, pf PathFinder, j job) (outcome, error) {
	o := outcome{index: j.index, personID: j.record.Trip.PersonID}
	if j.record.Err != nil {
		o.skip = skip(ReasonMalformedPlan, j.record.Trip, j.record.Err)
		return o, nil
	}

	clip, err := x.classifier.Clip(ctx, j.record.Trip, pf)
	o.tc = clip.Case
	if err != nil {
		var se *SkipError
		if errors.As(err, &se) {
			o.skip = se
			return o, nil
		}
		return o, err
	}

	o.trip = Assemble(clip)
	if !WithinHorizon(o.trip) {
		o.skip = skip(ReasonHorizon, j.record.Trip,
			fmt.Errorf("start %v", o.trip.Start.EndTimeOr(population.Horizon)))
	}
	return o, nil
}

func (x *Extractor) finder() PathFinder {
	if x.newFinder != nil {
		return x.newFinder()
	}
	return &timedPathFinder{searcher: x.engine.NewSearcher(), metrics: x.metrics}
}

// collect reorders outcomes by input index and assigns trip ids, returning a
// window token for every outcome it records. It drains the channel even after
// a failure so workers never block.
func (x *Extractor) collect(ctx context.Context, outcomes <-chan outcome, window <-chan struct{}, result *Result) {
	pending := make(map[int]outcome)
	next := 0
	for o := range outcomes {
		pending[o.index] = o
		for {
			cur, ok := pending[next]
			if !ok {
				break
			}
			delete(pending, next)
			next++
			x.record(ctx, cur, result)
			<-window
		}
	}
}

func (x *Extractor) record(ctx context.Context, o outcome, result *Result) {
	result.Processed++
	if o.tc != 0 {
		result.ByCase[o.tc]++
	}

	if o.skip != nil {
		result.Skipped[o.skip.Reason]++
		x.metrics.recordOutcome(ctx, false, o.skip.Reason, o.tc)
		ev := x.logger.Warn()
		if o.skip.Reason == ReasonNoCrossing || o.skip.Reason == ReasonHorizon {
			ev = x.logger.Debug()
		}
		ev.Str("person_id", o.personID).
			Str("reason", string(o.skip.Reason)).
			Err(o.skip.Err).
			Msg("trip skipped")
	} else {
		o.trip.ID = result.Emitted
		result.Trips = append(result.Trips, o.trip)
		result.Emitted++
		x.metrics.recordOutcome(ctx, true, "", o.tc)
	}

	if result.Processed%x.progressEvery == 0 {
		x.logger.Info().
			Int("processed", result.Processed).
			Int("emitted", result.Emitted).
			Msg("extraction progress")
	}
}

// timedPathFinder records query latency around a Searcher.
type timedPathFinder struct {
	searcher *router.Searcher
	metrics  *Metrics
}

func (t *timedPathFinder) Path(ctx context.Context, from, to network.NodeID) (router.Path, error) {
	start := time.Now()
	p, err := t.searcher.Path(ctx, from, to)
	t.metrics.recordRoute(ctx, time.Since(start), err)
	return p, err
}

// Extract is the one-shot form of New followed by Run over an in-memory
// trip slice.
func Extract(ctx context.Context, net *network.Network, r region.Region, trips []population.Trip, opts ...Option) (*Result, error) {
	cfg := Config{Network: net, Region: r, Logger: zerolog.Nop(), Landmarks: router.DefaultLandmarks}
	for _, opt := range opts {
		opt(&cfg)
	}
	x, err := New(cfg)
	if err != nil {
		return nil, err
	}
	return x.Run(ctx, FromTrips(trips))
}

// Option configures Extract.
type Option func(*Config)

// WithWorkers sets the worker pool size.
func WithWorkers(n int) Option { return func(c *Config) { c.Workers = n } }

// WithLandmarks sets the router landmark count.
func WithLandmarks(n int) Option { return func(c *Config) { c.Landmarks = n } }

// WithDepartureDefault sets the departure used for trips without one.
func WithDepartureDefault(secs float64) Option { return func(c *Config) { c.DepartureDefault = secs } }

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option { return func(c *Config) { c.Logger = l } }

// WithEngine reuses a prebuilt router engine.
func WithEngine(e *router.Engine) Option { return func(c *Config) { c.Engine = e } }

// WithMetrics attaches OpenTelemetry instruments.
func WithMetrics(m *Metrics) Option { return func(c *Config) { c.Metrics = m } }
