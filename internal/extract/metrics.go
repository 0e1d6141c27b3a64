package extract

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/cordontrips/cordontrips/internal/extract"

// Metrics holds the extraction instruments.
type Metrics struct {
	processed     metric.Int64Counter
	emitted       metric.Int64Counter
	skipped       metric.Int64Counter
	routeDuration metric.Float64Histogram
}

// NewMetrics creates the instruments on the global meter provider.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)

	processed, err := meter.Int64Counter(
		"extract.trips.processed",
		metric.WithDescription("Number of input trips processed"),
		metric.WithUnit("{trip}"),
	)
	if err != nil {
		return nil, err
	}

	emitted, err := meter.Int64Counter(
		"extract.trips.emitted",
		metric.WithDescription("Number of clipped trips written"),
		metric.WithUnit("{trip}"),
	)
	if err != nil {
		return nil, err
	}

	skipped, err := meter.Int64Counter(
		"extract.trips.skipped",
		metric.WithDescription("Number of input trips dropped, by reason"),
		metric.WithUnit("{trip}"),
	)
	if err != nil {
		return nil, err
	}

	routeDuration, err := meter.Float64Histogram(
		"extract.route.duration",
		metric.WithDescription("Duration of shortest path queries in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	return &Metrics{
		processed:     processed,
		emitted:       emitted,
		skipped:       skipped,
		routeDuration: routeDuration,
	}, nil
}

func (m *Metrics) recordOutcome(ctx context.Context, emitted bool, reason Reason, tc Case) {
	if m == nil {
		return
	}
	caseAttr := metric.WithAttributes(attribute.String("case", tc.String()))
	m.processed.Add(ctx, 1, caseAttr)
	if emitted {
		m.emitted.Add(ctx, 1, caseAttr)
		return
	}
	m.skipped.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", string(reason))))
}

func (m *Metrics) recordRoute(ctx context.Context, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.routeDuration.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.Bool("error", err != nil)))
}
