package extract

import (
	"github.com/cordontrips/cordontrips/internal/population"
)

// Assemble builds the output trip for a clip. The id is assigned later by
// the collector.
func Assemble(clip Clip) population.OutputTrip {
	return population.OutputTrip{
		Start:   clip.Start,
		End:     clip.End,
		LegMode: population.LegModeFreight,
	}
}

// WithinHorizon reports whether the trip starts before the end of the day.
// An unset start time counts as the horizon itself and is rejected.
func WithinHorizon(t population.OutputTrip) bool {
	return t.Start.EndTimeOr(population.Horizon) < population.Horizon
}
