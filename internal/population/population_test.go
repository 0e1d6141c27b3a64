package population_test

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cordontrips/cordontrips/internal/population"
)

const plansXML = `<?xml version="1.0" encoding="utf-8"?>
<!DOCTYPE population SYSTEM "http://www.matsim.org/files/dtd/population_v6.dtd">
<population>
	<person id="truck_1">
		<attributes><attribute name="subpopulation" class="java.lang.String">freight</attribute></attributes>
		<plan score="1.0" selected="no">
			<activity type="freight_start" link="L99" x="9" y="9" end_time="01:00:00"/>
			<leg mode="freight"/>
			<activity type="freight_end" link="L99" x="9" y="9"/>
		</plan>
		<plan selected="yes">
			<activity type="freight_start" link="L12" x="0" y="0" end_time="00:16:40"/>
			<leg mode="freight"><route type="links">L12 L23</route></leg>
			<activity type="freight_end" link="L34" x="25" y="0"/>
		</plan>
	</person>
	<person id="truck_2">
		<plan>
			<activity type="freight_start" link="L43" x="25" y="0"/>
			<leg mode="freight"/>
			<activity type="freight_end" link="L21" x="0" y="0"/>
		</plan>
	</person>
	<person id="multi_stop">
		<plan selected="yes">
			<activity type="a" link="L12" x="0" y="0" end_time="08:00:00"/>
			<leg mode="car"/>
			<activity type="b" link="L23" x="10" y="0" end_time="09:00:00"/>
			<leg mode="car"/>
			<activity type="c" link="L34" x="25" y="0"/>
		</plan>
	</person>
	<person id="bad_time">
		<plan selected="yes">
			<activity type="a" link="L12" x="0" y="0" end_time="soon"/>
			<leg mode="car"/>
			<activity type="b" link="L34" x="25" y="0"/>
		</plan>
	</person>
</population>
`

func TestReadAll(t *testing.T) {
	records, err := population.ReadAll(context.Background(), strings.NewReader(plansXML))
	require.NoError(t, err)
	require.Len(t, records, 4)

	first := records[0]
	require.NoError(t, first.Err)
	assert.Equal(t, "truck_1", first.Trip.PersonID)
	assert.Equal(t, "L12", string(first.Trip.Origin.LinkID))
	assert.Equal(t, orb.Point{0, 0}, first.Trip.Origin.Coord)
	assert.Equal(t, orb.Point{25, 0}, first.Trip.Destination.Coord)
	assert.Equal(t, "freight", first.Trip.Mode)
	assert.InDelta(t, 1000.0, first.Trip.DepartureOr(0), 1e-9)
	assert.Nil(t, first.Trip.Destination.EndTime)

	second := records[1]
	require.NoError(t, second.Err)
	assert.Equal(t, "truck_2", second.Trip.PersonID)
	assert.Zero(t, second.Trip.DepartureOr(0))
	assert.InDelta(t, 42.0, second.Trip.DepartureOr(42), 1e-9)

	assert.ErrorIs(t, records[2].Err, population.ErrMalformedPlan)
	assert.Equal(t, "multi_stop", records[2].Trip.PersonID)

	assert.ErrorIs(t, records[3].Err, population.ErrMalformedPlan)
	assert.Equal(t, "bad_time", records[3].Trip.PersonID)
}

func TestReadAll_LegDepTimeIgnored(t *testing.T) {
	const doc = `<population>
	<person id="late_leg">
		<plan selected="yes">
			<activity type="a" link="L12" x="0" y="0"/>
			<leg mode="car" dep_time="10:00:00"/>
			<activity type="b" link="L34" x="25" y="0"/>
		</plan>
	</person>
</population>`

	records, err := population.ReadAll(context.Background(), strings.NewReader(doc))
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.NoError(t, records[0].Err)
	assert.Nil(t, records[0].Trip.Origin.EndTime)
	assert.Zero(t, records[0].Trip.DepartureOr(0))
	assert.InDelta(t, 7.0, records[0].Trip.DepartureOr(7), 1e-9)
}

func TestReadPlans_CallbackErrorStops(t *testing.T) {
	stop := assert.AnError
	calls := 0
	err := population.ReadPlans(context.Background(), strings.NewReader(plansXML), func(population.Record) error {
		calls++
		return stop
	})
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, 1, calls)
}

func TestReadPlans_MalformedDocument(t *testing.T) {
	err := population.ReadPlans(context.Background(), strings.NewReader(`<population><person id="x">`),
		func(population.Record) error { return nil })
	assert.ErrorIs(t, err, population.ErrMalformedPopulation)
}

func TestParseTime(t *testing.T) {
	tests := []struct {
		in      string
		want    float64
		wantErr bool
	}{
		{in: "00:00:00", want: 0},
		{in: "00:16:40", want: 1000},
		{in: "23:59:59", want: 86399},
		{in: "25:00:00", want: 90000},
		{in: "08:30", want: 30600},
		{in: "3600", want: 3600},
		{in: "00:00:01.5", want: 1.5},
		{in: "", wantErr: true},
		{in: "soon", wantErr: true},
		{in: "01:60:00", wantErr: true},
		{in: "1:2:3:4", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := population.ParseTime(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, population.ErrMalformedTime)
				return
			}
			require.NoError(t, err)
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}
}

func TestFormatTime(t *testing.T) {
	assert.Equal(t, "00:16:40", population.FormatTime(1000))
	assert.Equal(t, "23:59:59", population.FormatTime(86399))
	assert.Equal(t, "25:00:00", population.FormatTime(90000))
	assert.Equal(t, "00:00:01.5", population.FormatTime(1.5))
}

func sampleTrips() []population.OutputTrip {
	return []population.OutputTrip{
		{
			ID:      0,
			Start:   population.OutActivity{Type: population.StartActivityType, Coord: orb.Point{0, 0}, EndTime: population.Seconds(1000)},
			End:     population.OutActivity{Type: population.EndActivityType, Coord: orb.Point{10, 0}},
			LegMode: population.LegModeFreight,
		},
		{
			ID:      1,
			Start:   population.OutActivity{Type: population.StartActivityType, Coord: orb.Point{10.5, 0}, EndTime: population.Seconds(3602)},
			End:     population.OutActivity{Type: population.EndActivityType, Coord: orb.Point{0, 0}},
			LegMode: population.LegModeFreight,
		},
	}
}

func TestWritePlans_ReadBack(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, population.WritePlans(&buf, sampleTrips()))

	out := buf.String()
	assert.Contains(t, out, "<!DOCTYPE population")
	assert.Contains(t, out, `<person id="0">`)
	assert.Contains(t, out, `end_time="00:16:40"`)
	assert.Contains(t, out, `<leg mode="freight"></leg>`)

	records, err := population.ReadAll(context.Background(), &buf)
	require.NoError(t, err)
	require.Len(t, records, 2)
	require.NoError(t, records[1].Err)
	assert.Equal(t, "1", records[1].Trip.PersonID)
	assert.Equal(t, orb.Point{10.5, 0}, records[1].Trip.Origin.Coord)
	assert.InDelta(t, 3602.0, records[1].Trip.DepartureOr(0), 1e-9)
}

func TestWriteFile_Gzip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.xml.gz")
	require.NoError(t, population.WriteFile(path, sampleTrips()))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	zr, err := gzip.NewReader(f)
	require.NoError(t, err)
	records, err := population.ReadAll(context.Background(), zr)
	require.NoError(t, err)
	assert.Len(t, records, 2)
}

func TestWriteFile_Plain(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.xml")
	require.NoError(t, population.WriteFile(path, nil))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "<?xml"))
}
