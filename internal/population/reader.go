package population

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/paulmach/orb"

	"github.com/cordontrips/cordontrips/internal/network"
)

// ErrMalformedPopulation is returned when the plans document itself cannot be
// parsed. Individual bad plans are reported per Record instead.
var ErrMalformedPopulation = errors.New("malformed population file")

type xmlPerson struct {
	ID    string    `xml:"id,attr"`
	Plans []xmlPlan `xml:"plan"`
}

type xmlPlan struct {
	Selected string       `xml:"selected,attr"`
	Elements []xmlElement `xml:",any"`
}

// xmlElement captures activities and legs in document order.
type xmlElement struct {
	XMLName xml.Name
	Type    string `xml:"type,attr"`
	Link    string `xml:"link,attr"`
	X       string `xml:"x,attr"`
	Y       string `xml:"y,attr"`
	EndTime string `xml:"end_time,attr"`
	Mode    string `xml:"mode,attr"`
}

// ReadPlans streams person elements from a plans document and calls fn once
// per person in file order. Only the selected plan is considered (the first
// plan when none is marked). A non-nil error from fn stops the scan and is
// returned as is.
func ReadPlans(ctx context.Context, r io.Reader, fn func(Record) error) error {
	dec := xml.NewDecoder(r)

	count := 0
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("%w: %v", ErrMalformedPopulation, err)
		}

		start, ok := tok.(xml.StartElement)
		if !ok || start.Name.Local != "person" {
			continue
		}

		var p xmlPerson
		if err := dec.DecodeElement(&p, &start); err != nil {
			return fmt.Errorf("%w: person: %v", ErrMalformedPopulation, err)
		}
		if err := fn(p.record()); err != nil {
			return err
		}

		count++
		if count%1000 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
	}
}

// ReadAll collects every record of a plans document.
func ReadAll(ctx context.Context, r io.Reader) ([]Record, error) {
	var records []Record
	err := ReadPlans(ctx, r, func(rec Record) error {
		records = append(records, rec)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

func (p xmlPerson) record() Record {
	rec := Record{Trip: Trip{PersonID: p.ID}}

	plan, ok := p.selectedPlan()
	if !ok {
		rec.Err = fmt.Errorf("%w: person %s has no plan", ErrMalformedPlan, p.ID)
		return rec
	}

	var elems []xmlElement
	for _, e := range plan.Elements {
		switch e.XMLName.Local {
		case "activity", "act", "leg":
			elems = append(elems, e)
		}
	}
	if len(elems) != 3 || !isActivity(elems[0]) || elems[1].XMLName.Local != "leg" || !isActivity(elems[2]) {
		rec.Err = fmt.Errorf("%w: person %s: want activity, leg, activity; got %d elements",
			ErrMalformedPlan, p.ID, len(elems))
		return rec
	}

	origin, err := elems[0].activity()
	if err != nil {
		rec.Err = fmt.Errorf("%w: person %s origin: %v", ErrMalformedPlan, p.ID, err)
		return rec
	}
	dest, err := elems[2].activity()
	if err != nil {
		rec.Err = fmt.Errorf("%w: person %s destination: %v", ErrMalformedPlan, p.ID, err)
		return rec
	}

	rec.Trip.Origin = origin
	rec.Trip.Destination = dest
	rec.Trip.Mode = elems[1].Mode
	return rec
}

func (p xmlPerson) selectedPlan() (xmlPlan, bool) {
	if len(p.Plans) == 0 {
		return xmlPlan{}, false
	}
	for _, plan := range p.Plans {
		if plan.Selected == "yes" || plan.Selected == "true" {
			return plan, true
		}
	}
	return p.Plans[0], true
}

func isActivity(e xmlElement) bool {
	return e.XMLName.Local == "activity" || e.XMLName.Local == "act"
}

func (e xmlElement) activity() (Activity, error) {
	x, err := strconv.ParseFloat(e.X, 64)
	if err != nil {
		return Activity{}, fmt.Errorf("bad x %q", e.X)
	}
	y, err := strconv.ParseFloat(e.Y, 64)
	if err != nil {
		return Activity{}, fmt.Errorf("bad y %q", e.Y)
	}

	a := Activity{
		Type:   e.Type,
		LinkID: network.LinkID(e.Link),
		Coord:  orb.Point{x, y},
	}
	if e.EndTime != "" {
		v, err := ParseTime(e.EndTime)
		if err != nil {
			return Activity{}, err
		}
		a.EndTime = &v
	}
	return a, nil
}
