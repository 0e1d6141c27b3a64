package population

import (
	"bufio"
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/klauspost/compress/gzip"
)

const populationDoctype = `<!DOCTYPE population SYSTEM "http://www.matsim.org/files/dtd/population_v6.dtd">`

type outPopulation struct {
	XMLName xml.Name    `xml:"population"`
	Persons []outPerson `xml:"person"`
}

type outPerson struct {
	ID   string  `xml:"id,attr"`
	Plan outPlan `xml:"plan"`
}

type outPlan struct {
	Selected string `xml:"selected,attr"`
	Elements []any
}

type outActivity struct {
	XMLName xml.Name `xml:"activity"`
	Type    string   `xml:"type,attr"`
	X       string   `xml:"x,attr"`
	Y       string   `xml:"y,attr"`
	EndTime string   `xml:"end_time,attr,omitempty"`
}

type outLeg struct {
	XMLName xml.Name `xml:"leg"`
	Mode    string   `xml:"mode,attr"`
}

// WritePlans encodes trips as a population document. Person ids are the
// trip ids.
func WritePlans(w io.Writer, trips []OutputTrip) error {
	doc := outPopulation{Persons: make([]outPerson, 0, len(trips))}
	for _, t := range trips {
		doc.Persons = append(doc.Persons, outPerson{
			ID: strconv.Itoa(t.ID),
			Plan: outPlan{
				Selected: "yes",
				Elements: []any{activityElement(t.Start), outLeg{Mode: t.LegMode}, activityElement(t.End)},
			},
		})
	}

	if _, err := io.WriteString(w, xml.Header+populationDoctype+"\n"); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	enc := xml.NewEncoder(w)
	enc.Indent("", "\t")
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("encode population: %w", err)
	}
	if _, err := io.WriteString(w, "\n"); err != nil {
		return fmt.Errorf("write trailer: %w", err)
	}
	return nil
}

// WriteFile writes trips to path, gzip-compressed when path ends in ".gz".
func WriteFile(path string, trips []OutputTrip) (err error) {
	f, err := os.Create(path) //nolint:gosec // output path is operator-provided
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close %s: %w", path, cerr)
		}
	}()

	buf := bufio.NewWriter(f)
	var w io.Writer = buf
	var gz *gzip.Writer
	if strings.HasSuffix(path, ".gz") {
		gz = gzip.NewWriter(buf)
		w = gz
	}

	if err := WritePlans(w, trips); err != nil {
		return err
	}
	if gz != nil {
		if err := gz.Close(); err != nil {
			return fmt.Errorf("gzip %s: %w", path, err)
		}
	}
	return buf.Flush()
}

func activityElement(a OutActivity) outActivity {
	out := outActivity{
		Type: a.Type,
		X:    strconv.FormatFloat(a.Coord[0], 'f', -1, 64),
		Y:    strconv.FormatFloat(a.Coord[1], 'f', -1, 64),
	}
	if a.EndTime != nil {
		out.EndTime = FormatTime(*a.EndTime)
	}
	return out
}
