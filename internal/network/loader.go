package network

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/paulmach/orb"
)

// ErrMalformedNetwork is returned when the network file cannot be parsed.
var ErrMalformedNetwork = errors.New("malformed network file")

type xmlNode struct {
	ID string  `xml:"id,attr"`
	X  float64 `xml:"x,attr"`
	Y  float64 `xml:"y,attr"`
}

type xmlLink struct {
	ID        string  `xml:"id,attr"`
	From      string  `xml:"from,attr"`
	To        string  `xml:"to,attr"`
	Length    float64 `xml:"length,attr"`
	FreeSpeed float64 `xml:"freespeed,attr"`
	Capacity  float64 `xml:"capacity,attr"`
	PermLanes float64 `xml:"permlanes,attr"`
	Modes     string  `xml:"modes,attr"`
}

// ReadXML streams a network.xml document (nodes with x/y, links with length,
// freespeed, capacity, permlanes and modes) into a Network. The reader must
// already be decompressed.
func ReadXML(ctx context.Context, r io.Reader) (*Network, error) {
	dec := xml.NewDecoder(r)
	b := NewBuilder()

	count := 0
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedNetwork, err)
		}

		start, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}

		switch start.Name.Local {
		case "node":
			var n xmlNode
			if err := dec.DecodeElement(&n, &start); err != nil {
				return nil, fmt.Errorf("%w: node: %v", ErrMalformedNetwork, err)
			}
			b.AddNode(Node{ID: NodeID(n.ID), Coord: orb.Point{n.X, n.Y}})
		case "link":
			var l xmlLink
			if err := dec.DecodeElement(&l, &start); err != nil {
				return nil, fmt.Errorf("%w: link: %v", ErrMalformedNetwork, err)
			}
			b.AddLink(Link{
				ID:        LinkID(l.ID),
				From:      NodeID(l.From),
				To:        NodeID(l.To),
				Length:    l.Length,
				FreeSpeed: l.FreeSpeed,
				Capacity:  l.Capacity,
				Lanes:     l.PermLanes,
				Modes:     splitModes(l.Modes),
			})
		default:
			continue
		}

		count++
		if count%100000 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
	}

	return b.Build()
}

func splitModes(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	modes := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			modes = append(modes, p)
		}
	}
	return modes
}
