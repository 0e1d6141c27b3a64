// Package boundary identifies the links that cross a region boundary.
package boundary

import (
	"sort"

	"github.com/cordontrips/cordontrips/internal/network"
	"github.com/cordontrips/cordontrips/internal/region"
)

// Set is an immutable set of boundary link ids.
type Set struct {
	ids map[network.LinkID]struct{}
}

// Detect returns the links whose from-node and to-node lie on opposite sides
// of the region boundary. Each link costs exactly two containment tests.
func Detect(net *network.Network, r region.Region) Set {
	ids := make(map[network.LinkID]struct{})
	for _, l := range net.Links() {
		from, _ := net.Node(l.From)
		to, _ := net.Node(l.To)
		if r.Contains(from.Coord) != r.Contains(to.Coord) {
			ids[l.ID] = struct{}{}
		}
	}
	return Set{ids: ids}
}

// NewSet builds a set from explicit ids.
func NewSet(ids ...network.LinkID) Set {
	m := make(map[network.LinkID]struct{}, len(ids))
	for _, id := range ids {
		m[id] = struct{}{}
	}
	return Set{ids: m}
}

// Contains reports whether id is a boundary link.
func (s Set) Contains(id network.LinkID) bool {
	_, ok := s.ids[id]
	return ok
}

// Len returns the number of boundary links.
func (s Set) Len() int {
	return len(s.ids)
}

// IDs returns the boundary link ids in sorted order.
func (s Set) IDs() []network.LinkID {
	ids := make([]network.LinkID, 0, len(s.ids))
	for id := range s.ids {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Equal reports whether both sets hold the same ids.
func (s Set) Equal(other Set) bool {
	if len(s.ids) != len(other.ids) {
		return false
	}
	for id := range s.ids {
		if _, ok := other.ids[id]; !ok {
			return false
		}
	}
	return true
}
