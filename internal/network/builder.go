package network

import (
	"errors"
	"fmt"
	"sort"

	"github.com/paulmach/orb"
)

// Builder accumulates nodes and links and validates them into a Network.
type Builder struct {
	nodes map[NodeID]*Node
	links map[LinkID]*Link
	errs  []error
}

// NewBuilder creates an empty network builder.
func NewBuilder() *Builder {
	return &Builder{
		nodes: make(map[NodeID]*Node),
		links: make(map[LinkID]*Link),
	}
}

// AddNode adds a node. Duplicate ids are reported by Build.
func (b *Builder) AddNode(node Node) *Builder {
	if _, ok := b.nodes[node.ID]; ok {
		b.errs = append(b.errs, fmt.Errorf("%w: %s", ErrDuplicateNode, node.ID))
		return b
	}
	cpy := node
	b.nodes[node.ID] = &cpy
	return b
}

// AddLink adds a link. Endpoints may be added later; they are checked by Build.
// A zero Coord is replaced by the midpoint of the two end nodes.
func (b *Builder) AddLink(link Link) *Builder {
	if _, ok := b.links[link.ID]; ok {
		b.errs = append(b.errs, fmt.Errorf("%w: %s", ErrDuplicateLink, link.ID))
		return b
	}
	cpy := link
	cpy.Modes = append([]string(nil), link.Modes...)
	b.links[link.ID] = &cpy
	return b
}

// Build validates the accumulated graph and returns the immutable Network.
func (b *Builder) Build() (*Network, error) {
	if len(b.errs) > 0 {
		return nil, errors.Join(b.errs...)
	}
	if len(b.nodes) == 0 || len(b.links) == 0 {
		return nil, ErrEmptyNetwork
	}

	out := make(map[NodeID][]*Link, len(b.nodes))
	for _, l := range b.links {
		from, ok := b.nodes[l.From]
		if !ok {
			return nil, fmt.Errorf("%w: link %s from-node %s", ErrUnknownNode, l.ID, l.From)
		}
		to, ok := b.nodes[l.To]
		if !ok {
			return nil, fmt.Errorf("%w: link %s to-node %s", ErrUnknownNode, l.ID, l.To)
		}
		if l.Coord == (orb.Point{}) {
			l.Coord = midpoint(from.Coord, to.Coord)
		}
		out[l.From] = append(out[l.From], l)
	}
	for id := range out {
		adj := out[id]
		sort.Slice(adj, func(i, j int) bool { return adj[i].ID < adj[j].ID })
	}

	return &Network{
		nodes:     b.nodes,
		links:     b.links,
		out:       out,
		nodeOrder: sortedKeys(b.nodes),
		linkOrder: sortedKeys(b.links),
	}, nil
}

func midpoint(a, b orb.Point) orb.Point {
	return orb.Point{(a[0] + b[0]) / 2, (a[1] + b[1]) / 2}
}
