// Package network provides the read-only road network graph used for routing
// and boundary detection.
package network

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/paulmach/orb"
)

// Network errors.
var (
	ErrEmptyNetwork          = errors.New("network has no nodes or links")
	ErrUnknownNode           = errors.New("unknown node")
	ErrUnknownLink           = errors.New("unknown link")
	ErrDuplicateNode         = errors.New("duplicate node id")
	ErrDuplicateLink         = errors.New("duplicate link id")
	ErrInvalidLinkAttributes = errors.New("invalid link attributes")
)

// NodeID identifies a network node.
type NodeID string

// LinkID identifies a directed network link.
type LinkID string

// ModeCar is the network mode freight traffic is routed on.
const ModeCar = "car"

// Node is a network vertex with planar coordinates in the network CRS.
type Node struct {
	ID    NodeID
	Coord orb.Point
}

// Link is a directed road segment. A two-way road is two links.
type Link struct {
	ID   LinkID
	From NodeID
	To   NodeID

	// Length in meters.
	Length float64

	// FreeSpeed in meters per second.
	FreeSpeed float64

	// Capacity in vehicles per hour. Not used by routing.
	Capacity float64

	// Lanes is the number of permanent lanes.
	Lanes float64

	// Modes lists the allowed travel modes.
	Modes []string

	// Coord is the representative point of the link, used as the clipped
	// trip endpoint when this link is a boundary crossing.
	Coord orb.Point
}

// FreeSpeedTravelTime returns the uncongested traversal time in seconds.
func (l *Link) FreeSpeedTravelTime() float64 {
	return l.Length / l.FreeSpeed
}

// TraversalSeconds returns the whole-second time charged for traversing the
// link while clipping trips: floor(length / freespeed) + 1.
func (l *Link) TraversalSeconds() (float64, error) {
	if err := l.validateAttributes(); err != nil {
		return 0, err
	}
	return math.Floor(l.Length/l.FreeSpeed) + 1, nil
}

// Routable reports whether the link has attributes usable as a routing cost.
func (l *Link) Routable() bool {
	return l.validateAttributes() == nil
}

func (l *Link) validateAttributes() error {
	if math.IsNaN(l.FreeSpeed) || math.IsInf(l.FreeSpeed, 0) || l.FreeSpeed <= 0 {
		return fmt.Errorf("%w: link %s freespeed=%v", ErrInvalidLinkAttributes, l.ID, l.FreeSpeed)
	}
	if math.IsNaN(l.Length) || math.IsInf(l.Length, 0) || l.Length < 0 {
		return fmt.Errorf("%w: link %s length=%v", ErrInvalidLinkAttributes, l.ID, l.Length)
	}
	return nil
}

// AllowsMode reports whether the link may be used by the given mode.
// Links without an explicit mode set allow every mode.
func (l *Link) AllowsMode(mode string) bool {
	if len(l.Modes) == 0 {
		return true
	}
	for _, m := range l.Modes {
		if m == mode {
			return true
		}
	}
	return false
}

// Network is an immutable directed road graph.
type Network struct {
	nodes map[NodeID]*Node
	links map[LinkID]*Link
	out   map[NodeID][]*Link

	nodeOrder []NodeID
	linkOrder []LinkID
}

// Node returns the node with the given id.
func (n *Network) Node(id NodeID) (*Node, bool) {
	node, ok := n.nodes[id]
	return node, ok
}

// Link returns the link with the given id.
func (n *Network) Link(id LinkID) (*Link, bool) {
	link, ok := n.links[id]
	return link, ok
}

// OutLinks returns the links leaving a node, ordered by link id.
func (n *Network) OutLinks(id NodeID) []*Link {
	return n.out[id]
}

// Nodes returns all nodes ordered by id.
func (n *Network) Nodes() []*Node {
	nodes := make([]*Node, 0, len(n.nodeOrder))
	for _, id := range n.nodeOrder {
		nodes = append(nodes, n.nodes[id])
	}
	return nodes
}

// Links returns all links ordered by id.
func (n *Network) Links() []*Link {
	links := make([]*Link, 0, len(n.linkOrder))
	for _, id := range n.linkOrder {
		links = append(links, n.links[id])
	}
	return links
}

// NumNodes returns the node count.
func (n *Network) NumNodes() int { return len(n.nodes) }

// NumLinks returns the link count.
func (n *Network) NumLinks() int { return len(n.links) }

// FilterByMode returns the sub-network of links allowing mode, keeping only
// the nodes those links touch.
func (n *Network) FilterByMode(mode string) (*Network, error) {
	b := NewBuilder()
	used := make(map[NodeID]bool)
	for _, l := range n.Links() {
		if l.AllowsMode(mode) {
			used[l.From] = true
			used[l.To] = true
		}
	}
	for _, node := range n.Nodes() {
		if used[node.ID] {
			b.AddNode(*node)
		}
	}
	for _, l := range n.Links() {
		if l.AllowsMode(mode) {
			b.AddLink(*l)
		}
	}
	filtered, err := b.Build()
	if err != nil {
		return nil, fmt.Errorf("filter network by mode %q: %w", mode, err)
	}
	return filtered, nil
}

func sortedKeys[K ~string, V any](m map[K]V) []K {
	keys := make([]K, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}
