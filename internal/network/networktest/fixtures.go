// Package networktest provides small networks for tests.
package networktest

import (
	"fmt"

	"github.com/paulmach/orb"

	"github.com/cordontrips/cordontrips/internal/network"
)

// Corridor builds the straight four-node road N1(0,0) -> N2(5,0) -> N3(15,0)
// -> N4(25,0), plus the reverse links, all at 5 m/s:
//
//	L12 / L21  length 5   (2 s charged)
//	L23 / L32  length 10  (3 s charged)
//	L34 / L43  length 10  (3 s charged)
func Corridor() *network.Network {
	b := network.NewBuilder()
	coords := []orb.Point{{0, 0}, {5, 0}, {15, 0}, {25, 0}}
	for i, c := range coords {
		b.AddNode(network.Node{ID: nodeID(i + 1), Coord: c})
	}
	for i := 1; i < len(coords); i++ {
		length := coords[i][0] - coords[i-1][0]
		b.AddLink(link(i, i+1, length, 5))
		b.AddLink(link(i+1, i, length, 5))
	}
	net, err := b.Build()
	if err != nil {
		panic(err)
	}
	return net
}

// Grid builds an n x n lattice with spacing meters between neighbours and
// two-way links at speed m/s. Node ids are "r<row>c<col>", link ids
// "<from>-<to>".
func Grid(n int, spacing, speed float64) *network.Network {
	b := network.NewBuilder()
	id := func(r, c int) network.NodeID { return network.NodeID(fmt.Sprintf("r%dc%d", r, c)) }
	for r := 0; r < n; r++ {
		for c := 0; c < n; c++ {
			b.AddNode(network.Node{ID: id(r, c), Coord: orb.Point{float64(c) * spacing, float64(r) * spacing}})
		}
	}
	add := func(from, to network.NodeID) {
		b.AddLink(network.Link{
			ID:        network.LinkID(string(from) + "-" + string(to)),
			From:      from,
			To:        to,
			Length:    spacing,
			FreeSpeed: speed,
			Capacity:  1000,
			Lanes:     1,
			Modes:     []string{network.ModeCar},
		})
	}
	for r := 0; r < n; r++ {
		for c := 0; c < n; c++ {
			if c+1 < n {
				add(id(r, c), id(r, c+1))
				add(id(r, c+1), id(r, c))
			}
			if r+1 < n {
				add(id(r, c), id(r+1, c))
				add(id(r+1, c), id(r, c))
			}
		}
	}
	net, err := b.Build()
	if err != nil {
		panic(err)
	}
	return net
}

func nodeID(i int) network.NodeID {
	return network.NodeID(fmt.Sprintf("N%d", i))
}

func link(from, to int, length, speed float64) network.Link {
	return network.Link{
		ID:        network.LinkID(fmt.Sprintf("L%d%d", from, to)),
		From:      nodeID(from),
		To:        nodeID(to),
		Length:    length,
		FreeSpeed: speed,
		Capacity:  1000,
		Lanes:     1,
		Modes:     []string{network.ModeCar},
	}
}
