package router

import (
	"container/heap"
	"context"
	"fmt"

	"github.com/cordontrips/cordontrips/internal/network"
)

// ctxCheckInterval is how many heap pops pass between context checks.
const ctxCheckInterval = 4096

// Searcher owns the mutable A* state for one goroutine. Arrays are sized once
// and invalidated between searches by bumping a generation counter.
type Searcher struct {
	engine *Engine

	g      []float64
	parent []int32 // edge index into the CSR arrays, -1 for the origin
	seen   []uint32
	closed []uint32
	gen    uint32

	pq nodePQ
}

// Path returns the least-cost path from one node to another. Equal origin and
// destination yield an empty path with zero cost.
func (s *Searcher) Path(ctx context.Context, from, to network.NodeID) (Path, error) {
	e := s.engine
	src, err := e.lookup(from)
	if err != nil {
		return Path{}, err
	}
	dst, err := e.lookup(to)
	if err != nil {
		return Path{}, err
	}
	if src == dst {
		return Path{Nodes: []network.NodeID{from}}, nil
	}

	s.reset()
	gen := s.gen

	s.g[src] = 0
	s.parent[src] = -1
	s.seen[src] = gen
	heap.Push(&s.pq, &nodeItem{node: src, f: e.heuristic(src, dst)})

	pops := 0
	for s.pq.Len() > 0 {
		pops++
		if pops%ctxCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return Path{}, err
			}
		}

		item := heap.Pop(&s.pq).(*nodeItem)
		u := item.node
		if s.closed[u] == gen || item.g > s.g[u] {
			continue
		}
		if u == dst {
			return s.reconstruct(src, dst), nil
		}
		s.closed[u] = gen

		for ei := e.offsets[u]; ei < e.offsets[u+1]; ei++ {
			v := e.targets[ei]
			if s.closed[v] == gen {
				continue
			}
			nd := s.g[u] + e.costs[ei]
			if s.seen[v] == gen && nd >= s.g[v] {
				continue
			}
			s.g[v] = nd
			s.parent[v] = ei
			s.seen[v] = gen
			heap.Push(&s.pq, &nodeItem{node: v, f: nd + e.heuristic(v, dst), g: nd})
		}
	}

	return Path{}, fmt.Errorf("%w: %s -> %s", ErrNoPathFound, from, to)
}

func (s *Searcher) reset() {
	s.pq = s.pq[:0]
	s.gen++
	if s.gen == 0 {
		// Counter wrapped; stale stamps could collide.
		clear(s.seen)
		clear(s.closed)
		s.gen = 1
	}
}

// reconstruct walks parent edges back from dst. The edge source is found by
// locating ei inside the owning node's CSR range.
func (s *Searcher) reconstruct(src, dst int32) Path {
	e := s.engine
	var edges []int32
	for v := dst; v != src; {
		ei := s.parent[v]
		edges = append(edges, ei)
		v = e.edgeSource(ei)
	}

	p := Path{
		Links: make([]*network.Link, len(edges)),
		Nodes: make([]network.NodeID, 0, len(edges)+1),
		Cost:  s.g[dst],
	}
	p.Nodes = append(p.Nodes, e.ids[src])
	for i := range edges {
		ei := edges[len(edges)-1-i]
		p.Links[i] = e.links[ei]
		p.Nodes = append(p.Nodes, e.ids[e.targets[ei]])
	}
	return p
}

// edgeSource returns the node owning edge ei by binary search over offsets.
func (e *Engine) edgeSource(ei int32) int32 {
	lo, hi := 0, len(e.offsets)-1
	for lo < hi {
		mid := (lo + hi + 1) / 2
		if e.offsets[mid] <= ei {
			lo = mid
		} else {
			hi = mid - 1
		}
	}
	return int32(lo) //nolint:gosec // node count bounded by int32 range
}

// nodeItem is one heap entry; stale entries are skipped on pop.
type nodeItem struct {
	node int32
	f    float64
	g    float64
}

// nodePQ is a min-heap on f, ties broken by node index for determinism.
type nodePQ []*nodeItem

func (pq nodePQ) Len() int { return len(pq) }

func (pq nodePQ) Less(i, j int) bool {
	if pq[i].f != pq[j].f {
		return pq[i].f < pq[j].f
	}
	return pq[i].node < pq[j].node
}

func (pq nodePQ) Swap(i, j int) { pq[i], pq[j] = pq[j], pq[i] }

func (pq *nodePQ) Push(x any) { *pq = append(*pq, x.(*nodeItem)) }

func (pq *nodePQ) Pop() any {
	old := *pq
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*pq = old[:n-1]
	return item
}
