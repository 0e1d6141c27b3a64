package router

import (
	"container/heap"
	"math"

	"github.com/paulmach/orb/planar"
)

// buildLandmarks picks k landmarks by farthest-point selection on straight-line
// distance and stores one forward and one backward Dijkstra tree per landmark.
func (e *Engine) buildLandmarks(k int) {
	n := len(e.ids)
	if k > n {
		k = n
	}

	// Reverse adjacency for the backward trees.
	revOffsets := make([]int32, n+1)
	for _, t := range e.targets {
		revOffsets[t+1]++
	}
	for i := 1; i <= n; i++ {
		revOffsets[i] += revOffsets[i-1]
	}
	revSources := make([]int32, len(e.targets))
	revCosts := make([]float64, len(e.targets))
	fill := append([]int32(nil), revOffsets[:n]...)
	for v := 0; v < n; v++ {
		for ei := e.offsets[v]; ei < e.offsets[v+1]; ei++ {
			t := e.targets[ei]
			revSources[fill[t]] = int32(v) //nolint:gosec // node count bounded by int32 range
			revCosts[fill[t]] = e.costs[ei]
			fill[t]++
		}
	}

	minDist := make([]float64, n)
	for i := range minDist {
		minDist[i] = math.Inf(1)
	}

	// Seed with the node farthest from node 0, then repeatedly take the node
	// farthest from every landmark chosen so far.
	next := farthestFrom(e, 0, minDist)
	for len(e.landmarks) < k {
		e.landmarks = append(e.landmarks, landmark{
			node: next,
			from: shortestTree(n, next, e.offsets, e.targets, e.costs),
			to:   shortestTree(n, next, revOffsets, revSources, revCosts),
		})
		for i := range minDist {
			minDist[i] = math.Min(minDist[i], planar.Distance(e.coords[i], e.coords[next]))
		}
		next = farthest(minDist)
		if minDist[next] == 0 {
			break
		}
	}
}

func farthestFrom(e *Engine, v int32, scratch []float64) int32 {
	for i := range scratch {
		scratch[i] = planar.Distance(e.coords[i], e.coords[v])
	}
	best := farthest(scratch)
	for i := range scratch {
		scratch[i] = math.Inf(1)
	}
	return best
}

func farthest(dist []float64) int32 {
	best := 0
	for i, d := range dist {
		if d > dist[best] {
			best = i
		}
	}
	return int32(best) //nolint:gosec // node count bounded by int32 range
}

// shortestTree runs a full Dijkstra from src over a CSR graph and returns
// the cost to every node (+Inf when unreachable).
func shortestTree(n int, src int32, offsets, targets []int32, costs []float64) []float64 {
	dist := make([]float64, n)
	for i := range dist {
		dist[i] = math.Inf(1)
	}
	done := make([]bool, n)
	dist[src] = 0

	pq := nodePQ{{node: src}}
	for pq.Len() > 0 {
		item := heap.Pop(&pq).(*nodeItem)
		u := item.node
		if done[u] {
			continue
		}
		done[u] = true

		for ei := offsets[u]; ei < offsets[u+1]; ei++ {
			v := targets[ei]
			if nd := dist[u] + costs[ei]; nd < dist[v] {
				dist[v] = nd
				heap.Push(&pq, &nodeItem{node: v, f: nd, g: nd})
			}
		}
	}
	return dist
}
