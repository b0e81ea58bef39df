// Package hnsw implements a Hierarchical Navigable Small World approximate
// nearest-neighbor graph over the vectors stored in ChronosDB, ported from
// the reference implementation's coin-flip-leveled, greedy-descent design.
package hnsw

import (
	"container/heap"
	"math/rand"
	"sync"

	"github.com/google/uuid"

	"github.com/chronos-db/chronosdb/internal/distance"
)

// DistanceFunc computes the distance between two vectors of equal length.
type DistanceFunc func(a, b []float32) float32

// Cosine is the default metric, matching the reference implementation.
var Cosine DistanceFunc = distance.Cosine

type node struct {
	id          uuid.UUID
	vector      []float32
	connections [][]uuid.UUID // connections[layer] = neighbor ids at that layer
}

// Index is a thread-safe HNSW graph.
type Index struct {
	mu sync.RWMutex

	nodes      map[uuid.UUID]*node
	entryPoint uuid.UUID
	hasEntry   bool
	maxLayer   int

	mMax           int
	efConstruction int
	metric         DistanceFunc
}

// New returns an empty index. mMax bounds the number of neighbors kept per
// layer per node; efConstruction controls candidate-list breadth during
// insertion.
func New(mMax, efConstruction int, metric DistanceFunc) *Index {
	if metric == nil {
		metric = Cosine
	}
	return &Index{
		nodes:          make(map[uuid.UUID]*node),
		mMax:           mMax,
		efConstruction: efConstruction,
		metric:         metric,
	}
}

// selectLevel performs the coin-flip level assignment: level 0 with
// probability 1/2, level 1 with probability 1/4, and so on.
func selectLevel() int {
	level := 0
	for rand.Float64() < 0.5 {
		level++
	}
	return level
}

// Insert adds id/vector to the graph.
func (idx *Index) Insert(id uuid.UUID, vector []float32) {
	level := selectLevel()

	idx.mu.Lock()
	defer idx.mu.Unlock()

	n := &node{
		id:          id,
		vector:      vector,
		connections: make([][]uuid.UUID, level+1),
	}
	idx.nodes[id] = n

	if !idx.hasEntry {
		idx.entryPoint = id
		idx.hasEntry = true
		idx.maxLayer = level
		return
	}

	cur := idx.entryPoint
	curDist := idx.metric(vector, idx.nodes[cur].vector)

	// Greedily zoom in through the layers above this node's top layer.
	for lc := idx.maxLayer; lc > level; lc-- {
		improved := true
		for improved {
			improved = false
			for _, nb := range idx.layerConns(cur, lc) {
				nbNode := idx.nodes[nb]
				if nbNode == nil {
					continue
				}
				d := idx.metric(vector, nbNode.vector)
				if d < curDist {
					curDist = d
					cur = nb
					improved = true
				}
			}
		}
	}

	// From min(level, maxLayer) down to 0, find candidates and connect.
	top := level
	if idx.maxLayer < top {
		top = idx.maxLayer
	}

	for lc := top; lc >= 0; lc-- {
		candidates := idx.searchLayer(vector, cur, lc, idx.efConstruction)
		if len(candidates) > 0 {
			cur = candidates[0].id
		}

		m := idx.mMax
		if m > len(candidates) {
			m = len(candidates)
		}
		for i := 0; i < m; i++ {
			nbID := candidates[i].id
			idx.connect(id, nbID, lc)
			idx.connect(nbID, id, lc)
		}
	}

	if level > idx.maxLayer {
		idx.maxLayer = level
		idx.entryPoint = id
	}
}

// Clear discards every node and edge, returning the graph to its
// just-constructed state. Used when a snapshot restore replaces the
// latest-version set wholesale rather than merging into it.
func (idx *Index) Clear() {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	idx.nodes = make(map[uuid.UUID]*node)
	idx.entryPoint = uuid.UUID{}
	idx.hasEntry = false
	idx.maxLayer = 0
}

// Remove deletes id and the edges back to it held by the nodes in id's own
// neighbor lists. A node that still points at id without id pointing back
// (possible after pruning) keeps that edge; Search skips such dangling ids.
func (idx *Index) Remove(id uuid.UUID) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	n, ok := idx.nodes[id]
	if !ok {
		return
	}
	delete(idx.nodes, id)

	for lc := range n.connections {
		for _, nb := range n.connections[lc] {
			idx.removeConn(nb, id, lc)
		}
	}

	if idx.entryPoint == id {
		idx.hasEntry = false
		idx.maxLayer = 0
		for otherID := range idx.nodes {
			idx.entryPoint = otherID
			idx.hasEntry = true
			break
		}
	}
}

// Result is one match from Search.
type Result struct {
	ID       uuid.UUID
	Distance float32
}

// Search returns up to k approximate nearest neighbors of query.
func (idx *Index) Search(query []float32, k int) []Result {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if !idx.hasEntry {
		return nil
	}

	cur := idx.entryPoint
	curDist := idx.metric(query, idx.nodes[cur].vector)

	for lc := idx.maxLayer; lc > 0; lc-- {
		improved := true
		for improved {
			improved = false
			for _, nb := range idx.layerConns(cur, lc) {
				nbNode := idx.nodes[nb]
				if nbNode == nil {
					continue
				}
				d := idx.metric(query, nbNode.vector)
				if d < curDist {
					curDist = d
					cur = nb
					improved = true
				}
			}
		}
	}

	// Layer 0 is expanded over every reachable node; efConstruction only
	// bounds insertion.
	ef := len(idx.nodes)
	if ef < k {
		ef = k
	}
	candidates := idx.searchLayer(query, cur, 0, ef)

	if len(candidates) > k {
		candidates = candidates[:k]
	}

	out := make([]Result, len(candidates))
	for i, c := range candidates {
		out[i] = Result{ID: c.id, Distance: c.dist}
	}
	return out
}

// Save copies the full node set (id, vector, per-layer connections) into
// SavedNode values. It writes nothing to disk, and no on-disk graph
// checkpoint exists in this module.
func (idx *Index) Save() []SavedNode {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	out := make([]SavedNode, 0, len(idx.nodes))
	for _, n := range idx.nodes {
		conns := make([][]uuid.UUID, len(n.connections))
		for i, c := range n.connections {
			conns[i] = append([]uuid.UUID(nil), c...)
		}
		out = append(out, SavedNode{
			ID:          n.id,
			Vector:      append([]float32(nil), n.vector...),
			Connections: conns,
		})
	}
	return out
}

// SavedNode is the persisted form of a graph node.
type SavedNode struct {
	ID          uuid.UUID
	Vector      []float32
	Connections [][]uuid.UUID
}

// Load replaces the graph's contents with a previously Saved node set.
func (idx *Index) Load(nodes []SavedNode, entryPoint uuid.UUID, hasEntry bool, maxLayer int) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	idx.nodes = make(map[uuid.UUID]*node, len(nodes))
	for _, sn := range nodes {
		idx.nodes[sn.ID] = &node{
			id:          sn.ID,
			vector:      sn.Vector,
			connections: sn.Connections,
		}
	}
	idx.entryPoint = entryPoint
	idx.hasEntry = hasEntry
	idx.maxLayer = maxLayer
}

func (idx *Index) layerConns(id uuid.UUID, layer int) []uuid.UUID {
	n := idx.nodes[id]
	if layer >= len(n.connections) {
		return nil
	}
	return n.connections[layer]
}

// connect adds nb to from's neighbor list at layer, pruning the oldest
// (not farthest) neighbor if the cap is exceeded. This matches the
// reference implementation's pruning rule; it trades recall for
// simplicity and is documented, not silently corrected.
func (idx *Index) connect(from, nb uuid.UUID, layer int) {
	n := idx.nodes[from]
	for len(n.connections) <= layer {
		n.connections = append(n.connections, nil)
	}
	for _, existing := range n.connections[layer] {
		if existing == nb {
			return
		}
	}
	n.connections[layer] = append(n.connections[layer], nb)
	if len(n.connections[layer]) > idx.mMax {
		n.connections[layer] = n.connections[layer][1:]
	}
}

func (idx *Index) removeConn(from, nb uuid.UUID, layer int) {
	n, ok := idx.nodes[from]
	if !ok || layer >= len(n.connections) {
		return
	}
	conns := n.connections[layer]
	for i, id := range conns {
		if id == nb {
			n.connections[layer] = append(conns[:i], conns[i+1:]...)
			return
		}
	}
}

// candidate is a scored, visited-deduplicated entry used by searchLayer's
// best-first expansion.
type candidate struct {
	id   uuid.UUID
	dist float32
}

type candidateHeap []candidate

func (h candidateHeap) Len() int            { return len(h) }
func (h candidateHeap) Less(i, j int) bool  { return h[i].dist < h[j].dist }
func (h candidateHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *candidateHeap) Push(x interface{}) { *h = append(*h, x.(candidate)) }
func (h *candidateHeap) Pop() interface{} {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// searchLayer performs best-first expansion at the given layer starting
// from entry, returning up to ef candidates sorted nearest-first.
func (idx *Index) searchLayer(query []float32, entry uuid.UUID, layer, ef int) []candidate {
	visited := map[uuid.UUID]bool{entry: true}

	entryDist := idx.metric(query, idx.nodes[entry].vector)
	candidates := &candidateHeap{{id: entry, dist: entryDist}}
	heap.Init(candidates)

	results := []candidate{{id: entry, dist: entryDist}}

	for candidates.Len() > 0 {
		c := heap.Pop(candidates).(candidate)

		if len(results) >= ef {
			worst := results[len(results)-1].dist
			if c.dist > worst {
				break
			}
		}

		for _, nb := range idx.layerConns(c.id, layer) {
			if visited[nb] {
				continue
			}
			visited[nb] = true
			nbNode := idx.nodes[nb]
			if nbNode == nil {
				continue
			}
			nd := idx.metric(query, nbNode.vector)
			heap.Push(candidates, candidate{id: nb, dist: nd})
			results = append(results, candidate{id: nb, dist: nd})
		}
	}

	sortCandidates(results)
	if len(results) > ef {
		results = results[:ef]
	}
	return results
}

func sortCandidates(c []candidate) {
	for i := 1; i < len(c); i++ {
		for j := i; j > 0 && c[j].dist < c[j-1].dist; j-- {
			c[j], c[j-1] = c[j-1], c[j]
		}
	}
}
