package track

import (
	"sort"
	"time"

	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"

	"github.com/kwv/trackmesh/protocol"
)

// Shape is the classification of an analyzed track.
type Shape string

const (
	ShapeUnknown           Shape = "UNKNOWN"
	ShapeOval              Shape = "OVAL"
	ShapeSimpleLoop        Shape = "SIMPLE_LOOP"
	ShapeFigureEight       Shape = "FIGURE_EIGHT"
	ShapeBidirectionalLoop Shape = "BIDIRECTIONAL_LOOP"
	ShapeBranching         Shape = "BRANCHING"
	ShapeComplex           Shape = "COMPLEX"
)

// Oval corner-count bounds.
const (
	ovalMinCorners = 2
	ovalMaxCorners = 4
)

// Transition is one recorded move between two location ids, oriented in the
// direction of travel along the track.
type Transition struct {
	From int       `json:"from"`
	To   int       `json:"to"`
	At   time.Time `json:"at"`
}

// Edge is a directed location-graph edge and the number of times it was seen.
type Edge struct {
	From  int `json:"from"`
	To    int `json:"to"`
	Count int `json:"count"`
}

// TopologyNode is one location id in an analyzed graph.
type TopologyNode struct {
	ID   int                    `json:"id"`
	Type protocol.RoadPieceType `json:"type"`
	Next []int                  `json:"next"`
	Prev []int                  `json:"prev"`
}

// Topology is the result of Analyzer.GetTopology.
type Topology struct {
	Shape Shape          `json:"shape"`
	Nodes []TopologyNode `json:"nodes"`
	Edges []Edge         `json:"edges"`
}

type node struct {
	typ  protocol.RoadPieceType
	next map[int]struct{}
	prev map[int]struct{}
}

func newNode(t protocol.RoadPieceType) *node {
	return &node{typ: t, next: map[int]struct{}{}, prev: map[int]struct{}{}}
}

type edgeKey struct{ from, to int }

// Analyzer builds a directed graph of location ids from the raw update stream
// and classifies the track shape after denoising it by edge-frequency voting.
//
// Like the Mapper it expects a single serialized event stream.
type Analyzer struct {
	nodes   map[int]*node
	history []Transition
	last    int
	hasLast bool
	now     func() time.Time
}

func NewAnalyzer() *Analyzer {
	return &Analyzer{nodes: map[int]*node{}, now: time.Now}
}

// Discover records the type of a location id. A node first created by
// LocationUpdate gets its type filled in; a known type is never overwritten.
func (a *Analyzer) Discover(id int, t protocol.RoadPieceType) {
	n, ok := a.nodes[id]
	if !ok {
		a.nodes[id] = newNode(t)
		return
	}
	if n.typ == protocol.PieceUnknown {
		n.typ = t
	}
}

// LocationUpdate records a transition from the previous location id to id.
func (a *Analyzer) LocationUpdate(id int, ascending bool) {
	if _, ok := a.nodes[id]; !ok {
		a.nodes[id] = newNode(protocol.PieceUnknown)
	}
	if a.hasLast && a.last == id {
		return
	}
	if a.hasLast {
		from, to := a.last, id
		if !ascending {
			from, to = id, a.last
		}
		a.nodes[from].next[to] = struct{}{}
		a.nodes[to].prev[from] = struct{}{}
		a.history = append(a.history, Transition{From: from, To: to, At: a.now()})
	}
	a.last, a.hasLast = id, true
}

// Break forgets the previous location id, so the next update starts a new
// chain instead of bridging a gap.
func (a *Analyzer) Break() {
	a.hasLast = false
}

// History returns a copy of the recorded transitions in order.
func (a *Analyzer) History() []Transition {
	out := make([]Transition, len(a.history))
	copy(out, a.history)
	return out
}

func (a *Analyzer) Reset() {
	a.nodes = map[int]*node{}
	a.history = nil
	a.hasLast = false
}

// GetTopology denoises a copy of the graph and classifies it. The analyzer
// itself is not modified, so repeated calls give the same answer.
func (a *Analyzer) GetTopology() Topology {
	counts := make(map[edgeKey]int, len(a.history))
	for _, tr := range a.history {
		counts[edgeKey{tr.From, tr.To}]++
	}

	nodes := make(map[int]*node, len(a.nodes))
	for id, n := range a.nodes {
		c := newNode(n.typ)
		for to := range n.next {
			c.next[to] = struct{}{}
		}
		for from := range n.prev {
			c.prev[from] = struct{}{}
		}
		nodes[id] = c
	}
	ids := sortedIDs(nodes)

	pruneOutDegree(nodes, ids, counts)
	collapsePairs(nodes, ids, counts)

	return Topology{
		Shape: classify(nodes, ids),
		Nodes: topologyNodes(nodes, ids),
		Edges: topologyEdges(nodes, ids, counts),
	}
}

// pruneOutDegree keeps only the most frequent outgoing edge of every node.
func pruneOutDegree(nodes map[int]*node, ids []int, counts map[edgeKey]int) {
	for _, id := range ids {
		n := nodes[id]
		if len(n.next) <= 1 {
			continue
		}
		best, bestCount := 0, -1
		for _, to := range sortedSet(n.next) {
			if c := counts[edgeKey{id, to}]; c > bestCount {
				best, bestCount = to, c
			}
		}
		for to := range n.next {
			if to != best {
				removeEdge(nodes, id, to)
			}
		}
	}
}

// collapsePairs drops the less frequent direction of every A⇄B pair.
func collapsePairs(nodes map[int]*node, ids []int, counts map[edgeKey]int) {
	for _, id := range ids {
		for _, to := range sortedSet(nodes[id].next) {
			if _, back := nodes[to].next[id]; !back {
				continue
			}
			fwd, rev := counts[edgeKey{id, to}], counts[edgeKey{to, id}]
			switch {
			case fwd > rev:
				removeEdge(nodes, to, id)
			case rev > fwd:
				removeEdge(nodes, id, to)
			}
		}
	}
}

func removeEdge(nodes map[int]*node, from, to int) {
	delete(nodes[from].next, to)
	delete(nodes[to].prev, from)
}

func classify(nodes map[int]*node, ids []int) Shape {
	for _, n := range nodes {
		if n.typ == protocol.PieceIntersection {
			return ShapeBranching
		}
	}
	for _, n := range nodes {
		if len(n.next) > 1 || len(n.prev) > 1 {
			return ShapeComplex
		}
	}
	if !hasCycle(nodes, ids) {
		return ShapeUnknown
	}

	for _, id := range ids {
		for to := range nodes[id].next {
			if _, back := nodes[to].next[id]; back {
				return ShapeBidirectionalLoop
			}
		}
	}
	// Unreachable after pruning, which caps out-degree at one. Kept so the
	// classification order stays complete if pruning is ever relaxed.
	for _, n := range nodes {
		if len(n.next) == 2 && len(n.prev) == 2 {
			return ShapeFigureEight
		}
	}

	corners, straights := 0, 0
	for _, n := range nodes {
		switch n.typ.Normalize() {
		case protocol.PieceCorner:
			corners++
		case protocol.PieceStraight:
			straights++
		}
	}
	if corners >= ovalMinCorners && corners <= ovalMaxCorners && straights > corners {
		return ShapeOval
	}
	return ShapeSimpleLoop
}

// hasCycle reports whether any strongly connected component holds more than
// one node. Self edges are never recorded.
func hasCycle(nodes map[int]*node, ids []int) bool {
	g := simple.NewDirectedGraph()
	for _, id := range ids {
		g.AddNode(simple.Node(id))
	}
	for _, id := range ids {
		for to := range nodes[id].next {
			g.SetEdge(g.NewEdge(simple.Node(id), simple.Node(to)))
		}
	}
	for _, c := range topo.TarjanSCC(g) {
		if len(c) > 1 {
			return true
		}
	}
	return false
}

func topologyNodes(nodes map[int]*node, ids []int) []TopologyNode {
	out := make([]TopologyNode, 0, len(ids))
	for _, id := range ids {
		n := nodes[id]
		out = append(out, TopologyNode{ID: id, Type: n.typ, Next: sortedSet(n.next), Prev: sortedSet(n.prev)})
	}
	return out
}

func topologyEdges(nodes map[int]*node, ids []int, counts map[edgeKey]int) []Edge {
	var out []Edge
	for _, id := range ids {
		for _, to := range sortedSet(nodes[id].next) {
			out = append(out, Edge{From: id, To: to, Count: counts[edgeKey{id, to}]})
		}
	}
	return out
}

func sortedIDs(nodes map[int]*node) []int {
	ids := make([]int, 0, len(nodes))
	for id := range nodes {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

func sortedSet(s map[int]struct{}) []int {
	out := make([]int, 0, len(s))
	for v := range s {
		out = append(out, v)
	}
	sort.Ints(out)
	return out
}
