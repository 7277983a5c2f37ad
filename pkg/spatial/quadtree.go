// Package spatial provides the region-partitioning index used for detection
// queries. The tree is rebuilt from scratch every tick; entity counts are in
// the tens, so a full rebuild is cheaper than getting incremental updates
// right.
package spatial

import (
	"math"

	"github.com/strikenet/strikenet/pkg/geo"
)

// nodeCapacity is the point count at which a node subdivides.
const nodeCapacity = 4

// maxDepth bounds subdivision so coincident points cannot recurse forever.
const maxDepth = 12

// Entity is a point entry in the index.
type Entity struct {
	ID  string
	Pos geo.Vec
	// Target marks the designated target entity.
	Target bool
	// Occluder entities are candidates for ray queries. By default only
	// the target and declared obstacles occlude.
	Occluder bool
}

// Rect is an axis-aligned rectangle.
type Rect struct {
	Min, Max geo.Vec
}

func (r Rect) contains(p geo.Vec) bool {
	return p.X >= r.Min.X && p.X <= r.Max.X && p.Y >= r.Min.Y && p.Y <= r.Max.Y
}

// distSq returns the squared distance from p to the rectangle (zero inside).
func (r Rect) distSq(p geo.Vec) float64 {
	dx := math.Max(math.Max(r.Min.X-p.X, 0), p.X-r.Max.X)
	dy := math.Max(math.Max(r.Min.Y-p.Y, 0), p.Y-r.Max.Y)
	return dx*dx + dy*dy
}

func (r Rect) intersectsCircle(c geo.Vec, radius float64) bool {
	return r.distSq(c) <= radius*radius
}

type node struct {
	bounds   Rect
	depth    int
	entities []Entity
	children *[4]node
}

// Tree is a quadtree over entity positions.
type Tree struct {
	root node
	size int
}

// NewTree creates an empty tree covering bounds.
func NewTree(bounds Rect) *Tree {
	return &Tree{root: node{bounds: bounds}}
}

// Insert adds an entity. Points outside the tree bounds are clamped onto the
// boundary so an agent pinned to the arena edge is still indexed.
func (t *Tree) Insert(e Entity) {
	b := t.root.bounds
	e.Pos.X = math.Min(math.Max(e.Pos.X, b.Min.X), b.Max.X)
	e.Pos.Y = math.Min(math.Max(e.Pos.Y, b.Min.Y), b.Max.Y)
	t.root.insert(e)
	t.size++
}

// Len returns the number of indexed entities.
func (t *Tree) Len() int {
	return t.size
}

func (n *node) insert(e Entity) {
	if n.children == nil {
		if len(n.entities) < nodeCapacity || n.depth >= maxDepth {
			n.entities = append(n.entities, e)
			return
		}
		n.subdivide()
	}
	n.child(e.Pos).insert(e)
}

func (n *node) subdivide() {
	mid := geo.Vec{
		X: (n.bounds.Min.X + n.bounds.Max.X) / 2,
		Y: (n.bounds.Min.Y + n.bounds.Max.Y) / 2,
	}
	b := n.bounds
	d := n.depth + 1
	n.children = &[4]node{
		{depth: d, bounds: Rect{Min: geo.Vec{X: b.Min.X, Y: mid.Y}, Max: geo.Vec{X: mid.X, Y: b.Max.Y}}},
		{depth: d, bounds: Rect{Min: mid, Max: b.Max}},
		{depth: d, bounds: Rect{Min: b.Min, Max: mid}},
		{depth: d, bounds: Rect{Min: geo.Vec{X: mid.X, Y: b.Min.Y}, Max: geo.Vec{X: b.Max.X, Y: mid.Y}}},
	}
	for _, e := range n.entities {
		n.child(e.Pos).insert(e)
	}
	n.entities = nil
}

func (n *node) child(p geo.Vec) *node {
	mid := geo.Vec{
		X: (n.bounds.Min.X + n.bounds.Max.X) / 2,
		Y: (n.bounds.Min.Y + n.bounds.Max.Y) / 2,
	}
	switch {
	case p.X < mid.X && p.Y >= mid.Y:
		return &n.children[0]
	case p.X >= mid.X && p.Y >= mid.Y:
		return &n.children[1]
	case p.X < mid.X:
		return &n.children[2]
	default:
		return &n.children[3]
	}
}

// Hit is a ray query result.
type Hit struct {
	Entity   Entity
	Distance float64
}

// QueryRay returns the nearest occluding entity inside the compass sector
// centered on dir (half-angle 22.5°, so the 8 sectors tile the plane) and
// within maxRange of origin. Ties at equal distance resolve to the lowest
// entity id. The origin entity itself never matches.
func (t *Tree) QueryRay(origin geo.Vec, dir geo.Direction, maxRange float64, selfID string) (Hit, bool) {
	best := Hit{Distance: math.Inf(1)}
	found := false
	minCos := math.Cos(geo.SectorHalfAngle)
	dirVec := dir.Vector()

	var walk func(n *node)
	walk = func(n *node) {
		if !n.bounds.intersectsCircle(origin, maxRange) {
			return
		}
		if n.bounds.distSq(origin) > best.Distance*best.Distance {
			return
		}
		if n.children != nil {
			// Visit children nearest-first along the ray so the distance
			// prune above can cut the rest.
			order := [4]int{0, 1, 2, 3}
			var d [4]float64
			for i := range n.children {
				d[i] = n.children[i].bounds.distSq(origin)
			}
			for i := 1; i < 4; i++ {
				for j := i; j > 0 && d[order[j]] < d[order[j-1]]; j-- {
					order[j], order[j-1] = order[j-1], order[j]
				}
			}
			for _, i := range order {
				walk(&n.children[i])
			}
			return
		}
		for _, e := range n.entities {
			if !e.Occluder || e.ID == selfID {
				continue
			}
			delta := e.Pos.Sub(origin)
			dist := delta.Len()
			if dist == 0 || dist > maxRange {
				continue
			}
			if delta.Dot(dirVec)/dist < minCos {
				continue
			}
			if dist < best.Distance || (dist == best.Distance && e.ID < best.Entity.ID) {
				best = Hit{Entity: e, Distance: dist}
				found = true
			}
		}
	}
	walk(&t.root)

	if !found {
		return Hit{}, false
	}
	return best, true
}

// QueryRange returns all entities within radius of center, in no particular
// order.
func (t *Tree) QueryRange(center geo.Vec, radius float64) []Entity {
	var out []Entity
	var walk func(n *node)
	walk = func(n *node) {
		if !n.bounds.intersectsCircle(center, radius) {
			return
		}
		if n.children != nil {
			for i := range n.children {
				walk(&n.children[i])
			}
			return
		}
		for _, e := range n.entities {
			if e.Pos.Dist(center) <= radius {
				out = append(out, e)
			}
		}
	}
	walk(&t.root)
	return out
}
