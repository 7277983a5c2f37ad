package spatial

import (
	"fmt"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strikenet/strikenet/pkg/geo"
)

func testBounds() Rect {
	return Rect{Min: geo.Vec{X: -150, Y: -150}, Max: geo.Vec{X: 150, Y: 150}}
}

// bruteForceRay mirrors the QueryRay predicate with a linear scan.
func bruteForceRay(entities []Entity, origin geo.Vec, dir geo.Direction, maxRange float64, selfID string) (Hit, bool) {
	best := Hit{Distance: math.Inf(1)}
	found := false
	minCos := math.Cos(geo.SectorHalfAngle)
	for _, e := range entities {
		if !e.Occluder || e.ID == selfID {
			continue
		}
		delta := e.Pos.Sub(origin)
		dist := delta.Len()
		if dist == 0 || dist > maxRange {
			continue
		}
		if delta.Dot(dir.Vector())/dist < minCos {
			continue
		}
		if dist < best.Distance || (dist == best.Distance && e.ID < best.Entity.ID) {
			best = Hit{Entity: e, Distance: dist}
			found = true
		}
	}
	return best, found
}

func TestQueryRayBasic(t *testing.T) {
	tree := NewTree(testBounds())
	tree.Insert(Entity{ID: "target", Pos: geo.Vec{X: 0, Y: 50}, Target: true, Occluder: true})
	tree.Insert(Entity{ID: "far", Pos: geo.Vec{X: 0, Y: 120}, Occluder: true})
	tree.Insert(Entity{ID: "aside", Pos: geo.Vec{X: 60, Y: 0}, Occluder: true})

	hit, ok := tree.QueryRay(geo.Vec{}, geo.North, 100, "")
	require.True(t, ok)
	assert.Equal(t, "target", hit.Entity.ID, "nearest entity in the sector wins")
	assert.InDelta(t, 50, hit.Distance, 1e-12)

	_, ok = tree.QueryRay(geo.Vec{}, geo.South, 100, "")
	assert.False(t, ok, "empty sector yields no hit")

	_, ok = tree.QueryRay(geo.Vec{}, geo.North, 40, "")
	assert.False(t, ok, "out of range yields no hit")
}

func TestQueryRayIgnoresNonOccluders(t *testing.T) {
	tree := NewTree(testBounds())
	tree.Insert(Entity{ID: "peer", Pos: geo.Vec{X: 0, Y: 30}, Occluder: false})
	tree.Insert(Entity{ID: "target", Pos: geo.Vec{X: 0, Y: 80}, Target: true, Occluder: true})

	hit, ok := tree.QueryRay(geo.Vec{}, geo.North, 100, "")
	require.True(t, ok)
	assert.Equal(t, "target", hit.Entity.ID, "non-occluders never block the ray")
}

func TestQueryRaySkipsSelf(t *testing.T) {
	tree := NewTree(testBounds())
	tree.Insert(Entity{ID: "me", Pos: geo.Vec{X: 0, Y: 1}, Occluder: true})

	_, ok := tree.QueryRay(geo.Vec{X: 0, Y: 0.5}, geo.North, 100, "me")
	assert.False(t, ok)
}

func TestQueryRayTieBreaksByID(t *testing.T) {
	tree := NewTree(testBounds())
	tree.Insert(Entity{ID: "b", Pos: geo.Vec{X: 5, Y: 40}, Occluder: true})
	tree.Insert(Entity{ID: "a", Pos: geo.Vec{X: -5, Y: 40}, Occluder: true})

	// Both entities sit at identical distance inside the north sector.
	hit, ok := tree.QueryRay(geo.Vec{}, geo.North, 100, "")
	require.True(t, ok)
	assert.Equal(t, "a", hit.Entity.ID, "ties resolve to the lowest id")
}

func TestQueryRayMatchesBruteForce(t *testing.T) {
	rng := rand.New(rand.NewSource(7))

	for trial := 0; trial < 50; trial++ {
		tree := NewTree(testBounds())
		entities := make([]Entity, 0, 40)
		for i := 0; i < 40; i++ {
			e := Entity{
				ID:       fmt.Sprintf("e%02d", i),
				Pos:      geo.Vec{X: rng.Float64()*300 - 150, Y: rng.Float64()*300 - 150},
				Occluder: rng.Intn(4) != 0,
			}
			entities = append(entities, e)
			tree.Insert(e)
		}

		origin := geo.Vec{X: rng.Float64()*200 - 100, Y: rng.Float64()*200 - 100}
		for _, dir := range geo.Directions() {
			want, wantOK := bruteForceRay(entities, origin, dir, 120, "e00")
			got, gotOK := tree.QueryRay(origin, dir, 120, "e00")

			require.Equal(t, wantOK, gotOK, "trial %d dir %s", trial, dir)
			if wantOK {
				assert.Equal(t, want.Entity.ID, got.Entity.ID, "trial %d dir %s", trial, dir)
				assert.InDelta(t, want.Distance, got.Distance, 1e-9)
			}
		}
	}
}

func TestQueryRangeMatchesBruteForce(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	tree := NewTree(testBounds())
	entities := make([]Entity, 0, 60)
	for i := 0; i < 60; i++ {
		e := Entity{
			ID:  fmt.Sprintf("e%02d", i),
			Pos: geo.Vec{X: rng.Float64()*300 - 150, Y: rng.Float64()*300 - 150},
		}
		entities = append(entities, e)
		tree.Insert(e)
	}

	center := geo.Vec{X: 20, Y: -30}
	got := tree.QueryRange(center, 75)

	want := make(map[string]bool)
	for _, e := range entities {
		if e.Pos.Dist(center) <= 75 {
			want[e.ID] = true
		}
	}

	require.Len(t, got, len(want))
	for _, e := range got {
		assert.True(t, want[e.ID], e.ID)
	}
}

func TestInsertClampsOutOfBounds(t *testing.T) {
	tree := NewTree(testBounds())
	tree.Insert(Entity{ID: "edge", Pos: geo.Vec{X: 500, Y: 0}, Occluder: true})

	hit, ok := tree.QueryRay(geo.Vec{}, geo.East, 200, "")
	require.True(t, ok)
	assert.Equal(t, 150.0, hit.Entity.Pos.X, "out-of-bounds points are pinned to the boundary")
}

func TestDeepSubdivisionTerminates(t *testing.T) {
	tree := NewTree(testBounds())
	// More coincident points than the node capacity must not recurse forever.
	for i := 0; i < 20; i++ {
		tree.Insert(Entity{ID: fmt.Sprintf("c%02d", i), Pos: geo.Vec{X: 1, Y: 1}, Occluder: true})
	}
	assert.Equal(t, 20, tree.Len())

	hit, ok := tree.QueryRay(geo.Vec{}, geo.Northeast, 10, "")
	require.True(t, ok)
	assert.Equal(t, "c00", hit.Entity.ID)
}
