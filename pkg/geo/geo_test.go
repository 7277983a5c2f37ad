package geo

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVecOps(t *testing.T) {
	a := Vec{3, 4}
	b := Vec{-1, 2}

	assert.Equal(t, Vec{2, 6}, a.Add(b))
	assert.Equal(t, Vec{4, 2}, a.Sub(b))
	assert.Equal(t, Vec{6, 8}, a.Scale(2))
	assert.InDelta(t, 5.0, a.Len(), 1e-12)
	assert.InDelta(t, 5.0, b.Dot(a), 1e-12)
	assert.InDelta(t, 1.0, a.Norm().Len(), 1e-12)
	assert.True(t, Vec{}.IsZero())
	assert.Equal(t, Vec{}, Vec{}.Norm())
}

func TestVecClamp(t *testing.T) {
	v := Vec{30, 40}

	clamped := v.Clamp(10)
	assert.InDelta(t, 10.0, clamped.Len(), 1e-12)
	assert.InDelta(t, v.X/v.Y, clamped.X/clamped.Y, 1e-12, "direction preserved")

	small := Vec{1, 1}
	assert.Equal(t, small, small.Clamp(10))
}

func TestDirectionRoundTrip(t *testing.T) {
	for _, d := range Directions() {
		parsed, ok := ParseDirection(d.String())
		require.True(t, ok, d.String())
		assert.Equal(t, d, parsed)
		assert.InDelta(t, 1.0, d.Vector().Len(), 1e-12)
	}
}

func TestSectorFor(t *testing.T) {
	origin := Vec{0, 0}

	tests := []struct {
		name string
		p    Vec
		want Direction
	}{
		{"due north", Vec{0, 10}, North},
		{"due east", Vec{10, 0}, East},
		{"due south", Vec{0, -10}, South},
		{"due west", Vec{-10, 0}, West},
		{"exact northeast", Vec{7, 7}, Northeast},
		{"steep northeast", Vec{5, 7}, Northeast},
		{"shallow northeast", Vec{7, 5}, Northeast},
		{"southwest quadrant", Vec{-6, -8}, Southwest},
		{"just west of north", Vec{-1, 20}, North},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := SectorFor(origin, tt.p)
			require.True(t, ok)
			assert.Equal(t, tt.want, got)
		})
	}

	_, ok := SectorFor(origin, origin)
	assert.False(t, ok, "zero offset has no bearing")
}

func TestSectorMatchesDirectionVector(t *testing.T) {
	// A point placed along each direction vector must land back in that
	// direction's sector.
	for _, d := range Directions() {
		p := d.Vector().Scale(42)
		got, ok := SectorFor(Vec{}, p)
		require.True(t, ok)
		assert.Equal(t, d, got, d.String())
	}
}
