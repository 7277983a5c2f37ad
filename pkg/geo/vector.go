// Package geo provides the 2-D vector math and compass geometry shared by
// the simulation engine.
package geo

import "math"

// Vec is a 2-D vector used for positions, velocities and impulses.
type Vec struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Add returns v + o.
func (v Vec) Add(o Vec) Vec {
	return Vec{v.X + o.X, v.Y + o.Y}
}

// Sub returns v - o.
func (v Vec) Sub(o Vec) Vec {
	return Vec{v.X - o.X, v.Y - o.Y}
}

// Scale returns v scaled by s.
func (v Vec) Scale(s float64) Vec {
	return Vec{v.X * s, v.Y * s}
}

// Dot returns the dot product of v and o.
func (v Vec) Dot(o Vec) float64 {
	return v.X*o.X + v.Y*o.Y
}

// Len returns the Euclidean length of v.
func (v Vec) Len() float64 {
	return math.Hypot(v.X, v.Y)
}

// Dist returns the Euclidean distance between v and o.
func (v Vec) Dist(o Vec) float64 {
	return v.Sub(o).Len()
}

// Norm returns v scaled to unit length, or the zero vector if v is zero.
func (v Vec) Norm() Vec {
	l := v.Len()
	if l == 0 {
		return Vec{}
	}
	return Vec{v.X / l, v.Y / l}
}

// Clamp limits the magnitude of v to max, preserving direction.
func (v Vec) Clamp(max float64) Vec {
	l := v.Len()
	if l <= max || l == 0 {
		return v
	}
	return v.Scale(max / l)
}

// IsZero reports whether both components are exactly zero.
func (v Vec) IsZero() bool {
	return v.X == 0 && v.Y == 0
}
