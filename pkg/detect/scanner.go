// Package detect produces per-sensor detection sets by casting compass rays
// against the spatial index.
package detect

import (
	"github.com/strikenet/strikenet/pkg/geo"
	"github.com/strikenet/strikenet/pkg/spatial"
)

// Class classifies what a ray hit.
type Class string

const (
	ClassObstacle Class = "OBSTACLE"
	ClassTarget   Class = "TARGET"
)

// Detection is a classified, ranged observation along one compass direction.
type Detection struct {
	Class    Class
	Distance float64
}

// Set maps compass directions to detections. Directions with no hit are
// absent; absence is meaningful, not zero distance.
type Set map[geo.Direction]Detection

// Target returns the target detection in the set, if any.
func (s Set) Target() (geo.Direction, Detection, bool) {
	for _, dir := range geo.Directions() {
		if d, ok := s[dir]; ok && d.Class == ClassTarget {
			return dir, d, true
		}
	}
	return 0, Detection{}, false
}

// Scanner casts the 8 compass rays for sensor agents.
type Scanner struct {
	// Range caps every ray.
	Range float64
}

// Scan issues one ray per compass direction from the sensor position and
// returns the sparse detection set. The scanning sensor never detects
// itself.
func (s Scanner) Scan(index *spatial.Tree, sensorID string, pos geo.Vec) Set {
	set := make(Set)
	for _, dir := range geo.Directions() {
		hit, ok := index.QueryRay(pos, dir, s.Range, sensorID)
		if !ok {
			continue
		}
		class := ClassObstacle
		if hit.Entity.Target {
			class = ClassTarget
		}
		set[dir] = Detection{Class: class, Distance: hit.Distance}
	}
	return set
}
