package geo

import "math"

// Direction is one of the 8 compass directions a sensor scans.
type Direction int

const (
	North Direction = iota
	Northeast
	East
	Southeast
	South
	Southwest
	West
	Northwest

	// NumDirections is the number of compass directions.
	NumDirections = 8
)

// SectorHalfAngle is half the angular width of one compass sector. The 8
// sectors tile the plane, so every bearing maps to exactly one direction.
const SectorHalfAngle = math.Pi / 8

var directionNames = [NumDirections]string{
	"north", "northeast", "east", "southeast",
	"south", "southwest", "west", "northwest",
}

const invSqrt2 = math.Sqrt2 / 2

var directionVectors = [NumDirections]Vec{
	{0, 1},
	{invSqrt2, invSqrt2},
	{1, 0},
	{invSqrt2, -invSqrt2},
	{0, -1},
	{-invSqrt2, -invSqrt2},
	{-1, 0},
	{-invSqrt2, invSqrt2},
}

// String returns the lowercase wire name of the direction.
func (d Direction) String() string {
	if d < 0 || d >= NumDirections {
		return "unknown"
	}
	return directionNames[d]
}

// Vector returns the unit vector of the direction.
func (d Direction) Vector() Vec {
	return directionVectors[d]
}

// Directions returns all compass directions in wire order.
func Directions() [NumDirections]Direction {
	return [NumDirections]Direction{
		North, Northeast, East, Southeast,
		South, Southwest, West, Northwest,
	}
}

// ParseDirection maps a wire name back to a Direction.
func ParseDirection(name string) (Direction, bool) {
	for i, n := range directionNames {
		if n == name {
			return Direction(i), true
		}
	}
	return 0, false
}

// SectorFor returns the compass direction whose 45° sector contains the
// bearing from origin to p. The second return is false when p equals origin.
func SectorFor(origin, p Vec) (Direction, bool) {
	d := p.Sub(origin)
	if d.IsZero() {
		return 0, false
	}
	// Angle measured clockwise from north, normalized to [0, 2π).
	angle := math.Atan2(d.X, d.Y)
	if angle < 0 {
		angle += 2 * math.Pi
	}
	sector := int(math.Floor(angle/(2*SectorHalfAngle) + 0.5))
	return Direction(sector % NumDirections), true
}
