// Package sim owns the simulation runs: the tick loop that advances the
// world, the lossy relay feeding the fusion window, the blind-strike
// guidance, and the lifecycle state machine.
package sim

import (
	"github.com/strikenet/strikenet/pkg/geo"
	"github.com/strikenet/strikenet/pkg/nav"
	"github.com/strikenet/strikenet/pkg/relay"
)

// Config holds the world parameters of a single run. Zero values are not
// usable; start from DefaultConfig.
type Config struct {
	// Dt is the fixed timestep in seconds.
	Dt float64
	// Deadline is the wall budget in simulated seconds before TimedOut.
	Deadline float64
	// Drag is the per-second velocity decay factor.
	Drag float64
	// MaxImpulse caps the magnitude of any single thrust impulse.
	MaxImpulse float64
	// ArenaHalfExtent is the half width of the square arena around the
	// origin. Positions are clamped to it.
	ArenaHalfExtent float64
	// SensorRange is the maximum detection distance of a sensor ray.
	SensorRange float64
	// CaptureRadius is the strike-to-target distance that ends the run
	// in Success.
	CaptureRadius float64
	// FusionTTL is the fusion window length in ticks.
	FusionTTL int64
	// DropRate is the relay loss probability per delivery attempt.
	DropRate float64
	// Seed drives every random draw of the run. Same seed, same run.
	Seed int64

	// SensorPositions are the spawn points of the sensor picket.
	SensorPositions []geo.Vec
	// BasePos is the launch point of the strike unit.
	BasePos geo.Vec
	// TargetPos places the target. Ignored when RandomTarget is set.
	TargetPos geo.Vec
	// RandomTarget places the target at a seed-derived position outside
	// the sensor picket instead of TargetPos.
	RandomTarget bool
	// Obstacles are static occluders in the arena.
	Obstacles []geo.Vec
	// DetectAgents makes units occlude sensor rays too, so they show up
	// as obstacles in each other's scans. Off, scans see only the target
	// and Obstacles.
	DetectAgents bool

	// Nav configures the strike guidance controller.
	Nav nav.Config
}

// DefaultConfig returns the standard scenario: a four-corner sensor picket
// around a base at the origin, ten ticks per simulated second, and a
// thirty second deadline.
func DefaultConfig() Config {
	return Config{
		Dt:              0.1,
		Deadline:        30,
		Drag:            0.5,
		MaxImpulse:      10,
		ArenaHalfExtent: 150,
		SensorRange:     250,
		CaptureRadius:   10,
		FusionTTL:       relay.DefaultTTL,
		DropRate:        0.5,
		Seed:            1,
		SensorPositions: []geo.Vec{
			{X: 50, Y: 50},
			{X: -50, Y: 50},
			{X: -50, Y: -50},
			{X: 50, Y: -50},
		},
		BasePos:      geo.Vec{},
		RandomTarget: true,
		Nav:          nav.DefaultConfig(),
	}
}

// DeadlineTicks converts the deadline to a tick count.
func (c Config) DeadlineTicks() int64 {
	if c.Dt <= 0 {
		return 0
	}
	return int64(c.Deadline / c.Dt)
}
