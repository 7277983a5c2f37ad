// Package nav implements the closed-loop guidance for the blind strike
// unit. The controller sees only the fused target estimate and the strike
// unit's own kinematic state; it proposes motion and never decides
// termination.
package nav

import (
	"github.com/strikenet/strikenet/pkg/geo"
	"github.com/strikenet/strikenet/pkg/relay"
)

// Gains is one PID gain set.
type Gains struct {
	Kp float64
	Ki float64
	Kd float64
}

// Config tunes the controller.
type Config struct {
	// Far gains drive rapid closure; Near gains damp overshoot inside
	// ApproachRadius.
	Far            Gains
	Near           Gains
	ApproachRadius float64

	// MaxSpeed caps the desired closing speed, MaxImpulse the per-tick
	// correction.
	MaxSpeed   float64
	MaxImpulse float64

	// IntegralLimit clamps the accumulated error (anti-windup).
	IntegralLimit float64

	// MinConfidence is the estimate confidence below which the controller
	// holds instead of correcting toward stale data.
	MinConfidence float64
}

// DefaultConfig returns the gain schedule calibrated on the corner-sensor
// scenario.
func DefaultConfig() Config {
	return Config{
		Far:            Gains{Kp: 1.0, Ki: 0.02, Kd: 0.2},
		Near:           Gains{Kp: 0.5, Ki: 0.0, Kd: 0.6},
		ApproachRadius: 25,
		MaxSpeed:       40,
		MaxImpulse:     10,
		IntegralLimit:  50,
		MinConfidence:  0.2,
	}
}

// Controller is the strike unit's guidance loop. Not safe for concurrent
// use; the tick loop is its only caller.
type Controller struct {
	cfg       Config
	integral  geo.Vec
	prevErr   geo.Vec
	havePrev  bool
}

// NewController creates a controller with the given configuration.
func NewController(cfg Config) *Controller {
	return &Controller{cfg: cfg}
}

// NextImpulse computes the thrust impulse for the strike unit. The PID runs
// on 2-D position error and yields a desired velocity; the impulse is the
// clamped correction from the current velocity toward it. The desired
// velocity never has a negative component along the bearing to the
// estimate. Below the confidence threshold the controller issues a zero
// impulse and resets its integrator rather than chasing stale data.
func (c *Controller) NextImpulse(pos, vel geo.Vec, est relay.Estimate, ok bool, dt float64) geo.Vec {
	if !ok || est.Confidence < c.cfg.MinConfidence {
		c.integral = geo.Vec{}
		c.havePrev = false
		return geo.Vec{}
	}

	err := est.Pos.Sub(pos)
	dist := err.Len()

	gains := c.cfg.Far
	if dist <= c.cfg.ApproachRadius {
		gains = c.cfg.Near
	}

	c.integral = c.integral.Add(err.Scale(dt)).Clamp(c.cfg.IntegralLimit)

	var deriv geo.Vec
	if c.havePrev && dt > 0 {
		deriv = err.Sub(c.prevErr).Scale(1 / dt)
	}
	c.prevErr = err
	c.havePrev = true

	desired := err.Scale(gains.Kp).
		Add(c.integral.Scale(gains.Ki)).
		Add(deriv.Scale(gains.Kd))

	// Never command motion directly away from the estimate.
	errHat := err.Norm()
	if along := desired.Dot(errHat); along < 0 {
		desired = desired.Sub(errHat.Scale(along))
	}
	desired = desired.Clamp(c.cfg.MaxSpeed)

	return desired.Sub(vel).Clamp(c.cfg.MaxImpulse)
}

// Reset clears the controller state, used when the estimate is replaced
// wholesale (new run, relaunch).
func (c *Controller) Reset() {
	c.integral = geo.Vec{}
	c.prevErr = geo.Vec{}
	c.havePrev = false
}
