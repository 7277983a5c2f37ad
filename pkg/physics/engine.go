// Package physics owns the agents and advances their kinematics each tick.
package physics

import (
	"sort"

	"github.com/strikenet/strikenet/pkg/geo"
)

// Kind identifies what an agent is.
type Kind string

const (
	KindSensor Kind = "sensor"
	KindStrike Kind = "strike"
	KindBase   Kind = "base"
)

// Agent is a simulated entity with position and velocity. Agents are owned
// exclusively by the Engine; other components read snapshots. An agent is
// never deleted mid-run, only marked inactive, so index references stay
// stable for the whole run.
type Agent struct {
	ID     string
	Kind   Kind
	Pos    geo.Vec
	Vel    geo.Vec
	Active bool
}

// Bounds is the axis-aligned battlespace. Agents are clamped inside it.
type Bounds struct {
	Min geo.Vec
	Max geo.Vec
}

// Square returns bounds centered on the origin with the given half-extent.
func Square(halfExtent float64) Bounds {
	return Bounds{
		Min: geo.Vec{X: -halfExtent, Y: -halfExtent},
		Max: geo.Vec{X: halfExtent, Y: halfExtent},
	}
}

// Contains reports whether p lies inside the bounds.
func (b Bounds) Contains(p geo.Vec) bool {
	return p.X >= b.Min.X && p.X <= b.Max.X && p.Y >= b.Min.Y && p.Y <= b.Max.Y
}

// Engine integrates agent kinematics. It is not safe for concurrent use;
// the tick loop is its only caller.
type Engine struct {
	bounds     Bounds
	drag       float64 // linear drag coefficient, 1/s
	maxImpulse float64

	agents map[string]*Agent
	order  []string // stable iteration order for determinism
}

// NewEngine creates an engine over the given bounds.
func NewEngine(bounds Bounds, drag, maxImpulse float64) *Engine {
	return &Engine{
		bounds:     bounds,
		drag:       drag,
		maxImpulse: maxImpulse,
		agents:     make(map[string]*Agent),
	}
}

// Spawn adds an agent. Spawning an existing id replaces its state.
func (e *Engine) Spawn(id string, kind Kind, pos geo.Vec) *Agent {
	if _, ok := e.agents[id]; !ok {
		e.order = append(e.order, id)
		sort.Strings(e.order)
	}
	a := &Agent{ID: id, Kind: kind, Pos: pos, Active: true}
	e.agents[id] = a
	return a
}

// Agent returns the agent with the given id, or nil.
func (e *Engine) Agent(id string) *Agent {
	return e.agents[id]
}

// Deactivate marks an agent inactive. Its last known state persists.
func (e *Engine) Deactivate(id string) {
	if a := e.agents[id]; a != nil {
		a.Active = false
	}
}

// Agents returns all agents in deterministic id order.
func (e *Engine) Agents() []*Agent {
	out := make([]*Agent, 0, len(e.order))
	for _, id := range e.order {
		out = append(out, e.agents[id])
	}
	return out
}

// Bounds returns the battlespace bounds.
func (e *Engine) Bounds() Bounds {
	return e.bounds
}

// Advance applies at most one impulse per active agent, integrates velocity
// under linear drag, integrates position and clamps it to the bounds.
// Impulses against a bound are absorbed: the velocity component into the
// bound is zeroed, not reflected. Given the same impulses and dt the result
// is reproducible.
func (e *Engine) Advance(dt float64, impulses map[string]geo.Vec) {
	decay := 1 - e.drag*dt
	if decay < 0 {
		decay = 0
	}

	for _, id := range e.order {
		a := e.agents[id]
		if !a.Active {
			continue
		}

		if imp, ok := impulses[id]; ok {
			a.Vel = a.Vel.Add(imp.Clamp(e.maxImpulse))
		}

		a.Vel = a.Vel.Scale(decay)
		a.Pos = a.Pos.Add(a.Vel.Scale(dt))

		if a.Pos.X < e.bounds.Min.X {
			a.Pos.X = e.bounds.Min.X
			if a.Vel.X < 0 {
				a.Vel.X = 0
			}
		} else if a.Pos.X > e.bounds.Max.X {
			a.Pos.X = e.bounds.Max.X
			if a.Vel.X > 0 {
				a.Vel.X = 0
			}
		}
		if a.Pos.Y < e.bounds.Min.Y {
			a.Pos.Y = e.bounds.Min.Y
			if a.Vel.Y < 0 {
				a.Vel.Y = 0
			}
		} else if a.Pos.Y > e.bounds.Max.Y {
			a.Pos.Y = e.bounds.Max.Y
			if a.Vel.Y > 0 {
				a.Vel.Y = 0
			}
		}
	}
}
