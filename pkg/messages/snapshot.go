package messages

import (
	"github.com/strikenet/strikenet/pkg/geo"
)

// UnitSnapshot is one agent in a render snapshot.
type UnitSnapshot struct {
	ID    string  `json:"id"`
	Kind  string  `json:"kind"`
	Pos   geo.Vec `json:"pos"`
	Color string  `json:"color,omitempty"`
}

// EstimateSnapshot is the current best target estimate in a render
// snapshot.
type EstimateSnapshot struct {
	Pos        geo.Vec `json:"pos"`
	Confidence float64 `json:"confidence"`
	Reports    int     `json:"reports"`
}

// Snapshot is the periodic world frame consumed by downstream rendering.
// This is the only contract the visualization layer needs from the core.
type Snapshot struct {
	SimulationID string            `json:"simulation_id"`
	Tick         int64             `json:"tick"`
	Status       string            `json:"status"`
	BasePos      geo.Vec           `json:"base_pos"`
	Units        []UnitSnapshot    `json:"units"`
	Estimate     *EstimateSnapshot `json:"estimate,omitempty"`
	Completion   string            `json:"completion,omitempty"`
}
