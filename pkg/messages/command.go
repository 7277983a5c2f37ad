// Package messages defines the wire types of the unit control surface.
package messages

import (
	"encoding/json"
	"errors"

	"github.com/strikenet/strikenet/pkg/geo"
)

// ErrInvalidCommand marks a command that carries no variant or more than
// one.
var ErrInvalidCommand = errors.New("unit command must carry exactly one of thrust or message")

// UnitCommand is the tagged union a unit sends on its control stream:
// either a thrust impulse or a peer message. Exactly one variant must be
// set; the tick loop matches exhaustively when applying it.
type UnitCommand struct {
	Thrust  *ThrustCommand  `json:"thrust,omitempty"`
	Message *MessageCommand `json:"message,omitempty"`
}

// ThrustCommand queues an impulse for the next tick.
type ThrustCommand struct {
	Impulse geo.Vec `json:"impulse"`
}

// MessageCommand sends an opaque payload to one peer (To set) or to all
// other units (To empty).
type MessageCommand struct {
	To      string          `json:"to,omitempty"`
	Payload json.RawMessage `json:"payload"`
}

// Validate checks the tagged-union invariant.
func (c UnitCommand) Validate() error {
	set := 0
	if c.Thrust != nil {
		set++
	}
	if c.Message != nil {
		set++
	}
	if set != 1 {
		return ErrInvalidCommand
	}
	return nil
}
