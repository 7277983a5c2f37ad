package messages

import (
	"encoding/json"
	"time"

	"github.com/strikenet/strikenet/pkg/detect"
	"github.com/strikenet/strikenet/pkg/geo"
)

// Inbound message payload types.
const (
	PayloadDetection = "detection"
	PayloadEstimate  = "estimate"
	PayloadData      = "data"
)

// WireDetection is one classified observation on the wire.
type WireDetection struct {
	Class    string  `json:"class"`
	Distance float64 `json:"distance"`
}

// DetectionSet is the wire shape of a sensor scan: one optional slot per
// compass direction, omitted where nothing was detected.
type DetectionSet struct {
	North     *WireDetection `json:"north,omitempty"`
	Northeast *WireDetection `json:"northeast,omitempty"`
	East      *WireDetection `json:"east,omitempty"`
	Southeast *WireDetection `json:"southeast,omitempty"`
	South     *WireDetection `json:"south,omitempty"`
	Southwest *WireDetection `json:"southwest,omitempty"`
	West      *WireDetection `json:"west,omitempty"`
	Northwest *WireDetection `json:"northwest,omitempty"`
}

// NewDetectionSet converts a scan result to its wire shape, nil when the
// scan was empty.
func NewDetectionSet(set detect.Set) *DetectionSet {
	if len(set) == 0 {
		return nil
	}
	out := &DetectionSet{}
	for dir, d := range set {
		wd := &WireDetection{Class: string(d.Class), Distance: d.Distance}
		switch dir {
		case geo.North:
			out.North = wd
		case geo.Northeast:
			out.Northeast = wd
		case geo.East:
			out.East = wd
		case geo.Southeast:
			out.Southeast = wd
		case geo.South:
			out.South = wd
		case geo.Southwest:
			out.Southwest = wd
		case geo.West:
			out.West = wd
		case geo.Northwest:
			out.Northwest = wd
		}
	}
	return out
}

// Slot returns the detection for a direction, nil when empty.
func (s *DetectionSet) Slot(dir geo.Direction) *WireDetection {
	if s == nil {
		return nil
	}
	switch dir {
	case geo.North:
		return s.North
	case geo.Northeast:
		return s.Northeast
	case geo.East:
		return s.East
	case geo.Southeast:
		return s.Southeast
	case geo.South:
		return s.South
	case geo.Southwest:
		return s.Southwest
	case geo.West:
		return s.West
	case geo.Northwest:
		return s.Northwest
	}
	return nil
}

// Inbound is one message delivered to a unit on its status stream.
// Immutable once created; the relay replicates copies, never mutates them.
type Inbound struct {
	Src        string          `json:"src"`
	Type       string          `json:"type"`
	Payload    json.RawMessage `json:"payload"`
	Timestamp  time.Time       `json:"timestamp"`
	Confidence float64         `json:"confidence"`
}

// UnitStatus is one frame of a unit's status stream.
type UnitStatus struct {
	Pos        geo.Vec       `json:"pos"`
	Detections *DetectionSet `json:"detections,omitempty"`
	Messages   []Inbound     `json:"messages,omitempty"`
}
