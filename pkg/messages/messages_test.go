package messages

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strikenet/strikenet/pkg/detect"
	"github.com/strikenet/strikenet/pkg/geo"
)

func TestUnitCommandValidate(t *testing.T) {
	tests := []struct {
		name    string
		cmd     UnitCommand
		wantErr bool
	}{
		{
			name: "thrust only",
			cmd:  UnitCommand{Thrust: &ThrustCommand{Impulse: geo.Vec{X: 1}}},
		},
		{
			name: "message only",
			cmd:  UnitCommand{Message: &MessageCommand{Payload: json.RawMessage(`{}`)}},
		},
		{
			name:    "empty",
			cmd:     UnitCommand{},
			wantErr: true,
		},
		{
			name: "both variants",
			cmd: UnitCommand{
				Thrust:  &ThrustCommand{},
				Message: &MessageCommand{Payload: json.RawMessage(`{}`)},
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cmd.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidCommand)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestDetectionSetWireShape(t *testing.T) {
	set := detect.Set{
		geo.Northeast: {Class: detect.ClassTarget, Distance: 86.02},
		geo.South:     {Class: detect.ClassObstacle, Distance: 40},
	}

	wire := NewDetectionSet(set)
	require.NotNil(t, wire)

	data, err := json.Marshal(wire)
	require.NoError(t, err)

	var decoded map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &decoded))

	// Directions serialize under lowercase compass names, empty slots are
	// omitted entirely.
	assert.Contains(t, decoded, "northeast")
	assert.Contains(t, decoded, "south")
	assert.Len(t, decoded, 2)

	assert.Equal(t, "TARGET", wire.Northeast.Class)
	assert.InDelta(t, 86.02, wire.Northeast.Distance, 1e-9)
	assert.Equal(t, "OBSTACLE", wire.South.Class)
}

func TestNewDetectionSetEmpty(t *testing.T) {
	assert.Nil(t, NewDetectionSet(detect.Set{}))
	assert.Nil(t, NewDetectionSet(nil))
}

func TestDetectionSetSlot(t *testing.T) {
	set := detect.Set{}
	for _, dir := range geo.Directions() {
		set[dir] = detect.Detection{Class: detect.ClassObstacle, Distance: float64(dir)}
	}

	wire := NewDetectionSet(set)
	require.NotNil(t, wire)
	for _, dir := range geo.Directions() {
		d := wire.Slot(dir)
		require.NotNil(t, d, "slot %s", dir)
		assert.InDelta(t, float64(dir), d.Distance, 1e-9)
	}

	var empty *DetectionSet
	assert.Nil(t, empty.Slot(geo.North))
}

func TestUnitStatusOmitsEmptyFields(t *testing.T) {
	data, err := json.Marshal(UnitStatus{Pos: geo.Vec{X: 1, Y: 2}})
	require.NoError(t, err)

	var decoded map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Contains(t, decoded, "pos")
	assert.NotContains(t, decoded, "detections")
	assert.NotContains(t, decoded, "messages")
}
