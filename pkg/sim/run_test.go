package sim

import (
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strikenet/strikenet/pkg/geo"
	"github.com/strikenet/strikenet/pkg/messages"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.RandomTarget = false
	cfg.TargetPos = geo.Vec{X: 100, Y: 120}
	cfg.Seed = 42
	return cfg
}

func newTestRun(t *testing.T, cfg Config) *Run {
	t.Helper()
	return NewRun("test-run", cfg, zerolog.Nop(), nil, Hooks{})
}

// stepUntilTerminal drives the run to completion with a hard tick cap.
func stepUntilTerminal(r *Run, maxTicks int) {
	for i := 0; i < maxTicks; i++ {
		if !r.Step() {
			return
		}
	}
}

func TestEndToEndCapture(t *testing.T) {
	r := newTestRun(t, testConfig())

	id, pos, err := r.Launch()
	require.NoError(t, err)
	assert.Equal(t, "strike-1", id)
	assert.Equal(t, geo.Vec{}, pos)

	stepUntilTerminal(r, 400)

	require.Equal(t, StatusSuccess, r.Status())
	snap := r.Snapshot()
	assert.Less(t, snap.Tick, int64(300))
	require.NotNil(t, snap.Estimate)
	assert.InDelta(t, 100, snap.Estimate.Pos.X, 1e-6)
	assert.InDelta(t, 120, snap.Estimate.Pos.Y, 1e-6)
}

func TestTotalRelayLossTimesOut(t *testing.T) {
	cfg := testConfig()
	cfg.DropRate = 1.0
	cfg.Deadline = 5
	r := newTestRun(t, cfg)

	_, _, err := r.Launch()
	require.NoError(t, err)

	stepUntilTerminal(r, 200)

	require.Equal(t, StatusTimedOut, r.Status())
	snap := r.Snapshot()
	assert.Equal(t, int64(50), snap.Tick)
	assert.Nil(t, snap.Estimate, "no report survives total loss, so no estimate forms")

	// The strike unit never received guidance and never left the base.
	for _, u := range snap.Units {
		if u.ID == "strike-1" {
			assert.InDelta(t, 0, u.Pos.Len(), 1e-9)
		}
	}
}

func TestRunIsDeterministic(t *testing.T) {
	runOnce := func() messages.Snapshot {
		r := newTestRun(t, testConfig())
		_, _, err := r.Launch()
		require.NoError(t, err)
		for i := 0; i < 100; i++ {
			if !r.Step() {
				break
			}
		}
		return r.Snapshot()
	}

	first := runOnce()
	second := runOnce()

	require.Equal(t, first.Tick, second.Tick)
	require.Equal(t, first.Status, second.Status)
	require.Len(t, second.Units, len(first.Units))
	for i := range first.Units {
		assert.Equal(t, first.Units[i].ID, second.Units[i].ID)
		assert.Equal(t, first.Units[i].Pos, second.Units[i].Pos)
	}
}

func TestLaunchIsSingleShot(t *testing.T) {
	r := newTestRun(t, testConfig())

	_, _, err := r.Launch()
	require.NoError(t, err)

	_, _, err = r.Launch()
	assert.ErrorIs(t, err, ErrAlreadyLaunched)
}

func TestCancelIsTerminalAndIdempotent(t *testing.T) {
	r := newTestRun(t, testConfig())

	r.Cancel()
	require.Equal(t, StatusCanceled, r.Status())

	assert.False(t, r.Step(), "a terminal run does not advance")
	r.Cancel()
	assert.Equal(t, StatusCanceled, r.Status())

	_, _, err := r.Launch()
	assert.ErrorIs(t, err, ErrTerminal)
	_, err = r.Attach("sensor-1")
	assert.ErrorIs(t, err, ErrTerminal)
}

func TestThrustCommandMovesUnit(t *testing.T) {
	cfg := testConfig()
	cfg.DropRate = 1.0 // keep relay quiet for this test
	r := newTestRun(t, cfg)

	s, err := r.Attach("sensor-1")
	require.NoError(t, err)

	require.NoError(t, s.Submit(messages.UnitCommand{
		Thrust: &messages.ThrustCommand{Impulse: geo.Vec{X: 5}},
	}))
	require.True(t, r.Step())

	status := <-s.Statuses()
	assert.Greater(t, status.Pos.X, 50.0, "impulse pushes the sensor east of its spawn")
}

func TestCommandInboxIsLatestWins(t *testing.T) {
	cfg := testConfig()
	cfg.DropRate = 1.0
	r := newTestRun(t, cfg)

	s, err := r.Attach("sensor-1")
	require.NoError(t, err)

	require.NoError(t, s.Submit(messages.UnitCommand{
		Thrust: &messages.ThrustCommand{Impulse: geo.Vec{X: 5}},
	}))
	require.NoError(t, s.Submit(messages.UnitCommand{
		Thrust: &messages.ThrustCommand{Impulse: geo.Vec{X: -5}},
	}))
	require.True(t, r.Step())

	status := <-s.Statuses()
	assert.Less(t, status.Pos.X, 50.0, "the later command replaces the earlier one")
}

func TestPeerMessageRouting(t *testing.T) {
	cfg := testConfig()
	cfg.DropRate = 1.0
	r := newTestRun(t, cfg)

	src, err := r.Attach("sensor-1")
	require.NoError(t, err)
	dst, err := r.Attach("sensor-2")
	require.NoError(t, err)
	other, err := r.Attach("sensor-3")
	require.NoError(t, err)

	payload := json.RawMessage(`{"note":"contact"}`)
	require.NoError(t, src.Submit(messages.UnitCommand{
		Message: &messages.MessageCommand{To: "sensor-2", Payload: payload},
	}))
	require.True(t, r.Step())

	dstStatus := <-dst.Statuses()
	require.Len(t, dstStatus.Messages, 1)
	assert.Equal(t, "sensor-1", dstStatus.Messages[0].Src)
	assert.Equal(t, messages.PayloadData, dstStatus.Messages[0].Type)
	assert.JSONEq(t, string(payload), string(dstStatus.Messages[0].Payload))

	otherStatus := <-other.Statuses()
	assert.Empty(t, otherStatus.Messages, "addressed messages reach only the addressee")
}

func TestBroadcastMessageReachesAllPeers(t *testing.T) {
	cfg := testConfig()
	cfg.DropRate = 1.0
	r := newTestRun(t, cfg)

	src, err := r.Attach("sensor-1")
	require.NoError(t, err)
	dst1, err := r.Attach("sensor-2")
	require.NoError(t, err)
	dst2, err := r.Attach("sensor-3")
	require.NoError(t, err)

	require.NoError(t, src.Submit(messages.UnitCommand{
		Message: &messages.MessageCommand{Payload: json.RawMessage(`"ping"`)},
	}))
	require.True(t, r.Step())

	for _, s := range []*Session{dst1, dst2} {
		status := <-s.Statuses()
		require.Len(t, status.Messages, 1)
		assert.Equal(t, "sensor-1", status.Messages[0].Src)
	}
	srcStatus := <-src.Statuses()
	assert.Empty(t, srcStatus.Messages, "a broadcast does not echo to the sender")
}

func TestSensorStatusCarriesDetections(t *testing.T) {
	r := newTestRun(t, testConfig())

	s, err := r.Attach("sensor-1")
	require.NoError(t, err)
	require.True(t, r.Step())

	status := <-s.Statuses()
	require.NotNil(t, status.Detections)
	require.NotNil(t, status.Detections.Northeast, "target at (100,120) sits northeast of (50,50)")
	assert.Equal(t, "TARGET", status.Detections.Northeast.Class)
	assert.InDelta(t, 86.02, status.Detections.Northeast.Distance, 0.01)
}

func TestAgentsOccludeWhenConfigured(t *testing.T) {
	cfg := testConfig()
	cfg.DetectAgents = true
	r := newTestRun(t, cfg)

	s, err := r.Attach("sensor-1")
	require.NoError(t, err)
	require.True(t, r.Step())

	status := <-s.Statuses()
	require.NotNil(t, status.Detections)
	require.NotNil(t, status.Detections.West, "sensor-2 at (-50,50) sits due west of (50,50)")
	assert.Equal(t, "OBSTACLE", status.Detections.West.Class)
	assert.InDelta(t, 100, status.Detections.West.Distance, 0.01)
	require.NotNil(t, status.Detections.Southwest, "the base is the nearest southwest occluder, in front of sensor-3")
	assert.Equal(t, "OBSTACLE", status.Detections.Southwest.Class)
	assert.InDelta(t, 70.71, status.Detections.Southwest.Distance, 0.01)
}

func TestAgentsInvisibleToScansByDefault(t *testing.T) {
	r := newTestRun(t, testConfig())

	s, err := r.Attach("sensor-1")
	require.NoError(t, err)
	require.True(t, r.Step())

	status := <-s.Statuses()
	require.NotNil(t, status.Detections)
	assert.Nil(t, status.Detections.West, "sensor-2 does not occlude")
	assert.Nil(t, status.Detections.Southwest, "neither the base nor sensor-3 occlude")
}

func TestRelayedDetectionsReachPeerSessions(t *testing.T) {
	cfg := testConfig()
	cfg.DropRate = 0 // lossless so delivery is certain this tick
	r := newTestRun(t, cfg)

	peer, err := r.Attach("sensor-3")
	require.NoError(t, err)
	require.True(t, r.Step())

	status := <-peer.Statuses()
	require.NotEmpty(t, status.Messages)

	srcs := map[string]bool{}
	for _, m := range status.Messages {
		assert.Equal(t, messages.PayloadDetection, m.Type)
		assert.NotEqual(t, "sensor-3", m.Src)
		srcs[m.Src] = true
	}
	assert.Len(t, srcs, 3, "each other sensor's report arrives exactly once per tick")
}

func TestStrikeSessionReceivesEstimate(t *testing.T) {
	cfg := testConfig()
	cfg.DropRate = 0
	r := newTestRun(t, cfg)

	_, _, err := r.Launch()
	require.NoError(t, err)
	s, err := r.Attach("strike-1")
	require.NoError(t, err)
	require.True(t, r.Step())

	status := <-s.Statuses()
	require.NotEmpty(t, status.Messages)
	est := status.Messages[len(status.Messages)-1]
	assert.Equal(t, messages.PayloadEstimate, est.Type)
	assert.Equal(t, "fusion", est.Src)
	assert.Greater(t, est.Confidence, 0.2)
}

func TestTerminalRunClosesSessions(t *testing.T) {
	r := newTestRun(t, testConfig())

	s, err := r.Attach("sensor-1")
	require.NoError(t, err)
	r.Cancel()

	for range s.Statuses() {
	}
	// Commands after close are inert, not errors.
	assert.NoError(t, s.Submit(messages.UnitCommand{
		Thrust: &messages.ThrustCommand{Impulse: geo.Vec{X: 1}},
	}))
}

func TestUnknownUnitAttachFails(t *testing.T) {
	r := newTestRun(t, testConfig())
	_, err := r.Attach("sensor-99")
	assert.ErrorIs(t, err, ErrAgentNotFound)
}

func TestSlowConsumerKeepsFreshFrames(t *testing.T) {
	cfg := testConfig()
	cfg.DropRate = 1.0
	r := newTestRun(t, cfg)

	s, err := r.Attach("sensor-1")
	require.NoError(t, err)

	for i := 0; i < outboxDepth*3; i++ {
		require.True(t, r.Step())
	}

	n := 0
	for {
		select {
		case <-s.Statuses():
			n++
			continue
		default:
		}
		break
	}
	assert.Equal(t, outboxDepth, n, "old frames are evicted, never fresh ones")
}
