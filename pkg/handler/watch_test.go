package handler

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strikenet/strikenet/pkg/messages"
)

func recvFrame(t *testing.T, ch <-chan WatchFrame) WatchFrame {
	t.Helper()
	select {
	case frame := <-ch:
		return frame
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for frame")
		return WatchFrame{}
	}
}

func TestWatchHubBroadcastsSnapshots(t *testing.T) {
	hub := NewWatchHub(nil, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	client := &WatchClient{id: "c1", send: make(chan WatchFrame, 8), hub: hub}
	hub.register <- client

	hub.BroadcastSnapshot(messages.Snapshot{SimulationID: "run-1", Tick: 7, Status: "RUNNING"})

	frame := recvFrame(t, client.send)
	assert.Equal(t, FrameTypeSnapshot, frame.Type)
	assert.Equal(t, "run-1", frameSimulationID(frame))
}

func TestWatchHubFiltersBySimulation(t *testing.T) {
	hub := NewWatchHub(nil, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	all := &WatchClient{id: "all", send: make(chan WatchFrame, 8), hub: hub}
	only2 := &WatchClient{id: "only2", send: make(chan WatchFrame, 8), hub: hub, simulationID: "run-2"}
	hub.register <- all
	hub.register <- only2

	hub.BroadcastSnapshot(messages.Snapshot{SimulationID: "run-1", Status: "RUNNING"})
	hub.BroadcastSnapshot(messages.Snapshot{SimulationID: "run-2", Status: "RUNNING"})

	first := recvFrame(t, all.send)
	second := recvFrame(t, all.send)
	require.Equal(t, "run-1", frameSimulationID(first))
	require.Equal(t, "run-2", frameSimulationID(second))

	only := recvFrame(t, only2.send)
	assert.Equal(t, "run-2", frameSimulationID(only))
	select {
	case extra := <-only2.send:
		t.Fatalf("unexpected extra frame for %s", frameSimulationID(extra))
	default:
	}
}
