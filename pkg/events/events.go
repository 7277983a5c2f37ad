// Package events publishes simulation lifecycle and snapshot events to
// NATS for external consumers.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"

	"github.com/strikenet/strikenet/pkg/messages"
)

// Subjects published by the engine.
const (
	SubjectLifecycle = "sim.lifecycle"
	SubjectSnapshot  = "sim.snapshot"
)

// StreamConfigs defines the streams backing the event subjects.
var StreamConfigs = map[string]jetstream.StreamConfig{
	"SIM_LIFECYCLE": {
		Name:        "SIM_LIFECYCLE",
		Description: "Simulation lifecycle transitions",
		Subjects:    []string{SubjectLifecycle + ".>"},
		Retention:   jetstream.LimitsPolicy,
		MaxBytes:    64 * 1024 * 1024,
		MaxAge:      7 * 24 * time.Hour,
		Storage:     jetstream.FileStorage,
		Replicas:    1,
		Discard:     jetstream.DiscardOld,
	},
	"SIM_SNAPSHOTS": {
		Name:        "SIM_SNAPSHOTS",
		Description: "Per-tick world snapshots for replay",
		Subjects:    []string{SubjectSnapshot + ".>"},
		Retention:   jetstream.LimitsPolicy,
		MaxBytes:    1 * 1024 * 1024 * 1024,
		MaxAge:      24 * time.Hour,
		Storage:     jetstream.FileStorage,
		Replicas:    1,
		Discard:     jetstream.DiscardOld,
	},
}

// SetupStreams creates the required streams if they do not exist.
func SetupStreams(ctx context.Context, js jetstream.JetStream) error {
	for name, cfg := range StreamConfigs {
		if _, err := js.Stream(ctx, name); err == nil {
			continue
		}
		if _, err := js.CreateStream(ctx, cfg); err != nil {
			return err
		}
	}
	return nil
}

// LifecycleEvent is the payload of a lifecycle transition.
type LifecycleEvent struct {
	SimulationID string    `json:"simulation_id"`
	Status       string    `json:"status"`
	Timestamp    time.Time `json:"timestamp"`
}

// Publisher pushes engine events onto NATS. A nil Publisher or one built
// over a nil connection publishes nothing, so the engine runs fine with
// the bus absent.
type Publisher struct {
	nc     *nats.Conn
	logger zerolog.Logger
}

// NewPublisher wraps a NATS connection. nc may be nil.
func NewPublisher(nc *nats.Conn, logger zerolog.Logger) *Publisher {
	return &Publisher{
		nc:     nc,
		logger: logger.With().Str("component", "events").Logger(),
	}
}

// PublishLifecycle announces a run transition on sim.lifecycle.<status>.
func (p *Publisher) PublishLifecycle(simulationID, status string) {
	if p == nil || p.nc == nil {
		return
	}
	data, err := json.Marshal(LifecycleEvent{
		SimulationID: simulationID,
		Status:       status,
		Timestamp:    time.Now().UTC(),
	})
	if err != nil {
		return
	}
	if err := p.nc.Publish(SubjectLifecycle+"."+status, data); err != nil {
		p.logger.Warn().Err(err).Str("simulation_id", simulationID).Msg("failed to publish lifecycle event")
	}
}

// PublishSnapshot pushes a render frame onto sim.snapshot.<id>. Frames are
// fire-and-forget; a lost frame is superseded by the next tick anyway.
func (p *Publisher) PublishSnapshot(snap messages.Snapshot) {
	if p == nil || p.nc == nil {
		return
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return
	}
	if err := p.nc.Publish(SubjectSnapshot+"."+snap.SimulationID, data); err != nil {
		p.logger.Debug().Err(err).Str("simulation_id", snap.SimulationID).Msg("failed to publish snapshot")
	}
}
