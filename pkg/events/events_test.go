package events

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"

	"github.com/strikenet/strikenet/pkg/messages"
)

func TestPublisherIsNilSafe(t *testing.T) {
	var nilPub *Publisher
	assert.NotPanics(t, func() {
		nilPub.PublishLifecycle("run-1", "SUCCESS")
		nilPub.PublishSnapshot(messages.Snapshot{SimulationID: "run-1"})
	})

	// A publisher over an absent bus drops events silently.
	pub := NewPublisher(nil, zerolog.Nop())
	assert.NotPanics(t, func() {
		pub.PublishLifecycle("run-1", "CANCELED")
		pub.PublishSnapshot(messages.Snapshot{SimulationID: "run-1"})
	})
}
