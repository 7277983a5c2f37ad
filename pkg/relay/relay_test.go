package relay

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strikenet/strikenet/pkg/geo"
)

func testMessage(src string, tick int64) Message {
	return Message{
		Src:        src,
		SensorPos:  geo.Vec{X: 50, Y: 50},
		Bearing:    geo.Northeast,
		Distance:   86,
		Tick:       tick,
		Confidence: 0.7,
	}
}

func TestFanOutNoPeers(t *testing.T) {
	deliveries, dropped := FanOut(testMessage("s1", 1), nil, 0, rand.New(rand.NewSource(1)))
	assert.Empty(t, deliveries)
	assert.Zero(t, dropped)
}

func TestFanOutLossless(t *testing.T) {
	peers := []string{"s2", "s3", "s4"}
	deliveries, dropped := FanOut(testMessage("s1", 1), peers, 0, rand.New(rand.NewSource(1)))

	assert.Len(t, deliveries, ReplicationFactor*len(peers))
	assert.Zero(t, dropped)
}

func TestFanOutReachesEveryPeerBelowSaturation(t *testing.T) {
	peers := []string{"s2", "s3", "s4", "s5"}

	for seed := int64(0); seed < 100; seed++ {
		rng := rand.New(rand.NewSource(seed))
		deliveries, _ := FanOut(testMessage("s1", 1), peers, 0.95, rng)

		got := make(map[string]bool)
		for _, d := range deliveries {
			got[d.Peer] = true
		}
		for _, p := range peers {
			assert.True(t, got[p], "seed %d: peer %s missed", seed, p)
		}
	}
}

func TestFanOutTotalSaturationDeliversNothing(t *testing.T) {
	peers := []string{"s2", "s3"}
	deliveries, dropped := FanOut(testMessage("s1", 1), peers, 1.0, rand.New(rand.NewSource(3)))

	assert.Empty(t, deliveries)
	assert.Equal(t, ReplicationFactor*len(peers), dropped)
}

func TestFanOutDeterministicGivenSeed(t *testing.T) {
	peers := []string{"s2", "s3", "s4"}

	run := func() []Delivery {
		out, _ := FanOut(testMessage("s1", 1), peers, 0.4, rand.New(rand.NewSource(42)))
		return out
	}

	require.Equal(t, run(), run())
}
