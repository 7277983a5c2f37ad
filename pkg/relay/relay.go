// Package relay implements the redundant detection broadcast between sensor
// peers and the fusion of delivered reports into a shared target estimate.
package relay

import (
	"math/rand"

	"github.com/strikenet/strikenet/pkg/geo"
)

// ReplicationFactor is the number of delivery attempts per peer for each
// broadcast message. Redundancy against the lossy transport.
const ReplicationFactor = 3

// Message is one sensor's target report. Immutable once created; the relay
// copies it, never mutates it.
type Message struct {
	Src        string        `json:"src"`
	SensorPos  geo.Vec       `json:"sensor_pos"`
	Bearing    geo.Direction `json:"bearing"`
	Distance   float64       `json:"distance"`
	Tick       int64         `json:"tick"`
	Confidence float64       `json:"confidence"`
}

// Delivery is one message copy that survived the lossy transport.
type Delivery struct {
	Peer string
	Msg  Message
}

// FanOut broadcasts msg to peers with ReplicationFactor × len(peers)
// delivery attempts. Each attempt may be dropped with probability dropRate
// under rng (deterministic given the seed), modeling network loss. Below
// total saturation (dropRate < 1) every live peer is guaranteed at least one
// copy: the final attempt per peer goes through when all earlier ones
// dropped. With no peers there is no broadcast. Returns the surviving
// deliveries and the number of dropped attempts.
func FanOut(msg Message, peers []string, dropRate float64, rng *rand.Rand) ([]Delivery, int) {
	if len(peers) == 0 {
		return nil, 0
	}

	attempts := ReplicationFactor * len(peers)
	delivered := make([]bool, len(peers))
	dropped := 0
	var out []Delivery

	for i := 0; i < attempts; i++ {
		p := i % len(peers)
		lastAttempt := i >= attempts-len(peers)

		drop := rng.Float64() < dropRate
		if drop && lastAttempt && !delivered[p] && dropRate < 1 {
			drop = false
		}
		if drop {
			dropped++
			continue
		}

		delivered[p] = true
		out = append(out, Delivery{Peer: peers[p], Msg: msg})
	}

	return out, dropped
}
