package relay

import (
	"math"

	"github.com/strikenet/strikenet/pkg/geo"
)

// DefaultTTL is the standard report lifetime in ticks.
const DefaultTTL = 20

// agreementScale converts pairwise position variance into a confidence
// discount. Variance of this many squared units halves the agreement term.
const agreementScale = 100.0

// Estimate is the fused target position with a confidence score. A fresh
// value is produced once per tick by the Fusion component and handed to
// consumers as an immutable snapshot.
type Estimate struct {
	Pos         geo.Vec `json:"pos"`
	Confidence  float64 `json:"confidence"`
	LastUpdated int64   `json:"last_updated"`
	Reports     int     `json:"reports"`
}

// Fusion maintains a rolling window of the most recent report per source and
// triangulates them into a target estimate. Single writer: the tick loop.
type Fusion struct {
	// TTL is the report lifetime in ticks. Entries at or past it are
	// discarded and their contribution decays linearly to zero.
	TTL int64

	window map[string]Message
}

// NewFusion creates a fusion window with the given report TTL in ticks.
func NewFusion(ttl int64) *Fusion {
	return &Fusion{TTL: ttl, window: make(map[string]Message)}
}

// Ingest merges one delivered message copy. The merge is idempotent on
// (src, tick) and independent of delivery order: duplicates and copies older
// than the retained report are ignored. Reports false when nothing changed.
func (f *Fusion) Ingest(msg Message) bool {
	if prev, ok := f.window[msg.Src]; ok && prev.Tick >= msg.Tick {
		return false
	}
	f.window[msg.Src] = msg
	return true
}

// Reports returns the number of in-window reports as of now.
func (f *Fusion) Reports(now int64) int {
	f.prune(now)
	return len(f.window)
}

func (f *Fusion) prune(now int64) {
	for src, msg := range f.window {
		if now-msg.Tick >= f.TTL {
			delete(f.window, src)
		}
	}
}

// weight is the report's contribution: its own confidence scaled by linear
// age decay, zero at TTL.
func (f *Fusion) weight(msg Message, now int64) float64 {
	age := float64(now - msg.Tick)
	decay := 1 - age/float64(f.TTL)
	if decay < 0 {
		decay = 0
	}
	return clamp01(msg.Confidence) * decay
}

// Estimate fuses the retained reports into a target estimate. With no
// in-window reports it returns false and a zero-confidence estimate. A
// single report is used directly at reduced confidence; two or more reports
// triangulate pairwise. Adding a corroborating, positionally consistent
// report never decreases confidence.
func (f *Fusion) Estimate(now int64) (Estimate, bool) {
	f.prune(now)
	if len(f.window) == 0 {
		return Estimate{LastUpdated: now}, false
	}

	msgs := make([]Message, 0, len(f.window))
	for _, m := range f.window {
		msgs = append(msgs, m)
	}
	// Deterministic order regardless of map iteration.
	sortMessages(msgs)

	if len(msgs) == 1 {
		m := msgs[0]
		return Estimate{
			Pos:         candidatePoint(m),
			Confidence:  clamp01(0.5 * f.weight(m, now)),
			LastUpdated: now,
			Reports:     1,
		}, true
	}

	// Pairwise triangulation. Bearings are quantized to 45° sectors, so
	// intersecting the bearing lines directly degenerates for symmetric
	// placements (parallel or coincident lines). The reported distance is
	// exact, so each pair instead intersects its two range circles and the
	// quantized bearings only disambiguate between the two intersection
	// points. When the bearings cannot tell the two apart (sensors mirror
	// symmetric about the target), the preliminary centroid of the bearing
	// candidates breaks the tie.
	var hintW float64
	var hint geo.Vec
	for _, m := range msgs {
		w := f.weight(m, now)
		hint = hint.Add(candidatePoint(m).Scale(w))
		hintW += w
	}
	if hintW > 0 {
		hint = hint.Scale(1 / hintW)
	}

	var sumW, sumX, sumY float64
	type weighted struct {
		p geo.Vec
		w float64
	}
	var points []weighted
	for i := 0; i < len(msgs); i++ {
		for j := i + 1; j < len(msgs); j++ {
			p, ok := pairPoint(msgs[i], msgs[j], hint)
			if !ok {
				continue
			}
			w := f.weight(msgs[i], now) * f.weight(msgs[j], now)
			points = append(points, weighted{p, w})
			sumW += w
			sumX += p.X * w
			sumY += p.Y * w
		}
	}
	if sumW == 0 {
		return Estimate{LastUpdated: now}, false
	}
	fused := geo.Vec{X: sumX / sumW, Y: sumY / sumW}

	variance := 0.0
	for _, wp := range points {
		d := wp.p.Dist(fused)
		variance += wp.w * d * d
	}
	variance /= sumW
	agreement := agreementScale / (agreementScale + variance)

	support := 1.0
	for _, m := range msgs {
		support *= 1 - clamp01(f.weight(m, now))
	}
	support = 1 - support

	return Estimate{
		Pos:         fused,
		Confidence:  clamp01(support * agreement),
		LastUpdated: now,
		Reports:     len(msgs),
	}, true
}

// candidatePoint projects a single report onto its quantized bearing.
func candidatePoint(m Message) geo.Vec {
	return m.SensorPos.Add(m.Bearing.Vector().Scale(m.Distance))
}

// pairPoint triangulates two reports. The range circles around the two
// sensors intersect in up to two points; the one most consistent with both
// reported bearings wins, with hint proximity breaking exact ties.
// Non-intersecting circles (noisy or stale reports) fall back to the
// midpoint of the two bearing candidates, which the agreement term then
// penalizes.
func pairPoint(a, b Message, hint geo.Vec) (geo.Vec, bool) {
	c1, r1 := a.SensorPos, a.Distance
	c2, r2 := b.SensorPos, b.Distance
	delta := c2.Sub(c1)
	d := delta.Len()
	if d == 0 {
		return geo.Vec{}, false
	}
	if d > r1+r2 || d < math.Abs(r1-r2) {
		mid := candidatePoint(a).Add(candidatePoint(b)).Scale(0.5)
		return mid, true
	}

	along := (r1*r1 - r2*r2 + d*d) / (2 * d)
	hSq := r1*r1 - along*along
	if hSq < 0 {
		hSq = 0
	}
	h := math.Sqrt(hSq)

	base := c1.Add(delta.Scale(along / d))
	perp := geo.Vec{X: -delta.Y / d, Y: delta.X / d}
	p1 := base.Add(perp.Scale(h))
	p2 := base.Sub(perp.Scale(h))

	s1, s2 := bearingScore(a, b, p1), bearingScore(a, b, p2)
	if math.Abs(s1-s2) < 1e-9 {
		if p1.Dist(hint) <= p2.Dist(hint) {
			return p1, true
		}
		return p2, true
	}
	if s1 > s2 {
		return p1, true
	}
	return p2, true
}

// bearingScore measures how well p agrees with both reported bearings.
func bearingScore(a, b Message, p geo.Vec) float64 {
	return p.Sub(a.SensorPos).Norm().Dot(a.Bearing.Vector()) +
		p.Sub(b.SensorPos).Norm().Dot(b.Bearing.Vector())
}

func sortMessages(msgs []Message) {
	for i := 1; i < len(msgs); i++ {
		for j := i; j > 0 && msgs[j].Src < msgs[j-1].Src; j-- {
			msgs[j], msgs[j-1] = msgs[j-1], msgs[j]
		}
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
