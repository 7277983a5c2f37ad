package sim

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/strikenet/strikenet/pkg/detect"
	"github.com/strikenet/strikenet/pkg/geo"
	"github.com/strikenet/strikenet/pkg/messages"
	"github.com/strikenet/strikenet/pkg/nav"
	"github.com/strikenet/strikenet/pkg/physics"
	"github.com/strikenet/strikenet/pkg/relay"
	"github.com/strikenet/strikenet/pkg/spatial"
)

const targetID = "target"

// Hooks are callbacks fired from inside the tick loop. Both are optional
// and must not block; wire them to the event bus and the watch hub.
type Hooks struct {
	OnSnapshot   func(messages.Snapshot)
	OnTransition func(runID string, status Status, tick int64)
}

// Info describes a started run to its operator.
type Info struct {
	ID      string             `json:"id"`
	BasePos geo.Vec            `json:"base_pos"`
	Sensors map[string]geo.Vec `json:"sensor_units"`
}

// Run is one simulation. All world state is advanced by a single tick loop;
// the control surface (launch, cancel, attach, status) serializes against it
// through the run mutex, so every observer sees a consistent tick boundary.
type Run struct {
	ID string

	cfg     Config
	log     zerolog.Logger
	metrics *Metrics
	hooks   Hooks

	mu       sync.Mutex
	engine   *physics.Engine
	scanner  detect.Scanner
	fusion   *relay.Fusion
	guidance *nav.Controller
	rng      *rand.Rand

	tick       int64
	status     Status
	completion string
	targetPos  geo.Vec
	estimate   relay.Estimate
	estOK      bool

	sensorIDs []string
	strikeID  string
	// navImpulse is the guidance command computed last tick, applied at the
	// next tick boundary unless a client thrust preempts it.
	navImpulse *geo.Vec

	sessions map[string]*Session
	snapshot messages.Snapshot
}

// NewRun builds a run in the Running state. The clock does not advance
// until Loop or Step is called.
func NewRun(id string, cfg Config, log zerolog.Logger, metrics *Metrics, hooks Hooks) *Run {
	rng := rand.New(rand.NewSource(cfg.Seed))

	r := &Run{
		ID:       id,
		cfg:      cfg,
		log:      log.With().Str("simulation_id", id).Logger(),
		metrics:  metrics,
		hooks:    hooks,
		engine:   physics.NewEngine(physics.Square(cfg.ArenaHalfExtent), cfg.Drag, cfg.MaxImpulse),
		scanner:  detect.Scanner{Range: cfg.SensorRange},
		fusion:   relay.NewFusion(cfg.FusionTTL),
		guidance: nav.NewController(cfg.Nav),
		rng:      rng,
		status:   StatusRunning,
		sessions: make(map[string]*Session),
	}

	r.targetPos = cfg.TargetPos
	if cfg.RandomTarget {
		r.targetPos = randomTarget(rng, cfg.ArenaHalfExtent)
	}

	for i, pos := range cfg.SensorPositions {
		sid := fmt.Sprintf("sensor-%d", i+1)
		r.engine.Spawn(sid, physics.KindSensor, pos)
		r.sensorIDs = append(r.sensorIDs, sid)
	}
	r.engine.Spawn("base", physics.KindBase, cfg.BasePos)

	metrics.runStarted()
	r.snapshot = r.buildSnapshot()
	return r
}

// randomTarget places the target at a seed-derived position outside the
// sensor picket but well inside every sensor's range.
func randomTarget(rng *rand.Rand, halfExtent float64) geo.Vec {
	angle := rng.Float64() * 2 * math.Pi
	radius := 80 + rng.Float64()*(halfExtent*0.85-80)
	return geo.Vec{X: radius * math.Sin(angle), Y: radius * math.Cos(angle)}
}

// Info returns the operator view of the run topology.
func (r *Run) Info() Info {
	r.mu.Lock()
	defer r.mu.Unlock()
	sensors := make(map[string]geo.Vec, len(r.sensorIDs))
	for _, sid := range r.sensorIDs {
		sensors[sid] = r.engine.Agent(sid).Pos
	}
	return Info{ID: r.ID, BasePos: r.cfg.BasePos, Sensors: sensors}
}

// Status returns the lifecycle state. Valid in any state.
func (r *Run) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// Snapshot returns the latest render frame.
func (r *Run) Snapshot() messages.Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshot
}

// Launch spawns the strike unit at the base and returns its id and spawn
// position. At most one strike unit is active per run.
func (r *Run) Launch() (string, geo.Vec, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.status.Terminal() {
		return "", geo.Vec{}, ErrTerminal
	}
	if r.strikeID != "" {
		if a := r.engine.Agent(r.strikeID); a != nil && a.Active {
			return "", geo.Vec{}, ErrAlreadyLaunched
		}
	}

	r.strikeID = "strike-1"
	r.engine.Spawn(r.strikeID, physics.KindStrike, r.cfg.BasePos)
	r.guidance.Reset()
	r.navImpulse = nil
	r.log.Info().Str("unit_id", r.strikeID).Msg("strike unit launched")
	return r.strikeID, r.cfg.BasePos, nil
}

// Cancel moves the run to Canceled. Canceling a terminal run is a no-op.
func (r *Run) Cancel() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.status.Terminal() {
		return
	}
	r.transition(StatusCanceled, "canceled by operator")
}

// Attach opens a control session for a unit. A second attach to the same
// unit replaces the first.
func (r *Run) Attach(unitID string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.status.Terminal() {
		return nil, ErrTerminal
	}
	a := r.engine.Agent(unitID)
	if a == nil || !a.Active {
		return nil, ErrAgentNotFound
	}
	if prev, ok := r.sessions[unitID]; ok {
		prev.close()
	}
	s := newSession(unitID)
	r.sessions[unitID] = s
	r.log.Debug().Str("unit_id", unitID).Msg("unit session attached")
	return s, nil
}

// Detach closes a unit session. The agent itself stays in the world; only
// the external controller goes away.
func (r *Run) Detach(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.sessions[s.unitID]; ok && cur == s {
		delete(r.sessions, s.unitID)
	}
	s.close()
}

// Loop advances the run in real time until it reaches a terminal state.
// Context cancellation cancels the run.
func (r *Run) Loop(ctx context.Context) {
	ticker := time.NewTicker(time.Duration(r.cfg.Dt * float64(time.Second)))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.Cancel()
			return
		case <-ticker.C:
			if !r.Step() {
				return
			}
		}
	}
}

// Step advances exactly one tick. Reports false once the run is terminal.
// Exposed so tests can drive simulated time without a wall clock.
func (r *Run) Step() bool {
	start := time.Now()
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.status.Terminal() {
		return false
	}

	// 1. Apply queued commands: guidance first, client thrusts override it.
	impulses := make(map[string]geo.Vec)
	if r.navImpulse != nil {
		if a := r.engine.Agent(r.strikeID); a != nil && a.Active {
			impulses[r.strikeID] = *r.navImpulse
		}
		r.navImpulse = nil
	}
	for _, id := range r.sessionOrder() {
		cmd := r.sessions[id].takePending()
		if cmd == nil {
			continue
		}
		switch {
		case cmd.Thrust != nil:
			impulses[id] = cmd.Thrust.Impulse
		case cmd.Message != nil:
			r.routePeerMessage(id, cmd.Message)
		}
	}

	// 2. Physics.
	r.engine.Advance(r.cfg.Dt, impulses)

	// 3. Rebuild the spatial index and scan.
	index := r.buildIndex()
	reports := r.scanAll(index)

	// 4. Relay surviving report copies into the fusion window and to peers.
	r.relayReports(reports)
	r.estimate, r.estOK = r.fusion.Estimate(r.tick)

	// 5. Guidance for the next tick, unless a client is flying the strike.
	r.planGuidance()

	r.tick++

	// 6. Publish per-unit status frames and the render snapshot.
	r.emitStatuses(reports)
	r.checkTransitions()
	if !r.status.Terminal() {
		r.snapshot = r.buildSnapshot()
		if r.hooks.OnSnapshot != nil {
			r.hooks.OnSnapshot(r.snapshot)
		}
	}

	r.metrics.tickObserved(time.Since(start).Seconds())
	return !r.status.Terminal()
}

func (r *Run) sessionOrder() []string {
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (r *Run) routePeerMessage(src string, msg *messages.MessageCommand) {
	in := messages.Inbound{
		Src:       src,
		Type:      messages.PayloadData,
		Payload:   msg.Payload,
		Timestamp: time.Now().UTC(),
	}
	if msg.To != "" {
		if peer, ok := r.sessions[msg.To]; ok {
			peer.deliver(in)
		} else {
			r.log.Debug().Str("src", src).Str("to", msg.To).Msg("peer message to unknown unit dropped")
		}
		return
	}
	for _, id := range r.sessionOrder() {
		if id == src {
			continue
		}
		r.sessions[id].deliver(in)
	}
}

func (r *Run) buildIndex() *spatial.Tree {
	b := r.engine.Bounds()
	tree := spatial.NewTree(spatial.Rect{Min: b.Min, Max: b.Max})
	for _, a := range r.engine.Agents() {
		if !a.Active {
			continue
		}
		tree.Insert(spatial.Entity{ID: a.ID, Pos: a.Pos, Occluder: r.cfg.DetectAgents})
	}
	tree.Insert(spatial.Entity{ID: targetID, Pos: r.targetPos, Target: true, Occluder: true})
	for i, pos := range r.cfg.Obstacles {
		tree.Insert(spatial.Entity{ID: fmt.Sprintf("obstacle-%d", i+1), Pos: pos, Occluder: true})
	}
	return tree
}

func (r *Run) scanAll(index *spatial.Tree) map[string]detect.Set {
	reports := make(map[string]detect.Set, len(r.sensorIDs))
	for _, sid := range r.sensorIDs {
		a := r.engine.Agent(sid)
		if a == nil || !a.Active {
			continue
		}
		set := r.scanner.Scan(index, sid, a.Pos)
		if len(set) > 0 {
			reports[sid] = set
		}
	}
	return reports
}

// relayReports broadcasts each sensor's target report through the lossy
// transport. Only copies that survive delivery feed the fusion window; a
// report nobody received contributes nothing to the shared estimate.
func (r *Run) relayReports(reports map[string]detect.Set) {
	for _, sid := range r.sensorIDs {
		set, ok := reports[sid]
		if !ok {
			continue
		}
		bearing, det, ok := set.Target()
		if !ok {
			continue
		}

		a := r.engine.Agent(sid)
		msg := relay.Message{
			Src:        sid,
			SensorPos:  a.Pos,
			Bearing:    bearing,
			Distance:   det.Distance,
			Tick:       r.tick,
			Confidence: reportConfidence(det.Distance, r.cfg.SensorRange),
		}

		peers := r.livePeers(sid)
		deliveries, dropped := relay.FanOut(msg, peers, r.cfg.DropRate, r.rng)
		r.metrics.relayObserved(len(deliveries), dropped)

		seen := make(map[string]bool, len(peers))
		for _, d := range deliveries {
			r.fusion.Ingest(d.Msg)
			if seen[d.Peer] {
				continue
			}
			seen[d.Peer] = true
			if peerSess, ok := r.sessions[d.Peer]; ok {
				payload, _ := json.Marshal(d.Msg)
				peerSess.deliver(messages.Inbound{
					Src:        sid,
					Type:       messages.PayloadDetection,
					Payload:    payload,
					Timestamp:  time.Now().UTC(),
					Confidence: msg.Confidence,
				})
			}
		}
	}
}

func (r *Run) livePeers(sid string) []string {
	peers := make([]string, 0, len(r.sensorIDs)-1)
	for _, id := range r.sensorIDs {
		if id == sid {
			continue
		}
		if a := r.engine.Agent(id); a != nil && a.Active {
			peers = append(peers, id)
		}
	}
	return peers
}

// reportConfidence scores a detection by proximity: a point-blank contact
// is 1, one at the edge of sensor range approaches 0.
func reportConfidence(distance, sensorRange float64) float64 {
	if sensorRange <= 0 {
		return 0
	}
	c := 1 - distance/sensorRange
	if c < 0 {
		c = 0
	}
	return c
}

func (r *Run) planGuidance() {
	if r.strikeID == "" {
		return
	}
	a := r.engine.Agent(r.strikeID)
	if a == nil || !a.Active {
		return
	}
	imp := r.guidance.NextImpulse(a.Pos, a.Vel, r.estimate, r.estOK, r.cfg.Dt)
	r.navImpulse = &imp
}

func (r *Run) emitStatuses(reports map[string]detect.Set) {
	if r.estOK {
		if s, ok := r.sessions[r.strikeID]; ok {
			payload, _ := json.Marshal(r.estimate)
			s.deliver(messages.Inbound{
				Src:        "fusion",
				Type:       messages.PayloadEstimate,
				Payload:    payload,
				Timestamp:  time.Now().UTC(),
				Confidence: r.estimate.Confidence,
			})
		}
	}

	for _, id := range r.sessionOrder() {
		s := r.sessions[id]
		a := r.engine.Agent(id)
		if a == nil {
			continue
		}
		status := messages.UnitStatus{
			Pos:      a.Pos,
			Messages: s.drainInbound(),
		}
		if set, ok := reports[id]; ok {
			status.Detections = messages.NewDetectionSet(set)
		}
		s.emit(status)
	}
}

// checkTransitions applies the lifecycle rules at the tick boundary.
// Capture wins over the deadline when both hold on the same tick.
func (r *Run) checkTransitions() {
	if r.strikeID != "" {
		if a := r.engine.Agent(r.strikeID); a != nil && a.Active {
			if a.Pos.Dist(r.targetPos) <= r.cfg.CaptureRadius {
				r.transition(StatusSuccess, fmt.Sprintf("target captured at tick %d", r.tick))
				return
			}
		}
	}
	if r.tick >= r.cfg.DeadlineTicks() {
		r.transition(StatusTimedOut, "deadline exceeded")
	}
}

// transition moves the run to a terminal status. Caller holds the mutex and
// guarantees the run is still Running.
func (r *Run) transition(status Status, reason string) {
	r.status = status
	r.completion = reason
	r.snapshot = r.buildSnapshot()

	r.log.Info().
		Str("status", string(status)).
		Int64("tick", r.tick).
		Str("reason", reason).
		Msg("simulation finished")
	r.metrics.runCompleted(status)

	for _, id := range r.sessionOrder() {
		r.sessions[id].close()
	}

	if r.hooks.OnTransition != nil {
		r.hooks.OnTransition(r.ID, status, r.tick)
	}
	if r.hooks.OnSnapshot != nil {
		r.hooks.OnSnapshot(r.snapshot)
	}
}

func (r *Run) buildSnapshot() messages.Snapshot {
	snap := messages.Snapshot{
		SimulationID: r.ID,
		Tick:         r.tick,
		Status:       string(r.status),
		Completion:   r.completion,
		BasePos:      r.cfg.BasePos,
	}
	for _, a := range r.engine.Agents() {
		snap.Units = append(snap.Units, messages.UnitSnapshot{
			ID:    a.ID,
			Kind:  string(a.Kind),
			Pos:   a.Pos,
			Color: unitColor(a.Kind),
		})
	}
	snap.Units = append(snap.Units, messages.UnitSnapshot{
		ID:    targetID,
		Kind:  "target",
		Pos:   r.targetPos,
		Color: "orange",
	})
	if r.estOK {
		snap.Estimate = &messages.EstimateSnapshot{
			Pos:        r.estimate.Pos,
			Confidence: r.estimate.Confidence,
			Reports:    r.estimate.Reports,
		}
	}
	return snap
}

func unitColor(kind physics.Kind) string {
	switch kind {
	case physics.KindSensor:
		return "blue"
	case physics.KindStrike:
		return "red"
	case physics.KindBase:
		return "gray"
	}
	return ""
}
