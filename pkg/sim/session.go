package sim

import (
	"sync"

	"github.com/strikenet/strikenet/pkg/messages"
)

// outboxDepth bounds the per-unit status queue. A slow client loses old
// frames, never fresh ones.
const outboxDepth = 16

// Session is the engine side of one unit control stream. Commands flow in
// through Submit with latest-wins semantics; status frames flow out through
// Statuses with drop-oldest backpressure. The tick loop is the only reader
// of pending commands and the only writer of status frames.
type Session struct {
	unitID string

	mu      sync.Mutex
	pending *messages.UnitCommand
	closed  bool

	out chan messages.UnitStatus

	// inbound accumulates relay and peer deliveries between ticks.
	// Tick-loop private, no locking.
	inbound []messages.Inbound
}

func newSession(unitID string) *Session {
	return &Session{
		unitID: unitID,
		out:    make(chan messages.UnitStatus, outboxDepth),
	}
}

// UnitID returns the agent this session controls.
func (s *Session) UnitID() string { return s.unitID }

// Submit queues a command for the next tick. The inbox holds a single slot:
// a second command before the tick boundary replaces the first.
func (s *Session) Submit(cmd messages.UnitCommand) error {
	if err := cmd.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	c := cmd
	s.pending = &c
	return nil
}

// Statuses is the stream of per-tick status frames. Closed when the run
// reaches a terminal state or the session is detached.
func (s *Session) Statuses() <-chan messages.UnitStatus {
	return s.out
}

func (s *Session) takePending() *messages.UnitCommand {
	s.mu.Lock()
	defer s.mu.Unlock()
	cmd := s.pending
	s.pending = nil
	return cmd
}

func (s *Session) deliver(msg messages.Inbound) {
	s.inbound = append(s.inbound, msg)
}

func (s *Session) drainInbound() []messages.Inbound {
	msgs := s.inbound
	s.inbound = nil
	return msgs
}

// emit pushes a status frame, evicting the oldest frame when the client
// has fallen outboxDepth ticks behind.
func (s *Session) emit(status messages.UnitStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	for {
		select {
		case s.out <- status:
			return
		default:
			select {
			case <-s.out:
			default:
			}
		}
	}
}

func (s *Session) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.out)
}
