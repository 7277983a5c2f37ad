package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/strikenet/strikenet/pkg/messages"
	"github.com/strikenet/strikenet/pkg/sim"
)

// UnitControlHandler bridges one WebSocket connection to one unit control
// session: commands flow in, status frames flow out.
type UnitControlHandler struct {
	mgr    *sim.Manager
	logger zerolog.Logger
}

// NewUnitControlHandler creates a new UnitControlHandler
func NewUnitControlHandler(mgr *sim.Manager, logger zerolog.Logger) *UnitControlHandler {
	return &UnitControlHandler{
		mgr:    mgr,
		logger: logger.With().Str("handler", "unit_control").Logger(),
	}
}

// ServeHTTP handles GET /ws/unit?simulation_id=...&unit_id=...
func (h *UnitControlHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	correlationID := GetCorrelationID(r.Context())

	simulationID := r.URL.Query().Get("simulation_id")
	unitID := r.URL.Query().Get("unit_id")
	if simulationID == "" || unitID == "" {
		WriteError(w, http.StatusBadRequest, "simulation_id and unit_id are required", correlationID)
		return
	}

	run, err := h.mgr.Get(simulationID)
	if err != nil {
		WriteError(w, http.StatusNotFound, "Simulation not found", correlationID)
		return
	}

	session, err := run.Attach(unitID)
	switch {
	case errors.Is(err, sim.ErrAgentNotFound):
		WriteError(w, http.StatusNotFound, "Unit not found", correlationID)
		return
	case errors.Is(err, sim.ErrTerminal):
		WriteError(w, http.StatusConflict, "Simulation already finished", correlationID)
		return
	case err != nil:
		WriteError(w, http.StatusInternalServerError, "Failed to attach unit session", correlationID)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"localhost:*", "127.0.0.1:*"},
	})
	if err != nil {
		run.Detach(session)
		h.logger.Error().Err(err).Msg("failed to accept WebSocket connection")
		return
	}

	log := h.logger.With().
		Str("simulation_id", simulationID).
		Str("unit_id", unitID).
		Logger()
	log.Info().Msg("unit stream opened")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	defer run.Detach(session)

	go h.writePump(ctx, cancel, conn, session, log)
	h.readPump(ctx, conn, session, log)
}

// writePump forwards status frames from the tick loop to the client. The
// session channel closes when the run ends, which closes the socket too.
func (h *UnitControlHandler) writePump(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn, session *sim.Session, log zerolog.Logger) {
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return

		case status, ok := <-session.Statuses():
			if !ok {
				conn.Close(websocket.StatusNormalClosure, "simulation finished")
				return
			}

			writeCtx, writeCancel := context.WithTimeout(ctx, 10*time.Second)
			err := wsjson.Write(writeCtx, conn, status)
			writeCancel()

			if err != nil {
				log.Debug().Err(err).Msg("failed to write status frame")
				return
			}
		}
	}
}

// readPump applies client commands to the session. Malformed commands are
// logged and skipped; the stream stays up.
func (h *UnitControlHandler) readPump(ctx context.Context, conn *websocket.Conn, session *sim.Session, log zerolog.Logger) {
	defer conn.Close(websocket.StatusNormalClosure, "")

	for {
		var cmd messages.UnitCommand
		err := wsjson.Read(ctx, conn, &cmd)
		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure ||
				websocket.CloseStatus(err) == websocket.StatusGoingAway {
				return
			}
			log.Debug().Err(err).Msg("unit stream read error")
			return
		}

		if err := session.Submit(cmd); err != nil {
			log.Warn().Err(err).Msg("invalid unit command ignored")
		}
	}
}
