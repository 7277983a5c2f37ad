// Package main provides unitctl, a reference client that flies units over
// the engine's WebSocket control surface: sensors patrol their corner of
// the picket while the strike unit chases the fused target estimate.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/strikenet/strikenet/pkg/detect"
	"github.com/strikenet/strikenet/pkg/geo"
	"github.com/strikenet/strikenet/pkg/messages"
	"github.com/strikenet/strikenet/pkg/nav"
	"github.com/strikenet/strikenet/pkg/relay"
)

const (
	tickDt      = 0.1
	patrolSpeed = 10.0
	maxImpulse  = 10.0
)

// Config holds the client configuration
type Config struct {
	ServerURL string
	// SimulationID joins an existing run; empty starts a new one.
	SimulationID string
	LaunchStrike bool
	LogLevel     string
}

// DefaultConfig returns default configuration
func DefaultConfig() Config {
	return Config{
		ServerURL:    getEnv("SERVER_URL", "http://localhost:8080"),
		SimulationID: getEnv("SIMULATION_ID", ""),
		LaunchStrike: getEnv("LAUNCH_STRIKE", "true") == "true",
		LogLevel:     getEnv("LOG_LEVEL", "info"),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	cfg := DefaultConfig()

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
		With().Timestamp().Logger()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		log.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	if err := run(ctx, cfg); err != nil && err != context.Canceled {
		log.Fatal().Err(err).Msg("unitctl failed")
	}
}

func run(ctx context.Context, cfg Config) error {
	client := &http.Client{Timeout: 10 * time.Second}

	simID := cfg.SimulationID
	var sensors map[string]geo.Vec
	if simID == "" {
		start, err := startSimulation(ctx, client, cfg.ServerURL)
		if err != nil {
			return fmt.Errorf("failed to start simulation: %w", err)
		}
		simID = start.SimulationID
		sensors = start.SensorUnits
		log.Info().Str("simulation_id", simID).Int("sensors", len(sensors)).Msg("Simulation started")
	}

	g, gCtx := errgroup.WithContext(ctx)

	for unitID, spawn := range sensors {
		unitID, spawn := unitID, spawn
		g.Go(func() error {
			return runSensor(gCtx, cfg.ServerURL, simID, unitID, spawn)
		})
	}

	if cfg.LaunchStrike {
		strike, err := launchStrike(ctx, client, cfg.ServerURL, simID)
		if err != nil {
			return fmt.Errorf("failed to launch strike unit: %w", err)
		}
		log.Info().Str("unit_id", strike.UnitID).Msg("Strike unit launched")
		g.Go(func() error {
			return runStrike(gCtx, cfg.ServerURL, simID, strike.UnitID)
		})
	}

	return g.Wait()
}

// startResponse mirrors the engine's start payload
type startResponse struct {
	SimulationID string             `json:"simulation_id"`
	BasePos      geo.Vec            `json:"base_pos"`
	SensorUnits  map[string]geo.Vec `json:"sensor_units"`
}

func startSimulation(ctx context.Context, client *http.Client, serverURL string) (*startResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		serverURL+"/api/v1/simulations", bytes.NewReader(nil))
	if err != nil {
		return nil, err
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var out startResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	return &out, nil
}

// strikeResponse mirrors the engine's launch payload
type strikeResponse struct {
	UnitID string  `json:"unit_id"`
	Pos    geo.Vec `json:"pos"`
}

func launchStrike(ctx context.Context, client *http.Client, serverURL, simID string) (*strikeResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		serverURL+"/api/v1/simulations/"+simID+"/strike", bytes.NewReader(nil))
	if err != nil {
		return nil, err
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var out strikeResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	return &out, nil
}

func dialUnit(ctx context.Context, serverURL, simID, unitID string) (*websocket.Conn, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return nil, err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = "/ws/unit"
	u.RawQuery = url.Values{
		"simulation_id": {simID},
		"unit_id":       {unitID},
	}.Encode()

	conn, _, err := websocket.Dial(ctx, u.String(), nil)
	return conn, err
}

// streamErr distinguishes a deliberate shutdown from a transport failure,
// so a dropped connection surfaces instead of exiting as success.
func streamErr(ctx context.Context, unitID string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return fmt.Errorf("unit stream %s: %w", unitID, err)
}

// runSensor flies one sensor on a small box patrol around its spawn point.
func runSensor(ctx context.Context, serverURL, simID, unitID string, spawn geo.Vec) error {
	conn, err := dialUnit(ctx, serverURL, simID, unitID)
	if err != nil {
		return fmt.Errorf("dial %s: %w", unitID, err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	logger := log.With().Str("unit_id", unitID).Logger()
	logger.Info().Msg("Sensor stream opened")

	waypoints := []geo.Vec{
		spawn.Add(geo.Vec{X: 15, Y: 15}),
		spawn.Add(geo.Vec{X: -15, Y: 15}),
		spawn.Add(geo.Vec{X: -15, Y: -15}),
		spawn.Add(geo.Vec{X: 15, Y: -15}),
	}
	wp := 0

	prev := spawn
	for {
		var status messages.UnitStatus
		if err := wsjson.Read(ctx, conn, &status); err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				logger.Info().Msg("Simulation finished, sensor stream closed")
				return nil
			}
			return streamErr(ctx, unitID, err)
		}

		vel := status.Pos.Sub(prev).Scale(1 / tickDt)
		prev = status.Pos

		if status.Pos.Dist(waypoints[wp]) < 5 {
			wp = (wp + 1) % len(waypoints)
		}

		// Announce a target sighting to the other units. The thrust frame
		// yields for one tick; the patrol recovers on the next.
		if note := targetNote(status.Detections); note != nil {
			cmd := messages.UnitCommand{Message: &messages.MessageCommand{Payload: note}}
			if err := wsjson.Write(ctx, conn, cmd); err != nil {
				return streamErr(ctx, unitID, err)
			}
			continue
		}

		desired := waypoints[wp].Sub(status.Pos).Clamp(patrolSpeed)
		impulse := desired.Sub(vel).Clamp(maxImpulse)

		cmd := messages.UnitCommand{Thrust: &messages.ThrustCommand{Impulse: impulse}}
		if err := wsjson.Write(ctx, conn, cmd); err != nil {
			return streamErr(ctx, unitID, err)
		}
	}
}

// targetNote builds a broadcast payload for the first TARGET detection in
// the set, nil when the scan saw none.
func targetNote(set *messages.DetectionSet) json.RawMessage {
	if set == nil {
		return nil
	}
	for _, dir := range geo.Directions() {
		d := set.Slot(dir)
		if d == nil || d.Class != string(detect.ClassTarget) {
			continue
		}
		note, err := json.Marshal(fmt.Sprintf("TARGET_DETECTED|%s|%.1f", dir, d.Distance))
		if err != nil {
			return nil
		}
		return note
	}
	return nil
}

// runStrike chases the fused estimate delivered on the status stream.
func runStrike(ctx context.Context, serverURL, simID, unitID string) error {
	conn, err := dialUnit(ctx, serverURL, simID, unitID)
	if err != nil {
		return fmt.Errorf("dial %s: %w", unitID, err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	logger := log.With().Str("unit_id", unitID).Logger()
	logger.Info().Msg("Strike stream opened")

	controller := nav.NewController(nav.DefaultConfig())

	var est relay.Estimate
	haveEst := false

	var prev geo.Vec
	first := true
	for {
		var status messages.UnitStatus
		if err := wsjson.Read(ctx, conn, &status); err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				logger.Info().Msg("Simulation finished, strike stream closed")
				return nil
			}
			return streamErr(ctx, unitID, err)
		}

		vel := geo.Vec{}
		if !first {
			vel = status.Pos.Sub(prev).Scale(1 / tickDt)
		}
		prev = status.Pos
		first = false

		for _, msg := range status.Messages {
			if msg.Type != messages.PayloadEstimate {
				continue
			}
			var e relay.Estimate
			if err := json.Unmarshal(msg.Payload, &e); err != nil {
				logger.Warn().Err(err).Msg("Malformed estimate payload")
				continue
			}
			est = e
			haveEst = true
		}

		impulse := controller.NextImpulse(status.Pos, vel, est, haveEst, tickDt)
		cmd := messages.UnitCommand{Thrust: &messages.ThrustCommand{Impulse: impulse}}
		if err := wsjson.Write(ctx, conn, cmd); err != nil {
			return streamErr(ctx, unitID, err)
		}
	}
}
