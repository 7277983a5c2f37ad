// Package postgres provides PostgreSQL connection pooling and the
// simulation run archive.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Pool wraps pgxpool.Pool with domain-specific query methods
type Pool struct {
	*pgxpool.Pool
}

// Config holds PostgreSQL connection configuration
type Config struct {
	Host     string
	Port     int
	Database string
	User     string
	Password string
	SSLMode  string

	// Pool settings
	MaxConns    int32
	MinConns    int32
	MaxConnLife time.Duration
	MaxConnIdle time.Duration
	HealthCheck time.Duration
}

// DefaultConfig returns default configuration
func DefaultConfig() Config {
	return Config{
		Host:        "localhost",
		Port:        5432,
		Database:    "strikenet",
		User:        "strikenet",
		Password:    "strikenet",
		SSLMode:     "disable",
		MaxConns:    25,
		MinConns:    5,
		MaxConnLife: time.Hour,
		MaxConnIdle: 30 * time.Minute,
		HealthCheck: time.Minute,
	}
}

// ConnectionString builds a PostgreSQL connection string
func (c Config) ConnectionString() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, c.SSLMode,
	)
}

// NewPool creates a new PostgreSQL connection pool
func NewPool(ctx context.Context, cfg Config) (*Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}

	poolCfg.MaxConns = cfg.MaxConns
	poolCfg.MinConns = cfg.MinConns
	poolCfg.MaxConnLifetime = cfg.MaxConnLife
	poolCfg.MaxConnIdleTime = cfg.MaxConnIdle
	poolCfg.HealthCheckPeriod = cfg.HealthCheck

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Pool{Pool: pool}, nil
}

// NewPoolFromURL creates a pool from a connection URL
func NewPoolFromURL(ctx context.Context, url string) (*Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection URL: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Pool{Pool: pool}, nil
}

// RunRow represents a simulation run stored in the archive
type RunRow struct {
	SimulationID string     `json:"simulation_id"`
	Status       string     `json:"status"`
	Seed         int64      `json:"seed"`
	DropRate     float64    `json:"drop_rate"`
	SensorCount  int        `json:"sensor_count"`
	FinalTick    *int64     `json:"final_tick,omitempty"`
	StartedAt    time.Time  `json:"started_at"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
}

// InsertRun records a newly started simulation
func (p *Pool) InsertRun(ctx context.Context, simulationID string, seed int64, dropRate float64, sensorCount int) error {
	query := `
		INSERT INTO simulations (simulation_id, status, seed, drop_rate, sensor_count, started_at)
		VALUES ($1, 'RUNNING', $2, $3, $4, $5)
	`
	_, err := p.Exec(ctx, query, simulationID, seed, dropRate, sensorCount, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}
	return nil
}

// CompleteRun records a run's terminal status and final tick
func (p *Pool) CompleteRun(ctx context.Context, simulationID, status string, finalTick int64) error {
	query := `
		UPDATE simulations
		SET status = $2, final_tick = $3, finished_at = $4
		WHERE simulation_id = $1
	`
	_, err := p.Exec(ctx, query, simulationID, status, finalTick, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to complete run: %w", err)
	}
	return nil
}

// GetRun retrieves a single archived run by ID
func (p *Pool) GetRun(ctx context.Context, simulationID string) (*RunRow, error) {
	query := `
		SELECT simulation_id, status, seed, drop_rate, sensor_count,
			final_tick, started_at, finished_at
		FROM simulations
		WHERE simulation_id = $1
	`

	var r RunRow
	err := p.QueryRow(ctx, query, simulationID).Scan(
		&r.SimulationID, &r.Status, &r.Seed, &r.DropRate, &r.SensorCount,
		&r.FinalTick, &r.StartedAt, &r.FinishedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return &r, nil
}

// RunFilter defines filter options for run queries
type RunFilter struct {
	Status string
	Since  *time.Time
	Limit  int
	Offset int
}

// ListRuns retrieves archived runs with optional filtering
func (p *Pool) ListRuns(ctx context.Context, filter RunFilter) ([]RunRow, error) {
	query := `
		SELECT simulation_id, status, seed, drop_rate, sensor_count,
			final_tick, started_at, finished_at
		FROM simulations
		WHERE 1=1
	`
	args := []interface{}{}
	argNum := 1

	if filter.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argNum)
		args = append(args, filter.Status)
		argNum++
	}

	if filter.Since != nil {
		query += fmt.Sprintf(" AND started_at >= $%d", argNum)
		args = append(args, *filter.Since)
		argNum++
	}

	query += " ORDER BY started_at DESC"

	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argNum)
		args = append(args, filter.Limit)
		argNum++
	}

	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argNum)
		args = append(args, filter.Offset)
	}

	rows, err := p.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []RunRow
	for rows.Next() {
		var r RunRow
		err := rows.Scan(
			&r.SimulationID, &r.Status, &r.Seed, &r.DropRate, &r.SensorCount,
			&r.FinalTick, &r.StartedAt, &r.FinishedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}

	return runs, nil
}

// CountRunsByStatus returns run counts grouped by status
func (p *Pool) CountRunsByStatus(ctx context.Context) (map[string]int64, error) {
	rows, err := p.Query(ctx, "SELECT status, COUNT(*) FROM simulations GROUP BY status")
	if err != nil {
		return nil, fmt.Errorf("failed to count runs: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var status string
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("failed to scan run count: %w", err)
		}
		counts[status] = n
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating run counts: %w", err)
	}

	return counts, nil
}

// Health checks if the database connection is healthy
func (p *Pool) Health(ctx context.Context) error {
	return p.Ping(ctx)
}
