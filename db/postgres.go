package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"bulkwars/config"
	"bulkwars/game"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// ErrRoundNotFound is returned by GetRound for an unknown round id.
var ErrRoundNotFound = errors.New("db: round not found")

// RoundRecord is one finished round as archived.
type RoundRecord struct {
	RoundID    string        `json:"roundId"`
	Winner     game.Winner   `json:"winner"`
	Score      game.Score    `json:"score"`
	Totals     game.Score    `json:"totals"`
	Candles    []game.Candle `json:"candles"`
	StartedAt  time.Time     `json:"startedAt"`
	EndedAt    time.Time     `json:"endedAt"`
	ArchivedAt time.Time     `json:"archivedAt"`
}

// NewRoundRecord converts a round_end event into its archive row.
func NewRoundRecord(ev game.RoundEnded) *RoundRecord {
	candles := ev.Candles
	if candles == nil {
		candles = []game.Candle{}
	}
	return &RoundRecord{
		RoundID:   ev.RoundID,
		Winner:    ev.Winner,
		Score:     ev.Score,
		Totals:    ev.Totals,
		Candles:   candles,
		StartedAt: ev.StartedAt,
		EndedAt:   ev.EndedAt,
	}
}

// Archive stores finished rounds in PostgreSQL. It is write-only from the
// game's point of view: nothing in it is ever loaded back into a session.
type Archive struct {
	pool *pgxpool.Pool
	wg   sync.WaitGroup
}

// OpenArchive connects, pings and ensures the schema exists.
func OpenArchive(ctx context.Context, databaseURL string) (*Archive, error) {
	if databaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL environment variable not set")
	}

	log.Info().Msg("connecting to PostgreSQL")

	poolConfig, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}

	// Configure pool settings
	poolConfig.MaxConns = config.MaxOpenConns
	poolConfig.MinConns = config.MaxIdleConns
	poolConfig.MaxConnLifetime = config.ConnMaxLifetime

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	a := &Archive{pool: pool}
	if err := a.InitSchema(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	log.Info().Msg("PostgreSQL connected")
	return a, nil
}

// Close waits for in-flight writes and closes the pool.
func (a *Archive) Close() {
	a.wg.Wait()
	log.Info().Msg("closing PostgreSQL connection")
	a.pool.Close()
}

// InitSchema creates the rounds table if it doesn't exist.
func (a *Archive) InitSchema(ctx context.Context) error {
	roundsSchema := `
	CREATE TABLE IF NOT EXISTS rounds (
		id SERIAL PRIMARY KEY,
		round_id TEXT NOT NULL UNIQUE,
		winner TEXT NOT NULL,
		green_score INTEGER NOT NULL,
		red_score INTEGER NOT NULL,
		total_green INTEGER NOT NULL,
		total_red INTEGER NOT NULL,
		candles JSONB NOT NULL,
		started_at TIMESTAMPTZ NOT NULL,
		ended_at TIMESTAMPTZ NOT NULL,
		archived_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	-- Index on ended_at for recent rounds
	CREATE INDEX IF NOT EXISTS idx_rounds_ended_at ON rounds(ended_at DESC);
	`

	if _, err := a.pool.Exec(ctx, roundsSchema); err != nil {
		return fmt.Errorf("failed to create rounds table: %w", err)
	}
	return nil
}

// Observe archives every finished round off the game loop.
func (a *Archive) Observe(ev game.Event) {
	end, ok := ev.(game.RoundEnded)
	if !ok {
		return
	}
	record := NewRoundRecord(end)

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), config.ArchiveWriteTimeout)
		defer cancel()

		if err := a.StoreRound(ctx, record); err != nil {
			log.Error().Err(err).Str("round_id", record.RoundID).Msg("failed to archive round")
		}
	}()
}

// StoreRound inserts a finished round. Storing the same round twice is a no-op.
func (a *Archive) StoreRound(ctx context.Context, record *RoundRecord) error {
	candlesJSON, err := json.Marshal(record.Candles)
	if err != nil {
		return fmt.Errorf("failed to marshal candles: %w", err)
	}

	query := `
		INSERT INTO rounds
		(round_id, winner, green_score, red_score, total_green, total_red, candles, started_at, ended_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (round_id) DO NOTHING
	`

	_, err = a.pool.Exec(
		ctx,
		query,
		record.RoundID,
		string(record.Winner),
		record.Score.Green,
		record.Score.Red,
		record.Totals.Green,
		record.Totals.Red,
		candlesJSON,
		record.StartedAt,
		record.EndedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to store round: %w", err)
	}

	log.Info().
		Str("round_id", record.RoundID).
		Str("winner", string(record.Winner)).
		Int("candles", len(record.Candles)).
		Msg("round archived")
	return nil
}

const selectRound = `
	SELECT round_id, winner, green_score, red_score, total_green, total_red, candles, started_at, ended_at, archived_at
	FROM rounds
`

// GetRound returns one archived round, or ErrRoundNotFound.
func (a *Archive) GetRound(ctx context.Context, roundID string) (*RoundRecord, error) {
	row := a.pool.QueryRow(ctx, selectRound+" WHERE round_id = $1", roundID)
	record, err := scanRound(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrRoundNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get round: %w", err)
	}
	return record, nil
}

// GetRecentRounds returns up to limit rounds, newest first.
func (a *Archive) GetRecentRounds(ctx context.Context, limit int) ([]*RoundRecord, error) {
	if limit <= 0 || limit > config.MaxRoundsPerQuery {
		limit = config.MaxRoundsPerQuery
	}

	rows, err := a.pool.Query(ctx, selectRound+" ORDER BY ended_at DESC LIMIT $1", limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query rounds: %w", err)
	}
	defer rows.Close()

	records := []*RoundRecord{}
	for rows.Next() {
		record, err := scanRound(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return records, nil
}

// HealthCheck pings the pool.
func (a *Archive) HealthCheck(ctx context.Context) error {
	return a.pool.Ping(ctx)
}

func scanRound(row pgx.Row) (*RoundRecord, error) {
	var record RoundRecord
	var winner string
	var candlesJSON []byte

	if err := row.Scan(
		&record.RoundID,
		&winner,
		&record.Score.Green,
		&record.Score.Red,
		&record.Totals.Green,
		&record.Totals.Red,
		&candlesJSON,
		&record.StartedAt,
		&record.EndedAt,
		&record.ArchivedAt,
	); err != nil {
		return nil, err
	}
	record.Winner = game.Winner(winner)

	if err := json.Unmarshal(candlesJSON, &record.Candles); err != nil {
		return nil, fmt.Errorf("failed to unmarshal candles: %w", err)
	}
	return &record, nil
}
