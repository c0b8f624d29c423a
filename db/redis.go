package db

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"bulkwars/config"
	"bulkwars/game"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

/* =========================
   LIVE SESSION MIRROR
   Redis Key: bulkwars:session -> Hash{phase, round_id, price, ...}
   Channel:   bulkwars:rounds  -> JSON RoundRecord per finished round
========================= */

type mirrorOp func(ctx context.Context, client *redis.Client) error

// Mirror copies the live session into Redis for dashboards and other
// processes. Writes go through one worker so they land in event order.
type Mirror struct {
	client *redis.Client
	queue  chan mirrorOp

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// RedisOptions are the connection settings for OpenMirror.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
}

// OpenMirror connects to Redis and starts the write worker.
func OpenMirror(ctx context.Context, opts RedisOptions) (*Mirror, error) {
	addr := opts.Addr
	if addr == "" {
		addr = "localhost:6379"
	}
	log.Info().Str("addr", addr).Msg("connecting to Redis")

	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     opts.Password,
		DB:           opts.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	m := &Mirror{
		client: client,
		queue:  make(chan mirrorOp, config.RedisQueueSize),
	}
	m.wg.Add(1)
	go m.run()

	log.Info().Str("addr", addr).Msg("Redis connected")
	return m, nil
}

// Observe implements engine.Sink.
func (m *Mirror) Observe(ev game.Event) {
	if fields, ok := sessionFields(ev); ok {
		m.enqueue(func(ctx context.Context, client *redis.Client) error {
			return storeSession(ctx, client, fields)
		})
	}

	if end, ok := ev.(game.RoundEnded); ok {
		payload, err := json.Marshal(NewRoundRecord(end))
		if err != nil {
			log.Error().Err(err).Msg("failed to marshal round result")
			return
		}
		m.enqueue(func(ctx context.Context, client *redis.Client) error {
			if err := client.Publish(ctx, config.RedisRoundsChannel, payload).Err(); err != nil {
				return fmt.Errorf("failed to publish round result: %w", err)
			}
			return nil
		})
	}
}

// Session returns the mirrored hash. Used by health checks and tests; the game
// never reads it back.
func (m *Mirror) Session(ctx context.Context) (map[string]string, error) {
	fields, err := m.client.HGetAll(ctx, config.RedisSessionKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read session mirror: %w", err)
	}
	return fields, nil
}

// HealthCheck performs a Redis health check.
func (m *Mirror) HealthCheck(ctx context.Context) error {
	return m.client.Ping(ctx).Err()
}

// Close flushes queued writes and closes the client.
func (m *Mirror) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	close(m.queue)
	m.mu.Unlock()

	m.wg.Wait()
	log.Info().Msg("closing Redis connection")
	return m.client.Close()
}

func (m *Mirror) enqueue(op mirrorOp) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return
	}
	select {
	case m.queue <- op:
	default:
		log.Warn().Msg("redis mirror queue full, dropping write")
	}
}

func (m *Mirror) run() {
	defer m.wg.Done()
	for op := range m.queue {
		ctx, cancel := context.WithTimeout(context.Background(), config.RedisOpTimeout)
		if err := op(ctx, m.client); err != nil {
			log.Warn().Err(err).Msg("redis mirror write failed")
		}
		cancel()
	}
}

func storeSession(ctx context.Context, client *redis.Client, fields map[string]any) error {
	_, err := client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, config.RedisSessionKey, fields)
		pipe.Expire(ctx, config.RedisSessionKey, config.RedisSessionTTL)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to store session: %w", err)
	}
	return nil
}

// sessionFields maps an event to the hash fields it changes. Clicks and ticks
// are too frequent to mirror; seals carry the price often enough.
func sessionFields(ev game.Event) (map[string]any, bool) {
	now := time.Now().UnixMilli()

	switch ev := ev.(type) {
	case game.LobbyStarted:
		return map[string]any{
			"phase":         string(game.PhaseLobby),
			"round_id":      ev.RoundID,
			"lobby_ends_at": ev.LobbyEndsAt.UnixMilli(),
			"score_green":   0,
			"score_red":     0,
			"candles":       0,
			"winner":        "",
			"updated_at":    now,
		}, true

	case game.BattleStarted:
		snap := ev.Snapshot
		fields := map[string]any{
			"phase":      string(game.PhaseBattle),
			"round_id":   snap.RoundID,
			"price":      snap.Price.String(),
			"players":    snap.Players,
			"updated_at": now,
		}
		if snap.RoundEndsAt != nil {
			fields["round_ends_at"] = *snap.RoundEndsAt
		}
		return fields, true

	case game.CandleSealed:
		return map[string]any{
			"price":       ev.Candle.Close.String(),
			"score_green": ev.Score.Green,
			"score_red":   ev.Score.Red,
			"candles":     ev.Index + 1,
			"updated_at":  now,
		}, true

	case game.RoundEnded:
		return map[string]any{
			"phase":       string(game.PhaseResults),
			"winner":      string(ev.Winner),
			"score_green": ev.Score.Green,
			"score_red":   ev.Score.Red,
			"updated_at":  now,
		}, true

	case game.PlayersChanged:
		return map[string]any{
			"players":    ev.Players,
			"updated_at": now,
		}, true
	}
	return nil, false
}
