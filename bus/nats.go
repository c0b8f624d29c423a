// Package bus publishes round lifecycle events to NATS for other services.
package bus

import (
	"encoding/json"
	"fmt"
	"time"

	"bulkwars/config"
	"bulkwars/game"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
)

// Envelope is the body of every published message.
type Envelope struct {
	EventType  string          `json:"eventType"`
	RoundID    string          `json:"roundId,omitempty"`
	OccurredAt time.Time       `json:"occurredAt"`
	Payload    json.RawMessage `json:"payload"`
}

type candleSealedPayload struct {
	Index  int         `json:"index"`
	Candle game.Candle `json:"candle"`
	Score  game.Score  `json:"score"`
}

type roundEndedPayload struct {
	Winner  game.Winner `json:"winner"`
	Score   game.Score  `json:"score"`
	Totals  game.Score  `json:"totals"`
	Candles int         `json:"candles"`
}

type lobbyPayload struct {
	LobbyEndsAt int64 `json:"lobbyEndsAt"`
}

// Publisher sends lifecycle events on core NATS subjects. Publish only
// buffers, so Observe is safe to call from the game loop.
type Publisher struct {
	nc *nats.Conn
}

// Connect dials NATS with reconnects enabled.
func Connect(url string) (*Publisher, error) {
	opts := []nats.Option{
		nats.Name("bulkwars"),
		nats.MaxReconnects(config.NATSMaxReconnects),
		nats.ReconnectWait(config.NATSReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.Error().Err(err).Msg("NATS error")
		}),
	}

	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS connected")
	return &Publisher{nc: nc}, nil
}

// Observe implements engine.Sink.
func (p *Publisher) Observe(ev game.Event) {
	subject, env, err := encode(ev, time.Now())
	if err != nil {
		log.Error().Err(err).Str("event", ev.EventName()).Msg("failed to encode bus event")
		return
	}
	if subject == "" {
		return
	}

	data, err := json.Marshal(env)
	if err != nil {
		log.Error().Err(err).Str("subject", subject).Msg("failed to marshal bus event")
		return
	}
	if err := p.nc.Publish(subject, data); err != nil {
		log.Warn().Err(err).Str("subject", subject).Msg("failed to publish bus event")
	}
}

// Connected reports whether the connection is currently up.
func (p *Publisher) Connected() bool {
	return p.nc.IsConnected()
}

// Close flushes pending messages and closes the connection.
func (p *Publisher) Close() error {
	if err := p.nc.Drain(); err != nil {
		p.nc.Close()
		return fmt.Errorf("drain NATS: %w", err)
	}
	return nil
}

// encode picks the subject for ev and builds its envelope. Events that are not
// published return an empty subject.
func encode(ev game.Event, now time.Time) (string, Envelope, error) {
	var (
		subject string
		roundID string
		payload any
	)

	switch ev := ev.(type) {
	case game.LobbyStarted:
		subject, roundID = config.NATSSubjectLobby, ev.RoundID
		payload = lobbyPayload{LobbyEndsAt: ev.LobbyEndsAt.UnixMilli()}
	case game.BattleStarted:
		subject, roundID = config.NATSSubjectRoundStarted, ev.Snapshot.RoundID
		payload = ev.Snapshot
	case game.CandleSealed:
		subject, roundID = config.NATSSubjectCandleSealed, ev.RoundID
		payload = candleSealedPayload{Index: ev.Index, Candle: ev.Candle, Score: ev.Score}
	case game.RoundEnded:
		subject, roundID = config.NATSSubjectRoundEnded, ev.RoundID
		payload = roundEndedPayload{Winner: ev.Winner, Score: ev.Score, Totals: ev.Totals, Candles: len(ev.Candles)}
	default:
		return "", Envelope{}, nil
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return "", Envelope{}, fmt.Errorf("marshal %s payload: %w", ev.EventName(), err)
	}
	return subject, Envelope{
		EventType:  ev.EventName(),
		RoundID:    roundID,
		OccurredAt: now,
		Payload:    raw,
	}, nil
}
