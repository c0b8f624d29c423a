package bus

import (
	"encoding/json"
	"os"
	"testing"
	"time"

	"bulkwars/config"
	"bulkwars/game"

	"github.com/nats-io/nats.go"
	"github.com/shopspring/decimal"
)

func TestEncodeSubjects(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		ev      game.Event
		subject string
	}{
		{game.LobbyStarted{RoundID: "r1", LobbyEndsAt: now}, config.NATSSubjectLobby},
		{game.BattleStarted{Snapshot: game.Snapshot{RoundID: "r1"}}, config.NATSSubjectRoundStarted},
		{game.CandleSealed{RoundID: "r1", Index: 2}, config.NATSSubjectCandleSealed},
		{game.RoundEnded{RoundID: "r1", Winner: game.WinnerGreen}, config.NATSSubjectRoundEnded},
	}

	for _, tt := range tests {
		t.Run(tt.ev.EventName(), func(t *testing.T) {
			subject, env, err := encode(tt.ev, now)
			if err != nil {
				t.Fatalf("encode failed: %v", err)
			}
			if subject != tt.subject {
				t.Errorf("Expected subject %s, got %s", tt.subject, subject)
			}
			if env.RoundID != "r1" || env.EventType != tt.ev.EventName() || !env.OccurredAt.Equal(now) {
				t.Errorf("unexpected envelope %+v", env)
			}
		})
	}

	for _, ev := range []game.Event{game.ClickApplied{}, game.TickReport{}, game.PlayersChanged{}, game.StateSynced{}} {
		if subject, _, _ := encode(ev, now); subject != "" {
			t.Errorf("Expected %s not to be published, got subject %s", ev.EventName(), subject)
		}
	}
}

func TestEncodeCandlePayload(t *testing.T) {
	ev := game.CandleSealed{
		RoundID: "r1",
		Index:   3,
		Candle:  game.Candle{Open: decimal.RequireFromString("178.5"), Close: decimal.RequireFromString("178.64"), IsGreen: true},
		Score:   game.Score{Green: 3, Red: 1},
	}
	_, env, err := encode(ev, time.Now())
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}

	var payload struct {
		Index  int             `json:"index"`
		Candle json.RawMessage `json:"candle"`
		Score  game.Score      `json:"score"`
	}
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		t.Fatalf("bad payload: %v", err)
	}
	if payload.Index != 3 || payload.Score.Green != 3 {
		t.Errorf("unexpected payload %+v", payload)
	}
	var candle map[string]any
	json.Unmarshal(payload.Candle, &candle)
	if candle["close"] != 178.64 {
		t.Errorf("Expected close as a JSON number 178.64, got %v", candle["close"])
	}
}

func TestPublisher(t *testing.T) {
	url := os.Getenv("NATS_URL")
	if url == "" {
		t.Skip("NATS_URL not set")
	}

	pub, err := Connect(url)
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	nc, err := nats.Connect(url)
	if err != nil {
		t.Fatalf("subscriber connect failed: %v", err)
	}
	defer nc.Close()
	sub, err := nc.SubscribeSync("bulkwars.>")
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}
	nc.Flush()

	pub.Observe(game.RoundEnded{RoundID: "r-test", Winner: game.WinnerRed})
	if err := pub.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	msg, err := sub.NextMsg(3 * time.Second)
	if err != nil {
		t.Fatalf("no message received: %v", err)
	}
	if msg.Subject != config.NATSSubjectRoundEnded {
		t.Errorf("Expected subject %s, got %s", config.NATSSubjectRoundEnded, msg.Subject)
	}
}
