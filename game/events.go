package game

import (
	"time"

	"github.com/shopspring/decimal"
)

// Event describes one change to session state. Session methods return events
// instead of emitting anything; the caller decides what goes on the wire.
type Event interface {
	EventName() string
}

type LobbyStarted struct {
	RoundID     string
	LobbyEndsAt time.Time
}

type BattleStarted struct {
	Snapshot Snapshot
}

type ClickApplied struct {
	ConnID      string
	Team        Team
	Price       decimal.Decimal
	TotalGreen  int
	TotalRed    int
	CandleGreen int
	CandleRed   int
}

type CandleSealed struct {
	RoundID string
	Index   int // position in the round's candle list
	Candle  Candle
	Score   Score
}

// RoundEnded carries the forced seal of the trailing partial candle along with
// the final result.
type RoundEnded struct {
	RoundID   string
	Final     CandleSealed
	Score     Score
	Winner    Winner
	Candles   []Candle
	Totals    Score // all accepted clicks of the round, by team
	StartedAt time.Time
	EndedAt   time.Time
}

type PlayersChanged struct {
	Players int
}

// TickReport is the non-mutating live view broadcast during battle.
type TickReport struct {
	Price        decimal.Decimal
	CandleOpen   decimal.Decimal
	CandleHigh   decimal.Decimal
	CandleLow    decimal.Decimal
	CandleGreen  int
	CandleRed    int
	RoundEndsAt  int64
	CandleEndsAt int64
}

// StateSynced is a full snapshot re-sent after each periodic seal.
type StateSynced struct {
	Snapshot Snapshot
}

// ClickRejected is never sent to observers. It exists for sinks that count
// dropped clicks.
type ClickRejected struct {
	ConnID string
	Team   string
	Err    error
}

func (LobbyStarted) EventName() string   { return "lobby" }
func (BattleStarted) EventName() string  { return "battle_start" }
func (ClickApplied) EventName() string   { return "click_update" }
func (CandleSealed) EventName() string   { return "candle_sealed" }
func (RoundEnded) EventName() string     { return "round_end" }
func (PlayersChanged) EventName() string { return "players_update" }
func (TickReport) EventName() string     { return "tick" }
func (StateSynced) EventName() string    { return "state_update" }
func (ClickRejected) EventName() string  { return "click_rejected" }
