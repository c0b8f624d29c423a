package engine

import (
	"bulkwars/game"

	"github.com/shopspring/decimal"
)

// Message is the wire envelope: {"type": ..., "data": ...}.
type Message struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// Message types sent to observers.
const (
	TypeInit          = "init"
	TypeLobby         = "lobby"
	TypeBattleStart   = "battle_start"
	TypeTick          = "tick"
	TypeClickUpdate   = "click_update"
	TypeCandleSealed  = "candle_sealed"
	TypeRoundEnd      = "round_end"
	TypePlayersUpdate = "players_update"
	TypeStateUpdate   = "state_update"
)

type lobbyPayload struct {
	RoundID     string `json:"roundId"`
	LobbyEndsAt int64  `json:"lobbyEndsAt"`
}

type tickPayload struct {
	Price        decimal.Decimal `json:"price"`
	CandleOpen   decimal.Decimal `json:"candleOpen"`
	CandleHigh   decimal.Decimal `json:"candleHigh"`
	CandleLow    decimal.Decimal `json:"candleLow"`
	CandleGreen  int             `json:"candleGreen"`
	CandleRed    int             `json:"candleRed"`
	RoundEndsAt  int64           `json:"roundEndsAt"`
	CandleEndsAt int64           `json:"candleEndsAt"`
}

type clickPayload struct {
	Team        game.Team       `json:"team"`
	Price       decimal.Decimal `json:"price"`
	TotalGreen  int             `json:"totalGreen"`
	TotalRed    int             `json:"totalRed"`
	CandleGreen int             `json:"candleGreen"`
	CandleRed   int             `json:"candleRed"`
}

type candlePayload struct {
	Candle game.Candle `json:"candle"`
	Score  game.Score  `json:"score"`
}

type roundEndPayload struct {
	RoundID string        `json:"roundId"`
	Score   game.Score    `json:"score"`
	Winner  game.Winner   `json:"winner"`
	Candles []game.Candle `json:"candles"`
}

type playersPayload struct {
	Players int `json:"players"`
}

// toMessage maps a session event to its wire message. Events that observers
// never see report false.
func toMessage(ev game.Event) (Message, bool) {
	switch ev := ev.(type) {
	case game.LobbyStarted:
		return Message{Type: TypeLobby, Data: lobbyPayload{
			RoundID:     ev.RoundID,
			LobbyEndsAt: ev.LobbyEndsAt.UnixMilli(),
		}}, true

	case game.BattleStarted:
		return Message{Type: TypeBattleStart, Data: ev.Snapshot}, true

	case game.TickReport:
		return Message{Type: TypeTick, Data: tickPayload{
			Price:        ev.Price,
			CandleOpen:   ev.CandleOpen,
			CandleHigh:   ev.CandleHigh,
			CandleLow:    ev.CandleLow,
			CandleGreen:  ev.CandleGreen,
			CandleRed:    ev.CandleRed,
			RoundEndsAt:  ev.RoundEndsAt,
			CandleEndsAt: ev.CandleEndsAt,
		}}, true

	case game.ClickApplied:
		return Message{Type: TypeClickUpdate, Data: clickPayload{
			Team:        ev.Team,
			Price:       ev.Price,
			TotalGreen:  ev.TotalGreen,
			TotalRed:    ev.TotalRed,
			CandleGreen: ev.CandleGreen,
			CandleRed:   ev.CandleRed,
		}}, true

	case game.CandleSealed:
		return Message{Type: TypeCandleSealed, Data: candlePayload{Candle: ev.Candle, Score: ev.Score}}, true

	case game.RoundEnded:
		// ev.Final goes out as its own candle_sealed just before this.
		return Message{Type: TypeRoundEnd, Data: roundEndPayload{
			RoundID: ev.RoundID,
			Score:   ev.Score,
			Winner:  ev.Winner,
			Candles: ev.Candles,
		}}, true

	case game.PlayersChanged:
		return Message{Type: TypePlayersUpdate, Data: playersPayload{Players: ev.Players}}, true

	case game.StateSynced:
		return Message{Type: TypeStateUpdate, Data: ev.Snapshot}, true
	}
	return Message{}, false
}
